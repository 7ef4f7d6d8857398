package payment

import (
	"strconv"
	"time"
)

// CheckCard runs the checks done before any card is charged: a month in
// 1..12, an expiry not before the current month, and a Luhn-valid number.
func CheckCard(card CardDetails, now time.Time) error {
	month, err := strconv.Atoi(card.ExpiryMonth)
	if err != nil || month < 1 || month > 12 {
		return errCardMonth
	}
	year, err := strconv.Atoi(card.ExpiryYear)
	if err != nil {
		return errCardYear
	}

	if year < now.Year() || (year == now.Year() && month < int(now.Month())) {
		return errCardExpiry
	}
	if !ValidLuhn(card.Number) {
		return errCardNumber
	}
	return nil
}

// ValidLuhn reports whether number passes the mod-10 checksum. Anything but
// ASCII digits fails.
func ValidLuhn(number string) bool {
	if number == "" {
		return false
	}

	sum := 0
	double := false
	for i := len(number) - 1; i >= 0; i-- {
		c := number[i]
		if c < '0' || c > '9' {
			return false
		}
		d := int(c - '0')
		if double {
			d *= 2
			if d > 9 {
				d -= 9
			}
		}
		sum += d
		double = !double
	}
	return sum%10 == 0
}

func CardBrand(number string) string {
	if number == "" {
		return "UNKNOWN"
	}
	switch number[0] {
	case '4':
		return "VISA"
	case '5':
		return "MASTERCARD"
	case '3':
		return "AMEX"
	case '6':
		return "DISCOVER"
	default:
		return "UNKNOWN"
	}
}

func lastFour(number string) string {
	if len(number) <= 4 {
		return number
	}
	return number[len(number)-4:]
}
