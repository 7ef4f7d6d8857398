// Package reference generates business keys such as ORD-12345678 and
// PAY-1234567890 from a millisecond clock.
package reference

import (
	"fmt"
	"time"

	"go.uber.org/atomic"
)

// Generator hands out references built from the trailing digits of a
// millisecond timestamp. The timestamp never repeats within a process: when
// two calls land in the same millisecond the second one borrows the next one.
type Generator struct {
	prefix  string
	digits  int
	modulus int64
	last    *atomic.Int64
	now     func() time.Time
}

func NewGenerator(prefix string, digits int) *Generator {
	return newGenerator(prefix, digits, time.Now)
}

func newGenerator(prefix string, digits int, now func() time.Time) *Generator {
	modulus := int64(1)
	for i := 0; i < digits; i++ {
		modulus *= 10
	}

	return &Generator{
		prefix:  prefix,
		digits:  digits,
		modulus: modulus,
		last:    atomic.NewInt64(0),
		now:     now,
	}
}

func (g *Generator) Next() string {
	var stamp int64
	for {
		prev := g.last.Load()
		stamp = g.now().UnixMilli()
		if stamp <= prev {
			stamp = prev + 1
		}
		if g.last.CompareAndSwap(prev, stamp) {
			break
		}
	}

	return fmt.Sprintf("%s%0*d", g.prefix, g.digits, stamp%g.modulus)
}

// NewOrderNumbers returns the ORD- generator used by the order service.
func NewOrderNumbers() *Generator { return NewGenerator("ORD-", 8) }

// NewPaymentReferences returns the PAY- generator used by the payment service.
func NewPaymentReferences() *Generator { return NewGenerator("PAY-", 10) }
