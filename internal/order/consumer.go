package order

import (
	"context"
	"errors"

	"github.com/rs/zerolog/log"

	"github.com/vasiliy-maslov/bookstore-microservices/internal/apperr"
	"github.com/vasiliy-maslov/bookstore-microservices/internal/events"
	"github.com/vasiliy-maslov/bookstore-microservices/internal/messaging"
)

// PaymentStatusHandler applies payment.status events to orders. Errors that
// a redelivery cannot fix are logged and swallowed so the entry gets
// acknowledged; anything else is returned to keep it pending.
func PaymentStatusHandler(svc Service) messaging.Handler {
	return func(ctx context.Context, msg messaging.Message) error {
		var evt events.PaymentStatus
		if err := msg.Decode(&evt); err != nil {
			log.Error().Err(err).Str("message_id", msg.ID).Msg("consumer: malformed payment status event")
			return nil
		}

		_, err := svc.ApplyPaymentOutcome(ctx, PaymentOutcome{
			PaymentID:        evt.PaymentID,
			OrderID:          evt.OrderID,
			Status:           evt.Status,
			PaymentReference: evt.PaymentReference,
			TransactionID:    evt.TransactionID,
		})
		switch {
		case err == nil:
			return nil
		case errors.Is(err, apperr.ErrNotFound), errors.Is(err, apperr.ErrValidation):
			log.Warn().Err(err).Stringer("order_id", evt.OrderID).Stringer("payment_id", evt.PaymentID).
				Msg("consumer: payment status event rejected")
			return nil
		default:
			return err
		}
	}
}
