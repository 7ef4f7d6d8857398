package payment

import (
	"context"
	"errors"

	"github.com/rs/zerolog/log"

	"github.com/vasiliy-maslov/bookstore-microservices/internal/apperr"
	"github.com/vasiliy-maslov/bookstore-microservices/internal/events"
	"github.com/vasiliy-maslov/bookstore-microservices/internal/messaging"
)

// OrderPaymentHandler registers the payment requested by an order.payment
// event. Requests that can never be processed are logged and acknowledged.
func OrderPaymentHandler(svc Service) messaging.Handler {
	return func(ctx context.Context, msg messaging.Message) error {
		var evt events.OrderPayment
		if err := msg.Decode(&evt); err != nil {
			log.Error().Err(err).Str("message_id", msg.ID).Msg("consumer: malformed order payment event")
			return nil
		}

		p, err := svc.RegisterPaymentRequest(ctx, evt)
		switch {
		case err == nil:
			log.Info().Stringer("order_id", evt.OrderID).Stringer("payment_id", p.ID).Stringer("status", p.Status).
				Msg("consumer: payment request registered")
			return nil
		case errors.Is(err, apperr.ErrValidation), errors.Is(err, apperr.ErrBusinessRule):
			log.Warn().Err(err).Stringer("order_id", evt.OrderID).Msg("consumer: order payment event rejected")
			return nil
		default:
			return err
		}
	}
}
