package payment

import (
	"context"
	"math/rand"
	"strings"
	"time"

	"github.com/gofrs/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/vasiliy-maslov/bookstore-microservices/internal/config"
)

// GatewayResult is the gateway's answer to one call. A declined charge is a
// result with Success false, not an error; errors mean the call itself
// failed.
type GatewayResult struct {
	Success       bool
	TransactionID string
	Message       string
}

type Gateway interface {
	ChargeCard(ctx context.Context, card CardDetails, amount decimal.Decimal, reference string) (GatewayResult, error)
	ChargePaypal(ctx context.Context, email string, amount decimal.Decimal, reference string) (GatewayResult, error)
	ChargeBankTransfer(ctx context.Context, amount decimal.Decimal, reference string) (GatewayResult, error)
	Refund(ctx context.Context, transactionID string, amount decimal.Decimal, reference string) (GatewayResult, error)
}

// Decider tells whether a simulated charge succeeds.
type Decider func() bool

// Sleeper waits d or until ctx is done, whichever comes first.
type Sleeper func(ctx context.Context, d time.Duration) error

// SimulatedGateway approves charges at a configured rate after a random
// delay. Bank transfers are always accepted since they settle offline.
type SimulatedGateway struct {
	decide   Decider
	sleep    Sleeper
	minDelay time.Duration
	maxDelay time.Duration
}

func NewSimulatedGateway(cfg config.GatewayConfig) *SimulatedGateway {
	rate := cfg.SuccessRate
	return &SimulatedGateway{
		decide:   func() bool { return rand.Float64() < rate },
		sleep:    sleepContext,
		minDelay: cfg.MinDelay,
		maxDelay: cfg.MaxDelay,
	}
}

// NewDeterministicGateway returns a gateway that never sleeps and answers
// with decide.
func NewDeterministicGateway(decide Decider) *SimulatedGateway {
	return &SimulatedGateway{
		decide: decide,
		sleep:  func(ctx context.Context, _ time.Duration) error { return ctx.Err() },
	}
}

func (g *SimulatedGateway) ChargeCard(ctx context.Context, _ CardDetails, amount decimal.Decimal, reference string) (GatewayResult, error) {
	if err := g.wait(ctx); err != nil {
		return GatewayResult{}, err
	}
	if !g.decide() {
		log.Warn().Str("reference", reference).Msg("gateway: card payment declined")
		return GatewayResult{Message: "payment declined by issuing bank"}, nil
	}
	return approved("CARD-", "card payment processed", amount), nil
}

func (g *SimulatedGateway) ChargePaypal(ctx context.Context, email string, amount decimal.Decimal, reference string) (GatewayResult, error) {
	if err := g.wait(ctx); err != nil {
		return GatewayResult{}, err
	}
	if !strings.Contains(email, "@") {
		return GatewayResult{Message: "invalid paypal email"}, nil
	}
	if !g.decide() {
		log.Warn().Str("reference", reference).Msg("gateway: paypal payment declined")
		return GatewayResult{Message: "paypal payment failed"}, nil
	}
	return approved("PP-", "paypal payment processed", amount), nil
}

func (g *SimulatedGateway) ChargeBankTransfer(ctx context.Context, amount decimal.Decimal, reference string) (GatewayResult, error) {
	if err := ctx.Err(); err != nil {
		return GatewayResult{}, err
	}
	result := approved("BANK-", "bank transfer initiated", amount)
	result.Message += ". Reference: " + reference
	return result, nil
}

func (g *SimulatedGateway) Refund(ctx context.Context, transactionID string, amount decimal.Decimal, reference string) (GatewayResult, error) {
	if err := g.wait(ctx); err != nil {
		return GatewayResult{}, err
	}
	log.Info().Str("reference", reference).Str("transaction_id", transactionID).Msg("gateway: refund processed")
	return approved("REF-", "refund processed", amount), nil
}

func (g *SimulatedGateway) wait(ctx context.Context) error {
	d := g.minDelay
	if span := g.maxDelay - g.minDelay; span > 0 {
		d += time.Duration(rand.Int63n(int64(span)))
	}
	return g.sleep(ctx, d)
}

func approved(prefix, what string, amount decimal.Decimal) GatewayResult {
	return GatewayResult{
		Success:       true,
		TransactionID: transactionID(prefix),
		Message:       what + ". Amount: " + amount.StringFixed(2) + " " + DefaultCurrency,
	}
}

func transactionID(prefix string) string {
	id := uuid.Must(uuid.NewV4()).String()
	return prefix + strings.ToUpper(id[:8])
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
