// Package sagalog keeps an append-only trail of every checkout run. Each row
// is one transition; the latest row of a saga tells how far it got.
package sagalog

import (
	"context"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog/log"
)

type Status string

const (
	StatusStarted   Status = "STARTED"
	StatusStepDone  Status = "STEP_DONE"
	StatusStepFail  Status = "STEP_FAILED"
	StatusCompleted Status = "COMPLETED"
	StatusFailed    Status = "FAILED"
)

type Entry struct {
	SagaID    string    `json:"saga_id"`
	OrderID   string    `json:"order_id,omitempty"`
	Status    Status    `json:"status"`
	Step      string    `json:"step,omitempty"`
	Error     string    `json:"error,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

type Repository interface {
	Save(ctx context.Context, entry *Entry) error
	// ListByOrderID returns every entry of the sagas that touched orderID,
	// oldest first.
	ListByOrderID(ctx context.Context, orderID string) ([]Entry, error)
}

// Saga records the transitions of one run. A Saga built over a nil
// Repository records nothing.
type Saga struct {
	ID      string
	orderID string
	repo    Repository
}

func Start(ctx context.Context, repo Repository) *Saga {
	s := &Saga{ID: ulid.Make().String(), repo: repo}
	s.save(ctx, StatusStarted, "", nil)
	return s
}

// BindOrder attaches the order created by this run to every later entry.
func (s *Saga) BindOrder(orderID string) { s.orderID = orderID }

func (s *Saga) StepDone(ctx context.Context, step string) { s.save(ctx, StatusStepDone, step, nil) }

// StepFailed records a step that failed without aborting the run.
func (s *Saga) StepFailed(ctx context.Context, step string, err error) {
	s.save(ctx, StatusStepFail, step, err)
}

func (s *Saga) Complete(ctx context.Context) { s.save(ctx, StatusCompleted, "", nil) }

func (s *Saga) Fail(ctx context.Context, step string, err error) { s.save(ctx, StatusFailed, step, err) }

func (s *Saga) save(ctx context.Context, status Status, step string, cause error) {
	if s.repo == nil {
		return
	}

	entry := &Entry{
		SagaID:    s.ID,
		OrderID:   s.orderID,
		Status:    status,
		Step:      step,
		CreatedAt: time.Now().UTC(),
	}
	if cause != nil {
		entry.Error = cause.Error()
	}

	// The journal is an audit trail; losing a row must not fail a checkout.
	if err := s.repo.Save(ctx, entry); err != nil {
		log.Warn().Err(err).Str("saga_id", s.ID).Str("step", step).Msg("sagalog: failed to save entry")
	}
}
