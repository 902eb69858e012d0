// Package ledger keeps one best-score record per player.
//
// Every submission re-reads the stored record and writes through the store's
// conditional update, so a lower score can never overwrite a higher one that
// landed concurrently. The ledger holds no state between calls.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/escape-exam/score-service/internal/domain"
)

// Store is the subset of the persistence capability the ledger needs
type Store interface {
	FindScore(ctx context.Context, name string) (*domain.ScoreRecord, error)
	InsertScore(ctx context.Context, rec domain.ScoreRecord) (string, error)
	UpdateScoreIfHigher(ctx context.Context, name string, score int64, recordedAt time.Time) (bool, error)
}

// Option configures a Ledger
type Option func(*Ledger)

// WithClock overrides the timestamp source
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) {
		l.now = now
	}
}

// Ledger reconciles score submissions against stored records
type Ledger struct {
	store Store
	now   func() time.Time
}

// New creates a ledger on top of store
func New(store Store, opts ...Option) *Ledger {
	l := &Ledger{
		store: store,
		now:   defaultClock,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Stored timestamps are millisecond precision on every backend.
func defaultClock() time.Time {
	return time.Now().UTC().Truncate(time.Millisecond)
}

// Submit validates a raw submission and applies the best-score-wins rule.
// Validation failures return a *domain.ValidationError before the store is touched.
func (l *Ledger) Submit(ctx context.Context, rawName, rawScore string) (domain.Outcome, error) {
	name, score, err := domain.NormalizeSubmission(rawName, rawScore)
	if err != nil {
		return domain.Outcome{}, err
	}

	existing, err := l.store.FindScore(ctx, name)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		id, err := l.store.InsertScore(ctx, domain.ScoreRecord{
			PlayerName: name,
			Score:      score,
			RecordedAt: l.now(),
		})
		if err == nil {
			return domain.Created(id), nil
		}
		if !errors.Is(err, domain.ErrDuplicateKey) {
			return domain.Outcome{}, storeError("inserting score", err)
		}
		// Another submission created the record first; compare against it instead.
		existing, err = l.store.FindScore(ctx, name)
		if err != nil {
			return domain.Outcome{}, storeError("finding score after conflict", err)
		}
	case err != nil:
		return domain.Outcome{}, storeError("finding score", err)
	}

	if score <= existing.Score {
		return domain.Rejected(domain.ReasonNotHigher), nil
	}

	updated, err := l.store.UpdateScoreIfHigher(ctx, name, score, l.now())
	if err != nil {
		return domain.Outcome{}, storeError("updating score", err)
	}
	if !updated {
		// A higher score landed between the read and the write.
		return domain.Rejected(domain.ReasonNotHigher), nil
	}
	return domain.Updated(existing.ID), nil
}

// storeError keeps backend classification and marks anything unclassified as an operation failure
func storeError(op string, err error) error {
	if domain.IsStoreError(err) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return domain.OperationFailed(op, err)
}
