// Package store defines the persistence capability shared by the score ledger,
// the leaderboard view and identity upserts, and the helpers backends use to
// report failures.
package store

import (
	"context"
	"errors"
	"net"
	"syscall"
	"time"

	"github.com/escape-exam/score-service/internal/domain"
)

// ScoreStore holds score records keyed by normalized player name
type ScoreStore interface {
	// FindScore returns domain.ErrNotFound when the name has no record.
	FindScore(ctx context.Context, name string) (*domain.ScoreRecord, error)
	// InsertScore returns the new record id, or domain.ErrDuplicateKey if the name exists.
	InsertScore(ctx context.Context, rec domain.ScoreRecord) (string, error)
	// UpdateScoreIfHigher sets score and recorded_at only where the stored score is lower.
	// It reports whether a record was modified.
	UpdateScoreIfHigher(ctx context.Context, name string, score int64, recordedAt time.Time) (bool, error)
	// TopScores returns up to limit records, highest score first.
	TopScores(ctx context.Context, limit int) ([]domain.ScoreRecord, error)
}

// IdentityStore holds identities keyed by external subject id
type IdentityStore interface {
	FindIdentity(ctx context.Context, subjectID string) (*domain.UserIdentity, error)
	InsertIdentity(ctx context.Context, identity domain.UserIdentity) error
	UpdateIdentityLogin(ctx context.Context, subjectID, displayName string, lastLogin time.Time) error
}

// Store is a complete persistence backend
type Store interface {
	ScoreStore
	IdentityStore
	Ping(ctx context.Context) error
	Close() error
}

// Classify wraps err as unavailable or operation failed. isUnavailable adds
// driver-specific connectivity checks on top of the generic ones.
func Classify(op string, err error, isUnavailable func(error) bool) error {
	if err == nil {
		return nil
	}
	if IsConnectivityError(err) || (isUnavailable != nil && isUnavailable(err)) {
		return domain.Unavailable(op, err)
	}
	return domain.OperationFailed(op, err)
}

// IsConnectivityError reports timeouts, cancellations and network failures
func IsConnectivityError(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return true
	}
	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var opErr *net.OpError
	return errors.As(err, &opErr)
}
