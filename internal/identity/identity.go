// Package identity records players who signed in through the identity provider.
package identity

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/escape-exam/score-service/internal/domain"
)

// Store is the subset of the persistence capability identity upserts need
type Store interface {
	FindIdentity(ctx context.Context, subjectID string) (*domain.UserIdentity, error)
	InsertIdentity(ctx context.Context, identity domain.UserIdentity) error
	UpdateIdentityLogin(ctx context.Context, subjectID, displayName string, lastLogin time.Time) error
}

// Service upserts identities keyed by subject id
type Service struct {
	store Store
	now   func() time.Time
}

// NewService creates an identity service
func NewService(store Store) *Service {
	return &Service{
		store: store,
		now: func() time.Time {
			return time.Now().UTC().Truncate(time.Millisecond)
		},
	}
}

// Upsert creates the identity on first sign-in and refreshes display name and
// last login afterwards. Every store failure is reported as
// domain.ErrStoreOperationFailed.
func (s *Service) Upsert(ctx context.Context, subjectID, email, displayName string) (domain.Profile, error) {
	now := s.now()

	_, err := s.store.FindIdentity(ctx, subjectID)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		err = s.store.InsertIdentity(ctx, domain.UserIdentity{
			SubjectID:   subjectID,
			Email:       email,
			DisplayName: displayName,
			LastLogin:   now,
		})
		if err == nil {
			break
		}
		if !errors.Is(err, domain.ErrDuplicateKey) {
			return domain.Profile{}, operationFailed("inserting identity", err)
		}
		// Concurrent first sign-in; fall back to refreshing the existing identity.
		if err := s.store.UpdateIdentityLogin(ctx, subjectID, displayName, now); err != nil {
			return domain.Profile{}, operationFailed("updating identity", err)
		}
	case err != nil:
		return domain.Profile{}, operationFailed("finding identity", err)
	default:
		if err := s.store.UpdateIdentityLogin(ctx, subjectID, displayName, now); err != nil {
			return domain.Profile{}, operationFailed("updating identity", err)
		}
	}

	return domain.Profile{Account: email, Name: displayName}, nil
}

func operationFailed(op string, err error) error {
	if errors.Is(err, domain.ErrStoreOperationFailed) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return domain.OperationFailed(op, err)
}
