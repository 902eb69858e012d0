package store

import (
	"context"
	"fmt"
	"time"

	"github.com/escape-exam/score-service/internal/domain"
)

// unavailableStore stands in for a backend that could not be reached at startup
type unavailableStore struct {
	cause error
}

// Unavailable returns a Store whose every operation fails with domain.ErrStoreUnavailable
func Unavailable(cause error) Store {
	return &unavailableStore{cause: cause}
}

func (s *unavailableStore) err(op string) error {
	if s.cause == nil {
		return fmt.Errorf("%s: %w", op, domain.ErrStoreUnavailable)
	}
	return domain.Unavailable(op, s.cause)
}

func (s *unavailableStore) FindScore(context.Context, string) (*domain.ScoreRecord, error) {
	return nil, s.err("finding score")
}

func (s *unavailableStore) InsertScore(context.Context, domain.ScoreRecord) (string, error) {
	return "", s.err("inserting score")
}

func (s *unavailableStore) UpdateScoreIfHigher(context.Context, string, int64, time.Time) (bool, error) {
	return false, s.err("updating score")
}

func (s *unavailableStore) TopScores(context.Context, int) ([]domain.ScoreRecord, error) {
	return nil, s.err("listing top scores")
}

func (s *unavailableStore) FindIdentity(context.Context, string) (*domain.UserIdentity, error) {
	return nil, s.err("finding identity")
}

func (s *unavailableStore) InsertIdentity(context.Context, domain.UserIdentity) error {
	return s.err("inserting identity")
}

func (s *unavailableStore) UpdateIdentityLogin(context.Context, string, string, time.Time) error {
	return s.err("updating identity")
}

func (s *unavailableStore) Ping(context.Context) error {
	return s.err("ping")
}

func (s *unavailableStore) Close() error {
	return nil
}
