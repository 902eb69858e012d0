// Package memory provides an in-process Store for local runs and tests.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/escape-exam/score-service/internal/domain"
)

// Store keeps records in maps guarded by a single mutex, which gives every
// operation the per-document atomicity a real backend provides.
type Store struct {
	mu         sync.Mutex
	scores     map[string]domain.ScoreRecord
	identities map[string]domain.UserIdentity
	failure    error
}

// New creates an empty in-memory store
func New() *Store {
	return &Store{
		scores:     make(map[string]domain.ScoreRecord),
		identities: make(map[string]domain.UserIdentity),
	}
}

// SetFailure makes every subsequent operation return err; nil clears it
func (s *Store) SetFailure(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failure = err
}

// Scores returns a copy of all stored score records
func (s *Store) Scores() []domain.ScoreRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.ScoreRecord, 0, len(s.scores))
	for _, rec := range s.scores {
		out = append(out, rec)
	}
	return out
}

// FindScore returns the record stored under name
func (s *Store) FindScore(_ context.Context, name string) (*domain.ScoreRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failure != nil {
		return nil, s.failure
	}
	rec, ok := s.scores[name]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &rec, nil
}

// InsertScore adds a record if the name is free
func (s *Store) InsertScore(_ context.Context, rec domain.ScoreRecord) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failure != nil {
		return "", s.failure
	}
	if _, ok := s.scores[rec.PlayerName]; ok {
		return "", domain.ErrDuplicateKey
	}
	rec.ID = uuid.NewString()
	s.scores[rec.PlayerName] = rec
	return rec.ID, nil
}

// UpdateScoreIfHigher replaces score and recorded_at when the stored score is lower
func (s *Store) UpdateScoreIfHigher(_ context.Context, name string, score int64, recordedAt time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failure != nil {
		return false, s.failure
	}
	rec, ok := s.scores[name]
	if !ok || rec.Score >= score {
		return false, nil
	}
	rec.Score = score
	rec.RecordedAt = recordedAt
	s.scores[name] = rec
	return true, nil
}

// TopScores returns the highest scores, earliest record first on ties
func (s *Store) TopScores(_ context.Context, limit int) ([]domain.ScoreRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failure != nil {
		return nil, s.failure
	}
	all := make([]domain.ScoreRecord, 0, len(s.scores))
	for _, rec := range s.scores {
		all = append(all, rec)
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].Score != all[j].Score {
			return all[i].Score > all[j].Score
		}
		if !all[i].RecordedAt.Equal(all[j].RecordedAt) {
			return all[i].RecordedAt.Before(all[j].RecordedAt)
		}
		return all[i].PlayerName < all[j].PlayerName
	})
	if limit < len(all) {
		all = all[:limit]
	}
	return all, nil
}

// FindIdentity returns the identity stored under subjectID
func (s *Store) FindIdentity(_ context.Context, subjectID string) (*domain.UserIdentity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failure != nil {
		return nil, s.failure
	}
	identity, ok := s.identities[subjectID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &identity, nil
}

// InsertIdentity adds an identity if the subject is free
func (s *Store) InsertIdentity(_ context.Context, identity domain.UserIdentity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failure != nil {
		return s.failure
	}
	if _, ok := s.identities[identity.SubjectID]; ok {
		return domain.ErrDuplicateKey
	}
	s.identities[identity.SubjectID] = identity
	return nil
}

// UpdateIdentityLogin refreshes display name and last login
func (s *Store) UpdateIdentityLogin(_ context.Context, subjectID, displayName string, lastLogin time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failure != nil {
		return s.failure
	}
	identity, ok := s.identities[subjectID]
	if !ok {
		return domain.ErrNotFound
	}
	identity.DisplayName = displayName
	identity.LastLogin = lastLogin
	s.identities[subjectID] = identity
	return nil
}

// Ping reports the injected failure, if any
func (s *Store) Ping(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.failure
}

// Close is a no-op
func (s *Store) Close() error {
	return nil
}
