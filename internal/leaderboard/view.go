// Package leaderboard serves the ranked, read-only projection of score records.
package leaderboard

import (
	"context"
	"fmt"
	"sort"

	"github.com/escape-exam/score-service/internal/domain"
)

// DefaultLimit is the page size used when the caller does not ask for one
const DefaultLimit = 10

// Store is the subset of the persistence capability the view needs
type Store interface {
	TopScores(ctx context.Context, limit int) ([]domain.ScoreRecord, error)
}

// View ranks records by score, earliest record first on ties, then by name
type View struct {
	store Store
}

// NewView creates a leaderboard view
func NewView(store Store) *View {
	return &View{store: store}
}

// Top returns the n best records. n <= 0 yields an empty page.
// On a store error no entries are returned.
func (v *View) Top(ctx context.Context, n int) ([]domain.LeaderboardEntry, error) {
	if n <= 0 {
		return []domain.LeaderboardEntry{}, nil
	}

	records, err := v.store.TopScores(ctx, n)
	if err != nil {
		if domain.IsStoreError(err) {
			return nil, fmt.Errorf("getting top scores: %w", err)
		}
		return nil, domain.OperationFailed("getting top scores", err)
	}

	// Backends may order equal scores arbitrarily.
	sort.SliceStable(records, func(i, j int) bool {
		if records[i].Score != records[j].Score {
			return records[i].Score > records[j].Score
		}
		if !records[i].RecordedAt.Equal(records[j].RecordedAt) {
			return records[i].RecordedAt.Before(records[j].RecordedAt)
		}
		return records[i].PlayerName < records[j].PlayerName
	})
	if len(records) > n {
		records = records[:n]
	}

	entries := make([]domain.LeaderboardEntry, len(records))
	for i, rec := range records {
		entries[i] = domain.NewLeaderboardEntry(rec)
	}
	return entries, nil
}
