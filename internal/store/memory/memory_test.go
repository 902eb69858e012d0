package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/escape-exam/score-service/internal/domain"
	"github.com/escape-exam/score-service/internal/store"
	"github.com/escape-exam/score-service/internal/store/storetest"
)

func TestStore(t *testing.T) {
	storetest.Run(t, func(*testing.T) store.Store { return New() })
}

func TestTopScores_FullTieBreaksByName(t *testing.T) {
	ctx := context.Background()
	s := New()
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for _, name := range []string{"zed", "amy", "kim"} {
		_, err := s.InsertScore(ctx, domain.ScoreRecord{PlayerName: name, Score: 7, RecordedAt: t0})
		require.NoError(t, err)
	}

	top, err := s.TopScores(ctx, 3)
	require.NoError(t, err)
	require.Len(t, top, 3)
	assert.Equal(t, []string{"amy", "kim", "zed"}, []string{top[0].PlayerName, top[1].PlayerName, top[2].PlayerName})
}

func TestScores(t *testing.T) {
	ctx := context.Background()
	s := New()
	_, err := s.InsertScore(ctx, domain.ScoreRecord{PlayerName: "a", Score: 1})
	require.NoError(t, err)

	scores := s.Scores()
	require.Len(t, scores, 1)
	scores[0].Score = 100

	rec, err := s.FindScore(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, int64(1), rec.Score, "Scores returns a copy")
}

func TestSetFailure(t *testing.T) {
	ctx := context.Background()
	s := New()
	boom := errors.New("boom")
	s.SetFailure(boom)

	_, err := s.FindScore(ctx, "alice")
	assert.ErrorIs(t, err, boom)
	_, err = s.TopScores(ctx, 10)
	assert.ErrorIs(t, err, boom)
	assert.ErrorIs(t, s.InsertIdentity(ctx, domain.UserIdentity{SubjectID: "s"}), boom)
	assert.ErrorIs(t, s.Ping(ctx), boom)

	s.SetFailure(nil)
	assert.NoError(t, s.Ping(ctx))
}
