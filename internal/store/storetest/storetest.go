// Package storetest holds behaviour checks every store backend must pass.
package storetest

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/escape-exam/score-service/internal/domain"
	"github.com/escape-exam/score-service/internal/store"
)

// Run exercises a backend. newStore must return an empty store and register
// its own cleanup.
func Run(t *testing.T, newStore func(t *testing.T) store.Store) {
	t.Run("score lifecycle", func(t *testing.T) { testScoreLifecycle(t, newStore(t)) })
	t.Run("top scores order", func(t *testing.T) { testTopScores(t, newStore(t)) })
	t.Run("concurrent updates", func(t *testing.T) { testConcurrentUpdates(t, newStore(t)) })
	t.Run("identities", func(t *testing.T) { testIdentities(t, newStore(t)) })
	t.Run("ping", func(t *testing.T) { assert.NoError(t, newStore(t).Ping(context.Background())) })
}

var t0 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func testScoreLifecycle(t *testing.T, s store.Store) {
	ctx := context.Background()

	_, err := s.FindScore(ctx, "alice")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	id, err := s.InsertScore(ctx, domain.ScoreRecord{PlayerName: "alice", Score: 10, RecordedAt: t0})
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	_, err = s.InsertScore(ctx, domain.ScoreRecord{PlayerName: "alice", Score: 99, RecordedAt: t0})
	assert.ErrorIs(t, err, domain.ErrDuplicateKey)

	ok, err := s.UpdateScoreIfHigher(ctx, "alice", 10, t0.Add(time.Hour))
	require.NoError(t, err)
	assert.False(t, ok, "equal score must not update")

	ok, err = s.UpdateScoreIfHigher(ctx, "alice", 11, t0.Add(time.Hour))
	require.NoError(t, err)
	assert.True(t, ok)

	rec, err := s.FindScore(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, id, rec.ID)
	assert.Equal(t, "alice", rec.PlayerName)
	assert.Equal(t, int64(11), rec.Score)
	assert.True(t, rec.RecordedAt.Equal(t0.Add(time.Hour)), "recorded_at follows the accepted score")

	ok, err = s.UpdateScoreIfHigher(ctx, "nobody", 5, t0)
	require.NoError(t, err)
	assert.False(t, ok)
}

func testTopScores(t *testing.T, s store.Store) {
	ctx := context.Background()
	for _, rec := range []domain.ScoreRecord{
		{PlayerName: "c", Score: 80, RecordedAt: t0.Add(2 * time.Minute)},
		{PlayerName: "a", Score: 50, RecordedAt: t0},
		{PlayerName: "b", Score: 80, RecordedAt: t0.Add(time.Minute)},
		{PlayerName: "d", Score: 0, RecordedAt: t0},
	} {
		_, err := s.InsertScore(ctx, rec)
		require.NoError(t, err)
	}

	top, err := s.TopScores(ctx, 3)
	require.NoError(t, err)
	require.Len(t, top, 3)
	assert.Equal(t, int64(80), top[0].Score)
	assert.Equal(t, int64(80), top[1].Score)
	assert.Equal(t, "a", top[2].PlayerName)

	all, err := s.TopScores(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, all, 4)
	for i := 1; i < len(all); i++ {
		assert.GreaterOrEqual(t, all[i-1].Score, all[i].Score)
	}
}

func testConcurrentUpdates(t *testing.T, s store.Store) {
	ctx := context.Background()
	_, err := s.InsertScore(ctx, domain.ScoreRecord{PlayerName: "p", Score: 0, RecordedAt: t0})
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 1; i <= 20; i++ {
		wg.Add(1)
		go func(score int64) {
			defer wg.Done()
			_, err := s.UpdateScoreIfHigher(ctx, "p", score, t0.Add(time.Duration(score)*time.Second))
			assert.NoError(t, err)
		}(int64(i))
	}
	wg.Wait()

	rec, err := s.FindScore(ctx, "p")
	require.NoError(t, err)
	assert.Equal(t, int64(20), rec.Score)

	var inserted sync.Map
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id, err := s.InsertScore(ctx, domain.ScoreRecord{PlayerName: "race", Score: int64(i), RecordedAt: t0})
			if err == nil {
				inserted.Store(id, i)
				return
			}
			assert.ErrorIs(t, err, domain.ErrDuplicateKey, fmt.Sprint(i))
		}(i)
	}
	wg.Wait()

	count := 0
	inserted.Range(func(any, any) bool { count++; return true })
	assert.Equal(t, 1, count, "exactly one concurrent insert wins")
}

func testIdentities(t *testing.T, s store.Store) {
	ctx := context.Background()

	_, err := s.FindIdentity(ctx, "sub")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	require.NoError(t, s.InsertIdentity(ctx, domain.UserIdentity{SubjectID: "sub", Email: "a@b.c", DisplayName: "A", LastLogin: t0}))
	assert.ErrorIs(t, s.InsertIdentity(ctx, domain.UserIdentity{SubjectID: "sub", Email: "x", DisplayName: "x", LastLogin: t0}), domain.ErrDuplicateKey)

	require.NoError(t, s.UpdateIdentityLogin(ctx, "sub", "B", t0.Add(time.Minute)))
	got, err := s.FindIdentity(ctx, "sub")
	require.NoError(t, err)
	assert.Equal(t, "B", got.DisplayName)
	assert.Equal(t, "a@b.c", got.Email)
	assert.True(t, got.LastLogin.Equal(t0.Add(time.Minute)))

	assert.ErrorIs(t, s.UpdateIdentityLogin(ctx, "missing", "x", t0), domain.ErrNotFound)
}
