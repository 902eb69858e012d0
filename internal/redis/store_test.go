package redis

import (
	"context"
	"io"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/escape-exam/score-service/internal/config"
	"github.com/escape-exam/score-service/internal/domain"
	"github.com/escape-exam/score-service/internal/store"
	"github.com/escape-exam/score-service/internal/store/storetest"
)

func TestRankRecords(t *testing.T) {
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	// Name order in the sorted set would pick "a" and "b" for a page of two.
	records := []domain.ScoreRecord{
		{PlayerName: "a", Score: 80, RecordedAt: t0.Add(3 * time.Minute)},
		{PlayerName: "b", Score: 80, RecordedAt: t0.Add(2 * time.Minute)},
		{PlayerName: "c", Score: 80, RecordedAt: t0.Add(time.Minute)},
		{PlayerName: "z", Score: 90, RecordedAt: t0.Add(time.Hour)},
	}

	top := rankRecords(records, 2)
	require.Len(t, top, 2)
	assert.Equal(t, "z", top[0].PlayerName)
	assert.Equal(t, "c", top[1].PlayerName)
}

func TestParseScore(t *testing.T) {
	rec, err := parseScore(map[string]string{
		"id": "x", "name": "ada", "score": "42", "recorded_at": "1704067200123",
	})
	require.NoError(t, err)
	assert.Equal(t, int64(42), rec.Score)
	assert.Equal(t, time.Date(2024, 1, 1, 0, 0, 0, 123_000_000, time.UTC), rec.RecordedAt)

	_, err = parseScore(map[string]string{"score": "4.5", "recorded_at": "0"})
	assert.Error(t, err)
}

func TestRankedMembers_MissingHash(t *testing.T) {
	full := map[string]string{"id": "x", "name": "ada", "score": "42", "recorded_at": "0"}

	records, err := rankedMembers([]string{"ada"}, []map[string]string{full})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "ada", records[0].PlayerName)

	_, err = rankedMembers([]string{"ada", "ghost"}, []map[string]string{full, {}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ghost")
}

func TestTopScores_MissingHashFails(t *testing.T) {
	addr := os.Getenv("SCORE_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("SCORE_TEST_REDIS_ADDR not set")
	}
	ctx := context.Background()
	cfg := config.DefaultConfig().Redis
	cfg.Addr = addr
	cfg.DB = 15

	s, err := NewStore(ctx, &cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	require.NoError(t, s.client.FlushDB(ctx).Err())

	require.NoError(t, s.client.ZAdd(ctx, rankingKey, redis.Z{Score: 10, Member: "ghost"}).Err())

	_, err = s.TopScores(ctx, 10)
	assert.ErrorIs(t, err, domain.ErrStoreOperationFailed)
}

func TestClassify(t *testing.T) {
	assert.ErrorIs(t, classify("x", redis.ErrClosed), domain.ErrStoreUnavailable)
	assert.ErrorIs(t, classify("x", redis.Nil), domain.ErrStoreOperationFailed)
}

// TestStore runs against a live server when SCORE_TEST_REDIS_ADDR names one.
// The selected database is flushed.
func TestStore(t *testing.T) {
	addr := os.Getenv("SCORE_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("SCORE_TEST_REDIS_ADDR not set")
	}

	storetest.Run(t, func(t *testing.T) store.Store {
		ctx := context.Background()
		cfg := config.DefaultConfig().Redis
		cfg.Addr = addr
		cfg.DB = 15

		s, err := NewStore(ctx, &cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
		require.NoError(t, err)
		require.NoError(t, s.client.FlushDB(ctx).Err())
		t.Cleanup(func() { _ = s.Close() })
		return s
	})
}
