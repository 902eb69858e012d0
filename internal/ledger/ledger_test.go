package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/escape-exam/score-service/internal/domain"
	"github.com/escape-exam/score-service/internal/store/memory"
)

// tickingClock returns a later instant on every call
func tickingClock() func() time.Time {
	var mu sync.Mutex
	t := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		t = t.Add(time.Second)
		return t
	}
}

func newLedger(t *testing.T) (*Ledger, *memory.Store) {
	t.Helper()
	s := memory.New()
	return New(s, WithClock(tickingClock())), s
}

func find(t *testing.T, s *memory.Store, name string) domain.ScoreRecord {
	t.Helper()
	rec, err := s.FindScore(context.Background(), name)
	require.NoError(t, err)
	return *rec
}

func TestSubmit_Reconciliation(t *testing.T) {
	ctx := context.Background()
	l, s := newLedger(t)

	created, err := l.Submit(ctx, "alice", "100")
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeCreated, created.Kind)
	assert.NotEmpty(t, created.ID)
	first := find(t, s, "alice")

	updated, err := l.Submit(ctx, "alice", "150")
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeUpdated, updated.Kind)
	assert.Equal(t, created.ID, updated.ID)

	rec := find(t, s, "alice")
	assert.Equal(t, int64(150), rec.Score)
	assert.True(t, rec.RecordedAt.After(first.RecordedAt), "recorded_at must follow the current score")

	t.Run("equal and lower scores are rejected without mutation", func(t *testing.T) {
		for _, raw := range []string{"150", "149", "0", "150"} {
			out, err := l.Submit(ctx, "alice", raw)
			require.NoError(t, err)
			assert.Equal(t, domain.OutcomeRejected, out.Kind)
			assert.Equal(t, domain.ReasonNotHigher, out.Reason)
			assert.Empty(t, out.ID)
		}
		after := find(t, s, "alice")
		assert.Equal(t, rec.Score, after.Score)
		assert.True(t, rec.RecordedAt.Equal(after.RecordedAt))
	})
}

func TestSubmit_UniquenessAndMonotonicScore(t *testing.T) {
	sequences := [][]int{
		{5, 3, 9, 1},
		{9, 5, 3, 1},
		{1, 3, 5, 9},
		{4, 4, 4},
		{0},
	}

	for _, seq := range sequences {
		t.Run(fmt.Sprint(seq), func(t *testing.T) {
			ctx := context.Background()
			l, s := newLedger(t)

			best := 0
			for _, score := range seq {
				_, err := l.Submit(ctx, "  bob ", fmt.Sprint(score))
				require.NoError(t, err)
				if score > best {
					best = score
				}
			}

			records := s.Scores()
			require.Len(t, records, 1)
			assert.Equal(t, "bob", records[0].PlayerName)
			assert.Equal(t, int64(best), records[0].Score)
		})
	}
}

func TestSubmit_TruncatedNamesShareARecord(t *testing.T) {
	ctx := context.Background()
	l, s := newLedger(t)

	base := "X" + strings.Repeat("y", 49)
	out, err := l.Submit(ctx, base, "10")
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeCreated, out.Kind)

	out, err = l.Submit(ctx, base+"extra", "20")
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeUpdated, out.Kind)

	records := s.Scores()
	require.Len(t, records, 1)
	assert.Equal(t, base, records[0].PlayerName)
	assert.Equal(t, int64(20), records[0].Score)
}

// countingStore records how often the ledger touched it
type countingStore struct {
	calls int
}

func (c *countingStore) FindScore(context.Context, string) (*domain.ScoreRecord, error) {
	c.calls++
	return nil, domain.ErrNotFound
}

func (c *countingStore) InsertScore(context.Context, domain.ScoreRecord) (string, error) {
	c.calls++
	return "id", nil
}

func (c *countingStore) UpdateScoreIfHigher(context.Context, string, int64, time.Time) (bool, error) {
	c.calls++
	return false, nil
}

func TestSubmit_ValidationBoundary(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name string
		rawN string
		rawS string
		code string
	}{
		{name: "negative score", rawN: "alice", rawS: "-1", code: domain.CodeNegativeScore},
		{name: "blank name", rawN: "   ", rawS: "10", code: domain.CodeEmptyName},
		{name: "non numeric score", rawN: "alice", rawS: "abc", code: domain.CodeBadScoreFormat},
		{name: "fractional score", rawN: "alice", rawS: "1.5", code: domain.CodeBadScoreFormat},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := &countingStore{}
			out, err := New(st).Submit(ctx, tt.rawN, tt.rawS)
			require.Error(t, err)
			assert.ErrorIs(t, err, domain.ErrValidation)
			var verr *domain.ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tt.code, verr.Code)
			assert.Equal(t, domain.Outcome{}, out)
			assert.Zero(t, st.calls, "store must not be touched on invalid input")
		})
	}

	t.Run("zero score is accepted", func(t *testing.T) {
		l, _ := newLedger(t)
		out, err := l.Submit(ctx, "zero", "0")
		require.NoError(t, err)
		assert.Equal(t, domain.OutcomeCreated, out.Kind)
	})
}

func TestSubmit_StoreFailures(t *testing.T) {
	ctx := context.Background()

	t.Run("unavailable store", func(t *testing.T) {
		l, s := newLedger(t)
		s.SetFailure(domain.Unavailable("finding score", errors.New("dial tcp: refused")))

		out, err := l.Submit(ctx, "alice", "10")
		assert.ErrorIs(t, err, domain.ErrStoreUnavailable)
		assert.NotErrorIs(t, err, domain.ErrStoreOperationFailed)
		assert.NotEqual(t, domain.OutcomeRejected, out.Kind)
	})

	t.Run("unclassified errors become operation failures", func(t *testing.T) {
		l, s := newLedger(t)
		_, err := l.Submit(ctx, "alice", "10")
		require.NoError(t, err)

		s.SetFailure(errors.New("disk full"))
		out, err := l.Submit(ctx, "alice", "5")
		assert.ErrorIs(t, err, domain.ErrStoreOperationFailed)
		assert.NotEqual(t, domain.OutcomeRejected, out.Kind)
	})
}

// conflictStore reports a duplicate on insert, as if a concurrent submission won the race
type conflictStore struct {
	*memory.Store
	raced bool
}

func (c *conflictStore) FindScore(ctx context.Context, name string) (*domain.ScoreRecord, error) {
	if !c.raced {
		return nil, domain.ErrNotFound
	}
	return c.Store.FindScore(ctx, name)
}

func (c *conflictStore) InsertScore(ctx context.Context, rec domain.ScoreRecord) (string, error) {
	if !c.raced {
		c.raced = true
		rival := domain.ScoreRecord{PlayerName: rec.PlayerName, Score: 50, RecordedAt: rec.RecordedAt}
		if _, err := c.Store.InsertScore(ctx, rival); err != nil {
			return "", err
		}
	}
	return c.Store.InsertScore(ctx, rec)
}

func TestSubmit_InsertConflict(t *testing.T) {
	ctx := context.Background()

	t.Run("higher score updates the record created by the rival", func(t *testing.T) {
		st := &conflictStore{Store: memory.New()}
		out, err := New(st).Submit(ctx, "carol", "80")
		require.NoError(t, err)
		assert.Equal(t, domain.OutcomeUpdated, out.Kind)

		records := st.Scores()
		require.Len(t, records, 1)
		assert.Equal(t, int64(80), records[0].Score)
	})

	t.Run("lower score is rejected", func(t *testing.T) {
		st := &conflictStore{Store: memory.New()}
		out, err := New(st).Submit(ctx, "carol", "20")
		require.NoError(t, err)
		assert.Equal(t, domain.OutcomeRejected, out.Kind)

		records := st.Scores()
		require.Len(t, records, 1)
		assert.Equal(t, int64(50), records[0].Score)
	})
}

func TestSubmit_ConcurrentSameKey(t *testing.T) {
	ctx := context.Background()

	for i := 0; i < 50; i++ {
		l, s := newLedger(t)
		var wg sync.WaitGroup
		errs := make(chan error, 2)
		for _, score := range []string{"10", "20"} {
			wg.Add(1)
			go func(score string) {
				defer wg.Done()
				_, err := l.Submit(ctx, "dora", score)
				errs <- err
			}(score)
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			require.NoError(t, err)
		}

		records := s.Scores()
		require.Len(t, records, 1)
		assert.Equal(t, int64(20), records[0].Score)
	}
}

func TestSubmit_ConcurrentManyKeys(t *testing.T) {
	ctx := context.Background()
	l, s := newLedger(t)

	var wg sync.WaitGroup
	for player := 0; player < 8; player++ {
		for score := 1; score <= 25; score++ {
			wg.Add(1)
			go func(player, score int) {
				defer wg.Done()
				_, err := l.Submit(ctx, fmt.Sprintf("p%d", player), fmt.Sprint(score))
				assert.NoError(t, err)
			}(player, score)
		}
	}
	wg.Wait()

	records := s.Scores()
	require.Len(t, records, 8)
	for _, rec := range records {
		assert.Equal(t, int64(25), rec.Score, rec.PlayerName)
	}
}
