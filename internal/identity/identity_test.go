package identity

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/escape-exam/score-service/internal/domain"
	"github.com/escape-exam/score-service/internal/store/memory"
)

func newService(st Store, times ...time.Time) *Service {
	svc := NewService(st)
	i := 0
	svc.now = func() time.Time {
		t := times[i]
		if i < len(times)-1 {
			i++
		}
		return t
	}
	return svc
}

func TestUpsert(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	first := time.Date(2024, 4, 1, 9, 0, 0, 0, time.UTC)
	second := first.Add(24 * time.Hour)
	svc := newService(st, first, second)

	profile, err := svc.Upsert(ctx, "sub-1", "ada@example.com", "Ada")
	require.NoError(t, err)
	assert.Equal(t, domain.Profile{Account: "ada@example.com", Name: "Ada"}, profile)

	stored, err := st.FindIdentity(ctx, "sub-1")
	require.NoError(t, err)
	assert.Equal(t, "Ada", stored.DisplayName)
	assert.True(t, stored.LastLogin.Equal(first))

	profile, err = svc.Upsert(ctx, "sub-1", "ada@example.com", "Ada Lovelace")
	require.NoError(t, err)
	assert.Equal(t, "Ada Lovelace", profile.Name)

	stored, err = st.FindIdentity(ctx, "sub-1")
	require.NoError(t, err)
	assert.Equal(t, "sub-1", stored.SubjectID)
	assert.Equal(t, "ada@example.com", stored.Email)
	assert.Equal(t, "Ada Lovelace", stored.DisplayName)
	assert.True(t, stored.LastLogin.Equal(second))
}

// racingStore hides the identity on lookup, as if a concurrent sign-in inserted it
type racingStore struct {
	*memory.Store
}

func (r *racingStore) FindIdentity(context.Context, string) (*domain.UserIdentity, error) {
	return nil, domain.ErrNotFound
}

func TestUpsert_ConcurrentFirstSignIn(t *testing.T) {
	ctx := context.Background()
	mem := memory.New()
	now := time.Date(2024, 4, 1, 9, 0, 0, 0, time.UTC)
	require.NoError(t, mem.InsertIdentity(ctx, domain.UserIdentity{SubjectID: "sub", Email: "e@x", DisplayName: "old"}))

	profile, err := newService(&racingStore{mem}, now).Upsert(ctx, "sub", "e@x", "new")
	require.NoError(t, err)
	assert.Equal(t, "new", profile.Name)

	stored, err := mem.FindIdentity(ctx, "sub")
	require.NoError(t, err)
	assert.Equal(t, "new", stored.DisplayName)
	assert.True(t, stored.LastLogin.Equal(now))
}

func TestUpsert_StoreFailure(t *testing.T) {
	ctx := context.Background()

	for name, failure := range map[string]error{
		"unavailable":  domain.Unavailable("finding identity", errors.New("no route to host")),
		"unclassified": errors.New("write conflict"),
	} {
		t.Run(name, func(t *testing.T) {
			st := memory.New()
			st.SetFailure(failure)
			_, err := NewService(st).Upsert(ctx, "sub", "e@x", "n")
			assert.ErrorIs(t, err, domain.ErrStoreOperationFailed)
		})
	}
}
