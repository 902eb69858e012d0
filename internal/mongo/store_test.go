package mongo

import (
	"context"
	"io"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"

	"github.com/escape-exam/score-service/internal/config"
	"github.com/escape-exam/score-service/internal/domain"
	"github.com/escape-exam/score-service/internal/store"
	"github.com/escape-exam/score-service/internal/store/storetest"
)

func TestScoreDocument(t *testing.T) {
	id := bson.NewObjectID()
	date := time.Date(2024, 3, 1, 10, 0, 0, 0, time.FixedZone("CET", 3600))

	raw, err := bson.Marshal(scoreDocument{ID: id, Name: "ada", Score: 7, Date: date})
	require.NoError(t, err)

	var fields bson.M
	require.NoError(t, bson.Unmarshal(raw, &fields))
	assert.Contains(t, fields, "name")
	assert.Contains(t, fields, "score")
	assert.Contains(t, fields, "date")

	var doc scoreDocument
	require.NoError(t, bson.Unmarshal(raw, &doc))
	rec := doc.record()
	assert.Equal(t, id.Hex(), rec.ID)
	assert.Equal(t, time.UTC, rec.RecordedAt.Location())
	assert.True(t, rec.RecordedAt.Equal(date))
}

func TestClassify(t *testing.T) {
	assert.ErrorIs(t, classify("x", mongo.ErrClientDisconnected), domain.ErrStoreUnavailable)
	assert.ErrorIs(t, classify("x", context.DeadlineExceeded), domain.ErrStoreUnavailable)
	assert.ErrorIs(t, classify("x", mongo.ErrNilDocument), domain.ErrStoreOperationFailed)
}

// TestStore runs against a live server when SCORE_TEST_MONGODB_URI names one
func TestStore(t *testing.T) {
	uri := os.Getenv("SCORE_TEST_MONGODB_URI")
	if uri == "" {
		t.Skip("SCORE_TEST_MONGODB_URI not set")
	}

	storetest.Run(t, func(t *testing.T) store.Store {
		ctx := context.Background()
		cfg := config.DefaultConfig().Mongo
		cfg.URI = uri
		cfg.Database = "score_test_" + uuid.NewString()[:8]

		s, err := NewStore(ctx, &cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
		require.NoError(t, err)
		require.NoError(t, s.EnsureIndexes(ctx))
		t.Cleanup(func() {
			_ = s.scores.Database().Drop(context.Background())
			_ = s.Close()
		})
		return s
	})
}
