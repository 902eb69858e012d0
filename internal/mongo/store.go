// Package mongo stores scores and identities in MongoDB, in the scores and
// users collections the game has always used.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"

	"github.com/escape-exam/score-service/internal/config"
	"github.com/escape-exam/score-service/internal/domain"
	"github.com/escape-exam/score-service/internal/store"
)

// scoreDocument is a document in the scores collection
type scoreDocument struct {
	ID    bson.ObjectID `bson:"_id,omitempty"`
	Name  string        `bson:"name"`
	Score int64         `bson:"score"`
	Date  time.Time     `bson:"date"`
}

func (d scoreDocument) record() *domain.ScoreRecord {
	return &domain.ScoreRecord{
		ID:         d.ID.Hex(),
		PlayerName: d.Name,
		Score:      d.Score,
		RecordedAt: d.Date.UTC(),
	}
}

// userDocument is a document in the users collection
type userDocument struct {
	ID        bson.ObjectID `bson:"_id,omitempty"`
	GoogleID  string        `bson:"google_id"`
	Email     string        `bson:"email"`
	Name      string        `bson:"name"`
	LastLogin time.Time     `bson:"last_login"`
}

// Store provides MongoDB-based score and identity storage
type Store struct {
	client *mongo.Client
	scores *mongo.Collection
	users  *mongo.Collection
	logger *slog.Logger
}

// NewStore connects to MongoDB and verifies the server answers
func NewStore(ctx context.Context, cfg *config.MongoConfig, logger *slog.Logger) (*Store, error) {
	opts := options.Client().
		ApplyURI(cfg.URI).
		SetServerSelectionTimeout(cfg.ServerSelectionTimeout).
		SetMaxPoolSize(cfg.MaxPoolSize)

	client, err := mongo.Connect(opts)
	if err != nil {
		return nil, fmt.Errorf("creating mongo client: %w", err)
	}

	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, classify("connecting to mongo", err)
	}

	db := client.Database(cfg.Database)
	return &Store{
		client: client,
		scores: db.Collection(cfg.ScoresCollection),
		users:  db.Collection(cfg.UsersCollection),
		logger: logger,
	}, nil
}

// Close disconnects the client
func (s *Store) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}

// Ping checks that the primary answers
func (s *Store) Ping(ctx context.Context) error {
	return classify("pinging mongo", s.client.Ping(ctx, readpref.Primary()))
}

// EnsureIndexes creates the unique keys and the ranking index
func (s *Store) EnsureIndexes(ctx context.Context) error {
	_, err := s.scores.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "name", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys: bson.D{{Key: "score", Value: -1}, {Key: "date", Value: 1}},
		},
	})
	if err != nil {
		return classify("creating score indexes", err)
	}

	_, err = s.users.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "google_id", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return classify("creating user indexes", err)
	}

	s.logger.Info("mongo indexes ensured")
	return nil
}

// FindScore returns the record stored under name
func (s *Store) FindScore(ctx context.Context, name string) (*domain.ScoreRecord, error) {
	var doc scoreDocument
	err := s.scores.FindOne(ctx, bson.D{{Key: "name", Value: name}}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, domain.ErrNotFound
		}
		return nil, classify("finding score", err)
	}
	return doc.record(), nil
}

// InsertScore inserts a record; the unique name index rejects a second one
func (s *Store) InsertScore(ctx context.Context, rec domain.ScoreRecord) (string, error) {
	doc := scoreDocument{
		ID:    bson.NewObjectID(),
		Name:  rec.PlayerName,
		Score: rec.Score,
		Date:  rec.RecordedAt,
	}
	if _, err := s.scores.InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return "", domain.ErrDuplicateKey
		}
		return "", classify("inserting score", err)
	}
	return doc.ID.Hex(), nil
}

// UpdateScoreIfHigher replaces score and date only when the stored score is lower
func (s *Store) UpdateScoreIfHigher(ctx context.Context, name string, score int64, recordedAt time.Time) (bool, error) {
	filter := bson.D{
		{Key: "name", Value: name},
		{Key: "score", Value: bson.D{{Key: "$lt", Value: score}}},
	}
	update := bson.D{{Key: "$set", Value: bson.D{
		{Key: "score", Value: score},
		{Key: "date", Value: recordedAt},
	}}}

	result, err := s.scores.UpdateOne(ctx, filter, update)
	if err != nil {
		return false, classify("updating score", err)
	}
	return result.ModifiedCount > 0, nil
}

// TopScores returns the highest scores, earliest first among ties
func (s *Store) TopScores(ctx context.Context, limit int) ([]domain.ScoreRecord, error) {
	opts := options.Find().
		SetSort(bson.D{{Key: "score", Value: -1}, {Key: "date", Value: 1}, {Key: "name", Value: 1}}).
		SetLimit(int64(limit))

	cursor, err := s.scores.Find(ctx, bson.D{}, opts)
	if err != nil {
		return nil, classify("listing top scores", err)
	}
	defer cursor.Close(ctx)

	var docs []scoreDocument
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, classify("reading top scores", err)
	}

	records := make([]domain.ScoreRecord, 0, len(docs))
	for _, doc := range docs {
		records = append(records, *doc.record())
	}
	return records, nil
}

// FindIdentity returns the identity stored under subjectID
func (s *Store) FindIdentity(ctx context.Context, subjectID string) (*domain.UserIdentity, error) {
	var doc userDocument
	err := s.users.FindOne(ctx, bson.D{{Key: "google_id", Value: subjectID}}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, domain.ErrNotFound
		}
		return nil, classify("finding identity", err)
	}
	return &domain.UserIdentity{
		SubjectID:   doc.GoogleID,
		Email:       doc.Email,
		DisplayName: doc.Name,
		LastLogin:   doc.LastLogin.UTC(),
	}, nil
}

// InsertIdentity stores a new identity
func (s *Store) InsertIdentity(ctx context.Context, identity domain.UserIdentity) error {
	_, err := s.users.InsertOne(ctx, userDocument{
		GoogleID:  identity.SubjectID,
		Email:     identity.Email,
		Name:      identity.DisplayName,
		LastLogin: identity.LastLogin,
	})
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return domain.ErrDuplicateKey
		}
		return classify("inserting identity", err)
	}
	return nil
}

// UpdateIdentityLogin refreshes display name and last login
func (s *Store) UpdateIdentityLogin(ctx context.Context, subjectID, displayName string, lastLogin time.Time) error {
	result, err := s.users.UpdateOne(ctx,
		bson.D{{Key: "google_id", Value: subjectID}},
		bson.D{{Key: "$set", Value: bson.D{
			{Key: "name", Value: displayName},
			{Key: "last_login", Value: lastLogin},
		}}},
	)
	if err != nil {
		return classify("updating identity", err)
	}
	if result.MatchedCount == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func classify(op string, err error) error {
	return store.Classify(op, err, func(err error) bool {
		return mongo.IsTimeout(err) || mongo.IsNetworkError(err) || errors.Is(err, mongo.ErrClientDisconnected)
	})
}
