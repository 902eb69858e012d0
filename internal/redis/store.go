package redis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/escape-exam/score-service/internal/config"
	"github.com/escape-exam/score-service/internal/domain"
	"github.com/escape-exam/score-service/internal/store"
)

const rankingKey = "leaderboard:scores"

// insertScoreScript creates the score hash and ranks it unless the name is taken
var insertScoreScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then
	return 0
end
redis.call('HSET', KEYS[1], 'id', ARGV[1], 'name', ARGV[2], 'score', ARGV[3], 'recorded_at', ARGV[4])
redis.call('ZADD', KEYS[2], ARGV[3], ARGV[2])
return 1
`)

// updateIfHigherScript replaces score and recorded_at when the stored score is lower
var updateIfHigherScript = redis.NewScript(`
local current = redis.call('HGET', KEYS[1], 'score')
if not current then
	return 0
end
if tonumber(current) >= tonumber(ARGV[1]) then
	return 0
end
redis.call('HSET', KEYS[1], 'score', ARGV[1], 'recorded_at', ARGV[2])
redis.call('ZADD', KEYS[2], ARGV[1], ARGV[3])
return 1
`)

// insertIdentityScript writes the identity hash unless the subject exists
var insertIdentityScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then
	return 0
end
redis.call('HSET', KEYS[1], 'subject_id', ARGV[1], 'email', ARGV[2], 'display_name', ARGV[3], 'last_login', ARGV[4])
return 1
`)

// updateIdentityScript refreshes an existing identity
var updateIdentityScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
	return 0
end
redis.call('HSET', KEYS[1], 'display_name', ARGV[1], 'last_login', ARGV[2])
return 1
`)

// Store provides Redis-based score and identity storage. Each player is a
// hash; the sorted set ranks names by score.
type Store struct {
	client *redis.Client
	logger *slog.Logger
}

// NewStore creates a new Redis store
func NewStore(ctx context.Context, cfg *config.RedisConfig, logger *slog.Logger) (*Store, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	// Test connection
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, classify("connecting to redis", err)
	}

	return &Store{
		client: client,
		logger: logger,
	}, nil
}

// Close closes the Redis connection
func (s *Store) Close() error {
	return s.client.Close()
}

// Ping checks that Redis answers
func (s *Store) Ping(ctx context.Context) error {
	return classify("pinging redis", s.client.Ping(ctx).Err())
}

// scoreKey returns the Redis key for a player's score hash
func scoreKey(name string) string {
	return fmt.Sprintf("score:%s", name)
}

// userKey returns the Redis key for an identity hash
func userKey(subjectID string) string {
	return fmt.Sprintf("user:%s", subjectID)
}

// FindScore returns the record stored under name
func (s *Store) FindScore(ctx context.Context, name string) (*domain.ScoreRecord, error) {
	fields, err := s.client.HGetAll(ctx, scoreKey(name)).Result()
	if err != nil {
		return nil, classify("finding score", err)
	}
	if len(fields) == 0 {
		return nil, domain.ErrNotFound
	}
	rec, err := parseScore(fields)
	if err != nil {
		return nil, domain.OperationFailed("finding score", err)
	}
	return rec, nil
}

// InsertScore creates a record unless the name already has one
func (s *Store) InsertScore(ctx context.Context, rec domain.ScoreRecord) (string, error) {
	id := uuid.NewString()
	created, err := insertScoreScript.Run(ctx, s.client,
		[]string{scoreKey(rec.PlayerName), rankingKey},
		id, rec.PlayerName, rec.Score, rec.RecordedAt.UnixMilli(),
	).Int()
	if err != nil {
		return "", classify("inserting score", err)
	}
	if created == 0 {
		return "", domain.ErrDuplicateKey
	}
	return id, nil
}

// UpdateScoreIfHigher replaces score and recorded_at only when the stored score is lower
func (s *Store) UpdateScoreIfHigher(ctx context.Context, name string, score int64, recordedAt time.Time) (bool, error) {
	updated, err := updateIfHigherScript.Run(ctx, s.client,
		[]string{scoreKey(name), rankingKey},
		score, recordedAt.UnixMilli(), name,
	).Int()
	if err != nil {
		return false, classify("updating score", err)
	}
	return updated == 1, nil
}

// TopScores returns the highest scores. The sorted set orders ties by name,
// so every member tied with the last score on the page is loaded and the
// page is re-ranked by recorded_at.
func (s *Store) TopScores(ctx context.Context, limit int) ([]domain.ScoreRecord, error) {
	if limit <= 0 {
		return []domain.ScoreRecord{}, nil
	}

	page, err := s.client.ZRevRangeWithScores(ctx, rankingKey, 0, int64(limit-1)).Result()
	if err != nil {
		return nil, classify("listing top scores", err)
	}
	if len(page) == 0 {
		return []domain.ScoreRecord{}, nil
	}

	names := make([]string, 0, len(page))
	lowest := page[len(page)-1].Score
	for _, z := range page {
		if z.Score > lowest {
			names = append(names, z.Member.(string))
		}
	}
	boundary := strconv.FormatFloat(lowest, 'f', -1, 64)
	tied, err := s.client.ZRangeByScore(ctx, rankingKey, &redis.ZRangeBy{Min: boundary, Max: boundary}).Result()
	if err != nil {
		return nil, classify("listing tied scores", err)
	}
	names = append(names, tied...)

	pipe := s.client.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(names))
	for i, name := range names {
		cmds[i] = pipe.HGetAll(ctx, scoreKey(name))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, classify("loading top scores", err)
	}

	hashes := make([]map[string]string, len(cmds))
	for i, cmd := range cmds {
		hashes[i] = cmd.Val()
	}
	records, err := rankedMembers(names, hashes)
	if err != nil {
		return nil, domain.OperationFailed("loading top scores", err)
	}
	return rankRecords(records, limit), nil
}

// rankedMembers decodes the score hash of every ranked member. A ranked
// member without a hash is an error.
func rankedMembers(names []string, hashes []map[string]string) ([]domain.ScoreRecord, error) {
	records := make([]domain.ScoreRecord, 0, len(names))
	for i, fields := range hashes {
		if len(fields) == 0 {
			return nil, fmt.Errorf("score hash missing for ranked member %q", names[i])
		}
		rec, err := parseScore(fields)
		if err != nil {
			return nil, err
		}
		records = append(records, *rec)
	}
	return records, nil
}

// rankRecords orders by score descending, then recorded_at and name, and keeps limit
func rankRecords(records []domain.ScoreRecord, limit int) []domain.ScoreRecord {
	sort.Slice(records, func(i, j int) bool {
		if records[i].Score != records[j].Score {
			return records[i].Score > records[j].Score
		}
		if !records[i].RecordedAt.Equal(records[j].RecordedAt) {
			return records[i].RecordedAt.Before(records[j].RecordedAt)
		}
		return records[i].PlayerName < records[j].PlayerName
	})
	if limit < len(records) {
		records = records[:limit]
	}
	return records
}

// FindIdentity returns the identity stored under subjectID
func (s *Store) FindIdentity(ctx context.Context, subjectID string) (*domain.UserIdentity, error) {
	fields, err := s.client.HGetAll(ctx, userKey(subjectID)).Result()
	if err != nil {
		return nil, classify("finding identity", err)
	}
	if len(fields) == 0 {
		return nil, domain.ErrNotFound
	}

	lastLogin, err := parseMillis(fields["last_login"])
	if err != nil {
		return nil, domain.OperationFailed("finding identity", err)
	}
	return &domain.UserIdentity{
		SubjectID:   fields["subject_id"],
		Email:       fields["email"],
		DisplayName: fields["display_name"],
		LastLogin:   lastLogin,
	}, nil
}

// InsertIdentity stores a new identity
func (s *Store) InsertIdentity(ctx context.Context, identity domain.UserIdentity) error {
	created, err := insertIdentityScript.Run(ctx, s.client,
		[]string{userKey(identity.SubjectID)},
		identity.SubjectID, identity.Email, identity.DisplayName, identity.LastLogin.UnixMilli(),
	).Int()
	if err != nil {
		return classify("inserting identity", err)
	}
	if created == 0 {
		return domain.ErrDuplicateKey
	}
	return nil
}

// UpdateIdentityLogin refreshes display name and last login
func (s *Store) UpdateIdentityLogin(ctx context.Context, subjectID, displayName string, lastLogin time.Time) error {
	updated, err := updateIdentityScript.Run(ctx, s.client,
		[]string{userKey(subjectID)},
		displayName, lastLogin.UnixMilli(),
	).Int()
	if err != nil {
		return classify("updating identity", err)
	}
	if updated == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func parseScore(fields map[string]string) (*domain.ScoreRecord, error) {
	score, err := strconv.ParseInt(fields["score"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("parsing score: %w", err)
	}
	recordedAt, err := parseMillis(fields["recorded_at"])
	if err != nil {
		return nil, err
	}
	return &domain.ScoreRecord{
		ID:         fields["id"],
		PlayerName: fields["name"],
		Score:      score,
		RecordedAt: recordedAt,
	}, nil
}

func parseMillis(v string) (time.Time, error) {
	ms, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing timestamp: %w", err)
	}
	return time.UnixMilli(ms).UTC(), nil
}

func classify(op string, err error) error {
	return store.Classify(op, err, func(err error) bool {
		return errors.Is(err, redis.ErrClosed)
	})
}
