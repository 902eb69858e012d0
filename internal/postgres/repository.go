package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/escape-exam/score-service/internal/config"
	"github.com/escape-exam/score-service/internal/domain"
	"github.com/escape-exam/score-service/internal/store"
)

const uniqueViolation = "23505"

// Repository provides PostgreSQL-based score and identity storage
type Repository struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewRepository creates a new PostgreSQL repository
func NewRepository(ctx context.Context, cfg *config.PostgresConfig, logger *slog.Logger) (*Repository, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.ConnectionString())
	if err != nil {
		return nil, fmt.Errorf("parsing connection string: %w", err)
	}

	poolConfig.MaxConns = int32(cfg.MaxConnections)
	poolConfig.MinConns = int32(cfg.MinConnections)
	poolConfig.MaxConnLifetime = cfg.MaxConnLifetime
	poolConfig.MaxConnIdleTime = cfg.MaxConnIdleTime

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	// Test connection
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, classify("connecting to database", err)
	}

	return &Repository{
		pool:   pool,
		logger: logger,
	}, nil
}

// Close closes the database connection pool
func (r *Repository) Close() error {
	r.pool.Close()
	return nil
}

// Ping checks that the database answers
func (r *Repository) Ping(ctx context.Context) error {
	return classify("pinging database", r.pool.Ping(ctx))
}

// RunMigrations executes database migrations
func (r *Repository) RunMigrations(ctx context.Context) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS scores (
			id BIGSERIAL PRIMARY KEY,
			name VARCHAR(50) NOT NULL UNIQUE,
			score BIGINT NOT NULL CHECK (score >= 0),
			recorded_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS users (
			id BIGSERIAL PRIMARY KEY,
			subject_id VARCHAR(255) NOT NULL UNIQUE,
			email VARCHAR(320) NOT NULL,
			display_name VARCHAR(255) NOT NULL,
			last_login TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_scores_rank ON scores(score DESC, recorded_at ASC)`,
	}

	for _, migration := range migrations {
		_, err := r.pool.Exec(ctx, migration)
		if err != nil {
			return classify("executing migration", err)
		}
	}

	r.logger.Info("database migrations completed")
	return nil
}

// FindScore retrieves the record stored under name
func (r *Repository) FindScore(ctx context.Context, name string) (*domain.ScoreRecord, error) {
	query := `SELECT id, name, score, recorded_at FROM scores WHERE name = $1`

	var (
		rec domain.ScoreRecord
		id  int64
	)
	err := r.pool.QueryRow(ctx, query, name).Scan(&id, &rec.PlayerName, &rec.Score, &rec.RecordedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, classify("finding score", err)
	}
	rec.ID = strconv.FormatInt(id, 10)
	rec.RecordedAt = rec.RecordedAt.UTC()
	return &rec, nil
}

// InsertScore inserts a record unless the name already has one
func (r *Repository) InsertScore(ctx context.Context, rec domain.ScoreRecord) (string, error) {
	query := `
		INSERT INTO scores (name, score, recorded_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (name) DO NOTHING
		RETURNING id
	`
	var id int64
	err := r.pool.QueryRow(ctx, query, rec.PlayerName, rec.Score, rec.RecordedAt).Scan(&id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) || isUniqueViolation(err) {
			return "", domain.ErrDuplicateKey
		}
		return "", classify("inserting score", err)
	}
	return strconv.FormatInt(id, 10), nil
}

// UpdateScoreIfHigher replaces score and recorded_at only when the stored score is lower
func (r *Repository) UpdateScoreIfHigher(ctx context.Context, name string, score int64, recordedAt time.Time) (bool, error) {
	query := `UPDATE scores SET score = $2, recorded_at = $3 WHERE name = $1 AND score < $2`
	result, err := r.pool.Exec(ctx, query, name, score, recordedAt)
	if err != nil {
		return false, classify("updating score", err)
	}
	return result.RowsAffected() > 0, nil
}

// TopScores retrieves the highest scores, earliest first among ties
func (r *Repository) TopScores(ctx context.Context, limit int) ([]domain.ScoreRecord, error) {
	query := `
		SELECT id, name, score, recorded_at
		FROM scores
		ORDER BY score DESC, recorded_at ASC, name ASC
		LIMIT $1
	`
	rows, err := r.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, classify("listing top scores", err)
	}
	defer rows.Close()

	records := make([]domain.ScoreRecord, 0, limit)
	for rows.Next() {
		var (
			rec domain.ScoreRecord
			id  int64
		)
		if err := rows.Scan(&id, &rec.PlayerName, &rec.Score, &rec.RecordedAt); err != nil {
			return nil, classify("scanning score", err)
		}
		rec.ID = strconv.FormatInt(id, 10)
		rec.RecordedAt = rec.RecordedAt.UTC()
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("listing top scores", err)
	}
	return records, nil
}

// FindIdentity retrieves an identity by subject id
func (r *Repository) FindIdentity(ctx context.Context, subjectID string) (*domain.UserIdentity, error) {
	query := `SELECT subject_id, email, display_name, last_login FROM users WHERE subject_id = $1`

	var identity domain.UserIdentity
	err := r.pool.QueryRow(ctx, query, subjectID).Scan(
		&identity.SubjectID,
		&identity.Email,
		&identity.DisplayName,
		&identity.LastLogin,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, classify("finding identity", err)
	}
	identity.LastLogin = identity.LastLogin.UTC()
	return &identity, nil
}

// InsertIdentity inserts a new identity
func (r *Repository) InsertIdentity(ctx context.Context, identity domain.UserIdentity) error {
	query := `
		INSERT INTO users (subject_id, email, display_name, last_login)
		VALUES ($1, $2, $3, $4)
	`
	_, err := r.pool.Exec(ctx, query, identity.SubjectID, identity.Email, identity.DisplayName, identity.LastLogin)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrDuplicateKey
		}
		return classify("inserting identity", err)
	}
	return nil
}

// UpdateIdentityLogin refreshes display name and last login
func (r *Repository) UpdateIdentityLogin(ctx context.Context, subjectID, displayName string, lastLogin time.Time) error {
	query := `UPDATE users SET display_name = $2, last_login = $3 WHERE subject_id = $1`
	result, err := r.pool.Exec(ctx, query, subjectID, displayName, lastLogin)
	if err != nil {
		return classify("updating identity", err)
	}
	if result.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func classify(op string, err error) error {
	return store.Classify(op, err, isUnavailable)
}

// isUnavailable reports driver errors that mean the database could not be reached
func isUnavailable(err error) bool {
	var connectErr *pgconn.ConnectError
	if errors.As(err, &connectErr) {
		return true
	}
	return pgconn.Timeout(err)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}
