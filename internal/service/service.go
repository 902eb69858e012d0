package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/escape-exam/score-service/internal/config"
	"github.com/escape-exam/score-service/internal/domain"
	"github.com/escape-exam/score-service/internal/metrics"
)

// Ledger applies score submissions
type Ledger interface {
	Submit(ctx context.Context, rawName, rawScore string) (domain.Outcome, error)
}

// View serves the ranked leaderboard
type View interface {
	Top(ctx context.Context, n int) ([]domain.LeaderboardEntry, error)
}

// Authenticator signs players in from an identity token
type Authenticator interface {
	SignIn(ctx context.Context, rawToken string) (domain.Profile, error)
}

// Broadcaster pushes leaderboard pages to live clients
type Broadcaster interface {
	BroadcastLeaderboard(entries []domain.LeaderboardEntry)
}

// BatchResult counts what a batch of submissions did
type BatchResult struct {
	Created  int
	Updated  int
	Rejected int
	Invalid  int
	Failed   int
}

// ScoreService provides the operations the HTTP and stream front ends share
type ScoreService struct {
	ledger      Ledger
	view        View
	auth        Authenticator
	broadcaster Broadcaster
	config      *config.LeaderboardConfig
	metrics     *metrics.Manager
	logger      *slog.Logger
}

// NewScoreService creates the service. broadcaster may be nil.
func NewScoreService(
	ledger Ledger,
	view View,
	auth Authenticator,
	broadcaster Broadcaster,
	cfg *config.LeaderboardConfig,
	metrics *metrics.Manager,
	logger *slog.Logger,
) *ScoreService {
	return &ScoreService{
		ledger:      ledger,
		view:        view,
		auth:        auth,
		broadcaster: broadcaster,
		config:      cfg,
		metrics:     metrics,
		logger:      logger,
	}
}

// Submit applies a decoded submission. A Created or Updated outcome pushes the
// new top page to live clients.
func (s *ScoreService) Submit(ctx context.Context, submission domain.ScoreSubmission) (domain.Outcome, error) {
	name, score, err := submission.Raw()
	if err != nil {
		s.metrics.RecordSubmission("invalid")
		return domain.Outcome{}, err
	}

	outcome, err := s.ledger.Submit(ctx, name, score)
	if err != nil {
		if errors.Is(err, domain.ErrValidation) {
			s.metrics.RecordSubmission("invalid")
			return domain.Outcome{}, err
		}
		s.metrics.RecordSubmission("failed")
		s.recordStoreError(err)
		s.logger.Error("failed to submit score", "name", name, "error", err)
		return domain.Outcome{}, err
	}

	s.metrics.RecordSubmission(outcome.Kind.String())
	s.logger.Info("score submitted", "name", name, "score", score, "outcome", outcome.Kind.String())

	if outcome.Changed() {
		s.publishTop(ctx)
	}
	return outcome, nil
}

// SubmitBatch applies submissions in order and keeps going past failures.
// The returned error joins the store failures.
func (s *ScoreService) SubmitBatch(ctx context.Context, submissions []domain.ScoreSubmission) (BatchResult, error) {
	var (
		result BatchResult
		errs   []error
	)
	for i, submission := range submissions {
		outcome, err := s.Submit(ctx, submission)
		switch {
		case errors.Is(err, domain.ErrValidation):
			result.Invalid++
		case err != nil:
			result.Failed++
			errs = append(errs, fmt.Errorf("submission %d: %w", i, err))
		default:
			switch outcome.Kind {
			case domain.OutcomeCreated:
				result.Created++
			case domain.OutcomeUpdated:
				result.Updated++
			case domain.OutcomeRejected:
				result.Rejected++
			}
		}
	}
	return result, errors.Join(errs...)
}

// Leaderboard returns the top n entries; n is capped at the configured maximum
func (s *ScoreService) Leaderboard(ctx context.Context, n int) ([]domain.LeaderboardEntry, error) {
	if n > s.config.MaxLimit {
		n = s.config.MaxLimit
	}

	s.metrics.RecordLeaderboardQuery()
	entries, err := s.view.Top(ctx, n)
	if err != nil {
		s.recordStoreError(err)
		s.logger.Error("failed to fetch leaderboard", "limit", n, "error", err)
		return nil, err
	}
	return entries, nil
}

// DefaultLeaderboard returns the default-sized top page
func (s *ScoreService) DefaultLeaderboard(ctx context.Context) ([]domain.LeaderboardEntry, error) {
	return s.Leaderboard(ctx, s.config.DefaultLimit)
}

// SignIn verifies an identity token and records the player
func (s *ScoreService) SignIn(ctx context.Context, rawToken string) (domain.Profile, error) {
	profile, err := s.auth.SignIn(ctx, rawToken)
	switch {
	case err == nil:
		s.metrics.RecordSignIn("ok")
		s.logger.Info("player signed in", "account", profile.Account)
	case errors.Is(err, domain.ErrCapabilityUnavailable):
		s.metrics.RecordSignIn("unavailable")
	case errors.Is(err, domain.ErrIdentityVerificationFailed), errors.Is(err, domain.ErrInvalidRequest):
		s.metrics.RecordSignIn("rejected")
		s.logger.Warn("identity token rejected", "error", err)
	default:
		s.metrics.RecordSignIn("failed")
		s.recordStoreError(err)
		s.logger.Error("failed to record sign-in", "error", err)
	}
	return profile, err
}

func (s *ScoreService) publishTop(ctx context.Context) {
	if s.broadcaster == nil {
		return
	}
	entries, err := s.view.Top(ctx, s.config.DefaultLimit)
	if err != nil {
		s.logger.Warn("failed to load leaderboard for broadcast", "error", err)
		return
	}
	s.broadcaster.BroadcastLeaderboard(entries)
	s.metrics.RecordBroadcast()
}

func (s *ScoreService) recordStoreError(err error) {
	switch {
	case errors.Is(err, domain.ErrStoreUnavailable):
		s.metrics.RecordStoreError(metrics.KindUnavailable)
	case errors.Is(err, domain.ErrStoreOperationFailed):
		s.metrics.RecordStoreError(metrics.KindOperation)
	}
}
