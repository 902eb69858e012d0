package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/escape-exam/score-service/internal/auth"
	"github.com/escape-exam/score-service/internal/config"
	"github.com/escape-exam/score-service/internal/domain"
	"github.com/escape-exam/score-service/internal/handler"
	"github.com/escape-exam/score-service/internal/identity"
	"github.com/escape-exam/score-service/internal/kafka"
	"github.com/escape-exam/score-service/internal/leaderboard"
	"github.com/escape-exam/score-service/internal/ledger"
	"github.com/escape-exam/score-service/internal/metrics"
	"github.com/escape-exam/score-service/internal/mongo"
	"github.com/escape-exam/score-service/internal/postgres"
	"github.com/escape-exam/score-service/internal/redis"
	"github.com/escape-exam/score-service/internal/service"
	"github.com/escape-exam/score-service/internal/store"
	"github.com/escape-exam/score-service/internal/store/memory"
	"github.com/escape-exam/score-service/internal/websocket"
	"github.com/escape-exam/score-service/internal/worker"
)

func main() {
	configPath := flag.String("config", "config.yaml", "Path to configuration file")
	flag.Parse()

	// A .env file next to the binary may carry MONGODB_URI, GOOGLE_CLIENT_ID and PORT
	_ = godotenv.Load()

	// Load configuration before the logger so the level applies from the start
	cfg, loadErr := config.Load(*configPath)
	if loadErr != nil {
		cfg = config.DefaultConfig()
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLevel(cfg.Log.Level),
	}))
	slog.SetDefault(logger)
	if loadErr != nil {
		logger.Warn("failed to load config file, using defaults", "path", *configPath, "error", loadErr)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// A backend that cannot be reached at startup is replaced by one that
	// reports every call as unavailable; the process keeps serving.
	st, err := openStore(ctx, cfg, logger)
	if err != nil {
		logger.Warn("store not available, serving with a disconnected store",
			"driver", cfg.Store.Driver,
			"error", err,
		)
		st = store.Unavailable(err)
	}
	defer st.Close()

	metricsManager := metrics.NewManager()

	var verifier auth.Verifier = auth.Unconfigured()
	if cfg.Auth.Enabled() {
		verifier = auth.NewGoogleVerifier(&cfg.Auth, nil)
		logger.Info("google sign-in enabled")
	} else {
		logger.Info("google sign-in disabled, no client id configured")
	}

	view := leaderboard.NewView(st)

	wsHub := websocket.NewHub(logger, func(ctx context.Context) ([]domain.LeaderboardEntry, error) {
		return view.Top(ctx, cfg.Leaderboard.DefaultLimit)
	}, cfg.CORS.AllowedOrigins)
	go wsHub.Run()
	logger.Info("WebSocket hub initialized")

	scoreService := service.NewScoreService(
		ledger.New(st),
		view,
		auth.NewAuthenticator(verifier, identity.NewService(st)),
		wsHub,
		&cfg.Leaderboard,
		metricsManager,
		logger,
	)

	healthMonitor := worker.NewHealthMonitor(st, &cfg.Health, metricsManager, logger)
	if err := healthMonitor.Start(ctx); err != nil {
		logger.Error("failed to start health monitor", "error", err)
		os.Exit(1)
	}

	// Kafka ingestion is optional; the HTTP API works without it
	var kafkaConsumer *kafka.Consumer
	if cfg.Kafka.Enabled {
		logger.Info("initializing Kafka consumer",
			"brokers", cfg.Kafka.Brokers,
			"topic", cfg.Kafka.Topic,
		)
		kafkaConsumer, err = kafka.NewConsumer(&cfg.Kafka, scoreService, metricsManager, logger)
		if err != nil {
			logger.Warn("failed to create Kafka consumer, continuing without Kafka", "error", err)
			kafkaConsumer = nil
		} else if err := kafkaConsumer.Start(); err != nil {
			logger.Warn("failed to start Kafka consumer, continuing without Kafka", "error", err)
			kafkaConsumer = nil
		}
	}

	httpHandler := handler.NewHandler(scoreService, healthMonitor, wsHub, metricsManager, &cfg.CORS, logger)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      httpHandler.Router(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		logger.Info("starting HTTP server", "port", cfg.Server.Port, "store", cfg.Store.Driver)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("HTTP server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if kafkaConsumer != nil {
		if err := kafkaConsumer.Stop(); err != nil {
			logger.Error("failed to stop Kafka consumer", "error", err)
		}
	}

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("failed to shutdown server", "error", err)
	}

	wsHub.Stop()

	if err := healthMonitor.Stop(); err != nil {
		logger.Error("failed to stop health monitor", "error", err)
	}

	logger.Info("server stopped")
}

// openStore connects the configured backend and prepares its schema
func openStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (store.Store, error) {
	ctx, cancel := context.WithTimeout(ctx, cfg.Store.ConnectTimeout)
	defer cancel()

	switch cfg.Store.Driver {
	case config.DriverMongo:
		logger.Info("connecting to MongoDB", "database", cfg.Mongo.Database)
		s, err := mongo.NewStore(ctx, &cfg.Mongo, logger)
		if err != nil {
			return nil, err
		}
		if err := s.EnsureIndexes(ctx); err != nil {
			s.Close()
			return nil, err
		}
		return s, nil

	case config.DriverPostgres:
		logger.Info("connecting to PostgreSQL", "host", cfg.Postgres.Host, "database", cfg.Postgres.Database)
		r, err := postgres.NewRepository(ctx, &cfg.Postgres, logger)
		if err != nil {
			return nil, err
		}
		if err := r.RunMigrations(ctx); err != nil {
			r.Close()
			return nil, err
		}
		return r, nil

	case config.DriverRedis:
		logger.Info("connecting to Redis", "addr", cfg.Redis.Addr)
		s, err := redis.NewStore(ctx, &cfg.Redis, logger)
		if err != nil {
			return nil, err
		}
		return s, nil

	case config.DriverMemory:
		logger.Warn("using in-memory store, scores are lost on restart")
		return memory.New(), nil

	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
	}
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
