package main

import (
	"flag"
	"fmt"
	"log/slog"
	"math/rand"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/escape-exam/score-service/internal/config"
	"github.com/escape-exam/score-service/internal/kafka"
)

var firstNames = []string{
	"Ada", "Alan", "Barbara", "Claude", "Dennis", "Edsger", "Frances", "Grace", "Hedy", "Ivan",
	"John", "Ken", "Linus", "Margaret", "Niklaus", "Radia", "Rob", "Shafi", "Tim", "Yukihiro",
}

func playerName(idx int) string {
	return fmt.Sprintf("%s%d", firstNames[idx%len(firstNames)], idx/len(firstNames)+1)
}

// randomScore returns mostly low scores with an occasional high one
func randomScore() int64 {
	if rand.Intn(100) < 10 {
		return int64(rand.Intn(4000) + 6000)
	}
	return int64(rand.Intn(3000) + 100)
}

// maxRate keeps the tick interval at one microsecond or more
const maxRate = 1_000_000

// tickInterval returns the publish period for rate messages per second
func tickInterval(rate int) (time.Duration, error) {
	if rate <= 0 || rate > maxRate {
		return 0, fmt.Errorf("rate must be between 1 and %d, got %d", maxRate, rate)
	}
	return time.Second / time.Duration(rate), nil
}

func main() {
	brokers := flag.String("brokers", "localhost:9094", "Kafka brokers (comma-separated)")
	topic := flag.String("topic", "exam-scores", "Kafka topic")
	totalPlayers := flag.Int("players", 200, "Number of distinct players")
	rate := flag.Int("rate", 50, "Messages per second")
	duration := flag.Duration("duration", 0, "Duration to run (0 = until interrupted)")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))

	interval, err := tickInterval(*rate)
	if err != nil {
		logger.Error("invalid rate", "error", err)
		os.Exit(2)
	}
	if *totalPlayers <= 0 {
		logger.Error("players must be positive")
		os.Exit(2)
	}

	cfg := config.DefaultConfig().Kafka
	cfg.Brokers = strings.Split(*brokers, ",")
	cfg.Topic = *topic

	producer, err := kafka.NewProducer(&cfg)
	if err != nil {
		logger.Error("failed to create producer", "error", err)
		os.Exit(1)
	}
	defer producer.Close()

	logger.Info("publishing scores",
		"brokers", cfg.Brokers,
		"topic", cfg.Topic,
		"players", *totalPlayers,
		"rate", *rate,
	)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	statsTicker := time.NewTicker(5 * time.Second)
	defer statsTicker.Stop()

	var deadline <-chan time.Time
	if *duration > 0 {
		deadline = time.After(*duration)
	}

	var sent, failed int
	report := func() {
		logger.Info("producer stats", "sent", sent, "errors", failed)
	}

	for {
		select {
		case <-sigChan:
			logger.Info("interrupted, shutting down")
			report()
			return

		case <-deadline:
			logger.Info("duration reached, shutting down")
			report()
			return

		case <-ticker.C:
			msg := kafka.ScoreMessage{
				Name:  playerName(rand.Intn(*totalPlayers)),
				Score: randomScore(),
			}
			if _, _, err := producer.Publish(msg); err != nil {
				failed++
				logger.Warn("publish failed", "name", msg.Name, "error", err)
				continue
			}
			sent++

		case <-statsTicker.C:
			report()
		}
	}
}
