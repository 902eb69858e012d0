package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/IBM/sarama"

	"github.com/escape-exam/score-service/internal/config"
	"github.com/escape-exam/score-service/internal/domain"
	"github.com/escape-exam/score-service/internal/metrics"
	"github.com/escape-exam/score-service/internal/service"
)

// BatchSubmitter applies a batch of decoded submissions
type BatchSubmitter interface {
	SubmitBatch(ctx context.Context, submissions []domain.ScoreSubmission) (service.BatchResult, error)
}

// Consumer feeds score messages from Kafka into the ledger. Messages are
// applied in batches; a batch is committed only after it was applied or
// dropped.
type Consumer struct {
	config    *config.KafkaConfig
	submitter BatchSubmitter
	metrics   *metrics.Manager
	logger    *slog.Logger
	group     sarama.ConsumerGroup

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewConsumer joins the configured consumer group
func NewConsumer(cfg *config.KafkaConfig, submitter BatchSubmitter, m *metrics.Manager, logger *slog.Logger) (*Consumer, error) {
	saramaConfig := sarama.NewConfig()
	saramaConfig.Version = sarama.V3_0_0_0
	saramaConfig.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{sarama.NewBalanceStrategySticky()}
	saramaConfig.Consumer.Offsets.Initial = sarama.OffsetOldest
	saramaConfig.Consumer.Return.Errors = true

	group, err := sarama.NewConsumerGroup(cfg.Brokers, cfg.GroupID, saramaConfig)
	if err != nil {
		return nil, fmt.Errorf("joining consumer group %s: %w", cfg.GroupID, err)
	}

	return newConsumer(cfg, submitter, m, logger, group), nil
}

func newConsumer(cfg *config.KafkaConfig, submitter BatchSubmitter, m *metrics.Manager, logger *slog.Logger, group sarama.ConsumerGroup) *Consumer {
	ctx, cancel := context.WithCancel(context.Background())
	return &Consumer{
		config:    cfg,
		submitter: submitter,
		metrics:   m,
		logger:    logger.With("topic", cfg.Topic, "group_id", cfg.GroupID),
		group:     group,
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Start runs the consume loop in the background and returns once the first
// session has been set up. If a session fails first, the consumer is stopped
// and that error returned.
func (c *Consumer) Start() error {
	c.logger.Info("starting kafka consumer", "brokers", c.config.Brokers)

	ready := make(chan struct{})
	var once sync.Once
	handler := &batchHandler{
		consumer: c,
		onSetup:  func() { once.Do(func() { close(ready) }) },
	}

	failed := make(chan error, 1)

	c.wg.Add(2)
	go func() {
		defer c.wg.Done()
		// Consume returns on every rebalance and has to be called again
		for c.ctx.Err() == nil {
			err := c.group.Consume(c.ctx, []string{c.config.Topic}, handler)
			if errors.Is(err, sarama.ErrClosedConsumerGroup) {
				return
			}
			if err == nil {
				continue
			}
			c.logger.Error("consume session ended", "error", err)
			select {
			case failed <- err:
			default:
			}
			select {
			case <-time.After(c.config.RetryDelay):
			case <-c.ctx.Done():
			}
		}
	}()
	go func() {
		defer c.wg.Done()
		for {
			select {
			case <-c.ctx.Done():
				return
			case err, ok := <-c.group.Errors():
				if !ok {
					return
				}
				c.logger.Error("consumer group error", "error", err)
			}
		}
	}()

	select {
	case <-ready:
		c.logger.Info("kafka consumer ready")
		return nil
	case err := <-failed:
		_ = c.Stop()
		return fmt.Errorf("starting consumer: %w", err)
	case <-c.ctx.Done():
		return c.ctx.Err()
	}
}

// Stop ends the consume loop and leaves the group
func (c *Consumer) Stop() error {
	c.logger.Info("stopping kafka consumer")
	c.cancel()
	c.wg.Wait()
	return c.group.Close()
}

// batchHandler implements sarama.ConsumerGroupHandler
type batchHandler struct {
	consumer *Consumer
	onSetup  func()
}

func (h *batchHandler) Setup(sarama.ConsumerGroupSession) error {
	if h.onSetup != nil {
		h.onSetup()
	}
	return nil
}

func (h *batchHandler) Cleanup(sarama.ConsumerGroupSession) error {
	return nil
}

// ConsumeClaim collects submissions into batches bounded by size and time.
// Offsets are marked only after the batch holding the message was applied.
func (h *batchHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	c := h.consumer
	cfg := c.config
	batch := make([]domain.ScoreSubmission, 0, cfg.BatchSize)
	var last *sarama.ConsumerMessage

	batchTimer := time.NewTimer(cfg.BatchTimeout)
	defer batchTimer.Stop()

	processBatch := func() {
		if last == nil {
			return
		}
		settled := len(batch) == 0 || c.apply(batch)
		if settled {
			session.MarkMessage(last, "")
		} else {
			c.logger.Warn("batch interrupted, leaving offset for redelivery",
				"batch_size", len(batch),
				"offset", last.Offset,
				"partition", last.Partition,
			)
		}
		batch = batch[:0]
		last = nil
	}

	for {
		select {
		case <-session.Context().Done():
			processBatch()
			return nil

		case <-batchTimer.C:
			processBatch()
			batchTimer.Reset(cfg.BatchTimeout)

		case message, ok := <-claim.Messages():
			if !ok {
				processBatch()
				return nil
			}
			last = message

			var submission domain.ScoreSubmission
			if err := json.Unmarshal(message.Value, &submission); err != nil {
				c.logger.Warn("failed to unmarshal message",
					"error", err,
					"offset", message.Offset,
					"partition", message.Partition,
				)
				c.metrics.RecordIngested("malformed", 1)
				continue
			}

			batch = append(batch, submission)
			if len(batch) >= cfg.BatchSize {
				processBatch()
				batchTimer.Reset(cfg.BatchTimeout)
			}
		}
	}
}

// apply submits a batch, retrying while the store reports failures. It
// reports false when shutdown interrupted the retries before the batch was
// applied or dropped.
func (c *Consumer) apply(batch []domain.ScoreSubmission) bool {
	for attempt := 0; ; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		result, err := c.submitter.SubmitBatch(ctx, batch)
		cancel()

		if err == nil {
			c.metrics.RecordIngested("applied", len(batch))
			c.logger.Debug("processed batch",
				"batch_size", len(batch),
				"created", result.Created,
				"updated", result.Updated,
				"rejected", result.Rejected,
				"invalid", result.Invalid,
			)
			return true
		}

		if attempt >= c.config.RetryAttempts {
			c.metrics.RecordIngested("dropped", len(batch))
			c.logger.Error("failed to process batch, dropping",
				"error", err,
				"batch_size", len(batch),
				"failed", result.Failed,
			)
			return true
		}

		c.logger.Warn("retrying batch", "error", err, "attempt", attempt+1, "failed", result.Failed)
		select {
		case <-time.After(c.config.RetryDelay):
		case <-c.ctx.Done():
			return false
		}
	}
}
