package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/IBM/sarama"

	"github.com/jittakal/kafwindowsink/internal/errors"
	"github.com/jittakal/kafwindowsink/internal/sink"
	"github.com/jittakal/kafwindowsink/pkg/record"
)

// Ensure implementation satisfies interface at compile time.
var _ sink.Quarantiner = (*QuarantinePublisher)(nil)

// QuarantineNotice is the message published when a window is quarantined.
// It carries enough context to locate the window's records for manual
// inspection and replay.
type QuarantineNotice struct {
	WindowStart      time.Time `json:"window_start"`
	WindowEnd        time.Time `json:"window_end"`
	Reason           string    `json:"reason"`
	Cause            string    `json:"cause"`
	FailureTimestamp time.Time `json:"failure_timestamp"`
	SinkID           string    `json:"sink_id"`
}

// QuarantineConfig contains quarantine publisher configuration.
type QuarantineConfig struct {
	Enabled bool
	Topic   string
}

// QuarantinePublisher publishes quarantined-window notices to a Kafka topic.
type QuarantinePublisher struct {
	producer sarama.SyncProducer
	config   QuarantineConfig
	logger   *slog.Logger
	sinkID   string

	mu     sync.RWMutex
	closed bool
}

// NewQuarantinePublisher creates a quarantine publisher sharing the source's
// security configuration. When disabled it is a no-op.
func NewQuarantinePublisher(
	bootstrapServers []string,
	securityConfig SourceConfig,
	quarantineConfig QuarantineConfig,
	logger *slog.Logger,
	sinkID string,
) (*QuarantinePublisher, error) {
	if !quarantineConfig.Enabled {
		logger.Info("quarantine publishing is disabled")
		return &QuarantinePublisher{
			config: quarantineConfig,
			logger: logger,
			sinkID: sinkID,
			closed: true,
		}, nil
	}

	saramaConfig := sarama.NewConfig()
	saramaConfig.Version = sarama.V2_8_0_0
	saramaConfig.Producer.RequiredAcks = sarama.WaitForAll
	saramaConfig.Producer.Retry.Max = 5
	saramaConfig.Producer.Return.Successes = true
	saramaConfig.Producer.Return.Errors = true
	saramaConfig.Producer.Compression = sarama.CompressionSnappy
	saramaConfig.Producer.Idempotent = true
	saramaConfig.Net.MaxOpenRequests = 1

	if err := configureSecurity(saramaConfig, securityConfig); err != nil {
		return nil, fmt.Errorf("failed to configure security: %w", err)
	}

	producer, err := sarama.NewSyncProducer(bootstrapServers, saramaConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create sync producer: %w", err)
	}

	logger.Info("quarantine publisher created",
		"bootstrap_servers", bootstrapServers,
		"topic", quarantineConfig.Topic,
	)

	return &QuarantinePublisher{
		producer: producer,
		config:   quarantineConfig,
		logger:   logger,
		sinkID:   sinkID,
	}, nil
}

// Quarantine publishes a notice for a window whose emission failed with a
// data-class error.
func (p *QuarantinePublisher) Quarantine(ctx context.Context, id record.WindowID, reason string, cause error) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if !p.config.Enabled {
		p.logger.Debug("quarantine disabled, skipping publish",
			"window", id.String(), "reason", reason)
		return nil
	}

	if p.closed {
		return errors.ErrSourceClosed
	}

	causeText := ""
	if cause != nil {
		causeText = cause.Error()
	}

	notice := QuarantineNotice{
		WindowStart:      id.Start,
		WindowEnd:        id.End,
		Reason:           reason,
		Cause:            causeText,
		FailureTimestamp: time.Now().UTC(),
		SinkID:           p.sinkID,
	}

	data, err := json.Marshal(notice)
	if err != nil {
		return fmt.Errorf("failed to marshal quarantine notice: %w", err)
	}

	msg := &sarama.ProducerMessage{
		Topic: p.config.Topic,
		Key:   sarama.StringEncoder(id.String()),
		Value: sarama.ByteEncoder(data),
		Headers: []sarama.RecordHeader{
			{
				Key:   []byte("reason"),
				Value: []byte(reason),
			},
			{
				Key:   []byte("sink_id"),
				Value: []byte(p.sinkID),
			},
		},
		Timestamp: time.Now(),
	}

	partition, offset, err := p.producer.SendMessage(msg)
	if err != nil {
		p.logger.Error("failed to publish quarantine notice",
			"error", err,
			"topic", p.config.Topic,
			"window", id.String(),
		)
		return fmt.Errorf("failed to send quarantine notice: %w", err)
	}

	p.logger.Info("window quarantined",
		"topic", p.config.Topic,
		"partition", partition,
		"offset", offset,
		"window", id.String(),
		"reason", reason,
	)

	return nil
}

// Close closes the quarantine publisher.
func (p *QuarantinePublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}
	p.closed = true
	p.logger.Info("closing quarantine publisher")

	if p.producer != nil {
		if err := p.producer.Close(); err != nil {
			p.logger.Error("error closing producer", "error", err)
			return err
		}
	}
	return nil
}
