// Package kafka implements the Kafka record source and the quarantine
// publisher.
package kafka

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/IBM/sarama"
	"github.com/aws/aws-msk-iam-sasl-signer-go/signer"

	"github.com/jittakal/kafwindowsink/internal/errors"
	"github.com/jittakal/kafwindowsink/pkg/record"
	"github.com/jittakal/kafwindowsink/pkg/source"
)

// Ensure implementation satisfies interfaces at compile time.
var _ source.Source = (*SaramaSource)(nil)

// eventTimeHeader carries the record's event time as RFC3339Nano. Messages
// without it fall back to the broker timestamp.
const eventTimeHeader = "event-time"

// SourceConfig contains Kafka source configuration.
type SourceConfig struct {
	BootstrapServers    []string
	GroupID             string
	SecurityProtocol    string
	SASLMechanism       string
	SASLUsername        string
	SASLPassword        string
	AutoOffsetReset     string
	SessionTimeoutMS    int
	HeartbeatIntervalMS int
	MaxPollIntervalMS   int

	// MaxOutOfOrderness is subtracted from the maximum observed event time
	// to form the watermark, tolerating bounded event-time disorder.
	MaxOutOfOrderness time.Duration

	// WatermarkInterval is how often the watermark signal is emitted.
	WatermarkInterval time.Duration
}

// MetricsCollector defines metrics operations for the Kafka source.
type MetricsCollector interface {
	IncMessagesConsumed(topic string, partition int32)
	IncRebalances(groupID string)
	IncOffsetCommits(topic string, partition int32, status string)
	ObserveRebalanceDuration(groupID string, duration float64)
	SetPartitionsAssigned(topic string, count float64)
}

// SaramaSource implements source.Source on a Sarama consumer group.
//
// Offsets are marked only through the per-message Ack hook, so unemitted
// windows are redelivered after a restart: the group resumes from the last
// offset whose window was durably written.
//
// The watermark is generated source-side with bounded out-of-orderness:
// watermark = max observed event time - MaxOutOfOrderness, emitted on a
// fixed interval and never moving backward.
type SaramaSource struct {
	consumerGroup sarama.ConsumerGroup
	config        SourceConfig
	logger        *slog.Logger
	metrics       MetricsCollector
	topics        []string
	ready         chan bool

	// maxEventTime is unix nanos of the largest event time seen.
	maxEventTime atomic.Int64

	mu     sync.RWMutex
	closed bool
}

// NewSaramaSource creates a Kafka source using the Sarama library.
func NewSaramaSource(config SourceConfig, logger *slog.Logger, metrics MetricsCollector) (*SaramaSource, error) {
	saramaConfig := sarama.NewConfig()
	saramaConfig.Version = sarama.V2_8_0_0
	saramaConfig.Consumer.Group.Rebalance.Strategy = sarama.NewBalanceStrategyRoundRobin()
	saramaConfig.Consumer.Offsets.Initial = offsetInitial(config.AutoOffsetReset)
	// Offsets commit only via Ack after window emission.
	saramaConfig.Consumer.Offsets.AutoCommit.Enable = false

	saramaConfig.Consumer.Group.Session.Timeout = time.Duration(config.SessionTimeoutMS) * time.Millisecond
	saramaConfig.Consumer.Group.Heartbeat.Interval = time.Duration(config.HeartbeatIntervalMS) * time.Millisecond
	if config.MaxPollIntervalMS > 0 {
		saramaConfig.Consumer.MaxProcessingTime = time.Duration(config.MaxPollIntervalMS) * time.Millisecond
	} else {
		saramaConfig.Consumer.MaxProcessingTime = 5 * time.Minute
	}
	saramaConfig.Consumer.Return.Errors = true

	if err := configureSecurity(saramaConfig, config); err != nil {
		return nil, fmt.Errorf("failed to configure security: %w", err)
	}

	consumerGroup, err := sarama.NewConsumerGroup(
		config.BootstrapServers,
		config.GroupID,
		saramaConfig,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create consumer group: %w", err)
	}

	if config.WatermarkInterval <= 0 {
		config.WatermarkInterval = time.Second
	}

	logger.Info("kafka source created",
		"group_id", config.GroupID,
		"bootstrap_servers", config.BootstrapServers,
		"max_out_of_orderness", config.MaxOutOfOrderness,
		"watermark_interval", config.WatermarkInterval,
	)

	return &SaramaSource{
		consumerGroup: consumerGroup,
		config:        config,
		logger:        logger,
		metrics:       metrics,
		ready:         make(chan bool),
	}, nil
}

// Subscribe binds the source to the specified topics.
func (s *SaramaSource) Subscribe(ctx context.Context, topics []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return errors.ErrSourceClosed
	}

	s.topics = topics
	s.logger.Info("subscribed to topics", "topics", topics)
	return nil
}

// Consume starts reading and returns the message, watermark and error
// channels.
func (s *SaramaSource) Consume(ctx context.Context) (<-chan *source.Message, <-chan time.Time, <-chan error, error) {
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return nil, nil, nil, errors.ErrSourceClosed
	}
	s.mu.RUnlock()

	msgChan := make(chan *source.Message, 100)
	watermarkChan := make(chan time.Time, 1)
	errorChan := make(chan error, 10)

	handler := &groupHandler{
		source:  s,
		msgChan: msgChan,
		ready:   s.ready,
	}

	go func() {
		defer close(msgChan)
		defer close(errorChan)

		for {
			select {
			case <-ctx.Done():
				s.logger.Info("source context cancelled")
				return
			default:
				if err := s.consumerGroup.Consume(ctx, s.topics, handler); err != nil {
					s.logger.Error("consumer group error", "error", err)
					errorChan <- err
					return
				}
				if ctx.Err() != nil {
					return
				}
			}
		}
	}()

	go s.emitWatermarks(ctx, watermarkChan)

	<-s.ready
	s.logger.Info("kafka source started and ready")
	return msgChan, watermarkChan, errorChan, nil
}

// emitWatermarks publishes the bounded-out-of-orderness watermark on a
// fixed interval until the context is cancelled.
func (s *SaramaSource) emitWatermarks(ctx context.Context, out chan<- time.Time) {
	defer close(out)

	ticker := time.NewTicker(s.config.WatermarkInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			maxNanos := s.maxEventTime.Load()
			if maxNanos == 0 {
				continue
			}
			wm := time.Unix(0, maxNanos).Add(-s.config.MaxOutOfOrderness)
			select {
			case out <- wm:
			case <-ctx.Done():
				return
			}
		}
	}
}

// observeEventTime folds an event time into the watermark estimate.
func (s *SaramaSource) observeEventTime(t time.Time) {
	nanos := t.UnixNano()
	for {
		current := s.maxEventTime.Load()
		if nanos <= current {
			return
		}
		if s.maxEventTime.CompareAndSwap(current, nanos) {
			return
		}
	}
}

// Close closes the source and releases resources.
func (s *SaramaSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	s.logger.Info("closing kafka source")

	if err := s.consumerGroup.Close(); err != nil {
		s.logger.Error("error closing consumer group", "error", err)
		return err
	}
	return nil
}

// groupHandler implements sarama.ConsumerGroupHandler.
type groupHandler struct {
	source         *SaramaSource
	msgChan        chan<- *source.Message
	ready          chan bool
	readyOnce      sync.Once
	rebalanceStart time.Time
}

// Setup is run at the beginning of a new session, before ConsumeClaim.
func (h *groupHandler) Setup(session sarama.ConsumerGroupSession) error {
	h.rebalanceStart = time.Now()

	h.source.logger.Info("consumer group session setup",
		"member_id", session.MemberID(),
		"generation_id", session.GenerationID(),
		"claims", session.Claims(),
	)

	if h.source.metrics != nil {
		h.source.metrics.IncRebalances(h.source.config.GroupID)
		for topic, partitions := range session.Claims() {
			h.source.metrics.SetPartitionsAssigned(topic, float64(len(partitions)))
		}
	}

	h.readyOnce.Do(func() {
		close(h.ready)
	})
	return nil
}

// Cleanup is run at the end of a session, once all ConsumeClaim goroutines
// have exited.
func (h *groupHandler) Cleanup(session sarama.ConsumerGroupSession) error {
	if h.source.metrics != nil && !h.rebalanceStart.IsZero() {
		h.source.metrics.ObserveRebalanceDuration(
			h.source.config.GroupID,
			time.Since(h.rebalanceStart).Seconds(),
		)
	}

	h.source.logger.Info("consumer group session cleanup",
		"member_id", session.MemberID(),
	)
	return nil
}

// ConsumeClaim processes messages from one partition.
func (h *groupHandler) ConsumeClaim(
	session sarama.ConsumerGroupSession,
	claim sarama.ConsumerGroupClaim,
) error {
	h.source.logger.Info("started consuming partition",
		"topic", claim.Topic(),
		"partition", claim.Partition(),
		"initial_offset", claim.InitialOffset(),
	)

	for {
		select {
		case message := <-claim.Messages():
			if message == nil {
				return nil
			}

			rec := h.toRecord(message)
			h.source.observeEventTime(rec.EventTime)

			msg := &source.Message{
				Record: rec,
				Ack: func() error {
					session.MarkMessage(message, "")
					if h.source.metrics != nil {
						h.source.metrics.IncOffsetCommits(message.Topic, message.Partition, "success")
					}
					return nil
				},
			}

			select {
			case h.msgChan <- msg:
				if h.source.metrics != nil {
					h.source.metrics.IncMessagesConsumed(message.Topic, message.Partition)
				}
			case <-session.Context().Done():
				return nil
			}

		case <-session.Context().Done():
			h.source.logger.Info("session context done, stopping partition consumption",
				"topic", claim.Topic(),
				"partition", claim.Partition(),
			)
			return nil
		}
	}
}

// toRecord converts a Kafka message into a sink record. The event time
// comes from the event-time header when present, otherwise from the broker
// timestamp.
func (h *groupHandler) toRecord(message *sarama.ConsumerMessage) record.Record {
	headers := extractHeaders(message.Headers)

	eventTime := message.Timestamp
	if raw, ok := headers[eventTimeHeader]; ok {
		if parsed, err := time.Parse(time.RFC3339Nano, raw); err == nil {
			eventTime = parsed
		}
	}

	return record.Record{
		Key:         message.Key,
		Payload:     message.Value,
		EventTime:   eventTime,
		ArrivalTime: time.Now(),
		Kafka: record.KafkaMetadata{
			Topic:     message.Topic,
			Partition: message.Partition,
			Offset:    message.Offset,
			Timestamp: message.Timestamp,
			Headers:   headers,
		},
	}
}

// extractHeaders extracts headers from a Kafka message.
func extractHeaders(headers []*sarama.RecordHeader) map[string]string {
	result := make(map[string]string)
	for _, header := range headers {
		result[string(header.Key)] = string(header.Value)
	}
	return result
}

// MSKAccessTokenProvider implements sarama.AccessTokenProvider for AWS MSK
// IAM authentication.
type MSKAccessTokenProvider struct {
	region string
}

// Token generates an AWS MSK IAM authentication token.
func (m *MSKAccessTokenProvider) Token() (*sarama.AccessToken, error) {
	token, expiryMs, err := signer.GenerateAuthToken(context.Background(), m.region)
	if err != nil {
		return nil, fmt.Errorf("failed to generate MSK IAM token: %w", err)
	}

	return &sarama.AccessToken{
		Token: token,
		Extensions: map[string]string{
			"expiry": fmt.Sprintf("%d", expiryMs),
		},
	}, nil
}

// offsetInitial converts the AutoOffsetReset config to Sarama's offset
// constant.
func offsetInitial(autoOffsetReset string) int64 {
	switch autoOffsetReset {
	case "earliest":
		return sarama.OffsetOldest
	case "latest":
		return sarama.OffsetNewest
	default:
		return sarama.OffsetNewest
	}
}

func configureSecurity(config *sarama.Config, sourceConfig SourceConfig) error {
	switch sourceConfig.SecurityProtocol {
	case "PLAINTEXT":
		return nil

	case "SASL_PLAINTEXT", "SASL_SSL":
		config.Net.SASL.Enable = true

		switch sourceConfig.SASLMechanism {
		case "PLAIN":
			config.Net.SASL.Mechanism = sarama.SASLTypePlaintext
			config.Net.SASL.User = sourceConfig.SASLUsername
			config.Net.SASL.Password = sourceConfig.SASLPassword

		case "SCRAM-SHA-256":
			config.Net.SASL.Mechanism = sarama.SASLTypeSCRAMSHA256
			config.Net.SASL.User = sourceConfig.SASLUsername
			config.Net.SASL.Password = sourceConfig.SASLPassword
			config.Net.SASL.SCRAMClientGeneratorFunc = func() sarama.SCRAMClient {
				return &XDGSCRAMClient{HashGeneratorFcn: SHA256()}
			}

		case "SCRAM-SHA-512":
			config.Net.SASL.Mechanism = sarama.SASLTypeSCRAMSHA512
			config.Net.SASL.User = sourceConfig.SASLUsername
			config.Net.SASL.Password = sourceConfig.SASLPassword
			config.Net.SASL.SCRAMClientGeneratorFunc = func() sarama.SCRAMClient {
				return &XDGSCRAMClient{HashGeneratorFcn: SHA512()}
			}

		case "AWS_MSK_IAM":
			config.Net.SASL.Mechanism = sarama.SASLTypeOAuth
			config.Net.SASL.Enable = true
			// OAuth does not use username/password, but Sarama requires
			// them for validation.
			config.Net.SASL.User = "token"
			config.Net.SASL.Password = "token"
			config.Net.SASL.TokenProvider = &MSKAccessTokenProvider{
				region: "us-east-1",
			}

		default:
			return fmt.Errorf("unsupported SASL mechanism: %s", sourceConfig.SASLMechanism)
		}

		if sourceConfig.SecurityProtocol == "SASL_SSL" {
			config.Net.TLS.Enable = true
			config.Net.TLS.Config = &tls.Config{
				MinVersion: tls.VersionTLS12,
			}
		}

	case "SSL":
		config.Net.TLS.Enable = true
		config.Net.TLS.Config = &tls.Config{
			MinVersion: tls.VersionTLS12,
		}

	default:
		return fmt.Errorf("unsupported security protocol: %s", sourceConfig.SecurityProtocol)
	}

	return nil
}
