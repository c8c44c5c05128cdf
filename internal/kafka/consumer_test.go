package kafka

import (
	"testing"
	"time"

	"github.com/IBM/sarama"
)

func TestOffsetInitial(t *testing.T) {
	tests := []struct {
		name   string
		offset string
		want   int64
	}{
		{"earliest", "earliest", sarama.OffsetOldest},
		{"latest", "latest", sarama.OffsetNewest},
		{"empty defaults to latest", "", sarama.OffsetNewest},
		{"unknown defaults to latest", "beginning", sarama.OffsetNewest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := offsetInitial(tt.offset); got != tt.want {
				t.Errorf("offsetInitial(%q) = %v, want %v", tt.offset, got, tt.want)
			}
		})
	}
}

func TestConfigureSecurity(t *testing.T) {
	tests := []struct {
		name    string
		config  SourceConfig
		wantErr bool
		check   func(t *testing.T, c *sarama.Config)
	}{
		{
			name:   "plaintext",
			config: SourceConfig{SecurityProtocol: "PLAINTEXT"},
			check: func(t *testing.T, c *sarama.Config) {
				if c.Net.SASL.Enable || c.Net.TLS.Enable {
					t.Error("plaintext should not enable SASL or TLS")
				}
			},
		},
		{
			name: "sasl plain over tls",
			config: SourceConfig{
				SecurityProtocol: "SASL_SSL",
				SASLMechanism:    "PLAIN",
				SASLUsername:     "user",
				SASLPassword:     "pass",
			},
			check: func(t *testing.T, c *sarama.Config) {
				if !c.Net.SASL.Enable || !c.Net.TLS.Enable {
					t.Error("SASL_SSL should enable SASL and TLS")
				}
				if c.Net.SASL.Mechanism != sarama.SASLTypePlaintext {
					t.Errorf("mechanism = %v, want PLAIN", c.Net.SASL.Mechanism)
				}
				if c.Net.SASL.User != "user" || c.Net.SASL.Password != "pass" {
					t.Error("credentials not applied")
				}
			},
		},
		{
			name: "scram-sha-512 without tls",
			config: SourceConfig{
				SecurityProtocol: "SASL_PLAINTEXT",
				SASLMechanism:    "SCRAM-SHA-512",
				SASLUsername:     "user",
				SASLPassword:     "pass",
			},
			check: func(t *testing.T, c *sarama.Config) {
				if c.Net.SASL.Mechanism != sarama.SASLTypeSCRAMSHA512 {
					t.Errorf("mechanism = %v, want SCRAM-SHA-512", c.Net.SASL.Mechanism)
				}
				if c.Net.SASL.SCRAMClientGeneratorFunc == nil {
					t.Error("SCRAM client generator not set")
				}
				if c.Net.TLS.Enable {
					t.Error("SASL_PLAINTEXT should not enable TLS")
				}
			},
		},
		{
			name: "msk iam",
			config: SourceConfig{
				SecurityProtocol: "SASL_SSL",
				SASLMechanism:    "AWS_MSK_IAM",
			},
			check: func(t *testing.T, c *sarama.Config) {
				if c.Net.SASL.Mechanism != sarama.SASLTypeOAuth {
					t.Errorf("mechanism = %v, want OAUTHBEARER", c.Net.SASL.Mechanism)
				}
				if c.Net.SASL.TokenProvider == nil {
					t.Error("token provider not set")
				}
			},
		},
		{
			name:   "ssl only",
			config: SourceConfig{SecurityProtocol: "SSL"},
			check: func(t *testing.T, c *sarama.Config) {
				if c.Net.SASL.Enable {
					t.Error("SSL should not enable SASL")
				}
				if !c.Net.TLS.Enable {
					t.Error("SSL should enable TLS")
				}
			},
		},
		{
			name:    "unsupported protocol",
			config:  SourceConfig{SecurityProtocol: "KERBEROS"},
			wantErr: true,
		},
		{
			name: "unsupported mechanism",
			config: SourceConfig{
				SecurityProtocol: "SASL_SSL",
				SASLMechanism:    "GSSAPI",
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			saramaConfig := sarama.NewConfig()
			err := configureSecurity(saramaConfig, tt.config)
			if (err != nil) != tt.wantErr {
				t.Fatalf("configureSecurity() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.check != nil {
				tt.check(t, saramaConfig)
			}
		})
	}
}

func TestExtractHeaders(t *testing.T) {
	headers := []*sarama.RecordHeader{
		{Key: []byte("event-time"), Value: []byte("2024-06-01T10:00:00Z")},
		{Key: []byte("trace-id"), Value: []byte("abc123")},
	}

	got := extractHeaders(headers)
	if len(got) != 2 {
		t.Fatalf("len(headers) = %d, want 2", len(got))
	}
	if got["event-time"] != "2024-06-01T10:00:00Z" {
		t.Errorf("event-time = %q", got["event-time"])
	}
	if got["trace-id"] != "abc123" {
		t.Errorf("trace-id = %q", got["trace-id"])
	}

	if got := extractHeaders(nil); len(got) != 0 {
		t.Errorf("extractHeaders(nil) = %v, want empty map", got)
	}
}

func TestGroupHandler_ToRecord(t *testing.T) {
	brokerTime := time.Date(2024, 6, 1, 10, 0, 5, 0, time.UTC)
	headerTime := time.Date(2024, 6, 1, 10, 0, 1, 500000000, time.UTC)

	tests := []struct {
		name          string
		headers       []*sarama.RecordHeader
		wantEventTime time.Time
	}{
		{
			name: "event time from header",
			headers: []*sarama.RecordHeader{
				{Key: []byte(eventTimeHeader), Value: []byte(headerTime.Format(time.RFC3339Nano))},
			},
			wantEventTime: headerTime,
		},
		{
			name:          "no header falls back to broker timestamp",
			wantEventTime: brokerTime,
		},
		{
			name: "malformed header falls back to broker timestamp",
			headers: []*sarama.RecordHeader{
				{Key: []byte(eventTimeHeader), Value: []byte("not-a-timestamp")},
			},
			wantEventTime: brokerTime,
		},
	}

	handler := &groupHandler{}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			message := &sarama.ConsumerMessage{
				Key:       []byte("k"),
				Value:     []byte("v"),
				Topic:     "events",
				Partition: 3,
				Offset:    42,
				Timestamp: brokerTime,
				Headers:   tt.headers,
			}

			rec := handler.toRecord(message)

			if !rec.EventTime.Equal(tt.wantEventTime) {
				t.Errorf("EventTime = %v, want %v", rec.EventTime, tt.wantEventTime)
			}
			if string(rec.Key) != "k" || string(rec.Payload) != "v" {
				t.Error("key or payload not carried over")
			}
			if rec.Kafka.Topic != "events" || rec.Kafka.Partition != 3 || rec.Kafka.Offset != 42 {
				t.Errorf("kafka metadata = %+v", rec.Kafka)
			}
			if !rec.Kafka.Timestamp.Equal(brokerTime) {
				t.Errorf("kafka timestamp = %v, want %v", rec.Kafka.Timestamp, brokerTime)
			}
			if rec.ArrivalTime.IsZero() {
				t.Error("ArrivalTime not set")
			}
		})
	}
}

func TestObserveEventTime_Monotonic(t *testing.T) {
	s := &SaramaSource{}

	t1 := time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)
	t2 := t1.Add(30 * time.Second)

	s.observeEventTime(t1)
	if got := s.maxEventTime.Load(); got != t1.UnixNano() {
		t.Fatalf("maxEventTime = %d, want %d", got, t1.UnixNano())
	}

	s.observeEventTime(t2)
	if got := s.maxEventTime.Load(); got != t2.UnixNano() {
		t.Fatalf("maxEventTime = %d, want %d", got, t2.UnixNano())
	}

	// An out-of-order record never moves the estimate backward.
	s.observeEventTime(t1)
	if got := s.maxEventTime.Load(); got != t2.UnixNano() {
		t.Errorf("maxEventTime regressed to %d", got)
	}
}
