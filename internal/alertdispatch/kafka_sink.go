package alertdispatch

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/segmentio/kafka-go"

	"github.com/merrymaker/scanner/config"
	"github.com/merrymaker/scanner/internal/domain/model"
)

// KafkaSink publishes one AlertV1 message per alert, keyed "msg" (§6).
type KafkaSink struct {
	writer *kafka.Writer
}

// NewKafkaSink constructs a KafkaSink from config. Returns nil if disabled.
func NewKafkaSink(cfg config.KafkaSinkConfig) *KafkaSink {
	if !cfg.Enabled {
		return nil
	}
	return &KafkaSink{
		writer: &kafka.Writer{
			Addr:     kafka.TCP(cfg.Brokers...),
			Topic:    cfg.Topic,
			Balancer: &kafka.LeastBytes{},
		},
	}
}

// Name implements AlertSink.
func (s *KafkaSink) Name() string { return "kafka" }

// Enabled implements AlertSink.
func (s *KafkaSink) Enabled() bool { return true }

// Send implements AlertSink. A successful WriteMessages is the "ack" §4.7
// treats as success; kafka-go's own write retries already cover transient
// broker errors, so any error surfacing here is treated as retryable at the
// job layer rather than classified further.
func (s *KafkaSink) Send(ctx context.Context, event Event) (Outcome, error) {
	msg := model.AlertV1{
		Rule:        event.Rule,
		Level:       event.Severity,
		Description: event.Description,
		ScanURL:     event.ScanURL,
		AlertID:     event.AlertID,
		CreatedAt:   event.CreatedAt.UTC().Format("2006-01-02T15:04:05Z07:00"),
	}
	value, err := json.Marshal(msg)
	if err != nil {
		return OutcomeFatal, fmt.Errorf("marshal alert v1: %w", err)
	}

	if err := s.writer.WriteMessages(ctx, kafka.Message{Key: []byte("msg"), Value: value}); err != nil {
		return OutcomeRetryable, fmt.Errorf("kafka sink write failed: %w", err)
	}
	return OutcomeSuccess, nil
}

// Close releases the underlying writer's connections.
func (s *KafkaSink) Close() error {
	return s.writer.Close()
}
