package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/couchcryptid/corona-report-bot/internal/config"
	"github.com/couchcryptid/corona-report-bot/internal/domain"
	"github.com/jonboulle/clockwork"
	kafkago "github.com/segmentio/kafka-go"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

// Publisher streams delta reports to a Kafka topic, one message per
// committed observation keyed by its date.
// It implements pipeline.ReportPublisher.
type Publisher struct {
	writer messageWriter
	clock  clockwork.Clock
	logger *slog.Logger
}

// NewPublisher creates a Kafka producer for the configured report topic.
func NewPublisher(cfg *config.Config, clock clockwork.Clock, logger *slog.Logger) *Publisher {
	w := &kafkago.Writer{
		Addr:                   kafkago.TCP(cfg.KafkaBrokers...),
		Topic:                  cfg.KafkaReportTopic,
		Balancer:               &kafkago.Hash{},
		RequiredAcks:           kafkago.RequireAll,
		AllowAutoTopicCreation: true,
	}
	return &Publisher{writer: w, clock: clock, logger: logger}
}

// Publish writes one report. Reports for the same date land on the same
// partition, so consumers see a corrected re-publication after the original.
func (p *Publisher) Publish(ctx context.Context, report domain.DeltaReport) error {
	msg, err := serializeToMessage(report, p.clock.Now())
	if err != nil {
		return err
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("write delta report: %w", err)
	}
	p.logger.Debug("delta report published", "date", string(msg.Key), "baseline", report.Baseline)
	return nil
}

func (p *Publisher) Close() error {
	return p.writer.Close()
}

// serializeToMessage marshals a DeltaReport into a Kafka message.
func serializeToMessage(report domain.DeltaReport, publishedAt time.Time) (kafkago.Message, error) {
	data, err := json.Marshal(report)
	if err != nil {
		return kafkago.Message{}, fmt.Errorf("serialize delta report: %w", err)
	}
	date := report.CurrentDate.Format(time.DateOnly)
	return kafkago.Message{
		Key:   []byte(date),
		Value: data,
		Headers: []kafkago.Header{
			{Key: "catalog_version", Value: []byte(report.CatalogVersion)},
			{Key: "report_date", Value: []byte(date)},
			{Key: "published_at", Value: []byte(publishedAt.UTC().Format(time.RFC3339))},
		},
	}, nil
}
