package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"voltlink/backend/services/telemetry-service/internal/models"
)

const (
	defaultQueueSize = 1024
	maxBatch         = 100
	flushInterval    = 200 * time.Millisecond
	drainTimeout     = 5 * time.Second
)

// MessageWriter is the subset of *kafka.Writer the publisher needs.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// NewKafkaWriter returns a writer keyed by device so one device's events stay ordered.
func NewKafkaWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		BatchTimeout: 50 * time.Millisecond,
	}
}

// Publisher streams ingest events to Kafka off the ingestion path.
type Publisher struct {
	writer  MessageWriter
	queue   chan kafka.Message
	observe func(error)
	logger  *zap.Logger
}

// NewPublisher builds publisher. observe may be nil.
func NewPublisher(writer MessageWriter, queueSize int, observe func(error), logger *zap.Logger) *Publisher {
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	if observe == nil {
		observe = func(error) {}
	}
	return &Publisher{
		writer:  writer,
		queue:   make(chan kafka.Message, queueSize),
		observe: observe,
		logger:  logger.With(zap.String("component", "kafka-publisher")),
	}
}

// Notify enqueues the event. A full queue drops the event rather than slowing ingestion.
func (p *Publisher) Notify(_ context.Context, event models.IngestEvent) {
	body, err := json.Marshal(event)
	if err != nil {
		p.logger.Warn("failed to encode ingest event", zap.Error(err))
		return
	}
	msg := kafka.Message{
		Key:   []byte(event.Reading.Key().String()),
		Value: body,
		Time:  event.At,
		Headers: []kafka.Header{
			{Key: "outcome", Value: []byte(event.Outcome)},
		},
	}
	select {
	case p.queue <- msg:
	default:
		p.observe(errQueueFull)
		p.logger.Warn("event queue full, dropping", zap.String("device", event.Reading.Key().String()))
	}
}

// Run writes queued events in batches until ctx is done, then flushes what is left.
func (p *Publisher) Run(ctx context.Context) error {
	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()

	batch := make([]kafka.Message, 0, maxBatch)
	flush := func(ctx context.Context) {
		if len(batch) == 0 {
			return
		}
		err := p.writer.WriteMessages(ctx, batch...)
		for range batch {
			p.observe(err)
		}
		if err != nil {
			p.logger.Warn("failed to publish ingest events", zap.Int("count", len(batch)), zap.Error(err))
		}
		batch = batch[:0]
	}

	for {
		select {
		case <-ctx.Done():
			drainCtx, cancel := context.WithTimeout(context.Background(), drainTimeout)
			defer cancel()
			for {
				select {
				case msg := <-p.queue:
					batch = append(batch, msg)
					if len(batch) == maxBatch {
						flush(drainCtx)
					}
				default:
					flush(drainCtx)
					return p.writer.Close()
				}
			}
		case msg := <-p.queue:
			batch = append(batch, msg)
			if len(batch) == maxBatch {
				flush(ctx)
			}
		case <-ticker.C:
			flush(ctx)
		}
	}
}
