// Package queue fans enrichment work out from the ingestion path to the
// background worker, so a slow LLM enrichment call never blocks a tab
// ingest response. A Kafka-backed transport is used in production; an
// in-process channel transport covers local runs and tests.
package queue

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/segmentio/kafka-go"

	"tabgraph/internal/logging"
)

// EnrichmentTask names one entity that needs a trip through the
// enrichment worker, with enough tab context to produce a contextual
// description rather than a generic one.
type EnrichmentTask struct {
	EntityID        int64    `json:"entity_id"`
	EntityName      string   `json:"entity_name"`
	TabID           int64    `json:"tab_id"`
	TabURL          string   `json:"tab_url"`
	TabTitle        string   `json:"tab_title"`
	TabSummary      string   `json:"tab_summary"`
	RelatedEntities []string `json:"related_entities"`
}

// Producer publishes enrichment tasks without blocking the ingest path
// on worker availability.
type Producer interface {
	Publish(ctx context.Context, task EnrichmentTask) error
	Close() error
}

// Consumer hands enrichment tasks to handler one at a time, acking
// (committing offset / draining channel) only after handler returns.
type Consumer interface {
	Run(ctx context.Context, handler func(context.Context, EnrichmentTask) error) error
	Close() error
}

type kafkaProducer struct {
	writer *kafka.Writer
}

// NewKafkaProducer builds a Producer that publishes JSON-encoded tasks
// keyed by entity ID, so tasks for the same entity land on the same
// partition and are processed in order.
func NewKafkaProducer(brokers []string, topic string) Producer {
	return &kafkaProducer{writer: &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
	}}
}

func (p *kafkaProducer) Publish(ctx context.Context, task EnrichmentTask) error {
	body, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("queue: encoding task: %w", err)
	}
	return p.writer.WriteMessages(ctx, kafka.Message{
		Key:   fmt.Appendf(nil, "%d", task.EntityID),
		Value: body,
	})
}

func (p *kafkaProducer) Close() error { return p.writer.Close() }

type kafkaConsumer struct {
	reader *kafka.Reader
}

// NewKafkaConsumer builds a Consumer reading from the given topic and
// consumer group.
func NewKafkaConsumer(brokers []string, topic, groupID string) Consumer {
	return &kafkaConsumer{reader: kafka.NewReader(kafka.ReaderConfig{
		Brokers: brokers,
		Topic:   topic,
		GroupID: groupID,
	})}
}

func (c *kafkaConsumer) Run(ctx context.Context, handler func(context.Context, EnrichmentTask) error) error {
	log := logging.From(ctx)
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("queue: fetching message: %w", err)
		}

		var task EnrichmentTask
		if err := json.Unmarshal(msg.Value, &task); err != nil {
			log.Error().Err(err).Msg("dropping unparseable enrichment task")
			if err := c.reader.CommitMessages(ctx, msg); err != nil {
				log.Error().Err(err).Msg("committing offset for dropped task")
			}
			continue
		}

		if err := handler(ctx, task); err != nil {
			log.Error().Err(err).Int64("entity_id", task.EntityID).Msg("enrichment task handler failed")
		}
		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			log.Error().Err(err).Msg("committing enrichment task offset")
		}
	}
}

func (c *kafkaConsumer) Close() error { return c.reader.Close() }

// InProcess is a Producer+Consumer pair backed by a buffered channel,
// used when no Kafka broker is configured.
type InProcess struct {
	ch chan EnrichmentTask
}

// NewInProcess builds an in-process queue with the given buffer size.
func NewInProcess(buffer int) *InProcess {
	return &InProcess{ch: make(chan EnrichmentTask, buffer)}
}

func (q *InProcess) Publish(ctx context.Context, task EnrichmentTask) error {
	select {
	case q.ch <- task:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		// Buffer full: drop rather than block the ingest path. The
		// worker will pick the entity back up next time it's seen.
		logging.From(ctx).Warn().Int64("entity_id", task.EntityID).Msg("enrichment queue full, dropping task")
		return nil
	}
}

func (q *InProcess) Close() error {
	close(q.ch)
	return nil
}

func (q *InProcess) Run(ctx context.Context, handler func(context.Context, EnrichmentTask) error) error {
	log := logging.From(ctx)
	for {
		select {
		case task, ok := <-q.ch:
			if !ok {
				return nil
			}
			if err := handler(ctx, task); err != nil {
				log.Error().Err(err).Int64("entity_id", task.EntityID).Msg("enrichment task handler failed")
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
