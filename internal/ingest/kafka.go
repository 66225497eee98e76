package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/togo-health/epiwatch/internal/cluster"
	"github.com/togo-health/epiwatch/internal/diagnosis"
	"github.com/togo-health/epiwatch/internal/shared/config"
	"github.com/togo-health/epiwatch/internal/shared/metrics"
)

// EventHandler receives decoded diagnosis events from an ingest source.
// *cluster.Engine satisfies it.
type EventHandler interface {
	HandlePositiveEvent(ctx context.Context, event diagnosis.Event) (*cluster.Cluster, error)
}

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Consumer drains the diagnosis topic and hands each event to the cluster
// engine. The upstream reporting pipeline persists events before publishing
// them, so the consumer never writes to the event store itself.
type Consumer struct {
	reader  messageReader
	handler EventHandler
}

// NewConsumer creates a consumer over the configured diagnosis topic
func NewConsumer(cfg config.KafkaConfig, handler EventHandler) *Consumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        cfg.Brokers,
		Topic:          cfg.Topic,
		GroupID:        cfg.GroupID,
		MinBytes:       1,
		MaxBytes:       10e6,
		CommitInterval: time.Second,
		MaxWait:        time.Second,
	})
	return &Consumer{reader: reader, handler: handler}
}

// Run consumes until the context is cancelled. Malformed or failing messages
// are logged and committed so a single bad event cannot wedge the partition.
func (c *Consumer) Run(ctx context.Context) error {
	log.Println("ingest: kafka consumer started")
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, io.EOF) {
				log.Println("ingest: kafka consumer stopping")
				return nil
			}
			log.Printf("ingest: fetch error: %v", err)
			time.Sleep(500 * time.Millisecond)
			continue
		}

		var event diagnosis.Event
		if err := json.Unmarshal(msg.Value, &event); err != nil {
			log.Printf("ingest: decode event at offset %d: %v", msg.Offset, err)
			metrics.RecordEventIngested("kafka", "decode_error")
			c.commit(ctx, msg)
			continue
		}
		if event.Timestamp.IsZero() {
			event.Timestamp = time.Now().UTC()
		}

		if _, err := c.handler.HandlePositiveEvent(ctx, event); err != nil {
			log.Printf("ingest: cluster check for event %s: %v", event.ID, err)
			metrics.RecordEventIngested("kafka", "handler_error")
		} else {
			metrics.RecordEventIngested("kafka", "ok")
		}
		c.commit(ctx, msg)
	}
}

func (c *Consumer) commit(ctx context.Context, msg kafka.Message) {
	if err := c.reader.CommitMessages(ctx, msg); err != nil {
		log.Printf("ingest: commit offset %d: %v", msg.Offset, err)
	}
}

// Close closes the underlying reader, unblocking Run
func (c *Consumer) Close() error {
	return c.reader.Close()
}
