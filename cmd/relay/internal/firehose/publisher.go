// Package firehose mirrors every upstream frame onto a Kafka topic so
// downstream consumers (scanners, recorders) can tap the feed without holding
// a websocket to the relay.
package firehose

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

type Publisher struct {
	writer *kafka.Writer
	logger *zap.Logger
}

func NewPublisher(brokers []string, topic string, logger *zap.Logger) *Publisher {
	writer := &kafka.Writer{
		Addr:     kafka.TCP(brokers...),
		Topic:    topic,
		Balancer: &kafka.LeastBytes{},
		// Batch to cut network IO; Async so the broadcast path never blocks
		// on the broker.
		BatchSize:    100,
		BatchTimeout: 10 * time.Millisecond,
		Async:        true,
	}
	return &Publisher{writer: writer, logger: logger}
}

// Publish enqueues one raw frame. Keying by the first event's symbol keeps
// per-symbol ordering within a partition; frames without one go unkeyed.
func (p *Publisher) Publish(raw []byte) {
	err := p.writer.WriteMessages(context.Background(), kafka.Message{
		Key:   frameKey(raw),
		Value: raw,
	})
	if err != nil {
		p.logger.Error("Kafka Write Error", zap.Error(err))
	}
}

func (p *Publisher) Close() error {
	return p.writer.Close()
}

// frameKey pulls the symbol out of the first event in a frame. Upstream
// frames are either a JSON array of events or a single event object.
func frameKey(raw []byte) []byte {
	type event struct {
		Sym string `json:"sym"`
	}

	var events []event
	if err := json.Unmarshal(raw, &events); err == nil {
		if len(events) > 0 && events[0].Sym != "" {
			return []byte(events[0].Sym)
		}
		return nil
	}

	var single event
	if err := json.Unmarshal(raw, &single); err == nil && single.Sym != "" {
		return []byte(single.Sym)
	}
	return nil
}
