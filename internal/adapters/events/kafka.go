// Package events mirrors room activity onto a Kafka topic for whatever
// sits downstream (analytics, replay tooling). Delivery is best-effort:
// the room broker must never wait on the pipeline, so Publish only
// enqueues and background workers do the sending.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/IBM/sarama"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/CodeRoom/internal/core"
)

var ErrQueueFull = errors.New("event queue full")

type KafkaPublisher struct {
	producer sarama.SyncProducer
	topic    string
	queue    chan core.RoomEvent

	workers     int
	maxRetry    int
	baseBackoff time.Duration
	maxBackoff  time.Duration
}

func NewKafkaPublisher(brokers []string, topic string) (*KafkaPublisher, error) {
	cfg := sarama.NewConfig()
	cfg.Producer.Return.Successes = true
	cfg.Producer.RequiredAcks = sarama.WaitForLocal

	producer, err := sarama.NewSyncProducer(brokers, cfg)
	if err != nil {
		return nil, err
	}

	p := &KafkaPublisher{
		producer:    producer,
		topic:       topic,
		queue:       make(chan core.RoomEvent, 256),
		workers:     2,
		maxRetry:    3,
		baseBackoff: 100 * time.Millisecond,
		maxBackoff:  2 * time.Second,
	}
	for i := 0; i < p.workers; i++ {
		go p.workerLoop(i)
	}
	return p, nil
}

// Publish never blocks: when the local queue is full the event is
// dropped. Not every room event must reach the topic.
func (p *KafkaPublisher) Publish(_ context.Context, evt core.RoomEvent) error {
	select {
	case p.queue <- evt:
		return nil
	default:
		return ErrQueueFull
	}
}

func (p *KafkaPublisher) Close() error {
	close(p.queue)
	return p.producer.Close()
}

func (p *KafkaPublisher) workerLoop(workerID int) {
	for evt := range p.queue {
		p.sendWithRetry(workerID, evt)
	}
}

func (p *KafkaPublisher) sendWithRetry(workerID int, evt core.RoomEvent) {
	for attempt := 0; attempt <= p.maxRetry; attempt++ {
		err := p.sendOnce(evt)
		if err == nil {
			return
		}
		if attempt == p.maxRetry {
			log.Warn().Err(err).Str("module", "events").Str("event", evt.Type).Str("room", evt.Room).Int("worker", workerID).Msg("kafka send failed, dropping event")
			return
		}
		backoff := p.baseBackoff * time.Duration(1<<attempt)
		if backoff > p.maxBackoff {
			backoff = p.maxBackoff
		}
		time.Sleep(backoff)
	}
}

func (p *KafkaPublisher) sendOnce(evt core.RoomEvent) error {
	b, err := json.Marshal(evt)
	if err != nil {
		return err
	}
	// Keyed by room so one room's events stay on one partition, in order.
	_, _, err = p.producer.SendMessage(&sarama.ProducerMessage{
		Topic: p.topic,
		Key:   sarama.StringEncoder(evt.Room),
		Value: sarama.ByteEncoder(b),
	})
	return err
}

// NopPublisher stands in when no brokers are configured.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, core.RoomEvent) error { return nil }
