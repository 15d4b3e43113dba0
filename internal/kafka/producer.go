package kafka

import (
	"context"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
	"github.com/selvaterra/checkout/internal/orders"
)

// Publisher is the part of the producer domain services depend on.
type Publisher interface {
	PublishEvent(ctx context.Context, topic, eventType, key string, payload any) error
}

// Producer writes envelopes asynchronously. The topic is set per message so
// one writer serves every order topic.
type Producer struct {
	w       *kafka.Writer
	inbox   chan kafka.Message
	closeCh chan struct{}
	service string
	log     zerolog.Logger
}

func NewProducer(brokers []string, service string, buf int, log zerolog.Logger) *Producer {
	p := &Producer{
		inbox:   make(chan kafka.Message, buf),
		closeCh: make(chan struct{}),
		service: service,
		log:     log,
	}
	p.w = &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		AllowAutoTopicCreation: true,
		Async:                  true, // fire-and-forget; failures surface in completed
		Completion:             p.completed,
	}
	return p
}

func (p *Producer) Start(ctx context.Context) {
	go func() {
		defer close(p.closeCh)
		for {
			select {
			case <-ctx.Done():
				p.drain()
				return
			case m, ok := <-p.inbox:
				if !ok {
					_ = p.w.Close()
					return
				}
				p.write(m)
			}
		}
	}()
}

func (p *Producer) drain() {
	for {
		select {
		case m, ok := <-p.inbox:
			if !ok {
				_ = p.w.Close()
				return
			}
			p.write(m)
		default:
			_ = p.w.Close()
			return
		}
	}
}

func (p *Producer) write(m kafka.Message) {
	if err := p.w.WriteMessages(context.Background(), m); err != nil {
		p.log.Error().Err(err).Str("topic", m.Topic).Str("key", string(m.Key)).Msg("kafka write failed")
	}
}

func (p *Producer) completed(msgs []kafka.Message, err error) {
	if err == nil {
		return
	}
	for _, m := range msgs {
		p.log.Error().Err(err).Str("topic", m.Topic).Str("key", string(m.Key)).Msg("kafka write failed")
	}
}

// Publish queues a message. When the queue stays full until ctx is done the
// message is dropped and ctx's error returned.
func (p *Producer) Publish(ctx context.Context, topic string, key, value []byte, headers ...kafka.Header) error {
	m := kafka.Message{
		Topic:   topic,
		Key:     key,
		Value:   value,
		Time:    time.Now(),
		Headers: headers,
	}
	select {
	case p.inbox <- m:
		return nil
	default:
	}
	select {
	case p.inbox <- m:
		return nil
	case <-ctx.Done():
		p.log.Warn().Err(ctx.Err()).Str("topic", topic).Str("key", string(key)).Msg("producer queue full, event dropped")
		return ctx.Err()
	}
}

// PublishEvent wraps payload in an envelope (v1) keyed by key and queues it.
func (p *Producer) PublishEvent(ctx context.Context, topic, eventType, key string, payload any) error {
	env, err := NewEnvelope(p.service, eventType, key, payload)
	if err != nil {
		return err
	}
	env.TraceID = middleware.GetReqID(ctx)
	value, err := Marshal(env)
	if err != nil {
		return err
	}
	return p.Publish(ctx, topic, orders.PartitionKey(key), value,
		kafka.Header{Key: "x-event-type", Value: []byte(eventType)},
		kafka.Header{Key: "x-event-version", Value: []byte("1")},
	)
}

// NewEnvelope builds a v1 envelope with a fresh event id.
func NewEnvelope(service, eventType, correlationID string, payload any) (orders.Envelope, error) {
	raw, err := Marshal(payload)
	if err != nil {
		return orders.Envelope{}, err
	}
	return orders.Envelope{
		EventID:       uuid.NewString(),
		EventType:     eventType,
		EventVersion:  1,
		OccurredAt:    time.Now().UTC(),
		Producer:      service,
		CorrelationID: correlationID,
		Payload:       raw,
	}, nil
}

// Close the inbox so the goroutine flushes what is left and exits.
func (p *Producer) Close() { close(p.inbox) }

func (p *Producer) WaitClosed() { <-p.closeCh }
