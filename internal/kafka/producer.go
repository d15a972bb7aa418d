package kafka

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
)

var ErrClosed = errors.New("kafka bus closed")

type writer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Bus is an async producer for every domain topic. Messages carry their own
// topic; the writer has none.
type Bus struct {
	w       writer
	inbox   chan kafka.Message
	closeCh chan struct{}
	log     zerolog.Logger
}

func NewBus(brokers []string, buf int, log zerolog.Logger) *Bus {
	return newBus(&kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		AllowAutoTopicCreation: true,
		BatchTimeout:           10 * time.Millisecond,
	}, buf, log)
}

func newBus(w writer, buf int, log zerolog.Logger) *Bus {
	if buf <= 0 {
		buf = 1024
	}
	return &Bus{
		w:       w,
		inbox:   make(chan kafka.Message, buf),
		closeCh: make(chan struct{}),
		log:     log.With().Str("component", "kafka-bus").Logger(),
	}
}

// Start runs the write loop until ctx is done, then flushes what is queued.
func (b *Bus) Start(ctx context.Context) {
	go func() {
		defer close(b.closeCh)
		for {
			select {
			case <-ctx.Done():
				b.drain()
				return
			case m := <-b.inbox:
				b.write(m)
			}
		}
	}()
}

func (b *Bus) drain() {
	for {
		select {
		case m := <-b.inbox:
			b.write(m)
		default:
			if err := b.w.Close(); err != nil {
				b.log.Warn().Err(err).Msg("close writer")
			}
			return
		}
	}
}

func (b *Bus) write(m kafka.Message) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := b.w.WriteMessages(ctx, m); err != nil {
		b.log.Error().Err(err).Str("topic", m.Topic).Str("key", string(m.Key)).Msg("write message")
	}
}

// Publish queues a message. It blocks only while the inbox is full.
func (b *Bus) Publish(ctx context.Context, topic string, key, value []byte, eventType string) error {
	m := kafka.Message{
		Topic: topic,
		Key:   key,
		Value: value,
		Time:  time.Now(),
		Headers: []kafka.Header{
			{Key: "x-event-type", Value: []byte(eventType)},
			{Key: "x-event-version", Value: []byte(strconv.Itoa(1))},
		},
	}
	select {
	case <-b.closeCh:
		return ErrClosed
	default:
	}
	select {
	case b.inbox <- m:
		return nil
	case <-b.closeCh:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// WaitClosed blocks until the write loop has flushed and exited.
func (b *Bus) WaitClosed() { <-b.closeCh }
