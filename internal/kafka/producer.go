package kafka

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
)

// Producer writes to any topic; the topic travels on each message.
type Producer struct {
	w       *kafka.Writer
	log     zerolog.Logger
	inbox   chan kafka.Message
	closeCh chan struct{}

	mu     sync.RWMutex
	closed bool
}

func NewProducer(brokers []string, buf int, log zerolog.Logger) *Producer {
	return &Producer{
		w: &kafka.Writer{
			Addr:                   kafka.TCP(brokers...),
			Balancer:               &kafka.Hash{},
			RequiredAcks:           kafka.RequireAll,
			AllowAutoTopicCreation: true,
		},
		log:     log,
		inbox:   make(chan kafka.Message, buf),
		closeCh: make(chan struct{}),
	}
}

// Start runs the write loop until Close.
func (p *Producer) Start() {
	go func() {
		defer close(p.closeCh)
		defer func() { _ = p.w.Close() }()
		for m := range p.inbox {
			wctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			if err := p.w.WriteMessages(wctx, m); err != nil {
				p.log.Error().Err(err).Str("topic", m.Topic).Msg("kafka write failed")
			}
			cancel()
		}
	}()
}

// Publish queues a message. After Close it is dropped with a warning.
func (p *Producer) Publish(topic string, key, value []byte, headers ...kafka.Header) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		p.log.Warn().Str("topic", topic).Msg("publish after close dropped")
		return
	}
	p.inbox <- kafka.Message{
		Topic:   topic,
		Key:     key,
		Value:   value,
		Time:    time.Now(),
		Headers: headers,
	}
}

// Close stops accepting messages; the loop flushes what is queued and exits.
func (p *Producer) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.closed {
		p.closed = true
		close(p.inbox)
	}
}

func (p *Producer) WaitClosed() { <-p.closeCh }
