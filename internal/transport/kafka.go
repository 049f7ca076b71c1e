package transport

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	kafkago "github.com/segmentio/kafka-go"

	kafkax "github.com/ariefcatur/go-supplychain-ledger/internal/kafka"
	"github.com/ariefcatur/go-supplychain-ledger/internal/ledger"
	"github.com/ariefcatur/go-supplychain-ledger/internal/redisx"
)

// Publisher is satisfied by *kafka.Producer.
type Publisher interface {
	Publish(topic string, key, value []byte, headers ...kafkago.Header)
}

// Kafka runs sessions over per-party inbox topics. Deliver is the consumer
// handler for this party's inbox.
type Kafka struct {
	me    ledger.Party
	pub   Publisher
	redis *redis.Client // nil disables dedup
	log   zerolog.Logger
	ctx   context.Context

	mu       sync.Mutex
	handlers map[string]Handler
	sessions map[string]*session
}

// NewKafka binds inbound handlers to ctx; cancelling it stops them.
func NewKafka(ctx context.Context, me ledger.Party, pub Publisher, rdb *redis.Client, log zerolog.Logger) *Kafka {
	return &Kafka{
		me:       me,
		pub:      pub,
		redis:    rdb,
		log:      log,
		ctx:      ctx,
		handlers: map[string]Handler{},
		sessions: map[string]*session{},
	}
}

func (k *Kafka) Handle(protocol string, h Handler) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.handlers[protocol] = h
}

func (k *Kafka) Open(_ context.Context, to ledger.Party, protocol string) (Session, error) {
	id := uuid.NewString()
	s := k.register(id, to)
	k.publish(kafkax.Frame{SessionID: id, Kind: kafkax.FrameOpen, Protocol: protocol, To: string(to)})
	return s, nil
}

func (k *Kafka) register(id string, peer ledger.Party) *session {
	s := newSession(id, peer, func(_ context.Context, e envelope) error {
		f := kafkax.Frame{SessionID: id, To: string(peer), Kind: kafkax.FrameData, Payload: e.payload}
		if e.close {
			f.Kind, f.Reason, f.Payload = kafkax.FrameClose, e.reason, nil
			k.forget(id)
		}
		k.publish(f)
		return nil
	})
	k.mu.Lock()
	k.sessions[id] = s
	k.mu.Unlock()
	return s
}

func (k *Kafka) forget(id string) {
	k.mu.Lock()
	delete(k.sessions, id)
	k.mu.Unlock()
}

func (k *Kafka) publish(f kafkax.Frame) {
	f.FrameID = uuid.NewString()
	f.From = string(k.me)
	f.OccurredAt = time.Now().UTC()
	k.pub.Publish(kafkax.InboxTopic(f.To), kafkax.PartitionKey(f.SessionID), kafkax.MustMarshal(f))
}

// Deliver routes one inbox message to its session. Malformed frames are
// logged and committed; only infrastructure errors ask for redelivery.
func (k *Kafka) Deliver(ctx context.Context, m kafkago.Message) error {
	f, err := kafkax.DecodeFrame(m.Value)
	if err != nil {
		k.log.Warn().Err(err).Str("topic", m.Topic).Msg("dropping malformed frame")
		return nil
	}
	if f.To != string(k.me) {
		return nil
	}
	if k.redis != nil {
		first, err := redisx.SetOnce(ctx, k.redis, fmt.Sprintf(redisx.KeyDedup, k.me, f.FrameID), redisx.TTLDedup)
		if err != nil {
			return fmt.Errorf("dedup frame %s: %w", f.FrameID, err)
		}
		if !first {
			k.log.Debug().Str("frame_id", f.FrameID).Msg("duplicate frame")
			return nil
		}
	}

	from := ledger.Party(f.From)
	switch f.Kind {
	case kafkax.FrameOpen:
		k.mu.Lock()
		h, ok := k.handlers[f.Protocol]
		k.mu.Unlock()
		if !ok {
			k.publish(kafkax.Frame{SessionID: f.SessionID, Kind: kafkax.FrameClose, To: f.From,
				Reason: fmt.Sprintf("%s: %s", ErrNoHandler, f.Protocol)})
			return nil
		}
		s := k.register(f.SessionID, from)
		go func() {
			err := h(k.ctx, s)
			if err != nil {
				k.log.Warn().Err(err).Str("protocol", f.Protocol).Str("from", f.From).Msg("responder failed")
			}
			_ = s.finish(k.ctx, reasonOf(err))
		}()
	case kafkax.FrameData, kafkax.FrameClose:
		k.mu.Lock()
		s, ok := k.sessions[f.SessionID]
		k.mu.Unlock()
		if !ok {
			k.log.Debug().Str("session_id", f.SessionID).Str("kind", f.Kind).Msg("frame for unknown session")
			return nil
		}
		env := envelope{payload: f.Payload}
		if f.Kind == kafkax.FrameClose {
			env = envelope{close: true, reason: f.Reason}
			k.forget(f.SessionID)
		}
		if err := s.push(ctx, env); err != nil && ctx.Err() != nil {
			return err
		}
	}
	return nil
}
