package kafka

import (
	"context"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
)

// Handler returns nil only when the message is processed and its offset may
// be committed.
type Handler func(ctx context.Context, m kafka.Message) error

const retryDelay = 200 * time.Millisecond

// Consumer hands messages to a fixed pool of workers and commits each
// partition in offset order, so every message is handled at least once.
type Consumer struct {
	r       *kafka.Reader
	workers int
	log     zerolog.Logger

	mu      sync.Mutex
	offsets *offsetTracker
}

func NewConsumer(brokers []string, group, topic string, workers int, log zerolog.Logger) *Consumer {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        brokers,
		GroupID:        group,
		Topic:          topic,
		MinBytes:       1,
		MaxBytes:       10e6,
		CommitInterval: 0, // manual commit
	})
	if workers <= 0 {
		workers = 1
	}
	return &Consumer{r: r, workers: workers, log: log, offsets: newOffsetTracker()}
}

// shardOf pins a key to one worker so frames of a session stay in order.
func shardOf(key []byte, workers int) int {
	return int(xxhash.Sum64(key) % uint64(workers))
}

func (c *Consumer) Start(ctx context.Context, h Handler) error {
	defer c.r.Close()

	jobs := make([]chan kafka.Message, c.workers)
	for i := range jobs {
		jobs[i] = make(chan kafka.Message, 128)
		go func(in <-chan kafka.Message) {
			for m := range in {
				if !c.handle(ctx, h, m) {
					return
				}
				if err := c.ack(ctx, m); err != nil {
					c.log.Warn().Err(err).Int("partition", m.Partition).Int64("offset", m.Offset).Msg("commit failed")
				}
			}
		}(jobs[i])
	}
	stop := func() {
		for _, ch := range jobs {
			close(ch)
		}
	}

	for {
		m, err := c.r.FetchMessage(ctx)
		if err != nil {
			stop()
			select {
			case <-ctx.Done():
				return nil
			default:
				return err
			}
		}
		c.mu.Lock()
		c.offsets.fetched(m.Partition, m.Offset)
		c.mu.Unlock()
		select {
		case jobs[shardOf(m.Key, c.workers)] <- m:
		case <-ctx.Done():
			stop()
			return nil
		}
	}
}

// handle retries h until it succeeds. It reports false when ctx ends first,
// leaving m uncommitted for redelivery.
func (c *Consumer) handle(ctx context.Context, h Handler, m kafka.Message) bool {
	for {
		err := h(ctx, m)
		if err == nil {
			return true
		}
		c.log.Warn().Err(err).Int("partition", m.Partition).Int64("offset", m.Offset).Msg("worker error")
		select {
		case <-ctx.Done():
			return false
		case <-time.After(retryDelay):
		}
	}
}

// ack marks m handled and commits the partition up to the last offset with
// nothing unhandled before it. Commits run under mu so they never go back.
func (c *Consumer) ack(ctx context.Context, m kafka.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	last, ok := c.offsets.handled(m.Partition, m.Offset)
	if !ok {
		return nil
	}
	m.Offset = last
	return c.r.CommitMessages(ctx, m)
}

// offsetTracker keeps the fetched offsets of each partition in fetch order.
// Workers finish out of order; only the handled prefix may be committed.
type offsetTracker struct {
	pending map[int][]int64
	done    map[int]map[int64]bool
}

func newOffsetTracker() *offsetTracker {
	return &offsetTracker{pending: map[int][]int64{}, done: map[int]map[int64]bool{}}
}

func (t *offsetTracker) fetched(partition int, offset int64) {
	q := t.pending[partition]
	if n := len(q); n > 0 && offset <= q[n-1] {
		// The reader rewound after a rebalance; older entries will be fetched again.
		q = nil
		t.done[partition] = nil
	}
	t.pending[partition] = append(q, offset)
}

// handled records offset as processed and returns the highest offset now safe
// to commit, if the handled prefix grew.
func (t *offsetTracker) handled(partition int, offset int64) (int64, bool) {
	done := t.done[partition]
	if done == nil {
		done = map[int64]bool{}
		t.done[partition] = done
	}
	done[offset] = true

	q := t.pending[partition]
	n := 0
	for n < len(q) && done[q[n]] {
		delete(done, q[n])
		n++
	}
	if n == 0 {
		return 0, false
	}
	t.pending[partition] = q[n:]
	return q[n-1], true
}
