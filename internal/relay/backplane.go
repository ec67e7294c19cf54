package relay

import (
	"context"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
)

// Backplane carries published events between relay instances. Every
// subscriber receives every payload, including its own.
type Backplane interface {
	Publish(ctx context.Context, payload []byte) error
	// Subscribe registers before returning; the channel closes when ctx ends.
	Subscribe(ctx context.Context) (<-chan []byte, error)
	Ping(ctx context.Context) error
}

// RedisBackplane fans out through a Redis pub/sub channel.
type RedisBackplane struct {
	rdb   *redis.Client
	topic string
}

func NewRedisBackplane(rdb *redis.Client, topic string) *RedisBackplane {
	if topic == "" {
		topic = eventsTopic
	}
	return &RedisBackplane{rdb: rdb, topic: topic}
}

func (b *RedisBackplane) Publish(ctx context.Context, payload []byte) error {
	if err := b.rdb.Publish(ctx, b.topic, payload).Err(); err != nil {
		return fmt.Errorf("redis publish: %w", err)
	}
	return nil
}

func (b *RedisBackplane) Subscribe(ctx context.Context) (<-chan []byte, error) {
	pubsub := b.rdb.Subscribe(ctx, b.topic)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("redis subscribe %s: %w", b.topic, err)
	}

	out := make(chan []byte, bufSize)
	go func() {
		defer close(out)
		defer pubsub.Close()

		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				select {
				case out <- []byte(msg.Payload):
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

func (b *RedisBackplane) Ping(ctx context.Context) error {
	return b.rdb.Ping(ctx).Err()
}

// MemoryBackplane connects the hubs of a single process.
type MemoryBackplane struct {
	mu   sync.Mutex
	subs map[chan []byte]struct{}
}

func NewMemoryBackplane() *MemoryBackplane {
	return &MemoryBackplane{subs: make(map[chan []byte]struct{})}
}

// Publish never blocks. A subscriber that has fallen a full buffer behind
// misses the payload.
func (b *MemoryBackplane) Publish(_ context.Context, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	for ch := range b.subs {
		select {
		case ch <- payload:
		default:
		}
	}
	return nil
}

func (b *MemoryBackplane) Subscribe(ctx context.Context) (<-chan []byte, error) {
	ch := make(chan []byte, bufSize)

	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()

	context.AfterFunc(ctx, func() {
		b.mu.Lock()
		delete(b.subs, ch)
		b.mu.Unlock()
		close(ch)
	})
	return ch, nil
}

func (b *MemoryBackplane) Ping(context.Context) error {
	return nil
}
