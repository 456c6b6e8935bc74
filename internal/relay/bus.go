package relay

import (
	"context"
	"sync"

	"github.com/redis/go-redis/v9"
)

// Bus is the fan-out primitive behind mailbox wakeups and presence
// broadcasts. Delivery is fire-and-forget; durability comes from the
// mailbox rows, not from the bus.
type Bus interface {
	Publish(ctx context.Context, topic string, payload []byte) error
	Subscribe(ctx context.Context, topic string) (BusSubscription, error)
}

// BusSubscription streams payloads published to one topic.
type BusSubscription interface {
	Payloads() <-chan []byte
	Close() error
}

// RedisBus implements Bus on Redis pub/sub.
type RedisBus struct {
	Client *redis.Client
}

// NewRedisBus wraps a connected Redis client.
func NewRedisBus(client *redis.Client) *RedisBus {
	return &RedisBus{Client: client}
}

func (b *RedisBus) Publish(ctx context.Context, topic string, payload []byte) error {
	return b.Client.Publish(ctx, topic, payload).Err()
}

func (b *RedisBus) Subscribe(ctx context.Context, topic string) (BusSubscription, error) {
	pubsub := b.Client.Subscribe(ctx, topic)
	// Wait for the subscription to be established so callers can rely on
	// subscribe-before-publish ordering.
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, err
	}

	sub := &redisBusSubscription{
		pubsub:   pubsub,
		payloads: make(chan []byte, 16),
		done:     make(chan struct{}),
	}
	go forwardPayloads(pubsub.Channel(), sub)
	return sub, nil
}

// forwardPayloads pumps pubsub messages into the subscription buffer. The
// done channel keeps the pump from blocking forever on a consumer that
// stopped draining before Close.
func forwardPayloads(in <-chan *redis.Message, sub *redisBusSubscription) {
	defer close(sub.payloads)
	for msg := range in {
		select {
		case sub.payloads <- []byte(msg.Payload):
		case <-sub.done:
			return
		}
	}
}

type redisBusSubscription struct {
	pubsub    *redis.PubSub
	payloads  chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

func (s *redisBusSubscription) Payloads() <-chan []byte { return s.payloads }

func (s *redisBusSubscription) Close() error {
	s.closeOnce.Do(func() { close(s.done) })
	return s.pubsub.Close()
}

// MemoryBus is an in-process Bus for tests and the simulation harness.
type MemoryBus struct {
	mu     sync.Mutex
	topics map[string][]*memoryBusSubscription
}

// NewMemoryBus creates an empty bus.
func NewMemoryBus() *MemoryBus {
	return &MemoryBus{topics: make(map[string][]*memoryBusSubscription)}
}

func (b *MemoryBus) Publish(_ context.Context, topic string, payload []byte) error {
	b.mu.Lock()
	subs := make([]*memoryBusSubscription, len(b.topics[topic]))
	copy(subs, b.topics[topic])
	b.mu.Unlock()

	for _, sub := range subs {
		sub.deliver(payload)
	}
	return nil
}

func (b *MemoryBus) Subscribe(_ context.Context, topic string) (BusSubscription, error) {
	sub := &memoryBusSubscription{
		bus:      b,
		topic:    topic,
		payloads: make(chan []byte, 64),
	}
	b.mu.Lock()
	b.topics[topic] = append(b.topics[topic], sub)
	b.mu.Unlock()
	return sub, nil
}

type memoryBusSubscription struct {
	bus      *MemoryBus
	topic    string
	mu       sync.Mutex
	closed   bool
	payloads chan []byte
}

func (s *memoryBusSubscription) deliver(payload []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.payloads <- payload:
	default:
		// Slow subscriber; the mailbox replay path covers the loss.
	}
}

func (s *memoryBusSubscription) Payloads() <-chan []byte { return s.payloads }

func (s *memoryBusSubscription) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.payloads)
	s.mu.Unlock()

	s.bus.mu.Lock()
	subs := s.bus.topics[s.topic]
	for i, candidate := range subs {
		if candidate == s {
			s.bus.topics[s.topic] = append(subs[:i], subs[i+1:]...)
			break
		}
	}
	s.bus.mu.Unlock()
	return nil
}
