package broker

import (
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const subscriberBuffer = 16

// Broker fans messages out to topic subscribers. A subscriber whose buffer
// is full misses the message rather than stalling the publisher.
type Broker struct {
	mu     sync.RWMutex
	topics map[string][]chan interface{}
	closed bool
	logger zerolog.Logger
}

func NewBroker() *Broker {
	return &Broker{
		topics: make(map[string][]chan interface{}),
		logger: log.With().Str("component", "broker").Logger(),
	}
}

// Subscribe returns a buffered feed for topic. After Close it returns an
// already closed channel.
func (b *Broker) Subscribe(topic string) <-chan interface{} {
	ch := make(chan interface{}, subscriberBuffer)
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(ch)
		return ch
	}
	b.topics[topic] = append(b.topics[topic], ch)
	return ch
}

func (b *Broker) Unsubscribe(topic string, sub <-chan interface{}) {
	b.mu.Lock()
	defer b.mu.Unlock()
	subs := b.topics[topic]
	for i := range subs {
		if subs[i] != sub {
			continue
		}
		close(subs[i])
		b.topics[topic] = append(subs[:i], subs[i+1:]...)
		if len(b.topics[topic]) == 0 {
			delete(b.topics, topic)
		}
		return
	}
}

func (b *Broker) Publish(topic string, msg interface{}) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	dropped := 0
	for _, ch := range b.topics[topic] {
		select {
		case ch <- msg:
		default:
			dropped++
		}
	}
	if dropped > 0 {
		b.logger.Warn().Str("topic", topic).Int("dropped", dropped).Msg("Subscribers too slow, message dropped")
	}
}

func (b *Broker) Subscribers(topic string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.topics[topic])
}

// Close ends every subscription. Later publishes are no-ops.
func (b *Broker) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for topic, subs := range b.topics {
		for _, ch := range subs {
			close(ch)
		}
		delete(b.topics, topic)
	}
}
