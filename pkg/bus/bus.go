package bus

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// TopicAll subscribes to every topic through a single ordered channel.
// It is a subscription selector only and is never emitted.
const TopicAll Topic = "*"

// subscriberBuffer is the per-subscriber queue depth. Events beyond it
// are dropped for that subscriber.
const subscriberBuffer = 256

// Handler processes one event. The context is the bus lifetime context;
// it is cancelled after Close has drained all queues.
type Handler func(ctx context.Context, ev Event)

type subscriber struct {
	name    string
	topic   Topic
	handler Handler
	ch      chan Event
	async   bool
	stopped bool // guarded by Bus.mu; set before ch is closed
}

// Subscription identifies one registered handler and allows removal.
type Subscription struct {
	bus *Bus
	sub *subscriber
}

// Unsubscribe removes the handler. Queued events are still delivered
// before its goroutine exits.
func (s *Subscription) Unsubscribe() {
	s.bus.remove(s.sub)
}

// Bus is the in-process event broker. The zero value is not usable;
// construct with New.
type Bus struct {
	logger *slog.Logger

	mu     sync.RWMutex
	subs   map[Topic][]*subscriber
	closed bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates an empty bus. A nil logger falls back to slog.Default.
func New(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Bus{
		logger: logger.With("component", "bus"),
		subs:   make(map[Topic][]*subscriber),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Subscribe registers a handler that processes events sequentially in
// emission order. Use topic TopicAll to receive every topic through one
// ordered stream.
func (b *Bus) Subscribe(topic Topic, name string, h Handler) *Subscription {
	return b.add(topic, name, h, false)
}

// SubscribeAsync registers a handler that processes each event on its own
// goroutine. Ordering is not preserved.
func (b *Bus) SubscribeAsync(topic Topic, name string, h Handler) *Subscription {
	return b.add(topic, name, h, true)
}

func (b *Bus) add(topic Topic, name string, h Handler, async bool) *Subscription {
	sub := &subscriber{
		name:    name,
		topic:   topic,
		handler: h,
		ch:      make(chan Event, subscriberBuffer),
		async:   async,
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		b.logger.Warn("Subscribe on closed bus ignored", "subscriber", name, "topic", topic)
		sub.stopped = true
		return &Subscription{bus: b, sub: sub}
	}
	b.subs[topic] = append(b.subs[topic], sub)
	b.wg.Add(1)
	b.mu.Unlock()

	go b.run(sub)
	return &Subscription{bus: b, sub: sub}
}

func (b *Bus) remove(sub *subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if sub.stopped {
		return
	}
	sub.stopped = true
	list := b.subs[sub.topic]
	for i, s := range list {
		if s == sub {
			b.subs[sub.topic] = append(list[:i], list[i+1:]...)
			break
		}
	}
	close(sub.ch)
}

// Emit queues the payload for every subscriber of the topic and for
// TopicAll subscribers. It never blocks; subscribers whose buffer is
// full miss the event.
func (b *Bus) Emit(topic Topic, payload any) {
	ev := Event{Topic: topic, Payload: payload, Timestamp: time.Now().UTC()}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		b.logger.Warn("Emit on closed bus dropped", "topic", topic)
		return
	}

	for _, sub := range b.subs[topic] {
		b.deliver(sub, ev)
	}
	for _, sub := range b.subs[TopicAll] {
		b.deliver(sub, ev)
	}
}

// deliver runs under at least a read lock so it cannot race a close of
// sub.ch, which only happens under the write lock.
func (b *Bus) deliver(sub *subscriber, ev Event) {
	if sub.stopped {
		return
	}
	select {
	case sub.ch <- ev:
	default:
		b.logger.Warn("subscriber queue full, event dropped",
			"subscriber", sub.name,
			"topic", ev.Topic,
			"buffer", subscriberBuffer)
	}
}

func (b *Bus) run(sub *subscriber) {
	defer b.wg.Done()
	for ev := range sub.ch {
		if sub.async {
			b.wg.Add(1)
			go func(ev Event) {
				defer b.wg.Done()
				b.dispatch(sub, ev)
			}(ev)
		} else {
			b.dispatch(sub, ev)
		}
	}
}

func (b *Bus) dispatch(sub *subscriber, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event handler panicked",
				"subscriber", sub.name,
				"topic", ev.Topic,
				"panic", fmt.Sprintf("%v", r))
		}
	}()
	sub.handler(b.ctx, ev)
}

// Close stops accepting events, waits for every queued event to be
// handled, then cancels the handler context.
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	for _, list := range b.subs {
		for _, sub := range list {
			if !sub.stopped {
				sub.stopped = true
				close(sub.ch)
			}
		}
	}
	b.mu.Unlock()

	b.wg.Wait()
	b.cancel()
	b.logger.Debug("event bus closed")
}
