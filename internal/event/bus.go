package event

import (
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultBuffer is the per-subscriber channel capacity.
const DefaultBuffer = 64

// Bus fans events out to subscribers. Publish never blocks: a subscriber
// whose buffer is full misses the event and the drop is counted.
type Bus struct {
	mu      sync.RWMutex
	subs    map[uint64]*Subscription
	nextID  uint64
	seq     atomic.Uint64
	dropped atomic.Uint64
	closed  bool
	logger  *slog.Logger
	now     func() time.Time
}

// Option configures a Bus.
type Option func(*Bus)

// WithLogger sets the logger used to report dropped events.
func WithLogger(l *slog.Logger) Option {
	return func(b *Bus) { b.logger = l }
}

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) Option {
	return func(b *Bus) { b.now = now }
}

// NewBus creates an empty Bus.
func NewBus(opts ...Option) *Bus {
	b := &Bus{
		subs:   make(map[uint64]*Subscription),
		logger: slog.New(slog.DiscardHandler),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Subscription is one subscriber's view of the bus.
type Subscription struct {
	id      uint64
	bus     *Bus
	ch      chan Event
	types   []Type
	session string
	once    sync.Once
	dropped atomic.Uint64
}

// C returns the delivery channel. It is closed by Close or Bus.Close.
func (s *Subscription) C() <-chan Event {
	return s.ch
}

// Dropped returns how many events this subscriber missed.
func (s *Subscription) Dropped() uint64 {
	return s.dropped.Load()
}

// Close unsubscribes. It is safe to call more than once.
func (s *Subscription) Close() {
	s.bus.remove(s.id)
}

func (s *Subscription) wants(evt Event) bool {
	if s.session != "" && evt.SessionID != s.session {
		return false
	}
	return len(s.types) == 0 || slices.Contains(s.types, evt.Type)
}

// SubscribeOption narrows a subscription.
type SubscribeOption func(*Subscription)

// OnlyTypes limits delivery to the given types.
func OnlyTypes(types ...Type) SubscribeOption {
	return func(s *Subscription) { s.types = append(s.types, types...) }
}

// OnlySession limits delivery to one session.
func OnlySession(sessionID string) SubscribeOption {
	return func(s *Subscription) { s.session = sessionID }
}

// Buffer sets the channel capacity.
func Buffer(n int) SubscribeOption {
	return func(s *Subscription) {
		if n < 1 {
			n = 1
		}
		s.ch = make(chan Event, n)
	}
}

// Subscribe registers a new subscriber. Subscribing to a closed bus
// returns a subscription whose channel is already closed.
func (b *Bus) Subscribe(opts ...SubscribeOption) *Subscription {
	s := &Subscription{bus: b, ch: make(chan Event, DefaultBuffer)}
	for _, opt := range opts {
		opt(s)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(s.ch)
		s.once.Do(func() {})
		return s
	}
	b.nextID++
	s.id = b.nextID
	b.subs[s.id] = s
	return s
}

// Publish stamps evt with a sequence number and time, then offers it to
// every matching subscriber.
func (b *Bus) Publish(evt Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}

	evt.Seq = b.seq.Add(1)
	if evt.Time.IsZero() {
		evt.Time = b.now()
	}
	for _, s := range b.subs {
		if !s.wants(evt) {
			continue
		}
		select {
		case s.ch <- evt:
		default:
			s.dropped.Add(1)
			b.dropped.Add(1)
			b.logger.Warn("event: subscriber buffer full, dropping event",
				"type", evt.Type, "session_id", evt.SessionID, "subscriber", s.id)
		}
	}
}

// Dropped returns the total number of dropped deliveries.
func (b *Bus) Dropped() uint64 {
	return b.dropped.Load()
}

// Close closes every subscription and rejects later publishes.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, s := range b.subs {
		delete(b.subs, id)
		s.once.Do(func() { close(s.ch) })
	}
}

func (b *Bus) remove(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	s, ok := b.subs[id]
	if !ok {
		return
	}
	delete(b.subs, id)
	s.once.Do(func() { close(s.ch) })
}
