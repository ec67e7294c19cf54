package livesync

import (
	"bytes"
	"log/slog"
	"runtime"
	"slices"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/electr1fy0/cardsync/internal/protocol"
)

// Callbacks are the handlers a subscriber is interested in. Any of them may
// be nil.
type Callbacks struct {
	OnReaction      func(cardID int64, tally []protocol.TallyEntry)
	OnArchived      func(cardID int64)
	OnPresence      func(clientID string, cardID int64, x, y float64)
	OnPresenceLeave func(clientID string)
}

// Subscription is the handle returned by Hub.Subscribe.
type Subscription struct {
	id        string
	callbacks Callbacks
	active    atomic.Bool
	once      sync.Once
	release   func(*Subscription)

	// mu is held while a callback runs. running is the goroutine doing so.
	mu      sync.Mutex
	running atomic.Uint64
}

// ID returns the subscription's unique identity.
func (s *Subscription) ID() string {
	return s.id
}

// Release stops delivery to this subscription. Once it returns no callback
// of the subscription is running or will start, other than the one Release
// may have been called from. Calling it more than once is harmless.
func (s *Subscription) Release() {
	s.once.Do(func() {
		// Taking mu waits out a callback in flight on another goroutine.
		// From inside our own callback that wait would never end.
		if s.running.Load() == goid() {
			s.active.Store(false)
		} else {
			s.mu.Lock()
			s.active.Store(false)
			s.mu.Unlock()
		}
		if s.release != nil {
			s.release(s)
		}
	})
}

// registry holds subscribers in registration order and fans events out to
// them.
type registry struct {
	mu     sync.RWMutex
	subs   []*Subscription
	logger *slog.Logger
}

func newRegistry(logger *slog.Logger) *registry {
	return &registry{logger: logger}
}

func (r *registry) add(cb Callbacks, release func(*Subscription)) *Subscription {
	s := &Subscription{
		id:        uuid.NewString(),
		callbacks: cb,
		release:   release,
	}
	s.active.Store(true)

	r.mu.Lock()
	r.subs = append(r.subs, s)
	r.mu.Unlock()
	return s
}

// remove drops s and returns how many subscribers remain.
func (r *registry) remove(s *Subscription) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	if i := slices.Index(r.subs, s); i >= 0 {
		r.subs = slices.Delete(r.subs, i, i+1)
	}
	return len(r.subs)
}

// Len returns the number of registered subscribers.
func (r *registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.subs)
}

func (r *registry) snapshot() []*Subscription {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.subs)
}

// dispatch delivers ev to every subscriber registered when the pass starts.
// Subscribers added during the pass see later events only; subscribers
// released during the pass are skipped if their turn has not come yet.
func (r *registry) dispatch(ev protocol.Event) {
	g := goid()
	for _, s := range r.snapshot() {
		if !s.active.Load() {
			continue
		}
		r.deliver(s, ev, g)
	}
}

// deliver runs s's callback for ev unless s was released. The check and the
// call happen under s.mu, which Release waits for.
func (r *registry) deliver(s *Subscription, ev protocol.Event, g uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.active.Load() {
		return
	}
	s.running.Store(g)
	defer s.running.Store(0)

	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("subscriber callback panicked",
				"subscriber", s.id,
				"kind", ev.Kind(),
				"panic", p,
			)
		}
	}()

	cb := s.callbacks
	switch e := ev.(type) {
	case protocol.Reaction:
		if cb.OnReaction != nil {
			cb.OnReaction(e.CardID, slices.Clone(e.Tally))
		}
	case protocol.Archived:
		if cb.OnArchived != nil {
			cb.OnArchived(e.CardID)
		}
	case protocol.Presence:
		if e.IsLeave() {
			if cb.OnPresenceLeave != nil {
				cb.OnPresenceLeave(e.ClientID)
			}
			return
		}
		if cb.OnPresence != nil {
			cb.OnPresence(e.ClientID, e.CardID, e.X, e.Y)
		}
	case protocol.PresenceLeave:
		if cb.OnPresenceLeave != nil {
			cb.OnPresenceLeave(e.ClientID)
		}
	}
}

// goid returns the calling goroutine's id from the "goroutine N [...]"
// stack header.
func goid() uint64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	b := bytes.TrimPrefix(buf[:n], []byte("goroutine "))
	if i := bytes.IndexByte(b, ' '); i >= 0 {
		b = b[:i]
	}
	id, _ := strconv.ParseUint(string(b), 10, 64)
	return id
}
