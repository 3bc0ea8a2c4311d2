// Package events carries device state transitions from the orchestrator to
// whoever renders or records them.
package events

import (
	"sync"

	"github.com/fgeck/gowake-homelab/internal/models"
)

// Publisher accepts events. Implementations must not block the caller.
type Publisher interface {
	Publish(ev models.Event)
}

// Bus fans events out to subscribers. Publish never blocks: every subscriber
// owns an unbounded queue drained by its own goroutine, so a slow consumer only
// delays itself.
type Bus struct {
	mu     sync.Mutex
	subs   []*subscriber
	closed bool
	wg     sync.WaitGroup
}

type subscriber struct {
	mu     sync.Mutex
	cond   *sync.Cond
	queue  []models.Event
	closed bool
	out    chan models.Event
}

// NewBus returns an empty bus.
func NewBus() *Bus {
	return &Bus{}
}

// Subscribe returns a channel receiving every event published after the call,
// in publish order. The channel is closed once Close has been called and all
// queued events were delivered.
func (b *Bus) Subscribe() <-chan models.Event {
	s := &subscriber{out: make(chan models.Event)}
	s.cond = sync.NewCond(&s.mu)

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(s.out)
		return s.out
	}
	b.subs = append(b.subs, s)
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		s.forward()
	}()
	return s.out
}

// Publish enqueues ev for every subscriber. Events published after Close are dropped.
func (b *Bus) Publish(ev models.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	for _, s := range b.subs {
		s.push(ev)
	}
}

// Close stops accepting events and waits until every subscriber has received
// everything queued for it.
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	for _, s := range b.subs {
		s.close()
	}
	b.mu.Unlock()

	b.wg.Wait()
}

func (s *subscriber) push(ev models.Event) {
	s.mu.Lock()
	s.queue = append(s.queue, ev)
	s.mu.Unlock()
	s.cond.Signal()
}

func (s *subscriber) close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.cond.Signal()
}

func (s *subscriber) forward() {
	defer close(s.out)
	for {
		s.mu.Lock()
		for len(s.queue) == 0 && !s.closed {
			s.cond.Wait()
		}
		if len(s.queue) == 0 && s.closed {
			s.mu.Unlock()
			return
		}
		batch := s.queue
		s.queue = nil
		s.mu.Unlock()

		for _, ev := range batch {
			s.out <- ev
		}
	}
}

// Discard is a Publisher that drops everything.
type Discard struct{}

// Publish implements Publisher.
func (Discard) Publish(models.Event) {}
