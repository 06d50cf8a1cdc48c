// Package events implements the subscription registry and the mutation
// fan-out. Delivery is best-effort: each subscriber holds a bounded queue
// with drop-oldest eviction, and a slow consumer silently loses the oldest
// events rather than stalling the producer. Durability lives in the store;
// these notifications are advisory.
package events

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"breadcrumbd/internal/models"
	"breadcrumbd/internal/projection"
	"breadcrumbd/internal/selector"
)

// DefaultQueueSize is the per-subscriber delivery queue bound
const DefaultQueueSize = 100

// Subscriber is one live stream connection with its active selector.
// At most one subscription exists per connection; a new subscribe on the
// same connection replaces the previous selector.
type Subscriber struct {
	ID      string
	AgentID string

	mu        sync.RWMutex
	sel       models.Selector
	projected bool

	qmu sync.Mutex
	ch  chan models.Event
}

// Events returns the subscriber's delivery channel
func (s *Subscriber) Events() <-chan models.Event {
	return s.ch
}

// Selector returns the currently active selector
func (s *Subscriber) Selector() models.Selector {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sel
}

// Replace swaps the active selector, the implicit resubscribe semantics of
// a second subscribe on the same connection.
func (s *Subscriber) Replace(sel models.Selector, projected bool) {
	s.mu.Lock()
	s.sel = sel
	s.projected = projected
	s.mu.Unlock()
}

// enqueue appends an event, evicting the oldest entry when the queue is
// full. Enqueues for one subscriber are serialized so the channel never
// sees more than one writer; eviction therefore cannot race with a
// concurrent send.
func (s *Subscriber) enqueue(evt models.Event) (dropped bool) {
	s.qmu.Lock()
	defer s.qmu.Unlock()

	select {
	case s.ch <- evt:
		return false
	default:
	}
	select {
	case <-s.ch:
	default:
	}
	select {
	case s.ch <- evt:
	default:
	}
	return true
}

// Bus is the fan-out hub: it owns the live subscriber registry and
// evaluates every registered selector against each committed mutation.
type Bus struct {
	mu        sync.RWMutex
	subs      map[string]*Subscriber
	queueSize int

	relay *Relay

	// Optional delivery hooks, wired to metrics counters in main
	OnDelivered func(eventType string)
	OnDropped   func(eventType string)
}

// NewBus creates a bus with the given per-subscriber queue bound
// (DefaultQueueSize when <= 0).
func NewBus(queueSize int) *Bus {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	return &Bus{
		subs:      make(map[string]*Subscriber),
		queueSize: queueSize,
	}
}

// SetRelay attaches a cross-instance relay. Locally published events are
// forwarded to it; events it receives are dispatched without re-forwarding.
func (b *Bus) SetRelay(r *Relay) {
	b.relay = r
}

// Subscribe registers a connection's subscription. A connection id already
// present has its selector replaced instead of gaining a second queue.
func (b *Bus) Subscribe(connID, agentID string, sel models.Selector, projected bool) *Subscriber {
	b.mu.Lock()
	defer b.mu.Unlock()

	if existing, ok := b.subs[connID]; ok {
		existing.Replace(sel, projected)
		return existing
	}

	sub := &Subscriber{
		ID:        connID,
		AgentID:   agentID,
		sel:       sel,
		projected: projected,
		ch:        make(chan models.Event, b.queueSize),
	}
	b.subs[connID] = sub
	log.Printf("[FANOUT] subscribe conn=%s agent=%s (active=%d)", connID, agentID, len(b.subs))
	return sub
}

// Unsubscribe removes a connection's subscription and releases its queue.
// The channel is not closed; the stream goroutine exits via its own done
// signal and the channel is collected.
func (b *Bus) Unsubscribe(connID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subs[connID]; ok {
		delete(b.subs, connID)
		log.Printf("[FANOUT] unsubscribe conn=%s (active=%d)", connID, len(b.subs))
	}
}

// SubscriberCount returns the number of live subscriptions
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Publish fans a committed mutation out to every matching subscriber and
// forwards it to the relay when one is attached. The record is the
// post-commit state; selectors are evaluated against it, never against
// cached membership.
func (b *Bus) Publish(eventType string, bc *models.Breadcrumb) {
	evt := models.Event{
		Type:         eventType,
		BreadcrumbID: bc.ID,
		Title:        bc.Title,
		Tags:         bc.Tags,
		SchemaName:   bc.SchemaName,
		Version:      bc.Version,
		Context:      bc.Context,
		Timestamp:    time.Now().UTC(),
	}
	b.dispatch(evt, bc.LLMHints)

	if b.relay != nil {
		b.relay.Forward(evt, bc.LLMHints)
	}
}

// DispatchRemote feeds a relay-received event into local delivery only.
// The originating record's hints travel in the relay envelope so
// projected subscribers see the same view for remote mutations as for
// local ones.
func (b *Bus) DispatchRemote(evt models.Event, hints *models.LLMHints) {
	b.dispatch(evt, hints)
}

func (b *Bus) dispatch(evt models.Event, hints *models.LLMHints) {
	contextJSON, _ := json.Marshal(evt.Context)

	// Projected view computed at most once per mutation, shared by every
	// subscriber that asked for it.
	var projectedView map[string]any
	projectedOnce := false

	b.mu.RLock()
	targets := make([]*Subscriber, 0, len(b.subs))
	for _, sub := range b.subs {
		targets = append(targets, sub)
	}
	b.mu.RUnlock()

	for _, sub := range targets {
		sub.mu.RLock()
		sel := sub.sel
		wantProjected := sub.projected
		sub.mu.RUnlock()

		if !selector.MatchesJSON(sel, evt.Tags, evt.SchemaName, contextJSON) {
			continue
		}

		out := evt
		if wantProjected && hints != nil {
			if !projectedOnce {
				projectedView = projection.Apply(evt.Context, hints)
				projectedOnce = true
			}
			out.Context = projectedView
		}

		if sub.enqueue(out) {
			if b.OnDropped != nil {
				b.OnDropped(evt.Type)
			}
		} else if b.OnDelivered != nil {
			b.OnDelivered(evt.Type)
		}
	}
}
