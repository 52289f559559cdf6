// Package status fans agent status events out to connected devices.
//
// Subscribers register per logical session id. Publishes are serialized, so
// every subscriber of a session observes its events in publish order.
package status

import (
	"sort"
	"sync"
	"time"
)

// Well-known status values sent by the agent integration.
const (
	Thinking = "thinking"
	ToolUse  = "tool_use"
	Done     = "done"
	Error    = "error"
)

// Event is one agent status change for a session.
type Event struct {
	SessionID string
	Status    string
	Detail    string
	Tool      string
	Timestamp time.Time
}

type subscriber struct {
	id        uint64
	sessionID string
	fn        func(Event)
}

// Broadcaster delivers status events to the subscribers of each session.
type Broadcaster struct {
	mu     sync.RWMutex
	subs   map[string]map[uint64]*subscriber
	nextID uint64

	// pubMu serializes Publish so delivery order matches publish order.
	pubMu sync.Mutex

	timeNow func() time.Time
}

// NewBroadcaster creates an empty broadcaster.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{
		subs:    make(map[string]map[uint64]*subscriber),
		timeNow: time.Now,
	}
}

// Subscribe registers fn for events of sessionID. The returned function
// removes the subscription and may be called any number of times.
//
// fn runs on the publishing goroutine and must not call Publish.
func (b *Broadcaster) Subscribe(sessionID string, fn func(Event)) func() {
	b.mu.Lock()
	b.nextID++
	sub := &subscriber{id: b.nextID, sessionID: sessionID, fn: fn}
	set, ok := b.subs[sessionID]
	if !ok {
		set = make(map[uint64]*subscriber)
		b.subs[sessionID] = set
	}
	set[sub.id] = sub
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { b.remove(sub) })
	}
}

func (b *Broadcaster) remove(sub *subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()

	set := b.subs[sub.sessionID]
	delete(set, sub.id)
	if len(set) == 0 {
		delete(b.subs, sub.sessionID)
	}
}

// Publish delivers ev to every current subscriber of ev.SessionID.
// A zero Timestamp is filled in.
func (b *Broadcaster) Publish(ev Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = b.timeNow().UTC()
	}

	b.pubMu.Lock()
	defer b.pubMu.Unlock()

	for _, sub := range b.snapshot(ev.SessionID) {
		if b.active(sub) {
			sub.fn(ev)
		}
	}
}

// SubscriberCount returns the number of live subscriptions for sessionID.
func (b *Broadcaster) SubscriberCount(sessionID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[sessionID])
}

// snapshot copies the subscriber set, oldest subscription first.
func (b *Broadcaster) snapshot(sessionID string) []*subscriber {
	b.mu.RLock()
	defer b.mu.RUnlock()

	set := b.subs[sessionID]
	list := make([]*subscriber, 0, len(set))
	for _, sub := range set {
		list = append(list, sub)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].id < list[j].id })
	return list
}

// active reports whether sub was not unsubscribed since the snapshot.
func (b *Broadcaster) active(sub *subscriber) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, ok := b.subs[sub.sessionID][sub.id]
	return ok
}
