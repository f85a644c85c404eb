package events

import (
	"sync"
	"time"
)

// Event types published by the service.
const (
	TypeContactsSynced  = "contacts.synced"
	TypeContactsCleared = "contacts.cleared"
	TypeSyncFinished    = "sync.finished"
	TypeNoteSaved       = "note.saved"
	TypeExclusionsReset = "exclusions.reloaded"
)

// Event is one observable state change.
type Event struct {
	Type    string    `json:"type"`
	At      time.Time `json:"at"`
	Payload any       `json:"payload,omitempty"`
}

// Bus provides simple in-process pub/sub for observability. A nil *Bus drops
// everything.
type Bus struct {
	mu   sync.RWMutex
	subs map[chan Event]struct{}
}

func NewBus() *Bus { return &Bus{subs: make(map[chan Event]struct{})} }

func (b *Bus) Subscribe() <-chan Event {
	ch := make(chan Event, 16)
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[ch] = struct{}{}
	return ch
}

// Unsubscribe removes and closes a channel returned by Subscribe.
func (b *Bus) Unsubscribe(sub <-chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subs {
		if ch == sub {
			delete(b.subs, ch)
			close(ch)
			return
		}
	}
}

// Publish never blocks; slow subscribers miss events.
func (b *Bus) Publish(typ string, payload any) {
	if b == nil {
		return
	}
	ev := Event{Type: typ, At: time.Now().UTC(), Payload: payload}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}
