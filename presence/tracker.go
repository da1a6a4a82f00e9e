package presence

import (
	"sync"
	"time"
)

// Tracker keeps the live online status of users seen on the realtime
// channel. Users never seen are unknown, so callers fall back to the online
// flag the backend returned with the partner record.
type Tracker struct {
	hub *Hub
	now func() time.Time

	mu     sync.RWMutex
	conns  map[string]int // user -> open presence entries
	synced bool
}

// NewTracker creates a tracker publishing transitions to hub (may be nil).
func NewTracker(hub *Hub) *Tracker {
	return &Tracker{hub: hub, now: time.Now, conns: make(map[string]int)}
}

// Online reports a user's live status and whether it is known.
func (t *Tracker) Online(userID string) (online, known bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	n, ok := t.conns[userID]
	return n > 0, ok
}

// Synced reports whether a full presence state has been received since the
// last reset.
func (t *Tracker) Synced() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.synced
}

// OnlineCount is the number of users currently online.
func (t *Tracker) OnlineCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	count := 0
	for _, n := range t.conns {
		if n > 0 {
			count++
		}
	}
	return count
}

// ApplyState replaces the online set with a full snapshot of entry counts.
// Users dropped from the snapshot become known offline.
func (t *Tracker) ApplyState(state map[string]int) {
	t.mu.Lock()
	var changed []Update
	now := t.now()
	for id, n := range t.conns {
		if _, still := state[id]; !still && n > 0 {
			t.conns[id] = 0
			changed = append(changed, Update{UserID: id, Online: false, At: now})
		}
	}
	for id, n := range state {
		was := t.conns[id] > 0
		t.conns[id] = n
		if is := n > 0; is != was {
			changed = append(changed, Update{UserID: id, Online: is, At: now})
		}
	}
	t.synced = true
	t.mu.Unlock()
	t.publish(changed)
}

// ApplyDiff adds joined and removes left presence entries.
func (t *Tracker) ApplyDiff(joins, leaves map[string]int) {
	t.mu.Lock()
	var changed []Update
	now := t.now()
	apply := func(id string, delta int) {
		was := t.conns[id] > 0
		n := t.conns[id] + delta
		if n < 0 {
			n = 0
		}
		t.conns[id] = n
		if is := n > 0; is != was {
			changed = append(changed, Update{UserID: id, Online: is, At: now})
		}
	}
	for id, n := range joins {
		apply(id, n)
	}
	for id, n := range leaves {
		apply(id, -n)
	}
	t.mu.Unlock()
	t.publish(changed)
}

// Reset forgets everything, e.g. after the realtime connection dropped.
func (t *Tracker) Reset() {
	t.mu.Lock()
	t.conns = make(map[string]int)
	t.synced = false
	t.mu.Unlock()
}

func (t *Tracker) publish(updates []Update) {
	if t.hub == nil {
		return
	}
	for _, u := range updates {
		t.hub.Broadcast(u)
	}
}
