package capture

import (
	"sync"
	"time"
)

// dedupKey identifies a transmission: the same (sender, packet id) pair seen
// again within the window is the same physical packet arriving via another
// gateway.
type dedupKey struct {
	from     uint32
	packetID uint32
}

// dedupEntry tracks one claimed transmission. ready is closed once the
// claiming worker resolves it: rowID holds the committed packet row, or zero
// when the claimant gave up.
type dedupEntry struct {
	key     dedupKey
	rowID   int64
	ready   chan struct{}
	addedAt time.Time
}

// Wait blocks until the claiming worker resolves the entry. ok is false when
// the claimant failed to commit a row.
func (e *dedupEntry) Wait() (rowID int64, ok bool) {
	<-e.ready

	return e.rowID, e.rowID != 0
}

// dedupWindow is a bounded, time-ordered set of recently seen transmissions.
// Keys are claimed before the commit, not recorded after it: the first worker
// to claim a pair owns the insert, and every concurrent copy waits on the
// claim for the row to extend. Process-local by design; concurrent capture
// instances may double-report and that is acceptable.
type dedupWindow struct {
	mu         sync.Mutex
	maxEntries int
	maxAge     time.Duration
	entries    map[dedupKey]*dedupEntry
	queue      []*dedupEntry // insertion order, oldest first
}

func newDedupWindow(maxEntries int, maxAge time.Duration) *dedupWindow {
	return &dedupWindow{
		maxEntries: maxEntries,
		maxAge:     maxAge,
		entries:    make(map[dedupKey]*dedupEntry, maxEntries),
	}
}

// Claim reserves the key for the caller. A true result means the caller owns
// the transmission and must resolve the entry with Commit or Release; false
// returns the current holder's entry to Wait on.
func (w *dedupWindow) Claim(key dedupKey) (*dedupEntry, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := time.Now()
	w.evict(now)

	if existing, ok := w.entries[key]; ok {
		return existing, false
	}

	entry := &dedupEntry{key: key, ready: make(chan struct{}), addedAt: now}
	w.entries[key] = entry
	w.queue = append(w.queue, entry)

	w.evict(now)

	return entry, true
}

// Commit resolves a claimed entry with its committed packet row.
func (w *dedupWindow) Commit(entry *dedupEntry, rowID int64) {
	w.mu.Lock()
	entry.rowID = rowID
	w.mu.Unlock()

	close(entry.ready)
}

// Release withdraws a claim after a failed commit, so a later copy of the
// transmission can still be stored.
func (w *dedupWindow) Release(entry *dedupEntry) {
	w.mu.Lock()

	if current, ok := w.entries[entry.key]; ok && current == entry {
		delete(w.entries, entry.key)
	}

	w.mu.Unlock()

	close(entry.ready)
}

func (w *dedupWindow) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()

	return len(w.entries)
}

// evict drops expired entries and, past the count bound, the oldest ones.
// Entries are never refreshed in place, so the queue stays strictly ordered
// by insertion time and the head check is sufficient. Callers hold the lock.
func (w *dedupWindow) evict(now time.Time) {
	for len(w.queue) > 0 {
		head := w.queue[0]

		expired := w.maxAge > 0 && now.Sub(head.addedAt) > w.maxAge
		over := w.maxEntries > 0 && len(w.queue) > w.maxEntries

		if !expired && !over {
			break
		}

		w.queue = w.queue[1:]

		// Released entries leave a stale queue slot behind; only drop the
		// map entry when it is still this slot.
		if current, ok := w.entries[head.key]; ok && current == head {
			delete(w.entries, head.key)
		}
	}
}
