package metrics

import (
	"sync/atomic"
	"time"

	"github.com/meshradar/meshradar/pkg/models"
)

const defaultBufferSize = 4096

// Snapshot is the point-in-time throughput summary served by the API.
type Snapshot struct {
	Received     int64   `json:"received"`
	Decoded      int64   `json:"decoded"`
	Duplicates   int64   `json:"duplicates"`
	Dropped      int64   `json:"dropped"`
	RatePerMin1  float64 `json:"rate_1m"`
	RatePerMin15 float64 `json:"rate_15m"`
}

// Tracker aggregates lifetime counters with a ring buffer of recent events
// for rate computation. All methods are safe for concurrent use.
type Tracker struct {
	received   int64
	decoded    int64
	duplicates int64
	dropped    int64

	buffer IngestStore
}

func NewTracker() *Tracker {
	return &Tracker{buffer: NewBuffer(defaultBufferSize)}
}

// ObserveCommit records a packet committed to the store.
func (t *Tracker) ObserveCommit(timestamp time.Time, port models.PortNum, decoded bool) {
	atomic.AddInt64(&t.received, 1)

	if decoded {
		atomic.AddInt64(&t.decoded, 1)
	}

	t.buffer.Add(timestamp, port, decoded)
}

// ObserveDuplicate records a re-report of an already committed transmission.
func (t *Tracker) ObserveDuplicate() {
	atomic.AddInt64(&t.duplicates, 1)
}

// ObserveDrop records a message discarded before commit, whether from a
// saturated queue or a corrupt envelope.
func (t *Tracker) ObserveDrop() {
	atomic.AddInt64(&t.dropped, 1)
}

// Snapshot computes the current summary.
func (t *Tracker) Snapshot() Snapshot {
	now := time.Now()

	return Snapshot{
		Received:     atomic.LoadInt64(&t.received),
		Decoded:      atomic.LoadInt64(&t.decoded),
		Duplicates:   atomic.LoadInt64(&t.duplicates),
		Dropped:      atomic.LoadInt64(&t.dropped),
		RatePerMin1:  float64(t.buffer.CountSince(now.Add(-time.Minute))),
		RatePerMin15: float64(t.buffer.CountSince(now.Add(-15*time.Minute))) / 15,
	}
}

// RecentPoints exposes the buffered events, newest first.
func (t *Tracker) RecentPoints() []IngestPoint {
	return t.buffer.GetPoints()
}
