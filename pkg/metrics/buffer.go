// Package metrics tracks ingest throughput for the capture pipeline without
// touching the database on the hot path.
package metrics

import (
	"sync/atomic"
	"time"

	"github.com/meshradar/meshradar/pkg/models"
)

// ingestPoint is one recorded ingest event.
type ingestPoint struct {
	timestamp int64
	port      models.PortNum
	decoded   bool
}

// IngestPoint is the exported view of a recorded ingest event.
type IngestPoint struct {
	Timestamp time.Time      `json:"timestamp"`
	Port      models.PortNum `json:"port"`
	Decoded   bool           `json:"decoded"`
}

// LockFreeRingBuffer holds the most recent ingest events. Writers never
// block; the single atomic position counter makes Add safe from all pipeline
// workers concurrently.
type LockFreeRingBuffer struct {
	points []ingestPoint
	pos    int64 // Atomic position counter
	size   int64
}

// NewBuffer creates an IngestStore with the given capacity.
func NewBuffer(size int) IngestStore {
	return &LockFreeRingBuffer{
		points: make([]ingestPoint, size),
		size:   int64(size),
	}
}

// Add records one ingest event, overwriting the oldest slot once full.
func (b *LockFreeRingBuffer) Add(timestamp time.Time, port models.PortNum, decoded bool) {
	pos := atomic.AddInt64(&b.pos, 1) - 1
	idx := pos % b.size

	b.points[idx] = ingestPoint{
		timestamp: timestamp.UnixNano(),
		port:      port,
		decoded:   decoded,
	}
}

// GetPoints returns the buffered events, newest first. Slots never written
// are filtered out.
func (b *LockFreeRingBuffer) GetPoints() []IngestPoint {
	pos := atomic.LoadInt64(&b.pos)

	n := b.size
	if pos < n {
		n = pos
	}

	points := make([]IngestPoint, 0, n)

	for i := int64(0); i < n; i++ {
		idx := (pos - i - 1 + b.size) % b.size
		p := b.points[idx]

		if p.timestamp == 0 {
			continue
		}

		points = append(points, IngestPoint{
			Timestamp: time.Unix(0, p.timestamp),
			Port:      p.port,
			Decoded:   p.decoded,
		})
	}

	return points
}

// CountSince returns how many buffered events are newer than the cutoff. The
// result saturates at the buffer capacity; a window longer than the buffer
// covers undercounts.
func (b *LockFreeRingBuffer) CountSince(cutoff time.Time) int64 {
	pos := atomic.LoadInt64(&b.pos)
	cutoffNanos := cutoff.UnixNano()

	n := b.size
	if pos < n {
		n = pos
	}

	var count int64

	for i := int64(0); i < n; i++ {
		idx := (pos - i - 1 + b.size) % b.size

		p := b.points[idx]
		if p.timestamp == 0 || p.timestamp < cutoffNanos {
			break
		}

		count++
	}

	return count
}
