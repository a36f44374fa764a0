package metrics

import (
	"time"

	"github.com/meshradar/meshradar/pkg/models"
)

//go:generate mockgen -destination=mock_metrics.go -package=metrics github.com/meshradar/meshradar/pkg/metrics IngestStore

// IngestStore buffers recent ingest events for rate queries.
type IngestStore interface {
	Add(timestamp time.Time, port models.PortNum, decoded bool)
	GetPoints() []IngestPoint
	CountSince(cutoff time.Time) int64
}
