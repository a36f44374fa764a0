// Package capture pkg/capture/interfaces.go
package capture

import "github.com/meshradar/meshradar/pkg/models"

//go:generate mockgen -destination=mock_capture.go -package=capture github.com/meshradar/meshradar/pkg/capture PacketSink

// PacketSink receives every committed packet, in commit order per worker.
// Implementations must not block; the pipeline calls Publish on the ingest
// path.
type PacketSink interface {
	Publish(p *models.Packet)
}
