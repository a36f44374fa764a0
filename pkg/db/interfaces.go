// Package db pkg/db/interfaces.go
package db

import (
	"context"
	"time"

	"github.com/meshradar/meshradar/pkg/models"
)

//go:generate mockgen -destination=mock_db.go -package=db github.com/meshradar/meshradar/pkg/db Service

// Stats is the summary the read side serves for the dashboard landing view.
type Stats struct {
	Nodes          int64     `json:"nodes"`
	Packets        int64     `json:"packets"`
	Undecoded      int64     `json:"undecoded"`
	Traceroutes    int64     `json:"traceroutes"`
	LastPacketTime time.Time `json:"last_packet_time"`
}

// Service represents all store operations. The capture pipeline is the only
// writer; everything else consumes the read accessors.
type Service interface {
	Close() error

	// Write path, owned by the ingest pipeline.

	CommitMessage(ctx context.Context, rec *models.IngestRecord) (int64, error)
	AppendPacketGateway(ctx context.Context, packetRow int64, obs models.GatewayObservation) error

	// Read accessors for the dashboard.

	GetNode(ctx context.Context, id uint32) (*models.Node, error)
	ListNodes(ctx context.Context, filter models.NodeFilter) ([]models.Node, error)
	ListPackets(ctx context.Context, filter models.PacketFilter) ([]models.Packet, error)
	GetTraceroute(ctx context.Context, packetID uint32) (*models.Traceroute, error)
	ListTraceroutes(ctx context.Context, limit int) ([]models.Traceroute, error)
	LinkStats(ctx context.Context, since time.Time) ([]models.LinkStat, error)
	Stats(ctx context.Context) (*Stats, error)

	// Maintenance.

	CleanOldData(ctx context.Context, retention time.Duration) error
}
