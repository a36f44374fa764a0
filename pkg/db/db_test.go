package db

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/meshradar/meshradar/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDB(t *testing.T) Service {
	t.Helper()

	svc, err := New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, svc.Close())
	})

	return svc
}

func strPtr(s string) *string                  { return &s }
func f64Ptr(f float64) *float64                { return &f }
func u32Ptr(v uint32) *uint32                  { return &v }
func portPtr(p models.PortNum) *models.PortNum { return &p }

func testRecord(packetID uint32, receivedAt time.Time) *models.IngestRecord {
	return &models.IngestRecord{
		Packet: models.Packet{
			PacketID:   packetID,
			From:       0x12345678,
			To:         models.Broadcast,
			Channel:    "LongFast",
			Port:       models.PortPosition,
			RSSI:       -95,
			SNR:        5.5,
			HopLimit:   3,
			HopStart:   5,
			HopsTaken:  2,
			Encrypted:  true,
			Decoded:    true,
			Payload:    []byte{0x01, 0x02},
			ReceivedAt: receivedAt,
			Gateways: []models.GatewayObservation{
				{GatewayID: "!aabbccdd", RSSI: -95, SNR: 5.5, ObservedAt: receivedAt},
			},
		},
		Nodes: []models.NodeObservation{
			{ID: 0x12345678, ObservedAt: receivedAt, Latitude: f64Ptr(37.7749), Longitude: f64Ptr(-122.4194)},
		},
	}
}

func TestCommitMessageAndListPackets(t *testing.T) {
	svc := newTestDB(t)
	ctx := context.Background()
	now := time.Now().UTC()

	rowID, err := svc.CommitMessage(ctx, testRecord(42, now))
	require.NoError(t, err)
	assert.Positive(t, rowID)

	packets, err := svc.ListPackets(ctx, models.PacketFilter{})
	require.NoError(t, err)
	require.Len(t, packets, 1)

	p := packets[0]
	assert.Equal(t, uint32(42), p.PacketID)
	assert.Equal(t, uint32(0x12345678), p.From)
	assert.Equal(t, models.PortPosition, p.Port)
	assert.Equal(t, "position", p.PortName)
	assert.Equal(t, int32(2), p.HopsTaken)
	assert.True(t, p.Decoded)
	require.Len(t, p.Gateways, 1)
	assert.Equal(t, "!aabbccdd", p.Gateways[0].GatewayID)

	node, err := svc.GetNode(ctx, 0x12345678)
	require.NoError(t, err)
	require.NotNil(t, node.Latitude)
	assert.InDelta(t, 37.7749, *node.Latitude, 1e-9)
	assert.Nil(t, node.LongName)
}

func TestAppendPacketGateway(t *testing.T) {
	svc := newTestDB(t)
	ctx := context.Background()
	now := time.Now().UTC()

	rowID, err := svc.CommitMessage(ctx, testRecord(42, now))
	require.NoError(t, err)

	err = svc.AppendPacketGateway(ctx, rowID, models.GatewayObservation{
		GatewayID:  "!11223344",
		RSSI:       -102,
		SNR:        -3.25,
		ObservedAt: now.Add(time.Second),
	})
	require.NoError(t, err)

	packets, err := svc.ListPackets(ctx, models.PacketFilter{})
	require.NoError(t, err)
	require.Len(t, packets, 1)
	require.Len(t, packets[0].Gateways, 2)

	seen := map[string]bool{}
	for _, gw := range packets[0].Gateways {
		seen[gw.GatewayID] = true
	}

	assert.True(t, seen["!aabbccdd"])
	assert.True(t, seen["!11223344"])
}

func TestAppendPacketGatewayIdempotentPerGateway(t *testing.T) {
	svc := newTestDB(t)
	ctx := context.Background()
	now := time.Now().UTC()

	rowID, err := svc.CommitMessage(ctx, testRecord(42, now))
	require.NoError(t, err)

	// The same gateway re-reporting the transmission keeps its first
	// observation row.
	for i := 0; i < 2; i++ {
		err = svc.AppendPacketGateway(ctx, rowID, models.GatewayObservation{
			GatewayID:  "!aabbccdd",
			RSSI:       -90,
			SNR:        2.0,
			ObservedAt: now.Add(time.Duration(i+1) * time.Second),
		})
		require.NoError(t, err)
	}

	packets, err := svc.ListPackets(ctx, models.PacketFilter{})
	require.NoError(t, err)
	require.Len(t, packets, 1)
	require.Len(t, packets[0].Gateways, 1)

	gw := packets[0].Gateways[0]
	assert.Equal(t, "!aabbccdd", gw.GatewayID)
	assert.Equal(t, int32(-95), gw.RSSI)
}

func TestNodeLastSeenMonotonic(t *testing.T) {
	svc := newTestDB(t)
	ctx := context.Background()
	now := time.Now().UTC()

	newName := "Current Name"
	oldName := "Stale Name"

	_, err := svc.CommitMessage(ctx, &models.IngestRecord{
		Packet: models.Packet{PacketID: 1, From: 7, Channel: "c", ReceivedAt: now},
		Nodes: []models.NodeObservation{
			{ID: 7, ObservedAt: now, LongName: strPtr(newName)},
		},
	})
	require.NoError(t, err)

	// An out-of-order packet with an older observed timestamp must not
	// overwrite newer stored fields.
	_, err = svc.CommitMessage(ctx, &models.IngestRecord{
		Packet: models.Packet{PacketID: 2, From: 7, Channel: "c", ReceivedAt: now.Add(-time.Hour)},
		Nodes: []models.NodeObservation{
			{ID: 7, ObservedAt: now.Add(-time.Hour), LongName: strPtr(oldName)},
		},
	})
	require.NoError(t, err)

	node, err := svc.GetNode(ctx, 7)
	require.NoError(t, err)
	require.NotNil(t, node.LongName)
	assert.Equal(t, newName, *node.LongName)
	assert.WithinDuration(t, now, node.LastSeen, time.Second)
}

func TestNodePartialObservationMerge(t *testing.T) {
	svc := newTestDB(t)
	ctx := context.Background()
	now := time.Now().UTC()

	_, err := svc.CommitMessage(ctx, &models.IngestRecord{
		Packet: models.Packet{PacketID: 1, From: 9, Channel: "c", ReceivedAt: now},
		Nodes: []models.NodeObservation{
			{ID: 9, ObservedAt: now, LongName: strPtr("Niner"), ShortName: strPtr("N9")},
		},
	})
	require.NoError(t, err)

	// A later observation carrying only position must keep the names.
	later := now.Add(time.Minute)
	_, err = svc.CommitMessage(ctx, &models.IngestRecord{
		Packet: models.Packet{PacketID: 2, From: 9, Channel: "c", ReceivedAt: later},
		Nodes: []models.NodeObservation{
			{ID: 9, ObservedAt: later, Latitude: f64Ptr(1.5), Longitude: f64Ptr(2.5)},
		},
	})
	require.NoError(t, err)

	node, err := svc.GetNode(ctx, 9)
	require.NoError(t, err)
	require.NotNil(t, node.LongName)
	assert.Equal(t, "Niner", *node.LongName)
	require.NotNil(t, node.Latitude)
	assert.InDelta(t, 1.5, *node.Latitude, 1e-9)
	assert.WithinDuration(t, later, node.LastSeen, time.Second)
}

func TestListPacketsFilters(t *testing.T) {
	svc := newTestDB(t)
	ctx := context.Background()
	base := time.Now().UTC().Add(-time.Hour)

	rec1 := testRecord(1, base)
	rec1.Packet.Port = models.PortPosition
	rec1.Packet.SNR = 8

	rec2 := testRecord(2, base.Add(30*time.Minute))
	rec2.Packet.Port = models.PortTelemetry
	rec2.Packet.From = 0x99
	rec2.Nodes[0].ID = 0x99
	rec2.Packet.SNR = -12

	for _, rec := range []*models.IngestRecord{rec1, rec2} {
		_, err := svc.CommitMessage(ctx, rec)
		require.NoError(t, err)
	}

	t.Run("by port", func(t *testing.T) {
		packets, err := svc.ListPackets(ctx, models.PacketFilter{Port: portPtr(models.PortTelemetry)})
		require.NoError(t, err)
		require.Len(t, packets, 1)
		assert.Equal(t, uint32(2), packets[0].PacketID)
	})

	t.Run("by sender", func(t *testing.T) {
		packets, err := svc.ListPackets(ctx, models.PacketFilter{From: u32Ptr(0x12345678)})
		require.NoError(t, err)
		require.Len(t, packets, 1)
		assert.Equal(t, uint32(1), packets[0].PacketID)
	})

	t.Run("by time range", func(t *testing.T) {
		packets, err := svc.ListPackets(ctx, models.PacketFilter{Since: base.Add(15 * time.Minute)})
		require.NoError(t, err)
		require.Len(t, packets, 1)
		assert.Equal(t, uint32(2), packets[0].PacketID)
	})

	t.Run("by signal threshold", func(t *testing.T) {
		minSNR := 0.0
		packets, err := svc.ListPackets(ctx, models.PacketFilter{MinSNR: &minSNR})
		require.NoError(t, err)
		require.Len(t, packets, 1)
		assert.Equal(t, uint32(1), packets[0].PacketID)
	})
}

func TestTraceroutePersistence(t *testing.T) {
	svc := newTestDB(t)
	ctx := context.Background()
	now := time.Now().UTC()

	rec := testRecord(77, now)
	rec.Packet.Port = models.PortTraceroute
	rec.Traceroute = &models.Traceroute{
		PacketID:   77,
		From:       0x12345678,
		To:         0x99,
		ReceivedAt: now,
		Hops: []models.TracerouteHop{
			{Seq: 0, NodeID: 0x11, SNR: 5.25},
			{Seq: 1, NodeID: 0x22, SNR: -7.5},
		},
	}

	_, err := svc.CommitMessage(ctx, rec)
	require.NoError(t, err)

	tr, err := svc.GetTraceroute(ctx, 77)
	require.NoError(t, err)
	require.Len(t, tr.Hops, 2)
	assert.Equal(t, uint32(0x11), tr.Hops[0].NodeID)
	assert.Equal(t, uint32(0x22), tr.Hops[1].NodeID)
	assert.InDelta(t, -7.5, tr.Hops[1].SNR, 1e-9)

	_, err = svc.GetTraceroute(ctx, 78)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestTracerouteEmptyHopList(t *testing.T) {
	svc := newTestDB(t)
	ctx := context.Background()
	now := time.Now().UTC()

	rec := testRecord(80, now)
	rec.Traceroute = &models.Traceroute{PacketID: 80, From: 1, To: 2, ReceivedAt: now}

	_, err := svc.CommitMessage(ctx, rec)
	require.NoError(t, err)

	tr, err := svc.GetTraceroute(ctx, 80)
	require.NoError(t, err)
	assert.Empty(t, tr.Hops)
}

func TestLinkStats(t *testing.T) {
	svc := newTestDB(t)
	ctx := context.Background()
	now := time.Now().UTC()

	rec := testRecord(90, now)
	rec.Traceroute = &models.Traceroute{
		PacketID:   90,
		From:       1,
		To:         4,
		ReceivedAt: now,
		Hops: []models.TracerouteHop{
			{Seq: 0, NodeID: 1},
			{Seq: 1, NodeID: 2, SNR: 4},
			{Seq: 2, NodeID: 3, SNR: 6},
		},
	}

	_, err := svc.CommitMessage(ctx, rec)
	require.NoError(t, err)

	links, err := svc.LinkStats(ctx, now.Add(-time.Minute))
	require.NoError(t, err)
	require.Len(t, links, 2)

	byPair := map[[2]uint32]models.LinkStat{}
	for _, l := range links {
		byPair[[2]uint32{l.NodeA, l.NodeB}] = l
	}

	l12, ok := byPair[[2]uint32{1, 2}]
	require.True(t, ok)
	assert.InDelta(t, 4, l12.AvgSNR, 1e-9)

	_, ok = byPair[[2]uint32{2, 3}]
	assert.True(t, ok)
}

func TestStatsAndClean(t *testing.T) {
	svc := newTestDB(t)
	ctx := context.Background()
	now := time.Now().UTC()

	_, err := svc.CommitMessage(ctx, testRecord(1, now.Add(-48*time.Hour)))
	require.NoError(t, err)

	rec := testRecord(2, now)
	rec.Packet.Decoded = false
	rec.Packet.Port = models.PortUnknown
	_, err = svc.CommitMessage(ctx, rec)
	require.NoError(t, err)

	stats, err := svc.Stats(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, stats.Nodes)
	assert.EqualValues(t, 2, stats.Packets)
	assert.EqualValues(t, 1, stats.Undecoded)

	require.NoError(t, svc.CleanOldData(ctx, 24*time.Hour))

	packets, err := svc.ListPackets(ctx, models.PacketFilter{})
	require.NoError(t, err)
	require.Len(t, packets, 1)
	assert.Equal(t, uint32(2), packets[0].PacketID)

	// Retention never deletes nodes.
	_, err = svc.GetNode(ctx, 0x12345678)
	assert.NoError(t, err)
}
