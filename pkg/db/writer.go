package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/meshradar/meshradar/pkg/models"
)

const dbOperationTimeout = 5 * time.Second

// CommitMessage applies one ingest cycle's derived rows in a single
// transaction: node upserts, the packet insert, its gateway observation and
// the optional traceroute. A failure anywhere rolls back everything; the
// caller treats the message as dropped.
func (db *DB) CommitMessage(ctx context.Context, rec *models.IngestRecord) (rowID int64, err error) {
	ctx, cancel := context.WithTimeout(ctx, dbOperationTimeout)
	defer cancel()

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrFailedToBeginTx, err)
	}
	defer rollbackOnError(tx, &err)

	for i := range rec.Nodes {
		if err = upsertNode(ctx, tx, &rec.Nodes[i]); err != nil {
			return 0, err
		}
	}

	rowID, err = insertPacket(ctx, tx, &rec.Packet)
	if err != nil {
		return 0, err
	}

	for _, obs := range rec.Packet.Gateways {
		if err = insertGateway(ctx, tx, rowID, obs); err != nil {
			return 0, err
		}
	}

	if rec.Traceroute != nil {
		if err = insertTraceroute(ctx, tx, rowID, rec.Traceroute); err != nil {
			return 0, err
		}
	}

	if err = tx.Commit(); err != nil {
		return 0, fmt.Errorf("%w: commit: %w", ErrFailedToInsert, err)
	}

	return rowID, nil
}

// AppendPacketGateway records an additional gateway sighting of an already
// committed packet. Gateways legitimately re-report the same transmission;
// this is the non-duplicate path for those re-reports.
func (db *DB) AppendPacketGateway(ctx context.Context, packetRow int64, obs models.GatewayObservation) error {
	ctx, cancel := context.WithTimeout(ctx, dbOperationTimeout)
	defer cancel()

	// A gateway can re-report the same transmission; only its first
	// observation is kept.
	_, err := db.ExecContext(ctx, `
        INSERT OR IGNORE INTO packet_gateways (packet_row_id, gateway_id, rssi, snr, observed_at)
        VALUES (?, ?, ?, ?, ?)
    `, packetRow, obs.GatewayID, obs.RSSI, obs.SNR, obs.ObservedAt)
	if err != nil {
		return fmt.Errorf("%w packet gateway: %w", ErrFailedToInsert, err)
	}

	return nil
}

// upsertNode creates or updates a node row. Only fields present in the
// observation are written, and only when the observation is newer than the
// stored last-seen time; stale observations are a no-op.
func upsertNode(ctx context.Context, tx *sql.Tx, obs *models.NodeObservation) error {
	var lastSeen time.Time

	err := tx.QueryRowContext(ctx,
		"SELECT last_seen FROM nodes WHERE node_id = ?", obs.ID,
	).Scan(&lastSeen)

	switch {
	case errors.Is(err, sql.ErrNoRows):
		return insertNode(ctx, tx, obs)
	case err != nil:
		return fmt.Errorf("%w node: %w", ErrFailedToQuery, err)
	}

	if !obs.ObservedAt.After(lastSeen) {
		return nil
	}

	sets := []string{"last_seen = ?"}
	args := []interface{}{obs.ObservedAt}

	addSet := func(col string, v interface{}) {
		sets = append(sets, col+" = ?")
		args = append(args, v)
	}

	appendObservedFields(obs, addSet)
	args = append(args, obs.ID)

	query := "UPDATE nodes SET " + strings.Join(sets, ", ") + " WHERE node_id = ?"
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("%w node: %w", ErrFailedToUpsert, err)
	}

	return nil
}

func insertNode(ctx context.Context, tx *sql.Tx, obs *models.NodeObservation) error {
	cols := []string{"node_id", "first_seen", "last_seen"}
	args := []interface{}{obs.ID, obs.ObservedAt, obs.ObservedAt}

	addCol := func(col string, v interface{}) {
		cols = append(cols, col)
		args = append(args, v)
	}

	appendObservedFields(obs, addCol)

	query := "INSERT INTO nodes (" + strings.Join(cols, ", ") + ") VALUES (?" +
		strings.Repeat(", ?", len(cols)-1) + ")"
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("%w node: %w", ErrFailedToInsert, err)
	}

	return nil
}

// appendObservedFields feeds the non-nil attribute fields of an observation
// to add, keeping the insert and update paths in sync.
func appendObservedFields(obs *models.NodeObservation, add func(col string, v interface{})) {
	if obs.LongName != nil {
		add("long_name", *obs.LongName)
	}

	if obs.ShortName != nil {
		add("short_name", *obs.ShortName)
	}

	if obs.HWModel != nil {
		add("hw_model", *obs.HWModel)
	}

	if obs.Role != nil {
		add("role", *obs.Role)
	}

	if obs.Latitude != nil {
		add("latitude", *obs.Latitude)
	}

	if obs.Longitude != nil {
		add("longitude", *obs.Longitude)
	}

	if obs.Altitude != nil {
		add("altitude", *obs.Altitude)
	}

	if obs.PositionTime != nil {
		add("position_time", *obs.PositionTime)
	}

	if obs.BatteryLevel != nil {
		add("battery_level", *obs.BatteryLevel)
	}

	if obs.Voltage != nil {
		add("voltage", *obs.Voltage)
	}

	if obs.ChannelUtilization != nil {
		add("channel_utilization", *obs.ChannelUtilization)
	}

	if obs.AirUtilTx != nil {
		add("air_util_tx", *obs.AirUtilTx)
	}
}

func insertPacket(ctx context.Context, tx *sql.Tx, p *models.Packet) (int64, error) {
	res, err := tx.ExecContext(ctx, `
        INSERT INTO packets (
            packet_id, from_node, to_node, channel, port, port_name,
            rssi, snr, hop_limit, hop_start, hops_taken,
            encrypted, decoded, payload, decoded_json, received_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
    `,
		p.PacketID, p.From, p.To, p.Channel, uint32(p.Port), p.Port.String(),
		p.RSSI, p.SNR, p.HopLimit, p.HopStart, p.HopsTaken,
		p.Encrypted, p.Decoded, p.Payload, nullableJSON(p.DecodedMsg), p.ReceivedAt)
	if err != nil {
		return 0, fmt.Errorf("%w packet: %w", ErrFailedToInsert, err)
	}

	rowID, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("%w packet id: %w", ErrFailedToInsert, err)
	}

	return rowID, nil
}

func insertGateway(ctx context.Context, tx *sql.Tx, rowID int64, obs models.GatewayObservation) error {
	_, err := tx.ExecContext(ctx, `
        INSERT OR IGNORE INTO packet_gateways (packet_row_id, gateway_id, rssi, snr, observed_at)
        VALUES (?, ?, ?, ?, ?)
    `, rowID, obs.GatewayID, obs.RSSI, obs.SNR, obs.ObservedAt)
	if err != nil {
		return fmt.Errorf("%w packet gateway: %w", ErrFailedToInsert, err)
	}

	return nil
}

func insertTraceroute(ctx context.Context, tx *sql.Tx, packetRow int64, tr *models.Traceroute) error {
	res, err := tx.ExecContext(ctx, `
        INSERT INTO traceroutes (packet_row_id, packet_id, from_node, to_node, received_at)
        VALUES (?, ?, ?, ?, ?)
    `, packetRow, tr.PacketID, tr.From, tr.To, tr.ReceivedAt)
	if err != nil {
		return fmt.Errorf("%w traceroute: %w", ErrFailedToInsert, err)
	}

	trID, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("%w traceroute id: %w", ErrFailedToInsert, err)
	}

	for _, hop := range tr.Hops {
		_, err := tx.ExecContext(ctx, `
            INSERT INTO traceroute_hops (traceroute_id, seq, node_id, snr, is_back)
            VALUES (?, ?, ?, ?, ?)
        `, trID, hop.Seq, hop.NodeID, hop.SNR, hop.Back)
		if err != nil {
			return fmt.Errorf("%w traceroute hop: %w", ErrFailedToInsert, err)
		}
	}

	return nil
}

func nullableJSON(raw []byte) interface{} {
	if len(raw) == 0 {
		return nil
	}

	return string(raw)
}
