package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/meshradar/meshradar/pkg/models"
)

const defaultListLimit = 200

// queryBuilder accumulates WHERE clauses and their arguments for the
// filterable listings.
type queryBuilder struct {
	conds []string
	args  []interface{}
}

func (qb *queryBuilder) add(cond string, args ...interface{}) {
	qb.conds = append(qb.conds, cond)
	qb.args = append(qb.args, args...)
}

func (qb *queryBuilder) where() string {
	if len(qb.conds) == 0 {
		return ""
	}

	return " WHERE " + strings.Join(qb.conds, " AND ")
}

func closeRows(rows *sql.Rows) {
	if err := rows.Close(); err != nil {
		log.Printf("failed to close rows: %v", err)
	}
}

const nodeColumns = `node_id, long_name, short_name, hw_model, role,
        first_seen, last_seen, latitude, longitude, altitude, position_time,
        battery_level, voltage, channel_utilization, air_util_tx`

// GetNode fetches a single node row. ErrNotFound when the address has never
// been observed.
func (db *DB) GetNode(ctx context.Context, id uint32) (*models.Node, error) {
	row := db.QueryRowContext(ctx,
		"SELECT "+nodeColumns+" FROM nodes WHERE node_id = ?", id)

	node, err := scanNode(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: node %d", ErrNotFound, id)
	}

	if err != nil {
		return nil, fmt.Errorf("%w node: %w", ErrFailedToScan, err)
	}

	return node, nil
}

// ListNodes returns nodes matching the filter, most recently seen first.
func (db *DB) ListNodes(ctx context.Context, filter models.NodeFilter) ([]models.Node, error) {
	qb := &queryBuilder{}

	if !filter.ActiveSince.IsZero() {
		qb.add("last_seen >= ?", filter.ActiveSince)
	}

	if filter.Role != "" {
		qb.add("role = ?", filter.Role)
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}

	query := "SELECT " + nodeColumns + " FROM nodes" + qb.where() +
		" ORDER BY last_seen DESC LIMIT ?"
	qb.args = append(qb.args, limit)

	rows, err := db.QueryContext(ctx, query, qb.args...)
	if err != nil {
		return nil, fmt.Errorf("%w nodes: %w", ErrFailedToQuery, err)
	}
	defer closeRows(rows)

	var nodes []models.Node

	for rows.Next() {
		node, err := scanNode(rows)
		if err != nil {
			return nil, fmt.Errorf("%w node row: %w", ErrFailedToScan, err)
		}

		nodes = append(nodes, *node)
	}

	return nodes, rows.Err()
}

type scannable interface {
	Scan(dest ...interface{}) error
}

func scanNode(row scannable) (*models.Node, error) {
	var (
		node                                          models.Node
		longName, shortName, hwModel, role            sql.NullString
		latitude, longitude, voltage, chUtil, airUtil sql.NullFloat64
		altitude, batteryLevel                        sql.NullInt64
		positionTime                                  sql.NullTime
	)

	err := row.Scan(
		&node.ID, &longName, &shortName, &hwModel, &role,
		&node.FirstSeen, &node.LastSeen, &latitude, &longitude, &altitude,
		&positionTime, &batteryLevel, &voltage, &chUtil, &airUtil,
	)
	if err != nil {
		return nil, err
	}

	if longName.Valid {
		node.LongName = &longName.String
	}

	if shortName.Valid {
		node.ShortName = &shortName.String
	}

	if hwModel.Valid {
		node.HWModel = &hwModel.String
	}

	if role.Valid {
		node.Role = &role.String
	}

	if latitude.Valid {
		node.Latitude = &latitude.Float64
	}

	if longitude.Valid {
		node.Longitude = &longitude.Float64
	}

	if altitude.Valid {
		alt := int32(altitude.Int64)
		node.Altitude = &alt
	}

	if positionTime.Valid {
		node.PositionTime = &positionTime.Time
	}

	if batteryLevel.Valid {
		node.BatteryLevel = &batteryLevel.Int64
	}

	if voltage.Valid {
		node.Voltage = &voltage.Float64
	}

	if chUtil.Valid {
		node.ChannelUtilization = &chUtil.Float64
	}

	if airUtil.Valid {
		node.AirUtilTx = &airUtil.Float64
	}

	return &node, nil
}

// ListPackets returns packets matching the filter, newest first, with their
// gateway observation lists attached.
func (db *DB) ListPackets(ctx context.Context, filter models.PacketFilter) ([]models.Packet, error) {
	qb := &queryBuilder{}

	if !filter.Since.IsZero() {
		qb.add("received_at >= ?", filter.Since)
	}

	if !filter.Until.IsZero() {
		qb.add("received_at <= ?", filter.Until)
	}

	if filter.From != nil {
		qb.add("from_node = ?", *filter.From)
	}

	if filter.Port != nil {
		qb.add("port = ?", uint32(*filter.Port))
	}

	if filter.Channel != "" {
		qb.add("channel = ?", filter.Channel)
	}

	if filter.MinRSSI != nil {
		qb.add("rssi >= ?", *filter.MinRSSI)
	}

	if filter.MinSNR != nil {
		qb.add("snr >= ?", *filter.MinSNR)
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}

	query := `
        SELECT id, packet_id, from_node, to_node, channel, port,
               rssi, snr, hop_limit, hop_start, hops_taken,
               encrypted, decoded, payload, decoded_json, received_at
        FROM packets` + qb.where() + " ORDER BY received_at DESC LIMIT ?"
	qb.args = append(qb.args, limit)

	rows, err := db.QueryContext(ctx, query, qb.args...)
	if err != nil {
		return nil, fmt.Errorf("%w packets: %w", ErrFailedToQuery, err)
	}
	defer closeRows(rows)

	var packets []models.Packet

	for rows.Next() {
		var (
			p           models.Packet
			port        uint32
			decodedJSON sql.NullString
		)

		err := rows.Scan(
			&p.RowID, &p.PacketID, &p.From, &p.To, &p.Channel, &port,
			&p.RSSI, &p.SNR, &p.HopLimit, &p.HopStart, &p.HopsTaken,
			&p.Encrypted, &p.Decoded, &p.Payload, &decodedJSON, &p.ReceivedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("%w packet row: %w", ErrFailedToScan, err)
		}

		p.Port = models.PortNum(port)
		p.PortName = p.Port.String()

		if decodedJSON.Valid {
			p.DecodedMsg = json.RawMessage(decodedJSON.String)
		}

		packets = append(packets, p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w packets: %w", ErrFailedToQuery, err)
	}

	for i := range packets {
		gateways, err := db.packetGateways(ctx, packets[i].RowID)
		if err != nil {
			return nil, err
		}

		packets[i].Gateways = gateways
	}

	return packets, nil
}

func (db *DB) packetGateways(ctx context.Context, rowID int64) ([]models.GatewayObservation, error) {
	rows, err := db.QueryContext(ctx, `
        SELECT gateway_id, rssi, snr, observed_at
        FROM packet_gateways
        WHERE packet_row_id = ?
        ORDER BY observed_at
    `, rowID)
	if err != nil {
		return nil, fmt.Errorf("%w packet gateways: %w", ErrFailedToQuery, err)
	}
	defer closeRows(rows)

	var gateways []models.GatewayObservation

	for rows.Next() {
		var obs models.GatewayObservation
		if err := rows.Scan(&obs.GatewayID, &obs.RSSI, &obs.SNR, &obs.ObservedAt); err != nil {
			return nil, fmt.Errorf("%w gateway row: %w", ErrFailedToScan, err)
		}

		gateways = append(gateways, obs)
	}

	return gateways, rows.Err()
}

// GetTraceroute fetches the hop chain carried by the given originating packet
// id, most recent observation when the id was reused.
func (db *DB) GetTraceroute(ctx context.Context, packetID uint32) (*models.Traceroute, error) {
	row := db.QueryRowContext(ctx, `
        SELECT id, packet_row_id, packet_id, from_node, to_node, received_at
        FROM traceroutes
        WHERE packet_id = ?
        ORDER BY received_at DESC
        LIMIT 1
    `, packetID)

	var tr models.Traceroute

	err := row.Scan(&tr.RowID, &tr.PacketRow, &tr.PacketID, &tr.From, &tr.To, &tr.ReceivedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: traceroute for packet %d", ErrNotFound, packetID)
	}

	if err != nil {
		return nil, fmt.Errorf("%w traceroute: %w", ErrFailedToScan, err)
	}

	if err := db.loadHops(ctx, &tr); err != nil {
		return nil, err
	}

	return &tr, nil
}

// ListTraceroutes returns recent traceroutes with hop chains, newest first.
func (db *DB) ListTraceroutes(ctx context.Context, limit int) ([]models.Traceroute, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}

	rows, err := db.QueryContext(ctx, `
        SELECT id, packet_row_id, packet_id, from_node, to_node, received_at
        FROM traceroutes
        ORDER BY received_at DESC
        LIMIT ?
    `, limit)
	if err != nil {
		return nil, fmt.Errorf("%w traceroutes: %w", ErrFailedToQuery, err)
	}
	defer closeRows(rows)

	var routes []models.Traceroute

	for rows.Next() {
		var tr models.Traceroute
		if err := rows.Scan(&tr.RowID, &tr.PacketRow, &tr.PacketID, &tr.From, &tr.To, &tr.ReceivedAt); err != nil {
			return nil, fmt.Errorf("%w traceroute row: %w", ErrFailedToScan, err)
		}

		routes = append(routes, tr)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w traceroutes: %w", ErrFailedToQuery, err)
	}

	for i := range routes {
		if err := db.loadHops(ctx, &routes[i]); err != nil {
			return nil, err
		}
	}

	return routes, nil
}

func (db *DB) loadHops(ctx context.Context, tr *models.Traceroute) error {
	rows, err := db.QueryContext(ctx, `
        SELECT seq, node_id, snr, is_back
        FROM traceroute_hops
        WHERE traceroute_id = ?
        ORDER BY is_back, seq
    `, tr.RowID)
	if err != nil {
		return fmt.Errorf("%w traceroute hops: %w", ErrFailedToQuery, err)
	}
	defer closeRows(rows)

	for rows.Next() {
		var hop models.TracerouteHop
		if err := rows.Scan(&hop.Seq, &hop.NodeID, &hop.SNR, &hop.Back); err != nil {
			return fmt.Errorf("%w hop row: %w", ErrFailedToScan, err)
		}

		tr.Hops = append(tr.Hops, hop)
	}

	return rows.Err()
}

// LinkStats derives per-node-pair RF aggregates from adjacent traceroute
// hops. Links are directional as reported; nothing is persisted.
func (db *DB) LinkStats(ctx context.Context, since time.Time) ([]models.LinkStat, error) {
	rows, err := db.QueryContext(ctx, `
        SELECT h1.node_id, h2.node_id, COUNT(*), AVG(h2.snr),
               CAST(strftime('%s', MAX(t.received_at)) AS INTEGER)
        FROM traceroute_hops h1
        JOIN traceroute_hops h2
            ON h2.traceroute_id = h1.traceroute_id
            AND h2.is_back = h1.is_back
            AND h2.seq = h1.seq + 1
        JOIN traceroutes t ON t.id = h1.traceroute_id
        WHERE t.received_at >= ?
        GROUP BY h1.node_id, h2.node_id
        ORDER BY COUNT(*) DESC
    `, since)
	if err != nil {
		return nil, fmt.Errorf("%w link stats: %w", ErrFailedToQuery, err)
	}
	defer closeRows(rows)

	var links []models.LinkStat

	for rows.Next() {
		var (
			link     models.LinkStat
			lastSeen int64
		)

		if err := rows.Scan(&link.NodeA, &link.NodeB, &link.Packets, &link.AvgSNR, &lastSeen); err != nil {
			return nil, fmt.Errorf("%w link row: %w", ErrFailedToScan, err)
		}

		link.LastSeen = time.Unix(lastSeen, 0).UTC()
		links = append(links, link)
	}

	return links, rows.Err()
}

// Stats summarizes the store for the dashboard landing view.
func (db *DB) Stats(ctx context.Context) (*Stats, error) {
	stats := &Stats{}

	err := db.QueryRowContext(ctx, `
        SELECT
            (SELECT COUNT(*) FROM nodes),
            (SELECT COUNT(*) FROM packets),
            (SELECT COUNT(*) FROM packets WHERE decoded = 0),
            (SELECT COUNT(*) FROM traceroutes)
    `).Scan(&stats.Nodes, &stats.Packets, &stats.Undecoded, &stats.Traceroutes)
	if err != nil {
		return nil, fmt.Errorf("%w stats: %w", ErrFailedToQuery, err)
	}

	err = db.QueryRowContext(ctx,
		"SELECT received_at FROM packets ORDER BY received_at DESC LIMIT 1",
	).Scan(&stats.LastPacketTime)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w stats: %w", ErrFailedToQuery, err)
	}

	return stats, nil
}

// CleanOldData removes packet-derived rows older than the retention period.
// Node rows are kept; retention never forgets who exists.
func (db *DB) CleanOldData(ctx context.Context, retention time.Duration) (err error) {
	cutoff := time.Now().Add(-retention)

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrFailedToBeginTx, err)
	}
	defer rollbackOnError(tx, &err)

	for _, stmt := range []string{
		"DELETE FROM traceroute_hops WHERE traceroute_id IN (SELECT id FROM traceroutes WHERE received_at < ?)",
		"DELETE FROM traceroutes WHERE received_at < ?",
		"DELETE FROM packet_gateways WHERE packet_row_id IN (SELECT id FROM packets WHERE received_at < ?)",
		"DELETE FROM packets WHERE received_at < ?",
	} {
		if _, err = tx.ExecContext(ctx, stmt, cutoff); err != nil {
			return fmt.Errorf("%w: %w", ErrFailedToClean, err)
		}
	}

	return tx.Commit()
}
