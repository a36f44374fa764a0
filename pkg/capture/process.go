package capture

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"time"

	"github.com/meshradar/meshradar/pkg/db"
	"github.com/meshradar/meshradar/pkg/models"
	"github.com/meshradar/meshradar/pkg/wire"
)

const (
	commitRetries = 3
	commitBackoff = 250 * time.Millisecond
)

// rawMessage is one inbound bus message, tagged on arrival. It exists only
// for the duration of one ingest cycle.
type rawMessage struct {
	topic      string
	payload    []byte
	receivedAt time.Time
}

// process runs one message through decode, parse, interpret, dedup and
// commit. Every failure is contained to this message: corrupt envelopes are
// dropped, undecodable payloads degrade to an unknown-port row with raw bytes
// preserved.
func (s *Service) process(ctx context.Context, raw rawMessage) {
	channel, gateway, err := parseTopic(raw.topic)
	if err != nil {
		s.tracker.ObserveDrop()
		s.logDecodeFailure("dropping message: %v", err)

		return
	}

	env, err := wire.DecodeEnvelope(raw.payload)
	if err != nil {
		s.tracker.ObserveDrop()
		s.logDecodeFailure("dropping corrupt envelope from %s: %v", raw.topic, err)

		return
	}

	// The envelope's own identifiers win over topic position when present.
	if env.ChannelID != "" {
		channel = env.ChannelID
	}

	if env.GatewayID != "" {
		gateway = env.GatewayID
	}

	pkt := &env.Packet
	obs := models.GatewayObservation{
		GatewayID:  gateway,
		RSSI:       pkt.RxRSSI,
		SNR:        float64(pkt.RxSNR),
		ObservedAt: raw.receivedAt,
	}

	// The transmission key is claimed before the commit so that concurrent
	// copies of one transmission cannot both insert a row. Packet id zero is
	// never deduplicated; some firmware emits it for locally generated
	// frames.
	var claim *dedupEntry

	if pkt.ID != 0 {
		key := dedupKey{from: pkt.From, packetID: pkt.ID}

		for claim == nil {
			entry, winner := s.window.Claim(key)
			if winner {
				claim = entry

				break
			}

			// Another worker holds this transmission; once its row exists
			// this copy only extends the gateway metadata.
			if rowID, ok := entry.Wait(); ok {
				s.tracker.ObserveDuplicate()

				if err := s.store.AppendPacketGateway(ctx, rowID, obs); err != nil {
					log.Printf("Failed to append gateway observation: %v", err)
				}

				return
			}
			// The holder failed to commit and released the key; contend for
			// the claim again.
		}
	}

	rec := s.buildRecord(pkt, channel, obs, raw.receivedAt)

	rowID, err := s.commitWithRetry(ctx, rec)
	if err != nil {
		if claim != nil {
			s.window.Release(claim)
		}

		s.tracker.ObserveDrop()
		log.Printf("Dropping message after failed commit: %v", err)

		return
	}

	if claim != nil {
		s.window.Commit(claim, rowID)
	}

	s.tracker.ObserveCommit(raw.receivedAt, rec.Packet.Port, rec.Packet.Decoded)

	if s.sink != nil {
		rec.Packet.RowID = rowID
		s.sink.Publish(&rec.Packet)
	}
}

// buildRecord decrypts, parses and interprets the packet payload, degrading
// to an unknown-port record whenever semantics are lost. It always returns a
// record; by contract the pipeline stores something for every intact
// envelope.
func (s *Service) buildRecord(pkt *wire.MeshPacket, channel string, obs models.GatewayObservation, receivedAt time.Time) *models.IngestRecord {
	plain := pkt.Plain
	encrypted := pkt.Encrypted != nil

	var decodeErr error

	if encrypted {
		key, err := s.keys.Resolve(channel)

		switch {
		case err != nil:
			// No key material at all for this channel; keep the ciphertext.
			decodeErr = err
		case key == nil:
			// Channel configured unencrypted; the bytes are a plain frame.
			plain = pkt.Encrypted
		default:
			plain, decodeErr = wire.DecryptPayload(key, pkt.ID, pkt.From, pkt.Encrypted)
		}
	}

	var (
		data *wire.Data
		fact interface{}
	)

	if decodeErr == nil {
		data, decodeErr = wire.DecodeData(plain)
	}

	if decodeErr == nil {
		fact, decodeErr = wire.Interpret(data)
	}

	hopsTaken := int32(-1)
	if pkt.HopStart > 0 && pkt.HopStart >= pkt.HopLimit {
		hopsTaken = int32(pkt.HopStart - pkt.HopLimit)
	}

	rec := &models.IngestRecord{
		Packet: models.Packet{
			PacketID:   pkt.ID,
			From:       pkt.From,
			To:         pkt.To,
			Channel:    channel,
			Port:       models.PortUnknown,
			RSSI:       pkt.RxRSSI,
			SNR:        float64(pkt.RxSNR),
			HopLimit:   pkt.HopLimit,
			HopStart:   pkt.HopStart,
			HopsTaken:  hopsTaken,
			Encrypted:  encrypted,
			ReceivedAt: receivedAt,
			Gateways:   []models.GatewayObservation{obs},
		},
	}
	rec.Packet.PortName = rec.Packet.Port.String()

	if decodeErr != nil {
		// Semantics lost; preserve the raw application bytes so the
		// transmission is still queryable.
		if !errors.Is(decodeErr, wire.ErrDecode) {
			s.logDecodeFailure("undecodable payload on %q: %v", channel, decodeErr)
		}

		if encrypted {
			rec.Packet.Payload = pkt.Encrypted
		} else {
			rec.Packet.Payload = plain
		}

		rec.Nodes = s.nodeObservations(rec, nil, receivedAt)

		return rec
	}

	rec.Packet.Port = data.Port
	rec.Packet.PortName = data.Port.String()
	rec.Packet.Decoded = true
	rec.Packet.Payload = data.Payload

	if encoded, err := json.Marshal(fact); err == nil {
		rec.Packet.DecodedMsg = encoded
	}

	rec.Nodes = s.nodeObservations(rec, fact, receivedAt)
	rec.Traceroute = tracerouteRecord(rec, fact, receivedAt)

	return rec
}

// nodeObservations derives the node upserts for this packet: the sender's
// last-seen always, enriched with whatever the interpreted fact reveals.
func (s *Service) nodeObservations(rec *models.IngestRecord, fact interface{}, receivedAt time.Time) []models.NodeObservation {
	from := rec.Packet.From
	if from == 0 || from == models.Broadcast {
		return nil
	}

	obs := models.NodeObservation{ID: from, ObservedAt: receivedAt}

	switch v := fact.(type) {
	case *wire.Position:
		if v.LatitudeI != 0 || v.LongitudeI != 0 {
			lat, lon := v.Latitude(), v.Longitude()
			obs.Latitude = &lat
			obs.Longitude = &lon
			obs.Altitude = &v.Altitude
		}

		if v.Time != 0 {
			posTime := time.Unix(int64(v.Time), 0).UTC()
			obs.PositionTime = &posTime
		}
	case *wire.Telemetry:
		if v.Device != nil {
			battery := int64(v.Device.BatteryLevel)
			voltage := float64(v.Device.Voltage)
			chUtil := float64(v.Device.ChannelUtilization)
			airUtil := float64(v.Device.AirUtilTx)
			obs.BatteryLevel = &battery
			obs.Voltage = &voltage
			obs.ChannelUtilization = &chUtil
			obs.AirUtilTx = &airUtil
		}
	case *wire.NodeInfo:
		obs.LongName = &v.LongName
		obs.ShortName = &v.ShortName
		obs.HWModel = &v.HWModel
		obs.Role = &v.Role
	}

	return []models.NodeObservation{obs}
}

// tracerouteRecord lifts a route discovery fact into a persistable hop list.
// Hop order is exactly as reported; per-hop SNR pairs index-wise with the hop
// it was measured toward.
func tracerouteRecord(rec *models.IngestRecord, fact interface{}, receivedAt time.Time) *models.Traceroute {
	rd, ok := fact.(*wire.RouteDiscovery)
	if !ok {
		return nil
	}

	tr := &models.Traceroute{
		PacketID:   rec.Packet.PacketID,
		From:       rec.Packet.From,
		To:         rec.Packet.To,
		ReceivedAt: receivedAt,
	}

	for i, node := range rd.Route {
		hop := models.TracerouteHop{Seq: i, NodeID: node}
		if i < len(rd.SNRTowards) {
			hop.SNR = rd.SNRTowards[i]
		}

		tr.Hops = append(tr.Hops, hop)
	}

	for i, node := range rd.RouteBack {
		hop := models.TracerouteHop{Seq: i, NodeID: node, Back: true}
		if i < len(rd.SNRBack) {
			hop.SNR = rd.SNRBack[i]
		}

		tr.Hops = append(tr.Hops, hop)
	}

	return tr
}

// commitWithRetry retries transient store contention a bounded number of
// times before giving up on the message. Structural failures are never
// retried.
func (s *Service) commitWithRetry(ctx context.Context, rec *models.IngestRecord) (int64, error) {
	var (
		rowID int64
		err   error
	)

	for attempt := 0; attempt < commitRetries; attempt++ {
		rowID, err = s.store.CommitMessage(ctx, rec)
		if err == nil {
			return rowID, nil
		}

		if !db.IsTransient(err) || attempt+1 == commitRetries {
			break
		}

		select {
		case <-time.After(commitBackoff):
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}

	return 0, err
}

// logDecodeFailure logs hostile-input failures through a rate limiter so a
// flood of garbage cannot drown the log.
func (s *Service) logDecodeFailure(format string, args ...interface{}) {
	if s.decodeLogLimiter.Allow() {
		log.Printf(format, args...)
	}
}
