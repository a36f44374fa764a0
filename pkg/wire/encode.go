package wire

import (
	"math"

	"google.golang.org/protobuf/encoding/protowire"
)

// Encoders for the wire frames. The capture path is decode-only; these exist
// for reference-vector test fixtures and for bridge tooling that injects
// synthetic traffic.

// EncodeEnvelope serializes a service envelope around an already-built packet.
func EncodeEnvelope(env *Envelope) []byte {
	var b []byte

	b = protowire.AppendTag(b, envFieldPacket, protowire.BytesType)
	b = protowire.AppendBytes(b, EncodeMeshPacket(&env.Packet))

	if env.ChannelID != "" {
		b = protowire.AppendTag(b, envFieldChannel, protowire.BytesType)
		b = protowire.AppendString(b, env.ChannelID)
	}

	if env.GatewayID != "" {
		b = protowire.AppendTag(b, envFieldGateway, protowire.BytesType)
		b = protowire.AppendString(b, env.GatewayID)
	}

	return b
}

// EncodeMeshPacket serializes a mesh packet. Whichever of Plain and Encrypted
// is non-nil is emitted; the caller keeps the exactly-one invariant.
func EncodeMeshPacket(p *MeshPacket) []byte {
	var b []byte

	b = protowire.AppendTag(b, pktFieldFrom, protowire.Fixed32Type)
	b = protowire.AppendFixed32(b, p.From)
	b = protowire.AppendTag(b, pktFieldTo, protowire.Fixed32Type)
	b = protowire.AppendFixed32(b, p.To)

	if p.ChannelHash != 0 {
		b = protowire.AppendTag(b, pktFieldChannel, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(p.ChannelHash))
	}

	if p.Plain != nil {
		b = protowire.AppendTag(b, pktFieldDecoded, protowire.BytesType)
		b = protowire.AppendBytes(b, p.Plain)
	}

	if p.Encrypted != nil {
		b = protowire.AppendTag(b, pktFieldEncrypted, protowire.BytesType)
		b = protowire.AppendBytes(b, p.Encrypted)
	}

	b = protowire.AppendTag(b, pktFieldID, protowire.Fixed32Type)
	b = protowire.AppendFixed32(b, p.ID)

	if p.RxTime != 0 {
		b = protowire.AppendTag(b, pktFieldRxTime, protowire.Fixed32Type)
		b = protowire.AppendFixed32(b, p.RxTime)
	}

	if p.RxSNR != 0 {
		b = protowire.AppendTag(b, pktFieldRxSNR, protowire.Fixed32Type)
		b = protowire.AppendFixed32(b, math.Float32bits(p.RxSNR))
	}

	if p.HopLimit != 0 {
		b = protowire.AppendTag(b, pktFieldHopLimit, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(p.HopLimit))
	}

	if p.WantAck {
		b = protowire.AppendTag(b, pktFieldWantAck, protowire.VarintType)
		b = protowire.AppendVarint(b, 1)
	}

	if p.RxRSSI != 0 {
		b = protowire.AppendTag(b, pktFieldRxRSSI, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(int64(p.RxRSSI)))
	}

	if p.ViaMQTT {
		b = protowire.AppendTag(b, pktFieldViaMQTT, protowire.VarintType)
		b = protowire.AppendVarint(b, 1)
	}

	if p.HopStart != 0 {
		b = protowire.AppendTag(b, pktFieldHopStart, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(p.HopStart))
	}

	return b
}

// EncodeData serializes the inner typed frame.
func EncodeData(d *Data) []byte {
	var b []byte

	b = protowire.AppendTag(b, dataFieldPort, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(d.Port))
	b = protowire.AppendTag(b, dataFieldPayload, protowire.BytesType)
	b = protowire.AppendBytes(b, d.Payload)

	if d.WantResponse {
		b = protowire.AppendTag(b, dataFieldWantResponse, protowire.VarintType)
		b = protowire.AppendVarint(b, 1)
	}

	if d.Dest != 0 {
		b = protowire.AppendTag(b, dataFieldDest, protowire.Fixed32Type)
		b = protowire.AppendFixed32(b, d.Dest)
	}

	if d.Source != 0 {
		b = protowire.AppendTag(b, dataFieldSource, protowire.Fixed32Type)
		b = protowire.AppendFixed32(b, d.Source)
	}

	if d.RequestID != 0 {
		b = protowire.AppendTag(b, dataFieldRequestID, protowire.Fixed32Type)
		b = protowire.AppendFixed32(b, d.RequestID)
	}

	if d.ReplyID != 0 {
		b = protowire.AppendTag(b, dataFieldReplyID, protowire.Fixed32Type)
		b = protowire.AppendFixed32(b, d.ReplyID)
	}

	return b
}

// EncodePosition serializes a position report from wire-unit values.
func EncodePosition(p *Position) []byte {
	var b []byte

	b = protowire.AppendTag(b, posFieldLatitudeI, protowire.Fixed32Type)
	b = protowire.AppendFixed32(b, uint32(p.LatitudeI))
	b = protowire.AppendTag(b, posFieldLongitudeI, protowire.Fixed32Type)
	b = protowire.AppendFixed32(b, uint32(p.LongitudeI))

	if p.Altitude != 0 {
		b = protowire.AppendTag(b, posFieldAltitude, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(int64(p.Altitude)))
	}

	if p.Time != 0 {
		b = protowire.AppendTag(b, posFieldTime, protowire.Fixed32Type)
		b = protowire.AppendFixed32(b, p.Time)
	}

	return b
}

// EncodeTelemetry serializes a telemetry report.
func EncodeTelemetry(t *Telemetry) []byte {
	var b []byte

	if t.Time != 0 {
		b = protowire.AppendTag(b, telFieldTime, protowire.Fixed32Type)
		b = protowire.AppendFixed32(b, t.Time)
	}

	if t.Device != nil {
		var dm []byte

		dm = protowire.AppendTag(dm, dmFieldBatteryLevel, protowire.VarintType)
		dm = protowire.AppendVarint(dm, uint64(t.Device.BatteryLevel))
		dm = protowire.AppendTag(dm, dmFieldVoltage, protowire.Fixed32Type)
		dm = protowire.AppendFixed32(dm, math.Float32bits(t.Device.Voltage))
		dm = protowire.AppendTag(dm, dmFieldChannelUtil, protowire.Fixed32Type)
		dm = protowire.AppendFixed32(dm, math.Float32bits(t.Device.ChannelUtilization))
		dm = protowire.AppendTag(dm, dmFieldAirUtilTx, protowire.Fixed32Type)
		dm = protowire.AppendFixed32(dm, math.Float32bits(t.Device.AirUtilTx))

		if t.Device.UptimeSeconds != 0 {
			dm = protowire.AppendTag(dm, dmFieldUptime, protowire.VarintType)
			dm = protowire.AppendVarint(dm, uint64(t.Device.UptimeSeconds))
		}

		b = protowire.AppendTag(b, telFieldDevice, protowire.BytesType)
		b = protowire.AppendBytes(b, dm)
	}

	return b
}

// EncodeUser serializes a node self-description from raw enum values.
func EncodeUser(id, longName, shortName string, hwModel, role uint64) []byte {
	var b []byte

	b = protowire.AppendTag(b, userFieldID, protowire.BytesType)
	b = protowire.AppendString(b, id)
	b = protowire.AppendTag(b, userFieldLongName, protowire.BytesType)
	b = protowire.AppendString(b, longName)
	b = protowire.AppendTag(b, userFieldShortName, protowire.BytesType)
	b = protowire.AppendString(b, shortName)
	b = protowire.AppendTag(b, userFieldHWModel, protowire.VarintType)
	b = protowire.AppendVarint(b, hwModel)

	if role != 0 {
		b = protowire.AppendTag(b, userFieldRole, protowire.VarintType)
		b = protowire.AppendVarint(b, role)
	}

	return b
}

// EncodeRouteDiscovery serializes a traceroute payload, packing repeated
// fields the way the mesh firmware does.
func EncodeRouteDiscovery(rd *RouteDiscovery) []byte {
	var b []byte

	b = appendPackedFixed32(b, rdFieldRoute, rd.Route)
	b = appendPackedSNR(b, rdFieldSNRTowards, rd.SNRTowards)
	b = appendPackedFixed32(b, rdFieldRouteBack, rd.RouteBack)
	b = appendPackedSNR(b, rdFieldSNRBack, rd.SNRBack)

	return b
}

func appendPackedFixed32(b []byte, num protowire.Number, vals []uint32) []byte {
	if len(vals) == 0 {
		return b
	}

	var packed []byte
	for _, v := range vals {
		packed = protowire.AppendFixed32(packed, v)
	}

	b = protowire.AppendTag(b, num, protowire.BytesType)

	return protowire.AppendBytes(b, packed)
}

func appendPackedSNR(b []byte, num protowire.Number, vals []float64) []byte {
	if len(vals) == 0 {
		return b
	}

	var packed []byte
	for _, v := range vals {
		packed = protowire.AppendVarint(packed, uint64(int64(int32(v*snrScale))))
	}

	b = protowire.AppendTag(b, num, protowire.BytesType)

	return protowire.AppendBytes(b, packed)
}
