// Package wire pkg/wire/envelope.go decodes the layered binary formats the
// mesh publishes over the bus: the outer service envelope, the mesh packet it
// wraps, and the per-port application payloads. Field numbers and numeric
// scale conventions here are a wire compatibility contract with the mesh
// firmware and must not be reinterpreted.
package wire

import (
	"fmt"
	"math"

	"google.golang.org/protobuf/encoding/protowire"
)

// Envelope is the outer frame a gateway wraps around every packet it relays
// onto the bus.
type Envelope struct {
	ChannelID string
	GatewayID string
	Packet    MeshPacket
}

// MeshPacket is the radio-level packet. Exactly one of Encrypted and Plain is
// populated on the wire; Plain holds a serialized Data frame.
type MeshPacket struct {
	From        uint32
	To          uint32
	ChannelHash uint32
	ID          uint32
	RxTime      uint32
	RxSNR       float32
	HopLimit    uint32
	WantAck     bool
	RxRSSI      int32
	ViaMQTT     bool
	HopStart    uint32
	Encrypted   []byte
	Plain       []byte
}

const (
	envFieldPacket  = 1
	envFieldChannel = 3
	envFieldGateway = 4

	pktFieldFrom      = 1
	pktFieldTo        = 2
	pktFieldChannel   = 3
	pktFieldDecoded   = 4
	pktFieldEncrypted = 5
	pktFieldID        = 6
	pktFieldRxTime    = 7
	pktFieldRxSNR     = 8
	pktFieldHopLimit  = 9
	pktFieldWantAck   = 10
	pktFieldRxRSSI    = 12
	pktFieldViaMQTT   = 14
	pktFieldHopStart  = 15
)

// DecodeEnvelope parses the raw bus payload. Truncated or structurally
// malformed bytes fail with ErrEnvelopeCorrupt; such messages are dropped by
// the pipeline, never retried.
func DecodeEnvelope(b []byte) (*Envelope, error) {
	env := &Envelope{}
	sawPacket := false

	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, fmt.Errorf("%w: bad tag", ErrEnvelopeCorrupt)
		}

		b = b[n:]

		switch {
		case num == envFieldPacket && typ == protowire.BytesType:
			raw, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return nil, fmt.Errorf("%w: truncated packet field", ErrEnvelopeCorrupt)
			}

			if err := decodeMeshPacket(raw, &env.Packet); err != nil {
				return nil, err
			}

			sawPacket = true
			b = b[n:]
		case num == envFieldChannel && typ == protowire.BytesType:
			s, n := protowire.ConsumeString(b)
			if n < 0 {
				return nil, fmt.Errorf("%w: truncated channel id", ErrEnvelopeCorrupt)
			}

			env.ChannelID = s
			b = b[n:]
		case num == envFieldGateway && typ == protowire.BytesType:
			s, n := protowire.ConsumeString(b)
			if n < 0 {
				return nil, fmt.Errorf("%w: truncated gateway id", ErrEnvelopeCorrupt)
			}

			env.GatewayID = s
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return nil, fmt.Errorf("%w: bad field %d", ErrEnvelopeCorrupt, num)
			}

			b = b[n:]
		}
	}

	if !sawPacket {
		return nil, fmt.Errorf("%w: no packet", ErrEnvelopeCorrupt)
	}

	if env.Packet.Encrypted == nil && env.Packet.Plain == nil {
		return nil, fmt.Errorf("%w: packet carries no payload", ErrEnvelopeCorrupt)
	}

	return env, nil
}

func decodeMeshPacket(b []byte, p *MeshPacket) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return fmt.Errorf("%w: bad packet tag", ErrEnvelopeCorrupt)
		}

		b = b[n:]

		var m int

		switch {
		case typ == protowire.Fixed32Type:
			v, n := protowire.ConsumeFixed32(b)
			if n < 0 {
				return fmt.Errorf("%w: truncated fixed32", ErrEnvelopeCorrupt)
			}

			m = n

			switch num {
			case pktFieldFrom:
				p.From = v
			case pktFieldTo:
				p.To = v
			case pktFieldID:
				p.ID = v
			case pktFieldRxTime:
				p.RxTime = v
			case pktFieldRxSNR:
				p.RxSNR = math.Float32frombits(v)
			}
		case typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return fmt.Errorf("%w: truncated varint", ErrEnvelopeCorrupt)
			}

			m = n

			switch num {
			case pktFieldChannel:
				p.ChannelHash = uint32(v)
			case pktFieldHopLimit:
				p.HopLimit = uint32(v)
			case pktFieldWantAck:
				p.WantAck = v != 0
			case pktFieldRxRSSI:
				p.RxRSSI = int32(v)
			case pktFieldViaMQTT:
				p.ViaMQTT = v != 0
			case pktFieldHopStart:
				p.HopStart = uint32(v)
			}
		case typ == protowire.BytesType && num == pktFieldDecoded:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return fmt.Errorf("%w: truncated data frame", ErrEnvelopeCorrupt)
			}

			m = n
			p.Plain = v
		case typ == protowire.BytesType && num == pktFieldEncrypted:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return fmt.Errorf("%w: truncated ciphertext", ErrEnvelopeCorrupt)
			}

			m = n
			p.Encrypted = v
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return fmt.Errorf("%w: bad packet field %d", ErrEnvelopeCorrupt, num)
			}

			m = n
		}

		b = b[m:]
	}

	return nil
}
