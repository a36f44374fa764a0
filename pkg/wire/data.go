package wire

import (
	"fmt"

	"github.com/meshradar/meshradar/pkg/models"
	"google.golang.org/protobuf/encoding/protowire"
)

// Data is the typed sub-envelope inside a decrypted packet: a port tag plus
// the opaque application payload it selects an interpreter for.
type Data struct {
	Port         models.PortNum
	Payload      []byte
	WantResponse bool
	Dest         uint32
	Source       uint32
	RequestID    uint32
	ReplyID      uint32
}

const (
	dataFieldPort         = 1
	dataFieldPayload      = 2
	dataFieldWantResponse = 3
	dataFieldDest         = 4
	dataFieldSource       = 5
	dataFieldRequestID    = 6
	dataFieldReplyID      = 7
)

// DecodeData parses the inner frame of a plaintext or decrypted payload.
// Failures here are ErrDecode, never fatal to an ingest cycle: ciphertext
// decrypted with the wrong key routinely lands here.
func DecodeData(b []byte) (*Data, error) {
	d := &Data{}

	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, fmt.Errorf("%w: bad data tag", ErrDecode)
		}

		b = b[n:]

		var m int

		switch {
		case typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return nil, fmt.Errorf("%w: truncated varint", ErrDecode)
			}

			m = n

			switch num {
			case dataFieldPort:
				d.Port = models.PortNum(v)
			case dataFieldWantResponse:
				d.WantResponse = v != 0
			}
		case typ == protowire.Fixed32Type:
			v, n := protowire.ConsumeFixed32(b)
			if n < 0 {
				return nil, fmt.Errorf("%w: truncated fixed32", ErrDecode)
			}

			m = n

			switch num {
			case dataFieldDest:
				d.Dest = v
			case dataFieldSource:
				d.Source = v
			case dataFieldRequestID:
				d.RequestID = v
			case dataFieldReplyID:
				d.ReplyID = v
			}
		case typ == protowire.BytesType && num == dataFieldPayload:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return nil, fmt.Errorf("%w: truncated payload", ErrDecode)
			}

			m = n
			d.Payload = v
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return nil, fmt.Errorf("%w: bad data field %d", ErrDecode, num)
			}

			m = n
		}

		b = b[m:]
	}

	return d, nil
}

// Interpret dispatches the payload to the interpreter matching its port tag.
// Unmapped tags fail with ErrDecode, which the pipeline degrades to the
// unknown port rather than erroring the cycle.
func Interpret(d *Data) (interface{}, error) {
	switch d.Port {
	case models.PortTextMessage:
		return DecodeText(d.Payload)
	case models.PortPosition:
		return DecodePosition(d.Payload)
	case models.PortNodeInfo:
		return DecodeNodeInfo(d.Payload)
	case models.PortRouting:
		return DecodeRouting(d.Payload)
	case models.PortTelemetry:
		return DecodeTelemetry(d.Payload)
	case models.PortTraceroute:
		return DecodeRouteDiscovery(d.Payload)
	default:
		return nil, fmt.Errorf("%w: no interpreter for port %d", ErrDecode, d.Port)
	}
}
