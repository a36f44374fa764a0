package wire

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// Position is a decoded position report. Latitude and longitude arrive as
// 1e-7 fixed-point signed integers; altitude is meters above MSL.
type Position struct {
	LatitudeI  int32  `json:"latitude_i"`
	LongitudeI int32  `json:"longitude_i"`
	Altitude   int32  `json:"altitude"`
	Time       uint32 `json:"time"`
}

const (
	posFieldLatitudeI  = 1
	posFieldLongitudeI = 2
	posFieldAltitude   = 3
	posFieldTime       = 4
)

// Latitude converts the fixed-point wire value to degrees.
func (p *Position) Latitude() float64 { return float64(p.LatitudeI) * 1e-7 }

// Longitude converts the fixed-point wire value to degrees.
func (p *Position) Longitude() float64 { return float64(p.LongitudeI) * 1e-7 }

func DecodePosition(b []byte) (*Position, error) {
	p := &Position{}

	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, fmt.Errorf("%w: bad position tag", ErrDecode)
		}

		b = b[n:]

		var m int

		switch {
		case typ == protowire.Fixed32Type:
			v, n := protowire.ConsumeFixed32(b)
			if n < 0 {
				return nil, fmt.Errorf("%w: truncated fixed32", ErrDecode)
			}

			m = n

			switch num {
			case posFieldLatitudeI:
				p.LatitudeI = int32(v)
			case posFieldLongitudeI:
				p.LongitudeI = int32(v)
			case posFieldTime:
				p.Time = v
			}
		case typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return nil, fmt.Errorf("%w: truncated varint", ErrDecode)
			}

			m = n

			if num == posFieldAltitude {
				p.Altitude = int32(v)
			}
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return nil, fmt.Errorf("%w: bad position field %d", ErrDecode, num)
			}

			m = n
		}

		b = b[m:]
	}

	return p, nil
}
