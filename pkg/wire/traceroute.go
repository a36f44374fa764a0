package wire

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// snrScale is the wire scaling for per-hop SNR: quarter-dB signed integers.
const snrScale = 4.0

// RouteDiscovery is a decoded traceroute payload: the forward hop list with
// per-hop SNR, and optionally the return path. Hop order is preserved exactly
// as reported; partial and empty lists are valid.
type RouteDiscovery struct {
	Route      []uint32  `json:"route"`
	SNRTowards []float64 `json:"snr_towards"`
	RouteBack  []uint32  `json:"route_back,omitempty"`
	SNRBack    []float64 `json:"snr_back,omitempty"`
}

const (
	rdFieldRoute      = 1
	rdFieldSNRTowards = 2
	rdFieldRouteBack  = 3
	rdFieldSNRBack    = 4
)

func DecodeRouteDiscovery(b []byte) (*RouteDiscovery, error) {
	rd := &RouteDiscovery{}

	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, fmt.Errorf("%w: bad traceroute tag", ErrDecode)
		}

		b = b[n:]

		var m int

		switch {
		case (num == rdFieldRoute || num == rdFieldRouteBack) && typ == protowire.BytesType:
			// Packed repeated fixed32 node ids.
			raw, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return nil, fmt.Errorf("%w: truncated route", ErrDecode)
			}

			m = n

			nodes, err := consumePackedFixed32(raw)
			if err != nil {
				return nil, err
			}

			if num == rdFieldRoute {
				rd.Route = append(rd.Route, nodes...)
			} else {
				rd.RouteBack = append(rd.RouteBack, nodes...)
			}
		case (num == rdFieldRoute || num == rdFieldRouteBack) && typ == protowire.Fixed32Type:
			v, n := protowire.ConsumeFixed32(b)
			if n < 0 {
				return nil, fmt.Errorf("%w: truncated route entry", ErrDecode)
			}

			m = n

			if num == rdFieldRoute {
				rd.Route = append(rd.Route, v)
			} else {
				rd.RouteBack = append(rd.RouteBack, v)
			}
		case (num == rdFieldSNRTowards || num == rdFieldSNRBack) && typ == protowire.BytesType:
			// Packed repeated int32, quarter-dB units.
			raw, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return nil, fmt.Errorf("%w: truncated snr list", ErrDecode)
			}

			m = n

			snrs, err := consumePackedSNR(raw)
			if err != nil {
				return nil, err
			}

			if num == rdFieldSNRTowards {
				rd.SNRTowards = append(rd.SNRTowards, snrs...)
			} else {
				rd.SNRBack = append(rd.SNRBack, snrs...)
			}
		case (num == rdFieldSNRTowards || num == rdFieldSNRBack) && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return nil, fmt.Errorf("%w: truncated snr entry", ErrDecode)
			}

			m = n
			snr := float64(int32(v)) / snrScale

			if num == rdFieldSNRTowards {
				rd.SNRTowards = append(rd.SNRTowards, snr)
			} else {
				rd.SNRBack = append(rd.SNRBack, snr)
			}
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return nil, fmt.Errorf("%w: bad traceroute field %d", ErrDecode, num)
			}

			m = n
		}

		b = b[m:]
	}

	return rd, nil
}

func consumePackedFixed32(b []byte) ([]uint32, error) {
	var out []uint32

	for len(b) > 0 {
		v, n := protowire.ConsumeFixed32(b)
		if n < 0 {
			return nil, fmt.Errorf("%w: truncated packed fixed32", ErrDecode)
		}

		out = append(out, v)
		b = b[n:]
	}

	return out, nil
}

func consumePackedSNR(b []byte) ([]float64, error) {
	var out []float64

	for len(b) > 0 {
		v, n := protowire.ConsumeVarint(b)
		if n < 0 {
			return nil, fmt.Errorf("%w: truncated packed varint", ErrDecode)
		}

		out = append(out, float64(int32(v))/snrScale)
		b = b[n:]
	}

	return out, nil
}
