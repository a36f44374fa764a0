package wire

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// Routing is a decoded routing/acknowledgement payload. Route request and
// reply variants carry an embedded route discovery; plain acks carry only an
// error reason (zero meaning success).
type Routing struct {
	ErrorReason uint32          `json:"error_reason"`
	ErrorName   string          `json:"error_name"`
	Request     *RouteDiscovery `json:"request,omitempty"`
	Reply       *RouteDiscovery `json:"reply,omitempty"`
}

const (
	routingFieldRequest = 1
	routingFieldReply   = 2
	routingFieldError   = 3
)

var routingErrorNames = map[uint64]string{
	0:  "none",
	1:  "no_route",
	2:  "got_nak",
	3:  "timeout",
	4:  "no_interface",
	5:  "max_retransmit",
	6:  "no_channel",
	7:  "too_large",
	8:  "no_response",
	9:  "duty_cycle_limit",
	32: "bad_request",
	33: "not_authorized",
}

func routingErrorName(v uint64) string {
	if name, ok := routingErrorNames[v]; ok {
		return name
	}

	return fmt.Sprintf("ERROR_%d", v)
}

func DecodeRouting(b []byte) (*Routing, error) {
	r := &Routing{ErrorName: routingErrorName(0)}

	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, fmt.Errorf("%w: bad routing tag", ErrDecode)
		}

		b = b[n:]

		var m int

		switch {
		case (num == routingFieldRequest || num == routingFieldReply) && typ == protowire.BytesType:
			raw, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return nil, fmt.Errorf("%w: truncated route discovery", ErrDecode)
			}

			m = n

			rd, err := DecodeRouteDiscovery(raw)
			if err != nil {
				return nil, err
			}

			if num == routingFieldRequest {
				r.Request = rd
			} else {
				r.Reply = rd
			}
		case num == routingFieldError && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return nil, fmt.Errorf("%w: truncated error reason", ErrDecode)
			}

			m = n
			r.ErrorReason = uint32(v)
			r.ErrorName = routingErrorName(v)
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return nil, fmt.Errorf("%w: bad routing field %d", ErrDecode, num)
			}

			m = n
		}

		b = b[m:]
	}

	return r, nil
}
