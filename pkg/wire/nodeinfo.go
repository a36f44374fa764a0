package wire

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// NodeInfo is a decoded node self-description: names, hardware and role.
type NodeInfo struct {
	ID        string `json:"id"`
	LongName  string `json:"long_name"`
	ShortName string `json:"short_name"`
	HWModel   string `json:"hw_model"`
	Role      string `json:"role"`
}

const (
	userFieldID        = 1
	userFieldLongName  = 2
	userFieldShortName = 3
	userFieldHWModel   = 5
	userFieldRole      = 7
)

var hwModelNames = map[uint64]string{
	0:  "UNSET",
	1:  "TLORA_V2",
	2:  "TLORA_V1",
	3:  "TLORA_V2_1_1P6",
	4:  "TBEAM",
	5:  "HELTEC_V2_0",
	6:  "TBEAM_V0P7",
	7:  "T_ECHO",
	8:  "TLORA_V1_1P3",
	9:  "RAK4631",
	10: "HELTEC_V2_1",
	11: "HELTEC_V1",
	12: "LILYGO_TBEAM_S3_CORE",
	13: "RAK11200",
	14: "NANO_G1",
	15: "TLORA_V2_1_1P8",
	16: "TLORA_T3_S3",
	25: "STATION_G1",
	39: "DIY_V1",
	43: "HELTEC_V3",
	44: "HELTEC_WSL_V3",
	47: "RPI_PICO",
	48: "HELTEC_WIRELESS_TRACKER",
	49: "HELTEC_WIRELESS_PAPER",
	50: "T_DECK",
	51: "T_WATCH_S3",
	52: "PICOMPUTER_S3",
	53: "HELTEC_HT62",
	57: "HELTEC_WIRELESS_PAPER_V1_0",
	58: "HELTEC_WIRELESS_TRACKER_V1_0",
	61: "STATION_G2",
	71: "TRACKER_T1000_E",
}

var roleNames = map[uint64]string{
	0:  "client",
	1:  "client_mute",
	2:  "router",
	3:  "router_client",
	4:  "repeater",
	5:  "tracker",
	6:  "sensor",
	7:  "tak",
	8:  "client_hidden",
	9:  "lost_and_found",
	10: "tak_tracker",
}

func hwModelName(v uint64) string {
	if name, ok := hwModelNames[v]; ok {
		return name
	}

	return fmt.Sprintf("HW_%d", v)
}

func roleName(v uint64) string {
	if name, ok := roleNames[v]; ok {
		return name
	}

	return fmt.Sprintf("ROLE_%d", v)
}

func DecodeNodeInfo(b []byte) (*NodeInfo, error) {
	info := &NodeInfo{HWModel: hwModelName(0), Role: roleName(0)}

	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, fmt.Errorf("%w: bad nodeinfo tag", ErrDecode)
		}

		b = b[n:]

		var m int

		switch {
		case typ == protowire.BytesType:
			s, n := protowire.ConsumeString(b)
			if n < 0 {
				return nil, fmt.Errorf("%w: truncated string", ErrDecode)
			}

			m = n

			switch num {
			case userFieldID:
				info.ID = s
			case userFieldLongName:
				info.LongName = s
			case userFieldShortName:
				info.ShortName = s
			}
		case typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return nil, fmt.Errorf("%w: truncated varint", ErrDecode)
			}

			m = n

			switch num {
			case userFieldHWModel:
				info.HWModel = hwModelName(v)
			case userFieldRole:
				info.Role = roleName(v)
			}
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return nil, fmt.Errorf("%w: bad nodeinfo field %d", ErrDecode, num)
			}

			m = n
		}

		b = b[m:]
	}

	return info, nil
}
