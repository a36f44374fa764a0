package wire

import (
	"fmt"
	"math"

	"google.golang.org/protobuf/encoding/protowire"
)

// DeviceMetrics is the battery/RF-utilization snapshot nodes broadcast
// periodically. Voltage is in volts as an IEEE float; utilization fields are
// percentages.
type DeviceMetrics struct {
	BatteryLevel       uint32  `json:"battery_level"`
	Voltage            float32 `json:"voltage"`
	ChannelUtilization float32 `json:"channel_utilization"`
	AirUtilTx          float32 `json:"air_util_tx"`
	UptimeSeconds      uint32  `json:"uptime_seconds"`
}

// Telemetry is a decoded telemetry report. Only device metrics are
// interpreted; environment and power variants are skipped, not rejected.
type Telemetry struct {
	Time   uint32         `json:"time"`
	Device *DeviceMetrics `json:"device,omitempty"`
}

const (
	telFieldTime   = 1
	telFieldDevice = 2

	dmFieldBatteryLevel = 1
	dmFieldVoltage      = 2
	dmFieldChannelUtil  = 3
	dmFieldAirUtilTx    = 4
	dmFieldUptime       = 5
)

func DecodeTelemetry(b []byte) (*Telemetry, error) {
	t := &Telemetry{}

	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, fmt.Errorf("%w: bad telemetry tag", ErrDecode)
		}

		b = b[n:]

		var m int

		switch {
		case num == telFieldTime && typ == protowire.Fixed32Type:
			v, n := protowire.ConsumeFixed32(b)
			if n < 0 {
				return nil, fmt.Errorf("%w: truncated time", ErrDecode)
			}

			m = n
			t.Time = v
		case num == telFieldDevice && typ == protowire.BytesType:
			raw, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return nil, fmt.Errorf("%w: truncated device metrics", ErrDecode)
			}

			m = n

			dm, err := decodeDeviceMetrics(raw)
			if err != nil {
				return nil, err
			}

			t.Device = dm
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return nil, fmt.Errorf("%w: bad telemetry field %d", ErrDecode, num)
			}

			m = n
		}

		b = b[m:]
	}

	return t, nil
}

func decodeDeviceMetrics(b []byte) (*DeviceMetrics, error) {
	dm := &DeviceMetrics{}

	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, fmt.Errorf("%w: bad device metrics tag", ErrDecode)
		}

		b = b[n:]

		var m int

		switch typ {
		case protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return nil, fmt.Errorf("%w: truncated varint", ErrDecode)
			}

			m = n

			switch num {
			case dmFieldBatteryLevel:
				dm.BatteryLevel = uint32(v)
			case dmFieldUptime:
				dm.UptimeSeconds = uint32(v)
			}
		case protowire.Fixed32Type:
			v, n := protowire.ConsumeFixed32(b)
			if n < 0 {
				return nil, fmt.Errorf("%w: truncated fixed32", ErrDecode)
			}

			m = n
			f := math.Float32frombits(v)

			switch num {
			case dmFieldVoltage:
				dm.Voltage = f
			case dmFieldChannelUtil:
				dm.ChannelUtilization = f
			case dmFieldAirUtilTx:
				dm.AirUtilTx = f
			}
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return nil, fmt.Errorf("%w: bad device metrics field %d", ErrDecode, num)
			}

			m = n
		}

		b = b[m:]
	}

	return dm, nil
}
