package wire

import (
	"testing"

	"github.com/meshradar/meshradar/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDataRoundTrip(t *testing.T) {
	d := &Data{
		Port:      models.PortPosition,
		Payload:   []byte{0x01, 0x02},
		Dest:      0xaabbccdd,
		RequestID: 9,
	}

	got, err := DecodeData(EncodeData(d))
	require.NoError(t, err)
	assert.Equal(t, d.Port, got.Port)
	assert.Equal(t, d.Payload, got.Payload)
	assert.Equal(t, d.Dest, got.Dest)
	assert.Equal(t, d.RequestID, got.RequestID)
}

func TestDecodeDataMalformed(t *testing.T) {
	_, err := DecodeData([]byte{0x00, 0x00})
	assert.ErrorIs(t, err, ErrDecode)
}

func TestPositionRoundTrip(t *testing.T) {
	// San Francisco in 1e-7 fixed-point wire units.
	p := &Position{
		LatitudeI:  377749000,
		LongitudeI: -1224194000,
		Altitude:   52,
		Time:       1700000000,
	}

	got, err := DecodePosition(EncodePosition(p))
	require.NoError(t, err)
	assert.Equal(t, p.LatitudeI, got.LatitudeI)
	assert.Equal(t, p.LongitudeI, got.LongitudeI)
	assert.Equal(t, p.Altitude, got.Altitude)
	assert.Equal(t, p.Time, got.Time)

	assert.InDelta(t, 37.7749, got.Latitude(), 1e-7)
	assert.InDelta(t, -122.4194, got.Longitude(), 1e-7)
}

func TestTelemetryRoundTrip(t *testing.T) {
	tel := &Telemetry{
		Time: 1700000123,
		Device: &DeviceMetrics{
			BatteryLevel:       87,
			Voltage:            4.02,
			ChannelUtilization: 12.5,
			AirUtilTx:          3.25,
			UptimeSeconds:      86400,
		},
	}

	got, err := DecodeTelemetry(EncodeTelemetry(tel))
	require.NoError(t, err)
	require.NotNil(t, got.Device)
	assert.Equal(t, uint32(87), got.Device.BatteryLevel)
	assert.InDelta(t, 4.02, got.Device.Voltage, 0.0001)
	assert.InDelta(t, 12.5, got.Device.ChannelUtilization, 0.0001)
	assert.InDelta(t, 3.25, got.Device.AirUtilTx, 0.0001)
	assert.Equal(t, uint32(86400), got.Device.UptimeSeconds)
}

func TestNodeInfoRoundTrip(t *testing.T) {
	b := EncodeUser("!12345678", "Base Station Alpha", "BSA", 9, 2)

	got, err := DecodeNodeInfo(b)
	require.NoError(t, err)
	assert.Equal(t, "!12345678", got.ID)
	assert.Equal(t, "Base Station Alpha", got.LongName)
	assert.Equal(t, "BSA", got.ShortName)
	assert.Equal(t, "RAK4631", got.HWModel)
	assert.Equal(t, "router", got.Role)
}

func TestNodeInfoUnknownEnums(t *testing.T) {
	b := EncodeUser("!1", "x", "x", 9999, 250)

	got, err := DecodeNodeInfo(b)
	require.NoError(t, err)
	assert.Equal(t, "HW_9999", got.HWModel)
	assert.Equal(t, "ROLE_250", got.Role)
}

func TestRouteDiscoveryRoundTrip(t *testing.T) {
	rd := &RouteDiscovery{
		Route:      []uint32{0x11111111, 0x22222222, 0x33333333},
		SNRTowards: []float64{5.25, -7.5, 0.25},
		RouteBack:  []uint32{0x33333333, 0x11111111},
		SNRBack:    []float64{-1.75, 2},
	}

	got, err := DecodeRouteDiscovery(EncodeRouteDiscovery(rd))
	require.NoError(t, err)
	assert.Equal(t, rd.Route, got.Route)
	assert.Equal(t, rd.SNRTowards, got.SNRTowards)
	assert.Equal(t, rd.RouteBack, got.RouteBack)
	assert.Equal(t, rd.SNRBack, got.SNRBack)
}

func TestRouteDiscoveryEmptyHopList(t *testing.T) {
	// A traceroute that never left the origin has no hops; stored as-is.
	got, err := DecodeRouteDiscovery([]byte{})
	require.NoError(t, err)
	assert.Empty(t, got.Route)
	assert.Empty(t, got.SNRTowards)
}

func TestTextMessage(t *testing.T) {
	got, err := DecodeText([]byte("hello mesh"))
	require.NoError(t, err)
	assert.Equal(t, "hello mesh", got.Text)

	_, err = DecodeText([]byte{0xff, 0xfe, 0xfd})
	assert.ErrorIs(t, err, ErrDecode)

	empty, err := DecodeText(nil)
	require.NoError(t, err)
	assert.Empty(t, empty.Text)
}

func TestRoutingAck(t *testing.T) {
	// error_reason = 0 is a plain acknowledgement.
	b := []byte{0x18, 0x00}

	got, err := DecodeRouting(b)
	require.NoError(t, err)
	assert.Equal(t, uint32(0), got.ErrorReason)
	assert.Equal(t, "none", got.ErrorName)

	// error_reason = 1: no route.
	got, err = DecodeRouting([]byte{0x18, 0x01})
	require.NoError(t, err)
	assert.Equal(t, "no_route", got.ErrorName)
}

func TestInterpretDispatch(t *testing.T) {
	tests := []struct {
		name string
		data *Data
		want func(t *testing.T, fact interface{})
	}{
		{
			name: "position",
			data: &Data{Port: models.PortPosition, Payload: EncodePosition(&Position{LatitudeI: 1})},
			want: func(t *testing.T, fact interface{}) {
				t.Helper()
				_, ok := fact.(*Position)
				assert.True(t, ok)
			},
		},
		{
			name: "telemetry",
			data: &Data{Port: models.PortTelemetry, Payload: EncodeTelemetry(&Telemetry{Time: 1})},
			want: func(t *testing.T, fact interface{}) {
				t.Helper()
				_, ok := fact.(*Telemetry)
				assert.True(t, ok)
			},
		},
		{
			name: "text",
			data: &Data{Port: models.PortTextMessage, Payload: []byte("hi")},
			want: func(t *testing.T, fact interface{}) {
				t.Helper()
				_, ok := fact.(*TextMessage)
				assert.True(t, ok)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fact, err := Interpret(tt.data)
			require.NoError(t, err)
			tt.want(t, fact)
		})
	}

	t.Run("unmapped port degrades", func(t *testing.T) {
		_, err := Interpret(&Data{Port: models.PortNum(512)})
		assert.ErrorIs(t, err, ErrDecode)
	})
}
