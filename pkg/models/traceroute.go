package models

import "time"

// TracerouteHop is one relay step in a reported delivery path. SNR is in dB
// as measured toward the hop; zero means unreported.
type TracerouteHop struct {
	Seq    int     `json:"seq"`
	NodeID uint32  `json:"node_id"`
	SNR    float64 `json:"snr"`
	Back   bool    `json:"back"` // hop belongs to the return path
}

// Traceroute is the persisted hop list of one traceroute packet, linked to
// the packet row it arrived in. Partial and empty hop lists are stored as-is.
type Traceroute struct {
	RowID      int64           `json:"id"`
	PacketRow  int64           `json:"packet_row_id"`
	PacketID   uint32          `json:"packet_id"`
	From       uint32          `json:"from"`
	To         uint32          `json:"to"`
	Hops       []TracerouteHop `json:"hops"`
	ReceivedAt time.Time       `json:"received_at"`
}
