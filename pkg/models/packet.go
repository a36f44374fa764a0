package models

import (
	"encoding/json"
	"time"
)

// Broadcast is the destination sentinel for packets addressed to every node.
const Broadcast uint32 = 0xffffffff

// GatewayObservation records one gateway's sighting of a transmission,
// including the RF metrics measured at that gateway.
type GatewayObservation struct {
	GatewayID  string    `json:"gateway_id"`
	RSSI       int32     `json:"rssi"`
	SNR        float64   `json:"snr"`
	ObservedAt time.Time `json:"observed_at"`
}

// Packet is the persisted record of one unique mesh transmission. The same
// physical transmission seen through multiple gateways stays a single row
// whose Gateways list grows.
type Packet struct {
	RowID      int64                `json:"id"`
	PacketID   uint32               `json:"packet_id"`
	From       uint32               `json:"from"`
	To         uint32               `json:"to"`
	Channel    string               `json:"channel"`
	Port       PortNum              `json:"port"`
	PortName   string               `json:"port_name"`
	RSSI       int32                `json:"rssi"`
	SNR        float64              `json:"snr"`
	HopLimit   uint32               `json:"hop_limit"`
	HopStart   uint32               `json:"hop_start"`
	HopsTaken  int32                `json:"hops_taken"` // -1 when hop_start is absent
	Encrypted  bool                 `json:"encrypted"`
	Decoded    bool                 `json:"decoded"`
	Payload    []byte               `json:"-"`
	DecodedMsg json.RawMessage      `json:"decoded_msg,omitempty"`
	Gateways   []GatewayObservation `json:"gateways,omitempty"`
	ReceivedAt time.Time            `json:"received_at"`
}

// PacketFilter narrows packet listings for the read side. Nil pointer fields
// mean "no constraint".
type PacketFilter struct {
	Since   time.Time
	Until   time.Time
	From    *uint32
	Port    *PortNum
	Channel string
	MinRSSI *int32
	MinSNR  *float64
	Limit   int
}

// LinkStat is a derived per-node-pair RF aggregate. It is recomputed from
// packet and traceroute rows on every query and never persisted.
type LinkStat struct {
	NodeA    uint32    `json:"node_a"`
	NodeB    uint32    `json:"node_b"`
	Packets  int64     `json:"packets"`
	AvgSNR   float64   `json:"avg_snr"`
	LastSeen time.Time `json:"last_seen"`
}

// IngestRecord is the normalized output of one ingest cycle, committed to the
// store in a single transaction.
type IngestRecord struct {
	Packet     Packet
	Nodes      []NodeObservation
	Traceroute *Traceroute
}
