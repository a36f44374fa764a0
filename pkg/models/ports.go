// Package models pkg/models/ports.go defines the shared domain types for meshradar.
package models

// PortNum identifies the application payload carried inside a decoded mesh
// packet. The numeric values are part of the mesh wire contract and must not
// be renumbered.
type PortNum uint32

const (
	// PortUnknown absorbs unmapped tags and undecodable payloads.
	PortUnknown PortNum = 0

	PortTextMessage PortNum = 1
	PortPosition    PortNum = 3
	PortNodeInfo    PortNum = 4
	PortRouting     PortNum = 5
	PortTelemetry   PortNum = 67
	PortTraceroute  PortNum = 70
)

var portNames = map[PortNum]string{
	PortUnknown:     "unknown",
	PortTextMessage: "text",
	PortPosition:    "position",
	PortNodeInfo:    "nodeinfo",
	PortRouting:     "routing",
	PortTelemetry:   "telemetry",
	PortTraceroute:  "traceroute",
}

func (p PortNum) String() string {
	if name, ok := portNames[p]; ok {
		return name
	}

	return "unknown"
}

// Known reports whether the port has a dedicated payload interpreter.
func (p PortNum) Known() bool {
	_, ok := portNames[p]

	return ok && p != PortUnknown
}

// PortFromName maps a listing-filter name back to a port tag. Unrecognized
// names map to PortUnknown.
func PortFromName(name string) PortNum {
	for p, n := range portNames {
		if n == name {
			return p
		}
	}

	return PortUnknown
}
