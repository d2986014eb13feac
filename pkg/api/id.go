package api

import (
	"regexp"
	"strings"
)

type (
	// FlowID is a unique identifier for a flow execution
	FlowID string

	// NodeID is a unique identifier for a node within a flow graph
	NodeID string

	// TicketID is a unique identifier for a change request ticket
	TicketID string

	// MachineID is a unique identifier for a host machine
	MachineID string

	// InstanceID is a unique identifier for a storage or router instance
	InstanceID string

	// ClusterID is a unique identifier for a logical cluster deployment
	ClusterID string

	// EntryName is the globally-unique name of a cluster access point
	EntryName string

	// Host is a resolvable host address
	Host string

	// NodeKey identifies one node of one flow across the whole system. It
	// is the idempotence key for topology mutations and remote job tags
	NodeKey string

	// FlowNode identifies a node execution within a flow
	FlowNode struct {
		FlowID FlowID
		NodeID NodeID
	}
)

// InvalidIDChars matches characters not permitted in flow and node IDs.
// Valid characters are: letters, digits, underscore, dot, hyphen, plus,
// slash, space
var InvalidIDChars = regexp.MustCompile(`[^a-zA-Z0-9_.\-+/ ]`)

// Key returns the NodeKey for a flow node
func (f FlowNode) Key() NodeKey {
	return NodeKey(string(f.FlowID) + "/" + string(f.NodeID))
}

// SanitizeID lowercases an ID, removes invalid characters, replaces spaces
// with hyphens, and trims leading and trailing hyphens
func SanitizeID[T ~string](id T) T {
	lower := strings.ToLower(string(id))
	sanitized := InvalidIDChars.ReplaceAllString(lower, "")
	sanitized = strings.ReplaceAll(sanitized, " ", "-")
	return T(strings.Trim(sanitized, "-"))
}
