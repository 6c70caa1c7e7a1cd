package shared

import "time"

// OfflineVersion is the version reported for a node that could not be probed.
const OfflineVersion = "offline"

// Node is a public daemon listed in the node directory.
type Node struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Hostname string `json:"hostname"`
	Port     int    `json:"port"`
	SSL      bool   `json:"ssl"`
	Cache    bool   `json:"cache"`
}

// PollingEvent is the result of probing a single node at one polling tick.
type PollingEvent struct {
	NodeID              string    `json:"id"`
	Timestamp           time.Time `json:"timestamp"`
	Synced              bool      `json:"synced"`
	FeeAddress          string    `json:"fee_address"`
	FeeAmount           uint64    `json:"fee_amount"`
	Height              uint64    `json:"height"`
	Version             string    `json:"version"`
	ConnectionsIn       uint64    `json:"connections_in"`
	ConnectionsOut      uint64    `json:"connections_out"`
	Difficulty          uint64    `json:"difficulty"`
	Hashrate            uint64    `json:"hashrate"`
	TransactionPoolSize uint64    `json:"transaction_pool_size"`
}

// OfflineEvent returns the sentinel event recorded for an unreachable node.
func OfflineEvent(nodeID string, timestamp time.Time) PollingEvent {
	return PollingEvent{
		NodeID:    nodeID,
		Timestamp: timestamp,
		Version:   OfflineVersion,
	}
}

// Offline reports whether the event is the unreachable-node sentinel.
func (e PollingEvent) Offline() bool {
	return e.Version == OfflineVersion
}

// StatusHistory is one entry of a node's recent sync history.
type StatusHistory struct {
	NodeID    string    `json:"id,omitempty"`
	Synced    bool      `json:"synced"`
	Timestamp time.Time `json:"timestamp"`
}

// NodeAvailability is the share of synced samples for a node over the
// availability window, in percent.
type NodeAvailability struct {
	NodeID       string  `json:"id"`
	Availability float64 `json:"availability"`
}

// NodeStats combines a node with its availability, latest polling event and
// recent history.
type NodeStats struct {
	Node
	Availability float64         `json:"availability"`
	Info         PollingEvent    `json:"info"`
	History      []StatusHistory `json:"history"`
	VersionOK    *bool           `json:"version_ok,omitempty"`
}
