package daemon

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/Masterminds/semver/v3"
)

var errMissingVersion = errors.New("info response has no version")

// Info is the daemon status normalized across response generations.
type Info struct {
	Height              uint64
	Difficulty          uint64
	Hashrate            uint64
	Synced              bool
	Version             string
	IsCacheAPI          bool
	IncomingConnections uint64
	OutgoingConnections uint64
	TransactionPoolSize uint64
}

// FeeInfo is the node operator's fee.
type FeeInfo struct {
	Address string `json:"address"`
	Amount  uint64 `json:"amount"`
}

type versionParts struct {
	Major uint64 `json:"major"`
	Minor uint64 `json:"minor"`
	Patch uint64 `json:"patch"`
}

// rawInfo accepts both the 1.x field names and the older snake_case ones
// still served by pre-1.0 daemons and cache APIs.
type rawInfo struct {
	Height     uint64          `json:"height"`
	Difficulty uint64          `json:"difficulty"`
	Hashrate   uint64          `json:"hashrate"`
	Synced     bool            `json:"synced"`
	Version    json.RawMessage `json:"version"`
	IsCacheAPI bool            `json:"isCacheApi"`

	IncomingConnections  *uint64 `json:"incomingConnections"`
	OutgoingConnections  *uint64 `json:"outgoingConnections"`
	TransactionsPoolSize *uint64 `json:"transactionsPoolSize"`

	IncomingConnectionsCount *uint64 `json:"incoming_connections_count"`
	OutgoingConnectionsCount *uint64 `json:"outgoing_connections_count"`
	TxPoolSize               *uint64 `json:"tx_pool_size"`
}

func (r rawInfo) normalize() (*Info, error) {
	version, err := parseVersion(r.Version)
	if err != nil {
		return nil, err
	}

	info := &Info{
		Height:     r.Height,
		Difficulty: r.Difficulty,
		Hashrate:   r.Hashrate,
		Synced:     r.Synced,
		Version:    version.String(),
		IsCacheAPI: r.IsCacheAPI,
	}

	modern := []*uint64{r.IncomingConnections, r.OutgoingConnections, r.TransactionsPoolSize}
	legacy := []*uint64{r.IncomingConnectionsCount, r.OutgoingConnectionsCount, r.TxPoolSize}

	primary, fallback := legacy, modern
	if version.Major() >= 1 && !r.IsCacheAPI {
		primary, fallback = modern, legacy
	}

	counts := make([]uint64, 3)
	for i := range counts {
		switch {
		case primary[i] != nil:
			counts[i] = *primary[i]
		case fallback[i] != nil:
			counts[i] = *fallback[i]
		}
	}
	info.IncomingConnections = counts[0]
	info.OutgoingConnections = counts[1]
	info.TransactionPoolSize = counts[2]

	return info, nil
}

// parseVersion accepts {"major":1,"minor":1,"patch":0} or a version string
// such as "0.28.3".
func parseVersion(raw json.RawMessage) (*semver.Version, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, errMissingVersion
	}

	var parts versionParts
	if err := json.Unmarshal(raw, &parts); err == nil {
		return semver.New(parts.Major, parts.Minor, parts.Patch, "", ""), nil
	}

	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("unrecognized version %s", string(raw))
	}
	v, err := semver.NewVersion(strings.TrimPrefix(strings.TrimSpace(s), "v"))
	if err != nil {
		return nil, fmt.Errorf("parse version %q: %w", s, err)
	}
	return v, nil
}
