package storage

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/turtlecoin/turtlecoin-node-monitor/internal/shared"
)

const (
	// ChunkSize bounds the number of value rows in one bulk statement.
	ChunkSize = 25
	// AvailabilityWindow is the number of distinct polling ticks that
	// availability and history are computed over.
	AvailabilityWindow = 20

	defaultNodePort = 11898
)

var nodeColumns = []string{"name", "hostname", "port", "ssl", "cache"}

var pollingColumns = []string{
	"id", "polled_at", "status", "fee_address", "fee_amount", "height", "version",
	"connections_in", "connections_out", "difficulty", "hashrate", "tx_pool_size",
}

// lastTicks selects the most recent distinct polling timestamps across the
// whole fleet.
var lastTicks = fmt.Sprintf(
	"(SELECT polled_at FROM node_polling GROUP BY polled_at ORDER BY polled_at DESC LIMIT %d) last",
	AvailabilityWindow)

// MonitorDB is the node monitor's persistence layer. It only depends on the
// Backend capability interface.
type MonitorDB struct {
	backend Backend
	logger  *zap.Logger
}

func NewMonitorDB(backend Backend, logger *zap.Logger) *MonitorDB {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MonitorDB{backend: backend, logger: logger}
}

// Migrations returns the schema history rendered for the backend's dialect.
func Migrations(backend Backend) []Migration {
	nodes := backend.PrepareCreateTable("nodes", []Column{
		{Name: "id", Kind: HashColumn},
		{Name: "name", Kind: BlobColumn},
		{Name: "hostname", Kind: BlobColumn},
		{Name: "port", Kind: Uint32Column, Default: defaultNodePort},
		{Name: "ssl", Kind: Uint32Column, Default: 0},
		{Name: "cache", Kind: Uint32Column, Default: 0},
	}, []string{"id"})

	cascade := &ForeignKey{Table: "nodes", Column: "id", Delete: FKCascade, Update: FKCascade}
	polling := backend.PrepareCreateTable("node_polling", []Column{
		{Name: "id", Kind: HashColumn, Foreign: cascade},
		{Name: "polled_at", Kind: Uint64Column},
		{Name: "status", Kind: Uint32Column, Default: 0},
		{Name: "fee_address", Kind: BlobColumn},
		{Name: "fee_amount", Kind: Uint64Column, Default: 0},
		{Name: "height", Kind: Uint64Column, Default: 0},
		{Name: "version", Kind: BlobColumn},
		{Name: "connections_in", Kind: Uint32Column, Default: 0},
		{Name: "connections_out", Kind: Uint32Column, Default: 0},
		{Name: "difficulty", Kind: Uint64Column, Default: 0},
		{Name: "hashrate", Kind: Uint64Column, Default: 0},
		{Name: "tx_pool_size", Kind: Uint32Column, Default: 0},
	}, []string{"id", "polled_at"}, "polled_at")

	initial := []string{nodes.Table}
	initial = append(initial, nodes.Indexes...)
	initial = append(initial, polling.Table)
	initial = append(initial, polling.Indexes...)

	return []Migration{
		{Version: "001", Name: "initial_schema", Statements: initial},
	}
}

// Init creates or upgrades the schema.
func (m *MonitorDB) Init(ctx context.Context) error {
	runner := NewMigrationRunner(m.backend, Migrations(m.backend))
	if err := runner.Migrate(ctx); err != nil {
		return fmt.Errorf("init schema: %w", err)
	}
	return nil
}

func (m *MonitorDB) Ping(ctx context.Context) error {
	return m.backend.Ping(ctx)
}

func (m *MonitorDB) Close() error {
	return m.backend.Close()
}

// SaveNodes upserts nodes by id in one transaction.
func (m *MonitorDB) SaveNodes(ctx context.Context, nodes []shared.Node) error {
	if len(nodes) == 0 {
		return nil
	}

	values := make([][]interface{}, 0, len(nodes))
	for _, node := range nodes {
		values = append(values, []interface{}{
			node.ID, node.Name, node.Hostname, node.Port, boolInt(node.SSL), boolInt(node.Cache),
		})
	}

	stmts, err := chunked(values, func(rows [][]interface{}) (Statement, error) {
		return m.backend.PrepareMultiUpdate("nodes", []string{"id"}, nodeColumns, rows)
	})
	if err != nil {
		return err
	}

	if err := m.backend.Transaction(ctx, stmts); err != nil {
		return fmt.Errorf("save %d nodes: %w", len(nodes), err)
	}
	return nil
}

// SavePollingEvent appends a polling batch in one transaction.
func (m *MonitorDB) SavePollingEvent(ctx context.Context, events []shared.PollingEvent) error {
	if len(events) == 0 {
		return nil
	}

	values := make([][]interface{}, 0, len(events))
	for _, e := range events {
		values = append(values, []interface{}{
			e.NodeID, e.Timestamp.UnixMilli(), boolInt(e.Synced), e.FeeAddress, int64(e.FeeAmount),
			int64(e.Height), e.Version, int64(e.ConnectionsIn), int64(e.ConnectionsOut),
			int64(e.Difficulty), int64(e.Hashrate), int64(e.TransactionPoolSize),
		})
	}

	stmts, err := chunked(values, func(rows [][]interface{}) (Statement, error) {
		return m.backend.PrepareMultiInsert("node_polling", pollingColumns, rows)
	})
	if err != nil {
		return err
	}

	if err := m.backend.Transaction(ctx, stmts); err != nil {
		return fmt.Errorf("save %d polling events: %w", len(events), err)
	}
	return nil
}

// CleanHistory deletes polling rows recorded strictly before cutoff.
func (m *MonitorDB) CleanHistory(ctx context.Context, cutoff time.Time) (int64, error) {
	deleted, _, err := m.backend.Query(ctx,
		"DELETE FROM node_polling WHERE polled_at < ?", cutoff.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("clean history before %s: %w", cutoff.UTC().Format(time.RFC3339), err)
	}
	return deleted, nil
}

// DeleteNode removes a node; its polling history cascades with it.
func (m *MonitorDB) DeleteNode(ctx context.Context, id string) (bool, error) {
	deleted, _, err := m.backend.Query(ctx, "DELETE FROM nodes WHERE id = ?", id)
	if err != nil {
		return false, fmt.Errorf("delete node %s: %w", id, err)
	}
	return deleted > 0, nil
}

func (m *MonitorDB) Nodes(ctx context.Context) ([]shared.Node, error) {
	_, rows, err := m.backend.Query(ctx,
		"SELECT id, name, hostname, port, ssl, cache FROM nodes ORDER BY name")
	if err != nil {
		return nil, fmt.Errorf("query nodes: %w", err)
	}

	nodes := make([]shared.Node, 0, len(rows))
	for _, row := range rows {
		nodes = append(nodes, shared.Node{
			ID:       row.String("id"),
			Name:     row.String("name"),
			Hostname: row.String("hostname"),
			Port:     int(row.Int64("port")),
			SSL:      row.Bool("ssl"),
			Cache:    row.Bool("cache"),
		})
	}
	return nodes, nil
}

// MaxTimestamp returns the latest polling tick. ok is false when nothing has
// been recorded yet.
func (m *MonitorDB) MaxTimestamp(ctx context.Context) (ts time.Time, ok bool, err error) {
	_, rows, err := m.backend.Query(ctx, "SELECT MAX(polled_at) AS polled_at FROM node_polling")
	if err != nil {
		return time.Time{}, false, fmt.Errorf("query max timestamp: %w", err)
	}
	if len(rows) != 1 || rows[0].IsNull("polled_at") {
		return time.Time{}, false, nil
	}
	return rows[0].Time("polled_at"), true, nil
}

// NodeAvailabilities returns the synced percentage of every node over the
// last AvailabilityWindow distinct ticks.
func (m *MonitorDB) NodeAvailabilities(ctx context.Context) ([]shared.NodeAvailability, error) {
	_, rows, err := m.backend.Query(ctx,
		"SELECT node_polling.id AS id, SUM(node_polling.status) * 100.0 / COUNT(*) AS availability "+
			"FROM "+lastTicks+" "+
			"INNER JOIN node_polling ON node_polling.polled_at = last.polled_at "+
			"GROUP BY node_polling.id")
	if err != nil {
		return nil, fmt.Errorf("query availabilities: %w", err)
	}

	result := make([]shared.NodeAvailability, 0, len(rows))
	for _, row := range rows {
		result = append(result, shared.NodeAvailability{
			NodeID:       row.String("id"),
			Availability: row.Float64("availability"),
		})
	}
	return result, nil
}

// NodeHistory returns the sync status over the availability window, ordered
// by node id then newest first.
func (m *MonitorDB) NodeHistory(ctx context.Context) ([]shared.StatusHistory, error) {
	_, rows, err := m.backend.Query(ctx,
		"SELECT node_polling.id AS id, node_polling.status AS status, node_polling.polled_at AS polled_at "+
			"FROM "+lastTicks+" "+
			"INNER JOIN node_polling ON node_polling.polled_at = last.polled_at "+
			"ORDER BY node_polling.id ASC, node_polling.polled_at DESC")
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}

	result := make([]shared.StatusHistory, 0, len(rows))
	for _, row := range rows {
		result = append(result, shared.StatusHistory{
			NodeID:    row.String("id"),
			Synced:    row.Bool("status"),
			Timestamp: row.Time("polled_at"),
		})
	}
	return result, nil
}

// Events returns every polling row recorded at ts.
func (m *MonitorDB) Events(ctx context.Context, ts time.Time) ([]shared.PollingEvent, error) {
	_, rows, err := m.backend.Query(ctx,
		"SELECT id, polled_at, status, fee_address, fee_amount, height, version, connections_in, "+
			"connections_out, difficulty, hashrate, tx_pool_size FROM node_polling WHERE polled_at = ? ORDER BY id",
		ts.UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}

	events := make([]shared.PollingEvent, 0, len(rows))
	for _, row := range rows {
		events = append(events, eventFromRow(row))
	}
	return events, nil
}

// Stats joins nodes with their availability, latest event and history.
// Nodes missing any of the three are left out.
func (m *MonitorDB) Stats(ctx context.Context) ([]shared.NodeStats, error) {
	nodes, err := m.Nodes(ctx)
	if err != nil {
		return nil, err
	}

	availabilities, err := m.NodeAvailabilities(ctx)
	if err != nil {
		return nil, err
	}
	availByID := make(map[string]float64, len(availabilities))
	for _, a := range availabilities {
		availByID[a.NodeID] = a.Availability
	}

	maxTS, ok, err := m.MaxTimestamp(ctx)
	if err != nil {
		return nil, err
	}
	if !ok {
		return []shared.NodeStats{}, nil
	}

	last, err := m.Events(ctx, maxTS)
	if err != nil {
		return nil, err
	}
	lastByID := make(map[string]shared.PollingEvent, len(last))
	for _, e := range last {
		lastByID[e.NodeID] = e
	}

	histories, err := m.NodeHistory(ctx)
	if err != nil {
		return nil, err
	}
	historyByID := make(map[string][]shared.StatusHistory)
	for _, h := range histories {
		historyByID[h.NodeID] = append(historyByID[h.NodeID], h)
	}

	stats := make([]shared.NodeStats, 0, len(nodes))
	for _, node := range nodes {
		avail, hasAvail := availByID[node.ID]
		info, hasInfo := lastByID[node.ID]
		history := historyByID[node.ID]
		if !hasAvail || !hasInfo || len(history) == 0 {
			continue
		}
		stats = append(stats, shared.NodeStats{
			Node:         node,
			Availability: avail,
			Info:         info,
			History:      history,
		})
	}

	m.logger.Debug("computed node stats",
		zap.Int("nodes", len(nodes)),
		zap.Int("reported", len(stats)),
		zap.Time("tick", maxTS))

	return stats, nil
}

func eventFromRow(row Row) shared.PollingEvent {
	return shared.PollingEvent{
		NodeID:              row.String("id"),
		Timestamp:           row.Time("polled_at"),
		Synced:              row.Bool("status"),
		FeeAddress:          row.String("fee_address"),
		FeeAmount:           row.Uint64("fee_amount"),
		Height:              row.Uint64("height"),
		Version:             row.String("version"),
		ConnectionsIn:       row.Uint64("connections_in"),
		ConnectionsOut:      row.Uint64("connections_out"),
		Difficulty:          row.Uint64("difficulty"),
		Hashrate:            row.Uint64("hashrate"),
		TransactionPoolSize: row.Uint64("tx_pool_size"),
	}
}

func chunked(values [][]interface{}, build func([][]interface{}) (Statement, error)) ([]Statement, error) {
	stmts := make([]Statement, 0, (len(values)+ChunkSize-1)/ChunkSize)
	for start := 0; start < len(values); start += ChunkSize {
		end := start + ChunkSize
		if end > len(values) {
			end = len(values)
		}
		stmt, err := build(values[start:end])
		if err != nil {
			return nil, err
		}
		stmts = append(stmts, stmt)
	}
	return stmts, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nowMillis() int64 {
	return time.Now().UTC().UnixMilli()
}
