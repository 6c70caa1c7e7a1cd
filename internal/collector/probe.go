package collector

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/turtlecoin/turtlecoin-node-monitor/internal/daemon"
	"github.com/turtlecoin/turtlecoin-node-monitor/internal/shared"
)

// Prober produces exactly one polling event per node and never fails.
type Prober interface {
	Probe(ctx context.Context, node shared.Node, timestamp time.Time) shared.PollingEvent
}

// DaemonProber probes nodes over their HTTP RPC interface.
type DaemonProber struct {
	timeout   time.Duration
	newClient func(node shared.Node, timeout time.Duration) *daemon.Client
	logger    *zap.Logger
}

func NewDaemonProber(timeout time.Duration, logger *zap.Logger) *DaemonProber {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DaemonProber{
		timeout:   timeout,
		newClient: daemon.NewClient,
		logger:    logger,
	}
}

// Probe queries info then fee. Any failure yields the offline sentinel for
// the node at timestamp.
func (p *DaemonProber) Probe(ctx context.Context, node shared.Node, timestamp time.Time) (event shared.PollingEvent) {
	offline := shared.OfflineEvent(node.ID, timestamp)

	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("probe panicked", zap.String("node_id", node.ID), zap.Any("panic", r))
			event = offline
		}
	}()

	client := p.newClient(node, p.timeout)

	info, err := client.Info(ctx)
	if err != nil {
		p.logUnreachable(ctx, node, fmt.Errorf("info: %w", err))
		return offline
	}

	fee, err := client.Fee(ctx)
	if err != nil {
		p.logUnreachable(ctx, node, fmt.Errorf("fee: %w", err))
		return offline
	}

	return shared.PollingEvent{
		NodeID:              node.ID,
		Timestamp:           timestamp,
		Synced:              info.Synced,
		FeeAddress:          fee.Address,
		FeeAmount:           fee.Amount,
		Height:              info.Height,
		Version:             info.Version,
		ConnectionsIn:       info.IncomingConnections,
		ConnectionsOut:      info.OutgoingConnections,
		Difficulty:          info.Difficulty,
		Hashrate:            info.Hashrate,
		TransactionPoolSize: info.TransactionPoolSize,
	}
}

func (p *DaemonProber) logUnreachable(ctx context.Context, node shared.Node, err error) {
	shared.CycleLogger(ctx, p.logger).Debug("node probe failed",
		zap.String("node_id", node.ID),
		zap.String("hostname", node.Hostname),
		zap.Int("port", node.Port),
		zap.Error(err))
}
