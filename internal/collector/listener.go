package collector

import (
	"go.uber.org/zap"

	"github.com/turtlecoin/turtlecoin-node-monitor/internal/shared"
)

// Listener receives collector notifications. Callbacks run on the cycle's
// goroutine and must not block.
type Listener interface {
	OnInfo(message string)
	OnError(err error)
	OnUpdate(nodes []shared.Node)
	OnPolling(events []shared.PollingEvent)
}

// LogListener writes every notification to a zap logger.
type LogListener struct {
	logger *zap.Logger
}

func NewLogListener(logger *zap.Logger) *LogListener {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogListener{logger: logger}
}

func (l *LogListener) OnInfo(message string) {
	l.logger.Info(message)
}

func (l *LogListener) OnError(err error) {
	l.logger.Error("collector error", zap.Error(err))
}

func (l *LogListener) OnUpdate(nodes []shared.Node) {
	l.logger.Info("node list updated", zap.Int("nodes", len(nodes)))
}

func (l *LogListener) OnPolling(events []shared.PollingEvent) {
	online, synced := countOnline(events)
	l.logger.Info("polling batch saved",
		zap.Int("nodes", len(events)),
		zap.Int("online", online),
		zap.Int("synced", synced))
}

func countOnline(events []shared.PollingEvent) (online int, synced int) {
	for _, e := range events {
		if !e.Offline() {
			online++
		}
		if e.Synced {
			synced++
		}
	}
	return online, synced
}
