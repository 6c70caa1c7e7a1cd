package collector

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/turtlecoin/turtlecoin-node-monitor/internal/config"
	"github.com/turtlecoin/turtlecoin-node-monitor/internal/shared"
)

const (
	cycleUpdate = "update"
	cyclePoll   = "poll"
)

// NodeSource supplies the current node directory.
type NodeSource interface {
	Fetch(ctx context.Context) ([]shared.Node, error)
}

// Store is the persistence the collector writes to.
type Store interface {
	Init(ctx context.Context) error
	SaveNodes(ctx context.Context, nodes []shared.Node) error
	SavePollingEvent(ctx context.Context, events []shared.PollingEvent) error
	CleanHistory(ctx context.Context, cutoff time.Time) (int64, error)
}

// Collector drives the update and poll workflows. Polling stays paused until
// the first update cycle has finished, then fires once immediately and runs
// on its own period.
type Collector struct {
	cfg     config.CollectorSettings
	source  NodeSource
	prober  Prober
	store   Store
	metrics *Metrics
	logger  *zap.Logger
	now     func() time.Time

	nodes atomic.Pointer[[]shared.Node]

	mu        sync.RWMutex
	listeners []Listener

	update      *PeriodicTask
	poll        *PeriodicTask
	firstUpdate sync.Once
	ready       atomic.Bool
}

func NewCollector(cfg config.CollectorSettings, source NodeSource, prober Prober, store Store, logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Collector{
		cfg:     cfg,
		source:  source,
		prober:  prober,
		store:   store,
		metrics: InitMetrics(),
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
	}
	empty := []shared.Node{}
	c.nodes.Store(&empty)

	c.update = NewPeriodicTask(cycleUpdate, cfg.UpdateInterval(), false, c.runUpdate, logger)
	c.poll = NewPeriodicTask(cyclePoll, cfg.PollingInterval(), true, c.runPoll, logger)
	return c
}

// AddListener subscribes l to collector notifications.
func (c *Collector) AddListener(l Listener) {
	c.mu.Lock()
	c.listeners = append(c.listeners, l)
	c.mu.Unlock()
}

// Start initializes the schema and starts both tasks. The first update runs
// immediately.
func (c *Collector) Start(ctx context.Context) error {
	if err := c.store.Init(ctx); err != nil {
		return fmt.Errorf("initialize database: %w", err)
	}

	c.update.Start(ctx)
	c.poll.Start(ctx)
	c.update.Tick()

	c.logger.Info("collector started",
		zap.Duration("update_interval", c.cfg.UpdateInterval()),
		zap.Duration("polling_interval", c.cfg.PollingInterval()),
		zap.Duration("history_window", c.cfg.HistoryWindow()),
		zap.String("node_list_url", c.cfg.NodeListURL))
	return nil
}

// Stop disables both timers. In-flight cycles finish on their own; use Wait
// to block on them.
func (c *Collector) Stop() {
	c.poll.Stop()
	c.update.Stop()
	c.logger.Info("collector stopped")
}

// Wait blocks until both tasks have exited or ctx is done.
func (c *Collector) Wait(ctx context.Context) error {
	for _, done := range []<-chan struct{}{c.update.Done(), c.poll.Done()} {
		select {
		case <-done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// Nodes returns the current node snapshot. Callers must not modify it.
func (c *Collector) Nodes() []shared.Node {
	return *c.nodes.Load()
}

// Ready reports whether the first update cycle has completed.
func (c *Collector) Ready() bool {
	return c.ready.Load()
}

// UpdateOnce runs one update cycle synchronously.
func (c *Collector) UpdateOnce(ctx context.Context) {
	c.runUpdate(ctx)
}

// PollOnce runs one poll cycle synchronously.
func (c *Collector) PollOnce(ctx context.Context) {
	c.runPoll(ctx)
}

func (c *Collector) runUpdate(ctx context.Context) {
	ctx, _ = shared.NewCycleContext(ctx)
	logger := shared.CycleLogger(ctx, c.logger).With(zap.String("cycle", cycleUpdate))
	start := time.Now()
	status := "ok"

	defer func() {
		c.metrics.RecordCycle(cycleUpdate, status, time.Since(start).Seconds())
		c.firstUpdate.Do(func() {
			c.ready.Store(true)
			logger.Debug("first update finished, starting polling")
			c.poll.Resume()
			c.poll.Tick()
		})
	}()

	nodes, err := c.source.Fetch(ctx)
	if err != nil {
		status = "error"
		c.metrics.RecordError("directory", "fetch")
		c.emitError(fmt.Errorf("could not update the public node list: %w", err))
	} else {
		snapshot := make([]shared.Node, len(nodes))
		copy(snapshot, nodes)
		c.nodes.Store(&snapshot)
		c.metrics.SetKnownNodes(len(snapshot))

		if err := c.store.SaveNodes(ctx, snapshot); err != nil {
			status = "error"
			c.metrics.RecordError("storage", "save_nodes")
			c.emitError(fmt.Errorf("could not save %d nodes in the database: %w", len(snapshot), err))
		} else {
			logger.Debug("node list saved", zap.Int("nodes", len(snapshot)))
			c.emitUpdate(snapshot)
		}
	}

	cutoff := c.now().Add(-c.cfg.HistoryWindow())
	deleted, err := c.store.CleanHistory(ctx, cutoff)
	if err != nil {
		status = "error"
		c.metrics.RecordError("storage", "clean_history")
		c.emitError(fmt.Errorf("could not clear old history from before %s: %w", cutoff.Format(time.RFC1123), err))
		return
	}
	c.metrics.RecordPruned(deleted)
	c.emitInfo(fmt.Sprintf("cleaned %d old polling rows before %s", deleted, cutoff.Format(time.RFC1123)))
}

func (c *Collector) runPoll(ctx context.Context) {
	ctx, _ = shared.NewCycleContext(ctx)
	logger := shared.CycleLogger(ctx, c.logger).With(zap.String("cycle", cyclePoll))
	start := time.Now()

	timestamp := c.now().UTC().Truncate(time.Millisecond)
	nodes := c.Nodes()
	if len(nodes) == 0 {
		logger.Debug("no nodes to poll")
		return
	}

	events := make([]shared.PollingEvent, len(nodes))
	var g errgroup.Group
	if c.cfg.MaxConcurrentProbes > 0 {
		g.SetLimit(c.cfg.MaxConcurrentProbes)
	}
	for i, node := range nodes {
		g.Go(func() error {
			events[i] = c.prober.Probe(ctx, node, timestamp)
			return nil
		})
	}
	_ = g.Wait()

	online, synced := countOnline(events)
	for _, e := range events {
		c.metrics.RecordProbe(!e.Offline())
	}

	if err := c.store.SavePollingEvent(ctx, events); err != nil {
		c.metrics.RecordCycle(cyclePoll, "error", time.Since(start).Seconds())
		c.metrics.RecordError("storage", "save_polling")
		c.emitError(fmt.Errorf("could not save polling event for %d nodes in the database: %w", len(nodes), err))
		return
	}

	c.metrics.RecordCycle(cyclePoll, "ok", time.Since(start).Seconds())
	c.metrics.SetPollResult(online, synced, float64(timestamp.Unix()))
	logger.Debug("polling batch persisted",
		zap.Int("nodes", len(events)),
		zap.Int("online", online),
		zap.Duration("elapsed", time.Since(start)))
	c.emitPolling(events)
}

func (c *Collector) snapshotListeners() []Listener {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Listener, len(c.listeners))
	copy(out, c.listeners)
	return out
}

func (c *Collector) emitInfo(message string) {
	for _, l := range c.snapshotListeners() {
		l.OnInfo(message)
	}
}

func (c *Collector) emitError(err error) {
	for _, l := range c.snapshotListeners() {
		l.OnError(err)
	}
}

func (c *Collector) emitUpdate(nodes []shared.Node) {
	for _, l := range c.snapshotListeners() {
		l.OnUpdate(nodes)
	}
}

func (c *Collector) emitPolling(events []shared.PollingEvent) {
	for _, l := range c.snapshotListeners() {
		l.OnPolling(events)
	}
}
