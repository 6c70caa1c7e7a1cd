package integration

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/turtlecoin/turtlecoin-node-monitor/internal/api"
	"github.com/turtlecoin/turtlecoin-node-monitor/internal/collector"
	"github.com/turtlecoin/turtlecoin-node-monitor/internal/config"
	"github.com/turtlecoin/turtlecoin-node-monitor/internal/directory"
	"github.com/turtlecoin/turtlecoin-node-monitor/internal/monitorctl"
	"github.com/turtlecoin/turtlecoin-node-monitor/internal/shared"
	"github.com/turtlecoin/turtlecoin-node-monitor/internal/storage"
)

const authToken = "integration-token"

// daemonHarness is a fake TurtleCoin daemon whose reachability and height can
// be changed while the monitor is running.
type daemonHarness struct {
	name   string
	server *httptest.Server
	host   string
	port   int

	online atomic.Bool
	hang   atomic.Bool
	height atomic.Uint64
}

func newDaemonHarness(t *testing.T, name string, height uint64) *daemonHarness {
	t.Helper()

	d := &daemonHarness{name: name}
	d.online.Store(true)
	d.height.Store(height)

	release := make(chan struct{})
	mux := http.NewServeMux()
	mux.HandleFunc("GET /info", func(w http.ResponseWriter, r *http.Request) {
		if !d.available(w, r, release) {
			return
		}
		fmt.Fprintf(w, `{"height":%d,"difficulty":1000,"hashrate":33,"synced":true,"version":"1.1.0",`+
			`"isCacheApi":false,"incomingConnections":2,"outgoingConnections":8,"transactionsPoolSize":1}`, d.height.Load())
	})
	mux.HandleFunc("GET /fee", func(w http.ResponseWriter, r *http.Request) {
		if !d.available(w, r, release) {
			return
		}
		fmt.Fprintf(w, `{"address":"TRTL%s","amount":500}`, d.name)
	})

	d.server = httptest.NewServer(mux)
	t.Cleanup(d.server.Close)
	t.Cleanup(func() { close(release) })

	d.host, d.port = hostPort(t, d.server.URL)
	return d
}

func (d *daemonHarness) available(w http.ResponseWriter, r *http.Request, release <-chan struct{}) bool {
	if d.hang.Load() {
		select {
		case <-release:
		case <-r.Context().Done():
		}
		return false
	}
	if !d.online.Load() {
		http.Error(w, "daemon stopped", http.StatusServiceUnavailable)
		return false
	}
	return true
}

func (d *daemonHarness) id() string {
	return directory.NodeID(d.host, d.port, false)
}

// monitorHarness runs the full monitor stack against fake daemons: directory
// server, SQLite persistence, collector, HTTP API, event hub and a websocket
// subscriber.
type monitorHarness struct {
	t *testing.T

	dirMu      sync.Mutex
	listed     []*daemonHarness
	dirFailing atomic.Bool
	directory  *httptest.Server

	rawDB     *sql.DB
	db        *storage.MonitorDB
	collector *collector.Collector
	recorder  *batchRecorder
	server    *httptest.Server
	client    *monitorctl.HTTPClient
	stream    *streamRecorder
}

func newMonitorHarness(t *testing.T, probeTimeout time.Duration, daemons ...*daemonHarness) *monitorHarness {
	t.Helper()

	h := &monitorHarness{t: t, listed: daemons}
	h.directory = httptest.NewServer(http.HandlerFunc(h.serveDirectory))
	t.Cleanup(h.directory.Close)

	h.rawDB, h.db = setupIntegrationDB(t)

	cfg := config.CollectorSettings{
		PollingIntervalSec: 3600,
		UpdateIntervalSec:  3600,
		HistoryDays:        0.25,
		NodeListURL:        h.directory.URL,
		ProbeTimeoutMS:     int(probeTimeout / time.Millisecond),
	}

	logger := zap.NewNop()
	h.collector = collector.NewCollector(cfg,
		directory.NewFetcher(cfg.NodeListURL, 2*time.Second, logger),
		collector.NewDaemonProber(cfg.ProbeTimeout(), logger),
		h.db, logger)

	httpAPI, err := api.NewHTTPAPI(h.db, authToken, ">= 1.0.0", time.Minute, logger)
	if err != nil {
		t.Fatalf("http api: %v", err)
	}
	hubCtx, cancelHub := context.WithCancel(context.Background())
	t.Cleanup(cancelHub)
	hub := api.NewHub(hubCtx, authToken, nil, logger)
	go hub.Run()
	httpAPI.SetHub(hub)
	httpAPI.SetHealthChecker(api.NewHealthChecker(h.db, hub, h.collector))

	h.recorder = &batchRecorder{}
	h.collector.AddListener(h.recorder)
	h.collector.AddListener(httpAPI)
	h.collector.AddListener(hub)

	h.server = httptest.NewServer(httpAPI.Handler())
	t.Cleanup(h.server.Close)
	h.client = monitorctl.NewHTTPClient(h.server.URL, authToken)

	h.stream = dialStream(t, h.server.URL)
	waitFor(t, 2*time.Second, func() bool { return hub.ClientCount() == 1 }, "websocket subscriber")

	return h
}

// start runs the collector and waits for the first poll batch.
func (h *monitorHarness) start() {
	h.t.Helper()
	if err := h.collector.Start(context.Background()); err != nil {
		h.t.Fatalf("start collector: %v", err)
	}
	h.t.Cleanup(func() {
		h.collector.Stop()
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		h.collector.Wait(ctx)
	})
	waitFor(h.t, 5*time.Second, func() bool { return h.recorder.pollCount() >= 1 }, "first polling batch")
}

// poll runs one synchronous poll cycle. Consecutive cycles must land on
// distinct millisecond timestamps.
func (h *monitorHarness) poll() {
	time.Sleep(3 * time.Millisecond)
	h.collector.PollOnce(context.Background())
}

func (h *monitorHarness) update() {
	h.collector.UpdateOnce(context.Background())
}

func (h *monitorHarness) setListed(daemons ...*daemonHarness) {
	h.dirMu.Lock()
	h.listed = daemons
	h.dirMu.Unlock()
}

func (h *monitorHarness) serveDirectory(w http.ResponseWriter, r *http.Request) {
	if h.dirFailing.Load() {
		http.Error(w, "bad gateway", http.StatusBadGateway)
		return
	}

	h.dirMu.Lock()
	defer h.dirMu.Unlock()

	entries := make([]string, 0, len(h.listed))
	for _, d := range h.listed {
		entries = append(entries, fmt.Sprintf(`{"name":%q,"url":%q,"port":%d,"ssl":false,"cache":false}`, d.name, d.host, d.port))
	}
	w.Header().Set("Content-Type", "application/json")
	fmt.Fprintf(w, `{"nodes":[%s]}`, strings.Join(entries, ","))
}

func (h *monitorHarness) stats() map[string]shared.NodeStats {
	h.t.Helper()
	stats, err := monitorctl.ListStats(context.Background(), h.client)
	if err != nil {
		h.t.Fatalf("list stats: %v", err)
	}
	byName := make(map[string]shared.NodeStats, len(stats))
	for _, s := range stats {
		byName[s.Name] = s
	}
	return byName
}

// batchRecorder captures collector notifications.
type batchRecorder struct {
	mu      sync.Mutex
	errors  []error
	updates [][]shared.Node
	batches [][]shared.PollingEvent
}

func (r *batchRecorder) OnInfo(string) {}

func (r *batchRecorder) OnError(err error) {
	r.mu.Lock()
	r.errors = append(r.errors, err)
	r.mu.Unlock()
}

func (r *batchRecorder) OnUpdate(nodes []shared.Node) {
	r.mu.Lock()
	r.updates = append(r.updates, nodes)
	r.mu.Unlock()
}

func (r *batchRecorder) OnPolling(events []shared.PollingEvent) {
	r.mu.Lock()
	r.batches = append(r.batches, events)
	r.mu.Unlock()
}

func (r *batchRecorder) pollCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.batches)
}

func (r *batchRecorder) errorCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.errors)
}

func (r *batchRecorder) lastBatch() []shared.PollingEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.batches) == 0 {
		return nil
	}
	return r.batches[len(r.batches)-1]
}

// streamRecorder reads envelopes from /ws/events.
type streamRecorder struct {
	mu    sync.Mutex
	types []string
}

func dialStream(t *testing.T, serverURL string) *streamRecorder {
	t.Helper()

	header := http.Header{}
	header.Set("Authorization", "Bearer "+authToken)
	wsURL := "ws" + strings.TrimPrefix(serverURL, "http") + "/ws/events"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, header)
	if err != nil {
		t.Fatalf("dial event stream: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	s := &streamRecorder{}
	go func() {
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			env, err := shared.UnmarshalEnvelope(data)
			if err != nil {
				continue
			}
			s.mu.Lock()
			s.types = append(s.types, env.Type)
			s.mu.Unlock()
		}
	}()
	return s
}

func (s *streamRecorder) count(eventType shared.EventType) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, typ := range s.types {
		if typ == string(eventType) {
			n++
		}
	}
	return n
}

func setupIntegrationDB(t *testing.T) (*sql.DB, *storage.MonitorDB) {
	t.Helper()

	tmpFile, err := os.CreateTemp("", "integration-*.db")
	if err != nil {
		t.Fatalf("create temp db: %v", err)
	}
	_ = tmpFile.Close()

	db, err := sql.Open("sqlite", tmpFile.Name())
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() {
		_ = db.Close()
		_ = os.Remove(tmpFile.Name())
	})

	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		t.Fatalf("set busy timeout: %v", err)
	}

	backend, err := storage.NewSQLBackend(db, storage.SQLite, nil)
	if err != nil {
		t.Fatalf("backend: %v", err)
	}
	return db, storage.NewMonitorDB(backend, nil)
}

func hostPort(t *testing.T, raw string) (string, int) {
	t.Helper()
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("parse url: %v", err)
	}
	port, err := strconv.Atoi(u.Port())
	if err != nil {
		t.Fatalf("parse port: %v", err)
	}
	return u.Hostname(), port
}

func waitFor(t *testing.T, timeout time.Duration, fn func() bool, label string) {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if fn() {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", label)
}
