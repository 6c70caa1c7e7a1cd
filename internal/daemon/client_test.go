package daemon

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/turtlecoin/turtlecoin-node-monitor/internal/shared"
)

const modernInfo = `{
	"height": 3000000, "difficulty": 450000000, "hashrate": 15000000, "synced": true,
	"version": {"major": 1, "minor": 1, "patch": 0}, "isCacheApi": false,
	"incomingConnections": 12, "outgoingConnections": 8, "transactionsPoolSize": 3
}`

const legacyInfo = `{
	"height": 2500000, "difficulty": 300000000, "hashrate": 10000000, "synced": false,
	"version": "0.28.3",
	"incoming_connections_count": 4, "outgoing_connections_count": 6, "tx_pool_size": 9
}`

const cacheInfo = `{
	"height": 3000001, "difficulty": 1, "hashrate": 1, "synced": true,
	"version": {"major": 6, "minor": 0, "patch": 2}, "isCacheApi": true,
	"incoming_connections_count": 1, "outgoing_connections_count": 2, "tx_pool_size": 3
}`

func daemonServer(t *testing.T, info string, fee string, feeOnLegacyPath bool) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("GET /info", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(info))
	})
	feePath := "GET /fee"
	if feeOnLegacyPath {
		feePath = "GET /feeinfo"
	}
	mux.HandleFunc(feePath, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(fee))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestInfoModernShape(t *testing.T) {
	srv := daemonServer(t, modernInfo, `{}`, false)
	c := NewClientWithHTTP(srv.URL, srv.Client())

	info, err := c.Info(context.Background())
	if err != nil {
		t.Fatalf("info: %v", err)
	}
	if info.Version != "1.1.0" || !info.Synced || info.Height != 3000000 {
		t.Errorf("unexpected info %+v", info)
	}
	if info.IncomingConnections != 12 || info.OutgoingConnections != 8 || info.TransactionPoolSize != 3 {
		t.Errorf("modern counts not used: %+v", info)
	}
}

func TestInfoLegacyShape(t *testing.T) {
	srv := daemonServer(t, legacyInfo, `{}`, false)
	c := NewClientWithHTTP(srv.URL, srv.Client())

	info, err := c.Info(context.Background())
	if err != nil {
		t.Fatalf("info: %v", err)
	}
	if info.Version != "0.28.3" || info.Synced {
		t.Errorf("unexpected info %+v", info)
	}
	if info.IncomingConnections != 4 || info.OutgoingConnections != 6 || info.TransactionPoolSize != 9 {
		t.Errorf("legacy counts not used: %+v", info)
	}
}

func TestInfoCacheAPIUsesLegacyNames(t *testing.T) {
	srv := daemonServer(t, cacheInfo, `{}`, false)
	c := NewClientWithHTTP(srv.URL, srv.Client())

	info, err := c.Info(context.Background())
	if err != nil {
		t.Fatalf("info: %v", err)
	}
	if !info.IsCacheAPI || info.IncomingConnections != 1 || info.TransactionPoolSize != 3 {
		t.Errorf("unexpected info %+v", info)
	}
}

func TestInfoRejectsMissingVersion(t *testing.T) {
	srv := daemonServer(t, `{"height": 1}`, `{}`, false)
	c := NewClientWithHTTP(srv.URL, srv.Client())

	if _, err := c.Info(context.Background()); err == nil {
		t.Error("expected error for info without version")
	}
}

func TestFeeFallsBackToFeeInfo(t *testing.T) {
	srv := daemonServer(t, modernInfo, `{"address":"TRTLv1","amount":5000,"status":"OK"}`, true)
	c := NewClientWithHTTP(srv.URL, srv.Client())

	fee, err := c.Fee(context.Background())
	if err != nil {
		t.Fatalf("fee: %v", err)
	}
	if fee.Address != "TRTLv1" || fee.Amount != 5000 {
		t.Errorf("unexpected fee %+v", fee)
	}
}

func TestRPCErrorBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"errorCode": 7, "errorMessage": "daemon busy"}`))
	}))
	defer srv.Close()

	_, err := NewClientWithHTTP(srv.URL, srv.Client()).Info(context.Background())
	var rpcErr *RPCError
	if !errors.As(err, &rpcErr) || rpcErr.Code != 7 {
		t.Fatalf("expected RPCError, got %v", err)
	}
	if IsNotFound(err) {
		t.Error("rpc error reported as not found")
	}
}

func TestTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	c := NewClientWithHTTP(srv.URL, &http.Client{Timeout: 50 * time.Millisecond})
	start := time.Now()
	if _, err := c.Info(context.Background()); err == nil {
		t.Fatal("expected timeout error")
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("timeout not enforced, took %v", elapsed)
	}
}

func TestNewClientURL(t *testing.T) {
	c := NewClient(shared.Node{Hostname: "node.example", Port: 443, SSL: true}, time.Second)
	if c.BaseURL() != "https://node.example:443" {
		t.Errorf("unexpected base url %s", c.BaseURL())
	}
	c = NewClient(shared.Node{Hostname: "::1", Port: 11898}, time.Second)
	if !strings.HasPrefix(c.BaseURL(), "http://[::1]") {
		t.Errorf("unexpected base url %s", c.BaseURL())
	}
}
