package monitorctl

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/turtlecoin/turtlecoin-node-monitor/internal/shared"
)

func writeData(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{"data": data})
}

func TestListStats(t *testing.T) {
	ts := time.UnixMilli(1_700_000_000_000).UTC()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/stats" {
			http.NotFound(w, r)
			return
		}
		if r.Header.Get("Authorization") != "Bearer test-token" {
			http.Error(w, `{"error":"unauthorized","code":"AUTH_REQUIRED"}`, http.StatusUnauthorized)
			return
		}
		writeData(w, []shared.NodeStats{{
			Node:         shared.Node{ID: "a", Name: "Alpha"},
			Availability: 95,
			Info:         shared.PollingEvent{NodeID: "a", Timestamp: ts, Height: 10, Version: "1.0.0"},
		}})
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL+"/", "test-token")
	stats, err := ListStats(context.Background(), client)
	if err != nil {
		t.Fatalf("ListStats: %v", err)
	}
	if len(stats) != 1 || stats[0].Name != "Alpha" || stats[0].Info.Height != 10 {
		t.Errorf("unexpected stats %+v", stats)
	}
	if !stats[0].Info.Timestamp.Equal(ts) {
		t.Errorf("timestamp = %v", stats[0].Info.Timestamp)
	}
}

func TestUnauthorized(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"unauthorized","code":"AUTH_REQUIRED"}`, http.StatusUnauthorized)
	}))
	defer server.Close()

	_, err := ListNodes(context.Background(), NewHTTPClient(server.URL, "wrong"))
	if err == nil || err.Error() != "authentication failed. Check your auth token" {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestGetStatsNotFound(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"error":"node not found","code":"NOT_FOUND"}`))
	}))
	defer server.Close()

	_, err := GetStats(context.Background(), NewHTTPClient(server.URL, ""), "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	if _, err := GetStats(context.Background(), NewHTTPClient(server.URL, ""), ""); err == nil {
		t.Error("expected error for empty id")
	}
}

func TestDeleteNode(t *testing.T) {
	var method, path string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		method, path = r.Method, r.URL.Path
		writeData(w, map[string]interface{}{"id": "abc", "deleted": true})
	}))
	defer server.Close()

	if err := DeleteNode(context.Background(), NewHTTPClient(server.URL, ""), "abc"); err != nil {
		t.Fatalf("DeleteNode: %v", err)
	}
	if method != http.MethodDelete || path != "/api/v1/nodes/abc" {
		t.Errorf("unexpected request %s %s", method, path)
	}
}

func TestReadinessDecodesUnavailable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte(`{"status":"degraded","components":{"collector":{"status":"unavailable","error":"first node list update pending"}}}`))
	}))
	defer server.Close()

	r, err := GetReadiness(context.Background(), NewHTTPClient(server.URL, ""))
	if err != nil {
		t.Fatalf("GetReadiness: %v", err)
	}
	if r.Status != "degraded" || r.Components["collector"].Status != "unavailable" {
		t.Errorf("unexpected readiness %+v", r)
	}
}

func TestServerErrorWithoutJSON(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	}))
	defer server.Close()

	_, err := ListNodes(context.Background(), NewHTTPClient(server.URL, ""))
	if err == nil || err.Error() != "server error (status 502): Bad Gateway" {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestParseResponseMissingData(t *testing.T) {
	var out []shared.Node
	if err := ParseResponse([]byte(`{"meta":{"total":0}}`), &out); err == nil {
		t.Error("expected error for missing data")
	}
}
