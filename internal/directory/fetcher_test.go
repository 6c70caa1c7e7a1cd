package directory

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestNodeIDDeterministic(t *testing.T) {
	a := NodeID("node.example", 11898, true)
	b := NodeID("node.example", 11898, true)
	if a != b {
		t.Fatalf("expected identical ids, got %s and %s", a, b)
	}
	if len(a) != 64 {
		t.Errorf("expected 64 hex chars, got %d", len(a))
	}

	variants := map[string]string{
		"hostname": NodeID("other.example", 11898, true),
		"port":     NodeID("node.example", 11899, true),
		"ssl":      NodeID("node.example", 11898, false),
	}
	for field, id := range variants {
		if id == a {
			t.Errorf("changing %s did not change the id", field)
		}
	}
}

func TestNodeIDKeyFormat(t *testing.T) {
	mac := hmac.New(sha256.New, []byte(`{"hostname":"localhost","port":11898,"ssl":0}`))
	want := hex.EncodeToString(mac.Sum(nil))

	if got := NodeID("localhost", 11898, false); got != want {
		t.Errorf("NodeID = %s, want %s", got, want)
	}
}

func TestSanitizeName(t *testing.T) {
	tests := map[string]string{
		"Bob's Node":      "Bobs Node",
		"  \"quoted\"\n ": "quoted",
		"back`tick":       "backtick",
		"plain":           "plain",
		"tab\tinside":     "tabinside",
	}
	for in, want := range tests {
		if got := SanitizeName(in); got != want {
			t.Errorf("SanitizeName(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestFetchNormalizesEntries(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"nodes":[
			{"name":"Alpha's","url":"alpha.example","port":11898,"ssl":true,"cache":false},
			{"name":"Bravo","url":"bravo.example","port":"443","ssl":"1","cache":1},
			{"name":"Charlie","url":"charlie.example","ssl":null},
			{"name":"NoURL","url":"","port":11898}
		]}`))
	}))
	defer srv.Close()

	f := NewFetcher(srv.URL, time.Second, nil)
	nodes, err := f.Fetch(context.Background())
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(nodes) != 3 {
		t.Fatalf("expected 3 nodes, got %d", len(nodes))
	}

	if nodes[0].Name != "Alphas" || !nodes[0].SSL || nodes[0].Cache {
		t.Errorf("alpha mismatch: %+v", nodes[0])
	}
	if nodes[0].ID != NodeID("alpha.example", 11898, true) {
		t.Errorf("alpha id mismatch")
	}
	if nodes[1].Port != 443 || !nodes[1].SSL || !nodes[1].Cache {
		t.Errorf("bravo mismatch: %+v", nodes[1])
	}
	if nodes[2].Port != DefaultPort || nodes[2].SSL {
		t.Errorf("charlie mismatch: %+v", nodes[2])
	}
}

func TestFetchMissingNodesField(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"servers":[]}`))
	}))
	defer srv.Close()

	nodes, err := NewFetcher(srv.URL, time.Second, nil).Fetch(context.Background())
	var fetchErr *FetchError
	if !errors.As(err, &fetchErr) {
		t.Fatalf("expected FetchError, got %v", err)
	}
	if nodes != nil {
		t.Errorf("expected no partial result, got %v", nodes)
	}
}

func TestFetchEmptyListIsNotAnError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"nodes":[]}`))
	}))
	defer srv.Close()

	nodes, err := NewFetcher(srv.URL, time.Second, nil).Fetch(context.Background())
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(nodes) != 0 {
		t.Errorf("expected empty list, got %d", len(nodes))
	}
}

func TestFetchErrors(t *testing.T) {
	badStatus := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	}))
	defer badStatus.Close()

	malformed := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"nodes":[{"url":"x","port":11898}`))
	}))
	defer malformed.Close()

	closed := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	closedURL := closed.URL
	closed.Close()

	for name, url := range map[string]string{
		"status":    badStatus.URL,
		"malformed": malformed.URL,
		"transport": closedURL,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := NewFetcher(url, time.Second, nil).Fetch(context.Background())
			var fetchErr *FetchError
			if !errors.As(err, &fetchErr) {
				t.Fatalf("expected FetchError, got %v", err)
			}
			if fetchErr.URL != url {
				t.Errorf("expected url %s, got %s", url, fetchErr.URL)
			}
		})
	}
}

func TestFetchSkipsEntriesWithInvalidPort(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"nodes":[
			{"name":"good","url":"good.example","port":11898},
			{"name":"letters","url":"letters.example","port":"11898a"},
			{"name":"range","url":"range.example","port":70000},
			{"name":"fraction","url":"fraction.example","port":118.5},
			{"name":"object","url":"object.example","port":{}},
			{"name":"stringly","url":"stringly.example","port":"11897"}
		]}`))
	}))
	defer srv.Close()

	nodes, err := NewFetcher(srv.URL, time.Second, nil).Fetch(context.Background())
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(nodes) != 2 {
		t.Fatalf("expected the 2 valid entries, got %+v", nodes)
	}
	if nodes[0].Name != "good" || nodes[0].Port != 11898 {
		t.Errorf("unexpected first node %+v", nodes[0])
	}
	if nodes[1].Name != "stringly" || nodes[1].Port != 11897 {
		t.Errorf("unexpected second node %+v", nodes[1])
	}
}

func TestFetchKeepsFirstOfDuplicateEntries(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"nodes":[
			{"name":"alpha","url":"alpha.example","port":11898},
			{"name":"alpha mirror","url":" alpha.example ","port":"11898","ssl":false},
			{"name":"alpha tls","url":"alpha.example","port":11898,"ssl":true},
			{"name":"bravo","url":"bravo.example"}
		]}`))
	}))
	defer srv.Close()

	nodes, err := NewFetcher(srv.URL, time.Second, nil).Fetch(context.Background())
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}

	names := make([]string, 0, len(nodes))
	ids := make(map[string]bool, len(nodes))
	for _, n := range nodes {
		names = append(names, n.Name)
		if ids[n.ID] {
			t.Errorf("duplicate id %s in result", n.ID)
		}
		ids[n.ID] = true
	}
	if len(nodes) != 3 || names[0] != "alpha" || names[1] != "alpha tls" || names[2] != "bravo" {
		t.Errorf("expected [alpha, alpha tls, bravo], got %v", names)
	}
}
