package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/turtlecoin/turtlecoin-node-monitor/internal/shared"
)

const statsCacheKey = "stats"

// StatsSource is the read side of the persistence layer.
type StatsSource interface {
	Stats(ctx context.Context) ([]shared.NodeStats, error)
	Nodes(ctx context.Context) ([]shared.Node, error)
	DeleteNode(ctx context.Context, id string) (bool, error)
}

// HTTPAPI serves node statistics, health probes, metrics and the event
// stream. It implements collector.Listener so fresh batches invalidate the
// stats cache.
type HTTPAPI struct {
	source        StatsSource
	hub           *Hub
	healthChecker *HealthChecker
	authToken     string
	minVersion    *semver.Constraints
	cache         *expirable.LRU[string, []shared.NodeStats]
	logger        *zap.Logger
}

// NewHTTPAPI builds the API. cacheTTL bounds how long computed stats are
// reused; minVersion may be empty.
func NewHTTPAPI(source StatsSource, authToken string, minVersion string, cacheTTL time.Duration, logger *zap.Logger) (*HTTPAPI, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	a := &HTTPAPI{
		source:    source,
		authToken: authToken,
		cache:     expirable.NewLRU[string, []shared.NodeStats](1, nil, cacheTTL),
		logger:    logger,
	}

	if minVersion != "" {
		constraint, err := semver.NewConstraint(minVersion)
		if err != nil {
			return nil, fmt.Errorf("parse min version %q: %w", minVersion, err)
		}
		a.minVersion = constraint
	}

	return a, nil
}

func (a *HTTPAPI) SetHub(hub *Hub) {
	a.hub = hub
}

func (a *HTTPAPI) SetHealthChecker(hc *HealthChecker) {
	a.healthChecker = hc
}

func (a *HTTPAPI) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", a.handleLiveness)
	mux.HandleFunc("GET /readyz", a.handleReadiness)
	mux.Handle("GET /metrics", promhttp.Handler())

	mux.Handle("GET /api/v1/stats", a.requireAuth(http.HandlerFunc(a.handleListStats)))
	mux.Handle("GET /api/v1/stats/{id}", a.requireAuth(http.HandlerFunc(a.handleGetStats)))
	mux.Handle("GET /api/v1/nodes", a.requireAuth(http.HandlerFunc(a.handleListNodes)))
	mux.Handle("DELETE /api/v1/nodes/{id}", a.requireAuth(http.HandlerFunc(a.handleDeleteNode)))
	if a.hub != nil {
		mux.HandleFunc("GET /ws/events", a.hub.ServeWS)
	}

	return mux
}

type apiResponse struct {
	Data interface{} `json:"data"`
	Meta *apiMeta    `json:"meta,omitempty"`
}

type apiMeta struct {
	Total int `json:"total"`
}

type apiError struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func (a *HTTPAPI) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if a.authToken == "" {
			next.ServeHTTP(w, r)
			return
		}

		token := ""
		if authHeader := r.Header.Get("Authorization"); strings.HasPrefix(authHeader, "Bearer ") {
			token = strings.TrimPrefix(authHeader, "Bearer ")
		}

		if token != a.authToken {
			writeError(w, http.StatusUnauthorized, "unauthorized", "AUTH_REQUIRED")
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (a *HTTPAPI) handleLiveness(w http.ResponseWriter, r *http.Request) {
	if a.healthChecker == nil {
		writeJSON(w, http.StatusOK, map[string]string{"status": "alive"})
		return
	}
	writeJSON(w, http.StatusOK, a.healthChecker.CheckLiveness(r.Context()))
}

func (a *HTTPAPI) handleReadiness(w http.ResponseWriter, r *http.Request) {
	if a.healthChecker == nil {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
		return
	}

	result := a.healthChecker.CheckReadiness(r.Context())
	statusCode := http.StatusOK
	if result.Status != HealthHealthy {
		statusCode = http.StatusServiceUnavailable
	}
	writeJSON(w, statusCode, result)
}

func (a *HTTPAPI) handleListStats(w http.ResponseWriter, r *http.Request) {
	stats, err := a.stats(r.Context())
	if err != nil {
		a.logger.Error("failed to load node stats", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load node stats", "INTERNAL_ERROR")
		return
	}

	writeJSON(w, http.StatusOK, apiResponse{
		Data: stats,
		Meta: &apiMeta{Total: len(stats)},
	})
}

func (a *HTTPAPI) handleGetStats(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	stats, err := a.stats(r.Context())
	if err != nil {
		a.logger.Error("failed to load node stats", zap.String("node_id", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load node stats", "INTERNAL_ERROR")
		return
	}

	for _, s := range stats {
		if s.ID == id {
			writeJSON(w, http.StatusOK, apiResponse{Data: s})
			return
		}
	}
	writeError(w, http.StatusNotFound, "node not found", "NOT_FOUND")
}

func (a *HTTPAPI) handleListNodes(w http.ResponseWriter, r *http.Request) {
	nodes, err := a.source.Nodes(r.Context())
	if err != nil {
		a.logger.Error("failed to load nodes", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load nodes", "INTERNAL_ERROR")
		return
	}

	writeJSON(w, http.StatusOK, apiResponse{
		Data: nodes,
		Meta: &apiMeta{Total: len(nodes)},
	})
}

// handleDeleteNode removes a node and its polling history. A node still
// listed in the directory reappears on the next update.
func (a *HTTPAPI) handleDeleteNode(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	deleted, err := a.source.DeleteNode(r.Context(), id)
	if err != nil {
		a.logger.Error("failed to delete node", zap.String("node_id", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to delete node", "INTERNAL_ERROR")
		return
	}
	if !deleted {
		writeError(w, http.StatusNotFound, "node not found", "NOT_FOUND")
		return
	}

	a.Invalidate()
	a.logger.Info("node deleted", zap.String("node_id", id))
	writeJSON(w, http.StatusOK, apiResponse{Data: map[string]interface{}{"id": id, "deleted": true}})
}

func (a *HTTPAPI) stats(ctx context.Context) ([]shared.NodeStats, error) {
	if cached, ok := a.cache.Get(statsCacheKey); ok {
		return cached, nil
	}

	stats, err := a.source.Stats(ctx)
	if err != nil {
		return nil, err
	}
	a.annotateVersions(stats)
	a.cache.Add(statsCacheKey, stats)
	return stats, nil
}

// annotateVersions sets VersionOK on each entry when a minimum version is
// configured. Offline and unparsable versions are never OK.
func (a *HTTPAPI) annotateVersions(stats []shared.NodeStats) {
	if a.minVersion == nil {
		return
	}
	for i := range stats {
		ok := false
		if !stats[i].Info.Offline() {
			if v, err := semver.NewVersion(stats[i].Info.Version); err == nil {
				ok = a.minVersion.Check(v)
			}
		}
		stats[i].VersionOK = &ok
	}
}

func (a *HTTPAPI) Invalidate() {
	a.cache.Purge()
}

func (a *HTTPAPI) OnInfo(string) {}

func (a *HTTPAPI) OnError(error) {}

func (a *HTTPAPI) OnUpdate([]shared.Node) {
	a.Invalidate()
}

func (a *HTTPAPI) OnPolling([]shared.PollingEvent) {
	a.Invalidate()
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, code string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(apiError{Error: message, Code: code})
}
