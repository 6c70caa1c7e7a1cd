package directory

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
	"unicode"

	"go.uber.org/zap"

	"github.com/turtlecoin/turtlecoin-node-monitor/internal/shared"
)

const (
	// DefaultPort is used for directory entries that omit a port.
	DefaultPort = 11898

	maxDirectoryBytes = 4 << 20
)

// FetchError reports a directory that could not be retrieved or understood.
type FetchError struct {
	URL string
	Err error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch node directory %s: %v", e.URL, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// Fetcher downloads the public node directory and normalizes it.
type Fetcher struct {
	url        string
	httpClient *http.Client
	logger     *zap.Logger
}

func NewFetcher(url string, timeout time.Duration, logger *zap.Logger) *Fetcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Fetcher{
		url:        url,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

type directoryDocument struct {
	Nodes *[]entry `json:"nodes"`
}

type entry struct {
	Name  string   `json:"name"`
	URL   string   `json:"url"`
	Port  flexPort `json:"port"`
	SSL   flexBool `json:"ssl"`
	Cache flexBool `json:"cache"`
}

// Fetch returns the directory's nodes in listed order. On any failure the
// error is a *FetchError and no nodes are returned.
func (f *Fetcher) Fetch(ctx context.Context) ([]shared.Node, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.url, nil)
	if err != nil {
		return nil, &FetchError{URL: f.url, Err: fmt.Errorf("create request: %w", err)}
	}
	req.Header.Set("Accept", "application/json")

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, &FetchError{URL: f.url, Err: fmt.Errorf("http request: %w", err)}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxDirectoryBytes))
	if err != nil {
		return nil, &FetchError{URL: f.url, Err: fmt.Errorf("read response: %w", err)}
	}

	if resp.StatusCode != http.StatusOK {
		return nil, &FetchError{URL: f.url, Err: fmt.Errorf("http status %d", resp.StatusCode)}
	}

	var doc directoryDocument
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, &FetchError{URL: f.url, Err: fmt.Errorf("unmarshal response: %w", err)}
	}
	if doc.Nodes == nil {
		return nil, &FetchError{URL: f.url, Err: fmt.Errorf("missing \"nodes\" field")}
	}

	nodes := make([]shared.Node, 0, len(*doc.Nodes))
	seen := make(map[string]string, len(*doc.Nodes))
	for i, e := range *doc.Nodes {
		hostname := strings.TrimSpace(e.URL)
		if hostname == "" {
			f.logger.Warn("skipping directory entry without url",
				zap.Int("index", i),
				zap.String("name", e.Name))
			continue
		}
		if e.Port == invalidPort {
			f.logger.Warn("skipping directory entry with invalid port",
				zap.Int("index", i),
				zap.String("name", e.Name),
				zap.String("hostname", hostname))
			continue
		}

		port := int(e.Port)
		if port == 0 {
			port = DefaultPort
		}

		// Entries with the same connection parameters share an id; only the
		// first one is monitored.
		id := NodeID(hostname, port, bool(e.SSL))
		if first, dup := seen[id]; dup {
			f.logger.Warn("skipping duplicate directory entry",
				zap.Int("index", i),
				zap.String("name", e.Name),
				zap.String("duplicate_of", first),
				zap.String("node_id", id))
			continue
		}
		seen[id] = e.Name

		nodes = append(nodes, shared.Node{
			ID:       id,
			Name:     SanitizeName(e.Name),
			Hostname: hostname,
			Port:     port,
			SSL:      bool(e.SSL),
			Cache:    bool(e.Cache),
		})
	}

	return nodes, nil
}

// NodeID derives the stable identifier of a node from its connection
// parameters: the hex HMAC-SHA256 of an empty message keyed with
// {"hostname":...,"port":...,"ssl":0|1}.
func NodeID(hostname string, port int, ssl bool) string {
	sslFlag := 0
	if ssl {
		sslFlag = 1
	}

	var key bytes.Buffer
	enc := json.NewEncoder(&key)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(struct {
		Hostname string `json:"hostname"`
		Port     int    `json:"port"`
		SSL      int    `json:"ssl"`
	}{hostname, port, sslFlag})

	mac := hmac.New(sha256.New, bytes.TrimRight(key.Bytes(), "\n"))
	return hex.EncodeToString(mac.Sum(nil))
}

// SanitizeName drops quote characters and control characters from a
// display name.
func SanitizeName(name string) string {
	cleaned := strings.Map(func(r rune) rune {
		switch {
		case r == '\'', r == '"', r == '`':
			return -1
		case unicode.IsControl(r):
			return -1
		}
		return r
	}, name)
	return strings.TrimSpace(cleaned)
}
