package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/turtlecoin/turtlecoin-node-monitor/internal/shared"
)

const maxResponseBytes = 1 << 20

// StatusError is returned when a daemon answers with a non-200 status.
type StatusError struct {
	Endpoint   string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: http status %d", e.Endpoint, e.StatusCode)
}

// RPCError is an error body returned by the daemon itself.
type RPCError struct {
	Code    int    `json:"errorCode"`
	Message string `json:"errorMessage"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("daemon error %d: %s", e.Code, e.Message)
}

// IsNotFound reports whether err is a 404 from the daemon.
func IsNotFound(err error) bool {
	var statusErr *StatusError
	return errors.As(err, &statusErr) && statusErr.StatusCode == http.StatusNotFound
}

// Client talks to the HTTP RPC surface of a single daemon.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient builds a client for node. Every request is bounded by timeout.
func NewClient(node shared.Node, timeout time.Duration) *Client {
	scheme := "http"
	if node.SSL {
		scheme = "https"
	}
	return &Client{
		baseURL:    scheme + "://" + net.JoinHostPort(node.Hostname, strconv.Itoa(node.Port)),
		httpClient: &http.Client{Timeout: timeout},
	}
}

// NewClientWithHTTP builds a client against an explicit base URL.
func NewClientWithHTTP(baseURL string, httpClient *http.Client) *Client {
	return &Client{baseURL: baseURL, httpClient: httpClient}
}

func (c *Client) BaseURL() string {
	return c.baseURL
}

// Info fetches and normalizes /info.
func (c *Client) Info(ctx context.Context) (*Info, error) {
	var raw rawInfo
	if err := c.get(ctx, "/info", &raw); err != nil {
		return nil, err
	}
	return raw.normalize()
}

// Fee fetches the node's fee. Daemons that predate /fee are asked for
// /feeinfo instead.
func (c *Client) Fee(ctx context.Context) (*FeeInfo, error) {
	var fee FeeInfo
	err := c.get(ctx, "/fee", &fee)
	if IsNotFound(err) {
		err = c.get(ctx, "/feeinfo", &fee)
	}
	if err != nil {
		return nil, err
	}
	return &fee, nil
}

func (c *Client) get(ctx context.Context, path string, result interface{}) error {
	endpoint := c.baseURL + path

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var rpcErr RPCError
		if json.Unmarshal(body, &rpcErr) == nil && rpcErr.Message != "" {
			return fmt.Errorf("%s: %w", endpoint, &rpcErr)
		}
		return &StatusError{Endpoint: endpoint, StatusCode: resp.StatusCode}
	}

	if err := json.Unmarshal(body, result); err != nil {
		return fmt.Errorf("unmarshal %s: %w", path, err)
	}
	return nil
}
