package monitorctl

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/turtlecoin/turtlecoin-node-monitor/internal/shared"
)

const (
	streamPath           = "/ws/events"
	streamReadDeadline   = 90 * time.Second
	streamHandshakeLimit = 10 * time.Second
)

// Backoff is jittered exponential reconnect delay.
type Backoff struct {
	Min    time.Duration
	Max    time.Duration
	Factor float64
	Jitter float64 // fraction, 0.25 = ±25%

	attempt int
}

func DefaultBackoff() *Backoff {
	return &Backoff{
		Min:    250 * time.Millisecond,
		Max:    30 * time.Second,
		Factor: 2.0,
		Jitter: 0.25,
	}
}

// Next returns the delay for the current attempt and advances it.
func (b *Backoff) Next() time.Duration {
	d := float64(b.Min) * math.Pow(b.Factor, float64(b.attempt))
	if d > float64(b.Max) {
		d = float64(b.Max)
	}
	if b.Jitter > 0 {
		d += d * b.Jitter * (2*rand.Float64() - 1)
	}
	d = math.Max(float64(b.Min), math.Min(d, float64(b.Max)))

	b.attempt++
	return time.Duration(d)
}

func (b *Backoff) Reset() {
	b.attempt = 0
}

// EventHandler receives each envelope from the event stream. Returning an
// error stops Watch.
type EventHandler func(env *shared.Envelope) error

// Watch subscribes to the monitor's event stream and calls handle for every
// envelope, reconnecting with backoff until ctx is cancelled. onDisconnect,
// when set, is told about each dropped connection.
func (c *HTTPClient) Watch(ctx context.Context, backoff *Backoff, handle EventHandler, onDisconnect func(err error, wait time.Duration)) error {
	if backoff == nil {
		backoff = DefaultBackoff()
	}

	for {
		err := c.watchOnce(ctx, backoff, handle)
		if ctx.Err() != nil {
			return nil
		}
		if _, ok := err.(handlerError); ok {
			return err
		}

		wait := backoff.Next()
		if onDisconnect != nil {
			onDisconnect(err, wait)
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(wait):
		}
	}
}

type handlerError struct{ error }

func (e handlerError) Unwrap() error { return e.error }

func (c *HTTPClient) watchOnce(ctx context.Context, backoff *Backoff, handle EventHandler) error {
	header := http.Header{}
	if c.authToken != "" {
		header.Set("Authorization", "Bearer "+c.authToken)
	}

	dialer := websocket.Dialer{HandshakeTimeout: streamHandshakeLimit}
	conn, resp, err := dialer.DialContext(ctx, streamURL(c.baseURL), header)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("dial event stream: %w (status %d)", err, resp.StatusCode)
		}
		return fmt.Errorf("dial event stream: %w", err)
	}
	defer conn.Close()
	backoff.Reset()

	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	conn.SetReadDeadline(time.Now().Add(streamReadDeadline))
	conn.SetPingHandler(func(data string) error {
		conn.SetReadDeadline(time.Now().Add(streamReadDeadline))
		return conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(time.Second))
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read event stream: %w", err)
		}
		conn.SetReadDeadline(time.Now().Add(streamReadDeadline))

		env, err := shared.UnmarshalEnvelope(data)
		if err != nil {
			continue
		}
		if err := handle(env); err != nil {
			return handlerError{err}
		}
	}
}

func streamURL(baseURL string) string {
	switch {
	case strings.HasPrefix(baseURL, "https://"):
		return "wss://" + strings.TrimPrefix(baseURL, "https://") + streamPath
	case strings.HasPrefix(baseURL, "http://"):
		return "ws://" + strings.TrimPrefix(baseURL, "http://") + streamPath
	default:
		return baseURL + streamPath
	}
}
