// Package stream subscribes to a run's server-sent event stream and hands
// decoded events to a single handler.
//
// A Client holds at most one live Subscription. Connecting again tears the
// previous one down first, so two event logs can never interleave into one
// handler. A subscription ends itself after delivering a terminal event and
// reports transport failures as a single model.ConnectionLost event. It
// never reconnects on its own.
package stream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strings"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"github.com/ashita-ai/skillcheck/internal/model"
)

// Handler receives decoded events in arrival order. Calls for one
// subscription never overlap. A Handler must not call back into the Client
// or the Subscription synchronously; doing so deadlocks.
type Handler func(runID string, ev model.Event)

// Config configures a Client.
type Config struct {
	// BaseURL of the evaluation backend, e.g. "http://localhost:8000".
	BaseURL string
	// Token is sent as a bearer token when non-empty.
	Token string
	// HTTPClient must not set a Timeout, since streams are long-lived.
	// Defaults to a fresh http.Client.
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// Client opens run streams. It is safe for concurrent use.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	handler    Handler
	logger     *slog.Logger

	mu      sync.Mutex
	current *Subscription
}

// NewClient creates a stream client that delivers every event to handler.
func NewClient(cfg Config, handler Handler) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("stream: BaseURL is required")
	}
	if handler == nil {
		return nil, fmt.Errorf("stream: handler is required")
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		token:      cfg.Token,
		httpClient: httpClient,
		handler:    handler,
		logger:     logger,
	}, nil
}

// Connect closes any current subscription, waits for it to stop, and opens
// a new one for runID at path (relative to BaseURL). The returned
// subscription is live immediately; connection errors arrive later as a
// ConnectionLost event. ctx bounds the subscription's lifetime.
func (c *Client) Connect(ctx context.Context, runID, path string) *Subscription {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.current != nil {
		c.current.Close()
	}

	ctx, cancel := context.WithCancel(ctx)
	sub := &Subscription{
		runID:   runID,
		handler: c.handler,
		cancel:  cancel,
		done:    make(chan struct{}),
		logger:  c.logger.With("run_id", runID),
	}
	c.current = sub

	go sub.run(ctx, c, c.baseURL+path)
	c.logger.Debug("stream: connected", "run_id", runID, "path", path)
	return sub
}

// Disconnect closes the current subscription, if any. It is idempotent.
func (c *Client) Disconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current != nil {
		c.current.Close()
		c.current = nil
	}
}

// Current returns the subscription most recently opened by Connect, or nil
// after Disconnect. It may already have ended.
func (c *Client) Current() *Subscription {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// Subscription is one run stream.
type Subscription struct {
	runID   string
	handler Handler
	cancel  context.CancelFunc
	done    chan struct{}
	logger  *slog.Logger

	// mu is held while the handler runs, so Close waits out an in-flight
	// delivery and nothing is delivered once closed is set.
	mu     sync.Mutex
	closed bool
}

// RunID returns the run this subscription follows.
func (s *Subscription) RunID() string { return s.runID }

// Live reports whether the subscription can still deliver events.
func (s *Subscription) Live() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.closed
}

// Done is closed once the reader goroutine has exited.
func (s *Subscription) Done() <-chan struct{} { return s.done }

// Close stops delivery and releases the connection. When Close returns, no
// further events from this subscription reach the handler. Calling it more
// than once is a no-op.
func (s *Subscription) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	s.cancel()
	<-s.done
}

func (s *Subscription) run(ctx context.Context, c *Client, url string) {
	defer close(s.done)
	defer s.cancel()

	err := s.consume(ctx, c, url)
	if err == nil {
		return
	}
	s.fail(err)
}

// consume reads frames until a terminal event is delivered (nil) or the
// transport fails (non-nil).
func (s *Subscription) consume(ctx context.Context, c *Client, url string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		blob, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(blob)))
	}
	if mt, _, err := mime.ParseMediaType(resp.Header.Get("Content-Type")); err != nil || mt != "text/event-stream" {
		return fmt.Errorf("unexpected content type %q", resp.Header.Get("Content-Type"))
	}

	fr := newFrameReader(resp.Body)
	for {
		f, err := fr.next()
		if errors.Is(err, errEndOfStream) {
			return errors.New("stream ended before a terminal event")
		}
		if err != nil {
			return err
		}
		if f.event == string(model.EventConnectionLost) {
			return fmt.Errorf("unknown event %q", f.event)
		}
		ev, err := model.DecodeEvent(f.event, []byte(f.data))
		if err != nil {
			return err
		}
		if !s.deliver(ev) {
			return nil
		}
	}
}

// deliver hands ev to the handler unless the subscription is closed. It
// returns false once nothing more should be read.
func (s *Subscription) deliver(ev model.Event) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.handler(s.runID, ev)
	if model.IsTerminal(ev) {
		s.closed = true
		s.logger.Debug("stream: terminal event", "event", ev.Type())
	}
	return !s.closed
}

// fail reports a transport failure exactly once, unless Close got there
// first.
func (s *Subscription) fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.logger.Warn("stream: connection lost", "error", err)
	s.handler(s.runID, model.ConnectionLost{Err: &model.StreamTransportError{RunID: s.runID, Err: err}})
}
