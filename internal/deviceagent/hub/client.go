package hub

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/autopeer-io/adfleet/internal/deviceagent/core"
	"github.com/autopeer-io/adfleet/internal/hub/core/model"
	"github.com/autopeer-io/adfleet/internal/hub/manifest"
	"github.com/autopeer-io/adfleet/internal/hub/service"
	"github.com/autopeer-io/adfleet/pkg/log"
)

const (
	headerDeviceID = "X-Device-Id"
	maxFrameSize   = 1 << 20
)

// Client talks to the device API of the hub.
type Client struct {
	base  string
	id    string
	token string
	http  *http.Client
	log   log.Logger

	mu       sync.Mutex
	etag     string
	manifest *manifest.Manifest
	routes   map[model.EventType]core.HandlerFunc
}

var _ core.Hub = (*Client)(nil)

// New creates a client. hc must not impose a total request timeout since it
// also carries the long-lived push stream.
func New(base, id, token string, hc *http.Client) *Client {
	if hc == nil {
		hc = http.DefaultClient
	}
	return &Client{
		base:   strings.TrimSuffix(base, "/") + "/api/v1/device",
		id:     id,
		token:  token,
		http:   hc,
		log:    log.WithName("hub-client").WithValues("deviceID", id),
		routes: make(map[model.EventType]core.HandlerFunc),
	}
}

// Register routes a pushed event to handler. Registering twice replaces it.
func (c *Client) Register(event model.EventType, handler core.HandlerFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.routes[event] = handler
}

func (c *Client) newRequest(ctx context.Context, method, path string, body any) (*http.Request, error) {
	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		r = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, r)
	if err != nil {
		return nil, err
	}
	req.Header.Set(headerDeviceID, c.id)
	req.Header.Set("Authorization", "Bearer "+c.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}

// StatusError is returned for unexpected hub answers.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("hub answered %d: %s", e.Code, e.Body)
}

func statusError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	return &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(body))}
}

func (c *Client) post(ctx context.Context, path string, body any) error {
	req, err := c.newRequest(ctx, http.MethodPost, path, body)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return statusError(resp)
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

func (c *Client) Heartbeat(ctx context.Context, req *service.HeartbeatRequest) error {
	return c.post(ctx, "/heartbeat", req)
}

func (c *Client) Impressions(ctx context.Context, batch []service.ImpressionInput) error {
	return c.post(ctx, "/impressions", map[string]any{"impressions": batch})
}

// Manifest fetches the manifest conditionally on the last ETag. A 304 or a
// 429 returns the cached manifest as unchanged.
func (c *Client) Manifest(ctx context.Context) (*manifest.Manifest, bool, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/manifest", nil)
	if err != nil {
		return nil, false, err
	}
	c.mu.Lock()
	if c.etag != "" {
		req.Header.Set("If-None-Match", c.etag)
	}
	c.mu.Unlock()

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, false, err
	}
	defer resp.Body.Close()

	c.mu.Lock()
	defer c.mu.Unlock()

	switch resp.StatusCode {
	case http.StatusOK:
		var m manifest.Manifest
		if err := json.NewDecoder(resp.Body).Decode(&m); err != nil {
			return nil, false, fmt.Errorf("failed to decode manifest: %w", err)
		}
		c.etag = resp.Header.Get("ETag")
		c.manifest = &m
		return &m, true, nil
	case http.StatusNotModified:
		if c.manifest == nil {
			return nil, false, fmt.Errorf("hub answered 304 without a cached manifest")
		}
		return c.manifest, false, nil
	case http.StatusTooManyRequests:
		c.log.Info("Manifest fetch rate limited", "retryAfter", resp.Header.Get("Retry-After"))
		if c.manifest == nil {
			return nil, false, statusError(resp)
		}
		return c.manifest, false, nil
	default:
		return nil, false, statusError(resp)
	}
}

// Stream holds the push stream open and dispatches every event to its
// route until the stream ends or ctx is cancelled.
func (c *Client) Stream(ctx context.Context) error {
	req, err := c.newRequest(ctx, http.MethodGet, "/stream", nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return statusError(resp)
	}
	c.log.Info("Push stream open")

	sc := bufio.NewScanner(resp.Body)
	sc.Buffer(make([]byte, 0, 64*1024), maxFrameSize)

	var event string
	var data strings.Builder
	for sc.Scan() {
		line := sc.Text()
		switch {
		case line == "":
			if event != "" {
				c.dispatch(ctx, model.EventType(event), []byte(data.String()))
			}
			event = ""
			data.Reset()
		case strings.HasPrefix(line, ":"):
		case strings.HasPrefix(line, "event:"):
			event = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			if data.Len() > 0 {
				data.WriteByte('\n')
			}
			data.WriteString(strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		}
	}
	if err := sc.Err(); err != nil && ctx.Err() == nil {
		return fmt.Errorf("push stream broken: %w", err)
	}
	return ctx.Err()
}

func (c *Client) dispatch(ctx context.Context, event model.EventType, data []byte) {
	c.mu.Lock()
	handler, ok := c.routes[event]
	c.mu.Unlock()
	if !ok {
		c.log.Debug("Ignoring unrouted event", "event", event)
		return
	}
	if err := handler(ctx, data); err != nil {
		c.log.Error(err, "Handler execution failed", "event", event)
	}
}
