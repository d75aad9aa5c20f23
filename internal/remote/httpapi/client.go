// Package httpapi implements the remote.Store interface against the
// scorekeeper backend's document API: plain HTTP for reads and writes, a
// WebSocket feed for full-collection snapshot subscriptions.
//
// Endpoints, relative to the base URL:
//
//	GET    /v1/{collection}            list the collection
//	GET    /v1/{collection}?field=f&value=v   equality query
//	GET    /v1/{collection}/{id}       fetch one document (404 when missing)
//	PUT    /v1/{collection}/{id}       whole-document upsert
//	DELETE /v1/{collection}/{id}       delete (missing is not an error)
//	POST   /v1/{collection}/batch      batched upserts and deletes
//	WS     /v1/{collection}/watch      snapshot stream
package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/coder/websocket"

	"scoresync/internal/remote"
)

// Client talks to the document API. It is safe for concurrent use.
type Client struct {
	baseURL string
	http    *http.Client
	logger  *log.Logger
}

// Config holds client configuration.
type Config struct {
	// BaseURL is the API root, e.g. "https://api.example.com".
	BaseURL string

	// Timeout bounds each HTTP call. A stuck call otherwise blocks the
	// drain loop until it resolves. Default: 15s.
	Timeout time.Duration

	// Logger for client activity (default: stderr logger).
	Logger *log.Logger
}

// New creates a document API client.
func New(config Config) (*Client, error) {
	if config.BaseURL == "" {
		return nil, fmt.Errorf("base URL is required")
	}
	if config.Timeout == 0 {
		config.Timeout = 15 * time.Second
	}
	if config.Logger == nil {
		config.Logger = log.New(os.Stderr, "[remote] ", log.LstdFlags)
	}

	return &Client{
		baseURL: strings.TrimRight(config.BaseURL, "/"),
		http:    &http.Client{Timeout: config.Timeout},
		logger:  config.Logger,
	}, nil
}

// Collection implements remote.Store.
func (c *Client) Collection(name string) remote.Collection {
	return &httpCollection{client: c, name: name}
}

type httpCollection struct {
	client *Client
	name   string
}

// batchRequest is the body of POST /v1/{collection}/batch.
type batchRequest struct {
	Upserts []remote.Doc `json:"upserts,omitempty"`
	Deletes []string     `json:"deletes,omitempty"`
}

func (h *httpCollection) url(parts ...string) string {
	segs := append([]string{h.client.baseURL, "v1", url.PathEscape(h.name)}, parts...)
	return strings.Join(segs, "/")
}

func (h *httpCollection) do(ctx context.Context, method, rawURL string, body []byte) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, rawURL, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to build %s request: %w", method, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := h.client.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, rawURL, err)
	}
	return resp, nil
}

// drainAndClose discards the rest of a response body so the connection can
// be reused, then closes it.
func drainAndClose(resp *http.Response) {
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()
}

func (h *httpCollection) Get(ctx context.Context, id string) (json.RawMessage, error) {
	resp, err := h.do(ctx, http.MethodGet, h.url(url.PathEscape(id)), nil)
	if err != nil {
		return nil, err
	}
	defer drainAndClose(resp)

	switch resp.StatusCode {
	case http.StatusOK:
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("failed to read document %s: %w", id, err)
		}
		return data, nil
	case http.StatusNotFound:
		return nil, remote.ErrNotFound
	default:
		return nil, fmt.Errorf("get %s/%s: unexpected status %d", h.name, id, resp.StatusCode)
	}
}

func (h *httpCollection) Upsert(ctx context.Context, id string, doc json.RawMessage) error {
	resp, err := h.do(ctx, http.MethodPut, h.url(url.PathEscape(id)), doc)
	if err != nil {
		return err
	}
	defer drainAndClose(resp)

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		return fmt.Errorf("upsert %s/%s: unexpected status %d", h.name, id, resp.StatusCode)
	}
	return nil
}

func (h *httpCollection) Delete(ctx context.Context, id string) error {
	resp, err := h.do(ctx, http.MethodDelete, h.url(url.PathEscape(id)), nil)
	if err != nil {
		return err
	}
	defer drainAndClose(resp)

	// Deleting a missing document is idempotent success.
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent &&
		resp.StatusCode != http.StatusNotFound {
		return fmt.Errorf("delete %s/%s: unexpected status %d", h.name, id, resp.StatusCode)
	}
	return nil
}

func (h *httpCollection) list(ctx context.Context, rawURL string) ([]remote.Doc, error) {
	resp, err := h.do(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	defer drainAndClose(resp)

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("list %s: unexpected status %d", h.name, resp.StatusCode)
	}

	var docs []remote.Doc
	if err := json.NewDecoder(resp.Body).Decode(&docs); err != nil {
		return nil, fmt.Errorf("failed to decode %s listing: %w", h.name, err)
	}
	return docs, nil
}

func (h *httpCollection) Query(ctx context.Context, field, value string) ([]remote.Doc, error) {
	q := url.Values{"field": {field}, "value": {value}}
	return h.list(ctx, h.url()+"?"+q.Encode())
}

func (h *httpCollection) List(ctx context.Context) ([]remote.Doc, error) {
	return h.list(ctx, h.url())
}

func (h *httpCollection) BatchUpsert(ctx context.Context, docs []remote.Doc) error {
	return h.batch(ctx, batchRequest{Upserts: docs})
}

func (h *httpCollection) BatchDelete(ctx context.Context, ids []string) error {
	return h.batch(ctx, batchRequest{Deletes: ids})
}

func (h *httpCollection) batch(ctx context.Context, req batchRequest) error {
	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("failed to marshal batch request: %w", err)
	}

	resp, err := h.do(ctx, http.MethodPost, h.url("batch"), body)
	if err != nil {
		return err
	}
	defer drainAndClose(resp)

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		return fmt.Errorf("batch %s: unexpected status %d", h.name, resp.StatusCode)
	}
	return nil
}

// Subscribe opens the WebSocket snapshot feed for this collection.
//
// Snapshots arrive as JSON-encoded remote.Snapshot messages. The feed runs
// until stop is called or ctx ends; a dropped connection closes the channel,
// and the subscriber (the coordinator) reopens it on the next
// connectivity-restored event.
func (h *httpCollection) Subscribe(ctx context.Context) (<-chan remote.Snapshot, func(), error) {
	wsURL := h.url("watch")
	if strings.HasPrefix(wsURL, "https://") {
		wsURL = "wss://" + strings.TrimPrefix(wsURL, "https://")
	} else if strings.HasPrefix(wsURL, "http://") {
		wsURL = "ws://" + strings.TrimPrefix(wsURL, "http://")
	}

	subCtx, cancel := context.WithCancel(ctx)

	conn, _, err := websocket.Dial(subCtx, wsURL, nil)
	if err != nil {
		cancel()
		return nil, nil, fmt.Errorf("failed to open snapshot feed for %s: %w", h.name, err)
	}
	// Snapshots of a large collection can exceed the library default.
	conn.SetReadLimit(16 << 20)

	ch := make(chan remote.Snapshot, 1)

	stop := func() {
		cancel()
		_ = conn.Close(websocket.StatusNormalClosure, "")
	}

	go func() {
		defer close(ch)
		defer stop()

		for {
			_, data, err := conn.Read(subCtx)
			if err != nil {
				if subCtx.Err() == nil {
					h.client.logger.Printf("Snapshot feed for %s closed: %v", h.name, err)
				}
				return
			}

			var snap remote.Snapshot
			if err := json.Unmarshal(data, &snap); err != nil {
				h.client.logger.Printf("Warning: dropping malformed snapshot for %s: %v", h.name, err)
				continue
			}
			if snap.Collection == "" {
				snap.Collection = h.name
			}

			select {
			case ch <- snap:
			case <-subCtx.Done():
				return
			}
		}
	}()

	return ch, stop, nil
}
