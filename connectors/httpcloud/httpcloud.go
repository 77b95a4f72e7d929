// Package httpcloud is an illustrative cloud connector that accepts
// command batches over HTTP instead of a persistent socket, for cloud
// control planes that prefer request/response webhooks. Grounded on the
// teacher's web/ package (a chi-routed admin HTTP surface).
package httpcloud

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/mbocsi/edgegateway/internal/connector"
)

// Connector runs a small chi-routed HTTP server. POST /commands accepts a
// JSON command batch body and emits it as a data event. Because HTTP has
// no persistent channel for async CnC replies to ride back on, replies are
// buffered and served from GET /replies (a short poll), mirroring the
// teacher's own polling web client pattern.
type Connector struct {
	*connector.Base

	srv *http.Server

	mu       sync.Mutex
	replies  []any
	maxQueue int
}

// New builds an inactive HTTP cloud connector with id.
func New(id string) connector.Connector {
	c := &Connector{maxQueue: 256}
	c.Base = connector.NewBase(id, connector.Cloud, c)
	return c
}

func (c *Connector) OnInit(ctx context.Context, config map[string]any, requestID string) (any, error) {
	addr, _ := config["addr"].(string)
	if addr == "" {
		return nil, &connector.Error{Kind: connector.KindInvalidConfig, Message: "addr is required"}
	}

	r := chi.NewRouter()
	r.Post("/commands", c.handleCommands)
	r.Get("/replies", c.handleReplies)

	c.srv = &http.Server{Addr: addr, Handler: r}
	go func() {
		if err := c.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			c.EmitLog(map[string]any{"level": "error", "message": "http cloud connector listener failed: " + err.Error()})
		}
	}()

	return map[string]any{"addr": addr}, nil
}

func (c *Connector) handleCommands(w http.ResponseWriter, r *http.Request) {
	var batch []any
	if err := json.NewDecoder(r.Body).Decode(&batch); err != nil {
		http.Error(w, "invalid command batch", http.StatusBadRequest)
		return
	}
	reqID := r.Header.Get("X-Request-Id")
	if reqID == "" {
		reqID = uuid.NewString()
	}
	c.Emit(batch, reqID)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	_ = json.NewEncoder(w).Encode(map[string]string{"requestId": reqID})
}

func (c *Connector) handleReplies(w http.ResponseWriter, r *http.Request) {
	c.mu.Lock()
	out := c.replies
	c.replies = nil
	c.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(out)
}

func (c *Connector) OnStop(ctx context.Context, requestID string) (any, error) {
	if c.srv == nil {
		return nil, nil
	}
	err := c.srv.Shutdown(ctx)
	c.srv = nil
	return nil, err
}

// AddData queues a reply envelope for the next GET /replies poll.
func (c *Connector) AddData(payload any, requestID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.replies) >= c.maxQueue {
		c.replies = c.replies[1:]
	}
	c.replies = append(c.replies, payload)
	return nil
}

// AddLogData queues a log payload the same way AddData does.
func (c *Connector) AddLogData(payload map[string]any) error {
	return c.AddData(payload, "")
}
