// Package wscloud is an illustrative cloud connector bridging the gateway
// to a cloud control plane over a persistent WebSocket connection. It is a
// plug-in, not part of the core: it satisfies internal/connector.Connector
// like any other implementation would.
//
// Grounded on the teacher's client/websocket.go (dial + reconnect loop) and
// server/wsTransport.go (frame read/write idiom).
package wscloud

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/gorilla/websocket"

	"github.com/mbocsi/edgegateway/internal/connector"
)

// Connector dials a cloud WebSocket endpoint on init and exchanges JSON
// frames: inbound frames are command batches (spec.md §6), outbound frames
// are CnC reply envelopes written by AddData/AddLogData.
type Connector struct {
	*connector.Base

	conn   *websocket.Conn
	cancel context.CancelFunc
}

// New builds an inactive websocket cloud connector with id.
func New(id string) connector.Connector {
	c := &Connector{}
	c.Base = connector.NewBase(id, connector.Cloud, c)
	return c
}

func (c *Connector) OnInit(ctx context.Context, config map[string]any, requestID string) (any, error) {
	url, _ := config["url"].(string)
	if url == "" {
		return nil, &connector.Error{Kind: connector.KindInvalidConfig, Message: "url is required"}
	}

	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	c.conn = conn

	readCtx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	go c.readLoop(readCtx)

	return map[string]any{"url": url}, nil
}

func (c *Connector) readLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			c.EmitLog(map[string]any{"level": "warn", "message": "websocket read error: " + err.Error()})
			return
		}
		var batch []any
		if err := json.Unmarshal(data, &batch); err != nil {
			c.EmitLog(map[string]any{"level": "warn", "message": "invalid command batch frame"})
			continue
		}
		c.Emit(batch, "")
	}
}

func (c *Connector) OnStop(ctx context.Context, requestID string) (any, error) {
	if c.cancel != nil {
		c.cancel()
	}
	if c.conn != nil {
		err := c.conn.Close()
		c.conn = nil
		if err != nil {
			return nil, err
		}
	}
	return nil, nil
}

// AddData writes a reply envelope as a single JSON text frame.
func (c *Connector) AddData(payload any, requestID string) error {
	if c.conn == nil {
		return &connector.Error{Kind: connector.KindInvalidPayload, Message: "not connected"}
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return c.conn.WriteMessage(websocket.TextMessage, b)
}

// AddLogData writes a log payload the same way AddData does, overriding
// Base's no-op default per spec.md §4.1 ("cloud connector implementations
// override to enqueue log payloads for upstream delivery").
func (c *Connector) AddLogData(payload map[string]any) error {
	return c.AddData(payload, "")
}
