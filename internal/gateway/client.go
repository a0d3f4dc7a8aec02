// Package gateway terminates WebSocket RPC connections: the connect
// handshake (tenant token or operator JWT), the per-connection outbound
// queue with drop-if-slow backpressure, the connection registry and the
// broadcast primitives.
package gateway

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/princevash/openclaw-mt/internal/rpc"
	"github.com/princevash/openclaw-mt/internal/tenant"
)

const (
	writeTimeout = 10 * time.Second
	pingInterval = 30 * time.Second
	pongTimeout  = 90 * time.Second

	// outboundBuffer bounds the per-connection send queue. A full queue
	// drops dropIfSlow frames and disconnects on must-deliver frames; a
	// stuck consumer never stalls the broadcaster.
	outboundBuffer = 256
)

// Client is one connected WebSocket peer.
type Client struct {
	id     string
	conn   *websocket.Conn
	caller rpc.Caller
	tenant *tenant.Context

	out    chan any
	done   chan struct{}
	cancel context.CancelFunc

	closeOnce sync.Once
	onClose   func(*Client)
}

// NewInProcessClient builds a registry entry with no socket behind it.
// Frames queue in the outbound buffer and are never flushed; used by tests
// and by in-process consumers of the broadcast surface.
func NewInProcessClient(id string, caller rpc.Caller) *Client {
	return &Client{
		id:     id,
		caller: caller,
		out:    make(chan any, outboundBuffer),
		done:   make(chan struct{}),
	}
}

// OnClose registers a callback fired once when the client closes.
func (c *Client) OnClose(fn func(*Client)) {
	c.onClose = fn
}

// Caller implements rpc.Client.
func (c *Client) Caller() rpc.Caller { return c.caller }

// TenantContext returns the resolved tenant identity, nil for operator and
// node connections.
func (c *Client) TenantContext() *tenant.Context { return c.tenant }

// ConnID returns the connection's unique id.
func (c *Client) ConnID() string { return c.id }

// Send enqueues a frame for delivery. With dropIfSlow set a full queue
// silently discards the frame; otherwise a full queue disconnects the slow
// consumer. Returns false when the frame was not enqueued.
func (c *Client) Send(frame any, dropIfSlow bool) bool {
	select {
	case <-c.done:
		return false
	default:
	}

	select {
	case c.out <- frame:
		return true
	default:
	}

	if dropIfSlow {
		log.Debug().Str("connId", c.id).Msg("outbound buffer full, dropping event")
		return false
	}

	log.Warn().Str("connId", c.id).Msg("outbound buffer full, disconnecting slow consumer")
	c.Close()
	return false
}

// Close tears the connection down once: cancels outstanding handlers,
// unregisters, and closes the socket.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
		if c.cancel != nil {
			c.cancel()
		}
		if c.onClose != nil {
			c.onClose(c)
		}
		if c.conn != nil {
			_ = c.conn.Close()
		}
	})
}

// writePump owns all writes to the socket: queued frames plus pings.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case frame := <-c.out:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteJSON(frame); err != nil {
				c.Close()
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.Close()
				return
			}
		case <-c.done:
			return
		}
	}
}
