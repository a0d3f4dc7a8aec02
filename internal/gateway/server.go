package gateway

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/princevash/openclaw-mt/internal/rpc"
	"github.com/princevash/openclaw-mt/internal/tenant"
)

const handshakeTimeout = 10 * time.Second

// Server upgrades HTTP requests to WebSocket RPC connections, runs the
// connect handshake, and pumps frames through the dispatcher.
type Server struct {
	Registry   *Registry
	Dispatcher *rpc.Dispatcher
	Tenants    *tenant.Registry

	// JWTSecret verifies operator tokens at the handshake. Empty disables
	// operator connections.
	JWTSecret string

	// OnConnect and OnDisconnect, when set, observe connection lifecycle
	// (metrics).
	OnConnect    func(*Client)
	OnDisconnect func(*Client)

	upgrader websocket.Upgrader
}

// NewServer wires a gateway server.
func NewServer(registry *Registry, dispatcher *rpc.Dispatcher, tenants *tenant.Registry, jwtSecret string) *Server {
	return &Server{
		Registry:   registry,
		Dispatcher: dispatcher,
		Tenants:    tenants,
		JWTSecret:  jwtSecret,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Same-origin policy is not meaningful for a local gateway
			// reached by native clients; auth happens at the handshake.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// connectParams is the first frame a client must send after the upgrade.
type connectParams struct {
	// Token is either a tenant token ("tenant:{id}:{secret}") or an
	// HS256 operator JWT.
	Token string `json:"token"`
}

type connectedPayload struct {
	ConnID   string   `json:"connId"`
	TenantID string   `json:"tenantId,omitempty"`
	Role     string   `json:"role"`
	Scopes   []string `json:"scopes,omitempty"`
}

// ServeHTTP handles the WebSocket endpoint.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	sourceIP, _, _ := net.SplitHostPort(r.RemoteAddr)

	caller, tenantCtx, ok := s.handshake(conn, sourceIP)
	if !ok {
		_ = conn.WriteJSON(rpc.EventFrame{Event: "error", Payload: map[string]string{
			"code":    string(rpc.CodeUnauthorized),
			"message": "authentication failed",
		}})
		_ = conn.Close()
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	client := &Client{
		id:     caller.ConnID,
		conn:   conn,
		caller: caller,
		tenant: tenantCtx,
		out:    make(chan any, outboundBuffer),
		done:   make(chan struct{}),
		cancel: cancel,
	}
	client.onClose = func(c *Client) {
		s.Registry.RemoveClient(c.id)
		if s.OnDisconnect != nil {
			s.OnDisconnect(c)
		}
		log.Info().Str("connId", c.id).Str("tenantId", c.caller.TenantID).Msg("connection closed")
	}

	s.Registry.AddClient(client)
	if s.OnConnect != nil {
		s.OnConnect(client)
	}
	log.Info().
		Str("connId", client.id).
		Str("tenantId", caller.TenantID).
		Str("role", string(caller.Role)).
		Str("ip", sourceIP).
		Msg("connection established")

	go client.writePump()

	client.Send(rpc.EventFrame{Event: "connected", Payload: connectedPayload{
		ConnID:   caller.ConnID,
		TenantID: caller.TenantID,
		Role:     string(caller.Role),
		Scopes:   caller.Scopes,
	}}, false)

	s.readLoop(ctx, client)
}

// handshake reads the connect frame and resolves the caller identity.
// Tenant tokens yield an operator-role caller confined by the tenant
// allow-list; operator JWTs carry their own role and scopes.
func (s *Server) handshake(conn *websocket.Conn, sourceIP string) (rpc.Caller, *tenant.Context, bool) {
	_ = conn.SetReadDeadline(time.Now().Add(handshakeTimeout))
	defer conn.SetReadDeadline(time.Time{})

	var params connectParams
	if err := conn.ReadJSON(&params); err != nil {
		return rpc.Caller{}, nil, false
	}
	if params.Token == "" {
		return rpc.Caller{}, nil, false
	}

	connID := uuid.NewString()

	if tctx, ok := s.Tenants.ValidateToken(params.Token); ok {
		return rpc.Caller{
			ConnID:   connID,
			TenantID: tctx.TenantID,
			SourceIP: sourceIP,
			Role: rpc.RoleOperator,
			// Pairing scope included so the allow-listed device/node pairing
			// methods work over tenant tokens; the allow-list still bounds
			// everything else.
			Scopes: []string{rpc.ScopeRead, rpc.ScopeWrite, rpc.ScopePairing},
		}, tctx, true
	}

	role, scopes, err := ParseOperatorToken(s.JWTSecret, params.Token)
	if err != nil {
		return rpc.Caller{}, nil, false
	}
	return rpc.Caller{
		ConnID:   connID,
		SourceIP: sourceIP,
		Role:     role,
		Scopes:   scopes,
	}, nil, true
}

// readLoop dispatches request frames serially for this connection. Closing
// the connection cancels ctx, which cancels any handler still running.
func (s *Server) readLoop(ctx context.Context, client *Client) {
	defer client.Close()

	client.conn.SetPongHandler(func(string) error {
		return client.conn.SetReadDeadline(time.Now().Add(pongTimeout))
	})
	_ = client.conn.SetReadDeadline(time.Now().Add(pongTimeout))

	for {
		_, data, err := client.conn.ReadMessage()
		if err != nil {
			return
		}
		_ = client.conn.SetReadDeadline(time.Now().Add(pongTimeout))

		var frame rpc.RequestFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			client.Send(rpc.ResponseFrame{
				Error: rpc.InvalidRequest("malformed request frame"),
			}, false)
			continue
		}

		resp := s.Dispatcher.Dispatch(ctx, frame, client, client.tenant)

		select {
		case <-ctx.Done():
			return
		default:
			client.Send(resp, false)
		}
	}
}
