package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/princevash/openclaw-mt/internal/agent"
	"github.com/princevash/openclaw-mt/internal/gateway"
	"github.com/princevash/openclaw-mt/internal/metrics"
	"github.com/princevash/openclaw-mt/internal/quota"
	"github.com/princevash/openclaw-mt/internal/rpc"
	"github.com/princevash/openclaw-mt/internal/sessionkey"
	"github.com/princevash/openclaw-mt/internal/tenant"
)

// compatMainKey names the sub-session used when a compat caller does not
// supply a session key.
const compatMainKey = "openai"

// compatError is the OpenAI-style error envelope.
func writeCompatError(w http.ResponseWriter, status int, errType, message string) {
	writeJSON(w, status, map[string]any{
		"error": map[string]string{
			"type":    errType,
			"message": message,
		},
	})
}

// bearerToken extracts the Authorization bearer credential.
func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	token, ok := strings.CutPrefix(h, "Bearer ")
	if !ok {
		return ""
	}
	return strings.TrimSpace(token)
}

// authenticate resolves the bearer token to a caller identity. Tenant tokens
// yield a tenant context; anything else is tried as an operator JWT.
func (s *Server) authenticate(r *http.Request) (*tenant.Context, rpc.Caller, bool) {
	token := bearerToken(r)
	if token == "" {
		return nil, rpc.Caller{}, false
	}

	connID := uuid.NewString()

	if tctx, ok := s.Tenants.ValidateToken(token); ok {
		return tctx, rpc.Caller{
			ConnID:   connID,
			TenantID: tctx.TenantID,
			SourceIP: r.RemoteAddr,
			Role:     rpc.RoleOperator,
			Scopes:   []string{rpc.ScopeRead, rpc.ScopeWrite, rpc.ScopePairing},
		}, true
	}

	role, scopes, err := gateway.ParseOperatorToken(s.Config.Auth.JWTSecret, token)
	if err != nil {
		return nil, rpc.Caller{}, false
	}
	return nil, rpc.Caller{
		ConnID:   connID,
		SourceIP: r.RemoteAddr,
		Role:     role,
		Scopes:   scopes,
	}, true
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`

	// User doubles as the session key, per the compat convention. SessionKey
	// wins when both are present.
	User       string `json:"user,omitempty"`
	SessionKey string `json:"session_key,omitempty"`
}

// turn is the normalized form of one compat request, shared by the chat and
// responses endpoints.
type turn struct {
	agentID    string
	sessionKey string
	message    string
}

// runTurn authenticates, scopes the session key, applies the quota gate and
// executes one agent turn. It writes the error response itself and returns
// nil when the caller is done.
func (s *Server) runTurn(w http.ResponseWriter, r *http.Request, tctx *tenant.Context, t turn) *agent.RunResult {
	if t.agentID == "" {
		t.agentID = s.Config.DefaultAgentID
	}
	t.agentID = sessionkey.NormalizeAgentID(t.agentID)

	tenantID := ""
	if tctx != nil {
		tenantID = tctx.TenantID
	}

	if t.sessionKey == "" {
		if tctx != nil {
			t.sessionKey = sessionkey.BuildTenantKey(tenantID, t.agentID, compatMainKey)
		} else {
			t.sessionKey = "agent:" + t.agentID + ":" + compatMainKey
		}
	}

	// A tenant caller is confined to its own key space. The agent runner is
	// never reached with a foreign key.
	scoped, err := sessionkey.ScopeToTenant(t.sessionKey, tenantID)
	if err != nil {
		writeCompatError(w, http.StatusForbidden, "forbidden", "session key belongs to another tenant")
		return nil
	}

	if tctx != nil {
		decision := s.Ledger.CheckQuotaBeforeRequest(tenantID, tctx.Quotas)
		if !decision.Allowed {
			metrics.QuotaDenialsTotal.WithLabelValues(string(decision.Reason)).Inc()
			status := http.StatusForbidden
			if decision.Reason == quota.DenyRateLimited {
				status = http.StatusTooManyRequests
				seconds := (decision.RetryAfterMs + 999) / 1000
				w.Header().Set("Retry-After", strconv.FormatInt(seconds, 10))
			}
			writeCompatError(w, status, string(decision.Reason), decision.Message)
			return nil
		}
	}

	result, err := s.Runner.Run(r.Context(), agent.RunRequest{
		SessionKey: scoped,
		TenantID:   tenantID,
		AgentID:    t.agentID,
		Message:    t.message,
	})
	if err != nil {
		if errors.Is(err, agent.ErrAgentTimeout) {
			writeCompatError(w, http.StatusGatewayTimeout, "agent_timeout", "agent did not respond in time")
			return nil
		}
		log.Error().Err(err).Str("tenantId", tenantID).Str("sessionKey", scoped).Msg("agent run failed")
		writeCompatError(w, http.StatusBadGateway, "upstream_error", "agent run failed")
		return nil
	}

	if tctx != nil {
		if err := s.Ledger.UpdateTokenUsage(tenantID, quota.TokenUsage{
			OutputTokens: result.TokensUsed,
			Messages:     1,
		}); err != nil {
			log.Warn().Err(err).Str("tenantId", tenantID).Msg("failed to record token usage")
		}
	}
	return result
}

// handleChatCompletions is the OpenAI-compatible chat endpoint.
func (s *Server) handleChatCompletions(w http.ResponseWriter, r *http.Request) {
	tctx, _, ok := s.authenticate(r)
	if !ok {
		writeCompatError(w, http.StatusUnauthorized, "unauthorized", "missing or invalid bearer token")
		return
	}

	var req chatRequest
	if err := decodeJSON(r, &req); err != nil {
		writeCompatError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if len(req.Messages) == 0 {
		writeCompatError(w, http.StatusBadRequest, "invalid_request", "messages must not be empty")
		return
	}

	key := req.SessionKey
	if key == "" {
		key = req.User
	}

	result := s.runTurn(w, r, tctx, turn{
		agentID:    req.Model,
		sessionKey: key,
		message:    lastUserMessage(req.Messages),
	})
	if result == nil {
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"id":      "chatcmpl-" + uuid.NewString(),
		"object":  "chat.completion",
		"created": time.Now().Unix(),
		"model":   req.Model,
		"choices": []map[string]any{{
			"index": 0,
			"message": map[string]string{
				"role":    "assistant",
				"content": result.Reply,
			},
			"finish_reason": "stop",
		}},
		"usage": map[string]int64{
			"completion_tokens": result.TokensUsed,
			"total_tokens":      result.TokensUsed,
		},
	})
}

func lastUserMessage(msgs []chatMessage) string {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == "user" {
			return msgs[i].Content
		}
	}
	return msgs[len(msgs)-1].Content
}

type responsesRequest struct {
	Model      string          `json:"model"`
	Input      json.RawMessage `json:"input"`
	User       string          `json:"user,omitempty"`
	SessionKey string          `json:"session_key,omitempty"`
}

// inputText accepts the two input shapes the Responses API allows: a bare
// string or a message list.
func inputText(raw json.RawMessage) (string, error) {
	if len(raw) == 0 {
		return "", errors.New("input is required")
	}
	var text string
	if err := json.Unmarshal(raw, &text); err == nil {
		return text, nil
	}
	var msgs []chatMessage
	if err := json.Unmarshal(raw, &msgs); err != nil || len(msgs) == 0 {
		return "", errors.New("input must be a string or a message list")
	}
	return lastUserMessage(msgs), nil
}

// handleResponses is the OpenAI Responses endpoint.
func (s *Server) handleResponses(w http.ResponseWriter, r *http.Request) {
	tctx, _, ok := s.authenticate(r)
	if !ok {
		writeCompatError(w, http.StatusUnauthorized, "unauthorized", "missing or invalid bearer token")
		return
	}

	var req responsesRequest
	if err := decodeJSON(r, &req); err != nil {
		writeCompatError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	message, err := inputText(req.Input)
	if err != nil {
		writeCompatError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	key := req.SessionKey
	if key == "" {
		key = req.User
	}

	result := s.runTurn(w, r, tctx, turn{
		agentID:    req.Model,
		sessionKey: key,
		message:    message,
	})
	if result == nil {
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"id":         "resp_" + uuid.NewString(),
		"object":     "response",
		"created_at": time.Now().Unix(),
		"model":      req.Model,
		"status":     "completed",
		"output": []map[string]any{{
			"type": "message",
			"role": "assistant",
			"content": []map[string]string{{
				"type": "output_text",
				"text": result.Reply,
			}},
		}},
		"usage": map[string]int64{
			"output_tokens": result.TokensUsed,
			"total_tokens":  result.TokensUsed,
		},
	})
}

// httpCaller adapts an HTTP request into the dispatcher's client interface.
// Events raised by handlers have nowhere to go on a oneshot HTTP call.
type httpCaller struct {
	caller rpc.Caller
}

func (h httpCaller) Caller() rpc.Caller { return h.caller }

func (h httpCaller) Send(frame any, dropIfSlow bool) bool { return false }

type toolsRequest struct {
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
}

// handleToolsInvoke runs one RPC method over HTTP for operator automation.
// Tenant tokens are rejected outright; tenants get the WebSocket surface and
// its allow-list, never this one.
func (s *Server) handleToolsInvoke(w http.ResponseWriter, r *http.Request) {
	tctx, caller, ok := s.authenticate(r)
	if !ok {
		writeCompatError(w, http.StatusUnauthorized, "unauthorized", "missing or invalid bearer token")
		return
	}
	if tctx != nil {
		writeCompatError(w, http.StatusForbidden, "forbidden", "tool invocation is not available to tenant tokens")
		return
	}

	var req toolsRequest
	if err := decodeJSON(r, &req); err != nil {
		writeCompatError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if req.Method == "" {
		writeCompatError(w, http.StatusBadRequest, "invalid_request", "method is required")
		return
	}

	resp := s.Dispatcher.Dispatch(r.Context(), rpc.RequestFrame{
		ID:     json.RawMessage(`"http"`),
		Method: req.Method,
		Params: req.Params,
	}, httpCaller{caller: caller}, nil)

	if resp.Error != nil {
		writeCompatError(w, statusForRPCCode(resp.Error.Code), strings.ToLower(string(resp.Error.Code)), resp.Error.Message)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "payload": resp.Payload})
}

func statusForRPCCode(code rpc.ErrorCode) int {
	switch code {
	case rpc.CodeUnauthorized:
		return http.StatusForbidden
	case rpc.CodeNotFound:
		return http.StatusNotFound
	case rpc.CodeInvalidRequest:
		return http.StatusBadRequest
	case rpc.CodeUnavailable:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
