package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/princevash/openclaw-mt/internal/rpc"
	"github.com/princevash/openclaw-mt/internal/sessionkey"
)

// sessionMeta is one row of the session index maintained by the agent
// runtime under {stateDir}/sessions/index.json.
type sessionMeta struct {
	SessionKey     string    `json:"sessionKey"`
	AgentID        string    `json:"agentId,omitempty"`
	MessageCount   int       `json:"messageCount"`
	LastActivityAt time.Time `json:"lastActivityAt"`
}

// transcriptEntry is one line of a session transcript JSONL file.
type transcriptEntry struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp,omitempty"`
}

func sessionsDir(deps Deps) string {
	return filepath.Join(deps.Config.StateDir, "sessions")
}

var transcriptNameReplacer = strings.NewReplacer(":", "_", "/", "_", string(filepath.Separator), "_")

func transcriptPath(deps Deps, sessionKey string) string {
	return filepath.Join(sessionsDir(deps), transcriptNameReplacer.Replace(sessionKey)+".jsonl")
}

func loadSessionIndex(deps Deps) (map[string]sessionMeta, *rpc.Error) {
	index := map[string]sessionMeta{}
	if _, err := readJSONFile(filepath.Join(sessionsDir(deps), "index.json"), &index); err != nil {
		return nil, rpc.Unavailable("failed to read session index: " + err.Error())
	}
	return index, nil
}

func registerSessionMethods(d *rpc.Dispatcher, deps Deps) {
	d.Register("sessions.list", rpc.MethodSpec{
		Handler: func(ctx context.Context, req *rpc.Request) (any, *rpc.Error) {
			index, rpcErr := loadSessionIndex(deps)
			if rpcErr != nil {
				return nil, rpcErr
			}

			sessions := []sessionMeta{}
			for key, meta := range index {
				if req.Tenant != nil && sessionkey.OwnerTenant(key) != req.Tenant.TenantID {
					continue
				}
				meta.SessionKey = key
				sessions = append(sessions, meta)
			}
			sort.Slice(sessions, func(i, k int) bool {
				return sessions[i].LastActivityAt.After(sessions[k].LastActivityAt)
			})
			return map[string]any{"sessions": sessions}, nil
		},
	})

	d.Register("sessions.preview", rpc.MethodSpec{
		ParamsSchema: `{
			"type": "object",
			"required": ["sessionKey"],
			"properties": {
				"sessionKey": {"type": "string", "minLength": 1},
				"limit": {"type": "integer", "minimum": 1, "maximum": 200}
			}
		}`,
		Handler: func(ctx context.Context, req *rpc.Request) (any, *rpc.Error) {
			var params struct {
				SessionKey string `json:"sessionKey"`
				Limit      int    `json:"limit"`
			}
			if rpcErr := req.Params(&params); rpcErr != nil {
				return nil, rpcErr
			}

			key := params.SessionKey
			if req.Tenant != nil {
				scoped, err := sessionkey.ScopeToTenant(key, req.Tenant.TenantID)
				if errors.Is(err, sessionkey.ErrTenantMismatch) {
					return nil, rpc.Unauthorized("session belongs to another tenant")
				}
				key = scoped
			}

			if params.Limit == 0 {
				params.Limit = 20
			}

			data, err := os.ReadFile(transcriptPath(deps, key))
			if err != nil {
				if os.IsNotExist(err) {
					return nil, rpc.NotFound("session not found")
				}
				return nil, rpc.Unavailable("failed to read session: " + err.Error())
			}

			var entries []transcriptEntry
			dec := json.NewDecoder(bytes.NewReader(data))
			for {
				var e transcriptEntry
				if err := dec.Decode(&e); err != nil {
					break
				}
				entries = append(entries, e)
			}
			if len(entries) > params.Limit {
				entries = entries[len(entries)-params.Limit:]
			}
			if entries == nil {
				entries = []transcriptEntry{}
			}
			return map[string]any{"sessionKey": key, "messages": entries}, nil
		},
	})
}
