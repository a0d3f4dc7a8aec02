package handlers

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/princevash/openclaw-mt/internal/rpc"
	"github.com/princevash/openclaw-mt/internal/sessionkey"
)

// agentRecord is one configured agent, persisted as agents/{id}.json under
// the caller's state tree.
type agentRecord struct {
	ID           string         `json:"id"`
	Name         string         `json:"name,omitempty"`
	Model        string         `json:"model,omitempty"`
	SystemPrompt string         `json:"systemPrompt,omitempty"`
	Settings     map[string]any `json:"settings,omitempty"`
	CreatedAt    time.Time      `json:"createdAt"`
	UpdatedAt    time.Time      `json:"updatedAt"`
}

func agentsDir(deps Deps, req *rpc.Request) string {
	if req.Tenant != nil {
		return filepath.Join(req.Tenant.StateDir, "agents")
	}
	return filepath.Join(deps.Config.StateDir, "agents")
}

func agentPath(dir, agentID string) string {
	return filepath.Join(dir, agentID+".json")
}

func loadAgent(dir, agentID string) (*agentRecord, *rpc.Error) {
	var rec agentRecord
	found, err := readJSONFile(agentPath(dir, agentID), &rec)
	if err != nil {
		return nil, rpc.Unavailable("failed to read agent: " + err.Error())
	}
	if !found {
		return nil, rpc.NotFound("agent not found")
	}
	return &rec, nil
}

const agentIDSchema = `{
	"type": "object",
	"required": ["agentId"],
	"properties": {"agentId": {"type": "string", "minLength": 1}}
}`

func registerAgentMethods(d *rpc.Dispatcher, deps Deps) {
	d.Register("agents.list", rpc.MethodSpec{
		Handler: func(ctx context.Context, req *rpc.Request) (any, *rpc.Error) {
			dir := agentsDir(deps, req)
			entries, err := os.ReadDir(dir)
			if err != nil && !os.IsNotExist(err) {
				return nil, rpc.Unavailable("failed to list agents: " + err.Error())
			}

			agents := []agentRecord{}
			for _, e := range entries {
				name := e.Name()
				if e.IsDir() || !strings.HasSuffix(name, ".json") {
					continue
				}
				var rec agentRecord
				if found, err := readJSONFile(filepath.Join(dir, name), &rec); err == nil && found {
					agents = append(agents, rec)
				}
			}
			sort.Slice(agents, func(i, k int) bool { return agents[i].ID < agents[k].ID })
			return map[string]any{"agents": agents}, nil
		},
	})

	d.Register("agents.get", rpc.MethodSpec{
		ParamsSchema: agentIDSchema,
		Handler: func(ctx context.Context, req *rpc.Request) (any, *rpc.Error) {
			var params struct {
				AgentID string `json:"agentId"`
			}
			if rpcErr := req.Params(&params); rpcErr != nil {
				return nil, rpcErr
			}
			return loadAgent(agentsDir(deps, req), sessionkey.NormalizeAgentID(params.AgentID))
		},
	})

	d.Register("agents.create", rpc.MethodSpec{
		ParamsSchema: `{
			"type": "object",
			"required": ["agentId"],
			"properties": {
				"agentId": {"type": "string", "minLength": 1},
				"name": {"type": "string"},
				"model": {"type": "string"},
				"systemPrompt": {"type": "string"},
				"settings": {"type": "object"}
			}
		}`,
		Handler: func(ctx context.Context, req *rpc.Request) (any, *rpc.Error) {
			var params struct {
				AgentID      string         `json:"agentId"`
				Name         string         `json:"name"`
				Model        string         `json:"model"`
				SystemPrompt string         `json:"systemPrompt"`
				Settings     map[string]any `json:"settings"`
			}
			if rpcErr := req.Params(&params); rpcErr != nil {
				return nil, rpcErr
			}

			dir := agentsDir(deps, req)
			agentID := sessionkey.NormalizeAgentID(params.AgentID)
			if _, err := os.Stat(agentPath(dir, agentID)); err == nil {
				return nil, rpc.InvalidRequest("agent already exists: " + agentID)
			}

			now := time.Now().UTC()
			rec := agentRecord{
				ID:           agentID,
				Name:         params.Name,
				Model:        params.Model,
				SystemPrompt: params.SystemPrompt,
				Settings:     params.Settings,
				CreatedAt:    now,
				UpdatedAt:    now,
			}
			if err := writeJSONFile(agentPath(dir, agentID), rec); err != nil {
				return nil, rpc.Unavailable("failed to write agent: " + err.Error())
			}
			return rec, nil
		},
	})

	d.Register("agents.update", rpc.MethodSpec{
		ParamsSchema: `{
			"type": "object",
			"required": ["agentId"],
			"properties": {
				"agentId": {"type": "string", "minLength": 1},
				"name": {"type": "string"},
				"model": {"type": "string"},
				"systemPrompt": {"type": "string"},
				"settings": {"type": "object"}
			}
		}`,
		Handler: func(ctx context.Context, req *rpc.Request) (any, *rpc.Error) {
			var params struct {
				AgentID      string         `json:"agentId"`
				Name         *string        `json:"name"`
				Model        *string        `json:"model"`
				SystemPrompt *string        `json:"systemPrompt"`
				Settings     map[string]any `json:"settings"`
			}
			if rpcErr := req.Params(&params); rpcErr != nil {
				return nil, rpcErr
			}

			dir := agentsDir(deps, req)
			agentID := sessionkey.NormalizeAgentID(params.AgentID)
			rec, rpcErr := loadAgent(dir, agentID)
			if rpcErr != nil {
				return nil, rpcErr
			}

			if params.Name != nil {
				rec.Name = *params.Name
			}
			if params.Model != nil {
				rec.Model = *params.Model
			}
			if params.SystemPrompt != nil {
				rec.SystemPrompt = *params.SystemPrompt
			}
			if params.Settings != nil {
				rec.Settings = params.Settings
			}
			rec.UpdatedAt = time.Now().UTC()

			if err := writeJSONFile(agentPath(dir, agentID), rec); err != nil {
				return nil, rpc.Unavailable("failed to write agent: " + err.Error())
			}
			return rec, nil
		},
	})

	d.Register("agents.delete", rpc.MethodSpec{
		ParamsSchema: agentIDSchema,
		Handler: func(ctx context.Context, req *rpc.Request) (any, *rpc.Error) {
			var params struct {
				AgentID string `json:"agentId"`
			}
			if rpcErr := req.Params(&params); rpcErr != nil {
				return nil, rpcErr
			}
			path := agentPath(agentsDir(deps, req), sessionkey.NormalizeAgentID(params.AgentID))
			if err := os.Remove(path); err != nil {
				if os.IsNotExist(err) {
					return nil, rpc.NotFound("agent not found")
				}
				return nil, rpc.Unavailable("failed to delete agent: " + err.Error())
			}
			return map[string]bool{"deleted": true}, nil
		},
	})
}
