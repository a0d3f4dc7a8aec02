package terminal

import (
	"context"
	"path/filepath"

	"github.com/princevash/openclaw-mt/internal/metrics"
	"github.com/princevash/openclaw-mt/internal/rpc"
)

// RegisterMethods installs the five terminal RPCs on the dispatcher.
func RegisterMethods(d *rpc.Dispatcher, m *Manager) {
	d.Register("terminal.spawn", rpc.MethodSpec{
		Chargeable: true,
		ParamsSchema: `{
			"type": "object",
			"properties": {
				"cols": {"type": "integer", "minimum": 1},
				"rows": {"type": "integer", "minimum": 1},
				"shell": {"type": "string"},
				"env": {"type": "object", "additionalProperties": {"type": "string"}}
			}
		}`,
		Handler: func(ctx context.Context, req *rpc.Request) (any, *rpc.Error) {
			var params SpawnParams
			if rpcErr := req.Params(&params); rpcErr != nil {
				return nil, rpcErr
			}
			workDir := ""
			if req.Tenant != nil {
				workDir = filepath.Join(req.Tenant.StateDir, "workspace")
			}
			info, rpcErr := m.Spawn(req.Caller, workDir, params)
			if rpcErr != nil {
				return nil, rpcErr
			}
			metrics.TerminalsSpawned.Inc()
			return info, nil
		},
	})

	d.Register("terminal.write", rpc.MethodSpec{
		ParamsSchema: `{
			"type": "object",
			"required": ["terminalId", "data"],
			"properties": {
				"terminalId": {"type": "string"},
				"data": {"type": "string"}
			}
		}`,
		Handler: func(ctx context.Context, req *rpc.Request) (any, *rpc.Error) {
			var params struct {
				TerminalID string `json:"terminalId"`
				Data       string `json:"data"`
			}
			if rpcErr := req.Params(&params); rpcErr != nil {
				return nil, rpcErr
			}
			if rpcErr := m.Write(req.Caller, params.TerminalID, params.Data); rpcErr != nil {
				return nil, rpcErr
			}
			return map[string]bool{"written": true}, nil
		},
	})

	d.Register("terminal.resize", rpc.MethodSpec{
		ParamsSchema: `{
			"type": "object",
			"required": ["terminalId", "cols", "rows"],
			"properties": {
				"terminalId": {"type": "string"},
				"cols": {"type": "integer", "minimum": 1},
				"rows": {"type": "integer", "minimum": 1}
			}
		}`,
		Handler: func(ctx context.Context, req *rpc.Request) (any, *rpc.Error) {
			var params struct {
				TerminalID string `json:"terminalId"`
				Cols       uint16 `json:"cols"`
				Rows       uint16 `json:"rows"`
			}
			if rpcErr := req.Params(&params); rpcErr != nil {
				return nil, rpcErr
			}
			if rpcErr := m.Resize(req.Caller, params.TerminalID, params.Cols, params.Rows); rpcErr != nil {
				return nil, rpcErr
			}
			return map[string]bool{"resized": true}, nil
		},
	})

	d.Register("terminal.close", rpc.MethodSpec{
		ParamsSchema: `{
			"type": "object",
			"required": ["terminalId"],
			"properties": {"terminalId": {"type": "string"}}
		}`,
		Handler: func(ctx context.Context, req *rpc.Request) (any, *rpc.Error) {
			var params struct {
				TerminalID string `json:"terminalId"`
			}
			if rpcErr := req.Params(&params); rpcErr != nil {
				return nil, rpcErr
			}
			if rpcErr := m.Close(req.Caller, params.TerminalID); rpcErr != nil {
				return nil, rpcErr
			}
			return map[string]bool{"closed": true}, nil
		},
	})

	d.Register("terminal.list", rpc.MethodSpec{
		Handler: func(ctx context.Context, req *rpc.Request) (any, *rpc.Error) {
			return map[string]any{"terminals": m.List(req.Caller)}, nil
		},
	})
}
