package handlers

import (
	"context"
	"time"

	"github.com/princevash/openclaw-mt/internal/metrics"
	"github.com/princevash/openclaw-mt/internal/rpc"
)

func registerHealth(d *rpc.Dispatcher, deps Deps) {
	d.Register("health", rpc.MethodSpec{
		Handler: func(ctx context.Context, req *rpc.Request) (any, *rpc.Error) {
			return map[string]any{
				"status":  "ok",
				"version": deps.Version,
			}, nil
		},
	})

	// Operator-only process view; tenant tokens are rejected by the
	// allow-list before this runs.
	d.Register("status", rpc.MethodSpec{
		Handler: func(ctx context.Context, req *rpc.Request) (any, *rpc.Error) {
			out := map[string]any{
				"version":       deps.Version,
				"uptimeSeconds": int64(time.Since(deps.StartedAt).Seconds()),
				"connections":   deps.Connections.Len(),
				"tenants":       len(deps.Tenants.List()),
				"methods":       len(d.Methods()),
			}
			if snap := metrics.ReadCurrent(deps.Config.StateDir); snap != nil {
				out["system"] = snap
			}
			return out, nil
		},
	})
}
