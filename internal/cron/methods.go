package cron

import (
	"context"
	"errors"

	"github.com/princevash/openclaw-mt/internal/rpc"
)

// schedulerFor resolves the scheduler serving the caller: the tenant's own
// for tenant connections, the global one for operators.
func schedulerFor(sup *Supervisor, req *rpc.Request) *TenantScheduler {
	if req.Tenant != nil {
		return sup.EnsureTenant(req.Tenant.TenantID)
	}
	return sup.GetGlobal()
}

func storeErr(err error) *rpc.Error {
	switch {
	case errors.Is(err, ErrJobNotFound):
		return rpc.NotFound("cron job not found")
	case errors.Is(err, ErrInvalidSchedule):
		return rpc.InvalidRequest(err.Error())
	default:
		return rpc.Unavailable("cron store failure: " + err.Error())
	}
}

// RegisterMethods installs the cron CRUD and run RPCs on the dispatcher.
func RegisterMethods(d *rpc.Dispatcher, sup *Supervisor) {
	d.Register("cron.list", rpc.MethodSpec{
		Handler: func(ctx context.Context, req *rpc.Request) (any, *rpc.Error) {
			sched := schedulerFor(sup, req)
			return map[string]any{"jobs": sched.Store().List()}, nil
		},
	})

	d.Register("cron.get", rpc.MethodSpec{
		ParamsSchema: `{
			"type": "object",
			"required": ["jobId"],
			"properties": {"jobId": {"type": "string"}}
		}`,
		Handler: func(ctx context.Context, req *rpc.Request) (any, *rpc.Error) {
			var params struct {
				JobID string `json:"jobId"`
			}
			if rpcErr := req.Params(&params); rpcErr != nil {
				return nil, rpcErr
			}
			sched := schedulerFor(sup, req)
			job := sched.Store().Get(params.JobID)
			if job == nil {
				return nil, rpc.NotFound("cron job not found")
			}
			return job, nil
		},
	})

	d.Register("cron.add", rpc.MethodSpec{
		ParamsSchema: `{
			"type": "object",
			"required": ["schedule", "message"],
			"properties": {
				"name": {"type": "string"},
				"schedule": {"type": "string", "minLength": 1},
				"agentId": {"type": "string"},
				"message": {"type": "string", "minLength": 1},
				"disabled": {"type": "boolean"}
			}
		}`,
		Handler: func(ctx context.Context, req *rpc.Request) (any, *rpc.Error) {
			var params AddParams
			if rpcErr := req.Params(&params); rpcErr != nil {
				return nil, rpcErr
			}
			sched := schedulerFor(sup, req)
			job, err := sched.Store().Add(params)
			if err != nil {
				return nil, storeErr(err)
			}
			sched.Reload()
			return job, nil
		},
	})

	d.Register("cron.update", rpc.MethodSpec{
		ParamsSchema: `{
			"type": "object",
			"required": ["jobId"],
			"properties": {
				"jobId": {"type": "string"},
				"name": {"type": "string"},
				"schedule": {"type": "string", "minLength": 1},
				"agentId": {"type": "string"},
				"message": {"type": "string"},
				"disabled": {"type": "boolean"}
			}
		}`,
		Handler: func(ctx context.Context, req *rpc.Request) (any, *rpc.Error) {
			var params struct {
				JobID string `json:"jobId"`
				UpdateParams
			}
			if rpcErr := req.Params(&params); rpcErr != nil {
				return nil, rpcErr
			}
			sched := schedulerFor(sup, req)
			job, err := sched.Store().Update(params.JobID, params.UpdateParams)
			if err != nil {
				return nil, storeErr(err)
			}
			sched.Reload()
			return job, nil
		},
	})

	d.Register("cron.remove", rpc.MethodSpec{
		ParamsSchema: `{
			"type": "object",
			"required": ["jobId"],
			"properties": {"jobId": {"type": "string"}}
		}`,
		Handler: func(ctx context.Context, req *rpc.Request) (any, *rpc.Error) {
			var params struct {
				JobID string `json:"jobId"`
			}
			if rpcErr := req.Params(&params); rpcErr != nil {
				return nil, rpcErr
			}
			sched := schedulerFor(sup, req)
			if err := sched.Store().Remove(params.JobID); err != nil {
				return nil, storeErr(err)
			}
			sched.Reload()
			return map[string]bool{"removed": true}, nil
		},
	})

	d.Register("cron.run", rpc.MethodSpec{
		Chargeable: true,
		ParamsSchema: `{
			"type": "object",
			"required": ["jobId"],
			"properties": {"jobId": {"type": "string"}}
		}`,
		Handler: func(ctx context.Context, req *rpc.Request) (any, *rpc.Error) {
			var params struct {
				JobID string `json:"jobId"`
			}
			if rpcErr := req.Params(&params); rpcErr != nil {
				return nil, rpcErr
			}
			sched := schedulerFor(sup, req)
			if err := sched.RunNow(params.JobID); err != nil {
				return nil, storeErr(err)
			}
			return map[string]bool{"started": true}, nil
		},
	})

	d.Register("cron.runs", rpc.MethodSpec{
		ParamsSchema: `{
			"type": "object",
			"required": ["jobId"],
			"properties": {
				"jobId": {"type": "string"},
				"limit": {"type": "integer", "minimum": 1, "maximum": 500}
			}
		}`,
		Handler: func(ctx context.Context, req *rpc.Request) (any, *rpc.Error) {
			var params struct {
				JobID string `json:"jobId"`
				Limit int    `json:"limit"`
			}
			if rpcErr := req.Params(&params); rpcErr != nil {
				return nil, rpcErr
			}
			sched := schedulerFor(sup, req)
			if sched.Store().Get(params.JobID) == nil {
				return nil, rpc.NotFound("cron job not found")
			}
			if params.Limit == 0 {
				params.Limit = 50
			}
			return map[string]any{"runs": ReadRunLog(sched.tenantDir, params.JobID, params.Limit)}, nil
		},
	})
}
