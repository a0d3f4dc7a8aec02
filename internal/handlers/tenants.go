package handlers

import (
	"context"
	"errors"
	"time"

	"github.com/princevash/openclaw-mt/internal/backup"
	"github.com/princevash/openclaw-mt/internal/quota"
	"github.com/princevash/openclaw-mt/internal/rpc"
	"github.com/princevash/openclaw-mt/internal/tenant"
)

// tenantView is the externally visible shape of a tenant record. The token
// hash never leaves the registry.
type tenantView struct {
	ID          string        `json:"id"`
	DisplayName string        `json:"displayName,omitempty"`
	Disabled    bool          `json:"disabled,omitempty"`
	Quotas      *quota.Quotas `json:"quotas,omitempty"`
	CreatedAt   time.Time     `json:"createdAt"`
	LastSeenAt  time.Time     `json:"lastSeenAt,omitempty"`
}

func viewOf(e *tenant.Entry) tenantView {
	return tenantView{
		ID:          e.ID,
		DisplayName: e.DisplayName,
		Disabled:    e.Disabled,
		Quotas:      e.Quotas,
		CreatedAt:   e.CreatedAt,
		LastSeenAt:  e.LastSeenAt,
	}
}

func registryErr(err error) *rpc.Error {
	switch {
	case errors.Is(err, tenant.ErrTenantNotFound):
		return rpc.NotFound("tenant not found")
	case errors.Is(err, tenant.ErrTenantExists):
		return rpc.InvalidRequest("tenant already exists")
	case errors.Is(err, tenant.ErrInvalidTenantID):
		return rpc.InvalidRequest(err.Error())
	default:
		return rpc.Unavailable("tenant registry failure: " + err.Error())
	}
}

const tenantIDParamSchema = `{
	"type": "object",
	"properties": {"tenantId": {"type": "string"}}
}`

type tenantIDParam struct {
	TenantID string `json:"tenantId"`
}

func registerTenantMethods(d *rpc.Dispatcher, deps Deps) {
	d.Register("tenants.get", rpc.MethodSpec{
		ParamsSchema: tenantIDParamSchema,
		Handler: func(ctx context.Context, req *rpc.Request) (any, *rpc.Error) {
			var params tenantIDParam
			if rpcErr := req.Params(&params); rpcErr != nil {
				return nil, rpcErr
			}
			tenantID, rpcErr := resolveTenantID(req, params.TenantID)
			if rpcErr != nil {
				return nil, rpcErr
			}
			entry := deps.Tenants.Get(tenantID)
			if entry == nil {
				return nil, rpc.NotFound("tenant not found")
			}
			return viewOf(entry), nil
		},
	})

	d.Register("tenants.rotate", rpc.MethodSpec{
		ParamsSchema: tenantIDParamSchema,
		Handler: func(ctx context.Context, req *rpc.Request) (any, *rpc.Error) {
			var params tenantIDParam
			if rpcErr := req.Params(&params); rpcErr != nil {
				return nil, rpcErr
			}
			tenantID, rpcErr := resolveTenantID(req, params.TenantID)
			if rpcErr != nil {
				return nil, rpcErr
			}
			token, err := deps.Tenants.Rotate(tenantID)
			if err != nil {
				return nil, registryErr(err)
			}
			return map[string]string{"token": token}, nil
		},
	})

	d.Register("tenants.usage", rpc.MethodSpec{
		ParamsSchema: tenantIDParamSchema,
		Handler: func(ctx context.Context, req *rpc.Request) (any, *rpc.Error) {
			var params tenantIDParam
			if rpcErr := req.Params(&params); rpcErr != nil {
				return nil, rpcErr
			}
			tenantID, rpcErr := resolveTenantID(req, params.TenantID)
			if rpcErr != nil {
				return nil, rpcErr
			}
			snap, err := deps.Ledger.LoadUsage(tenantID)
			if err != nil {
				return nil, rpc.Unavailable("failed to load usage: " + err.Error())
			}
			return snap, nil
		},
	})

	d.Register("tenants.quota.status", rpc.MethodSpec{
		ParamsSchema: tenantIDParamSchema,
		Handler: func(ctx context.Context, req *rpc.Request) (any, *rpc.Error) {
			var params tenantIDParam
			if rpcErr := req.Params(&params); rpcErr != nil {
				return nil, rpcErr
			}
			tenantID, rpcErr := resolveTenantID(req, params.TenantID)
			if rpcErr != nil {
				return nil, rpcErr
			}
			entry := deps.Tenants.Get(tenantID)
			if entry == nil {
				return nil, rpc.NotFound("tenant not found")
			}

			// Status is a read-only poll; it must not consume the tenant's
			// own rate budget.
			decision := deps.Ledger.EvaluateQuota(tenantID, entry.Quotas)
			percents, err := deps.Ledger.PercentUsed(tenantID, entry.Quotas)
			if err != nil {
				return nil, rpc.Unavailable("failed to compute quota status: " + err.Error())
			}
			return map[string]any{
				"quotas":      entry.Quotas,
				"decision":    decision,
				"percentUsed": percents,
			}, nil
		},
	})

	d.Register("tenants.usage.history", rpc.MethodSpec{
		ParamsSchema: tenantIDParamSchema,
		Handler: func(ctx context.Context, req *rpc.Request) (any, *rpc.Error) {
			var params tenantIDParam
			if rpcErr := req.Params(&params); rpcErr != nil {
				return nil, rpcErr
			}
			tenantID, rpcErr := resolveTenantID(req, params.TenantID)
			if rpcErr != nil {
				return nil, rpcErr
			}
			history, err := deps.Ledger.History(tenantID)
			if err != nil {
				return nil, rpc.Unavailable("failed to load usage history: " + err.Error())
			}
			return map[string]any{"periods": history}, nil
		},
	})

	d.Register("tenants.backup", rpc.MethodSpec{
		Chargeable:   true,
		ParamsSchema: tenantIDParamSchema,
		Handler: func(ctx context.Context, req *rpc.Request) (any, *rpc.Error) {
			var params tenantIDParam
			if rpcErr := req.Params(&params); rpcErr != nil {
				return nil, rpcErr
			}
			tenantID, rpcErr := resolveTenantID(req, params.TenantID)
			if rpcErr != nil {
				return nil, rpcErr
			}
			key, err := deps.Backups.Backup(tenantID)
			if err != nil {
				if errors.Is(err, tenant.ErrTenantNotFound) {
					return nil, rpc.NotFound("tenant not found")
				}
				return nil, rpc.Unavailable("backup failed: " + err.Error())
			}
			return map[string]string{"key": key}, nil
		},
	})

	d.Register("tenants.backups.list", rpc.MethodSpec{
		ParamsSchema: tenantIDParamSchema,
		Handler: func(ctx context.Context, req *rpc.Request) (any, *rpc.Error) {
			var params tenantIDParam
			if rpcErr := req.Params(&params); rpcErr != nil {
				return nil, rpcErr
			}
			tenantID, rpcErr := resolveTenantID(req, params.TenantID)
			if rpcErr != nil {
				return nil, rpcErr
			}
			infos, err := deps.Backups.ListBackups(tenantID)
			if err != nil {
				return nil, rpc.Unavailable("failed to list backups: " + err.Error())
			}
			return map[string]any{"backups": infos}, nil
		},
	})

	d.Register("tenants.restore", rpc.MethodSpec{
		ParamsSchema: `{
			"type": "object",
			"required": ["key"],
			"properties": {
				"tenantId": {"type": "string"},
				"key": {"type": "string"},
				"createIfMissing": {"type": "boolean"}
			}
		}`,
		Handler: func(ctx context.Context, req *rpc.Request) (any, *rpc.Error) {
			var params struct {
				tenantIDParam
				Key             string `json:"key"`
				CreateIfMissing bool   `json:"createIfMissing"`
			}
			if rpcErr := req.Params(&params); rpcErr != nil {
				return nil, rpcErr
			}
			tenantID, rpcErr := resolveTenantID(req, params.TenantID)
			if rpcErr != nil {
				return nil, rpcErr
			}
			// Only non-tenant admins may conjure a tenant from a snapshot.
			createIfMissing := params.CreateIfMissing && req.Tenant == nil && req.Caller.IsAdmin()
			err := deps.Backups.Restore(tenantID, params.Key, backup.RestoreOptions{CreateIfMissing: createIfMissing})
			switch {
			case errors.Is(err, tenant.ErrTenantNotFound):
				return nil, rpc.NotFound("tenant not found")
			case errors.Is(err, backup.ErrObjectNotFound):
				return nil, rpc.NotFound("backup not found")
			case err != nil:
				return nil, rpc.Unavailable("restore failed: " + err.Error())
			}
			return map[string]bool{"restored": true}, nil
		},
	})

	d.Register("tenants.delete", rpc.MethodSpec{
		ParamsSchema: `{
			"type": "object",
			"properties": {
				"tenantId": {"type": "string"},
				"deleteData": {"type": "boolean"}
			}
		}`,
		Handler: func(ctx context.Context, req *rpc.Request) (any, *rpc.Error) {
			var params struct {
				tenantIDParam
				DeleteData bool `json:"deleteData"`
			}
			if rpcErr := req.Params(&params); rpcErr != nil {
				return nil, rpcErr
			}
			tenantID, rpcErr := resolveTenantID(req, params.TenantID)
			if rpcErr != nil {
				return nil, rpcErr
			}
			evictTenant(deps, tenantID)
			if err := deps.Tenants.Remove(tenantID, tenant.RemoveOptions{DeleteData: params.DeleteData}); err != nil {
				return nil, registryErr(err)
			}
			return map[string]bool{"deleted": true}, nil
		},
	})

	// Admin-only fleet operations. The authorizer already rejects tenant
	// tokens and non-admin scopes before these run.
	d.Register("tenants.create", rpc.MethodSpec{
		ParamsSchema: `{
			"type": "object",
			"required": ["tenantId"],
			"properties": {
				"tenantId": {"type": "string"},
				"displayName": {"type": "string"}
			}
		}`,
		Handler: func(ctx context.Context, req *rpc.Request) (any, *rpc.Error) {
			var params struct {
				tenantIDParam
				DisplayName string `json:"displayName"`
			}
			if rpcErr := req.Params(&params); rpcErr != nil {
				return nil, rpcErr
			}
			token, entry, err := deps.Tenants.Create(params.TenantID, tenant.CreateOptions{DisplayName: params.DisplayName})
			if err != nil {
				return nil, registryErr(err)
			}
			return map[string]any{"tenant": viewOf(entry), "token": token}, nil
		},
	})

	d.Register("tenants.list", rpc.MethodSpec{
		Handler: func(ctx context.Context, req *rpc.Request) (any, *rpc.Error) {
			ids := deps.Tenants.List()
			views := make([]tenantView, 0, len(ids))
			for _, id := range ids {
				if entry := deps.Tenants.Get(id); entry != nil {
					views = append(views, viewOf(entry))
				}
			}
			return map[string]any{"tenants": views}, nil
		},
	})

	d.Register("tenants.remove", rpc.MethodSpec{
		ParamsSchema: `{
			"type": "object",
			"required": ["tenantId"],
			"properties": {
				"tenantId": {"type": "string"},
				"deleteData": {"type": "boolean"}
			}
		}`,
		Handler: func(ctx context.Context, req *rpc.Request) (any, *rpc.Error) {
			var params struct {
				tenantIDParam
				DeleteData bool `json:"deleteData"`
			}
			if rpcErr := req.Params(&params); rpcErr != nil {
				return nil, rpcErr
			}
			evictTenant(deps, params.TenantID)
			if err := deps.Tenants.Remove(params.TenantID, tenant.RemoveOptions{DeleteData: params.DeleteData}); err != nil {
				return nil, registryErr(err)
			}
			return map[string]bool{"removed": true}, nil
		},
	})

	d.Register("tenants.update", rpc.MethodSpec{
		ParamsSchema: `{
			"type": "object",
			"required": ["tenantId"],
			"properties": {
				"tenantId": {"type": "string"},
				"displayName": {"type": "string"},
				"disabled": {"type": "boolean"},
				"quotas": {"type": "object"}
			}
		}`,
		Handler: func(ctx context.Context, req *rpc.Request) (any, *rpc.Error) {
			var params struct {
				tenantIDParam
				tenant.UpdateParams
			}
			if rpcErr := req.Params(&params); rpcErr != nil {
				return nil, rpcErr
			}
			entry, err := deps.Tenants.Update(params.TenantID, params.UpdateParams)
			if err != nil {
				return nil, registryErr(err)
			}
			// Disabling a tenant tears down its live resources.
			if params.Disabled != nil && *params.Disabled {
				evictTenant(deps, params.TenantID)
			}
			return viewOf(entry), nil
		},
	})
}
