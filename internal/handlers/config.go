package handlers

import (
	"context"
	"path/filepath"

	"github.com/xeipuuv/gojsonschema"

	"github.com/princevash/openclaw-mt/internal/rpc"
)

// runtimeConfigSchema constrains the tenant-editable configuration document.
// Unknown top-level keys are rejected; nested agent settings are free-form.
const runtimeConfigSchema = `{
	"type": "object",
	"additionalProperties": false,
	"properties": {
		"defaultAgentId": {"type": "string"},
		"agents": {
			"type": "object",
			"additionalProperties": {"type": "object"}
		},
		"channels": {
			"type": "object",
			"additionalProperties": {"type": "object"}
		},
		"heartbeat": {
			"type": "object",
			"properties": {
				"intervalSeconds": {"type": "integer", "minimum": 10}
			}
		},
		"env": {
			"type": "object",
			"additionalProperties": {"type": "string"}
		}
	}
}`

var compiledRuntimeSchema = gojsonschema.NewStringLoader(runtimeConfigSchema)

// configPath resolves the configuration document the caller edits: the
// tenant's own for tenant connections, the shared runtime document for
// operators.
func configPath(deps Deps, req *rpc.Request) string {
	if req.Tenant != nil {
		return filepath.Join(req.Tenant.StateDir, "openclaw.json")
	}
	return filepath.Join(deps.Config.StateDir, "runtime-config.json")
}

func loadConfigDoc(path string) (map[string]any, *rpc.Error) {
	doc := map[string]any{}
	if _, err := readJSONFile(path, &doc); err != nil {
		return nil, rpc.Unavailable("failed to read config: " + err.Error())
	}
	return doc, nil
}

func validateConfigDoc(doc map[string]any) *rpc.Error {
	result, err := gojsonschema.Validate(compiledRuntimeSchema, gojsonschema.NewGoLoader(doc))
	if err != nil {
		return rpc.Unavailable("config validation failed: " + err.Error())
	}
	if !result.Valid() {
		msg := "invalid config"
		if errs := result.Errors(); len(errs) > 0 {
			msg = "invalid config: " + errs[0].String()
		}
		return rpc.InvalidRequest(msg)
	}
	return nil
}

// deepMerge applies patch onto base. Nested maps merge recursively; an
// explicit null removes the key; anything else replaces.
func deepMerge(base, patch map[string]any) map[string]any {
	if base == nil {
		base = map[string]any{}
	}
	for key, val := range patch {
		if val == nil {
			delete(base, key)
			continue
		}
		patchMap, patchIsMap := val.(map[string]any)
		baseMap, baseIsMap := base[key].(map[string]any)
		if patchIsMap && baseIsMap {
			base[key] = deepMerge(baseMap, patchMap)
			continue
		}
		base[key] = val
	}
	return base
}

func registerConfigMethods(d *rpc.Dispatcher, deps Deps) {
	d.Register("config.get", rpc.MethodSpec{
		Handler: func(ctx context.Context, req *rpc.Request) (any, *rpc.Error) {
			doc, rpcErr := loadConfigDoc(configPath(deps, req))
			if rpcErr != nil {
				return nil, rpcErr
			}
			return map[string]any{"config": doc}, nil
		},
	})

	d.Register("config.set", rpc.MethodSpec{
		ParamsSchema: `{
			"type": "object",
			"required": ["config"],
			"properties": {"config": {"type": "object"}}
		}`,
		Handler: func(ctx context.Context, req *rpc.Request) (any, *rpc.Error) {
			var params struct {
				Config map[string]any `json:"config"`
			}
			if rpcErr := req.Params(&params); rpcErr != nil {
				return nil, rpcErr
			}
			if rpcErr := validateConfigDoc(params.Config); rpcErr != nil {
				return nil, rpcErr
			}
			if err := writeJSONFile(configPath(deps, req), params.Config); err != nil {
				return nil, rpc.Unavailable("failed to write config: " + err.Error())
			}
			return map[string]any{"config": params.Config}, nil
		},
	})

	d.Register("config.patch", rpc.MethodSpec{
		ParamsSchema: `{
			"type": "object",
			"required": ["patch"],
			"properties": {"patch": {"type": "object"}}
		}`,
		Handler: func(ctx context.Context, req *rpc.Request) (any, *rpc.Error) {
			var params struct {
				Patch map[string]any `json:"patch"`
			}
			if rpcErr := req.Params(&params); rpcErr != nil {
				return nil, rpcErr
			}
			path := configPath(deps, req)
			doc, rpcErr := loadConfigDoc(path)
			if rpcErr != nil {
				return nil, rpcErr
			}
			merged := deepMerge(doc, params.Patch)
			if rpcErr := validateConfigDoc(merged); rpcErr != nil {
				return nil, rpcErr
			}
			if err := writeJSONFile(path, merged); err != nil {
				return nil, rpc.Unavailable("failed to write config: " + err.Error())
			}
			return map[string]any{"config": merged}, nil
		},
	})

	d.Register("config.schema", rpc.MethodSpec{
		Handler: func(ctx context.Context, req *rpc.Request) (any, *rpc.Error) {
			return map[string]any{"schema": rawSchema()}, nil
		},
	})
}

func rawSchema() map[string]any {
	// The schema source is a compile-time constant; a parse failure would
	// surface in every config test.
	doc, _ := gojsonschema.NewStringLoader(runtimeConfigSchema).LoadJSON()
	m, _ := doc.(map[string]any)
	return m
}
