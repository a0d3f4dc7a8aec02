package handlers

import (
	"context"
	"path/filepath"

	"github.com/princevash/openclaw-mt/internal/rpc"
)

// voiceWakeSettings is the wake-word configuration, persisted as
// voicewake.json under the caller's state tree.
type voiceWakeSettings struct {
	Enabled bool   `json:"enabled"`
	Phrase  string `json:"phrase,omitempty"`
}

func voiceWakePath(deps Deps, req *rpc.Request) string {
	if req.Tenant != nil {
		return filepath.Join(req.Tenant.StateDir, "voicewake.json")
	}
	return filepath.Join(deps.Config.StateDir, "voicewake.json")
}

func registerVoiceWakeMethods(d *rpc.Dispatcher, deps Deps) {
	d.Register("voicewake.get", rpc.MethodSpec{
		Handler: func(ctx context.Context, req *rpc.Request) (any, *rpc.Error) {
			var settings voiceWakeSettings
			if _, err := readJSONFile(voiceWakePath(deps, req), &settings); err != nil {
				return nil, rpc.Unavailable("failed to read voicewake settings: " + err.Error())
			}
			return settings, nil
		},
	})

	d.Register("voicewake.set", rpc.MethodSpec{
		ParamsSchema: `{
			"type": "object",
			"required": ["enabled"],
			"properties": {
				"enabled": {"type": "boolean"},
				"phrase": {"type": "string"}
			}
		}`,
		Handler: func(ctx context.Context, req *rpc.Request) (any, *rpc.Error) {
			var settings voiceWakeSettings
			if rpcErr := req.Params(&settings); rpcErr != nil {
				return nil, rpcErr
			}
			if err := writeJSONFile(voiceWakePath(deps, req), settings); err != nil {
				return nil, rpc.Unavailable("failed to write voicewake settings: " + err.Error())
			}
			return settings, nil
		},
	})
}
