package handlers

import (
	"context"
	"path/filepath"
	"time"

	"github.com/princevash/openclaw-mt/internal/rpc"
)

// channelState tracks one messaging channel connector, persisted in
// channels.json under the caller's state tree. The connector processes
// themselves run out of band; the gateway owns desired state and login
// bookkeeping.
type channelState struct {
	Name      string    `json:"name"`
	Running   bool      `json:"running"`
	LoggedIn  bool      `json:"loggedIn"`
	StartedAt time.Time `json:"startedAt,omitempty"`
	StoppedAt time.Time `json:"stoppedAt,omitempty"`
}

func channelsPath(deps Deps, req *rpc.Request) string {
	if req.Tenant != nil {
		return filepath.Join(req.Tenant.StateDir, "channels.json")
	}
	return filepath.Join(deps.Config.StateDir, "channels.json")
}

func loadChannels(path string) (map[string]*channelState, *rpc.Error) {
	channels := map[string]*channelState{}
	if _, err := readJSONFile(path, &channels); err != nil {
		return nil, rpc.Unavailable("failed to read channels: " + err.Error())
	}
	return channels, nil
}

const channelParamSchema = `{
	"type": "object",
	"required": ["channel"],
	"properties": {"channel": {"type": "string", "minLength": 1}}
}`

type channelParam struct {
	Channel string `json:"channel"`
}

func registerChannelMethods(d *rpc.Dispatcher, deps Deps) {
	mutate := func(req *rpc.Request, name string, fn func(*channelState)) (*channelState, *rpc.Error) {
		path := channelsPath(deps, req)
		channels, rpcErr := loadChannels(path)
		if rpcErr != nil {
			return nil, rpcErr
		}
		ch, ok := channels[name]
		if !ok {
			ch = &channelState{Name: name}
			channels[name] = ch
		}
		fn(ch)
		if err := writeJSONFile(path, channels); err != nil {
			return nil, rpc.Unavailable("failed to write channels: " + err.Error())
		}
		return ch, nil
	}

	d.Register("channels.start", rpc.MethodSpec{
		ParamsSchema: channelParamSchema,
		Handler: func(ctx context.Context, req *rpc.Request) (any, *rpc.Error) {
			var params channelParam
			if rpcErr := req.Params(&params); rpcErr != nil {
				return nil, rpcErr
			}
			return mutate(req, params.Channel, func(ch *channelState) {
				ch.Running = true
				ch.StartedAt = time.Now().UTC()
			})
		},
	})

	d.Register("channels.stop", rpc.MethodSpec{
		ParamsSchema: channelParamSchema,
		Handler: func(ctx context.Context, req *rpc.Request) (any, *rpc.Error) {
			var params channelParam
			if rpcErr := req.Params(&params); rpcErr != nil {
				return nil, rpcErr
			}
			return mutate(req, params.Channel, func(ch *channelState) {
				ch.Running = false
				ch.StoppedAt = time.Now().UTC()
			})
		},
	})

	d.Register("channels.logout", rpc.MethodSpec{
		ParamsSchema: channelParamSchema,
		Handler: func(ctx context.Context, req *rpc.Request) (any, *rpc.Error) {
			var params channelParam
			if rpcErr := req.Params(&params); rpcErr != nil {
				return nil, rpcErr
			}
			return mutate(req, params.Channel, func(ch *channelState) {
				ch.Running = false
				ch.LoggedIn = false
				ch.StoppedAt = time.Now().UTC()
			})
		},
	})

	d.Register("channels.status", rpc.MethodSpec{
		Handler: func(ctx context.Context, req *rpc.Request) (any, *rpc.Error) {
			channels, rpcErr := loadChannels(channelsPath(deps, req))
			if rpcErr != nil {
				return nil, rpcErr
			}
			return map[string]any{"channels": channels}, nil
		},
	})
}
