package handlers

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/princevash/openclaw-mt/internal/rpc"
)

// pairTTL is how long an issued pairing code stays redeemable.
const pairTTL = 10 * time.Minute

// pairRequest is one outstanding or completed pairing, persisted in
// pairing.json at the state root.
type pairRequest struct {
	Code      string    `json:"code"`
	Kind      string    `json:"kind"` // device | node
	TenantID  string    `json:"tenantId,omitempty"`
	Label     string    `json:"label,omitempty"`
	DeviceID  string    `json:"deviceId,omitempty"`
	Verified  bool      `json:"verified"`
	CreatedAt time.Time `json:"createdAt"`
}

// pairingMu serializes pairing.json mutations across connections.
var pairingMu sync.Mutex

func pairingPath(deps Deps) string {
	return filepath.Join(deps.Config.StateDir, "pairing.json")
}

func loadPairing(deps Deps) (map[string]*pairRequest, *rpc.Error) {
	pairs := map[string]*pairRequest{}
	if _, err := readJSONFile(pairingPath(deps), &pairs); err != nil {
		return nil, rpc.Unavailable("failed to read pairing state: " + err.Error())
	}
	return pairs, nil
}

func newPairCode() (string, error) {
	buf := make([]byte, 4)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

func registerPairingMethods(d *rpc.Dispatcher, deps Deps) {
	request := func(kind string) rpc.HandlerFunc {
		return func(ctx context.Context, req *rpc.Request) (any, *rpc.Error) {
			var params struct {
				Label string `json:"label"`
			}
			if rpcErr := req.Params(&params); rpcErr != nil {
				return nil, rpcErr
			}

			code, err := newPairCode()
			if err != nil {
				return nil, rpc.Unavailable("failed to generate pairing code")
			}

			pairingMu.Lock()
			defer pairingMu.Unlock()
			pairs, rpcErr := loadPairing(deps)
			if rpcErr != nil {
				return nil, rpcErr
			}

			pr := &pairRequest{
				Code:      code,
				Kind:      kind,
				Label:     params.Label,
				CreatedAt: time.Now().UTC(),
			}
			if req.Tenant != nil {
				pr.TenantID = req.Tenant.TenantID
			}
			pairs[code] = pr
			if err := writeJSONFile(pairingPath(deps), pairs); err != nil {
				return nil, rpc.Unavailable("failed to write pairing state: " + err.Error())
			}
			return map[string]any{
				"code":      code,
				"expiresAt": pr.CreatedAt.Add(pairTTL),
			}, nil
		}
	}

	verify := func(kind string) rpc.HandlerFunc {
		return func(ctx context.Context, req *rpc.Request) (any, *rpc.Error) {
			var params struct {
				Code string `json:"code"`
			}
			if rpcErr := req.Params(&params); rpcErr != nil {
				return nil, rpcErr
			}

			pairingMu.Lock()
			defer pairingMu.Unlock()
			pairs, rpcErr := loadPairing(deps)
			if rpcErr != nil {
				return nil, rpcErr
			}

			pr, ok := pairs[params.Code]
			if !ok || pr.Kind != kind || time.Since(pr.CreatedAt) > pairTTL {
				return nil, rpc.NewError(rpc.CodeNotPaired, "pairing code is unknown or expired")
			}
			// A tenant may only redeem codes issued in its own scope.
			if req.Tenant != nil && pr.TenantID != req.Tenant.TenantID {
				return nil, rpc.NewError(rpc.CodeNotPaired, "pairing code is unknown or expired")
			}

			if !pr.Verified {
				pr.Verified = true
				pr.DeviceID = uuid.NewString()
				if err := writeJSONFile(pairingPath(deps), pairs); err != nil {
					return nil, rpc.Unavailable("failed to write pairing state: " + err.Error())
				}
			}
			return map[string]any{"deviceId": pr.DeviceID, "paired": true}, nil
		}
	}

	codeSchema := `{
		"type": "object",
		"required": ["code"],
		"properties": {"code": {"type": "string", "minLength": 1}}
	}`
	labelSchema := `{
		"type": "object",
		"properties": {"label": {"type": "string"}}
	}`

	d.Register("device.pair.request", rpc.MethodSpec{ParamsSchema: labelSchema, Handler: request("device")})
	d.Register("device.pair.verify", rpc.MethodSpec{ParamsSchema: codeSchema, Handler: verify("device")})
	d.Register("node.pair.request", rpc.MethodSpec{ParamsSchema: labelSchema, Handler: request("node")})
	d.Register("node.pair.verify", rpc.MethodSpec{ParamsSchema: codeSchema, Handler: verify("node")})

	// Operator surface for auditing and revocation; requires the pairing
	// scope per the authorizer.
	d.Register("device.pair.list", rpc.MethodSpec{
		Handler: func(ctx context.Context, req *rpc.Request) (any, *rpc.Error) {
			pairingMu.Lock()
			defer pairingMu.Unlock()
			pairs, rpcErr := loadPairing(deps)
			if rpcErr != nil {
				return nil, rpcErr
			}
			out := []*pairRequest{}
			for _, pr := range pairs {
				if pr.Kind == "device" {
					out = append(out, pr)
				}
			}
			return map[string]any{"pairings": out}, nil
		},
	})

	d.Register("device.pair.revoke", rpc.MethodSpec{
		ParamsSchema: codeSchema,
		Handler: func(ctx context.Context, req *rpc.Request) (any, *rpc.Error) {
			var params struct {
				Code string `json:"code"`
			}
			if rpcErr := req.Params(&params); rpcErr != nil {
				return nil, rpcErr
			}

			pairingMu.Lock()
			defer pairingMu.Unlock()
			pairs, rpcErr := loadPairing(deps)
			if rpcErr != nil {
				return nil, rpcErr
			}
			if _, ok := pairs[params.Code]; !ok {
				return nil, rpc.NotFound("pairing not found")
			}
			delete(pairs, params.Code)
			if err := writeJSONFile(pairingPath(deps), pairs); err != nil {
				return nil, rpc.Unavailable("failed to write pairing state: " + err.Error())
			}
			return map[string]bool{"revoked": true}, nil
		},
	})
}
