package rpc

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/xeipuuv/gojsonschema"

	"github.com/princevash/openclaw-mt/internal/metrics"
	"github.com/princevash/openclaw-mt/internal/quota"
	"github.com/princevash/openclaw-mt/internal/tenant"
)

// Client is the dispatcher's view of one connection: enough to identify the
// caller and push frames back. Send reports false when the frame was dropped
// (connection gone, or buffer full with dropIfSlow set).
type Client interface {
	Caller() Caller
	Send(frame any, dropIfSlow bool) bool
}

// Request carries everything a handler needs for one call.
type Request struct {
	Frame  RequestFrame
	Caller Caller

	// Tenant is the resolved tenant context, nil on operator and node
	// connections.
	Tenant *tenant.Context

	// Client is the originating connection, for handlers that target events
	// at it (terminal output fan-out).
	Client Client
}

// Params decodes the request params into v.
func (r *Request) Params(v any) *Error {
	raw := r.Frame.Params
	if len(raw) == 0 {
		raw = []byte("{}")
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return InvalidRequest("malformed params: " + err.Error())
	}
	return nil
}

// HandlerFunc runs one method call. A nil *Error produces an ok response
// carrying the payload.
type HandlerFunc func(ctx context.Context, req *Request) (any, *Error)

// MethodSpec configures one registered method.
type MethodSpec struct {
	Handler HandlerFunc

	// ParamsSchema is optional JSON Schema source validated before the
	// handler runs.
	ParamsSchema string

	// Chargeable routes tenant calls through the pre-request quota gate.
	Chargeable bool
}

type method struct {
	spec   MethodSpec
	schema *gojsonschema.Schema
}

// Dispatcher owns the method table and the request lifecycle: authorize,
// quota-gate, validate, run, convert failures to structured errors.
type Dispatcher struct {
	mu      sync.RWMutex
	methods map[string]*method

	ledger *quota.Ledger

	// Observe, when set, is called once per completed request.
	Observe func(methodName string, code ErrorCode, elapsed time.Duration)
}

// NewDispatcher creates a dispatcher. The ledger may be nil in tests that
// exercise routing only.
func NewDispatcher(ledger *quota.Ledger) *Dispatcher {
	return &Dispatcher{
		methods: make(map[string]*method),
		ledger:  ledger,
	}
}

// Register installs a method handler. It panics on a duplicate name or an
// invalid schema; both are programming errors caught at startup.
func (d *Dispatcher) Register(name string, spec MethodSpec) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, exists := d.methods[name]; exists {
		panic("rpc: duplicate method registration: " + name)
	}
	m := &method{spec: spec}
	if spec.ParamsSchema != "" {
		schema, err := compileSchema(name, spec.ParamsSchema)
		if err != nil {
			panic(err)
		}
		m.schema = schema
	}
	d.methods[name] = m
}

// Methods returns the registered method names.
func (d *Dispatcher) Methods() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	names := make([]string, 0, len(d.methods))
	for name := range d.methods {
		names = append(names, name)
	}
	return names
}

// Dispatch runs one request frame to completion and returns the response
// frame. It never panics: handler panics become UNAVAILABLE errors.
func (d *Dispatcher) Dispatch(ctx context.Context, frame RequestFrame, client Client, tenantCtx *tenant.Context) (resp ResponseFrame) {
	caller := client.Caller()
	resp = ResponseFrame{ID: frame.ID}
	start := time.Now()

	defer func() {
		if r := recover(); r != nil {
			log.Error().Any("panic", r).Str("method", frame.Method).Msg("handler panicked")
			resp.OK = false
			resp.Payload = nil
			resp.Error = Unavailable("internal error")
		}
		if d.Observe != nil {
			code := ErrorCode("")
			if resp.Error != nil {
				code = resp.Error.Code
			}
			d.Observe(frame.Method, code, time.Since(start))
		}
	}()

	if frame.Method == "" {
		resp.Error = InvalidRequest("missing method")
		return resp
	}

	if rpcErr := Authorize(frame.Method, caller); rpcErr != nil {
		resp.Error = rpcErr
		return resp
	}

	d.mu.RLock()
	m, ok := d.methods[frame.Method]
	d.mu.RUnlock()
	if !ok {
		resp.Error = NotFound("unknown method: " + frame.Method)
		return resp
	}

	// Quota gate for tenant-scoped chargeable methods.
	if m.spec.Chargeable && tenantCtx != nil && d.ledger != nil {
		decision := d.ledger.CheckQuotaBeforeRequest(tenantCtx.TenantID, tenantCtx.Quotas)
		if !decision.Allowed {
			metrics.QuotaDenialsTotal.WithLabelValues(string(decision.Reason)).Inc()
			resp.Error = &Error{
				Code:         CodeInvalidRequest,
				Message:      decision.Message,
				Retryable:    decision.Reason == quota.DenyRateLimited,
				RetryAfterMs: decision.RetryAfterMs,
				Details:      map[string]any{"reason": string(decision.Reason)},
			}
			return resp
		}
		if decision.Warning != "" {
			resp.Meta = map[string]any{"quotaWarning": decision.Warning}
		}
	}

	if rpcErr := validateParams(m.schema, frame.Params); rpcErr != nil {
		resp.Error = rpcErr
		return resp
	}

	payload, rpcErr := m.spec.Handler(ctx, &Request{
		Frame:  frame,
		Caller: caller,
		Tenant: tenantCtx,
		Client: client,
	})
	if rpcErr != nil {
		if rpcErr.Code == CodeUnavailable {
			log.Error().Str("method", frame.Method).Str("connId", caller.ConnID).Msg(rpcErr.Message)
		}
		resp.Error = rpcErr
		return resp
	}

	resp.OK = true
	resp.Payload = payload
	return resp
}
