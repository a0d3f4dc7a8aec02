// Package httpapi serves the gateway's HTTP surfaces: the OpenAI-compatible
// chat endpoints, the internal control plane under /internal/v1, the metrics
// endpoint, and the WebSocket RPC mount. Both chat and control plane are thin
// adapters over the same registries, ledger and dispatcher the WebSocket
// surface uses.
package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"

	"github.com/princevash/openclaw-mt/internal/agent"
	"github.com/princevash/openclaw-mt/internal/backup"
	"github.com/princevash/openclaw-mt/internal/config"
	"github.com/princevash/openclaw-mt/internal/metrics"
	"github.com/princevash/openclaw-mt/internal/quota"
	"github.com/princevash/openclaw-mt/internal/rpc"
	"github.com/princevash/openclaw-mt/internal/tenant"
)

// maxBodyBytes caps every JSON request body on this surface.
const maxBodyBytes = 64 << 10

// Server holds dependencies for the HTTP handlers.
type Server struct {
	Config     *config.Config
	Tenants    *tenant.Registry
	Ledger     *quota.Ledger
	Runner     agent.Runner
	Backups    *backup.Orchestrator
	Dispatcher *rpc.Dispatcher

	// Gateway handles WebSocket upgrades, mounted at /ws.
	Gateway http.Handler

	// Evict tears down a tenant's live resources (connections, PTYs,
	// schedulers). Set by the daemon; nil is tolerated.
	Evict func(tenantID string)

	Version   string
	StartedAt time.Time
}

// Routes creates the HTTP router with all gateway endpoints.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	// Health check (unauthenticated)
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	if s.Gateway != nil {
		r.Handle("/ws", s.Gateway)
	}
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Use(bodyLimit)
		r.Post("/chat/completions", s.handleChatCompletions)
		r.Post("/responses", s.handleResponses)
		r.Post("/tools/invoke", s.handleToolsInvoke)
	})

	r.Route("/internal/v1", func(r chi.Router) {
		r.Use(bodyLimit)
		r.Use(s.requireControlPlaneToken)
		r.NotFound(func(w http.ResponseWriter, r *http.Request) {
			writeError(w, http.StatusNotFound, "not_found", "unknown path")
		})
		r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
			writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		})

		r.Get("/status", s.handleStatus)
		r.Get("/tenants", s.handleTenantList)
		r.Get("/tenants/{tenantID}", s.handleTenantGet)
		r.Post("/tenants/{tenantID}", s.handleTenantCreate)
		r.Delete("/tenants/{tenantID}", s.handleTenantDelete)
		r.Post("/tenants/{tenantID}/backup", s.handleTenantBackup)
		r.Post("/tenants/{tenantID}/restore", s.handleTenantRestore)
		r.Get("/tenants/{tenantID}/backups", s.handleBackupList)
		r.Delete("/tenants/{tenantID}/backups/*", s.handleBackupDelete)
	})

	return r
}

// bodyLimit rejects request bodies over maxBodyBytes before handlers read
// them.
func bodyLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
		next.ServeHTTP(w, r)
	})
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("failed to encode json response")
	}
}

// writeError writes the control-plane error shape.
func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]any{
		"error": map[string]string{"code": code, "message": message},
	})
}

// decodeJSON reads a JSON body into v, mapping oversized bodies to a clean
// client error.
func decodeJSON(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return errors.New("request body too large")
		}
		return errors.New("malformed json body")
	}
	return nil
}
