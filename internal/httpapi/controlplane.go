package httpapi

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/princevash/openclaw-mt/internal/backup"
	"github.com/princevash/openclaw-mt/internal/metrics"
	"github.com/princevash/openclaw-mt/internal/quota"
	"github.com/princevash/openclaw-mt/internal/tenant"
)

// controlPlaneHeader carries the shared secret for /internal/v1.
const controlPlaneHeader = "X-Control-Plane-Token"

// requireControlPlaneToken gates the internal API on a constant-time token
// comparison. An unconfigured secret denies everything.
func (s *Server) requireControlPlaneToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		secret := s.Config.Auth.ControlPlaneToken
		if secret == "" {
			writeError(w, http.StatusUnauthorized, "unauthorized", "control plane is not configured")
			return
		}
		presented := r.Header.Get(controlPlaneHeader)
		if subtle.ConstantTimeCompare([]byte(presented), []byte(secret)) != 1 {
			log.Warn().Str("ip", r.RemoteAddr).Msg("control plane auth failure")
			writeError(w, http.StatusUnauthorized, "unauthorized", "invalid control plane token")
			return
		}
		next.ServeHTTP(w, r)
	})
}

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

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"version":       s.Version,
		"uptimeSeconds": int64(time.Since(s.StartedAt).Seconds()),
		"tenants":       len(s.Tenants.List()),
		"capabilities":  []string{"rpc", "terminal", "cron", "backup", "metrics"},
		"system":        metrics.ReadCurrent(s.Config.StateDir),
	})
}

func (s *Server) handleTenantList(w http.ResponseWriter, r *http.Request) {
	ids := s.Tenants.List()
	views := make([]tenantView, 0, len(ids))
	for _, id := range ids {
		if entry := s.Tenants.Get(id); entry != nil {
			views = append(views, viewOf(entry))
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"tenants": views})
}

func (s *Server) handleTenantGet(w http.ResponseWriter, r *http.Request) {
	entry := s.Tenants.Get(chi.URLParam(r, "tenantID"))
	if entry == nil {
		writeError(w, http.StatusNotFound, "not_found", "tenant not found")
		return
	}
	writeJSON(w, http.StatusOK, viewOf(entry))
}

func (s *Server) handleTenantCreate(w http.ResponseWriter, r *http.Request) {
	var body struct {
		DisplayName string `json:"displayName"`
	}
	if r.ContentLength != 0 {
		if err := decodeJSON(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
			return
		}
	}

	tenantID := chi.URLParam(r, "tenantID")
	token, entry, err := s.Tenants.Create(tenantID, tenant.CreateOptions{DisplayName: body.DisplayName})
	switch {
	case errors.Is(err, tenant.ErrTenantExists):
		writeError(w, http.StatusBadRequest, "invalid_request", "tenant already exists")
		return
	case errors.Is(err, tenant.ErrInvalidTenantID):
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	case err != nil:
		writeError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}

	log.Info().Str("tenantId", tenantID).Msg("tenant created via control plane")
	writeJSON(w, http.StatusCreated, map[string]any{"tenant": viewOf(entry), "token": token})
}

func (s *Server) handleTenantDelete(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenantID")
	deleteData := r.URL.Query().Get("deleteData") == "true"

	if s.Evict != nil {
		s.Evict(tenantID)
	}
	err := s.Tenants.Remove(tenantID, tenant.RemoveOptions{DeleteData: deleteData})
	switch {
	case errors.Is(err, tenant.ErrTenantNotFound):
		writeError(w, http.StatusNotFound, "not_found", "tenant not found")
		return
	case err != nil:
		writeError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}

	log.Info().Str("tenantId", tenantID).Bool("deleteData", deleteData).Msg("tenant removed via control plane")
	writeJSON(w, http.StatusOK, map[string]bool{"deleted": true})
}

func (s *Server) handleTenantBackup(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenantID")
	key, err := s.Backups.Backup(tenantID)
	switch {
	case errors.Is(err, tenant.ErrTenantNotFound), errors.Is(err, backup.ErrNoStateDir):
		metrics.BackupsTotal.WithLabelValues("backup", "error").Inc()
		writeError(w, http.StatusNotFound, "not_found", "tenant not found")
		return
	case err != nil:
		metrics.BackupsTotal.WithLabelValues("backup", "error").Inc()
		writeError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	metrics.BackupsTotal.WithLabelValues("backup", "ok").Inc()
	writeJSON(w, http.StatusOK, map[string]string{"key": key})
}

func (s *Server) handleTenantRestore(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Key             string `json:"key"`
		CreateIfMissing bool   `json:"createIfMissing"`
	}
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if body.Key == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "key is required")
		return
	}

	tenantID := chi.URLParam(r, "tenantID")
	err := s.Backups.Restore(tenantID, body.Key, backup.RestoreOptions{CreateIfMissing: body.CreateIfMissing})
	switch {
	case errors.Is(err, tenant.ErrTenantNotFound):
		metrics.BackupsTotal.WithLabelValues("restore", "error").Inc()
		writeError(w, http.StatusNotFound, "not_found", "tenant not found")
		return
	case errors.Is(err, backup.ErrObjectNotFound):
		metrics.BackupsTotal.WithLabelValues("restore", "error").Inc()
		writeError(w, http.StatusNotFound, "not_found", "backup not found")
		return
	case err != nil:
		metrics.BackupsTotal.WithLabelValues("restore", "error").Inc()
		writeError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	metrics.BackupsTotal.WithLabelValues("restore", "ok").Inc()
	writeJSON(w, http.StatusOK, map[string]bool{"restored": true})
}

func (s *Server) handleBackupList(w http.ResponseWriter, r *http.Request) {
	infos, err := s.Backups.ListBackups(chi.URLParam(r, "tenantID"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"backups": infos})
}

func (s *Server) handleBackupDelete(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenantID")
	key := chi.URLParam(r, "*")

	// The key must belong to this tenant's snapshot listing; the control
	// plane never deletes arbitrary objects.
	infos, err := s.Backups.ListBackups(tenantID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	found := false
	for _, info := range infos {
		if info.Key == key {
			found = true
			break
		}
	}
	if !found {
		writeError(w, http.StatusNotFound, "not_found", "backup not found")
		return
	}

	if err := s.Backups.DeleteBackup(key); err != nil {
		writeError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"deleted": true})
}
