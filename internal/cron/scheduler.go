package cron

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	robcron "github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"

	"github.com/princevash/openclaw-mt/internal/agent"
	"github.com/princevash/openclaw-mt/internal/metrics"
	"github.com/princevash/openclaw-mt/internal/quota"
	"github.com/princevash/openclaw-mt/internal/sessionkey"
)

// defaultRunTimeout bounds one cron-fired agent turn.
const defaultRunTimeout = 10 * time.Minute

// Broadcaster routes cron lifecycle events to the owning tenant's
// connections.
type Broadcaster interface {
	BroadcastToTenant(tenantID, event string, payload any, dropIfSlow bool)
}

// Deps are the shared collaborators handed to every scheduler.
type Deps struct {
	Runner agent.Runner
	Events Broadcaster

	// Ledger records token usage from cron-fired runs. Nil disables
	// accounting.
	Ledger *quota.Ledger

	// DefaultAgentID is the fallback when neither the job nor the tenant
	// names an agent.
	DefaultAgentID string

	RunTimeout time.Duration
}

func (d Deps) runTimeout() time.Duration {
	if d.RunTimeout > 0 {
		return d.RunTimeout
	}
	return defaultRunTimeout
}

// runEvent is the payload of "tenant:{id}:cron" lifecycle events.
type runEvent struct {
	JobID      string `json:"jobId"`
	Phase      string `json:"phase"` // started | finished | failed
	SessionKey string `json:"sessionKey"`
	Error      string `json:"error,omitempty"`
	DurationMs int64  `json:"durationMs,omitempty"`
}

// TenantScheduler fires one tenant's jobs. The robfig cron runner handles
// schedule parsing and firing; this wrapper owns the job-to-entry mapping and
// the run pipeline.
type TenantScheduler struct {
	tenantID  string
	tenantDir string
	store     *Store
	deps      Deps

	mu      sync.Mutex
	runner  *robcron.Cron
	entries map[string]robcron.EntryID
	started bool
}

// NewTenantScheduler builds a stopped scheduler for one tenant.
func NewTenantScheduler(tenantID, tenantDir string, deps Deps) *TenantScheduler {
	return &TenantScheduler{
		tenantID:  tenantID,
		tenantDir: tenantDir,
		store:     NewStore(tenantDir),
		deps:      deps,
		runner:    robcron.New(robcron.WithParser(scheduleParser)),
		entries:   make(map[string]robcron.EntryID),
	}
}

// Store exposes the scheduler's job store for the CRUD handlers.
func (s *TenantScheduler) Store() *Store {
	return s.store
}

// TenantID returns the owning tenant.
func (s *TenantScheduler) TenantID() string {
	return s.tenantID
}

// Start registers every enabled job and begins firing. Idempotent.
func (s *TenantScheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.reloadLocked()
	s.runner.Start()
	s.started = true
	log.Info().Str("tenantId", s.tenantID).Int("jobs", len(s.entries)).Msg("tenant scheduler started")
}

// Stop halts firing. In-flight runs complete. Idempotent.
func (s *TenantScheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		return
	}
	s.runner.Stop()
	s.started = false
	log.Info().Str("tenantId", s.tenantID).Msg("tenant scheduler stopped")
}

// Running reports whether the scheduler is started.
func (s *TenantScheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.started
}

// Reload re-syncs the registered entries with the job store. Called after
// every job mutation.
func (s *TenantScheduler) Reload() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reloadLocked()
}

func (s *TenantScheduler) reloadLocked() {
	for _, entryID := range s.entries {
		s.runner.Remove(entryID)
	}
	s.entries = make(map[string]robcron.EntryID)

	for _, job := range s.store.List() {
		if job.Disabled {
			continue
		}
		jobID := job.ID
		entryID, err := s.runner.AddFunc(job.Schedule, func() { s.fire(jobID) })
		if err != nil {
			// The store validated the schedule at write time; an unparseable
			// entry here means the file was edited by hand.
			log.Warn().Err(err).Str("tenantId", s.tenantID).Str("jobId", jobID).Msg("skipping job with bad schedule")
			continue
		}
		s.entries[jobID] = entryID
	}
}

// RunNow fires a job immediately, outside its schedule. Used by the cron.run
// RPC.
func (s *TenantScheduler) RunNow(jobID string) error {
	if s.store.Get(jobID) == nil {
		return ErrJobNotFound
	}
	go s.fire(jobID)
	return nil
}

// configuredDefaultAgent reads defaultAgentId from the caller-editable config
// document: the tenant's openclaw.json, or the shared runtime document for
// the global scheduler. Missing or unparseable files resolve to "".
func (s *TenantScheduler) configuredDefaultAgent() string {
	name := "openclaw.json"
	if s.tenantID == "" {
		name = "runtime-config.json"
	}
	data, err := os.ReadFile(filepath.Join(s.tenantDir, name))
	if err != nil {
		return ""
	}
	var doc struct {
		DefaultAgentID string `json:"defaultAgentId"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		log.Warn().Err(err).Str("tenantId", s.tenantID).Msg("config document unparseable, ignoring for agent resolution")
		return ""
	}
	return doc.DefaultAgentID
}

// fire executes one run of a job: resolve the agent, build the cron-scoped
// session key, hand the message to the runner, account tokens, log the run.
func (s *TenantScheduler) fire(jobID string) {
	job := s.store.Get(jobID)
	if job == nil {
		// Removed between scheduling and firing.
		return
	}

	// Agent resolution order: the job's own agent, the tenant's configured
	// default, the process-wide default.
	agentID := job.AgentID
	if agentID == "" {
		agentID = s.configuredDefaultAgent()
	}
	if agentID == "" {
		agentID = s.deps.DefaultAgentID
	}
	agentID = sessionkey.NormalizeAgentID(agentID)
	// Global jobs (empty tenant) run in the operator namespace.
	key := "cron:" + job.ID
	eventName := "cron"
	if s.tenantID != "" {
		key = sessionkey.BuildCronKey(s.tenantID, job.ID)
		eventName = "tenant:" + s.tenantID + ":cron"
	}

	s.deps.Events.BroadcastToTenant(s.tenantID, eventName, runEvent{
		JobID:      job.ID,
		Phase:      "started",
		SessionKey: key,
	}, true)

	ctx, cancel := context.WithTimeout(context.Background(), s.deps.runTimeout())
	defer cancel()

	started := time.Now()
	result, err := s.deps.Runner.Run(ctx, agent.RunRequest{
		SessionKey: key,
		TenantID:   s.tenantID,
		AgentID:    agentID,
		Message:    job.Message,
	})
	duration := time.Since(started)

	rec := RunRecord{
		JobID:      job.ID,
		SessionKey: key,
		AgentID:    agentID,
		StartedAt:  started.UTC(),
		DurationMs: duration.Milliseconds(),
		Status:     "ok",
	}

	if err != nil {
		rec.Status = "error"
		rec.Error = err.Error()
		log.Error().Err(err).Str("tenantId", s.tenantID).Str("jobId", job.ID).Msg("cron job failed")
		s.deps.Events.BroadcastToTenant(s.tenantID, eventName, runEvent{
			JobID:      job.ID,
			Phase:      "failed",
			SessionKey: key,
			Error:      err.Error(),
			DurationMs: duration.Milliseconds(),
		}, true)
	} else {
		if result != nil {
			rec.TokensUsed = result.TokensUsed
		}
		if s.deps.Ledger != nil && rec.TokensUsed > 0 {
			if lerr := s.deps.Ledger.UpdateTokenUsage(s.tenantID, quota.TokenUsage{
				OutputTokens: rec.TokensUsed,
				Messages:     1,
			}); lerr != nil {
				log.Warn().Err(lerr).Str("tenantId", s.tenantID).Msg("failed to account cron token usage")
			}
		}
		s.deps.Events.BroadcastToTenant(s.tenantID, eventName, runEvent{
			JobID:      job.ID,
			Phase:      "finished",
			SessionKey: key,
			DurationMs: duration.Milliseconds(),
		}, true)
	}

	metrics.CronRunsTotal.WithLabelValues(rec.Status).Inc()
	appendRunLog(s.tenantDir, rec)
}
