package terminal

import (
	"encoding/base64"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/princevash/openclaw-mt/internal/rpc"
)

const (
	minCols, maxCols = 10, 500
	minRows, maxRows = 5, 200

	defaultCols = 80
	defaultRows = 24

	// idleTimeout is how long a session may sit without writes or output
	// before the reaper kills it.
	idleTimeout = 5 * time.Minute

	reapInterval = time.Minute
)

// Broadcaster delivers terminal events to specific connections.
type Broadcaster interface {
	BroadcastToConnIDs(event string, payload any, connIDs map[string]struct{}, dropIfSlow bool)
}

// Session is one live PTY owned by a tenant and a single connection.
type Session struct {
	ID       string
	TenantID string
	ConnID   string

	proc Process

	createdAt      time.Time
	lastActivityAt time.Time
}

// SessionInfo is the listable view of a session.
type SessionInfo struct {
	TerminalID     string    `json:"terminalId"`
	TenantID       string    `json:"tenantId,omitempty"`
	PID            int       `json:"pid"`
	CreatedAt      time.Time `json:"createdAt"`
	LastActivityAt time.Time `json:"lastActivityAt"`
}

// Manager is the process-wide PTY session registry. One lock guards the map;
// every operation under it is O(1) and short.
type Manager struct {
	spawner Spawner
	events  Broadcaster

	mu       sync.Mutex
	sessions map[string]*Session

	reaperOnce sync.Once

	// now is injectable for tests.
	now func() time.Time
}

// NewManager creates a PTY manager.
func NewManager(spawner Spawner, events Broadcaster) *Manager {
	return &Manager{
		spawner:  spawner,
		events:   events,
		sessions: make(map[string]*Session),
		now:      time.Now,
	}
}

// SpawnParams are the terminal.spawn inputs.
type SpawnParams struct {
	Cols  uint16            `json:"cols,omitempty"`
	Rows  uint16            `json:"rows,omitempty"`
	Shell string            `json:"shell,omitempty"`
	Env   map[string]string `json:"env,omitempty"`
}

func clamp(v, def, lo, hi uint16) uint16 {
	if v == 0 {
		v = def
	}
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

type outputPayload struct {
	TerminalID string `json:"terminalId"`
	Data       string `json:"data"` // base64
}

type exitPayload struct {
	TerminalID string `json:"terminalId"`
	ExitCode   int    `json:"exitCode"`
}

// Spawn starts a PTY for a tenant-authenticated connection. Output and exit
// events target the originating connection only.
func (m *Manager) Spawn(caller rpc.Caller, workDir string, params SpawnParams) (*SessionInfo, *rpc.Error) {
	if !caller.IsTenant() {
		return nil, rpc.Unauthorized("terminal.spawn requires a tenant context")
	}

	cols := clamp(params.Cols, defaultCols, minCols, maxCols)
	rows := clamp(params.Rows, defaultRows, minRows, maxRows)

	env := make([]string, 0, len(params.Env))
	for k, v := range params.Env {
		env = append(env, k+"="+v)
	}

	terminalID := uuid.NewString()
	connID := caller.ConnID
	ownerSet := map[string]struct{}{connID: {}}

	proc, err := m.spawner.Spawn(SpawnRequest{
		TenantID: caller.TenantID,
		Shell:    params.Shell,
		Env:      env,
		Cols:     cols,
		Rows:     rows,
		WorkDir:  workDir,
		OnData: func(data []byte) {
			m.touch(terminalID)
			m.events.BroadcastToConnIDs("terminal.output", outputPayload{
				TerminalID: terminalID,
				Data:       base64.StdEncoding.EncodeToString(data),
			}, ownerSet, true)
		},
		OnExit: func(code int) {
			// Only the first remover broadcasts; terminal.close already
			// deleted the record for explicit closes.
			if m.remove(terminalID) {
				m.events.BroadcastToConnIDs("terminal.exit", exitPayload{
					TerminalID: terminalID,
					ExitCode:   code,
				}, ownerSet, false)
			}
		},
	})
	if err != nil {
		log.Error().Err(err).Str("tenantId", caller.TenantID).Msg("pty spawn failed")
		return nil, rpc.Unavailable("failed to spawn terminal: " + err.Error())
	}

	now := m.now()
	sess := &Session{
		ID:             terminalID,
		TenantID:       caller.TenantID,
		ConnID:         connID,
		proc:           proc,
		createdAt:      now,
		lastActivityAt: now,
	}

	// Snapshot the info under the lock: output callbacks may fire before
	// Spawn returns and touch lastActivityAt concurrently.
	m.mu.Lock()
	m.sessions[terminalID] = sess
	info := sess.info()
	m.mu.Unlock()

	m.reaperOnce.Do(func() { go m.reapLoop() })

	log.Info().Str("terminalId", terminalID).Str("tenantId", caller.TenantID).Int("pid", proc.PID()).Msg("terminal spawned")
	return info, nil
}

func (s *Session) info() *SessionInfo {
	return &SessionInfo{
		TerminalID:     s.ID,
		TenantID:       s.TenantID,
		PID:            s.proc.PID(),
		CreatedAt:      s.createdAt,
		LastActivityAt: s.lastActivityAt,
	}
}

func (m *Manager) touch(terminalID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[terminalID]; ok {
		s.lastActivityAt = m.now()
	}
}

// remove deletes a session record, reporting whether it was present.
func (m *Manager) remove(terminalID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[terminalID]; !ok {
		return false
	}
	delete(m.sessions, terminalID)
	return true
}

// access resolves a session and enforces the ownership rule: a tenant caller
// may only touch its own sessions, even with admin scope; only a non-tenant
// admin connection may touch another tenant's PTY.
func (m *Manager) access(terminalID string, caller rpc.Caller) (*Session, *rpc.Error) {
	if terminalID == "" {
		return nil, rpc.InvalidRequest("terminalId is required")
	}

	m.mu.Lock()
	sess, ok := m.sessions[terminalID]
	m.mu.Unlock()
	if !ok {
		return nil, rpc.NotFound("unknown terminalId")
	}

	if caller.IsTenant() {
		if sess.TenantID != caller.TenantID {
			return nil, rpc.Unauthorized("terminal belongs to another tenant")
		}
		return sess, nil
	}
	if !caller.IsAdmin() {
		return nil, rpc.Unauthorized("admin scope required for foreign terminals")
	}
	return sess, nil
}

// Write forwards bytes to the PTY and refreshes the activity clock.
func (m *Manager) Write(caller rpc.Caller, terminalID, data string) *rpc.Error {
	sess, rpcErr := m.access(terminalID, caller)
	if rpcErr != nil {
		return rpcErr
	}
	if err := sess.proc.Write([]byte(data)); err != nil {
		return rpc.Unavailable("terminal write failed: " + err.Error())
	}
	m.touch(terminalID)
	return nil
}

// Resize clamps and forwards a resize.
func (m *Manager) Resize(caller rpc.Caller, terminalID string, cols, rows uint16) *rpc.Error {
	sess, rpcErr := m.access(terminalID, caller)
	if rpcErr != nil {
		return rpcErr
	}
	cols = clamp(cols, defaultCols, minCols, maxCols)
	rows = clamp(rows, defaultRows, minRows, maxRows)
	if err := sess.proc.Resize(cols, rows); err != nil {
		return rpc.Unavailable("terminal resize failed: " + err.Error())
	}
	m.touch(terminalID)
	return nil
}

// Close kills the process and deletes the record. The record is deleted even
// when the kill fails.
func (m *Manager) Close(caller rpc.Caller, terminalID string) *rpc.Error {
	sess, rpcErr := m.access(terminalID, caller)
	if rpcErr != nil {
		return rpcErr
	}
	if err := sess.proc.Kill(); err != nil {
		log.Warn().Err(err).Str("terminalId", terminalID).Msg("terminal kill failed")
	}
	m.remove(terminalID)
	return nil
}

// List returns the sessions visible to the caller: all of them for
// non-tenant admins, the tenant's own for tenant callers, none otherwise.
func (m *Manager) List(caller rpc.Caller) []*SessionInfo {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := []*SessionInfo{}
	for _, s := range m.sessions {
		switch {
		case caller.IsTenant():
			if s.TenantID == caller.TenantID {
				out = append(out, s.info())
			}
		case caller.IsAdmin():
			out = append(out, s.info())
		}
	}
	return out
}

// CloseAllTenantTerminals terminates every PTY owned by a tenant. Invoked
// when the tenant is disabled or deleted.
func (m *Manager) CloseAllTenantTerminals(tenantID string) int {
	m.mu.Lock()
	var doomed []*Session
	for _, s := range m.sessions {
		if s.TenantID == tenantID {
			doomed = append(doomed, s)
		}
	}
	m.mu.Unlock()

	for _, s := range doomed {
		if err := s.proc.Kill(); err != nil {
			log.Warn().Err(err).Str("terminalId", s.ID).Msg("terminal kill failed during tenant close")
		}
		m.remove(s.ID)
	}
	return len(doomed)
}

// Count returns the number of live terminals.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// CloseAll terminates every PTY regardless of owner. Called at shutdown.
func (m *Manager) CloseAll() int {
	m.mu.Lock()
	doomed := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		doomed = append(doomed, s)
	}
	m.mu.Unlock()

	for _, s := range doomed {
		if err := s.proc.Kill(); err != nil {
			log.Warn().Err(err).Str("terminalId", s.ID).Msg("terminal kill failed during shutdown")
		}
		m.remove(s.ID)
	}
	return len(doomed)
}

// reapLoop kills idle sessions. Started lazily on first spawn and runs until
// process exit.
func (m *Manager) reapLoop() {
	ticker := time.NewTicker(reapInterval)
	defer ticker.Stop()
	for range ticker.C {
		m.reapIdle()
	}
}

func (m *Manager) reapIdle() {
	cutoff := m.now().Add(-idleTimeout)

	m.mu.Lock()
	var idle []*Session
	for _, s := range m.sessions {
		if s.lastActivityAt.Before(cutoff) {
			idle = append(idle, s)
		}
	}
	m.mu.Unlock()

	for _, s := range idle {
		log.Info().Str("terminalId", s.ID).Str("tenantId", s.TenantID).Msg("reaping idle terminal")
		// Kill only; the exit callback removes the record and notifies the
		// owning connection.
		if err := s.proc.Kill(); err != nil {
			log.Warn().Err(err).Str("terminalId", s.ID).Msg("idle terminal kill failed")
			m.remove(s.ID)
		}
	}
}
