// Package cron owns scheduled jobs: the per-tenant job store, the tenant and
// global scheduler instances, the supervisor that manages their lifecycle,
// and the per-job run log.
package cron

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	robcron "github.com/robfig/cron/v3"
)

var (
	// ErrJobNotFound indicates the job id is not in the store.
	ErrJobNotFound = errors.New("cron job not found")

	// ErrInvalidSchedule indicates an unparseable cron expression.
	ErrInvalidSchedule = errors.New("invalid cron schedule")
)

// scheduleParser accepts standard 5-field expressions plus @-descriptors.
var scheduleParser = robcron.NewParser(
	robcron.Minute | robcron.Hour | robcron.Dom | robcron.Month | robcron.Dow | robcron.Descriptor,
)

// ValidateSchedule rejects expressions the scheduler cannot fire.
func ValidateSchedule(expr string) error {
	if _, err := scheduleParser.Parse(expr); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSchedule, err)
	}
	return nil
}

// Job is one scheduled agent run as persisted in cron/jobs.json.
type Job struct {
	ID       string `json:"id"`
	Name     string `json:"name,omitempty"`
	Schedule string `json:"schedule"`

	// AgentID selects the target agent; empty means the tenant default.
	AgentID string `json:"agentId,omitempty"`

	// Message is the prompt delivered to the agent on each firing.
	Message string `json:"message"`

	Disabled  bool      `json:"disabled,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type jobsFile struct {
	Version int             `json:"version"`
	Jobs    map[string]*Job `json:"jobs"`
}

const jobsFileVersion = 1

// Store persists one tenant's jobs to {tenantDir}/cron/jobs.json with the
// same load-mutate-save discipline as the tenant registry.
type Store struct {
	tenantDir string

	mu sync.Mutex
}

// NewStore returns a job store rooted at a tenant's state directory.
func NewStore(tenantDir string) *Store {
	return &Store{tenantDir: tenantDir}
}

func (s *Store) jobsPath() string {
	return filepath.Join(s.tenantDir, "cron", "jobs.json")
}

func (s *Store) load() *jobsFile {
	doc := &jobsFile{Version: jobsFileVersion, Jobs: map[string]*Job{}}
	data, err := os.ReadFile(s.jobsPath())
	if err != nil {
		return doc
	}
	if err := json.Unmarshal(data, doc); err != nil {
		return &jobsFile{Version: jobsFileVersion, Jobs: map[string]*Job{}}
	}
	if doc.Jobs == nil {
		doc.Jobs = map[string]*Job{}
	}
	return doc
}

func (s *Store) save(doc *jobsFile) error {
	doc.Version = jobsFileVersion
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode job store: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.jobsPath()), 0o700); err != nil {
		return fmt.Errorf("failed to create cron dir: %w", err)
	}
	tmp := s.jobsPath() + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("failed to write job store: %w", err)
	}
	if err := os.Rename(tmp, s.jobsPath()); err != nil {
		return fmt.Errorf("failed to replace job store: %w", err)
	}
	return nil
}

// AddParams are the accepted fields for a new job.
type AddParams struct {
	Name     string `json:"name,omitempty"`
	Schedule string `json:"schedule"`
	AgentID  string `json:"agentId,omitempty"`
	Message  string `json:"message"`
	Disabled bool   `json:"disabled,omitempty"`
}

// Add validates the schedule and persists a new job.
func (s *Store) Add(params AddParams) (*Job, error) {
	if err := ValidateSchedule(params.Schedule); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	job := &Job{
		ID:        uuid.NewString(),
		Name:      params.Name,
		Schedule:  params.Schedule,
		AgentID:   params.AgentID,
		Message:   params.Message,
		Disabled:  params.Disabled,
		CreatedAt: now,
		UpdatedAt: now,
	}

	doc := s.load()
	doc.Jobs[job.ID] = job
	if err := s.save(doc); err != nil {
		return nil, err
	}
	return job, nil
}

// UpdateParams are the selectively-applied mutable fields of a job. A nil
// field is left untouched.
type UpdateParams struct {
	Name     *string `json:"name,omitempty"`
	Schedule *string `json:"schedule,omitempty"`
	AgentID  *string `json:"agentId,omitempty"`
	Message  *string `json:"message,omitempty"`
	Disabled *bool   `json:"disabled,omitempty"`
}

// Update applies a selective field write to a job.
func (s *Store) Update(jobID string, params UpdateParams) (*Job, error) {
	if params.Schedule != nil {
		if err := ValidateSchedule(*params.Schedule); err != nil {
			return nil, err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	doc := s.load()
	job, exists := doc.Jobs[jobID]
	if !exists {
		return nil, ErrJobNotFound
	}

	if params.Name != nil {
		job.Name = *params.Name
	}
	if params.Schedule != nil {
		job.Schedule = *params.Schedule
	}
	if params.AgentID != nil {
		job.AgentID = *params.AgentID
	}
	if params.Message != nil {
		job.Message = *params.Message
	}
	if params.Disabled != nil {
		job.Disabled = *params.Disabled
	}
	job.UpdatedAt = time.Now().UTC()

	if err := s.save(doc); err != nil {
		return nil, err
	}
	return job, nil
}

// Remove deletes a job.
func (s *Store) Remove(jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc := s.load()
	if _, exists := doc.Jobs[jobID]; !exists {
		return ErrJobNotFound
	}
	delete(doc.Jobs, jobID)
	return s.save(doc)
}

// Get returns one job, or nil when absent.
func (s *Store) Get(jobID string) *Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load().Jobs[jobID]
}

// List returns all jobs ordered by creation time.
func (s *Store) List() []*Job {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc := s.load()
	jobs := make([]*Job, 0, len(doc.Jobs))
	for _, j := range doc.Jobs {
		jobs = append(jobs, j)
	}
	sort.Slice(jobs, func(i, k int) bool {
		if jobs[i].CreatedAt.Equal(jobs[k].CreatedAt) {
			return jobs[i].ID < jobs[k].ID
		}
		return jobs[i].CreatedAt.Before(jobs[k].CreatedAt)
	})
	return jobs
}

// Len returns the number of stored jobs.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.load().Jobs)
}
