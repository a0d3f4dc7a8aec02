package cron

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"
)

// RunRecord is one line of a job's run log.
type RunRecord struct {
	JobID      string    `json:"jobId"`
	SessionKey string    `json:"sessionKey"`
	AgentID    string    `json:"agentId"`
	StartedAt  time.Time `json:"startedAt"`
	DurationMs int64     `json:"durationMs"`
	Status     string    `json:"status"` // ok | error
	Error      string    `json:"error,omitempty"`
	TokensUsed int64     `json:"tokensUsed,omitempty"`
}

// appendRunLog appends one JSONL line to {tenantDir}/cron/runs/{jobId}.jsonl.
// Failures are logged and swallowed; a broken run log never fails the job.
func appendRunLog(tenantDir string, rec RunRecord) {
	dir := filepath.Join(tenantDir, "cron", "runs")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		log.Warn().Err(err).Str("jobId", rec.JobID).Msg("failed to create run log dir")
		return
	}

	line, err := json.Marshal(rec)
	if err != nil {
		log.Warn().Err(err).Str("jobId", rec.JobID).Msg("failed to encode run record")
		return
	}

	path := filepath.Join(dir, rec.JobID+".jsonl")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		log.Warn().Err(err).Str("jobId", rec.JobID).Msg("failed to open run log")
		return
	}
	defer f.Close()

	if _, err := f.Write(append(line, '\n')); err != nil {
		log.Warn().Err(err).Str("jobId", rec.JobID).Msg("failed to append run record")
	}
}

// ReadRunLog returns up to limit most-recent run records for a job. A missing
// log yields an empty slice.
func ReadRunLog(tenantDir, jobID string, limit int) []RunRecord {
	path := filepath.Join(tenantDir, "cron", "runs", jobID+".jsonl")
	data, err := os.ReadFile(path)
	if err != nil {
		return []RunRecord{}
	}

	var records []RunRecord
	dec := json.NewDecoder(bytes.NewReader(data))
	for {
		var rec RunRecord
		if err := dec.Decode(&rec); err != nil {
			break
		}
		records = append(records, rec)
	}
	if limit > 0 && len(records) > limit {
		records = records[len(records)-limit:]
	}
	if records == nil {
		records = []RunRecord{}
	}
	return records
}
