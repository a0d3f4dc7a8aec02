// Package agent abstracts the downstream agent runtime. The gateway never
// executes agent turns itself; it hands a session key and a message to a
// Runner and relays the result.
package agent

import (
	"context"
	"errors"
	"time"
)

// ErrAgentTimeout marks a run that exceeded its deadline. Handlers map it to
// the AGENT_TIMEOUT error code.
var ErrAgentTimeout = errors.New("agent run timed out")

// RunRequest is one agent turn.
type RunRequest struct {
	// SessionKey is the fully scoped conversation key, already carrying the
	// tenant prefix.
	SessionKey string

	TenantID string
	AgentID  string
	Message  string
}

// RunResult is the outcome of one turn.
type RunResult struct {
	Reply      string        `json:"reply,omitempty"`
	TokensUsed int64         `json:"tokensUsed"`
	Duration   time.Duration `json:"-"`
}

// Runner executes agent turns. Implementations are expected to be safe for
// concurrent use.
type Runner interface {
	Run(ctx context.Context, req RunRequest) (*RunResult, error)
}

// NopRunner acknowledges runs without doing any work. It stands in when the
// gateway is deployed without an attached agent runtime, and in tests.
type NopRunner struct{}

func (NopRunner) Run(ctx context.Context, req RunRequest) (*RunResult, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}
	return &RunResult{TokensUsed: 0}, nil
}
