// Package terminal owns interactive PTY sessions: a process-wide registry of
// tenant-owned pseudo-terminals, owner/admin access control, idle reaping,
// and fan-out of output to the originating connection only.
package terminal

import (
	"fmt"
	"os"
	"os/exec"
	"sync"

	"github.com/creack/pty"
)

// SpawnRequest carries everything the spawner needs to start one sandboxed
// shell. Exactly one OnData and one OnExit sink are installed, before the
// process starts producing output.
type SpawnRequest struct {
	TenantID string
	Shell    string
	Env      []string
	Cols     uint16
	Rows     uint16

	// WorkDir is the tenant's workspace directory, mounted at /workspace
	// inside the sandbox.
	WorkDir string

	OnData func(data []byte)
	OnExit func(exitCode int)
}

// Process is an opaque handle to a running PTY. The session-map entry is the
// sole owner; Kill releases the underlying OS process.
type Process interface {
	PID() int
	Write(data []byte) error
	Resize(cols, rows uint16) error
	Kill() error
}

// Spawner starts sandboxed PTY processes. The concrete sandbox wiring
// (namespaces, cgroup scopes, images) lives behind this interface.
type Spawner interface {
	Spawn(req SpawnRequest) (Process, error)
}

// LocalSpawner runs the shell directly on the host PTY. It is the default
// spawner in development; production deployments plug in a sandboxing
// implementation.
type LocalSpawner struct{}

func (LocalSpawner) Spawn(req SpawnRequest) (Process, error) {
	shell := req.Shell
	if shell == "" {
		shell = "/bin/bash"
	}

	cmd := exec.Command(shell)
	cmd.Env = append(os.Environ(), req.Env...)
	if req.WorkDir != "" {
		cmd.Dir = req.WorkDir
	}

	f, err := pty.StartWithSize(cmd, &pty.Winsize{Cols: req.Cols, Rows: req.Rows})
	if err != nil {
		return nil, fmt.Errorf("failed to start pty: %w", err)
	}

	p := &localProcess{cmd: cmd, pty: f}

	go func() {
		buf := make([]byte, 8192)
		for {
			n, err := f.Read(buf)
			if n > 0 && req.OnData != nil {
				data := make([]byte, n)
				copy(data, buf[:n])
				req.OnData(data)
			}
			if err != nil {
				break
			}
		}
		code := 0
		if err := cmd.Wait(); err != nil {
			if exitErr, ok := err.(*exec.ExitError); ok {
				code = exitErr.ExitCode()
			} else {
				code = -1
			}
		}
		if req.OnExit != nil {
			req.OnExit(code)
		}
	}()

	return p, nil
}

type localProcess struct {
	cmd *exec.Cmd
	pty *os.File

	mu sync.Mutex
}

func (p *localProcess) PID() int {
	if p.cmd.Process == nil {
		return 0
	}
	return p.cmd.Process.Pid
}

func (p *localProcess) Write(data []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, err := p.pty.Write(data)
	return err
}

func (p *localProcess) Resize(cols, rows uint16) error {
	return pty.Setsize(p.pty, &pty.Winsize{Cols: cols, Rows: rows})
}

func (p *localProcess) Kill() error {
	if p.cmd.Process == nil {
		return nil
	}
	err := p.cmd.Process.Kill()
	_ = p.pty.Close()
	return err
}
