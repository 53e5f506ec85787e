package executor

import (
	"context"
	"sync"

	"github.com/roach88/rollout/internal/ipc"
)

// Process is a started executor: its connection plus process control.
type Process struct {
	Pid  int
	Conn *ipc.Conn

	kill func() error

	exitOnce sync.Once
	exited   chan struct{}
	exitErr  error
}

// NewProcess wraps a connection to an executor. wait blocks until the
// executor exits; kill terminates it.
func NewProcess(pid int, conn *ipc.Conn, wait func() error, kill func() error) *Process {
	p := &Process{
		Pid:    pid,
		Conn:   conn,
		kill:   kill,
		exited: make(chan struct{}),
	}
	go func() {
		err := wait()
		p.exitOnce.Do(func() {
			p.exitErr = err
			close(p.exited)
		})
	}()
	return p
}

// Exited is closed once the process has exited.
func (p *Process) Exited() <-chan struct{} {
	return p.exited
}

// ExitErr returns the wait error after Exited is closed.
func (p *Process) ExitErr() error {
	<-p.exited
	return p.exitErr
}

// Kill terminates the process.
func (p *Process) Kill() error {
	if p.kill == nil {
		return nil
	}
	return p.kill()
}

// Spawner starts executor processes.
type Spawner interface {
	Spawn(ctx context.Context, name string) (*Process, error)
}
