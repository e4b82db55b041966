// Package fakeproc provides scripted tools.Proc/Starter implementations
// for wrapper adapter tests.
package fakeproc

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/danmuck/punchctl/internal/tools"
)

// Proc is a scripted child process. Its output stream replays the given
// text; Exit flips it to not-running, as a real child exit would.
type Proc struct {
	out io.ReadCloser
	pid int

	mu      sync.Mutex
	stopped bool
	done    chan struct{}

	StopCalls int
}

func New(output string) *Proc {
	return NewStream(io.NopCloser(strings.NewReader(output)))
}

// NewStream scripts a process whose output is read from rc, for tests that
// need a stream which stays open until they say otherwise.
func NewStream(rc io.ReadCloser) *Proc {
	return &Proc{
		out:  rc,
		pid:  4242,
		done: make(chan struct{}),
	}
}

// Exit marks the process as exited. Safe to call more than once.
func (p *Proc) Exit() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.stopped {
		p.stopped = true
		close(p.done)
	}
}

func (p *Proc) Output() io.ReadCloser { return p.out }

func (p *Proc) Pid() int { return p.pid }

func (p *Proc) Running() bool {
	select {
	case <-p.done:
		return false
	default:
		return true
	}
}

func (p *Proc) Stop(grace time.Duration) error {
	p.mu.Lock()
	p.StopCalls++
	p.mu.Unlock()
	p.Exit()
	return nil
}

func (p *Proc) Wait() error {
	<-p.done
	return nil
}

// Starter hands out scripted procs in order and records every command line.
type Starter struct {
	mu    sync.Mutex
	Procs []*Proc
	Cmds  [][]string
	Err   error
}

func (s *Starter) Start(name string, args ...string) (tools.Proc, error) {
	return s.next(name, args)
}

func (s *Starter) StartPiped(name string, args ...string) (tools.Proc, error) {
	return s.next(name, args)
}

func (s *Starter) next(name string, args []string) (tools.Proc, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Cmds = append(s.Cmds, append([]string{name}, args...))
	if s.Err != nil {
		return nil, s.Err
	}
	if len(s.Procs) == 0 {
		return nil, fmt.Errorf("fakeproc: no scripted proc for %s", name)
	}
	p := s.Procs[0]
	s.Procs = s.Procs[1:]
	return p, nil
}
