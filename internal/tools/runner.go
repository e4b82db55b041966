package tools

import (
	"io"
	"os"
	"os/exec"
	"syscall"
	"time"
)

// Proc is a handle to one started child process.
type Proc interface {
	// Output is the merged stdout+stderr stream; nil unless started piped.
	Output() io.ReadCloser
	Pid() int
	Running() bool
	// Stop signals termination and kills once the grace period runs out.
	Stop(grace time.Duration) error
	Wait() error
}

// Starter launches child processes for the wrapper adapters.
type Starter interface {
	// Start launches a child with stdio inherited from the parent.
	Start(name string, args ...string) (Proc, error)
	// StartPiped launches a child with stdout and stderr merged into a pipe.
	StartPiped(name string, args ...string) (Proc, error)
}

// ExecStarter launches commands on the local host.
type ExecStarter struct{}

func (ExecStarter) Start(name string, args ...string) (Proc, error) {
	cmd := exec.Command(name, args...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	return launch(cmd, nil)
}

func (ExecStarter) StartPiped(name string, args ...string) (Proc, error) {
	cmd := exec.Command(name, args...)
	pr, pw, err := os.Pipe()
	if err != nil {
		return nil, err
	}
	cmd.Stdout = pw
	cmd.Stderr = pw
	p, err := launch(cmd, pr)
	// The child holds its own copy of the write end; closing ours makes
	// the read end return EOF when the child exits.
	pw.Close()
	if err != nil {
		pr.Close()
		return nil, err
	}
	return p, nil
}

type execProc struct {
	cmd     *exec.Cmd
	out     io.ReadCloser
	done    chan struct{}
	waitErr error
}

func launch(cmd *exec.Cmd, out io.ReadCloser) (*execProc, error) {
	if err := cmd.Start(); err != nil {
		return nil, err
	}
	p := &execProc{cmd: cmd, out: out, done: make(chan struct{})}
	go func() {
		p.waitErr = cmd.Wait()
		close(p.done)
	}()
	return p, nil
}

func (p *execProc) Output() io.ReadCloser { return p.out }

func (p *execProc) Pid() int { return p.cmd.Process.Pid }

func (p *execProc) Running() bool {
	select {
	case <-p.done:
		return false
	default:
		return true
	}
}

func (p *execProc) Stop(grace time.Duration) error {
	if !p.Running() {
		return nil
	}
	if err := p.cmd.Process.Signal(syscall.SIGTERM); err != nil {
		_ = p.cmd.Process.Kill()
	}
	select {
	case <-p.done:
	case <-time.After(grace):
		_ = p.cmd.Process.Kill()
		<-p.done
	}
	return nil
}

func (p *execProc) Wait() error {
	<-p.done
	return p.waitErr
}
