package frp

import (
	"errors"
	"testing"

	"github.com/rs/zerolog"

	"github.com/danmuck/punchctl/internal/testutil/fakeproc"
	"github.com/danmuck/punchctl/internal/testutil/testlog"
)

func TestSupervisorStartIsIdempotentWhileRunning(t *testing.T) {
	testlog.Start(t)

	starter := &fakeproc.Starter{Procs: []*fakeproc.Proc{fakeproc.New("")}}
	sup, err := NewSupervisor("frps", "/opt/frp/frps", "/opt/frp/frps.toml", starter, zerolog.Nop())
	if err != nil {
		t.Fatalf("new supervisor: %v", err)
	}

	if err := sup.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := sup.Start(); err != nil {
		t.Fatalf("second start: %v", err)
	}
	if len(starter.Cmds) != 1 {
		t.Fatalf("expected one launch, got %d", len(starter.Cmds))
	}
	want := []string{"/opt/frp/frps", "-c", "/opt/frp/frps.toml"}
	for i, arg := range want {
		if starter.Cmds[0][i] != arg {
			t.Fatalf("unexpected command: %v", starter.Cmds[0])
		}
	}
	if !sup.Running() {
		t.Fatalf("expected running supervisor")
	}
}

func TestSupervisorRestartReplacesProcess(t *testing.T) {
	testlog.Start(t)

	first := fakeproc.New("")
	second := fakeproc.New("")
	starter := &fakeproc.Starter{Procs: []*fakeproc.Proc{first, second}}
	sup, err := NewSupervisor("frpc", "frpc", "frpc.toml", starter, zerolog.Nop())
	if err != nil {
		t.Fatalf("new supervisor: %v", err)
	}

	if err := sup.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := sup.Restart(); err != nil {
		t.Fatalf("restart: %v", err)
	}
	if first.Running() {
		t.Fatalf("expected old process stopped")
	}
	if !sup.Running() {
		t.Fatalf("expected new process running")
	}
	if len(starter.Cmds) != 2 {
		t.Fatalf("expected two launches, got %d", len(starter.Cmds))
	}
}

func TestSupervisorStartAfterProcessDeath(t *testing.T) {
	testlog.Start(t)

	first := fakeproc.New("")
	second := fakeproc.New("")
	starter := &fakeproc.Starter{Procs: []*fakeproc.Proc{first, second}}
	sup, err := NewSupervisor("frps", "frps", "frps.toml", starter, zerolog.Nop())
	if err != nil {
		t.Fatalf("new supervisor: %v", err)
	}

	if err := sup.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	first.Exit()
	if sup.Running() {
		t.Fatalf("expected dead supervisor after process exit")
	}
	if err := sup.Start(); err != nil {
		t.Fatalf("start after death: %v", err)
	}
	if !sup.Running() {
		t.Fatalf("expected replacement process running")
	}
}

func TestSupervisorStopIsSafeWhenNeverStarted(t *testing.T) {
	testlog.Start(t)

	sup, err := NewSupervisor("frps", "frps", "frps.toml", &fakeproc.Starter{}, zerolog.Nop())
	if err != nil {
		t.Fatalf("new supervisor: %v", err)
	}
	if err := sup.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}
}

func TestSupervisorValidatesPaths(t *testing.T) {
	testlog.Start(t)

	if _, err := NewSupervisor("frps", "", "conf", nil, zerolog.Nop()); !errors.Is(err, ErrBinaryRequired) {
		t.Fatalf("expected ErrBinaryRequired, got %v", err)
	}
	if _, err := NewSupervisor("frps", "bin", "", nil, zerolog.Nop()); !errors.Is(err, ErrConfigRequired) {
		t.Fatalf("expected ErrConfigRequired, got %v", err)
	}
}
