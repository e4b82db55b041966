package natter

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/danmuck/punchctl/internal/endpoint"
	"github.com/danmuck/punchctl/internal/retry"
	"github.com/danmuck/punchctl/internal/testutil/fakeproc"
	"github.com/danmuck/punchctl/internal/testutil/testlog"
)

const helperBanner = "Natter v2.1.1\nchecking NAT type...\n" +
	"tcp://192.168.1.5:7000 <--Natter--> tcp://203.0.113.9:12345\n"

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Command = []string{"python3", "natter.py"}
	cfg.PunchTimeout = 2 * time.Second
	cfg.StopGrace = 100 * time.Millisecond
	cfg.Backoff = retry.BackoffConfig{InitialDelay: time.Millisecond, Multiplier: 1.0}
	return cfg
}

func newTestPuncher(t *testing.T, cfg Config, starter *fakeproc.Starter) *Puncher {
	t.Helper()
	p, err := NewPuncher(cfg, starter, nil, zerolog.Nop())
	if err != nil {
		t.Fatalf("new puncher: %v", err)
	}
	return p
}

func TestPunchParsesMappingLine(t *testing.T) {
	testlog.Start(t)

	proc := fakeproc.New(helperBanner)
	starter := &fakeproc.Starter{Procs: []*fakeproc.Proc{proc}}
	p := newTestPuncher(t, testConfig(), starter)

	hole, err := p.Punch(context.Background(), endpoint.PortSpec{Name: "server_port", Port: 7000})
	if err != nil {
		t.Fatalf("punch: %v", err)
	}
	want := endpoint.Mapping{LocalPort: 7000, PublicIP: "203.0.113.9", PublicPort: 12345}
	if hole.Mapping != want {
		t.Fatalf("unexpected mapping: %+v", hole.Mapping)
	}
	if !hole.Alive() {
		t.Fatalf("expected helper alive after punch")
	}
	if got := starter.Cmds[0]; got[len(got)-2] != "-b" || got[len(got)-1] != "7000" {
		t.Fatalf("expected -b 7000 in command, got %v", got)
	}
}

func TestPunchEphemeralPortPassesZero(t *testing.T) {
	testlog.Start(t)

	starter := &fakeproc.Starter{Procs: []*fakeproc.Proc{fakeproc.New(helperBanner)}}
	p := newTestPuncher(t, testConfig(), starter)

	if _, err := p.Punch(context.Background(), endpoint.PortSpec{Name: "client_port1"}); err != nil {
		t.Fatalf("punch: %v", err)
	}
	got := starter.Cmds[0]
	if got[len(got)-1] != "0" {
		t.Fatalf("expected -b 0 for ephemeral bind, got %v", got)
	}
}

func TestPunchSurvivesChatterBurst(t *testing.T) {
	testlog.Start(t)

	// A verbose helper can emit far more lines than the reader buffers
	// before the mapping line shows up; only chatter may be shed.
	var out strings.Builder
	for i := 0; i < 500; i++ {
		out.WriteString("checking NAT type...\n")
	}
	out.WriteString("tcp://192.168.1.5:7000 <--Natter--> tcp://203.0.113.9:12345\n")

	cfg := testConfig()
	cfg.MaxAttempts = 1
	starter := &fakeproc.Starter{Procs: []*fakeproc.Proc{fakeproc.New(out.String())}}
	p := newTestPuncher(t, cfg, starter)

	hole, err := p.Punch(context.Background(), endpoint.PortSpec{Name: "server_port", Port: 7000})
	if err != nil {
		t.Fatalf("punch: %v", err)
	}
	if hole.Mapping.PublicPort != 12345 {
		t.Fatalf("unexpected mapping: %+v", hole.Mapping)
	}
}

func TestPunchRetriesAfterHelperExit(t *testing.T) {
	testlog.Start(t)

	// First helper dies without a mapping, second one succeeds.
	starter := &fakeproc.Starter{Procs: []*fakeproc.Proc{
		fakeproc.New("ERROR: NAT type not supported\n"),
		fakeproc.New(helperBanner),
	}}
	p := newTestPuncher(t, testConfig(), starter)

	hole, err := p.Punch(context.Background(), endpoint.PortSpec{Name: "server_port", Port: 7000})
	if err != nil {
		t.Fatalf("punch: %v", err)
	}
	if hole.Mapping.PublicPort != 12345 {
		t.Fatalf("unexpected mapping: %+v", hole.Mapping)
	}
	if len(starter.Cmds) != 2 {
		t.Fatalf("expected 2 helper launches, got %d", len(starter.Cmds))
	}
}

func TestPunchExhaustsAttempts(t *testing.T) {
	testlog.Start(t)

	cfg := testConfig()
	cfg.MaxAttempts = 2
	starter := &fakeproc.Starter{Procs: []*fakeproc.Proc{
		fakeproc.New("no luck\n"),
		fakeproc.New("still no luck\n"),
	}}
	p := newTestPuncher(t, cfg, starter)

	_, err := p.Punch(context.Background(), endpoint.PortSpec{Name: "server_port", Port: 7000})
	if !errors.Is(err, ErrHelperExited) {
		t.Fatalf("expected ErrHelperExited, got %v", err)
	}
}

func TestPunchTimesOutOnSilentHelper(t *testing.T) {
	testlog.Start(t)

	pr, pw := io.Pipe()
	defer pw.Close()
	cfg := testConfig()
	cfg.PunchTimeout = 50 * time.Millisecond
	cfg.MaxAttempts = 1
	proc := fakeproc.NewStream(pr)
	p := newTestPuncher(t, cfg, &fakeproc.Starter{Procs: []*fakeproc.Proc{proc}})

	_, err := p.Punch(context.Background(), endpoint.PortSpec{Name: "server_port", Port: 7000})
	if !errors.Is(err, ErrPunchTimeout) {
		t.Fatalf("expected ErrPunchTimeout, got %v", err)
	}
	if proc.StopCalls == 0 {
		t.Fatalf("expected helper to be stopped on timeout")
	}
}

func TestPunchHonorsContextCancel(t *testing.T) {
	testlog.Start(t)

	pr, pw := io.Pipe()
	defer pw.Close()
	cfg := testConfig()
	cfg.MaxAttempts = 1
	p := newTestPuncher(t, cfg, &fakeproc.Starter{Procs: []*fakeproc.Proc{fakeproc.NewStream(pr)}})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	_, err := p.Punch(ctx, endpoint.PortSpec{Name: "server_port", Port: 7000})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestPunchAllTearsDownOnFailure(t *testing.T) {
	testlog.Start(t)

	cfg := testConfig()
	cfg.MaxAttempts = 1
	first := fakeproc.New(helperBanner)
	starter := &fakeproc.Starter{Procs: []*fakeproc.Proc{
		first,
		fakeproc.New("helper crashed\n"),
	}}
	p := newTestPuncher(t, cfg, starter)

	specs := []endpoint.PortSpec{
		{Name: "server_port", Port: 7000},
		{Name: "client_port1", Port: 7001},
	}
	if _, err := p.PunchAll(context.Background(), specs); err == nil {
		t.Fatalf("expected PunchAll failure")
	}
	if first.Running() {
		t.Fatalf("expected first hole to be torn down after partial failure")
	}
}

func TestSessionLifecycle(t *testing.T) {
	testlog.Start(t)

	srvProc := fakeproc.New(helperBanner)
	cliProc := fakeproc.New("tcp://192.168.1.5:7001 <--Natter--> tcp://203.0.113.9:12346\n")
	starter := &fakeproc.Starter{Procs: []*fakeproc.Proc{srvProc, cliProc}}
	p := newTestPuncher(t, testConfig(), starter)

	sess, err := p.PunchAll(context.Background(), []endpoint.PortSpec{
		{Name: "server_port", Port: 7000},
		{Name: "client_port1", Port: 7001},
	})
	if err != nil {
		t.Fatalf("punch all: %v", err)
	}
	if !sess.Alive() {
		t.Fatalf("expected live session")
	}
	if ip := sess.PublicIP(); ip != "203.0.113.9" {
		t.Fatalf("unexpected public ip: %q", ip)
	}
	pm := sess.PortMap()
	if pm["client_port1"].LocalPort != 7001 || pm["client_port1"].PublicPort != 12346 {
		t.Fatalf("unexpected client mapping: %+v", pm["client_port1"])
	}

	// Helper exit (mapping changed) flips liveness.
	cliProc.Exit()
	if sess.Alive() {
		t.Fatalf("expected dead session after helper exit")
	}

	sess.StopAll(100 * time.Millisecond)
	if srvProc.Running() {
		t.Fatalf("expected all helpers stopped")
	}
}
