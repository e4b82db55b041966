package natter

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"math/rand"
	"regexp"
	"strconv"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"

	"github.com/danmuck/punchctl/internal/endpoint"
	"github.com/danmuck/punchctl/internal/observability"
	"github.com/danmuck/punchctl/internal/retry"
	"github.com/danmuck/punchctl/internal/tools"
)

var (
	ErrNoCommand    = errors.New("natter: helper command required")
	ErrHelperExited = errors.New("natter: helper exited before reporting a mapping")
	ErrPunchTimeout = errors.New("natter: timed out waiting for a mapping")
)

// The helper prints one line per established mapping:
//
//	tcp://192.168.1.5:7000 <--Natter--> tcp://203.0.113.9:12345
var mappingLine = regexp.MustCompile(`tcp://([0-9.]+):(\d+)\s+<--Natter-->\s+tcp://([0-9.]+):(\d+)`)

// Config tunes how the helper is invoked per port.
type Config struct {
	// Command is the helper invocation, e.g. ["python3", "Natter/natter.py"].
	// "-q -b <port>" is appended per punch.
	Command      []string
	PunchTimeout time.Duration
	MaxAttempts  int
	StopGrace    time.Duration
	Backoff      retry.BackoffConfig
}

func DefaultConfig() Config {
	return Config{
		Command:      []string{"python3", "Natter/natter.py"},
		PunchTimeout: 15 * time.Second,
		MaxAttempts:  3,
		StopGrace:    5 * time.Second,
		Backoff:      retry.DefaultBackoff(),
	}
}

// Puncher runs the helper once per configured port and hands back live holes.
type Puncher struct {
	cfg     Config
	starter tools.Starter
	clk     clock.Clock
	log     zerolog.Logger
	rng     *rand.Rand
}

func NewPuncher(cfg Config, starter tools.Starter, clk clock.Clock, logger zerolog.Logger) (*Puncher, error) {
	if len(cfg.Command) == 0 {
		return nil, ErrNoCommand
	}
	if cfg.PunchTimeout <= 0 {
		cfg.PunchTimeout = 15 * time.Second
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.StopGrace <= 0 {
		cfg.StopGrace = 5 * time.Second
	}
	if starter == nil {
		starter = tools.ExecStarter{}
	}
	if clk == nil {
		clk = clock.New()
	}
	return &Puncher{
		cfg:     cfg,
		starter: starter,
		clk:     clk,
		log:     logger,
		rng:     rand.New(rand.NewSource(time.Now().UnixNano())),
	}, nil
}

// Hole is one punched port with its live helper process.
type Hole struct {
	Name    string
	Mapping endpoint.Mapping
	proc    tools.Proc
}

func (h *Hole) Alive() bool {
	return h.proc.Running()
}

func (h *Hole) Stop(grace time.Duration) {
	_ = h.proc.Stop(grace)
}

// Punch runs the helper for one port spec, retrying with backoff.
func (p *Puncher) Punch(ctx context.Context, spec endpoint.PortSpec) (*Hole, error) {
	var lastErr error
	for attempt := 1; attempt <= p.cfg.MaxAttempts; attempt++ {
		if attempt > 1 {
			delay := retry.NextDelay(p.cfg.Backoff, attempt-1, p.rng)
			p.log.Warn().
				Str("port_name", spec.Name).
				Int("attempt", attempt).
				Dur("delay", delay).
				Msg("punch retry")
			timer := p.clk.Timer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return nil, ctx.Err()
			case <-timer.C:
			}
		}

		started := time.Now()
		hole, err := p.punchOnce(ctx, spec)
		observability.RecordPunchAttempt(spec.Name, time.Since(started), err)
		if err == nil {
			p.log.Info().
				Str("port_name", spec.Name).
				Int("local_port", hole.Mapping.LocalPort).
				Str("public_ip", hole.Mapping.PublicIP).
				Int("public_port", hole.Mapping.PublicPort).
				Msg("punched")
			return hole, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		p.log.Warn().Str("port_name", spec.Name).Int("attempt", attempt).Err(err).Msg("punch failed")
		lastErr = err
	}
	return nil, fmt.Errorf("natter: %s failed after %d attempts: %w", spec.Name, p.cfg.MaxAttempts, lastErr)
}

func (p *Puncher) punchOnce(ctx context.Context, spec endpoint.PortSpec) (*Hole, error) {
	args := append(append([]string{}, p.cfg.Command[1:]...), "-q", "-b", strconv.Itoa(spec.Port))
	proc, err := p.starter.StartPiped(p.cfg.Command[0], args...)
	if err != nil {
		return nil, fmt.Errorf("natter: start helper: %w", err)
	}

	lines := make(chan string, 64)
	done := make(chan struct{})
	defer close(done)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(proc.Output())
		for sc.Scan() {
			line := sc.Text()
			if !mappingLine.MatchString(line) {
				// Chatter may be dropped when backed up so the helper never
				// blocks on a full pipe. A mapping line never is.
				select {
				case lines <- line:
				default:
				}
				continue
			}
			select {
			case lines <- line:
			case <-done:
				return
			}
		}
	}()

	timer := p.clk.Timer(p.cfg.PunchTimeout)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			_ = proc.Stop(p.cfg.StopGrace)
			return nil, ctx.Err()
		case <-timer.C:
			_ = proc.Stop(p.cfg.StopGrace)
			return nil, fmt.Errorf("%w: %s after %s", ErrPunchTimeout, spec.Name, p.cfg.PunchTimeout)
		case line, ok := <-lines:
			if !ok {
				_ = proc.Stop(p.cfg.StopGrace)
				return nil, fmt.Errorf("%w: %s", ErrHelperExited, spec.Name)
			}
			p.log.Debug().Str("helper", spec.Name).Msg(line)
			mapping, ok := parseMappingLine(line)
			if !ok {
				continue
			}
			return &Hole{Name: spec.Name, Mapping: mapping, proc: proc}, nil
		}
	}
}

func parseMappingLine(line string) (endpoint.Mapping, bool) {
	match := mappingLine.FindStringSubmatch(line)
	if match == nil {
		return endpoint.Mapping{}, false
	}
	localPort, err := strconv.Atoi(match[2])
	if err != nil {
		return endpoint.Mapping{}, false
	}
	publicPort, err := strconv.Atoi(match[4])
	if err != nil {
		return endpoint.Mapping{}, false
	}
	return endpoint.Mapping{
		LocalPort:  localPort,
		PublicIP:   match[3],
		PublicPort: publicPort,
	}, true
}
