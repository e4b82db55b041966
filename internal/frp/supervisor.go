package frp

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/danmuck/punchctl/internal/observability"
	"github.com/danmuck/punchctl/internal/tools"
)

var (
	ErrBinaryRequired = errors.New("frp: binary path required")
	ErrConfigRequired = errors.New("frp: config path required")
)

// Supervisor owns one tunnel binary's lifecycle. The binary inherits the
// parent's stdio so its own logs pass through.
type Supervisor struct {
	role    string
	bin     string
	conf    string
	starter tools.Starter
	log     zerolog.Logger
	grace   time.Duration

	mu   sync.Mutex
	proc tools.Proc
}

func NewSupervisor(role, bin, conf string, starter tools.Starter, logger zerolog.Logger) (*Supervisor, error) {
	if strings.TrimSpace(bin) == "" {
		return nil, ErrBinaryRequired
	}
	if strings.TrimSpace(conf) == "" {
		return nil, ErrConfigRequired
	}
	if starter == nil {
		starter = tools.ExecStarter{}
	}
	return &Supervisor{
		role:    role,
		bin:     bin,
		conf:    conf,
		starter: starter,
		log:     logger,
		grace:   10 * time.Second,
	}, nil
}

// Start launches the binary unless it is already running.
func (s *Supervisor) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.proc != nil && s.proc.Running() {
		return nil
	}
	proc, err := s.starter.Start(s.bin, "-c", s.conf)
	if err != nil {
		return fmt.Errorf("frp: start %s: %w", s.role, err)
	}
	s.proc = proc
	observability.RecordFRPRestart(s.role)
	s.log.Info().Str("role", s.role).Int("pid", proc.Pid()).Msg("started")
	return nil
}

// Restart tears the binary down (kill after the grace period) and starts it
// again so a rewritten config takes effect.
func (s *Supervisor) Restart() error {
	s.mu.Lock()
	if s.proc != nil && s.proc.Running() {
		_ = s.proc.Stop(s.grace)
		s.log.Info().Str("role", s.role).Msg("stopped for restart")
	}
	s.proc = nil
	s.mu.Unlock()
	return s.Start()
}

func (s *Supervisor) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.proc == nil {
		return nil
	}
	if s.proc.Running() {
		_ = s.proc.Stop(s.grace)
		s.log.Info().Str("role", s.role).Msg("stopped")
	}
	s.proc = nil
	return nil
}

func (s *Supervisor) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.proc != nil && s.proc.Running()
}
