package client

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/danmuck/punchctl/internal/admin"
	"github.com/danmuck/punchctl/internal/dnspoll"
	"github.com/danmuck/punchctl/internal/endpoint"
	"github.com/danmuck/punchctl/internal/frp"
	"github.com/danmuck/punchctl/internal/observability"
)

var (
	ErrDomainRequired       = errors.New("client: domain is required")
	ErrInvalidClientNumber  = errors.New("client: client number must be at least 1")
	ErrInvalidCheckInterval = errors.New("client: check interval must be positive")
)

// Config carries everything the client role needs to run.
type Config struct {
	Domain         string
	ClientNumber   int
	CheckInterval  time.Duration
	FRPCBin        string
	FRPCConf       string
	AuthToken      string
	ResolverAddr   string
	ResolveTimeout time.Duration
	AdminAddr      string
}

func DefaultConfig() Config {
	bin, conf := frp.DefaultPaths(".", "frpc")
	return Config{
		ClientNumber:   1,
		CheckInterval:  5 * time.Minute,
		FRPCBin:        bin,
		FRPCConf:       conf,
		ResolveTimeout: 5 * time.Second,
	}
}

func (c Config) validate() error {
	if c.Domain == "" {
		return ErrDomainRequired
	}
	if c.ClientNumber < 1 {
		return ErrInvalidClientNumber
	}
	if c.CheckInterval <= 0 {
		return ErrInvalidCheckInterval
	}
	return nil
}

type txtResolver interface {
	LookupTXT(ctx context.Context, domain string) ([]string, error)
}

type supervisor interface {
	Start() error
	Restart() error
	Stop() error
	Running() bool
}

type deps struct {
	resolver txtResolver
	sup      supervisor
	clk      clock.Clock
}

// Service polls the TXT record and keeps frpc pointed at the punched
// server address.
type Service struct {
	cfg  Config
	deps deps
	log  zerolog.Logger

	mu       sync.Mutex
	lastView endpoint.ClientView
	haveView bool
}

func NewService(cfg Config) (*Service, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	logger := log.With().Str("service", "punchcli").Logger()

	sup, err := frp.NewSupervisor("frpc", cfg.FRPCBin, cfg.FRPCConf, nil, logger)
	if err != nil {
		return nil, err
	}

	d := deps{
		resolver: dnspoll.NewResolver(cfg.ResolverAddr, cfg.ResolveTimeout),
		sup:      sup,
		clk:      clock.New(),
	}
	return newService(cfg, d, logger), nil
}

func newService(cfg Config, d deps, logger zerolog.Logger) *Service {
	if d.clk == nil {
		d.clk = clock.New()
	}
	return &Service{cfg: cfg, deps: d, log: logger}
}

// Run blocks until the context is canceled or a signal arrives.
func (s *Service) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	observability.RegisterMetrics()

	// Best effort initial sync; a stale config still lets frpc start and
	// the poll loop converges it later.
	if err := s.syncOnce(ctx, false); err != nil {
		s.log.Warn().Err(err).Msg("initial record sync failed")
	}
	if err := s.deps.sup.Start(); err != nil {
		return fmt.Errorf("client: start frpc: %w", err)
	}
	defer func() {
		if err := s.deps.sup.Stop(); err != nil {
			s.log.Error().Err(err).Msg("stop frpc")
		}
	}()

	return s.serve(ctx)
}

func (s *Service) serve(ctx context.Context) error {
	ticker := s.deps.clk.Ticker(s.cfg.CheckInterval)
	defer ticker.Stop()

	errc := make(chan error, 1)
	if s.cfg.AdminAddr != "" {
		adm := admin.New(s.cfg.AdminAddr, "punchcli", s.Status, s.log)
		go func() {
			if err := adm.Run(ctx); err != nil {
				errc <- err
			}
		}()
	}

	for {
		select {
		case <-ctx.Done():
			s.log.Info().Msg("shutting down")
			return nil
		case err := <-errc:
			return err
		case <-ticker.C:
			if err := s.syncOnce(ctx, true); err != nil {
				s.log.Warn().Err(err).Msg("record sync failed, will retry")
			}
		}
	}
}

// syncOnce resolves the published record, rewrites the frpc config when the
// target moved, and restarts frpc on an actual change. A dead frpc is
// brought back either way.
func (s *Service) syncOnce(ctx context.Context, restart bool) error {
	view, err := s.resolve(ctx)
	if err != nil {
		observability.RecordPollCycle("error")
		return err
	}

	changed, err := frp.RewriteClientConfig(s.cfg.FRPCConf, frp.ClientRewrite{
		ServerAddr: s.cfg.Domain,
		ServerPort: view.ServerPort,
		RemotePort: view.RemotePort,
		AuthToken:  s.cfg.AuthToken,
	})
	if err != nil {
		observability.RecordPollCycle("error")
		return err
	}

	s.mu.Lock()
	s.lastView = view
	s.haveView = true
	s.mu.Unlock()

	if !changed {
		observability.RecordPollCycle("unchanged")
		if restart && !s.deps.sup.Running() {
			s.log.Warn().Msg("frpc died, bringing it back")
			if err := s.deps.sup.Start(); err != nil {
				return fmt.Errorf("client: start frpc: %w", err)
			}
		}
		return nil
	}
	observability.RecordPollCycle("changed")
	s.log.Info().
		Int("server_port", view.ServerPort).
		Int("remote_port", view.RemotePort).
		Int("public_port", view.PublicPort).
		Msg("tunnel target moved")

	// Restart copes with a dead process too: stop if running, then start.
	if restart {
		if err := s.deps.sup.Restart(); err != nil {
			return fmt.Errorf("client: restart frpc: %w", err)
		}
	}
	return nil
}

// resolve fetches the TXT record set and returns this client's slice of the
// first record that decodes.
func (s *Service) resolve(ctx context.Context) (endpoint.ClientView, error) {
	txts, err := s.deps.resolver.LookupTXT(ctx, s.cfg.Domain)
	if err != nil {
		return endpoint.ClientView{}, err
	}

	var lastErr error
	for _, txt := range txts {
		rec, err := endpoint.Decode(txt)
		if err != nil {
			lastErr = err
			continue
		}
		view, err := rec.ClientView(s.cfg.ClientNumber)
		if err != nil {
			lastErr = err
			continue
		}
		return view, nil
	}
	if lastErr == nil {
		lastErr = endpoint.ErrEmptyRecord
	}
	return endpoint.ClientView{}, fmt.Errorf("client: no usable record for %s: %w", s.cfg.Domain, lastErr)
}

// Status snapshots service state for the admin endpoint.
func (s *Service) Status() map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	status := map[string]any{
		"domain":        s.cfg.Domain,
		"client_number": s.cfg.ClientNumber,
		"frpc_running":  s.deps.sup.Running(),
	}
	if s.haveView {
		status["server_port"] = s.lastView.ServerPort
		status["remote_port"] = s.lastView.RemotePort
		status["public_port"] = s.lastView.PublicPort
	}
	return status
}
