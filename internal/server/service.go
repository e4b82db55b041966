package server

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

	"github.com/danmuck/punchctl/internal/addrwatch"
	"github.com/danmuck/punchctl/internal/admin"
	"github.com/danmuck/punchctl/internal/cloudflare"
	"github.com/danmuck/punchctl/internal/endpoint"
	"github.com/danmuck/punchctl/internal/frp"
	"github.com/danmuck/punchctl/internal/natter"
	"github.com/danmuck/punchctl/internal/observability"
)

var (
	ErrDomainRequired       = errors.New("server: domain is required")
	ErrInvalidCheckInterval = errors.New("server: check interval must be positive")
)

// Config carries everything the server role needs to run.
type Config struct {
	Domain        string
	APIToken      string
	CheckInterval time.Duration
	PortMapPath   string
	FRPSBin       string
	FRPSConf      string
	AuthToken     string
	AdminAddr     string
	ProbeServer   string
	Natter        natter.Config
}

func DefaultConfig() Config {
	bin, conf := frp.DefaultPaths(".", "frps")
	return Config{
		CheckInterval: time.Hour,
		PortMapPath:   "ports.toml",
		FRPSBin:       bin,
		FRPSConf:      conf,
		ProbeServer:   "stun.l.google.com:19302",
		Natter:        natter.DefaultConfig(),
	}
}

func (c Config) validate() error {
	if c.Domain == "" {
		return ErrDomainRequired
	}
	if c.CheckInterval <= 0 {
		return ErrInvalidCheckInterval
	}
	return nil
}

// Seams over the concrete collaborators so the control loop stays testable.
type punchSession interface {
	Alive() bool
	StopAll(grace time.Duration)
	PortMap() endpoint.PortMap
	PublicIP() string
}

type dnsPublisher interface {
	EnsureA(ctx context.Context, domain, ip string) error
	EnsureTXT(ctx context.Context, domain, content string) error
}

type supervisor interface {
	Start() error
	Restart() error
	Stop() error
	Running() bool
}

type addrProbe interface {
	PublicAddr() (string, int, error)
}

type deps struct {
	punch func(ctx context.Context, specs []endpoint.PortSpec) (punchSession, error)
	dns   dnsPublisher
	sup   supervisor
	probe addrProbe
	clk   clock.Clock
}

// Service drives the serve loop: punch, rewrite frps, publish, watch.
type Service struct {
	cfg  Config
	deps deps
	log  zerolog.Logger

	mu          sync.Mutex
	sess        punchSession
	published   string
	publishedIP string
	needPublish bool
	healthy     bool
}

func NewService(cfg Config) (*Service, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	logger := log.With().Str("service", "punchsrv").Logger()

	cf, err := cloudflare.NewClient(cloudflare.Config{APIToken: cfg.APIToken}, logger)
	if err != nil {
		return nil, err
	}
	sup, err := frp.NewSupervisor("frps", cfg.FRPSBin, cfg.FRPSConf, nil, logger)
	if err != nil {
		return nil, err
	}
	probe, err := addrwatch.New(cfg.ProbeServer)
	if err != nil {
		return nil, err
	}
	puncher, err := natter.NewPuncher(cfg.Natter, nil, nil, logger)
	if err != nil {
		return nil, err
	}

	d := deps{
		punch: func(ctx context.Context, specs []endpoint.PortSpec) (punchSession, error) {
			return puncher.PunchAll(ctx, specs)
		},
		dns:   cf,
		sup:   sup,
		probe: probe,
		clk:   clock.New(),
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

	if err := s.bootstrap(ctx); err != nil {
		return fmt.Errorf("server: bootstrap: %w", err)
	}
	defer s.teardown()

	return s.serve(ctx)
}

// bootstrap punches every spec, points frps at the punched server port,
// and publishes the records. Publish failures are remembered, not fatal;
// the next tick retries them.
func (s *Service) bootstrap(ctx context.Context) error {
	specs, err := endpoint.LoadSpecs(s.cfg.PortMapPath)
	if err != nil {
		return err
	}

	sess, err := s.deps.punch(ctx, specs)
	if err != nil {
		return err
	}

	pm := sess.PortMap()
	srv, ok := pm[endpoint.ServerPortName]
	if !ok {
		sess.StopAll(s.cfg.Natter.StopGrace)
		return endpoint.ErrNoServerPort
	}

	changed, err := frp.RewriteServerConfig(s.cfg.FRPSConf, frp.ServerRewrite{
		BindPort:  srv.LocalPort,
		AuthToken: s.cfg.AuthToken,
	})
	if err != nil {
		sess.StopAll(s.cfg.Natter.StopGrace)
		return err
	}
	if s.deps.sup.Running() {
		if changed {
			if err := s.deps.sup.Restart(); err != nil {
				sess.StopAll(s.cfg.Natter.StopGrace)
				return err
			}
		}
	} else if err := s.deps.sup.Start(); err != nil {
		sess.StopAll(s.cfg.Natter.StopGrace)
		return err
	}

	record, err := endpoint.Encode(pm)
	if err != nil {
		sess.StopAll(s.cfg.Natter.StopGrace)
		return err
	}

	publishErr := s.publish(ctx, srv.PublicIP, record)

	s.mu.Lock()
	s.sess = sess
	s.published = record
	s.publishedIP = srv.PublicIP
	s.needPublish = publishErr != nil
	s.healthy = true
	s.mu.Unlock()

	s.log.Info().
		Str("public_ip", srv.PublicIP).
		Int("server_port", srv.PublicPort).
		Int("holes", len(pm)).
		Msg("session established")
	return nil
}

func (s *Service) publish(ctx context.Context, ip, record string) error {
	if err := s.deps.dns.EnsureA(ctx, s.cfg.Domain, ip); err != nil {
		observability.RecordDNSPublish("A", err)
		s.log.Error().Err(err).Msg("publish A record")
		return err
	}
	observability.RecordDNSPublish("A", nil)

	if err := s.deps.dns.EnsureTXT(ctx, s.cfg.Domain, record); err != nil {
		observability.RecordDNSPublish("TXT", err)
		s.log.Error().Err(err).Msg("publish TXT record")
		return err
	}
	observability.RecordDNSPublish("TXT", nil)
	return nil
}

func (s *Service) serve(ctx context.Context) error {
	ticker := s.deps.clk.Ticker(s.cfg.CheckInterval)
	defer ticker.Stop()

	errc := make(chan error, 1)
	if s.cfg.AdminAddr != "" {
		adm := admin.New(s.cfg.AdminAddr, "punchsrv", s.Status, s.log)
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
			s.checkOnce(ctx)
		}
	}
}

// checkOnce is one health pass: dead helpers or a drifted public address
// force a full re-punch; a remembered publish failure gets retried.
func (s *Service) checkOnce(ctx context.Context) {
	s.mu.Lock()
	sess := s.sess
	record := s.published
	ip := s.publishedIP
	retry := s.needPublish
	s.mu.Unlock()

	healthy := sess != nil && sess.Alive()

	if healthy && s.deps.probe != nil {
		probed, _, err := s.deps.probe.PublicAddr()
		if err != nil {
			s.log.Warn().Err(err).Msg("address probe failed")
		} else if probed != ip {
			s.log.Warn().
				Str("published", ip).
				Str("probed", probed).
				Msg("public address drifted")
			healthy = false
		}
	}

	if healthy {
		s.mu.Lock()
		s.healthy = true
		s.mu.Unlock()
		if retry {
			err := s.publish(ctx, ip, record)
			s.mu.Lock()
			s.needPublish = err != nil
			s.mu.Unlock()
		}
		return
	}

	s.log.Warn().Msg("session unhealthy, re-punching")
	s.mu.Lock()
	s.healthy = false
	s.mu.Unlock()
	if sess != nil {
		sess.StopAll(s.cfg.Natter.StopGrace)
	}
	if err := s.bootstrap(ctx); err != nil {
		s.log.Error().Err(err).Msg("re-punch failed, will retry next tick")
	}
}

func (s *Service) teardown() {
	s.mu.Lock()
	sess := s.sess
	s.sess = nil
	s.mu.Unlock()

	if sess != nil {
		sess.StopAll(s.cfg.Natter.StopGrace)
	}
	if err := s.deps.sup.Stop(); err != nil {
		s.log.Error().Err(err).Msg("stop frps")
	}
}

// Status snapshots service state for the admin endpoint.
func (s *Service) Status() map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return map[string]any{
		"healthy":      s.healthy,
		"public_ip":    s.publishedIP,
		"record":       s.published,
		"need_publish": s.needPublish,
		"domain":       s.cfg.Domain,
		"frps_running": s.deps.sup.Running(),
	}
}
