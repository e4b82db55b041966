package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/danmuck/punchctl/internal/frp"
	"github.com/danmuck/punchctl/internal/server"
)

// Environment overrides; these win over the config file.
const (
	envDomain        = "STUN_DOMAIN"
	envAPIToken      = "CLOUDFLARE_API_TOKEN"
	envCheckInterval = "STUN_CHECK_INTERVAL"
	envAuthToken     = "FRP_AUTH_TOKEN"
)

type fileConfig struct {
	Domain        string   `toml:"domain"`
	APIToken      string   `toml:"api_token"`
	CheckInterval string   `toml:"check_interval"`
	PortMap       string   `toml:"port_map"`
	FRPDir        string   `toml:"frp_dir"`
	FRPSBin       string   `toml:"frps_bin"`
	FRPSConf      string   `toml:"frps_conf"`
	AuthToken     string   `toml:"auth_token"`
	AdminAddr     string   `toml:"admin_addr"`
	ProbeServer   string   `toml:"probe_server"`
	NatterCommand []string `toml:"natter_command"`
	PunchTimeout  string   `toml:"punch_timeout"`
	MaxAttempts   int      `toml:"max_punch_attempts"`
}

func loadServiceConfig(path string) (server.Config, error) {
	cfg := server.DefaultConfig()

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		// No file; environment alone can carry a full config.
	case err != nil:
		return server.Config{}, fmt.Errorf("load punchsrv config: %w", err)
	default:
		if meta.IsDefined("domain") {
			cfg.Domain = strings.TrimSpace(raw.Domain)
		}
		if meta.IsDefined("api_token") {
			cfg.APIToken = strings.TrimSpace(raw.APIToken)
		}
		if meta.IsDefined("check_interval") {
			d, err := parseInterval(raw.CheckInterval)
			if err != nil {
				return server.Config{}, fmt.Errorf("parse check_interval: %w", err)
			}
			cfg.CheckInterval = d
		}
		if meta.IsDefined("port_map") {
			cfg.PortMapPath = strings.TrimSpace(raw.PortMap)
		}
		if meta.IsDefined("frp_dir") {
			cfg.FRPSBin, cfg.FRPSConf = frp.DefaultPaths(strings.TrimSpace(raw.FRPDir), "frps")
		}
		if meta.IsDefined("frps_bin") {
			cfg.FRPSBin = strings.TrimSpace(raw.FRPSBin)
		}
		if meta.IsDefined("frps_conf") {
			cfg.FRPSConf = strings.TrimSpace(raw.FRPSConf)
		}
		if meta.IsDefined("auth_token") {
			cfg.AuthToken = strings.TrimSpace(raw.AuthToken)
		}
		if meta.IsDefined("admin_addr") {
			cfg.AdminAddr = strings.TrimSpace(raw.AdminAddr)
		}
		if meta.IsDefined("probe_server") {
			cfg.ProbeServer = strings.TrimSpace(raw.ProbeServer)
		}
		if meta.IsDefined("natter_command") {
			cfg.Natter.Command = raw.NatterCommand
		}
		if meta.IsDefined("punch_timeout") {
			d, err := parseInterval(raw.PunchTimeout)
			if err != nil {
				return server.Config{}, fmt.Errorf("parse punch_timeout: %w", err)
			}
			cfg.Natter.PunchTimeout = d
		}
		if meta.IsDefined("max_punch_attempts") {
			cfg.Natter.MaxAttempts = raw.MaxAttempts
		}
	}

	if err := applyEnvOverrides(&cfg); err != nil {
		return server.Config{}, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *server.Config) error {
	if v := strings.TrimSpace(os.Getenv(envDomain)); v != "" {
		cfg.Domain = v
	}
	if v := strings.TrimSpace(os.Getenv(envAPIToken)); v != "" {
		cfg.APIToken = v
	}
	if v := strings.TrimSpace(os.Getenv(envCheckInterval)); v != "" {
		d, err := parseInterval(v)
		if err != nil {
			return fmt.Errorf("parse %s: %w", envCheckInterval, err)
		}
		cfg.CheckInterval = d
	}
	if v := strings.TrimSpace(os.Getenv(envAuthToken)); v != "" {
		cfg.AuthToken = v
	}
	return nil
}

// parseInterval accepts a Go duration string or a bare number of seconds.
func parseInterval(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if secs, err := strconv.Atoi(s); err == nil {
		if secs <= 0 {
			return 0, fmt.Errorf("interval must be positive, got %d", secs)
		}
		return time.Duration(secs) * time.Second, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return 0, fmt.Errorf("interval must be positive, got %v", d)
	}
	return d, nil
}
