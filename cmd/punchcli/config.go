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

	"github.com/danmuck/punchctl/internal/client"
	"github.com/danmuck/punchctl/internal/frp"
)

// Environment overrides; these win over the config file.
const (
	envDomain        = "STUN_DOMAIN"
	envCheckInterval = "STUN_CHECK_INTERVAL"
	envAuthToken     = "FRP_AUTH_TOKEN"
	envClientNumber  = "STUN_CLIENT_NUMBER"
)

type fileConfig struct {
	Domain         string `toml:"domain"`
	ClientNumber   int    `toml:"client_number"`
	CheckInterval  string `toml:"check_interval"`
	FRPDir         string `toml:"frp_dir"`
	FRPCBin        string `toml:"frpc_bin"`
	FRPCConf       string `toml:"frpc_conf"`
	AuthToken      string `toml:"auth_token"`
	ResolverAddr   string `toml:"resolver_addr"`
	ResolveTimeout string `toml:"resolve_timeout"`
	AdminAddr      string `toml:"admin_addr"`
}

func loadServiceConfig(path string) (client.Config, error) {
	cfg := client.DefaultConfig()

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		// No file; environment alone can carry a full config.
	case err != nil:
		return client.Config{}, fmt.Errorf("load punchcli config: %w", err)
	default:
		if meta.IsDefined("domain") {
			cfg.Domain = strings.TrimSpace(raw.Domain)
		}
		if meta.IsDefined("client_number") {
			cfg.ClientNumber = raw.ClientNumber
		}
		if meta.IsDefined("check_interval") {
			d, err := parseInterval(raw.CheckInterval)
			if err != nil {
				return client.Config{}, fmt.Errorf("parse check_interval: %w", err)
			}
			cfg.CheckInterval = d
		}
		if meta.IsDefined("frp_dir") {
			cfg.FRPCBin, cfg.FRPCConf = frp.DefaultPaths(strings.TrimSpace(raw.FRPDir), "frpc")
		}
		if meta.IsDefined("frpc_bin") {
			cfg.FRPCBin = strings.TrimSpace(raw.FRPCBin)
		}
		if meta.IsDefined("frpc_conf") {
			cfg.FRPCConf = strings.TrimSpace(raw.FRPCConf)
		}
		if meta.IsDefined("auth_token") {
			cfg.AuthToken = strings.TrimSpace(raw.AuthToken)
		}
		if meta.IsDefined("resolver_addr") {
			cfg.ResolverAddr = strings.TrimSpace(raw.ResolverAddr)
		}
		if meta.IsDefined("resolve_timeout") {
			d, err := parseInterval(raw.ResolveTimeout)
			if err != nil {
				return client.Config{}, fmt.Errorf("parse resolve_timeout: %w", err)
			}
			cfg.ResolveTimeout = d
		}
		if meta.IsDefined("admin_addr") {
			cfg.AdminAddr = strings.TrimSpace(raw.AdminAddr)
		}
	}

	if err := applyEnvOverrides(&cfg); err != nil {
		return client.Config{}, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *client.Config) error {
	if v := strings.TrimSpace(os.Getenv(envDomain)); v != "" {
		cfg.Domain = v
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
	if v := strings.TrimSpace(os.Getenv(envClientNumber)); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("parse %s: %w", envClientNumber, err)
		}
		cfg.ClientNumber = n
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
