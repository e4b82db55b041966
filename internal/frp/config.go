package frp

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/BurntSushi/toml"
)

var ErrNoProxies = errors.New("frp: client config has no proxies")

// ServerRewrite is the set of frps.toml keys the server role owns.
type ServerRewrite struct {
	BindPort int
	// AuthToken is skipped when empty so a hand-maintained token survives.
	AuthToken string
}

// RewriteServerConfig points frps at the punched local port. It reports
// whether the file changed; untouched keys ride along unmodified.
func RewriteServerConfig(path string, rw ServerRewrite) (bool, error) {
	conf := map[string]any{}
	if _, err := toml.DecodeFile(path, &conf); err != nil {
		return false, fmt.Errorf("frp: load server config (%s): %w", path, err)
	}

	changed := setInt(conf, "bindPort", rw.BindPort)
	if rw.AuthToken != "" {
		changed = setAuthToken(conf, rw.AuthToken) || changed
	}
	if !changed {
		return false, nil
	}
	if err := writeConfig(path, conf); err != nil {
		return false, err
	}
	return true, nil
}

// ClientRewrite is the set of frpc.toml keys the client role owns.
type ClientRewrite struct {
	ServerAddr string
	ServerPort int
	// RemotePort lands on the first proxy; the record publishes the
	// server-side bind port for this client.
	RemotePort int
	AuthToken  string
}

// RewriteClientConfig retargets frpc at the currently published endpoint.
func RewriteClientConfig(path string, rw ClientRewrite) (bool, error) {
	conf := map[string]any{}
	if _, err := toml.DecodeFile(path, &conf); err != nil {
		return false, fmt.Errorf("frp: load client config (%s): %w", path, err)
	}

	proxies := tableSlice(conf["proxies"])
	if len(proxies) == 0 {
		return false, fmt.Errorf("%w (%s)", ErrNoProxies, path)
	}

	changed := false
	if rw.ServerAddr != "" {
		changed = setString(conf, "serverAddr", rw.ServerAddr) || changed
	}
	changed = setInt(conf, "serverPort", rw.ServerPort) || changed
	changed = setInt(proxies[0], "remotePort", rw.RemotePort) || changed
	conf["proxies"] = proxies
	if rw.AuthToken != "" {
		changed = setAuthToken(conf, rw.AuthToken) || changed
	}
	if !changed {
		return false, nil
	}
	if err := writeConfig(path, conf); err != nil {
		return false, err
	}
	return true, nil
}

// DefaultPaths returns the conventional per-OS layout the tunnel binaries
// ship in: <base>/Linux/<role> or <base>/Windows/<role>.exe, config beside
// the binary.
func DefaultPaths(baseDir, role string) (bin, conf string) {
	osDir, binName := "Linux", role
	if runtime.GOOS == "windows" {
		osDir, binName = "Windows", role+".exe"
	}
	dir := filepath.Join(baseDir, osDir)
	return filepath.Join(dir, binName), filepath.Join(dir, role+".toml")
}

func setInt(m map[string]any, key string, v int) bool {
	if intValue(m[key]) == v {
		return false
	}
	m[key] = int64(v)
	return true
}

func setString(m map[string]any, key, v string) bool {
	if s, _ := m[key].(string); s == v {
		return false
	}
	m[key] = v
	return true
}

func setAuthToken(conf map[string]any, token string) bool {
	auth, _ := conf["auth"].(map[string]any)
	if auth == nil {
		auth = map[string]any{}
	}
	if s, _ := auth["token"].(string); s == token {
		return false
	}
	auth["token"] = token
	conf["auth"] = auth
	return true
}

func intValue(v any) int {
	switch n := v.(type) {
	case int64:
		return int(n)
	case int:
		return n
	case float64:
		return int(n)
	default:
		return 0
	}
}

func tableSlice(v any) []map[string]any {
	switch s := v.(type) {
	case []map[string]any:
		return s
	case []any:
		out := make([]map[string]any, 0, len(s))
		for _, item := range s {
			if m, ok := item.(map[string]any); ok {
				out = append(out, m)
			}
		}
		return out
	default:
		return nil
	}
}

func writeConfig(path string, conf map[string]any) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("frp: write config (%s): %w", path, err)
	}
	defer f.Close()
	if err := toml.NewEncoder(f).Encode(conf); err != nil {
		return fmt.Errorf("frp: encode config (%s): %w", path, err)
	}
	return nil
}
