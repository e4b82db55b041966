package endpoint

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"sort"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

// ServerPortName is the required port-map entry for the tunnel server itself.
const ServerPortName = "server_port"

// ClientPortPrefix is the required prefix for every non-server entry.
const ClientPortPrefix = "client_"

// Non-server entries must be addressable by client number, so the name
// has to carry one: client_port1, client_port2, ...
var clientPortName = regexp.MustCompile(`^client_port[1-9][0-9]*$`)

var (
	ErrNoServerPort    = errors.New("endpoint: port map missing server_port")
	ErrInvalidPortName = errors.New("endpoint: invalid port name")
	ErrInvalidPort     = errors.New("endpoint: port out of range")
)

// PortSpec is one named hole-punch request from the port-map file.
// Port 0 requests an ephemeral local bind.
type PortSpec struct {
	Name string
	Port int
}

// Mapping is the punched result for one named port.
type Mapping struct {
	LocalPort  int
	PublicIP   string
	PublicPort int
}

// PortMap is the full punched set keyed by spec name.
type PortMap map[string]Mapping

// LoadSpecs reads a TOML port-map file of name = port pairs.
// The server_port entry is mandatory; every other key must be named
// client_port<N> so it can be addressed by client number.
func LoadSpecs(path string) ([]PortSpec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("endpoint: port map load failed (%s): %w", path, err)
	}
	var raw map[string]int
	if err := toml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("endpoint: port map parse failed (%s): %w", path, err)
	}

	specs := make([]PortSpec, 0, len(raw))
	for name, port := range raw {
		specs = append(specs, PortSpec{Name: name, Port: port})
	}
	// server_port first, clients in stable order after it.
	sort.Slice(specs, func(i, j int) bool {
		if specs[i].Name == ServerPortName {
			return specs[j].Name != ServerPortName
		}
		if specs[j].Name == ServerPortName {
			return false
		}
		return specs[i].Name < specs[j].Name
	})
	if err := ValidateSpecs(specs); err != nil {
		return nil, err
	}
	return specs, nil
}

func ValidateSpecs(specs []PortSpec) error {
	hasServer := false
	for _, spec := range specs {
		name := strings.TrimSpace(spec.Name)
		if name == "" {
			return fmt.Errorf("%w: empty name", ErrInvalidPortName)
		}
		if spec.Port < 0 || spec.Port > 65535 {
			return fmt.Errorf("%w: %s=%d", ErrInvalidPort, name, spec.Port)
		}
		if name == ServerPortName {
			hasServer = true
			continue
		}
		if !clientPortName.MatchString(name) {
			return fmt.Errorf("%w: %q must look like client_port<N>", ErrInvalidPortName, name)
		}
	}
	if !hasServer {
		return ErrNoServerPort
	}
	return nil
}

// PublicIP returns the server entry's punched public address.
func (m PortMap) PublicIP() (string, error) {
	srv, ok := m[ServerPortName]
	if !ok {
		return "", ErrNoServerPort
	}
	return srv.PublicIP, nil
}
