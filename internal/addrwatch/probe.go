// Package addrwatch observes the host's reflexive address with a single
// STUN binding round-trip. It never punches anything; the NAT helper owns
// that. The server role uses it to notice a WAN address change while the
// helpers are still alive.
package addrwatch

import (
	"errors"
	"fmt"
	"strings"

	"github.com/pion/stun"
)

var ErrServerRequired = errors.New("addrwatch: stun server address required")

// Probe asks one STUN server for the mapped address.
type Probe struct {
	server string
}

func New(server string) (*Probe, error) {
	if strings.TrimSpace(server) == "" {
		return nil, ErrServerRequired
	}
	return &Probe{server: server}, nil
}

// PublicAddr performs one binding request and returns the reflexive
// (ip, port) the server saw.
func (p *Probe) PublicAddr() (string, int, error) {
	c, err := stun.Dial("udp4", p.server)
	if err != nil {
		return "", 0, fmt.Errorf("addrwatch: dial %s: %w", p.server, err)
	}
	defer c.Close()

	var (
		ip    string
		port  int
		cbErr error
	)
	req := stun.MustBuild(stun.TransactionID, stun.BindingRequest)
	if err := c.Do(req, func(e stun.Event) {
		if e.Error != nil {
			cbErr = e.Error
			return
		}
		var xorAddr stun.XORMappedAddress
		if getErr := xorAddr.GetFrom(e.Message); getErr != nil {
			cbErr = getErr
			return
		}
		ip = xorAddr.IP.String()
		port = xorAddr.Port
	}); err != nil {
		return "", 0, fmt.Errorf("addrwatch: binding request to %s: %w", p.server, err)
	}
	if cbErr != nil {
		return "", 0, fmt.Errorf("addrwatch: binding response from %s: %w", p.server, cbErr)
	}
	return ip, port, nil
}
