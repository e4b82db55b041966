package endpoint

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

var (
	ErrEmptyRecord    = errors.New("endpoint: empty TXT record")
	ErrClientNotFound = errors.New("endpoint: client entry not found in record")
)

// Record is a decoded TXT payload: raw key=value pairs with numeric values.
type Record map[string]int

// ClientView is the client-N slice of a published record.
type ClientView struct {
	// ServerPort is the tunnel server's punched public port; the tunnel
	// client dials the domain's A record on this port.
	ServerPort int
	// RemotePort is the server-side bind port for this client's proxy.
	RemotePort int
	// PublicPort is the end-user facing port the NAT maps onto RemotePort.
	PublicPort int
}

// Encode renders a punched PortMap as the published TXT payload:
//
//	server_port=<public>,client_local_portN=<local>,client_public_portN=<public>,...
//
// Only the server entry's public port is published; clients need the
// local port to configure their proxy and the public port to hand out.
func Encode(m PortMap) (string, error) {
	srv, ok := m[ServerPortName]
	if !ok {
		return "", ErrNoServerPort
	}
	parts := []string{fmt.Sprintf("%s=%d", ServerPortName, srv.PublicPort)}

	names := make([]string, 0, len(m))
	for name := range m {
		if name == ServerPortName {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		mp := m[name]
		suffix := strings.TrimPrefix(name, ClientPortPrefix)
		parts = append(parts,
			fmt.Sprintf("client_local_%s=%d", suffix, mp.LocalPort),
			fmt.Sprintf("client_public_%s=%d", suffix, mp.PublicPort),
		)
	}
	return strings.Join(parts, ","), nil
}

// Decode parses one TXT string back into a Record. Surrounding quotes are
// stripped (the provider stores the content quoted) and malformed or
// non-numeric pairs are skipped rather than failing the whole record.
func Decode(txt string) (Record, error) {
	s := strings.TrimSpace(txt)
	s = strings.Trim(s, `"`)

	rec := Record{}
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		key, val, ok := strings.Cut(part, "=")
		if !ok {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSpace(val))
		if err != nil {
			continue
		}
		rec[strings.TrimSpace(key)] = n
	}
	if len(rec) == 0 {
		return nil, ErrEmptyRecord
	}
	return rec, nil
}

// ClientView resolves the entry for client number n. The record publishes
// client_local_portN and client_public_portN; the proxy's remote port is the
// server-side local port, never the NAT-mapped one.
func (r Record) ClientView(n int) (ClientView, error) {
	serverPort, ok := r[ServerPortName]
	if !ok {
		return ClientView{}, ErrNoServerPort
	}
	local, okLocal := r[fmt.Sprintf("client_local_port%d", n)]
	public, okPublic := r[fmt.Sprintf("client_public_port%d", n)]
	if !okLocal || !okPublic {
		return ClientView{}, fmt.Errorf("%w: client %d", ErrClientNotFound, n)
	}
	return ClientView{
		ServerPort: serverPort,
		RemotePort: local,
		PublicPort: public,
	}, nil
}
