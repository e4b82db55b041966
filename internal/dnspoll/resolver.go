// Package dnspoll resolves the discovery TXT record without caching in the
// way: every lookup is a fresh exchange against one nameserver, so a
// freshly republished record is seen as soon as its low TTL allows.
package dnspoll

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/miekg/dns"
)

const fallbackServer = "1.1.1.1:53"

var ErrNoRecord = errors.New("dnspoll: no TXT record in answer")

// Resolver queries a single nameserver directly.
type Resolver struct {
	server string
	client *dns.Client
}

// NewResolver builds a resolver against the given "host:port" nameserver.
// An empty server falls back to the first /etc/resolv.conf entry, then to
// a public resolver.
func NewResolver(server string, timeout time.Duration) *Resolver {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if strings.TrimSpace(server) == "" {
		server = systemServer()
	}
	return &Resolver{
		server: server,
		client: &dns.Client{Timeout: timeout},
	}
}

func systemServer() string {
	cfg, err := dns.ClientConfigFromFile("/etc/resolv.conf")
	if err != nil || len(cfg.Servers) == 0 {
		return fallbackServer
	}
	return net.JoinHostPort(cfg.Servers[0], cfg.Port)
}

// LookupTXT returns every TXT string published at domain. Multi-part rdata
// is joined back into one string per record.
func (r *Resolver) LookupTXT(ctx context.Context, domain string) ([]string, error) {
	m := new(dns.Msg)
	m.SetQuestion(dns.Fqdn(domain), dns.TypeTXT)

	resp, _, err := r.client.ExchangeContext(ctx, m, r.server)
	if err != nil {
		return nil, fmt.Errorf("dnspoll: query %s @%s: %w", domain, r.server, err)
	}
	if resp.Rcode != dns.RcodeSuccess {
		return nil, fmt.Errorf("dnspoll: query %s @%s: rcode %s",
			domain, r.server, dns.RcodeToString[resp.Rcode])
	}

	var out []string
	for _, rr := range resp.Answer {
		if txt, ok := rr.(*dns.TXT); ok {
			out = append(out, strings.Join(txt.Txt, ""))
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoRecord, domain)
	}
	return out, nil
}
