package cloudflare

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const (
	DefaultBaseURL = "https://api.cloudflare.com/client/v4"

	// Low TTL so clients pick up a re-punched endpoint quickly.
	recordTTL = 120
)

var (
	ErrAPITokenRequired = errors.New("cloudflare: api token required")
	ErrZoneNotFound     = errors.New("cloudflare: zone not found")
)

// Config configures the API client.
type Config struct {
	APIToken string
	BaseURL  string
	Timeout  time.Duration
}

// Client talks to the DNS provider on behalf of the server role.
type Client struct {
	baseURL string
	token   string
	httpc   *http.Client
	log     zerolog.Logger

	mu     sync.Mutex
	zoneID string
}

func NewClient(cfg Config, logger zerolog.Logger) (*Client, error) {
	if strings.TrimSpace(cfg.APIToken) == "" {
		return nil, ErrAPITokenRequired
	}
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		baseURL: baseURL,
		token:   cfg.APIToken,
		httpc:   &http.Client{Timeout: timeout},
		log:     logger,
	}, nil
}

type apiMessage struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type apiResponse struct {
	Success bool            `json:"success"`
	Errors  []apiMessage    `json:"errors"`
	Result  json.RawMessage `json:"result"`
}

type zone struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type dnsRecord struct {
	ID      string `json:"id,omitempty"`
	Type    string `json:"type"`
	Name    string `json:"name"`
	Content string `json:"content"`
	TTL     int    `json:"ttl"`
	Proxied *bool  `json:"proxied,omitempty"`
}

// RootDomain derives the registrable zone name from a record domain,
// e.g. frp.example.com -> example.com.
func RootDomain(domain string) string {
	parts := strings.Split(strings.Trim(strings.TrimSpace(domain), "."), ".")
	if len(parts) < 2 {
		return domain
	}
	return strings.Join(parts[len(parts)-2:], ".")
}

// ZoneIDByName looks up the zone ID for an exact zone name.
func (c *Client) ZoneIDByName(ctx context.Context, name string) (string, error) {
	query := url.Values{"name": {name}}
	raw, err := c.do(ctx, http.MethodGet, "/zones", query, nil)
	if err != nil {
		return "", err
	}
	var zones []zone
	if err := json.Unmarshal(raw, &zones); err != nil {
		return "", fmt.Errorf("cloudflare: decode zones: %w", err)
	}
	if len(zones) == 0 {
		return "", fmt.Errorf("%w: %s", ErrZoneNotFound, name)
	}
	return zones[0].ID, nil
}

// EnsureTXT upserts the TXT record for domain. The content is stored quoted,
// matching how the discovery channel is consumed.
func (c *Client) EnsureTXT(ctx context.Context, domain, content string) error {
	return c.ensure(ctx, domain, "TXT", `"`+content+`"`, nil)
}

// EnsureA upserts the A record for domain, unproxied so the name resolves
// straight to the punched address.
func (c *Client) EnsureA(ctx context.Context, domain, ip string) error {
	proxied := false
	return c.ensure(ctx, domain, "A", ip, &proxied)
}

func (c *Client) ensure(ctx context.Context, domain, rtype, content string, proxied *bool) error {
	zoneID, err := c.zoneIDFor(ctx, domain)
	if err != nil {
		return err
	}

	existing, err := c.listRecords(ctx, zoneID, rtype, domain)
	if err != nil {
		return err
	}

	record := dnsRecord{
		Type:    rtype,
		Name:    domain,
		Content: content,
		TTL:     recordTTL,
		Proxied: proxied,
	}

	if len(existing) > 0 {
		path := fmt.Sprintf("/zones/%s/dns_records/%s", zoneID, existing[0].ID)
		if _, err := c.do(ctx, http.MethodPut, path, nil, record); err != nil {
			return err
		}
		c.log.Info().Str("type", rtype).Str("domain", domain).Str("content", content).Msg("record updated")
		return nil
	}

	path := fmt.Sprintf("/zones/%s/dns_records", zoneID)
	if _, err := c.do(ctx, http.MethodPost, path, nil, record); err != nil {
		return err
	}
	c.log.Info().Str("type", rtype).Str("domain", domain).Str("content", content).Msg("record created")
	return nil
}

func (c *Client) zoneIDFor(ctx context.Context, domain string) (string, error) {
	c.mu.Lock()
	cached := c.zoneID
	c.mu.Unlock()
	if cached != "" {
		return cached, nil
	}

	id, err := c.ZoneIDByName(ctx, RootDomain(domain))
	if err != nil {
		return "", err
	}
	c.mu.Lock()
	c.zoneID = id
	c.mu.Unlock()
	c.log.Debug().Str("zone_id", id).Msg("zone id cached")
	return id, nil
}

func (c *Client) listRecords(ctx context.Context, zoneID, rtype, name string) ([]dnsRecord, error) {
	query := url.Values{"type": {rtype}, "name": {name}}
	raw, err := c.do(ctx, http.MethodGet, fmt.Sprintf("/zones/%s/dns_records", zoneID), query, nil)
	if err != nil {
		return nil, err
	}
	var records []dnsRecord
	if err := json.Unmarshal(raw, &records); err != nil {
		return nil, fmt.Errorf("cloudflare: decode records: %w", err)
	}
	return records, nil
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body any) (json.RawMessage, error) {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("cloudflare: encode request: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reqBody)
	if err != nil {
		return nil, fmt.Errorf("cloudflare: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("cloudflare: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("cloudflare: read response: %w", err)
	}

	var parsed apiResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil, fmt.Errorf("cloudflare: %s %s: status %d: %w", method, path, resp.StatusCode, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 || !parsed.Success {
		return nil, fmt.Errorf("cloudflare: %s %s failed: status %d: %s",
			method, path, resp.StatusCode, joinMessages(parsed.Errors))
	}
	return parsed.Result, nil
}

func joinMessages(msgs []apiMessage) string {
	if len(msgs) == 0 {
		return "no error detail"
	}
	parts := make([]string, 0, len(msgs))
	for _, m := range msgs {
		parts = append(parts, fmt.Sprintf("%d: %s", m.Code, m.Message))
	}
	return strings.Join(parts, "; ")
}
