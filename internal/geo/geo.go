// Package geo resolves client IPs to a country and city through an ip-api.com compatible provider.
package geo

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/netip"
	"strings"
	"time"

	"github.com/Monthlyaway/short-it/internal/model"
	"github.com/tidwall/gjson"
)

const (
	// DefaultProvider answers GET /{ip} with {"status","country","city",...}
	DefaultProvider = "http://ip-api.com/json"
	// DefaultTimeout bounds one lookup
	DefaultTimeout = 3 * time.Second

	maxBodySize = 64 << 10
)

// Location is a best-effort position for a client IP
type Location struct {
	Country string
	City    string
}

// Unknown is used whenever a lookup is skipped or fails
var Unknown = Location{Country: model.Unknown, City: model.Unknown}

// Client queries the geolocation provider
type Client struct {
	baseURL string
	http    *http.Client
	timeout time.Duration
}

// NewClient creates a client for the provider at baseURL
func NewClient(baseURL string, timeout time.Duration) *Client {
	if baseURL == "" {
		baseURL = DefaultProvider
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
		timeout: timeout,
	}
}

// Lookup resolves ip. The provider is untrusted: any transport error, non-2xx status,
// malformed body or non-"success" status is an error.
func (c *Client) Lookup(ctx context.Context, ip string) (Location, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/"+ip, nil)
	if err != nil {
		return Unknown, fmt.Errorf("build geolocation request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return Unknown, fmt.Errorf("geolocation request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return Unknown, fmt.Errorf("geolocation provider returned %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return Unknown, fmt.Errorf("read geolocation response: %w", err)
	}
	if !gjson.ValidBytes(body) {
		return Unknown, fmt.Errorf("geolocation response is not valid JSON")
	}

	result := gjson.ParseBytes(body)
	if status := result.Get("status").String(); status != "success" {
		return Unknown, fmt.Errorf("geolocation status %q: %s", status, result.Get("message").String())
	}

	loc := Unknown
	if country := strings.TrimSpace(result.Get("country").String()); country != "" {
		loc.Country = country
	}
	if city := strings.TrimSpace(result.Get("city").String()); city != "" {
		loc.City = city
	}
	return loc, nil
}

// IsLocal reports whether ip is loopback, private, link-local, unspecified or unparsable.
// Such addresses are never sent to the provider.
func IsLocal(ip string) bool {
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return true
	}
	addr = addr.Unmap()
	return addr.IsLoopback() || addr.IsPrivate() || addr.IsUnspecified() ||
		addr.IsLinkLocalUnicast() || addr.IsLinkLocalMulticast()
}
