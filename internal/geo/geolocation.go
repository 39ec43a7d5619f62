// Package geo resolves client addresses and coarse geolocation data.
package geo

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/common-ad-network/internal/config"
	"github.com/common-ad-network/internal/logging"
	"github.com/common-ad-network/internal/types"
)

// Client queries an external geolocation provider. Lookups are bounded by
// the configured timeout and never return an error: geolocation failure
// must not block click processing.
type Client struct {
	baseURL    string
	apiKey     string
	timeout    time.Duration
	httpClient *http.Client
}

// NewClient creates a geolocation client from configuration.
func NewClient(cfg *config.GeoConfig) *Client {
	return &Client{
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
		timeout: cfg.Timeout,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
	}
}

// providerResponse mirrors the abstractapi-style payload
type providerResponse struct {
	Country  string `json:"country"`
	City     string `json:"city"`
	Region   string `json:"region"`
	Timezone struct {
		Abbreviation string `json:"abbreviation"`
	} `json:"timezone"`
}

// Lookup maps an address to {country, city, region, timezone}. Loopback and
// private addresses short-circuit to country "Local" without an external
// call. Any provider failure yields the all-null zero value.
func (c *Client) Lookup(ctx context.Context, ip string) types.GeoLocation {
	if IsPrivateOrLocal(ip) {
		local := "Local"
		return types.GeoLocation{Country: &local}
	}

	location, err := c.fetch(ctx, ip)
	if err != nil {
		logging.FromContext(ctx).WithFields(map[string]interface{}{
			"ip":    ip,
			"error": err.Error(),
		}).Warn("Geolocation lookup failed")
		return types.GeoLocation{}
	}

	return location
}

func (c *Client) fetch(ctx context.Context, ip string) (types.GeoLocation, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	endpoint := fmt.Sprintf("%s?api_key=%s&ip_address=%s",
		c.baseURL, url.QueryEscape(c.apiKey), url.QueryEscape(ip))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return types.GeoLocation{}, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("User-Agent", "Common-Ad-Network/1.0")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return types.GeoLocation{}, fmt.Errorf("provider request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return types.GeoLocation{}, fmt.Errorf("provider returned status %d", resp.StatusCode)
	}

	var payload providerResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return types.GeoLocation{}, fmt.Errorf("failed to decode provider response: %w", err)
	}

	return types.GeoLocation{
		Country:  nonEmpty(payload.Country),
		City:     nonEmpty(payload.City),
		Region:   nonEmpty(payload.Region),
		Timezone: nonEmpty(payload.Timezone.Abbreviation),
	}, nil
}

// nonEmpty maps absent provider fields to nil
func nonEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
