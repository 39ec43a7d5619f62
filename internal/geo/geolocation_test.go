package geo

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/common-ad-network/internal/config"
)

func newTestClient(baseURL string) *Client {
	return NewClient(&config.GeoConfig{
		BaseURL: baseURL,
		APIKey:  "test-key",
		Timeout: 2 * time.Second,
	})
}

// TestLookup_Success tests mapping of a provider response
func TestLookup_Success(t *testing.T) {
	provider := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("api_key") != "test-key" {
			t.Errorf("Expected api_key to be forwarded, got %q", r.URL.Query().Get("api_key"))
		}
		if r.URL.Query().Get("ip_address") != "203.0.113.7" {
			t.Errorf("Expected ip_address 203.0.113.7, got %q", r.URL.Query().Get("ip_address"))
		}

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"country": "Germany",
			"city": "Berlin",
			"region": "Berlin",
			"timezone": {"abbreviation": "CET"}
		}`))
	}))
	defer provider.Close()

	client := newTestClient(provider.URL)
	location := client.Lookup(context.Background(), "203.0.113.7")

	if location.Country == nil || *location.Country != "Germany" {
		t.Errorf("Expected country Germany, got %v", location.Country)
	}
	if location.City == nil || *location.City != "Berlin" {
		t.Errorf("Expected city Berlin, got %v", location.City)
	}
	if location.Timezone == nil || *location.Timezone != "CET" {
		t.Errorf("Expected timezone CET, got %v", location.Timezone)
	}
}

// TestLookup_EmptyFieldsBecomeNil tests that absent provider fields map to nil
func TestLookup_EmptyFieldsBecomeNil(t *testing.T) {
	provider := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"country": "France"}`))
	}))
	defer provider.Close()

	client := newTestClient(provider.URL)
	location := client.Lookup(context.Background(), "203.0.113.7")

	if location.Country == nil || *location.Country != "France" {
		t.Errorf("Expected country France, got %v", location.Country)
	}
	if location.City != nil {
		t.Errorf("Expected nil city, got %v", *location.City)
	}
	if location.Region != nil {
		t.Errorf("Expected nil region, got %v", *location.Region)
	}
}

// TestLookup_PrivateAddressShortCircuits tests that private addresses never
// reach the provider
func TestLookup_PrivateAddressShortCircuits(t *testing.T) {
	called := false
	provider := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	defer provider.Close()

	client := newTestClient(provider.URL)

	for _, ip := range []string{"127.0.0.1", "192.168.1.10", "10.1.2.3", "::1"} {
		location := client.Lookup(context.Background(), ip)
		if location.Country == nil || *location.Country != "Local" {
			t.Errorf("Expected country Local for %s, got %v", ip, location.Country)
		}
	}

	if called {
		t.Error("Expected provider to never be called for private addresses")
	}
}

// TestLookup_ProviderErrorYieldsZeroValue tests degradation on provider failure
func TestLookup_ProviderErrorYieldsZeroValue(t *testing.T) {
	provider := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer provider.Close()

	client := newTestClient(provider.URL)
	location := client.Lookup(context.Background(), "203.0.113.7")

	if location.Country != nil {
		t.Errorf("Expected nil country on provider error, got %v", *location.Country)
	}
}

// TestLookup_MalformedResponseYieldsZeroValue tests degradation on bad JSON
func TestLookup_MalformedResponseYieldsZeroValue(t *testing.T) {
	provider := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("not json"))
	}))
	defer provider.Close()

	client := newTestClient(provider.URL)
	location := client.Lookup(context.Background(), "203.0.113.7")

	if location.Country != nil {
		t.Errorf("Expected nil country on malformed response, got %v", *location.Country)
	}
}

// TestLookup_TimeoutYieldsZeroValue tests that slow providers are bounded
func TestLookup_TimeoutYieldsZeroValue(t *testing.T) {
	provider := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		w.Write([]byte(`{"country": "TooLate"}`))
	}))
	defer provider.Close()

	client := NewClient(&config.GeoConfig{
		BaseURL: provider.URL,
		APIKey:  "test-key",
		Timeout: 50 * time.Millisecond,
	})

	start := time.Now()
	location := client.Lookup(context.Background(), "203.0.113.7")
	elapsed := time.Since(start)

	if location.Country != nil {
		t.Errorf("Expected nil country on timeout, got %v", *location.Country)
	}
	if elapsed > time.Second {
		t.Errorf("Expected lookup to be bounded by timeout, took %v", elapsed)
	}
}
