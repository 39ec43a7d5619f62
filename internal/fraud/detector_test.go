package fraud

import (
	"context"
	"errors"
	"testing"
	"time"
)

const chromeUA = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

// mockClickHistory provides canned click counts per window
type mockClickHistory struct {
	countFunc func(ctx context.Context, ip string, since time.Time) (int64, error)
}

func (m *mockClickHistory) CountClicksSince(ctx context.Context, ip string, since time.Time) (int64, error) {
	if m.countFunc != nil {
		return m.countFunc(ctx, ip, since)
	}
	return 0, nil
}

func newTestDetector(history ClickHistory) *Detector {
	if history == nil {
		history = &mockClickHistory{}
	}
	return NewDetector(DefaultConfig(), history)
}

// TestDetect_CleanRequest tests that a normal browser click raises no flags
func TestDetect_CleanRequest(t *testing.T) {
	detector := newTestDetector(nil)

	check := detector.Detect(context.Background(), "203.0.113.7", chromeUA)

	if check.IsSuspicious {
		t.Errorf("Expected clean request, got reasons: %v", check.Reasons)
	}
	if len(check.Reasons) != 0 {
		t.Errorf("Expected no reasons, got %v", check.Reasons)
	}
}

// TestDetect_BotUserAgents tests bot signature matching
func TestDetect_BotUserAgents(t *testing.T) {
	detector := newTestDetector(nil)

	agents := []string{
		"curl/8.4.0",
		"Wget/1.21",
		"python-requests/2.31.0",
		"Googlebot/2.1 (+http://www.google.com/bot.html)",
		"Mozilla/5.0 (compatible; AhrefsBot/7.0; +http://ahrefs.com/robot/) crawler",
	}

	for _, ua := range agents {
		check := detector.Detect(context.Background(), "203.0.113.7", ua)
		if !check.IsSuspicious {
			t.Errorf("Expected %q to be flagged as suspicious", ua)
		}

		found := false
		for _, reason := range check.Reasons {
			if reason == "Bot-like user agent detected" {
				found = true
			}
		}
		if !found {
			t.Errorf("Expected bot reason for %q, got %v", ua, check.Reasons)
		}
	}
}

// TestDetect_SuspiciousFormat tests short or non-Mozilla user agents
func TestDetect_SuspiciousFormat(t *testing.T) {
	detector := newTestDetector(nil)

	check := detector.Detect(context.Background(), "203.0.113.7", "Opera/12.16 (X11; Linux)")
	if !check.IsSuspicious {
		t.Error("Expected non-Mozilla user agent to be flagged")
	}

	found := false
	for _, reason := range check.Reasons {
		if reason == "Suspicious user agent format" {
			found = true
		}
	}
	if !found {
		t.Errorf("Expected format reason, got %v", check.Reasons)
	}
}

// TestDetect_EmptyUserAgentNotFlaggedByFormatChecks tests that an absent user
// agent skips the format checks; it is penalized by the trust score instead
func TestDetect_EmptyUserAgentNotFlaggedByFormatChecks(t *testing.T) {
	detector := newTestDetector(nil)

	check := detector.Detect(context.Background(), "203.0.113.7", "")
	if check.IsSuspicious {
		t.Errorf("Expected empty user agent to pass detection, got %v", check.Reasons)
	}
}

// TestDetect_HighClickFrequency tests hourly frequency flagging
func TestDetect_HighClickFrequency(t *testing.T) {
	history := &mockClickHistory{
		countFunc: func(ctx context.Context, ip string, since time.Time) (int64, error) {
			// High hourly volume, quiet 5-minute window
			if time.Since(since) > 30*time.Minute {
				return 11, nil
			}
			return 0, nil
		},
	}
	detector := newTestDetector(history)

	check := detector.Detect(context.Background(), "203.0.113.7", chromeUA)
	if !check.IsSuspicious {
		t.Error("Expected high-frequency address to be flagged")
	}

	found := false
	for _, reason := range check.Reasons {
		if reason == "High click frequency from IP" {
			found = true
		}
	}
	if !found {
		t.Errorf("Expected frequency reason, got %v", check.Reasons)
	}
}

// TestDetect_RapidClicks tests 5-minute burst flagging
func TestDetect_RapidClicks(t *testing.T) {
	history := &mockClickHistory{
		countFunc: func(ctx context.Context, ip string, since time.Time) (int64, error) {
			return 4, nil
		},
	}
	detector := newTestDetector(history)

	check := detector.Detect(context.Background(), "203.0.113.7", chromeUA)
	if !check.IsSuspicious {
		t.Error("Expected rapid clicks to be flagged")
	}

	found := false
	for _, reason := range check.Reasons {
		if reason == "Rapid clicks detected" {
			found = true
		}
	}
	if !found {
		t.Errorf("Expected rapid-click reason, got %v", check.Reasons)
	}
}

// TestDetect_ReasonsAccumulate tests that checks are not short-circuited
func TestDetect_ReasonsAccumulate(t *testing.T) {
	history := &mockClickHistory{
		countFunc: func(ctx context.Context, ip string, since time.Time) (int64, error) {
			return 100, nil
		},
	}
	detector := newTestDetector(history)

	check := detector.Detect(context.Background(), "203.0.113.7", "curl/8.4.0")
	if len(check.Reasons) < 3 {
		t.Errorf("Expected multiple accumulated reasons, got %v", check.Reasons)
	}
}

// TestDetect_HistoryErrorDegrades tests that history failures do not flag
func TestDetect_HistoryErrorDegrades(t *testing.T) {
	history := &mockClickHistory{
		countFunc: func(ctx context.Context, ip string, since time.Time) (int64, error) {
			return 0, errors.New("connection refused")
		},
	}
	detector := newTestDetector(history)

	check := detector.Detect(context.Background(), "203.0.113.7", chromeUA)
	if check.IsSuspicious {
		t.Errorf("Expected history errors to degrade to clean, got %v", check.Reasons)
	}
}

// TestTrustScore tests the deduction table
func TestTrustScore(t *testing.T) {
	detector := newTestDetector(nil)
	unknown := "Unknown"
	germany := "Germany"

	tests := []struct {
		name     string
		ip       string
		ua       string
		country  *string
		expected int
	}{
		{
			name:     "clean browser click",
			ip:       "203.0.113.7",
			ua:       chromeUA,
			country:  &germany,
			expected: 100,
		},
		{
			name:     "missing user agent",
			ip:       "203.0.113.7",
			ua:       "",
			country:  &germany,
			expected: 80,
		},
		{
			name:     "short non-browser user agent",
			ip:       "203.0.113.7",
			ua:       "tiny",
			country:  &germany,
			expected: 75, // -10 short, -15 no browser
		},
		{
			name:     "high risk country",
			ip:       "203.0.113.7",
			ua:       chromeUA,
			country:  &unknown,
			expected: 90,
		},
		{
			name:     "nil country not penalized",
			ip:       "203.0.113.7",
			ua:       chromeUA,
			country:  nil,
			expected: 100,
		},
		{
			name:     "private address",
			ip:       "192.168.1.10",
			ua:       chromeUA,
			country:  &germany,
			expected: 70,
		},
		{
			name:     "deductions stack",
			ip:       "10.0.0.1",
			ua:       "tiny",
			country:  &unknown,
			expected: 35, // -10 -15 -10 -30
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			score := detector.TrustScore(tt.ip, tt.ua, tt.country)
			if score != tt.expected {
				t.Errorf("Expected score %d, got %d", tt.expected, score)
			}
		})
	}
}

// TestTrustScore_Clamped tests the 0-100 bounds
func TestTrustScore_Clamped(t *testing.T) {
	cfg := DefaultConfig()
	cfg.NoUserAgentPenalty = 500
	detector := NewDetector(cfg, &mockClickHistory{})

	score := detector.TrustScore("203.0.113.7", "", nil)
	if score != 0 {
		t.Errorf("Expected score clamped to 0, got %d", score)
	}
}

// TestIsBlacklisted tests the invalid-range blacklist
func TestIsBlacklisted(t *testing.T) {
	blocked := []string{"0.1.2.3", "255.0.0.1"}
	for _, ip := range blocked {
		if !IsBlacklisted(ip) {
			t.Errorf("Expected %q to be blacklisted", ip)
		}
	}

	allowed := []string{"203.0.113.7", "127.0.0.1", "192.168.1.1", "10.0.0.1"}
	for _, ip := range allowed {
		if IsBlacklisted(ip) {
			t.Errorf("Expected %q to be allowed", ip)
		}
	}
}

// TestShouldReject tests the counting policy
func TestShouldReject(t *testing.T) {
	detector := newTestDetector(nil)

	clean := detector.Detect(context.Background(), "203.0.113.7", chromeUA)

	if detector.ShouldReject(clean, false, 100) {
		t.Error("Expected clean high-trust click to be counted")
	}
	if !detector.ShouldReject(clean, true, 100) {
		t.Error("Expected blacklisted address to be rejected")
	}
	if !detector.ShouldReject(clean, false, 49) {
		t.Error("Expected sub-threshold trust score to be rejected")
	}
	if detector.ShouldReject(clean, false, 50) {
		t.Error("Expected threshold trust score to be counted")
	}

	suspicious := detector.Detect(context.Background(), "203.0.113.7", "curl/8.4.0")
	if !detector.ShouldReject(suspicious, false, 100) {
		t.Error("Expected suspicious click to be rejected regardless of trust")
	}
}
