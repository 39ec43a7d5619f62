// Package fraud evaluates click requests for bot and abuse signals. All
// verdicts are advisory: the caller decides whether to count a click, and
// the visitor is redirected either way.
package fraud

import (
	"context"
	"strings"
	"time"

	"github.com/common-ad-network/internal/geo"
	"github.com/common-ad-network/internal/logging"
	"github.com/common-ad-network/internal/types"
)

// Config holds the tunable detection thresholds and deductions. Values are
// policy, not code: they can be adjusted without touching detection logic.
type Config struct {
	MaxClicksPerHour int
	MaxClicksPer5Min int
	MinTrustScore    int

	// Suspicion thresholds
	BotSignatures      []string
	MinUserAgentLength int

	// Trust score deductions
	NoUserAgentPenalty     int
	ShortUserAgentPenalty  int
	ShortUserAgentLength   int
	NoBrowserPenalty       int
	HighRiskCountryPenalty int
	PrivateAddressPenalty  int
	HighRiskCountries      []string
}

// DefaultConfig returns the default detection thresholds.
func DefaultConfig() Config {
	return Config{
		MaxClicksPerHour:       10,
		MaxClicksPer5Min:       3,
		MinTrustScore:          50,
		BotSignatures:          []string{"bot", "crawl", "spider", "scraper", "curl", "wget", "python", "java"},
		MinUserAgentLength:     20,
		NoUserAgentPenalty:     20,
		ShortUserAgentPenalty:  10,
		ShortUserAgentLength:   50,
		NoBrowserPenalty:       15,
		HighRiskCountryPenalty: 10,
		PrivateAddressPenalty:  30,
		HighRiskCountries:      []string{"Unknown"},
	}
}

// browser substrings a mainstream user agent is expected to carry
var browserSignatures = []string{"Chrome", "Firefox", "Safari", "Edge"}

// ClickHistory provides the recent click counts the detector scans.
type ClickHistory interface {
	CountClicksSince(ctx context.Context, ip string, since time.Time) (int64, error)
}

// Detector computes suspicion verdicts and trust scores for click attempts.
type Detector struct {
	cfg     Config
	history ClickHistory
}

// NewDetector creates a detector over the given click history.
func NewDetector(cfg Config, history ClickHistory) *Detector {
	return &Detector{cfg: cfg, history: history}
}

// Config returns the detector's active configuration.
func (d *Detector) Config() Config {
	return d.cfg
}

// Detect evaluates all suspicion checks for an address and user agent.
// Checks are not short-circuited: every triggered check appends a reason.
// History lookup failures degrade to a zero count rather than failing.
func (d *Detector) Detect(ctx context.Context, ip, userAgent string) types.FraudCheck {
	check := types.FraudCheck{Reasons: []string{}}
	now := time.Now().UTC()

	hourlyClicks := d.countSince(ctx, ip, now.Add(-time.Hour))
	if hourlyClicks > int64(d.cfg.MaxClicksPerHour) {
		check.IsSuspicious = true
		check.Reasons = append(check.Reasons, "High click frequency from IP")
	}

	if userAgent != "" {
		lower := strings.ToLower(userAgent)
		for _, signature := range d.cfg.BotSignatures {
			if strings.Contains(lower, signature) {
				check.IsSuspicious = true
				check.Reasons = append(check.Reasons, "Bot-like user agent detected")
				break
			}
		}

		if len(userAgent) < d.cfg.MinUserAgentLength || !strings.Contains(userAgent, "Mozilla") {
			check.IsSuspicious = true
			check.Reasons = append(check.Reasons, "Suspicious user agent format")
		}
	}

	rapidClicks := d.countSince(ctx, ip, now.Add(-5*time.Minute))
	if rapidClicks > int64(d.cfg.MaxClicksPer5Min) {
		check.IsSuspicious = true
		check.Reasons = append(check.Reasons, "Rapid clicks detected")
	}

	return check
}

// countSince returns the recent click count for an address, treating
// history failures as zero so detection degrades instead of erroring.
func (d *Detector) countSince(ctx context.Context, ip string, since time.Time) int64 {
	count, err := d.history.CountClicksSince(ctx, ip, since)
	if err != nil {
		logging.FromContext(ctx).WithFields(map[string]interface{}{
			"ip":    ip,
			"error": err.Error(),
		}).Warn("Click history lookup failed, assuming zero")
		return 0
	}
	return count
}

// TrustScore computes a 0-100 confidence that the click is human-originated.
// Each applicable deduction applies independently; the result is clamped.
func (d *Detector) TrustScore(ip, userAgent string, country *string) int {
	score := 100

	if userAgent == "" {
		score -= d.cfg.NoUserAgentPenalty
	} else {
		if len(userAgent) < d.cfg.ShortUserAgentLength {
			score -= d.cfg.ShortUserAgentPenalty
		}

		hasBrowser := false
		for _, signature := range browserSignatures {
			if strings.Contains(userAgent, signature) {
				hasBrowser = true
				break
			}
		}
		if !hasBrowser {
			score -= d.cfg.NoBrowserPenalty
		}
	}

	if country != nil {
		for _, risky := range d.cfg.HighRiskCountries {
			if *country == risky {
				score -= d.cfg.HighRiskCountryPenalty
				break
			}
		}
	}

	if ip == "127.0.0.1" || strings.HasPrefix(ip, "192.168.") || strings.HasPrefix(ip, "10.") {
		score -= d.cfg.PrivateAddressPenalty
	}

	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}
	return score
}

// IsBlacklisted rejects addresses in invalid ranges. Loopback and private
// addresses are exempted so local operation keeps working.
func IsBlacklisted(ip string) bool {
	if geo.IsPrivateOrLocal(ip) {
		return false
	}

	return strings.HasPrefix(ip, "0.") ||
		strings.HasPrefix(ip, "255.") ||
		strings.HasPrefix(ip, "127.")
}

// ShouldReject applies the counting policy: a click is not counted when the
// verdict is suspicious, the address is blacklisted, or the trust score
// falls below the configured minimum.
func (d *Detector) ShouldReject(check types.FraudCheck, blacklisted bool, trustScore int) bool {
	return check.IsSuspicious || blacklisted || trustScore < d.cfg.MinTrustScore
}
