package service

import (
	"math"
	"time"

	"github.com/common-ad-network/internal/config"
)

// KarmaEngine maps publisher performance to karma rewards. The CTR tiers
// interpolate linearly inside each band: 1 karma at 1% CTR, 10 at 5%,
// 40 at 20% and above, floored at 1 below 1%.
type KarmaEngine struct {
	cfg config.KarmaConfig
}

// NewKarmaEngine creates a karma engine from configuration.
func NewKarmaEngine(cfg config.KarmaConfig) *KarmaEngine {
	return &KarmaEngine{cfg: cfg}
}

// CostPerClick is the flat advertiser debit per counted click.
func (e *KarmaEngine) CostPerClick() int64 {
	return e.cfg.CostPerClick
}

// CTRWindow is the trailing window over which publisher CTR is computed.
func (e *KarmaEngine) CTRWindow() time.Duration {
	return e.cfg.CTRWindow
}

// CTR computes a click-through rate percentage; zero when there are no
// impressions.
func CTR(clicks, impressions int64) float64 {
	if impressions <= 0 {
		return 0
	}
	return float64(clicks) / float64(impressions) * 100
}

// ClickReward computes the publisher's karma credit for one counted click
// from their trailing-window CTR. Publishers under the small-site
// threshold get a multiplier; rounding to the nearest integer is applied
// last.
func (e *KarmaEngine) ClickReward(ctr float64, publisherKarma int64) int64 {
	var reward float64
	switch {
	case ctr >= 20:
		reward = 40
	case ctr >= 5:
		reward = 10 + ((ctr-5)/15)*30
	case ctr >= 1:
		reward = 1 + ((ctr-1)/4)*9
	default:
		reward = 1
	}

	if publisherKarma < e.cfg.SmallSiteThreshold {
		reward *= e.cfg.SmallSiteBonus
	}

	return int64(math.Round(reward))
}
