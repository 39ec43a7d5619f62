package service

import (
	"context"
	"fmt"
	"time"

	"github.com/common-ad-network/internal/logging"
	"github.com/common-ad-network/internal/models"
	"github.com/common-ad-network/internal/storage"
)

// AdPerformanceReader lists a user's ads for reporting.
type AdPerformanceReader interface {
	ListByUser(ctx context.Context, userID string, limit, offset int) ([]*models.Ad, error)
}

// ClickStatsReader provides click aggregates for reporting.
type ClickStatsReader interface {
	DailyClicksByUser(ctx context.Context, userID string, days int, now time.Time) ([]storage.DailyClicks, error)
}

// CountryStatsReader provides the per-country breakdown from the
// analytics event stream.
type CountryStatsReader interface {
	ClicksByCountry(ctx context.Context, advertiserID string, since time.Time) ([]storage.CountryClicks, error)
}

// AdPerformance is one ad's aggregate performance.
type AdPerformance struct {
	ID          string  `json:"id"`
	Headline    string  `json:"headline"`
	Impressions int64   `json:"impressions"`
	Clicks      int64   `json:"clicks"`
	CTR         float64 `json:"ctr"`
	IsActive    bool    `json:"isActive"`
}

// UserAnalytics is the dashboard payload for one user.
type UserAnalytics struct {
	Ads              []AdPerformance         `json:"ads"`
	TotalImpressions int64                   `json:"totalImpressions"`
	TotalClicks      int64                   `json:"totalClicks"`
	TotalCTR         float64                 `json:"totalCtr"`
	Karma            int64                   `json:"karma"`
	DailyClicks      []storage.DailyClicks   `json:"dailyClicks"`
	CountryClicks    []storage.CountryClicks `json:"countryClicks,omitempty"`
}

// AnalyticsService aggregates ad performance for user dashboards.
type AnalyticsService struct {
	ads       AdPerformanceReader
	clicks    ClickStatsReader
	users     KarmaAccounts
	countries CountryStatsReader // optional; nil without ClickHouse
}

// NewAnalyticsService creates an analytics service. countries may be nil.
func NewAnalyticsService(ads AdPerformanceReader, clicks ClickStatsReader, users KarmaAccounts, countries CountryStatsReader) *AnalyticsService {
	return &AnalyticsService{
		ads:       ads,
		clicks:    clicks,
		users:     users,
		countries: countries,
	}
}

// GetUserAnalytics builds the performance summary for one user's ads.
func (s *AnalyticsService) GetUserAnalytics(ctx context.Context, userID string) (*UserAnalytics, error) {
	karma, err := s.users.GetKarma(ctx, userID)
	if err != nil {
		return nil, err
	}

	ads, err := s.ads.ListByUser(ctx, userID, 100, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to load ads: %w", err)
	}

	analytics := &UserAnalytics{
		Ads:   make([]AdPerformance, 0, len(ads)),
		Karma: karma,
	}

	for _, ad := range ads {
		analytics.TotalImpressions += ad.Impressions
		analytics.TotalClicks += ad.Clicks
		analytics.Ads = append(analytics.Ads, AdPerformance{
			ID:          ad.ID,
			Headline:    ad.Headline,
			Impressions: ad.Impressions,
			Clicks:      ad.Clicks,
			CTR:         CTR(ad.Clicks, ad.Impressions),
			IsActive:    ad.IsActive,
		})
	}
	analytics.TotalCTR = CTR(analytics.TotalClicks, analytics.TotalImpressions)

	now := time.Now().UTC()
	daily, err := s.clicks.DailyClicksByUser(ctx, userID, 7, now)
	if err != nil {
		return nil, fmt.Errorf("failed to load daily clicks: %w", err)
	}
	analytics.DailyClicks = daily

	// Country breakdown is enrichment from the event stream; absence or
	// failure of the sink degrades to an empty breakdown.
	if s.countries != nil {
		byCountry, err := s.countries.ClicksByCountry(ctx, userID, now.AddDate(0, 0, -30))
		if err != nil {
			logging.FromContext(ctx).WithError(err).Warn("Country breakdown unavailable")
		} else {
			analytics.CountryClicks = byCountry
		}
	}

	return analytics, nil
}
