package service

import (
	"context"
	"fmt"
	"time"

	"github.com/common-ad-network/internal/fraud"
	"github.com/common-ad-network/internal/logging"
	"github.com/common-ad-network/internal/models"
	"github.com/common-ad-network/internal/retry"
	"github.com/common-ad-network/internal/storage"
	"github.com/common-ad-network/internal/types"
)

// AdCatalog resolves ads for click processing.
type AdCatalog interface {
	GetByID(ctx context.Context, id string) (*models.Ad, error)
	PublisherImpressionsSince(ctx context.Context, userID string, since time.Time) (int64, error)
}

// ClickLedger is the authoritative click log and settlement writer.
type ClickLedger interface {
	Settle(ctx context.Context, params *storage.SettlementParams) (bool, error)
	ExistsToday(ctx context.Context, adID, ip string, now time.Time) (bool, error)
	CountPublisherClicksSince(ctx context.Context, userID string, since time.Time) (int64, error)
}

// KarmaAccounts reads publisher balances for reward computation.
type KarmaAccounts interface {
	GetKarma(ctx context.Context, id string) (int64, error)
}

// DedupCache is the best-effort fast path in front of the storage-level
// dedup constraint. Failures are tolerated, never fatal.
type DedupCache interface {
	WasClickedToday(ctx context.Context, adID, ip string, now time.Time) (bool, error)
	MarkClickedToday(ctx context.Context, adID, ip string, now time.Time) error
}

// GeoResolver maps an address to coarse location data.
type GeoResolver interface {
	Lookup(ctx context.Context, ip string) types.GeoLocation
}

// EventSink receives counted clicks for analytics.
type EventSink interface {
	InsertClickEvent(ctx context.Context, click *models.Click, advertiserID string) error
}

// RecordClickInput is one click attempt.
type RecordClickInput struct {
	AdID      string
	SiteID    string
	IPAddress string
	UserAgent string
}

// ClickResult is the outcome of a click attempt. RedirectURL is always
// set: the visitor is redirected whether or not the click counted.
type ClickResult struct {
	RedirectURL string
	Outcome     types.ClickOutcome
	TrustScore  int
	Reasons     []string
}

// ClickService runs the click pipeline: dedup guard, fraud gating, then
// transactional settlement of counters and karma.
type ClickService struct {
	ads      AdCatalog
	clicks   ClickLedger
	users    KarmaAccounts
	dedup    DedupCache
	geo      GeoResolver
	detector *fraud.Detector
	karma    *KarmaEngine
	sink     EventSink // optional; nil disables the analytics stream

	baseURL     string
	fallbackURL string
}

// NewClickService creates a click service. sink may be nil.
func NewClickService(
	ads AdCatalog,
	clicks ClickLedger,
	users KarmaAccounts,
	dedup DedupCache,
	geo GeoResolver,
	detector *fraud.Detector,
	karma *KarmaEngine,
	sink EventSink,
	baseURL, fallbackURL string,
) *ClickService {
	return &ClickService{
		ads:         ads,
		clicks:      clicks,
		users:       users,
		dedup:       dedup,
		geo:         geo,
		detector:    detector,
		karma:       karma,
		sink:        sink,
		baseURL:     baseURL,
		fallbackURL: fallbackURL,
	}
}

// RecordClick processes one click attempt. It never returns an error: the
// visitor is always given a redirect target, and every failure degrades to
// the fallback URL with the click left uncounted.
func (s *ClickService) RecordClick(ctx context.Context, input *RecordClickInput) *ClickResult {
	logger := logging.FromContext(ctx).WithFields(map[string]interface{}{
		"adId": input.AdID,
		"ip":   input.IPAddress,
	})

	result := &ClickResult{
		RedirectURL: s.fallbackURL,
		Outcome:     types.ClickFailed,
	}

	if input.SiteID == "" {
		logger.Warn("Click without site ID, redirecting to fallback")
		return result
	}

	ad, err := s.ads.GetByID(ctx, input.AdID)
	if err != nil {
		logger.WithError(err).Warn("Click for unknown ad, redirecting to fallback")
		return result
	}

	// From here on the visitor always lands on the ad's destination.
	result.RedirectURL = s.destinationURL(ad)
	now := time.Now().UTC()

	// Dedup fast path. A cache error is not conclusive; the settlement
	// transaction's uniqueness constraint remains authoritative.
	if s.dedup != nil {
		if dup, err := s.dedup.WasClickedToday(ctx, ad.ID, input.IPAddress, now); err == nil && dup {
			result.Outcome = types.ClickDuplicate
			return result
		}
	}

	if dup, err := s.clicks.ExistsToday(ctx, ad.ID, input.IPAddress, now); err != nil {
		logger.WithError(err).Error("Dedup check failed, click not counted")
		return result
	} else if dup {
		result.Outcome = types.ClickDuplicate
		s.markDeduped(ctx, ad.ID, input.IPAddress, now)
		return result
	}

	// Fraud gating. Only first-of-day attempts reach this point.
	check := s.detector.Detect(ctx, input.IPAddress, input.UserAgent)
	blacklisted := fraud.IsBlacklisted(input.IPAddress)
	location := s.geo.Lookup(ctx, input.IPAddress)
	trustScore := s.detector.TrustScore(input.IPAddress, input.UserAgent, location.Country)

	result.TrustScore = trustScore
	result.Reasons = check.Reasons

	if s.detector.ShouldReject(check, blacklisted, trustScore) {
		logger.WithFields(map[string]interface{}{
			"reasons":     check.Reasons,
			"blacklisted": blacklisted,
			"trustScore":  trustScore,
			"userAgent":   input.UserAgent,
		}).Warn("Suspicious click blocked")
		result.Outcome = types.ClickRejected
		return result
	}

	credit, err := s.publisherCredit(ctx, input.SiteID, now)
	if err != nil {
		logger.WithError(err).Error("Publisher reward computation failed, click not counted")
		return result
	}

	userAgent := nonEmptyPtr(input.UserAgent)
	click := models.Click{
		AdID:      ad.ID,
		IPAddress: input.IPAddress,
		UserAgent: userAgent,
		Country:   location.Country,
		CreatedAt: now,
	}

	counted, err := s.clicks.Settle(ctx, &storage.SettlementParams{
		Click:           click,
		AdvertiserID:    ad.UserID,
		AdvertiserDebit: s.karma.CostPerClick(),
		PublisherID:     input.SiteID,
		PublisherCredit: credit,
	})
	if err != nil {
		logger.WithError(err).Error("Click settlement failed, click not counted")
		return result
	}
	if !counted {
		// Lost the day bucket to a concurrent first-click.
		result.Outcome = types.ClickDuplicate
		s.markDeduped(ctx, ad.ID, input.IPAddress, now)
		return result
	}

	result.Outcome = types.ClickCounted
	s.markDeduped(ctx, ad.ID, input.IPAddress, now)
	s.publishEvent(&click, ad.UserID)

	return result
}

// publisherCredit computes the karma credit for the requesting site's
// owner from their trailing-window CTR. An unknown site earns nothing but
// does not block the click.
func (s *ClickService) publisherCredit(ctx context.Context, siteID string, now time.Time) (int64, error) {
	publisherKarma, err := s.users.GetKarma(ctx, siteID)
	if err != nil {
		if svcErr, ok := err.(*types.ServiceError); ok && svcErr.Code == "USER_NOT_FOUND" {
			return 0, nil
		}
		return 0, err
	}

	since := now.Add(-s.karma.CTRWindow())
	impressions, err := s.ads.PublisherImpressionsSince(ctx, siteID, since)
	if err != nil {
		return 0, err
	}
	clicks, err := s.clicks.CountPublisherClicksSince(ctx, siteID, since)
	if err != nil {
		return 0, err
	}

	return s.karma.ClickReward(CTR(clicks, impressions), publisherKarma), nil
}

// destinationURL is the ad's link, or its public detail page when the ad
// carries no link.
func (s *ClickService) destinationURL(ad *models.Ad) string {
	if ad.LinkURL != nil && *ad.LinkURL != "" {
		return *ad.LinkURL
	}
	return fmt.Sprintf("%s/ads/%s", s.baseURL, ad.ID)
}

// markDeduped records the day bucket in the fast-path cache, best effort.
func (s *ClickService) markDeduped(ctx context.Context, adID, ip string, now time.Time) {
	if s.dedup == nil {
		return
	}
	if err := s.dedup.MarkClickedToday(ctx, adID, ip, now); err != nil {
		logging.FromContext(ctx).WithError(err).Warn("Dedup cache mark failed")
	}
}

// publishEvent streams a counted click to the analytics sink in the
// background; sink failures never affect the click outcome.
func (s *ClickService) publishEvent(click *models.Click, advertiserID string) {
	if s.sink == nil {
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		err := retry.WithExponentialBackoff(ctx, retry.DefaultConfig(), func(ctx context.Context, attempt int) error {
			return s.sink.InsertClickEvent(ctx, click, advertiserID)
		})
		if err != nil {
			logging.GetGlobalLogger().WithFields(map[string]interface{}{
				"adId":  click.AdID,
				"error": err.Error(),
			}).Warn("Click event publish failed")
		}
	}()
}

func nonEmptyPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
