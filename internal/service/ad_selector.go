// Package service implements the core ad serving, click accounting and
// karma settlement logic.
package service

import (
	"context"
	"fmt"
	"math/rand"
	"net/url"

	"github.com/common-ad-network/internal/models"
	"github.com/common-ad-network/internal/types"
)

// AdInventory provides the eligible-ad reads and the impression counter
// write that selection needs.
type AdInventory interface {
	ListEligible(ctx context.Context, excludeUserID string) ([]*models.EligibleAd, error)
	IncrementImpressions(ctx context.Context, id string) error
}

// SiteDirectory answers whether a site (publisher user) exists.
type SiteDirectory interface {
	Exists(ctx context.Context, id string) (bool, error)
}

// ServeAdInput is one "serve ad" request.
type ServeAdInput struct {
	SiteID string
	// Cluster and Index select the deterministic slot mode when both are
	// supplied; otherwise selection is karma-weighted random.
	Cluster string
	Index   string
}

// ServedAd is the payload returned to the embedding page.
type ServedAd struct {
	ID          string  `json:"id"`
	Headline    string  `json:"headline"`
	Description string  `json:"description"`
	ImageURL    *string `json:"imageUrl"`
	LinkURL     *string `json:"linkUrl"`
	CompanyName string  `json:"companyName"`
	ClickURL    string  `json:"clickUrl"`
}

// AdSelector chooses one ad per serve request and bumps its impression
// counter. It holds no cross-request state; every request re-reads the
// eligible set.
type AdSelector struct {
	ads       AdInventory
	sites     SiteDirectory
	baseURL   string
	randFloat func() float64
}

// NewAdSelector creates an ad selector. baseURL is the public base used to
// build click-tracking URLs.
func NewAdSelector(ads AdInventory, sites SiteDirectory, baseURL string) *AdSelector {
	return &AdSelector{
		ads:       ads,
		sites:     sites,
		baseURL:   baseURL,
		randFloat: rand.Float64,
	}
}

// SelectAd picks one eligible ad for the requesting site. Ads owned by the
// site's own user are never eligible.
func (s *AdSelector) SelectAd(ctx context.Context, input *ServeAdInput) (*ServedAd, error) {
	if input.SiteID == "" {
		return nil, &types.ServiceError{
			Code:    "SITE_ID_REQUIRED",
			Message: "site ID is required",
		}
	}

	exists, err := s.sites.Exists(ctx, input.SiteID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve site: %w", err)
	}
	if !exists {
		return nil, &types.ServiceError{
			Code:    "SITE_NOT_FOUND",
			Message: fmt.Sprintf("site not found: %s", input.SiteID),
		}
	}

	eligible, err := s.ads.ListEligible(ctx, input.SiteID)
	if err != nil {
		return nil, fmt.Errorf("failed to load eligible ads: %w", err)
	}
	if len(eligible) == 0 {
		return nil, &types.ServiceError{
			Code:    "NO_ADS_AVAILABLE",
			Message: "no ads available",
		}
	}

	var selected *models.EligibleAd
	if input.Cluster != "" && input.Index != "" {
		selected = selectBySlot(eligible, input.Cluster, input.Index)
	} else {
		selected = s.selectWeighted(eligible)
	}

	// Every serve counts an impression, independent of later click behavior.
	if err := s.ads.IncrementImpressions(ctx, selected.Ad.ID); err != nil {
		return nil, fmt.Errorf("failed to count impression: %w", err)
	}

	return &ServedAd{
		ID:          selected.Ad.ID,
		Headline:    selected.Ad.Headline,
		Description: selected.Ad.Description,
		ImageURL:    selected.Ad.ImageURL,
		LinkURL:     selected.Ad.LinkURL,
		CompanyName: selected.CompanyName,
		ClickURL: fmt.Sprintf("%s/api/embed/click/%s?site=%s",
			s.baseURL, selected.Ad.ID, url.QueryEscape(input.SiteID)),
	}, nil
}

// selectWeighted draws an ad with probability proportional to
// max(owner karma, 1), so higher-karma advertisers serve more often while
// every ad keeps a nonzero chance.
func (s *AdSelector) selectWeighted(eligible []*models.EligibleAd) *models.EligibleAd {
	var totalWeight int64
	for _, e := range eligible {
		totalWeight += selectionWeight(e.OwnerKarma)
	}

	remainder := s.randFloat() * float64(totalWeight)
	selected := eligible[0]
	for _, e := range eligible {
		remainder -= float64(selectionWeight(e.OwnerKarma))
		if remainder <= 0 {
			selected = e
			break
		}
	}

	return selected
}

func selectionWeight(karma int64) int64 {
	if karma < 1 {
		return 1
	}
	return karma
}

// selectBySlot picks deterministically from cluster id and slot index so
// repeated requests for the same slot return the same ad within a page
// load, while different slots usually differ.
func selectBySlot(eligible []*models.EligibleAd, cluster, index string) *models.EligibleAd {
	return eligible[slotHash(cluster+index)%len(eligible)]
}

// slotHash is a 31x rolling hash with 32-bit wraparound, absolute value.
// Not cryptographic; it only needs to be stable and well spread.
func slotHash(seed string) int {
	var h int32
	for _, r := range seed {
		h = h*31 + int32(r)
	}

	h64 := int64(h)
	if h64 < 0 {
		h64 = -h64
	}
	return int(h64)
}
