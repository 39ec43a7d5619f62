package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/common-ad-network/internal/config"
	"github.com/common-ad-network/internal/fraud"
	"github.com/common-ad-network/internal/models"
	"github.com/common-ad-network/internal/storage"
	"github.com/common-ad-network/internal/types"
)

const testChromeUA = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

// mockAdCatalog resolves a fixed set of ads
type mockAdCatalog struct {
	ads             map[string]*models.Ad
	impressionsFunc func(ctx context.Context, userID string, since time.Time) (int64, error)
}

func (m *mockAdCatalog) GetByID(ctx context.Context, id string) (*models.Ad, error) {
	if ad, ok := m.ads[id]; ok {
		return ad, nil
	}
	return nil, &types.ServiceError{Code: "AD_NOT_FOUND", Message: "ad not found: " + id}
}

func (m *mockAdCatalog) PublisherImpressionsSince(ctx context.Context, userID string, since time.Time) (int64, error) {
	if m.impressionsFunc != nil {
		return m.impressionsFunc(ctx, userID, since)
	}
	return 1000, nil
}

// mockClickLedger records settlements
type mockClickLedger struct {
	existsFunc func(ctx context.Context, adID, ip string, now time.Time) (bool, error)
	settleFunc func(ctx context.Context, params *storage.SettlementParams) (bool, error)

	settled []*storage.SettlementParams
	clicks  int64
}

func (m *mockClickLedger) Settle(ctx context.Context, params *storage.SettlementParams) (bool, error) {
	if m.settleFunc != nil {
		return m.settleFunc(ctx, params)
	}
	m.settled = append(m.settled, params)
	return true, nil
}

func (m *mockClickLedger) ExistsToday(ctx context.Context, adID, ip string, now time.Time) (bool, error) {
	if m.existsFunc != nil {
		return m.existsFunc(ctx, adID, ip, now)
	}
	return false, nil
}

func (m *mockClickLedger) CountPublisherClicksSince(ctx context.Context, userID string, since time.Time) (int64, error) {
	return m.clicks, nil
}

// mockKarmaAccounts serves fixed balances
type mockKarmaAccounts struct {
	karma map[string]int64
}

func (m *mockKarmaAccounts) GetKarma(ctx context.Context, id string) (int64, error) {
	if karma, ok := m.karma[id]; ok {
		return karma, nil
	}
	return 0, &types.ServiceError{Code: "USER_NOT_FOUND", Message: "user not found: " + id}
}

// mockDedupCache is an in-memory fast-path cache
type mockDedupCache struct {
	marked  map[string]bool
	wasErr  error
	markErr error
}

func newMockDedupCache() *mockDedupCache {
	return &mockDedupCache{marked: make(map[string]bool)}
}

func (m *mockDedupCache) WasClickedToday(ctx context.Context, adID, ip string, now time.Time) (bool, error) {
	if m.wasErr != nil {
		return false, m.wasErr
	}
	return m.marked[adID+"|"+ip], nil
}

func (m *mockDedupCache) MarkClickedToday(ctx context.Context, adID, ip string, now time.Time) error {
	if m.markErr != nil {
		return m.markErr
	}
	m.marked[adID+"|"+ip] = true
	return nil
}

// mockGeoResolver returns a fixed country
type mockGeoResolver struct {
	country string
}

func (m *mockGeoResolver) Lookup(ctx context.Context, ip string) types.GeoLocation {
	if m.country == "" {
		return types.GeoLocation{}
	}
	country := m.country
	return types.GeoLocation{Country: &country}
}

// mockClickHistory backs the fraud detector in click service tests
type mockClickHistory struct {
	count int64
}

func (m *mockClickHistory) CountClicksSince(ctx context.Context, ip string, since time.Time) (int64, error) {
	return m.count, nil
}

// mockEventSink records published click events
type mockEventSink struct {
	events chan *models.Click
}

func (m *mockEventSink) InsertClickEvent(ctx context.Context, click *models.Click, advertiserID string) error {
	m.events <- click
	return nil
}

type clickFixture struct {
	catalog *mockAdCatalog
	ledger  *mockClickLedger
	users   *mockKarmaAccounts
	dedup   *mockDedupCache
	service *ClickService
}

func newClickFixture() *clickFixture {
	link := "https://advertiser.example/product"
	f := &clickFixture{
		catalog: &mockAdCatalog{
			ads: map[string]*models.Ad{
				"ad-1": {
					ID:      "ad-1",
					UserID:  "advertiser-1",
					LinkURL: &link,
				},
			},
		},
		ledger: &mockClickLedger{},
		users: &mockKarmaAccounts{
			karma: map[string]int64{
				"site-1":       5000,
				"advertiser-1": 2000,
			},
		},
		dedup: newMockDedupCache(),
	}

	karma := NewKarmaEngine(config.KarmaConfig{
		CostPerClick:       10,
		SmallSiteThreshold: 1000,
		SmallSiteBonus:     1.5,
		CTRWindow:          30 * 24 * time.Hour,
	})
	detector := fraud.NewDetector(fraud.DefaultConfig(), &mockClickHistory{})

	f.service = NewClickService(
		f.catalog,
		f.ledger,
		f.users,
		f.dedup,
		&mockGeoResolver{country: "Germany"},
		detector,
		karma,
		nil,
		"http://localhost:8080",
		"https://fallback.example",
	)
	return f
}

func clickInput() *RecordClickInput {
	return &RecordClickInput{
		AdID:      "ad-1",
		SiteID:    "site-1",
		IPAddress: "203.0.113.7",
		UserAgent: testChromeUA,
	}
}

// TestRecordClick_Counted tests the happy path settlement
func TestRecordClick_Counted(t *testing.T) {
	f := newClickFixture()
	f.ledger.clicks = 50
	f.catalog.impressionsFunc = func(ctx context.Context, userID string, since time.Time) (int64, error) {
		return 1000, nil // 5% CTR
	}

	result := f.service.RecordClick(context.Background(), clickInput())

	if result.Outcome != types.ClickCounted {
		t.Fatalf("Expected counted outcome, got %s", result.Outcome)
	}
	if result.RedirectURL != "https://advertiser.example/product" {
		t.Errorf("Expected ad destination, got %s", result.RedirectURL)
	}

	if len(f.ledger.settled) != 1 {
		t.Fatalf("Expected one settlement, got %d", len(f.ledger.settled))
	}
	params := f.ledger.settled[0]
	if params.AdvertiserID != "advertiser-1" || params.AdvertiserDebit != 10 {
		t.Errorf("Expected advertiser-1 debited 10, got %s debited %d", params.AdvertiserID, params.AdvertiserDebit)
	}
	if params.PublisherID != "site-1" || params.PublisherCredit != 10 {
		t.Errorf("Expected site-1 credited 10 at 5%% CTR, got %s credited %d", params.PublisherID, params.PublisherCredit)
	}
	if params.Click.Country == nil || *params.Click.Country != "Germany" {
		t.Errorf("Expected resolved country on click, got %v", params.Click.Country)
	}

	// Counted clicks prime the fast-path cache
	if !f.dedup.marked["ad-1|203.0.113.7"] {
		t.Error("Expected dedup cache to be marked after counting")
	}
}

// TestRecordClick_SmallSiteBonus tests boosted publisher credit
func TestRecordClick_SmallSiteBonus(t *testing.T) {
	f := newClickFixture()
	f.users.karma["site-1"] = 500
	f.ledger.clicks = 200
	f.catalog.impressionsFunc = func(ctx context.Context, userID string, since time.Time) (int64, error) {
		return 1000, nil // 20% CTR
	}

	result := f.service.RecordClick(context.Background(), clickInput())

	if result.Outcome != types.ClickCounted {
		t.Fatalf("Expected counted outcome, got %s", result.Outcome)
	}
	if f.ledger.settled[0].PublisherCredit != 60 {
		t.Errorf("Expected boosted credit 60, got %d", f.ledger.settled[0].PublisherCredit)
	}
}

// TestRecordClick_MissingSite tests fallback when no site is given
func TestRecordClick_MissingSite(t *testing.T) {
	f := newClickFixture()

	input := clickInput()
	input.SiteID = ""
	result := f.service.RecordClick(context.Background(), input)

	if result.Outcome != types.ClickFailed {
		t.Errorf("Expected failed outcome, got %s", result.Outcome)
	}
	if result.RedirectURL != "https://fallback.example" {
		t.Errorf("Expected fallback redirect, got %s", result.RedirectURL)
	}
	if len(f.ledger.settled) != 0 {
		t.Error("Expected no settlement")
	}
}

// TestRecordClick_UnknownAd tests fallback for unknown ads
func TestRecordClick_UnknownAd(t *testing.T) {
	f := newClickFixture()

	input := clickInput()
	input.AdID = "nope"
	result := f.service.RecordClick(context.Background(), input)

	if result.Outcome != types.ClickFailed {
		t.Errorf("Expected failed outcome, got %s", result.Outcome)
	}
	if result.RedirectURL != "https://fallback.example" {
		t.Errorf("Expected fallback redirect, got %s", result.RedirectURL)
	}
}

// TestRecordClick_DuplicateFromLedger tests the authoritative dedup check
func TestRecordClick_DuplicateFromLedger(t *testing.T) {
	f := newClickFixture()
	f.ledger.existsFunc = func(ctx context.Context, adID, ip string, now time.Time) (bool, error) {
		return true, nil
	}

	result := f.service.RecordClick(context.Background(), clickInput())

	if result.Outcome != types.ClickDuplicate {
		t.Errorf("Expected duplicate outcome, got %s", result.Outcome)
	}
	// The visitor still lands on the destination
	if result.RedirectURL != "https://advertiser.example/product" {
		t.Errorf("Expected ad destination on duplicate, got %s", result.RedirectURL)
	}
	if len(f.ledger.settled) != 0 {
		t.Error("Expected no settlement for duplicate")
	}
	// Authoritative duplicates backfill the fast-path cache
	if !f.dedup.marked["ad-1|203.0.113.7"] {
		t.Error("Expected dedup cache to be marked for known duplicate")
	}
}

// TestRecordClick_DuplicateFromCache tests the fast-path short-circuit
func TestRecordClick_DuplicateFromCache(t *testing.T) {
	f := newClickFixture()
	f.dedup.marked["ad-1|203.0.113.7"] = true

	existsCalled := false
	f.ledger.existsFunc = func(ctx context.Context, adID, ip string, now time.Time) (bool, error) {
		existsCalled = true
		return false, nil
	}

	result := f.service.RecordClick(context.Background(), clickInput())

	if result.Outcome != types.ClickDuplicate {
		t.Errorf("Expected duplicate outcome, got %s", result.Outcome)
	}
	if existsCalled {
		t.Error("Expected cache hit to skip the storage dedup check")
	}
}

// TestRecordClick_CacheErrorFallsThrough tests that a broken cache does not
// block click processing
func TestRecordClick_CacheErrorFallsThrough(t *testing.T) {
	f := newClickFixture()
	f.dedup.wasErr = errors.New("connection refused")
	f.dedup.markErr = errors.New("connection refused")

	result := f.service.RecordClick(context.Background(), clickInput())

	if result.Outcome != types.ClickCounted {
		t.Errorf("Expected counted outcome despite cache errors, got %s", result.Outcome)
	}
}

// TestRecordClick_ConcurrentFirstClickLost tests the settle-reports-duplicate path
func TestRecordClick_ConcurrentFirstClickLost(t *testing.T) {
	f := newClickFixture()
	f.ledger.settleFunc = func(ctx context.Context, params *storage.SettlementParams) (bool, error) {
		return false, nil
	}

	result := f.service.RecordClick(context.Background(), clickInput())

	if result.Outcome != types.ClickDuplicate {
		t.Errorf("Expected duplicate outcome when settlement loses the race, got %s", result.Outcome)
	}
}

// TestRecordClick_BotRejected tests fraud gating
func TestRecordClick_BotRejected(t *testing.T) {
	f := newClickFixture()

	input := clickInput()
	input.UserAgent = "curl/8.4.0"
	result := f.service.RecordClick(context.Background(), input)

	if result.Outcome != types.ClickRejected {
		t.Errorf("Expected rejected outcome, got %s", result.Outcome)
	}
	if len(result.Reasons) == 0 {
		t.Error("Expected rejection reasons")
	}
	// Rejected visitors still reach the destination
	if result.RedirectURL != "https://advertiser.example/product" {
		t.Errorf("Expected ad destination on rejection, got %s", result.RedirectURL)
	}
	if len(f.ledger.settled) != 0 {
		t.Error("Expected no settlement for rejected click")
	}
}

// TestRecordClick_LowTrustRejected tests the trust score threshold
func TestRecordClick_LowTrustRejected(t *testing.T) {
	f := newClickFixture()

	// Private address with no user agent and unknown country stacks enough
	// deductions to fall under the default threshold
	karma := NewKarmaEngine(config.KarmaConfig{CostPerClick: 10, SmallSiteThreshold: 1000, SmallSiteBonus: 1.5, CTRWindow: 30 * 24 * time.Hour})
	detector := fraud.NewDetector(fraud.DefaultConfig(), &mockClickHistory{})
	f.service = NewClickService(
		f.catalog, f.ledger, f.users, f.dedup,
		&mockGeoResolver{country: "Unknown"},
		detector, karma, nil,
		"http://localhost:8080", "https://fallback.example",
	)

	input := clickInput()
	input.IPAddress = "192.168.1.10"
	input.UserAgent = ""
	result := f.service.RecordClick(context.Background(), input)

	if result.Outcome != types.ClickRejected {
		t.Errorf("Expected rejected outcome, got %s", result.Outcome)
	}
	if result.TrustScore >= 50 {
		t.Errorf("Expected trust score under threshold, got %d", result.TrustScore)
	}
}

// TestRecordClick_UnknownPublisherCountsWithoutCredit tests that clicks from
// unregistered sites still count and debit the advertiser
func TestRecordClick_UnknownPublisherCountsWithoutCredit(t *testing.T) {
	f := newClickFixture()

	input := clickInput()
	input.SiteID = "stranger"
	result := f.service.RecordClick(context.Background(), input)

	if result.Outcome != types.ClickCounted {
		t.Fatalf("Expected counted outcome, got %s", result.Outcome)
	}
	params := f.ledger.settled[0]
	if params.PublisherCredit != 0 {
		t.Errorf("Expected zero credit for unknown publisher, got %d", params.PublisherCredit)
	}
	if params.AdvertiserDebit != 10 {
		t.Errorf("Expected advertiser still debited, got %d", params.AdvertiserDebit)
	}
}

// TestRecordClick_SettlementErrorFailsClick tests storage failure handling
func TestRecordClick_SettlementErrorFailsClick(t *testing.T) {
	f := newClickFixture()
	f.ledger.settleFunc = func(ctx context.Context, params *storage.SettlementParams) (bool, error) {
		return false, errors.New("deadlock detected")
	}

	result := f.service.RecordClick(context.Background(), clickInput())

	if result.Outcome != types.ClickFailed {
		t.Errorf("Expected failed outcome, got %s", result.Outcome)
	}
	// The visitor still reaches the destination
	if result.RedirectURL != "https://advertiser.example/product" {
		t.Errorf("Expected ad destination, got %s", result.RedirectURL)
	}
}

// TestRecordClick_NoLinkFallsBackToDetailPage tests destination for ads
// without a link
func TestRecordClick_NoLinkFallsBackToDetailPage(t *testing.T) {
	f := newClickFixture()
	f.catalog.ads["ad-1"].LinkURL = nil

	result := f.service.RecordClick(context.Background(), clickInput())

	if result.RedirectURL != "http://localhost:8080/ads/ad-1" {
		t.Errorf("Expected detail page redirect, got %s", result.RedirectURL)
	}
}

// TestRecordClick_PublishesEvent tests that counted clicks reach the sink
func TestRecordClick_PublishesEvent(t *testing.T) {
	f := newClickFixture()
	sink := &mockEventSink{events: make(chan *models.Click, 1)}

	karma := NewKarmaEngine(config.KarmaConfig{CostPerClick: 10, SmallSiteThreshold: 1000, SmallSiteBonus: 1.5, CTRWindow: 30 * 24 * time.Hour})
	detector := fraud.NewDetector(fraud.DefaultConfig(), &mockClickHistory{})
	f.service = NewClickService(
		f.catalog, f.ledger, f.users, f.dedup,
		&mockGeoResolver{country: "Germany"},
		detector, karma, sink,
		"http://localhost:8080", "https://fallback.example",
	)

	result := f.service.RecordClick(context.Background(), clickInput())
	if result.Outcome != types.ClickCounted {
		t.Fatalf("Expected counted outcome, got %s", result.Outcome)
	}

	select {
	case click := <-sink.events:
		if click.AdID != "ad-1" {
			t.Errorf("Expected event for ad-1, got %s", click.AdID)
		}
	case <-time.After(2 * time.Second):
		t.Error("Expected click event to be published")
	}
}
