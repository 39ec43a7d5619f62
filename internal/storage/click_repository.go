package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/common-ad-network/internal/models"
	"github.com/google/uuid"
)

// ClickRepository handles the append-only click log and click settlement
type ClickRepository struct {
	db *PostgresDB
}

// NewClickRepository creates a new click repository
func NewClickRepository(db *PostgresDB) *ClickRepository {
	return &ClickRepository{db: db}
}

// SettlementParams describes one logical click settlement: record the
// click, bump the ad's click counter, debit the advertiser and credit the
// publisher.
type SettlementParams struct {
	Click           models.Click
	AdvertiserID    string
	AdvertiserDebit int64
	PublisherID     string
	PublisherCredit int64
}

// Settle applies a click settlement as a single transaction. The clicks
// table's uniqueness constraint on (ad_id, ip_address, click_date) is the
// authoritative dedup guard: when the insert conflicts, nothing is counted
// and Settle reports counted=false. All counter and karma mutations are
// SQL-level atomic increments, so concurrent settlements touching the same
// user serialize at the storage layer.
func (r *ClickRepository) Settle(ctx context.Context, params *SettlementParams) (counted bool, err error) {
	click := params.Click
	if click.ID == "" {
		click.ID = uuid.New().String()
	}
	if click.CreatedAt.IsZero() {
		click.CreatedAt = time.Now().UTC()
	}
	click.ClickDate = click.CreatedAt.UTC().Truncate(24 * time.Hour)

	tx, err := r.db.Pool().Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to begin settlement: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx) // nolint:errcheck // no-op after commit
	}()

	insertClick := `
		INSERT INTO clicks (id, ad_id, ip_address, user_agent, country, click_date, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (ad_id, ip_address, click_date) DO NOTHING
	`

	result, err := tx.Exec(ctx, insertClick,
		click.ID,
		click.AdID,
		click.IPAddress,
		click.UserAgent,
		click.Country,
		click.ClickDate,
		click.CreatedAt,
	)
	if err != nil {
		return false, fmt.Errorf("failed to insert click: %w", err)
	}

	// A concurrent first-click won the day bucket; nothing to settle.
	if result.RowsAffected() == 0 {
		return false, nil
	}

	if _, err := tx.Exec(ctx,
		`UPDATE ads SET clicks = clicks + 1, updated_at = $2 WHERE id = $1`,
		click.AdID, click.CreatedAt,
	); err != nil {
		return false, fmt.Errorf("failed to increment clicks: %w", err)
	}

	if _, err := tx.Exec(ctx,
		`UPDATE users SET karma = karma - $2, updated_at = $3 WHERE id = $1`,
		params.AdvertiserID, params.AdvertiserDebit, click.CreatedAt,
	); err != nil {
		return false, fmt.Errorf("failed to debit advertiser: %w", err)
	}

	if _, err := tx.Exec(ctx,
		`UPDATE users SET karma = karma + $2, updated_at = $3 WHERE id = $1`,
		params.PublisherID, params.PublisherCredit, click.CreatedAt,
	); err != nil {
		return false, fmt.Errorf("failed to credit publisher: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("failed to commit settlement: %w", err)
	}

	return true, nil
}

// ExistsToday reports whether a counted click already exists for the
// (ad, address) pair within the current UTC calendar day.
func (r *ClickRepository) ExistsToday(ctx context.Context, adID, ip string, now time.Time) (bool, error) {
	var exists bool
	query := `
		SELECT EXISTS(
			SELECT 1 FROM clicks
			WHERE ad_id = $1 AND ip_address = $2 AND click_date = $3
		)
	`

	day := now.UTC().Truncate(24 * time.Hour)
	err := r.db.Pool().QueryRow(ctx, query, adID, ip, day).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check click existence: %w", err)
	}

	return exists, nil
}

// CountClicksSince counts clicks from an address after the given time.
// This is the history window the fraud detector scans.
func (r *ClickRepository) CountClicksSince(ctx context.Context, ip string, since time.Time) (int64, error) {
	var count int64
	query := `SELECT COUNT(*) FROM clicks WHERE ip_address = $1 AND created_at >= $2`

	err := r.db.Pool().QueryRow(ctx, query, ip, since).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count clicks: %w", err)
	}

	return count, nil
}

// CountPublisherClicksSince counts clicks on ads owned by the given user
// after the given time; the numerator of the trailing-window CTR.
func (r *ClickRepository) CountPublisherClicksSince(ctx context.Context, userID string, since time.Time) (int64, error) {
	var count int64
	query := `
		SELECT COUNT(*)
		FROM clicks c
		JOIN ads a ON a.id = c.ad_id
		WHERE a.user_id = $1 AND c.created_at >= $2
	`

	err := r.db.Pool().QueryRow(ctx, query, userID, since).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count publisher clicks: %w", err)
	}

	return count, nil
}

// DailyClicks is one day of click volume for a user's ads
type DailyClicks struct {
	Date   string `json:"date"`
	Clicks int64  `json:"clicks"`
}

// DailyClicksByUser returns click counts per UTC day over the trailing N
// days for ads owned by the given user, zero-filled for quiet days.
func (r *ClickRepository) DailyClicksByUser(ctx context.Context, userID string, days int, now time.Time) ([]DailyClicks, error) {
	start := now.UTC().Truncate(24 * time.Hour).AddDate(0, 0, -(days - 1))

	query := `
		SELECT c.click_date, COUNT(*)
		FROM clicks c
		JOIN ads a ON a.id = c.ad_id
		WHERE a.user_id = $1 AND c.click_date >= $2
		GROUP BY c.click_date
	`

	rows, err := r.db.Pool().Query(ctx, query, userID, start)
	if err != nil {
		return nil, fmt.Errorf("failed to query daily clicks: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int64)
	for rows.Next() {
		var day time.Time
		var count int64
		if err := rows.Scan(&day, &count); err != nil {
			return nil, fmt.Errorf("failed to scan daily clicks: %w", err)
		}
		counts[day.UTC().Format("2006-01-02")] = count
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating daily clicks: %w", err)
	}

	series := make([]DailyClicks, 0, days)
	for i := 0; i < days; i++ {
		day := start.AddDate(0, 0, i).Format("2006-01-02")
		series = append(series, DailyClicks{Date: day, Clicks: counts[day]})
	}

	return series, nil
}
