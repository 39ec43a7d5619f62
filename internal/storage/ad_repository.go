package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/common-ad-network/internal/models"
	"github.com/common-ad-network/internal/types"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// AdRepository handles ad data persistence
type AdRepository struct {
	db *PostgresDB
}

// NewAdRepository creates a new ad repository
func NewAdRepository(db *PostgresDB) *AdRepository {
	return &AdRepository{db: db}
}

const adColumns = `id, user_id, headline, description, image_url, link_url, category, is_active, is_deleted, impressions, clicks, created_at, updated_at`

func scanAd(row pgx.Row) (*models.Ad, error) {
	var ad models.Ad
	err := row.Scan(
		&ad.ID,
		&ad.UserID,
		&ad.Headline,
		&ad.Description,
		&ad.ImageURL,
		&ad.LinkURL,
		&ad.Category,
		&ad.IsActive,
		&ad.IsDeleted,
		&ad.Impressions,
		&ad.Clicks,
		&ad.CreatedAt,
		&ad.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &ad, nil
}

// Create creates a new ad
func (r *AdRepository) Create(ctx context.Context, ad *models.Ad) error {
	if ad.ID == "" {
		ad.ID = uuid.New().String()
	}

	now := time.Now()
	ad.CreatedAt = now
	ad.UpdatedAt = now
	ad.IsActive = true

	query := `
		INSERT INTO ads (id, user_id, headline, description, image_url, link_url, category, is_active, is_deleted, impressions, clicks, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, 0, 0, $10, $11)
	`

	_, err := r.db.Pool().Exec(ctx, query,
		ad.ID,
		ad.UserID,
		ad.Headline,
		ad.Description,
		ad.ImageURL,
		ad.LinkURL,
		ad.Category,
		ad.IsActive,
		ad.IsDeleted,
		ad.CreatedAt,
		ad.UpdatedAt,
	)

	if err != nil {
		return fmt.Errorf("failed to create ad: %w", err)
	}

	return nil
}

// GetByID retrieves an ad by ID
func (r *AdRepository) GetByID(ctx context.Context, id string) (*models.Ad, error) {
	query := fmt.Sprintf(`SELECT %s FROM ads WHERE id = $1 AND is_deleted = false`, adColumns)

	ad, err := scanAd(r.db.Pool().QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, &types.ServiceError{
				Code:    "AD_NOT_FOUND",
				Message: fmt.Sprintf("ad not found: %s", id),
			}
		}
		return nil, fmt.Errorf("failed to get ad: %w", err)
	}

	return ad, nil
}

// ListEligible returns active, non-deleted ads whose owner is not the given
// site, joined with the owner fields selection needs. Stable creation-time
// order keeps both selection modes deterministic over a fixed set.
func (r *AdRepository) ListEligible(ctx context.Context, excludeUserID string) ([]*models.EligibleAd, error) {
	query := `
		SELECT a.id, a.user_id, a.headline, a.description, a.image_url, a.link_url, a.category,
		       a.is_active, a.is_deleted, a.impressions, a.clicks, a.created_at, a.updated_at,
		       u.company_name, u.karma
		FROM ads a
		JOIN users u ON u.id = a.user_id
		WHERE a.is_active = true AND a.is_deleted = false AND a.user_id != $1
		ORDER BY a.created_at, a.id
	`

	rows, err := r.db.Pool().Query(ctx, query, excludeUserID)
	if err != nil {
		return nil, fmt.Errorf("failed to list eligible ads: %w", err)
	}
	defer rows.Close()

	var ads []*models.EligibleAd
	for rows.Next() {
		var e models.EligibleAd
		err := rows.Scan(
			&e.Ad.ID,
			&e.Ad.UserID,
			&e.Ad.Headline,
			&e.Ad.Description,
			&e.Ad.ImageURL,
			&e.Ad.LinkURL,
			&e.Ad.Category,
			&e.Ad.IsActive,
			&e.Ad.IsDeleted,
			&e.Ad.Impressions,
			&e.Ad.Clicks,
			&e.Ad.CreatedAt,
			&e.Ad.UpdatedAt,
			&e.CompanyName,
			&e.OwnerKarma,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan eligible ad: %w", err)
		}
		ads = append(ads, &e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating eligible ads: %w", err)
	}

	return ads, nil
}

// ListByUser retrieves a user's own ads, including inactive ones
func (r *AdRepository) ListByUser(ctx context.Context, userID string, limit, offset int) ([]*models.Ad, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM ads
		WHERE user_id = $1 AND is_deleted = false
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`, adColumns)

	rows, err := r.db.Pool().Query(ctx, query, userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list ads: %w", err)
	}
	defer rows.Close()

	return collectAds(rows)
}

// ListActive retrieves active, non-deleted ads with pagination
func (r *AdRepository) ListActive(ctx context.Context, limit, offset int) ([]*models.Ad, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM ads
		WHERE is_active = true AND is_deleted = false
		ORDER BY created_at DESC
		LIMIT $1 OFFSET $2
	`, adColumns)

	rows, err := r.db.Pool().Query(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list ads: %w", err)
	}
	defer rows.Close()

	return collectAds(rows)
}

func collectAds(rows pgx.Rows) ([]*models.Ad, error) {
	var ads []*models.Ad
	for rows.Next() {
		ad, err := scanAd(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan ad: %w", err)
		}
		ads = append(ads, ad)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating ads: %w", err)
	}

	return ads, nil
}

// IncrementImpressions bumps the impression counter as a storage-level
// atomic increment; concurrent serves of the same ad never lose updates.
func (r *AdRepository) IncrementImpressions(ctx context.Context, id string) error {
	query := `UPDATE ads SET impressions = impressions + 1, updated_at = $2 WHERE id = $1`

	result, err := r.db.Pool().Exec(ctx, query, id, time.Now())
	if err != nil {
		return fmt.Errorf("failed to increment impressions: %w", err)
	}

	if result.RowsAffected() == 0 {
		return &types.ServiceError{
			Code:    "AD_NOT_FOUND",
			Message: fmt.Sprintf("ad not found: %s", id),
		}
	}

	return nil
}

// SetActive toggles an ad's active flag; only the owner may change it
func (r *AdRepository) SetActive(ctx context.Context, id, userID string, active bool) error {
	query := `UPDATE ads SET is_active = $3, updated_at = $4 WHERE id = $1 AND user_id = $2 AND is_deleted = false`

	result, err := r.db.Pool().Exec(ctx, query, id, userID, active, time.Now())
	if err != nil {
		return fmt.Errorf("failed to update ad: %w", err)
	}

	if result.RowsAffected() == 0 {
		return &types.ServiceError{
			Code:    "AD_NOT_FOUND",
			Message: fmt.Sprintf("ad not found: %s", id),
		}
	}

	return nil
}

// SoftDelete marks an ad deleted; only the owner may delete it
func (r *AdRepository) SoftDelete(ctx context.Context, id, userID string) error {
	query := `UPDATE ads SET is_deleted = true, is_active = false, updated_at = $3 WHERE id = $1 AND user_id = $2`

	result, err := r.db.Pool().Exec(ctx, query, id, userID, time.Now())
	if err != nil {
		return fmt.Errorf("failed to delete ad: %w", err)
	}

	if result.RowsAffected() == 0 {
		return &types.ServiceError{
			Code:    "AD_NOT_FOUND",
			Message: fmt.Sprintf("ad not found: %s", id),
		}
	}

	return nil
}

// PublisherImpressionsSince sums impressions across ads the publisher
// created within the window. Mirrors the reference CTR-bonus input: the
// publisher's own ads' traffic, not the embedding surface's.
func (r *AdRepository) PublisherImpressionsSince(ctx context.Context, userID string, since time.Time) (int64, error) {
	var impressions int64
	query := `
		SELECT COALESCE(SUM(impressions), 0)
		FROM ads
		WHERE user_id = $1 AND created_at >= $2
	`

	err := r.db.Pool().QueryRow(ctx, query, userID, since).Scan(&impressions)
	if err != nil {
		return 0, fmt.Errorf("failed to sum publisher impressions: %w", err)
	}

	return impressions, nil
}
