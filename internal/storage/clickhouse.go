package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"github.com/common-ad-network/internal/config"
	"github.com/common-ad-network/internal/models"
)

// ClickHouseDB wraps the ClickHouse connection. It is an optional analytics
// sink for the click event stream; the service runs without it.
type ClickHouseDB struct {
	conn driver.Conn
}

// NewClickHouseDB creates a new ClickHouse database connection
func NewClickHouseDB(cfg *config.ClickHouseConfig) (*ClickHouseDB, error) {
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{fmt.Sprintf("%s:%s", cfg.Host, cfg.Port)},
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.User,
			Password: cfg.Password,
		},
		Settings: clickhouse.Settings{
			"max_execution_time": 60,
		},
		DialTimeout:      10 * time.Second,
		MaxOpenConns:     10,
		MaxIdleConns:     5,
		ConnMaxLifetime:  time.Hour,
		ConnOpenStrategy: clickhouse.ConnOpenInOrder,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to ClickHouse: %w", err)
	}

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := conn.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping ClickHouse: %w", err)
	}

	return &ClickHouseDB{conn: conn}, nil
}

// Close closes the ClickHouse connection
func (db *ClickHouseDB) Close() error {
	if db.conn != nil {
		return db.conn.Close()
	}
	return nil
}

// Conn returns the underlying ClickHouse connection
func (db *ClickHouseDB) Conn() driver.Conn {
	return db.conn
}

// Ping checks if the database is reachable
func (db *ClickHouseDB) Ping(ctx context.Context) error {
	return db.conn.Ping(ctx)
}

// Exec executes a query without returning rows
func (db *ClickHouseDB) Exec(ctx context.Context, query string, args ...interface{}) error {
	return db.conn.Exec(ctx, query, args...)
}

// InsertClickEvent appends a counted click to the analytics event stream.
func (db *ClickHouseDB) InsertClickEvent(ctx context.Context, click *models.Click, advertiserID string) error {
	country := ""
	if click.Country != nil {
		country = *click.Country
	}
	userAgent := ""
	if click.UserAgent != nil {
		userAgent = *click.UserAgent
	}

	query := `
		INSERT INTO click_events (id, ad_id, advertiser_id, ip_address, user_agent, country, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	if err := db.conn.Exec(ctx, query,
		click.ID,
		click.AdID,
		advertiserID,
		click.IPAddress,
		userAgent,
		country,
		click.CreatedAt,
	); err != nil {
		return fmt.Errorf("failed to insert click event: %w", err)
	}

	return nil
}

// CountryClicks is the click volume from one resolved country
type CountryClicks struct {
	Country string `json:"country"`
	Clicks  int64  `json:"clicks"`
}

// ClicksByCountry aggregates click volume per resolved country for an
// advertiser's ads within the window. Unresolved countries group under
// "Unknown".
func (db *ClickHouseDB) ClicksByCountry(ctx context.Context, advertiserID string, since time.Time) ([]CountryClicks, error) {
	query := `
		SELECT if(country = '', 'Unknown', country) AS c, toInt64(count()) AS n
		FROM click_events
		WHERE advertiser_id = $1 AND created_at >= $2
		GROUP BY c
		ORDER BY n DESC
	`

	rows, err := db.conn.Query(ctx, query, advertiserID, since)
	if err != nil {
		return nil, fmt.Errorf("failed to query clicks by country: %w", err)
	}
	defer rows.Close()

	var results []CountryClicks
	for rows.Next() {
		var entry CountryClicks
		if err := rows.Scan(&entry.Country, &entry.Clicks); err != nil {
			return nil, fmt.Errorf("failed to scan clicks by country: %w", err)
		}
		results = append(results, entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating clicks by country: %w", err)
	}

	return results, nil
}
