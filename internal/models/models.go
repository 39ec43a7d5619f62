// Package models defines the persistent entities of the ad network.
package models

import "time"

// User is both an advertiser (owns ads) and a publisher (embeds ads).
// A user's own ID doubles as the site ID when they embed ads on their
// property; there is no separate site entity.
type User struct {
	ID          string    `json:"id"`
	Email       string    `json:"email"`
	CompanyName string    `json:"companyName"`
	CompanyLink *string   `json:"companyLink,omitempty"`
	ProfilePic  *string   `json:"profilePic,omitempty"`
	Category    *string   `json:"category,omitempty"`
	Karma       int64     `json:"karma"`
	IsApproved  bool      `json:"isApproved"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// Ad is an advertisement owned by exactly one user. Impressions and clicks
// are monotonic counters mutated only through atomic storage increments.
type Ad struct {
	ID          string    `json:"id"`
	UserID      string    `json:"userId"`
	Headline    string    `json:"headline"`
	Description string    `json:"description"`
	ImageURL    *string   `json:"imageUrl,omitempty"`
	LinkURL     *string   `json:"linkUrl,omitempty"`
	Category    *string   `json:"category,omitempty"`
	IsActive    bool      `json:"isActive"`
	IsDeleted   bool      `json:"isDeleted"`
	Impressions int64     `json:"impressions"`
	Clicks      int64     `json:"clicks"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// Click is an append-only log row for a counted click. It is both the
// source of truth for daily deduplication and the history window scanned
// by fraud detection. Never updated or deleted.
type Click struct {
	ID        string    `json:"id"`
	AdID      string    `json:"adId"`
	IPAddress string    `json:"ipAddress"`
	UserAgent *string   `json:"userAgent,omitempty"`
	Country   *string   `json:"country,omitempty"`
	ClickDate time.Time `json:"clickDate"`
	CreatedAt time.Time `json:"createdAt"`
}

// EligibleAd is an active ad joined with the owner fields needed for
// selection: the advertiser's karma drives the selection weight.
type EligibleAd struct {
	Ad          Ad
	CompanyName string
	OwnerKarma  int64
}
