// Package types contains shared types used across the ad network service.
package types

// ServiceError represents a structured error response
type ServiceError struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

func (e *ServiceError) Error() string {
	return e.Message
}

// GeoLocation represents the result of an IP geolocation lookup.
// All fields are nullable; a failed lookup yields the zero value.
type GeoLocation struct {
	Country  *string `json:"country"`
	City     *string `json:"city"`
	Region   *string `json:"region"`
	Timezone *string `json:"timezone"`
}

// FraudCheck is the advisory suspicion verdict for a click attempt.
type FraudCheck struct {
	IsSuspicious bool     `json:"isSuspicious"`
	Reasons      []string `json:"reasons"`
}

// ClickOutcome describes what happened to a click attempt. The visitor is
// redirected regardless of the outcome; only counted clicks mutate state.
type ClickOutcome string

const (
	// ClickCounted means the click was recorded and settled.
	ClickCounted ClickOutcome = "counted"
	// ClickDuplicate means the (ad, address) pair already clicked today.
	ClickDuplicate ClickOutcome = "duplicate"
	// ClickRejected means fraud gating refused to count the click.
	ClickRejected ClickOutcome = "rejected"
	// ClickFailed means a storage failure prevented counting.
	ClickFailed ClickOutcome = "failed"
)
