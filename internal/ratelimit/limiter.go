// Package ratelimit implements the admission gate that protects the downstream
// inference API: a sliding window per client plus a global quota per UTC day.
package ratelimit

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidConfig is returned when a limit or window is not positive.
var ErrInvalidConfig = errors.New("invalid rate limit config")

// Reason explains why Admit denied a request.
type Reason string

const (
	ReasonNone        Reason = ""
	ReasonDailyLimit  Reason = "daily_limit"
	ReasonClientLimit Reason = "client_limit"
)

// GlobalResult contains the outcome of a daily quota check.
type GlobalResult struct {
	Allowed   bool // Whether today's quota still has room
	Remaining int  // Admissions left today
	Total     int  // Admissions so far today
	Limit     int  // The configured daily limit
}

// ClientResult contains the outcome of a per-client window check.
type ClientResult struct {
	Allowed    bool          // Whether the attempt fits in the window
	Remaining  int           // Attempts left in the current window
	Limit      int           // The configured per-client limit
	ResetAt    time.Time     // When the current window expires
	RetryAfter time.Duration // Time until ResetAt (if blocked)
}

// Decision is the combined outcome of Admit.
type Decision struct {
	Allowed      bool
	Reason       Reason
	Client       ClientResult
	Global       GlobalResult
	DailyResetAt time.Time // Start of the next UTC day
}

// GlobalStats reports the daily counter.
type GlobalStats struct {
	Total     int    `json:"total"`
	Limit     int    `json:"limit"`
	Remaining int    `json:"remaining"`
	Day       string `json:"day"`
}

// ClientStats reports one client's window.
type ClientStats struct {
	ID        string    `json:"id"`
	Count     int       `json:"count"`
	Limit     int       `json:"limit"`
	Remaining int       `json:"remaining"`
	ResetAt   time.Time `json:"reset_at"`
}

// Stats is a point-in-time snapshot of the gate.
type Stats struct {
	Global          GlobalStats  `json:"global"`
	Client          *ClientStats `json:"client"`
	DistinctClients int          `json:"distinct_clients"`
}

// Config holds admission gate configuration.
type Config struct {
	ClientLimit int           // Maximum attempts per client per window
	Window      time.Duration // Per-client window length
	DailyLimit  int           // Maximum admissions per UTC day
}

// DefaultConfig returns a default configuration.
func DefaultConfig() Config {
	return Config{
		ClientLimit: 5,
		Window:      time.Minute,
		DailyLimit:  2000,
	}
}

// Validate reports whether every limit is usable.
func (c Config) Validate() error {
	if c.ClientLimit <= 0 {
		return fmt.Errorf("%w: client limit must be positive, got %d", ErrInvalidConfig, c.ClientLimit)
	}
	if c.Window <= 0 {
		return fmt.Errorf("%w: window must be positive, got %s", ErrInvalidConfig, c.Window)
	}
	if c.DailyLimit <= 0 {
		return fmt.Errorf("%w: daily limit must be positive, got %d", ErrInvalidConfig, c.DailyLimit)
	}
	return nil
}
