package models

import (
	"time"
)

type User struct {
	ID                uint       `gorm:"primaryKey" json:"id"`
	Email             string     `gorm:"unique;not null" json:"email"`
	Password          string     `gorm:"not null" json:"-"` // Stored hashed
	Role              string     `gorm:"default:'user'" json:"role"` // user, admin
	Active            bool       `gorm:"default:true" json:"active"`
	EmailVerified     bool       `gorm:"default:false" json:"email_verified"`
	FailedAttempts    int        `gorm:"default:0" json:"-"`
	LastFailedAttempt *time.Time `json:"-"`
	LockedUntil       *time.Time `json:"-"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

// AttackEvent is the server-side audit record for a WAF detection.
// Clients only ever see the correlation ID; the rule detail stays here.
type AttackEvent struct {
	ID            uint      `gorm:"primaryKey" json:"id"`
	Timestamp     time.Time `gorm:"index" json:"timestamp"`
	SourceIP      string    `gorm:"index" json:"source_ip"`
	Rules         string    `json:"rules"` // Comma-separated rule names
	Severity      string    `json:"severity"`
	Method        string    `json:"method"`
	Path          string    `json:"path"`
	UserAgent     string    `json:"user_agent"`
	Blocked       bool      `json:"blocked"`
	CorrelationID string    `gorm:"index" json:"correlation_id"`
}

// RiskSettings is the single-row (ID=1) payment risk configuration.
// Reads vastly outnumber writes; the risk engine keeps an in-memory
// snapshot and swaps it when an admin updates this row.
type RiskSettings struct {
	ID           uint   `gorm:"primaryKey" json:"id"`
	HomeCountry  string `gorm:"default:'GB'" json:"home_country"`
	BINAllowlist string `json:"bin_allowlist"` // Comma-separated BIN prefixes, empty = no list configured

	// Non-3D fallback gate (skip strong authentication)
	FallbackEnabled          bool    `gorm:"default:false" json:"fallback_enabled"`
	FallbackMaxAmount        float64 `gorm:"default:100" json:"fallback_max_amount"`
	FallbackAllowedBINs      string  `json:"fallback_allowed_bins"`
	RequireDeviceFingerprint bool    `gorm:"default:true" json:"require_device_fingerprint"`
	RequirePreviousSuccess   bool    `gorm:"default:true" json:"require_previous_success"`
	VelocityWindowMinutes    int     `gorm:"default:30" json:"velocity_window_minutes"`
	MaxAttemptsInWindow      int     `gorm:"default:3" json:"max_attempts_in_window"`

	// Data Retention
	AttackHistoryDays int `gorm:"default:30" json:"attack_history_days"` // Days to keep attack history

	UpdatedAt time.Time `json:"updated_at"`
}

// InstallmentRule maps an amount band (and optional BIN lists) to the
// installment counts permitted for it.
type InstallmentRule struct {
	ID           uint      `gorm:"primaryKey" json:"id"`
	Name         string    `gorm:"not null" json:"name"`
	MinAmount    float64   `gorm:"default:0" json:"min_amount"`
	MaxAmount    float64   `gorm:"default:0" json:"max_amount"` // 0 = no upper bound
	AllowedBINs  string    `json:"allowed_bins"`                // Comma-separated, empty = any BIN
	BlockedBINs  string    `json:"blocked_bins"`
	Installments string    `gorm:"not null" json:"installments"` // Comma-separated counts, e.g. "1,3,6"
	Enabled      bool      `gorm:"default:true" json:"enabled"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}
