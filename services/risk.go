package services

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	"tripnest/backend/models"
	"tripnest/backend/system"

	"gorm.io/gorm"
)

const (
	RecommendAllow     = "allow"
	RecommendRequire3D = "require_3d"
	RecommendBlock     = "block"

	riskBlockThreshold = 70
	risk3DThreshold    = 40
)

// RiskFactor is one weighted contribution to an assessment, kept for
// audit logging; the score alone is not enough for compliance review.
type RiskFactor struct {
	Type     string `json:"type"`
	Severity string `json:"severity"`
	Message  string `json:"message"`
}

// RiskAssessment is recomputed per transaction, never persisted.
type RiskAssessment struct {
	Score          int          `json:"score"`
	Factors        []RiskFactor `json:"factors"`
	Recommendation string       `json:"recommendation"`
}

// RiskInput describes one payment attempt. Optional fields are empty
// or zero when the caller has nothing to report.
type RiskInput struct {
	Amount                 float64 `json:"amount"`
	CardBIN                string  `json:"card_bin"`
	DeviceFingerprint      string  `json:"device_fingerprint"`
	PreviousSuccessCount   int     `json:"previous_success_count"`
	FailedAttemptsInWindow int     `json:"failed_attempts_in_window"`
	Country                string  `json:"country"`
	IPAddress              string  `json:"ip_address"`
}

// FallbackInput feeds the non-3D fallback gate.
type FallbackInput struct {
	Amount               float64 `json:"amount"`
	CardBIN              string  `json:"card_bin"`
	DeviceFingerprint    string  `json:"device_fingerprint"`
	PreviousSuccessCount int     `json:"previous_success_count"`
	RecentFailedAttempts int     `json:"recent_failed_attempts"`
}

// RiskEngine scores payment attempts and gates the strong-auth bypass.
// Settings are read far more often than written: reads work on an
// immutable snapshot that admin updates swap out wholesale.
type RiskEngine struct {
	db *gorm.DB

	mu       sync.RWMutex
	settings models.RiskSettings
}

func NewRiskEngine(db *gorm.DB, settings models.RiskSettings) *RiskEngine {
	return &RiskEngine{db: db, settings: settings}
}

// Settings returns the current configuration snapshot
func (e *RiskEngine) Settings() models.RiskSettings {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.settings
}

// UpdateSettings persists the new configuration and swaps the snapshot.
func (e *RiskEngine) UpdateSettings(settings models.RiskSettings) error {
	settings.ID = 1
	if e.db != nil {
		if err := e.db.Save(&settings).Error; err != nil {
			return fmt.Errorf("persist risk settings: %w", err)
		}
	}

	e.mu.Lock()
	e.settings = settings
	e.mu.Unlock()

	system.Info("Risk settings updated: fallback=%v maxAmount=%.2f", settings.FallbackEnabled, settings.FallbackMaxAmount)
	return nil
}

// AssessRisk computes an additive score from independent factors. Each
// factor is evaluated and recorded regardless of the others; only the
// amount tiers are mutually exclusive.
func (e *RiskEngine) AssessRisk(in RiskInput) RiskAssessment {
	settings := e.Settings()

	var score int
	var factors []RiskFactor
	add := func(points int, factorType, severity, message string) {
		score += points
		factors = append(factors, RiskFactor{Type: factorType, Severity: severity, Message: message})
	}

	switch {
	case in.Amount > 10000:
		add(30, "high_amount", SeverityHigh, fmt.Sprintf("Transaction amount %.2f exceeds 10000", in.Amount))
	case in.Amount > 5000:
		add(15, "elevated_amount", SeverityMedium, fmt.Sprintf("Transaction amount %.2f exceeds 5000", in.Amount))
	}

	allowlist := splitList(settings.BINAllowlist)
	if in.CardBIN != "" && len(allowlist) > 0 && !binInList(in.CardBIN, allowlist) {
		add(20, "unknown_bin", SeverityMedium, "Card BIN "+in.CardBIN+" is not on the configured allowlist")
	}

	if in.FailedAttemptsInWindow > 2 {
		add(40, "failed_attempt_velocity", SeverityHigh, fmt.Sprintf("%d failed attempts within the velocity window", in.FailedAttemptsInWindow))
	}

	if in.PreviousSuccessCount == 0 {
		add(10, "no_transaction_history", SeverityLow, "No prior successful transactions for this identity")
	}

	if in.Country != "" && !strings.EqualFold(in.Country, settings.HomeCountry) {
		add(20, "foreign_country", SeverityMedium, "Transaction country "+in.Country+" differs from home country "+settings.HomeCountry)
	}

	if in.IPAddress == "" {
		add(10, "missing_ip", SeverityLow, "No client IP address supplied")
	}

	return RiskAssessment{
		Score:          score,
		Factors:        factors,
		Recommendation: recommend(score),
	}
}

func recommend(score int) string {
	switch {
	case score >= riskBlockThreshold:
		return RecommendBlock
	case score >= risk3DThreshold:
		return RecommendRequire3D
	default:
		return RecommendAllow
	}
}

// CanUseNon3DFallback is the all-or-nothing gate for skipping strong
// authentication. Every configured precondition must hold; the first
// failure short-circuits with its reason. A "no" here routes the
// payment to the strong-auth path; it is never an error.
func (e *RiskEngine) CanUseNon3DFallback(in FallbackInput) (bool, string) {
	settings := e.Settings()

	if !settings.FallbackEnabled {
		return false, "fallback disabled"
	}
	if in.Amount > settings.FallbackMaxAmount {
		return false, fmt.Sprintf("amount %.2f exceeds fallback ceiling %.2f", in.Amount, settings.FallbackMaxAmount)
	}
	if allowed := splitList(settings.FallbackAllowedBINs); len(allowed) > 0 {
		if !binInList(in.CardBIN, allowed) {
			return false, "card BIN not on fallback allowlist"
		}
	}
	if settings.RequireDeviceFingerprint && in.DeviceFingerprint == "" {
		return false, "device fingerprint required but missing"
	}
	if settings.RequirePreviousSuccess && in.PreviousSuccessCount == 0 {
		return false, "no previous successful charge for this identity"
	}
	if in.RecentFailedAttempts >= settings.MaxAttemptsInWindow {
		return false, fmt.Sprintf("%d recent failed attempts reach the window limit", in.RecentFailedAttempts)
	}
	return true, ""
}

// GetAllowedInstallments unions the installment counts of every
// enabled rule matching the amount and BIN, deduplicated, ascending.
func (e *RiskEngine) GetAllowedInstallments(amount float64, cardBIN string) ([]int, error) {
	if e.db == nil {
		return nil, nil
	}

	var rules []models.InstallmentRule
	if err := e.db.Where("enabled = ?", true).Find(&rules).Error; err != nil {
		return nil, fmt.Errorf("load installment rules: %w", err)
	}

	seen := make(map[int]struct{})
	for _, rule := range rules {
		if amount < rule.MinAmount {
			continue
		}
		if rule.MaxAmount > 0 && amount > rule.MaxAmount {
			continue
		}
		if blocked := splitList(rule.BlockedBINs); len(blocked) > 0 && binInList(cardBIN, blocked) {
			continue
		}
		if allowed := splitList(rule.AllowedBINs); len(allowed) > 0 && !binInList(cardBIN, allowed) {
			continue
		}
		for _, raw := range splitList(rule.Installments) {
			n, err := strconv.Atoi(raw)
			if err != nil || n <= 0 {
				continue
			}
			seen[n] = struct{}{}
		}
	}

	out := make([]int, 0, len(seen))
	for n := range seen {
		out = append(out, n)
	}
	sort.Ints(out)
	return out, nil
}

func splitList(csv string) []string {
	if strings.TrimSpace(csv) == "" {
		return nil
	}
	parts := strings.Split(csv, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if v := strings.TrimSpace(p); v != "" {
			out = append(out, v)
		}
	}
	return out
}

// binInList matches a presented BIN against configured prefixes.
func binInList(bin string, list []string) bool {
	if bin == "" {
		return false
	}
	for _, prefix := range list {
		if strings.HasPrefix(bin, prefix) {
			return true
		}
	}
	return false
}
