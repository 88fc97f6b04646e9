package services

import (
	"regexp"
	"strings"
	"sync"

	"tripnest/backend/models"
	"tripnest/backend/system"
)

// Severity levels, ordered. Aggregation always takes the maximum.
const (
	SeverityLow      = "low"
	SeverityMedium   = "medium"
	SeverityHigh     = "high"
	SeverityCritical = "critical"
)

const (
	ActionLog       = "log"
	ActionBlock     = "block"
	ActionChallenge = "challenge"
)

func severityRank(s string) int {
	switch s {
	case SeverityCritical:
		return 3
	case SeverityHigh:
		return 2
	case SeverityMedium:
		return 1
	default:
		return 0
	}
}

// MaxSeverity returns the higher of two severity levels
func MaxSeverity(a, b string) string {
	if severityRank(b) > severityRank(a) {
		return b
	}
	if a == "" {
		return SeverityLow
	}
	return a
}

// RuleMatch is a single signature hit against a request surface.
type RuleMatch struct {
	ID       uint   `json:"id"`
	Name     string `json:"name"`
	Category string `json:"category"`
	Severity string `json:"severity"`
	Action   string `json:"action"`
}

// BotSignature is the per-request User-Agent classification. Advisory
// input to the WAF engine; never persisted.
type BotSignature struct {
	IsBot       bool    `json:"is_bot"`
	IsMalicious bool    `json:"is_malicious"`
	Confidence  float64 `json:"confidence"`
	Reason      string  `json:"reason"`
}

type compiledRule struct {
	id       uint
	name     string
	category string
	severity string
	action   string
	re       *regexp.Regexp
}

// SignatureMatcher holds the compiled attack signatures. Matching is a
// pure function over request text; the rule set is only swapped by Load.
type SignatureMatcher struct {
	mu    sync.RWMutex
	rules []compiledRule
}

func NewSignatureMatcher(sigs []models.AttackSignature) *SignatureMatcher {
	m := &SignatureMatcher{}
	m.Load(sigs)
	return m
}

// Load compiles the enabled signatures and swaps the active rule set.
// Signatures with invalid patterns are skipped with a warning rather
// than taking the matcher down.
func (m *SignatureMatcher) Load(sigs []models.AttackSignature) {
	rules := make([]compiledRule, 0, len(sigs))
	for _, sig := range sigs {
		if !sig.Enabled {
			continue
		}
		re, err := regexp.Compile(sig.Pattern)
		if err != nil {
			system.Warn("Skipping signature %q: invalid pattern: %v", sig.Name, err)
			continue
		}
		rules = append(rules, compiledRule{
			id:       sig.ID,
			name:     sig.Name,
			category: sig.Category,
			severity: sig.Severity,
			action:   sig.Action,
			re:       re,
		})
	}

	m.mu.Lock()
	m.rules = rules
	m.mu.Unlock()
}

// RuleCount returns the number of active compiled rules
func (m *SignatureMatcher) RuleCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.rules)
}

// Match tests every rule against the request surface independently and
// returns all hits plus the highest severity among them. A request
// triggering one low and one critical rule is treated as critical.
func (m *SignatureMatcher) Match(surface string) ([]RuleMatch, string) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var matches []RuleMatch
	severity := SeverityLow
	for _, rule := range m.rules {
		if !rule.re.MatchString(surface) {
			continue
		}
		matches = append(matches, RuleMatch{
			ID:       rule.id,
			Name:     rule.name,
			Category: rule.category,
			Severity: rule.severity,
			Action:   rule.action,
		})
		severity = MaxSeverity(severity, rule.severity)
	}
	return matches, severity
}

// Known attack and pentesting tool fragments (User-Agent, lowercased)
var maliciousToolSignatures = []string{
	"sqlmap", "nikto", "nmap", "masscan", "burp", "metasploit",
	"hydra", "acunetix", "nessus", "wpscan", "dirbuster", "gobuster",
	"wfuzz", "havij", "zgrab", "nuclei", "jmeter", "locust", "wrk/",
	"siege", "apachebench",
}

// Recognized legitimate crawlers (search engines, social unfurlers)
var legitimateCrawlerSignatures = []string{
	"googlebot", "bingbot", "yandexbot", "duckduckbot", "baiduspider",
	"slurp", "applebot", "facebookexternalhit", "twitterbot",
	"linkedinbot", "whatsapp", "telegrambot", "slackbot",
}

// Generic automation: HTTP client libraries, API tools, unnamed bots
var automationSignatures = []string{
	"bot", "crawler", "spider", "scraper", "curl", "wget",
	"python-requests", "python-urllib", "go-http-client", "okhttp",
	"java/", "axios", "node-fetch", "httpclient", "libwww", "postman",
	"insomnia",
}

// ClassifyUserAgent classifies a User-Agent string. The result is
// advisory: the WAF engine decides what to do with it.
func (m *SignatureMatcher) ClassifyUserAgent(ua string) BotSignature {
	trimmed := strings.TrimSpace(ua)
	if len(trimmed) < 10 {
		return BotSignature{
			IsBot:       true,
			IsMalicious: true,
			Confidence:  0.9,
			Reason:      "Missing or abnormally short User-Agent",
		}
	}

	lower := strings.ToLower(trimmed)
	for _, sig := range maliciousToolSignatures {
		if strings.Contains(lower, sig) {
			return BotSignature{
				IsBot:       true,
				IsMalicious: true,
				Confidence:  0.95,
				Reason:      "Known attack tool: " + sig,
			}
		}
	}

	// Legitimate crawlers first: "googlebot" would otherwise hit the
	// generic "bot" fragment below.
	for _, sig := range legitimateCrawlerSignatures {
		if strings.Contains(lower, sig) {
			return BotSignature{
				IsBot:       true,
				IsMalicious: false,
				Confidence:  0.9,
				Reason:      "Recognized crawler: " + sig,
			}
		}
	}

	for _, sig := range automationSignatures {
		if strings.Contains(lower, sig) {
			return BotSignature{
				IsBot:       true,
				IsMalicious: false,
				Confidence:  0.8,
				Reason:      "Automated client: " + sig,
			}
		}
	}

	return BotSignature{Confidence: 0.1, Reason: "No bot indicators"}
}
