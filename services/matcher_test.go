package services

import (
	"testing"

	"tripnest/backend/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func defaultMatcher() *SignatureMatcher {
	return NewSignatureMatcher(models.SeedDefaultSignatures())
}

func TestMatch_BooleanSQLInjection(t *testing.T) {
	m := defaultMatcher()

	matches, severity := m.Match("/search?q=' OR 1=1 --")
	require.NotEmpty(t, matches)
	assert.Equal(t, SeverityHigh, severity)

	var names []string
	for _, match := range matches {
		names = append(names, match.Name)
	}
	assert.Contains(t, names, "SQL Injection - Boolean")
}

func TestMatch_MaxSeverityAggregation(t *testing.T) {
	m := defaultMatcher()

	// One high rule (boolean sqli) and one critical rule (script tag)
	// in the same surface: the verdict severity is the maximum.
	matches, severity := m.Match("/q?a=' OR 1=1 --&b=<script>alert(1)</script>")
	require.GreaterOrEqual(t, len(matches), 2)
	assert.Equal(t, SeverityCritical, severity)
}

func TestMatch_CleanRequest(t *testing.T) {
	m := defaultMatcher()

	matches, severity := m.Match("/api/hotels?city=paris&nights=3")
	assert.Empty(t, matches)
	assert.Equal(t, SeverityLow, severity)
}

func TestMatch_IndependentRules(t *testing.T) {
	m := defaultMatcher()

	tests := []struct {
		name    string
		surface string
		rule    string
	}{
		{"union select", "/items?id=1 UNION SELECT password FROM users", "SQL Injection - UNION SELECT"},
		{"path traversal", "/files/../../etc/passwd", "Path Traversal"},
		{"command injection", "/ping?host=8.8.8.8;cat /etc/hosts", "Command Injection"},
		{"template injection", "/profile?name={{7*7}}", "Template Injection"},
		{"nosql operator", `{"email":{"$ne":null}}`, "NoSQL Operator Injection"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			matches, _ := m.Match(tt.surface)
			var names []string
			for _, match := range matches {
				names = append(names, match.Name)
			}
			assert.Contains(t, names, tt.rule)
		})
	}
}

func TestLoad_SkipsDisabledAndInvalid(t *testing.T) {
	m := NewSignatureMatcher([]models.AttackSignature{
		{Name: "active", Pattern: `evil`, Severity: SeverityHigh, Action: ActionBlock, Enabled: true},
		{Name: "disabled", Pattern: `benign`, Severity: SeverityHigh, Action: ActionBlock, Enabled: false},
		{Name: "broken", Pattern: `([unclosed`, Severity: SeverityHigh, Action: ActionBlock, Enabled: true},
	})

	assert.Equal(t, 1, m.RuleCount())

	matches, _ := m.Match("something evil here")
	require.Len(t, matches, 1)
	assert.Equal(t, "active", matches[0].Name)
}

func TestLoad_SwapsRuleSet(t *testing.T) {
	m := NewSignatureMatcher([]models.AttackSignature{
		{Name: "old", Pattern: `old-pattern`, Severity: SeverityLow, Action: ActionLog, Enabled: true},
	})
	m.Load([]models.AttackSignature{
		{Name: "new", Pattern: `new-pattern`, Severity: SeverityLow, Action: ActionLog, Enabled: true},
	})

	matches, _ := m.Match("old-pattern")
	assert.Empty(t, matches)
	matches, _ = m.Match("new-pattern")
	assert.Len(t, matches, 1)
}

func TestClassifyUserAgent(t *testing.T) {
	m := defaultMatcher()

	tests := []struct {
		name        string
		ua          string
		isBot       bool
		isMalicious bool
		confidence  float64
	}{
		{"attack tool", "sqlmap/1.7.2#stable (https://sqlmap.org)", true, true, 0.95},
		{"short ua", "curl", true, true, 0.9},
		{"empty ua", "", true, true, 0.9},
		{"legit crawler", "Mozilla/5.0 (compatible; Googlebot/2.1; +http://www.google.com/bot.html)", true, false, 0.9},
		{"http library", "python-requests/2.31.0", true, false, 0.8},
		{"curl full", "curl/8.4.0 (x86_64-pc-linux-gnu)", true, false, 0.8},
		{"browser", "Mozilla/5.0 (X11; Linux x86_64; rv:122.0) Gecko/20100101 Firefox/122.0", false, false, 0.1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := m.ClassifyUserAgent(tt.ua)
			assert.Equal(t, tt.isBot, got.IsBot)
			assert.Equal(t, tt.isMalicious, got.IsMalicious)
			assert.InDelta(t, tt.confidence, got.Confidence, 0.001)
		})
	}
}

func TestMaxSeverity(t *testing.T) {
	assert.Equal(t, SeverityCritical, MaxSeverity(SeverityLow, SeverityCritical))
	assert.Equal(t, SeverityCritical, MaxSeverity(SeverityCritical, SeverityMedium))
	assert.Equal(t, SeverityHigh, MaxSeverity(SeverityHigh, SeverityMedium))
	assert.Equal(t, SeverityLow, MaxSeverity("", ""))
}
