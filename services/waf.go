package services

import (
	"sort"
	"strings"
	"time"

	"tripnest/backend/models"
	"tripnest/backend/system"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// RequestInfo is the inbound request descriptor handed to the WAF.
// Missing fields are treated as empty strings, never as errors.
type RequestInfo struct {
	IP        string
	Method    string
	URL       string
	UserAgent string
	Headers   map[string]string
	Body      string
}

// Verdict is the structured classification result. Enforcement (403,
// headers, response body) is the middleware's job, not the engine's.
type Verdict struct {
	Blocked       bool         `json:"blocked"`
	Suspicious    bool         `json:"suspicious"`
	Attacks       []string     `json:"attacks"`
	Reason        string       `json:"reason"`
	Severity      string       `json:"severity"`
	BotAnalysis   BotSignature `json:"bot_analysis"`
	CorrelationID string       `json:"correlation_id"`
}

// WAFEngine classifies each request independently; all cross-request
// state lives in the attack tracker.
type WAFEngine struct {
	matcher *SignatureMatcher
	tracker *AttackTracker
	db      *gorm.DB // nil disables audit persistence
}

func NewWAFEngine(matcher *SignatureMatcher, tracker *AttackTracker, db *gorm.DB) *WAFEngine {
	return &WAFEngine{matcher: matcher, tracker: tracker, db: db}
}

// Inspect classifies a single inbound request.
func (w *WAFEngine) Inspect(req RequestInfo) Verdict {
	v := Verdict{
		Severity:      SeverityLow,
		CorrelationID: uuid.NewString(),
	}

	// Standing block-set short-circuits everything else.
	if w.tracker.IsBlocked(req.IP) {
		v.Blocked = true
		v.Severity = SeverityCritical
		v.Attacks = []string{"IP_BLOCKED"}
		v.Reason = "IP blocked due to previous attacks"
		w.audit(req, v)
		return v
	}

	v.BotAnalysis = w.matcher.ClassifyUserAgent(req.UserAgent)
	if v.BotAnalysis.IsMalicious {
		v.Blocked = true
		v.Suspicious = true
		v.Attacks = append(v.Attacks, "MALICIOUS_BOT")
		v.Severity = SeverityCritical
	}

	matches, matchSeverity := w.matcher.Match(buildSurface(req))
	var ruleNames []string
	for _, m := range matches {
		ruleNames = append(ruleNames, m.Name)
		if m.Action == ActionBlock {
			v.Blocked = true
		}
	}
	v.Attacks = append(v.Attacks, ruleNames...)
	if len(matches) > 0 {
		v.Severity = MaxSeverity(v.Severity, matchSeverity)
		v.Suspicious = true
		w.tracker.RecordAttacks(req.IP, ruleNames)
	}

	// Velocity is independent of signature matching.
	if w.tracker.RecordRequest(req.IP) {
		v.Attacks = append(v.Attacks, "RAPID_REQUESTS")
		v.Suspicious = true
		v.Severity = MaxSeverity(v.Severity, SeverityMedium)
	}

	if w.tracker.ShouldAutoBlock(req.IP) {
		v.Blocked = true
		v.Severity = SeverityCritical
	}

	v.Reason = w.reason(v, matches)

	if len(v.Attacks) > 0 {
		w.audit(req, v)
		w.bumpHitCounters(ruleNames)
	}
	return v
}

// reason summarizes the dominant cause, highest priority first. The
// standing-block case never reaches here; Inspect returns early for it.
func (w *WAFEngine) reason(v Verdict, matches []RuleMatch) string {
	switch {
	case v.BotAnalysis.IsMalicious:
		return "Malicious bot detected: " + v.BotAnalysis.Reason
	case len(matches) > 0:
		names := make([]string, 0, len(matches))
		for _, m := range matches {
			names = append(names, m.Name)
		}
		return "Attack patterns detected: " + strings.Join(names, ", ")
	case containsAttack(v.Attacks, "RAPID_REQUESTS"):
		return "Request rate exceeds velocity threshold"
	case v.BotAnalysis.IsBot:
		return "Automated client detected: " + v.BotAnalysis.Reason
	default:
		return "Request appears legitimate"
	}
}

func containsAttack(attacks []string, name string) bool {
	for _, a := range attacks {
		if a == name {
			return true
		}
	}
	return false
}

// buildSurface concatenates the inspectable text of a request.
func buildSurface(req RequestInfo) string {
	var sb strings.Builder
	sb.WriteString(req.URL)
	sb.WriteByte('\n')
	sb.WriteString(req.UserAgent)
	sb.WriteByte('\n')

	// Deterministic header order keeps classification reproducible.
	keys := make([]string, 0, len(req.Headers))
	for k := range req.Headers {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		sb.WriteString(k)
		sb.WriteString(": ")
		sb.WriteString(req.Headers[k])
		sb.WriteByte('\n')
	}

	sb.WriteString(req.Body)
	return sb.String()
}

// audit writes the detection to the attack-event log. Runs off the
// request path; classification never waits on the database.
func (w *WAFEngine) audit(req RequestInfo, v Verdict) {
	if w.db == nil {
		return
	}
	event := models.AttackEvent{
		Timestamp:     time.Now(),
		SourceIP:      req.IP,
		Rules:         strings.Join(v.Attacks, ","),
		Severity:      v.Severity,
		Method:        req.Method,
		Path:          req.URL,
		UserAgent:     req.UserAgent,
		Blocked:       v.Blocked,
		CorrelationID: v.CorrelationID,
	}
	go func() {
		if err := w.db.Create(&event).Error; err != nil {
			system.Warn("Failed to log attack event: %v", err)
		}
	}()
}

func (w *WAFEngine) bumpHitCounters(ruleNames []string) {
	if w.db == nil || len(ruleNames) == 0 {
		return
	}
	names := append([]string(nil), ruleNames...)
	go func() {
		now := time.Now()
		err := w.db.Model(&models.AttackSignature{}).
			Where("name IN ?", names).
			Updates(map[string]interface{}{
				"hit_count": gorm.Expr("hit_count + 1"),
				"last_hit":  now,
			}).Error
		if err != nil {
			system.Warn("Failed to update signature hit counters: %v", err)
		}
	}()
}

// ResolveClientIP picks the client address from proxy headers in
// priority order, falling back to the connection address.
func ResolveClientIP(headers map[string]string, remoteAddr string) string {
	lookup := func(name string) string {
		for k, v := range headers {
			if strings.EqualFold(k, name) {
				return strings.TrimSpace(v)
			}
		}
		return ""
	}

	if xff := lookup("X-Forwarded-For"); xff != "" {
		first := strings.TrimSpace(strings.Split(xff, ",")[0])
		if first != "" {
			return first
		}
	}
	if rip := lookup("X-Real-IP"); rip != "" {
		return rip
	}
	if cf := lookup("CF-Connecting-IP"); cf != "" {
		return cf
	}
	if tc := lookup("True-Client-IP"); tc != "" {
		return tc
	}
	return remoteAddr
}
