package models

import "time"

// AttackSignature represents a known attack pattern for request classification.
// Rules are data: the matcher compiles the enabled set at startup and after
// admin changes, so adding a rule never touches matcher control flow.
type AttackSignature struct {
	ID          uint       `gorm:"primaryKey" json:"id"`
	Name        string     `gorm:"unique;not null" json:"name"`      // e.g., "SQL Injection - UNION SELECT"
	Category    string     `gorm:"not null" json:"category"`         // sqli, xss, traversal, cmd, upload, ldap, nosql, ssti
	Pattern     string     `gorm:"not null" json:"pattern"`          // Regex applied to the request surface
	Severity    string     `gorm:"default:'medium'" json:"severity"` // low, medium, high, critical
	Action      string     `gorm:"default:'log'" json:"action"`      // log, block, challenge
	Description string     `json:"description,omitempty"`
	IsBuiltin   bool       `gorm:"default:false" json:"is_builtin"` // True for default signatures
	Enabled     bool       `gorm:"default:true" json:"enabled"`
	HitCount    int64      `gorm:"default:0" json:"hit_count"` // Number of times matched
	LastHit     *time.Time `json:"last_hit,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// SeedDefaultSignatures returns the builtin attack signatures
func SeedDefaultSignatures() []AttackSignature {
	return []AttackSignature{
		{
			Name:        "SQL Injection - UNION SELECT",
			Category:    "sqli",
			Pattern:     `(?i)\bunion\b[\s/*]{0,20}\bselect\b`,
			Severity:    "critical",
			Action:      "block",
			Description: "UNION-based SQL injection",
			IsBuiltin:   true,
			Enabled:     true,
		},
		{
			Name:        "SQL Injection - Boolean",
			Category:    "sqli",
			Pattern:     `(?i)('\s*(or|and)\s+.{0,20}=|\bor\b\s+1\s*=\s*1|--\s|;\s*--)`,
			Severity:    "high",
			Action:      "block",
			Description: "Classic quote/comment boolean injection",
			IsBuiltin:   true,
			Enabled:     true,
		},
		{
			Name:        "SQL Injection - Dangerous Functions",
			Category:    "sqli",
			Pattern:     `(?i)\b(sleep|benchmark|pg_sleep|load_file|into\s+outfile|information_schema|xp_cmdshell)\b`,
			Severity:    "high",
			Action:      "block",
			Description: "Time-based and file-access SQL functions",
			IsBuiltin:   true,
			Enabled:     true,
		},
		{
			Name:        "XSS - Script Tag",
			Category:    "xss",
			Pattern:     `(?i)<\s*/?\s*script\b`,
			Severity:    "critical",
			Action:      "block",
			Description: "Inline script tag injection",
			IsBuiltin:   true,
			Enabled:     true,
		},
		{
			Name:        "XSS - Event Handler",
			Category:    "xss",
			Pattern:     `(?i)\bon(error|load|click|mouseover|focus|submit)\s*=`,
			Severity:    "high",
			Action:      "block",
			Description: "Inline DOM event handler",
			IsBuiltin:   true,
			Enabled:     true,
		},
		{
			Name:        "XSS - Script URL",
			Category:    "xss",
			Pattern:     `(?i)((javascript|vbscript)\s*:|data\s*:\s*text/html)`,
			Severity:    "high",
			Action:      "block",
			Description: "javascript:/data: URL payload",
			IsBuiltin:   true,
			Enabled:     true,
		},
		{
			Name:        "Path Traversal",
			Category:    "traversal",
			Pattern:     `(?i)(\.\./|\.\.\\|%2e%2e%2f|%2e%2e/|\.\.%2f|%252e%252e)`,
			Severity:    "high",
			Action:      "block",
			Description: "Literal and percent-encoded ../ sequences",
			IsBuiltin:   true,
			Enabled:     true,
		},
		{
			Name:        "Sensitive System Path",
			Category:    "traversal",
			Pattern:     `(?i)(/etc/passwd|/etc/shadow|/proc/self|boot\.ini|win\.ini|windows/system32)`,
			Severity:    "critical",
			Action:      "block",
			Description: "Access attempt against known system files",
			IsBuiltin:   true,
			Enabled:     true,
		},
		{
			Name:        "Command Injection",
			Category:    "cmd",
			Pattern:     "(?i)(;|\\||`|\\$\\()\\s*(cat|ls|id|whoami|wget|curl|nc|bash|sh|cmd|powershell)\\b",
			Severity:    "critical",
			Action:      "block",
			Description: "Shell metacharacters chained to a command",
			IsBuiltin:   true,
			Enabled:     true,
		},
		{
			Name:        "Command Substitution",
			Category:    "cmd",
			Pattern:     "\\$\\([^)]+\\)|`[^`]+`",
			Severity:    "high",
			Action:      "block",
			Description: "Backtick or $() command substitution",
			IsBuiltin:   true,
			Enabled:     true,
		},
		{
			Name:        "Malicious Upload Extension",
			Category:    "upload",
			Pattern:     `(?i)\.(php[345]?|phtml|jsp|jspx|asp|aspx|cgi|exe|bat)\b`,
			Severity:    "high",
			Action:      "challenge",
			Description: "Executable file extension in request data",
			IsBuiltin:   true,
			Enabled:     true,
		},
		{
			Name:        "LDAP Injection",
			Category:    "ldap",
			Pattern:     `(?i)(\(\s*[|&]\s*\(|\*\s*\)\s*\(|\(\s*(cn|uid|objectclass)\s*=[^)]*\*)`,
			Severity:    "medium",
			Action:      "block",
			Description: "LDAP filter metacharacter sequences",
			IsBuiltin:   true,
			Enabled:     true,
		},
		{
			Name:        "NoSQL Operator Injection",
			Category:    "nosql",
			Pattern:     `(?i)\$(where|ne|gt|lt|gte|lte|regex|or|and|in|nin)\b`,
			Severity:    "high",
			Action:      "block",
			Description: "MongoDB-style operator in request data",
			IsBuiltin:   true,
			Enabled:     true,
		},
		{
			Name:        "Template Injection",
			Category:    "ssti",
			Pattern:     `(\{\{[^}]+\}\}|\{%[^%]+%\}|\$\{[^}]+\}|<%[^%]+%>)`,
			Severity:    "high",
			Action:      "block",
			Description: "Server-side template expression syntax",
			IsBuiltin:   true,
			Enabled:     true,
		},
	}
}
