package handlers

import (
	"tripnest/backend/services"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"
)

type Handler struct {
	DB      *gorm.DB
	WAF     *services.WAFEngine
	Tracker *services.AttackTracker
	Matcher *services.SignatureMatcher
	Tokens  *services.TokenService
	Risk    *services.RiskEngine
	Limiter *services.RateLimiter
}

func NewHandler(db *gorm.DB, waf *services.WAFEngine, tracker *services.AttackTracker,
	matcher *services.SignatureMatcher, tokens *services.TokenService,
	risk *services.RiskEngine, limiter *services.RateLimiter) *Handler {
	return &Handler{
		DB:      db,
		WAF:     waf,
		Tracker: tracker,
		Matcher: matcher,
		Tokens:  tokens,
		Risk:    risk,
		Limiter: limiter,
	}
}

// Stable machine-readable error codes. Client logic (silent refresh,
// forced re-login, verification prompt) branches on these, not on the
// HTTP status alone.
const (
	CodeNoToken          = "NO_TOKEN"
	CodeTokenExpired     = "TOKEN_EXPIRED"
	CodeTokenInvalid     = "TOKEN_INVALID"
	CodeTokenRevoked     = "TOKEN_REVOKED"
	CodeAccountInactive  = "ACCOUNT_INACTIVE"
	CodeAccountLocked    = "ACCOUNT_LOCKED"
	CodeRoleRequired     = "ROLE_REQUIRED"
	CodeEmailNotVerified = "EMAIL_NOT_VERIFIED"
	CodeWAFBlocked       = "WAF_BLOCKED"
	CodeRateLimited      = "RATE_LIMITED"
	CodeInvalidInput     = "INVALID_INPUT"
	CodeInternal         = "INTERNAL_ERROR"
)

// fail renders a denial with its machine code and a safe message.
// Diagnostic detail stays in the server log.
func fail(c *fiber.Ctx, status int, code, message string) error {
	return c.Status(status).JSON(fiber.Map{
		"error": message,
		"code":  code,
	})
}
