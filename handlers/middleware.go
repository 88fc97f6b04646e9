package handlers

import (
	"errors"
	"strconv"
	"strings"

	"tripnest/backend/models"
	"tripnest/backend/services"
	"tripnest/backend/system"

	"github.com/gofiber/fiber/v2"
)

// AuthCookieName is the http-only cookie fallback for the access token
const AuthCookieName = "tripnest_token"

func requestHeaders(c *fiber.Ctx) map[string]string {
	headers := make(map[string]string)
	c.Request().Header.VisitAll(func(key, value []byte) {
		headers[string(key)] = string(value)
	})
	return headers
}

func clientIP(c *fiber.Ctx) string {
	if ip, ok := c.Locals("clientIP").(string); ok && ip != "" {
		return ip
	}
	return services.ResolveClientIP(requestHeaders(c), c.IP())
}

// WAFMiddleware classifies every inbound request before anything else
// runs. A block renders 403 with diagnostic headers; the detail behind
// the verdict stays server-side, keyed by the correlation id.
func (h *Handler) WAFMiddleware(c *fiber.Ctx) error {
	headers := requestHeaders(c)
	ip := services.ResolveClientIP(headers, c.IP())

	verdict := h.WAF.Inspect(services.RequestInfo{
		IP:        ip,
		Method:    c.Method(),
		URL:       c.OriginalURL(),
		UserAgent: c.Get("User-Agent"),
		Headers:   headers,
		Body:      string(c.Body()),
	})

	c.Locals("clientIP", ip)
	c.Locals("correlationID", verdict.CorrelationID)

	if verdict.Blocked {
		system.Warn("WAF blocked %s %s from %s: %s [%s]",
			c.Method(), c.OriginalURL(), ip, verdict.Reason, verdict.CorrelationID)
		c.Set("X-WAF-Status", "blocked")
		c.Set("X-WAF-Reason", verdict.Reason)
		c.Set("X-WAF-Severity", verdict.Severity)
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
			"error":          "Request blocked by security policy",
			"code":           CodeWAFBlocked,
			"correlation_id": verdict.CorrelationID,
		})
	}

	if verdict.Suspicious {
		system.Warn("Suspicious request from %s: %s [%s]", ip, verdict.Reason, verdict.CorrelationID)
	}
	return c.Next()
}

// RateLimitMiddleware enforces the coarse per-IP request quota.
func (h *Handler) RateLimitMiddleware(c *fiber.Ctx) error {
	decision := h.Limiter.Allow(clientIP(c))

	c.Set("X-RateLimit-Remaining", strconv.Itoa(decision.Remaining))
	c.Set("X-RateLimit-Reset", strconv.FormatInt(decision.ResetMs, 10))

	if !decision.Allowed {
		retryAfter := decision.ResetMs/1000 + 1
		c.Set("Retry-After", strconv.FormatInt(retryAfter, 10))
		return fail(c, fiber.StatusTooManyRequests, CodeRateLimited, "Too many requests")
	}
	return c.Next()
}

// AuthMiddleware validates the access token and loads the account.
// Expiry gets its own code so clients can silently refresh instead of
// forcing a re-login.
func (h *Handler) AuthMiddleware(c *fiber.Ctx) error {
	token := extractToken(c)
	if token == "" {
		return fail(c, fiber.StatusUnauthorized, CodeNoToken, "Missing authentication token")
	}

	claims, err := h.Tokens.ValidateAccessToken(token)
	if err != nil {
		switch {
		case errors.Is(err, services.ErrTokenExpired):
			return fail(c, fiber.StatusUnauthorized, CodeTokenExpired, "Access token expired")
		default:
			return fail(c, fiber.StatusUnauthorized, CodeTokenInvalid, "Invalid authentication token")
		}
	}

	// A structurally valid token is not enough; the account behind it
	// must still be live.
	var user models.User
	if err := h.DB.First(&user, claims.UserID).Error; err != nil {
		return fail(c, fiber.StatusUnauthorized, CodeTokenInvalid, "Invalid authentication token")
	}
	if !user.Active {
		return fail(c, fiber.StatusForbidden, CodeAccountInactive, "Account is deactivated")
	}

	c.Locals("user", user)
	c.Locals("userID", user.ID)
	return c.Next()
}

func extractToken(c *fiber.Ctx) string {
	authHeader := c.Get("Authorization")
	if strings.HasPrefix(authHeader, "Bearer ") {
		return strings.TrimPrefix(authHeader, "Bearer ")
	}
	return c.Cookies(AuthCookieName)
}

// RequireRole gates an endpoint on the account's current role
func (h *Handler) RequireRole(role string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		user, ok := c.Locals("user").(models.User)
		if !ok || user.Role != role {
			return fail(c, fiber.StatusForbidden, CodeRoleRequired, "Insufficient permissions")
		}
		return c.Next()
	}
}

// RequireVerifiedEmail gates an endpoint on email verification
func (h *Handler) RequireVerifiedEmail(c *fiber.Ctx) error {
	user, ok := c.Locals("user").(models.User)
	if !ok || !user.EmailVerified {
		return fail(c, fiber.StatusForbidden, CodeEmailNotVerified, "Email verification required")
	}
	return c.Next()
}
