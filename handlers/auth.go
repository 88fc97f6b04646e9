package handlers

import (
	"errors"
	"strings"
	"time"

	"tripnest/backend/models"
	"tripnest/backend/services"
	"tripnest/backend/system"

	"github.com/gofiber/fiber/v2"
	"golang.org/x/crypto/bcrypt"
)

const (
	maxFailedLogins = 5
	lockoutDuration = 5 * time.Minute
)

type RegisterRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type RefreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

func (h *Handler) Register(c *fiber.Ctx) error {
	var req RegisterRequest
	if err := c.BodyParser(&req); err != nil {
		return fail(c, fiber.StatusBadRequest, CodeInvalidInput, "Invalid input")
	}

	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	if req.Email == "" || !strings.Contains(req.Email, "@") {
		return fail(c, fiber.StatusBadRequest, CodeInvalidInput, "A valid email is required")
	}
	if len(req.Password) < 8 {
		return fail(c, fiber.StatusBadRequest, CodeInvalidInput, "Password must be at least 8 characters")
	}

	var existing models.User
	if h.DB.Where("email = ?", req.Email).First(&existing).Error == nil {
		return fail(c, fiber.StatusConflict, CodeInvalidInput, "Email already registered")
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return fail(c, fiber.StatusInternalServerError, CodeInternal, "Could not create account")
	}

	user := models.User{Email: req.Email, Password: string(hashed), Role: "user"}
	if err := h.DB.Create(&user).Error; err != nil {
		system.Error("Failed to create user %s: %v", req.Email, err)
		return fail(c, fiber.StatusInternalServerError, CodeInternal, "Could not create account")
	}

	system.Info("User registered: %s", user.Email)
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"id":    user.ID,
		"email": user.Email,
	})
}

func (h *Handler) Login(c *fiber.Ctx) error {
	var req LoginRequest
	if err := c.BodyParser(&req); err != nil {
		return fail(c, fiber.StatusBadRequest, CodeInvalidInput, "Invalid input")
	}
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))

	var user models.User
	if err := h.DB.Where("email = ?", req.Email).First(&user).Error; err != nil {
		system.Warn("Failed login attempt for unknown email: %s", req.Email)
		return fail(c, fiber.StatusUnauthorized, CodeInvalidInput, "Invalid credentials")
	}

	if user.LockedUntil != nil && time.Now().Before(*user.LockedUntil) {
		return fail(c, fiber.StatusForbidden, CodeAccountLocked, "Account is temporarily locked")
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(req.Password)); err != nil {
		user.FailedAttempts++
		now := time.Now()
		user.LastFailedAttempt = &now
		if user.FailedAttempts >= maxFailedLogins {
			lockUntil := now.Add(lockoutDuration)
			user.LockedUntil = &lockUntil
		}
		h.DB.Save(&user)

		system.Warn("Failed login attempt for user: %s (attempt %d)", user.Email, user.FailedAttempts)
		if user.FailedAttempts >= maxFailedLogins {
			return fail(c, fiber.StatusUnauthorized, CodeAccountLocked, "Account locked for 5 minutes")
		}
		return fail(c, fiber.StatusUnauthorized, CodeInvalidInput, "Invalid credentials")
	}

	if !user.Active {
		return fail(c, fiber.StatusForbidden, CodeAccountInactive, "Account is deactivated")
	}

	user.FailedAttempts = 0
	user.LockedUntil = nil
	h.DB.Save(&user)

	pair, err := h.Tokens.IssueTokenPair(user.ID, user.Email, user.Role)
	if err != nil {
		system.Error("Token issuance failed for %s: %v", user.Email, err)
		return fail(c, fiber.StatusInternalServerError, CodeInternal, "Could not login")
	}

	c.Cookie(&fiber.Cookie{
		Name:     AuthCookieName,
		Value:    pair.AccessToken,
		MaxAge:   int(pair.ExpiresIn),
		HTTPOnly: true,
		SameSite: "Strict",
	})

	system.Info("User logged in: %s", user.Email)
	return c.JSON(pair)
}

// Refresh rotates a refresh token into a new pair. The consumed token
// is revoked; replaying it fails with TOKEN_REVOKED.
func (h *Handler) Refresh(c *fiber.Ctx) error {
	var req RefreshRequest
	if err := c.BodyParser(&req); err != nil || req.RefreshToken == "" {
		return fail(c, fiber.StatusBadRequest, CodeInvalidInput, "Refresh token is required")
	}

	pair, err := h.Tokens.RefreshAccessToken(req.RefreshToken)
	if err != nil {
		switch {
		case errors.Is(err, services.ErrTokenRevoked):
			return fail(c, fiber.StatusUnauthorized, CodeTokenRevoked, "Refresh token has been revoked")
		case errors.Is(err, services.ErrTokenExpired):
			return fail(c, fiber.StatusUnauthorized, CodeTokenExpired, "Refresh token expired")
		case errors.Is(err, services.ErrWrongTokenType), errors.Is(err, services.ErrTokenInvalid):
			return fail(c, fiber.StatusUnauthorized, CodeTokenInvalid, "Invalid refresh token")
		default:
			system.Error("Token refresh failed: %v", err)
			return fail(c, fiber.StatusInternalServerError, CodeInternal, "Could not refresh token")
		}
	}

	return c.JSON(pair)
}

// Logout revokes the presented refresh token
func (h *Handler) Logout(c *fiber.Ctx) error {
	var req RefreshRequest
	if err := c.BodyParser(&req); err != nil || req.RefreshToken == "" {
		return fail(c, fiber.StatusBadRequest, CodeInvalidInput, "Refresh token is required")
	}

	if err := h.Tokens.RevokeRefreshToken(req.RefreshToken); err != nil {
		return fail(c, fiber.StatusUnauthorized, CodeTokenInvalid, "Invalid refresh token")
	}

	c.ClearCookie(AuthCookieName)
	return c.JSON(fiber.Map{"message": "Logged out"})
}

// LogoutAll revokes every refresh token for the authenticated user
func (h *Handler) LogoutAll(c *fiber.Ctx) error {
	userID, _ := c.Locals("userID").(uint)
	if err := h.Tokens.RevokeAllUserTokens(userID); err != nil {
		system.Error("Logout-all failed for user %d: %v", userID, err)
		return fail(c, fiber.StatusInternalServerError, CodeInternal, "Could not revoke sessions")
	}

	c.ClearCookie(AuthCookieName)
	system.Info("All sessions revoked for user %d", userID)
	return c.JSON(fiber.Map{"message": "All sessions revoked"})
}

// Me returns the authenticated account
func (h *Handler) Me(c *fiber.Ctx) error {
	user, _ := c.Locals("user").(models.User)
	return c.JSON(user)
}
