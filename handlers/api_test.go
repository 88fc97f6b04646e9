package handlers

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"tripnest/backend/models"
	"tripnest/backend/services"

	"github.com/glebarez/sqlite"
	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

const testUA = "Mozilla/5.0 (X11; Linux x86_64; rv:122.0) Gecko/20100101 Firefox/122.0"

type testEnv struct {
	app *fiber.App
	db  *gorm.DB
	h   *Handler
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&models.User{},
		&models.AttackSignature{},
		&models.AttackEvent{},
		&models.RiskSettings{},
		&models.InstallmentRule{},
	))

	matcher := services.NewSignatureMatcher(models.SeedDefaultSignatures())
	tracker := services.NewAttackTracker()
	t.Cleanup(tracker.Stop)
	waf := services.NewWAFEngine(matcher, tracker, db)
	limiter := services.NewRateLimiter(1000, time.Minute)
	t.Cleanup(limiter.Stop)

	tokens, err := services.NewTokenService("api-test-secret", services.NewMemoryTokenStore())
	require.NoError(t, err)
	tokens.SetRoleResolver(func(userID uint) (string, error) {
		var user models.User
		if err := db.First(&user, userID).Error; err != nil {
			return "", err
		}
		return user.Role, nil
	})

	risk := services.NewRiskEngine(db, models.RiskSettings{
		ID:                       1,
		HomeCountry:              "GB",
		FallbackEnabled:          true,
		FallbackMaxAmount:        100,
		RequireDeviceFingerprint: true,
		RequirePreviousSuccess:   true,
		VelocityWindowMinutes:    30,
		MaxAttemptsInWindow:      3,
	})

	h := NewHandler(db, waf, tracker, matcher, tokens, risk, limiter)

	app := fiber.New()
	api := app.Group("/api", h.WAFMiddleware, h.RateLimitMiddleware)

	api.Post("/auth/register", h.Register)
	api.Post("/auth/login", h.Login)
	api.Post("/auth/refresh", h.Refresh)
	api.Post("/auth/logout", h.Logout)

	protected := api.Group("", h.AuthMiddleware)
	protected.Get("/auth/me", h.Me)
	protected.Post("/auth/logout-all", h.LogoutAll)

	payments := protected.Group("/payments", h.RequireVerifiedEmail)
	payments.Post("/assess", h.AssessRisk)
	payments.Post("/fallback-check", h.CheckFallback)
	payments.Get("/installments", h.GetInstallments)

	security := protected.Group("/security", h.RequireRole("admin"))
	security.Get("/stats", h.GetSecurityStats)
	security.Post("/block", h.BlockIP)
	security.Delete("/block/:ip", h.UnblockIP)
	security.Get("/signatures", h.GetSignatures)
	security.Post("/signatures", h.CreateSignature)

	return &testEnv{app: app, db: db, h: h}
}

func (e *testEnv) request(t *testing.T, method, path string, body interface{}, token string) *http.Response {
	t.Helper()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("User-Agent", testUA)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := e.app.Test(req, -1)
	require.NoError(t, err)
	return resp
}

func decode(t *testing.T, resp *http.Response) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func (e *testEnv) createUser(t *testing.T, email, password, role string, verified bool) models.User {
	t.Helper()
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	require.NoError(t, err)
	user := models.User{
		Email:         email,
		Password:      string(hashed),
		Role:          role,
		Active:        true,
		EmailVerified: verified,
	}
	require.NoError(t, e.db.Create(&user).Error)
	return user
}

func (e *testEnv) login(t *testing.T, email, password string) (access, refresh string) {
	t.Helper()
	resp := e.request(t, "POST", "/api/auth/login", fiber.Map{"email": email, "password": password}, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decode(t, resp)
	return body["access_token"].(string), body["refresh_token"].(string)
}

func TestRegisterAndLogin(t *testing.T) {
	env := newTestEnv(t)

	resp := env.request(t, "POST", "/api/auth/register", fiber.Map{
		"email": "Alice@Example.com", "password": "hunter2hunter2",
	}, "")
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, "alice@example.com", decode(t, resp)["email"])

	// Duplicate registration is rejected.
	resp = env.request(t, "POST", "/api/auth/register", fiber.Map{
		"email": "alice@example.com", "password": "hunter2hunter2",
	}, "")
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	access, _ := env.login(t, "alice@example.com", "hunter2hunter2")

	resp = env.request(t, "GET", "/api/auth/me", nil, access)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "alice@example.com", decode(t, resp)["email"])
}

func TestRegister_Validation(t *testing.T) {
	env := newTestEnv(t)

	resp := env.request(t, "POST", "/api/auth/register", fiber.Map{"email": "not-an-email", "password": "longenough"}, "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = env.request(t, "POST", "/api/auth/register", fiber.Map{"email": "a@b.c", "password": "short"}, "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestLogin_WrongPassword(t *testing.T) {
	env := newTestEnv(t)
	env.createUser(t, "bob@example.com", "correct-horse", "user", false)

	resp := env.request(t, "POST", "/api/auth/login", fiber.Map{
		"email": "bob@example.com", "password": "wrong",
	}, "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestLogin_LockoutAfterRepeatedFailures(t *testing.T) {
	env := newTestEnv(t)
	env.createUser(t, "carol@example.com", "correct-horse", "user", false)

	for i := 0; i < 5; i++ {
		resp := env.request(t, "POST", "/api/auth/login", fiber.Map{
			"email": "carol@example.com", "password": "wrong",
		}, "")
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	}

	// Even the correct password is refused while locked.
	resp := env.request(t, "POST", "/api/auth/login", fiber.Map{
		"email": "carol@example.com", "password": "correct-horse",
	}, "")
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Equal(t, CodeAccountLocked, decode(t, resp)["code"])
}

func TestAuth_MissingAndInvalidToken(t *testing.T) {
	env := newTestEnv(t)

	resp := env.request(t, "GET", "/api/auth/me", nil, "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, CodeNoToken, decode(t, resp)["code"])

	resp = env.request(t, "GET", "/api/auth/me", nil, "garbage-token")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, CodeTokenInvalid, decode(t, resp)["code"])
}

func TestRefresh_RotationAndReplay(t *testing.T) {
	env := newTestEnv(t)
	env.createUser(t, "dave@example.com", "correct-horse", "user", false)
	_, refresh := env.login(t, "dave@example.com", "correct-horse")

	resp := env.request(t, "POST", "/api/auth/refresh", fiber.Map{"refresh_token": refresh}, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	rotated := decode(t, resp)["refresh_token"].(string)
	assert.NotEqual(t, refresh, rotated)

	// Replaying the consumed token fails with its own code.
	resp = env.request(t, "POST", "/api/auth/refresh", fiber.Map{"refresh_token": refresh}, "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, CodeTokenRevoked, decode(t, resp)["code"])

	// The rotated token still refreshes.
	resp = env.request(t, "POST", "/api/auth/refresh", fiber.Map{"refresh_token": rotated}, "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestLogoutAll_RevokesEverySession(t *testing.T) {
	env := newTestEnv(t)
	env.createUser(t, "erin@example.com", "correct-horse", "user", false)
	access, refresh1 := env.login(t, "erin@example.com", "correct-horse")
	_, refresh2 := env.login(t, "erin@example.com", "correct-horse")

	resp := env.request(t, "POST", "/api/auth/logout-all", nil, access)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	for _, token := range []string{refresh1, refresh2} {
		resp = env.request(t, "POST", "/api/auth/refresh", fiber.Map{"refresh_token": token}, "")
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
		assert.Equal(t, CodeTokenRevoked, decode(t, resp)["code"])
	}
}

func TestWAF_BlocksInjectionAttempt(t *testing.T) {
	env := newTestEnv(t)

	resp := env.request(t, "GET", "/api/auth/me?file=../../etc/passwd", nil, "")
	require.Equal(t, http.StatusForbidden, resp.StatusCode)

	body := decode(t, resp)
	assert.Equal(t, CodeWAFBlocked, body["code"])
	assert.NotEmpty(t, body["correlation_id"])
	assert.Equal(t, "blocked", resp.Header.Get("X-WAF-Status"))
}

func TestWAF_BlocksAttackToolUserAgent(t *testing.T) {
	env := newTestEnv(t)

	req := httptest.NewRequest("GET", "/api/auth/me", nil)
	req.Header.Set("User-Agent", "sqlmap/1.7.2#stable (https://sqlmap.org)")
	resp, err := env.app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestRateLimit_ExceededReturns429(t *testing.T) {
	env := newTestEnv(t)
	env.h.Limiter = services.NewRateLimiter(2, time.Minute)
	t.Cleanup(env.h.Limiter.Stop)

	for i := 0; i < 2; i++ {
		resp := env.request(t, "POST", "/api/auth/login", fiber.Map{"email": "x@y.z", "password": "nope"}, "")
		assert.NotEqual(t, http.StatusTooManyRequests, resp.StatusCode)
	}

	resp := env.request(t, "POST", "/api/auth/login", fiber.Map{"email": "x@y.z", "password": "nope"}, "")
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.Equal(t, CodeRateLimited, decode(t, resp)["code"])
	assert.NotEmpty(t, resp.Header.Get("Retry-After"))
}

func TestRequireRole_AdminOnlyRoutes(t *testing.T) {
	env := newTestEnv(t)
	env.createUser(t, "user@example.com", "correct-horse", "user", true)
	env.createUser(t, "admin@example.com", "correct-horse", "admin", true)

	userAccess, _ := env.login(t, "user@example.com", "correct-horse")
	adminAccess, _ := env.login(t, "admin@example.com", "correct-horse")

	resp := env.request(t, "GET", "/api/security/stats", nil, userAccess)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Equal(t, CodeRoleRequired, decode(t, resp)["code"])

	resp = env.request(t, "GET", "/api/security/stats", nil, adminAccess)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestRequireVerifiedEmail_GatesPayments(t *testing.T) {
	env := newTestEnv(t)
	env.createUser(t, "unverified@example.com", "correct-horse", "user", false)
	env.createUser(t, "verified@example.com", "correct-horse", "user", true)

	assessment := fiber.Map{"amount": 50, "previous_success_count": 1, "country": "GB", "ip_address": "203.0.113.1"}

	access, _ := env.login(t, "unverified@example.com", "correct-horse")
	resp := env.request(t, "POST", "/api/payments/assess", assessment, access)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Equal(t, CodeEmailNotVerified, decode(t, resp)["code"])

	access, _ = env.login(t, "verified@example.com", "correct-horse")
	resp = env.request(t, "POST", "/api/payments/assess", assessment, access)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decode(t, resp)
	assert.Equal(t, "allow", body["recommendation"])
}

func TestPayments_FallbackCheck(t *testing.T) {
	env := newTestEnv(t)
	env.createUser(t, "payer@example.com", "correct-horse", "user", true)
	access, _ := env.login(t, "payer@example.com", "correct-horse")

	resp := env.request(t, "POST", "/api/payments/fallback-check", fiber.Map{
		"amount":                 50,
		"card_bin":               "411111",
		"device_fingerprint":     "fp-123",
		"previous_success_count": 2,
	}, access)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, decode(t, resp)["eligible"])

	// Over the fallback ceiling: routed to strong auth, still HTTP 200.
	resp = env.request(t, "POST", "/api/payments/fallback-check", fiber.Map{
		"amount":                 500,
		"card_bin":               "411111",
		"device_fingerprint":     "fp-123",
		"previous_success_count": 2,
	}, access)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, false, decode(t, resp)["eligible"])
}

func TestPayments_Installments(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.db.Create(&models.InstallmentRule{
		Name: "standard", MinAmount: 0, MaxAmount: 1000, Installments: "1,3,6", Enabled: true,
	}).Error)
	env.createUser(t, "payer2@example.com", "correct-horse", "user", true)
	access, _ := env.login(t, "payer2@example.com", "correct-horse")

	resp := env.request(t, "GET", "/api/payments/installments?amount=300&bin=411111", nil, access)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decode(t, resp)
	assert.Equal(t, []interface{}{1.0, 3.0, 6.0}, body["installments"])

	resp = env.request(t, "GET", "/api/payments/installments", nil, access)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestSignatures_AdminCRUD(t *testing.T) {
	env := newTestEnv(t)
	for _, sig := range models.SeedDefaultSignatures() {
		require.NoError(t, env.db.Create(&sig).Error)
	}
	env.createUser(t, "admin2@example.com", "correct-horse", "admin", true)
	access, _ := env.login(t, "admin2@example.com", "correct-horse")

	resp := env.request(t, "POST", "/api/security/signatures", fiber.Map{
		"name": "Custom Header Probe", "category": "custom", "pattern": "x-debug-probe",
		"severity": "low", "action": "log", "enabled": true,
	}, access)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	// An invalid regex never reaches the database.
	resp = env.request(t, "POST", "/api/security/signatures", fiber.Map{
		"name": "Broken", "category": "custom", "pattern": "([", "severity": "low", "action": "log",
	}, access)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = env.request(t, "GET", "/api/security/signatures", nil, access)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestSecurity_ManualBlockAndUnblock(t *testing.T) {
	env := newTestEnv(t)
	env.createUser(t, "admin3@example.com", "correct-horse", "admin", true)
	access, _ := env.login(t, "admin3@example.com", "correct-horse")

	resp := env.request(t, "POST", "/api/security/block", fiber.Map{"ip": "203.0.113.66", "reason": "abuse report"}, access)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, env.h.Tracker.IsBlocked("203.0.113.66"))

	resp = env.request(t, "DELETE", "/api/security/block/203.0.113.66", nil, access)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.False(t, env.h.Tracker.IsBlocked("203.0.113.66"))
}
