package main

import (
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"tripnest/backend/handlers"
	"tripnest/backend/models"
	"tripnest/backend/services"
	"tripnest/backend/system"

	"github.com/glebarez/sqlite"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

func main() {
	// 0. Initialize Logger
	logDir := os.Getenv("TRIPNEST_LOG_DIR")
	if logDir == "" {
		logDir = "./logs"
	}
	if err := system.InitLogger(logDir); err != nil {
		log.Printf("Warning: Could not initialize file logger: %v", err)
	}
	defer system.Close()

	system.Info("TripNest defense core starting...")

	// 1. Setup Database
	dbPath := os.Getenv("TRIPNEST_DB")
	if dbPath == "" {
		dbPath = "tripnest.db"
	}

	db, err := gorm.Open(sqlite.Open(dbPath), &gorm.Config{})
	if err != nil {
		system.Error("Failed to connect to database: %v", err)
		log.Fatal("Failed to connect to database:", err)
	}
	system.Info("Database connected: %s", dbPath)

	// WAL mode prevents "database is locked" errors when the async
	// audit writer races request handling.
	if err := db.Exec("PRAGMA journal_mode=WAL;").Error; err != nil {
		system.Warn("Failed to enable WAL mode: %v", err)
	}

	// Migrate
	if err := db.AutoMigrate(
		&models.User{},
		&models.AttackSignature{},
		&models.AttackEvent{},
		&models.RiskSettings{},
		&models.InstallmentRule{},
	); err != nil {
		system.Error("Database migration failed: %v", err)
		log.Fatalf("CRITICAL: Database migration failed. Application cannot start: %v", err)
	}
	system.Info("Database migration completed successfully")

	// Seed default attack signatures on first start
	var sigCount int64
	db.Model(&models.AttackSignature{}).Count(&sigCount)
	if sigCount == 0 {
		defaults := models.SeedDefaultSignatures()
		for _, sig := range defaults {
			if err := db.Create(&sig).Error; err != nil {
				system.Warn("Failed to seed signature %s: %v", sig.Name, err)
			}
		}
		system.Info("Seeded %d default attack signatures", len(defaults))
	}

	// Load or create the risk settings row
	var riskSettings models.RiskSettings
	if err := db.First(&riskSettings, 1).Error; err != nil {
		riskSettings = models.RiskSettings{
			ID:                       1,
			HomeCountry:              "GB",
			FallbackEnabled:          false,
			FallbackMaxAmount:        100,
			RequireDeviceFingerprint: true,
			RequirePreviousSuccess:   true,
			VelocityWindowMinutes:    30,
			MaxAttemptsInWindow:      3,
			AttackHistoryDays:        30,
		}
		db.Create(&riskSettings)
		system.Info("Created default risk settings")
	}

	// 2. Setup Services
	// No fallback secret: a deployment without one must not start.
	jwtSecret := os.Getenv("TRIPNEST_JWT_SECRET")
	if jwtSecret == "" {
		system.Error("TRIPNEST_JWT_SECRET is not set")
		log.Fatal("CRITICAL: TRIPNEST_JWT_SECRET must be configured. Application cannot start.")
	}

	var tokenStore services.TokenStore
	if redisAddr := os.Getenv("TRIPNEST_REDIS_ADDR"); redisAddr != "" {
		store, err := services.NewRedisTokenStore(redisAddr, os.Getenv("TRIPNEST_REDIS_PASSWORD"), 0)
		if err != nil {
			system.Error("Redis token store unavailable: %v", err)
			log.Fatalf("CRITICAL: Redis configured but unreachable: %v", err)
		}
		tokenStore = store
		system.Info("Refresh token registry: redis (%s)", redisAddr)
	} else {
		tokenStore = services.NewMemoryTokenStore()
		system.Info("Refresh token registry: in-memory")
	}

	tokenService, err := services.NewTokenService(jwtSecret, tokenStore)
	if err != nil {
		log.Fatalf("CRITICAL: %v", err)
	}
	// Rotation re-reads the role so a demoted account cannot refresh
	// its way back to old privileges.
	tokenService.SetRoleResolver(func(userID uint) (string, error) {
		var user models.User
		if err := db.First(&user, userID).Error; err != nil {
			return "", err
		}
		return user.Role, nil
	})

	var signatures []models.AttackSignature
	if err := db.Where("enabled = ?", true).Find(&signatures).Error; err != nil {
		log.Fatalf("CRITICAL: Failed to load attack signatures: %v", err)
	}
	matcher := services.NewSignatureMatcher(signatures)
	system.Info("Signature matcher loaded (%d rules)", matcher.RuleCount())

	tracker := services.NewAttackTracker()
	wafEngine := services.NewWAFEngine(matcher, tracker, db)
	limiter := services.NewRateLimiter(120, time.Minute)
	riskEngine := services.NewRiskEngine(db, riskSettings)

	seedAdmin(db)
	go attackEventRetention(db, riskEngine)

	// 3. Setup Handlers & Routes
	h := handlers.NewHandler(db, wafEngine, tracker, matcher, tokenService, riskEngine, limiter)

	app := fiber.New(fiber.Config{
		DisableStartupMessage: false,
	})

	// Add request logging middleware
	app.Use(logger.New(logger.Config{
		Format:     "${time} | ${status} | ${latency} | ${ip} | ${method} ${path}\n",
		TimeFormat: "2006-01-02 15:04:05",
		Output:     os.Stdout,
	}))

	app.Use(cors.New())
	app.Use(recover.New())

	// Every API request passes the WAF and the rate limiter before
	// anything else sees it.
	api := app.Group("/api", h.WAFMiddleware, h.RateLimitMiddleware)

	// ===== Public Routes (No Auth Required) =====
	api.Post("/auth/register", h.Register)
	api.Post("/auth/login", h.Login)
	api.Post("/auth/refresh", h.Refresh)
	api.Post("/auth/logout", h.Logout)

	// ===== Protected Routes (JWT Required) =====
	protected := api.Group("", h.AuthMiddleware)

	protected.Get("/auth/me", h.Me)
	protected.Post("/auth/logout-all", h.LogoutAll)

	// Payments (verified accounts only)
	payments := protected.Group("/payments", h.RequireVerifiedEmail)
	payments.Post("/assess", h.AssessRisk)
	payments.Post("/fallback-check", h.CheckFallback)
	payments.Get("/installments", h.GetInstallments)

	// Risk configuration (admin)
	riskAdmin := protected.Group("/risk", h.RequireRole("admin"))
	riskAdmin.Get("/settings", h.GetRiskSettings)
	riskAdmin.Put("/settings", h.UpdateRiskSettings)
	riskAdmin.Get("/installment-rules", h.GetInstallmentRules)
	riskAdmin.Post("/installment-rules", h.CreateInstallmentRule)
	riskAdmin.Delete("/installment-rules/:id", h.DeleteInstallmentRule)

	// Security administration (admin)
	security := protected.Group("/security", h.RequireRole("admin"))
	security.Get("/blocked", h.GetBlockedIPs)
	security.Post("/block", h.BlockIP)
	security.Delete("/block/:ip", h.UnblockIP)
	security.Get("/check/:ip", h.CheckIPStatus)
	security.Get("/attacks", h.GetAttackHistory)
	security.Get("/stats", h.GetSecurityStats)

	// Attack Signatures (admin)
	security.Get("/signatures", h.GetSignatures)
	security.Post("/signatures", h.CreateSignature)
	security.Put("/signatures/:id", h.UpdateSignature)
	security.Delete("/signatures/:id", h.DeleteSignature)
	security.Post("/signatures/reset-stats", h.ResetSignatureStats)

	// Graceful Shutdown Handling
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-c // Wait for signal
		system.Info("Gracefully shutting down...")
		tracker.Stop()
		limiter.Stop()
		_ = app.Shutdown()
	}()

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}
	system.Info("Server starting on :%s", port)
	if err := app.Listen(":" + port); err != nil {
		log.Fatal(err)
	}
}

// seedAdmin creates the initial admin account on an empty user table.
// Without TRIPNEST_ADMIN_PASSWORD no account is created; there is no
// default credential.
func seedAdmin(db *gorm.DB) {
	var count int64
	db.Model(&models.User{}).Count(&count)
	if count > 0 {
		return
	}

	password := os.Getenv("TRIPNEST_ADMIN_PASSWORD")
	if password == "" {
		system.Warn("User table is empty and TRIPNEST_ADMIN_PASSWORD is not set; no admin account seeded")
		return
	}

	email := os.Getenv("TRIPNEST_ADMIN_EMAIL")
	if email == "" {
		email = "admin@tripnest.local"
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		system.Error("Failed to hash admin password: %v", err)
		return
	}
	admin := models.User{
		Email:         email,
		Password:      string(hashed),
		Role:          "admin",
		Active:        true,
		EmailVerified: true,
	}
	if err := db.Create(&admin).Error; err != nil {
		system.Error("Failed to seed admin account: %v", err)
		return
	}
	system.Info("Seeded admin account: %s", email)
}

// attackEventRetention purges audit rows past the configured retention.
func attackEventRetention(db *gorm.DB, risk *services.RiskEngine) {
	ticker := time.NewTicker(24 * time.Hour)
	defer ticker.Stop()

	for range ticker.C {
		days := risk.Settings().AttackHistoryDays
		if days <= 0 {
			continue
		}
		cutoff := time.Now().AddDate(0, 0, -days)
		result := db.Where("timestamp < ?", cutoff).Delete(&models.AttackEvent{})
		if result.Error != nil {
			system.Warn("Attack history purge failed: %v", result.Error)
		} else if result.RowsAffected > 0 {
			system.Info("Purged %d attack events older than %d days", result.RowsAffected, days)
		}
	}
}
