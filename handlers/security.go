package handlers

import (
	"tripnest/backend/models"
	"tripnest/backend/system"

	"github.com/gofiber/fiber/v2"
)

// GetBlockedIPs returns the standing block-set and tracker statistics
func (h *Handler) GetBlockedIPs(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"blocked": h.Tracker.BlockedIPs(),
		"stats":   h.Tracker.Stats(),
	})
}

// BlockIP adds an IP to the block-set (operator override, no scoring)
func (h *Handler) BlockIP(c *fiber.Ctx) error {
	var input struct {
		IP     string `json:"ip"`
		Reason string `json:"reason"`
	}
	if err := c.BodyParser(&input); err != nil || input.IP == "" {
		return fail(c, fiber.StatusBadRequest, CodeInvalidInput, "An IP address is required")
	}

	h.Tracker.BlockIP(input.IP)
	system.Info("IP manually blocked: %s (%s)", input.IP, input.Reason)
	return c.JSON(fiber.Map{"message": "IP blocked", "ip": input.IP})
}

// UnblockIP removes an IP from the block-set
func (h *Handler) UnblockIP(c *fiber.Ctx) error {
	ip := c.Params("ip")
	if ip == "" {
		return fail(c, fiber.StatusBadRequest, CodeInvalidInput, "An IP address is required")
	}

	h.Tracker.UnblockIP(ip)
	system.Info("IP manually unblocked: %s", ip)
	return c.JSON(fiber.Map{"message": "IP unblocked", "ip": ip})
}

// CheckIPStatus reports the tracker's view of a single IP
func (h *Handler) CheckIPStatus(c *fiber.Ctx) error {
	ip := c.Params("ip")

	if h.Tracker.IsBlocked(ip) {
		return c.JSON(fiber.Map{"ip": ip, "status": "blocked"})
	}
	if rec, ok := h.Tracker.Record(ip); ok {
		return c.JSON(fiber.Map{"ip": ip, "status": "tracked", "record": rec})
	}
	return c.JSON(fiber.Map{"ip": ip, "status": "clean"})
}

// GetAttackHistory returns the attack-event audit log
// GET /api/security/attacks?page=1&limit=50&ip=&severity=
func (h *Handler) GetAttackHistory(c *fiber.Ctx) error {
	page := c.QueryInt("page", 1)
	limit := c.QueryInt("limit", 50)
	ip := c.Query("ip", "")
	severity := c.Query("severity", "")

	if page < 1 {
		page = 1
	}
	if limit > 100 {
		limit = 100
	}
	offset := (page - 1) * limit

	query := h.DB.Model(&models.AttackEvent{})
	if ip != "" {
		query = query.Where("source_ip = ?", ip)
	}
	if severity != "" {
		query = query.Where("severity = ?", severity)
	}

	var total int64
	query.Count(&total)

	var events []models.AttackEvent
	if err := query.Order("timestamp DESC").Offset(offset).Limit(limit).Find(&events).Error; err != nil {
		return fail(c, fiber.StatusInternalServerError, CodeInternal, "Could not load attack history")
	}

	return c.JSON(fiber.Map{
		"page":   page,
		"limit":  limit,
		"total":  total,
		"events": events,
	})
}

// GetSecurityStats summarizes WAF activity for the dashboard
func (h *Handler) GetSecurityStats(c *fiber.Ctx) error {
	var totalEvents, blockedEvents int64
	h.DB.Model(&models.AttackEvent{}).Count(&totalEvents)
	h.DB.Model(&models.AttackEvent{}).Where("blocked = ?", true).Count(&blockedEvents)

	return c.JSON(fiber.Map{
		"total_events":   totalEvents,
		"blocked_events": blockedEvents,
		"tracker":        h.Tracker.Stats(),
		"active_rules":   h.Matcher.RuleCount(),
	})
}

// reloadMatcher recompiles the matcher from the enabled signatures
func (h *Handler) reloadMatcher() {
	var sigs []models.AttackSignature
	if err := h.DB.Where("enabled = ?", true).Find(&sigs).Error; err != nil {
		system.Error("Failed to reload signatures: %v", err)
		return
	}
	h.Matcher.Load(sigs)
	system.Info("Signature matcher reloaded (%d rules)", len(sigs))
}
