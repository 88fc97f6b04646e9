package handlers

import (
	"tripnest/backend/models"
	"tripnest/backend/services"
	"tripnest/backend/system"

	"github.com/gofiber/fiber/v2"
)

// AssessRisk scores a payment attempt. The full factor list goes to
// the server log for compliance review; the caller gets the same
// structure to drive its authorization decision.
func (h *Handler) AssessRisk(c *fiber.Ctx) error {
	var input services.RiskInput
	if err := c.BodyParser(&input); err != nil {
		return fail(c, fiber.StatusBadRequest, CodeInvalidInput, "Invalid input")
	}
	if input.Amount <= 0 {
		return fail(c, fiber.StatusBadRequest, CodeInvalidInput, "A positive amount is required")
	}

	if input.IPAddress == "" {
		input.IPAddress = clientIP(c)
	}

	assessment := h.Risk.AssessRisk(input)

	correlationID, _ := c.Locals("correlationID").(string)
	system.Info("Risk assessment: score=%d recommendation=%s factors=%d [%s]",
		assessment.Score, assessment.Recommendation, len(assessment.Factors), correlationID)

	return c.JSON(assessment)
}

// CheckFallback answers whether this payment may skip strong
// authentication. A "no" is a routing decision, not an error.
func (h *Handler) CheckFallback(c *fiber.Ctx) error {
	var input services.FallbackInput
	if err := c.BodyParser(&input); err != nil {
		return fail(c, fiber.StatusBadRequest, CodeInvalidInput, "Invalid input")
	}

	eligible, reason := h.Risk.CanUseNon3DFallback(input)
	if !eligible {
		correlationID, _ := c.Locals("correlationID").(string)
		system.Info("Non-3D fallback denied: %s [%s]", reason, correlationID)
	}

	return c.JSON(fiber.Map{"eligible": eligible})
}

// GetInstallments returns the permitted installment counts
// GET /api/payments/installments?amount=1500&bin=411111
func (h *Handler) GetInstallments(c *fiber.Ctx) error {
	amount := c.QueryFloat("amount", 0)
	if amount <= 0 {
		return fail(c, fiber.StatusBadRequest, CodeInvalidInput, "A positive amount is required")
	}
	bin := c.Query("bin", "")

	installments, err := h.Risk.GetAllowedInstallments(amount, bin)
	if err != nil {
		system.Error("Installment lookup failed: %v", err)
		return fail(c, fiber.StatusInternalServerError, CodeInternal, "Could not load installment options")
	}

	return c.JSON(fiber.Map{"amount": amount, "installments": installments})
}

// GetRiskSettings - Get current risk configuration (admin)
func (h *Handler) GetRiskSettings(c *fiber.Ctx) error {
	return c.JSON(h.Risk.Settings())
}

// UpdateRiskSettings - Replace the risk configuration (admin).
// Updates are rare admin operations; last writer wins.
func (h *Handler) UpdateRiskSettings(c *fiber.Ctx) error {
	var settings models.RiskSettings
	if err := c.BodyParser(&settings); err != nil {
		return fail(c, fiber.StatusBadRequest, CodeInvalidInput, "Invalid input")
	}

	if settings.FallbackMaxAmount < 0 || settings.MaxAttemptsInWindow < 0 || settings.VelocityWindowMinutes < 0 {
		return fail(c, fiber.StatusBadRequest, CodeInvalidInput, "Limits must not be negative")
	}

	if err := h.Risk.UpdateSettings(settings); err != nil {
		system.Error("Failed to update risk settings: %v", err)
		return fail(c, fiber.StatusInternalServerError, CodeInternal, "Could not update settings")
	}

	return c.JSON(fiber.Map{"message": "Settings applied", "settings": h.Risk.Settings()})
}

// Installment rule administration

func (h *Handler) GetInstallmentRules(c *fiber.Ctx) error {
	var rules []models.InstallmentRule
	if err := h.DB.Order("min_amount").Find(&rules).Error; err != nil {
		return fail(c, fiber.StatusInternalServerError, CodeInternal, "Could not load installment rules")
	}
	return c.JSON(rules)
}

func (h *Handler) CreateInstallmentRule(c *fiber.Ctx) error {
	var rule models.InstallmentRule
	if err := c.BodyParser(&rule); err != nil {
		return fail(c, fiber.StatusBadRequest, CodeInvalidInput, "Invalid input")
	}
	if rule.Name == "" || rule.Installments == "" {
		return fail(c, fiber.StatusBadRequest, CodeInvalidInput, "Name and installments are required")
	}

	if err := h.DB.Create(&rule).Error; err != nil {
		return fail(c, fiber.StatusInternalServerError, CodeInternal, "Could not create installment rule")
	}
	return c.Status(fiber.StatusCreated).JSON(rule)
}

func (h *Handler) DeleteInstallmentRule(c *fiber.Ctx) error {
	id := c.Params("id")
	if err := h.DB.Delete(&models.InstallmentRule{}, id).Error; err != nil {
		return fail(c, fiber.StatusInternalServerError, CodeInternal, "Could not delete installment rule")
	}
	return c.JSON(fiber.Map{"message": "Installment rule deleted"})
}
