package handlers

import (
	"regexp"

	"tripnest/backend/models"

	"github.com/gofiber/fiber/v2"
)

// GetSignatures - Get all attack signatures
func (h *Handler) GetSignatures(c *fiber.Ctx) error {
	var signatures []models.AttackSignature
	if err := h.DB.Order("category, name").Find(&signatures).Error; err != nil {
		return fail(c, fiber.StatusInternalServerError, CodeInternal, "Could not load signatures")
	}
	return c.JSON(signatures)
}

// CreateSignature - Create a new attack signature
func (h *Handler) CreateSignature(c *fiber.Ctx) error {
	var sig models.AttackSignature
	if err := c.BodyParser(&sig); err != nil {
		return fail(c, fiber.StatusBadRequest, CodeInvalidInput, "Invalid input")
	}

	if sig.Name == "" || sig.Pattern == "" || sig.Category == "" {
		return fail(c, fiber.StatusBadRequest, CodeInvalidInput, "Name, pattern and category are required")
	}
	if _, err := regexp.Compile(sig.Pattern); err != nil {
		return fail(c, fiber.StatusBadRequest, CodeInvalidInput, "Pattern is not a valid regular expression")
	}

	var existing models.AttackSignature
	if h.DB.Where("name = ?", sig.Name).First(&existing).Error == nil {
		return fail(c, fiber.StatusConflict, CodeInvalidInput, "A signature with this name already exists")
	}

	sig.IsBuiltin = false // User-created signatures are not builtin
	if err := h.DB.Create(&sig).Error; err != nil {
		return fail(c, fiber.StatusInternalServerError, CodeInternal, "Could not create signature")
	}

	h.reloadMatcher()
	return c.Status(fiber.StatusCreated).JSON(sig)
}

// UpdateSignature - Update an attack signature
func (h *Handler) UpdateSignature(c *fiber.Ctx) error {
	id := c.Params("id")

	var existing models.AttackSignature
	if err := h.DB.First(&existing, id).Error; err != nil {
		return fail(c, fiber.StatusNotFound, CodeInvalidInput, "Signature not found")
	}

	var update models.AttackSignature
	if err := c.BodyParser(&update); err != nil {
		return fail(c, fiber.StatusBadRequest, CodeInvalidInput, "Invalid input")
	}

	// Builtin signatures can only toggle enabled status
	if existing.IsBuiltin {
		existing.Enabled = update.Enabled
	} else {
		if update.Pattern != "" {
			if _, err := regexp.Compile(update.Pattern); err != nil {
				return fail(c, fiber.StatusBadRequest, CodeInvalidInput, "Pattern is not a valid regular expression")
			}
			existing.Pattern = update.Pattern
		}
		existing.Name = update.Name
		existing.Category = update.Category
		existing.Severity = update.Severity
		existing.Action = update.Action
		existing.Description = update.Description
		existing.Enabled = update.Enabled
	}

	if err := h.DB.Save(&existing).Error; err != nil {
		return fail(c, fiber.StatusInternalServerError, CodeInternal, "Could not update signature")
	}

	h.reloadMatcher()
	return c.JSON(existing)
}

// DeleteSignature - Delete an attack signature
func (h *Handler) DeleteSignature(c *fiber.Ctx) error {
	id := c.Params("id")

	var sig models.AttackSignature
	if err := h.DB.First(&sig, id).Error; err != nil {
		return fail(c, fiber.StatusNotFound, CodeInvalidInput, "Signature not found")
	}

	// Cannot delete builtin signatures
	if sig.IsBuiltin {
		return fail(c, fiber.StatusForbidden, CodeInvalidInput, "Builtin signatures cannot be deleted")
	}

	if err := h.DB.Delete(&sig).Error; err != nil {
		return fail(c, fiber.StatusInternalServerError, CodeInternal, "Could not delete signature")
	}

	h.reloadMatcher()
	return c.JSON(fiber.Map{"message": "Signature deleted"})
}

// ResetSignatureStats - Reset hit count for all signatures
func (h *Handler) ResetSignatureStats(c *fiber.Ctx) error {
	if err := h.DB.Model(&models.AttackSignature{}).Where("1 = 1").Updates(map[string]interface{}{
		"hit_count": 0,
		"last_hit":  nil,
	}).Error; err != nil {
		return fail(c, fiber.StatusInternalServerError, CodeInternal, "Could not reset signature stats")
	}
	return c.JSON(fiber.Map{"message": "Signature stats reset"})
}
