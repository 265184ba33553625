package handlers

import (
	"github.com/gofiber/fiber/v2"

	"tidepay/internal/services/refund"
	"tidepay/internal/utils"
)

// PackageHandler exposes the force-delete refund flow.
type PackageHandler struct {
	refunds refund.Service
}

func NewPackageHandler(refunds refund.Service) *PackageHandler {
	return &PackageHandler{refunds: refunds}
}

// ForceDelete removes a lesson package and settles unused hours back into
// the wallet.
func (h *PackageHandler) ForceDelete(c *fiber.Ctx) error {
	claims, err := extractUserClaims(c)
	if err != nil {
		return utils.Unauthorized(c, "invalid claims")
	}
	id, err := parseID(c, "id")
	if err != nil {
		return utils.BadRequest(c, "invalid package id")
	}

	var input struct {
		ChargeForUsedHours bool   `json:"charge_for_used_hours"`
		DisallowNegative   bool   `json:"disallow_negative"`
		Reason             string `json:"reason"`
	}
	_ = c.BodyParser(&input)

	result, err := h.refunds.ForceDeletePackage(c.Context(), refund.DeleteInput{
		PackageID:          id,
		ActorID:            claims.UserID,
		ChargeForUsedHours: input.ChargeForUsedHours,
		DisallowNegative:   input.DisallowNegative,
		Reason:             input.Reason,
	})
	if err != nil {
		return respondServiceError(c, err)
	}
	return utils.Success(c, fiber.Map{"result": result})
}
