package handlers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"

	"tidepay/internal/models"
	"tidepay/internal/services/withdrawal"
	"tidepay/internal/utils"
)

// WithdrawalHandler exposes the withdrawal request manager.
type WithdrawalHandler struct {
	withdrawals withdrawal.Service
}

func NewWithdrawalHandler(withdrawals withdrawal.Service) *WithdrawalHandler {
	return &WithdrawalHandler{withdrawals: withdrawals}
}

type requestWithdrawalInput struct {
	Currency        string          `json:"currency" validate:"required,len=3"`
	Amount          decimal.Decimal `json:"amount" validate:"required"`
	PaymentMethodID uint            `json:"payment_method_id" validate:"required"`
	Metadata        models.JSON     `json:"metadata"`
}

func (h *WithdrawalHandler) Request(c *fiber.Ctx) error {
	claims, err := extractUserClaims(c)
	if err != nil {
		return utils.Unauthorized(c, "invalid claims")
	}

	var input requestWithdrawalInput
	if err := c.BodyParser(&input); err != nil {
		return utils.BadRequest(c, "invalid request format")
	}
	if err := utils.ValidateStruct(input); err != nil {
		return utils.BadRequest(c, err.Error())
	}

	req, err := h.withdrawals.RequestWithdrawal(c.Context(), withdrawal.RequestInput{
		AccountID:       claims.UserID,
		Currency:        input.Currency,
		Amount:          input.Amount,
		PaymentMethodID: input.PaymentMethodID,
		RequestedBy:     claims.UserID,
		Metadata:        input.Metadata,
	})
	if err != nil {
		return respondServiceError(c, err)
	}
	return utils.Created(c, fiber.Map{"withdrawal": req})
}

func (h *WithdrawalHandler) Get(c *fiber.Ctx) error {
	claims, err := extractUserClaims(c)
	if err != nil {
		return utils.Unauthorized(c, "invalid claims")
	}
	id, err := parseID(c, "id")
	if err != nil {
		return utils.BadRequest(c, "invalid withdrawal id")
	}

	req, err := h.withdrawals.GetWithdrawal(c.Context(), id)
	if err != nil {
		return respondServiceError(c, err)
	}
	if req.AccountID != claims.UserID && claims.Role != "admin" {
		return utils.NotFound(c, "withdrawal request not found")
	}
	return utils.Success(c, fiber.Map{"withdrawal": req})
}

func (h *WithdrawalHandler) List(c *fiber.Ctx) error {
	claims, err := extractUserClaims(c)
	if err != nil {
		return utils.Unauthorized(c, "invalid claims")
	}

	filter := withdrawal.Filter{
		AccountID: claims.UserID,
		Limit:     c.QueryInt("limit", 50),
		Offset:    c.QueryInt("offset", 0),
	}
	if s := c.Query("status"); s != "" {
		filter.Statuses = []string{s}
	}

	reqs, err := h.withdrawals.ListWithdrawals(c.Context(), filter)
	if err != nil {
		return respondServiceError(c, err)
	}
	return utils.Success(c, fiber.Map{"withdrawals": reqs, "count": len(reqs)})
}

// Approve moves a pending request into processing after re-checking
// verification.
func (h *WithdrawalHandler) Approve(c *fiber.Ctx) error {
	claims, err := extractUserClaims(c)
	if err != nil {
		return utils.Unauthorized(c, "invalid claims")
	}
	id, err := parseID(c, "id")
	if err != nil {
		return utils.BadRequest(c, "invalid withdrawal id")
	}

	req, err := h.withdrawals.ApproveWithdrawal(c.Context(), id, claims.UserID)
	if err != nil {
		return respondServiceError(c, err)
	}
	return utils.Success(c, fiber.Map{"withdrawal": req})
}

// Finalize settles (success=true) or reverses (success=false) a request.
func (h *WithdrawalHandler) Finalize(c *fiber.Ctx) error {
	claims, err := extractUserClaims(c)
	if err != nil {
		return utils.Unauthorized(c, "invalid claims")
	}
	id, err := parseID(c, "id")
	if err != nil {
		return utils.BadRequest(c, "invalid withdrawal id")
	}

	var input struct {
		Success bool   `json:"success"`
		Reason  string `json:"reason"`
	}
	if err := c.BodyParser(&input); err != nil {
		return utils.BadRequest(c, "invalid request format")
	}

	req, err := h.withdrawals.FinalizeWithdrawal(c.Context(), id, input.Success, claims.UserID, input.Reason)
	if err != nil {
		return respondServiceError(c, err)
	}
	return utils.Success(c, fiber.Map{"withdrawal": req})
}
