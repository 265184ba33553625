package handlers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"

	"tidepay/internal/models"
	"tidepay/internal/services/deposit"
	"tidepay/internal/utils"
)

// DepositHandler exposes the deposit request manager.
type DepositHandler struct {
	deposits deposit.Service
}

func NewDepositHandler(deposits deposit.Service) *DepositHandler {
	return &DepositHandler{deposits: deposits}
}

type createDepositInput struct {
	Currency        string          `json:"currency" validate:"required,len=3"`
	Amount          decimal.Decimal `json:"amount" validate:"required"`
	Method          string          `json:"method" validate:"required"`
	Gateway         string          `json:"gateway"`
	PaymentMethodID *uint           `json:"payment_method_id"`
	PaymentToken    string          `json:"payment_token"`
	IdempotencyKey  string          `json:"idempotency_key"`
	Description     string          `json:"description"`
	Metadata        models.JSON     `json:"metadata"`
}

func (h *DepositHandler) Create(c *fiber.Ctx) error {
	claims, err := extractUserClaims(c)
	if err != nil {
		return utils.Unauthorized(c, "invalid claims")
	}

	var input createDepositInput
	if err := c.BodyParser(&input); err != nil {
		return utils.BadRequest(c, "invalid request format")
	}
	if err := utils.ValidateStruct(input); err != nil {
		return utils.BadRequest(c, err.Error())
	}

	req, err := h.deposits.CreateDepositRequest(c.Context(), deposit.CreateInput{
		AccountID:       claims.UserID,
		Currency:        input.Currency,
		Amount:          input.Amount,
		Method:          input.Method,
		Gateway:         input.Gateway,
		PaymentMethodID: input.PaymentMethodID,
		PaymentToken:    input.PaymentToken,
		IdempotencyKey:  input.IdempotencyKey,
		Description:     input.Description,
		Metadata:        input.Metadata,
		InitiatedBy:     claims.UserID,
	})
	if err != nil {
		return respondServiceError(c, err)
	}
	return utils.Created(c, fiber.Map{"deposit": req})
}

func (h *DepositHandler) Get(c *fiber.Ctx) error {
	claims, err := extractUserClaims(c)
	if err != nil {
		return utils.Unauthorized(c, "invalid claims")
	}
	id, err := parseID(c, "id")
	if err != nil {
		return utils.BadRequest(c, "invalid deposit id")
	}

	req, err := h.deposits.GetDeposit(c.Context(), id)
	if err != nil {
		return respondServiceError(c, err)
	}
	if req.AccountID != claims.UserID && claims.Role != "admin" {
		return utils.NotFound(c, "deposit request not found")
	}
	return utils.Success(c, fiber.Map{"deposit": req})
}

func (h *DepositHandler) List(c *fiber.Ctx) error {
	claims, err := extractUserClaims(c)
	if err != nil {
		return utils.Unauthorized(c, "invalid claims")
	}

	filter := deposit.Filter{
		AccountID: claims.UserID,
		Limit:     c.QueryInt("limit", 50),
		Offset:    c.QueryInt("offset", 0),
	}
	if s := c.Query("status"); s != "" {
		filter.Statuses = []string{s}
	}
	if m := c.Query("method"); m != "" {
		filter.Methods = []string{m}
	}

	reqs, err := h.deposits.ListDeposits(c.Context(), filter)
	if err != nil {
		return respondServiceError(c, err)
	}
	return utils.Success(c, fiber.Map{"deposits": reqs, "count": len(reqs)})
}

// Approve settles a deposit manually, crediting the wallet.
func (h *DepositHandler) Approve(c *fiber.Ctx) error {
	claims, err := extractUserClaims(c)
	if err != nil {
		return utils.Unauthorized(c, "invalid claims")
	}
	id, err := parseID(c, "id")
	if err != nil {
		return utils.BadRequest(c, "invalid deposit id")
	}

	req, err := h.deposits.ApproveDepositRequest(c.Context(), id, claims.UserID)
	if err != nil {
		return respondServiceError(c, err)
	}
	return utils.Success(c, fiber.Map{"deposit": req})
}

func (h *DepositHandler) Reject(c *fiber.Ctx) error {
	claims, err := extractUserClaims(c)
	if err != nil {
		return utils.Unauthorized(c, "invalid claims")
	}
	id, err := parseID(c, "id")
	if err != nil {
		return utils.BadRequest(c, "invalid deposit id")
	}

	var input struct {
		Reason string `json:"reason"`
	}
	_ = c.BodyParser(&input)

	req, err := h.deposits.RejectDepositRequest(c.Context(), id, claims.UserID, input.Reason)
	if err != nil {
		return respondServiceError(c, err)
	}
	return utils.Success(c, fiber.Map{"deposit": req})
}
