package handlers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"

	"tidepay/internal/services/ledger"
	"tidepay/internal/utils"
)

// WalletHandler exposes balances and the transaction ledger.
type WalletHandler struct {
	ledger ledger.Service
}

func NewWalletHandler(ledgerService ledger.Service) *WalletHandler {
	return &WalletHandler{ledger: ledgerService}
}

func (h *WalletHandler) GetBalance(c *fiber.Ctx) error {
	claims, err := extractUserClaims(c)
	if err != nil {
		return utils.Unauthorized(c, "invalid claims")
	}

	balance, err := h.ledger.GetBalance(c.Context(), claims.UserID, queryCurrency(c))
	if err != nil {
		return respondServiceError(c, err)
	}
	if balance == nil {
		return utils.Success(c, fiber.Map{
			"available":        "0",
			"pending":          "0",
			"non_withdrawable": "0",
			"currency":         queryCurrency(c),
		})
	}
	return utils.Success(c, fiber.Map{
		"available":           balance.AvailableAmount,
		"pending":             balance.PendingAmount,
		"non_withdrawable":    balance.NonWithdrawableAmount,
		"currency":            balance.Currency,
		"last_transaction_at": balance.LastTransactionAt,
	})
}

func (h *WalletHandler) GetSummary(c *fiber.Ctx) error {
	claims, err := extractUserClaims(c)
	if err != nil {
		return utils.Unauthorized(c, "invalid claims")
	}

	summary, err := h.ledger.GetAccountSummary(c.Context(), claims.UserID, queryCurrency(c))
	if err != nil {
		return respondServiceError(c, err)
	}
	if summary == nil {
		return utils.Success(c, fiber.Map{"summary": nil})
	}
	return utils.Success(c, fiber.Map{"summary": summary})
}

func (h *WalletHandler) ListTransactions(c *fiber.Ctx) error {
	claims, err := extractUserClaims(c)
	if err != nil {
		return utils.Unauthorized(c, "invalid claims")
	}

	filter := ledger.TransactionFilter{
		AccountID: claims.UserID,
		Currency:  c.Query("currency"),
		Limit:     c.QueryInt("limit", 50),
		Offset:    c.QueryInt("offset", 0),
	}
	if t := c.Query("type"); t != "" {
		filter.Types = []string{t}
	}
	if s := c.Query("status"); s != "" {
		filter.Statuses = []string{s}
	}

	txns, err := h.ledger.FetchTransactions(c.Context(), filter)
	if err != nil {
		return respondServiceError(c, err)
	}
	return utils.Success(c, fiber.Map{"transactions": txns, "count": len(txns)})
}

func (h *WalletHandler) GetTransaction(c *fiber.Ctx) error {
	claims, err := extractUserClaims(c)
	if err != nil {
		return utils.Unauthorized(c, "invalid claims")
	}
	id, err := parseID(c, "id")
	if err != nil {
		return utils.BadRequest(c, "invalid transaction id")
	}

	txn, err := h.ledger.GetTransactionByID(c.Context(), id)
	if err != nil {
		return respondServiceError(c, err)
	}
	if txn.AccountID != claims.UserID && claims.Role != "admin" {
		return utils.NotFound(c, "transaction not found")
	}
	return utils.Success(c, fiber.Map{"transaction": txn})
}

type recordTransactionInput struct {
	AccountID   uint            `json:"account_id" validate:"required"`
	Currency    string          `json:"currency" validate:"required,len=3"`
	Type        string          `json:"type" validate:"required"`
	Amount      decimal.Decimal `json:"amount"`
	Description string          `json:"description"`
}

// RecordTransaction appends an administrative ledger entry.
func (h *WalletHandler) RecordTransaction(c *fiber.Ctx) error {
	claims, err := extractUserClaims(c)
	if err != nil {
		return utils.Unauthorized(c, "invalid claims")
	}

	var input recordTransactionInput
	if err := c.BodyParser(&input); err != nil {
		return utils.BadRequest(c, "invalid request format")
	}
	if err := utils.ValidateStruct(input); err != nil {
		return utils.BadRequest(c, err.Error())
	}

	txn, err := h.ledger.RecordTransaction(c.Context(), ledger.RecordInput{
		AccountID:   input.AccountID,
		Currency:    input.Currency,
		Type:        input.Type,
		Amount:      input.Amount,
		Description: input.Description,
		CreatedBy:   claims.UserID,
	})
	if err != nil {
		return respondServiceError(c, err)
	}
	return utils.Created(c, fiber.Map{"transaction": txn})
}

// CancelTransaction voids an entry and appends its reversal.
func (h *WalletHandler) CancelTransaction(c *fiber.Ctx) error {
	claims, err := extractUserClaims(c)
	if err != nil {
		return utils.Unauthorized(c, "invalid claims")
	}
	id, err := parseID(c, "id")
	if err != nil {
		return utils.BadRequest(c, "invalid transaction id")
	}

	var input struct {
		Reason string `json:"reason"`
	}
	_ = c.BodyParser(&input)

	reversal, err := h.ledger.CancelTransaction(c.Context(), id, claims.UserID, input.Reason)
	if err != nil {
		return respondServiceError(c, err)
	}
	return utils.Success(c, fiber.Map{"reversal": reversal})
}

type fundsInput struct {
	AccountID uint            `json:"account_id" validate:"required"`
	Currency  string          `json:"currency" validate:"required,len=3"`
	Amount    decimal.Decimal `json:"amount" validate:"required"`
	BookingID uint            `json:"booking_id" validate:"required"`
}

func (h *WalletHandler) LockFunds(c *fiber.Ctx) error {
	return h.fundsOp(c, h.ledger.LockFundsForBooking)
}

func (h *WalletHandler) ReleaseFunds(c *fiber.Ctx) error {
	return h.fundsOp(c, h.ledger.ReleaseLockedFunds)
}

func (h *WalletHandler) CaptureFunds(c *fiber.Ctx) error {
	return h.fundsOp(c, h.ledger.CaptureLockedFunds)
}

func (h *WalletHandler) fundsOp(c *fiber.Ctx, op ledger.FundsOp) error {
	claims, err := extractUserClaims(c)
	if err != nil {
		return utils.Unauthorized(c, "invalid claims")
	}

	var input fundsInput
	if err := c.BodyParser(&input); err != nil {
		return utils.BadRequest(c, "invalid request format")
	}
	if err := utils.ValidateStruct(input); err != nil {
		return utils.BadRequest(c, err.Error())
	}

	txn, err := op(c.Context(), input.AccountID, input.Currency, input.Amount, input.BookingID, claims.UserID)
	if err != nil {
		return respondServiceError(c, err)
	}
	return utils.Success(c, fiber.Map{"transaction": txn})
}
