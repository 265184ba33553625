package handlers

import (
	"github.com/gofiber/fiber/v2"

	"tidepay/internal/models"
	"tidepay/internal/services/verification"
	"tidepay/internal/utils"
)

// VerificationHandler exposes payment methods, KYC documents and bank
// accounts.
type VerificationHandler struct {
	verification verification.Service
}

func NewVerificationHandler(verificationService verification.Service) *VerificationHandler {
	return &VerificationHandler{verification: verificationService}
}

func (h *VerificationHandler) ListPaymentMethods(c *fiber.Ctx) error {
	claims, err := extractUserClaims(c)
	if err != nil {
		return utils.Unauthorized(c, "invalid claims")
	}
	methods, err := h.verification.ListPaymentMethods(c.Context(), claims.UserID)
	if err != nil {
		return respondServiceError(c, err)
	}
	return utils.Success(c, fiber.Map{"payment_methods": methods})
}

// ReviewPaymentMethod sets the verification status of an instrument.
func (h *VerificationHandler) ReviewPaymentMethod(c *fiber.Ctx) error {
	claims, err := extractUserClaims(c)
	if err != nil {
		return utils.Unauthorized(c, "invalid claims")
	}
	id, err := parseID(c, "id")
	if err != nil {
		return utils.BadRequest(c, "invalid payment method id")
	}

	var input struct {
		Status string `json:"status" validate:"required"`
		Notes  string `json:"notes"`
	}
	if err := c.BodyParser(&input); err != nil {
		return utils.BadRequest(c, "invalid request format")
	}
	if err := utils.ValidateStruct(input); err != nil {
		return utils.BadRequest(c, err.Error())
	}

	method, err := h.verification.UpdateVerificationStatus(c.Context(), id, input.Status, input.Notes, claims.UserID)
	if err != nil {
		return respondServiceError(c, err)
	}
	return utils.Success(c, fiber.Map{"payment_method": method})
}

func (h *VerificationHandler) SubmitKycDocument(c *fiber.Ctx) error {
	claims, err := extractUserClaims(c)
	if err != nil {
		return utils.Unauthorized(c, "invalid claims")
	}

	var input struct {
		DocumentType    string `json:"document_type" validate:"required"`
		FileURL         string `json:"file_url" validate:"required,url"`
		PaymentMethodID *uint  `json:"payment_method_id"`
	}
	if err := c.BodyParser(&input); err != nil {
		return utils.BadRequest(c, "invalid request format")
	}
	if err := utils.ValidateStruct(input); err != nil {
		return utils.BadRequest(c, err.Error())
	}

	doc, err := h.verification.SubmitKycDocument(c.Context(), claims.UserID, input.DocumentType, input.FileURL, input.PaymentMethodID)
	if err != nil {
		return respondServiceError(c, err)
	}
	return utils.Created(c, fiber.Map{"document": doc})
}

func (h *VerificationHandler) ReviewKycDocument(c *fiber.Ctx) error {
	claims, err := extractUserClaims(c)
	if err != nil {
		return utils.Unauthorized(c, "invalid claims")
	}
	id, err := parseID(c, "id")
	if err != nil {
		return utils.BadRequest(c, "invalid document id")
	}

	var input struct {
		Status string `json:"status" validate:"required"`
		Notes  string `json:"notes"`
	}
	if err := c.BodyParser(&input); err != nil {
		return utils.BadRequest(c, "invalid request format")
	}
	if err := utils.ValidateStruct(input); err != nil {
		return utils.BadRequest(c, err.Error())
	}

	doc, err := h.verification.ReviewKycDocument(c.Context(), id, input.Status, input.Notes, claims.UserID)
	if err != nil {
		return respondServiceError(c, err)
	}
	return utils.Success(c, fiber.Map{"document": doc})
}

func (h *VerificationHandler) ListKycDocuments(c *fiber.Ctx) error {
	claims, err := extractUserClaims(c)
	if err != nil {
		return utils.Unauthorized(c, "invalid claims")
	}
	docs, err := h.verification.ListKycDocuments(c.Context(), claims.UserID)
	if err != nil {
		return respondServiceError(c, err)
	}
	return utils.Success(c, fiber.Map{"documents": docs})
}

func (h *VerificationHandler) CreateBankAccount(c *fiber.Ctx) error {
	claims, err := extractUserClaims(c)
	if err != nil {
		return utils.Unauthorized(c, "invalid claims")
	}

	var input struct {
		Currency      string `json:"currency" validate:"required,len=3"`
		BankName      string `json:"bank_name" validate:"required"`
		AccountHolder string `json:"account_holder" validate:"required"`
		IBAN          string `json:"iban"`
		AccountNumber string `json:"account_number"`
		SwiftCode     string `json:"swift_code"`
	}
	if err := c.BodyParser(&input); err != nil {
		return utils.BadRequest(c, "invalid request format")
	}
	if err := utils.ValidateStruct(input); err != nil {
		return utils.BadRequest(c, err.Error())
	}

	account := &models.BankAccount{
		AccountID:     claims.UserID,
		Currency:      input.Currency,
		BankName:      input.BankName,
		AccountHolder: input.AccountHolder,
		IBAN:          input.IBAN,
		AccountNumber: input.AccountNumber,
		SwiftCode:     input.SwiftCode,
	}
	if err := h.verification.CreateBankAccount(c.Context(), account); err != nil {
		return respondServiceError(c, err)
	}
	return utils.Created(c, fiber.Map{"bank_account": account})
}

func (h *VerificationHandler) ListBankAccounts(c *fiber.Ctx) error {
	claims, err := extractUserClaims(c)
	if err != nil {
		return utils.Unauthorized(c, "invalid claims")
	}
	accounts, err := h.verification.ListBankAccounts(c.Context(), claims.UserID)
	if err != nil {
		return respondServiceError(c, err)
	}
	return utils.Success(c, fiber.Map{"bank_accounts": accounts})
}

func (h *VerificationHandler) DeactivateBankAccount(c *fiber.Ctx) error {
	claims, err := extractUserClaims(c)
	if err != nil {
		return utils.Unauthorized(c, "invalid claims")
	}
	id, err := parseID(c, "id")
	if err != nil {
		return utils.BadRequest(c, "invalid bank account id")
	}

	if err := h.verification.DeactivateBankAccount(c.Context(), claims.UserID, id); err != nil {
		return respondServiceError(c, err)
	}
	return utils.Success(c, fiber.Map{"message": "bank account deactivated"})
}
