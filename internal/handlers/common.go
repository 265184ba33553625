// Package handlers exposes the engine over HTTP.
package handlers

import (
	"errors"
	"strconv"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"tidepay/internal/models"
	"tidepay/internal/repositories"
	"tidepay/internal/services/deposit"
	"tidepay/internal/services/ledger"
	"tidepay/internal/services/refund"
	"tidepay/internal/services/settings"
	"tidepay/internal/services/verification"
	"tidepay/internal/services/webhook"
	"tidepay/internal/services/withdrawal"
	"tidepay/internal/utils"
)

var log = zap.NewNop().Sugar()

// SetLogger installs the logger used for unclassified service errors.
func SetLogger(l *zap.SugaredLogger) {
	if l != nil {
		log = l
	}
}

func extractUserClaims(c *fiber.Ctx) (*models.UserClaims, error) {
	claims, ok := c.Locals("claims").(*models.UserClaims)
	if !ok || claims == nil {
		return nil, fiber.ErrUnauthorized
	}
	return claims, nil
}

func parseID(c *fiber.Ctx, param string) (uint, error) {
	id, err := strconv.ParseUint(c.Params(param), 10, 64)
	if err != nil || id == 0 {
		return 0, errors.New("invalid id")
	}
	return uint(id), nil
}

func queryCurrency(c *fiber.Ctx) string {
	return c.Query("currency", "USD")
}

// respondServiceError translates service errors into HTTP status codes.
func respondServiceError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, ledger.ErrInvalidAmount),
		errors.Is(err, ledger.ErrInvalidAccount),
		errors.Is(err, ledger.ErrInvalidCurrency),
		errors.Is(err, ledger.ErrInvalidType),
		errors.Is(err, deposit.ErrInvalidAmount),
		errors.Is(err, deposit.ErrUnsupportedMethod),
		errors.Is(err, deposit.ErrBankAccountRequired),
		errors.Is(err, withdrawal.ErrInvalidAmount),
		errors.Is(err, settings.ErrInvalidScope),
		errors.Is(err, verification.ErrInvalidStatus),
		errors.Is(err, refund.ErrInvalidPackage),
		errors.Is(err, webhook.ErrMalformedPayload),
		errors.Is(err, webhook.ErrUnknownProvider),
		errors.Is(err, webhook.ErrSignatureVerification):
		return utils.BadRequest(c, err.Error())

	case errors.Is(err, ledger.ErrInsufficientBalance),
		errors.Is(err, ledger.ErrInvalidBalanceState),
		errors.Is(err, withdrawal.ErrInsufficientBalance),
		errors.Is(err, deposit.ErrPolicyViolation),
		errors.Is(err, deposit.ErrGatewayDisabled):
		return utils.UnprocessableEntity(c, err.Error())

	case errors.Is(err, withdrawal.ErrVerificationRequired),
		errors.Is(err, verification.ErrNotOwned):
		return utils.Forbidden(c, err.Error())

	case errors.Is(err, ledger.ErrTransactionNotFound),
		errors.Is(err, deposit.ErrDepositNotFound),
		errors.Is(err, withdrawal.ErrWithdrawalNotFound),
		errors.Is(err, refund.ErrPackageNotFound),
		errors.Is(err, settings.ErrSettingsNotFound),
		errors.Is(err, verification.ErrPaymentMethodNotFound),
		errors.Is(err, verification.ErrDocumentNotFound),
		errors.Is(err, verification.ErrBankAccountNotFound),
		errors.Is(err, repositories.ErrPaymentMethodNotFound),
		errors.Is(err, repositories.ErrKycDocumentNotFound),
		errors.Is(err, repositories.ErrBankAccountNotFound),
		errors.Is(err, repositories.ErrBalanceNotFound):
		return utils.NotFound(c, err.Error())

	case errors.Is(err, ledger.ErrAlreadyCancelled),
		errors.Is(err, deposit.ErrAlreadyFinalized),
		errors.Is(err, deposit.ErrInvalidTransition),
		errors.Is(err, withdrawal.ErrAlreadyFinalized),
		errors.Is(err, withdrawal.ErrInvalidTransition):
		return utils.Conflict(c, err.Error())

	default:
		// Storage and driver errors carry internals the client must not see.
		log.Errorw("unhandled service error", "method", c.Method(), "path", c.Path(), "err", err)
		return utils.InternalError(c, "internal error")
	}
}
