package repositories

import "errors"

// Not-found sentinels. Services translate these into their own error
// vocabulary at the boundary.
var (
	ErrBalanceNotFound       = errors.New("balance not found")
	ErrTransactionNotFound   = errors.New("transaction not found")
	ErrDepositNotFound       = errors.New("deposit request not found")
	ErrWithdrawalNotFound    = errors.New("withdrawal request not found")
	ErrPackageNotFound       = errors.New("lesson package not found")
	ErrPaymentMethodNotFound = errors.New("payment method not found")
	ErrKycDocumentNotFound   = errors.New("kyc document not found")
	ErrBankAccountNotFound   = errors.New("bank account not found")
	ErrWebhookEventNotFound  = errors.New("webhook event not found")
)
