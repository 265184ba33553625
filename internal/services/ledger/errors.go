package ledger

import "errors"

// Service errors
var (
	ErrInvalidAmount       = errors.New("invalid amount")
	ErrInvalidAccount      = errors.New("invalid account")
	ErrInvalidCurrency     = errors.New("invalid currency")
	ErrInvalidType         = errors.New("invalid transaction type")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrInvalidBalanceState = errors.New("operation would leave balance in an invalid state")
	ErrTransactionNotFound = errors.New("transaction not found")
	ErrAlreadyCancelled    = errors.New("transaction already cancelled")
)
