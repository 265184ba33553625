package deposit

import "errors"

// Service errors
var (
	ErrInvalidAmount       = errors.New("invalid deposit amount")
	ErrUnsupportedMethod   = errors.New("unsupported deposit method")
	ErrPolicyViolation     = errors.New("deposit policy violation")
	ErrGatewayDisabled     = errors.New("gateway not enabled for this scope")
	ErrDepositNotFound     = errors.New("deposit request not found")
	ErrAlreadyFinalized    = errors.New("deposit request already finalized")
	ErrInvalidTransition   = errors.New("invalid deposit status transition")
	ErrBankAccountRequired = errors.New("active bank account required for bank transfers")
)
