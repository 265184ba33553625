package deposit

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"tidepay/internal/gateway"
	"tidepay/internal/models"
	"tidepay/internal/services/ledger"
)

// CreateInput describes a new deposit request.
type CreateInput struct {
	AccountID       uint
	Currency        string
	Amount          decimal.Decimal
	Method          string
	Gateway         string
	PaymentMethodID *uint
	PaymentToken    string
	IdempotencyKey  string
	Description     string
	Metadata        models.JSON
	InitiatedBy     uint
}

// Filter narrows deposit listings.
type Filter struct {
	AccountID uint
	Statuses  []string
	Methods   []string
	From      *time.Time
	To        *time.Time
	Limit     int
	Offset    int
}

// UnitOfWork is the storage slice a deposit transition mutates. It embeds
// the ledger's unit of work so the credit and the status flip share one
// database transaction.
type UnitOfWork interface {
	ledger.UnitOfWork

	DepositForUpdate(ctx context.Context, id uint) (*models.DepositRequest, error)
	CreateDeposit(ctx context.Context, req *models.DepositRequest) error
	SaveDeposit(ctx context.Context, req *models.DepositRequest) error

	AppendAudit(ctx context.Context, entry *models.AuditLog) error
}

// Store is the persistence contract of the deposit manager.
type Store interface {
	Atomically(ctx context.Context, fn func(uow UnitOfWork) error) error

	GetDeposit(ctx context.Context, id uint) (*models.DepositRequest, error)
	ListDeposits(ctx context.Context, filter Filter) ([]models.DepositRequest, error)
	SumActiveDeposits(ctx context.Context, accountID uint, currency string, since time.Time) (decimal.Decimal, error)

	ActiveBankAccount(ctx context.Context, accountID uint, currency string) (*models.BankAccount, error)
	PaymentMethodByID(ctx context.Context, id uint) (*models.PaymentMethod, error)
	SavePaymentMethod(ctx context.Context, method *models.PaymentMethod) error
}

// SettingsResolver yields the effective wallet settings for an account.
type SettingsResolver interface {
	ResolveForAccount(ctx context.Context, accountID uint, currency string) (*models.WalletSettings, error)
}

// GatewayResolver resolves outbound gateways by name.
type GatewayResolver interface {
	Get(name string) (gateway.Gateway, error)
}
