package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"tidepay/internal/models"
)

// Store is the gorm-backed persistence layer. Read methods run on the bare
// connection; mutations go through Atomically, which hands the callback a
// transaction-scoped UnitOfWork.
type Store struct {
	db *gorm.DB
}

// NewStore wraps a gorm connection.
func NewStore(db *gorm.DB) *Store {
	if db == nil {
		panic("db is required")
	}
	return &Store{db: db}
}

// Atomically runs fn inside one database transaction.
func (s *Store) Atomically(ctx context.Context, fn func(uow *UnitOfWork) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&UnitOfWork{db: tx})
	})
}

// GetBalance returns (nil, nil) when the account has no balance row yet;
// that is a normal state, not an error.
func (s *Store) GetBalance(ctx context.Context, accountID uint, currency string) (*models.Balance, error) {
	var balance models.Balance
	err := s.db.WithContext(ctx).
		Where("account_id = ? AND currency = ?", accountID, currency).
		First(&balance).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get balance: %w", err)
	}
	return &balance, nil
}

type deltaTotalsRow struct {
	Credits      decimal.Decimal
	Debits       decimal.Decimal
	LastCreditAt *time.Time
}

// SumCompletedDeltas aggregates the completed available-deltas of one
// (account, currency) ledger into credit and debit totals.
func (s *Store) SumCompletedDeltas(ctx context.Context, accountID uint, currency string) (*DeltaTotals, error) {
	var row deltaTotalsRow
	err := s.db.WithContext(ctx).
		Model(&models.Transaction{}).
		Where("account_id = ? AND currency = ? AND status = ?", accountID, currency, models.TransactionStatusCompleted).
		Select(`
			COALESCE(SUM(CASE WHEN available_delta > 0 THEN available_delta ELSE 0 END), 0) AS credits,
			COALESCE(SUM(CASE WHEN available_delta < 0 THEN -available_delta ELSE 0 END), 0) AS debits,
			MAX(CASE WHEN available_delta > 0 THEN created_at END) AS last_credit_at
		`).
		Scan(&row).Error
	if err != nil {
		return nil, fmt.Errorf("failed to sum transaction deltas: %w", err)
	}
	return &DeltaTotals{Credits: row.Credits, Debits: row.Debits, LastCreditAt: row.LastCreditAt}, nil
}

// DeltaTotals mirrors the ledger aggregate shape without importing the
// service package.
type DeltaTotals struct {
	Credits      decimal.Decimal
	Debits       decimal.Decimal
	LastCreditAt *time.Time
}

// TransactionQuery narrows ListTransactions.
type TransactionQuery struct {
	AccountID uint
	Currency  string
	Types     []string
	Statuses  []string
	From      *time.Time
	To        *time.Time
	Limit     int
	Offset    int
}

func (s *Store) ListTransactions(ctx context.Context, q TransactionQuery) ([]models.Transaction, error) {
	query := s.db.WithContext(ctx).Model(&models.Transaction{})
	if q.AccountID != 0 {
		query = query.Where("account_id = ?", q.AccountID)
	}
	if q.Currency != "" {
		query = query.Where("currency = ?", q.Currency)
	}
	if len(q.Types) > 0 {
		query = query.Where("type IN ?", q.Types)
	}
	if len(q.Statuses) > 0 {
		query = query.Where("status IN ?", q.Statuses)
	}
	if q.From != nil {
		query = query.Where("created_at >= ?", *q.From)
	}
	if q.To != nil {
		query = query.Where("created_at <= ?", *q.To)
	}

	var txns []models.Transaction
	err := query.Order("created_at DESC").
		Limit(normalizeLimit(q.Limit)).
		Offset(q.Offset).
		Find(&txns).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}
	return txns, nil
}

func (s *Store) GetTransactionByID(ctx context.Context, id uint) (*models.Transaction, error) {
	var txn models.Transaction
	if err := s.db.WithContext(ctx).First(&txn, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrTransactionNotFound
		}
		return nil, fmt.Errorf("failed to get transaction: %w", err)
	}
	return &txn, nil
}

func (s *Store) GetLegacyMirror(ctx context.Context, accountID uint) (*models.LegacyAccountMirror, error) {
	var mirror models.LegacyAccountMirror
	err := s.db.WithContext(ctx).Where("account_id = ?", accountID).First(&mirror).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get legacy mirror: %w", err)
	}
	return &mirror, nil
}

// -- deposits --

func (s *Store) GetDeposit(ctx context.Context, id uint) (*models.DepositRequest, error) {
	var req models.DepositRequest
	if err := s.db.WithContext(ctx).First(&req, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrDepositNotFound
		}
		return nil, fmt.Errorf("failed to get deposit request: %w", err)
	}
	return &req, nil
}

// DepositQuery narrows ListDeposits.
type DepositQuery struct {
	AccountID uint
	Statuses  []string
	Methods   []string
	From      *time.Time
	To        *time.Time
	Limit     int
	Offset    int
}

func (s *Store) ListDeposits(ctx context.Context, q DepositQuery) ([]models.DepositRequest, error) {
	query := s.db.WithContext(ctx).Model(&models.DepositRequest{})
	if q.AccountID != 0 {
		query = query.Where("account_id = ?", q.AccountID)
	}
	if len(q.Statuses) > 0 {
		query = query.Where("status IN ?", q.Statuses)
	}
	if len(q.Methods) > 0 {
		query = query.Where("method IN ?", q.Methods)
	}
	if q.From != nil {
		query = query.Where("created_at >= ?", *q.From)
	}
	if q.To != nil {
		query = query.Where("created_at <= ?", *q.To)
	}

	var reqs []models.DepositRequest
	err := query.Order("created_at DESC").
		Limit(normalizeLimit(q.Limit)).
		Offset(q.Offset).
		Find(&reqs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list deposit requests: %w", err)
	}
	return reqs, nil
}

// SumActiveDeposits totals the non-cancelled deposit amounts of one account
// and currency created at or after the window start. Unsettled requests
// count, so a pending deposit reserves its slice of the cap.
func (s *Store) SumActiveDeposits(ctx context.Context, accountID uint, currency string, since time.Time) (decimal.Decimal, error) {
	var row struct{ Total decimal.Decimal }
	err := s.db.WithContext(ctx).
		Model(&models.DepositRequest{}).
		Where("account_id = ? AND currency = ? AND status <> ? AND created_at >= ?",
			accountID, currency, models.DepositStatusCancelled, since).
		Select("COALESCE(SUM(amount), 0) AS total").
		Scan(&row).Error
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to sum deposit amounts: %w", err)
	}
	return row.Total, nil
}

func (s *Store) FindDepositByID(ctx context.Context, id uint) (*models.DepositRequest, error) {
	return s.GetDeposit(ctx, id)
}

func (s *Store) FindDepositByGatewayTxnID(ctx context.Context, gatewayTxnID string) (*models.DepositRequest, error) {
	var req models.DepositRequest
	err := s.db.WithContext(ctx).
		Where("gateway_transaction_id = ?", gatewayTxnID).
		Order("created_at DESC").
		First(&req).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrDepositNotFound
		}
		return nil, fmt.Errorf("failed to find deposit request: %w", err)
	}
	return &req, nil
}

// FindDepositByReference scopes reference lookups to the provider's gateway,
// so colliding reference codes across providers cannot cross-settle.
func (s *Store) FindDepositByReference(ctx context.Context, gateway, reference string) (*models.DepositRequest, error) {
	var req models.DepositRequest
	err := s.db.WithContext(ctx).
		Where("(gateway = ? OR gateway = '') AND (reference_code = ? OR bank_reference_code = ?)",
			gateway, reference, reference).
		Order("created_at DESC").
		First(&req).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrDepositNotFound
		}
		return nil, fmt.Errorf("failed to find deposit request: %w", err)
	}
	return &req, nil
}

// -- withdrawals --

func (s *Store) GetWithdrawal(ctx context.Context, id uint) (*models.WithdrawalRequest, error) {
	var req models.WithdrawalRequest
	if err := s.db.WithContext(ctx).First(&req, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrWithdrawalNotFound
		}
		return nil, fmt.Errorf("failed to get withdrawal request: %w", err)
	}
	return &req, nil
}

// WithdrawalQuery narrows ListWithdrawals.
type WithdrawalQuery struct {
	AccountID uint
	Statuses  []string
	From      *time.Time
	To        *time.Time
	Limit     int
	Offset    int
}

func (s *Store) ListWithdrawals(ctx context.Context, q WithdrawalQuery) ([]models.WithdrawalRequest, error) {
	query := s.db.WithContext(ctx).Model(&models.WithdrawalRequest{})
	if q.AccountID != 0 {
		query = query.Where("account_id = ?", q.AccountID)
	}
	if len(q.Statuses) > 0 {
		query = query.Where("status IN ?", q.Statuses)
	}
	if q.From != nil {
		query = query.Where("created_at >= ?", *q.From)
	}
	if q.To != nil {
		query = query.Where("created_at <= ?", *q.To)
	}

	var reqs []models.WithdrawalRequest
	err := query.Order("created_at DESC").
		Limit(normalizeLimit(q.Limit)).
		Offset(q.Offset).
		Find(&reqs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list withdrawal requests: %w", err)
	}
	return reqs, nil
}

// -- settings --

// GetSettings returns (nil, nil) when no row exists for the scope.
func (s *Store) GetSettings(ctx context.Context, scopeType string, scopeID uint, currency string) (*models.WalletSettings, error) {
	var settings models.WalletSettings
	err := s.db.WithContext(ctx).
		Where("scope_type = ? AND scope_id = ? AND currency = ?", scopeType, scopeID, currency).
		First(&settings).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get settings: %w", err)
	}
	return &settings, nil
}

func (s *Store) UpsertSettings(ctx context.Context, settings *models.WalletSettings) error {
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "scope_type"}, {Name: "scope_id"}, {Name: "currency"}},
		UpdateAll: true,
	}).Create(settings).Error
	if err != nil {
		return fmt.Errorf("failed to upsert settings: %w", err)
	}
	return nil
}

// -- verification registry --

func (s *Store) PaymentMethodByID(ctx context.Context, id uint) (*models.PaymentMethod, error) {
	var method models.PaymentMethod
	if err := s.db.WithContext(ctx).First(&method, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrPaymentMethodNotFound
		}
		return nil, fmt.Errorf("failed to get payment method: %w", err)
	}
	return &method, nil
}

func (s *Store) ListPaymentMethods(ctx context.Context, accountID uint) ([]models.PaymentMethod, error) {
	var methods []models.PaymentMethod
	err := s.db.WithContext(ctx).
		Where("account_id = ?", accountID).
		Order("created_at DESC").
		Find(&methods).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list payment methods: %w", err)
	}
	return methods, nil
}

func (s *Store) SavePaymentMethod(ctx context.Context, method *models.PaymentMethod) error {
	if err := s.db.WithContext(ctx).Save(method).Error; err != nil {
		return fmt.Errorf("failed to save payment method: %w", err)
	}
	return nil
}

func (s *Store) CreateKycDocument(ctx context.Context, doc *models.KycDocument) error {
	if err := s.db.WithContext(ctx).Create(doc).Error; err != nil {
		return fmt.Errorf("failed to create kyc document: %w", err)
	}
	return nil
}

func (s *Store) KycDocumentByID(ctx context.Context, id uint) (*models.KycDocument, error) {
	var doc models.KycDocument
	if err := s.db.WithContext(ctx).First(&doc, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrKycDocumentNotFound
		}
		return nil, fmt.Errorf("failed to get kyc document: %w", err)
	}
	return &doc, nil
}

func (s *Store) ListKycDocuments(ctx context.Context, accountID uint) ([]models.KycDocument, error) {
	var docs []models.KycDocument
	err := s.db.WithContext(ctx).
		Where("account_id = ?", accountID).
		Order("created_at DESC").
		Find(&docs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list kyc documents: %w", err)
	}
	return docs, nil
}

func (s *Store) SaveKycDocument(ctx context.Context, doc *models.KycDocument) error {
	if err := s.db.WithContext(ctx).Save(doc).Error; err != nil {
		return fmt.Errorf("failed to save kyc document: %w", err)
	}
	return nil
}

func (s *Store) ApprovedDocumentTypes(ctx context.Context, accountID uint) ([]string, error) {
	var types []string
	err := s.db.WithContext(ctx).
		Model(&models.KycDocument{}).
		Where("account_id = ? AND status = ?", accountID, models.KycStatusApproved).
		Distinct().
		Pluck("document_type", &types).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list approved document types: %w", err)
	}
	return types, nil
}

func (s *Store) CreateBankAccount(ctx context.Context, account *models.BankAccount) error {
	if err := s.db.WithContext(ctx).Create(account).Error; err != nil {
		return fmt.Errorf("failed to create bank account: %w", err)
	}
	return nil
}

func (s *Store) BankAccountByID(ctx context.Context, id uint) (*models.BankAccount, error) {
	var account models.BankAccount
	if err := s.db.WithContext(ctx).First(&account, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrBankAccountNotFound
		}
		return nil, fmt.Errorf("failed to get bank account: %w", err)
	}
	return &account, nil
}

func (s *Store) ListBankAccounts(ctx context.Context, accountID uint) ([]models.BankAccount, error) {
	var accounts []models.BankAccount
	err := s.db.WithContext(ctx).
		Where("account_id = ?", accountID).
		Order("created_at DESC").
		Find(&accounts).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list bank accounts: %w", err)
	}
	return accounts, nil
}

func (s *Store) SaveBankAccount(ctx context.Context, account *models.BankAccount) error {
	if err := s.db.WithContext(ctx).Save(account).Error; err != nil {
		return fmt.Errorf("failed to save bank account: %w", err)
	}
	return nil
}

func (s *Store) ActiveBankAccount(ctx context.Context, accountID uint, currency string) (*models.BankAccount, error) {
	var account models.BankAccount
	err := s.db.WithContext(ctx).
		Where("account_id = ? AND currency = ? AND status = ?", accountID, currency, "active").
		Order("created_at DESC").
		First(&account).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrBankAccountNotFound
		}
		return nil, fmt.Errorf("failed to get active bank account: %w", err)
	}
	return &account, nil
}

// -- webhook events --

// InsertOrGetWebhookEvent claims the dedupe key. The losing side of a
// delivery race gets the stored row back instead of a constraint error.
func (s *Store) InsertOrGetWebhookEvent(ctx context.Context, event *models.WebhookEvent) (*models.WebhookEvent, bool, error) {
	res := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "dedupe_key"}},
		DoNothing: true,
	}).Create(event)
	if res.Error != nil {
		return nil, false, fmt.Errorf("failed to insert webhook event: %w", res.Error)
	}
	if res.RowsAffected > 0 {
		return event, true, nil
	}

	var existing models.WebhookEvent
	err := s.db.WithContext(ctx).Where("dedupe_key = ?", event.DedupeKey).First(&existing).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, false, ErrWebhookEventNotFound
		}
		return nil, false, fmt.Errorf("failed to load webhook event: %w", err)
	}
	return &existing, false, nil
}

func (s *Store) SaveWebhookEvent(ctx context.Context, event *models.WebhookEvent) error {
	if err := s.db.WithContext(ctx).Save(event).Error; err != nil {
		return fmt.Errorf("failed to save webhook event: %w", err)
	}
	return nil
}

// -- audit --

func (s *Store) AppendAudit(ctx context.Context, entry *models.AuditLog) error {
	if err := s.db.WithContext(ctx).Create(entry).Error; err != nil {
		return fmt.Errorf("failed to append audit entry: %w", err)
	}
	return nil
}

func normalizeLimit(limit int) int {
	if limit <= 0 || limit > 500 {
		return 100
	}
	return limit
}
