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

// UnitOfWork is the transaction-scoped view of the store. Every method runs
// on the same database transaction, so mutations across services commit or
// roll back together.
type UnitOfWork struct {
	db *gorm.DB
}

// BalanceForUpdate locks the balance row FOR UPDATE. Concurrent writers to
// the same (account, currency) serialize here.
func (u *UnitOfWork) BalanceForUpdate(ctx context.Context, accountID uint, currency string) (*models.Balance, error) {
	var balance models.Balance
	err := u.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("account_id = ? AND currency = ?", accountID, currency).
		First(&balance).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrBalanceNotFound
		}
		return nil, fmt.Errorf("failed to lock balance: %w", err)
	}
	return &balance, nil
}

func (u *UnitOfWork) CreateBalance(ctx context.Context, balance *models.Balance) error {
	if err := u.db.WithContext(ctx).Create(balance).Error; err != nil {
		return fmt.Errorf("failed to create balance: %w", err)
	}
	return nil
}

func (u *UnitOfWork) SaveBalance(ctx context.Context, balance *models.Balance) error {
	if err := u.db.WithContext(ctx).Save(balance).Error; err != nil {
		return fmt.Errorf("failed to save balance: %w", err)
	}
	return nil
}

func (u *UnitOfWork) CreateTransaction(ctx context.Context, txn *models.Transaction) error {
	if err := u.db.WithContext(ctx).Create(txn).Error; err != nil {
		return fmt.Errorf("failed to create transaction: %w", err)
	}
	return nil
}

func (u *UnitOfWork) TransactionForUpdate(ctx context.Context, id uint) (*models.Transaction, error) {
	var txn models.Transaction
	err := u.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		First(&txn, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrTransactionNotFound
		}
		return nil, fmt.Errorf("failed to lock transaction: %w", err)
	}
	return &txn, nil
}

func (u *UnitOfWork) SaveTransaction(ctx context.Context, txn *models.Transaction) error {
	if err := u.db.WithContext(ctx).Save(txn).Error; err != nil {
		return fmt.Errorf("failed to save transaction: %w", err)
	}
	return nil
}

// UpsertLegacyMirror accumulates the spent delta into the denormalized
// per-account counter.
func (u *UnitOfWork) UpsertLegacyMirror(ctx context.Context, accountID uint, spentDelta decimal.Decimal, paidAt time.Time) error {
	mirror := models.LegacyAccountMirror{
		AccountID:     accountID,
		TotalSpent:    spentDelta,
		LastPaymentAt: &paidAt,
	}
	err := u.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "account_id"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"total_spent":     gorm.Expr("legacy_account_mirrors.total_spent + ?", spentDelta),
			"last_payment_at": paidAt,
			"updated_at":      time.Now().UTC(),
		}),
	}).Create(&mirror).Error
	if err != nil {
		return fmt.Errorf("failed to upsert legacy mirror: %w", err)
	}
	return nil
}

// -- deposits --

func (u *UnitOfWork) DepositForUpdate(ctx context.Context, id uint) (*models.DepositRequest, error) {
	var req models.DepositRequest
	err := u.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		First(&req, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrDepositNotFound
		}
		return nil, fmt.Errorf("failed to lock deposit request: %w", err)
	}
	return &req, nil
}

func (u *UnitOfWork) CreateDeposit(ctx context.Context, req *models.DepositRequest) error {
	if err := u.db.WithContext(ctx).Create(req).Error; err != nil {
		return fmt.Errorf("failed to create deposit request: %w", err)
	}
	return nil
}

func (u *UnitOfWork) SaveDeposit(ctx context.Context, req *models.DepositRequest) error {
	if err := u.db.WithContext(ctx).Save(req).Error; err != nil {
		return fmt.Errorf("failed to save deposit request: %w", err)
	}
	return nil
}

// -- withdrawals --

func (u *UnitOfWork) WithdrawalForUpdate(ctx context.Context, id uint) (*models.WithdrawalRequest, error) {
	var req models.WithdrawalRequest
	err := u.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		First(&req, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrWithdrawalNotFound
		}
		return nil, fmt.Errorf("failed to lock withdrawal request: %w", err)
	}
	return &req, nil
}

func (u *UnitOfWork) CreateWithdrawal(ctx context.Context, req *models.WithdrawalRequest) error {
	if err := u.db.WithContext(ctx).Create(req).Error; err != nil {
		return fmt.Errorf("failed to create withdrawal request: %w", err)
	}
	return nil
}

func (u *UnitOfWork) SaveWithdrawal(ctx context.Context, req *models.WithdrawalRequest) error {
	if err := u.db.WithContext(ctx).Save(req).Error; err != nil {
		return fmt.Errorf("failed to save withdrawal request: %w", err)
	}
	return nil
}

// -- lesson packages --

func (u *UnitOfWork) PackageForUpdate(ctx context.Context, id uint) (*models.LessonPackage, error) {
	var pkg models.LessonPackage
	err := u.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		First(&pkg, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrPackageNotFound
		}
		return nil, fmt.Errorf("failed to lock package: %w", err)
	}
	return &pkg, nil
}

func (u *UnitOfWork) DeletePackageBookings(ctx context.Context, packageID uint) (int64, error) {
	res := u.db.WithContext(ctx).Where("package_id = ?", packageID).Delete(&models.PackageBooking{})
	if res.Error != nil {
		return 0, fmt.Errorf("failed to delete package bookings: %w", res.Error)
	}
	return res.RowsAffected, nil
}

func (u *UnitOfWork) DeletePackageParticipants(ctx context.Context, packageID uint) (int64, error) {
	res := u.db.WithContext(ctx).Where("package_id = ?", packageID).Delete(&models.PackageParticipant{})
	if res.Error != nil {
		return 0, fmt.Errorf("failed to delete package participants: %w", res.Error)
	}
	return res.RowsAffected, nil
}

func (u *UnitOfWork) DeletePackage(ctx context.Context, id uint) error {
	res := u.db.WithContext(ctx).Delete(&models.LessonPackage{}, id)
	if res.Error != nil {
		return fmt.Errorf("failed to delete package: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrPackageNotFound
	}
	return nil
}

// HasCompletedPurchase reports whether a completed purchase debit exists for
// the package, which marks it as paid rather than granted.
func (u *UnitOfWork) HasCompletedPurchase(ctx context.Context, packageID uint) (bool, error) {
	var count int64
	err := u.db.WithContext(ctx).
		Model(&models.Transaction{}).
		Where("type = ? AND status = ? AND related_entity_type = ? AND related_entity_id = ? AND available_delta < 0",
			models.TransactionTypePackagePurchase, models.TransactionStatusCompleted, "package", packageID).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("failed to check purchase history: %w", err)
	}
	return count > 0, nil
}

// -- audit --

func (u *UnitOfWork) AppendAudit(ctx context.Context, entry *models.AuditLog) error {
	if err := u.db.WithContext(ctx).Create(entry).Error; err != nil {
		return fmt.Errorf("failed to append audit entry: %w", err)
	}
	return nil
}
