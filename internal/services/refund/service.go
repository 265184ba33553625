// Package refund force-deletes lesson packages and prices the unused hours
// back into the wallet.
package refund

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"tidepay/internal/models"
	"tidepay/internal/repositories"
	"tidepay/internal/services/ledger"
)

// Service errors
var (
	ErrPackageNotFound = errors.New("lesson package not found")
	ErrInvalidPackage  = errors.New("package has no billable hours")
)

// DeleteInput tunes a force deletion.
type DeleteInput struct {
	PackageID uint
	ActorID   uint
	// ChargeForUsedHours also debits the used portion, covering packages
	// that were granted rather than purchased.
	ChargeForUsedHours bool
	// DisallowNegative refuses the used-hours debit when the wallet cannot
	// cover it instead of driving the balance below zero.
	DisallowNegative bool
	Reason           string
}

// DeleteResult reports what the deletion cleaned up and recorded.
type DeleteResult struct {
	PackageID           uint                `json:"packageId"`
	WasPaid             bool                `json:"wasPaid"`
	RefundAmount        decimal.Decimal     `json:"refundAmount"`
	UsageChargeAmount   decimal.Decimal     `json:"usageChargeAmount"`
	BookingsCleared     int64               `json:"bookingsCleared"`
	ParticipantsCleared int64               `json:"participantsCleared"`
	Transactions        []models.Transaction `json:"transactions"`
}

// UnitOfWork is the storage slice a force deletion mutates.
type UnitOfWork interface {
	ledger.UnitOfWork

	PackageForUpdate(ctx context.Context, id uint) (*models.LessonPackage, error)
	DeletePackageBookings(ctx context.Context, packageID uint) (int64, error)
	DeletePackageParticipants(ctx context.Context, packageID uint) (int64, error)
	DeletePackage(ctx context.Context, id uint) error

	HasCompletedPurchase(ctx context.Context, packageID uint) (bool, error)

	AppendAudit(ctx context.Context, entry *models.AuditLog) error
}

// Store is the persistence contract of the refund calculator.
type Store interface {
	Atomically(ctx context.Context, fn func(uow UnitOfWork) error) error
}

// Service is the refund calculator contract.
type Service interface {
	ForceDeletePackage(ctx context.Context, in DeleteInput) (*DeleteResult, error)
}

type service struct {
	store  Store
	ledger ledger.Recorder
	log    *zap.SugaredLogger
}

// NewService creates the refund calculator.
func NewService(store Store, recorder ledger.Recorder, log *zap.SugaredLogger) Service {
	if store == nil {
		panic("store is required")
	}
	if recorder == nil {
		panic("ledger recorder is required")
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &service{store: store, ledger: recorder, log: log}
}

// ForceDeletePackage removes a package and its linkage rows and settles the
// money. Unused hours on a paid package are refunded at the per-hour price;
// a fully used paid package deletes without any ledger entry.
func (s *service) ForceDeletePackage(ctx context.Context, in DeleteInput) (*DeleteResult, error) {
	var result *DeleteResult
	err := s.store.Atomically(ctx, func(uow UnitOfWork) error {
		pkg, err := uow.PackageForUpdate(ctx, in.PackageID)
		if err != nil {
			if errors.Is(err, repositories.ErrPackageNotFound) {
				return ErrPackageNotFound
			}
			return err
		}
		if pkg.TotalHours.LessThanOrEqual(decimal.Zero) {
			return ErrInvalidPackage
		}

		paid, err := uow.HasCompletedPurchase(ctx, pkg.ID)
		if err != nil {
			return fmt.Errorf("failed to check purchase history: %w", err)
		}

		res := &DeleteResult{
			PackageID:         pkg.ID,
			WasPaid:           paid,
			RefundAmount:      decimal.Zero,
			UsageChargeAmount: decimal.Zero,
		}

		res.BookingsCleared, err = uow.DeletePackageBookings(ctx, pkg.ID)
		if err != nil {
			return fmt.Errorf("failed to clear package bookings: %w", err)
		}
		res.ParticipantsCleared, err = uow.DeletePackageParticipants(ctx, pkg.ID)
		if err != nil {
			return fmt.Errorf("failed to clear package participants: %w", err)
		}
		if err := uow.DeletePackage(ctx, pkg.ID); err != nil {
			return fmt.Errorf("failed to delete package: %w", err)
		}

		pricePerHour := pkg.Price.Div(pkg.TotalHours)
		remainingHours := pkg.TotalHours.Sub(pkg.UsedHours)
		if remainingHours.IsNegative() {
			remainingHours = decimal.Zero
		}

		if paid {
			refund := remainingHours.Mul(pricePerHour).Round(2)
			if refund.IsPositive() {
				txn, err := s.ledger.Record(ctx, uow, ledger.RecordInput{
					AccountID:         pkg.AccountID,
					Currency:          pkg.Currency,
					Type:              models.TransactionTypePackageRefund,
					Amount:            refund,
					Description:       fmt.Sprintf("refund for unused hours of package %q", pkg.Name),
					Metadata:          refundMetadata(pkg, remainingHours, pricePerHour, in.Reason),
					RelatedEntityType: ledger.EntityPackage,
					RelatedEntityID:   pkg.ID,
					ReversalOfID:      pkg.PurchaseTransactionID,
					CreatedBy:         in.ActorID,
				})
				if err != nil {
					return fmt.Errorf("failed to record package refund: %w", err)
				}
				res.RefundAmount = refund
				res.Transactions = append(res.Transactions, *txn)
			}
		} else if in.ChargeForUsedHours && pkg.UsedHours.IsPositive() {
			charge := pkg.UsedHours.Mul(pricePerHour).Round(2)
			if charge.IsPositive() {
				txn, err := s.ledger.Record(ctx, uow, ledger.RecordInput{
					AccountID:         pkg.AccountID,
					Currency:          pkg.Currency,
					Type:              models.TransactionTypePackageUsage,
					Amount:            charge.Neg(),
					AllowNegative:     !in.DisallowNegative,
					Description:       fmt.Sprintf("usage settlement for package %q", pkg.Name),
					Metadata:          refundMetadata(pkg, pkg.UsedHours, pricePerHour, in.Reason),
					RelatedEntityType: ledger.EntityPackage,
					RelatedEntityID:   pkg.ID,
					CreatedBy:         in.ActorID,
				})
				if err != nil {
					return fmt.Errorf("failed to record usage settlement: %w", err)
				}
				res.UsageChargeAmount = charge
				res.Transactions = append(res.Transactions, *txn)
			}
		}

		s.audit(ctx, uow, in, pkg, res)
		result = res
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func refundMetadata(pkg *models.LessonPackage, hours, pricePerHour decimal.Decimal, reason string) models.JSON {
	meta := models.NewJSON(map[string]interface{}{
		"package_id":     pkg.ID,
		"total_hours":    pkg.TotalHours.String(),
		"used_hours":     pkg.UsedHours.String(),
		"billed_hours":   hours.String(),
		"price_per_hour": pricePerHour.Round(4).String(),
	})
	if reason != "" {
		meta["reason"] = reason
	}
	return meta
}

func (s *service) audit(ctx context.Context, uow UnitOfWork, in DeleteInput, pkg *models.LessonPackage, res *DeleteResult) {
	if err := uow.AppendAudit(ctx, &models.AuditLog{
		ActorID:    in.ActorID,
		Action:     "package_force_deleted",
		EntityType: "lesson_package",
		EntityID:   pkg.ID,
		Details: models.NewJSON(map[string]interface{}{
			"was_paid":             res.WasPaid,
			"refund_amount":        res.RefundAmount.String(),
			"usage_charge_amount":  res.UsageChargeAmount.String(),
			"bookings_cleared":     res.BookingsCleared,
			"participants_cleared": res.ParticipantsCleared,
			"reason":               in.Reason,
		}),
	}); err != nil {
		s.log.Warnw("audit append failed", "action", "package_force_deleted", "package_id", pkg.ID, "err", err)
	}
}
