// Package withdrawal orchestrates payout requests. The requested amount is
// locked from available into pending for the lifetime of the request and
// either captured on settlement or reversed on rejection.
package withdrawal

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"tidepay/internal/models"
	"tidepay/internal/repositories"
	"tidepay/internal/services/ledger"
)

// Service errors
var (
	ErrInvalidAmount        = errors.New("invalid withdrawal amount")
	ErrInsufficientBalance  = errors.New("insufficient available balance")
	ErrVerificationRequired = errors.New("verification required for withdrawals")
	ErrWithdrawalNotFound   = errors.New("withdrawal request not found")
	ErrAlreadyFinalized     = errors.New("withdrawal request already finalized")
	ErrInvalidTransition    = errors.New("invalid withdrawal status transition")
)

// RequestInput describes a new payout request.
type RequestInput struct {
	AccountID       uint
	Currency        string
	Amount          decimal.Decimal
	PaymentMethodID uint
	RequestedBy     uint
	Metadata        models.JSON
}

// Filter narrows withdrawal listings.
type Filter struct {
	AccountID uint
	Statuses  []string
	From      *time.Time
	To        *time.Time
	Limit     int
	Offset    int
}

// UnitOfWork is the storage slice a withdrawal transition mutates.
type UnitOfWork interface {
	ledger.UnitOfWork

	WithdrawalForUpdate(ctx context.Context, id uint) (*models.WithdrawalRequest, error)
	CreateWithdrawal(ctx context.Context, req *models.WithdrawalRequest) error
	SaveWithdrawal(ctx context.Context, req *models.WithdrawalRequest) error

	AppendAudit(ctx context.Context, entry *models.AuditLog) error
}

// Store is the persistence contract of the withdrawal manager.
type Store interface {
	Atomically(ctx context.Context, fn func(uow UnitOfWork) error) error

	GetWithdrawal(ctx context.Context, id uint) (*models.WithdrawalRequest, error)
	ListWithdrawals(ctx context.Context, filter Filter) ([]models.WithdrawalRequest, error)
	GetBalance(ctx context.Context, accountID uint, currency string) (*models.Balance, error)
}

// SettingsResolver yields the effective wallet settings for an account.
type SettingsResolver interface {
	ResolveForAccount(ctx context.Context, accountID uint, currency string) (*models.WalletSettings, error)
}

// Verifier answers KYC and payout-method questions.
type Verifier interface {
	VerifiedPayoutMethod(ctx context.Context, accountID, methodID uint) (*models.PaymentMethod, error)
	CheckWithdrawalEligibility(ctx context.Context, accountID uint, requiredDocs []string) error
}

// Service is the withdrawal manager contract.
type Service interface {
	RequestWithdrawal(ctx context.Context, in RequestInput) (*models.WithdrawalRequest, error)
	ApproveWithdrawal(ctx context.Context, id uint, actorID uint) (*models.WithdrawalRequest, error)
	FinalizeWithdrawal(ctx context.Context, id uint, success bool, actorID uint, reason string) (*models.WithdrawalRequest, error)
	GetWithdrawal(ctx context.Context, id uint) (*models.WithdrawalRequest, error)
	ListWithdrawals(ctx context.Context, filter Filter) ([]models.WithdrawalRequest, error)
}

type service struct {
	store    Store
	settings SettingsResolver
	verifier Verifier
	ledger   ledger.Recorder
	log      *zap.SugaredLogger
}

// NewService creates the withdrawal manager.
func NewService(store Store, settings SettingsResolver, verifier Verifier, recorder ledger.Recorder, log *zap.SugaredLogger) Service {
	if store == nil {
		panic("store is required")
	}
	if settings == nil {
		panic("settings resolver is required")
	}
	if verifier == nil {
		panic("verifier is required")
	}
	if recorder == nil {
		panic("ledger recorder is required")
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &service{store: store, settings: settings, verifier: verifier, ledger: recorder, log: log}
}

// RequestWithdrawal checks KYC gating and locks the requested amount from
// available into pending.
func (s *service) RequestWithdrawal(ctx context.Context, in RequestInput) (*models.WithdrawalRequest, error) {
	if in.Amount.LessThanOrEqual(decimal.Zero) {
		return nil, ErrInvalidAmount
	}

	scope, err := s.settings.ResolveForAccount(ctx, in.AccountID, in.Currency)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve settings: %w", err)
	}
	if err := s.checkVerification(ctx, scope, in.AccountID, in.PaymentMethodID); err != nil {
		return nil, err
	}

	balance, err := s.store.GetBalance(ctx, in.AccountID, in.Currency)
	if err != nil {
		return nil, err
	}
	if balance == nil || balance.AvailableAmount.LessThan(in.Amount) {
		return nil, ErrInsufficientBalance
	}

	req := &models.WithdrawalRequest{
		AccountID:       in.AccountID,
		Currency:        in.Currency,
		Amount:          in.Amount,
		Status:          models.WithdrawalStatusPending,
		PaymentMethodID: in.PaymentMethodID,
		RequestedBy:     in.RequestedBy,
		Metadata:        in.Metadata,
	}

	err = s.store.Atomically(ctx, func(uow UnitOfWork) error {
		if err := uow.CreateWithdrawal(ctx, req); err != nil {
			return fmt.Errorf("failed to persist withdrawal request: %w", err)
		}

		txn, err := s.ledger.Record(ctx, uow, ledger.RecordInput{
			AccountID:         in.AccountID,
			Currency:          in.Currency,
			Type:              models.TransactionTypeWithdrawalRequest,
			Amount:            decimal.Zero,
			Deltas:            &ledger.Deltas{Available: in.Amount.Neg(), Pending: in.Amount},
			Description:       "withdrawal requested",
			RelatedEntityType: ledger.EntityWithdrawal,
			RelatedEntityID:   req.ID,
			CreatedBy:         in.RequestedBy,
		})
		if err != nil {
			if errors.Is(err, ledger.ErrInsufficientBalance) {
				return ErrInsufficientBalance
			}
			return err
		}

		req.LockTransactionID = &txn.ID
		if err := uow.SaveWithdrawal(ctx, req); err != nil {
			return fmt.Errorf("failed to save withdrawal request: %w", err)
		}

		s.audit(ctx, uow, in.RequestedBy, "withdrawal_requested", req, nil)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return req, nil
}

// ApproveWithdrawal re-checks verification, since requirements may have
// changed since the request, and flips the request to processing.
func (s *service) ApproveWithdrawal(ctx context.Context, id uint, actorID uint) (*models.WithdrawalRequest, error) {
	var approved *models.WithdrawalRequest
	err := s.store.Atomically(ctx, func(uow UnitOfWork) error {
		req, err := s.lock(ctx, uow, id)
		if err != nil {
			return err
		}
		if req.Status != models.WithdrawalStatusPending {
			return fmt.Errorf("%w: from %s", ErrInvalidTransition, req.Status)
		}

		scope, err := s.settings.ResolveForAccount(ctx, req.AccountID, req.Currency)
		if err != nil {
			return fmt.Errorf("failed to resolve settings: %w", err)
		}
		if err := s.checkVerification(ctx, scope, req.AccountID, req.PaymentMethodID); err != nil {
			return err
		}

		now := time.Now().UTC()
		req.Status = models.WithdrawalStatusProcessing
		req.ApprovedBy = actorID
		req.ProcessedAt = &now
		if err := uow.SaveWithdrawal(ctx, req); err != nil {
			return fmt.Errorf("failed to save withdrawal request: %w", err)
		}

		s.audit(ctx, uow, actorID, "withdrawal_approved", req, nil)
		approved = req
		return nil
	})
	if err != nil {
		return nil, err
	}
	return approved, nil
}

// FinalizeWithdrawal settles or reverses the pending lock. Success captures
// the pending amount permanently; failure returns it to available. Only a
// processing request may be finalized; approval is the sole path into
// processing, so the verification re-check cannot be skipped. Re-entry on a
// terminal request is a no-op signalled by ErrAlreadyFinalized.
func (s *service) FinalizeWithdrawal(ctx context.Context, id uint, success bool, actorID uint, reason string) (*models.WithdrawalRequest, error) {
	var finalized *models.WithdrawalRequest
	err := s.store.Atomically(ctx, func(uow UnitOfWork) error {
		req, err := s.lock(ctx, uow, id)
		if err != nil {
			return err
		}
		if req.Status != models.WithdrawalStatusProcessing {
			return fmt.Errorf("%w: from %s", ErrInvalidTransition, req.Status)
		}

		now := time.Now().UTC()
		if success {
			_, err = s.ledger.Record(ctx, uow, ledger.RecordInput{
				AccountID:         req.AccountID,
				Currency:          req.Currency,
				Type:              models.TransactionTypeWithdrawalSettlement,
				Amount:            req.Amount.Neg(),
				Deltas:            &ledger.Deltas{Pending: req.Amount.Neg()},
				Description:       "withdrawal settled",
				RelatedEntityType: ledger.EntityWithdrawal,
				RelatedEntityID:   req.ID,
				CreatedBy:         actorID,
			})
			if err != nil {
				return fmt.Errorf("failed to settle withdrawal: %w", err)
			}
			req.Status = models.WithdrawalStatusCompleted
			req.CompletedAt = &now
		} else {
			_, err = s.ledger.Record(ctx, uow, ledger.RecordInput{
				AccountID:         req.AccountID,
				Currency:          req.Currency,
				Type:              models.TransactionTypeWithdrawalReversal,
				Amount:            decimal.Zero,
				Deltas:            &ledger.Deltas{Available: req.Amount, Pending: req.Amount.Neg()},
				Description:       "withdrawal reversed",
				RelatedEntityType: ledger.EntityWithdrawal,
				RelatedEntityID:   req.ID,
				ReversalOfID:      req.LockTransactionID,
				CreatedBy:         actorID,
			})
			if err != nil {
				return fmt.Errorf("failed to reverse withdrawal lock: %w", err)
			}
			req.Status = models.WithdrawalStatusRejected
			req.RejectionReason = reason
		}

		req.ProcessedAt = &now
		if err := uow.SaveWithdrawal(ctx, req); err != nil {
			return fmt.Errorf("failed to save withdrawal request: %w", err)
		}

		action := "withdrawal_settled"
		if !success {
			action = "withdrawal_rejected"
		}
		s.audit(ctx, uow, actorID, action, req, models.NewJSON(map[string]interface{}{"reason": reason}))
		finalized = req
		return nil
	})
	if err != nil {
		return nil, err
	}
	return finalized, nil
}

func (s *service) GetWithdrawal(ctx context.Context, id uint) (*models.WithdrawalRequest, error) {
	req, err := s.store.GetWithdrawal(ctx, id)
	if err != nil {
		if errors.Is(err, repositories.ErrWithdrawalNotFound) {
			return nil, ErrWithdrawalNotFound
		}
		return nil, err
	}
	return req, nil
}

func (s *service) ListWithdrawals(ctx context.Context, filter Filter) ([]models.WithdrawalRequest, error) {
	return s.store.ListWithdrawals(ctx, filter)
}

func (s *service) lock(ctx context.Context, uow UnitOfWork, id uint) (*models.WithdrawalRequest, error) {
	req, err := uow.WithdrawalForUpdate(ctx, id)
	if err != nil {
		if errors.Is(err, repositories.ErrWithdrawalNotFound) {
			return nil, ErrWithdrawalNotFound
		}
		return nil, err
	}
	if req.Finalized() {
		return nil, fmt.Errorf("%w: status %s", ErrAlreadyFinalized, req.Status)
	}
	return req, nil
}

func (s *service) checkVerification(ctx context.Context, scope *models.WalletSettings, accountID, methodID uint) error {
	if !scope.RequireKycForWithdrawals {
		return nil
	}
	if _, err := s.verifier.VerifiedPayoutMethod(ctx, accountID, methodID); err != nil {
		return fmt.Errorf("%w: %v", ErrVerificationRequired, err)
	}
	if err := s.verifier.CheckWithdrawalEligibility(ctx, accountID, scope.Preferences.RequiredKycDocuments); err != nil {
		return fmt.Errorf("%w: %v", ErrVerificationRequired, err)
	}
	return nil
}

func (s *service) audit(ctx context.Context, uow UnitOfWork, actorID uint, action string, req *models.WithdrawalRequest, details models.JSON) {
	if details == nil {
		details = models.NewJSON(nil)
	}
	details["amount"] = req.Amount.String()
	details["currency"] = req.Currency
	if err := uow.AppendAudit(ctx, &models.AuditLog{
		ActorID:    actorID,
		Action:     action,
		EntityType: "withdrawal_request",
		EntityID:   req.ID,
		Details:    details,
	}); err != nil {
		s.log.Warnw("audit append failed", "action", action, "withdrawal_id", req.ID, "err", err)
	}
}
