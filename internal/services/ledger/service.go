// Package ledger is the transaction ledger: the only writer of balance rows.
// Every balance mutation appends an immutable transaction carrying the deltas
// applied and the resulting snapshots, inside one atomic unit of work with
// the balance row locked FOR UPDATE.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"tidepay/internal/models"
	"tidepay/internal/repositories"
)

// Config controls optional ledger behavior.
type Config struct {
	// LegacyMirrorEnabled turns on the denormalized spent-total mirror.
	LegacyMirrorEnabled bool
}

type service struct {
	store  Store
	cache  BalanceCache
	config Config
	log    *zap.SugaredLogger
}

// Service is the ledger contract consumed by collaborators.
type Service interface {
	Recorder

	RecordTransaction(ctx context.Context, in RecordInput) (*models.Transaction, error)
	RecordLegacyTransaction(ctx context.Context, accountID uint, currency, txType string, amount decimal.Decimal, description string) (*models.Transaction, error)
	CancelTransaction(ctx context.Context, id uint, actorID uint, reason string) (*models.Transaction, error)

	GetBalance(ctx context.Context, accountID uint, currency string) (*models.Balance, error)
	GetAccountSummary(ctx context.Context, accountID uint, currency string) (*AccountSummary, error)
	FetchTransactions(ctx context.Context, filter TransactionFilter) ([]models.Transaction, error)
	GetTransactionByID(ctx context.Context, id uint) (*models.Transaction, error)

	LockFundsForBooking(ctx context.Context, accountID uint, currency string, amount decimal.Decimal, bookingID uint, actorID uint) (*models.Transaction, error)
	ReleaseLockedFunds(ctx context.Context, accountID uint, currency string, amount decimal.Decimal, bookingID uint, actorID uint) (*models.Transaction, error)
	CaptureLockedFunds(ctx context.Context, accountID uint, currency string, amount decimal.Decimal, bookingID uint, actorID uint) (*models.Transaction, error)
}

// NewService creates the ledger service.
func NewService(store Store, cache BalanceCache, config Config, log *zap.SugaredLogger) Service {
	if store == nil {
		panic("store is required")
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &service{store: store, cache: cache, config: config, log: log}
}

// RecordTransaction opens its own unit of work around Record.
func (s *service) RecordTransaction(ctx context.Context, in RecordInput) (*models.Transaction, error) {
	var txn *models.Transaction
	err := s.store.Atomically(ctx, func(uow UnitOfWork) error {
		var err error
		txn, err = s.Record(ctx, uow, in)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.invalidate(ctx, in.AccountID, in.Currency)
	return txn, nil
}

// Record appends one ledger entry inside the caller's unit of work. The
// balance row for (account, currency) is locked for the duration, so
// concurrent writes to the same balance serialize.
func (s *service) Record(ctx context.Context, uow UnitOfWork, in RecordInput) (*models.Transaction, error) {
	if err := validateInput(in); err != nil {
		return nil, err
	}

	deltas := in.Deltas
	if deltas == nil {
		deltas = &Deltas{Available: in.Amount}
	}

	balance, err := uow.BalanceForUpdate(ctx, in.AccountID, in.Currency)
	if err != nil {
		if !errors.Is(err, repositories.ErrBalanceNotFound) {
			return nil, fmt.Errorf("failed to lock balance: %w", err)
		}
		balance = &models.Balance{
			AccountID:             in.AccountID,
			Currency:              in.Currency,
			AvailableAmount:       decimal.Zero,
			PendingAmount:         decimal.Zero,
			NonWithdrawableAmount: decimal.Zero,
		}
		if err := uow.CreateBalance(ctx, balance); err != nil {
			return nil, fmt.Errorf("failed to create balance: %w", err)
		}
	}

	newAvailable := balance.AvailableAmount.Add(deltas.Available)
	newPending := balance.PendingAmount.Add(deltas.Pending)
	newNonWithdrawable := balance.NonWithdrawableAmount.Add(deltas.NonWithdrawable)

	if !in.AllowNegative {
		if newAvailable.IsNegative() {
			return nil, fmt.Errorf("%w: available would be %s", ErrInsufficientBalance, newAvailable)
		}
		if newPending.IsNegative() || newNonWithdrawable.IsNegative() {
			return nil, fmt.Errorf("%w: pending=%s non_withdrawable=%s",
				ErrInvalidBalanceState, newPending, newNonWithdrawable)
		}
	}

	now := time.Now().UTC()
	balance.AvailableAmount = newAvailable
	balance.PendingAmount = newPending
	balance.NonWithdrawableAmount = newNonWithdrawable
	balance.LastTransactionAt = &now
	if err := uow.SaveBalance(ctx, balance); err != nil {
		return nil, fmt.Errorf("failed to save balance: %w", err)
	}

	txn := &models.Transaction{
		AccountID:            in.AccountID,
		BalanceID:            balance.ID,
		Type:                 in.Type,
		Status:               in.Status,
		Direction:            in.Direction,
		Amount:               in.Amount,
		AvailableDelta:       deltas.Available,
		PendingDelta:         deltas.Pending,
		NonWithdrawableDelta: deltas.NonWithdrawable,
		AvailableAfter:       newAvailable,
		PendingAfter:         newPending,
		NonWithdrawableAfter: newNonWithdrawable,
		Currency:             in.Currency,
		Description:          in.Description,
		Metadata:             in.Metadata,
		RelatedEntityType:    in.RelatedEntityType,
		RelatedEntityID:      in.RelatedEntityID,
		ReversalOfID:         in.ReversalOfID,
		CreatedBy:            in.CreatedBy,
	}
	if txn.Status == "" {
		txn.Status = models.TransactionStatusCompleted
	}
	if txn.Direction == "" {
		txn.Direction = inferDirection(in.Amount, deltas)
	}
	if err := uow.CreateTransaction(ctx, txn); err != nil {
		return nil, fmt.Errorf("failed to append transaction: %w", err)
	}

	// Best effort: a mirror failure must never abort the ledger write.
	if s.config.LegacyMirrorEnabled && txn.CountsTowardSpent() {
		if err := uow.UpsertLegacyMirror(ctx, in.AccountID, txn.AvailableDelta, now); err != nil {
			s.log.Warnw("legacy mirror update failed",
				"account_id", in.AccountID, "transaction_type", txn.Type, "err", err)
		}
	}

	return txn, nil
}

// RecordLegacyTransaction normalizes the older call shape (type, signed
// amount, description) onto RecordTransaction.
func (s *service) RecordLegacyTransaction(ctx context.Context, accountID uint, currency, txType string, amount decimal.Decimal, description string) (*models.Transaction, error) {
	return s.RecordTransaction(ctx, RecordInput{
		AccountID:   accountID,
		Currency:    currency,
		Type:        txType,
		Amount:      amount,
		Description: description,
	})
}

// CancelTransaction soft-voids an entry: status flips to cancelled and a
// paired reversal with negated deltas is appended. Amounts are never
// rewritten in place.
func (s *service) CancelTransaction(ctx context.Context, id uint, actorID uint, reason string) (*models.Transaction, error) {
	var reversal *models.Transaction
	var accountID uint
	var currency string
	err := s.store.Atomically(ctx, func(uow UnitOfWork) error {
		original, err := uow.TransactionForUpdate(ctx, id)
		if err != nil {
			if errors.Is(err, repositories.ErrTransactionNotFound) {
				return ErrTransactionNotFound
			}
			return err
		}
		if original.Status == models.TransactionStatusCancelled {
			return ErrAlreadyCancelled
		}
		accountID, currency = original.AccountID, original.Currency

		original.Status = models.TransactionStatusCancelled
		if err := uow.SaveTransaction(ctx, original); err != nil {
			return fmt.Errorf("failed to cancel transaction: %w", err)
		}

		reversal, err = s.Record(ctx, uow, RecordInput{
			AccountID: original.AccountID,
			Currency:  original.Currency,
			Type:      ReversalType(original.Type),
			Amount:    original.Amount.Neg(),
			Deltas: &Deltas{
				Available:       original.AvailableDelta.Neg(),
				Pending:         original.PendingDelta.Neg(),
				NonWithdrawable: original.NonWithdrawableDelta.Neg(),
			},
			AllowNegative: true,
			Description:   reason,
			Metadata:      models.NewJSON(map[string]interface{}{"reversed_transaction_id": original.ID}),
			ReversalOfID:  &original.ID,
			CreatedBy:     actorID,
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	s.invalidate(ctx, accountID, currency)
	return reversal, nil
}

// ReversalType derives the reversal type name for a transaction type,
// collapsing to the generic reversal type when the suffixed name would
// overflow the column. Repeated reversal chains therefore stay bounded.
func ReversalType(txType string) string {
	name := txType + reversalSuffix
	if len(name) > maxTypeLength || strings.Contains(txType, reversalSuffix) {
		return models.TransactionTypeGenericReversal
	}
	return name
}

func (s *service) GetBalance(ctx context.Context, accountID uint, currency string) (*models.Balance, error) {
	if s.cache != nil {
		if balance, ok := s.cache.GetBalance(ctx, accountID, currency); ok {
			return balance, nil
		}
	}
	balance, err := s.store.GetBalance(ctx, accountID, currency)
	if err != nil {
		return nil, err
	}
	if balance != nil && s.cache != nil {
		s.cache.SetBalance(ctx, balance)
	}
	return balance, nil
}

// GetAccountSummary aggregates completed transactions. It returns (nil, nil)
// when the account has never transacted in the currency, which is distinct
// from a zero balance.
func (s *service) GetAccountSummary(ctx context.Context, accountID uint, currency string) (*AccountSummary, error) {
	balance, err := s.store.GetBalance(ctx, accountID, currency)
	if err != nil {
		return nil, err
	}
	if balance == nil {
		return nil, nil
	}

	totals, err := s.store.SumCompletedDeltas(ctx, accountID, currency)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate transactions: %w", err)
	}

	// Two independently derived debit figures: the ledger sum and
	// credits-minus-available. Taking the larger tolerates drift from
	// entries recorded outside the completed set.
	totalDebits := totals.Debits
	if derived := totals.Credits.Sub(balance.AvailableAmount); derived.GreaterThan(totalDebits) {
		s.log.Warnw("ledger drift detected",
			"account_id", accountID, "currency", currency,
			"ledger_debits", totals.Debits, "derived_debits", derived)
		totalDebits = derived
	}

	totalSpent := totalDebits
	if mirror, err := s.store.GetLegacyMirror(ctx, accountID); err == nil && mirror != nil {
		totalSpent = mirror.TotalSpent
	}

	return &AccountSummary{
		Available:         balance.AvailableAmount,
		Pending:           balance.PendingAmount,
		NonWithdrawable:   balance.NonWithdrawableAmount,
		TotalCredits:      totals.Credits,
		TotalDebits:       totalDebits,
		TotalSpent:        totalSpent,
		LastCreditAt:      totals.LastCreditAt,
		LastTransactionAt: balance.LastTransactionAt,
	}, nil
}

func (s *service) FetchTransactions(ctx context.Context, filter TransactionFilter) ([]models.Transaction, error) {
	return s.store.ListTransactions(ctx, filter)
}

func (s *service) GetTransactionByID(ctx context.Context, id uint) (*models.Transaction, error) {
	txn, err := s.store.GetTransactionByID(ctx, id)
	if err != nil {
		if errors.Is(err, repositories.ErrTransactionNotFound) {
			return nil, ErrTransactionNotFound
		}
		return nil, err
	}
	return txn, nil
}

// LockFundsForBooking moves amount from available into pending without
// changing the total. Amount on the entry is zero: only buckets move.
func (s *service) LockFundsForBooking(ctx context.Context, accountID uint, currency string, amount decimal.Decimal, bookingID uint, actorID uint) (*models.Transaction, error) {
	if amount.LessThanOrEqual(decimal.Zero) {
		return nil, ErrInvalidAmount
	}
	return s.RecordTransaction(ctx, RecordInput{
		AccountID:         accountID,
		Currency:          currency,
		Type:              models.TransactionTypeWalletLock,
		Amount:            decimal.Zero,
		Deltas:            &Deltas{Available: amount.Neg(), Pending: amount},
		Description:       "funds locked for booking",
		RelatedEntityType: EntityBooking,
		RelatedEntityID:   bookingID,
		CreatedBy:         actorID,
	})
}

// ReleaseLockedFunds returns a pending hold to the available bucket.
func (s *service) ReleaseLockedFunds(ctx context.Context, accountID uint, currency string, amount decimal.Decimal, bookingID uint, actorID uint) (*models.Transaction, error) {
	if amount.LessThanOrEqual(decimal.Zero) {
		return nil, ErrInvalidAmount
	}
	return s.RecordTransaction(ctx, RecordInput{
		AccountID:         accountID,
		Currency:          currency,
		Type:              models.TransactionTypeWalletUnlock,
		Amount:            decimal.Zero,
		Deltas:            &Deltas{Available: amount, Pending: amount.Neg()},
		Description:       "locked funds released",
		RelatedEntityType: EntityBooking,
		RelatedEntityID:   bookingID,
		CreatedBy:         actorID,
	})
}

// CaptureLockedFunds settles a pending hold permanently out of the wallet.
func (s *service) CaptureLockedFunds(ctx context.Context, accountID uint, currency string, amount decimal.Decimal, bookingID uint, actorID uint) (*models.Transaction, error) {
	if amount.LessThanOrEqual(decimal.Zero) {
		return nil, ErrInvalidAmount
	}
	return s.RecordTransaction(ctx, RecordInput{
		AccountID:         accountID,
		Currency:          currency,
		Type:              models.TransactionTypeWalletCapture,
		Amount:            amount.Neg(),
		Deltas:            &Deltas{Pending: amount.Neg()},
		Description:       "locked funds captured",
		RelatedEntityType: EntityBooking,
		RelatedEntityID:   bookingID,
		CreatedBy:         actorID,
	})
}

func (s *service) invalidate(ctx context.Context, accountID uint, currency string) {
	if s.cache != nil {
		s.cache.InvalidateBalance(ctx, accountID, currency)
	}
}

func validateInput(in RecordInput) error {
	if in.AccountID == 0 {
		return ErrInvalidAccount
	}
	if in.Currency == "" {
		return ErrInvalidCurrency
	}
	if in.Type == "" {
		return ErrInvalidType
	}
	return nil
}

func inferDirection(amount decimal.Decimal, deltas *Deltas) string {
	signed := amount
	if signed.IsZero() {
		signed = deltas.Available
	}
	switch {
	case signed.IsPositive():
		return models.DirectionCredit
	case signed.IsNegative():
		return models.DirectionDebit
	default:
		return models.DirectionAdjustment
	}
}
