// Package storage binds the gorm store to each service's persistence
// contract. The adapters translate service-level filter types onto the
// store's queries and narrow the shared unit of work to the slice each
// service declares.
package storage

import (
	"context"

	"tidepay/internal/models"
	"tidepay/internal/repositories"
	"tidepay/internal/services/deposit"
	"tidepay/internal/services/ledger"
	"tidepay/internal/services/refund"
	"tidepay/internal/services/settings"
	"tidepay/internal/services/verification"
	"tidepay/internal/services/webhook"
	"tidepay/internal/services/withdrawal"
)

// LedgerStore adapts the store to ledger.Store.
type LedgerStore struct {
	*repositories.Store
}

func (s LedgerStore) Atomically(ctx context.Context, fn func(ledger.UnitOfWork) error) error {
	return s.Store.Atomically(ctx, func(uow *repositories.UnitOfWork) error {
		return fn(uow)
	})
}

func (s LedgerStore) SumCompletedDeltas(ctx context.Context, accountID uint, currency string) (*ledger.DeltaTotals, error) {
	totals, err := s.Store.SumCompletedDeltas(ctx, accountID, currency)
	if err != nil {
		return nil, err
	}
	return &ledger.DeltaTotals{
		Credits:      totals.Credits,
		Debits:       totals.Debits,
		LastCreditAt: totals.LastCreditAt,
	}, nil
}

func (s LedgerStore) ListTransactions(ctx context.Context, filter ledger.TransactionFilter) ([]models.Transaction, error) {
	return s.Store.ListTransactions(ctx, repositories.TransactionQuery{
		AccountID: filter.AccountID,
		Currency:  filter.Currency,
		Types:     filter.Types,
		Statuses:  filter.Statuses,
		From:      filter.From,
		To:        filter.To,
		Limit:     filter.Limit,
		Offset:    filter.Offset,
	})
}

// DepositStore adapts the store to deposit.Store.
type DepositStore struct {
	*repositories.Store
}

func (s DepositStore) Atomically(ctx context.Context, fn func(deposit.UnitOfWork) error) error {
	return s.Store.Atomically(ctx, func(uow *repositories.UnitOfWork) error {
		return fn(uow)
	})
}

func (s DepositStore) ListDeposits(ctx context.Context, filter deposit.Filter) ([]models.DepositRequest, error) {
	return s.Store.ListDeposits(ctx, repositories.DepositQuery{
		AccountID: filter.AccountID,
		Statuses:  filter.Statuses,
		Methods:   filter.Methods,
		From:      filter.From,
		To:        filter.To,
		Limit:     filter.Limit,
		Offset:    filter.Offset,
	})
}

// WithdrawalStore adapts the store to withdrawal.Store.
type WithdrawalStore struct {
	*repositories.Store
}

func (s WithdrawalStore) Atomically(ctx context.Context, fn func(withdrawal.UnitOfWork) error) error {
	return s.Store.Atomically(ctx, func(uow *repositories.UnitOfWork) error {
		return fn(uow)
	})
}

func (s WithdrawalStore) ListWithdrawals(ctx context.Context, filter withdrawal.Filter) ([]models.WithdrawalRequest, error) {
	return s.Store.ListWithdrawals(ctx, repositories.WithdrawalQuery{
		AccountID: filter.AccountID,
		Statuses:  filter.Statuses,
		From:      filter.From,
		To:        filter.To,
		Limit:     filter.Limit,
		Offset:    filter.Offset,
	})
}

// RefundStore adapts the store to refund.Store.
type RefundStore struct {
	*repositories.Store
}

func (s RefundStore) Atomically(ctx context.Context, fn func(refund.UnitOfWork) error) error {
	return s.Store.Atomically(ctx, func(uow *repositories.UnitOfWork) error {
		return fn(uow)
	})
}

// Compile-time contract checks. Settings, verification and webhook are
// satisfied by the store directly.
var (
	_ ledger.Store        = LedgerStore{}
	_ deposit.Store       = DepositStore{}
	_ withdrawal.Store    = WithdrawalStore{}
	_ refund.Store        = RefundStore{}
	_ settings.Store      = (*repositories.Store)(nil)
	_ verification.Store  = (*repositories.Store)(nil)
	_ webhook.Store       = (*repositories.Store)(nil)
	_ ledger.BalanceCache = (*repositories.BalanceCache)(nil)
)
