// Package deposit orchestrates deposit requests from creation through
// gateway initiation to settlement. The state machine is
// pending -> processing -> {completed, cancelled}; terminal states are
// idempotent no-ops on re-entry.
package deposit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"tidepay/internal/gateway"
	"tidepay/internal/models"
	"tidepay/internal/repositories"
	"tidepay/internal/services/ledger"
)

// Service is the deposit manager contract.
type Service interface {
	CreateDepositRequest(ctx context.Context, in CreateInput) (*models.DepositRequest, error)
	ApproveDepositRequest(ctx context.Context, id uint, actorID uint) (*models.DepositRequest, error)
	RejectDepositRequest(ctx context.Context, id uint, actorID uint, reason string) (*models.DepositRequest, error)
	AttachVerificationMeta(ctx context.Context, id uint, meta models.JSON) error
	AppendEventMetadata(ctx context.Context, id uint, meta models.JSON) error
	GetDeposit(ctx context.Context, id uint) (*models.DepositRequest, error)
	ListDeposits(ctx context.Context, filter Filter) ([]models.DepositRequest, error)
}

type service struct {
	store    Store
	settings SettingsResolver
	gateways GatewayResolver
	ledger   ledger.Recorder
	log      *zap.SugaredLogger
}

// NewService creates the deposit manager.
func NewService(store Store, settings SettingsResolver, gateways GatewayResolver, recorder ledger.Recorder, log *zap.SugaredLogger) Service {
	if store == nil {
		panic("store is required")
	}
	if settings == nil {
		panic("settings resolver is required")
	}
	if recorder == nil {
		panic("ledger recorder is required")
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &service{store: store, settings: settings, gateways: gateways, ledger: recorder, log: log}
}

// CreateDepositRequest validates policy, runs gateway initiation for
// card/binance deposits and persists the request. A gateway that settles
// synchronously completes the deposit in the same unit of work.
func (s *service) CreateDepositRequest(ctx context.Context, in CreateInput) (*models.DepositRequest, error) {
	if in.Amount.LessThanOrEqual(decimal.Zero) {
		return nil, ErrInvalidAmount
	}

	scope, err := s.settings.ResolveForAccount(ctx, in.AccountID, in.Currency)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve settings: %w", err)
	}

	// Policy caps reject before anything is persisted.
	if err := s.checkPolicy(ctx, scope.Preferences.DepositPolicy, in); err != nil {
		return nil, err
	}

	req := &models.DepositRequest{
		AccountID:       in.AccountID,
		Currency:        in.Currency,
		Amount:          in.Amount,
		Method:          in.Method,
		Status:          models.DepositStatusPending,
		ReferenceCode:   newReferenceCode(),
		PaymentMethodID: in.PaymentMethodID,
		InitiatedBy:     in.InitiatedBy,
		Metadata:        in.Metadata,
	}

	var initiation *gatewayOutcome
	switch in.Method {
	case models.DepositMethodBankTransfer:
		bank, err := s.store.ActiveBankAccount(ctx, in.AccountID, in.Currency)
		if err != nil || bank == nil {
			return nil, ErrBankAccountRequired
		}
		req.BankAccountID = &bank.ID
		req.BankReferenceCode = newBankReferenceCode()

	case models.DepositMethodCard, models.DepositMethodBinancePay:
		initiation, err = s.initiate(ctx, scope, req, in)
		if err != nil {
			return nil, err
		}

	case models.DepositMethodCrypto, models.DepositMethodManual:
		// Settled later by webhook or an operator.

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedMethod, in.Method)
	}

	err = s.store.Atomically(ctx, func(uow UnitOfWork) error {
		if err := uow.CreateDeposit(ctx, req); err != nil {
			return fmt.Errorf("failed to persist deposit request: %w", err)
		}
		s.auditIn(ctx, uow, in.InitiatedBy, "deposit_created", req, nil)

		if initiation != nil && initiation.autoComplete {
			if err := s.completeIn(ctx, uow, req, in.InitiatedBy); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	// Verification runs after commit: a failure here is logged and
	// swallowed, never rolled back into the deposit.
	if req.Status == models.DepositStatusCompleted {
		s.applyVerificationSideEffect(ctx, req)
	}

	return req, nil
}

// checkPolicy enforces the scope's per-transaction and window caps. Windows
// open at UTC calendar boundaries and count every non-cancelled request.
func (s *service) checkPolicy(ctx context.Context, policy models.DepositPolicy, in CreateInput) error {
	if policy.Unlimited() {
		return nil
	}
	if policy.MaxPerTransaction != nil && in.Amount.GreaterThan(*policy.MaxPerTransaction) {
		return fmt.Errorf("%w: amount %s exceeds per-transaction cap %s",
			ErrPolicyViolation, in.Amount, policy.MaxPerTransaction)
	}

	now := time.Now().UTC()
	if policy.MaxPerDay != nil {
		dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
		if err := s.checkWindowCap(ctx, in, dayStart, *policy.MaxPerDay, "daily"); err != nil {
			return err
		}
	}
	if policy.MaxPerMonth != nil {
		monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
		if err := s.checkWindowCap(ctx, in, monthStart, *policy.MaxPerMonth, "monthly"); err != nil {
			return err
		}
	}
	return nil
}

func (s *service) checkWindowCap(ctx context.Context, in CreateInput, since time.Time, limit decimal.Decimal, window string) error {
	total, err := s.store.SumActiveDeposits(ctx, in.AccountID, in.Currency, since)
	if err != nil {
		return fmt.Errorf("failed to sum deposits for policy check: %w", err)
	}
	if total.Add(in.Amount).GreaterThan(limit) {
		return fmt.Errorf("%w: amount %s exceeds %s cap %s", ErrPolicyViolation, in.Amount, window, limit)
	}
	return nil
}

type gatewayOutcome struct {
	autoComplete bool
}

func (s *service) initiate(ctx context.Context, scope *models.WalletSettings, req *models.DepositRequest, in CreateInput) (*gatewayOutcome, error) {
	gatewayName := in.Gateway
	if gatewayName == "" && in.PaymentMethodID != nil {
		method, err := s.store.PaymentMethodByID(ctx, *in.PaymentMethodID)
		if err != nil {
			return nil, err
		}
		gatewayName = method.DefaultGateway
	}
	if gatewayName == "" {
		gatewayName = defaultGatewayFor(in.Method)
	}
	if !scope.GatewayEnabled(gatewayName) {
		return nil, fmt.Errorf("%w: %q", ErrGatewayDisabled, gatewayName)
	}
	gw, err := s.gateways.Get(gatewayName)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrGatewayDisabled, gatewayName)
	}

	result, err := gw.InitiateDeposit(ctx, gatewayRequest(req, in))
	if err != nil {
		return nil, fmt.Errorf("gateway initiation failed: %w", err)
	}

	req.Gateway = gatewayName
	req.GatewayTransactionID = result.TransactionID
	meta := models.NewJSON(map[string]interface{}{})
	if req.Metadata != nil {
		meta = req.Metadata
	}
	if result.SessionURL != "" {
		meta["session_url"] = result.SessionURL
	}
	req.Metadata = meta
	if result.PayerID != "" || result.PaymentHash != "" {
		req.VerificationMeta = models.NewJSON(map[string]interface{}{
			"payer_id":     result.PayerID,
			"payment_hash": result.PaymentHash,
		})
	}
	return &gatewayOutcome{autoComplete: result.AutoComplete}, nil
}

// ApproveDepositRequest credits the wallet and finalizes the request. It is
// only legal from pending or processing; an already-terminal request yields
// ErrAlreadyFinalized, which callers treat as a no-op.
func (s *service) ApproveDepositRequest(ctx context.Context, id uint, actorID uint) (*models.DepositRequest, error) {
	var approved *models.DepositRequest
	err := s.store.Atomically(ctx, func(uow UnitOfWork) error {
		req, err := s.lockTransitionable(ctx, uow, id)
		if err != nil {
			return err
		}
		if err := s.completeIn(ctx, uow, req, actorID); err != nil {
			return err
		}
		approved = req
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.applyVerificationSideEffect(ctx, approved)
	return approved, nil
}

// RejectDepositRequest cancels the request, leaving the balance untouched.
func (s *service) RejectDepositRequest(ctx context.Context, id uint, actorID uint, reason string) (*models.DepositRequest, error) {
	var rejected *models.DepositRequest
	err := s.store.Atomically(ctx, func(uow UnitOfWork) error {
		req, err := s.lockTransitionable(ctx, uow, id)
		if err != nil {
			return err
		}

		now := time.Now().UTC()
		req.Status = models.DepositStatusCancelled
		req.FailureReason = reason
		req.ProcessedBy = actorID
		req.ProcessedAt = &now
		if err := uow.SaveDeposit(ctx, req); err != nil {
			return fmt.Errorf("failed to save deposit request: %w", err)
		}

		s.auditIn(ctx, uow, actorID, "deposit_rejected", req, models.NewJSON(map[string]interface{}{"reason": reason}))
		rejected = req
		return nil
	})
	if err != nil {
		return nil, err
	}
	return rejected, nil
}

// AttachVerificationMeta merges gateway-reported payer identity onto the
// request. Async gateways only learn payer id and payment hash from the
// settlement callback, so this runs before the approval that reads them.
func (s *service) AttachVerificationMeta(ctx context.Context, id uint, meta models.JSON) error {
	if len(meta) == 0 {
		return nil
	}
	return s.store.Atomically(ctx, func(uow UnitOfWork) error {
		req, err := uow.DepositForUpdate(ctx, id)
		if err != nil {
			if errors.Is(err, repositories.ErrDepositNotFound) {
				return ErrDepositNotFound
			}
			return err
		}
		if req.VerificationMeta == nil {
			req.VerificationMeta = models.NewJSON(nil)
		}
		req.VerificationMeta = req.VerificationMeta.Merge(meta)
		return uow.SaveDeposit(ctx, req)
	})
}

// AppendEventMetadata merges neutral webhook metadata onto the request
// without changing its status.
func (s *service) AppendEventMetadata(ctx context.Context, id uint, meta models.JSON) error {
	return s.store.Atomically(ctx, func(uow UnitOfWork) error {
		req, err := uow.DepositForUpdate(ctx, id)
		if err != nil {
			if errors.Is(err, repositories.ErrDepositNotFound) {
				return ErrDepositNotFound
			}
			return err
		}
		if req.Metadata == nil {
			req.Metadata = models.NewJSON(nil)
		}
		req.Metadata = req.Metadata.Merge(meta)
		return uow.SaveDeposit(ctx, req)
	})
}

func (s *service) GetDeposit(ctx context.Context, id uint) (*models.DepositRequest, error) {
	req, err := s.store.GetDeposit(ctx, id)
	if err != nil {
		if errors.Is(err, repositories.ErrDepositNotFound) {
			return nil, ErrDepositNotFound
		}
		return nil, err
	}
	return req, nil
}

func (s *service) ListDeposits(ctx context.Context, filter Filter) ([]models.DepositRequest, error) {
	return s.store.ListDeposits(ctx, filter)
}

// lockTransitionable locks the request row and asserts it can still move.
func (s *service) lockTransitionable(ctx context.Context, uow UnitOfWork, id uint) (*models.DepositRequest, error) {
	req, err := uow.DepositForUpdate(ctx, id)
	if err != nil {
		if errors.Is(err, repositories.ErrDepositNotFound) {
			return nil, ErrDepositNotFound
		}
		return nil, err
	}
	if req.Finalized() {
		return nil, fmt.Errorf("%w: status %s", ErrAlreadyFinalized, req.Status)
	}
	if req.Status != models.DepositStatusPending && req.Status != models.DepositStatusProcessing {
		return nil, fmt.Errorf("%w: from %s", ErrInvalidTransition, req.Status)
	}
	return req, nil
}

// completeIn credits the wallet and finalizes the request inside the
// caller's unit of work.
func (s *service) completeIn(ctx context.Context, uow UnitOfWork, req *models.DepositRequest, actorID uint) error {
	txn, err := s.ledger.Record(ctx, uow, ledger.RecordInput{
		AccountID:         req.AccountID,
		Currency:          req.Currency,
		Type:              models.TransactionTypeDeposit,
		Amount:            req.Amount,
		Description:       fmt.Sprintf("deposit via %s", req.Method),
		Metadata:          models.NewJSON(map[string]interface{}{"deposit_request_id": req.ID, "gateway": req.Gateway}),
		RelatedEntityType: ledger.EntityDeposit,
		RelatedEntityID:   req.ID,
		CreatedBy:         actorID,
	})
	if err != nil {
		return fmt.Errorf("failed to credit deposit: %w", err)
	}

	now := time.Now().UTC()
	req.Status = models.DepositStatusCompleted
	req.ProcessedBy = actorID
	req.ProcessedAt = &now
	req.CompletedAt = &now
	if req.Metadata == nil {
		req.Metadata = models.NewJSON(nil)
	}
	req.Metadata["ledger_transaction_id"] = txn.ID
	if err := uow.SaveDeposit(ctx, req); err != nil {
		return fmt.Errorf("failed to save deposit request: %w", err)
	}

	s.auditIn(ctx, uow, actorID, "deposit_completed", req, nil)
	return nil
}

// applyVerificationSideEffect flips the linked payment method's
// verification status after a settled deposit. Card settlements verify the
// instrument outright; binance settlements verify only when both payer id
// and transaction hash were present.
func (s *service) applyVerificationSideEffect(ctx context.Context, req *models.DepositRequest) {
	if req.PaymentMethodID == nil {
		return
	}
	method, err := s.store.PaymentMethodByID(ctx, *req.PaymentMethodID)
	if err != nil {
		s.log.Warnw("payment method lookup failed after deposit", "deposit_id", req.ID, "err", err)
		return
	}
	if method.VerificationStatus == models.VerificationVerified {
		return
	}

	status := models.VerificationVerified
	if req.Method == models.DepositMethodBinancePay {
		payerID, _ := req.VerificationMeta["payer_id"].(string)
		paymentHash, _ := req.VerificationMeta["payment_hash"].(string)
		if payerID == "" || paymentHash == "" {
			status = models.VerificationNeedsMoreInfo
		}
	}

	now := time.Now().UTC()
	method.VerificationStatus = status
	method.VerificationMeta = req.VerificationMeta
	if status == models.VerificationVerified {
		method.VerifiedAt = &now
	}
	if err := s.store.SavePaymentMethod(ctx, method); err != nil {
		s.log.Warnw("payment method verification update failed",
			"deposit_id", req.ID, "method_id", method.ID, "err", err)
	}
}

func (s *service) auditIn(ctx context.Context, uow UnitOfWork, actorID uint, action string, req *models.DepositRequest, details models.JSON) {
	if details == nil {
		details = models.NewJSON(nil)
	}
	details["method"] = req.Method
	details["amount"] = req.Amount.String()
	details["currency"] = req.Currency
	if err := uow.AppendAudit(ctx, &models.AuditLog{
		ActorID:    actorID,
		Action:     action,
		EntityType: "deposit_request",
		EntityID:   req.ID,
		Details:    details,
	}); err != nil {
		s.log.Warnw("audit append failed", "action", action, "deposit_id", req.ID, "err", err)
	}
}

func defaultGatewayFor(method string) string {
	switch method {
	case models.DepositMethodCard:
		return "stripe"
	case models.DepositMethodBinancePay:
		return "binance_pay"
	default:
		return ""
	}
}

func gatewayRequest(req *models.DepositRequest, in CreateInput) gateway.InitiationRequest {
	return gateway.InitiationRequest{
		AccountID:      req.AccountID,
		Amount:         req.Amount,
		Currency:       req.Currency,
		Description:    in.Description,
		ReferenceCode:  req.ReferenceCode,
		IdempotencyKey: in.IdempotencyKey,
		PaymentToken:   in.PaymentToken,
	}
}

func newReferenceCode() string {
	return "DEP-" + randomCode(8)
}

func newBankReferenceCode() string {
	return "BT-" + randomCode(12)
}

func randomCode(n int) string {
	return strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:n])
}
