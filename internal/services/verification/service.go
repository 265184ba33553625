// Package verification is the payment-method and KYC registry. It owns
// stored payment instruments, submitted compliance documents and bank
// accounts, and answers withdrawal-eligibility questions for the
// withdrawal manager.
package verification

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"tidepay/internal/models"
)

// Service errors
var (
	ErrPaymentMethodNotFound = errors.New("payment method not found")
	ErrDocumentNotFound      = errors.New("kyc document not found")
	ErrBankAccountNotFound   = errors.New("bank account not found")
	ErrInvalidStatus         = errors.New("invalid verification status")
	ErrNotOwned              = errors.New("resource does not belong to account")
)

var validVerificationStatuses = map[string]bool{
	models.VerificationUnverified:    true,
	models.VerificationPending:       true,
	models.VerificationUnderReview:   true,
	models.VerificationVerified:      true,
	models.VerificationRejected:      true,
	models.VerificationNeedsMoreInfo: true,
}

var validDocumentStatuses = map[string]bool{
	models.KycStatusPending:       true,
	models.KycStatusUnderReview:   true,
	models.KycStatusApproved:      true,
	models.KycStatusRejected:      true,
	models.KycStatusNeedsMoreInfo: true,
}

// Store is the persistence contract of the verification registry.
type Store interface {
	PaymentMethodByID(ctx context.Context, id uint) (*models.PaymentMethod, error)
	ListPaymentMethods(ctx context.Context, accountID uint) ([]models.PaymentMethod, error)
	SavePaymentMethod(ctx context.Context, method *models.PaymentMethod) error

	CreateKycDocument(ctx context.Context, doc *models.KycDocument) error
	KycDocumentByID(ctx context.Context, id uint) (*models.KycDocument, error)
	ListKycDocuments(ctx context.Context, accountID uint) ([]models.KycDocument, error)
	SaveKycDocument(ctx context.Context, doc *models.KycDocument) error
	ApprovedDocumentTypes(ctx context.Context, accountID uint) ([]string, error)

	CreateBankAccount(ctx context.Context, account *models.BankAccount) error
	BankAccountByID(ctx context.Context, id uint) (*models.BankAccount, error)
	ListBankAccounts(ctx context.Context, accountID uint) ([]models.BankAccount, error)
	SaveBankAccount(ctx context.Context, account *models.BankAccount) error
	ActiveBankAccount(ctx context.Context, accountID uint, currency string) (*models.BankAccount, error)

	AppendAudit(ctx context.Context, entry *models.AuditLog) error
}

// Service is the verification registry contract.
type Service interface {
	ListPaymentMethods(ctx context.Context, accountID uint) ([]models.PaymentMethod, error)
	UpdateVerificationStatus(ctx context.Context, methodID uint, status, notes string, reviewerID uint) (*models.PaymentMethod, error)

	SubmitKycDocument(ctx context.Context, accountID uint, documentType, fileURL string, paymentMethodID *uint) (*models.KycDocument, error)
	ReviewKycDocument(ctx context.Context, documentID uint, status, notes string, reviewerID uint) (*models.KycDocument, error)
	ListKycDocuments(ctx context.Context, accountID uint) ([]models.KycDocument, error)

	CreateBankAccount(ctx context.Context, account *models.BankAccount) error
	ListBankAccounts(ctx context.Context, accountID uint) ([]models.BankAccount, error)
	DeactivateBankAccount(ctx context.Context, accountID, bankAccountID uint) error
	ActiveBankAccount(ctx context.Context, accountID uint, currency string) (*models.BankAccount, error)

	VerifiedPayoutMethod(ctx context.Context, accountID, methodID uint) (*models.PaymentMethod, error)
	CheckWithdrawalEligibility(ctx context.Context, accountID uint, requiredDocs []string) error
}

type service struct {
	store Store
	log   *zap.SugaredLogger
}

// NewService creates the verification registry.
func NewService(store Store, log *zap.SugaredLogger) Service {
	if store == nil {
		panic("store is required")
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &service{store: store, log: log}
}

func (s *service) ListPaymentMethods(ctx context.Context, accountID uint) ([]models.PaymentMethod, error) {
	return s.store.ListPaymentMethods(ctx, accountID)
}

func (s *service) UpdateVerificationStatus(ctx context.Context, methodID uint, status, notes string, reviewerID uint) (*models.PaymentMethod, error) {
	if !validVerificationStatuses[status] {
		return nil, fmt.Errorf("%w: %q", ErrInvalidStatus, status)
	}
	method, err := s.store.PaymentMethodByID(ctx, methodID)
	if err != nil {
		return nil, err
	}

	method.VerificationStatus = status
	method.VerificationNotes = notes
	method.ReviewedBy = reviewerID
	if status == models.VerificationVerified {
		now := time.Now().UTC()
		method.VerifiedAt = &now
	}
	if err := s.store.SavePaymentMethod(ctx, method); err != nil {
		return nil, fmt.Errorf("failed to update payment method: %w", err)
	}

	s.audit(ctx, reviewerID, "payment_method_reviewed", "payment_method", method.ID, models.NewJSON(map[string]interface{}{
		"status": status,
	}))
	return method, nil
}

func (s *service) SubmitKycDocument(ctx context.Context, accountID uint, documentType, fileURL string, paymentMethodID *uint) (*models.KycDocument, error) {
	doc := &models.KycDocument{
		AccountID:       accountID,
		PaymentMethodID: paymentMethodID,
		DocumentType:    documentType,
		Status:          models.KycStatusPending,
		FileURL:         fileURL,
	}
	if err := s.store.CreateKycDocument(ctx, doc); err != nil {
		return nil, fmt.Errorf("failed to submit document: %w", err)
	}
	return doc, nil
}

func (s *service) ReviewKycDocument(ctx context.Context, documentID uint, status, notes string, reviewerID uint) (*models.KycDocument, error) {
	if !validDocumentStatuses[status] {
		return nil, fmt.Errorf("%w: %q", ErrInvalidStatus, status)
	}
	doc, err := s.store.KycDocumentByID(ctx, documentID)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	doc.Status = status
	doc.ReviewNotes = notes
	doc.ReviewedBy = reviewerID
	doc.ReviewedAt = &now
	if err := s.store.SaveKycDocument(ctx, doc); err != nil {
		return nil, fmt.Errorf("failed to review document: %w", err)
	}

	// An approved identity document flips a pending payout method to
	// verified so the account does not need a second review round.
	if status == models.KycStatusApproved && doc.PaymentMethodID != nil {
		if method, err := s.store.PaymentMethodByID(ctx, *doc.PaymentMethodID); err == nil {
			if method.VerificationStatus != models.VerificationVerified {
				method.VerificationStatus = models.VerificationVerified
				method.ReviewedBy = reviewerID
				method.VerifiedAt = &now
				if err := s.store.SavePaymentMethod(ctx, method); err != nil {
					s.log.Warnw("payment method auto-verify failed", "method_id", method.ID, "err", err)
				}
			}
		}
	}

	s.audit(ctx, reviewerID, "kyc_document_reviewed", "kyc_document", doc.ID, models.NewJSON(map[string]interface{}{
		"status":        status,
		"document_type": doc.DocumentType,
	}))
	return doc, nil
}

func (s *service) ListKycDocuments(ctx context.Context, accountID uint) ([]models.KycDocument, error) {
	return s.store.ListKycDocuments(ctx, accountID)
}

func (s *service) CreateBankAccount(ctx context.Context, account *models.BankAccount) error {
	if account.Status == "" {
		account.Status = "active"
	}
	if err := s.store.CreateBankAccount(ctx, account); err != nil {
		return fmt.Errorf("failed to create bank account: %w", err)
	}
	return nil
}

func (s *service) ListBankAccounts(ctx context.Context, accountID uint) ([]models.BankAccount, error) {
	return s.store.ListBankAccounts(ctx, accountID)
}

func (s *service) DeactivateBankAccount(ctx context.Context, accountID, bankAccountID uint) error {
	account, err := s.store.BankAccountByID(ctx, bankAccountID)
	if err != nil {
		return err
	}
	if account.AccountID != accountID {
		return ErrNotOwned
	}
	account.Status = "inactive"
	return s.store.SaveBankAccount(ctx, account)
}

func (s *service) ActiveBankAccount(ctx context.Context, accountID uint, currency string) (*models.BankAccount, error) {
	return s.store.ActiveBankAccount(ctx, accountID, currency)
}

// VerifiedPayoutMethod loads a payout method and asserts it belongs to the
// account and has passed verification.
func (s *service) VerifiedPayoutMethod(ctx context.Context, accountID, methodID uint) (*models.PaymentMethod, error) {
	method, err := s.store.PaymentMethodByID(ctx, methodID)
	if err != nil {
		return nil, err
	}
	if method.AccountID != accountID {
		return nil, ErrNotOwned
	}
	if method.VerificationStatus != models.VerificationVerified {
		return nil, fmt.Errorf("%w: payout method is %s", ErrInvalidStatus, method.VerificationStatus)
	}
	return method, nil
}

// CheckWithdrawalEligibility requires an approved document for every
// required document type.
func (s *service) CheckWithdrawalEligibility(ctx context.Context, accountID uint, requiredDocs []string) error {
	if len(requiredDocs) == 0 {
		return nil
	}
	approved, err := s.store.ApprovedDocumentTypes(ctx, accountID)
	if err != nil {
		return fmt.Errorf("failed to load approved documents: %w", err)
	}
	have := make(map[string]bool, len(approved))
	for _, t := range approved {
		have[t] = true
	}
	for _, required := range requiredDocs {
		if !have[required] {
			return fmt.Errorf("missing approved %q document", required)
		}
	}
	return nil
}

func (s *service) audit(ctx context.Context, actorID uint, action, entityType string, entityID uint, details models.JSON) {
	if err := s.store.AppendAudit(ctx, &models.AuditLog{
		ActorID:    actorID,
		Action:     action,
		EntityType: entityType,
		EntityID:   entityID,
		Details:    details,
	}); err != nil {
		s.log.Warnw("audit append failed", "action", action, "entity_id", entityID, "err", err)
	}
}
