package webhook

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"

	"tidepay/internal/models"
)

// Service errors
var (
	ErrUnknownProvider       = errors.New("unknown webhook provider")
	ErrSignatureVerification = errors.New("webhook signature verification failed")
	ErrMalformedPayload      = errors.New("malformed webhook payload")
)

// NormalizedEvent is the provider-independent shape every inbound callback
// is reduced to before dispatch.
type NormalizedEvent struct {
	Provider  string
	EventID   string
	EventType string
	Status    string

	DepositRequestID     uint
	GatewayTransactionID string
	ReferenceCode        string

	Amount   decimal.Decimal
	Currency string

	Metadata models.JSON
}

// Acknowledgement is what the caller returns to the provider. Gateways
// retry on anything but an acknowledgement, so every handled event gets
// one, including replays and ignored events.
type Acknowledgement struct {
	Provider         string `json:"provider"`
	Acknowledged     bool   `json:"acknowledged"`
	EventID          string `json:"eventId,omitempty"`
	Status           string `json:"status,omitempty"`
	DepositID        uint   `json:"depositId,omitempty"`
	Outcome          string `json:"outcome"`
	AlreadyProcessed bool   `json:"alreadyProcessed,omitempty"`
	DedupeKey        string `json:"dedupeKey"`
}

// Provider verifies and normalizes one gateway's callbacks.
type Provider interface {
	Name() string
	VerifySignature(payload []byte, headers map[string]string) error
	Normalize(payload []byte) (*NormalizedEvent, error)
}

// Store is the persistence slice of the dispatcher. InsertOrGetWebhookEvent
// must insert-or-fetch on the dedupe key without failing the losing side of
// a delivery race.
type Store interface {
	InsertOrGetWebhookEvent(ctx context.Context, event *models.WebhookEvent) (*models.WebhookEvent, bool, error)
	SaveWebhookEvent(ctx context.Context, event *models.WebhookEvent) error

	FindDepositByID(ctx context.Context, id uint) (*models.DepositRequest, error)
	FindDepositByGatewayTxnID(ctx context.Context, gatewayTxnID string) (*models.DepositRequest, error)
	FindDepositByReference(ctx context.Context, gateway, reference string) (*models.DepositRequest, error)
}

// DepositFinalizer is the slice of the deposit manager the dispatcher
// drives. Each call is its own unit of work; the dispatcher never holds a
// database transaction across them.
type DepositFinalizer interface {
	ApproveDepositRequest(ctx context.Context, id uint, actorID uint) (*models.DepositRequest, error)
	RejectDepositRequest(ctx context.Context, id uint, actorID uint, reason string) (*models.DepositRequest, error)
	AttachVerificationMeta(ctx context.Context, id uint, meta models.JSON) error
	AppendEventMetadata(ctx context.Context, id uint, meta models.JSON) error
}
