// Package webhook receives gateway callbacks, verifies and normalizes them,
// deduplicates redeliveries on a deterministic key and settles the deposit
// requests they refer to.
package webhook

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"tidepay/internal/models"
	"tidepay/internal/repositories"
	"tidepay/internal/services/deposit"
)

// Outcome strings stored on the event and echoed in acknowledgements.
const (
	OutcomeCompleted        = "deposit completed"
	OutcomeRejected         = "deposit rejected"
	OutcomeMetadataAppended = "metadata appended"
	OutcomeAlreadyFinal     = "deposit already finalized"
	OutcomeIgnored          = "ignored: deposit not found"
)

// Service is the webhook dispatcher contract.
type Service interface {
	Process(ctx context.Context, providerName string, payload []byte, headers map[string]string) (*Acknowledgement, error)
}

type service struct {
	store     Store
	deposits  DepositFinalizer
	providers map[string]Provider
	log       *zap.SugaredLogger
}

// NewService wires the dispatcher with its provider set.
func NewService(store Store, deposits DepositFinalizer, providers []Provider, log *zap.SugaredLogger) Service {
	if store == nil {
		panic("store is required")
	}
	if deposits == nil {
		panic("deposit finalizer is required")
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	byName := make(map[string]Provider, len(providers))
	for _, p := range providers {
		byName[p.Name()] = p
	}
	return &service{store: store, deposits: deposits, providers: byName, log: log}
}

// Process runs one inbound callback end to end. The event row is claimed
// first in its own transaction; the deposit transition runs in a second one,
// so a crash between the two leaves an unprocessed event that the next
// redelivery picks up and finishes.
func (s *service) Process(ctx context.Context, providerName string, payload []byte, headers map[string]string) (*Acknowledgement, error) {
	provider, ok := s.providers[providerName]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, providerName)
	}
	if err := provider.VerifySignature(payload, headers); err != nil {
		return nil, err
	}
	normalized, err := provider.Normalize(payload)
	if err != nil {
		return nil, err
	}

	event := &models.WebhookEvent{
		Provider:      normalized.Provider,
		EventType:     normalized.EventType,
		ExternalID:    normalized.EventID,
		TransactionID: normalized.GatewayTransactionID,
		ReferenceCode: normalized.ReferenceCode,
		DedupeKey:     dedupeKey(normalized, payload),
		RawPayload:    rawJSON(payload),
	}

	stored, inserted, err := s.store.InsertOrGetWebhookEvent(ctx, event)
	if err != nil {
		return nil, fmt.Errorf("failed to persist webhook event: %w", err)
	}
	if !inserted {
		event = stored
		event.RetryCount++
		if event.Processed {
			// Replay: hand back the recorded outcome without touching the
			// deposit again.
			if err := s.store.SaveWebhookEvent(ctx, event); err != nil {
				s.log.Warnw("retry count update failed", "dedupe_key", event.DedupeKey, "err", err)
			}
			return s.ack(normalized, event, outcomeString(event.Outcome), true), nil
		}
		// Claimed earlier but never finished; run it to completion now.
	}

	outcome := s.dispatch(ctx, normalized, event)

	now := time.Now().UTC()
	event.Processed = true
	event.ProcessedAt = &now
	event.Outcome = models.NewJSON(map[string]interface{}{"result": outcome, "status": normalized.Status})
	if err := s.store.SaveWebhookEvent(ctx, event); err != nil {
		return nil, fmt.Errorf("failed to finalize webhook event: %w", err)
	}

	return s.ack(normalized, event, outcome, false), nil
}

// dispatch resolves the target deposit and applies the classified status.
func (s *service) dispatch(ctx context.Context, ev *NormalizedEvent, event *models.WebhookEvent) string {
	dep, err := s.resolveDeposit(ctx, ev)
	if err != nil {
		if errors.Is(err, repositories.ErrDepositNotFound) {
			s.log.Infow("webhook ignored, no matching deposit",
				"provider", ev.Provider, "event_id", ev.EventID, "reference", ev.ReferenceCode)
			return OutcomeIgnored
		}
		s.log.Errorw("deposit lookup failed", "provider", ev.Provider, "event_id", ev.EventID, "err", err)
		return OutcomeIgnored
	}
	event.DepositRequestID = &dep.ID

	switch classify(ev.Status) {
	case verdictSuccess:
		if meta := verificationMeta(ev.Metadata); len(meta) > 0 {
			if err := s.deposits.AttachVerificationMeta(ctx, dep.ID, meta); err != nil {
				s.log.Warnw("verification metadata attach failed", "deposit_id", dep.ID, "err", err)
			}
		}
		if _, err := s.deposits.ApproveDepositRequest(ctx, dep.ID, 0); err != nil {
			if errors.Is(err, deposit.ErrAlreadyFinalized) {
				return OutcomeAlreadyFinal
			}
			s.log.Errorw("webhook approval failed", "deposit_id", dep.ID, "err", err)
			return fmt.Sprintf("approval failed: %v", err)
		}
		return OutcomeCompleted

	case verdictFailure:
		reason := fmt.Sprintf("gateway reported %s", ev.Status)
		if _, err := s.deposits.RejectDepositRequest(ctx, dep.ID, 0, reason); err != nil {
			if errors.Is(err, deposit.ErrAlreadyFinalized) {
				return OutcomeAlreadyFinal
			}
			s.log.Errorw("webhook rejection failed", "deposit_id", dep.ID, "err", err)
			return fmt.Sprintf("rejection failed: %v", err)
		}
		return OutcomeRejected

	default:
		meta := models.NewJSON(map[string]interface{}{
			fmt.Sprintf("%s_event_%s", ev.Provider, ev.EventID): ev.Status,
		})
		if ev.Metadata != nil {
			meta = meta.Merge(ev.Metadata)
		}
		if err := s.deposits.AppendEventMetadata(ctx, dep.ID, meta); err != nil {
			s.log.Warnw("metadata append failed", "deposit_id", dep.ID, "err", err)
		}
		return OutcomeMetadataAppended
	}
}

func (s *service) resolveDeposit(ctx context.Context, ev *NormalizedEvent) (*models.DepositRequest, error) {
	if ev.DepositRequestID != 0 {
		return s.store.FindDepositByID(ctx, ev.DepositRequestID)
	}
	if ev.GatewayTransactionID != "" {
		dep, err := s.store.FindDepositByGatewayTxnID(ctx, ev.GatewayTransactionID)
		if err == nil {
			return dep, nil
		}
		if !errors.Is(err, repositories.ErrDepositNotFound) {
			return nil, err
		}
	}
	if ev.ReferenceCode != "" {
		return s.store.FindDepositByReference(ctx, ev.Provider, ev.ReferenceCode)
	}
	return nil, repositories.ErrDepositNotFound
}

func (s *service) ack(ev *NormalizedEvent, event *models.WebhookEvent, outcome string, replay bool) *Acknowledgement {
	ack := &Acknowledgement{
		Provider:         ev.Provider,
		Acknowledged:     true,
		EventID:          ev.EventID,
		Status:           ev.Status,
		Outcome:          outcome,
		AlreadyProcessed: replay,
		DedupeKey:        event.DedupeKey,
	}
	if event.DepositRequestID != nil {
		ack.DepositID = *event.DepositRequestID
	}
	return ack
}

// verificationMeta extracts the payer identity fields a provider reported
// with the event. Settlement reads them to decide instrument verification.
func verificationMeta(meta models.JSON) models.JSON {
	if meta == nil {
		return nil
	}
	out := models.JSON{}
	for _, key := range []string{"payer_id", "payment_hash"} {
		if v, ok := meta[key]; ok {
			out[key] = v
		}
	}
	return out
}

type verdict int

const (
	verdictNeutral verdict = iota
	verdictSuccess
	verdictFailure
)

// classify buckets gateway statuses. Unknown statuses are neutral: they
// must never move money, only annotate.
func classify(status string) verdict {
	switch status {
	case "succeeded", "success", "completed", "paid", "pay_success", "confirmed":
		return verdictSuccess
	case "failed", "declined", "canceled", "cancelled", "expired", "pay_fail", "pay_closed":
		return verdictFailure
	default:
		return verdictNeutral
	}
}

// dedupeKey derives a deterministic identity for one delivery. Providers
// that supply no identifiers at all fall back to hashing the payload.
func dedupeKey(ev *NormalizedEvent, payload []byte) string {
	identity := strings.Join([]string{ev.Provider, ev.EventID, ev.GatewayTransactionID, ev.ReferenceCode}, "|")
	if ev.EventID == "" && ev.GatewayTransactionID == "" && ev.ReferenceCode == "" {
		sum := sha256.Sum256(payload)
		identity = ev.Provider + "|" + hex.EncodeToString(sum[:])
	}
	sum := sha256.Sum256([]byte(identity))
	return ev.Provider + ":" + hex.EncodeToString(sum[:])
}

func rawJSON(payload []byte) models.JSON {
	parsed := models.JSON{}
	if err := json.Unmarshal(payload, &parsed); err != nil {
		return models.NewJSON(map[string]interface{}{"raw": string(payload)})
	}
	return parsed
}

func outcomeString(outcome models.JSON) string {
	if outcome == nil {
		return ""
	}
	if v, ok := outcome["result"].(string); ok {
		return v
	}
	return ""
}
