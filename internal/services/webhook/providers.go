package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	stripewebhook "github.com/stripe/stripe-go/v72/webhook"

	"tidepay/internal/config"
	"tidepay/internal/models"
)

// headerValue looks a header up case-insensitively, since proxies and
// frameworks disagree on canonicalization.
func headerValue(headers map[string]string, key string) string {
	if v, ok := headers[key]; ok {
		return v
	}
	for k, v := range headers {
		if strings.EqualFold(k, key) {
			return v
		}
	}
	return ""
}

// StripeProvider handles Stripe payment intent callbacks.
type StripeProvider struct {
	cfg config.GatewayConfig
}

func NewStripeProvider(cfg config.GatewayConfig) *StripeProvider {
	return &StripeProvider{cfg: cfg}
}

func (p *StripeProvider) Name() string { return "stripe" }

// VerifySignature checks the Stripe-Signature header against the endpoint
// secret. Deployments without a configured secret skip verification.
func (p *StripeProvider) VerifySignature(payload []byte, headers map[string]string) error {
	if p.cfg.WebhookSecret == "" {
		return nil
	}
	sig := headerValue(headers, "Stripe-Signature")
	if _, err := stripewebhook.ConstructEvent(payload, sig, p.cfg.WebhookSecret); err != nil {
		return fmt.Errorf("%w: %v", ErrSignatureVerification, err)
	}
	return nil
}

type stripeEventPayload struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Data struct {
		Object struct {
			ID       string `json:"id"`
			Status   string `json:"status"`
			Amount   int64  `json:"amount"`
			Currency string `json:"currency"`
			Metadata struct {
				ReferenceCode string `json:"reference_code"`
			} `json:"metadata"`
		} `json:"object"`
	} `json:"data"`
}

func (p *StripeProvider) Normalize(payload []byte) (*NormalizedEvent, error) {
	var ev stripeEventPayload
	if err := json.Unmarshal(payload, &ev); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if ev.ID == "" || ev.Type == "" {
		return nil, fmt.Errorf("%w: missing event id or type", ErrMalformedPayload)
	}

	status := ev.Data.Object.Status
	switch ev.Type {
	case "payment_intent.succeeded":
		status = "succeeded"
	case "payment_intent.payment_failed":
		status = "failed"
	case "payment_intent.canceled":
		status = "canceled"
	}

	return &NormalizedEvent{
		Provider:             p.Name(),
		EventID:              ev.ID,
		EventType:            ev.Type,
		Status:               strings.ToLower(status),
		GatewayTransactionID: ev.Data.Object.ID,
		ReferenceCode:        ev.Data.Object.Metadata.ReferenceCode,
		Amount:               decimal.NewFromInt(ev.Data.Object.Amount).Div(decimal.NewFromInt(100)),
		Currency:             strings.ToUpper(ev.Data.Object.Currency),
	}, nil
}

// BinancePayProvider handles Binance Pay order notifications.
type BinancePayProvider struct {
	cfg config.GatewayConfig
}

func NewBinancePayProvider(cfg config.GatewayConfig) *BinancePayProvider {
	return &BinancePayProvider{cfg: cfg}
}

func (p *BinancePayProvider) Name() string { return "binance_pay" }

// VerifySignature recomputes the HMAC-SHA512 over timestamp, nonce and body
// and compares it to the BinancePay-Signature header.
func (p *BinancePayProvider) VerifySignature(payload []byte, headers map[string]string) error {
	if p.cfg.WebhookSecret == "" {
		return nil
	}
	ts := headerValue(headers, "BinancePay-Timestamp")
	nonce := headerValue(headers, "BinancePay-Nonce")
	sig := headerValue(headers, "BinancePay-Signature")
	if ts == "" || nonce == "" || sig == "" {
		return fmt.Errorf("%w: missing binance pay headers", ErrSignatureVerification)
	}

	mac := hmac.New(sha512.New, []byte(p.cfg.WebhookSecret))
	mac.Write([]byte(ts + "\n" + nonce + "\n" + string(payload) + "\n"))
	expected := hex.EncodeToString(mac.Sum(nil))
	if !strings.EqualFold(expected, sig) {
		return fmt.Errorf("%w: binance pay signature mismatch", ErrSignatureVerification)
	}
	return nil
}

type binanceNotification struct {
	BizType   string `json:"bizType"`
	BizID     string `json:"bizId"`
	BizStatus string `json:"bizStatus"`
	Data      struct {
		MerchantTradeNo string          `json:"merchantTradeNo"`
		TransactionID   string          `json:"transactionId"`
		PayerID         string          `json:"payerId"`
		OrderAmount     decimal.Decimal `json:"orderAmount"`
		Currency        string          `json:"currency"`
	} `json:"data"`
}

func (p *BinancePayProvider) Normalize(payload []byte) (*NormalizedEvent, error) {
	var ev binanceNotification
	if err := json.Unmarshal(payload, &ev); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if ev.BizID == "" {
		return nil, fmt.Errorf("%w: missing bizId", ErrMalformedPayload)
	}

	meta := models.NewJSON(map[string]interface{}{"biz_type": ev.BizType})
	if ev.Data.PayerID != "" {
		meta["payer_id"] = ev.Data.PayerID
	}
	if ev.Data.TransactionID != "" {
		meta["payment_hash"] = ev.Data.TransactionID
	}

	return &NormalizedEvent{
		Provider:             p.Name(),
		EventID:              ev.BizID,
		EventType:            ev.BizType,
		Status:               strings.ToLower(ev.BizStatus),
		GatewayTransactionID: ev.Data.TransactionID,
		ReferenceCode:        ev.Data.MerchantTradeNo,
		Amount:               ev.Data.OrderAmount,
		Currency:             strings.ToUpper(ev.Data.Currency),
		Metadata:             meta,
	}, nil
}

// CryptoProvider handles callbacks from the crypto payment gateway. The
// payload is already flat; signatures are HMAC-SHA256 over the raw body.
type CryptoProvider struct {
	cfg config.GatewayConfig
}

func NewCryptoProvider(cfg config.GatewayConfig) *CryptoProvider {
	return &CryptoProvider{cfg: cfg}
}

func (p *CryptoProvider) Name() string { return "coinpay" }

func (p *CryptoProvider) VerifySignature(payload []byte, headers map[string]string) error {
	if p.cfg.WebhookSecret == "" {
		return nil
	}
	sig := headerValue(headers, "X-Coinpay-Signature")
	if sig == "" {
		return fmt.Errorf("%w: missing signature header", ErrSignatureVerification)
	}
	mac := hmac.New(sha256.New, []byte(p.cfg.WebhookSecret))
	mac.Write(payload)
	if !hmac.Equal([]byte(hex.EncodeToString(mac.Sum(nil))), []byte(strings.ToLower(sig))) {
		return fmt.Errorf("%w: signature mismatch", ErrSignatureVerification)
	}
	return nil
}

type cryptoNotification struct {
	EventID   string          `json:"event_id"`
	EventType string          `json:"event_type"`
	Status    string          `json:"status"`
	DepositID uint            `json:"deposit_id"`
	TxHash    string          `json:"tx_hash"`
	Reference string          `json:"reference"`
	Amount    decimal.Decimal `json:"amount"`
	Currency  string          `json:"currency"`
}

func (p *CryptoProvider) Normalize(payload []byte) (*NormalizedEvent, error) {
	var ev cryptoNotification
	if err := json.Unmarshal(payload, &ev); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if ev.EventID == "" && ev.TxHash == "" {
		return nil, fmt.Errorf("%w: missing event identifiers", ErrMalformedPayload)
	}

	var meta models.JSON
	if ev.TxHash != "" {
		meta = models.NewJSON(map[string]interface{}{"tx_hash": ev.TxHash})
	}
	return &NormalizedEvent{
		Provider:             p.Name(),
		EventID:              ev.EventID,
		EventType:            ev.EventType,
		Status:               strings.ToLower(ev.Status),
		DepositRequestID:     ev.DepositID,
		GatewayTransactionID: ev.TxHash,
		ReferenceCode:        ev.Reference,
		Amount:               ev.Amount,
		Currency:             strings.ToUpper(ev.Currency),
		Metadata:             meta,
	}, nil
}
