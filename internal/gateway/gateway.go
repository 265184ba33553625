// Package gateway holds the outbound payment-gateway clients the deposit
// manager initiates charges through.
package gateway

import (
	"context"
	"errors"
	"net"
	"time"

	"github.com/shopspring/decimal"
)

// Client errors
var (
	ErrUnknownGateway = errors.New("unknown gateway")
	ErrInitiation     = errors.New("gateway initiation failed")
)

// InitiationRequest asks a gateway to start collecting a deposit.
type InitiationRequest struct {
	AccountID      uint
	Amount         decimal.Decimal
	Currency       string
	Description    string
	ReferenceCode  string
	IdempotencyKey string
	PaymentToken   string
}

// InitiationResult is what a gateway hands back after initiation.
type InitiationResult struct {
	TransactionID string
	SessionURL    string
	// AutoComplete means the charge settled synchronously and the deposit
	// can be credited without waiting for a webhook.
	AutoComplete bool
	PayerID      string
	PaymentHash  string
	Raw          map[string]interface{}
}

// Gateway is one outbound payment provider.
type Gateway interface {
	Name() string
	InitiateDeposit(ctx context.Context, req InitiationRequest) (*InitiationResult, error)
}

// Registry resolves gateways by name.
type Registry struct {
	gateways map[string]Gateway
}

// NewRegistry builds a registry from the given gateways.
func NewRegistry(gateways ...Gateway) *Registry {
	r := &Registry{gateways: make(map[string]Gateway, len(gateways))}
	for _, g := range gateways {
		r.gateways[g.Name()] = g
	}
	return r
}

// Get returns the named gateway or ErrUnknownGateway.
func (r *Registry) Get(name string) (Gateway, error) {
	g, ok := r.gateways[name]
	if !ok {
		return nil, ErrUnknownGateway
	}
	return g, nil
}

const (
	maxAttempts  = 3
	retryBackoff = 200 * time.Millisecond
)

// retryableError marks a failure worth retrying (timeouts, transient
// provider unavailability). Terminal declines must not carry it.
type retryableError struct{ err error }

func (e *retryableError) Error() string { return e.err.Error() }
func (e *retryableError) Unwrap() error { return e.err }

func retryable(err error) error { return &retryableError{err: err} }

func isRetryable(err error) bool {
	var re *retryableError
	if errors.As(err, &re) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// withRetry runs fn a bounded number of times. The caller's idempotency key
// makes retried initiations safe against duplicate charges.
func withRetry(ctx context.Context, fn func() (*InitiationResult, error)) (*InitiationResult, error) {
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		res, err := fn()
		if err == nil {
			return res, nil
		}
		lastErr = err
		if !isRetryable(err) {
			return nil, err
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(retryBackoff * time.Duration(attempt)):
		}
	}
	return nil, lastErr
}
