package gateway

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"tidepay/internal/config"
)

// BinancePayGateway initiates deposits through the Binance Pay order API.
type BinancePayGateway struct {
	cfg        config.GatewayConfig
	httpClient *http.Client
}

// NewBinancePayGateway builds the client from config.
func NewBinancePayGateway(cfg config.GatewayConfig) *BinancePayGateway {
	return &BinancePayGateway{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
}

func (g *BinancePayGateway) Name() string { return "binance_pay" }

type binanceOrderResponse struct {
	Status string `json:"status"`
	Code   string `json:"code"`
	Data   struct {
		PrepayID    string `json:"prepayId"`
		CheckoutURL string `json:"checkoutUrl"`
	} `json:"data"`
	ErrorMessage string `json:"errorMessage"`
}

// InitiateDeposit creates a Binance Pay order. Orders always settle
// asynchronously through the pay webhook, never auto-complete.
func (g *BinancePayGateway) InitiateDeposit(ctx context.Context, req InitiationRequest) (*InitiationResult, error) {
	body, err := json.Marshal(map[string]interface{}{
		"merchantTradeNo": req.ReferenceCode,
		"orderAmount":     req.Amount.StringFixed(2),
		"currency":        req.Currency,
		"goods": map[string]string{
			"goodsName": req.Description,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInitiation, err)
	}

	return withRetry(ctx, func() (*InitiationResult, error) {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
			g.cfg.BaseURL+"/binancepay/openapi/v2/order", bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInitiation, err)
		}

		nonce := newNonce()
		ts := fmt.Sprintf("%d", time.Now().UnixMilli())
		httpReq.Header.Set("Content-Type", "application/json")
		httpReq.Header.Set("BinancePay-Timestamp", ts)
		httpReq.Header.Set("BinancePay-Nonce", nonce)
		httpReq.Header.Set("BinancePay-Certificate-SN", g.cfg.APIKey)
		httpReq.Header.Set("BinancePay-Signature", g.sign(ts, nonce, body))

		resp, err := g.httpClient.Do(httpReq)
		if err != nil {
			return nil, retryable(fmt.Errorf("%w: %v", ErrInitiation, err))
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 500 {
			return nil, retryable(fmt.Errorf("%w: binance pay returned %d", ErrInitiation, resp.StatusCode))
		}

		var order binanceOrderResponse
		if err := json.NewDecoder(resp.Body).Decode(&order); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInitiation, err)
		}
		if order.Status != "SUCCESS" {
			return nil, fmt.Errorf("%w: %s %s", ErrInitiation, order.Code, order.ErrorMessage)
		}

		return &InitiationResult{
			TransactionID: order.Data.PrepayID,
			SessionURL:    order.Data.CheckoutURL,
			AutoComplete:  false,
			Raw: map[string]interface{}{
				"prepay_id": order.Data.PrepayID,
			},
		}, nil
	})
}

func (g *BinancePayGateway) sign(ts, nonce string, body []byte) string {
	payload := ts + "\n" + nonce + "\n" + string(body) + "\n"
	mac := hmac.New(sha512.New, []byte(g.cfg.WebhookSecret))
	mac.Write([]byte(payload))
	return hex.EncodeToString(mac.Sum(nil))
}

func newNonce() string {
	buf := make([]byte, 16)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}
