package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
)

const cashfreeDefaultBaseURL = "https://api.cashfree.com/pg"

// Cashfree is the second concrete provider behind the Gateway interface.
// It authenticates with header credentials instead of basic auth.
type Cashfree struct {
	appID   string
	secret  string
	baseURL string
	client  *http.Client
}

func NewCashfree(appID, secret, baseURL string) *Cashfree {
	if baseURL == "" {
		baseURL = cashfreeDefaultBaseURL
	}
	return &Cashfree{
		appID:   appID,
		secret:  secret,
		baseURL: baseURL,
		client:  &http.Client{Timeout: 15 * time.Second},
	}
}

type cashfreeOrderResponse struct {
	OrderID string `json:"order_id"`
	Message string `json:"message"`
}

func (g *Cashfree) CreateOrder(ctx context.Context, req OrderRequest) (string, error) {
	payload := map[string]any{
		"order_id":       "order_" + uuid.NewString(),
		"order_amount":   float64(req.Amount) / 100,
		"order_currency": req.Currency,
		"order_tags":     req.Metadata,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal order payload: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/orders", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build order request: %w", err)
	}
	httpReq.Header.Set("x-client-id", g.appID)
	httpReq.Header.Set("x-client-secret", g.secret)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("%w: create order: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	var result cashfreeOrderResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("%w: decode order response: %v", ErrUnavailable, err)
	}

	if resp.StatusCode >= 400 || result.OrderID == "" {
		if result.Message != "" {
			return "", fmt.Errorf("%w: cashfree: %s", ErrUnavailable, result.Message)
		}
		return "", fmt.Errorf("%w: cashfree returned status %d", ErrUnavailable, resp.StatusCode)
	}

	return result.OrderID, nil
}

func (g *Cashfree) VerifySignature(orderRef, paymentRef, signature string) bool {
	return VerifyHMAC(g.secret, orderRef, paymentRef, signature)
}

func (g *Cashfree) Refund(ctx context.Context, paymentRef string, amount int64) error {
	payload := map[string]any{
		"refund_amount": float64(amount) / 100,
		"refund_id":     "refund_" + uuid.NewString(),
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal refund payload: %w", err)
	}

	url := fmt.Sprintf("%s/orders/%s/refunds", g.baseURL, paymentRef)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build refund request: %w", err)
	}
	httpReq.Header.Set("x-client-id", g.appID)
	httpReq.Header.Set("x-client-secret", g.secret)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("%w: refund: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("%w: refund returned status %d", ErrUnavailable, resp.StatusCode)
	}
	return nil
}
