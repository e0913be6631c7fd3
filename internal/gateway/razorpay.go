package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

const razorpayDefaultBaseURL = "https://api.razorpay.com/v1"

// Razorpay creates orders via the Orders API using basic auth and verifies
// webhook signatures with the account secret.
type Razorpay struct {
	keyID   string
	secret  string
	baseURL string
	client  *http.Client
}

func NewRazorpay(keyID, secret, baseURL string) *Razorpay {
	if baseURL == "" {
		baseURL = razorpayDefaultBaseURL
	}
	return &Razorpay{
		keyID:   keyID,
		secret:  secret,
		baseURL: baseURL,
		client:  &http.Client{Timeout: 15 * time.Second},
	}
}

type razorpayOrderResponse struct {
	ID    string `json:"id"`
	Error *struct {
		Description string `json:"description"`
	} `json:"error"`
}

func (g *Razorpay) CreateOrder(ctx context.Context, req OrderRequest) (string, error) {
	payload := map[string]any{
		"amount":   req.Amount,
		"currency": req.Currency,
		"notes":    req.Metadata,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal order payload: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/orders", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build order request: %w", err)
	}
	httpReq.SetBasicAuth(g.keyID, g.secret)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("%w: create order: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	var result razorpayOrderResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("%w: decode order response: %v", ErrUnavailable, err)
	}

	if resp.StatusCode >= 400 || result.ID == "" {
		if result.Error != nil {
			return "", fmt.Errorf("%w: razorpay: %s", ErrUnavailable, result.Error.Description)
		}
		return "", fmt.Errorf("%w: razorpay returned status %d", ErrUnavailable, resp.StatusCode)
	}

	return result.ID, nil
}

func (g *Razorpay) VerifySignature(orderRef, paymentRef, signature string) bool {
	return VerifyHMAC(g.secret, orderRef, paymentRef, signature)
}

func (g *Razorpay) Refund(ctx context.Context, paymentRef string, amount int64) error {
	payload := map[string]any{"amount": amount}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal refund payload: %w", err)
	}

	url := fmt.Sprintf("%s/payments/%s/refund", g.baseURL, paymentRef)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build refund request: %w", err)
	}
	httpReq.SetBasicAuth(g.keyID, g.secret)
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
