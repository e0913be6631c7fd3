package gateway

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"sync"
)

var (
	// ErrUnavailable wraps any transport or provider failure. Local state is
	// never mutated when a gateway call fails, so callers may simply retry.
	ErrUnavailable = errors.New("payment gateway unavailable")

	ErrUnknownProvider = errors.New("unknown payment provider")
)

type OrderRequest struct {
	Amount   int64 // minor currency units
	Currency string
	Metadata map[string]string
}

// Gateway is the capability set this core needs from a payment provider.
// Order creation and refunds are remote calls; signature verification is
// local and side-effect free.
type Gateway interface {
	CreateOrder(ctx context.Context, req OrderRequest) (orderRef string, err error)
	VerifySignature(orderRef, paymentRef, signature string) bool
	Refund(ctx context.Context, paymentRef string, amount int64) error
}

// Sign computes the webhook signature a provider is expected to send:
// hex(HMAC-SHA256(secret, orderRef|paymentRef)).
func Sign(secret, orderRef, paymentRef string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(orderRef + "|" + paymentRef))
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifyHMAC checks a signature in constant time.
func VerifyHMAC(secret, orderRef, paymentRef, signature string) bool {
	expected := Sign(secret, orderRef, paymentRef)
	return hmac.Equal([]byte(expected), []byte(signature))
}

// Registry maps provider identifiers to gateway implementations. The engine
// depends only on the Gateway interface; wiring decides which providers
// exist in a given deployment.
type Registry struct {
	mu       sync.RWMutex
	gateways map[string]Gateway
}

func NewRegistry() *Registry {
	return &Registry{gateways: make(map[string]Gateway)}
}

func (r *Registry) Register(name string, g Gateway) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.gateways[name] = g
}

func (r *Registry) Get(name string) (Gateway, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	g, ok := r.gateways[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, name)
	}
	return g, nil
}

func (r *Registry) Providers() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.gateways))
	for name := range r.gateways {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
