package gateway

import (
	"context"
	"fmt"
	"sync"
)

// Stub is a deterministic in-memory gateway for tests and local development.
type Stub struct {
	Secret string

	mu      sync.Mutex
	orders  int
	Orders  []OrderRequest
	Refunds map[string]int64
	Fail    bool // when set, remote calls fail with ErrUnavailable
}

func NewStub(secret string) *Stub {
	return &Stub{Secret: secret, Refunds: make(map[string]int64)}
}

func (g *Stub) CreateOrder(_ context.Context, req OrderRequest) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.Fail {
		return "", fmt.Errorf("%w: stub failure", ErrUnavailable)
	}
	g.orders++
	g.Orders = append(g.Orders, req)
	return fmt.Sprintf("order_stub_%04d", g.orders), nil
}

func (g *Stub) VerifySignature(orderRef, paymentRef, signature string) bool {
	return VerifyHMAC(g.Secret, orderRef, paymentRef, signature)
}

func (g *Stub) Refund(_ context.Context, paymentRef string, amount int64) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.Fail {
		return fmt.Errorf("%w: stub failure", ErrUnavailable)
	}
	g.Refunds[paymentRef] += amount
	return nil
}
