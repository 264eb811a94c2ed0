package pricing

import (
	"context"
	"sync"
)

// MockResolver is an in-memory Resolver for tests.
type MockResolver struct {
	mu     sync.RWMutex
	quotes map[string]Quote

	// ResolveErr, when set, is returned from every lookup.
	ResolveErr error
}

// NewMockResolver creates an empty mock resolver.
func NewMockResolver() *MockResolver {
	return &MockResolver{quotes: make(map[string]Quote)}
}

// Set registers a quote for a product/variant pair.
func (m *MockResolver) Set(productID, variantID string, q Quote) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.quotes[productID+"\x00"+variantID] = q
}

// ResolvePrice implements Resolver.
func (m *MockResolver) ResolvePrice(ctx context.Context, productID, variantID string) (Quote, error) {
	if m.ResolveErr != nil {
		return Quote{}, m.ResolveErr
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	q, ok := m.quotes[productID+"\x00"+variantID]
	if !ok {
		return Quote{}, ErrPriceNotFound
	}
	return q, nil
}
