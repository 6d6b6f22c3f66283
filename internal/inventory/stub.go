package inventory

import (
	"context"
	"fmt"
	"sync"
)

// StubProduct seeds one product into the in-process inventory stub.
type StubProduct struct {
	ProductID      string
	Name           string
	UnitPriceCents int64
	Stock          int
	Enabled        bool
}

// Stub is an in-process Client used when no inventory service is configured
// (dev mode) and by the test suites. It keeps real stock counts so commit
// and credit are observable.
type Stub struct {
	mu       sync.RWMutex
	products map[string]*StubProduct
}

func NewStub(products ...StubProduct) *Stub {
	s := &Stub{products: make(map[string]*StubProduct, len(products))}
	for _, p := range products {
		cp := p
		s.products[p.ProductID] = &cp
	}
	return s
}

// NewSeededStub returns a stub with a small dev catalog.
func NewSeededStub() *Stub {
	return NewStub(
		StubProduct{ProductID: "PRD-COLA-01", Name: "Cola 330ml", UnitPriceCents: 1200, Stock: 120, Enabled: true},
		StubProduct{ProductID: "PRD-CHIPS-01", Name: "Potato Chips", UnitPriceCents: 2400, Stock: 80, Enabled: true},
		StubProduct{ProductID: "PRD-BREAD-01", Name: "White Bread", UnitPriceCents: 1800, Stock: 40, Enabled: true},
		StubProduct{ProductID: "PRD-MILK-01", Name: "Milk 1L", UnitPriceCents: 2100, Stock: 60, Enabled: true},
		StubProduct{ProductID: "PRD-OLD-01", Name: "Discontinued Item", UnitPriceCents: 900, Stock: 15, Enabled: false},
	)
}

func (s *Stub) Check(_ context.Context, productID string, quantity int) (Availability, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.products[productID]
	if !ok {
		return Availability{}, fmt.Errorf("%w: %s", ErrProductNotFound, productID)
	}
	return Availability{
		Name:           p.Name,
		UnitPriceCents: p.UnitPriceCents,
		InStock:        quantity <= p.Stock,
		State:          p.Enabled,
	}, nil
}

func (s *Stub) CommitConsumption(_ context.Context, items []ConsumedItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, item := range items {
		p, ok := s.products[item.ProductID]
		if !ok {
			return fmt.Errorf("%w: %s", ErrProductNotFound, item.ProductID)
		}
		p.Stock -= item.Quantity
		if p.Stock < 0 {
			p.Stock = 0
		}
	}
	return nil
}

func (s *Stub) CreditReturn(_ context.Context, productID string, quantity int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.products[productID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrProductNotFound, productID)
	}
	p.Stock += quantity
	return nil
}

// StockOf reports the stub's current stock for a product, for tests and the
// dev healthcheck.
func (s *Stub) StockOf(productID string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if p, ok := s.products[productID]; ok {
		return p.Stock
	}
	return 0
}
