// Package memory provides an in-memory ledger used for offline runs and tests.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/MrJamesThe3rd/tally/internal/ledger"
)

// Store implements ledger.LedgerReader, ledger.AllocationStore and
// ledger.InvoiceStore over maps guarded by a RWMutex.
type Store struct {
	mu          sync.RWMutex
	payments    map[uuid.UUID]ledger.Payment
	invoices    map[uuid.UUID]ledger.Invoice
	allocations []ledger.Allocation
	now         func() time.Time
}

func New() *Store {
	return &Store{
		payments: make(map[uuid.UUID]ledger.Payment),
		invoices: make(map[uuid.UUID]ledger.Invoice),
		now:      time.Now,
	}
}

// AddPayment seeds a payment. Any attached allocations are ignored; seed them
// with AddAllocation.
func (s *Store) AddPayment(p ledger.Payment) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p.Allocations = nil
	s.payments[p.ID] = p
}

// AddInvoice seeds an invoice with its stored derived fields as given.
func (s *Store) AddInvoice(inv ledger.Invoice) {
	s.mu.Lock()
	defer s.mu.Unlock()

	inv.Allocations = nil
	s.invoices[inv.ID] = inv
}

// AddAllocation seeds an existing allocation without validating it, so that
// inconsistent ledgers can be reproduced.
func (s *Store) AddAllocation(a ledger.Allocation) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}

	s.allocations = append(s.allocations, a)
}

func (s *Store) LoadPayments(_ context.Context, scope ledger.Scope) ([]ledger.Payment, error) {
	if err := scope.Validate(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []ledger.Payment

	for _, p := range s.payments {
		if p.CompanyID != scope.CompanyID || !scope.Includes(p.CustomerID) {
			continue
		}

		p.Allocations = s.allocationsLocked(func(a ledger.Allocation) bool { return a.PaymentID == p.ID })
		out = append(out, p)
	}

	sort.Slice(out, func(i, j int) bool {
		if !out[i].PaymentDate.Equal(out[j].PaymentDate) {
			return out[i].PaymentDate.Before(out[j].PaymentDate)
		}

		return out[i].ID.String() < out[j].ID.String()
	})

	return out, nil
}

func (s *Store) LoadInvoices(_ context.Context, scope ledger.Scope) ([]ledger.Invoice, error) {
	if err := scope.Validate(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []ledger.Invoice

	for _, inv := range s.invoices {
		if inv.CompanyID != scope.CompanyID || !scope.Includes(inv.CustomerID) {
			continue
		}

		inv.Allocations = s.allocationsLocked(func(a ledger.Allocation) bool { return a.InvoiceID == inv.ID })
		out = append(out, inv)
	}

	sort.Slice(out, func(i, j int) bool {
		if !out[i].InvoiceDate.Equal(out[j].InvoiceDate) {
			return out[i].InvoiceDate.Before(out[j].InvoiceDate)
		}

		return out[i].ID.String() < out[j].ID.String()
	})

	return out, nil
}

func (s *Store) LoadAllocations(_ context.Context, scope ledger.Scope, invoiceID uuid.UUID) ([]ledger.Allocation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	inv, ok := s.invoices[invoiceID]
	if !ok || inv.CompanyID != scope.CompanyID || !scope.Includes(inv.CustomerID) {
		return nil, ledger.ErrNotFound
	}

	return s.allocationsLocked(func(a ledger.Allocation) bool { return a.InvoiceID == invoiceID }), nil
}

func (s *Store) Create(_ context.Context, scope ledger.Scope, paymentID, invoiceID uuid.UUID, amount decimal.Decimal) (*ledger.Allocation, error) {
	if !amount.IsPositive() {
		return nil, ledger.ErrInvalidAmount
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.payments[paymentID]
	if !ok || p.CompanyID != scope.CompanyID || !scope.Includes(p.CustomerID) {
		return nil, fmt.Errorf("payment %s: %w", paymentID, ledger.ErrNotFound)
	}

	inv, ok := s.invoices[invoiceID]
	if !ok || inv.CompanyID != scope.CompanyID || !scope.Includes(inv.CustomerID) {
		return nil, fmt.Errorf("invoice %s: %w", invoiceID, ledger.ErrNotFound)
	}

	paid := ledger.SumAllocations(s.allocationsLocked(func(a ledger.Allocation) bool { return a.PaymentID == paymentID }))
	if paid.Add(amount).GreaterThan(p.Amount) {
		return nil, fmt.Errorf("payment %s: %w", paymentID, ledger.ErrOverAllocated)
	}

	billed := ledger.SumAllocations(s.allocationsLocked(func(a ledger.Allocation) bool { return a.InvoiceID == invoiceID }))
	if billed.Add(amount).GreaterThan(inv.TotalAmount) {
		return nil, fmt.Errorf("invoice %s: %w", invoiceID, ledger.ErrOverAllocated)
	}

	alloc := ledger.Allocation{
		ID:        uuid.New(),
		PaymentID: paymentID,
		InvoiceID: invoiceID,
		Amount:    amount,
		CreatedAt: s.now(),
	}
	s.allocations = append(s.allocations, alloc)

	return &alloc, nil
}

func (s *Store) UpdateDerivedFields(_ context.Context, scope ledger.Scope, invoiceID uuid.UUID, paidAmount, balanceDue decimal.Decimal, status ledger.Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	inv, ok := s.invoices[invoiceID]
	if !ok || inv.CompanyID != scope.CompanyID || !scope.Includes(inv.CustomerID) {
		return fmt.Errorf("invoice %s: %w", invoiceID, ledger.ErrNotFound)
	}

	inv.PaidAmount = paidAmount
	inv.BalanceDue = balanceDue
	inv.Status = status
	s.invoices[invoiceID] = inv

	return nil
}

// Invoice returns the stored invoice with its allocations attached.
func (s *Store) Invoice(id uuid.UUID) (ledger.Invoice, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	inv, ok := s.invoices[id]
	if !ok {
		return ledger.Invoice{}, false
	}

	inv.Allocations = s.allocationsLocked(func(a ledger.Allocation) bool { return a.InvoiceID == id })

	return inv, true
}

// Allocations returns every allocation in insertion order.
func (s *Store) Allocations() []ledger.Allocation {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]ledger.Allocation, len(s.allocations))
	copy(out, s.allocations)

	return out
}

func (s *Store) allocationsLocked(keep func(ledger.Allocation) bool) []ledger.Allocation {
	var out []ledger.Allocation

	for _, a := range s.allocations {
		if keep(a) {
			out = append(out, a)
		}
	}

	return out
}
