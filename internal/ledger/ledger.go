package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var (
	ErrNotFound      = errors.New("ledger: not found")
	ErrInvalidScope  = errors.New("ledger: scope requires a company id")
	ErrInvalidAmount = errors.New("ledger: allocation amount must be positive")
	// ErrOverAllocated is returned when an allocation would exceed the payment's
	// remaining amount or the invoice's remaining balance.
	ErrOverAllocated = errors.New("ledger: allocation exceeds remaining amount")
)

// Status represents the payment state of an invoice as derived from its allocations.
type Status string

const (
	StatusDraft   Status = "draft"
	StatusPartial Status = "partial"
	StatusPaid    Status = "paid"
)

func (s Status) Valid() bool {
	switch s {
	case StatusDraft, StatusPartial, StatusPaid:
		return true
	}

	return false
}

// Scope bounds which payments and invoices a call operates over.
// CustomerID narrows a company scope to a single customer.
type Scope struct {
	CompanyID  uuid.UUID  `json:"company_id"`
	CustomerID *uuid.UUID `json:"customer_id,omitempty"`
}

func (s Scope) Validate() error {
	if s.CompanyID == uuid.Nil {
		return ErrInvalidScope
	}

	return nil
}

// Includes reports whether a record owned by customerID falls inside the scope.
func (s Scope) Includes(customerID uuid.UUID) bool {
	return s.CustomerID == nil || *s.CustomerID == customerID
}

func (s Scope) String() string {
	if s.CustomerID != nil {
		return fmt.Sprintf("company:%s:customer:%s", s.CompanyID, *s.CustomerID)
	}

	return fmt.Sprintf("company:%s", s.CompanyID)
}

// Payment is a received sum. The engine never modifies it.
type Payment struct {
	ID          uuid.UUID       `json:"id"`
	CompanyID   uuid.UUID       `json:"company_id"`
	CustomerID  uuid.UUID       `json:"customer_id"`
	Amount      decimal.Decimal `json:"amount"`
	PaymentDate time.Time       `json:"payment_date"`
	Reference   string          `json:"reference,omitempty"`
	Allocations []Allocation    `json:"allocations,omitempty"` // Loaded with the payment
}

// Allocated is the part of the payment already linked to invoices.
func (p Payment) Allocated() decimal.Decimal {
	return SumAllocations(p.Allocations)
}

// Remaining is the part of the payment not yet linked to any invoice.
func (p Payment) Remaining() decimal.Decimal {
	return p.Amount.Sub(p.Allocated())
}

// Invoice is a billable document. PaidAmount, BalanceDue and Status are the
// stored derived fields; only the balance recalculator writes them.
type Invoice struct {
	ID          uuid.UUID       `json:"id"`
	CompanyID   uuid.UUID       `json:"company_id"`
	CustomerID  uuid.UUID       `json:"customer_id"`
	Number      string          `json:"number,omitempty"`
	InvoiceDate time.Time       `json:"invoice_date"`
	DueDate     time.Time       `json:"due_date"`
	TotalAmount decimal.Decimal `json:"total_amount"`
	PaidAmount  decimal.Decimal `json:"paid_amount"`
	BalanceDue  decimal.Decimal `json:"balance_due"`
	Status      Status          `json:"status"`
	Allocations []Allocation    `json:"allocations,omitempty"` // Loaded with the invoice
}

// Remaining is the outstanding balance implied by the allocation set,
// regardless of what is stored in BalanceDue.
func (i Invoice) Remaining() decimal.Decimal {
	return i.TotalAmount.Sub(SumAllocations(i.Allocations))
}

// Allocation links part or all of one payment to one invoice. Allocations are
// never updated in place.
type Allocation struct {
	ID        uuid.UUID       `json:"id"`
	PaymentID uuid.UUID       `json:"payment_id"`
	InvoiceID uuid.UUID       `json:"invoice_id"`
	Amount    decimal.Decimal `json:"amount"`
	CreatedAt time.Time       `json:"created_at"`
}

func SumAllocations(allocs []Allocation) decimal.Decimal {
	total := decimal.Zero
	for _, a := range allocs {
		total = total.Add(a.Amount)
	}

	return total
}

//go:generate mockgen -source=ledger.go -destination=ledger_mock.go -package=ledger
type LedgerReader interface {
	LoadPayments(ctx context.Context, scope Scope) ([]Payment, error)
	LoadInvoices(ctx context.Context, scope Scope) ([]Invoice, error)
	LoadAllocations(ctx context.Context, scope Scope, invoiceID uuid.UUID) ([]Allocation, error)
}

// AllocationStore is append-only: Create is its only write.
type AllocationStore interface {
	Create(ctx context.Context, scope Scope, paymentID, invoiceID uuid.UUID, amount decimal.Decimal) (*Allocation, error)
}

type InvoiceStore interface {
	UpdateDerivedFields(ctx context.Context, scope Scope, invoiceID uuid.UUID, paidAmount, balanceDue decimal.Decimal, status Status) error
}
