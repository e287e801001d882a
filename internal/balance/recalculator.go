// Package balance derives an invoice's paid amount, balance due and status
// from its allocations and writes them back when the stored values drift.
package balance

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/MrJamesThe3rd/tally/internal/ledger"
)

// ItemError is a failure isolated to one invoice.
type ItemError struct {
	Context string `json:"context"`
	Message string `json:"message"`
}

type Result struct {
	Updated  int
	Invoices []uuid.UUID
	Errors   []ItemError
}

type Recalculator struct {
	reader   ledger.LedgerReader
	invoices ledger.InvoiceStore
	epsilon  decimal.Decimal
}

func NewRecalculator(reader ledger.LedgerReader, invoices ledger.InvoiceStore, epsilon decimal.Decimal) *Recalculator {
	return &Recalculator{
		reader:   reader,
		invoices: invoices,
		epsilon:  epsilon.Abs(),
	}
}

// Derive returns inv with PaidAmount, BalanceDue and Status computed from
// allocs. The stored derived fields of inv are ignored.
func Derive(inv ledger.Invoice, allocs []ledger.Allocation) ledger.Invoice {
	paid := ledger.SumAllocations(allocs)
	balance := inv.TotalAmount.Sub(paid)

	inv.PaidAmount = paid
	inv.BalanceDue = balance
	inv.Status = status(paid, balance)
	inv.Allocations = allocs

	return inv
}

func status(paid, balance decimal.Decimal) ledger.Status {
	switch {
	case paid.IsZero():
		return ledger.StatusDraft
	case balance.IsPositive():
		return ledger.StatusPartial
	default:
		return ledger.StatusPaid
	}
}

// Recalculate reloads the invoice's allocations, derives its fields and writes
// them when they differ from what is stored. It reports whether it wrote.
func (r *Recalculator) Recalculate(ctx context.Context, scope ledger.Scope, inv ledger.Invoice) (ledger.Invoice, bool, error) {
	allocs, err := r.reader.LoadAllocations(ctx, scope, inv.ID)
	if err != nil {
		return inv, false, fmt.Errorf("load allocations: %w", err)
	}

	// Called right after an allocation changes, so any difference is written.
	return r.apply(ctx, scope, inv, Derive(inv, allocs), decimal.Zero)
}

// RecalculateAll derives every invoice in scope and writes only those whose
// stored fields differ by more than epsilon or carry a different status.
// A failing invoice is reported in the result and does not stop the pass.
func (r *Recalculator) RecalculateAll(ctx context.Context, scope ledger.Scope) (*Result, error) {
	invoices, err := r.reader.LoadInvoices(ctx, scope)
	if err != nil {
		return nil, fmt.Errorf("load invoices: %w", err)
	}

	res := &Result{}

	for _, inv := range invoices {
		if err := ctx.Err(); err != nil {
			return res, fmt.Errorf("recalculate all: %w", err)
		}

		_, written, err := r.apply(ctx, scope, inv, Derive(inv, inv.Allocations), r.epsilon)
		if err != nil {
			res.Errors = append(res.Errors, ItemError{
				Context: invoiceContext(inv),
				Message: err.Error(),
			})

			continue
		}

		if written {
			res.Updated++
			res.Invoices = append(res.Invoices, inv.ID)
		}
	}

	return res, nil
}

func (r *Recalculator) apply(ctx context.Context, scope ledger.Scope, stored, derived ledger.Invoice, eps decimal.Decimal) (ledger.Invoice, bool, error) {
	if !drifted(stored, derived, eps) {
		return derived, false, nil
	}

	if err := r.invoices.UpdateDerivedFields(ctx, scope, derived.ID, derived.PaidAmount, derived.BalanceDue, derived.Status); err != nil {
		return stored, false, fmt.Errorf("update derived fields: %w", err)
	}

	slog.Debug("invoice derived fields updated",
		"invoice_id", derived.ID,
		"paid_amount", derived.PaidAmount.String(),
		"previous_paid_amount", stored.PaidAmount.String(),
		"status", derived.Status,
	)

	return derived, true, nil
}

func drifted(stored, derived ledger.Invoice, eps decimal.Decimal) bool {
	if stored.Status != derived.Status {
		return true
	}

	if stored.PaidAmount.Sub(derived.PaidAmount).Abs().GreaterThan(eps) {
		return true
	}

	return stored.BalanceDue.Sub(derived.BalanceDue).Abs().GreaterThan(eps)
}

func invoiceContext(inv ledger.Invoice) string {
	if inv.Number != "" {
		return fmt.Sprintf("invoice %s (%s)", inv.Number, inv.ID)
	}

	return fmt.Sprintf("invoice %s", inv.ID)
}
