// Package reconcile runs the payment-to-invoice reconciliation: an advisory
// pass that proposes candidates and an apply pass that writes allocations for
// an explicit list of matches.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/MrJamesThe3rd/tally/internal/balance"
	"github.com/MrJamesThe3rd/tally/internal/ledger"
	"github.com/MrJamesThe3rd/tally/internal/matching"
)

// ErrLedgerUnavailable wraps a failure to load the ledger. Nothing is written
// when it is returned.
var ErrLedgerUnavailable = errors.New("reconcile: ledger unavailable")

type Reconciler struct {
	reader       ledger.LedgerReader
	allocations  ledger.AllocationStore
	matcher      *matching.Matcher
	recalculator *balance.Recalculator
	now          func() time.Time
}

type Option func(*Reconciler)

func WithClock(now func() time.Time) Option {
	return func(r *Reconciler) {
		r.now = now
	}
}

func NewReconciler(reader ledger.LedgerReader, allocations ledger.AllocationStore, invoices ledger.InvoiceStore, matcher *matching.Matcher, opts ...Option) *Reconciler {
	if matcher == nil {
		matcher = matching.NewMatcher()
	}

	r := &Reconciler{
		reader:       reader,
		allocations:  allocations,
		matcher:      matcher,
		recalculator: balance.NewRecalculator(reader, invoices, matcher.Epsilon()),
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}

	return r
}

// snapshot is the in-memory view of a scope's ledger for a single call.
type snapshot struct {
	payments    []*ledger.Payment
	paymentByID map[uuid.UUID]*ledger.Payment
	invoiceByID map[uuid.UUID]*ledger.Invoice
	byCustomer  map[uuid.UUID][]ledger.Invoice
}

func (r *Reconciler) load(ctx context.Context, scope ledger.Scope) (*snapshot, error) {
	payments, err := r.reader.LoadPayments(ctx, scope)
	if err != nil {
		return nil, fmt.Errorf("load payments: %w", err)
	}

	invoices, err := r.reader.LoadInvoices(ctx, scope)
	if err != nil {
		return nil, fmt.Errorf("load invoices: %w", err)
	}

	s := &snapshot{
		paymentByID: make(map[uuid.UUID]*ledger.Payment, len(payments)),
		invoiceByID: make(map[uuid.UUID]*ledger.Invoice, len(invoices)),
		byCustomer:  make(map[uuid.UUID][]ledger.Invoice),
	}

	for i := range payments {
		p := &payments[i]
		s.payments = append(s.payments, p)
		s.paymentByID[p.ID] = p
	}

	for i := range invoices {
		inv := &invoices[i]
		s.invoiceByID[inv.ID] = inv
		s.byCustomer[inv.CustomerID] = append(s.byCustomer[inv.CustomerID], *inv)
	}

	return s, nil
}

func (r *Reconciler) fatal(report *Report, err error) (*Report, error) {
	report.Fatal = true
	report.fail("load ledger", err)
	report.FinishedAt = r.now()

	slog.Error("failed to load ledger", "scope", report.Scope.String(), "error", err)

	return report, fmt.Errorf("%w: %w", ErrLedgerUnavailable, err)
}

// Run is read-only. It proposes candidates for every payment with a positive
// remaining amount, strongest confidence first.
func (r *Reconciler) Run(ctx context.Context, scope ledger.Scope) (*Report, error) {
	if err := scope.Validate(); err != nil {
		return nil, err
	}

	report := newReport(scope, ModeAdvisory, r.now())

	snap, err := r.load(ctx, scope)
	if err != nil {
		return r.fatal(report, err)
	}

	var candidates []matching.Candidate

	perPayment := make(map[uuid.UUID]int)

	for _, p := range snap.payments {
		if err := ctx.Err(); err != nil {
			report.fail("run", err)
			report.FinishedAt = r.now()

			return report, fmt.Errorf("run: %w", err)
		}

		if !p.Remaining().IsPositive() {
			continue
		}

		found := r.matcher.FindCandidates(*p, snap.byCustomer[p.CustomerID])
		perPayment[p.ID] = len(found)
		candidates = append(candidates, found...)
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Confidence.Stronger(candidates[j].Confidence)
	})

	report.Candidates = make([]CandidateMatch, 0, len(candidates))
	for _, c := range candidates {
		report.Candidates = append(report.Candidates, candidateView(c))
	}

	report.summarize(snap.payments, perPayment)
	report.FinishedAt = r.now()

	slog.Info("reconciliation run finished",
		"scope", scope.String(),
		"payments", report.PaymentsExamined,
		"unallocated", report.UnallocatedCount,
		"candidates", len(report.Candidates),
	)

	return report, nil
}

// ApplyMatches writes an allocation for each match, in order, after checking
// it against the current ledger. Each allocation is for the smaller of the
// payment's and the invoice's remaining amounts, and the invoice is
// recalculated straight away. With recalcAll every invoice in scope is
// recalculated afterwards; ApplyMatches(ctx, scope, nil, true) only repairs drift.
func (r *Reconciler) ApplyMatches(ctx context.Context, scope ledger.Scope, matches []matching.Match, recalcAll bool) (*Report, error) {
	if err := scope.Validate(); err != nil {
		return nil, err
	}

	report := newReport(scope, ModeApply, r.now())

	snap, err := r.load(ctx, scope)
	if err != nil {
		return r.fatal(report, err)
	}

	updated := make(map[uuid.UUID]struct{})

	finish := func() {
		report.InvoicesUpdated = len(updated)
		report.summarize(snap.payments, nil)
		report.FinishedAt = r.now()

		slog.Info("reconciliation apply finished",
			"scope", scope.String(),
			"matches", len(matches),
			"allocations_created", report.AllocationsCreated,
			"invoices_updated", report.InvoicesUpdated,
			"skipped", len(report.Skipped),
			"errors", len(report.Errors),
		)
	}

	for _, m := range matches {
		if err := ctx.Err(); err != nil {
			report.fail("apply matches", err)
			finish()

			return report, fmt.Errorf("apply matches: %w", err)
		}

		r.applyOne(ctx, scope, snap, m, report, updated)
	}

	if recalcAll {
		res, err := r.recalculator.RecalculateAll(ctx, scope)
		if res != nil {
			for _, id := range res.Invoices {
				updated[id] = struct{}{}
			}

			report.Errors = append(report.Errors, res.Errors...)
		}

		if err != nil {
			report.fail("recalculate all", err)

			if ctxErr := ctx.Err(); ctxErr != nil {
				finish()

				return report, fmt.Errorf("apply matches: %w", ctxErr)
			}
		}
	}

	finish()

	return report, nil
}

func (r *Reconciler) applyOne(ctx context.Context, scope ledger.Scope, snap *snapshot, m matching.Match, report *Report, updated map[uuid.UUID]struct{}) {
	label := fmt.Sprintf("payment %s -> invoice %s", m.PaymentID, m.InvoiceID)

	p, ok := snap.paymentByID[m.PaymentID]
	if !ok {
		report.skip(label, "payment not found in scope")
		return
	}

	inv, ok := snap.invoiceByID[m.InvoiceID]
	if !ok {
		report.skip(label, "invoice not found in scope")
		return
	}

	if p.CustomerID != inv.CustomerID {
		report.skip(label, "payment and invoice belong to different customers")
		return
	}

	paymentRemaining := p.Remaining()
	if !paymentRemaining.IsPositive() {
		report.skip(label, "payment has no remaining amount")
		return
	}

	invoiceRemaining := inv.Remaining()
	if !invoiceRemaining.IsPositive() {
		report.skip(label, "invoice has no remaining balance")
		return
	}

	amount := decimal.Min(paymentRemaining, invoiceRemaining)

	alloc, err := r.allocations.Create(ctx, scope, p.ID, inv.ID, amount)
	if err != nil {
		slog.Error("failed to create allocation", "payment_id", p.ID, "invoice_id", inv.ID, "error", err)
		report.fail(label, fmt.Errorf("create allocation: %w", err))

		return
	}

	p.Allocations = append(p.Allocations, *alloc)
	inv.Allocations = append(inv.Allocations, *alloc)
	report.Allocations = append(report.Allocations, *alloc)
	report.AllocationsCreated++

	derived, written, err := r.recalculator.Recalculate(ctx, scope, *inv)
	if err != nil {
		slog.Error("failed to recalculate invoice", "invoice_id", inv.ID, "error", err)
		report.fail(fmt.Sprintf("invoice %s", inv.ID), err)

		return
	}

	*inv = derived

	if written {
		updated[inv.ID] = struct{}{}
	}
}
