package reconcile

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/MrJamesThe3rd/tally/internal/balance"
	"github.com/MrJamesThe3rd/tally/internal/ledger"
	"github.com/MrJamesThe3rd/tally/internal/matching"
)

type Mode string

const (
	ModeAdvisory Mode = "advisory"
	ModeApply    Mode = "apply"
)

// Report is the only result surface of a run. Errors and Unallocated are
// kept apart from successes so callers can render them distinctly.
type Report struct {
	Scope      ledger.Scope `json:"scope"`
	Mode       Mode         `json:"mode"`
	StartedAt  time.Time    `json:"started_at"`
	FinishedAt time.Time    `json:"finished_at"`

	PaymentsExamined int                  `json:"payments_examined"`
	AllocatedCount   int                  `json:"allocated_count"`
	UnallocatedCount int                  `json:"unallocated_count"`
	Unallocated      []UnallocatedPayment `json:"unallocated"`
	Candidates       []CandidateMatch     `json:"candidates,omitempty"`

	Allocations        []ledger.Allocation `json:"allocations,omitempty"`
	AllocationsCreated int                 `json:"allocations_created"`
	InvoicesUpdated    int                 `json:"invoices_updated"`

	Skipped []Skip      `json:"skipped,omitempty"`
	Errors  []ItemError `json:"errors,omitempty"`
	Fatal   bool        `json:"fatal,omitempty"`
}

type UnallocatedPayment struct {
	PaymentID   uuid.UUID       `json:"payment_id"`
	CustomerID  uuid.UUID       `json:"customer_id"`
	PaymentDate time.Time       `json:"payment_date"`
	Reference   string          `json:"reference,omitempty"`
	Amount      decimal.Decimal `json:"amount"`
	Remaining   decimal.Decimal `json:"remaining"`
	Candidates  int             `json:"candidates"`
}

// CandidateMatch is the report view of a matching.Candidate.
type CandidateMatch struct {
	PaymentID        uuid.UUID           `json:"payment_id"`
	InvoiceID        uuid.UUID           `json:"invoice_id"`
	CustomerID       uuid.UUID           `json:"customer_id"`
	InvoiceNumber    string              `json:"invoice_number,omitempty"`
	PaymentReference string              `json:"payment_reference,omitempty"`
	PaymentRemaining decimal.Decimal     `json:"payment_remaining"`
	InvoiceBalance   decimal.Decimal     `json:"invoice_balance"`
	InvoiceTotal     decimal.Decimal     `json:"invoice_total"`
	Confidence       matching.Confidence `json:"confidence"`
	Reason           string              `json:"reason"`
}

func (c CandidateMatch) Match() matching.Match {
	return matching.Match{PaymentID: c.PaymentID, InvoiceID: c.InvoiceID}
}

// Skip is a policy rejection: the requested match no longer holds against
// the current ledger. It is not an error.
type Skip struct {
	Context string `json:"context"`
	Reason  string `json:"reason"`
}

type ItemError = balance.ItemError

func newReport(scope ledger.Scope, mode Mode, now time.Time) *Report {
	return &Report{
		Scope:       scope,
		Mode:        mode,
		StartedAt:   now,
		Unallocated: []UnallocatedPayment{},
	}
}

func candidateView(c matching.Candidate) CandidateMatch {
	return CandidateMatch{
		PaymentID:        c.Payment.ID,
		InvoiceID:        c.Invoice.ID,
		CustomerID:       c.Payment.CustomerID,
		InvoiceNumber:    c.Invoice.Number,
		PaymentReference: c.Payment.Reference,
		PaymentRemaining: c.Payment.Remaining(),
		InvoiceBalance:   c.Invoice.BalanceDue,
		InvoiceTotal:     c.Invoice.TotalAmount,
		Confidence:       c.Confidence,
		Reason:           c.Reason,
	}
}

// summarize fills the payment counters from the current view of payments.
func (r *Report) summarize(payments []*ledger.Payment, candidates map[uuid.UUID]int) {
	r.PaymentsExamined = len(payments)
	r.AllocatedCount = 0
	r.UnallocatedCount = 0
	r.Unallocated = []UnallocatedPayment{}

	for _, p := range payments {
		remaining := p.Remaining()
		if !remaining.IsPositive() {
			r.AllocatedCount++
			continue
		}

		r.UnallocatedCount++
		r.Unallocated = append(r.Unallocated, UnallocatedPayment{
			PaymentID:   p.ID,
			CustomerID:  p.CustomerID,
			PaymentDate: p.PaymentDate,
			Reference:   p.Reference,
			Amount:      p.Amount,
			Remaining:   remaining,
			Candidates:  candidates[p.ID],
		})
	}
}

func (r *Report) skip(context, reason string) {
	r.Skipped = append(r.Skipped, Skip{Context: context, Reason: reason})
}

func (r *Report) fail(context string, err error) {
	r.Errors = append(r.Errors, ItemError{Context: context, Message: err.Error()})
}

// HasErrors reports whether any item failed.
func (r *Report) HasErrors() bool {
	return r.Fatal || len(r.Errors) > 0
}
