package matching

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/MrJamesThe3rd/tally/internal/ledger"
)

const (
	DefaultLookbackMonths = 6

	ReasonBalanceMatch = "exact amount match with invoice balance"
	ReasonTotalMatch   = "exact amount match with invoice total"
	ReasonPartial      = "partial payment amount"
)

// DefaultEpsilon is the tolerance used for amount equality: one cent.
var DefaultEpsilon = decimal.New(1, -2)

// Match identifies a payment/invoice pair to allocate.
type Match struct {
	PaymentID uuid.UUID
	InvoiceID uuid.UUID
}

// Candidate is a proposed, not yet applied, allocation. It is never persisted.
type Candidate struct {
	Payment    ledger.Payment
	Invoice    ledger.Invoice
	Confidence Confidence
	Reason     string
}

func (c Candidate) Match() Match {
	return Match{PaymentID: c.Payment.ID, InvoiceID: c.Invoice.ID}
}

type Matcher struct {
	lookbackMonths int
	epsilon        decimal.Decimal
}

type Option func(*Matcher)

// WithLookback bounds how long after its invoice date an invoice stays eligible.
func WithLookback(months int) Option {
	return func(m *Matcher) {
		if months > 0 {
			m.lookbackMonths = months
		}
	}
}

// WithEpsilon sets the tolerance for amount equality.
func WithEpsilon(eps decimal.Decimal) Option {
	return func(m *Matcher) {
		if !eps.IsNegative() {
			m.epsilon = eps
		}
	}
}

func NewMatcher(opts ...Option) *Matcher {
	m := &Matcher{
		lookbackMonths: DefaultLookbackMonths,
		epsilon:        DefaultEpsilon,
	}
	for _, opt := range opts {
		opt(m)
	}

	return m
}

func (m *Matcher) Epsilon() decimal.Decimal {
	return m.epsilon
}

// FindCandidates scores every eligible invoice against the payment's remaining
// amount. invoices should already be limited to the payment's customer; any
// other customer's invoice is ignored. The result is unsorted.
func (m *Matcher) FindCandidates(payment ledger.Payment, invoices []ledger.Invoice) []Candidate {
	remaining := payment.Remaining()
	if !remaining.IsPositive() {
		return nil
	}

	var out []Candidate

	for _, inv := range invoices {
		if inv.CustomerID != payment.CustomerID {
			continue
		}

		if !m.eligible(payment, inv) {
			continue
		}

		confidence, reason, ok := m.score(remaining, inv)
		if !ok {
			continue
		}

		out = append(out, Candidate{
			Payment:    payment,
			Invoice:    inv,
			Confidence: confidence,
			Reason:     reason,
		})
	}

	return out
}

// eligible rejects invoices dated after the payment and invoices older than
// the lookback window.
func (m *Matcher) eligible(payment ledger.Payment, inv ledger.Invoice) bool {
	if inv.InvoiceDate.After(payment.PaymentDate) {
		return false
	}

	return !payment.PaymentDate.After(addMonths(inv.InvoiceDate, m.lookbackMonths))
}

// addMonths moves t by n calendar months, clamped to the last day of the
// target month: Aug 31 plus 6 months is the end of February, not Mar 3.
func addMonths(t time.Time, n int) time.Time {
	y, mo, d := t.Date()
	first := time.Date(y, mo+time.Month(n), 1, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
	last := first.AddDate(0, 1, -1).Day()

	return first.AddDate(0, 0, min(d, last)-1)
}

func (m *Matcher) score(remaining decimal.Decimal, inv ledger.Invoice) (Confidence, string, bool) {
	switch {
	case m.equal(remaining, inv.BalanceDue):
		return ConfidenceHigh, ReasonBalanceMatch, true
	case m.equal(remaining, inv.TotalAmount):
		return ConfidenceMedium, ReasonTotalMatch, true
	case remaining.IsPositive() && remaining.LessThanOrEqual(inv.BalanceDue):
		return ConfidenceLow, ReasonPartial, true
	}

	return 0, "", false
}

func (m *Matcher) equal(a, b decimal.Decimal) bool {
	return a.Sub(b).Abs().LessThanOrEqual(m.epsilon)
}
