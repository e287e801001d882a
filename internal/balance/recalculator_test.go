package balance_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/MrJamesThe3rd/tally/internal/balance"
	"github.com/MrJamesThe3rd/tally/internal/ledger"
	"github.com/MrJamesThe3rd/tally/internal/ledger/memory"
)

var (
	companyID  = uuid.MustParse("0d9f2b9e-52a3-4f1e-8d8e-6a1f0e7c1001")
	customerID = uuid.MustParse("0d9f2b9e-52a3-4f1e-8d8e-6a1f0e7c2001")
	scope      = ledger.Scope{CompanyID: companyID}
	eps        = decimal.New(1, -2)
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

type decimalMatcher struct {
	want decimal.Decimal
}

func (m decimalMatcher) Matches(x any) bool {
	d, ok := x.(decimal.Decimal)

	return ok && d.Equal(m.want)
}

func (m decimalMatcher) String() string {
	return "is decimal " + m.want.String()
}

func decEq(s string) gomock.Matcher {
	return decimalMatcher{want: dec(s)}
}

func alloc(invoiceID uuid.UUID, amount string) ledger.Allocation {
	return ledger.Allocation{ID: uuid.New(), PaymentID: uuid.New(), InvoiceID: invoiceID, Amount: dec(amount)}
}

func TestDerive(t *testing.T) {
	id := uuid.New()

	tests := []struct {
		name        string
		total       string
		allocs      []ledger.Allocation
		wantPaid    string
		wantBalance string
		wantStatus  ledger.Status
	}{
		{name: "NoAllocations", total: "1000", wantPaid: "0", wantBalance: "1000", wantStatus: ledger.StatusDraft},
		{name: "Partial", total: "1000", allocs: []ledger.Allocation{alloc(id, "400")}, wantPaid: "400", wantBalance: "600", wantStatus: ledger.StatusPartial},
		{name: "Paid", total: "1000", allocs: []ledger.Allocation{alloc(id, "600"), alloc(id, "400")}, wantPaid: "1000", wantBalance: "0", wantStatus: ledger.StatusPaid},
		{name: "Overpaid", total: "1000", allocs: []ledger.Allocation{alloc(id, "1200")}, wantPaid: "1200", wantBalance: "-200", wantStatus: ledger.StatusPaid},
		{name: "ZeroTotalUnpaid", total: "0", wantPaid: "0", wantBalance: "0", wantStatus: ledger.StatusDraft},
		{name: "ExactCents", total: "0.30", allocs: []ledger.Allocation{alloc(id, "0.10"), alloc(id, "0.20")}, wantPaid: "0.30", wantBalance: "0", wantStatus: ledger.StatusPaid},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stored := ledger.Invoice{
				ID:          id,
				TotalAmount: dec(tt.total),
				PaidAmount:  dec("999"),
				BalanceDue:  dec("-1"),
				Status:      ledger.StatusPaid,
			}

			got := balance.Derive(stored, tt.allocs)

			assert.True(t, dec(tt.wantPaid).Equal(got.PaidAmount), "paid %s", got.PaidAmount)
			assert.True(t, dec(tt.wantBalance).Equal(got.BalanceDue), "balance %s", got.BalanceDue)
			assert.Equal(t, tt.wantStatus, got.Status)

			again := balance.Derive(got, tt.allocs)
			assert.Equal(t, got, again)
		})
	}
}

func TestRecalculator_Recalculate(t *testing.T) {
	inv := ledger.Invoice{
		ID:          uuid.New(),
		CompanyID:   companyID,
		CustomerID:  customerID,
		TotalAmount: dec("1000"),
		PaidAmount:  decimal.Zero,
		BalanceDue:  dec("1000"),
		Status:      ledger.StatusDraft,
	}

	type testCase struct {
		name         string
		setupReader  func(m *ledger.MockLedgerReader)
		setupInvoice func(m *ledger.MockInvoiceStore)
		wantWritten  bool
		wantStatus   ledger.Status
		wantErr      bool
	}

	tests := []testCase{
		{
			name: "WritesChangedFields",
			setupReader: func(m *ledger.MockLedgerReader) {
				m.EXPECT().
					LoadAllocations(gomock.Any(), scope, inv.ID).
					Return([]ledger.Allocation{alloc(inv.ID, "400")}, nil)
			},
			setupInvoice: func(m *ledger.MockInvoiceStore) {
				m.EXPECT().
					UpdateDerivedFields(gomock.Any(), scope, inv.ID, decEq("400"), decEq("600"), ledger.StatusPartial).
					Return(nil)
			},
			wantWritten: true,
			wantStatus:  ledger.StatusPartial,
		},
		{
			name: "NothingChanged",
			setupReader: func(m *ledger.MockLedgerReader) {
				m.EXPECT().
					LoadAllocations(gomock.Any(), scope, inv.ID).
					Return(nil, nil)
			},
			wantStatus: ledger.StatusDraft,
		},
		{
			name: "LoadError",
			setupReader: func(m *ledger.MockLedgerReader) {
				m.EXPECT().
					LoadAllocations(gomock.Any(), scope, inv.ID).
					Return(nil, errors.New("db error"))
			},
			wantErr: true,
		},
		{
			name: "WriteError",
			setupReader: func(m *ledger.MockLedgerReader) {
				m.EXPECT().
					LoadAllocations(gomock.Any(), scope, inv.ID).
					Return([]ledger.Allocation{alloc(inv.ID, "1000")}, nil)
			},
			setupInvoice: func(m *ledger.MockInvoiceStore) {
				m.EXPECT().
					UpdateDerivedFields(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
					Return(errors.New("db error"))
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctrl := gomock.NewController(t)
			defer ctrl.Finish()

			reader := ledger.NewMockLedgerReader(ctrl)
			invoices := ledger.NewMockInvoiceStore(ctrl)

			if tt.setupReader != nil {
				tt.setupReader(reader)
			}

			if tt.setupInvoice != nil {
				tt.setupInvoice(invoices)
			}

			r := balance.NewRecalculator(reader, invoices, eps)
			got, written, err := r.Recalculate(context.Background(), scope, inv)

			if tt.wantErr {
				assert.Error(t, err)
				assert.False(t, written)

				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.wantWritten, written)
			assert.Equal(t, tt.wantStatus, got.Status)
		})
	}
}

func TestRecalculator_RecalculateAll_RepairsDrift(t *testing.T) {
	store := memory.New()

	drifted := ledger.Invoice{
		ID:          uuid.New(),
		CompanyID:   companyID,
		CustomerID:  customerID,
		Number:      "INV-7",
		InvoiceDate: time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC),
		TotalAmount: dec("1000"),
		PaidAmount:  dec("300"),
		BalanceDue:  dec("700"),
		Status:      ledger.StatusPartial,
	}
	consistent := ledger.Invoice{
		ID:          uuid.New(),
		CompanyID:   companyID,
		CustomerID:  customerID,
		InvoiceDate: time.Date(2024, 1, 11, 0, 0, 0, 0, time.UTC),
		TotalAmount: dec("200"),
		PaidAmount:  dec("200"),
		BalanceDue:  decimal.Zero,
		Status:      ledger.StatusPaid,
	}

	store.AddInvoice(drifted)
	store.AddInvoice(consistent)
	store.AddAllocation(alloc(drifted.ID, "300"))
	store.AddAllocation(alloc(drifted.ID, "200"))
	store.AddAllocation(alloc(consistent.ID, "200"))

	r := balance.NewRecalculator(store, store, eps)

	res, err := r.RecalculateAll(context.Background(), scope)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Updated)
	assert.Equal(t, []uuid.UUID{drifted.ID}, res.Invoices)
	assert.Empty(t, res.Errors)

	got, ok := store.Invoice(drifted.ID)
	require.True(t, ok)
	assert.True(t, dec("500").Equal(got.PaidAmount))
	assert.True(t, dec("500").Equal(got.BalanceDue))
	assert.Equal(t, ledger.StatusPartial, got.Status)

	// Converged: a second pass writes nothing.
	res, err = r.RecalculateAll(context.Background(), scope)
	require.NoError(t, err)
	assert.Zero(t, res.Updated)
}

func TestRecalculator_RecalculateAll_Errors(t *testing.T) {
	first := ledger.Invoice{ID: uuid.New(), Number: "A", TotalAmount: dec("100"), Status: ledger.StatusPaid}
	second := ledger.Invoice{ID: uuid.New(), Number: "B", TotalAmount: dec("100"), Status: ledger.StatusPaid}

	t.Run("LoadFailure", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		reader := ledger.NewMockLedgerReader(ctrl)
		reader.EXPECT().LoadInvoices(gomock.Any(), scope).Return(nil, errors.New("connection refused"))

		_, err := balance.NewRecalculator(reader, ledger.NewMockInvoiceStore(ctrl), eps).RecalculateAll(context.Background(), scope)
		assert.Error(t, err)
	})

	t.Run("WriteFailureIsIsolated", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		reader := ledger.NewMockLedgerReader(ctrl)
		invoices := ledger.NewMockInvoiceStore(ctrl)

		reader.EXPECT().LoadInvoices(gomock.Any(), scope).Return([]ledger.Invoice{first, second}, nil)
		gomock.InOrder(
			invoices.EXPECT().
				UpdateDerivedFields(gomock.Any(), scope, first.ID, gomock.Any(), gomock.Any(), ledger.StatusDraft).
				Return(errors.New("deadlock")),
			invoices.EXPECT().
				UpdateDerivedFields(gomock.Any(), scope, second.ID, gomock.Any(), gomock.Any(), ledger.StatusDraft).
				Return(nil),
		)

		res, err := balance.NewRecalculator(reader, invoices, eps).RecalculateAll(context.Background(), scope)
		require.NoError(t, err)
		assert.Equal(t, 1, res.Updated)
		require.Len(t, res.Errors, 1)
		assert.Contains(t, res.Errors[0].Context, "invoice A")
		assert.Contains(t, res.Errors[0].Message, "deadlock")
	})

	t.Run("Cancelled", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		reader := ledger.NewMockLedgerReader(ctrl)
		reader.EXPECT().LoadInvoices(gomock.Any(), scope).Return([]ledger.Invoice{first, second}, nil)

		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		res, err := balance.NewRecalculator(reader, ledger.NewMockInvoiceStore(ctrl), eps).RecalculateAll(ctx, scope)
		require.ErrorIs(t, err, context.Canceled)
		assert.Zero(t, res.Updated)
	})
}

func TestRecalculator_RecalculateAll_WithinEpsilonNotWritten(t *testing.T) {
	ctrl := gomock.NewController(t)
	reader := ledger.NewMockLedgerReader(ctrl)
	invoices := ledger.NewMockInvoiceStore(ctrl)

	inv := ledger.Invoice{
		ID:          uuid.New(),
		TotalAmount: dec("100"),
		PaidAmount:  dec("99.995"),
		BalanceDue:  dec("0.005"),
		Status:      ledger.StatusPaid,
	}
	inv.Allocations = []ledger.Allocation{alloc(inv.ID, "100")}

	reader.EXPECT().LoadInvoices(gomock.Any(), scope).Return([]ledger.Invoice{inv}, nil)

	res, err := balance.NewRecalculator(reader, invoices, eps).RecalculateAll(context.Background(), scope)
	require.NoError(t, err)
	assert.Zero(t, res.Updated)
}
