package ledger_test

import (
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/MrJamesThe3rd/tally/internal/ledger"
)

func TestScope(t *testing.T) {
	company := uuid.MustParse("11111111-1111-1111-1111-111111111111")
	customer := uuid.MustParse("22222222-2222-2222-2222-222222222222")

	assert.ErrorIs(t, ledger.Scope{}.Validate(), ledger.ErrInvalidScope)

	all := ledger.Scope{CompanyID: company}
	assert.NoError(t, all.Validate())
	assert.True(t, all.Includes(uuid.New()))
	assert.Equal(t, "company:11111111-1111-1111-1111-111111111111", all.String())

	one := ledger.Scope{CompanyID: company, CustomerID: &customer}
	assert.True(t, one.Includes(customer))
	assert.False(t, one.Includes(uuid.New()))
	assert.Equal(t, "company:11111111-1111-1111-1111-111111111111:customer:22222222-2222-2222-2222-222222222222", one.String())
}

func TestRemaining(t *testing.T) {
	allocs := []ledger.Allocation{
		{Amount: decimal.RequireFromString("100.10")},
		{Amount: decimal.RequireFromString("0.20")},
	}

	p := ledger.Payment{Amount: decimal.RequireFromString("150"), Allocations: allocs}
	assert.Equal(t, "100.3", p.Allocated().String())
	assert.Equal(t, "49.7", p.Remaining().String())

	inv := ledger.Invoice{TotalAmount: decimal.RequireFromString("100.30"), BalanceDue: decimal.RequireFromString("999"), Allocations: allocs}
	assert.True(t, inv.Remaining().IsZero(), "remaining ignores the stored balance")
}

func TestStatus_Valid(t *testing.T) {
	assert.True(t, ledger.StatusDraft.Valid())
	assert.True(t, ledger.StatusPartial.Valid())
	assert.True(t, ledger.StatusPaid.Valid())
	assert.False(t, ledger.Status("sent").Valid())
}
