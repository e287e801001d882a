package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/MrJamesThe3rd/tally/internal/ledger"
)

// Store reads and writes the reconciliation ledger in PostgreSQL. Every query
// is filtered by the caller's scope.
type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// scanner is satisfied by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

// scopeFilter returns the scope predicate for a table alias and its args,
// numbering placeholders from argIdx.
func scopeFilter(alias string, scope ledger.Scope, argIdx int) (string, []any) {
	clause := fmt.Sprintf(" AND %s.company_id = $%d", alias, argIdx)
	args := []any{scope.CompanyID}

	if scope.CustomerID != nil {
		clause += fmt.Sprintf(" AND %s.customer_id = $%d", alias, argIdx+1)

		args = append(args, *scope.CustomerID)
	}

	return clause, args
}

const selectAllocationColumns = `a.id, a.payment_id, a.invoice_id, a.amount, a.created_at`

func scanAllocation(s scanner) (ledger.Allocation, error) {
	var a ledger.Allocation

	err := s.Scan(&a.ID, &a.PaymentID, &a.InvoiceID, &a.Amount, &a.CreatedAt)

	return a, err
}

// Expected column order: id, company_id, customer_id, amount, payment_date, reference
func scanPayment(s scanner) (ledger.Payment, error) {
	var p ledger.Payment

	var reference sql.NullString

	if err := s.Scan(&p.ID, &p.CompanyID, &p.CustomerID, &p.Amount, &p.PaymentDate, &reference); err != nil {
		return p, err
	}

	p.Reference = reference.String

	return p, nil
}

// Expected column order: id, company_id, customer_id, number, invoice_date, due_date,
// total_amount, paid_amount, balance_due, status
func scanInvoice(s scanner) (ledger.Invoice, error) {
	var inv ledger.Invoice

	var number sql.NullString

	var status string

	if err := s.Scan(
		&inv.ID, &inv.CompanyID, &inv.CustomerID, &number, &inv.InvoiceDate, &inv.DueDate,
		&inv.TotalAmount, &inv.PaidAmount, &inv.BalanceDue, &status,
	); err != nil {
		return inv, err
	}

	inv.Number = number.String
	inv.Status = ledger.Status(status)

	return inv, nil
}

func (s *Store) LoadPayments(ctx context.Context, scope ledger.Scope) ([]ledger.Payment, error) {
	if err := scope.Validate(); err != nil {
		return nil, err
	}

	filter, args := scopeFilter("p", scope, 1)
	query := `
		SELECT p.id, p.company_id, p.customer_id, p.amount, p.payment_date, p.reference
		FROM payments p
		WHERE p.deleted_at IS NULL` + filter + `
		ORDER BY p.payment_date ASC, p.id ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing payments: %w", err)
	}
	defer rows.Close()

	var payments []ledger.Payment

	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning payment: %w", err)
		}

		payments = append(payments, p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating payment rows: %w", err)
	}

	allocs, err := s.scopeAllocations(ctx, "payments", scope)
	if err != nil {
		return nil, err
	}

	byPayment := groupAllocations(allocs, func(a ledger.Allocation) uuid.UUID { return a.PaymentID })
	for i := range payments {
		payments[i].Allocations = byPayment[payments[i].ID]
	}

	return payments, nil
}

func (s *Store) LoadInvoices(ctx context.Context, scope ledger.Scope) ([]ledger.Invoice, error) {
	if err := scope.Validate(); err != nil {
		return nil, err
	}

	filter, args := scopeFilter("i", scope, 1)
	query := `
		SELECT i.id, i.company_id, i.customer_id, i.number, i.invoice_date, i.due_date,
			i.total_amount, i.paid_amount, i.balance_due, i.status
		FROM invoices i
		WHERE i.deleted_at IS NULL` + filter + `
		ORDER BY i.invoice_date ASC, i.id ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing invoices: %w", err)
	}
	defer rows.Close()

	var invoices []ledger.Invoice

	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning invoice: %w", err)
		}

		invoices = append(invoices, inv)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating invoice rows: %w", err)
	}

	allocs, err := s.scopeAllocations(ctx, "invoices", scope)
	if err != nil {
		return nil, err
	}

	byInvoice := groupAllocations(allocs, func(a ledger.Allocation) uuid.UUID { return a.InvoiceID })
	for i := range invoices {
		invoices[i].Allocations = byInvoice[invoices[i].ID]
	}

	return invoices, nil
}

// groupAllocations indexes allocs by owner, keeping their load order.
func groupAllocations(allocs []ledger.Allocation, owner func(ledger.Allocation) uuid.UUID) map[uuid.UUID][]ledger.Allocation {
	grouped := make(map[uuid.UUID][]ledger.Allocation)
	for _, a := range allocs {
		grouped[owner(a)] = append(grouped[owner(a)], a)
	}

	return grouped
}

// scopeAllocations loads every allocation whose payment (or invoice) lies in scope.
func (s *Store) scopeAllocations(ctx context.Context, owner string, scope ledger.Scope) ([]ledger.Allocation, error) {
	join := `JOIN payments o ON o.id = a.payment_id`
	if owner == "invoices" {
		join = `JOIN invoices o ON o.id = a.invoice_id`
	}

	filter, args := scopeFilter("o", scope, 1)
	query := `SELECT ` + selectAllocationColumns + `
		FROM payment_allocations a
		` + join + `
		WHERE o.deleted_at IS NULL` + filter + `
		ORDER BY a.created_at ASC, a.id ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing allocations: %w", err)
	}
	defer rows.Close()

	var allocs []ledger.Allocation

	for rows.Next() {
		a, err := scanAllocation(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning allocation: %w", err)
		}

		allocs = append(allocs, a)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating allocation rows: %w", err)
	}

	return allocs, nil
}

// LoadAllocations returns ledger.ErrNotFound when the invoice is not in scope,
// and an empty slice when it exists without allocations.
func (s *Store) LoadAllocations(ctx context.Context, scope ledger.Scope, invoiceID uuid.UUID) ([]ledger.Allocation, error) {
	filter, args := scopeFilter("i", scope, 2)
	query := `
		SELECT a.id, a.payment_id, a.invoice_id, a.amount, a.created_at
		FROM invoices i
		LEFT JOIN payment_allocations a ON a.invoice_id = i.id
		WHERE i.id = $1 AND i.deleted_at IS NULL` + filter + `
		ORDER BY a.created_at ASC, a.id ASC`

	rows, err := s.db.QueryContext(ctx, query, append([]any{invoiceID}, args...)...)
	if err != nil {
		return nil, fmt.Errorf("listing invoice allocations: %w", err)
	}
	defer rows.Close()

	found := false
	allocs := []ledger.Allocation{}

	for rows.Next() {
		found = true

		var (
			id, paymentID, allocInvoiceID uuid.NullUUID
			amount                        decimal.NullDecimal
			createdAt                     sql.NullTime
		)

		if err := rows.Scan(&id, &paymentID, &allocInvoiceID, &amount, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning allocation: %w", err)
		}

		if !id.Valid {
			continue
		}

		allocs = append(allocs, ledger.Allocation{
			ID:        id.UUID,
			PaymentID: paymentID.UUID,
			InvoiceID: allocInvoiceID.UUID,
			Amount:    amount.Decimal,
			CreatedAt: createdAt.Time,
		})
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating allocation rows: %w", err)
	}

	if !found {
		return nil, fmt.Errorf("invoice %s: %w", invoiceID, ledger.ErrNotFound)
	}

	return allocs, nil
}

// Create inserts an allocation inside a transaction that locks the payment and
// the invoice rows, so concurrent writers cannot both pass the remaining
// amount checks.
func (s *Store) Create(ctx context.Context, scope ledger.Scope, paymentID, invoiceID uuid.UUID, amount decimal.Decimal) (*ledger.Allocation, error) {
	if !amount.IsPositive() {
		return nil, ledger.ErrInvalidAmount
	}

	dbTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer dbTx.Rollback()

	paymentFilter, paymentArgs := scopeFilter("p", scope, 2)

	var paymentAmount decimal.Decimal

	err = dbTx.QueryRowContext(ctx, `
		SELECT p.amount FROM payments p
		WHERE p.id = $1 AND p.deleted_at IS NULL`+paymentFilter+`
		FOR UPDATE`,
		append([]any{paymentID}, paymentArgs...)...,
	).Scan(&paymentAmount)
	if err != nil {
		return nil, notFound(fmt.Sprintf("payment %s", paymentID), err)
	}

	invoiceFilter, invoiceArgs := scopeFilter("i", scope, 2)

	var invoiceTotal decimal.Decimal

	err = dbTx.QueryRowContext(ctx, `
		SELECT i.total_amount FROM invoices i
		WHERE i.id = $1 AND i.deleted_at IS NULL`+invoiceFilter+`
		FOR UPDATE`,
		append([]any{invoiceID}, invoiceArgs...)...,
	).Scan(&invoiceTotal)
	if err != nil {
		return nil, notFound(fmt.Sprintf("invoice %s", invoiceID), err)
	}

	var paymentAllocated, invoiceAllocated decimal.Decimal

	err = dbTx.QueryRowContext(ctx, `
		SELECT
			COALESCE(SUM(amount) FILTER (WHERE payment_id = $1), 0),
			COALESCE(SUM(amount) FILTER (WHERE invoice_id = $2), 0)
		FROM payment_allocations
		WHERE payment_id = $1 OR invoice_id = $2`,
		paymentID, invoiceID,
	).Scan(&paymentAllocated, &invoiceAllocated)
	if err != nil {
		return nil, fmt.Errorf("summing allocations: %w", err)
	}

	if paymentAllocated.Add(amount).GreaterThan(paymentAmount) {
		return nil, fmt.Errorf("payment %s: %w", paymentID, ledger.ErrOverAllocated)
	}

	if invoiceAllocated.Add(amount).GreaterThan(invoiceTotal) {
		return nil, fmt.Errorf("invoice %s: %w", invoiceID, ledger.ErrOverAllocated)
	}

	alloc := ledger.Allocation{
		PaymentID: paymentID,
		InvoiceID: invoiceID,
		Amount:    amount,
	}

	err = dbTx.QueryRowContext(ctx, `
		INSERT INTO payment_allocations (payment_id, invoice_id, amount, created_at)
		VALUES ($1, $2, $3, NOW())
		RETURNING id, created_at`,
		paymentID, invoiceID, amount,
	).Scan(&alloc.ID, &alloc.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("creating allocation: %w", err)
	}

	if err := dbTx.Commit(); err != nil {
		return nil, fmt.Errorf("committing allocation: %w", err)
	}

	return &alloc, nil
}

func (s *Store) UpdateDerivedFields(ctx context.Context, scope ledger.Scope, invoiceID uuid.UUID, paidAmount, balanceDue decimal.Decimal, status ledger.Status) error {
	filter, args := scopeFilter("i", scope, 5)
	query := `
		UPDATE invoices i
		SET paid_amount = $1, balance_due = $2, status = $3, updated_at = NOW()
		WHERE i.id = $4 AND i.deleted_at IS NULL` + filter

	res, err := s.db.ExecContext(ctx, query, append([]any{paidAmount, balanceDue, string(status), invoiceID}, args...)...)
	if err != nil {
		return fmt.Errorf("updating invoice derived fields: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking updated invoice: %w", err)
	}

	if n == 0 {
		return fmt.Errorf("invoice %s: %w", invoiceID, ledger.ErrNotFound)
	}

	return nil
}

func notFound(what string, err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s: %w", what, ledger.ErrNotFound)
	}

	return fmt.Errorf("loading %s: %w", what, err)
}
