// Package csvfile loads a ledger snapshot exported as CSV files into an
// in-memory ledger, so advisory runs can happen without database access.
package csvfile

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	enc "github.com/MrJamesThe3rd/tally/internal/encoding"
	"github.com/MrJamesThe3rd/tally/internal/ledger"
	"github.com/MrJamesThe3rd/tally/internal/ledger/memory"
)

var ErrMissingColumns = errors.New("csv: missing required columns")

// Source holds the three exports. Allocations may be nil.
type Source struct {
	Payments    io.Reader
	Invoices    io.Reader
	Allocations io.Reader
}

// Snapshot is a parsed export set, ready to seed a memory.Store.
type Snapshot struct {
	Payments    []ledger.Payment
	Invoices    []ledger.Invoice
	Allocations []ledger.Allocation
	Charsets    map[string]enc.Charset
}

// Store returns a memory ledger seeded with the snapshot.
func (s *Snapshot) Store() *memory.Store {
	store := memory.New()

	for _, p := range s.Payments {
		store.AddPayment(p)
	}

	for _, inv := range s.Invoices {
		store.AddInvoice(inv)
	}

	for _, a := range s.Allocations {
		store.AddAllocation(a)
	}

	return store
}

// Load parses every file of src and stamps all records with companyID.
func Load(companyID uuid.UUID, src Source) (*Snapshot, error) {
	snap := &Snapshot{Charsets: make(map[string]enc.Charset)}

	rows, cols, err := readFile(src.Payments, paymentsLayout, snap)
	if err != nil {
		return nil, err
	}

	if snap.Payments, err = parsePayments(companyID, rows, cols); err != nil {
		return nil, err
	}

	rows, cols, err = readFile(src.Invoices, invoicesLayout, snap)
	if err != nil {
		return nil, err
	}

	if snap.Invoices, err = parseInvoices(companyID, rows, cols); err != nil {
		return nil, err
	}

	if src.Allocations == nil {
		return snap, nil
	}

	rows, cols, err = readFile(src.Allocations, allocationsLayout, snap)
	if err != nil {
		return nil, err
	}

	if snap.Allocations, err = parseAllocations(rows, cols); err != nil {
		return nil, err
	}

	return snap, nil
}

// LoadFiles opens the exports by path. An empty allocationsPath means the
// snapshot has no allocations yet.
func LoadFiles(companyID uuid.UUID, paymentsPath, invoicesPath, allocationsPath string) (*Snapshot, error) {
	var closers []io.Closer
	defer func() {
		for _, c := range closers {
			c.Close()
		}
	}()

	open := func(path string) (io.Reader, error) {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("open %s: %w", path, err)
		}

		closers = append(closers, f)

		return f, nil
	}

	var src Source

	var err error

	if src.Payments, err = open(paymentsPath); err != nil {
		return nil, err
	}

	if src.Invoices, err = open(invoicesPath); err != nil {
		return nil, err
	}

	if allocationsPath != "" {
		if src.Allocations, err = open(allocationsPath); err != nil {
			return nil, err
		}
	}

	return Load(companyID, src)
}

// readFile decodes r, sniffs the delimiter, finds the header and returns the
// data rows that follow it.
func readFile(r io.Reader, l layout, snap *Snapshot) ([][]string, colIndex, error) {
	if r == nil {
		return nil, nil, fmt.Errorf("%s: no input", l.File)
	}

	utf8r, charset, err := enc.NewUTF8Reader(r)
	if err != nil {
		return nil, nil, fmt.Errorf("%s: detect encoding: %w", l.File, err)
	}

	snap.Charsets[l.File] = charset

	br := bufio.NewReader(utf8r)

	first, err := br.Peek(1024)
	if err != nil && err != io.EOF && err != bufio.ErrBufferFull {
		return nil, nil, fmt.Errorf("%s: peek: %w", l.File, err)
	}

	reader := csv.NewReader(br)
	reader.Comma = sniffDelimiter(first)
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	rows, err := reader.ReadAll()
	if err != nil {
		return nil, nil, fmt.Errorf("%s: read csv: %w", l.File, err)
	}

	if len(rows) == 0 {
		return nil, nil, fmt.Errorf("%s: %w: empty file", l.File, ErrMissingColumns)
	}

	cols, missing := l.match(rows[0])
	if len(missing) > 0 {
		return nil, nil, fmt.Errorf("%s: %w: %s", l.File, ErrMissingColumns, strings.Join(missing, ", "))
	}

	return rows[1:], cols, nil
}

// sniffDelimiter picks ';' or ',' by counting them on the header line.
func sniffDelimiter(head []byte) rune {
	line, _, _ := bytes.Cut(head, []byte("\n"))
	if bytes.Count(line, []byte(";")) > bytes.Count(line, []byte(",")) {
		return ';'
	}

	if bytes.Count(line, []byte("\t")) > bytes.Count(line, []byte(",")) {
		return '\t'
	}

	return ','
}

func blank(row []string) bool {
	for _, cell := range row {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}

	return true
}

func parsePayments(companyID uuid.UUID, rows [][]string, cols colIndex) ([]ledger.Payment, error) {
	var payments []ledger.Payment

	for i, row := range rows {
		if blank(row) {
			continue
		}

		rowNum := i + 2 // 1-based, after the header

		id, err := uuid.Parse(cols.value(row, "id"))
		if err != nil {
			return nil, fmt.Errorf("payments row %d: invalid id: %w", rowNum, err)
		}

		customerID, err := uuid.Parse(cols.value(row, "customer_id"))
		if err != nil {
			return nil, fmt.Errorf("payments row %d: invalid customer_id: %w", rowNum, err)
		}

		amount, err := parseAmount(cols.value(row, "amount"))
		if err != nil {
			return nil, fmt.Errorf("payments row %d: %w", rowNum, err)
		}

		if !amount.IsPositive() {
			return nil, fmt.Errorf("payments row %d: amount must be positive", rowNum)
		}

		date, err := parseDate(cols.value(row, "payment_date"))
		if err != nil {
			return nil, fmt.Errorf("payments row %d: %w", rowNum, err)
		}

		payments = append(payments, ledger.Payment{
			ID:          id,
			CompanyID:   companyID,
			CustomerID:  customerID,
			Amount:      amount,
			PaymentDate: date,
			Reference:   cols.value(row, "reference"),
		})
	}

	return payments, nil
}

func parseInvoices(companyID uuid.UUID, rows [][]string, cols colIndex) ([]ledger.Invoice, error) {
	var invoices []ledger.Invoice

	for i, row := range rows {
		if blank(row) {
			continue
		}

		rowNum := i + 2

		inv, err := parseInvoice(companyID, row, cols)
		if err != nil {
			return nil, fmt.Errorf("invoices row %d: %w", rowNum, err)
		}

		invoices = append(invoices, inv)
	}

	return invoices, nil
}

// parseInvoice fills absent derived fields as an untouched invoice: nothing
// paid, the whole total due and status draft.
func parseInvoice(companyID uuid.UUID, row []string, cols colIndex) (ledger.Invoice, error) {
	id, err := uuid.Parse(cols.value(row, "id"))
	if err != nil {
		return ledger.Invoice{}, fmt.Errorf("invalid id: %w", err)
	}

	customerID, err := uuid.Parse(cols.value(row, "customer_id"))
	if err != nil {
		return ledger.Invoice{}, fmt.Errorf("invalid customer_id: %w", err)
	}

	invoiceDate, err := parseDate(cols.value(row, "invoice_date"))
	if err != nil {
		return ledger.Invoice{}, err
	}

	dueDate := invoiceDate
	if s := cols.value(row, "due_date"); s != "" {
		if dueDate, err = parseDate(s); err != nil {
			return ledger.Invoice{}, err
		}
	}

	total, err := parseAmount(cols.value(row, "total_amount"))
	if err != nil {
		return ledger.Invoice{}, err
	}

	if total.IsNegative() {
		return ledger.Invoice{}, fmt.Errorf("total_amount must not be negative")
	}

	paid, err := optionalAmount(cols.value(row, "paid_amount"), decimal.Zero)
	if err != nil {
		return ledger.Invoice{}, err
	}

	balance, err := optionalAmount(cols.value(row, "balance_due"), total.Sub(paid))
	if err != nil {
		return ledger.Invoice{}, err
	}

	status := ledger.StatusDraft
	if s := strings.ToLower(cols.value(row, "status")); s != "" {
		status = ledger.Status(s)
		if !status.Valid() {
			return ledger.Invoice{}, fmt.Errorf("unknown status %q", s)
		}
	}

	return ledger.Invoice{
		ID:          id,
		CompanyID:   companyID,
		CustomerID:  customerID,
		Number:      cols.value(row, "number"),
		InvoiceDate: invoiceDate,
		DueDate:     dueDate,
		TotalAmount: total,
		PaidAmount:  paid,
		BalanceDue:  balance,
		Status:      status,
	}, nil
}

func optionalAmount(s string, fallback decimal.Decimal) (decimal.Decimal, error) {
	if s == "" {
		return fallback, nil
	}

	return parseAmount(s)
}

func parseAllocations(rows [][]string, cols colIndex) ([]ledger.Allocation, error) {
	var allocs []ledger.Allocation

	for i, row := range rows {
		if blank(row) {
			continue
		}

		rowNum := i + 2

		var a ledger.Allocation

		var err error

		if s := cols.value(row, "id"); s != "" {
			if a.ID, err = uuid.Parse(s); err != nil {
				return nil, fmt.Errorf("allocations row %d: invalid id: %w", rowNum, err)
			}
		}

		if a.PaymentID, err = uuid.Parse(cols.value(row, "payment_id")); err != nil {
			return nil, fmt.Errorf("allocations row %d: invalid payment_id: %w", rowNum, err)
		}

		if a.InvoiceID, err = uuid.Parse(cols.value(row, "invoice_id")); err != nil {
			return nil, fmt.Errorf("allocations row %d: invalid invoice_id: %w", rowNum, err)
		}

		if a.Amount, err = parseAmount(cols.value(row, "amount")); err != nil {
			return nil, fmt.Errorf("allocations row %d: %w", rowNum, err)
		}

		if !a.Amount.IsPositive() {
			return nil, fmt.Errorf("allocations row %d: amount must be positive", rowNum)
		}

		if s := cols.value(row, "created_at"); s != "" {
			if a.CreatedAt, err = parseDate(s); err != nil {
				return nil, fmt.Errorf("allocations row %d: %w", rowNum, err)
			}
		}

		allocs = append(allocs, a)
	}

	return allocs, nil
}
