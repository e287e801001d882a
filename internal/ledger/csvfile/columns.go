package csvfile

import (
	"strings"
)

// column is a logical field with the header spellings accepted for it.
type column struct {
	Name     string
	Aliases  []string
	Required bool
}

// layout describes one export file. Headers are matched case-insensitively
// against each column's aliases, so English and Portuguese exports both load.
type layout struct {
	File    string
	Columns []column
}

var paymentsLayout = layout{
	File: "payments",
	Columns: []column{
		{Name: "id", Aliases: []string{"id", "payment_id", "pagamento"}, Required: true},
		{Name: "customer_id", Aliases: []string{"customer_id", "customer", "cliente"}, Required: true},
		{Name: "amount", Aliases: []string{"amount", "montante", "valor"}, Required: true},
		{Name: "payment_date", Aliases: []string{"payment_date", "date", "data", "data pagamento"}, Required: true},
		{Name: "reference", Aliases: []string{"reference", "ref", "referência", "descrição"}},
	},
}

var invoicesLayout = layout{
	File: "invoices",
	Columns: []column{
		{Name: "id", Aliases: []string{"id", "invoice_id", "fatura"}, Required: true},
		{Name: "customer_id", Aliases: []string{"customer_id", "customer", "cliente"}, Required: true},
		{Name: "number", Aliases: []string{"number", "invoice_number", "número", "numero"}},
		{Name: "invoice_date", Aliases: []string{"invoice_date", "date", "data", "data emissão"}, Required: true},
		{Name: "due_date", Aliases: []string{"due_date", "vencimento", "data vencimento"}},
		{Name: "total_amount", Aliases: []string{"total_amount", "total", "valor total"}, Required: true},
		{Name: "paid_amount", Aliases: []string{"paid_amount", "paid", "valor pago"}},
		{Name: "balance_due", Aliases: []string{"balance_due", "balance", "saldo", "valor em dívida"}},
		{Name: "status", Aliases: []string{"status", "estado"}},
	},
}

var allocationsLayout = layout{
	File: "allocations",
	Columns: []column{
		{Name: "id", Aliases: []string{"id", "allocation_id"}},
		{Name: "payment_id", Aliases: []string{"payment_id", "pagamento"}, Required: true},
		{Name: "invoice_id", Aliases: []string{"invoice_id", "fatura"}, Required: true},
		{Name: "amount", Aliases: []string{"amount", "amount_allocated", "montante", "valor"}, Required: true},
		{Name: "created_at", Aliases: []string{"created_at", "data"}},
	},
}

// colIndex maps logical column names to their index in a row.
type colIndex map[string]int

// match resolves the header row against the layout. It returns the missing
// required columns when the header does not fit.
func (l layout) match(header []string) (colIndex, []string) {
	positions := make(map[string]int, len(header))

	for i, cell := range header {
		name := strings.ToLower(strings.TrimSpace(cell))
		if name == "" {
			continue
		}

		if _, dup := positions[name]; !dup {
			positions[name] = i
		}
	}

	cols := make(colIndex, len(l.Columns))

	var missing []string

	for _, c := range l.Columns {
		idx, ok := lookup(positions, c.Aliases)
		if ok {
			cols[c.Name] = idx
			continue
		}

		if c.Required {
			missing = append(missing, c.Name)
		}
	}

	return cols, missing
}

func lookup(positions map[string]int, aliases []string) (int, bool) {
	for _, a := range aliases {
		if idx, ok := positions[a]; ok {
			return idx, true
		}
	}

	return 0, false
}

// value returns the trimmed cell for a logical column, or "" when the column
// is absent or the row is short.
func (c colIndex) value(row []string, name string) string {
	idx, ok := c[name]
	if !ok || idx >= len(row) {
		return ""
	}

	return strings.TrimSpace(row[idx])
}
