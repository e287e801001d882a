package view

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/MrJamesThe3rd/tally/internal/reconcile"
)

// RenderReport formats a run report for the terminal. Skips and errors are
// listed apart from the counters.
func RenderReport(report *reconcile.Report, err error) string {
	var b strings.Builder

	if err != nil {
		b.WriteString(errorStyle(fmt.Sprintf("Error: %v", err)))
		b.WriteString("\n\n")
	}

	if report == nil {
		return strings.TrimRight(b.String(), "\n")
	}

	title := "Reconciliation Report"
	if report.Fatal {
		title += " (aborted before any write)"
	}

	b.WriteString(lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("46")).Render(title))
	b.WriteString("\n\n")

	fmt.Fprintf(&b, "Scope:               %s\n", report.Scope)
	fmt.Fprintf(&b, "Mode:                %s\n", report.Mode)
	fmt.Fprintf(&b, "Payments examined:   %d\n", report.PaymentsExamined)
	fmt.Fprintf(&b, "Fully allocated:     %d\n", report.AllocatedCount)
	fmt.Fprintf(&b, "Unallocated:         %d\n", report.UnallocatedCount)

	if report.Mode == reconcile.ModeApply {
		fmt.Fprintf(&b, "Allocations created: %d\n", report.AllocationsCreated)
		fmt.Fprintf(&b, "Invoices updated:    %d\n", report.InvoicesUpdated)
	}

	if len(report.Skipped) > 0 {
		b.WriteString("\nSkipped:\n")

		for _, s := range report.Skipped {
			fmt.Fprintf(&b, "  - %s: %s\n", s.Context, s.Reason)
		}
	}

	if len(report.Errors) > 0 {
		b.WriteString("\n" + errorStyle("Errors:") + "\n")

		for _, e := range report.Errors {
			fmt.Fprintf(&b, "  - %s: %s\n", e.Context, e.Message)
		}
	}

	return strings.TrimRight(b.String(), "\n")
}
