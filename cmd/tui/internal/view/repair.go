package view

import (
	"context"
	"fmt"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"

	"github.com/MrJamesThe3rd/tally/internal/ledger"
	"github.com/MrJamesThe3rd/tally/internal/reconcile"
)

type repairState int

const (
	repairStateScope repairState = iota
	repairStateConfirm
	repairStateRunning
	repairStateResult
)

// RepairModel recomputes the derived fields of every invoice in a scope.
type RepairModel struct {
	CommonModel
	reconciler Reconciler
	locker     Locker

	state     repairState
	picker    ScopePicker
	scope     ledger.Scope
	form      *huh.Form
	confirmed *bool
	spinner   spinner.Model

	report *reconcile.Report
	err    error
}

func NewRepairModel(reconciler Reconciler, locker Locker, defaultCompany string) RepairModel {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("205"))

	return RepairModel{
		reconciler: reconciler,
		locker:     locker,
		picker:     NewScopePicker(defaultCompany),
		spinner:    s,
	}
}

func (m RepairModel) Title() string { return "Repair Balances" }

func (m RepairModel) ShortHelp() string {
	if m.state == repairStateRunning {
		return "Repairing..."
	}

	return "Esc: back"
}

func (m RepairModel) Init() tea.Cmd {
	return m.picker.Init()
}

func (m RepairModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case ScopeSelectedMsg:
		m.scope = msg.Scope
		m.confirmed = new(bool)
		m.form = huh.NewForm(
			huh.NewGroup(
				huh.NewConfirm().
					Title(fmt.Sprintf("Recalculate every invoice in %s?", m.scope)).
					Description("Paid amount, balance and status are derived again from allocations.").
					Value(m.confirmed),
			),
		).WithWidth(60).WithShowHelp(false)
		m.state = repairStateConfirm

		return m, m.form.Init()

	case applyResultMsg:
		m.state = repairStateResult
		m.report = msg.report
		m.err = msg.err

		return m, nil

	case spinner.TickMsg:
		if m.state != repairStateRunning {
			return m, nil
		}

		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)

		return m, cmd
	}

	if keyMsg, ok := msg.(tea.KeyMsg); ok && keyMsg.Type == tea.KeyEsc && m.state != repairStateRunning {
		return m, Back
	}

	switch m.state {
	case repairStateScope:
		var cmd tea.Cmd
		m.picker, cmd = m.picker.Update(msg)

		return m, cmd

	case repairStateConfirm:
		form, cmd := m.form.Update(msg)
		if f, ok := form.(*huh.Form); ok {
			m.form = f
		}

		if m.form.State != huh.StateCompleted {
			return m, cmd
		}

		if !*m.confirmed {
			return m, Back
		}

		m.state = repairStateRunning

		return m, tea.Batch(m.spinner.Tick, m.repairCmd())
	}

	return m, nil
}

func (m RepairModel) View() string {
	switch m.state {
	case repairStateScope:
		return lipgloss.NewStyle().Padding(1).Render(m.picker.View())
	case repairStateConfirm:
		return lipgloss.NewStyle().Padding(1).Render(m.form.View())
	case repairStateRunning:
		return lipgloss.NewStyle().Padding(1).Render(fmt.Sprintf("%s Recalculating invoices in %s...", m.spinner.View(), m.scope))
	}

	return lipgloss.NewStyle().Padding(1).Render(RenderReport(m.report, m.err) + "\n\n(Esc to back)")
}

func (m RepairModel) repairCmd() tea.Cmd {
	scope := m.scope

	return func() tea.Msg {
		report, err := apply(m.locker, scope, func(ctx context.Context) (*reconcile.Report, error) {
			return m.reconciler.ApplyMatches(ctx, scope, nil, true)
		})

		return applyResultMsg{report: report, err: err}
	}
}
