package view

import (
	"context"
	"fmt"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"
	"github.com/google/uuid"

	"github.com/MrJamesThe3rd/tally/internal/ledger"
	"github.com/MrJamesThe3rd/tally/internal/matching"
	"github.com/MrJamesThe3rd/tally/internal/reconcile"
)

type reviewState int

const (
	reviewStateScope reviewState = iota
	reviewStateLoading
	reviewStateBrowse
	reviewStateConfirm
	reviewStateApplying
	reviewStateResult
)

// ReviewModel runs an advisory pass, lets the operator pick candidates and
// applies the selection.
type ReviewModel struct {
	CommonModel
	reconciler Reconciler
	locker     Locker

	state   reviewState
	picker  ScopePicker
	scope   ledger.Scope
	table   table.Model
	spinner spinner.Model
	form    *huh.Form

	advisory   *reconcile.Report
	selected   map[int]bool
	confirmed  *bool
	result     *reconcile.Report
	err        error
	status     string
	lastLoaded string
}

func NewReviewModel(reconciler Reconciler, locker Locker, defaultCompany string) ReviewModel {
	columns := []table.Column{
		{Title: "", Width: 3},
		{Title: "Confidence", Width: 10},
		{Title: "Payment", Width: 20},
		{Title: "Remaining", Width: 12},
		{Title: "Invoice", Width: 16},
		{Title: "Balance", Width: 12},
		{Title: "Reason", Width: 40},
	}

	t := table.New(
		table.WithColumns(columns),
		table.WithFocused(true),
		table.WithHeight(15),
	)

	s := table.DefaultStyles()
	s.Header = s.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(lipgloss.Color("240")).
		BorderBottom(true).
		Bold(false)
	s.Selected = s.Selected.
		Foreground(lipgloss.Color("229")).
		Background(lipgloss.Color("57")).
		Bold(false)
	t.SetStyles(s)

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("205"))

	return ReviewModel{
		reconciler: reconciler,
		locker:     locker,
		state:      reviewStateScope,
		picker:     NewScopePicker(defaultCompany),
		table:      t,
		spinner:    sp,
		selected:   make(map[int]bool),
	}
}

func (m ReviewModel) Title() string { return "Review Candidates" }

func (m ReviewModel) ShortHelp() string {
	switch m.state {
	case reviewStateBrowse:
		return "Space: toggle | h: select unambiguous high | c: clear | Enter: apply | r: reload | Esc: back"
	case reviewStateResult:
		return "Esc: back to menu"
	}

	return "Esc: back"
}

func (m ReviewModel) Init() tea.Cmd {
	return m.picker.Init()
}

func (m ReviewModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case ScopeSelectedMsg:
		m.scope = msg.Scope
		m.state = reviewStateLoading

		return m, tea.Batch(m.spinner.Tick, m.runCmd())

	case runResultMsg:
		m.state = reviewStateBrowse
		m.err = msg.err
		m.advisory = msg.report
		m.selected = make(map[int]bool)
		m.lastLoaded = m.scope.String()
		m.refreshTable()

		return m, nil

	case applyResultMsg:
		m.state = reviewStateResult
		m.err = msg.err
		m.result = msg.report

		return m, nil

	case spinner.TickMsg:
		if m.state != reviewStateLoading && m.state != reviewStateApplying {
			return m, nil
		}

		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)

		return m, cmd

	case tea.WindowSizeMsg:
		m.table.SetHeight(max(msg.Height-12, 5))
		return m, nil
	}

	switch m.state {
	case reviewStateScope:
		return m.updateScope(msg)
	case reviewStateBrowse:
		return m.updateBrowse(msg)
	case reviewStateConfirm:
		return m.updateConfirm(msg)
	case reviewStateResult:
		if keyMsg, ok := msg.(tea.KeyMsg); ok && keyMsg.Type == tea.KeyEsc {
			return m, Back
		}
	}

	return m, nil
}

func (m ReviewModel) updateScope(msg tea.Msg) (tea.Model, tea.Cmd) {
	if keyMsg, ok := msg.(tea.KeyMsg); ok && keyMsg.Type == tea.KeyEsc {
		return m, Back
	}

	var cmd tea.Cmd
	m.picker, cmd = m.picker.Update(msg)

	return m, cmd
}

func (m ReviewModel) updateBrowse(msg tea.Msg) (tea.Model, tea.Cmd) {
	if keyMsg, ok := msg.(tea.KeyMsg); ok {
		switch keyMsg.String() {
		case "esc":
			return m, Back
		case "r":
			m.state = reviewStateLoading
			return m, tea.Batch(m.spinner.Tick, m.runCmd())
		case " ":
			m.toggle(m.table.Cursor())
			return m, nil
		case "h":
			m.selected = selectUnambiguousHigh(m.candidates())
			m.refreshTable()

			return m, nil
		case "c":
			m.selected = make(map[int]bool)
			m.refreshTable()

			return m, nil
		case "enter":
			if len(m.selectedMatches()) == 0 {
				m.status = "Nothing selected"
				return m, nil
			}

			m.status = ""
			m.confirmed = new(bool)
			m.form = huh.NewForm(
				huh.NewGroup(
					huh.NewConfirm().
						Title(fmt.Sprintf("Allocate %d selected matches in %s?", len(m.selectedMatches()), m.scope)).
						Affirmative("Apply").
						Negative("Cancel").
						Value(m.confirmed),
				),
			).WithWidth(60).WithShowHelp(false)
			m.state = reviewStateConfirm
			m.table.Blur()

			return m, m.form.Init()
		}
	}

	var cmd tea.Cmd
	m.table, cmd = m.table.Update(msg)

	return m, cmd
}

func (m ReviewModel) updateConfirm(msg tea.Msg) (tea.Model, tea.Cmd) {
	if keyMsg, ok := msg.(tea.KeyMsg); ok && keyMsg.Type == tea.KeyEsc {
		m.state = reviewStateBrowse
		m.form = nil
		m.table.Focus()

		return m, nil
	}

	form, cmd := m.form.Update(msg)
	if f, ok := form.(*huh.Form); ok {
		m.form = f
	}

	if m.form.State != huh.StateCompleted {
		return m, cmd
	}

	m.form = nil
	m.table.Focus()

	if !*m.confirmed {
		m.state = reviewStateBrowse
		m.status = "Cancelled"

		return m, nil
	}

	m.state = reviewStateApplying

	return m, tea.Batch(m.spinner.Tick, m.applyCmd(m.selectedMatches()))
}

func (m ReviewModel) candidates() []reconcile.CandidateMatch {
	if m.advisory == nil {
		return nil
	}

	return m.advisory.Candidates
}

func (m *ReviewModel) toggle(idx int) {
	if idx < 0 || idx >= len(m.candidates()) {
		return
	}

	if m.selected[idx] {
		delete(m.selected, idx)
	} else {
		m.selected[idx] = true
	}

	m.refreshTable()
}

func (m ReviewModel) selectedMatches() []matching.Match {
	var matches []matching.Match

	for i, c := range m.candidates() {
		if m.selected[i] {
			matches = append(matches, c.Match())
		}
	}

	return matches
}

// selectUnambiguousHigh marks high candidates whose payment has exactly one
// high candidate. Low candidates are never selected automatically.
func selectUnambiguousHigh(candidates []reconcile.CandidateMatch) map[int]bool {
	highs := make(map[uuid.UUID]int)

	for _, c := range candidates {
		if c.Confidence == matching.ConfidenceHigh {
			highs[c.PaymentID]++
		}
	}

	selected := make(map[int]bool)

	for i, c := range candidates {
		if c.Confidence == matching.ConfidenceHigh && highs[c.PaymentID] == 1 {
			selected[i] = true
		}
	}

	return selected
}

func (m *ReviewModel) refreshTable() {
	candidates := m.candidates()
	rows := make([]table.Row, 0, len(candidates))

	for i, c := range candidates {
		mark := "[ ]"
		if m.selected[i] {
			mark = "[x]"
		}

		payment := c.PaymentReference
		if payment == "" {
			payment = c.PaymentID.String()[:8]
		}

		invoice := c.InvoiceNumber
		if invoice == "" {
			invoice = c.InvoiceID.String()[:8]
		}

		rows = append(rows, table.Row{
			mark,
			c.Confidence.String(),
			payment,
			FormatAmount(c.PaymentRemaining),
			invoice,
			FormatAmount(c.InvoiceBalance),
			c.Reason,
		})
	}

	m.table.SetRows(rows)
}

func (m ReviewModel) View() string {
	switch m.state {
	case reviewStateScope:
		return lipgloss.NewStyle().Padding(1).Render(m.picker.View())
	case reviewStateLoading:
		return lipgloss.NewStyle().Padding(1).Render(fmt.Sprintf("%s Finding candidates in %s...", m.spinner.View(), m.scope))
	case reviewStateApplying:
		return lipgloss.NewStyle().Padding(1).Render(fmt.Sprintf("%s Applying matches...", m.spinner.View()))
	case reviewStateResult:
		return lipgloss.NewStyle().Padding(1).Render(RenderReport(m.result, m.err) + "\n\n(Esc to back)")
	}

	if m.err != nil {
		return lipgloss.NewStyle().Padding(2).Render(errorStyle(fmt.Sprintf("Error: %v", m.err)) + "\n\n(Esc to back)")
	}

	header := fmt.Sprintf("Scope: %s | Unallocated: %d | Candidates: %d | Selected: %s",
		activeStyle(m.lastLoaded),
		m.advisory.UnallocatedCount,
		len(m.candidates()),
		activeStyle(fmt.Sprint(len(m.selected))),
	)

	tableView := lipgloss.NewStyle().
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(lipgloss.Color("240")).
		Render(m.table.View())

	content := lipgloss.JoinVertical(lipgloss.Left,
		lipgloss.NewStyle().PaddingBottom(1).Render(header),
		tableView,
	)

	if m.state == reviewStateConfirm && m.form != nil {
		panel := lipgloss.NewStyle().
			Padding(1, 2).
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("63")).
			Render(m.form.View())

		content = lipgloss.JoinVertical(lipgloss.Left, content, panel)
	}

	if m.status != "" {
		content = lipgloss.NewStyle().Faint(true).Render(m.status) + "\n" + content
	}

	return lipgloss.NewStyle().Padding(1).Render(content)
}

// Messages

type runResultMsg struct {
	report *reconcile.Report
	err    error
}

func (m ReviewModel) runCmd() tea.Cmd {
	scope := m.scope

	return func() tea.Msg {
		ctx, cancel := DbCtx()
		defer cancel()

		report, err := m.reconciler.Run(ctx, scope)

		return runResultMsg{report: report, err: err}
	}
}

type applyResultMsg struct {
	report *reconcile.Report
	err    error
}

func (m ReviewModel) applyCmd(matches []matching.Match) tea.Cmd {
	scope := m.scope

	return func() tea.Msg {
		report, err := apply(m.locker, scope, func(ctx context.Context) (*reconcile.Report, error) {
			return m.reconciler.ApplyMatches(ctx, scope, matches, false)
		})

		return applyResultMsg{report: report, err: err}
	}
}
