package view

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/google/uuid"

	"github.com/MrJamesThe3rd/tally/internal/ledger"
)

// ScopeSelectedMsg is emitted once a valid scope has been entered.
type ScopeSelectedMsg struct {
	Scope ledger.Scope
}

// ScopePicker asks for a company id and an optional customer id.
type ScopePicker struct {
	companyInput  textinput.Model
	customerInput textinput.Model
	focusIndex    int // 0: company, 1: customer
	status        string
}

func NewScopePicker(defaultCompany string) ScopePicker {
	company := textinput.New()
	company.Placeholder = "company uuid"
	company.CharLimit = 36
	company.Width = 38
	company.Prompt = "Company:  "
	company.SetValue(defaultCompany)
	company.Focus()

	customer := textinput.New()
	customer.Placeholder = "optional customer uuid"
	customer.CharLimit = 36
	customer.Width = 38
	customer.Prompt = "Customer: "

	return ScopePicker{companyInput: company, customerInput: customer}
}

func (p ScopePicker) Init() tea.Cmd {
	return textinput.Blink
}

func (p ScopePicker) Update(msg tea.Msg) (ScopePicker, tea.Cmd) {
	if keyMsg, ok := msg.(tea.KeyMsg); ok {
		switch keyMsg.Type {
		case tea.KeyTab, tea.KeyShiftTab:
			p.toggleFocus()
			return p, textinput.Blink
		case tea.KeyEnter:
			if p.focusIndex == 0 {
				p.toggleFocus()
				return p, textinput.Blink
			}

			scope, err := parseScope(p.companyInput.Value(), p.customerInput.Value())
			if err != nil {
				p.status = err.Error()
				return p, nil
			}

			p.status = ""

			return p, func() tea.Msg { return ScopeSelectedMsg{Scope: scope} }
		}
	}

	var cmd tea.Cmd
	if p.focusIndex == 0 {
		p.companyInput, cmd = p.companyInput.Update(msg)
	} else {
		p.customerInput, cmd = p.customerInput.Update(msg)
	}

	return p, cmd
}

func (p *ScopePicker) toggleFocus() {
	p.focusIndex = (p.focusIndex + 1) % 2
	if p.focusIndex == 0 {
		p.companyInput.Focus()
		p.customerInput.Blur()
	} else {
		p.companyInput.Blur()
		p.customerInput.Focus()
	}
}

func (p ScopePicker) View() string {
	s := "Select scope\n\n" +
		p.companyInput.View() + "\n" +
		p.customerInput.View() + "\n\n" +
		lipgloss.NewStyle().Faint(true).Render("Tab: switch field | Enter: continue | Esc: back")

	if p.status != "" {
		s += "\n\n" + errorStyle(p.status)
	}

	return s
}

func parseScope(company, customer string) (ledger.Scope, error) {
	companyID, err := uuid.Parse(strings.TrimSpace(company))
	if err != nil {
		return ledger.Scope{}, fmt.Errorf("invalid company id")
	}

	scope := ledger.Scope{CompanyID: companyID}

	if s := strings.TrimSpace(customer); s != "" {
		customerID, err := uuid.Parse(s)
		if err != nil {
			return ledger.Scope{}, fmt.Errorf("invalid customer id")
		}

		scope.CustomerID = &customerID
	}

	return scope, scope.Validate()
}
