package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/joho/godotenv"

	"github.com/MrJamesThe3rd/tally/cmd/tui/internal/view"
	"github.com/MrJamesThe3rd/tally/internal/config"
	"github.com/MrJamesThe3rd/tally/internal/database"
	ledgerStore "github.com/MrJamesThe3rd/tally/internal/ledger/store"
	"github.com/MrJamesThe3rd/tally/internal/matching"
	"github.com/MrJamesThe3rd/tally/internal/reconcile"
	"github.com/MrJamesThe3rd/tally/internal/scopelock"
)

type model struct {
	reconciler     view.Reconciler
	locker         view.Locker
	defaultCompany string

	currentView View

	reviewView view.ReviewModel
	repairView view.RepairModel
}

type View int

const (
	ViewMenu   View = 0
	ViewReview View = 1
	ViewRepair View = 2
)

func initialModel() model {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	ctx := context.Background()

	db, err := database.New(ctx, cfg.ConnectionString())
	if err != nil {
		slog.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}

	rdb, err := database.NewRedis(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		slog.Error("failed to connect to redis", "error", err)
		os.Exit(1)
	}

	ledger := ledgerStore.New(db)
	matcher := matching.NewMatcher(
		matching.WithLookback(cfg.Reconcile.LookbackMonths),
		matching.WithEpsilon(cfg.Reconcile.Epsilon),
	)
	reconciler := reconcile.NewReconciler(ledger, ledger, ledger, matcher)
	locker := scopelock.New(rdb, cfg.Reconcile.LockTTL)
	defaultCompany := os.Getenv("TALLY_COMPANY_ID")

	// The TUI owns the terminal from here on; engine logs would corrupt it.
	slog.SetDefault(slog.New(slog.DiscardHandler))

	return model{
		reconciler:     reconciler,
		locker:         locker,
		defaultCompany: defaultCompany,
		currentView:    ViewMenu,
		reviewView:     view.NewReviewModel(reconciler, locker, defaultCompany),
		repairView:     view.NewRepairModel(reconciler, locker, defaultCompany),
	}
}

func (m model) Init() tea.Cmd {
	return nil
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		if m.currentView == ViewMenu {
			switch msg.String() {
			case "ctrl+c", "q":
				return m, tea.Quit
			case "1":
				m.currentView = ViewReview
				m.reviewView = view.NewReviewModel(m.reconciler, m.locker, m.defaultCompany)

				return m, m.reviewView.Init()
			case "2":
				m.currentView = ViewRepair
				m.repairView = view.NewRepairModel(m.reconciler, m.locker, m.defaultCompany)

				return m, m.repairView.Init()
			}
		}

		if msg.String() == "ctrl+c" {
			return m, tea.Quit
		}
	case view.BackMsg:
		m.currentView = ViewMenu
		return m, nil
	}

	switch m.currentView {
	case ViewReview:
		var newModel tea.Model
		newModel, cmd = m.reviewView.Update(msg)
		m.reviewView = newModel.(view.ReviewModel)
	case ViewRepair:
		var newModel tea.Model
		newModel, cmd = m.repairView.Update(msg)
		m.repairView = newModel.(view.RepairModel)
	}

	return m, cmd
}

func (m model) View() string {
	switch m.currentView {
	case ViewMenu:
		return lipgloss.NewStyle().Padding(2).Render(
			"Tally TUI\n\n" +
				"1. Review & Apply Candidates\n" +
				"2. Repair Invoice Balances\n\n" +
				"q. Quit",
		)
	case ViewReview:
		return m.reviewView.View() + "\n" + lipgloss.NewStyle().Faint(true).PaddingLeft(1).Render(m.reviewView.ShortHelp())
	case ViewRepair:
		return m.repairView.View()
	}

	return "Unknown View"
}

func main() {
	p := tea.NewProgram(initialModel())
	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "failed to run TUI: %v\n", err)
		os.Exit(1)
	}
}
