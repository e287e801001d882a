package view

import (
	"context"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/MrJamesThe3rd/tally/internal/ledger"
	"github.com/MrJamesThe3rd/tally/internal/matching"
	"github.com/MrJamesThe3rd/tally/internal/reconcile"
)

// View is the interface that all TUI screens implement.
type View interface {
	tea.Model
	Title() string
	ShortHelp() string
}

// CommonModel is embedded by all views.
type CommonModel struct{}

type BackMsg struct{}

func Back() tea.Msg {
	return BackMsg{}
}

// Reconciler is what the screens need from the engine.
type Reconciler interface {
	Run(ctx context.Context, scope ledger.Scope) (*reconcile.Report, error)
	ApplyMatches(ctx context.Context, scope ledger.Scope, matches []matching.Match, recalcAll bool) (*reconcile.Report, error)
}

// Locker serializes writes per scope with other operators and the worker.
type Locker interface {
	WithLock(ctx context.Context, scope ledger.Scope, fn func(ctx context.Context) error) error
}

// apply runs fn under the scope lock.
func apply(locker Locker, scope ledger.Scope, fn func(ctx context.Context) (*reconcile.Report, error)) (*reconcile.Report, error) {
	ctx, cancel := DbCtx()
	defer cancel()

	var report *reconcile.Report

	err := locker.WithLock(ctx, scope, func(ctx context.Context) error {
		var err error
		report, err = fn(ctx)

		return err
	})

	return report, err
}
