// Command reconcile-csv runs the reconciler over exported CSV files without a
// database. Applied matches only change the in-memory snapshot.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"

	"github.com/MrJamesThe3rd/tally/internal/config"
	"github.com/MrJamesThe3rd/tally/internal/ledger"
	"github.com/MrJamesThe3rd/tally/internal/ledger/csvfile"
	"github.com/MrJamesThe3rd/tally/internal/matching"
	"github.com/MrJamesThe3rd/tally/internal/reconcile"
)

type options struct {
	payments    string
	invoices    string
	allocations string
	company     uuid.UUID
	customer    *uuid.UUID
	applyHigh   bool
	lookback    int
	epsilon     decimal.Decimal
}

type output struct {
	Charsets map[string]string `json:"charsets"`
	Advisory *reconcile.Report `json:"advisory"`
	Apply    *reconcile.Report `json:"apply,omitempty"`
}

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	opts, err := parseFlags(os.Args[1:], cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := run(ctx, opts, os.Stdout); err != nil {
		slog.Error("reconciliation failed", "error", err)
		os.Exit(1)
	}
}

func parseFlags(args []string, cfg *config.Config) (options, error) {
	fs := flag.NewFlagSet("reconcile-csv", flag.ContinueOnError)

	var (
		opts     options
		company  string
		customer string
		epsilon  string
	)

	fs.StringVar(&opts.payments, "payments", "", "payments CSV export (required)")
	fs.StringVar(&opts.invoices, "invoices", "", "invoices CSV export (required)")
	fs.StringVar(&opts.allocations, "allocations", "", "existing allocations CSV export")
	fs.StringVar(&company, "company", "", "company id stamped on every record (required)")
	fs.StringVar(&customer, "customer", "", "restrict the run to one customer id")
	fs.BoolVar(&opts.applyHigh, "apply-high", false, "apply unambiguous high-confidence candidates to the snapshot")
	fs.IntVar(&opts.lookback, "lookback", cfg.Reconcile.LookbackMonths, "months an invoice stays eligible")
	fs.StringVar(&epsilon, "epsilon", cfg.Reconcile.Epsilon.String(), "amount equality tolerance")

	if err := fs.Parse(args); err != nil {
		return options{}, err
	}

	if opts.payments == "" || opts.invoices == "" || company == "" {
		return options{}, errors.New("-payments, -invoices and -company are required")
	}

	var err error

	if opts.company, err = uuid.Parse(company); err != nil {
		return options{}, fmt.Errorf("invalid -company: %w", err)
	}

	if customer != "" {
		id, err := uuid.Parse(customer)
		if err != nil {
			return options{}, fmt.Errorf("invalid -customer: %w", err)
		}

		opts.customer = &id
	}

	if opts.epsilon, err = decimal.NewFromString(epsilon); err != nil {
		return options{}, fmt.Errorf("invalid -epsilon: %w", err)
	}

	return opts, nil
}

func run(ctx context.Context, opts options, w io.Writer) error {
	snap, err := csvfile.LoadFiles(opts.company, opts.payments, opts.invoices, opts.allocations)
	if err != nil {
		return fmt.Errorf("load snapshot: %w", err)
	}

	store := snap.Store()
	matcher := matching.NewMatcher(matching.WithLookback(opts.lookback), matching.WithEpsilon(opts.epsilon))
	reconciler := reconcile.NewReconciler(store, store, store, matcher)
	scope := ledger.Scope{CompanyID: opts.company, CustomerID: opts.customer}

	out := output{Charsets: make(map[string]string, len(snap.Charsets))}
	for file, charset := range snap.Charsets {
		out.Charsets[file] = string(charset)
	}

	if out.Advisory, err = reconciler.Run(ctx, scope); err != nil {
		return err
	}

	if opts.applyHigh {
		if out.Apply, err = reconciler.ApplyMatches(ctx, scope, unambiguousHigh(out.Advisory.Candidates), false); err != nil {
			return err
		}
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")

	return enc.Encode(out)
}

// unambiguousHigh selects high candidates whose payment has no other high
// candidate. Ties are left to an operator.
func unambiguousHigh(candidates []reconcile.CandidateMatch) []matching.Match {
	highs := make(map[uuid.UUID]int)

	for _, c := range candidates {
		if c.Confidence == matching.ConfidenceHigh {
			highs[c.PaymentID]++
		}
	}

	var matches []matching.Match

	for _, c := range candidates {
		if c.Confidence == matching.ConfidenceHigh && highs[c.PaymentID] == 1 {
			matches = append(matches, c.Match())
		}
	}

	return matches
}
