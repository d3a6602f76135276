package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"math/big"
	"os"
	"sort"

	"github.com/cloudx-io/crossbid/core"
	"github.com/cloudx-io/crossbid/currency"
	"github.com/cloudx-io/crossbid/storage"
	"github.com/cloudx-io/crossbid/validation"
)

// plainTextHandler is a simple slog handler that writes plain text to stdout
// without timestamps or log levels - appropriate for CLI output
type plainTextHandler struct{}

func (*plainTextHandler) Enabled(_ context.Context, _ slog.Level) bool {
	return true
}

func (*plainTextHandler) Handle(_ context.Context, r slog.Record) error {
	_, err := fmt.Fprintln(os.Stdout, r.Message)
	return err
}

func (h *plainTextHandler) WithAttrs(_ []slog.Attr) slog.Handler {
	return h
}

func (h *plainTextHandler) WithGroup(_ string) slog.Handler {
	return h
}

var logger = slog.New(&plainTextHandler{})

func main() {
	var (
		snapshotPath = flag.String("snapshot", "", "Path to engine snapshot file (required)")
		balancesPath = flag.String("balances", "", "Path to custody balances JSON (optional)")
		outputFormat = flag.String("format", "text", "Output format: text or json")
		help         = flag.Bool("help", false, "Show usage information")
	)

	flag.Parse()

	if *help || *snapshotPath == "" {
		showUsage()
		if *snapshotPath == "" && !*help {
			os.Exit(1)
		}
		os.Exit(0)
	}

	data, err := os.ReadFile(*snapshotPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error reading snapshot: %v\n", err)
		os.Exit(2)
	}
	layout, err := storage.Decode(data)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error decoding snapshot: %v\n", err)
		os.Exit(2)
	}

	report, err := inspect(layout, *balancesPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Validation error: %v\n", err)
		os.Exit(2)
	}

	if *outputFormat == "json" {
		if err := outputJSON(report); err != nil {
			fmt.Fprintf(os.Stderr, "Error marshaling JSON: %v\n", err)
			os.Exit(2)
		}
	} else {
		outputText(report)
	}

	if !report.valid() {
		os.Exit(1)
	}
	os.Exit(0)
}

type report struct {
	layout       *storage.Layout
	result       *validation.LayoutValidationResult
	conservation *validation.ConservationResult // nil without balances
	records      []recordDigest
	pendingHash  string
	pending      []storage.PendingEntry
	totals       map[string]*big.Int
}

type recordDigest struct {
	AuctionID uint64 `json:"auction_id"`
	Hash      string `json:"hash"`
}

type pendingView struct {
	Currency string `json:"currency"`
	Bidder   string `json:"bidder"`
	Amount   string `json:"amount"`
}

func (r *report) valid() bool {
	return r.result.IsValid() && (r.conservation == nil || r.conservation.IsValid())
}

func inspect(layout *storage.Layout, balancesPath string) (*report, error) {
	result, err := validation.ValidateLayout(layout)
	if err != nil {
		return nil, err
	}
	r := &report{layout: layout, result: result, pendingHash: core.ComputePendingHash(layout.Pending)}
	for id, rec := range layout.Auctions {
		r.records = append(r.records, recordDigest{AuctionID: id, Hash: core.ComputeRecordHash(rec)})
	}
	sort.Slice(r.records, func(i, j int) bool { return r.records[i].AuctionID < r.records[j].AuctionID })

	state := storage.NewState(layout, nil)
	if r.pending, err = state.PendingEntries(); err != nil {
		return nil, err
	}
	r.totals = make(map[string]*big.Int)
	for _, e := range r.pending {
		if _, ok := r.totals[e.Currency.ID()]; !ok {
			r.totals[e.Currency.ID()] = state.PendingTotal(e.Currency)
		}
	}

	if balancesPath == "" {
		return r, nil
	}
	balances, err := readBalances(balancesPath)
	if err != nil {
		return nil, err
	}
	if r.conservation, err = validation.CheckConservation(layout, balances); err != nil {
		return nil, err
	}
	return r, nil
}

// readBalances reads {"native": "61000000000000000", "token:usdt": "60000000"}.
func readBalances(path string) (map[string]*big.Int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	var raw map[string]string
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse JSON: %w", err)
	}
	out := make(map[string]*big.Int, len(raw))
	for id, s := range raw {
		if _, err := currency.Parse(id); err != nil {
			return nil, err
		}
		v, ok := new(big.Int).SetString(s, 10)
		if !ok || v.Sign() < 0 {
			return nil, fmt.Errorf("invalid balance %q for %s", s, id)
		}
		out[id] = v
	}
	return out, nil
}

func showUsage() {
	logger.Info("Auction Engine Snapshot Inspector")
	logger.Info("")
	logger.Info("Decodes a persisted engine snapshot and audits its consistency.")
	logger.Info("")
	logger.Info("Usage:")
	logger.Info("  snapshot-inspector --snapshot <path> [options]")
	logger.Info("")
	logger.Info("Required Flags:")
	logger.Info("  --snapshot <path>                 Snapshot file written by the engine")
	logger.Info("")
	logger.Info("Optional Flags:")
	logger.Info("  --balances <path>                 Engine custody balances JSON, checked against")
	logger.Info("                                    escrowed bids plus pending returns")
	logger.Info("  --format <text|json>              Output format (default: text)")
	logger.Info("  --help                            Show this help message")
	logger.Info("")
	logger.Info("Balances Format:")
	logger.Info(`  {"native": "61000000000000000", "token:usdt": "60000000"}`)
	logger.Info("")
	logger.Info("Exit Codes:")
	logger.Info("  0 - Validation passed")
	logger.Info("  1 - Validation failed")
	logger.Info("  2 - Invalid input or runtime error")
}

func outputText(r *report) {
	logger.Info("Auction Engine Snapshot Inspector")
	logger.Info("=================================")
	logger.Info("")
	logger.Info(fmt.Sprintf("Schema:          %s", r.layout.Schema))
	logger.Info(fmt.Sprintf("Owner:           %s", r.layout.Owner))
	logger.Info(fmt.Sprintf("Auctions:        %d (next id %d)", len(r.layout.Auctions), r.layout.NextAuctionID))
	logger.Info(fmt.Sprintf("Active listings: %d", len(r.layout.ActiveAssets)))
	logger.Info(fmt.Sprintf("Feeds:           %d", len(r.layout.Feeds)))

	logger.Info("")
	logger.Info("Summary:")
	logger.Info(fmt.Sprintf("  Schema Valid:       %v", r.result.SchemaValid))
	logger.Info(fmt.Sprintf("  Auctions Valid:     %v", r.result.AuctionsValid))
	logger.Info(fmt.Sprintf("  Active Index Valid: %v", r.result.ActiveIndexValid))
	logger.Info(fmt.Sprintf("  Pending Valid:      %v", r.result.PendingValid))
	for _, d := range r.result.ValidationDetails {
		logger.Info("    - " + d)
	}

	logger.Info("")
	logger.Info("Digests:")
	for _, d := range r.records {
		logger.Info(fmt.Sprintf("  Auction %-6d %s", d.AuctionID, d.Hash))
	}
	logger.Info(fmt.Sprintf("  Pending ledger %s", r.pendingHash))

	logger.Info("")
	logger.Info(fmt.Sprintf("Pending Returns: %d", len(r.pending)))
	for _, e := range r.pending {
		logger.Info(fmt.Sprintf("  %-12s %-20s %s", e.Currency, e.Bidder, e.Amount))
	}
	for _, id := range sortedKeys(r.totals) {
		logger.Info(fmt.Sprintf("  total %-12s %s", id, r.totals[id]))
	}

	if r.conservation != nil {
		logger.Info("")
		logger.Info("Conservation:")
		for _, c := range r.conservation.Currencies {
			logger.Info(fmt.Sprintf("  %-12s custodied %s, escrowed %s, pending %s, balanced %v",
				c.Currency, c.Custodied, c.Escrowed, c.Pending, c.Balanced))
		}
		for _, d := range r.conservation.ValidationDetails {
			logger.Info("    - " + d)
		}
	}

	logger.Info("")
	logger.Info("=================================")
	if r.valid() {
		logger.Info("VALIDATION: ✓ PASSED")
		logger.Info("Exit Code: 0")
	} else {
		logger.Info("VALIDATION: ✗ FAILED")
		logger.Info("Exit Code: 1")
	}
}

func outputJSON(r *report) error {
	output := map[string]any{
		"valid":              r.valid(),
		"schema":             r.layout.Schema.String(),
		"auctions":           len(r.layout.Auctions),
		"schema_valid":       r.result.SchemaValid,
		"auctions_valid":     r.result.AuctionsValid,
		"active_index_valid": r.result.ActiveIndexValid,
		"pending_valid":      r.result.PendingValid,
		"details":            r.result.ValidationDetails,
		"record_hashes":      r.records,
		"pending_hash":       r.pendingHash,
		"pending":            pendingViews(r.pending),
	}
	if r.conservation != nil {
		output["conservation"] = r.conservation.Currencies
		output["conservation_details"] = r.conservation.ValidationDetails
	}

	data, err := json.MarshalIndent(output, "", "  ")
	if err != nil {
		return err
	}
	logger.Info(string(data))
	return nil
}

func pendingViews(entries []storage.PendingEntry) []pendingView {
	out := make([]pendingView, 0, len(entries))
	for _, e := range entries {
		out = append(out, pendingView{Currency: e.Currency.ID(), Bidder: e.Bidder, Amount: e.Amount.String()})
	}
	return out
}

func sortedKeys(m map[string]*big.Int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
