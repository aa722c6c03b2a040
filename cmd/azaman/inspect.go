package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"maps"
	"path/filepath"
	"slices"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/nugget/azaman/internal/prompts"
	"github.com/nugget/azaman/internal/state"
	"github.com/nugget/azaman/internal/tools"
	"github.com/nugget/azaman/internal/usage"
)

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// runState prints the latest saved state of a thread, or the given
// version.
func runState(ctx context.Context, stdout, stderr io.Writer, configPath, outputFmt string, args []string) error {
	version := 0
	if len(args) > 1 {
		n, err := strconv.Atoi(args[1])
		if err != nil || n < 1 {
			return fmt.Errorf("invalid version %q", args[1])
		}
		version = n
	}

	cfg, _, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	store, err := openStore(cfg, newLogger(stderr, cfg))
	if err != nil {
		return err
	}
	defer store.Close()

	threadID := threadArg(args[0])
	var st *state.ConversationState
	if version > 0 {
		st, err = store.LoadVersion(ctx, threadID, version)
	} else {
		st, err = store.Load(ctx, threadID)
	}
	if err != nil {
		return err
	}
	if outputFmt == "json" {
		return printJSON(stdout, st)
	}

	username := st.Username
	if username == "" {
		username = "(not set)"
	}
	money := func(v float64) string {
		if st.Currency == "" {
			return tools.FormatMoney(v)
		}
		return tools.FormatMoney(v) + " " + st.Currency
	}

	fmt.Fprintf(stdout, "Thread:          %s\n", st.ThreadID)
	fmt.Fprintf(stdout, "Username:        %s\n", username)
	fmt.Fprintf(stdout, "Income:          %s\n", money(st.Income))
	fmt.Fprintf(stdout, "Savings goal:    %s\n", money(st.SavingsGoal))
	fmt.Fprintf(stdout, "Spending budget: %s\n", money(st.BudgetForExpenses))
	fmt.Fprintf(stdout, "Expenses:        %s\n", money(st.Expense))
	fmt.Fprintf(stdout, "Remaining:       %s\n", money(st.Remaining()))
	fmt.Fprintf(stdout, "Logged:          %s\n", prompts.ExpenseList(st.Expenses))
	fmt.Fprintf(stdout, "Messages:        %d\n", len(st.Messages))
	if st.Summary != "" {
		fmt.Fprintf(stdout, "Summary:         %s\n", st.Summary)
	}
	if st.Version == 0 {
		fmt.Fprintln(stdout, "Version:         never saved")
		return nil
	}
	fmt.Fprintf(stdout, "Version:         %d (saved %s)\n", st.Version, humanize.Time(st.UpdatedAt))
	return nil
}

// runHistory lists the saved versions of a thread, newest first.
func runHistory(ctx context.Context, stdout, stderr io.Writer, configPath, outputFmt string, args []string) error {
	limit := 20
	if len(args) > 1 {
		n, err := strconv.Atoi(args[1])
		if err != nil || n < 1 {
			return fmt.Errorf("invalid limit %q", args[1])
		}
		limit = n
	}

	cfg, _, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	store, err := openStore(cfg, newLogger(stderr, cfg))
	if err != nil {
		return err
	}
	defer store.Close()

	threadID := threadArg(args[0])
	versions, err := store.Versions(ctx, threadID, limit)
	if err != nil {
		return err
	}
	if outputFmt == "json" {
		return printJSON(stdout, versions)
	}

	if len(versions) == 0 {
		fmt.Fprintf(stdout, "No saved versions for %s\n", threadID)
		return nil
	}
	fmt.Fprintf(stdout, "%-8s %-16s %-10s %s\n", "VERSION", "SAVED", "SIZE", "MESSAGES")
	for _, v := range versions {
		fmt.Fprintf(stdout, "%-8d %-16s %-10s %d\n",
			v.Version, humanize.Time(v.CreatedAt), humanize.Bytes(uint64(v.ByteSize)), v.MessageCount)
	}
	return nil
}

// runThreads lists every thread with saved state.
func runThreads(ctx context.Context, stdout, stderr io.Writer, configPath, outputFmt string) error {
	cfg, _, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	store, err := openStore(cfg, newLogger(stderr, cfg))
	if err != nil {
		return err
	}
	defer store.Close()

	ids, err := store.Threads(ctx)
	if err != nil {
		return err
	}
	if outputFmt == "json" {
		if ids == nil {
			ids = []string{}
		}
		return printJSON(stdout, ids)
	}
	if len(ids) == 0 {
		fmt.Fprintln(stdout, "No saved threads")
		return nil
	}
	for _, id := range ids {
		fmt.Fprintln(stdout, id)
	}
	return nil
}

// runUsage summarizes the usage ledger over the trailing window.
func runUsage(ctx context.Context, stdout, stderr io.Writer, configPath, outputFmt string, args []string) error {
	hours := 24
	if len(args) > 0 {
		n, err := strconv.Atoi(args[0])
		if err != nil || n < 1 {
			return fmt.Errorf("invalid hours %q", args[0])
		}
		hours = n
	}

	cfg, _, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	ledger, err := usage.NewStore(filepath.Join(cfg.DataDir, "usage.db"))
	if err != nil {
		return fmt.Errorf("open usage ledger: %w", err)
	}
	defer ledger.Close()

	end := time.Now().Add(time.Second)
	start := end.Add(-time.Duration(hours) * time.Hour)

	total, err := ledger.Summary(ctx, start, end)
	if err != nil {
		return err
	}
	byModel, err := ledger.SummaryByModel(ctx, start, end)
	if err != nil {
		return err
	}
	if outputFmt == "json" {
		return printJSON(stdout, map[string]any{"hours": hours, "total": total, "by_model": byModel})
	}

	fmt.Fprintf(stdout, "Last %d hours: %s calls, %s input / %s output tokens, $%.4f\n",
		hours,
		humanize.Comma(int64(total.TotalRecords)),
		humanize.Comma(total.TotalInputTokens),
		humanize.Comma(total.TotalOutputTokens),
		total.TotalCostUSD,
	)
	for _, model := range slices.Sorted(maps.Keys(byModel)) {
		s := byModel[model]
		fmt.Fprintf(stdout, "  %-32s %s calls, $%.4f\n", model, humanize.Comma(int64(s.TotalRecords)), s.TotalCostUSD)
	}
	return nil
}
