package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/doeshing/hostq/internal/app"
	"github.com/doeshing/hostq/internal/domain"
	"github.com/doeshing/hostq/internal/infrastructure/cli/helpers"
)

// NewHistoryCommand creates the history command with all subcommands
func NewHistoryCommand(container *app.Container) *cobra.Command {
	historyCmd := &cobra.Command{
		Use:   "history",
		Short: "Inspect answered questions",
	}

	historyCmd.AddCommand(
		newHistoryListCommand(container),
		newHistorySearchCommand(container),
		newHistoryClearCommand(container),
		newHistoryExportCommand(container),
		newHistoryStatsCommand(container),
		newHistoryRetainCommand(container),
	)

	return historyCmd
}

// newHistoryListCommand creates the 'history list' subcommand
func newHistoryListCommand(container *app.Container) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recent answers",
		RunE: func(cmd *cobra.Command, args []string) error {
			return listHistoryEntries(cmd.Context(), cmd.OutOrStdout(), container, limit, "")
		},
	}

	cmd.Flags().IntVar(&limit, "limit", domain.DefaultHistoryLimit, "Max entries to show")
	return cmd
}

// newHistorySearchCommand creates the 'history search' subcommand
func newHistorySearchCommand(container *app.Container) *cobra.Command {
	var searchLimit int

	cmd := &cobra.Command{
		Use:   "search <keyword>",
		Short: "Search questions and answers for a keyword",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return listHistoryEntries(cmd.Context(), cmd.OutOrStdout(), container, searchLimit, strings.Join(args, " "))
		},
	}

	cmd.Flags().IntVar(&searchLimit, "limit", domain.DefaultHistorySearchLimit, "Limit search results")
	return cmd
}

// newHistoryClearCommand creates the 'history clear' subcommand
func newHistoryClearCommand(container *app.Container) *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Delete every history row",
		RunE: func(cmd *cobra.Command, args []string) error {
			if container.History == nil {
				return errors.New(ErrHistoryStoreUnavailable)
			}
			if err := container.History.ClearAnswers(cmd.Context()); err != nil {
				return fmt.Errorf("failed to clear history: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "History cleared.")
			return nil
		},
	}
}

// newHistoryExportCommand creates the 'history export' subcommand
func newHistoryExportCommand(container *app.Container) *cobra.Command {
	return &cobra.Command{
		Use:   "export <path|->",
		Short: "Export history to a JSONL file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return exportHistory(cmd.Context(), cmd.OutOrStdout(), cmd.ErrOrStderr(), container, args[0])
		},
	}
}

// newHistoryStatsCommand creates the 'history stats' subcommand
func newHistoryStatsCommand(container *app.Container) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Summarize origins, labels and latency of recent answers",
		RunE: func(cmd *cobra.Command, args []string) error {
			return showHistoryStats(cmd.Context(), cmd.OutOrStdout(), container, limit)
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 1000, "Number of recent answers to summarize")
	return cmd
}

// newHistoryRetainCommand creates the 'history retain' subcommand
func newHistoryRetainCommand(container *app.Container) *cobra.Command {
	var retainDays int

	cmd := &cobra.Command{
		Use:   "retain",
		Short: "Prune history older than N days and update the retention policy",
		RunE: func(cmd *cobra.Command, args []string) error {
			if retainDays <= 0 {
				return errors.New(ErrInvalidRetainDays)
			}
			return updateHistoryRetention(cmd.Context(), cmd.OutOrStdout(), container, retainDays, time.Now())
		},
	}

	cmd.Flags().IntVar(&retainDays, "days", domain.DefaultHistoryRetainDays, "Days to retain history")
	return cmd
}

// listHistoryEntries prints recent answers, newest first.
func listHistoryEntries(ctx context.Context, out io.Writer, container *app.Container, limit int, search string) error {
	if container.History == nil {
		return errors.New(ErrHistoryStoreUnavailable)
	}

	records, err := container.History.Answers(ctx, limit, search)
	if err != nil {
		return fmt.Errorf("failed to retrieve history records: %w", err)
	}
	if len(records) == 0 {
		fmt.Fprintln(out, MsgNoHistoryRecorded)
		return nil
	}

	for _, rec := range records {
		fmt.Fprintf(out, "%s  [%s] %.2f %-9s %s\n",
			humanize.Time(rec.AskedAt),
			strings.ToUpper(string(rec.Label)),
			rec.Reliability,
			rec.Origin,
			rec.Question)
		fmt.Fprintf(out, "    %s\n", firstLine(rec.Text))
	}
	return nil
}

// exportHistory writes every row as JSON lines to path, or stdout for "-".
func exportHistory(ctx context.Context, out, status io.Writer, container *app.Container, path string) error {
	if container.Store == nil {
		return errors.New(ErrHistoryStoreUnavailable)
	}

	if path == "-" {
		_, err := container.Store.ExportJSONL(ctx, out)
		return err
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, domain.SecureFilePermissions)
	if err != nil {
		return fmt.Errorf("failed to create export file: %w", err)
	}
	n, err := container.Store.ExportJSONL(ctx, file)
	if closeErr := file.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return fmt.Errorf("failed to export history: %w", err)
	}

	fmt.Fprintf(status, "Exported %s record(s) to %s\n", humanize.Comma(int64(n)), path)
	return nil
}

// showHistoryStats prints counts per origin and label plus latency figures.
func showHistoryStats(ctx context.Context, out io.Writer, container *app.Container, limit int) error {
	if container.History == nil {
		return errors.New(ErrHistoryStoreUnavailable)
	}

	records, err := container.History.Answers(ctx, limit, "")
	if err != nil {
		return fmt.Errorf("failed to retrieve history records: %w", err)
	}
	if len(records) == 0 {
		fmt.Fprintln(out, MsgNoHistoryRecorded)
		return nil
	}

	stats := helpers.SummarizeAnswers(records)
	fmt.Fprintf(out, "Answers: %s\n", humanize.Comma(int64(stats.Total)))
	fmt.Fprintf(out, "Usable (green/yellow): %.1f%%\n", stats.UsableRate*100)
	fmt.Fprintf(out, "Mean reliability: %.2f\n", stats.MeanReliability)
	fmt.Fprintf(out, "Latency p50 / p95: %s / %s\n", stats.P50, stats.P95)

	fmt.Fprintln(out, "\nBy origin:")
	for _, c := range stats.ByOrigin {
		fmt.Fprintf(out, "  %-10s %d\n", c.Key, c.Count)
	}
	fmt.Fprintln(out, "\nBy label:")
	for _, c := range stats.ByLabel {
		fmt.Fprintf(out, "  %-10s %d\n", c.Key, c.Count)
	}
	return nil
}

// updateHistoryRetention prunes old rows and persists the new retention
// policy so the daemon's daily prune uses it too.
func updateHistoryRetention(ctx context.Context, out io.Writer, container *app.Container, days int, now time.Time) error {
	if container.History == nil {
		return errors.New(ErrHistoryStoreUnavailable)
	}

	cutoff := now.AddDate(0, 0, -days)
	removed, err := container.History.PruneAnswers(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("failed to prune history: %w", err)
	}

	cfg, err := container.ConfigProvider.Load(ctx)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	cfg.History.RetentionDays = days
	if err := helpers.SaveConfigWithValidation(container, cfg); err != nil {
		return err
	}

	fmt.Fprintf(out, "Removed %s record(s) older than %s; retention set to %d days\n",
		humanize.Comma(removed), cutoff.Format(domain.TimestampFormat), days)
	return nil
}

func firstLine(text string) string {
	if i := strings.IndexByte(text, '\n'); i >= 0 {
		return text[:i] + " ..."
	}
	return text
}
