package commands

import (
	"fmt"
	"io"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/doeshing/hostq/internal/app"
	"github.com/doeshing/hostq/internal/domain"
)

// NewTrustCommand creates the trust command, which prints the ledger.
func NewTrustCommand(container *app.Container) *cobra.Command {
	return &cobra.Command{
		Use:   "trust",
		Short: "Show per-actor trust scores",
		RunE: func(cmd *cobra.Command, args []string) error {
			if container.Trust == nil {
				return fmt.Errorf("trust ledger unavailable")
			}
			tripped := func(actor domain.Actor) bool { return container.Trust.Tripped(actor) }
			displayTrust(cmd.OutOrStdout(), container.Trust.Snapshot(), tripped)
			return nil
		},
	}
}

func displayTrust(out io.Writer, records []domain.TrustRecord, tripped func(domain.Actor) bool) {
	fmt.Fprintf(out, "%-14s %6s %8s %6s %6s  %s\n", "ACTOR", "SCORE", "XP", "GOOD", "BAD", "UPDATED")
	for _, rec := range records {
		updated := "-"
		if !rec.UpdatedAt.IsZero() {
			updated = humanize.Time(rec.UpdatedAt)
		}
		line := fmt.Sprintf("%-14s %6.3f %8s %6d %6d  %s",
			rec.Actor, rec.Score, humanize.Comma(int64(rec.XP)), rec.GoodStreak, rec.BadStreak, updated)
		if tripped(rec.Actor) {
			line += "  (tripped)"
		}
		fmt.Fprintln(out, line)
	}
}
