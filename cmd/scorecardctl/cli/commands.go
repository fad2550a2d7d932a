package cli

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/odyssey-erp/scorecard/internal/periods"
)

type windowFlags struct {
	anchor   string
	date     string
	timezone string
	json     bool
}

func newWindowCommand(opts Options) *cobra.Command {
	var flags windowFlags
	cmd := &cobra.Command{
		Use:   "window",
		Short: "Preview the evaluation window of an anchor on a date",
		Example: `  scorecardctl window --anchor 2026-02-01
  scorecardctl window --anchor 2026-02-01 --date 2026-05-10 --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			anchor, err := parseDate("anchor", flags.anchor)
			if err != nil {
				return err
			}
			loc, err := time.LoadLocation(flags.timezone)
			if err != nil {
				return fmt.Errorf("invalid --timezone %q: %w", flags.timezone, err)
			}
			today := opts.Now().In(loc)
			if flags.date != "" {
				if today, err = parseDate("date", flags.date); err != nil {
					return err
				}
			}
			status := periods.StatusAt(anchor, today)
			if flags.json {
				return json.NewEncoder(cmd.OutOrStdout()).Encode(status)
			}
			renderWindow(cmd, status)
			return nil
		},
	}
	cmd.Flags().StringVar(&flags.anchor, "anchor", "", "first reference date of the company (YYYY-MM-DD)")
	cmd.Flags().StringVar(&flags.date, "date", "", "civil date to evaluate (YYYY-MM-DD); defaults to today")
	cmd.Flags().StringVar(&flags.timezone, "timezone", "America/Sao_Paulo", "location used to derive today")
	cmd.Flags().BoolVar(&flags.json, "json", false, "print JSON")
	_ = cmd.MarkFlagRequired("anchor")
	return cmd
}

func renderWindow(cmd *cobra.Command, status periods.WindowStatus) {
	out := cmd.OutOrStdout()
	if status.Current == nil {
		_, _ = fmt.Fprintf(out, "no window open yet; first opens %s\n", status.NextOpensAt.Format(dateLayout))
		return
	}
	w := status.Current
	_, _ = fmt.Fprintf(out, "window %d: %s .. %s (T%d/%d)\n", w.Number, w.Start.Format(dateLayout), w.End.Format(dateLayout), w.Quarter, w.Year)
	_, _ = fmt.Fprintf(out, "days remaining: %d\n", status.DaysRemaining)
	_, _ = fmt.Fprintf(out, "next opens: %s\n", status.NextOpensAt.Format(dateLayout))
}

func newAutoFreezeCommand(opts Options) *cobra.Command {
	var company, reference string
	cmd := &cobra.Command{
		Use:   "auto-freeze",
		Short: "Enqueue an auto freeze for one company",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			companyID, err := uuid.Parse(strings.TrimSpace(company))
			if err != nil {
				return fmt.Errorf("invalid --company %q", company)
			}
			var ref *time.Time
			if reference != "" {
				d, err := parseDate("reference-date", reference)
				if err != nil {
					return err
				}
				ref = &d
			}
			return withJobs(opts, func(backend JobsBackend) error {
				if err := backend.EnqueueAutoFreeze(cmd.Context(), companyID, ref); err != nil {
					return fmt.Errorf("enqueue auto freeze: %w", err)
				}
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "auto freeze enqueued for %s\n", companyID)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&company, "company", "", "company id")
	cmd.Flags().StringVar(&reference, "reference-date", "", "target window reference date (YYYY-MM-DD)")
	_ = cmd.MarkFlagRequired("company")
	return cmd
}

func newQueueCommand(opts Options) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Show auto freeze queue statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withJobs(opts, func(backend JobsBackend) error {
				stats, err := backend.InspectQueue(cmd.Context())
				if err != nil {
					return fmt.Errorf("inspect queue: %w", err)
				}
				if asJSON {
					return json.NewEncoder(cmd.OutOrStdout()).Encode(stats)
				}
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "queue=%s pending=%d active=%d scheduled=%d retry=%d archived=%d\n",
					stats.Queue, stats.Pending, stats.Active, stats.Scheduled, stats.Retry, stats.Archived)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	return cmd
}

func parseDate(flag, value string) (time.Time, error) {
	d, err := time.Parse(dateLayout, strings.TrimSpace(value))
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid --%s %q (expected YYYY-MM-DD)", flag, value)
	}
	return d, nil
}
