package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"sheetarchiver/app"
	"sheetarchiver/internal"
	"sheetarchiver/internal/config"
	"sheetarchiver/internal/container"
	"sheetarchiver/internal/scheduler"
	"sheetarchiver/ports"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

func main() {
	// .env is optional; real environment variables take precedence
	_ = godotenv.Load()

	rootCmd := &cobra.Command{
		Use:           "sheetarchiver",
		Short:         "Move aged rows from a live spreadsheet tab to its archive tab",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(
		newRunCmd(),
		newScheduleCmd(),
		newJournalCmd(),
		newMigrateCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRunCmd() *cobra.Command {
	var dryRun bool

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Archive rows older than MAX_AGE_DAYS once and exit",
		Long: `Run one archive pass: rows of LIVE_SHEET whose TIMESTAMP_COLUMN is more
than MAX_AGE_DAYS old are appended to ARCHIVE_SHEET, then LIVE_SHEET is
compacted below its header.

Example: sheetarchiver run --dry-run`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := setup(cmd.Context(), func(cfg *config.Config) {
				if dryRun {
					cfg.Archive.DryRun = true
				}
			})
			if err != nil {
				return err
			}
			defer c.Close()

			result, err := c.RunOnce(cmd.Context())
			if err != nil {
				return err
			}
			c.Logger.Debug("%s", summarize(result))
			return nil
		},
	}

	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Classify and report without writing to either tab")
	return cmd
}

func newScheduleCmd() *cobra.Command {
	var spec string
	var now bool

	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Run archive passes on a cron schedule until interrupted",
		Long: `Run archive passes on a cron schedule evaluated in TZ_OFFSET.
A firing is skipped while the previous pass is still running. When
METRICS_ADDR is set, run metrics are served at /metrics.

Example: sheetarchiver schedule --cron "0 3 * * *" --now`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			c, err := setup(ctx, func(cfg *config.Config) {
				if spec != "" {
					cfg.Schedule.Cron = spec
				}
			})
			if err != nil {
				return err
			}
			defer c.Close()

			job := func(ctx context.Context) error {
				result, err := c.RunOnce(ctx)
				if err != nil {
					return err
				}
				c.Logger.Debug("%s", summarize(result))
				return nil
			}

			if addr := c.Config.Metrics.Addr; addr != "" {
				go serveMetrics(ctx, addr, c)
			}

			if now {
				if err := job(ctx); err != nil {
					c.Logger.Error("initial run failed: %v", err)
				}
			}

			s := scheduler.New(c.Config.Schedule.Cron, c.Config.Archive.Location, job, c.Logger)
			if err := s.Start(ctx); err != nil {
				return err
			}
			if next := s.NextRun(); next != nil && !next.IsZero() {
				c.Logger.Info("Next run at %s", next.Format(time.RFC3339))
			}

			<-ctx.Done()
			s.Stop()
			return nil
		},
	}

	cmd.Flags().StringVar(&spec, "cron", "", "Cron expression (default from SCHEDULE)")
	cmd.Flags().BoolVar(&now, "now", false, "Also run once immediately")
	return cmd
}

func newJournalCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "journal",
		Short: "List recent archive runs recorded in the journal",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			journal, closeJournal, err := container.OpenJournal(cmd.Context(), config.LoadDatabase(), config.LoadJournal())
			if err != nil {
				return err
			}
			defer closeJournal()

			records, err := journal.Recent(cmd.Context(), limit)
			if err != nil {
				return err
			}
			return printJournal(cmd.OutOrStdout(), records)
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "Number of runs to list (0 for all)")
	return cmd
}

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the run journal schema",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			applied, status, err := container.Migrate(cmd.Context(), config.LoadDatabase().URL)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, v := range applied {
				fmt.Fprintf(out, "Applied migration: %s\n", v)
			}
			fmt.Fprintln(out, "Migration Status:")
			for _, s := range status {
				state := "pending"
				if s.Applied {
					state = "applied"
				}
				fmt.Fprintf(out, "  %s_%s: %s\n", s.Version, s.Name, state)
			}
			return nil
		},
	}
}

func serveMetrics(ctx context.Context, addr string, c *container.Container) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", c.Metrics.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	c.Logger.Info("Serving metrics on %s/metrics", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		c.Logger.Error("metrics server failed: %v", err)
	}
}

// setup loads configuration, applies flag overrides and builds the container
func setup(ctx context.Context, override func(*config.Config)) (*container.Container, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if override != nil {
		override(cfg)
	}

	level, ok := internal.ParseLogLevel(cfg.LogLevel)
	logger := internal.NewLogger(level)
	if !ok {
		logger.Warn("Unknown LOG_LEVEL %q, using INFO", cfg.LogLevel)
	}

	return container.New(ctx, cfg, logger)
}

func summarize(r *app.RunResult) string {
	s := fmt.Sprintf("run %s: cutoff %s, scanned %d, moved %d, kept %d, unparsable %d, blank %d",
		r.RunID, r.Cutoff, r.Scanned, r.Moved, r.Kept, r.Unparsable, r.Blank)
	if r.Reconciled > 0 || r.Restored > 0 {
		s += fmt.Sprintf(", reconciled %d, restored %d", r.Reconciled, r.Restored)
	}
	if r.DryRun {
		s += " (dry run)"
	}
	return s
}

func printJournal(w io.Writer, records []ports.RunRecord) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "RUN\tSTARTED\tSPREADSHEET\tSTATE\tMOVED\tERROR")
	for _, r := range records {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%s\n",
			r.ID, r.StartedAt.Format(time.RFC3339), r.Spreadsheet, r.State, r.Moved, r.Error)
	}
	return tw.Flush()
}
