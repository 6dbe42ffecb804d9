package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/labportal/labportal/internal/config"
	"github.com/labportal/labportal/internal/domain/results"
	"github.com/labportal/labportal/internal/platform/db"
	"github.com/labportal/labportal/migrations"
)

// withApp loads config, wires the services and runs fn.
func withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app, logger zerolog.Logger) error) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := newLogger(cfg.Env).Level(zerolog.WarnLevel)
	if verbose, _ := cmd.Flags().GetBool("verbose"); verbose {
		logger = logger.Level(zerolog.DebugLevel)
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a, logger)
}

type resultsFlags struct {
	req      results.FilterRequest
	dateFrom string
	dateTo   string
	maxPages int
}

func (f *resultsFlags) bind(cmd *cobra.Command) {
	fs := cmd.Flags()
	fs.StringVar(&f.req.Period, "period", "", "period selector: today, last-7-days, last-30-days, all, archive")
	fs.StringVar(&f.req.Query, "query", "", "free text search")
	fs.StringSliceVar(&f.req.PatientIDs, "patient", nil, "patient id (repeatable)")
	fs.StringSliceVar(&f.req.SenderIDs, "sender", nil, "sender id (repeatable)")
	fs.BoolVar(&f.req.Archived, "archived", false, "include archived results")
	fs.StringVar(&f.req.Category, "category", "", "category: new, pathological, high-pathological, urgent, favorites")
	fs.BoolVar(&f.req.OnlyFavorites, "favorites", false, "only favorites")
	fs.BoolVar(&f.req.OnlyNew, "new", false, "only unread results")
	fs.BoolVar(&f.req.OnlyPathological, "pathological", false, "only pathological results")
	fs.BoolVar(&f.req.OnlyUrgent, "urgent", false, "only urgent results")
	fs.StringSliceVar(&f.req.ResultTypes, "result-type", nil, "result type (repeatable)")
	fs.StringVar(&f.req.SortColumn, "sort", "", "sort column")
	fs.StringVar(&f.req.SortDirection, "order", "", "sort direction: asc or desc")
	fs.IntVar(&f.req.PageSize, "page-size", 0, "page size (default PAGE_SIZE)")
	fs.StringVar(&f.dateFrom, "from", "", "explicit lower date bound (YYYY-MM-DD)")
	fs.StringVar(&f.dateTo, "to", "", "explicit upper date bound (YYYY-MM-DD)")
	fs.IntVar(&f.maxPages, "max-pages", 0, "stop after this many pages (0 = until exhausted)")
}

func (f *resultsFlags) filterRequest() (results.FilterRequest, error) {
	req := f.req
	var err error
	if req.DateFrom, err = parseDay("from", f.dateFrom); err != nil {
		return req, err
	}
	if req.DateTo, err = parseDay("to", f.dateTo); err != nil {
		return req, err
	}
	return req, nil
}

func parseDay(name, v string) (*time.Time, error) {
	if v == "" {
		return nil, nil
	}
	t, err := time.Parse("2006-01-02", v)
	if err != nil {
		return nil, fmt.Errorf("--%s: expected YYYY-MM-DD, got %q", name, v)
	}
	return &t, nil
}

func resultsCmd() *cobra.Command {
	flags := &resultsFlags{}
	cmd := &cobra.Command{
		Use:   "results",
		Short: "Page through lab results and print one JSON record per line",
		RunE: func(cmd *cobra.Command, args []string) error {
			req, err := flags.filterRequest()
			if err != nil {
				return err
			}
			return withApp(cmd, func(ctx context.Context, a *app, logger zerolog.Logger) error {
				filter, period := req.Filter()
				q, err := a.results.Compiler().Compile(filter, period, results.PageCursor{Page: 1, Size: req.PageSize})
				if err != nil {
					return err
				}
				sess, err := results.NewSession(a.results.Fetcher(), q, logger)
				if err != nil {
					return err
				}
				_, err = drainSession(ctx, sess, flags.maxPages, cmd.OutOrStdout())
				return err
			})
		},
	}
	flags.bind(cmd)
	cmd.Flags().BoolP("verbose", "v", false, "log backend calls")
	return cmd
}

// drainSession loads pages until the session is exhausted or maxPages pages
// were loaded, writing each newly materialized record as a JSON line. It
// returns the number of pages loaded.
func drainSession(ctx context.Context, sess *results.Session, maxPages int, w io.Writer) (int, error) {
	enc := json.NewEncoder(w)
	written, pages := 0, 0
	for maxPages <= 0 || pages < maxPages {
		outcome, err := sess.LoadNextPage(ctx)
		if err != nil {
			return pages, err
		}
		if outcome == results.OutcomeExhausted {
			break
		}
		pages++

		items := sess.CurrentItems()
		for _, item := range items[written:] {
			if err := enc.Encode(item); err != nil {
				return pages, err
			}
		}
		written = len(items)

		if !sess.HasMore() {
			break
		}
	}
	return pages, nil
}

func trendsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "trends <patient-id>",
		Short: "Build the cumulative trend view for a patient",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app, _ zerolog.Logger) error {
				t, err := a.trends.BuildTrends(ctx, args[0])
				if err != nil {
					return err
				}
				return writeJSON(cmd.OutOrStdout(), t)
			})
		},
	}
	cmd.Flags().BoolP("verbose", "v", false, "log backend calls")
	return cmd
}

func countersCmd() *cobra.Command {
	var period string
	cmd := &cobra.Command{
		Use:   "counters",
		Short: "Print category counters for a period",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app, _ zerolog.Logger) error {
				counters, err := a.results.Counters(ctx, results.PeriodSelector(period), nil)
				if err != nil {
					return err
				}
				return writeJSON(cmd.OutOrStdout(), counters)
			})
		},
	}
	cmd.Flags().StringVar(&period, "period", "", "period selector")
	cmd.Flags().BoolP("verbose", "v", false, "log backend calls")
	return cmd
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the response cache schema",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMigrator(cmd, func(ctx context.Context, m *db.Migrator) error {
				count, err := m.Up(ctx)
				if err != nil {
					return fmt.Errorf("migration failed: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Applied %d migration(s) successfully.\n", count)
				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMigrator(cmd, func(ctx context.Context, m *db.Migrator) error {
				statuses, err := m.Status(ctx)
				if err != nil {
					return fmt.Errorf("failed to get migration status: %w", err)
				}
				printStatus(cmd.OutOrStdout(), statuses)
				return nil
			})
		},
	})

	return cmd
}

func withMigrator(cmd *cobra.Command, fn func(ctx context.Context, m *db.Migrator) error) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if cfg.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required for migrations")
	}

	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		return err
	}
	defer pool.Close()

	return fn(ctx, db.NewMigrator(pool, migrations.FS))
}

func printStatus(w io.Writer, statuses []db.MigrationStatus) {
	fmt.Fprintf(w, "%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
	fmt.Fprintln(w, strings.Repeat("-", 10)+" "+strings.Repeat("-", 40)+" "+strings.Repeat("-", 10)+" "+strings.Repeat("-", 20))
	for _, s := range statuses {
		status := "pending"
		appliedAt := ""
		if s.Applied {
			status = "applied"
			if s.AppliedAt != nil {
				appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
			}
		}
		fmt.Fprintf(w, "%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
	}
}
