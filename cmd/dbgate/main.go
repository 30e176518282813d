package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/urfave/cli/v2"
	"gopkg.in/yaml.v3"

	"github.com/gestock/dbgate/internal/config"
	"github.com/gestock/dbgate/internal/history"
	"github.com/gestock/dbgate/internal/logging"
	"github.com/gestock/dbgate/internal/migrate"
	"github.com/gestock/dbgate/internal/registry"
	"github.com/gestock/dbgate/internal/schema"
	"github.com/gestock/dbgate/internal/server"
	"github.com/gestock/dbgate/internal/tenant"
	"github.com/gestock/dbgate/internal/version"

	_ "github.com/gestock/dbgate/internal/driver/mysql"
	_ "github.com/gestock/dbgate/internal/driver/postgres"
	_ "github.com/gestock/dbgate/internal/driver/suparpc"
)

func main() {
	app := &cli.App{
		Name:    version.Name,
		Usage:   version.Description,
		Version: version.Version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Value:   "dbgate.yaml",
				Usage:   "Path to configuration file",
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "Serve the tenant data API over HTTP",
				Action: runServe,
			},
			{
				Name:   "migrate",
				Usage:  "Copy tenant schemas from one backend to another",
				Action: runMigrate,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "job",
						Aliases:  []string{"j"},
						Usage:    "Path to migration job file",
						Required: true,
					},
					&cli.StringSliceFlag{
						Name:  "tenant",
						Usage: "Tenant schema to migrate (repeatable, default: all on source)",
					},
					&cli.BoolFlag{
						Name:  "overwrite",
						Usage: "Overwrite existing tables on the target",
					},
					&cli.IntFlag{
						Name:  "batch-size",
						Usage: "Rows per insert batch",
					},
				},
			},
			{
				Name:   "discover",
				Usage:  "List tenant schemas, or inspect one tenant's tables",
				Action: runDiscover,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "tenant",
						Usage: "Tenant schema to inspect",
					},
				},
			},
			{
				Name:   "probe",
				Usage:  "Check that the configured backend is reachable",
				Action: runProbe,
			},
			{
				Name:   "history",
				Usage:  "List migration runs, or view details of a specific run",
				Action: runHistory,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "run",
						Usage: "Show details for a specific run ID",
					},
				},
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func loadConfig(c *cli.Context) (config.Config, error) {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return config.Config{}, err
	}
	cfg.ApplyLogging()
	return cfg, nil
}

// signalContext cancels on SIGINT/SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

func runServe(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	reg, err := registry.New(ctx, cfg.Backend)
	if err != nil {
		return fmt.Errorf("open backend: %w", err)
	}
	defer reg.Close()

	var hist *history.Store
	if cfg.HistoryPath != "" {
		hist, err = history.Open(cfg.HistoryPath)
		if err != nil {
			return fmt.Errorf("open history: %w", err)
		}
		defer hist.Close()
	}

	srv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           server.New(reg, hist).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logging.Info("%s %s serving on %s (backend: %s)", version.Name, version.Version, cfg.Listen, cfg.Backend)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	logging.Info("shutting down")
	shutdownCtx, stop := context.WithTimeout(context.Background(), 10*time.Second)
	defer stop()
	return srv.Shutdown(shutdownCtx)
}

func runMigrate(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}

	data, err := os.ReadFile(c.String("job"))
	if err != nil {
		return fmt.Errorf("read job file: %w", err)
	}
	var job migrate.Job
	if err := yaml.Unmarshal(data, &job); err != nil {
		return fmt.Errorf("parse job file: %w", err)
	}
	if job.Source.Kind == "" {
		job.Source = cfg.Backend
	}
	for _, raw := range c.StringSlice("tenant") {
		id, err := tenant.Resolve(raw)
		if err != nil {
			return err
		}
		job.Tenants = append(job.Tenants, id)
	}
	if c.IsSet("overwrite") {
		job.Options.OverwriteExisting = c.Bool("overwrite")
	}
	if c.IsSet("batch-size") {
		job.Options.BatchSize = c.Int("batch-size")
	}

	ctx, cancel := signalContext()
	defer cancel()

	bar := progressbar.NewOptions(-1,
		progressbar.OptionSetDescription("migrating"),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionSpinnerType(14),
		progressbar.OptionShowCount(),
	)
	log, err := migrate.Execute(ctx, job, func(e migrate.Entry) {
		if e.Phase == migrate.PhaseData && e.RowsSucceeded > 0 {
			_ = bar.Add64(e.RowsSucceeded)
		}
	})
	_ = bar.Finish()
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return err
	}

	if cfg.HistoryPath != "" {
		hist, err := history.Open(cfg.HistoryPath)
		if err != nil {
			logging.Error("open history: %v", err)
		} else {
			defer hist.Close()
			if err := hist.RecordRun(context.Background(), log); err != nil {
				logging.Error("record run %s: %v", log.RunID, err)
			}
		}
	}

	printLog(log)
	if log.Failed() {
		return errors.New("migration finished with failures")
	}
	if log.Status == migrate.RunCancelled {
		return errors.New("migration cancelled")
	}
	return nil
}

func printLog(log *migrate.Log) {
	counts := log.Counts()
	fmt.Printf("Run %s: %s in %s\n", log.RunID, log.Status, log.FinishedAt.Sub(log.StartedAt).Round(time.Millisecond))
	fmt.Printf("  %d ok, %d skipped, %d failed, %d warnings\n",
		counts[migrate.StatusOK], counts[migrate.StatusSkipped], counts[migrate.StatusFailed], counts[migrate.StatusWarning])
	for _, e := range log.Entries {
		if e.Status == migrate.StatusOK {
			continue
		}
		fmt.Printf("  [%s] %s/%s %s: %s\n", e.Status, e.Tenant, e.Table, e.Phase, e.Error)
	}
}

func runDiscover(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	exp, err := schema.Open(cfg.Backend)
	if err != nil {
		return err
	}
	defer exp.Close()

	if raw := c.String("tenant"); raw != "" {
		id, err := tenant.Resolve(raw)
		if err != nil {
			return err
		}
		inv, err := exp.Inventory(ctx, id, schema.DefaultSampleLimit)
		if err != nil {
			return err
		}
		fmt.Printf("Tenant %s: %d table(s)\n", inv.TenantID, len(inv.Tables))
		for _, t := range inv.Tables {
			rows := "?"
			if t.EstimatedRowCount >= 0 {
				rows = fmt.Sprintf("%d", t.EstimatedRowCount)
			}
			fmt.Printf("  %-24s %3d column(s) %8s row(s)\n", t.Name, t.ColumnCount, rows)
		}
		return nil
	}

	ids, err := exp.ListTenants(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("%d tenant schema(s) on %s\n", len(ids), cfg.Backend)
	for _, id := range ids {
		fmt.Println(" ", id)
	}
	return nil
}

func runProbe(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	exp, err := schema.Open(cfg.Backend)
	if err != nil {
		return err
	}
	defer exp.Close()

	if err := exp.Driver().Probe(ctx); err != nil {
		return fmt.Errorf("backend %s unreachable: %w", cfg.Backend, err)
	}
	fmt.Printf("Backend %s is reachable\n", cfg.Backend)
	return nil
}

func runHistory(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	if cfg.HistoryPath == "" {
		return errors.New("no history_path configured")
	}

	hist, err := history.Open(cfg.HistoryPath)
	if err != nil {
		return err
	}
	defer hist.Close()

	ctx := context.Background()
	if runID := c.String("run"); runID != "" {
		entries, err := hist.RunEntries(ctx, runID)
		if err != nil {
			return err
		}
		if len(entries) == 0 {
			ok, err := hist.RunExists(ctx, runID)
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("run %s not found", runID)
			}
			fmt.Println("Run recorded with no entries")
			return nil
		}
		for _, e := range entries {
			line := fmt.Sprintf("[%s] %s/%s %s  attempted=%d succeeded=%d",
				e.Status, e.Tenant, e.Table, e.Phase, e.RowsAttempted, e.RowsSucceeded)
			if e.Error != "" {
				line += "  " + e.Error
			}
			fmt.Println(line)
		}
		return nil
	}

	runs, err := hist.ListRuns(ctx)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Println("No migration runs recorded")
		return nil
	}
	for _, r := range runs {
		status := r.Status
		if r.Failed > 0 {
			status += fmt.Sprintf(" (%d failed)", r.Failed)
		}
		fmt.Printf("%s  %s  %-10s %d entries\n",
			r.RunID, r.StartedAt.Format("2006-01-02 15:04:05"), status, r.Entries)
	}
	return nil
}
