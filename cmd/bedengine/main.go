package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/carehome/bedengine/internal/platform/db"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "bedengine",
		Short: "Care home bed lifecycle and allocation engine",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(waitlistCmd())
	rootCmd.AddCommand(maintenanceCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func runServer() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := newLogger(cfg.Env)

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		logger.Error().Err(err).Msg("failed to start")
		return err
	}
	defer a.close()

	e := a.router()

	go a.processor.Run(ctx)
	a.processor.Kick()
	if cfg.OverdueScanInterval > 0 {
		go a.sweep(ctx, cfg.OverdueScanInterval)
	}

	errCh := make(chan error, 1)
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Str("store", cfg.StoreBackend).Bool("tls", cfg.TLSEnabled).Msg("starting server")
		var err error
		if cfg.TLSEnabled {
			err = e.StartTLS(addr, cfg.TLSCertFile, cfg.TLSKeyFile)
		} else {
			err = e.Start(addr)
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-errCh:
		logger.Error().Err(err).Msg("server error")
		return err
	}

	logger.Info().Msg("shutting down server")
	stop()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server shutdown failed")
		return err
	}
	logger.Info().Msg("server stopped")
	return nil
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")
			return withMigrator(dir, func(ctx context.Context, m *db.Migrator) error {
				count, err := m.Up(ctx)
				if err != nil {
					return fmt.Errorf("migration failed: %w", err)
				}
				fmt.Printf("Applied %d migration(s) successfully.\n", count)
				return nil
			})
		},
	}
	upCmd.Flags().String("dir", "", "Path to migrations directory (default MIGRATIONS_DIR)")
	cmd.AddCommand(upCmd)

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")
			return withMigrator(dir, func(ctx context.Context, m *db.Migrator) error {
				statuses, err := m.Status(ctx)
				if err != nil {
					return fmt.Errorf("failed to get migration status: %w", err)
				}
				fmt.Printf("%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
				fmt.Println("---------- ---------------------------------------- ---------- --------------------")
				for _, s := range statuses {
					status := "pending"
					appliedAt := ""
					if s.Applied {
						status = "applied"
						if s.AppliedAt != nil {
							appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
						}
					}
					fmt.Printf("%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
				}
				return nil
			})
		},
	}
	statusCmd.Flags().String("dir", "", "Path to migrations directory (default MIGRATIONS_DIR)")
	cmd.AddCommand(statusCmd)

	return cmd
}

func withMigrator(dir string, fn func(ctx context.Context, m *db.Migrator) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if !cfg.UsePostgres() {
		return errors.New("migrations require STORE_BACKEND=postgres")
	}
	if dir == "" {
		dir = cfg.MigrationsDir
	}

	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		return err
	}
	defer pool.Close()

	return fn(ctx, db.NewMigrator(pool, dir))
}

// withApp builds the engine for a one-shot job. The memory backend starts
// empty, so these jobs are only useful against postgres.
func withApp(fn func(ctx context.Context, a *app) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := newLogger(cfg.Env)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.close()
	return fn(ctx, a)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func waitlistCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "waitlist",
		Short: "Waitlist jobs",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "process",
		Short: "Place active waitlist entries into available beds",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(ctx context.Context, a *app) error {
				report, err := a.waitlist.ProcessAll(ctx)
				if err != nil {
					return err
				}
				return printJSON(report)
			})
		},
	})

	expireCmd := &cobra.Command{
		Use:   "expire",
		Short: "Expire active waitlist entries older than the maximum age",
		RunE: func(cmd *cobra.Command, args []string) error {
			maxAge, _ := cmd.Flags().GetDuration("max-age")
			return withApp(func(ctx context.Context, a *app) error {
				if maxAge <= 0 {
					maxAge = a.cfg.WaitlistMaxAge
				}
				n, err := a.waitlist.ExpireStale(ctx, maxAge)
				if err != nil {
					return err
				}
				fmt.Printf("Expired %d waitlist entr(ies) older than %s.\n", n, maxAge)
				return nil
			})
		},
	}
	expireCmd.Flags().Duration("max-age", 0, "Override WAITLIST_MAX_AGE")
	cmd.AddCommand(expireCmd)

	return cmd
}

func maintenanceCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "maintenance",
		Short: "Maintenance jobs",
	}

	overdueCmd := &cobra.Command{
		Use:   "overdue",
		Short: "List overdue maintenance and optionally send notices",
		RunE: func(cmd *cobra.Command, args []string) error {
			notify, _ := cmd.Flags().GetBool("notify")
			return withApp(func(ctx context.Context, a *app) error {
				if notify {
					report, err := a.maintenance.NotifyOverdue(ctx)
					if err != nil {
						return err
					}
					return printJSON(report)
				}
				items, err := a.maintenance.FindOverdue(ctx)
				if err != nil {
					return err
				}
				fmt.Printf("%-12s %-12s %-20s %-22s %s\n", "BED", "FACILITY", "TYPE", "NEXT DUE", "DAYS OVERDUE")
				for _, o := range items {
					fmt.Printf("%-12s %-12s %-20s %-22s %d\n",
						o.BedID, o.FacilityID, o.Type, o.NextDue.Format(time.RFC3339), o.DaysOverdue)
				}
				return nil
			})
		},
	}
	overdueCmd.Flags().Bool("notify", false, "Send overdue and due-soon notices")
	cmd.AddCommand(overdueCmd)

	return cmd
}
