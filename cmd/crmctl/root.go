package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/peteski22/crmresolve/internal/config"
	"github.com/peteski22/crmresolve/internal/crm"
	"github.com/peteski22/crmresolve/internal/metrics"
	"github.com/peteski22/crmresolve/internal/resolver"
	"github.com/peteski22/crmresolve/internal/storage"
)

// app holds the global flags and state shared by crmctl commands.
type app struct {
	backend     string
	configPath  string
	dbPath      string
	dryRun      bool
	metricsFile string
	registry    *prometheus.Registry
	verbose     bool
}

func newRootCmd() *cobra.Command {
	a := &app{registry: prometheus.NewRegistry()}

	rootCmd := &cobra.Command{
		Use:   "crmctl",
		Short: "Resolve CRM accounts by name and attach contacts and opportunities to them",
		Long: `crmctl finds or creates Accounts by name and writes the records that depend on them.
Records live in a local SQLite database by default, or in the hosted CRM with --backend crm.`,
		SilenceUsage: true,
		PersistentPostRunE: func(_ *cobra.Command, _ []string) error {
			return a.writeMetrics()
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&a.backend, "backend", "", "record store: sqlite or crm (default from config, else sqlite)")
	flags.StringVar(&a.configPath, "config", "", "config file (default ~/.crmresolve/config.yaml)")
	flags.StringVar(&a.dbPath, "db", "", "SQLite database file for the sqlite backend")
	flags.BoolVar(&a.dryRun, "dry-run", false, "log writes instead of making them")
	flags.StringVar(&a.metricsFile, "metrics-file", "", "write Prometheus metrics to this file after the command")
	flags.BoolVarP(&a.verbose, "verbose", "v", false, "log every step")

	rootCmd.AddCommand(initCmd())
	rootCmd.AddCommand(a.resolveAccountCmd())
	rootCmd.AddCommand(a.linkContactsCmd())
	rootCmd.AddCommand(a.upsertOpportunitiesCmd())
	rootCmd.AddCommand(a.findAccountsCmd())
	rootCmd.AddCommand(a.deleteCmd())

	return rootCmd
}

// loadConfig reads the config file, falling back to defaults when none exists and none was named.
func (a *app) loadConfig() (*config.LocalConfig, error) {
	if a.configPath != "" {
		return config.LoadLocalFrom(a.configPath)
	}
	if config.LocalConfigExists() {
		return config.LoadLocal()
	}

	dbPath, err := config.DatabaseFilePath()
	if err != nil {
		return nil, err
	}
	return &config.LocalConfig{
		Store: config.LocalStore{Backend: config.BackendSQLite, Path: dbPath},
	}, nil
}

// openStore opens the configured record store. The returned func releases it.
func (a *app) openStore(ctx context.Context, cfg *config.LocalConfig) (resolver.RecordStore, func(), error) {
	backend := cfg.Store.Backend
	if a.backend != "" {
		backend = a.backend
	}

	switch backend {
	case config.BackendSQLite:
		path := cfg.Store.Path
		if a.dbPath != "" {
			path = a.dbPath
		}
		if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
			return nil, nil, fmt.Errorf("creating database directory: %w", err)
		}

		store, err := storage.OpenSQLStore(ctx, storage.DriverSQLite, path)
		if err != nil {
			return nil, nil, fmt.Errorf("opening database: %w", err)
		}
		return store, func() { _ = store.Close() }, nil
	case config.BackendCRM:
		tokenStore, err := storage.NewFileTokenStore(cfg.CRM.TokenFile)
		if err != nil {
			return nil, nil, fmt.Errorf("creating token store: %w", err)
		}

		var opts []crm.Option
		if cfg.CRM.APIVersion != "" {
			opts = append(opts, crm.WithAPIVersion(cfg.CRM.APIVersion))
		}
		if cfg.CRM.TokenURL != "" {
			opts = append(opts, crm.WithTokenURL(cfg.CRM.TokenURL))
		}

		client, err := crm.NewClient(crm.Config{
			ClientID:     cfg.CRM.ClientID,
			ClientSecret: cfg.CRM.ClientSecret,
			InstanceURL:  cfg.CRM.InstanceURL,
			TokenStore:   tokenStore,
		}, opts...)
		if err != nil {
			return nil, nil, fmt.Errorf("creating CRM client: %w", err)
		}
		return client, func() {}, nil
	default:
		return nil, nil, fmt.Errorf("unknown backend %q (valid backends: sqlite, crm)", backend)
	}
}

// withService runs fn with a resolver service over the configured store.
func (a *app) withService(cmd *cobra.Command, fn func(svc *resolver.Service) error) error {
	cfg, err := a.loadConfig()
	if err != nil {
		return err
	}

	store, closeStore, err := a.openStore(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	recorder, err := a.recorder()
	if err != nil {
		return err
	}

	svc, err := resolver.New(resolver.Config{
		DryRun:          a.dryRun,
		Logger:          a.logger(cmd),
		Metrics:         recorder,
		RejectAmbiguous: cfg.Resolver.RejectAmbiguous,
		Store:           store,
	})
	if err != nil {
		return fmt.Errorf("creating resolver: %w", err)
	}

	return fn(svc)
}

// withStore runs fn with the configured record store, wrapped to only log writes in dry-run mode.
func (a *app) withStore(cmd *cobra.Command, fn func(store resolver.RecordStore) error) error {
	cfg, err := a.loadConfig()
	if err != nil {
		return err
	}

	store, closeStore, err := a.openStore(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	if a.dryRun {
		store = resolver.NewDryRunStore(store, a.logger(cmd))
	}

	return fn(store)
}

func (a *app) logger(cmd *cobra.Command) *slog.Logger {
	level := slog.LevelWarn
	if a.verbose || a.dryRun {
		level = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))
}

// recorder returns a metrics recorder registered once with the app's registry.
func (a *app) recorder() (*metrics.Recorder, error) {
	if a.metricsFile == "" {
		return nil, nil
	}
	r, err := metrics.NewRecorder(a.registry)
	if err != nil {
		return nil, fmt.Errorf("creating metrics recorder: %w", err)
	}
	return r, nil
}

func (a *app) writeMetrics() error {
	if a.metricsFile == "" {
		return nil
	}
	if err := prometheus.WriteToTextfile(a.metricsFile, a.registry); err != nil {
		return fmt.Errorf("writing metrics file: %w", err)
	}
	return nil
}
