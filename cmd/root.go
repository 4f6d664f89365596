package cmd

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"flightplan/internal/config"
	"flightplan/internal/flightplan"
	"flightplan/internal/logging"
	"flightplan/internal/metrics"
	"flightplan/internal/runner"
	"flightplan/internal/secrets"
	"flightplan/internal/store"
	"flightplan/internal/types"
	"flightplan/internal/util"
	"flightplan/internal/variables"

	"github.com/spf13/cobra"
)

var (
	configFile string
	logLevel   string
	dbPath     string
	rootCmd    = &cobra.Command{
		Use:   "flightplan",
		Short: "Run commands and flight plans on remote servers over SSH",
		Long: `flightplan keeps servers, commands, plans, variables and secrets in a local
database and executes commands or multi-step flight plans on servers over SSH.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMenu(cmd.Context())
		},
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Config file path (default: nearest flightplan.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Override logging.level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "Override database.path")

	rootCmd.AddCommand(newInitCmd())
	rootCmd.AddCommand(newCatalogCmd())
	rootCmd.AddCommand(newRunCmd())
	rootCmd.AddCommand(newLogsCmd())
	rootCmd.AddCommand(newServerCmd())
	rootCmd.AddCommand(newVariableCmd())
	rootCmd.AddCommand(newKeyCmd())
	rootCmd.AddCommand(newMenuCmd())
}

// Execute runs the command tree until it finishes or the process is interrupted.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return rootCmd.ExecuteContext(ctx)
}

// app holds the services shared by subcommands.
type app struct {
	cfg      *config.Config
	store    *store.Store
	resolver *variables.Resolver
	runner   *runner.Runner
	engine   *flightplan.Engine
	dialer   *runner.SSHDialer
	metrics  *http.Server
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, err
	}
	if dbPath != "" {
		cfg.Database.Path = dbPath
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	return cfg, config.ValidateConfig(cfg)
}

// openApp loads the configuration and wires the store, resolvers, runner and engine.
func openApp(ctx context.Context) (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	if err := logging.Setup(cfg.Logging, map[string]interface{}{"app": "flightplan"}); err != nil {
		return nil, err
	}

	st, err := store.Open(cfg.Database.Path, cfg.Database.BusyTimeout)
	if err != nil {
		return nil, err
	}

	resolver := variables.NewResolver(st, cfg.Execution.TemplateMaxDepth)
	parser := secrets.NewParser()
	parser.Register(secrets.TypeSecret, &secrets.KeyStoreResolver{Keys: st})
	if cfg.Secrets.AWS.Enabled {
		aws, err := secrets.NewAWSResolver(ctx, cfg.Secrets.AWS.Region)
		if err != nil {
			st.Close()
			return nil, err
		}
		parser.Register(secrets.TypeAWS, aws)
	}

	dialer := &runner.SSHDialer{
		Keys:           st,
		ConnectTimeout: cfg.SSH.ConnectTimeout,
		DefaultPort:    cfg.SSH.DefaultPort,
		KnownHostsFile: cfg.SSH.KnownHosts,
	}
	r := runner.New(st, resolver, parser, dialer)
	r.SetCommandTimeout(cfg.SSH.CommandTimeout)

	a := &app{
		cfg:      cfg,
		store:    st,
		resolver: resolver,
		runner:   r,
		engine:   flightplan.New(st, r, resolver, cfg.Execution.MaxParallel),
		dialer:   dialer,
	}
	if cfg.Metrics.Listen != "" {
		a.serveMetrics(cfg.Metrics.Listen)
	}
	return a, nil
}

func (a *app) serveMetrics(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	a.metrics = &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := a.metrics.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.Error("metrics server stopped", map[string]interface{}{"addr": addr, "error": err.Error()})
		}
	}()
	logging.Info("serving metrics", map[string]interface{}{"addr": addr})
}

func (a *app) Close() {
	if a.metrics != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		a.metrics.Shutdown(ctx)
		cancel()
	}
	a.store.Close()
	logging.Close()
}

// withApp opens the app for the duration of fn.
func withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}

// servers loads every referenced server, failing on the first unknown one.
func (a *app) servers(refs []string) ([]*types.Server, error) {
	if len(refs) == 0 {
		return nil, fmt.Errorf("at least one --server is required")
	}
	out := make([]*types.Server, 0, len(refs))
	for _, ref := range refs {
		srv, err := a.store.GetServer(ref)
		if err != nil {
			return nil, err
		}
		out = append(out, srv)
	}
	return out, nil
}

// serverID returns 0 for an empty reference, meaning global scope.
func (a *app) serverID(ref string) (int64, error) {
	if ref == "" {
		return 0, nil
	}
	srv, err := a.store.GetServer(ref)
	if err != nil {
		return 0, err
	}
	return srv.ID, nil
}

func printer() *util.Printer {
	return util.Default
}
