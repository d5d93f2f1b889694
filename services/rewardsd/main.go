package rewardsd

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"poolrewards/core/events"
	"poolrewards/core/state"
	"poolrewards/deploy/ledger"
	"poolrewards/native/stakingrewards"
	"poolrewards/observability/logging"
	telemetry "poolrewards/observability/otel"
	"poolrewards/state/pool"
	"poolrewards/state/roles"
	"poolrewards/storage"
)

// Main initialises and runs the rewards daemon.
func Main() error {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "services/rewardsd/config.yaml", "path to rewardsd configuration")
	flag.Parse()

	cfg, err := LoadConfig(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	env := strings.TrimSpace(cfg.Environment)
	if env == "" {
		env = strings.TrimSpace(os.Getenv("POOLREWARDS_ENV"))
	}
	logOpts := logging.Options{Level: logging.ParseLevel(cfg.Log.Level)}
	if strings.TrimSpace(cfg.Log.File) != "" {
		logOpts.File = &logging.FileOptions{
			Path:       cfg.Log.File,
			MaxSizeMB:  cfg.Log.MaxSizeMB,
			MaxBackups: cfg.Log.MaxBackups,
			MaxAgeDays: cfg.Log.MaxAgeDays,
			Compress:   cfg.Log.Compress,
		}
	}
	logger := logging.SetupWithOptions("rewardsd", env, logOpts)
	logger.Info("rewardsd configured",
		logging.MaskField("listen", cfg.ListenAddress),
		logging.MaskField("operator", cfg.OperatorAddress().Hex()),
		logging.MaskField("hmac_secret", cfg.Auth.HMACSecret),
		logging.MaskField("journal_dsn", cfg.Journal.DSN),
		slog.Int("admins", len(cfg.Admins)),
		slog.Duration("poll_interval", cfg.PollInterval.Duration))

	otlpEndpoint := strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"))
	insecure := true
	if value := strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_INSECURE")); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			insecure = parsed
		}
	}
	shutdownTelemetry, err := telemetry.Init(context.Background(), telemetry.Config{
		ServiceName: "rewardsd",
		Environment: env,
		Endpoint:    otlpEndpoint,
		Insecure:    insecure,
		Headers:     telemetry.ParseHeaders(os.Getenv("OTEL_EXPORTER_OTLP_HEADERS")),
		Metrics:     otlpEndpoint != "",
		Traces:      otlpEndpoint != "",
	})
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		if shutdownTelemetry != nil {
			_ = shutdownTelemetry(context.Background())
		}
	}()

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	db, err := storage.NewLevelDB(filepath.Join(cfg.DataDir, "state"))
	if err != nil {
		return fmt.Errorf("open state db: %w", err)
	}
	defer db.Close()

	manager := state.NewManager(db)
	pools := pool.NewLedger(manager)
	authority := roles.NewAuthority(manager)
	operator := cfg.OperatorAddress()
	for _, admin := range append(cfg.AdminAddresses(), operator) {
		if err := authority.Grant(admin); err != nil {
			return fmt.Errorf("grant admin %s: %w", admin.Hex(), err)
		}
	}
	if err := manager.Commit(); err != nil {
		return fmt.Errorf("commit roles: %w", err)
	}

	journal, err := OpenJournal(cfg.Journal.DSN, logger)
	if err != nil {
		return err
	}
	defer func() { _ = journal.Close() }()

	registry := stakingrewards.NewRegistry(manager, pools, authority)
	registry.SetEmitter(events.Multi{journal, newMetricsEmitter()})

	deployments, err := ledger.Open(cfg.LedgerPath)
	if err != nil {
		return fmt.Errorf("open deployment ledger: %w", err)
	}
	if strings.TrimSpace(cfg.BootstrapPath) != "" {
		spec, err := LoadBootstrap(cfg.BootstrapPath)
		if err != nil {
			return err
		}
		provisioner := &Provisioner{
			State:    manager,
			Pools:    pools,
			Registry: registry,
			Ledger:   deployments,
			Operator: operator,
			Logger:   logger,
		}
		if err := provisioner.Apply(spec); err != nil {
			return fmt.Errorf("apply bootstrap: %w", err)
		}
	}

	stopCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	scheduler := NewScheduler(registry, operator, cfg.PollInterval.Duration, logger)
	schedulerDone := make(chan struct{})
	go func() {
		defer close(schedulerDone)
		_ = scheduler.Run(stopCtx)
	}()

	admin := NewAdminServer(registry, journal, NewAuthenticator(cfg.Auth, logger), NewRateLimiter(cfg.RateLimit), logger)
	httpServer := &http.Server{
		Addr:         cfg.ListenAddress,
		Handler:      otelhttp.NewHandler(admin, "rewardsd.admin"),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errs := make(chan error, 1)
	go func() {
		logger.Info("rewardsd listening", slog.String("addr", cfg.ListenAddress), slog.Int("programs", len(registry.Programs())))
		errs <- httpServer.ListenAndServe()
	}()

	select {
	case <-stopCtx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		err := httpServer.Shutdown(shutdownCtx)
		<-schedulerDone
		if err != nil {
			_ = httpServer.Close()
			return err
		}
		return nil
	case err := <-errs:
		stop()
		<-schedulerDone
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}
