package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/ogulcanaydogan/flow-guardian/internal/config"
	"github.com/ogulcanaydogan/flow-guardian/internal/scheduler"
	"github.com/ogulcanaydogan/flow-guardian/pkg/alerts"
	"github.com/ogulcanaydogan/flow-guardian/pkg/authretry"
	"github.com/ogulcanaydogan/flow-guardian/pkg/monitor"
	"github.com/ogulcanaydogan/flow-guardian/pkg/rabbitmq"
	"github.com/ogulcanaydogan/flow-guardian/pkg/state"
	"github.com/ogulcanaydogan/flow-guardian/pkg/storage"
	"github.com/ogulcanaydogan/flow-guardian/pkg/upstream"
)

// Version is set at build time via ldflags.
var Version = "dev"

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "fg",
	Short: "Flow Guardian - mobile data usage monitor",
	Long: `Flow Guardian periodically queries carrier accounts for data usage,
raises low-balance and usage-jump alerts and delivers them over the
notification channels each user has configured.`,
	SilenceUsage: true,
}

// Execute runs the CLI.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ~/.fg/config.yaml)")
}

// loadConfig loads the configuration.
func loadConfig() (*config.Config, error) {
	return config.Load(cfgFile)
}

// newLogger creates a structured logger from config.
func newLogger(cfg *config.Config) *slog.Logger {
	level := slog.LevelInfo
	switch cfg.Logging.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	var handler slog.Handler
	if cfg.Logging.Format == "text" {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	} else {
		handler = slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	}

	return slog.New(handler)
}

// initStorage opens the account database selected by storage.driver.
func initStorage(ctx context.Context, cfg *config.Config) (storage.Storage, error) {
	switch strings.ToLower(cfg.Storage.Driver) {
	case "", "sqlite":
		return storage.NewSQLite(cfg.Storage.Path)
	case "postgres":
		if cfg.Storage.PostgresURL == "" {
			return nil, errors.New("storage.postgres_url is required for the postgres driver")
		}
		return storage.NewPostgres(ctx, cfg.Storage.PostgresURL, cfg.Storage.MaxConns)
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Storage.Driver)
	}
}

// initState opens the shared state store selected by state.backend.
func initState(ctx context.Context, cfg *config.Config) (state.Store, error) {
	switch strings.ToLower(cfg.State.Backend) {
	case "memory":
		return state.NewMemory(), nil
	case "", "sqlite":
		return state.NewSQLite(cfg.State.Path)
	case "redis":
		if cfg.State.RedisURL == "" {
			return nil, errors.New("state.redis_url is required for the redis backend")
		}
		return state.DialRedis(ctx, cfg.State.RedisURL, cfg.State.Prefix)
	default:
		return nil, fmt.Errorf("unknown state backend %q", cfg.State.Backend)
	}
}

// initRegistry registers the providers listed in the catalog.
func initRegistry(cfg *config.Config) (*upstream.Registry, error) {
	catalog, err := upstream.LoadCatalog(cfg.Upstream.Catalog)
	if err != nil {
		return nil, err
	}
	registry := upstream.NewRegistry()
	if err := catalog.Register(registry, config.Duration(cfg.Upstream.Timeout, 15*time.Second)); err != nil {
		return nil, fmt.Errorf("register providers: %w", err)
	}
	return registry, nil
}

// app bundles the wired components a command needs.
type app struct {
	cfg        *config.Config
	logger     *slog.Logger
	store      storage.Storage
	state      state.Store
	producer   *rabbitmq.EventProducer
	dispatcher *alerts.Dispatcher
	evaluator  *monitor.Evaluator
}

// newApp opens storage and state and builds the notification stack. The
// broker connection is optional and only failures to dial it are logged.
func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	logger := newLogger(cfg)

	store, err := initStorage(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("init storage: %w", err)
	}
	st, err := initState(ctx, cfg)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("init state: %w", err)
	}

	a := &app{cfg: cfg, logger: logger, store: store, state: st}

	opts := alerts.Options{
		WxPusherAppToken: cfg.Alerts.WxPusher.AppToken,
		WxPusherEndpoint: cfg.Alerts.WxPusher.Endpoint,
		TelegramToken:    cfg.Alerts.Telegram.Token,
		TelegramAPIURL:   cfg.Alerts.Telegram.APIURL,
	}
	if cfg.AMQP.URL != "" {
		producer, err := rabbitmq.NewEventProducer(cfg.AMQP.URL, cfg.AMQP.Exchange, logger)
		if err != nil {
			logger.Warn("amqp channel disabled", "error", err)
		} else {
			a.producer = producer
			opts.Publisher = producer
		}
	}

	a.dispatcher = alerts.NewDispatcher(
		config.Duration(cfg.Alerts.SendTimeout, 10*time.Second),
		logger,
		alerts.StandardChannels(opts)...,
	)
	a.evaluator = monitor.NewEvaluator(st, a.dispatcher, logger,
		monitor.WithTTLs(
			config.Duration(cfg.Alerts.LowBalanceTTL, monitor.DefaultLowBalanceTTL),
			config.Duration(cfg.Alerts.BaselineTTL, monitor.DefaultBaselineTTL),
		),
		monitor.WithLargeJumpBuckets(cfg.Alerts.LargeJumpBuckets),
	)
	return a, nil
}

// pipeline wires the provider catalog and the auth retry coordinator in
// front of the evaluator.
func (a *app) pipeline() (*monitor.Pipeline, error) {
	registry, err := initRegistry(a.cfg)
	if err != nil {
		return nil, err
	}
	coordinator := authretry.NewCoordinator(
		a.store,
		authretry.NewClassifier(a.cfg.Upstream.AuthPhraseFallback),
		config.Duration(a.cfg.Upstream.Timeout, 15*time.Second),
		a.logger,
	)
	return monitor.NewPipeline(registry, coordinator, a.store, a.evaluator, a.logger), nil
}

// scheduler builds the monitoring loop around p.
func (a *app) scheduler(p scheduler.Processor) *scheduler.Service {
	sc := a.cfg.Scheduler
	return scheduler.New(scheduler.Config{
		Tick:         config.Duration(sc.Tick, 30*time.Second),
		LeaseTTL:     config.Duration(sc.LeaseTTL, 120*time.Second),
		MinFrequency: config.Duration(sc.MinFrequency, 60*time.Second),
		MaxFrequency: config.Duration(sc.MaxFrequency, 7200*time.Second),
		Workers:      sc.Workers,
	}, a.store, p, a.state, a.logger)
}

func (a *app) Close() error {
	var errs []error
	if a.producer != nil {
		errs = append(errs, a.producer.Close())
	}
	errs = append(errs, a.state.Close(), a.store.Close())
	return errors.Join(errs...)
}
