package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/turtlecoin/turtlecoin-node-monitor/internal/alerts"
	"github.com/turtlecoin/turtlecoin-node-monitor/internal/api"
	"github.com/turtlecoin/turtlecoin-node-monitor/internal/collector"
	"github.com/turtlecoin/turtlecoin-node-monitor/internal/config"
	"github.com/turtlecoin/turtlecoin-node-monitor/internal/directory"
	"github.com/turtlecoin/turtlecoin-node-monitor/internal/storage"
)

const shutdownTimeout = 2 * time.Second

func main() {
	configPath := flag.String("config", os.Getenv("MONITOR_CONFIG"), "path to collector config file (json or yaml); environment variables override it")
	flag.Parse()

	cfg, err := config.LoadCollectorConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := newLogger(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("config loaded successfully",
		zap.String("config_path", *configPath),
		zap.String("database_backend", cfg.Database.Backend),
	)

	if env := os.Getenv("APP_ENV"); env != "production" {
		logger.Warn("node monitor is not running in production mode", zap.String("app_env", env))
	}

	backend, err := storage.Open(cfg.Database, logger)
	if err != nil {
		logger.Error("failed to open database", zap.Error(err))
		os.Exit(1)
	}
	db := storage.NewMonitorDB(backend, logger)
	defer db.Close()

	collector.InitMetrics()

	fetcher := directory.NewFetcher(cfg.Collector.NodeListURL, cfg.Collector.ProbeTimeout(), logger)
	prober := collector.NewDaemonProber(cfg.Collector.ProbeTimeout(), logger)
	c := collector.NewCollector(cfg.Collector, fetcher, prober, db, logger)
	c.AddListener(collector.NewLogListener(logger))

	hubCtx, cancelHub := context.WithCancel(context.Background())
	defer cancelHub()

	var server *api.Server
	if cfg.Server.HTTPPort > 0 {
		httpAPI, apiErr := api.NewHTTPAPI(db, cfg.Server.AuthToken, cfg.Collector.MinVersion, cfg.Collector.PollingInterval(), logger)
		if apiErr != nil {
			logger.Error("failed to configure http api", zap.Error(apiErr))
			os.Exit(1)
		}
		hub := api.NewHub(hubCtx, cfg.Server.AuthToken, cfg.Server.AllowedOrigins, logger)
		httpAPI.SetHealthChecker(api.NewHealthChecker(db, hub, c))
		c.AddListener(httpAPI)
		c.AddListener(hub)

		server = api.NewServer(httpAPI, hub, cfg.Server.HTTPPort, logger)
		if err := server.Start(); err != nil {
			logger.Error("failed to start http api", zap.Error(err))
			os.Exit(1)
		}
		logger.Info("http api configured", zap.Int("http_port", cfg.Server.HTTPPort))
	}

	var notifier *alerts.DiscordNotifier
	if token := cfg.Alerts.Discord.BotToken; token != "" {
		n, nErr := alerts.NewDiscordNotifier(token, cfg.Alerts.Discord.ChannelID, logger)
		if nErr != nil {
			logger.Error("failed to create discord notifier", zap.Error(nErr))
		} else if startErr := n.Start(); startErr != nil {
			logger.Error("failed to start discord notifier", zap.Error(startErr))
		} else {
			notifier = n
			c.AddListener(notifier)
			logger.Info("discord alerts enabled")
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	if err := c.Start(ctx); err != nil {
		logger.Error("failed to start collector", zap.Error(err))
		os.Exit(1)
	}

	<-ctx.Done()
	logger.Info("received signal, initiating graceful shutdown")

	c.Stop()
	waitCtx, cancelWait := context.WithTimeout(context.Background(), shutdownTimeout)
	if err := c.Wait(waitCtx); err != nil {
		logger.Warn("collector cycles still running at shutdown", zap.Error(err))
	}
	cancelWait()

	if notifier != nil {
		if err := notifier.Stop(); err != nil {
			logger.Error("error stopping discord notifier", zap.Error(err))
		}
	}

	if server != nil {
		cancelHub()
		shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), shutdownTimeout)
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("error during http shutdown", zap.Error(err))
		}
		cancelShutdown()
	}

	logger.Info("node monitor exited cleanly")
}

func newLogger(cfg config.LoggingConfig) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}

	zcfg := zap.NewProductionConfig()
	if cfg.Format == "console" {
		zcfg = zap.NewDevelopmentConfig()
	}
	zcfg.Level = zap.NewAtomicLevelAt(level)
	return zcfg.Build()
}
