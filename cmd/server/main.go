// Commissions negotiation service entrypoint
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/kalaikatha/commissions/internal/alerts"
	"github.com/kalaikatha/commissions/internal/api"
	"github.com/kalaikatha/commissions/internal/config"
	"github.com/kalaikatha/commissions/internal/db"
	"github.com/kalaikatha/commissions/internal/events"
	"github.com/kalaikatha/commissions/internal/metrics"
	"github.com/kalaikatha/commissions/internal/negotiation"
	"github.com/kalaikatha/commissions/internal/notifications"
	"github.com/kalaikatha/commissions/internal/registry"
	"github.com/kalaikatha/commissions/internal/scheduler"
)

func main() {
	configPath := flag.String("config", "", "Path to config file (default: ./configs/config.yaml)")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logFormat := "json"
	if cfg.App.Environment == "development" {
		logFormat = "console"
	}
	config.InitLogger(cfg.App.LogLevel, logFormat)

	log.Info().
		Str("version", config.Version).
		Str("environment", cfg.App.Environment).
		Msg("Starting Kalaikatha commissions service")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Pull secrets from Vault when configured. Env and file config still
	// apply for anything Vault does not hold.
	vaultCfg := config.VaultConfigFromEnv()
	if vaultCfg.Enabled {
		if err := config.LoadSecretsFromVault(ctx, cfg, vaultCfg); err != nil {
			log.Fatal().Err(err).Msg("Failed to load secrets from Vault")
		}
		log.Info().Str("address", vaultCfg.Address).Msg("Loaded secrets from Vault")
	}

	// Connect to PostgreSQL
	store, err := db.New(ctx, cfg.Database.GetDSN(), int32(cfg.Database.PoolSize))
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer store.Close()
	log.Info().
		Str("host", cfg.Database.Host).
		Str("database", cfg.Database.Database).
		Msg("Connected to PostgreSQL")

	// Seller registry with Redis read-through cache. A dead Redis degrades
	// to direct store reads, so connection errors are not fatal.
	var reg registry.Registry = registry.NewStoreRegistry(store)
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.GetRedisAddr(),
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := redisClient.Ping(ctx).Err(); err != nil {
		log.Warn().Err(err).Msg("Redis unavailable, registry cache disabled")
	} else {
		reg = registry.NewCachedRegistry(reg, redisClient, cfg.Redis.GetCacheTTL())
		log.Info().Str("addr", cfg.Redis.GetRedisAddr()).Msg("Registry cache enabled")
	}

	// Connect to NATS for negotiation events
	dispatcher, err := events.NewNATSDispatcher(events.NATSDispatcherConfig{
		URL:    cfg.NATS.URL,
		Prefix: cfg.NATS.Subject,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to NATS")
	}
	defer dispatcher.Close()
	log.Info().Str("url", cfg.NATS.URL).Msg("Connected to NATS")

	// Operator alerting
	alerters := []alerts.Alerter{alerts.NewLogAlerter()}
	if cfg.Alerts.TelegramBotToken != "" {
		tg, err := alerts.NewTelegramAlerter(cfg.Alerts.TelegramBotToken, cfg.Alerts.TelegramChatIDs)
		if err != nil {
			log.Error().Err(err).Msg("Failed to initialize Telegram alerter")
		} else {
			alerters = append(alerters, tg)
			log.Info().Int("chats", len(cfg.Alerts.TelegramChatIDs)).Msg("Telegram alerting enabled")
		}
	}
	alertManager := alerts.NewManager(alerters...)

	// Negotiation engine
	strategy := negotiation.NewMidpointStrategy(int64(cfg.Negotiation.MinIncrementBps))
	manager := negotiation.NewManager(store, reg, dispatcher, strategy, negotiation.Options{
		MinIncrementBps: int64(cfg.Negotiation.MinIncrementBps),
		DefaultStyle:    cfg.Negotiation.DefaultStyle,
		StoreTimeout:    cfg.Negotiation.GetStoreTimeout(),
		OfferBuffer:     cfg.Negotiation.OfferBuffer,
	})
	if err := manager.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("Failed to start negotiation manager")
	}

	// Deadline scheduler
	sched := scheduler.New(store, manager, alertManager, scheduler.Config{
		PollInterval: cfg.Scheduler.GetPollInterval(),
		BatchSize:    cfg.Scheduler.BatchSize,
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := sched.Run(gctx); err != nil && err != context.Canceled {
			return fmt.Errorf("scheduler: %w", err)
		}
		return nil
	})

	// Push notifications: FCM backend plus the event bridge that forwards
	// negotiation events to buyer and seller devices
	var notifier notifications.Service
	var bridge *notifications.Bridge
	if cfg.Notifications.Enabled {
		backend, err := notifications.NewFCMBackend(ctx, cfg.Notifications.FCMCredentialsPath)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to initialize FCM backend")
		}
		svc := notifications.NewServiceWithBreaker(store.Pool(), backend, notifications.BreakerSettings{
			MinRequests:  uint32(cfg.Notifications.BreakerMinRequests),
			FailureRatio: cfg.Notifications.BreakerFailureRatio,
			OpenTimeout:  cfg.Notifications.GetBreakerOpenTimeout(),
		})
		notifier = svc
		defer svc.Close()

		bridge = notifications.NewBridge(dispatcher, svc)
		if err := bridge.Start(); err != nil {
			log.Fatal().Err(err).Msg("Failed to start notification bridge")
		}
		log.Info().Str("backend", backend.Name()).Msg("Push notifications enabled")
	} else {
		log.Info().Msg("Push notifications disabled")
	}

	// REST API
	server := api.NewServer(api.Config{
		Host:      cfg.API.Host,
		Port:      cfg.API.Port,
		Store:     store,
		Sessions:  manager,
		Registry:  reg,
		Notifier:  notifier,
		RateLimit: cfg.API.RateLimitRPS,
		RateBurst: cfg.API.RateLimitBurst,
	})
	g.Go(func() error {
		if err := server.Start(); err != nil {
			return fmt.Errorf("api server: %w", err)
		}
		return nil
	})
	log.Info().Str("addr", cfg.API.GetAPIAddr()).Msg("API server listening")

	// Prometheus metrics endpoint
	var metricsServer *metrics.Server
	if cfg.Monitoring.EnableMetrics {
		metricsServer = metrics.NewServer(cfg.Monitoring.PrometheusPort, config.NewLogger("metrics"))
		go func() {
			if err := metricsServer.Start(); err != nil {
				log.Error().Err(err).Msg("Metrics server error")
			}
		}()
	}

	// Wait for shutdown signal or a fatal component error
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		log.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
	case <-gctx.Done():
		log.Error().Msg("Background component failed, shutting down")
	}

	log.Info().Msg("Initiating graceful shutdown...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Stop(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Error stopping API server")
	}
	if bridge != nil {
		if err := bridge.Stop(); err != nil {
			log.Error().Err(err).Msg("Error stopping notification bridge")
		}
	}
	if err := manager.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Error stopping negotiation manager")
	}
	if metricsServer != nil {
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Error stopping metrics server")
		}
	}

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("Component error during run")
	}

	log.Info().Msg("Shutdown complete")
}
