package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/mFahadNoor/whop-ai-support-sub000/internal/agent"
	"github.com/mFahadNoor/whop-ai-support-sub000/internal/channels"
	"github.com/mFahadNoor/whop-ai-support-sub000/internal/channels/whop"
	"github.com/mFahadNoor/whop-ai-support-sub000/internal/gateway"
	httpapi "github.com/mFahadNoor/whop-ai-support-sub000/internal/http"
	"github.com/mFahadNoor/whop-ai-support-sub000/internal/ingest"
	"github.com/mFahadNoor/whop-ai-support-sub000/internal/retry"
	"github.com/mFahadNoor/whop-ai-support-sub000/internal/sessions"
	"github.com/mFahadNoor/whop-ai-support-sub000/internal/tenants"
	"github.com/mFahadNoor/whop-ai-support-sub000/internal/tracing"
	"github.com/mFahadNoor/whop-ai-support-sub000/pkg/protocol"
)

func runGateway() error {
	cfg, err := loadConfig()
	if err != nil {
		setupLogging("info")
		slog.Error("failed to load config", "error", err)
		return err
	}
	setupLogging(cfg.LogLevel)

	if err := cfg.RequireSecrets(); err != nil {
		slog.Error("missing required secrets", "error", err)
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Tracing
	shutdownTracing, err := tracing.Setup(ctx, tracing.Options{
		Enabled:     cfg.Telemetry.Enabled,
		Endpoint:    cfg.Telemetry.Endpoint,
		Protocol:    cfg.Telemetry.Protocol,
		Insecure:    cfg.Telemetry.Insecure,
		ServiceName: cfg.Telemetry.ServiceName,
		Version:     Version,
	})
	if err != nil {
		slog.Error("tracing setup failed", "error", err)
		return err
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			slog.Warn("tracing shutdown failed", "error", err)
		}
	}()

	// Stores
	stores, err := openStores(cfg)
	if err != nil {
		slog.Error("failed to open store", "error", err)
		return err
	}
	defer stores.Close()

	// Platform REST client: outbound sends plus the channel-group directory.
	client := whop.NewClient(whop.ClientConfig{
		APIBase:           cfg.Platform.APIBase,
		Token:             cfg.Platform.Token,
		RequestsPerSecond: cfg.Platform.RequestsPerSecond,
	})

	// Caches. Both are invalidated together on any tenant config write.
	answers, err := agent.NewAnswerCache(cfg.Cache.AnswerMaxEntries, cfg.Cache.AnswerTTL.D())
	if err != nil {
		slog.Error("failed to create answer cache", "error", err)
		return err
	}
	defer answers.Close()
	configs := tenants.NewConfigCache(stores.Tenants, cfg.Cache.ConfigTTL.D())
	invalidator := cacheInvalidator{configs: configs, answers: answers}

	// Tenant resolution. Warm the map before the stream connects.
	resolver := tenants.NewResolver(stores.Mappings, client, invalidator, tenants.BufferConfig{
		Size:        cfg.Buffer.Size,
		MaxAttempts: cfg.Buffer.MaxAttempts,
		BaseDelay:   cfg.Buffer.BaseDelay.D(),
		MaxDelay:    cfg.Buffer.MaxDelay.D(),
	})
	defer resolver.Close()
	if n, err := resolver.LoadFromStore(ctx); err != nil {
		slog.Warn("could not load tenant mappings", "error", err)
	} else {
		slog.Info("tenant mappings loaded", "count", n)
	}

	var watcher *tenants.OverrideWatcher
	if dir := cfg.Tenants.OverridesDir; dir != "" {
		watcher = tenants.NewOverrideWatcher(dir, stores.Tenants, invalidator)
		if n, err := watcher.LoadAll(ctx); err != nil {
			slog.Warn("tenant overrides not loaded", "dir", dir, "error", err)
		} else if n > 0 {
			slog.Info("tenant overrides applied", "dir", dir, "count", n)
		}
	}

	// AI
	provider, err := buildProvider(cfg)
	if err != nil {
		slog.Error("failed to create provider", "error", err)
		return err
	}
	limiter := channels.NewRateLimiter()
	engine := buildEngine(cfg, provider, limiter, answers)

	outbound, err := channels.NewManager(client, limiter, channels.ManagerConfig{
		SendsPerWindow:   cfg.Limits.SendsPerMin,
		Window:           time.Minute,
		MaxMessageLength: cfg.Bot.MaxMessageLength,
		Retry: retry.Config{
			Attempts: cfg.Limits.SendAttempts,
			MinDelay: cfg.Limits.SendBaseDelay.D(),
			MaxDelay: cfg.Limits.SendMaxDelay.D(),
			Jitter:   0.2,
		},
		TrackedMessages: cfg.Bot.TrackedMessages,
	})
	if err != nil {
		slog.Error("failed to create outbound manager", "error", err)
		return err
	}

	coord, err := gateway.NewCoordinator(gateway.Deps{
		Ingest: ingest.NewDeduplicator(ingest.Config{
			BotUserID:       cfg.Platform.BotUserID,
			SeenSize:        cfg.Bot.DedupSize,
			DuplicateWindow: cfg.Bot.DuplicateWindow.D(),
			HistorySize:     cfg.Bot.FeedHistorySize,
		}, resolver),
		Resolver: resolver,
		Configs:  configs,
		Engine:   engine,
		Outbound: outbound,
		Contexts: sessions.NewManager(cfg.Bot.ContextSize, cfg.Bot.ContextTTL.D()),
		Classifier: agent.HeuristicClassifier{
			BotUserID:   cfg.Platform.BotUserID,
			BotUsername: cfg.Platform.BotUsername,
		},
		Limiter: limiter,
	}, gateway.CoordinatorConfig{
		AdminUserID:          cfg.Bot.AdminUserID,
		ResetCommand:         cfg.Bot.ResetCommand,
		ResetAck:             cfg.Bot.ResetAck,
		NotConfiguredMessage: cfg.Bot.NotConfiguredMessage,
		MaxConcurrent:        cfg.Bot.MaxConcurrent,
		InflightGrace:        cfg.Bot.InflightGrace.D(),
		CompletedKeys:        cfg.Bot.CompletedKeys,
		FeedHistoryMaxAge:    cfg.Bot.FeedHistoryMaxAge.D(),
	})
	if err != nil {
		slog.Error("failed to create coordinator", "error", err)
		return err
	}

	stopScheduler, err := startScheduler(ctx, coord, cfg)
	if err != nil {
		slog.Error("failed to start scheduler", "error", err)
		return err
	}
	defer stopScheduler()

	listener := whop.NewListener(whop.ListenerConfig{
		URL:         cfg.Platform.StreamURL,
		Token:       cfg.Platform.Token,
		MaxAttempts: cfg.Platform.StreamMaxAttempts,
		BaseDelay:   cfg.Platform.StreamBaseDelay.D(),
		MaxDelay:    cfg.Platform.StreamMaxDelay.D(),
	})

	server := gateway.NewServer(cfg.Gateway.Addr(),
		httpapi.NewTenantsHandler(stores.Tenants, stores.Mappings, invalidator, cfg.Gateway.Token),
		func() gateway.HealthStatus {
			status := "ok"
			if !listener.Connected() {
				status = "degraded"
			}
			return gateway.HealthStatus{
				Status:          status,
				StreamConnected: listener.Connected(),
				Mappings:        resolver.Len(),
				Pending:         resolver.PendingCount(),
			}
		})

	slog.Info("supportbot starting",
		"version", Version,
		"protocol", protocol.ProtocolVersion,
		"mode", cfg.Database.Mode,
		"provider", provider.Name(),
		"admin_addr", cfg.Gateway.Addr(),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return listener.Run(gctx) })
	g.Go(func() error { return coord.Run(gctx, listener.Envelopes()) })
	g.Go(func() error { return server.Start(gctx) })
	if watcher != nil {
		g.Go(func() error {
			if err := watcher.Run(gctx); err != nil {
				slog.Warn("tenant override watcher stopped", "error", err)
			}
			return nil
		})
	}

	err = g.Wait()
	switch {
	case errors.Is(err, whop.ErrReconnectExhausted):
		slog.Error("event stream lost, exiting for restart", "error", err)
		return err
	case err != nil:
		slog.Error("supportbot stopped with error", "error", err)
		return fmt.Errorf("supportbot: %w", err)
	}
	slog.Info("supportbot stopped")
	return nil
}
