package main

import (
	"atme/attachment"
	"atme/auth"
	"atme/directory"
	"atme/internal"
	"atme/moderation"
	"atme/notification"
	"atme/observability"
	"atme/repositories"
	"atme/runtime"
	"atme/runtime/workers"
	"atme/services"
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/blugelabs/bluge"
	"github.com/dgraph-io/badger/v4"
	"github.com/mama165/sdk-go/database"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"
)

// app owns every long lived component of one CLI invocation.
type app struct {
	config        internal.Config
	log           *slog.Logger
	db            *badger.DB
	index         *bluge.Writer
	registry      *prometheus.Registry
	messages      *repositories.MessageRepository
	users         *repositories.UserRepository
	store         *runtime.ConversationStore
	messageLog    *runtime.MessageLog
	directory     *directory.Directory
	attachments   *attachment.CachedStore
	fanout        *notification.Fanout
	supervisor    *workers.Supervisor
	metricsServer *http.Server
	accounts      *services.AccountService
	conversations *services.ConversationService
}

func newApp(ctx context.Context, config internal.Config, logger *slog.Logger) (_ *app, err error) {
	a := &app{config: config, log: logger, registry: prometheus.NewRegistry()}
	defer func() {
		if err != nil {
			a.close()
		}
	}()

	a.db, err = badger.Open(buildBadgerOpts(config, logger, ctx))
	if err != nil {
		return nil, fmt.Errorf("database opening failed: %w", err)
	}
	if logger.Enabled(ctx, slog.LevelDebug) {
		endpoint := "/inspect"
		logger.Info("Debug Badger inspector available", "url", fmt.Sprintf("http://localhost:%d%s", config.DebugPort, endpoint))
		database.StartDebugServer(a.db, config.DebugPort, endpoint, RecordMapper)
	}

	a.index, err = bluge.OpenWriter(bluge.DefaultConfig(config.BlugeFilepath))
	if err != nil {
		return nil, fmt.Errorf("failed to open bluge writer: %w", err)
	}

	metrics := observability.NewMetrics(a.registry)
	a.messages = repositories.NewMessageRepository(a.db, logger, metrics)
	a.users = repositories.NewUserRepository(a.db)
	a.store = runtime.NewConversationStore(logger, repositories.NewConversationRepository(a.db, logger), metrics)
	a.messageLog = runtime.NewMessageLog(logger, a.messages, metrics)

	a.directory = directory.NewDirectory(logger, a.index, a.users, config.SearchLimit)
	if err = a.directory.Rebuild(ctx); err != nil {
		return nil, err
	}

	a.attachments, err = attachment.NewCachedStore(attachment.NewDiskStore(config.AttachmentDir, logger), config.CacheMaxBytes, logger)
	if err != nil {
		return nil, fmt.Errorf("attachment cache: %w", err)
	}

	a.fanout = notification.NewFanout(logger, config.NotificationBufferSize, metrics)
	if err = a.startNotificationWorkers(ctx, metrics); err != nil {
		return nil, err
	}
	a.serveMetrics()

	a.accounts = services.NewAccountService(logger, a.users, a.store, a.directory,
		auth.NewTokenIssuer(config.AuthSecret, config.AuthTokenDuration)).
		WithPictures(a.attachments).
		WithCaches(a.attachments)
	moderator, err := moderation.NewModerator(moderation.ParseWords(config.ModerationWords), config.Replacement(), logger)
	if err != nil {
		return nil, fmt.Errorf("moderation setup failed: %w", err)
	}
	a.conversations = services.NewConversationService(logger, a.users, a.store, a.messageLog, a.store, a.fanout, metrics).
		WithWindowSize(config.WindowSize).
		WithAttachments(a.attachments).
		WithFilter(moderator)
	return a, nil
}

// startNotificationWorkers runs the push workers under supervision. They
// share one limiter so the gateway sees a single rate.
func (a *app) startNotificationWorkers(ctx context.Context, metrics *observability.Metrics) error {
	gatewayConfig, err := notification.LoadGatewayConfig()
	if err != nil {
		return fmt.Errorf("push config error: %w", err)
	}
	gateway := notification.NewGateway(gatewayConfig, nil)
	limiter := rate.NewLimiter(rate.Limit(gatewayConfig.Rate), gatewayConfig.Burst)

	a.supervisor = workers.NewSupervisor(a.log, a.config.RestartInterval)
	for i := 0; i < a.config.NotificationWorkers; i++ {
		a.supervisor.Add(workers.NewNotificationWorker(a.log, a.fanout.Jobs(), gateway, limiter, metrics).
			WithName(fmt.Sprintf("notification-%d", i)))
	}
	go a.supervisor.Run(ctx)
	return nil
}

func (a *app) serveMetrics() {
	if a.config.MetricsAddr == "" {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{}))
	a.metricsServer = &http.Server{Addr: a.config.MetricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		a.log.Info("Serving metrics", "address", a.config.MetricsAddr)
		if err := a.metricsServer.ListenAndServe(); err != nil && !stderrors.Is(err, http.ErrServerClosed) {
			a.log.Warn("Metrics server stopped", "error", err)
		}
	}()
}

func (a *app) close() {
	if a.supervisor != nil {
		a.supervisor.Stop()
	}
	if a.metricsServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		_ = a.metricsServer.Shutdown(ctx)
		cancel()
	}
	if a.attachments != nil {
		a.attachments.Close()
	}
	if a.index != nil {
		a.log.Info("Closing Bluge...")
		_ = a.index.Close()
	}
	if a.messages != nil {
		_ = a.messages.Close()
	}
	if a.db != nil {
		a.log.Info("Closing BadgerDB...")
		_ = a.db.Close()
	}
}

func buildBadgerOpts(config internal.Config, logger *slog.Logger, ctx context.Context) badger.Options {
	options := badger.DefaultOptions(config.BadgerFilepath)
	if logger.Enabled(ctx, slog.LevelDebug) {
		return options.WithLoggingLevel(badger.DEBUG)
	}
	return options.WithLoggingLevel(badger.WARNING)
}
