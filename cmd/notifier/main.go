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

	"github.com/jmoiron/sqlx"
	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/time/rate"

	"github.com/samstikhin/ulearn-notifier/config"
	"github.com/samstikhin/ulearn-notifier/internal/email"
	"github.com/samstikhin/ulearn-notifier/internal/handler/health"
	notificationHandler "github.com/samstikhin/ulearn-notifier/internal/handler/notification"
	"github.com/samstikhin/ulearn-notifier/internal/handler/prometheus"
	"github.com/samstikhin/ulearn-notifier/internal/model"
	"github.com/samstikhin/ulearn-notifier/internal/repository"
	"github.com/samstikhin/ulearn-notifier/internal/repository/memory"
	"github.com/samstikhin/ulearn-notifier/internal/repository/postgres"
	"github.com/samstikhin/ulearn-notifier/internal/router"
	"github.com/samstikhin/ulearn-notifier/internal/service/course"
	notificationService "github.com/samstikhin/ulearn-notifier/internal/service/notification"
	"github.com/samstikhin/ulearn-notifier/internal/service/planner"
	"github.com/samstikhin/ulearn-notifier/internal/transport"
	"github.com/samstikhin/ulearn-notifier/pkg/liveness"
	"github.com/samstikhin/ulearn-notifier/pkg/logger"
	"github.com/samstikhin/ulearn-notifier/pkg/messaging/redis"
	"github.com/samstikhin/ulearn-notifier/pkg/metrics"
	"github.com/samstikhin/ulearn-notifier/pkg/worker"
)

const metricsNamespace = "notifier"

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log := logger.NewLogger(cfg.ToLoggerConfig()).WithFields(map[string]interface{}{"service": cfg.Service})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if len(os.Args) > 1 && os.Args[1] == "send" {
		if err := sendOneTimeEmails(ctx, cfg, log); err != nil {
			log.Fatal(err, "One-time email sending failed")
		}
		return
	}

	if err := run(ctx, cfg, log); err != nil {
		log.Fatal(err, "Notifier stopped with error")
	}
	log.Info("Notifier stopped")
}

// sendOneTimeEmails is the `send` mode: mail the content file to every
// address in the addresses file and exit.
func sendOneTimeEmails(ctx context.Context, cfg *config.Config, log *logger.Logger) error {
	svc, err := email.NewService(cfg.ToEmailConfig(), log)
	if err != nil {
		return err
	}
	result, err := email.NewBulkSender(svc, cfg.ToBulkConfig(), log).Run(ctx)
	if err != nil {
		return err
	}
	log.Info("One-time emails sent", "sent", result.Sent, "failed", len(result.Failed))
	if len(result.Failed) > 0 {
		log.Warn("Some one-time emails were not sent", "addresses", result.Failed)
	}
	return nil
}

type stores struct {
	db            *sqlx.DB
	notifications repository.NotificationRepository
	transports    repository.TransportRepository
	deliveries    repository.DeliveryRepository
	courses       repository.CourseRepository
}

func openStores(ctx context.Context, cfg *config.Config, log *logger.Logger) (*stores, error) {
	if cfg.Notifications.Storage == "memory" {
		log.Warn("Using in-memory storage, notifications are lost on restart and no courses are known")
		store := memory.NewStore(memory.WithMaxFailures(cfg.Notifications.MaxFailures))
		return &stores{
			notifications: store,
			transports:    store,
			deliveries:    store,
			courses:       store,
		}, nil
	}

	db, err := postgres.NewDB(ctx, cfg.ToDBConfig())
	if err != nil {
		return nil, err
	}
	if cfg.Database.EnsureSchema {
		if err := postgres.EnsureSchema(ctx, db); err != nil {
			db.Close()
			return nil, err
		}
	}

	base := postgres.NewBaseRepository(db)
	return &stores{
		db:            db,
		notifications: postgres.NewNotificationRepository(base),
		transports:    postgres.NewTransportRepository(base),
		deliveries:    postgres.NewDeliveryRepository(base, cfg.Notifications.MaxFailures),
		courses:       postgres.NewCourseRepository(base),
	}, nil
}

func run(ctx context.Context, cfg *config.Config, log *logger.Logger) error {
	registry := prom.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(metricsNamespace)
	if err := m.Register(registry); err != nil {
		return err
	}
	metricsHandler := prometheus.New(registry, metricsNamespace)

	if !cfg.Notifications.Enabled {
		log.Info("Notifications are disabled, idling")
		r := router.NewRouter(log, health.NewHandler(nil, nil), metricsHandler, router.RouterConfig{})
		return serve(ctx, cfg, r, log, nil, nil)
	}

	st, err := openStores(ctx, cfg, log)
	if err != nil {
		return fmt.Errorf("failed to open storage: %w", err)
	}
	if st.db != nil {
		defer st.db.Close()
	}

	heartbeat := liveness.NewHeartbeat(m.LastHeartbeat)
	reporters := liveness.Multi{heartbeat}

	var broker *redis.RedisBroker
	if cfg.Redis.URL != "" {
		client, err := redis.NewClient(ctx, cfg.ToBrokerConfig())
		if err != nil {
			return err
		}
		// The broker owns the client and closes it.
		broker = redis.NewRedisBroker(client, cfg.ToBrokerConfig(), log)
		defer broker.Close()
		reporters = append(reporters, liveness.NewRedisReporter(client, cfg.Service, log))
	}

	mailService, err := email.NewService(cfg.ToEmailConfig(), log)
	if err != nil {
		return err
	}
	formatter := transport.PlainFormatter{BaseURL: cfg.Email.BaseURL}
	senders := transport.NewRegistry().
		Register(model.TransportMail, transport.NewMailSender(mailService, formatter, cfg.Email.RatePerSecond))
	if cfg.ChatBot.Enabled {
		senders.Register(model.TransportChatBot, transport.NewChatBotSender(broker, cfg.ChatBot.Channel, formatter))
	}

	p := planner.NewPlanner(st.notifications, st.transports, cfg.ToPlannerConfig(), log, m)
	resolver := course.NewResolver(st.courses, cfg.ToCourseConfig())
	dispatcher := worker.NewDispatcher(p, st.deliveries, resolver, senders, reporters, cfg.ToDispatcherConfig(), log, m)

	svc := notificationService.NewService(st.notifications, st.transports, log)

	var limit rate.Limit
	if cfg.RateLimit.Enabled {
		limit = rate.Limit(cfg.RateLimit.RequestsPerSecond)
	}
	var pinger health.Pinger
	if st.db != nil {
		pinger = st.db
	}
	r := router.NewRouter(log,
		health.NewHandler(pinger, heartbeat),
		metricsHandler,
		router.RouterConfig{RateLimit: limit, RateBurst: cfg.RateLimit.Burst},
		notificationHandler.NewHandler(svc),
	)

	loopCtx, stopLoop := context.WithCancel(ctx)
	defer stopLoop()
	done := make(chan struct{})
	go func() {
		defer close(done)
		log.Info("Dispatch loop started",
			"storage", cfg.Notifications.Storage,
			"workers", cfg.Notifications.Workers,
			"chat_bot", cfg.ChatBot.Enabled)
		dispatcher.Run(loopCtx)
	}()

	if cfg.Notifications.Retention > 0 {
		cleanup := worker.NewCleanupWorker(st.deliveries, cfg.Notifications.Retention, cfg.Notifications.CleanupInterval, log, m)
		go cleanup.Start(loopCtx)
	}

	return serve(ctx, cfg, r, log, stopLoop, done)
}

// serve runs the HTTP server until ctx is cancelled or the server fails, then
// stops the dispatch loop and waits for loopDone so in-flight sends are marked
// before storage is closed.
func serve(ctx context.Context, cfg *config.Config, r *router.Router, log *logger.Logger, stopLoop context.CancelFunc, loopDone <-chan struct{}) error {
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      r.Engine(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("HTTP server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	var serveErr error
	select {
	case <-ctx.Done():
		log.Info("Shutting down")
	case serveErr = <-errCh:
	}

	if stopLoop != nil {
		stopLoop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error(err, "HTTP server shutdown failed")
	}

	if loopDone != nil {
		select {
		case <-loopDone:
		case <-shutdownCtx.Done():
			log.Warn("Dispatch loop did not stop in time, unfinished deliveries are retried after their lease")
		}
	}
	return serveErr
}
