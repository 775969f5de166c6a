package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	httptransport "github.com/civicq/queue-service/internal/api/http"
	"github.com/civicq/queue-service/internal/api/http/handlers"
	"github.com/civicq/queue-service/internal/auth"
	"github.com/civicq/queue-service/internal/bucket"
	"github.com/civicq/queue-service/internal/config"
	"github.com/civicq/queue-service/internal/domain"
	"github.com/civicq/queue-service/internal/events"
	"github.com/civicq/queue-service/internal/notify"
	"github.com/civicq/queue-service/internal/observability"
	"github.com/civicq/queue-service/internal/persistence"
	"github.com/civicq/queue-service/internal/repository"
	"github.com/civicq/queue-service/internal/service"
	"github.com/civicq/queue-service/internal/worker"
)

type repositories struct {
	appointments repository.AppointmentRepository
	waitlist     repository.WaitlistRepository
	departments  repository.DepartmentRepository
	audit        repository.AuditRepository
	reminders    repository.ReminderRepository
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.Logger)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pg, err := persistence.NewPostgres(ctx, cfg.Postgres, logger)
	if err != nil {
		logger.Fatal("failed to connect postgres", zap.Error(err))
	}
	defer pg.Close()

	if cfg.Postgres.RunMigrations && pg.Enabled() {
		if err := persistence.RunMigrations(ctx, pg.Pool, persistence.DefaultMigrationsDir, logger); err != nil {
			logger.Fatal("failed to run migrations", zap.Error(err))
		}
	}

	repos := buildRepositories(pg, cfg.Engine, logger)

	var redis *persistence.Redis
	var locker bucket.Locker = bucket.NewKeyedMutex()
	if cfg.Engine.LockBackend == "redis" {
		redis = persistence.NewRedis(ctx, cfg.Redis, logger)
		defer redis.Close()
		locker = bucket.NewRedisLocker(redis.Client, bucket.RedisLockerConfig{
			TTL:  cfg.Redis.LockTTL,
			Wait: cfg.Redis.LockWait,
		}, logger)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := observability.NewQueueMetrics(registry)

	dispatcher := events.NewAsyncDispatcher(events.AsyncOptions{
		BufferSize:     cfg.Notification.QueueSize,
		HandlerTimeout: cfg.Notification.SendTimeout,
		OnDrop: func(e events.Event) {
			metrics.ObserveDroppedEvent(string(e.Type))
		},
	}, logger)

	audit := service.NewAuditService(repos.audit, 256, logger)

	loc := cfg.App.Location()
	deps := service.EngineDependencies{
		AppointmentRepo:  repos.appointments,
		WaitlistRepo:     repos.waitlist,
		DepartmentRepo:   repos.departments,
		Locker:           locker,
		Dispatcher:       dispatcher,
		Audit:            audit,
		Metrics:          metrics,
		Logger:           logger,
		Location:         loc,
		MaxRetryAttempts: cfg.Engine.MaxRetryAttempts,
	}

	notifications := service.NewNotificationService(service.NotificationDependencies{
		Dispatcher:              dispatcher,
		Sender:                  buildNotifier(ctx, cfg.Notification, logger),
		Logger:                  logger,
		Metrics:                 metrics,
		Location:                loc,
		ReactivationWindowHours: cfg.Engine.ReactivationWindowHours,
	})
	notifications.RegisterHandlers()

	waitlist := service.NewWaitlistService(deps)
	booking := service.NewBookingService(deps, waitlist)
	queue := service.NewQueueService(deps)
	cancellation := service.NewCancellationService(deps, waitlist, policiesFrom(cfg.Policies))
	noShows := service.NewNoShowService(deps, waitlist, service.NoShowConfig{
		GracePeriodMinutes:      cfg.Engine.GracePeriodMinutes,
		AutoMarkNoShow:          cfg.Engine.AutoMarkNoShow,
		AllowReactivation:       cfg.Engine.AllowReactivation,
		ReactivationWindowHours: cfg.Engine.ReactivationWindowHours,
	})
	reminders := service.NewReminderService(deps, repos.reminders, cfg.Engine.ReminderLeadMinutes)

	workerCtx, stopWorkers := context.WithCancel(ctx)
	var workers sync.WaitGroup
	for _, w := range []*worker.Periodic{
		worker.NewNoShowWorker(noShows, cfg.Engine.SweepInterval, logger),
		worker.NewReminderWorker(reminders, cfg.Engine.ReminderInterval, logger),
	} {
		workers.Add(1)
		go func(p *worker.Periodic) {
			defer workers.Done()
			p.Run(workerCtx)
		}(w)
	}

	tokens := auth.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.AccessTokenTTLMinutes)

	app := fiber.New(fiber.Config{AppName: cfg.App.Name})
	httptransport.RegisterMiddlewares(app, logger, metrics, cfg.App.RequestTimeout())
	httptransport.RegisterRoutes(app, httptransport.RouteConfig{
		Health:         handlers.NewHealthHandler(cfg.App.Name, cfg.App.Version, pg, redis),
		Departments:    handlers.NewDepartmentsHandler(repos.departments, booking),
		Appointments:   handlers.NewAppointmentsHandler(booking, cancellation, noShows, queue),
		Waitlist:       handlers.NewWaitlistHandler(waitlist),
		Queue:          handlers.NewQueueHandler(queue, noShows),
		AuthMiddleware: auth.NewAuthMiddleware(tokens),
		Gatherer:       registry,
	})

	go func() {
		if err := app.Listen(cfg.App.Addr()); err != nil {
			logger.Fatal("fiber listen", zap.Error(err))
		}
	}()

	waitForShutdown(logger)

	_ = app.Shutdown()
	stopWorkers()
	workers.Wait()

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := dispatcher.Close(shutdownCtx); err != nil {
		logger.Warn("event dispatcher did not drain", zap.Error(err))
	}
	if err := audit.Close(shutdownCtx); err != nil {
		logger.Warn("audit log did not drain", zap.Error(err))
	}
}

func buildRepositories(pg *persistence.Postgres, engine config.EngineConfig, logger *zap.Logger) repositories {
	if !pg.Enabled() {
		logger.Warn("running with in-memory storage; data is lost on restart")
		store := repository.NewMemoryStore()
		for _, dept := range seedDepartments() {
			store.PutDepartment(dept)
		}
		return repositories{
			appointments: store.Appointments(),
			waitlist:     store.Waitlist(),
			departments:  store.Departments(),
			audit:        store.Audit(),
			reminders:    store.Reminders(),
		}
	}
	return repositories{
		appointments: repository.NewAppointmentRepository(pg.Pool),
		waitlist:     repository.NewWaitlistRepository(pg.Pool),
		departments: repository.NewCachedDepartmentRepository(
			repository.NewDepartmentRepository(pg.Pool), engine.DepartmentCacheSize, engine.DepartmentCacheTTL),
		audit:     repository.NewAuditRepository(pg.Pool),
		reminders: repository.NewReminderRepository(pg.Pool),
	}
}

// seedDepartments mirrors migrations/002_seed_departments.sql for in-memory runs.
func seedDepartments() []domain.Department {
	now := time.Now().UTC()
	return []domain.Department{
		{ID: "revenue", Code: "R", Name: "Revenue Office", WorkingStart: "09:00", WorkingEnd: "17:00",
			SlotDurationMinutes: 30, MaxSlotsPerTimeSlot: 4, IsActive: true, CreatedAt: now, UpdatedAt: now},
		{ID: "documents", Code: "D", Name: "Civil Documents", WorkingStart: "09:00", WorkingEnd: "16:00",
			SlotDurationMinutes: 60, MaxSlotsPerTimeSlot: 6, IsActive: true, CreatedAt: now, UpdatedAt: now},
		{ID: "licensing", Code: "L", Name: "Licensing", WorkingStart: "10:00", WorkingEnd: "16:00",
			SlotDurationMinutes: 20, MaxSlotsPerTimeSlot: 2, IsActive: true, CreatedAt: now, UpdatedAt: now},
	}
}

// buildNotifier selects the email provider. Constructors return typed nils when unconfigured.
func buildNotifier(ctx context.Context, cfg config.NotificationConfig, logger *zap.Logger) *notify.Router {
	var email notify.EmailSender
	switch cfg.EmailProvider {
	case "sendgrid":
		if s := notify.NewSendGridSender(notify.SendGridConfig{
			APIKey:    cfg.SendGridAPIKey,
			FromEmail: cfg.EmailFrom,
			FromName:  cfg.EmailFromName,
		}, logger); s != nil {
			email = s
		} else {
			logger.Warn("SENDGRID_API_KEY missing; emails are logged only")
		}
	case "ses":
		client, err := notify.NewSESClient(ctx, cfg.AWSRegion)
		if err != nil {
			logger.Warn("SES unavailable; emails are logged only", zap.Error(err))
			break
		}
		email = notify.NewSESSender(client, notify.SESConfig{
			Region:    cfg.AWSRegion,
			FromEmail: cfg.EmailFrom,
			FromName:  cfg.EmailFromName,
		}, logger)
	}
	return notify.NewRouter(email, notify.NewWebhookSender(cfg.WebhookURL, cfg.SendTimeout, logger), logger)
}

func policiesFrom(cfg config.PoliciesConfig) service.Policies {
	convert := func(name string, p config.PolicyConfig) service.CancellationPolicy {
		return service.CancellationPolicy{
			Name:             name,
			CutoffHours:      p.CutoffHours,
			RefundPercentage: p.RefundPercentage,
			CancellationFee:  p.CancellationFee,
		}
	}
	return service.Policies{
		Standard:  convert("standard", cfg.Standard),
		Premium:   convert("premium", cfg.Premium),
		Emergency: convert("emergency", cfg.Emergency),
	}
}

func waitForShutdown(logger *zap.Logger) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("shutting down", zap.String("signal", sig.String()))
}
