package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"

	"github.com/nodeflow-ai/nodeflow/internal/domain/repositories"
	"github.com/nodeflow-ai/nodeflow/internal/domain/services"
	"github.com/nodeflow-ai/nodeflow/internal/engine/approval"
	"github.com/nodeflow-ai/nodeflow/internal/engine/archive"
	"github.com/nodeflow-ai/nodeflow/internal/engine/events"
	"github.com/nodeflow-ai/nodeflow/internal/engine/form"
	_ "github.com/nodeflow-ai/nodeflow/internal/engine/handlers/actions"
	_ "github.com/nodeflow-ai/nodeflow/internal/engine/handlers/flow"
	_ "github.com/nodeflow-ai/nodeflow/internal/engine/handlers/logic"
	_ "github.com/nodeflow-ai/nodeflow/internal/engine/handlers/triggers"
	"github.com/nodeflow-ai/nodeflow/internal/engine/scheduler"
	"github.com/nodeflow-ai/nodeflow/internal/engine/state"
	"github.com/nodeflow-ai/nodeflow/internal/gateway"
	"github.com/nodeflow-ai/nodeflow/internal/pkg/clock"
	"github.com/nodeflow-ai/nodeflow/internal/pkg/config"
	"github.com/nodeflow-ai/nodeflow/internal/pkg/crypto"
	"github.com/nodeflow-ai/nodeflow/internal/pkg/database"
	"github.com/nodeflow-ai/nodeflow/internal/pkg/logger"
	"github.com/nodeflow-ai/nodeflow/internal/pkg/queue"
	pkgredis "github.com/nodeflow-ai/nodeflow/internal/pkg/redis"
)

const staleExecutionThreshold = 30 * time.Minute

// every builds a cron spec from a configured sweep interval.
func every(interval, fallback time.Duration) string {
	if interval <= 0 {
		interval = fallback
	}
	return "@every " + interval.String()
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logger.Init(cfg.App.Environment, cfg.App.Debug)

	log.Info().
		Str("app", cfg.App.Name).
		Str("environment", cfg.App.Environment).
		Msg("Starting engine")

	db, err := database.Connect(&cfg.Database, cfg.App.Debug)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	if err := database.Migrate(db); err != nil {
		log.Fatal().Err(err).Msg("Failed to run migrations")
	}

	redisClient, err := pkgredis.NewClient(&cfg.Redis)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}

	// Repositories
	flowRepo := repositories.NewFlowRepository(db)
	versionRepo := repositories.NewFlowVersionRepository(db)
	executionRepo := repositories.NewExecutionRepository(db)
	archiveRepo := repositories.NewArchiveRepository(db)
	approvalRepo := repositories.NewApprovalRepository(db)
	formRepo := repositories.NewFormRepository(db)
	credentialRepo := repositories.NewCredentialRepository(db)

	// Event bus: redis sink for cross-process delivery, websocket hub is
	// attached by the gateway.
	bus := events.NewBus(cfg.Event.SubscriberQueueDepth)
	bus.AddSink(events.NewRedisSink(redisClient))

	sysClock := clock.System()
	stateStore := state.NewRedisStore(redisClient)

	// Coordinators
	approvals := approval.NewCoordinator(approvalRepo, bus, sysClock)
	forms := form.NewCoordinator(formRepo, bus, sysClock)

	// Credentials
	encryptor := crypto.NewEncryptor(cfg.Crypto.EncryptionKey)
	credentialSvc := services.NewCredentialService(credentialRepo, encryptor)

	// Scheduler
	sched := scheduler.New(
		scheduler.Config{
			PoolSize:           cfg.Worker.PoolSize,
			PerExecutionCap:    cfg.Worker.PerExecutionCap,
			DefaultNodeTimeout: cfg.Node.DefaultTimeout,
			EnvAllowList:       cfg.Node.EnvAllowList,
		},
		executionRepo,
		versionRepo,
		stateStore,
		bus,
		credentialSvc,
		approvals,
		forms,
		sysClock,
	)

	queueClient := queue.NewClient(&cfg.Redis)
	defer queueClient.Close()
	sched.SetDelayer(queueClient)
	sched.Start()

	// Services
	flowSvc := services.NewFlowService(flowRepo, versionRepo)
	executionSvc := services.NewExecutionService(executionRepo, archiveRepo, flowSvc, queueClient, sched)

	// Archival
	archiveSvc := archive.NewService(
		repositories.NewArchiveStore(executionRepo, archiveRepo),
		stateStore,
		sysClock,
		archive.Config{
			RetentionDays: cfg.Archive.RetentionDays,
			BatchSize:     cfg.Archive.BatchSize,
			MinAge:        cfg.Archive.MinAge,
		},
	)

	// Queue server: run and delayed-resume tasks
	queueServer := queue.NewServer(&cfg.Redis, cfg.Worker.PoolSize)
	queueServer.HandleFunc(queue.TypeExecutionRun, func(ctx context.Context, task *asynq.Task) error {
		var payload queue.ExecutionRunPayload
		if err := json.Unmarshal(task.Payload(), &payload); err != nil {
			return fmt.Errorf("invalid payload: %w", err)
		}
		return sched.StartExecution(ctx, payload.ExecutionID)
	})
	queueServer.HandleFunc(queue.TypeExecutionResume, func(ctx context.Context, task *asynq.Task) error {
		var payload queue.ExecutionResumePayload
		if err := json.Unmarshal(task.Payload(), &payload); err != nil {
			return fmt.Errorf("invalid payload: %w", err)
		}
		return sched.ResumeExecution(ctx, payload.ExecutionID, map[string]interface{}{"waited": true})
	})
	if err := queueServer.Start(); err != nil {
		log.Fatal().Err(err).Msg("Failed to start queue server")
	}

	// Periodic sweeps
	sweeper := cron.New()
	sweeper.AddFunc(every(cfg.Approval.SweepInterval, time.Minute), func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		if n, err := approvals.SweepExpired(ctx); err != nil {
			log.Error().Err(err).Msg("Approval expiry sweep failed")
		} else if n > 0 {
			log.Info().Int("expired", n).Msg("Expired approvals")
		}
	})
	sweeper.AddFunc(every(cfg.Approval.SweepInterval, time.Minute), func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		if n, err := forms.SweepExpired(ctx); err != nil {
			log.Error().Err(err).Msg("Form expiry sweep failed")
		} else if n > 0 {
			log.Info().Int("deactivated", n).Msg("Deactivated expired form triggers")
		}
	})
	sweeper.AddFunc(every(cfg.Archive.SweepInterval, 5*time.Minute), func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()
		if n, err := archiveSvc.Sweep(ctx); err != nil {
			log.Error().Err(err).Msg("Archive sweep failed")
		} else if n > 0 {
			log.Info().Int("archived", n).Msg("Archived executions")
		}
		if n, err := archiveSvc.SweepRetention(ctx); err != nil {
			log.Error().Err(err).Msg("Archive retention sweep failed")
		} else if n > 0 {
			log.Info().Int64("purged", n).Msg("Purged archives past retention")
		}
	})
	sweeper.AddFunc("@every 10m", func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		if n, err := executionSvc.RecoverStale(ctx, staleExecutionThreshold); err != nil {
			log.Error().Err(err).Msg("Stale execution sweep failed")
		} else if n > 0 {
			log.Warn().Int("recovered", n).Msg("Failed stale executions")
		}
	})
	sweeper.Start()

	// Gateway
	server := gateway.NewServer(cfg, gateway.Deps{
		Flows:         flowSvc,
		Executions:    executionSvc,
		Credentials:   credentialSvc,
		Approvals:     approvals,
		Forms:         forms,
		Bus:           bus,
		ExecutionRepo: executionRepo,
		DB:            db,
		Redis:         redisClient,
	})

	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		<-quit
		log.Info().Msg("Shutting down engine...")

		sweeper.Stop()
		queueServer.Shutdown()
		sched.Stop()

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			log.Error().Err(err).Msg("Gateway shutdown error")
		}
	}()

	if err := server.Start(); err != nil {
		log.Fatal().Err(err).Msg("Gateway error")
	}
}
