package main

import (
	"context"
	stderrors "errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"go.uber.org/multierr"

	"github.com/pratik-mahalle/vitalsync/internal/api/handlers"
	"github.com/pratik-mahalle/vitalsync/internal/api/router"
	"github.com/pratik-mahalle/vitalsync/internal/auth"
	"github.com/pratik-mahalle/vitalsync/internal/config"
	"github.com/pratik-mahalle/vitalsync/internal/domain/syncjob"
	"github.com/pratik-mahalle/vitalsync/internal/fhirstore"
	"github.com/pratik-mahalle/vitalsync/internal/pkg/logger"
	"github.com/pratik-mahalle/vitalsync/internal/pkg/validator"
	"github.com/pratik-mahalle/vitalsync/internal/providers"
	"github.com/pratik-mahalle/vitalsync/internal/queue"
	"github.com/pratik-mahalle/vitalsync/internal/repository/postgres"
	"github.com/pratik-mahalle/vitalsync/internal/sealed"
	"github.com/pratik-mahalle/vitalsync/internal/services"
	"github.com/pratik-mahalle/vitalsync/internal/statestore"
	"github.com/pratik-mahalle/vitalsync/internal/synclock"
	"github.com/pratik-mahalle/vitalsync/internal/worker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(logger.Config{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		OutputPath: cfg.Logging.OutputPath,
	})

	if err := run(cfg, log); err != nil {
		log.ErrorWithErr(err, "Server stopped with error")
		os.Exit(1)
	}
}

func run(cfg *config.Config, log *logger.Logger) (err error) {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Database
	db, err := postgres.New(cfg.Database)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer func() { err = multierr.Append(err, db.Close()) }()

	if err := postgres.RunMigrations(db, cfg.Database); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	log.With("driver", cfg.Database.Driver).Info("Database ready")

	integrationRepo := postgres.NewIntegrationRepository(db, cfg.Database.Driver)
	credentialRepo := postgres.NewCredentialRepository(db, cfg.Database.Driver)
	jobRepo := postgres.NewSyncJobRepository(db, cfg.Database.Driver)
	ledgerRepo := postgres.NewLedgerRepository(db, cfg.Database.Driver)

	// Sealed credentials
	keyring, err := sealed.ParseKeyring(cfg.Security.EncryptionKey, cfg.Security.RetiredKeys)
	if err != nil {
		return fmt.Errorf("load encryption keys: %w", err)
	}
	cipher, err := sealed.CipherByName(cfg.Security.Cipher)
	if err != nil {
		return err
	}
	creds := sealed.NewStore(credentialRepo, sealed.NewSealer(keyring, cipher), log)

	// Short-lived coordination state lives in redis when several replicas
	// share the work, in memory otherwise.
	var states statestore.Store = statestore.NewMemory()
	var locker synclock.Locker = synclock.NewMemory()
	checks := map[string]handlers.Check{"database": db.PingContext}
	if cfg.Redis.Enabled {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr(),
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer func() { err = multierr.Append(err, rdb.Close()) }()
		if err := rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("connect redis: %w", err)
		}
		states = statestore.NewRedis(rdb)
		locker = synclock.NewRedis(rdb)
		checks["redis"] = func(ctx context.Context) error { return rdb.Ping(ctx).Err() }
		log.With("addr", cfg.Redis.Addr()).Info("Redis ready")
	}

	registry := newRegistry(cfg.Vendors, cfg.Sync.CallTimeout, log)
	store := fhirstore.New(fhirstore.Config{
		BaseURL:          cfg.FHIR.BaseURL,
		BearerToken:      cfg.FHIR.BearerToken,
		IdentifierSystem: cfg.FHIR.IdentifierSystem,
		Timeout:          cfg.FHIR.Timeout,
	})

	// Services
	signer := auth.NewStateSigner(cfg.Security.StateSecret, cfg.Security.StateTTL)
	integrationService := services.NewIntegrationService(
		integrationRepo, creds, jobRepo, registry, states, signer, cfg.Sync.RefreshMargin, log,
	)
	tokenService := services.NewTokenService(creds, registry, cfg.Sync.RefreshMargin, cfg.Sync.CallTimeout, log)
	syncService := services.NewSyncService(
		integrationService, integrationRepo, tokenService, registry, store, ledgerRepo, locker, cfg.Sync, log,
	)
	observationService := services.NewObservationService(store, log)

	// Queue backend
	var (
		jobQueue  syncjob.Queue
		dbQueue   *queue.Database
		asynqQ    *queue.Asynq
		redisOpts asynq.RedisClientOpt
	)
	switch cfg.Sync.QueueBackend {
	case queue.BackendRedis:
		redisOpts = queue.RedisOpt(cfg.Redis)
		asynqQ = queue.NewAsynq(redisOpts, log)
		defer func() { err = multierr.Append(err, asynqQ.Close()) }()
		jobQueue = asynqQ
	default:
		dbQueue = queue.NewDatabase()
		jobQueue = dbQueue
	}

	jobService := services.NewSyncJobService(
		jobRepo, integrationRepo, registry, syncService, jobQueue, cfg.Sync, log,
	)

	workersDone := startWorkers(ctx, cfg, log, jobRepo, jobService, dbQueue, redisOpts)

	if cfg.Sync.ScheduleEnabled {
		if err := jobService.Start(ctx); err != nil {
			return fmt.Errorf("start scheduler: %w", err)
		}
		defer jobService.Stop()
	}

	// HTTP
	val := validator.New()
	h := &router.Handlers{
		Health:      handlers.NewHealthHandler(checks, log),
		Integration: handlers.NewIntegrationHandler(integrationService, log, val, callbackRedirect(cfg)),
		Sync:        handlers.NewSyncHandler(syncService, jobService, log, val),
		Observation: handlers.NewObservationHandler(observationService, log, val),
	}

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router.New(cfg, log, h),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.WithFields(map[string]interface{}{
			"addr":        server.Addr,
			"environment": cfg.Server.Environment,
			"vendors":     registry.Vendors(),
			"queue":       cfg.Sync.QueueBackend,
		}).Info("API server starting")
		if err := server.ListenAndServe(); err != nil && !stderrors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		stop()
		<-workersDone
		return err
	case <-ctx.Done():
	}

	log.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	err = multierr.Append(err, server.Shutdown(shutdownCtx))
	select {
	case <-workersDone:
	case <-shutdownCtx.Done():
		log.Warn("Workers did not finish before the shutdown timeout")
	}
	return err
}

// startWorkers runs the job consumer for the configured backend. The
// returned channel closes once the consumer has stopped after ctx ends.
func startWorkers(
	ctx context.Context,
	cfg *config.Config,
	log *logger.Logger,
	jobs syncjob.Repository,
	service syncjob.Service,
	dbQueue *queue.Database,
	redisOpts asynq.RedisClientOpt,
) <-chan struct{} {
	done := make(chan struct{})

	if dbQueue != nil {
		w := worker.NewSyncWorker(jobs, service, cfg.Sync.WorkerConcurrency, cfg.Sync.WorkerPoll, dbQueue.Wake(), log)
		go func() {
			defer close(done)
			w.Start(ctx)
		}()
		return done
	}

	srv := queue.NewServer(redisOpts, cfg.Sync.WorkerConcurrency, log)
	handler := queue.NewHandler(jobs, service, log)
	go func() {
		defer close(done)
		if err := srv.Start(handler.Mux()); err != nil {
			log.ErrorWithErr(err, "Task server failed to start")
			return
		}
		<-ctx.Done()
		srv.Shutdown()
	}()
	return done
}

// newRegistry registers every enabled vendor
func newRegistry(cfg config.VendorsConfig, callTimeout time.Duration, log *logger.Logger) *providers.Registry {
	registry := providers.NewRegistry()

	if cfg.Fitbit.Enabled {
		client := providers.NewFitbit(apiOptions(cfg.Fitbit, callTimeout))
		registry.Register(client, providers.NewFitbitConnector(oauthConfig(cfg.Fitbit), client))
	}
	if cfg.Oura.Enabled {
		client := providers.NewOura(apiOptions(cfg.Oura, callTimeout))
		registry.Register(client, providers.NewOuraConnector(oauthConfig(cfg.Oura), client))
	}

	if len(registry.Vendors()) == 0 {
		log.Warn("No vendors enabled")
	}
	return registry
}

func apiOptions(v config.VendorConfig, callTimeout time.Duration) providers.Options {
	return providers.Options{
		BaseURL:           v.APIBaseURL,
		RequestsPerSecond: v.RequestsPerSecond,
		Burst:             v.Burst,
		CallTimeout:       callTimeout,
	}
}

func oauthConfig(v config.VendorConfig) providers.OAuthConfig {
	return providers.OAuthConfig{
		ClientID:     v.ClientID,
		ClientSecret: v.ClientSecret,
		RedirectURL:  v.RedirectURL,
		AuthURL:      v.AuthURL,
		TokenURL:     v.TokenURL,
		Scopes:       v.Scopes,
	}
}

// callbackRedirect is where the browser lands after the OAuth callback: the
// first configured frontend origin. Empty means a JSON answer.
func callbackRedirect(cfg *config.Config) string {
	first, _, _ := strings.Cut(cfg.Server.FrontendURL, ",")
	return strings.TrimSpace(first)
}
