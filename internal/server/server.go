// Package server assembles postflow from configuration.
package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron"
	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"

	config "github.com/maheshrc27/postflow/configs"
	"github.com/maheshrc27/postflow/internal/api"
	"github.com/maheshrc27/postflow/internal/api/handlers"
	"github.com/maheshrc27/postflow/internal/credentials"
	job "github.com/maheshrc27/postflow/internal/jobs"
	"github.com/maheshrc27/postflow/internal/media"
	"github.com/maheshrc27/postflow/internal/notify"
	"github.com/maheshrc27/postflow/internal/platform"
	"github.com/maheshrc27/postflow/internal/platform/facebook"
	"github.com/maheshrc27/postflow/internal/platform/instagram"
	"github.com/maheshrc27/postflow/internal/platform/tiktok"
	"github.com/maheshrc27/postflow/internal/platform/youtube"
	"github.com/maheshrc27/postflow/internal/queue"
	"github.com/maheshrc27/postflow/internal/ratelimit"
	"github.com/maheshrc27/postflow/internal/repository"
	"github.com/maheshrc27/postflow/internal/retry"
	"github.com/maheshrc27/postflow/internal/service"
)

// Mode selects which parts of the process run.
type Mode struct {
	API    bool
	Worker bool
}

type runner interface {
	Run(ctx context.Context) error
	Counters() []queue.Counters
}

type Server struct {
	cfg  *config.Config
	mode Mode
	log  *zap.Logger

	db          *sql.DB
	redis       *redis.Client
	mongo       *mongo.Client
	asynqQueue  *queue.AsynqQueue
	dispatcher  *notify.Dispatcher
	scheduler   service.SchedulerService
	runner      runner
	reconcile   *job.ReconcileJob
	credentials *job.CredentialCheckJob
	cron        *cron.Cron
	app         *fiber.App
}

func New(ctx context.Context, cfg *config.Config, db *sql.DB, mode Mode, log *zap.Logger) (*Server, error) {
	if cfg.Queue.Backend == config.QueueBackendMemory && !(mode.API && mode.Worker) {
		return nil, errors.New("the memory queue needs the API and the worker in one process")
	}

	s := &Server{cfg: cfg, mode: mode, log: log, db: db}
	if err := s.build(ctx); err != nil {
		s.closeClients(context.Background())
		return nil, err
	}
	return s, nil
}

func (s *Server) build(ctx context.Context) error {
	cfg := s.cfg

	posts := repository.NewPostRepository(s.db)
	accounts := repository.NewAccountRepository(s.db)
	jobs := repository.NewJobRepository(s.db)
	history := repository.NewPostingHistoryRepository(s.db)
	assets := repository.NewMediaAssetRepository(s.db)

	registry, err := platform.NewRegistry(
		facebook.New(cfg.Platforms.FacebookBaseURL, nil),
		instagram.New(instagram.Options{BaseURL: cfg.Platforms.InstagramBaseURL}, nil),
		tiktok.New(tiktok.Options{BaseURL: cfg.Platforms.TiktokBaseURL}, nil),
		youtube.New(youtube.Options{Endpoint: cfg.Platforms.YoutubeEndpoint, TempDir: cfg.Platforms.MediaTempDir}, nil),
	)
	if err != nil {
		return err
	}

	resolver, err := s.mediaResolver(ctx, assets)
	if err != nil {
		return err
	}

	sinks := []notify.Sink{notify.NewLogSink(s.log), notify.NewHistorySink(history)}
	if cfg.MongoURI != "" {
		s.mongo, err = notify.ConnectMongo(ctx, cfg.MongoURI)
		if err != nil {
			return err
		}
		sinks = append(sinks, notify.NewMongoSink(s.mongo.Database(cfg.MongoDB), ""))
	}
	s.dispatcher = notify.NewDispatcher(s.log, notify.DefaultBuffer, sinks...)

	store := credentials.NewStore(accounts, cfg.EncryptionKey, cfg.TokenSkew)

	limiter, err := s.rateLimiter(ctx)
	if err != nil {
		return err
	}

	var (
		q         queue.Queue
		redisConn asynq.RedisConnOpt
		memory    *queue.MemoryQueue
	)
	switch cfg.Queue.Backend {
	case config.QueueBackendMemory:
		memory = queue.NewMemoryQueue(cfg.Queue.LockDuration)
		q = memory
	default:
		redisConn, err = asynq.ParseRedisURI(cfg.RedisURI)
		if err != nil {
			return fmt.Errorf("parse redis uri: %w", err)
		}
		s.asynqQueue = queue.NewAsynqQueue(redisConn, s.asynqConfig(), s.log)
		q = s.asynqQueue
	}

	deps := service.Deps{
		Posts:       posts,
		Accounts:    accounts,
		Jobs:        jobs,
		Queue:       q,
		Registry:    registry,
		Credentials: store,
		Media:       resolver,
		Notifier:    s.dispatcher,
		Log:         s.log,
	}

	if s.mode.Worker {
		worker := service.NewPublishWorker(deps,
			retry.NewClassifier(retry.Policy{
				InitialDelay: cfg.Retry.InitialDelay,
				Base:         cfg.Retry.Base,
				MaxDelay:     cfg.Retry.MaxDelay,
			}),
			service.WithRateLimiter(limiter, cfg.RateLimit.DenyDelay),
			service.WithDisabler(store),
			service.WithMaxDeliveries(cfg.Queue.MaxDeliveries),
		)

		delivery := queue.Delivery{MaxDeliveries: cfg.Queue.MaxDeliveries}
		if memory != nil {
			s.runner = queue.NewPool(memory, worker.Handle, queue.PoolConfig{
				Concurrency:  cfg.Queue.Concurrency,
				PollInterval: cfg.Queue.PollInterval,
				LockDuration: cfg.Queue.LockDuration,
				Delivery:     delivery,
			}, s.log.Named("pool"))
		} else {
			s.runner = queue.NewConsumer(redisConn, s.asynqConfig(), cfg.Queue.Concurrency, delivery, worker.Handle, s.log.Named("asynq"))
		}
	}

	opts := []service.SchedulerOption{service.WithNativeMinLead(cfg.Platforms.NativeMinLead)}
	if s.runner != nil {
		opts = append(opts, service.WithCounters(s.runner))
	}
	s.scheduler = service.NewSchedulerService(deps, opts...)

	if s.mode.Worker {
		s.reconcile = job.NewReconcileJob(s.scheduler, s.log)
		s.credentials = job.NewCredentialCheckJob(accounts, registry, store, store, s.log)
		s.cron = cron.New()
		if err := job.Every(s.cron, cfg.ReconcileInterval, s.reconcile.Run); err != nil {
			return fmt.Errorf("schedule reconcile: %w", err)
		}
		if err := job.Every(s.cron, cfg.CredentialCheckInterval, s.credentials.CheckCredentials); err != nil {
			return fmt.Errorf("schedule credential check: %w", err)
		}
	}

	if s.mode.API {
		s.app = api.NewApp(api.Config{
			SecretKey: cfg.SecretKey,
			Scheduler: s.scheduler,
			ApiKeys:   service.NewApiKeyService(repository.NewApiKeyRepository(s.db)),
			Checks:    s.healthChecks(),
			Log:       s.log.Named("api"),
		})
	}
	return nil
}

func (s *Server) asynqConfig() queue.AsynqConfig {
	return queue.AsynqConfig{
		Queue:       s.cfg.Queue.Name,
		TaskTimeout: s.cfg.Queue.TaskTimeout,
		Retention:   s.cfg.Queue.Retention,
	}
}

func (s *Server) mediaResolver(ctx context.Context, assets repository.MediaAssetRepository) (media.Resolver, error) {
	r2 := s.cfg.R2
	if r2.BucketName == "" {
		s.log.Warn("No media bucket configured, only public asset URLs resolve")
		return media.NewS3Resolver(assets, nil, "", r2.URLTTL), nil
	}

	client, err := media.NewS3Client(ctx, media.StorageConfig{
		AccountID: r2.AccountID,
		AccessKey: r2.AccessKey,
		SecretKey: r2.SecretKey,
		Bucket:    r2.BucketName,
		Endpoint:  r2.Endpoint,
		Region:    r2.Region,
	})
	if err != nil {
		return nil, err
	}
	return media.NewS3Resolver(assets, client, r2.BucketName, r2.URLTTL), nil
}

func (s *Server) rateLimiter(ctx context.Context) (ratelimit.Limiter, error) {
	rl := s.cfg.RateLimit
	if rl.PerMinute <= 0 {
		return ratelimit.Unlimited{}, nil
	}
	rules := ratelimit.Rules{Default: ratelimit.Rule{Limit: rl.PerMinute, Window: time.Minute}}
	if !rl.Redis {
		return ratelimit.NewMemoryLimiter(rules), nil
	}

	client, err := ratelimit.Connect(ctx, s.cfg.RedisURI, 3, 2*time.Second)
	if err != nil {
		return nil, fmt.Errorf("connect rate limit redis: %w", err)
	}
	s.redis = client
	return ratelimit.NewRedisLimiter(client, rules), nil
}

func (s *Server) healthChecks() map[string]handlers.Check {
	checks := map[string]handlers.Check{
		"postgres": s.db.PingContext,
	}
	if s.redis != nil {
		checks["redis"] = func(ctx context.Context) error { return s.redis.Ping(ctx).Err() }
	}
	if s.mongo != nil {
		checks["mongo"] = func(ctx context.Context) error { return s.mongo.Ping(ctx, nil) }
	}
	return checks
}

// Run blocks until ctx is done or a component fails.
func (s *Server) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	s.dispatcher.Start()

	var (
		wg   sync.WaitGroup
		once sync.Once
		fail error
	)
	stop := func(err error) {
		once.Do(func() { fail = err })
		cancel()
	}

	if s.runner != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := s.runner.Run(ctx); err != nil {
				s.log.Error("Worker stopped", zap.Error(err))
				stop(err)
			}
		}()

		// pick up posts that came due while no worker was running
		go s.reconcile.Run()
		s.cron.Start()
		s.log.Info("Background jobs started",
			zap.Duration("reconcile_interval", s.cfg.ReconcileInterval),
			zap.Duration("credential_check_interval", s.cfg.CredentialCheckInterval))
	}

	if s.app != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.log.Info("Server is running", zap.String("addr", s.cfg.ListenAddr))
			if err := s.app.Listen(s.cfg.ListenAddr); err != nil {
				s.log.Error("Failed to start server", zap.Error(err))
				stop(err)
			}
		}()
	}

	<-ctx.Done()
	s.log.Info("Shutting down...")

	if s.app != nil {
		if err := s.app.ShutdownWithTimeout(30 * time.Second); err != nil {
			s.log.Error("Failed to shut down server", zap.Error(err))
		}
	}
	if s.cron != nil {
		s.cron.Stop()
	}
	wg.Wait()
	return fail
}

// Close flushes notifications and releases every client.
func (s *Server) Close(ctx context.Context) error {
	var errs []error
	if s.dispatcher != nil {
		errs = append(errs, s.dispatcher.Close(ctx))
	}
	errs = append(errs, s.closeClients(ctx))
	return errors.Join(errs...)
}

func (s *Server) closeClients(ctx context.Context) error {
	var errs []error
	if s.asynqQueue != nil {
		errs = append(errs, s.asynqQueue.Close())
	}
	if s.redis != nil {
		errs = append(errs, s.redis.Close())
	}
	if s.mongo != nil {
		errs = append(errs, s.mongo.Disconnect(ctx))
	}
	return errors.Join(errs...)
}
