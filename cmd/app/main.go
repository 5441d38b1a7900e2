// File: cmd/app/main.go
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"agent-relay/internal/application"
	"agent-relay/internal/config"
	"agent-relay/internal/domain/ports/adapter"
	"agent-relay/internal/domain/ports/repository"
	ports "agent-relay/internal/domain/ports/usecase"
	"agent-relay/internal/infra/adapters/agent"
	"agent-relay/internal/infra/api"
	"agent-relay/internal/infra/db/kvrepo"
	"agent-relay/internal/infra/db/memory"
	pg "agent-relay/internal/infra/db/postgres"
	"agent-relay/internal/infra/db/sqlitekv"
	"agent-relay/internal/infra/lock"
	"agent-relay/internal/infra/logging"
	"agent-relay/internal/infra/metrics"
	red "agent-relay/internal/infra/redis"
	"agent-relay/internal/infra/sched"
	"agent-relay/internal/infra/worker"
	"agent-relay/internal/usecase"
)

// Set with -ldflags "-X main.version=... -X main.commit=...".
var (
	version = "dev"
	commit  = "none"
)

func main() {
	// ---- CLI flags ----
	cfgPath := pflag.StringP("config", "c", "", "path to YAML config file (optional)")
	devMode := pflag.Bool("dev", false, "developer mode: in-memory store, console logs, echo runner unless configured")
	showVersion := pflag.Bool("version", false, "print version and exit")
	pflag.Parse()

	if *showVersion {
		fmt.Printf("agent-relay %s (%s)\n", version, commit)
		return
	}

	cfg, err := config.LoadConfig(*cfgPath, *devMode)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	logger := logging.New(cfg.Log, cfg.Runtime.Dev)
	if cfg.Runtime.Dev {
		logger.Warn().Msg("[DEV MODE] Enabled")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal().Err(err).Msg("agent-relay stopped with error")
	}
	logger.Info().Msg("agent-relay stopped")
}

func run(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) error {
	metrics.MustRegister()
	metrics.SetBuildInfo(version, commit, cfg.Store.Driver)

	g, gctx := errgroup.WithContext(ctx)

	// ---- Conversation store ----
	kv, err := openStore(gctx, g, cfg, logger)
	if err != nil {
		return err
	}
	defer kv.Close()

	// ---- Redis (optional) ----
	var (
		redisClient *red.Client
		locker      repository.ConversationLocker = lock.NewKeyedMutex()
		limiter     api.SubmitLimiter
	)
	if cfg.Redis.URL != "" {
		redisClient, err = red.NewClient(gctx, cfg.Redis)
		if err != nil {
			return fmt.Errorf("redis: %w", err)
		}
		defer redisClient.Close()
		locker = red.NewConversationLock(redisClient, cfg.Redis.LockTTL, *logger)
		if cfg.API.SubmitRateLimit > 0 {
			limiter = red.NewRateLimiter(redisClient, cfg.API.SubmitRateLimit, cfg.API.SubmitRateWindow)
		}
		logger.Info().Msg("redis conversation lock enabled")
	}
	convs := kvrepo.NewConversationRepo(kv, locker, *logger)

	// ---- Agent runner ----
	counter := agent.NewTiktokenCounter(*logger)
	go counter.Warm()
	agentCLI := newRunner(cfg, logger)
	runner := agent.NewInstrumented(agentCLI, counter)

	// ---- Jobs ----
	jobs := memory.NewJobRepo()
	pool := worker.NewPool(cfg.Jobs.Workers, *logger)
	proc := worker.NewAgentJobProcessor(jobs, convs, runner, pool, cfg.Agent.Timeout, *logger)
	jobUC := usecase.NewJobUseCase(jobs, proc, usecase.JobOptions{
		DefaultModel:     cfg.Agent.DefaultModel,
		Retention:        cfg.Jobs.Retention,
		DefaultListLimit: cfg.Jobs.DefaultListLimit,
		MaxListLimit:     cfg.Jobs.MaxListLimit,
	}, logger)
	pool.Start(gctx)

	retention := sched.NewRetentionWorker(cfg.Jobs.SweepInterval, jobUC, logger)
	g.Go(func() error { return ignoreCancel(retention.Run(gctx)) })

	// ---- HTTP ----
	chatUC := usecase.NewChatUseCase(agentCLI, convs, ports.ModelCatalog{
		Models:      cfg.Agent.Models,
		Default:     cfg.Agent.DefaultModel,
		Recommended: cfg.Agent.Recommended,
	}, logger)
	facade := application.NewJobsFacade(jobUC, convs, chatUC)
	srv := api.NewServer(facade, api.Options{
		RequestTimeout: cfg.Server.RequestTimeout,
		Limiter:        limiter,
		Health: func(ctx context.Context) error {
			if err := kv.View(ctx, func(context.Context, repository.KVTx) error { return nil }); err != nil {
				return fmt.Errorf("store: %w", err)
			}
			if redisClient != nil {
				if err := redisClient.Ping(ctx); err != nil {
					return fmt.Errorf("redis: %w", err)
				}
			}
			return nil
		},
	}, logger)
	server := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      srv.Router(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}
	g.Go(func() error {
		logger.Info().Str("addr", server.Addr).Str("store", cfg.Store.Driver).Str("runner", cfg.Agent.Runner).Msg("http listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	// ---- Graceful shutdown ----
	g.Go(func() error {
		<-gctx.Done()
		logger.Info().Msg("shutdown requested")
		shCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		err := server.Shutdown(shCtx)
		pool.Stop()
		return err
	})

	return g.Wait()
}

func newRunner(cfg *config.Config, logger *zerolog.Logger) adapter.Agent {
	if cfg.Agent.Runner == "echo" {
		logger.Warn().Msg("using echo agent runner; no agent process will be spawned")
		return agent.NewEchoRunner(cfg.Agent.EchoDelay, *logger)
	}
	return agent.NewCLIRunner(agent.CLIConfig{
		Path:         cfg.Agent.Path,
		WorkDir:      cfg.Agent.WorkDir,
		OutputFormat: cfg.Agent.OutputFormat,
		Models:       cfg.Agent.Models,
		WaitDelay:    cfg.Agent.WaitDelay,

		CreateChatTimeout: cfg.Agent.CreateChatTimeout,
	}, *logger)
}

// openStore returns the KV backend selected by store.driver. Background
// tasks it needs are added to g.
func openStore(ctx context.Context, g *errgroup.Group, cfg *config.Config, logger *zerolog.Logger) (repository.KVStore, error) {
	switch cfg.Store.Driver {
	case "memory":
		logger.Warn().Msg("conversation store is in memory; nothing will persist")
		return memory.NewKVStore(), nil

	case "postgres":
		pool, err := pg.Connect(ctx, cfg.Store.Postgres.URL, cfg.Store.Postgres.MaxConns)
		if err != nil {
			return nil, fmt.Errorf("postgres: %w", err)
		}
		kv := pg.NewKVStore(pool, pg.NewTxManager(pool))
		if err := kv.EnsureSchema(ctx); err != nil {
			pool.Close()
			return nil, fmt.Errorf("postgres schema: %w", err)
		}
		g.Go(func() error {
			pg.ReportPoolStats(ctx, pool, cfg.Store.Postgres.StatsInterval)
			return nil
		})
		return &closingStore{KVStore: kv, close: pool.Close}, nil

	default:
		kv, err := sqlitekv.Open(sqlitekv.PoolConfig{
			Path:          cfg.Store.SQLite.Path,
			PoolSize:      cfg.Store.SQLite.PoolSize,
			BusyTimeoutMS: cfg.Store.SQLite.BusyTimeoutMS,
		}, *logger)
		if err != nil {
			return nil, fmt.Errorf("sqlite: %w", err)
		}
		logger.Info().Str("path", cfg.Store.SQLite.Path).Msg("using IDE sqlite database")
		return kv, nil
	}
}

// closingStore closes the pgx pool along with the store.
type closingStore struct {
	*pg.KVStore
	close func()
}

func (c *closingStore) Close() error {
	c.close()
	return nil
}

func ignoreCancel(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
