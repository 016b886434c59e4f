package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/quivermind/mnemo/internal/api"
	"github.com/quivermind/mnemo/internal/assembler"
	"github.com/quivermind/mnemo/internal/command"
	"github.com/quivermind/mnemo/internal/config"
	"github.com/quivermind/mnemo/internal/docstore"
	"github.com/quivermind/mnemo/internal/embedding"
	"github.com/quivermind/mnemo/internal/gateway"
	"github.com/quivermind/mnemo/internal/memory"
	"github.com/quivermind/mnemo/internal/provider"
	"github.com/quivermind/mnemo/internal/router"
	"github.com/quivermind/mnemo/internal/tool"
	"github.com/quivermind/mnemo/internal/ttlstore"
)

const sweepInterval = 10 * time.Minute

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the assistant core HTTP server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return serve()
	},
}

// healthFunc adapts a bare probe to api.HealthChecker.
type healthFunc func(ctx context.Context) error

func (f healthFunc) HealthCheck(ctx context.Context) error { return f(ctx) }

func serve() error {
	_ = godotenv.Load()

	cfgPath := os.Getenv("CONFIG_PATH")
	if cfgPath == "" {
		cfgPath = "configs/mnemo.json"
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}

	logger, err := buildLogger(cfg.Server.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()
	logger.Info("config loaded", zap.String("path", cfgPath))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// LLM providers. A missing provider block still serves commands,
	// shortcuts and procedural turns.
	chain := provider.NewChain(logger)
	for _, pc := range cfg.Providers {
		p, perr := provider.FromConfig(provider.Config{
			ID:       pc.ID,
			Type:     pc.Type,
			Endpoint: pc.Endpoint,
			APIKey:   pc.APIKey,
			Model:    pc.Model,
		}, logger)
		if perr != nil {
			logger.Warn("provider skipped", zap.String("id", pc.ID), zap.Error(perr))
			continue
		}
		chain.Register(p)
	}

	// TTL store: Redis, or in-process when unconfigured.
	var (
		ttl     ttlstore.Store
		ttlMem  *ttlstore.Memory
		redisHC api.HealthChecker
	)
	if cfg.Database.Redis.URL != "" {
		r, rerr := ttlstore.NewRedis(cfg.Database.Redis.URL, logger)
		if rerr != nil {
			return fmt.Errorf("redis: %w", rerr)
		}
		defer r.Close()
		ttl = r
		redisHC = healthFunc(r.Ping)
	} else {
		logger.Warn("redis not configured, working memory is process-local")
		ttlMem = ttlstore.NewMemory()
		ttl = ttlMem
	}

	// Durable store: Postgres plus Qdrant when both are configured,
	// Postgres alone otherwise, in-process as the last resort.
	var (
		docs docstore.Store
		pgHC api.HealthChecker
	)
	if cfg.Database.Postgres.DSN != "" {
		pg, perr := docstore.NewPostgres(ctx, cfg.Database.Postgres.DSN, logger)
		if perr != nil {
			return fmt.Errorf("postgres: %w", perr)
		}
		defer pg.Close()
		if merr := pg.Migrate(ctx, "migrations"); merr != nil {
			return fmt.Errorf("migrate: %w", merr)
		}
		pgHC = healthFunc(pg.Ping)
		docs = pg

		if cfg.Database.Qdrant.Host != "" {
			qd, qerr := docstore.NewQdrant(docstore.QdrantConfig{
				Host: cfg.Database.Qdrant.Host,
				Port: cfg.Database.Qdrant.Port,
			})
			if qerr != nil {
				logger.Warn("qdrant unavailable, retrieval is postgres-only", zap.Error(qerr))
			} else {
				defer qd.Close()
				dim := cfg.Embedding.Dimension
				if dim == 0 {
					dim = 768
				}
				hybrid, herr := docstore.NewHybrid(ctx, pg, qd, uint64(dim), logger)
				if herr != nil {
					logger.Warn("hybrid store init failed, retrieval is postgres-only", zap.Error(herr))
				} else {
					docs = hybrid
				}
			}
		}
	} else {
		logger.Warn("postgres not configured, durable memory is process-local")
		docs = docstore.NewMemory()
	}

	var embedder memory.Embedder
	if c := embedding.New(embedding.Config{
		Provider:  cfg.Embedding.Provider,
		Endpoint:  cfg.Embedding.Endpoint,
		Model:     cfg.Embedding.Model,
		APIKey:    cfg.Embedding.APIKey,
		Dimension: cfg.Embedding.Dimension,
	}); c != nil {
		embedder = c
	} else {
		logger.Warn("embedding not configured, retrieval is lexical-only")
	}

	mem := memory.NewStore(docs, ttl, embedder, logger)
	entities := tool.NewEntities(docs)

	tools := tool.NewRegistry()
	tool.RegisterBuiltins(tools, mem, entities)

	commands := command.NewRegistry()
	command.RegisterBuiltins(commands)

	asm := assembler.New(mem, cfg.Memory.ContextBudgetChars, logger)
	asm.SetRecent(cfg.Memory.RecentEpisodics)

	gw := gateway.New(logger)
	defer gw.Close()
	for _, sc := range cfg.Gateway.Servers {
		if cerr := gw.Connect(ctx, gateway.ServerConfig{Name: sc.Name, SSEURL: sc.URL}); cerr != nil {
			logger.Warn("tool server unavailable", zap.String("name", sc.Name), zap.Error(cerr))
		}
	}

	turns := router.New(router.Config{
		Commands: commands,
		Memory:   mem,
		Entities: entities,
		Asm:      asm,
		Tools:    tools,
		LLM:      chain,
		Gateway:  gw,
	}, logger)

	checks := map[string]api.HealthChecker{"llm": chain}
	if pgHC != nil {
		checks["postgres"] = pgHC
	}
	if redisHC != nil {
		checks["redis"] = redisHC
	}
	handler := api.NewHandler(turns, mem, tools, commands, checks, logger)

	port := cfg.Server.Port
	if port == 0 {
		port = 8080
	}
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: handler.Router(),
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("listening", zap.Int("port", port))
		if serr := srv.ListenAndServe(); serr != http.ErrServerClosed {
			return serr
		}
		return nil
	})
	g.Go(func() error {
		ticker := time.NewTicker(sweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				if n, perr := mem.PruneExpired(gctx); perr != nil {
					logger.Warn("knowledge prune failed", zap.Error(perr))
				} else if n > 0 {
					logger.Info("expired knowledge pruned", zap.Int("count", n))
				}
				if ttlMem != nil {
					ttlMem.Sweep()
				}
			}
		}
	})
	g.Go(func() error {
		<-gctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("shut down cleanly")
	return nil
}

func buildLogger(level string) (*zap.Logger, error) {
	if level == "debug" {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}
