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
	"go.uber.org/zap"

	"github.com/nidhogg/nuka-mind/internal/api"
	"github.com/nidhogg/nuka-mind/internal/bus"
	"github.com/nidhogg/nuka-mind/internal/clock"
	"github.com/nidhogg/nuka-mind/internal/config"
	"github.com/nidhogg/nuka-mind/internal/embedding"
	"github.com/nidhogg/nuka-mind/internal/graph"
	"github.com/nidhogg/nuka-mind/internal/notify"
	"github.com/nidhogg/nuka-mind/internal/persona"
	pgstore "github.com/nidhogg/nuka-mind/internal/store"
	"github.com/nidhogg/nuka-mind/internal/vectorstore"
)

const opGraphDecay = "graph_decay"

func main() {
	_ = godotenv.Load()

	cfgPath := os.Getenv("CONFIG_PATH")
	if cfgPath == "" {
		cfgPath = "configs/mind.json"
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config %s: %v\n", cfgPath, err)
		os.Exit(1)
	}

	logger := newLogger(cfg.Server.LogLevel)
	defer logger.Sync()
	logger.Info("Starting Nuka Mind...",
		zap.String("config", cfgPath),
		zap.String("persona", cfg.Persona.ID))

	ctx := context.Background()

	// Persistence: PostgreSQL when configured, in-process otherwise.
	var (
		store   persona.Store = persona.NewMemoryStore()
		pgStore *pgstore.Store
	)
	if dsn := cfg.Database.Postgres.DSN; dsn != "" {
		pgStore, err = pgstore.New(ctx, dsn, logger)
		if err != nil {
			logger.Fatal("failed to connect postgres", zap.Error(err))
		}
		if err := pgStore.Migrate(ctx, cfg.Database.Postgres.Migrations); err != nil {
			logger.Fatal("failed to run migrations", zap.Error(err))
		}
		store = pgStore
	} else {
		logger.Warn("No postgres DSN configured, persona state lives in memory only")
	}

	var sinks []persona.Sink

	// Neo4j association graph (optional)
	var graphStore *graph.Store
	if nc := cfg.Database.Neo4j; nc.URI != "" {
		gs, err := graph.New(nc.URI, nc.User, nc.Password, logger)
		if err != nil {
			logger.Warn("Neo4j unavailable, graph recall disabled", zap.Error(err))
		} else if err := gs.EnsureSchema(ctx); err != nil {
			logger.Warn("Neo4j schema setup failed, graph recall disabled", zap.Error(err))
			gs.Close(ctx)
		} else {
			graphStore = gs
			sinks = append(sinks, gs)
		}
	}

	// Redis signal stream (optional)
	var signalBus *bus.Bus
	if url := cfg.Database.Redis.URL; url != "" {
		b, err := bus.New(ctx, url, logger)
		if err != nil {
			logger.Warn("Redis unavailable, signal stream disabled", zap.Error(err))
		} else {
			signalBus = b
			sinks = append(sinks, b)
		}
	}

	// Qdrant similarity index (optional)
	var (
		qdrant *vectorstore.Client
		index  *vectorstore.Index
	)
	if qc := cfg.Database.Qdrant; qc.Host != "" {
		index, qdrant = openIndex(ctx, cfg, logger)
		if index != nil {
			sinks = append(sinks, index)
		}
	}

	// Notifications
	var notifiers []notify.Notifier
	if sc := cfg.Notify.Slack; sc != nil && sc.BotToken != "" {
		n, err := notify.NewSlack(*sc, logger)
		if err != nil {
			logger.Warn("Slack notifier disabled", zap.Error(err))
		} else {
			notifiers = append(notifiers, n)
		}
	}
	if dc := cfg.Notify.Discord; dc != nil && dc.WebhookID != "" {
		n, err := notify.NewDiscord(*dc, nil, logger)
		if err != nil {
			logger.Warn("Discord notifier disabled", zap.Error(err))
		} else {
			notifiers = append(notifiers, n)
		}
	}
	broadcaster := notify.NewBroadcaster(notifiers, cfg.Notify.MinConfidence, logger)
	sinks = append(sinks, broadcaster)
	logger.Info("Sinks ready",
		zap.Int("sinks", len(sinks)),
		zap.Int("notifiers", len(notifiers)))

	// World clock drives every maintenance sweep.
	clk := clock.New(time.Now().UTC(), cfg.Maintenance.ClockInterval.Std(), cfg.Maintenance.ClockSpeed, logger)

	opts := persona.DefaultOptions()
	opts.PersonaID = cfg.Persona.ID
	opts.Name = cfg.Persona.Name
	opts.Traits = cfg.Persona.Traits
	if cfg.Persona.AdjustmentRate > 0 {
		opts.AdjustmentRate = cfg.Persona.AdjustmentRate
	}
	opts.Now = clk.Now

	mind := persona.NewMind(opts, store, logger, sinks...)
	if err := mind.Initialize(ctx); err != nil {
		logger.Fatal("failed to initialize persona", zap.Error(err))
	}
	for name, target := range cfg.Persona.Targets {
		if err := mind.SetTarget(name, target); err != nil {
			logger.Warn("trait target ignored", zap.String("trait", name), zap.Error(err))
		}
	}

	worker := persona.NewWorker(mind, logger)
	worker.Start()

	intervals := cfg.Maintenance.StdIntervals()
	jobs, unknown := clock.Schedule(intervals)
	for _, op := range unknown {
		if op == opGraphDecay {
			continue
		}
		logger.Warn("unknown maintenance interval ignored", zap.String("op", op))
	}
	if graphStore != nil && intervals[opGraphDecay] > 0 {
		jobs = append(jobs, graphDecayJob(graphStore, cfg.Persona.ID, intervals[opGraphDecay], logger))
	}
	sweeper := clock.NewSweeper(worker, logger, jobs...)
	clk.AddListener(sweeper)

	clockCtx, stopClock := context.WithCancel(ctx)
	clk.Start(clockCtx)
	logger.Info("World clock started",
		zap.Duration("interval", cfg.Maintenance.ClockInterval.Std()),
		zap.Float64("speed", cfg.Maintenance.ClockSpeed),
		zap.Int("jobs", len(jobs)))

	deps := api.Deps{
		PersonaID:   cfg.Persona.ID,
		Worker:      worker,
		Sweeper:     sweeper,
		Clock:       clk,
		Broadcaster: broadcaster,
	}
	if graphStore != nil {
		deps.Graph = graphStore
	}
	if index != nil {
		deps.Similar = index
	}
	handler := api.NewHandler(deps, logger)

	port := fmt.Sprintf("%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           handler.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("Nuka Mind listening", zap.String("port", port))
		if err := srv.ListenAndServe(); err != http.ErrServerClosed {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down Nuka Mind...")
	shutdownCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", zap.Error(err))
	}
	clk.Stop()
	stopClock()
	if err := worker.Do(shutdownCtx, func(m *persona.Mind) error { return m.Save(shutdownCtx) }); err != nil {
		logger.Error("final save failed", zap.Error(err))
	}
	worker.Stop()

	broadcaster.Close()
	if qdrant != nil {
		qdrant.Close()
	}
	if signalBus != nil {
		signalBus.Close()
	}
	if graphStore != nil {
		graphStore.Close(shutdownCtx)
	}
	if pgStore != nil {
		pgStore.Close()
	}
	logger.Info("Nuka Mind stopped")
}

func newLogger(level string) *zap.Logger {
	zc := zap.NewDevelopmentConfig()
	if lvl, err := zap.ParseAtomicLevel(level); err == nil {
		zc.Level = lvl
	}
	logger, err := zc.Build()
	if err != nil {
		logger, _ = zap.NewDevelopment()
	}
	return logger
}

func openIndex(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*vectorstore.Index, *vectorstore.Client) {
	embedder, err := embedding.New(cfg.Embedding)
	if err != nil {
		logger.Warn("Embedding provider unavailable, similarity search disabled", zap.Error(err))
		return nil, nil
	}
	if embedder.Dimension() == 0 {
		// A local model reports its size only with its first vector.
		if _, err := embedder.Embed(ctx, []string{"dimension check"}); err != nil {
			logger.Warn("Embedding model unreachable, similarity search disabled", zap.Error(err))
			return nil, nil
		}
	}
	qc := cfg.Database.Qdrant
	client, err := vectorstore.NewClient(vectorstore.QdrantConfig{Host: qc.Host, Port: qc.Port, Collection: qc.Collection})
	if err != nil {
		logger.Warn("Qdrant unavailable, similarity search disabled", zap.Error(err))
		return nil, nil
	}
	ictx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	index, err := vectorstore.NewIndex(ictx, client, embedder, qc.Collection, logger)
	if err != nil {
		logger.Warn("Qdrant collection setup failed, similarity search disabled", zap.Error(err))
		client.Close()
		return nil, nil
	}
	logger.Info("Similarity index ready",
		zap.String("collection", qc.Collection),
		zap.Int("dimension", embedder.Dimension()))
	return index, client
}

func graphDecayJob(g *graph.Store, personaID string, every time.Duration, logger *zap.Logger) clock.Job {
	cfg := graph.DefaultDecayConfig()
	return clock.Job{
		Op:    opGraphDecay,
		Every: every,
		Run: func(ctx context.Context, _ *persona.Mind, now time.Time) error {
			n, err := g.DecaySweep(ctx, personaID, now, cfg)
			if err != nil {
				return err
			}
			logger.Debug("graph decay", zap.Int("memories", n))
			return nil
		},
	}
}
