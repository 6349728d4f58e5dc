package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	bluebonnet "github.com/lonestar-labs/bluebonnet"
	"github.com/lonestar-labs/bluebonnet/internal/config"
	memdb "github.com/lonestar-labs/bluebonnet/memory/postgres"
	memredis "github.com/lonestar-labs/bluebonnet/memory/redis"
	memsqlite "github.com/lonestar-labs/bluebonnet/memory/sqlite"
	"github.com/lonestar-labs/bluebonnet/observer"
	"github.com/lonestar-labs/bluebonnet/provider/resolve"
	"github.com/lonestar-labs/bluebonnet/store/pinecone"
	"github.com/lonestar-labs/bluebonnet/store/qdrant"
	"github.com/lonestar-labs/bluebonnet/websearch"
)

// app is everything composed from config: the chatbot, its observer
// instruments (nil when disabled), and the teardown chain.
type app struct {
	bot      *bluebonnet.Chatbot
	cfg      config.Config
	inst     *observer.Instruments
	logger   *slog.Logger
	cleanups []func(context.Context) error
}

// close runs teardown in reverse composition order.
func (a *app) close(ctx context.Context) error {
	var errs []error
	for i := len(a.cleanups) - 1; i >= 0; i-- {
		if err := a.cleanups[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// compose builds the full pipeline from config. Every step that can fail
// returns early; the caller owns close().
func compose(ctx context.Context, cfg config.Config, logger *slog.Logger) (*app, error) {
	a := &app{cfg: cfg, logger: logger}

	// 1. Observability (optional)
	if cfg.Observer.Enabled {
		inst, shutdown, err := observer.Init(ctx, pricingOverrides(cfg.Observer.Pricing))
		if err != nil {
			return nil, fmt.Errorf("init observer: %w", err)
		}
		a.inst = inst
		a.cleanups = append(a.cleanups, shutdown)
	}

	// 2. Providers, one per pipeline role
	generator, err := roleProvider(cfg.Generator, bluebonnet.RoleGenerator, a.inst)
	if err != nil {
		return nil, err
	}
	reranker, err := roleProvider(cfg.Reranker, bluebonnet.RoleReranker, a.inst)
	if err != nil {
		return nil, err
	}
	intent, err := roleProvider(cfg.Intent, bluebonnet.RoleIntent, a.inst)
	if err != nil {
		return nil, err
	}

	embedding, err := resolve.EmbeddingProvider(resolve.EmbeddingConfig{
		Provider:   cfg.Embedding.Provider,
		APIKey:     cfg.Embedding.APIKey,
		Model:      cfg.Embedding.Model,
		BaseURL:    cfg.Embedding.BaseURL,
		Dimensions: cfg.Embedding.Dimensions,
	})
	if err != nil {
		return nil, fmt.Errorf("embedding provider: %w", err)
	}
	embedding = bluebonnet.WithEmbeddingRetry(embedding)
	if a.inst != nil {
		embedding = observer.WrapEmbedding(embedding, cfg.Embedding.Model, a.inst)
	}

	// 3. Retrievers per mode
	defaultMode, err := bluebonnet.ParseRetrievalMode(cfg.Retrieval.Mode)
	if err != nil {
		return nil, err
	}

	opts := []bluebonnet.Option{bluebonnet.WithDefaultMode(defaultMode)}
	if cfg.Qdrant.URL != "" {
		qopts := []qdrant.Option{qdrant.WithLogger(logger)}
		if cfg.Qdrant.APIKey != "" {
			qopts = append(qopts, qdrant.WithAPIKey(cfg.Qdrant.APIKey))
		}
		if cfg.Qdrant.TLS {
			qopts = append(qopts, qdrant.WithTLS())
		}
		store, err := qdrant.New(ctx, cfg.Qdrant.URL, cfg.Qdrant.Collection, qopts...)
		if err != nil {
			return nil, fmt.Errorf("qdrant: %w", err)
		}
		a.cleanups = append(a.cleanups, func(context.Context) error { return store.Close() })

		opts = append(opts,
			bluebonnet.WithRetriever(bluebonnet.ModeDense,
				bluebonnet.NewDenseRetriever(store, embedding, bluebonnet.DenseMinScore(cfg.Retrieval.MinScore))),
			bluebonnet.WithRetriever(bluebonnet.ModeHybrid,
				bluebonnet.NewHybridRetriever(store, embedding)),
		)
	}
	if cfg.Pinecone.APIKey != "" {
		idx, err := pinecone.New(ctx, pinecone.Config{
			APIKey:    cfg.Pinecone.APIKey,
			IndexName: cfg.Pinecone.IndexName,
			Namespace: cfg.Pinecone.Namespace,
		})
		if err != nil {
			return nil, fmt.Errorf("pinecone: %w", err)
		}
		opts = append(opts, bluebonnet.WithRetriever(bluebonnet.ModeManaged,
			bluebonnet.NewManagedRetriever(idx, embedding)))
	}

	// 4. Pipeline components
	judge := bluebonnet.NewLLMReranker(reranker, bluebonnet.RerankerLogger(logger))
	opts = append(opts,
		bluebonnet.WithReranker(judge),
		bluebonnet.WithGenerator(bluebonnet.NewGenerator(generator, bluebonnet.GeneratorLogger(logger))),
		bluebonnet.WithClassifier(bluebonnet.NewIntentClassifier(intent, bluebonnet.ClassifierLogger(logger))),
		bluebonnet.WithTopK(cfg.Retrieval.TopK, cfg.Retrieval.RerankKeep),
		bluebonnet.WithLogger(logger),
	)
	if a.inst != nil {
		opts = append(opts, bluebonnet.WithMetrics(a.inst))
	}

	// 5. Web fallback (optional)
	if cfg.Retrieval.WebFallback {
		web := websearch.New(cfg.Search.BraveAPIKey,
			websearch.WithPageEnrichment(cfg.Search.PageEnrichment),
			websearch.WithLogger(logger),
		)
		opts = append(opts, bluebonnet.WithWebFallback(bluebonnet.NewWebFallback(web, judge,
			bluebonnet.WebFallbackSufficiency(bluebonnet.SufficiencyConfig{
				MinChunks:   cfg.Retrieval.WebMinCount,
				MinTopScore: cfg.Retrieval.WebMinRerank,
			}),
			bluebonnet.WebFallbackLogger(logger),
		)))
	}

	// 6. Conversation memory (optional)
	if cfg.Server.Conversational {
		conversations, err := a.conversationStore(ctx, cfg.Memory, logger)
		if err != nil {
			return nil, err
		}
		reformProvider, err := roleProvider(cfg.Reformulator, bluebonnet.RoleReformulator, a.inst)
		if err != nil {
			return nil, err
		}
		opts = append(opts,
			bluebonnet.WithConversation(conversations,
				bluebonnet.NewReformulator(reformProvider, bluebonnet.ReformulatorLogger(logger))),
			bluebonnet.WithHistoryTurns(cfg.Server.HistoryTurns),
		)
	}

	// 7. Chatbot
	bot, err := bluebonnet.New(opts...)
	if err != nil {
		return nil, err
	}
	a.bot = bot
	return a, nil
}

func (a *app) conversationStore(ctx context.Context, cfg config.MemoryConfig, logger *slog.Logger) (bluebonnet.ConversationStore, error) {
	ttl := time.Duration(cfg.SessionMinutes) * time.Minute
	switch cfg.Backend {
	case "memory", "":
		return bluebonnet.NewInMemoryStore(bluebonnet.SessionTimeout(ttl)), nil
	case "sqlite":
		store := memsqlite.New(cfg.SQLitePath, memsqlite.WithLogger(logger))
		if err := store.Init(ctx); err != nil {
			return nil, fmt.Errorf("sqlite memory: %w", err)
		}
		return store, nil
	case "redis":
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		a.cleanups = append(a.cleanups, func(context.Context) error { return client.Close() })
		return memredis.New(client, memredis.WithTTL(ttl)), nil
	case "postgres":
		pool, err := pgxpool.New(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("postgres memory: %w", err)
		}
		a.cleanups = append(a.cleanups, func(context.Context) error { pool.Close(); return nil })
		store := memdb.New(pool)
		if err := store.Init(ctx); err != nil {
			return nil, fmt.Errorf("postgres memory: %w", err)
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown memory backend %q", cfg.Backend)
	}
}

// roleProvider builds one role's chat provider, wrapped for observability
// when instruments are live.
func roleProvider(rc config.RoleConfig, role string, inst *observer.Instruments) (bluebonnet.Provider, error) {
	t := rc.Temperature
	p, err := resolve.Provider(resolve.Config{
		Provider:    rc.Provider,
		APIKey:      rc.APIKey,
		Model:       rc.Model,
		BaseURL:     rc.BaseURL,
		Temperature: &t,
	})
	if err != nil {
		return nil, fmt.Errorf("%s provider: %w", role, err)
	}
	p = bluebonnet.WithRetry(p)
	if inst != nil {
		return observer.WrapProvider(p, rc.Model, role, inst), nil
	}
	return p, nil
}

func pricingOverrides(in map[string]config.ObserverPricing) map[string]observer.ModelPricing {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]observer.ModelPricing, len(in))
	for model, p := range in {
		out[model] = observer.ModelPricing{InputPerMillion: p.Input, OutputPerMillion: p.Output}
	}
	return out
}
