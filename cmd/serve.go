package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/docchat/docchat/db"
	"github.com/docchat/docchat/internal/ai"
	"github.com/docchat/docchat/internal/api"
	"github.com/docchat/docchat/internal/auth"
	"github.com/docchat/docchat/internal/chunk"
	"github.com/docchat/docchat/internal/config"
	"github.com/docchat/docchat/internal/conversation"
	"github.com/docchat/docchat/internal/document"
	"github.com/docchat/docchat/internal/ingest"
	"github.com/docchat/docchat/internal/log"
	"github.com/docchat/docchat/internal/postgres"
	"github.com/docchat/docchat/internal/project"
	"github.com/docchat/docchat/internal/rag"
	"github.com/docchat/docchat/internal/user"
)

var (
	flagAddr       string
	flagTrustProxy bool
	flagNoMigrate  bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd.Context())
	},
}

func init() {
	serveCmd.Flags().StringVar(&flagAddr, "addr", "", "listen address (overrides DOCCHAT_ADDR)")
	serveCmd.Flags().BoolVar(&flagTrustProxy, "trust-proxy", false, "trust X-Real-IP/X-Forwarded-For headers")
	serveCmd.Flags().BoolVar(&flagNoMigrate, "no-migrate", false, "skip schema migrations on startup")
	rootCmd.AddCommand(serveCmd)
}

func runServe(parent context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if err := cfg.ValidateServe(); err != nil {
		return fmt.Errorf("validating config: %w", err)
	}

	logger := newLogger()
	logger.Info("starting docchat server", "version", Version, "provider", cfg.Provider, "model", cfg.ModelName)

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if !flagNoMigrate {
		if err := db.Migrate(cfg.PostgresURL()); err != nil {
			return fmt.Errorf("applying migrations: %w", err)
		}
		logger.Info("schema migrations applied")
	}

	pool, err := postgres.NewPool(ctx, cfg.PostgresConnectionString())
	if err != nil {
		return fmt.Errorf("connecting to postgres: %w", err)
	}
	defer pool.Close()

	queries := postgres.New(pool)

	embedder, err := buildEmbedder(cfg, logger)
	if err != nil {
		return fmt.Errorf("creating embedder: %w", err)
	}

	chatOpts := chatModelOptions(cfg, cfg.ModelName)
	chatModel, err := ai.NewChatModel(chatOpts, logger)
	if err != nil {
		return fmt.Errorf("creating chat model: %w", err)
	}
	graderModel, err := ai.NewChatModel(chatModelOptions(cfg, cfg.GraderModel), logger)
	if err != nil {
		return fmt.Errorf("creating grader model: %w", err)
	}

	store := document.NewStore(queries, embedder, logger,
		document.WithTopK(int32(cfg.TopK)),
		document.WithThreshold(cfg.SimilarityThreshold),
	)

	splitter, err := chunk.New(cfg.ChunkSize, cfg.ChunkOverlap)
	if err != nil {
		return fmt.Errorf("creating splitter: %w", err)
	}
	ingestor := ingest.NewPipeline(splitter, embedder, store, logger)

	answerer := rag.NewPipeline(chatModel, store, logger,
		rag.WithGrader(graderModel),
		rag.WithMaxRewrites(cfg.MaxRewrites),
	)

	// Per-request provider/model overrides reuse the retriever and grader;
	// only the generating model changes.
	makeAnswerer := func(provider, model string) (api.Answerer, error) {
		opts := chatModelOptions(cfg, model)
		if provider != "" {
			opts.Provider = provider
		}
		if model == "" {
			opts.Model = cfg.ModelName
		}
		m, err := ai.NewChatModel(opts, logger)
		if err != nil {
			return nil, err
		}
		return rag.NewPipeline(m, store, logger,
			rag.WithGrader(graderModel),
			rag.WithMaxRewrites(cfg.MaxRewrites),
		), nil
	}

	srv, err := api.NewServer(api.ServerConfig{
		Logger:        logger,
		Users:         user.NewService(queries, logger),
		Projects:      project.NewService(queries, logger),
		Conversations: conversation.NewService(queries, conversation.NewPgxRunner(pool), logger),
		Files:         store,
		Ingestor:      ingestor,
		Answerer:      answerer,
		MakeAnswerer:  makeAnswerer,
		Tokens:        auth.NewTokenManager(cfg.JWTSecret, time.Duration(cfg.TokenTTLMinutes)*time.Minute),
		Pool:          pool,
		ModelOptions:  chatOpts,
		TrustProxy:    flagTrustProxy,
		RateLimit:     cfg.RateLimit,
		RateBurst:     cfg.RateBurst,
	})
	if err != nil {
		return fmt.Errorf("creating server: %w", err)
	}

	addr := flagAddr
	if addr == "" {
		addr = cfg.Addr
	}
	return srv.Run(ctx, addr)
}

// buildEmbedder creates the embedding client, wrapped in an LRU cache when
// one is configured.
func buildEmbedder(cfg *config.Config, logger log.Logger) (ai.Embedder, error) {
	embedder, err := ai.NewEmbedder(ai.Options{
		Provider:      cfg.EmbedProvider,
		EmbedModel:    cfg.EmbedModel,
		OllamaHost:    cfg.OllamaHost,
		OpenAIBaseURL: cfg.OpenAIBaseURL,
		APIKey:        os.Getenv("OPENAI_API_KEY"),
	}, logger)
	if err != nil {
		return nil, err
	}

	if cfg.EmbedCacheSize <= 0 {
		return embedder, nil
	}
	return ai.NewCachingEmbedder(embedder, cfg.EmbedCacheSize)
}

// chatModelOptions builds model options for the configured provider with an
// explicit model name.
func chatModelOptions(cfg *config.Config, model string) ai.Options {
	return ai.Options{
		Provider:      cfg.Provider,
		Model:         model,
		Temperature:   cfg.Temperature,
		OllamaHost:    cfg.OllamaHost,
		OpenAIBaseURL: cfg.OpenAIBaseURL,
		APIKey:        os.Getenv("OPENAI_API_KEY"),
	}
}
