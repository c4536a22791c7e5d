package main

import (
	"context"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/eldtechnologies/rzx/internal/api"
	"github.com/eldtechnologies/rzx/internal/api/middleware"
	"github.com/eldtechnologies/rzx/internal/commands"
	"github.com/eldtechnologies/rzx/internal/config"
	"github.com/eldtechnologies/rzx/internal/events"
	"github.com/eldtechnologies/rzx/internal/executor"
	"github.com/eldtechnologies/rzx/internal/handlers"
	"github.com/eldtechnologies/rzx/internal/llm"
	"github.com/eldtechnologies/rzx/internal/models"
	"github.com/eldtechnologies/rzx/internal/projects"
	"github.com/eldtechnologies/rzx/internal/relay"
	"github.com/eldtechnologies/rzx/internal/store"
	"github.com/eldtechnologies/rzx/internal/transcript"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		bootLogger := zerolog.New(os.Stderr)
		bootLogger.Fatal().Err(err).Msg("invalid configuration")
	}

	logger := newLogger(cfg, os.Stdout)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// LLM provider; a failing startup check is fatal
	llmClient := llm.NewClient(llm.Options{
		APIKey:      cfg.AnthropicAPIKey,
		BaseURL:     cfg.LLMBaseURL,
		Model:       cfg.LLMModel,
		MaxTokens:   cfg.LLMMaxTokens,
		Temperature: cfg.LLMTemperature,
	}, logger)
	if cfg.LLMStartupCheck {
		logger.Info().Str("model", llmClient.Model()).Msg("checking LLM provider...")
		pingCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		err := llmClient.Ping(pingCtx)
		cancel()
		if err != nil {
			logger.Fatal().Err(err).Msg("LLM provider check failed")
		}
		logger.Info().Msg("LLM provider reachable")
	}

	// Fallback channel document store
	docs, err := store.Open(ctx, store.Options{
		Backend:     cfg.DocumentStore,
		DatabaseURL: cfg.DatabaseURL,
		RedisURL:    cfg.RedisURL,
		SQLitePath:  cfg.SQLitePath,
		TTL:         cfg.HistoryTTL,
	})
	if err != nil {
		logger.Fatal().Err(err).Str("backend", cfg.DocumentStore).Msg("document store connection failed")
	}
	defer docs.Close()
	logger.Info().Str("backend", cfg.DocumentStore).Msg("document store ready")

	// Redis backs rate limiting and IP blocking when configured
	var redisClient *redis.Client
	if cfg.RedisURL != "" {
		redisClient, err = store.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("redis connection failed")
		}
		defer redisClient.Close()
		logger.Info().Msg("connected to Redis")
	}

	materializer := projects.New(cfg.ProjectsDir, cfg.PreviewsDir, logger)
	for _, dir := range []string{cfg.ProjectsDir, cfg.PreviewsDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			logger.Fatal().Err(err).Str("dir", dir).Msg("failed to create directory")
		}
	}

	tracker := events.NewTracker()
	if cfg.WatchProjects {
		watcher, err := projects.NewWatcher(cfg.ProjectsDir, func(ev models.ProjectEvent) {
			tracker.Record(ev)
		}, logger)
		if err != nil {
			logger.Warn().Err(err).Msg("project watcher disabled")
		} else {
			go watcher.Run(ctx)
		}
	}

	// Allow-listed command execution for /executar
	policy, err := executor.LoadPolicy(cfg.CommandPolicyFile)
	if err != nil {
		logger.Fatal().Err(err).Str("file", cfg.CommandPolicyFile).Msg("invalid command policy")
	}
	if cfg.CommandPolicyFile == "" {
		policy.Timeout = cfg.CommandTimeout
	}
	runner := executor.New(policy, executor.NewOSRunner(), ".", logger)

	registry := commands.Builtins(commands.Deps{
		Projects: materializer,
		LLM:      llmClient,
		Events:   tracker,
		Executor: runner,
	})

	cache := transcript.NewCache(logger, store.NewMessageSink(docs))
	rel := relay.New(logger, cache, &commands.Dispatcher{
		Registry: registry,
		LLM:      llmClient,
		Policy:   commands.PolicyForward,
		Logger:   logger,
	}, tracker)

	h := handlers.NewHandler(handlers.Deps{
		Projects: materializer,
		Dispatcher: &commands.Dispatcher{
			Registry: registry,
			LLM:      llmClient,
			Policy:   commands.PolicyReject,
			Logger:   logger,
		},
		LLM:       llmClient,
		Events:    tracker,
		Documents: docs,
		Redis:     redisClient,
		Relay:     rel,
		Logger:    logger,
	})

	// Create router
	router := api.NewRouter(logger, api.Options{
		Handler: h,
		Relay:   rel,
		Redis:   redisClient,
		RateLimit: middleware.RateLimiterConfig{
			Whitelist:        cfg.RateLimitWhitelist,
			AutoBlockEnabled: cfg.AutoBlockEnabled,
		},
		ProjectsDir: cfg.ProjectsDir,
		PreviewsDir: cfg.PreviewsDir,
	})

	// Create server; LLM completions can take a while
	srv := &http.Server{
		Addr:        ":" + cfg.Port,
		Handler:     router,
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		logger.Info().
			Str("port", cfg.Port).
			Str("env", cfg.Env).
			Msg("starting RZX server")

		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server failed to start")
		}
	}()

	// Wait for interrupt signal
	<-ctx.Done()

	logger.Info().Msg("shutting down server...")

	// Graceful shutdown with 30 second timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := rel.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("relay sessions did not drain")
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Fatal().Err(err).Msg("server forced to shutdown")
	}

	logger.Info().Msg("server stopped")
}

// newLogger builds the process logger: console output in development, JSON otherwise.
func newLogger(cfg *config.Config, out io.Writer) zerolog.Logger {
	if cfg.IsDevelopment() {
		return zerolog.New(zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339, NoColor: true}).
			With().
			Timestamp().
			Logger()
	}
	return zerolog.New(out).
		With().
		Timestamp().
		Logger()
}
