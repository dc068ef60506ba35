package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/LIUAPP/AgenticBugFix/internal/agent"
	"github.com/LIUAPP/AgenticBugFix/internal/api"
	"github.com/LIUAPP/AgenticBugFix/internal/channel"
	"github.com/LIUAPP/AgenticBugFix/internal/config"
	"github.com/LIUAPP/AgenticBugFix/internal/jira"
	"github.com/LIUAPP/AgenticBugFix/internal/llm"
	"github.com/LIUAPP/AgenticBugFix/internal/metrics"
	"github.com/LIUAPP/AgenticBugFix/internal/middleware"
	"github.com/LIUAPP/AgenticBugFix/internal/remediation"
	"github.com/LIUAPP/AgenticBugFix/internal/store"
	"github.com/LIUAPP/AgenticBugFix/internal/stream"
	"github.com/LIUAPP/AgenticBugFix/internal/tool"
	"github.com/LIUAPP/AgenticBugFix/internal/vcs"
	"github.com/LIUAPP/AgenticBugFix/internal/websearch"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the agent server",
	RunE:  runServe,
}

func runServe(_ *cobra.Command, _ []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}

	slog.Info("Starting server", "port", cfg.Port, "dev", cfg.IsDevelopment(), "version", Version)

	metrics.Init()

	repo, err := store.NewSQLite(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("initialize database: %w", err)
	}
	defer func() {
		if closeErr := repo.Close(); closeErr != nil {
			slog.Error("Failed to close repository", "error", closeErr)
		}
	}()
	slog.Info("Database connected", "path", cfg.DBPath)

	model := newOpenAI(cfg, logger)
	dispatcher, err := newDispatcher(cfg, repo, model, logger)
	if err != nil {
		return err
	}

	emitter := stream.New(stream.Pacing{
		Mean:   cfg.Stream.DelayMean,
		StdDev: cfg.Stream.DelayStdDev,
		Floor:  cfg.Stream.DelayFloor,
	})

	agentCfg := agent.DefaultConfig()
	agentCfg.MaxIterations = cfg.Agent.MaxIterations
	agentCfg.Policy = agent.ParsePolicy(cfg.Agent.Transitions)
	agentCfg.CompletionTimeout = cfg.Agent.CompletionTimeout
	bugfix := agent.New(model, dispatcher, emitter, agentCfg,
		agent.WithRecorder(repo),
		agent.WithLogger(logger),
	)
	slog.Info("Agent initialized", "max_iterations", agentCfg.MaxIterations, "transitions", agentCfg.Policy.String())

	eventLog, err := channel.NewEventLogger(channel.EventLogConfig{
		Enabled:   cfg.EventLog.Enabled,
		Dir:       cfg.EventLog.Dir,
		QueueSize: cfg.EventLog.QueueSize,
	}, logger)
	if err != nil {
		return fmt.Errorf("initialize event log: %w", err)
	}
	defer func() {
		if closeErr := eventLog.Close(); closeErr != nil {
			slog.Error("Failed to close event log", "error", closeErr)
		}
	}()

	wsHandler := channel.NewHandler(bugfix, channel.Options{
		OriginPatterns: cfg.WebSocketOriginPatterns(),
		RatePerMinute:  cfg.RateLimit.PerMinute,
		RateBurst:      cfg.RateLimit.Burst,
		EventLog:       eventLog,
		Logger:         logger,
	})

	r := chi.NewRouter()
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/health"))

	// The WebSocket endpoint checks origins itself and must not be wrapped by
	// the request logger, which would log only when the connection ends.
	r.Get("/ai-agent", wsHandler.ServeHTTP)
	r.Handle("/metrics", metrics.Handler())
	r.Group(func(r chi.Router) {
		r.Use(chiMiddleware.Logger)
		r.Use(middleware.CORS(cfg.AllowedOrigins()))
		api.NewHandler(repo).RegisterRoutes(r)
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store.StartRetentionWorker(ctx, repo, cfg.RunRetention)

	// Request contexts derive from ctx so open agent connections and their
	// runs are cancelled on shutdown; hijacked connections are not tracked
	// by Shutdown.
	srv := &http.Server{
		Addr:        ":" + cfg.Port,
		Handler:     r,
		ReadTimeout: 30 * time.Second,
		IdleTimeout: 120 * time.Second,
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("Shutting down gracefully...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server forced to shutdown: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		slog.Error("Server stopped with error", "error", err)
		return err
	}
	slog.Info("Server stopped successfully")
	return nil
}

// newOpenAI builds the adapter used for completions and embeddings.
func newOpenAI(cfg *config.Config, logger *slog.Logger) *llm.OpenAI {
	return llm.NewOpenAI(llm.Options{
		APIKey:         cfg.OpenAI.APIKey,
		BaseURL:        cfg.OpenAI.BaseURL,
		Model:          cfg.OpenAI.Model,
		EmbeddingModel: cfg.OpenAI.EmbeddingModel,
		Temperature:    cfg.OpenAI.Temperature,
		MaxRetries:     uint64(max(cfg.OpenAI.MaxRetries, 0)),
	}, logger)
}

// newDispatcher builds the five agent tools around their collaborators.
func newDispatcher(cfg *config.Config, repo store.Repository, embedder store.Embedder, logger *slog.Logger) (*tool.Dispatcher, error) {
	runner, err := remediation.New(remediation.Config{
		Mode:        cfg.Codex.Mode,
		Binary:      cfg.Codex.Binary,
		ServiceURL:  cfg.Codex.ServiceURL,
		ProjectPath: cfg.Codex.ProjectPath,
		Container:   cfg.Codex.Container,
		OutputLimit: cfg.Codex.OutputLimit,
	})
	if err != nil {
		return nil, fmt.Errorf("initialize remediation runner: %w", err)
	}
	slog.Info("Remediation runner initialized", "mode", cfg.Codex.Mode)

	issues := jira.NewClient(jira.Config{
		BaseURL:    cfg.Jira.BaseURL,
		Email:      cfg.Jira.Email,
		APIToken:   cfg.Jira.APIToken,
		ReproField: cfg.Jira.ReproField,
	}, nil)
	if cfg.Jira.BaseURL == "" {
		slog.Warn("JIRA_BASE_URL not set, fetch_jira calls will fail")
	}

	registry, err := tool.NewRegistry(
		tool.NewFetchJira(issues),
		tool.NewPullRepo(vcs.New(cfg.Git.RepoRoot, cfg.Git.DefaultBranch)),
		tool.NewQueryRAG(store.NewRetriever(repo, embedder, cfg.RAG.Threshold, cfg.RAG.TopK)),
		tool.NewExecCodex(runner),
		tool.NewWebSearch(websearch.NewClient(cfg.WebSearch.URL, cfg.WebSearch.MaxResults, nil)),
	)
	if err != nil {
		return nil, fmt.Errorf("register tools: %w", err)
	}
	return tool.NewDispatcher(registry, cfg.Agent.ToolTimeout, logger), nil
}
