// Huddle coordination server — serves the multiplayer HTTP and WebSocket
// control surface, dispatches queued prompts to the agent runtime, and
// bridges GitHub and Slack activity into shared sessions.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/codeready-toolchain/huddle/pkg/api"
	"github.com/codeready-toolchain/huddle/pkg/config"
	"github.com/codeready-toolchain/huddle/pkg/dispatch"
	"github.com/codeready-toolchain/huddle/pkg/events"
	"github.com/codeready-toolchain/huddle/pkg/gateway"
	"github.com/codeready-toolchain/huddle/pkg/github"
	"github.com/codeready-toolchain/huddle/pkg/metrics"
	"github.com/codeready-toolchain/huddle/pkg/session"
	"github.com/codeready-toolchain/huddle/pkg/slack"
)

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// setupLogging installs the process-wide slog handler.
// LOG_LEVEL: debug|info|warn|error (default info). LOG_FORMAT: json|text.
func setupLogging() {
	var level slog.Level
	if err := level.UnmarshalText([]byte(getEnv("LOG_LEVEL", "info"))); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler = slog.NewTextHandler(os.Stderr, opts)
	if strings.EqualFold(os.Getenv("LOG_FORMAT"), "json") {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	}
	slog.SetDefault(slog.New(handler))
}

// bridgeCompletions routes prompt completions back to the external
// surface the session is mapped to: chat threads get a reply that moves
// them out of processing, PR conversations get a top-level comment.
// The handler runs on the publishing goroutine, so all posting is
// handed off.
func bridgeCompletions(
	ctx context.Context,
	bus *events.Bus,
	gh *github.Adapter,
	responder *github.Responder,
	sl *slack.Adapter,
	chat *slack.Service,
) func() {
	return bus.Subscribe(func(evt events.Event) {
		done, ok := evt.(events.PromptCompleted)
		if !ok {
			return
		}
		summary := fmt.Sprintf("Finished working on:\n> %s", done.Prompt.Content)

		if sl != nil {
			if m, found := sl.Threads().GetBySession(done.SessionID); found {
				input := slack.ResponseInput{
					SessionID: done.SessionID,
					ChannelID: m.Extra.ChannelID,
					ThreadTS:  m.Extra.ThreadTS,
					Status:    slack.ThreadWaiting,
					Summary:   summary,
				}
				go func() {
					if _, err := chat.PostResponse(ctx, input); err != nil {
						slog.Error("Posting thread response failed",
							"session_id", done.SessionID, "error", err)
					}
				}()
				return
			}
		}

		if m, found := gh.Mappings().GetBySession(done.SessionID); found {
			go responder.RespondAsync(ctx, github.RespondInput{
				Repo:      m.Extra.Repo,
				PRNumber:  m.Extra.Number,
				Summary:   summary,
				CommitSHA: m.Extra.HeadSHA,
			})
		}
	})
}

func main() {
	// Parse command-line flags
	configDir := flag.String("config-dir",
		getEnv("CONFIG_DIR", "./deploy/config"),
		"Path to configuration directory")
	flag.Parse()

	// Load .env file from config directory, then configure logging so
	// LOG_LEVEL/LOG_FORMAT from the .env take effect.
	envPath := filepath.Join(*configDir, ".env")
	if err := godotenv.Load(envPath); err != nil {
		slog.Warn("Could not load .env file, continuing with existing environment",
			"path", envPath, "error", err)
	} else {
		slog.Info("Loaded environment", "path", envPath)
	}
	setupLogging()

	slog.Info("Starting huddle", "config_dir", *configDir)

	ctx := context.Background()

	// 1. Initialize configuration
	cfg, err := config.Initialize(*configDir)
	if err != nil {
		slog.Error("Failed to initialize configuration", "error", err)
		os.Exit(1)
	}

	// 2. Metrics exporter (optional). All Metrics methods are nil-safe,
	// so a disabled exporter needs no guards downstream.
	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.New()
		defer m.Close()
	}

	// 3. Event bus — every session mutation fans out through it
	bus := events.NewBus()
	m.ObserveBus(bus)

	// 4. Session store (owns the conflict resolver and the prompt queues)
	store := session.NewStore(*cfg.Coordination, *cfg.Conflict, bus)
	m.RegisterSessionsGauge(store.Count)
	m.RegisterQueueDepthGauge(func() int {
		depth := 0
		for _, s := range store.List() {
			depth += len(s.PromptQueue)
		}
		return depth
	})
	slog.Info("Session store initialized",
		"conflict_strategy", cfg.Conflict.Strategy,
		"max_users_per_session", cfg.Coordination.MaxUsersPerSession)

	// 5. Integration adapters + mapping janitors
	ghAdapter := github.NewAdapter(cfg.GitHub, store, bus)
	ghAdapter.Mappings().Start(ctx)
	defer ghAdapter.Mappings().Stop()
	m.RegisterMappingsGauge("github", ghAdapter.Mappings().Count)

	var slackAdapter *slack.Adapter
	if cfg.Slack.Enabled {
		slackAdapter = slack.NewAdapter(cfg.Slack, store, bus)
		slackAdapter.Threads().Start(ctx)
		defer slackAdapter.Threads().Stop()
		m.RegisterMappingsGauge("slack", slackAdapter.Threads().Count)
		slog.Info("Slack integration enabled", "bot_user_id", cfg.Slack.BotUserID)
	}

	// 6. Outbound response posting
	ghClient := github.NewClient(cfg.GitHub.APIBaseURL, os.Getenv(cfg.GitHub.TokenEnv))
	responder := github.NewResponder(cfg.GitHub.Response, ghClient,
		ghAdapter.Contexts(), ghAdapter.Mappings(), bus)

	var chatService *slack.Service
	if slackAdapter != nil {
		chatService = slack.NewService(slack.ServiceConfig{
			Token: os.Getenv(cfg.Slack.TokenEnv),
		}, slackAdapter.Threads(), bus)
		if chatService == nil {
			slog.Warn("Slack bot token not set, thread replies disabled",
				"env", cfg.Slack.TokenEnv)
		}
	}

	// 7. Route prompt completions back to mapped PRs and threads
	unsubscribeBridge := bridgeCompletions(ctx, bus, ghAdapter, responder, slackAdapter, chatService)
	defer unsubscribeBridge()

	// 8. Start dispatch pool (before the HTTP server takes traffic)
	pool := dispatch.NewPool(cfg.Dispatch, store, dispatch.NewInvoker(cfg.Dispatch), bus, m)
	if err := pool.Start(ctx); err != nil {
		slog.Error("Failed to start dispatch pool", "error", err)
		os.Exit(1)
	}

	// 9. WebSocket gateway
	gw := gateway.New(store, bus)
	m.RegisterConnectionsGauge(gw.ActiveConnections)

	// 10. Start HTTP server (non-blocking)
	httpServer := api.NewServer(cfg, store, gw, ghAdapter, slackAdapter, pool, m)
	errCh := make(chan error, 1)
	go func() {
		addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
		slog.Info("HTTP server listening", "addr", addr)
		if err := httpServer.Start(addr); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server error", "error", err)
			errCh <- err
		}
	}()

	slog.Info("Huddle started successfully",
		"dispatch_workers", cfg.Dispatch.Workers,
		"metrics_enabled", cfg.Metrics.Enabled,
		"slack_enabled", cfg.Slack.Enabled)

	// 11. Wait for shutdown signal or server error
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		slog.Info("Shutdown signal received", "signal", sig)
	case err := <-errCh:
		slog.Error("Server error triggered shutdown", "error", err)
	}

	// 12. Graceful shutdown: stop intake first, then drain the dispatcher.
	// Janitors and the metrics exporter stop via the deferred calls.
	httpShutdownCtx, httpCancel := context.WithTimeout(ctx, 5*time.Second)
	defer httpCancel()
	if err := httpServer.Shutdown(httpShutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}

	poolShutdownCtx, poolCancel := context.WithTimeout(ctx, cfg.Dispatch.GracefulShutdownTimeout+time.Second)
	defer poolCancel()

	done := make(chan struct{})
	go func() {
		pool.Stop()
		close(done)
	}()

	select {
	case <-done:
		slog.Info("Dispatch pool stopped gracefully")
	case <-poolShutdownCtx.Done():
		slog.Warn("Dispatch pool shutdown timeout exceeded")
	}

	slog.Info("Shutdown complete")
}
