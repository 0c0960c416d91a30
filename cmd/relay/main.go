package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/tailored-agentic-units/relay/approval"
	"github.com/tailored-agentic-units/relay/observability"
	"github.com/tailored-agentic-units/relay/protocol"
	"github.com/tailored-agentic-units/relay/relay"
	"github.com/tailored-agentic-units/relay/runtime"
	"github.com/tailored-agentic-units/relay/runtime/anthropic"
	"github.com/tailored-agentic-units/relay/tools"
	"github.com/tailored-agentic-units/relay/transport"
)

func main() {
	var (
		configFile = flag.String("config", "", "Path to relay config JSON file")
		addr       = flag.String("addr", "", "Listen address (overrides config)")
		demo       = flag.Bool("demo", false, "Use the scripted demo runtime even when an API key is present")
		verbose    = flag.Bool("verbose", false, "Enable verbose logging to stderr")
	)
	flag.Parse()

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	cfg := relay.DefaultConfig()
	if *configFile != "" {
		loaded, err := relay.LoadConfig(*configFile)
		if err != nil {
			log.Fatalf("Failed to load config: %v", err)
		}
		cfg = *loaded
	}
	if *addr != "" {
		cfg.Addr = *addr
	}
	if cfg.Anthropic.APIKey == "" {
		cfg.Anthropic.APIKey = os.Getenv("ANTHROPIC_API_KEY")
	}

	observer := observability.NewSlogObserver(logger)
	metrics := observability.NewMetrics(prometheus.DefaultRegisterer)

	registerBuiltinTools()

	approvals := approval.New(cfg.Approval,
		approval.WithObserver(observer),
		approval.WithInstrumentation(metrics),
	)
	executor := tools.NewExecutor(nil, approvals, tools.NewGate(cfg.GatedTools...),
		tools.WithExecutorObserver(observer),
		tools.WithExecutorInstrumentation(metrics),
	)

	rt, err := selectRuntime(cfg, *demo, executor, observer, logger)
	if err != nil {
		log.Fatalf("Failed to create runtime: %v", err)
	}

	r, err := relay.New(
		relay.WithConfig(cfg),
		relay.WithRuntime(rt),
		relay.WithApprovals(approvals),
		relay.WithExecutor(executor),
		relay.WithObserver(observer),
		relay.WithMetrics(metrics),
	)
	if err != nil {
		log.Fatalf("Failed to create relay: %v", err)
	}

	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           transport.NewServer(r, transport.WithObserver(observer)).Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("relay listening", "addr", cfg.Addr)
		errCh <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("graceful shutdown failed", "error", err)
		}
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("HTTP server failed: %v", err)
		}
	}
}

// selectRuntime picks the Anthropic runtime when an API key is available and
// the scripted demo otherwise. The demo replays a fixed turn that walks the
// full tool flow, including the approval gate on run_command.
func selectRuntime(cfg relay.Config, demo bool, executor *tools.Executor, observer observability.Observer, logger *slog.Logger) (runtime.Runtime, error) {
	if cfg.Anthropic.APIKey != "" && !demo {
		logger.Info("using anthropic runtime", "model", cfg.Anthropic.Model)
		return anthropic.New(cfg.Anthropic,
			anthropic.WithObserver(observer),
			anthropic.WithExecutor(executor),
		)
	}

	logger.Info("using scripted demo runtime")
	hook := func(ctx context.Context, ev runtime.Event, emit func(runtime.Event)) {
		call := protocol.ToolCall{ID: ev.ToolCallID, Name: ev.ToolName, Arguments: string(ev.Arguments)}
		emit(executor.Execute(ctx, "demo", call, emit))
	}
	return runtime.NewScripted(demoScript(),
		runtime.WithDelay(120*time.Millisecond),
		runtime.WithToolHook(hook),
	), nil
}

func demoScript() []runtime.Event {
	return []runtime.Event{
		runtime.NewTextDelta("Let me check the clock first.", false),
		runtime.NewTextDelta("", true),
		runtime.NewToolCallAnnounced("demo-call-1", "current_time"),
		runtime.NewToolCallReady("demo-call-1", "current_time", json.RawMessage(`{}`)),
		runtime.NewToolCallAnnounced("demo-call-2", "run_command"),
		runtime.NewToolCallReady("demo-call-2", "run_command", json.RawMessage(`{"command":"uptime"}`)),
		runtime.NewTextDelta("That covers everything in the demo turn.", false),
		runtime.NewTextDelta("", true),
		runtime.NewUsage(42, 96),
		runtime.NewTurnComplete("stop"),
	}
}
