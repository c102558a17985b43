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
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"golang.org/x/net/netutil"

	"github.com/xyrax/instra/internal/agent"
	"github.com/xyrax/instra/internal/api"
	"github.com/xyrax/instra/internal/composer"
	"github.com/xyrax/instra/internal/config"
	"github.com/xyrax/instra/internal/intent"
	"github.com/xyrax/instra/internal/llm"
	"github.com/xyrax/instra/internal/metrics"
	"github.com/xyrax/instra/internal/model"
	"github.com/xyrax/instra/internal/ollama"
	"github.com/xyrax/instra/internal/predict"
	"github.com/xyrax/instra/internal/storage"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the instra server (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		mcpStdio, _ := cmd.Flags().GetBool("mcp")
		return runServer(mcpStdio)
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running instra server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return stopServer()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show instra server status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus()
	},
}

func init() {
	serveCmd.Flags().Bool("mcp", false, "also serve MCP tools over stdio")
}

func pidFilePath(dataDir string) string {
	return filepath.Join(dataDir, "instra.pid")
}

func writePIDFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o644)
}

func readPIDFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(string(data)))
}

func removePIDFile(path string) {
	os.Remove(path)
}

func newLogger(level string) *slog.Logger {
	logLevel := slog.LevelInfo
	switch strings.ToLower(level) {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))
}

// newExternal picks the external chat model: Groq when an API key is set,
// otherwise Ollama when a base URL is configured, otherwise none.
func newExternal(cfg config.Config) (agent.External, string) {
	s := agent.Sampling{
		Model:       cfg.Agent.Model,
		MaxTokens:   cfg.Agent.MaxTokens,
		Temperature: cfg.Agent.Temperature,
	}
	switch {
	case cfg.Agent.GroqAPIKey != "":
		return agent.FromLLM(llm.NewClientWithBaseURL(cfg.Agent.GroqAPIKey, cfg.Agent.BaseURL), s), "groq"
	case cfg.Ollama.BaseURL != "":
		s.Model = cfg.Ollama.Model
		return agent.FromOllama(ollama.New(cfg.Ollama.BaseURL), s), "ollama"
	default:
		return nil, "none"
	}
}

// newApp wires the prediction core, storage and agent router from cfg.
func newApp(cfg config.Config, store *storage.Store, logger *slog.Logger) (*api.App, error) {
	bundle, err := model.Load(cfg.Model.ArtifactsPath, logger)
	if err != nil {
		return nil, fmt.Errorf("loading model artifacts: %w", err)
	}
	for _, t := range model.Targets {
		if !bundle.Registry.Available(t) {
			logger.Warn("model target unavailable, analyses will fail with 503", "target", t)
		}
	}

	timeout, err := cfg.Agent.TimeoutDuration()
	if err != nil {
		return nil, err
	}

	external, kind := newExternal(cfg)
	logger.Info("agent configured", "external", kind, "timeout", timeout)

	router := agent.NewRouter(
		external,
		composer.New(cfg.Agent.HistoryTurns, cfg.Agent.MaxContextTokens),
		intent.New(),
		agent.Config{Timeout: timeout, Logger: logger, Recorder: metrics.Recorder{}},
	)

	app := api.NewApp(api.Deps{
		Analyzer:        predict.NewService(bundle.Registry, logger),
		Importance:      bundle.Importance,
		Store:           store,
		Router:          router,
		Logger:          logger,
		HistoryTurns:    cfg.Agent.HistoryTurns,
		BulkConcurrency: cfg.Bulk.Concurrency,
	})
	return app, nil
}

func newRegistry() (*prometheus.Registry, error) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	if err := metrics.Register(reg); err != nil {
		return nil, fmt.Errorf("registering metrics: %w", err)
	}
	return reg, nil
}

func runServer(mcpStdio bool) error {
	fmt.Fprintf(os.Stderr, "instra version %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger := newLogger(cfg.Log.Level)
	slog.SetDefault(logger)

	// Check if a server is already running via the health endpoint.
	pidPath := pidFilePath(cfg.Storage.DataDir)
	healthURL := fmt.Sprintf("http://127.0.0.1:%d/health", cfg.Server.Port)
	healthClient := &http.Client{Timeout: 2 * time.Second}
	if resp, err := healthClient.Get(healthURL); err == nil {
		resp.Body.Close()
		if pid, pidErr := readPIDFile(pidPath); pidErr == nil {
			printWarning("instra is already running (PID %d)", pid)
			return fmt.Errorf("server already running (PID %d)", pid)
		}
		printWarning("instra is already running on port %d", cfg.Server.Port)
		return fmt.Errorf("server already running on port %d", cfg.Server.Port)
	}
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer removePIDFile(pidPath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// The local model is optional; a missing one only degrades chat.
	if cfg.Agent.GroqAPIKey == "" && cfg.Ollama.BaseURL != "" {
		checkCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		if err := ollama.New(cfg.Ollama.BaseURL).CheckReady(checkCtx, cfg.Ollama.Model); err != nil {
			logger.Warn("local model not ready, chat will use rule-based replies", "error", err)
		}
		cancel()
	}

	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: closing storage: %v\n", err)
		}
	}()

	app, err := newApp(cfg, store, logger)
	if err != nil {
		return err
	}

	reg, err := newRegistry()
	if err != nil {
		return err
	}
	handler := api.NewHandler(app, api.HandlerOptions{Token: cfg.Server.Token, Gatherer: reg})

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", addr, err)
	}
	if cfg.Server.MaxConns > 0 {
		ln = netutil.LimitListener(ln, cfg.Server.MaxConns)
	}

	srv := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext: func(_ net.Listener) context.Context {
			return ctx
		},
	}

	if mcpStdio {
		stdioSrv := server.NewStdioServer(api.NewMCPServer(app, version))
		go func() {
			if err := stdioSrv.Listen(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("MCP stdio server error", "error", err)
			}
		}()
		logger.Info("MCP server started (stdio transport)")
	}

	errCh := make(chan error, 1)
	go func() {
		fmt.Fprintf(os.Stderr, "instra listening on %s\n", addr)
		if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		fmt.Fprintln(os.Stderr, "shutting down...")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func stopServer() error {
	cfg, err := config.Load()
	if err != nil {
		printError("could not load config: %v", err)
		return err
	}

	pidPath := pidFilePath(cfg.Storage.DataDir)
	pid, err := readPIDFile(pidPath)
	if err != nil {
		printError("instra is not running (no PID file)")
		return fmt.Errorf("not running: %w", err)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		printError("could not find process %d", pid)
		return err
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		printError("could not stop instra (PID %d): %v", pid, err)
		removePIDFile(pidPath)
		return err
	}

	printSuccess("Sent stop signal to instra (PID %d)", pid)
	return nil
}

func showStatus() error {
	cfg, err := config.Load()
	if err != nil {
		printError("config error: %v", err)
		return nil
	}

	client := &http.Client{Timeout: 2 * time.Second}
	resp, err := client.Get(fmt.Sprintf("http://127.0.0.1:%d/health", cfg.Server.Port))
	if err != nil {
		printStatus("Server", "stopped")
	} else {
		var health struct {
			External bool `json:"external"`
		}
		if err := decodeJSON(resp, &health); err != nil {
			printStatus("Server", "error (%v)", err)
		} else {
			printStatus("Server", "running on port %d", cfg.Server.Port)
			printStatus("External agent", "%t", health.External)
		}
	}

	_, kind := newExternal(cfg)
	printStatus("Agent backend", "%s", kind)
	if kind == "ollama" {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := ollama.New(cfg.Ollama.BaseURL).CheckReady(ctx, cfg.Ollama.Model); err != nil {
			printStatus("Ollama", "%v", err)
		} else {
			printStatus("Ollama", "ready (%s)", cfg.Ollama.Model)
		}
	}
	printStatus("Data dir", "%s", cfg.Storage.DataDir)
	return nil
}
