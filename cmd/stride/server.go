package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/server"
	openai "github.com/sashabaranov/go-openai"
	"github.com/spf13/cobra"

	"github.com/stridelabs/stride/internal/api"
	"github.com/stridelabs/stride/internal/chat"
	"github.com/stridelabs/stride/internal/config"
	"github.com/stridelabs/stride/internal/conversation"
	"github.com/stridelabs/stride/internal/llm"
	"github.com/stridelabs/stride/internal/memory"
	"github.com/stridelabs/stride/internal/storage"
	"github.com/stridelabs/stride/internal/tools"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the stride server (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer()
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running stride server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return stopServer()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show stride system status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus()
	},
}

// llmStreamer adapts llm.Client to the orchestrator's Stream interface.
type llmStreamer struct {
	client *llm.Client
}

func (s llmStreamer) StreamChat(ctx context.Context, req openai.ChatCompletionRequest) (chat.Stream, error) {
	return s.client.StreamChat(ctx, req)
}

func pidFilePath(dataDir string) string {
	return filepath.Join(dataDir, "stride.pid")
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

func runServer() error {
	fmt.Fprintf(os.Stderr, "stride version %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logLevel := slog.LevelInfo
	if strings.EqualFold(cfg.Log.Level, "debug") {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})))

	// Refuse to start a second instance on the same port.
	pidPath := pidFilePath(cfg.Storage.DataDir)
	healthURL := fmt.Sprintf("http://127.0.0.1:%d/health", cfg.Server.Port)
	healthClient := &http.Client{Timeout: 2 * time.Second}
	if resp, err := healthClient.Get(healthURL); err == nil {
		resp.Body.Close()
		if pid, pidErr := readPIDFile(pidPath); pidErr == nil {
			printWarning("stride is already running (PID %d)", pid)
			return fmt.Errorf("server already running (PID %d)", pid)
		}
		printWarning("stride is already running on port %d", cfg.Server.Port)
		return fmt.Errorf("server already running on port %d", cfg.Server.Port)
	}
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer removePIDFile(pidPath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: closing storage: %v\n", err)
		}
	}()

	llmClient := llm.NewClient(llm.Config{
		APIKey:    cfg.LLM.APIKey,
		BaseURL:   cfg.LLM.BaseURL,
		ChatModel: cfg.LLM.ChatModel,
	})

	mem := memory.NewStore(store.DB(), llmClient)
	convs := conversation.NewStore(store, llmClient)

	registry := tools.NewRegistry()
	tools.RegisterMemoryTools(registry, mem)
	if cfg.Search.Endpoint != "" {
		searchClient := tools.NewSearchClient(cfg.Search.Endpoint, &http.Client{Timeout: 15 * time.Second})
		tools.RegisterWebSearch(registry, searchClient)
		slog.Info("web search enabled", "endpoint", cfg.Search.Endpoint)
	}

	orch := chat.NewOrchestrator(llmStreamer{llmClient}, registry, convs, slog.Default())

	handler := api.NewHandler(api.Deps{
		Orchestrator:  orch,
		Conversations: convs,
		Memory:        mem,
		Logger:        slog.Default(),
	}, cfg.Server.AuthToken)

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: handler,
	}

	// MCP server over stdio, so local agents share the memory store.
	mcpSrv := api.NewMCPServer(api.MCPDeps{
		Memory:        mem,
		Conversations: convs,
		Owner:         api.DefaultOwnerID,
	})
	stdioSrv := server.NewStdioServer(mcpSrv)
	go func() {
		if err := stdioSrv.Listen(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("MCP stdio server error", "error", err)
		}
	}()
	slog.Info("MCP server started (stdio transport)")

	errCh := make(chan error, 1)
	go func() {
		fmt.Fprintf(os.Stderr, "stride listening on %s\n", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
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
		printError("stride is not running (no PID file)")
		return fmt.Errorf("not running: %w", err)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		printError("could not find process %d", pid)
		return err
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		printError("could not stop stride (PID %d): %v", pid, err)
		removePIDFile(pidPath)
		return err
	}

	printSuccess("Sent stop signal to stride (PID %d)", pid)
	return nil
}

func showStatus() error {
	cfg, err := config.Load()
	if err != nil {
		printError("config error: %v", err)
		return nil
	}

	serverURL := fmt.Sprintf("http://127.0.0.1:%d", cfg.Server.Port)
	client := &http.Client{Timeout: 2 * time.Second}

	resp, err := client.Get(serverURL + "/health")
	running := false
	if err != nil {
		printStatus("Server", "stopped")
	} else {
		resp.Body.Close()
		if resp.StatusCode == http.StatusOK {
			printStatus("Server", "running on port %d", cfg.Server.Port)
			running = true
		} else {
			printStatus("Server", "error (HTTP %d)", resp.StatusCode)
		}
	}

	model := cfg.LLM.ChatModel
	if model == "" {
		model = "(provider default)"
	}
	printStatus("Chat model", "%s", model)
	if cfg.Search.Endpoint != "" {
		printStatus("Web search", "%s", cfg.Search.Endpoint)
	} else {
		printStatus("Web search", "disabled")
	}

	if running {
		apiClient := newAPIClient(cfg)
		var list struct {
			Conversations []struct {
				ID string `json:"id"`
			} `json:"conversations"`
		}
		if resp, err := apiClient.get(context.Background(), "/v1/conversations"); err == nil {
			if decodeJSON(resp, &list) == nil {
				printStatus("Conversations", "%d", len(list.Conversations))
			}
		}
	}

	printStatus("Data dir", "%s", cfg.Storage.DataDir)
	return nil
}
