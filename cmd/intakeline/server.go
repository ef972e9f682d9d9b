package main

import (
	"context"
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

	mcpserver "github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/intakeline/intakeline/internal/api"
	"github.com/intakeline/intakeline/internal/config"
	"github.com/intakeline/intakeline/internal/finalize"
	"github.com/intakeline/intakeline/internal/llm"
	"github.com/intakeline/intakeline/internal/notify"
	"github.com/intakeline/intakeline/internal/session"
	"github.com/intakeline/intakeline/internal/speech"
	"github.com/intakeline/intakeline/internal/storage"
	"github.com/intakeline/intakeline/internal/telephony"
	"github.com/intakeline/intakeline/internal/turn"
	"github.com/intakeline/intakeline/internal/watchdog"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the intakeline server (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer()
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running intakeline server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return stopServer()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show intakeline system status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus()
	},
}

func pidFilePath(dataDir string) string {
	return filepath.Join(dataDir, "intakeline.pid")
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

// startWatchdogRunner starts the in-process sweep when a cron schedule is
// configured. An empty schedule leaves only the authenticated HTTP trigger.
func startWatchdogRunner(wd *watchdog.Watchdog, schedule string) (stop func(), err error) {
	if schedule == "" {
		return func() {}, nil
	}
	runner, err := watchdog.NewRunner(wd, schedule)
	if err != nil {
		return nil, err
	}
	runner.Start()
	return runner.Stop, nil
}

func runServer() error {
	fmt.Fprintf(os.Stderr, "intakeline version %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	// Initialize structured logging.
	logLevel := slog.LevelInfo
	if strings.EqualFold(cfg.Log.Level, "debug") {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})))

	// Write PID file. Check if server is already running via health endpoint.
	pidPath := pidFilePath(cfg.Storage.DataDir)
	healthURL := fmt.Sprintf("http://127.0.0.1:%d/health", cfg.Server.Port)
	healthClient := &http.Client{Timeout: 2 * time.Second}
	if resp, err := healthClient.Get(healthURL); err == nil {
		resp.Body.Close()
		if pid, pidErr := readPIDFile(pidPath); pidErr == nil {
			printWarning("intakeline is already running (PID %d)", pid)
			return fmt.Errorf("server already running (PID %d)", pid)
		}
		printWarning("intakeline is already running on port %d", cfg.Server.Port)
		return fmt.Errorf("server already running on port %d", cfg.Server.Port)
	}
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer removePIDFile(pidPath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Open storage.
	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: closing storage: %v\n", err)
		}
	}()

	// Build the conversation side: model client, turn processor, sessions.
	var llmClient *llm.Client
	if cfg.LLM.BaseURL != "" {
		llmClient = llm.NewWithBaseURL(cfg.LLM.APIKey, cfg.LLM.BaseURL)
	} else {
		llmClient = llm.New(cfg.LLM.APIKey)
	}
	turns := turn.NewProcessor(llmClient, cfg.LLM.TurnModel)
	sessions := session.NewStoreWithTTL(time.Duration(cfg.Session.IdleTTLMinutes) * time.Minute)

	speechClient := speech.New(cfg.Speech.APIKey, cfg.Speech.Voice)
	mailer := notify.New(cfg.Email.APIKey, cfg.Email.From)
	phone := telephony.NewClient(cfg.Telephony.AccountSID, cfg.Telephony.AuthToken)

	// Post-call finalizer and its watchdog.
	finalizer := finalize.New(store, llmClient, cfg.LLM.SummaryModel, mailer,
		finalize.WithRecordings(phone, speechClient),
		finalize.WithFallbackRecipients(cfg.Email.RecipientList()),
		finalize.WithOnFinalized(speechClient.Forget),
	)
	wd := watchdog.New(store, finalizer, mailer, cfg.Email.RecipientList())
	stopRunner, err := startWatchdogRunner(wd, cfg.Watchdog.Schedule)
	if err != nil {
		return fmt.Errorf("starting watchdog: %w", err)
	}
	defer stopRunner()

	// Abandoned sessions still get finalized from whatever they collected.
	go sessions.Run(ctx.Done(), time.Minute, func(cs *session.CallSession) {
		finCtx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()
		err := finalizer.Finalize(finCtx, finalize.Input{
			ProviderCallID:    cs.CallID,
			FirmID:            cs.FirmID,
			HistoryTranscript: cs.TranscriptText(),
			Snapshot:          cs.Snapshot.Clone(),
		})
		if err != nil {
			slog.Error("finalizing abandoned session", "call_id", cs.CallID, "error", err)
		}
	})

	handler := api.NewHandler(api.Deps{
		Store:          store,
		Sessions:       sessions,
		Turns:          turns,
		Finalizer:      finalizer,
		Watchdog:       wd,
		Speech:         speechClient,
		Token:          cfg.Auth.APIToken,
		WatchdogSecret: cfg.Watchdog.Secret,
		TelephonyToken: cfg.Telephony.AuthToken,
		PublicURL:      cfg.Server.PublicURL,
	})

	addr := fmt.Sprintf("0.0.0.0:%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: handler,
	}

	// MCP server on its own port (streamable HTTP transport).
	mcpSrv := api.NewMCPServer(api.MCPDeps{Store: store})
	mcpAddr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.MCPPort)
	mcpHTTPSrv := &http.Server{
		Addr:    mcpAddr,
		Handler: mcpserver.NewStreamableHTTPServer(mcpSrv),
	}
	go func() {
		slog.Info("MCP server listening", "addr", mcpAddr)
		if err := mcpHTTPSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("MCP server error", "error", err)
		}
	}()

	// Start server in a goroutine.
	errCh := make(chan error, 1)
	go func() {
		fmt.Fprintf(os.Stderr, "intakeline listening on %s\n", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	// Wait for signal or server error.
	select {
	case <-ctx.Done():
		fmt.Fprintln(os.Stderr, "shutting down...")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	// Graceful shutdown with timeout.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	mcpHTTPSrv.Shutdown(shutdownCtx)
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
		printError("intakeline is not running (no PID file)")
		return fmt.Errorf("not running: %w", err)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		printError("could not find process %d", pid)
		return err
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		printError("could not stop intakeline (PID %d): %v", pid, err)
		removePIDFile(pidPath)
		return err
	}

	printSuccess("Sent stop signal to intakeline (PID %d)", pid)
	return nil
}

func showStatus() error {
	cfg, err := config.Load()
	if err != nil {
		// Still show partial status even if config fails.
		printError("config error: %v", err)
		return nil
	}

	serverURL := fmt.Sprintf("http://127.0.0.1:%d", cfg.Server.Port)
	client := &http.Client{Timeout: 2 * time.Second}

	resp, err := client.Get(serverURL + "/health")
	if err != nil {
		printStatus("Server", "stopped")
	} else {
		var health struct {
			Status         string `json:"status"`
			Calls          int    `json:"calls"`
			ActiveSessions int    `json:"active_sessions"`
		}
		err := decodeJSON(resp, &health)
		if err == nil && health.Status == "ok" {
			printStatus("Server", "running on port %d", cfg.Server.Port)
			printStatus("Calls", "%d", health.Calls)
			printStatus("Active sessions", "%d", health.ActiveSessions)
		} else {
			printStatus("Server", "error (HTTP %d)", resp.StatusCode)
		}
	}

	printStatus("Turn model", "%s", cfg.LLM.TurnModel)
	printStatus("Summary model", "%s", cfg.LLM.SummaryModel)
	printStatus("Public URL", "%s", cfg.Server.PublicURL)
	printStatus("Data dir", "%s", cfg.Storage.DataDir)
	return nil
}
