package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/tinytelemetry/logtally/internal/analyzer"
	"github.com/tinytelemetry/logtally/internal/httpserver"
	"github.com/tinytelemetry/logtally/internal/journal"
	"github.com/tinytelemetry/logtally/internal/model"
	"github.com/tinytelemetry/logtally/internal/tcpserver"
	"github.com/tinytelemetry/logtally/internal/transfer"
	"golang.org/x/sync/errgroup"
)

// runServer accepts transfer sessions until SIGINT/SIGTERM.
func runServer(cfg appConfig) error {
	cleanupLogger := configureRuntimeLogger(cfg.LogFile)
	defer cleanupLogger()

	// Open the diagnostics journal for files dropped from analysis runs.
	var diagJournal *journal.Journal
	if cfg.DiagnosticsPath != "" {
		var err error
		diagJournal, err = journal.Open(cfg.DiagnosticsPath)
		if err != nil {
			return fmt.Errorf("failed to open diagnostics journal: %w", err)
		}
		defer diagJournal.Close()
	}

	tcp := tcpserver.NewServer(cfg.Addr, newAnalyzeFunc(cfg.AnalysisWorkers, diagJournal), tcpserver.ServerConfig{
		WorkspaceDir: cfg.WorkspaceDir,
		ChunkSize:    cfg.ChunkSize,
	})
	if err := tcp.Start(); err != nil {
		return fmt.Errorf("failed to start transfer server: %w", err)
	}
	defer tcp.Stop()

	// Start HTTP status API if enabled
	var apiServer *httpserver.Server
	if cfg.APIEnabled {
		var diagnostics httpserver.DiagnosticsSource
		if diagJournal != nil {
			diagnostics = diagJournal
		}
		apiServer = httpserver.NewServer(cfg.APIAddr, tcp, diagnostics)
		if err := apiServer.Start(); err != nil {
			return fmt.Errorf("failed to start API server: %w", err)
		}
		defer apiServer.Stop()
	}

	// Set up context and signal handling before errgroup
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigCh
		fmt.Println("\nShutting down gracefully... (press Ctrl+C again to force)")
		cancel()

		// Shutdown deadline starts now, not at boot.
		deadline := time.NewTimer(cfg.ShutdownTimeout)
		defer deadline.Stop()

		select {
		case <-sigCh:
			fmt.Println("\nForce shutdown.")
		case <-deadline.C:
			fmt.Println("Shutdown timed out, forcing exit.")
		}
		os.Exit(1)
	}()

	printStartupBanner(cfg, tcp.Addr(), tcp.WorkspaceDir())
	log.Printf("tallyd: listening on %s (workspace %s)", tcp.Addr(), tcp.WorkspaceDir())

	g, gctx := errgroup.WithContext(ctx)

	// Transfer listener: drain in-flight sessions once cancelled.
	g.Go(func() error {
		<-gctx.Done()
		return tcp.Stop()
	})

	if apiServer != nil {
		g.Go(func() error {
			<-gctx.Done()
			return apiServer.Stop()
		})
	}

	if err := g.Wait(); err != nil {
		log.Printf("tallyd: errgroup exited with error: %v", err)
	}

	st := tcp.Stats()
	log.Printf("tallyd: stopped after %d sessions (%d completed, %d failed)", st.Accepted, st.Completed, st.Failed)

	// If we reach here, graceful shutdown succeeded within the deadline.
	signal.Stop(sigCh)

	return nil
}

// newAnalyzeFunc builds the per-session analysis step. j may be nil.
func newAnalyzeFunc(workers int, j *journal.Journal) transfer.AnalyzeFunc {
	var sink analyzer.DiagnosticSink
	if j != nil {
		sink = j
	}
	return func(req model.AnalysisRequest, files []string) (model.AnalysisResult, error) {
		a := analyzer.New(req, analyzer.Config{
			Workers:     workers,
			Diagnostics: sink,
		})
		return a.Analyze(files), nil
	}
}

// configureRuntimeLogger points the standard logger at path. "-" or an
// unusable path logs to stderr.
func configureRuntimeLogger(path string) func() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	if path == "" || path == "-" {
		log.SetOutput(os.Stderr)
		return func() {}
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		log.SetOutput(os.Stderr)
		return func() {}
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		log.SetOutput(os.Stderr)
		return func() {}
	}

	log.SetOutput(f)
	return func() {
		log.SetOutput(os.Stderr)
		_ = f.Close()
	}
}

func printStartupBanner(cfg appConfig, addr, workspaceDir string) {
	dim := lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	green := lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	cyan := lipgloss.NewStyle().Foreground(lipgloss.Color("39"))
	yellow := lipgloss.NewStyle().Foreground(lipgloss.Color("220"))
	bold := lipgloss.NewStyle().Bold(true)

	check := green.Render("●")
	dot := dim.Render("●")

	logo := cyan.Bold(true).Render(`
    ╔╦╗╔═╗╦  ╦ ╦ ╦╔╦╗
     ║ ╠═╣║  ║ ╚╦╝ ║║
     ╩ ╩ ╩╩═╝╩═╝╩ ═╩╝`)

	ver := dim.Render("v" + version)

	var lines []string
	lines = append(lines, "")
	lines = append(lines, logo)
	lines = append(lines, "    "+ver)
	lines = append(lines, "")

	separator := dim.Render("    ─────────────────────────────────")
	lines = append(lines, separator)
	lines = append(lines, "")

	// Gateway
	lines = append(lines, bold.Render("    Gateway"))
	lines = append(lines, "")

	lines = append(lines, fmt.Sprintf("    %s  Transfer       %s", check, cyan.Render(addr)))
	if cfg.APIEnabled {
		lines = append(lines, fmt.Sprintf("    %s  HTTP API       %s", check, cyan.Render(cfg.APIAddr)))
	} else {
		lines = append(lines, fmt.Sprintf("    %s  HTTP API       %s", dot, dim.Render("disabled")))
	}
	lines = append(lines, "")

	// Storage
	lines = append(lines, bold.Render("    Storage"))
	lines = append(lines, "")

	lines = append(lines, fmt.Sprintf("    %s  Workspace      %s", check, dim.Render(shortenPath(workspaceDir))))
	if cfg.DiagnosticsPath != "" {
		lines = append(lines, fmt.Sprintf("    %s  Diagnostics    %s", check, dim.Render(shortenPath(cfg.DiagnosticsPath))))
	} else {
		lines = append(lines, fmt.Sprintf("    %s  Diagnostics    %s", dot, dim.Render("disabled")))
	}
	lines = append(lines, "")

	// Runtime
	lines = append(lines, bold.Render("    Runtime"))
	lines = append(lines, "")

	workers := "auto"
	if cfg.AnalysisWorkers > 0 {
		workers = fmt.Sprintf("%d", cfg.AnalysisWorkers)
	}
	lines = append(lines, fmt.Sprintf("    %s  Workers        %s", check, dim.Render(workers)))
	lines = append(lines, fmt.Sprintf("    %s  Chunk Size     %s", check, dim.Render(fmt.Sprintf("%d bytes", cfg.ChunkSize))))

	lines = append(lines, "")
	lines = append(lines, bold.Render("    Config"))
	lines = append(lines, "")
	if cfg.ConfigPath != "" {
		lines = append(lines, fmt.Sprintf("    %s  Config File    %s", check, dim.Render(shortenPath(cfg.ConfigPath))))
	} else {
		lines = append(lines, fmt.Sprintf("    %s  Config File    %s", dot, dim.Render("default (no file)")))
	}

	lines = append(lines, "")
	lines = append(lines, separator)
	lines = append(lines, "")
	lines = append(lines, "    "+dim.Render("Press ")+yellow.Render("Ctrl+C")+dim.Render(" to stop"))
	lines = append(lines, "")

	fmt.Println(strings.Join(lines, "\n"))
}

func shortenPath(path string) string {
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	if strings.HasPrefix(path, home) {
		return "~" + path[len(home):]
	}
	return path
}
