package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/tinytelemetry/logtally/internal/logsource"
	"github.com/tinytelemetry/logtally/internal/report"
	"github.com/tinytelemetry/logtally/internal/transfer"
)

var (
	version   = "dev"
	commit    = "unknown"
	buildTime = "unknown"
	goVersion = "unknown"
)

func main() {
	var configPath string
	var showVersion bool
	var flags cliFlags

	flag.StringVar(&configPath, "config", "", "config file (default is $HOME/.config/logtally/client.yml)")
	flag.BoolVar(&showVersion, "version", false, "print version information")
	flag.StringVar(&flags.Server, "server", "", "server host")
	flag.IntVar(&flags.Port, "port", 0, "server port")
	flag.StringVar(&flags.Dimension, "dimension", "", "count by USER, IP or LOG_LEVEL")
	flag.StringVar(&flags.Dir, "dir", "", "directory of log files to upload; - reads paths from stdin")
	flag.StringVar(&flags.StartDate, "start", "", "inclusive start date (e.g. 2023-01-01)")
	flag.StringVar(&flags.EndDate, "end", "", "inclusive end date (e.g. 2023-12-31)")
	flag.StringVar(&flags.Output, "output", "", "save the report to this file (.json, .yaml or text)")
	flag.DurationVar(&flags.Timeout, "timeout", 0, "abort the whole session after this long")
	flag.Parse()

	if showVersion {
		fmt.Printf("tally - Log Analysis Client\n")
		fmt.Printf("  Version:    %s\n", version)
		fmt.Printf("  Commit:     %s\n", commit)
		fmt.Printf("  Built:      %s\n", buildTime)
		fmt.Printf("  Go version: %s\n", goVersion)
		return
	}

	log.SetFlags(0)
	log.SetPrefix("tally: ")

	cfg, err := loadCLIConfig(configPath, flags)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}

	src, err := selectSource(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := runClient(ctx, cfg, src, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		stop()
		os.Exit(1)
	}
}

// selectSource picks where the upload list comes from: stdin for "-", the
// configured directory, or a random client folder under the logs root.
func selectSource(cfg cliConfig) (logsource.Source, error) {
	switch cfg.Dir {
	case "-":
		return logsource.NewStdinSource(), nil
	case "":
		src, err := logsource.NewClientFolderSource(cfg.LogsRoot, nil)
		if err != nil {
			return nil, err
		}
		return src, nil
	default:
		return logsource.NewDirSource(cfg.Dir), nil
	}
}

// runClient uploads src's files for analysis and prints the result to out.
func runClient(ctx context.Context, cfg cliConfig, src logsource.Source, out io.Writer) error {
	files, err := src.Files()
	if err != nil {
		return fmt.Errorf("listing files: %w", err)
	}
	if d, ok := src.(*logsource.DirSource); ok {
		fmt.Fprintf(out, "Uploading %d file(s) from %s\n", len(files), d.Dir())
	} else {
		fmt.Fprintf(out, "Uploading %d file(s) from %s\n", len(files), src.Name())
	}

	if cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()
	}

	client, err := transfer.Dial(ctx, cfg.ServerAddr, transfer.ClientConfig{ChunkSize: cfg.ChunkSize})
	if err != nil {
		return err
	}
	defer client.Close()

	started := time.Now()
	res, err := client.Analyze(ctx, cfg.Request, files)
	if err != nil {
		return fmt.Errorf("analysis failed after %d file(s): %w", client.FilesSent(), err)
	}
	log.Printf("analysis of %d file(s) took %s", len(files), time.Since(started).Round(time.Millisecond))

	if err := report.Render(out, res); err != nil {
		return err
	}
	if cfg.Output != "" {
		if err := report.Save(cfg.Output, res, time.Now()); err != nil {
			return err
		}
		fmt.Fprintf(out, "Report saved to %s\n", cfg.Output)
	}
	return nil
}
