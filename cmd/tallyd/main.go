package main

import (
	"errors"
	"flag"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/viper"
)

// Build variables - set by ldflags during build.
var (
	version   = "dev"
	commit    = "unknown"
	buildTime = "unknown"
	goVersion = "unknown"
)

// GetVersionInfo returns the current version and commit information.
func GetVersionInfo() (string, string) {
	return version, commit
}

func main() {
	var configPath string
	var showVersion bool
	var overrides flagOverrides

	flag.StringVar(&configPath, "config", "", "config file (default is $HOME/.config/logtally/server.yml)")
	flag.BoolVar(&showVersion, "version", false, "print version information")
	flag.IntVar(&overrides.Port, "port", 0, "override the transfer listen port")
	flag.StringVar(&overrides.WorkspaceDir, "workspace", "", "override the session workspace directory")
	flag.IntVar(&overrides.Workers, "workers", 0, "override the number of analysis workers per session")
	flag.Parse()

	if showVersion {
		fmt.Printf("tallyd - Log Analysis Server\n")
		fmt.Printf("  Version:    %s\n", version)
		fmt.Printf("  Commit:     %s\n", commit)
		fmt.Printf("  Built:      %s\n", buildTime)
		fmt.Printf("  Go version: %s\n", goVersion)
		return
	}

	cfg, err := loadConfig(configPath, overrides)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}

	if err := runServer(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func loadConfig(configPath string, overrides ...flagOverrides) (appConfig, error) {
	var cfg appConfig

	home, err := os.UserHomeDir()
	if err != nil {
		return cfg, fmt.Errorf("finding home directory: %w", err)
	}

	v := viper.New()
	v.SetEnvPrefix("TALLY")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))

	v.SetDefault("host", defaultBindHost)
	v.SetDefault("port", defaultPort)
	v.SetDefault("addr", "")
	v.SetDefault("workspace-dir", "")
	v.SetDefault("analysis-workers", 0)
	v.SetDefault("chunk-size", defaultChunkSize)
	v.SetDefault("api-enabled", false)
	v.SetDefault("api-port", defaultAPIPort)
	v.SetDefault("api-addr", "")
	v.SetDefault("diagnostics-path", "")
	v.SetDefault("log-file", filepath.Join(home, ".local", "state", "logtally", "tallyd.log"))
	v.SetDefault("shutdown-timeout", defaultShutdownTimeout)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		defaultConfigPath := filepath.Join(home, ".config", "logtally", "server.yml")
		v.SetConfigFile(defaultConfigPath)
	}

	if err := v.ReadInConfig(); err != nil {
		var configFileNotFound viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFound) && !os.IsNotExist(err) {
			return cfg, err
		}
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, err
	}
	cfg.ConfigPath = v.ConfigFileUsed()
	for _, o := range overrides {
		o.apply(&cfg)
	}

	if cfg.Port <= 0 || cfg.Port > 65535 {
		return cfg, fmt.Errorf("invalid port: %d", cfg.Port)
	}
	if cfg.APIPort <= 0 || cfg.APIPort > 65535 {
		return cfg, fmt.Errorf("invalid api-port: %d", cfg.APIPort)
	}
	if cfg.ChunkSize <= 0 {
		return cfg, fmt.Errorf("invalid chunk-size: %d", cfg.ChunkSize)
	}
	if cfg.AnalysisWorkers < 0 {
		return cfg, fmt.Errorf("invalid analysis-workers: %d", cfg.AnalysisWorkers)
	}
	if cfg.ShutdownTimeout <= 0 {
		return cfg, fmt.Errorf("invalid shutdown-timeout: %s", cfg.ShutdownTimeout)
	}

	// Expand ~ in paths
	cfg.WorkspaceDir = expandHome(home, cfg.WorkspaceDir)
	cfg.DiagnosticsPath = expandHome(home, cfg.DiagnosticsPath)
	cfg.LogFile = expandHome(home, cfg.LogFile)

	if strings.TrimSpace(cfg.Host) == "" {
		cfg.Host = defaultBindHost
	}
	if cfg.Addr == "" {
		cfg.Addr = net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))
	}
	if cfg.APIAddr == "" {
		cfg.APIAddr = net.JoinHostPort(defaultAPIBindHost, strconv.Itoa(cfg.APIPort))
	}

	return cfg, nil
}

func expandHome(home, path string) string {
	if strings.HasPrefix(path, "~/") {
		return filepath.Join(home, path[2:])
	}
	return path
}
