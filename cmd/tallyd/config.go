package main

import (
	"time"

	"github.com/tinytelemetry/logtally/internal/model"
)

const (
	defaultBindHost        = "0.0.0.0"
	defaultPort            = model.DefaultPort
	defaultChunkSize       = model.DefaultChunkSize
	defaultAPIBindHost     = "127.0.0.1"
	defaultAPIPort         = 8081
	defaultShutdownTimeout = 30 * time.Second
)

// appConfig is internal runtime configuration.
// It is package-private to keep defaults and shape local to the CLI entrypoint.
type appConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	Addr            string        `mapstructure:"addr"`
	WorkspaceDir    string        `mapstructure:"workspace-dir"`
	AnalysisWorkers int           `mapstructure:"analysis-workers"`
	ChunkSize       int           `mapstructure:"chunk-size"`
	APIEnabled      bool          `mapstructure:"api-enabled"`
	APIPort         int           `mapstructure:"api-port"`
	APIAddr         string        `mapstructure:"api-addr"`
	DiagnosticsPath string        `mapstructure:"diagnostics-path"`
	LogFile         string        `mapstructure:"log-file"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown-timeout"`
	ConfigPath      string        `mapstructure:"-"` // not from config file
}

// flagOverrides holds command-line values that win over the config file.
type flagOverrides struct {
	Port         int
	WorkspaceDir string
	Workers      int
}

func (o flagOverrides) apply(cfg *appConfig) {
	if o.Port > 0 {
		cfg.Port = o.Port
		cfg.Addr = ""
	}
	if o.WorkspaceDir != "" {
		cfg.WorkspaceDir = o.WorkspaceDir
	}
	if o.Workers > 0 {
		cfg.AnalysisWorkers = o.Workers
	}
}
