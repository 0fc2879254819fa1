package main

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
	"github.com/tinytelemetry/logtally/internal/model"
)

const (
	defaultServer    = "127.0.0.1"
	defaultPort      = model.DefaultPort
	defaultDimension = "LOG_LEVEL"
	defaultLogsRoot  = "test_logs"
	defaultChunkSize = model.DefaultChunkSize
)

// cliConfig holds the client's settings after flags are applied.
type cliConfig struct {
	Server    string        `mapstructure:"server"`
	Port      int           `mapstructure:"port"`
	Dimension string        `mapstructure:"dimension"`
	Dir       string        `mapstructure:"dir"`
	LogsRoot  string        `mapstructure:"logs-root"`
	StartDate string        `mapstructure:"start-date"`
	EndDate   string        `mapstructure:"end-date"`
	Output    string        `mapstructure:"output"`
	ChunkSize int           `mapstructure:"chunk-size"`
	Timeout   time.Duration `mapstructure:"timeout"`

	ServerAddr string                `mapstructure:"-"`
	Request    model.AnalysisRequest `mapstructure:"-"`
}

// cliFlags are command-line values; zero values leave the config untouched.
type cliFlags struct {
	Server    string
	Port      int
	Dimension string
	Dir       string
	StartDate string
	EndDate   string
	Output    string
	Timeout   time.Duration
}

func (f cliFlags) apply(cfg *cliConfig) {
	if f.Server != "" {
		cfg.Server = f.Server
	}
	if f.Port > 0 {
		cfg.Port = f.Port
	}
	if f.Dimension != "" {
		cfg.Dimension = f.Dimension
	}
	if f.Dir != "" {
		cfg.Dir = f.Dir
	}
	if f.StartDate != "" {
		cfg.StartDate = f.StartDate
	}
	if f.EndDate != "" {
		cfg.EndDate = f.EndDate
	}
	if f.Output != "" {
		cfg.Output = f.Output
	}
	if f.Timeout > 0 {
		cfg.Timeout = f.Timeout
	}
}

func loadCLIConfig(configPath string, flags ...cliFlags) (cliConfig, error) {
	var cfg cliConfig

	home, err := os.UserHomeDir()
	if err != nil {
		return cfg, fmt.Errorf("finding home directory: %w", err)
	}

	v := viper.New()
	v.SetEnvPrefix("TALLY")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))

	v.SetDefault("server", defaultServer)
	v.SetDefault("port", defaultPort)
	v.SetDefault("dimension", defaultDimension)
	v.SetDefault("dir", "")
	v.SetDefault("logs-root", defaultLogsRoot)
	v.SetDefault("start-date", "")
	v.SetDefault("end-date", "")
	v.SetDefault("output", "")
	v.SetDefault("chunk-size", defaultChunkSize)
	v.SetDefault("timeout", time.Duration(0))

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigFile(filepath.Join(home, ".config", "logtally", "client.yml"))
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
	for _, f := range flags {
		f.apply(&cfg)
	}

	if cfg.Port <= 0 || cfg.Port > 65535 {
		return cfg, fmt.Errorf("invalid port: %d", cfg.Port)
	}
	if cfg.ChunkSize <= 0 {
		return cfg, fmt.Errorf("invalid chunk-size: %d", cfg.ChunkSize)
	}
	if cfg.Timeout < 0 {
		return cfg, fmt.Errorf("invalid timeout: %s", cfg.Timeout)
	}
	dim, err := model.ParseDimension(cfg.Dimension)
	if err != nil {
		return cfg, fmt.Errorf("invalid dimension: %w", err)
	}
	cfg.StartDate = strings.TrimSpace(cfg.StartDate)
	cfg.EndDate = strings.TrimSpace(cfg.EndDate)
	// Dates travel in a '|'-delimited payload.
	if strings.Contains(cfg.StartDate, "|") || strings.Contains(cfg.EndDate, "|") {
		return cfg, errors.New("dates must not contain '|'")
	}

	if cfg.Dir != "-" {
		cfg.Dir = expandHome(home, cfg.Dir)
	}
	cfg.LogsRoot = expandHome(home, cfg.LogsRoot)
	cfg.Output = expandHome(home, cfg.Output)

	cfg.ServerAddr = net.JoinHostPort(cfg.Server, strconv.Itoa(cfg.Port))
	cfg.Request = model.AnalysisRequest{
		Dimension: dim,
		StartDate: cfg.StartDate,
		EndDate:   cfg.EndDate,
	}

	return cfg, nil
}

func expandHome(home, path string) string {
	if strings.HasPrefix(path, "~/") {
		return filepath.Join(home, path[2:])
	}
	return path
}
