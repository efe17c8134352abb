// Package config provides configuration management for the Clipforge Agent.
// Configuration is loaded from environment variables with sensible defaults;
// the stage pipeline definition is loaded from an optional YAML file.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

const (
	// Default values
	DefaultPort      = 8790
	DefaultLogLevel  = "info"
	DefaultDataDir   = ".clipforge"
	DefaultRetention = 168 * time.Hour

	// Environment variable names
	EnvPort      = "CLIPFORGE_PORT"
	EnvLogLevel  = "CLIPFORGE_LOG_LEVEL"
	EnvDataDir   = "CLIPFORGE_DATA_DIR"
	EnvHeadless  = "CLIPFORGE_HEADLESS"
	EnvInboxDir  = "CLIPFORGE_INBOX_DIR"
	EnvRetention = "CLIPFORGE_JOB_RETENTION"

	// Content pipeline environment variable names
	EnvPipelinesPython = "CLIPFORGE_PIPELINES_PYTHON"
	EnvPipelinesModule = "CLIPFORGE_PIPELINES_MODULE"
	EnvFFmpegPath      = "CLIPFORGE_FFMPEG"
	EnvPipelineFile    = "CLIPFORGE_PIPELINE_FILE"

	// Database filename
	DBFilename = "clipforge.db"

	// Content pipeline defaults
	DefaultPipelinesModule        = "clipforge_content_pipelines"
	DefaultPipelinesTimeoutDoctor = 30 // seconds
)

// Config defines the application configuration interface
type Config interface {
	Port() int
	LogLevel() string
	DataDir() string
	DBPath() string
	ArtifactsDir() string
	ClipsDir() string
	InboxDir() string
	Headless() bool
	JobRetention() time.Duration
	PipelinesPython() string
	PipelinesModule() string
	PipelinesTimeoutDoctor() time.Duration
	FFmpegPath() string
	PipelineFile() string
}

// EnvConfig reads configuration from environment variables
type EnvConfig struct {
	port         int
	logLevel     string
	dataDir      string
	inboxDir     string
	headless     bool
	jobRetention time.Duration

	pipelinesPython string
	pipelinesModule string
	ffmpegPath      string
	pipelineFile    string
}

// New creates a new EnvConfig with defaults and environment variable overrides
func New() (*EnvConfig, error) {
	cfg := &EnvConfig{
		port:         DefaultPort,
		logLevel:     DefaultLogLevel,
		dataDir:      defaultDataDir(),
		jobRetention: DefaultRetention,
	}

	// Override port from environment
	if p := os.Getenv(EnvPort); p != "" {
		port, err := strconv.Atoi(p)
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %w", EnvPort, err)
		}
		if port < 1 || port > 65535 {
			return nil, fmt.Errorf("invalid %s: port must be between 1 and 65535", EnvPort)
		}
		cfg.port = port
	}

	// Override log level from environment
	if ll := os.Getenv(EnvLogLevel); ll != "" {
		cfg.logLevel = ll
	}

	// Override data directory from environment
	if dd := os.Getenv(EnvDataDir); dd != "" {
		cfg.dataDir = dd
	}

	if id := os.Getenv(EnvInboxDir); id != "" {
		cfg.inboxDir = id
	}

	if h := os.Getenv(EnvHeadless); h != "" {
		headless, err := strconv.ParseBool(h)
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %w", EnvHeadless, err)
		}
		cfg.headless = headless
	}

	if r := os.Getenv(EnvRetention); r != "" {
		retention, err := time.ParseDuration(r)
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %w", EnvRetention, err)
		}
		if retention < 0 {
			return nil, fmt.Errorf("invalid %s: retention must not be negative", EnvRetention)
		}
		cfg.jobRetention = retention
	}

	cfg.pipelinesPython = os.Getenv(EnvPipelinesPython)

	if pm := os.Getenv(EnvPipelinesModule); pm != "" {
		cfg.pipelinesModule = pm
	}

	cfg.ffmpegPath = os.Getenv(EnvFFmpegPath)
	cfg.pipelineFile = os.Getenv(EnvPipelineFile)

	return cfg, nil
}

// Port returns the HTTP server port
func (c *EnvConfig) Port() int {
	return c.port
}

// LogLevel returns the log level (debug, info, warn, error)
func (c *EnvConfig) LogLevel() string {
	return c.logLevel
}

// DataDir returns the data directory path
func (c *EnvConfig) DataDir() string {
	return c.dataDir
}

// DBPath returns the full path to the SQLite database file
func (c *EnvConfig) DBPath() string {
	return filepath.Join(c.dataDir, DBFilename)
}

// ArtifactsDir returns the directory holding per-project stage artifacts
func (c *EnvConfig) ArtifactsDir() string {
	return filepath.Join(c.dataDir, "artifacts")
}

// ClipsDir returns the directory holding cut clip files
func (c *EnvConfig) ClipsDir() string {
	return filepath.Join(c.dataDir, "clips")
}

// InboxDir returns the watched drop directory, empty when disabled
func (c *EnvConfig) InboxDir() string {
	return c.inboxDir
}

// Headless reports whether the system tray should be skipped
func (c *EnvConfig) Headless() bool {
	return c.headless
}

// JobRetention returns how long terminal job records are kept
func (c *EnvConfig) JobRetention() time.Duration {
	return c.jobRetention
}

func (c *EnvConfig) PipelinesPython() string {
	return c.pipelinesPython
}

func (c *EnvConfig) PipelinesModule() string {
	if c.pipelinesModule != "" {
		return c.pipelinesModule
	}
	return DefaultPipelinesModule
}

func (c *EnvConfig) PipelinesTimeoutDoctor() time.Duration {
	return time.Duration(DefaultPipelinesTimeoutDoctor) * time.Second
}

// FFmpegPath returns the configured ffmpeg binary path, empty = auto-detect
func (c *EnvConfig) FFmpegPath() string {
	return c.ffmpegPath
}

// PipelineFile returns the path to the YAML pipeline definition, empty = built-in defaults
func (c *EnvConfig) PipelineFile() string {
	return c.pipelineFile
}

// defaultDataDir returns the default data directory path
func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		// Fallback to current directory if home is not available
		return DefaultDataDir
	}
	return filepath.Join(home, DefaultDataDir)
}

// Version information (set at build time via ldflags)
var (
	Version   = "0.1.0"
	BuildTime = "unknown"
	GitCommit = "unknown"
)
