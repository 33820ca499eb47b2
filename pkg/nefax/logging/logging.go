// Package logging provides a unified logging system for the nefaxer
// indexer. The CLI and the library share this package.
//
// Basic usage:
//
//	cfg := logging.Config{Level: "info"}
//	if err := logging.Init(cfg); err != nil {
//	    log.Fatal(err)
//	}
//	defer logging.Close()
//
//	logger := logging.Get("walker")
//	logger.Info("walk started", "root", "/home/user")
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/adrg/xdg"
	"github.com/charmbracelet/log"
)

// Config configures the logging system.
type Config struct {
	// Level is the default log level (debug, info, warn, error).
	Level string

	// Path is the log file path. Empty uses DefaultLogPath().
	Path string

	// Components maps component names to their log levels, allowing
	// per-component overrides.
	Components map[string]string

	// Quiet suppresses stderr output. File output, if configured,
	// is unaffected.
	Quiet bool
}

// ParseLevel parses a level string into a charmbracelet/log level.
func ParseLevel(s string) (log.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return log.DebugLevel, nil
	case "", "info":
		return log.InfoLevel, nil
	case "warn", "warning":
		return log.WarnLevel, nil
	case "error":
		return log.ErrorLevel, nil
	default:
		return log.InfoLevel, fmt.Errorf("invalid log level %q", s)
	}
}

// state holds the global logging state.
type state struct {
	mu          sync.RWMutex
	initialized bool
	out         io.Writer
	file        *os.File
	level       log.Level
	components  map[string]log.Level
	loggers     map[string]*log.Logger
}

var globalState = &state{
	components: make(map[string]log.Level),
	loggers:    make(map[string]*log.Logger),
}

// Init initializes the logging system. Before Init is called, loggers
// write to stderr at info level.
func Init(cfg Config) error {
	globalState.mu.Lock()
	defer globalState.mu.Unlock()

	level, err := ParseLevel(cfg.Level)
	if err != nil {
		return fmt.Errorf("parsing log level: %w", err)
	}

	components := make(map[string]log.Level, len(cfg.Components))
	for comp, lvl := range cfg.Components {
		parsed, err := ParseLevel(lvl)
		if err != nil {
			return fmt.Errorf("parsing level for component %s: %w", comp, err)
		}
		components[comp] = parsed
	}

	if globalState.file != nil {
		if err := globalState.file.Close(); err != nil {
			return fmt.Errorf("closing existing log file: %w", err)
		}
		globalState.file = nil
	}

	var writers []io.Writer
	if !cfg.Quiet {
		writers = append(writers, os.Stderr)
	}

	// Determine log path
	path := cfg.Path
	if path == "" {
		path = DefaultLogPath()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating log directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("opening log file: %w", err)
	}
	globalState.file = f
	writers = append(writers, f)

	switch len(writers) {
	case 0:
		globalState.out = io.Discard
	case 1:
		globalState.out = writers[0]
	default:
		globalState.out = io.MultiWriter(writers...)
	}

	globalState.level = level
	globalState.components = components
	globalState.initialized = true

	// Recreate existing loggers with the new configuration.
	for component := range globalState.loggers {
		globalState.loggers[component] = createLogger(component)
	}

	return nil
}

// Get returns a logger for the given component. Component level
// overrides from the config take precedence over the default level.
func Get(component string) *log.Logger {
	globalState.mu.RLock()
	if logger, ok := globalState.loggers[component]; ok {
		globalState.mu.RUnlock()
		return logger
	}
	globalState.mu.RUnlock()

	globalState.mu.Lock()
	defer globalState.mu.Unlock()
	if logger, ok := globalState.loggers[component]; ok {
		return logger
	}
	logger := createLogger(component)
	globalState.loggers[component] = logger
	return logger
}

// createLogger builds a component logger. Caller must hold the lock.
func createLogger(component string) *log.Logger {
	out := globalState.out
	level := globalState.level
	if !globalState.initialized {
		out = os.Stderr
		level = log.InfoLevel
	}
	if override, ok := globalState.components[component]; ok {
		level = override
	}

	logger := log.NewWithOptions(out, log.Options{
		ReportTimestamp: true,
		Level:           level,
	})
	return logger.With("component", component)
}

// Close releases the log file, if any.
func Close() error {
	globalState.mu.Lock()
	defer globalState.mu.Unlock()
	if globalState.file == nil {
		return nil
	}
	err := globalState.file.Close()
	globalState.file = nil
	return err
}

// DefaultLogPath returns the default log file location under the XDG
// state directory.
func DefaultLogPath() string {
	return filepath.Join(xdg.StateHome, "nefaxer", "nefaxer.log")
}
