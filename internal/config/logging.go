package config

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

type LoggingConfig struct {
	Level     string `yaml:"level"`
	Format    string `yaml:"format"`
	Output    string `yaml:"output"`
	AddSource bool   `yaml:"add_source"`
}

func DefaultLogging() LoggingConfig {
	return LoggingConfig{
		Level:  "info",
		Format: "text",
		Output: "stderr",
	}
}

// LoadLogging reads a YAML logging config; missing keys keep their defaults.
func LoadLogging(path string) (LoggingConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return LoggingConfig{}, fmt.Errorf("logging configuration file not found: %s: %w", path, err)
	}
	cfg := DefaultLogging()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return LoggingConfig{}, fmt.Errorf("parse logging config %s: %w", path, err)
	}
	if _, err := parseLevel(cfg.Level); err != nil {
		return LoggingConfig{}, err
	}
	return cfg, nil
}

func parseLevel(level string) (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(strings.TrimSpace(level))); err != nil {
		return 0, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	return l, nil
}

// NewLogger builds the root logger. The returned closer releases a log file
// when Output names one.
func (c LoggingConfig) NewLogger(stderr io.Writer) (*slog.Logger, io.Closer, error) {
	level, err := parseLevel(c.Level)
	if err != nil {
		return nil, nil, err
	}
	var (
		w      io.Writer = stderr
		closer io.Closer = nopCloser{}
	)
	switch strings.ToLower(c.Output) {
	case "", "stderr":
	case "stdout":
		w = os.Stdout
	default:
		f, err := os.OpenFile(c.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("open log output: %w", err)
		}
		w, closer = f, f
	}
	opts := &slog.HandlerOptions{Level: level, AddSource: c.AddSource}
	var handler slog.Handler
	switch strings.ToLower(c.Format) {
	case "json":
		handler = slog.NewJSONHandler(w, opts)
	case "", "text":
		handler = slog.NewTextHandler(w, opts)
	default:
		return nil, nil, fmt.Errorf("unsupported log format %q", c.Format)
	}
	return slog.New(handler), closer, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
