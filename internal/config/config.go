package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const EnvPrefix = "MORO_"

// AppConfig is the process-wide configuration read once at startup.
type AppConfig struct {
	Jobs              int           `yaml:"jobs"`
	LoggingConfigPath string        `yaml:"logging_config_path,omitempty"`
	Logging           LoggingConfig `yaml:"logging"`
}

// StreamConfig holds the settings of `moro camera stream`.
type StreamConfig struct {
	Device         string        `yaml:"device"`
	Width          int           `yaml:"width"`
	Height         int           `yaml:"height"`
	FPS            int           `yaml:"fps"`
	Quality        int           `yaml:"quality"`
	Host           string        `yaml:"host"`
	Port           int           `yaml:"port"`
	ResizeWidth    int           `yaml:"stream_width,omitempty"`
	ResizeHeight   int           `yaml:"stream_height,omitempty"`
	Grayscale      bool          `yaml:"grayscale"`
	Motion         bool          `yaml:"motion_detection"`
	MotionThresh   float64       `yaml:"motion_threshold"`
	MotionMaxSkip  int           `yaml:"motion_max_skip"`
	Preload        bool          `yaml:"preload"`
	StatsInterval  time.Duration `yaml:"stats_interval"`
	RecordDir      string        `yaml:"record_dir,omitempty"`
	ZMQPublish     string        `yaml:"zmq_publish,omitempty"`
	MQTTBroker     string        `yaml:"mqtt_broker,omitempty"`
	MQTTPrefix     string        `yaml:"mqtt_prefix,omitempty"`
	BroadcastQueue int           `yaml:"broadcast_queue"`
}

func DefaultStream() StreamConfig {
	return StreamConfig{
		Device:         "0",
		Width:          640,
		Height:         480,
		FPS:            15,
		Quality:        70,
		Host:           "0.0.0.0",
		Port:           5000,
		MotionThresh:   0.005,
		MotionMaxSkip:  30,
		Preload:        true,
		StatsInterval:  10 * time.Second,
		MQTTPrefix:     "moro/camera",
		BroadcastQueue: 16,
	}
}

func (c StreamConfig) Addr() string {
	return c.Host + ":" + strconv.Itoa(c.Port)
}

// HasResize reports whether frames are scaled before emission.
func (c StreamConfig) HasResize() bool {
	return c.ResizeWidth > 0 && c.ResizeHeight > 0
}

// Load reads .env (if present) and MORO_* variables, then the logging
// configuration file. An explicitly configured logging file must exist.
func Load() (AppConfig, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return AppConfig{}, fmt.Errorf("load .env: %w", err)
	}
	return FromEnv(os.Getenv)
}

func FromEnv(getenv func(string) string) (AppConfig, error) {
	cfg := AppConfig{
		Jobs:    16,
		Logging: DefaultLogging(),
	}
	if v := getenv(EnvPrefix + "JOBS"); v != "" {
		jobs, err := strconv.Atoi(v)
		if err != nil {
			return AppConfig{}, fmt.Errorf("invalid %sJOBS %q: %w", EnvPrefix, v, err)
		}
		cfg.Jobs = jobs
	}
	if path := getenv(EnvPrefix + "LOGGING_CONFIG_PATH"); path != "" {
		logging, err := LoadLogging(path)
		if err != nil {
			return AppConfig{}, err
		}
		cfg.LoggingConfigPath = path
		cfg.Logging = logging
	}
	return cfg, nil
}

func (c AppConfig) YAML() ([]byte, error) {
	return yaml.Marshal(c)
}
