// Package config provides the configuration structure for the voice
// conversion service.
package config

import (
	"fmt"

	"github.com/book-expert/configurator"
	"github.com/book-expert/logger"
)

// ServiceConfig holds the HTTP surface and pipeline tuning knobs.
type ServiceConfig struct {
	Host                string  `toml:"host"`
	Port                int     `toml:"port"`
	WorkDir             string  `toml:"work_dir"`
	MaxConcurrentJobs   int     `toml:"max_concurrent_jobs"`
	MaxChunkSeconds     float64 `toml:"max_chunk_seconds"`
	SilenceThreshold    float64 `toml:"silence_threshold"`
	MinSilenceSeconds   float64 `toml:"min_silence_seconds"`
	SearchWindowSeconds float64 `toml:"search_window_seconds"`
}

// EngineConfig holds the connection settings for the model inference server.
type EngineConfig struct {
	URL            string `toml:"url"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// NATSConfig holds the configuration for the NATS intake worker.
type NATSConfig struct {
	URL                    string `toml:"url"`
	ConversionSubject      string `toml:"conversion_subject"`
	AudioObjectStoreBucket string `toml:"audio_object_store_bucket"`
}

// PathsConfig holds the configuration for file paths.
type PathsConfig struct {
	BaseLogsDir string `toml:"base_logs_dir"`
}

// Config is the root configuration structure.
type Config struct {
	Service ServiceConfig `toml:"service"`
	Engine  EngineConfig  `toml:"engine"`
	NATS    NATSConfig    `toml:"nats"`
	Paths   PathsConfig   `toml:"paths"`
}

// Load loads the configuration for the voice conversion service.
func Load(log *logger.Logger) (*Config, error) {
	var cfg Config

	err := configurator.Load(&cfg, log)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration from configurator: %w", err)
	}

	return &cfg, nil
}
