package playback

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/streamtts/gapless/playback/decode"
)

// Config contains all playback pipeline configuration options.
type Config struct {
	// Wire format of ingested stream segments: "pcm16" or "mp3".
	Format string `yaml:"format" env:"GAPLESS_FORMAT" envDefault:"pcm16"`

	// Audio format for raw PCM payloads.
	SampleRate int `yaml:"sample_rate" env:"GAPLESS_SAMPLE_RATE" envDefault:"24000"`
	Channels   int `yaml:"channels" env:"GAPLESS_CHANNELS" envDefault:"1"`

	// Scheduling settings.
	Lookahead     time.Duration `yaml:"lookahead" env:"GAPLESS_LOOKAHEAD" envDefault:"200ms"`
	QueueCapacity int           `yaml:"queue_capacity" env:"GAPLESS_QUEUE_CAPACITY" envDefault:"10"`
	MaxScheduled  int           `yaml:"max_scheduled" env:"GAPLESS_MAX_SCHEDULED" envDefault:"4"`
	Volume        float64       `yaml:"volume" env:"GAPLESS_VOLUME" envDefault:"1.0"`

	// StallDepth is the pending-entry count above which the health
	// snapshot reports a suspected sequence stall.
	StallDepth int `yaml:"stall_depth" env:"GAPLESS_STALL_DEPTH" envDefault:"8"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Format:        "pcm16",
		SampleRate:    24000,
		Channels:      1,
		Lookahead:     200 * time.Millisecond,
		QueueCapacity: 10,
		MaxScheduled:  4,
		Volume:        1.0,
		StallDepth:    8,
	}
}

// FromEnv returns the default configuration overridden by GAPLESS_*
// environment variables.
func FromEnv() (Config, error) {
	cfg := Config{}
	if err := env.Parse(&cfg); err != nil {
		return cfg, fmt.Errorf("parse environment config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate checks the configuration for invalid values.
func (c Config) Validate() error {
	if _, err := decode.ParseFormat(c.Format); err != nil {
		return err
	}
	if c.SampleRate <= 0 {
		return fmt.Errorf("sample_rate must be positive, got %d", c.SampleRate)
	}
	if c.Channels < 1 || c.Channels > 2 {
		return fmt.Errorf("channels must be 1 or 2, got %d", c.Channels)
	}
	if c.Lookahead < 0 {
		return fmt.Errorf("lookahead must not be negative, got %v", c.Lookahead)
	}
	if c.QueueCapacity <= 0 {
		return fmt.Errorf("queue_capacity must be positive, got %d", c.QueueCapacity)
	}
	if c.MaxScheduled <= 0 {
		return fmt.Errorf("max_scheduled must be positive, got %d", c.MaxScheduled)
	}
	if c.Volume < 0 || c.Volume > 1 {
		return fmt.Errorf("volume must be in [0, 1], got %v", c.Volume)
	}
	if c.StallDepth <= 0 {
		return fmt.Errorf("stall_depth must be positive, got %d", c.StallDepth)
	}
	return nil
}
