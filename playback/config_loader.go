package playback

import (
	"fmt"

	"github.com/spf13/viper"
)

// LoadConfigFromViper loads pipeline configuration from Viper, falling back
// to defaults for unset keys.
func LoadConfigFromViper() (Config, error) {
	cfg := DefaultConfig()

	if viper.IsSet("playback.format") {
		cfg.Format = viper.GetString("playback.format")
	}
	if viper.IsSet("playback.sample_rate") {
		cfg.SampleRate = viper.GetInt("playback.sample_rate")
	}
	if viper.IsSet("playback.channels") {
		cfg.Channels = viper.GetInt("playback.channels")
	}
	if viper.IsSet("playback.lookahead") {
		cfg.Lookahead = viper.GetDuration("playback.lookahead")
	}
	if viper.IsSet("playback.queue_capacity") {
		cfg.QueueCapacity = viper.GetInt("playback.queue_capacity")
	}
	if viper.IsSet("playback.max_scheduled") {
		cfg.MaxScheduled = viper.GetInt("playback.max_scheduled")
	}
	if viper.IsSet("playback.volume") {
		cfg.Volume = viper.GetFloat64("playback.volume")
	}
	if viper.IsSet("playback.stall_depth") {
		cfg.StallDepth = viper.GetInt("playback.stall_depth")
	}

	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid playback configuration: %w", err)
	}
	return cfg, nil
}
