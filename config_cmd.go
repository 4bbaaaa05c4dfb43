package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"

	"github.com/charmbracelet/x/editor"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const defaultConfig = `# Playback pipeline configuration
playback:
  # Payload format of incoming chunks: pcm16 or mp3
  format: "pcm16"
  # Sample rate for raw PCM payloads
  sample_rate: 24000
  # Channel count for raw PCM payloads (1 or 2)
  channels: 1
  # How far ahead of the clock the first chunk is scheduled
  lookahead: "200ms"
  # Maximum unscheduled buffers held before the oldest is dropped
  queue_capacity: 10
  # Maximum sources scheduled on the timeline at once
  max_scheduled: 4
  # Playback volume (0.0 to 1.0)
  volume: 1.0
  # Pending sequence entries above which a stall is reported
  stall_depth: 8

# Stream simulation settings
stream:
  # Duration of each simulated chunk
  chunk: "500ms"
  # Chunk delivery rate per second
  rate: 4
  # Chunks are reordered within a window of this size
  shuffle_window: 4
`

var configCmd = &cobra.Command{
	Use:     "config",
	Hidden:  false,
	Short:   "Edit the gapless config file",
	Long:    "\nEdit the gapless config file. We’ll use EDITOR to determine which editor to use. If the config file doesn't exist, it will be created.",
	Example: "gapless config\ngapless config --config path/to/config.yml",
	Args:    cobra.NoArgs,
	RunE: func(*cobra.Command, []string) error {
		if err := ensureConfigFile(); err != nil {
			return err
		}

		c, err := editor.Cmd("Gapless", configFile)
		if err != nil {
			return fmt.Errorf("unable to set config file: %w", err)
		}
		c.Stdin = os.Stdin
		c.Stdout = os.Stdout
		c.Stderr = os.Stderr
		if err := c.Run(); err != nil {
			return fmt.Errorf("unable to run command: %w", err)
		}

		fmt.Println("Wrote config file to:", configFile)
		return nil
	},
}

func ensureConfigFile() error {
	if configFile == "" {
		configFile = viper.GetViper().ConfigFileUsed()
		if err := os.MkdirAll(filepath.Dir(configFile), 0o755); err != nil { //nolint:gosec
			return fmt.Errorf("could not write configuration file: %w", err)
		}
	}

	if ext := path.Ext(configFile); ext != ".yaml" && ext != ".yml" {
		return fmt.Errorf("'%s' is not a supported configuration type: use '%s' or '%s'", ext, ".yaml", ".yml")
	}

	if _, err := os.Stat(configFile); errors.Is(err, fs.ErrNotExist) {
		// File doesn't exist yet, create all necessary directories and
		// write the default config file
		if err := os.MkdirAll(filepath.Dir(configFile), 0o700); err != nil {
			return fmt.Errorf("unable create directory: %w", err)
		}

		f, err := os.Create(configFile)
		if err != nil {
			return fmt.Errorf("unable to create config file: %w", err)
		}
		defer func() { _ = f.Close() }()

		if _, err := f.WriteString(defaultConfig); err != nil {
			return fmt.Errorf("unable to write config file: %w", err)
		}
	} else if err != nil { // some other error occurred
		return fmt.Errorf("unable to stat config file: %w", err)
	}
	return nil
}
