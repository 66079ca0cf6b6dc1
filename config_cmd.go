package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"path"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// defaultConfigYAML seeds a freshly created config file. Its values mirror
// defaultConfig so an untouched file changes nothing.
const defaultConfigYAML = `# StoryWeave service endpoints
api:
  base_url: "https://api.storyweave.app"
  # token: "your-access-token"

# Word and utterance synthesis
tts:
  socket_url: "wss://api.storyweave.app/voice/tts"
  voice_id: "narrator"

# Where indexes, caches and the download queue live.
# Defaults to the platform cache directory.
# data_dir: "~/.cache/storyweave"

# Debug logging
debug: false

# Background sync tuning
sync:
  # simultaneous spread downloads per story
  concurrency: 3
  # retry budget per story
  max_retries: 5
  # base retry delay, doubled per attempt
  retry_backoff: "30s"
  # periodic sync cadence in watch mode
  interval: "5m"
  # connectivity probe cadence in watch mode
  probe_interval: "15s"
`

var configCmd = &cobra.Command{
	Use:     "config",
	Short:   "Edit the storyweave config file",
	Long:    "Edit the storyweave config file with EDITOR. If the config file doesn't exist, it will be created.",
	Example: "storyweave-offline config\nstoryweave-offline config --config path/to/config.yml",
	Args:    cobra.NoArgs,
	RunE: func(*cobra.Command, []string) error {
		if err := ensureConfigFile(); err != nil {
			return err
		}

		editorCmd := os.Getenv("EDITOR")
		if editorCmd == "" {
			editorCmd = "vi"
		}
		c := exec.Command(editorCmd, configFile) //nolint:gosec
		c.Stdin = os.Stdin
		c.Stdout = os.Stdout
		c.Stderr = os.Stderr
		if err := c.Run(); err != nil {
			return fmt.Errorf("unable to run editor: %w", err)
		}

		fmt.Println("Wrote config file to:", configFile)
		return nil
	},
}

func ensureConfigFile() error {
	if configFile == "" {
		configFile = viper.GetViper().ConfigFileUsed()
		if configFile == "" {
			return errors.New("no config file path available")
		}
	}

	if ext := path.Ext(configFile); ext != ".yaml" && ext != ".yml" {
		return fmt.Errorf("'%s' is not a supported configuration type: use '%s' or '%s'", ext, ".yaml", ".yml")
	}

	if _, err := os.Stat(configFile); errors.Is(err, fs.ErrNotExist) {
		if err := os.MkdirAll(filepath.Dir(configFile), 0o700); err != nil {
			return fmt.Errorf("unable create directory: %w", err)
		}

		f, err := os.Create(configFile)
		if err != nil {
			return fmt.Errorf("unable to create config file: %w", err)
		}
		defer func() { _ = f.Close() }()

		if _, err := f.WriteString(defaultConfigYAML); err != nil {
			return fmt.Errorf("unable to write config file: %w", err)
		}
	} else if err != nil {
		return fmt.Errorf("unable to stat config file: %w", err)
	}
	return nil
}
