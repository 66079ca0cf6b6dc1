// Package main provides the entry point for the StoryWeave offline CLI:
// cache management, download queue control and on-demand word playback.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/charmbracelet/log"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"github.com/storyweave/offline/internal/audio"
	"github.com/storyweave/offline/internal/story"
	"github.com/storyweave/offline/internal/syncworker"
	"github.com/storyweave/offline/internal/tts"
)

var (
	// Version as provided by goreleaser.
	Version = ""
	// CommitSHA as provided by goreleaser.
	CommitSHA = ""

	configFile string
	dataDir    string
	debug      bool

	cfg appConfig

	rootCmd = &cobra.Command{
		Use:           "storyweave-offline",
		Short:         "Offline cache and sync for StoryWeave storybooks",
		SilenceErrors: false,
		SilenceUsage:  true,
		PersistentPreRunE: func(*cobra.Command, []string) error {
			var err error
			cfg, err = loadConfig()
			if err != nil {
				return err
			}
			if dataDir != "" {
				cfg.DataDir = dataDir
			}
			if debug {
				cfg.Debug = true
			}
			if cfg.Debug {
				log.SetLevel(log.DebugLevel)
			}
			return nil
		},
	}
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Download queued stories for offline reading",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		a, err := newApp(cfg)
		if err != nil {
			return err
		}
		defer a.Close() //nolint:errcheck

		watch, _ := cmd.Flags().GetBool("watch")
		if !watch {
			err := a.worker.SyncOnce(cmd.Context())
			if errors.Is(err, syncworker.ErrSyncBlocked) {
				log.Warn("sync skipped: network policy forbids it right now")
				return nil
			}
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error { return a.monitor.Run(gctx) })
		g.Go(func() error { return a.worker.Run(gctx) })
		if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	},
}

var queueCmd = &cobra.Command{
	Use:   "queue",
	Short: "Manage the story download queue",
}

var queueAddCmd = &cobra.Command{
	Use:   "add STORY_ID",
	Short: "Queue a story for offline download",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cfg)
		if err != nil {
			return err
		}
		defer a.Close() //nolint:errcheck

		s, err := a.client.GetStory(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if err := a.worker.EnqueueStory(cmd.Context(), s); err != nil {
			return err
		}
		fmt.Printf("Queued %q (%d spreads)\n", s.Title, s.SpreadCount())
		return nil
	},
}

var queueListCmd = &cobra.Command{
	Use:   "list",
	Short: "Show queued, running and finished downloads",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		a, err := newApp(cfg)
		if err != nil {
			return err
		}
		defer a.Close() //nolint:errcheck

		entries, err := a.queue.AllStories(cmd.Context())
		if err != nil {
			return err
		}
		if len(entries) == 0 {
			fmt.Println("Queue is empty.")
			return nil
		}
		for _, e := range entries {
			line := fmt.Sprintf("%-12s %3d/%-3d %-36s %s",
				e.Status, e.CompletedSpreads, e.TotalSpreads, e.StoryID,
				humanize.Time(e.QueuedAt))
			if e.ErrorMessage != "" {
				line += "  (" + e.ErrorMessage + ")"
			}
			fmt.Println(line)
		}
		return nil
	},
}

var queueRemoveCmd = &cobra.Command{
	Use:   "remove STORY_ID",
	Short: "Drop a story from the download queue",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cfg)
		if err != nil {
			return err
		}
		defer a.Close() //nolint:errcheck
		return a.queue.RemoveFromQueue(cmd.Context(), args[0])
	},
}

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect and maintain the audio and story caches",
}

var cacheStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show cache sizes and entry counts",
	Args:  cobra.NoArgs,
	RunE: func(*cobra.Command, []string) error {
		a, err := newApp(cfg)
		if err != nil {
			return err
		}
		defer a.Close() //nolint:errcheck

		utt, err := a.utterances.Stats()
		if err != nil {
			return err
		}
		words, err := a.words.Stats()
		if err != nil {
			return err
		}
		storyBytes, err := a.stories.CacheSize()
		if err != nil {
			return err
		}
		ids, err := a.stories.CachedStoryIDs()
		if err != nil {
			return err
		}

		fmt.Printf("Utterance audio: %4d entries, %s\n", utt.Count, humanize.Bytes(uint64(utt.SizeBytes)))
		fmt.Printf("Word audio:      %4d entries, %s\n", words.Count, humanize.Bytes(uint64(words.SizeBytes)))
		fmt.Printf("Stories:         %4d cached,  %s\n", len(ids), humanize.Bytes(uint64(storyBytes)))
		return nil
	},
}

var cachePruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Remove expired audio cache entries",
	Args:  cobra.NoArgs,
	RunE: func(*cobra.Command, []string) error {
		a, err := newApp(cfg)
		if err != nil {
			return err
		}
		defer a.Close() //nolint:errcheck

		utt, err := a.utterances.PruneExpired()
		if err != nil {
			return err
		}
		words, err := a.words.PruneExpired()
		if err != nil {
			return err
		}
		fmt.Printf("Pruned %d utterance and %d word entries.\n", utt, words)
		return nil
	},
}

var cacheClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete cached audio (and optionally cached stories)",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		a, err := newApp(cfg)
		if err != nil {
			return err
		}
		defer a.Close() //nolint:errcheck

		if err := a.utterances.ClearAll(); err != nil {
			return err
		}
		if err := a.words.ClearAll(); err != nil {
			return err
		}
		fmt.Println("Audio caches cleared.")

		if all, _ := cmd.Flags().GetBool("all"); all {
			if err := a.stories.ClearAll(); err != nil {
				return err
			}
			fmt.Println("Story cache cleared.")
		}
		return nil
	},
}

var storiesCmd = &cobra.Command{
	Use:   "stories",
	Short: "Manage offline story copies",
}

var storiesListCmd = &cobra.Command{
	Use:   "list",
	Short: "Show stories available offline",
	Args:  cobra.NoArgs,
	RunE: func(*cobra.Command, []string) error {
		a, err := newApp(cfg)
		if err != nil {
			return err
		}
		defer a.Close() //nolint:errcheck

		ids, err := a.stories.CachedStoryIDs()
		if err != nil {
			return err
		}
		if len(ids) == 0 {
			fmt.Println("No stories cached.")
			return nil
		}
		for _, id := range ids {
			entry, err := a.stories.Entry(id)
			if err != nil {
				continue
			}
			fmt.Printf("%-36s %-30q %2d spreads  %-10s cached %s\n",
				id, entry.Title, entry.SpreadCount,
				humanize.Bytes(uint64(entry.SizeBytes)), humanize.Time(entry.CachedAt))
		}
		return nil
	},
}

var storiesInvalidateCmd = &cobra.Command{
	Use:   "invalidate STORY_ID",
	Short: "Drop a story's offline copy",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cfg)
		if err != nil {
			return err
		}
		defer a.Close() //nolint:errcheck

		unsubscribe := a.worker.SubscribeInvalidation(a.bus, args[0])
		defer unsubscribe()
		return a.stories.InvalidateStory(args[0])
	},
}

var sayCmd = &cobra.Command{
	Use:   "say WORD",
	Short: "Synthesize and play a single word with sentence context",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cfg)
		if err != nil {
			return err
		}
		defer a.Close() //nolint:errcheck

		word := args[0]
		sentence, _ := cmd.Flags().GetString("sentence")
		index, _ := cmd.Flags().GetInt("index")
		occurrence, _ := cmd.Flags().GetInt("occurrence")
		voice, _ := cmd.Flags().GetString("voice")
		if sentence == "" {
			sentence = word
		}
		if voice == "" {
			voice = cfg.VoiceID
		}
		fields := strings.Fields(sentence)
		if index < 0 || index >= len(fields) {
			index = wordIndexIn(fields, word)
		}

		token := story.StaticToken(cfg.APIToken)
		stream := tts.NewStreamClient(cfg.TTSSocketURL, token, log.Default())
		if err := stream.Connect(cmd.Context()); err != nil {
			return err
		}
		defer stream.Close() //nolint:errcheck

		player, err := audio.NewOtoPlayer()
		if err != nil {
			return err
		}
		defer player.Close() //nolint:errcheck

		disamb := tts.NewDisambiguateClient(cfg.APIBaseURL, token, nil)
		orchestrator := tts.NewWordOrchestrator(a.words, stream, disamb, player, log.Default())

		req := tts.WordRequest{
			Word:       word,
			WordIndex:  index,
			WordCount:  len(fields),
			Sentence:   sentence,
			Occurrence: occurrence,
			VoiceID:    voice,
		}
		if err := orchestrator.PlayWord(cmd.Context(), req); err != nil {
			return err
		}
		<-player.Done()
		return nil
	},
}

// wordIndexIn finds the first field matching word, ignoring case and
// trailing punctuation. Unmatched words land at index 0.
func wordIndexIn(fields []string, word string) int {
	needle := strings.ToLower(strings.TrimRight(word, ".,;:!?"))
	for i, f := range fields {
		if strings.ToLower(strings.TrimRight(f, ".,;:!?")) == needle {
			return i
		}
	}
	return 0
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	tryLoadConfigFromDefaultPlaces()
	if len(CommitSHA) >= 7 {
		vt := rootCmd.VersionTemplate()
		rootCmd.SetVersionTemplate(vt[:len(vt)-1] + " (" + CommitSHA[0:7] + ")\n")
	}
	if Version == "" {
		Version = "unknown (built from source)"
	}
	rootCmd.Version = Version
	rootCmd.InitDefaultCompletionCmd()

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", fmt.Sprintf("config file (default %s)", viper.GetViper().ConfigFileUsed()))
	rootCmd.PersistentFlags().StringVar(&dataDir, "data-dir", "", "override the data directory")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")

	syncCmd.Flags().Bool("watch", false, "keep running, syncing periodically and on reconnect")
	cacheClearCmd.Flags().Bool("all", false, "also clear cached stories")
	sayCmd.Flags().String("sentence", "", "sentence the word appears in")
	sayCmd.Flags().Int("index", -1, "word position in the sentence (default: first match)")
	sayCmd.Flags().Int("occurrence", 1, "1-indexed occurrence of the word in the sentence")
	sayCmd.Flags().String("voice", "", "voice id (default from config)")

	queueCmd.AddCommand(queueAddCmd, queueListCmd, queueRemoveCmd)
	cacheCmd.AddCommand(cacheStatsCmd, cachePruneCmd, cacheClearCmd)
	storiesCmd.AddCommand(storiesListCmd, storiesInvalidateCmd)
	rootCmd.AddCommand(syncCmd, queueCmd, cacheCmd, storiesCmd, sayCmd, configCmd)
}

func tryLoadConfigFromDefaultPlaces() {
	var dirs []string
	if base, err := os.UserConfigDir(); err == nil {
		dirs = append(dirs, filepath.Join(base, "storyweave"))
	}
	if c := os.Getenv("XDG_CONFIG_HOME"); c != "" {
		dirs = append([]string{filepath.Join(c, "storyweave")}, dirs...)
	}
	if c := os.Getenv("STORYWEAVE_CONFIG_HOME"); c != "" {
		dirs = append([]string{c}, dirs...)
	}
	for _, v := range dirs {
		viper.AddConfigPath(v)
	}

	viper.SetConfigName("storyweave")
	viper.SetConfigType("yaml")
	setConfigDefaults()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			log.Warn("Could not parse configuration file", "err", err)
		}
	}

	if used := viper.ConfigFileUsed(); used != "" {
		log.Debug("Using configuration file", "path", used)
		return
	}
	if len(dirs) > 0 {
		configFile = filepath.Join(dirs[0], "storyweave.yml")
	}
}
