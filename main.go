// Package main provides the entry point for the gapless CLI, a streaming
// playback harness that feeds chunked audio through the delivery pipeline
// the way a flaky network would: out of order, rate-limited, and
// interruptible.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"github.com/dustin/go-humanize"
	"github.com/joho/godotenv"
	gap "github.com/muesli/go-app-paths"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/time/rate"

	"github.com/streamtts/gapless/internal/metrics"
	"github.com/streamtts/gapless/playback"
	"github.com/streamtts/gapless/playback/schedule"
)

var (
	// Version as provided by goreleaser.
	Version = ""
	// CommitSHA as provided by goreleaser.
	CommitSHA = ""

	configFile    string
	format        string
	lookahead     time.Duration
	volume        float64
	chunkLen      time.Duration
	chunksPerSec  float64
	shuffleWindow int
	shuffleSeed   int64
	transcript    string
	metricsAddr   string

	rootCmd = &cobra.Command{
		Use:   "gapless [AUDIO FILE]",
		Short: "Play chunked streaming audio without gaps",
		Long: "\nFeed an audio file through the gapless delivery pipeline as a " +
			"simulated chunk stream: segments arrive out of order and rate-limited, " +
			"and still play back seamlessly.",
		SilenceErrors:    false,
		SilenceUsage:     true,
		TraverseChildren: true,
		Args:             cobra.ExactArgs(1),
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return validateOptions(cmd)
		},
		RunE: execute,
	}
)

func validateOptions(cmd *cobra.Command) error {
	format = viper.GetString("playback.format")
	lookahead = viper.GetDuration("playback.lookahead")
	volume = viper.GetFloat64("playback.volume")

	if !cmd.Flags().Changed("chunk") {
		chunkLen = viper.GetDuration("stream.chunk")
	}
	if !cmd.Flags().Changed("rate") {
		chunksPerSec = viper.GetFloat64("stream.rate")
	}
	if !cmd.Flags().Changed("shuffle-window") {
		shuffleWindow = viper.GetInt("stream.shuffle_window")
	}

	if chunkLen < 10*time.Millisecond {
		return fmt.Errorf("chunk length must be at least 10ms, got %v", chunkLen)
	}
	if chunksPerSec <= 0 {
		return fmt.Errorf("chunk rate must be positive, got %v", chunksPerSec)
	}
	if shuffleWindow < 1 {
		return fmt.Errorf("shuffle window must be at least 1, got %d", shuffleWindow)
	}
	return nil
}

func execute(cmd *cobra.Command, args []string) error {
	cfg, err := playback.LoadConfigFromViper()
	if err != nil {
		return err
	}
	cfg.Format = format
	cfg.Lookahead = lookahead
	cfg.Volume = volume
	if err := cfg.Validate(); err != nil {
		return err
	}

	payload, err := readSource(args[0])
	if err != nil {
		return err
	}

	output, err := schedule.NewOtoOutput(cfg.SampleRate, cfg.Channels)
	if err != nil {
		return fmt.Errorf("unable to open audio output: %w", err)
	}
	defer output.Close() //nolint:errcheck

	pipe, err := playback.New(cfg, output, nil)
	if err != nil {
		return err
	}

	m := metrics.New()
	pipe.SetMetrics(m)
	pipe.SetObserver(logObserver{})
	if metricsAddr != "" {
		go serveMetrics(metricsAddr, m)
	}

	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	chunks := splitChunks(payload, cfg)
	log.Info("starting stream",
		"file", args[0],
		"size", humanize.Bytes(uint64(len(payload))),
		"chunks", len(chunks),
		"chunk_len", chunkLen,
		"rate", chunksPerSec)

	pipe.SetExpectedText(transcript)
	if err := feed(ctx, pipe, chunks); err != nil {
		pipe.Stop()
		return err
	}

	drain(ctx, pipe)
	pipe.Stop()

	status := pipe.Status()
	fmt.Printf("\nreceived %d chunks, played %d, dropped %d, stale %d, decode failures %d\n",
		status.Analytics.TotalReceived,
		status.Analytics.TotalPlayed,
		status.Analytics.Drops,
		pipe.StaleCount(),
		pipe.DecodeFailures())
	return nil
}

// readSource reads the whole audio payload from a file, or from stdin when
// the argument is "-".
func readSource(arg string) ([]byte, error) {
	if arg == "-" {
		b, err := io.ReadAll(os.Stdin)
		if err != nil {
			return nil, fmt.Errorf("unable to read from stdin: %w", err)
		}
		return b, nil
	}
	b, err := os.ReadFile(arg)
	if err != nil {
		return nil, fmt.Errorf("unable to open file: %w", err)
	}
	if len(b) == 0 {
		return nil, errors.New("audio source is empty")
	}
	return b, nil
}

// splitChunks slices raw PCM into fixed-duration chunks. Self-describing
// containers cannot be cut at arbitrary byte offsets, so they travel as a
// single chunk.
func splitChunks(payload []byte, cfg playback.Config) [][]byte {
	if cfg.Format != "pcm16" && cfg.Format != "pcm" {
		return [][]byte{payload}
	}

	bytesPerChunk := int(float64(cfg.SampleRate*cfg.Channels*2) * chunkLen.Seconds())
	if bytesPerChunk%2 != 0 {
		bytesPerChunk++
	}
	if bytesPerChunk <= 0 {
		return [][]byte{payload}
	}

	var chunks [][]byte
	for off := 0; off < len(payload); off += bytesPerChunk {
		end := off + bytesPerChunk
		if end > len(payload) {
			end = len(payload)
		}
		chunks = append(chunks, payload[off:end])
	}
	return chunks
}

// feed delivers chunks to the pipeline shuffled within a sliding window and
// paced at the configured rate, imitating out-of-order network arrival.
func feed(ctx context.Context, pipe *playback.Pipeline, chunks [][]byte) error {
	order := shuffledOrder(len(chunks))
	limiter := rate.NewLimiter(rate.Limit(chunksPerSec), 1)

	for _, idx := range order {
		if err := limiter.Wait(ctx); err != nil {
			return fmt.Errorf("stream interrupted: %w", err)
		}
		pipe.Ingest(idx, chunks[idx], true, transcript)
	}
	return nil
}

// shuffledOrder permutes indices within a sliding window so every chunk
// arrives at most shuffleWindow-1 positions away from its index.
func shuffledOrder(n int) []int {
	order := make([]int, n)
	for i := range order {
		order[i] = i
	}

	rng := rand.New(rand.NewSource(shuffleSeed)) //nolint:gosec
	for start := 0; start < n; start += shuffleWindow {
		end := start + shuffleWindow
		if end > n {
			end = n
		}
		window := order[start:end]
		rng.Shuffle(len(window), func(i, j int) {
			window[i], window[j] = window[j], window[i]
		})
	}
	return order
}

// drain waits until playback runs dry or the context is cancelled.
func drain(ctx context.Context, pipe *playback.Pipeline) {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("interrupted, stopping playback")
			return
		case <-ticker.C:
			if !pipe.Status().IsPlaying {
				return
			}
		}
	}
}

func serveMetrics(addr string, m *metrics.Metrics) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler(nil))
	log.Info("serving metrics", "addr", addr)
	if err := http.ListenAndServe(addr, mux); err != nil { //nolint:gosec
		log.Error("metrics server stopped", "error", err)
	}
}

// logObserver forwards pipeline events to the structured logger.
type logObserver struct{}

func (logObserver) OnEvent(ev playback.Event) {
	switch e := ev.(type) {
	case playback.StateChangedEvent:
		if e.Playing {
			log.Info("playback started")
		} else {
			log.Info("playback idle")
		}
	case playback.ChunkDroppedEvent:
		log.Warn("chunk dropped", "seq", e.Seq, "reason", e.Reason, "error", e.Err)
	case playback.ChunkStaleEvent:
		log.Warn("stale chunk rejected", "seq", e.Seq, "reason", e.Reason)
	case playback.HealthUpdatedEvent:
		if !e.Health.IsHealthy {
			log.Warn("buffer health degraded", "score", e.Health.HealthScore, "issues", e.Health.Issues)
		}
	}
}

func setupLog() (func() error, error) {
	log.SetOutput(os.Stderr)
	log.SetReportTimestamp(true)

	if os.Getenv("GAPLESS_DEBUG") != "" {
		log.SetLevel(log.DebugLevel)
	}

	logFile := os.Getenv("GAPLESS_LOGFILE")
	if logFile == "" {
		return func() error { return nil }, nil
	}
	f, err := os.OpenFile(logFile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644) //nolint:gosec
	if err != nil {
		return nil, fmt.Errorf("error setting up log file: %w", err)
	}
	log.SetOutput(f)
	return f.Close, nil
}

func main() {
	closer, err := setupLog()
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
	if err := rootCmd.Execute(); err != nil {
		_ = closer()
		os.Exit(1)
	}
	_ = closer()
}

func init() {
	_ = godotenv.Load()
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
	rootCmd.Flags().StringVarP(&format, "format", "f", "pcm16", "payload format (pcm16 or mp3)")
	rootCmd.Flags().DurationVar(&lookahead, "lookahead", schedule.DefaultLookahead, "scheduling lookahead before the first chunk")
	rootCmd.Flags().Float64VarP(&volume, "volume", "v", 1.0, "playback volume (0.0 to 1.0)")
	rootCmd.Flags().DurationVar(&chunkLen, "chunk", 500*time.Millisecond, "duration of each simulated stream chunk")
	rootCmd.Flags().Float64VarP(&chunksPerSec, "rate", "r", 4, "chunk delivery rate per second")
	rootCmd.Flags().IntVar(&shuffleWindow, "shuffle-window", 4, "reorder chunks within a window of this size")
	rootCmd.Flags().Int64Var(&shuffleSeed, "seed", 1, "seed for the reorder shuffle")
	rootCmd.Flags().StringVar(&transcript, "transcript", "gapless demo stream", "transcript watermark attached to every chunk")
	rootCmd.Flags().StringVar(&metricsAddr, "metrics", "", "serve Prometheus metrics on this address (e.g. :9090)")

	_ = viper.BindPFlag("playback.format", rootCmd.Flags().Lookup("format"))
	_ = viper.BindPFlag("playback.lookahead", rootCmd.Flags().Lookup("lookahead"))
	_ = viper.BindPFlag("playback.volume", rootCmd.Flags().Lookup("volume"))
	_ = viper.BindPFlag("stream.chunk", rootCmd.Flags().Lookup("chunk"))
	_ = viper.BindPFlag("stream.rate", rootCmd.Flags().Lookup("rate"))
	_ = viper.BindPFlag("stream.shuffle_window", rootCmd.Flags().Lookup("shuffle-window"))

	viper.SetDefault("playback.format", "pcm16")
	viper.SetDefault("playback.volume", 1.0)
	viper.SetDefault("stream.chunk", 500*time.Millisecond)
	viper.SetDefault("stream.rate", 4.0)
	viper.SetDefault("stream.shuffle_window", 4)

	rootCmd.AddCommand(configCmd)
}

func tryLoadConfigFromDefaultPlaces() {
	scope := gap.NewScope(gap.User, "gapless")
	dirs, err := scope.ConfigDirs()
	if err != nil {
		fmt.Println("Could not find configuration directory.")
		os.Exit(1)
	}

	if c := os.Getenv("XDG_CONFIG_HOME"); c != "" {
		dirs = append([]string{filepath.Join(c, "gapless")}, dirs...)
	}

	if c := os.Getenv("GAPLESS_CONFIG_HOME"); c != "" {
		dirs = append([]string{c}, dirs...)
	}

	for _, v := range dirs {
		viper.AddConfigPath(v)
	}

	viper.SetConfigName("gapless")
	viper.SetConfigType("yaml")
	viper.SetEnvPrefix("gapless")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			log.Warn("Could not parse configuration file", "err", err)
		}
	}

	if used := viper.ConfigFileUsed(); used != "" {
		log.Debug("Using configuration file", "path", used)
		return
	}

	configFile = filepath.Join(dirs[0], "gapless.yml")
}
