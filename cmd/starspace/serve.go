package starspace

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/soundprediction/starspace"
	"github.com/soundprediction/starspace/pkg/config"
	"github.com/soundprediction/starspace/pkg/logger"
	"github.com/soundprediction/starspace/pkg/server"
	"github.com/soundprediction/starspace/pkg/session"
	"github.com/soundprediction/starspace/pkg/telemetry"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the StarSpace HTTP server",
	Long: `Start the StarSpace HTTP server to expose the agent over a REST API.

The server provides endpoints for:
- Conversational turns (observe + act, per session)
- Stateless candidate ranking
- Model inspection, nearest neighbors, and checkpointing
- Session transcripts and health checks

Each session gets its own agent instance; all of them train and rank against
the same shared embedding. Configuration can be provided through config
files, environment variables, or command-line flags.`,
	RunE: runServe,
}

var (
	serveHost string
	servePort int
	serveMode string
)

func init() {
	rootCmd.AddCommand(serveCmd)

	// Server-specific flags
	serveCmd.Flags().StringVar(&serveHost, "host", "localhost", "Server host")
	serveCmd.Flags().IntVar(&servePort, "port", 8080, "Server port")
	serveCmd.Flags().StringVar(&serveMode, "mode", "release", "Server mode (debug, release, test)")

	// Model flags
	serveCmd.Flags().String("model-file", "", "Model checkpoint path")
	serveCmd.Flags().String("dict-file", "", "Dictionary path (defaults to the model file + .dict)")
	serveCmd.Flags().String("fixed-candidates-file", "", "Fallback candidate list for inference")

	// Session store flags
	serveCmd.Flags().String("session-dir", "", "Session store directory")
	serveCmd.Flags().Bool("session-in-memory", false, "Keep session transcripts in memory only")

	// Telemetry flags
	serveCmd.Flags().Bool("telemetry", false, "Enable parquet telemetry")
	serveCmd.Flags().String("telemetry-parquet-path", "", "Directory for telemetry parquet files")
}

func runServe(cmd *cobra.Command, args []string) error {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// Override config with command-line flags
	overrideServeFlags(cmd, cfg)

	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		return fmt.Errorf("invalid port: %d", cfg.Server.Port)
	}

	log := newLogger(cfg)

	// Route errors into parquet telemetry when enabled.
	if cfg.Telemetry.Enabled && cfg.Telemetry.ParquetPath != "" {
		base := logger.NewHandler(logger.Options{
			Level:        parseLevel(cfg.Log.Level),
			DisableColor: cfg.Log.NoColor,
		})
		ph, err := telemetry.NewParquetHandler(base, cfg.Telemetry.ParquetPath)
		if err != nil {
			log.Warn("failed to initialize error telemetry", "error", err)
		} else {
			log = slog.New(ph)
			defer ph.Flush()
			log.Info("error telemetry enabled", "path", cfg.Telemetry.ParquetPath)
		}
	}

	// Initialize the agent; the dictionary and any checkpoint come from the
	// configured paths.
	agent, err := starspace.New(cfg, nil, log)
	if err != nil {
		return fmt.Errorf("failed to initialize agent: %w", err)
	}
	defer agent.Close()

	store, err := openSessionStore(cfg, log)
	if err != nil {
		return fmt.Errorf("failed to open session store: %w", err)
	}
	if store != nil {
		defer store.Close()
	}

	// Create and setup server
	srv := server.New(cfg, agent, store, log)
	srv.Setup()

	// Handle signals
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	// Start server in a goroutine
	serverErrChan := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil {
			serverErrChan <- err
		}
	}()

	// Wait for shutdown signal or server error
	select {
	case err := <-serverErrChan:
		return fmt.Errorf("server error: %w", err)
	case sig := <-sigChan:
		log.Info("received signal", "signal", sig.String())

		// Create shutdown context with timeout
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		// Shutdown server
		if err := srv.Stop(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown error: %w", err)
		}

		log.Info("server stopped gracefully")
		return nil
	}
}

func overrideServeFlags(cmd *cobra.Command, cfg *config.Config) {
	// Server flags
	if cmd.Flags().Changed("host") {
		cfg.Server.Host = serveHost
	}
	if cmd.Flags().Changed("port") {
		cfg.Server.Port = servePort
	}
	if cmd.Flags().Changed("mode") {
		cfg.Server.Mode = serveMode
	}

	// Model flags
	if cmd.Flags().Changed("model-file") {
		cfg.Model.File, _ = cmd.Flags().GetString("model-file")
	}
	if cmd.Flags().Changed("dict-file") {
		cfg.Dict.File, _ = cmd.Flags().GetString("dict-file")
	}
	if cmd.Flags().Changed("fixed-candidates-file") {
		cfg.Data.FixedCandidatesFile, _ = cmd.Flags().GetString("fixed-candidates-file")
	}

	// Session store flags
	if cmd.Flags().Changed("session-dir") {
		cfg.Session.Dir, _ = cmd.Flags().GetString("session-dir")
	}
	if cmd.Flags().Changed("session-in-memory") {
		cfg.Session.InMemory, _ = cmd.Flags().GetBool("session-in-memory")
	}

	// Telemetry flags
	if cmd.Flags().Changed("telemetry") {
		cfg.Telemetry.Enabled, _ = cmd.Flags().GetBool("telemetry")
	}
	if cmd.Flags().Changed("telemetry-parquet-path") {
		cfg.Telemetry.ParquetPath, _ = cmd.Flags().GetString("telemetry-parquet-path")
	}
}

// openSessionStore opens the transcript store, defaulting to a directory
// under the user cache dir when none is configured.
func openSessionStore(cfg *config.Config, log *slog.Logger) (*session.Store, error) {
	dir := cfg.Session.Dir
	if dir == "" && !cfg.Session.InMemory {
		cacheDir, err := os.UserCacheDir()
		if err != nil {
			return nil, fmt.Errorf("failed to resolve cache dir: %w", err)
		}
		dir = filepath.Join(cacheDir, "starspace", "sessions")
	}
	store, err := session.Open(session.Options{
		Dir:      dir,
		InMemory: cfg.Session.InMemory,
		Logger:   log,
	})
	if err != nil {
		return nil, err
	}
	log.Info("session store open", "dir", dir, "in_memory", cfg.Session.InMemory)
	return store, nil
}
