package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"cwfork/internal/config"
	"cwfork/internal/sandbox"
	"cwfork/internal/storage"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var (
	Version = "dev"
	Commit  = "none"
)

// globals are the flags shared by every command. They override the environment.
type globals struct {
	lcdURL string
	height uint64
	prefix string
	color  bool
}

func main() {
	g := &globals{}

	var rootCmd = &cobra.Command{
		Use:   "cwfork",
		Short: "CosmWasm execution sandbox over a forked chain",
		Long: `cwfork forks a CosmWasm chain at a pinned height and runs contract
calls against a local copy-on-write overlay. Nothing is ever broadcast.`,
		Version:       fmt.Sprintf("%s (%s)", Version, Commit),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.CompletionOptions.DisableDefaultCmd = true

	rootCmd.PersistentFlags().StringVar(&g.lcdURL, "lcd", "", "LCD endpoint of the chain to fork (overrides LCD_URL)")
	rootCmd.PersistentFlags().Uint64Var(&g.height, "height", 0, "Fork height, 0 for latest (overrides FORK_HEIGHT)")
	rootCmd.PersistentFlags().StringVar(&g.prefix, "prefix", "", "Bech32 prefix (overrides BECH32_PREFIX)")
	rootCmd.PersistentFlags().BoolVar(&g.color, "color", false, "Colorize JSON output")

	rootCmd.AddCommand(newRunCmd(g), newQueryCmd(g), newServeCmd(g))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "❌ %v\n", err)
		stop()
		os.Exit(1)
	}
}

// loadConfig reads .env and the environment, applies flags and configures logging
func loadConfig(g *globals) (*config.Config, error) {
	_ = godotenv.Load()
	cfg := config.Load()
	if g.lcdURL != "" {
		cfg.LCDURL = g.lcdURL
	}
	if g.height != 0 {
		cfg.ForkHeight = g.height
	}
	if g.prefix != "" {
		cfg.Bech32Prefix = g.prefix
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	var logLevel slog.Level
	switch cfg.LogLevel {
	case "debug":
		logLevel = slog.LevelDebug
	case "info":
		logLevel = slog.LevelInfo
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	// Logs go to stderr so reports on stdout stay machine readable
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	slog.Debug("Configuration loaded",
		"lcd", cfg.LCDURL,
		"height", cfg.ForkHeight,
		"prefix", cfg.Bech32Prefix,
		"log_level", cfg.LogLevel,
	)
	return cfg, nil
}

// openRepository picks Postgres when DATABASE_URL is set, LevelDB otherwise.
// An empty CACHE_DIR gives an in-memory LevelDB.
func openRepository(ctx context.Context, cfg *config.Config) (storage.Repository, error) {
	if cfg.DatabaseURL != "" {
		repo, err := storage.NewPostgresRepository(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		slog.Info("Database connected successfully")
		return repo, nil
	}
	repo, err := storage.NewLevelDBRepository(cfg.CacheDir)
	if err != nil {
		return nil, fmt.Errorf("failed to open cache: %w", err)
	}
	return repo, nil
}

// session is an open model plus the repository backing it
type session struct {
	model *sandbox.Model
	repo  storage.Repository
}

func openSession(ctx context.Context, cfg *config.Config) (*session, error) {
	repo, err := openRepository(ctx, cfg)
	if err != nil {
		return nil, err
	}

	retryCfg := cfg.Retry
	model, err := sandbox.New(ctx, sandbox.Options{
		RPCEndpoint:   cfg.LCDURL,
		CometEndpoint: cfg.CometRPCURL,
		Height:        cfg.ForkHeight,
		Prefix:        cfg.Bech32Prefix,
		MaxDepth:      cfg.MaxCallDepth,
		CodeCacheSize: cfg.CodeCacheSize,
		HTTPTimeout:   cfg.HTTPTimeoutSec,
		Retry:         &retryCfg,
		Repository:    repo,
	})
	if err != nil {
		repo.Close()
		return nil, fmt.Errorf("failed to fork chain: %w", err)
	}
	return &session{model: model, repo: repo}, nil
}

func (s *session) Close(ctx context.Context) {
	if err := s.model.Close(ctx); err != nil {
		slog.Error("Error closing session", "error", err)
	}
	if err := s.repo.Close(); err != nil {
		slog.Error("Error closing repository", "error", err)
	}
}
