package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/firebase/genkit/go/genkit"
	"github.com/firebase/genkit/go/plugins/compat_oai/openai"
	"github.com/firebase/genkit/go/plugins/googlegenai"
	"github.com/spf13/cobra"

	"github.com/canvaschat/canvaschat/api"
	"github.com/canvaschat/canvaschat/internal/canvas"
	"github.com/canvaschat/canvaschat/internal/chat"
	"github.com/canvaschat/canvaschat/internal/config"
	"github.com/canvaschat/canvaschat/internal/llm"
	"github.com/canvaschat/canvaschat/internal/log"
	"github.com/canvaschat/canvaschat/internal/prompt"
	"github.com/canvaschat/canvaschat/internal/settings"
	"github.com/canvaschat/canvaschat/internal/storage"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the canvas chat HTTP API server",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if err := cfg.ValidateServe(); err != nil {
		return fmt.Errorf("validating config: %w", err)
	}

	logger := log.New(log.Config{Level: log.ParseLevel(cfg.LogLevel), JSON: cfg.LogJSON})
	logger.Info("starting canvaschat", "version", Version, "config", cfg)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	db, err := storage.Open(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() {
		if closeErr := db.Close(); closeErr != nil {
			logger.Warn("closing database", "error", closeErr)
		}
	}()

	if err := storage.Migrate(db); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}

	g, err := initGenkit(ctx, cfg)
	if err != nil {
		return fmt.Errorf("initializing genkit: %w", err)
	}

	store := canvas.New(db, logger)
	settingsStore := settings.New(db, logger)
	client := llm.NewClient(g, cfg.FullModelName(), nil, logger)
	builder := prompt.NewBuilder(cfg.MaxContextTokens, logger)

	chatSvc, err := chat.New(chat.Config{
		Store:    store,
		Streamer: client,
		Builder:  builder,
		Logger:   logger,
	})
	if err != nil {
		return fmt.Errorf("creating chat service: %w", err)
	}

	server := api.NewServer(api.Config{
		Store:       store,
		Chat:        chatSvc,
		Settings:    settingsStore,
		Logger:      logger,
		CORSOrigins: cfg.CORSOrigins,
	})
	return server.Run(ctx, cfg.ListenAddr)
}

// initGenkit initializes Genkit with the configured provider plugin.
// The plugins read their API keys from the environment, so keys loaded
// from the config file are exported before init.
func initGenkit(ctx context.Context, cfg *config.Config) (*genkit.Genkit, error) {
	var g *genkit.Genkit

	switch cfg.Provider {
	case config.ProviderOpenAI:
		if err := exportKey("OPENAI_API_KEY", cfg.OpenAIAPIKey); err != nil {
			return nil, err
		}
		g = genkit.Init(ctx, genkit.WithPlugins(&openai.OpenAI{}))
	default: // googleai
		if err := exportKey("GEMINI_API_KEY", cfg.GoogleAPIKey); err != nil {
			return nil, err
		}
		g = genkit.Init(ctx, genkit.WithPlugins(&googlegenai.GoogleAI{}))
	}

	if g == nil {
		return nil, errors.New("genkit initialization returned nil")
	}
	return g, nil
}

func exportKey(envVar, value string) error {
	if os.Getenv(envVar) != "" || value == "" {
		return nil
	}
	if err := os.Setenv(envVar, value); err != nil {
		return fmt.Errorf("exporting %s: %w", envVar, err)
	}
	return nil
}
