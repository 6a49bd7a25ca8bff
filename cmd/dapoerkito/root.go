package main

import (
	"fmt"
	"log"

	"github.com/spf13/cobra"

	"github.com/vbonduro/dapoerkito/internal/config"
	"github.com/vbonduro/dapoerkito/internal/db"
	"github.com/vbonduro/dapoerkito/internal/logging"
	"github.com/vbonduro/dapoerkito/internal/photostore/local"
	"github.com/vbonduro/dapoerkito/internal/service"
	"github.com/vbonduro/dapoerkito/internal/store"
	"github.com/vbonduro/dapoerkito/internal/web"
	"github.com/vbonduro/dapoerkito/internal/web/templates"
)

func newRootCmd() *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "dapoerkito [model-path]",
		Short: "Ingredient photo classifier with South Sumatran recipe suggestions",
		Long: `dapoerkito serves a web UI that classifies a food-ingredient photo and
streams recipe suggestions for the predicted ingredient.

The model path defaults to MODEL_PATH. Other settings come from the
environment or a .env file in the working directory.`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(args, addr)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides LISTEN_ADDR)")

	cmd.AddCommand(newPredictCmd())
	return cmd
}

func runServe(args []string, addr string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if len(args) == 1 {
		cfg.ModelPath = args[0]
	}
	if addr != "" {
		cfg.ListenAddr = addr
	}

	logger, cleanup, err := logging.New(cfg.LogLevel, cfg.LogFile)
	if err != nil {
		log.Fatalf("failed to initialize logger: %v", err)
	}
	defer cleanup()

	c, err := newClassifier(cfg, logger)
	if err != nil {
		logger.Error("failed to load classifier", "model_path", cfg.ModelPath, "backend", cfg.ClassifierBackend, "error", err)
		return err
	}
	defer c.close()

	gen, err := newGenerator(cfg, logger)
	if err != nil {
		logger.Error("failed to configure recipe backend", "backend", cfg.RecipeBackend, "error", err)
		return err
	}

	opts := []service.Option{service.WithRecipeTimeout(cfg.RecipeTimeout)}
	if cfg.HistoryEnabled() {
		database, err := db.Open(cfg.DBPath)
		if err != nil {
			logger.Error("failed to open database", "error", err)
			return err
		}
		defer func() {
			if err := database.Close(); err != nil {
				logger.Error("failed to close database", "error", err)
			}
		}()

		photos, err := local.New(cfg.PhotoPath)
		if err != nil {
			logger.Error("failed to initialize photo store", "error", err)
			return err
		}
		opts = append(opts, service.WithHistory(store.NewPredictionStore(database), photos))
		logger.Info("history enabled", "db_path", cfg.DBPath, "photo_path", cfg.PhotoPath)
	}

	pipeline := service.NewPipeline(newPreprocessor(cfg), c.classifier, gen, logger, opts...)
	server := web.NewServer(pipeline, templates.FS, logger)

	if err := server.ListenAndServe(cfg.ListenAddr); err != nil {
		logger.Error("server error", "error", err)
		return fmt.Errorf("server stopped: %w", err)
	}
	return nil
}
