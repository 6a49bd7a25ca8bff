package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"

	"github.com/spf13/cobra"

	"github.com/vbonduro/dapoerkito/internal/config"
	"github.com/vbonduro/dapoerkito/internal/domain"
	"github.com/vbonduro/dapoerkito/internal/logging"
	"github.com/vbonduro/dapoerkito/internal/service"
	"github.com/vbonduro/dapoerkito/internal/terminal"
)

func newPredictCmd() *cobra.Command {
	var count int

	cmd := &cobra.Command{
		Use:   "predict <model-path> <image>",
		Short: "Classify one photo and stream recipes to the terminal",
		Example: `  dapoerkito predict update_best_model.onnx tahu.jpg
  dapoerkito predict update_best_model.onnx udang.png -n 3`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			_, err := domain.NewRecipeRequest("", count)
			return err
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPredict(cmd.OutOrStdout(), cmd.ErrOrStderr(), args[0], args[1], count)
		},
	}
	cmd.Flags().IntVarP(&count, "count", "n", domain.MinRecipeCount,
		fmt.Sprintf("number of recipes (%d-%d)", domain.MinRecipeCount, domain.MaxRecipeCount))
	return cmd
}

func runPredict(out, status io.Writer, modelPath, imagePath string, count int) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	cfg.ModelPath = modelPath

	// Log records go to stderr only at warn and above so they do not mix
	// with the recipe text.
	level := cfg.LogLevel
	if logging.ParseLevel(level) < slog.LevelWarn {
		level = "warn"
	}
	logger := logging.NewWithWriter(status, level)

	imageData, err := os.ReadFile(imagePath)
	if err != nil {
		return fmt.Errorf("failed to read image: %w", err)
	}

	c, err := newClassifier(cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to load classifier: %w", err)
	}
	defer c.close()

	gen, err := newGenerator(cfg, logger)
	if err != nil {
		return err
	}

	pipeline := service.NewPipeline(newPreprocessor(cfg), c.classifier, gen, logger,
		service.WithRecipeTimeout(cfg.RecipeTimeout))

	ctx := context.Background()
	cls, err := pipeline.Classify(ctx, imageData, http.DetectContentType(imageData), count)
	if err != nil {
		return err
	}

	r := terminal.New(out, status)
	r.Headline(cls.Result)
	r.Waiting()
	r.Finish(pipeline.Recommend(ctx, cls, r.Update))
	return nil
}
