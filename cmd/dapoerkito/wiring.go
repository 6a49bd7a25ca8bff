package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/vbonduro/dapoerkito/internal/classifier"
	"github.com/vbonduro/dapoerkito/internal/classifier/onnx"
	"github.com/vbonduro/dapoerkito/internal/classifier/tfserving"
	"github.com/vbonduro/dapoerkito/internal/config"
	"github.com/vbonduro/dapoerkito/internal/imageprep"
	"github.com/vbonduro/dapoerkito/internal/recipe"
	"github.com/vbonduro/dapoerkito/internal/recipe/claude"
	"github.com/vbonduro/dapoerkito/internal/recipe/deepseek"
	"github.com/vbonduro/dapoerkito/internal/recipe/ollama"
)

// tfservingStartupTimeout bounds the model status check.
const tfservingStartupTimeout = 10 * time.Second

type loadedClassifier struct {
	classifier classifier.Classifier
	close      func()
}

func newPreprocessor(cfg *config.Config) *imageprep.Preprocessor {
	return imageprep.New(imageprep.Options{
		Size:             imageprep.DefaultSize,
		Mean:             cfg.PreprocessMean,
		Scale:            cfg.PreprocessScale,
		ApplyOrientation: cfg.PreprocessOrient,
	})
}

func newClassifier(cfg *config.Config, logger *slog.Logger) (*loadedClassifier, error) {
	var (
		model   classifier.Model
		closeFn = func() {}
	)

	switch cfg.ClassifierBackend {
	case "tfserving":
		ctx, cancel := context.WithTimeout(context.Background(), tfservingStartupTimeout)
		defer cancel()
		m, err := tfserving.New(ctx, cfg.TFServingURL, cfg.TFServingModel, len(classifier.Labels))
		if err != nil {
			return nil, err
		}
		logger.Info("using TensorFlow Serving classifier", "url", cfg.TFServingURL, "model", cfg.TFServingModel)
		model = m
	case "onnx", "":
		m, err := onnx.Open(cfg.ModelPath, onnx.Options{
			LibPath:    cfg.ONNXLibPath,
			InputName:  cfg.ONNXInputName,
			OutputName: cfg.ONNXOutputName,
			NumClasses: len(classifier.Labels),
			Logger:     logger,
		})
		if err != nil {
			return nil, err
		}
		logger.Info("using ONNX Runtime classifier", "model_path", cfg.ModelPath)
		model = m
		closeFn = func() {
			if err := m.Close(); err != nil {
				logger.Error("failed to close onnx session", "error", err)
			}
		}
	default:
		return nil, fmt.Errorf("unknown CLASSIFIER_BACKEND %q", cfg.ClassifierBackend)
	}

	adapter, err := classifier.New(model, classifier.Labels)
	if err != nil {
		closeFn()
		return nil, err
	}
	return &loadedClassifier{classifier: adapter, close: closeFn}, nil
}

func newGenerator(cfg *config.Config, logger *slog.Logger) (recipe.Generator, error) {
	switch cfg.RecipeBackend {
	case "claude":
		if cfg.ClaudeAPIKey == "" {
			return nil, fmt.Errorf("CLAUDE_API_KEY is required when RECIPE_BACKEND=claude")
		}
		logger.Info("using Claude recipe backend", "model", cfg.ClaudeModel)
		return claude.NewGenerator(cfg.ClaudeAPIKey, cfg.ClaudeModel, cfg.RecipeTemperature, claude.WithLogger(logger)), nil
	case "ollama":
		logger.Info("using Ollama recipe backend", "host", cfg.OllamaHost, "model", cfg.OllamaModel)
		return ollama.NewGenerator(cfg.OllamaHost, cfg.OllamaModel, cfg.RecipeTemperature, logger), nil
	case "deepseek", "":
		if cfg.DeepSeekAPIKey == "" {
			// Requests will fail with 401 and show the failure message.
			logger.Warn("DEEPSEEK_API_KEY is not set")
		}
		logger.Info("using DeepSeek recipe backend", "url", cfg.DeepSeekURL, "model", cfg.DeepSeekModel)
		return deepseek.NewGenerator(cfg.DeepSeekURL, cfg.DeepSeekAPIKey, cfg.DeepSeekModel, cfg.RecipeTemperature, nil, logger), nil
	default:
		return nil, fmt.Errorf("unknown RECIPE_BACKEND %q", cfg.RecipeBackend)
	}
}
