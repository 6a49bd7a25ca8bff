package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	ListenAddr string

	ModelPath         string
	ClassifierBackend string
	ONNXLibPath       string
	ONNXInputName     string
	ONNXOutputName    string
	TFServingURL      string
	TFServingModel    string
	PreprocessMean    [3]float32
	PreprocessScale   [3]float32
	PreprocessOrient  bool

	RecipeBackend     string
	DeepSeekAPIKey    string
	DeepSeekURL       string
	DeepSeekModel     string
	RecipeTemperature float64
	RecipeTimeout     time.Duration
	ClaudeAPIKey      string
	ClaudeModel       string
	OllamaHost        string
	OllamaModel       string

	DBPath    string
	PhotoPath string
	LogLevel  string
	LogFile   string
}

// HistoryEnabled reports whether predictions should be recorded.
func (c *Config) HistoryEnabled() bool {
	return c.DBPath != ""
}

// Load reads configuration from the environment. A .env file in the working
// directory is loaded first; variables already set in the environment win.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	mean, err := getTriple("PREPROCESS_MEAN", [3]float32{0, 0, 0})
	if err != nil {
		return nil, err
	}
	scale, err := getTriple("PREPROCESS_SCALE", [3]float32{1, 1, 1})
	if err != nil {
		return nil, err
	}
	temperature, err := strconv.ParseFloat(getEnv("RECIPE_TEMPERATURE", "1"), 64)
	if err != nil {
		return nil, fmt.Errorf("invalid RECIPE_TEMPERATURE: %w", err)
	}
	orient, err := strconv.ParseBool(getEnv("PREPROCESS_EXIF_ORIENT", "false"))
	if err != nil {
		return nil, fmt.Errorf("invalid PREPROCESS_EXIF_ORIENT: %w", err)
	}
	timeout, err := time.ParseDuration(getEnv("RECIPE_TIMEOUT", "0s"))
	if err != nil {
		return nil, fmt.Errorf("invalid RECIPE_TIMEOUT: %w", err)
	}

	return &Config{
		ListenAddr:        getEnv("LISTEN_ADDR", ":8080"),
		ModelPath:         getEnv("MODEL_PATH", "update_best_model.onnx"),
		ClassifierBackend: getEnv("CLASSIFIER_BACKEND", "onnx"),
		ONNXLibPath:       getEnv("ONNX_LIB_PATH", ""),
		ONNXInputName:     getEnv("ONNX_INPUT_NAME", ""),
		ONNXOutputName:    getEnv("ONNX_OUTPUT_NAME", ""),
		TFServingURL:      getEnv("TFSERVING_URL", "http://localhost:8501"),
		TFServingModel:    getEnv("TFSERVING_MODEL", "dapoerkito"),
		PreprocessMean:    mean,
		PreprocessScale:   scale,
		PreprocessOrient:  orient,
		RecipeBackend:     getEnv("RECIPE_BACKEND", "deepseek"),
		DeepSeekAPIKey:    getEnv("DEEPSEEK_API_KEY", ""),
		DeepSeekURL:       getEnv("DEEPSEEK_URL", "https://api.deepseek.com/chat/completions"),
		DeepSeekModel:     getEnv("DEEPSEEK_MODEL", "deepseek-chat"),
		RecipeTemperature: temperature,
		RecipeTimeout:     timeout,
		ClaudeAPIKey:      getEnv("CLAUDE_API_KEY", ""),
		ClaudeModel:       getEnv("CLAUDE_MODEL", "claude-sonnet-4-5"),
		OllamaHost:        getEnv("OLLAMA_HOST", "http://localhost:11434"),
		OllamaModel:       getEnv("OLLAMA_MODEL", "llama3.1"),
		DBPath:            getEnv("DB_PATH", ""),
		PhotoPath:         getEnv("PHOTO_LOCAL_PATH", "data/photos"),
		LogLevel:          getEnv("LOG_LEVEL", "info"),
		LogFile:           getEnv("LOG_FILE", ""),
	}, nil
}

func getEnv(key, defaultVal string) string {
	if val, exists := os.LookupEnv(key); exists {
		return val
	}
	return defaultVal
}

// getTriple parses a comma-separated list of three floats, e.g. "123.7,116.3,103.5".
func getTriple(key string, defaultVal [3]float32) ([3]float32, error) {
	raw, exists := os.LookupEnv(key)
	if !exists || strings.TrimSpace(raw) == "" {
		return defaultVal, nil
	}
	parts := strings.Split(raw, ",")
	if len(parts) != 3 {
		return defaultVal, fmt.Errorf("invalid %s: want 3 comma-separated values, got %d", key, len(parts))
	}
	var out [3]float32
	for i, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 32)
		if err != nil {
			return defaultVal, fmt.Errorf("invalid %s: %w", key, err)
		}
		out[i] = float32(v)
	}
	return out, nil
}
