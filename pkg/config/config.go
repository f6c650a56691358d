// Package config holds the application configuration.
//
// Configuration is read through viper from an optional config file plus a
// handful of environment overrides, validated once at startup, and carried
// into checkpoints so a saved model remembers the options it was trained
// with.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"

	"github.com/spf13/viper"

	"github.com/soundprediction/starspace/pkg/history"
	"github.com/soundprediction/starspace/pkg/optim"
)

// Config holds all configuration for the application.
type Config struct {
	// Log configuration
	Log LogConfig `mapstructure:"log"`

	// Server configuration
	Server ServerConfig `mapstructure:"server"`

	// Model configuration
	Model ModelConfig `mapstructure:"model"`

	// Training configuration
	Training TrainingConfig `mapstructure:"training"`

	// Dialog history configuration
	History HistoryConfig `mapstructure:"history"`

	// Dictionary configuration
	Dict DictConfig `mapstructure:"dict"`

	// Data configuration
	Data DataConfig `mapstructure:"data"`

	// Telemetry configuration
	Telemetry TelemetryConfig `mapstructure:"telemetry"`

	// Session store configuration
	Session SessionConfig `mapstructure:"session"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level   string `mapstructure:"level"`
	NoColor bool   `mapstructure:"no_color"`
}

// ServerConfig holds server configuration.
type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
	Mode string `mapstructure:"mode"` // gin mode: debug, release, test
}

// ModelConfig holds the embedding model configuration.
type ModelConfig struct {
	// File is the checkpoint path. Loaded at startup when it exists,
	// written by save operations.
	File            string  `mapstructure:"file"`
	EmbeddingSize   int     `mapstructure:"embedding_size"`
	EmbeddingNorm   float64 `mapstructure:"embedding_norm"`
	ShareEmbeddings bool    `mapstructure:"share_embeddings"`
	TFIDF           bool    `mapstructure:"tfidf"`
}

// TrainingConfig holds the training loop configuration.
type TrainingConfig struct {
	LearningRate float64 `mapstructure:"learning_rate"`
	Margin       float64 `mapstructure:"margin"`
	Optimizer    string  `mapstructure:"optimizer"`

	// Truncate caps label token sequences, keeping the trailing tokens.
	// Non-positive means no cap.
	Truncate int `mapstructure:"truncate"`

	// NegSamples is the number of negatives drawn per training step.
	NegSamples int `mapstructure:"neg_samples"`

	// ParrotNeg adds the current utterance itself as an extra negative.
	ParrotNeg bool `mapstructure:"parrot_neg"`

	// CacheSize bounds the negative-sample cache.
	CacheSize int `mapstructure:"cache_size"`

	// Seed fixes the random source when non-zero.
	Seed int64 `mapstructure:"seed"`
}

// HistoryConfig holds dialog history configuration.
type HistoryConfig struct {
	// Length is the token budget for the dialog context.
	Length int `mapstructure:"length"`

	// Replies selects which replies are folded back into the context:
	// none, model, label, or label_else_model.
	Replies string `mapstructure:"replies"`
}

// DictConfig holds dictionary configuration.
type DictConfig struct {
	// File is the dictionary path; when empty it defaults to the model
	// file with a ".dict" suffix.
	File      string `mapstructure:"file"`
	Lowercase bool   `mapstructure:"lowercase"`
	MinFreq   int    `mapstructure:"min_freq"`
	MaxTokens int    `mapstructure:"max_tokens"`
	CacheSize int    `mapstructure:"cache_size"`
}

// DataConfig holds data source configuration.
type DataConfig struct {
	// FixedCandidatesFile is the fallback candidate list used at inference
	// when an observation carries no candidates of its own.
	FixedCandidatesFile string `mapstructure:"fixed_candidates_file"`
}

// TelemetryConfig holds telemetry configuration.
type TelemetryConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	ParquetPath string `mapstructure:"parquet_path"`
}

// SessionConfig holds the server-side session store configuration.
type SessionConfig struct {
	// Dir is the on-disk store location; empty with InMemory unset means
	// a directory under the user cache dir.
	Dir      string `mapstructure:"dir"`
	InMemory bool   `mapstructure:"in_memory"`
}

// Load reads configuration from viper, applies environment overrides, and
// validates the result.
func Load() (*Config, error) {
	setDefaults()

	config := &Config{}
	if err := viper.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	overrideWithEnv(config)

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// setDefaults sets default configuration values.
func setDefaults() {
	viper.SetDefault("log.level", "info")
	viper.SetDefault("log.no_color", false)

	viper.SetDefault("server.host", "localhost")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.mode", "release")

	viper.SetDefault("model.embedding_size", 128)
	viper.SetDefault("model.embedding_norm", 10)
	viper.SetDefault("model.share_embeddings", true)
	viper.SetDefault("model.tfidf", false)

	viper.SetDefault("training.learning_rate", 0.1)
	viper.SetDefault("training.margin", 0.1)
	viper.SetDefault("training.optimizer", "sgd")
	viper.SetDefault("training.truncate", -1)
	viper.SetDefault("training.neg_samples", 10)
	viper.SetDefault("training.parrot_neg", false)
	viper.SetDefault("training.cache_size", 1000)
	viper.SetDefault("training.seed", 0)

	viper.SetDefault("history.length", 10000)
	viper.SetDefault("history.replies", "label")

	viper.SetDefault("dict.lowercase", true)
	viper.SetDefault("dict.min_freq", 0)
	viper.SetDefault("dict.max_tokens", 0)
	viper.SetDefault("dict.cache_size", 4096)

	viper.SetDefault("telemetry.enabled", false)
	if home, err := os.UserHomeDir(); err == nil {
		viper.SetDefault("telemetry.parquet_path", home+"/.starspace/telemetry")
	}

	viper.SetDefault("session.in_memory", false)
}

// overrideWithEnv overrides config with environment variables.
func overrideWithEnv(config *Config) {
	if host := os.Getenv("SERVER_HOST"); host != "" {
		config.Server.Host = host
	}
	if port := os.Getenv("SERVER_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Server.Port = p
		}
	}
	if file := os.Getenv("STARSPACE_MODEL_FILE"); file != "" {
		config.Model.File = file
	}
	if path := os.Getenv("TELEMETRY_PARQUET_PATH"); path != "" {
		config.Telemetry.ParquetPath = path
	}
	if dir := os.Getenv("SESSION_DIR"); dir != "" {
		config.Session.Dir = dir
	}
}

// Validate checks the configuration for values the runtime cannot start
// with. All failures here abort startup.
func (c *Config) Validate() error {
	if c.Model.EmbeddingSize <= 0 {
		return fmt.Errorf("model.embedding_size must be positive, got %d", c.Model.EmbeddingSize)
	}
	if c.Model.EmbeddingNorm < 0 {
		return fmt.Errorf("model.embedding_norm must not be negative, got %g", c.Model.EmbeddingNorm)
	}
	if c.Training.LearningRate <= 0 {
		return fmt.Errorf("training.learning_rate must be positive, got %g", c.Training.LearningRate)
	}
	if c.Training.Margin < 0 {
		return fmt.Errorf("training.margin must not be negative, got %g", c.Training.Margin)
	}
	if _, err := optim.New(c.Training.Optimizer, nil, c.Training.LearningRate); err != nil {
		return fmt.Errorf("training.optimizer: %w", err)
	}
	if c.Training.NegSamples <= 0 {
		return fmt.Errorf("training.neg_samples must be positive, got %d", c.Training.NegSamples)
	}
	if c.Training.CacheSize <= 0 {
		return fmt.Errorf("training.cache_size must be positive, got %d", c.Training.CacheSize)
	}
	if _, err := history.ParsePolicy(c.History.Replies); err != nil {
		return fmt.Errorf("history.replies: %w", err)
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be in (0, 65535], got %d", c.Server.Port)
	}
	return nil
}

// DictFile returns the dictionary path, deriving it from the model file
// when unset.
func (c *Config) DictFile() string {
	if c.Dict.File != "" {
		return c.Dict.File
	}
	if c.Model.File != "" {
		return c.Model.File + ".dict"
	}
	return ""
}

// Map renders the configuration as nested maps for checkpoint artifacts and
// sidecar files.
func (c *Config) Map() map[string]any {
	return map[string]any{
		"log": map[string]any{
			"level":    c.Log.Level,
			"no_color": c.Log.NoColor,
		},
		"server": map[string]any{
			"host": c.Server.Host,
			"port": c.Server.Port,
			"mode": c.Server.Mode,
		},
		"model": map[string]any{
			"file":             c.Model.File,
			"embedding_size":   c.Model.EmbeddingSize,
			"embedding_norm":   c.Model.EmbeddingNorm,
			"share_embeddings": c.Model.ShareEmbeddings,
			"tfidf":            c.Model.TFIDF,
		},
		"training": map[string]any{
			"learning_rate": c.Training.LearningRate,
			"margin":        c.Training.Margin,
			"optimizer":     c.Training.Optimizer,
			"truncate":      c.Training.Truncate,
			"neg_samples":   c.Training.NegSamples,
			"parrot_neg":    c.Training.ParrotNeg,
			"cache_size":    c.Training.CacheSize,
			"seed":          c.Training.Seed,
		},
		"history": map[string]any{
			"length":  c.History.Length,
			"replies": c.History.Replies,
		},
		"dict": map[string]any{
			"file":       c.Dict.File,
			"lowercase":  c.Dict.Lowercase,
			"min_freq":   c.Dict.MinFreq,
			"max_tokens": c.Dict.MaxTokens,
			"cache_size": c.Dict.CacheSize,
		},
		"data": map[string]any{
			"fixed_candidates_file": c.Data.FixedCandidatesFile,
		},
		"telemetry": map[string]any{
			"enabled":      c.Telemetry.Enabled,
			"parquet_path": c.Telemetry.ParquetPath,
		},
		"session": map[string]any{
			"dir":       c.Session.Dir,
			"in_memory": c.Session.InMemory,
		},
	}
}

// ApplyCheckpoint overrides the model-scoped options with the values a
// checkpoint was trained with, logging every change. Only options that are
// baked into the saved weights are overridden; everything else keeps its
// configured value.
func (c *Config) ApplyCheckpoint(opts map[string]any, logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	if m, ok := opts["model"].(map[string]any); ok {
		if size, ok := asInt(m["embedding_size"]); ok && size != c.Model.EmbeddingSize {
			logger.Info("overriding option from checkpoint",
				"option", "model.embedding_size", "old", c.Model.EmbeddingSize, "new", size)
			c.Model.EmbeddingSize = size
		}
		if shared, ok := m["share_embeddings"].(bool); ok && shared != c.Model.ShareEmbeddings {
			logger.Info("overriding option from checkpoint",
				"option", "model.share_embeddings", "old", c.Model.ShareEmbeddings, "new", shared)
			c.Model.ShareEmbeddings = shared
		}
	}
	if tr, ok := opts["training"].(map[string]any); ok {
		if name, ok := tr["optimizer"].(string); ok && name != "" && name != c.Training.Optimizer {
			logger.Info("overriding option from checkpoint",
				"option", "training.optimizer", "old", c.Training.Optimizer, "new", name)
			c.Training.Optimizer = name
		}
	}
}

// asInt widens the numeric types msgpack and YAML decoders produce.
func asInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int8:
		return int(n), true
	case int16:
		return int(n), true
	case int32:
		return int(n), true
	case int64:
		return int(n), true
	case uint8:
		return int(n), true
	case uint16:
		return int(n), true
	case uint32:
		return int(n), true
	case uint64:
		return int(n), true
	case float64:
		return int(n), true
	default:
		return 0, false
	}
}
