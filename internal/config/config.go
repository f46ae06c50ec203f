package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// ErrNotConfigured is returned when a required credential or endpoint is missing
var ErrNotConfigured = errors.New("not configured")

// Config defines application configuration.
type Config struct {
	GigaChat   GigaChatConfig   `yaml:"gigachat"`
	OpenRouter OpenRouterConfig `yaml:"openrouter"`
	YouTube    YouTubeConfig    `yaml:"youtube"`
	DB         DBConfig         `yaml:"db"`
	Log        LogConfig        `yaml:"log"`
	Summary    SummaryConfig    `yaml:"summary"`
	Clustering ClusteringConfig `yaml:"clustering"`
	Pipeline   PipelineConfig   `yaml:"pipeline"`
}

// GigaChatConfig configures the primary provider. Token is the base64 authorization key
// exchanged for short-lived access tokens.
type GigaChatConfig struct {
	Token          string        `yaml:"token"`
	Scope          string        `yaml:"scope"`
	AuthURL        string        `yaml:"auth_url"`
	APIURL         string        `yaml:"api_url"`
	EmbeddingModel string        `yaml:"embedding_model"`
	ChatModel      string        `yaml:"chat_model"`
	TokenPath      string        `yaml:"token_path"`
	TokenTTL       time.Duration `yaml:"token_ttl"`
	InsecureTLS    bool          `yaml:"insecure_tls"`
}

type OpenRouterConfig struct {
	Token          string `yaml:"token"`
	BaseURL        string `yaml:"base_url"`
	Model          string `yaml:"model"`
	EmbeddingModel string `yaml:"embedding_model"`
}

type YouTubeConfig struct {
	APIKey string `yaml:"api_key"`
}

type DBConfig struct {
	Path string `yaml:"path"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}

type SummaryConfig struct {
	Language   string `yaml:"language"`
	SampleSize int    `yaml:"sample_size"`
}

type ClusteringConfig struct {
	Algorithm       string  `yaml:"algorithm"`
	Eps             float64 `yaml:"eps"`
	MinSamples      int     `yaml:"min_samples"`
	AssignBatchSize int     `yaml:"assign_batch_size"`
	VerifySizes     bool    `yaml:"verify_sizes"`
	Perplexity      float64 `yaml:"perplexity"`
}

type PipelineConfig struct {
	Workers           int     `yaml:"workers"`
	RequestsPerSecond float64 `yaml:"requests_per_second"`
}

// Default returns the configuration used when nothing overrides it
func Default() Config {
	return Config{
		GigaChat: GigaChatConfig{
			Scope:          "GIGACHAT_API_PERS",
			AuthURL:        "https://ngw.devices.sberbank.ru:9443/api/v2/oauth",
			APIURL:         "https://gigachat.devices.sberbank.ru/api/v1",
			EmbeddingModel: "Embeddings",
			ChatModel:      "GigaChat",
			TokenPath:      "gigachat_token.json",
			TokenTTL:       30 * time.Minute,
		},
		OpenRouter: OpenRouterConfig{
			BaseURL:        "https://openrouter.ai/api/v1",
			Model:          "qwen/qwen-plus",
			EmbeddingModel: "openai/text-embedding-3-small",
		},
		DB:  DBConfig{Path: "complaintlens.db"},
		Log: LogConfig{Level: "info"},
		Summary: SummaryConfig{
			Language:   "Russian",
			SampleSize: 50,
		},
		Clustering: ClusteringConfig{
			Algorithm:       "dbscan",
			Eps:             0.5,
			MinSamples:      5,
			AssignBatchSize: 500,
			VerifySizes:     true,
			Perplexity:      10,
		},
		Pipeline: PipelineConfig{
			Workers:           4,
			RequestsPerSecond: 5,
		},
	}
}

// Load reads configuration from defaults, an optional YAML file, an optional .env file
// and environment variables, later sources overriding earlier ones.
func Load() (Config, error) {
	cfg := Default()

	if path := os.Getenv("COMPLAINTLENS_CONFIG_PATH"); path != "" {
		if err := loadFromFile(path, &cfg); err != nil {
			return Config{}, err
		}
	}

	if err := loadEnvFile(); err != nil {
		return Config{}, err
	}

	if err := applyEnv(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks that at least one LLM provider can be reached
func (c Config) Validate() error {
	if c.GigaChat.Token == "" && c.OpenRouter.Token == "" {
		return fmt.Errorf("neither GIGACHAT_TOKEN nor OPENROUTER_TOKEN is set: %w", ErrNotConfigured)
	}
	if c.DB.Path == "" {
		return fmt.Errorf("database path is empty: %w", ErrNotConfigured)
	}
	if c.Clustering.AssignBatchSize <= 0 {
		return fmt.Errorf("clustering.assign_batch_size must be positive, got %d", c.Clustering.AssignBatchSize)
	}
	return nil
}

// RequireYouTube reports ErrNotConfigured when comment import cannot run
func (c Config) RequireYouTube() error {
	if c.YouTube.APIKey == "" {
		return fmt.Errorf("YOUTUBE_API_KEY is not set: %w", ErrNotConfigured)
	}
	return nil
}

func loadFromFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config file: %w", err)
	}
	return nil
}

// loadEnvFile populates the process environment from ENV_FILE, or ./.env when present.
// Variables already set in the environment win.
func loadEnvFile() error {
	path := os.Getenv("ENV_FILE")
	if path == "" {
		if _, err := os.Stat(".env"); err != nil {
			return nil
		}
		path = ".env"
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("load env file %s: %w", path, err)
	}
	return nil
}

func applyEnv(cfg *Config) error {
	setString := map[string]*string{
		"GIGACHAT_TOKEN":             &cfg.GigaChat.Token,
		"GIGACHAT_SCOPE":             &cfg.GigaChat.Scope,
		"GIGACHAT_AUTH_URL":          &cfg.GigaChat.AuthURL,
		"GIGACHAT_API_URL":           &cfg.GigaChat.APIURL,
		"OPENROUTER_TOKEN":           &cfg.OpenRouter.Token,
		"OPENROUTER_BASE_URL":        &cfg.OpenRouter.BaseURL,
		"OPENROUTER_MODEL":           &cfg.OpenRouter.Model,
		"OPENROUTER_EMBEDDING_MODEL": &cfg.OpenRouter.EmbeddingModel,
		"YOUTUBE_API_KEY":            &cfg.YouTube.APIKey,
		"COMPLAINTLENS_DB_PATH":      &cfg.DB.Path,
		"COMPLAINTLENS_TOKEN_PATH":   &cfg.GigaChat.TokenPath,
		"LOG_LEVEL":                  &cfg.Log.Level,
		"SUMMARY_LANGUAGE":           &cfg.Summary.Language,
	}
	for key, dst := range setString {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}

	if v := os.Getenv("GIGACHAT_INSECURE_TLS"); v != "" {
		insecure, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid GIGACHAT_INSECURE_TLS: %w", err)
		}
		cfg.GigaChat.InsecureTLS = insecure
	}
	if v := os.Getenv("COMPLAINTLENS_WORKERS"); v != "" {
		workers, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid COMPLAINTLENS_WORKERS: %w", err)
		}
		cfg.Pipeline.Workers = workers
	}
	return nil
}
