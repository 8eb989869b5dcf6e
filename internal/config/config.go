package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config centralizes runtime settings for the API, executor and collaborators.
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Jobs        JobsConfig        `mapstructure:"jobs"`
	Redis       RedisConfig       `mapstructure:"redis"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Storage     StorageConfig     `mapstructure:"storage"`
	Transcripts TranscriptsConfig `mapstructure:"transcripts"`
	Cache       CacheConfig       `mapstructure:"cache"`
	LLM         LLMConfig         `mapstructure:"llm"`
	Facts       FactsConfig       `mapstructure:"facts"`
	Catalog     CatalogConfig     `mapstructure:"catalog"`
	Log         LogConfig         `mapstructure:"log"`
}

type ServerConfig struct {
	Port            string        `mapstructure:"port"`
	APIKey          string        `mapstructure:"api_key"`
	CORSOrigins     []string      `mapstructure:"cors_origins"`
	RateLimitRPS    float64       `mapstructure:"rate_limit_rps"`
	RateLimitBurst  int           `mapstructure:"rate_limit_burst"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type JobsConfig struct {
	TTL time.Duration `mapstructure:"ttl"`
}

type RedisConfig struct {
	URL string `mapstructure:"url"`
}

type DatabaseConfig struct {
	URL             string        `mapstructure:"url"`
	MaxConns        int32         `mapstructure:"max_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	PingTimeout     time.Duration `mapstructure:"ping_timeout"`
}

type StorageConfig struct {
	Endpoint     string `mapstructure:"endpoint"`
	Region       string `mapstructure:"region"`
	AccessKey    string `mapstructure:"access_key"`
	SecretKey    string `mapstructure:"secret_key"`
	Bucket       string `mapstructure:"bucket"`
	UsePathStyle bool   `mapstructure:"use_path_style"`
}

func (c StorageConfig) Enabled() bool {
	return strings.TrimSpace(c.Endpoint) != "" || strings.TrimSpace(c.AccessKey) != ""
}

type TranscriptsConfig struct {
	Dir      string `mapstructure:"dir"`
	FailFast bool   `mapstructure:"fail_fast"`
}

type CacheConfig struct {
	Driver     string        `mapstructure:"driver"`
	DSN        string        `mapstructure:"dsn"`
	TTL        time.Duration `mapstructure:"ttl"`
	MaxEntries int           `mapstructure:"max_entries"`
}

type LLMConfig struct {
	Provider          string        `mapstructure:"provider"`
	GeminiAPIKey      string        `mapstructure:"gemini_api_key"`
	OpenRouterAPIKey  string        `mapstructure:"openrouter_api_key"`
	OpenRouterBaseURL string        `mapstructure:"openrouter_base_url"`
	Model             string        `mapstructure:"model"`
	FallbackModel     string        `mapstructure:"fallback_model"`
	Timeout           time.Duration `mapstructure:"timeout"`
	MaxRetries        int           `mapstructure:"max_retries"`
	PromptsDir        string        `mapstructure:"prompts_dir"`
}

type FactsConfig struct {
	ChunkSize    int `mapstructure:"chunk_size"`
	ChunkOverlap int `mapstructure:"chunk_overlap"`
	Concurrency  int `mapstructure:"concurrency"`
}

type CatalogConfig struct {
	Path string `mapstructure:"path"`
}

type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
}

type binding struct {
	key      string
	env      string
	fallback any
}

var bindings = []binding{
	{"server.port", "PORT", "8080"},
	{"server.api_key", "API_KEY", ""},
	{"server.cors_origins", "FRONTEND_ORIGINS", "http://localhost:3000"},
	{"server.rate_limit_rps", "RATE_LIMIT_RPS", 20.0},
	{"server.rate_limit_burst", "RATE_LIMIT_BURST", 40},
	{"server.shutdown_timeout", "SHUTDOWN_TIMEOUT", "30s"},

	{"jobs.ttl", "JOB_TTL", "24h"},
	{"redis.url", "REDIS_URL", ""},

	{"database.url", "DATABASE_URL", ""},
	{"database.max_conns", "DB_MAX_CONNS", 10},
	{"database.conn_max_lifetime", "DB_CONN_MAX_LIFETIME", "1h"},
	{"database.ping_timeout", "DB_PING_TIMEOUT", "5s"},

	{"storage.endpoint", "STORAGE_ENDPOINT", ""},
	{"storage.region", "STORAGE_REGION", "us-east-1"},
	{"storage.access_key", "STORAGE_ACCESS_KEY", ""},
	{"storage.secret_key", "STORAGE_SECRET_KEY", ""},
	{"storage.bucket", "STORAGE_BUCKET", "opportunity-files"},
	{"storage.use_path_style", "STORAGE_USE_PATH_STYLE", true},

	{"transcripts.dir", "TRANSCRIPTS_DIR", ".temp/transcripts"},
	{"transcripts.fail_fast", "TRANSCRIPTS_FAIL_FAST", false},

	{"cache.driver", "CACHE_DRIVER", "sqlite"},
	{"cache.dsn", "CACHE_DSN", ".temp/session_cache.sqlite"},
	{"cache.ttl", "CACHE_TTL", "24h"},
	{"cache.max_entries", "CACHE_MAX_ENTRIES", 512},

	{"llm.provider", "LLM_PROVIDER", "gemini"},
	{"llm.gemini_api_key", "GEMINI_API_KEY", ""},
	{"llm.openrouter_api_key", "OPENROUTER_API_KEY", ""},
	{"llm.openrouter_base_url", "OPENROUTER_BASE_URL", "https://openrouter.ai/api/v1"},
	{"llm.model", "LLM_MODEL", "gemini-2.0-flash"},
	{"llm.fallback_model", "LLM_FALLBACK_MODEL", ""},
	{"llm.timeout", "LLM_TIMEOUT", "90s"},
	{"llm.max_retries", "LLM_MAX_RETRIES", 2},
	{"llm.prompts_dir", "PROMPTS_DIR", ""},

	{"facts.chunk_size", "FACT_CHUNK_SIZE", 12000},
	{"facts.chunk_overlap", "FACT_CHUNK_OVERLAP", 1200},
	{"facts.concurrency", "FACT_CONCURRENCY", 4},

	{"catalog.path", "SECTION_CATALOG_PATH", ""},

	{"log.level", "LOG_LEVEL", "info"},
	{"log.format", "LOG_FORMAT", "text"},
	{"log.file", "LOG_FILE", ""},
	{"log.max_size_mb", "LOG_MAX_SIZE_MB", 100},
	{"log.max_backups", "LOG_MAX_BACKUPS", 5},
	{"log.max_age_days", "LOG_MAX_AGE_DAYS", 14},
}

// Load reads settings from the environment, applying defaults.
func Load() (Config, error) {
	v := viper.New()
	for _, b := range bindings {
		v.SetDefault(b.key, b.fallback)
		if err := v.BindEnv(b.key, b.env); err != nil {
			return Config{}, fmt.Errorf("bind %s: %w", b.env, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.Server.CORSOrigins = splitOrigins(cfg.Server.CORSOrigins)
	return cfg, nil
}

// Validate checks the settings needed to serve traffic.
func (c Config) Validate() error {
	var problems []string
	if strings.TrimSpace(c.Server.APIKey) == "" {
		problems = append(problems, "API_KEY is required")
	}
	switch strings.ToLower(c.LLM.Provider) {
	case "gemini":
		if c.LLM.GeminiAPIKey == "" {
			problems = append(problems, "GEMINI_API_KEY is required for provider gemini")
		}
	case "openrouter":
		if c.LLM.OpenRouterAPIKey == "" {
			problems = append(problems, "OPENROUTER_API_KEY is required for provider openrouter")
		}
	default:
		problems = append(problems, fmt.Sprintf("unknown LLM_PROVIDER %q", c.LLM.Provider))
	}
	switch strings.ToLower(c.Cache.Driver) {
	case "sqlite", "postgres", "memory":
	default:
		problems = append(problems, fmt.Sprintf("unknown CACHE_DRIVER %q", c.Cache.Driver))
	}
	if c.Facts.ChunkSize <= 0 || c.Facts.ChunkOverlap < 0 || c.Facts.ChunkOverlap >= c.Facts.ChunkSize {
		problems = append(problems, "FACT_CHUNK_SIZE must be positive and larger than FACT_CHUNK_OVERLAP")
	}
	if c.Jobs.TTL <= 0 {
		problems = append(problems, "JOB_TTL must be positive")
	}
	if len(problems) > 0 {
		return errors.New(strings.Join(problems, "; "))
	}
	return nil
}

func splitOrigins(values []string) []string {
	result := make([]string, 0, len(values))
	for _, value := range values {
		for _, part := range strings.Split(value, ",") {
			if trimmed := strings.TrimSpace(part); trimmed != "" {
				result = append(result, trimmed)
			}
		}
	}
	return result
}
