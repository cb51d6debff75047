package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the platform control plane.
type Config struct {
	General   GeneralConfig   `mapstructure:"general"`
	Databases DatabasesConfig `mapstructure:"databases"`
	Providers ProvidersConfig `mapstructure:"providers"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Ingestion IngestionConfig `mapstructure:"ingestion"`
	Router    RouterConfig    `mapstructure:"router"`
	Registry  RegistryConfig  `mapstructure:"registry"`
	Knowledge KnowledgeConfig `mapstructure:"knowledge"`
}

// GeneralConfig contains process-wide settings.
type GeneralConfig struct {
	Listen    string `mapstructure:"listen"`
	Debug     bool   `mapstructure:"debug"`
	LogLevel  string `mapstructure:"log_level"`
	JWTSecret string `mapstructure:"jwt_secret"`
	Env       string `mapstructure:"env"`
}

// DatabasesConfig groups backing stores.
type DatabasesConfig struct {
	Postgres PostgresConfig `mapstructure:"postgres"`
	Redis    RedisConfig    `mapstructure:"redis"`
}

// PostgresConfig describes the primary relational store.
type PostgresConfig struct {
	URL      string        `mapstructure:"url"`
	Host     string        `mapstructure:"host"`
	Port     string        `mapstructure:"port"`
	User     string        `mapstructure:"user"`
	Password string        `mapstructure:"password"`
	DBName   string        `mapstructure:"dbname"`
	SSLMode  string        `mapstructure:"sslmode"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

func (p PostgresConfig) Validate() error {
	if strings.TrimSpace(p.URL) != "" {
		return nil
	}
	if strings.TrimSpace(p.Host) == "" {
		return fmt.Errorf("databases.postgres.host required when url is not provided")
	}
	if strings.TrimSpace(p.DBName) == "" {
		return fmt.Errorf("databases.postgres.dbname required when url is not provided")
	}
	return nil
}

// DSN builds a postgres connection string from the configured fields.
func (p PostgresConfig) DSN() string {
	if p.URL != "" {
		return p.URL
	}
	port := p.Port
	if port == "" {
		port = "5432"
	}
	ssl := p.SSLMode
	if ssl == "" {
		ssl = "disable"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", p.User, p.Password, p.Host, port, p.DBName, ssl)
}

// RedisConfig describes the stream/lock backend.
type RedisConfig struct {
	Host string `mapstructure:"host"`
	Port string `mapstructure:"port"`
	Pass string `mapstructure:"pass"`
	DB   int    `mapstructure:"db"`
}

func (r RedisConfig) Validate() error {
	if strings.TrimSpace(r.Host) == "" || strings.TrimSpace(r.Port) == "" {
		return fmt.Errorf("databases.redis.host and databases.redis.port are required")
	}
	return nil
}

// Addr returns the host:port pair for a redis client.
func (r RedisConfig) Addr() string { return r.Host + ":" + r.Port }

// ProvidersConfig groups external model providers.
type ProvidersConfig struct {
	OpenAI OpenAIConfig `mapstructure:"openai"`
}

// OpenAIConfig configures the OpenAI-compatible provider.
type OpenAIConfig struct {
	APIKey          string        `mapstructure:"api_key"`
	BaseURL         string        `mapstructure:"base_url"`
	CompletionModel string        `mapstructure:"completion_model"`
	EmbeddingModel  string        `mapstructure:"embedding_model"`
	Temperature     float64       `mapstructure:"temperature"`
	MaxTokens       int           `mapstructure:"max_tokens"`
	Timeout         time.Duration `mapstructure:"timeout"`
}

// StorageConfig configures the document blob store and signed upload URLs.
type StorageConfig struct {
	DataDir       string        `mapstructure:"data_dir"`
	SigningSecret string        `mapstructure:"signing_secret"`
	UploadURLTTL  time.Duration `mapstructure:"upload_url_ttl"`
	PublicBaseURL string        `mapstructure:"public_base_url"`
}

func (s StorageConfig) Validate() error {
	if strings.TrimSpace(s.DataDir) == "" {
		return fmt.Errorf("storage.data_dir is required")
	}
	if strings.TrimSpace(s.SigningSecret) == "" {
		return fmt.Errorf("storage.signing_secret is required")
	}
	return nil
}

// IngestionConfig tunes the dual-path ingestion pipeline.
type IngestionConfig struct {
	ChunkSize     int           `mapstructure:"chunk_size"`
	ChunkOverlap  int           `mapstructure:"chunk_overlap"`
	MaxRetries    int           `mapstructure:"max_retries"`
	RetryBackoff  time.Duration `mapstructure:"retry_backoff"`
	StuckAfter    time.Duration `mapstructure:"stuck_after"`
	ReaperCron    string        `mapstructure:"reaper_cron"`
	Stream        string        `mapstructure:"stream"`
	ConsumerGroup string        `mapstructure:"consumer_group"`
}

func (i IngestionConfig) Validate() error {
	if i.ChunkSize <= 0 {
		return fmt.Errorf("ingestion.chunk_size must be > 0")
	}
	if i.ChunkOverlap < 0 || i.ChunkOverlap >= i.ChunkSize {
		return fmt.Errorf("ingestion.chunk_overlap must be in [0, chunk_size)")
	}
	if i.MaxRetries < 0 {
		return fmt.Errorf("ingestion.max_retries must be >= 0")
	}
	return nil
}

// RouterConfig carries the intent classification rule sets. The keyword
// sets are deployment configuration, not hard-coded behaviour.
type RouterConfig struct {
	PersonalPatterns       []string `mapstructure:"personal_patterns"`
	OrganizationalPatterns []string `mapstructure:"organizational_patterns"`
}

// RegistryConfig tunes the tenant/user read-through cache.
type RegistryConfig struct {
	CacheTTL time.Duration `mapstructure:"cache_ttl"`
}

// KnowledgeConfig tunes the query engine.
type KnowledgeConfig struct {
	MaxResults    int           `mapstructure:"max_results"`
	MaxQueryChars int           `mapstructure:"max_query_chars"`
	QueryTimeout  time.Duration `mapstructure:"query_timeout"`
}

func (k KnowledgeConfig) Validate() error {
	if k.MaxResults <= 0 {
		return fmt.Errorf("knowledge.max_results must be > 0")
	}
	return nil
}

// LoadConfig loads config from file plus CLOUDABLE_* environment overrides.
func LoadConfig(path string) *Config {
	viper.SetConfigName("config")
	viper.SetConfigType("json")

	viper.SetDefault("general.listen", ":8080")
	viper.SetDefault("general.log_level", "info")
	viper.SetDefault("databases.postgres.sslmode", "disable")
	viper.SetDefault("providers.openai.completion_model", "gpt-4o-mini")
	viper.SetDefault("providers.openai.embedding_model", "text-embedding-3-small")
	viper.SetDefault("providers.openai.timeout", 60*time.Second)
	viper.SetDefault("storage.upload_url_ttl", 15*time.Minute)
	viper.SetDefault("ingestion.chunk_size", 1200)
	viper.SetDefault("ingestion.chunk_overlap", 150)
	viper.SetDefault("ingestion.max_retries", 3)
	viper.SetDefault("ingestion.retry_backoff", time.Second)
	viper.SetDefault("ingestion.stuck_after", 10*time.Minute)
	viper.SetDefault("ingestion.reaper_cron", "*/10 * * * *")
	viper.SetDefault("ingestion.stream", "document.uploaded")
	viper.SetDefault("ingestion.consumer_group", "ingestion")
	viper.SetDefault("registry.cache_ttl", 30*time.Second)
	viper.SetDefault("knowledge.max_results", 5)
	viper.SetDefault("knowledge.max_query_chars", 4000)
	viper.SetDefault("knowledge.query_timeout", 30*time.Second)

	if path == "" {
		viper.AddConfigPath("./config")
		viper.AddConfigPath(".")
		exe, _ := os.Executable()
		exeDir := filepath.Dir(exe)
		viper.AddConfigPath(exeDir)
		viper.AddConfigPath(filepath.Join(exeDir, ".."))
		viper.AddConfigPath(filepath.Join(exeDir, "..", "config"))
	} else {
		viper.SetConfigFile(path)
	}

	viper.SetEnvPrefix("CLOUDABLE")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		panic(fmt.Errorf("fatal error config file: %w", err))
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		panic(fmt.Errorf("fatal error config file: %w", err))
	}

	if err := config.Databases.Postgres.Validate(); err != nil {
		panic(err)
	}
	if err := config.Databases.Redis.Validate(); err != nil {
		panic(err)
	}
	if err := config.Storage.Validate(); err != nil {
		panic(err)
	}
	if err := config.Ingestion.Validate(); err != nil {
		panic(err)
	}
	if err := config.Knowledge.Validate(); err != nil {
		panic(err)
	}
	return &config
}
