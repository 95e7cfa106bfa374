package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Config holds all configuration for the document engine.
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Storage StorageConfig `mapstructure:"storage"`
	LLM     LLMConfig     `mapstructure:"llm"`
	Latex   LatexConfig   `mapstructure:"latex"`
	Worker  WorkerConfig  `mapstructure:"worker"`
}

// ServerConfig contains HTTP server and auth settings.
type ServerConfig struct {
	Address   string `mapstructure:"address"`
	JWTSecret string `mapstructure:"jwt_secret"`
}

// StorageConfig groups database, queue and filesystem settings.
type StorageConfig struct {
	Postgres     PostgresConfig `mapstructure:"postgres"`
	Redis        RedisConfig    `mapstructure:"redis"`
	OriginalDir  string         `mapstructure:"original_dir"`
	GeneratedDir string         `mapstructure:"generated_dir"`
	ScratchDir   string         `mapstructure:"scratch_dir"`
}

// PostgresConfig contains connection settings for the primary store.
type PostgresConfig struct {
	URL      string `mapstructure:"url"`
	Host     string `mapstructure:"host"`
	Port     string `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	SSLMode  string `mapstructure:"sslmode"`
}

func (p PostgresConfig) Validate() error {
	if p.URL == "" && (p.Host == "" || p.DBName == "") {
		return fmt.Errorf("postgres not configured (storage.postgres.host/dbname or url)")
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

// RedisConfig contains connection settings for the job queue.
type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     string `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

func (r RedisConfig) Validate() error {
	if r.Host == "" || r.Port == "" {
		return fmt.Errorf("redis not configured (storage.redis.host/port)")
	}
	return nil
}

// Addr returns host:port for the redis client.
func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%s", r.Host, r.Port)
}

// LLMConfig selects the rewrite provider.
type LLMConfig struct {
	Provider   string           `mapstructure:"provider"` // openrouter or none
	OpenRouter OpenRouterConfig `mapstructure:"openrouter"`
}

// OpenRouterConfig contains settings for the OpenRouter chat-completions API.
type OpenRouterConfig struct {
	APIKey  string `mapstructure:"api_key"`
	Model   string `mapstructure:"model"` // concrete model id, or "auto" for catalog ranking
	BaseURL string `mapstructure:"base_url"`
	Referer string `mapstructure:"referer"`
	Title   string `mapstructure:"title"`
}

// LatexConfig contains settings for the external typesetting compiler.
type LatexConfig struct {
	Engine  string `mapstructure:"engine"`
	MaxRuns int    `mapstructure:"max_runs"`
}

func (l LatexConfig) Validate() error {
	if l.MaxRuns < 1 || l.MaxRuns > 5 {
		return fmt.Errorf("latex.max_runs must be in [1,5]")
	}
	return nil
}

// WorkerConfig contains job-queue consumer settings.
type WorkerConfig struct {
	Stream       string `mapstructure:"stream"`
	Group        string `mapstructure:"group"`
	ReapSchedule string `mapstructure:"reap_schedule"` // cron expression for the liveness reaper
}

// LoadConfig reads configuration from file and environment (PDFENGINE_*).
func LoadConfig(path string) *Config {
	viper.SetConfigName("config")
	viper.SetConfigType("json")

	viper.SetDefault("server.address", ":8000")
	viper.SetDefault("storage.original_dir", "./storage/original")
	viper.SetDefault("storage.generated_dir", "./storage/generated")
	viper.SetDefault("storage.scratch_dir", "./storage/tmp")
	viper.SetDefault("storage.redis.host", "localhost")
	viper.SetDefault("storage.redis.port", "6379")
	viper.SetDefault("llm.provider", "openrouter")
	viper.SetDefault("llm.openrouter.model", "auto")
	viper.SetDefault("llm.openrouter.base_url", "https://openrouter.ai/api/v1")
	viper.SetDefault("llm.openrouter.referer", "http://localhost:8000")
	viper.SetDefault("llm.openrouter.title", "Personal PDF Engine")
	viper.SetDefault("latex.engine", "lualatex")
	viper.SetDefault("latex.max_runs", 2)
	viper.SetDefault("worker.stream", "doc.jobs")
	viper.SetDefault("worker.group", "doc-workers")
	viper.SetDefault("worker.reap_schedule", "*/5 * * * *")

	if path == "" {
		viper.AddConfigPath("./config")
		viper.AddConfigPath(".")
		exe, _ := os.Executable()
		exeDir := filepath.Dir(exe)
		viper.AddConfigPath(exeDir)
		viper.AddConfigPath(filepath.Join(exeDir, ".."))
	} else {
		viper.SetConfigFile(path)
	}

	viper.SetEnvPrefix("PDFENGINE")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		panic(fmt.Errorf("fatal error config file: %w", err))
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		panic(fmt.Errorf("fatal error config file: %w", err))
	}

	if err := config.Storage.Postgres.Validate(); err != nil {
		panic(err)
	}
	if err := config.Storage.Redis.Validate(); err != nil {
		panic(err)
	}
	if err := config.Latex.Validate(); err != nil {
		panic(err)
	}
	return &config
}
