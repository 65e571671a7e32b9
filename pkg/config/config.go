package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Log          LogConfig          `mapstructure:"log"`
	HTTP         HTTPConfig         `mapstructure:"http"`
	Telegram     TelegramConfig     `mapstructure:"telegram"`
	Storage      StorageConfig      `mapstructure:"storage"`
	Database     DatabaseConfig     `mapstructure:"database"`
	Redis        RedisConfig        `mapstructure:"redis"`
	Supabase     SupabaseConfig     `mapstructure:"supabase"`
	Assistant    AssistantConfig    `mapstructure:"assistant"`
	Apollo       ApolloConfig       `mapstructure:"apollo"`
	Conversation ConversationConfig `mapstructure:"conversation"`
}

type LogConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

type HTTPConfig struct {
	Addr string `mapstructure:"addr"`
}

type TelegramConfig struct {
	Token string `mapstructure:"token"`
}

type StorageConfig struct {
	Driver           string `mapstructure:"driver"`
	MaxConversations int    `mapstructure:"max_conversations"`
}

type DatabaseConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	SSLMode  string `mapstructure:"sslmode"`
}

type RedisConfig struct {
	URL string        `mapstructure:"url"`
	TTL time.Duration `mapstructure:"ttl"`
}

type SupabaseConfig struct {
	URL    string `mapstructure:"url"`
	APIKey string `mapstructure:"api_key"`
}

type AssistantConfig struct {
	Provider    string  `mapstructure:"provider"`
	APIKey      string  `mapstructure:"api_key"`
	Model       string  `mapstructure:"model"`
	BaseURL     string  `mapstructure:"base_url"`
	MaxTokens   int     `mapstructure:"max_tokens"`
	Temperature float64 `mapstructure:"temperature"`
}

type ApolloConfig struct {
	APIKey  string        `mapstructure:"api_key"`
	BaseURL string        `mapstructure:"base_url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type ConversationConfig struct {
	CleanupInterval time.Duration `mapstructure:"cleanup_interval"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
}

func parseDatabaseURL(dbURL string) (DatabaseConfig, error) {
	u, err := url.Parse(dbURL)
	if err != nil {
		return DatabaseConfig{}, err
	}
	if u.Scheme != "postgres" && u.Scheme != "postgresql" {
		return DatabaseConfig{}, fmt.Errorf("unsupported scheme %q", u.Scheme)
	}

	password, _ := u.User.Password()
	port := 5432 // default PostgreSQL port
	if u.Port() != "" {
		fmt.Sscanf(u.Port(), "%d", &port)
	}

	sslMode := u.Query().Get("sslmode")
	if sslMode == "" {
		sslMode = "disable"
	}

	return DatabaseConfig{
		Host:     u.Hostname(),
		Port:     port,
		User:     u.User.Username(),
		Password: password,
		DBName:   strings.TrimPrefix(u.Path, "/"),
		SSLMode:  sslMode,
	}, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", false)
	v.SetDefault("http.addr", ":8080")
	v.SetDefault("telegram.token", "")
	v.SetDefault("storage.driver", "memory")
	v.SetDefault("storage.max_conversations", 1000)
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.dbname", "icp")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.password", "")
	v.SetDefault("redis.url", "")
	v.SetDefault("redis.ttl", 7*24*time.Hour)
	v.SetDefault("supabase.url", "")
	v.SetDefault("supabase.api_key", "")
	v.SetDefault("assistant.provider", "openai")
	v.SetDefault("assistant.api_key", "")
	v.SetDefault("assistant.model", "")
	v.SetDefault("assistant.base_url", "")
	v.SetDefault("assistant.max_tokens", 3000)
	v.SetDefault("assistant.temperature", 0.1)
	v.SetDefault("apollo.api_key", "")
	v.SetDefault("apollo.base_url", "https://api.apollo.io/v1")
	v.SetDefault("apollo.timeout", 30*time.Second)
	v.SetDefault("conversation.cleanup_interval", time.Hour)
	v.SetDefault("conversation.idle_timeout", 24*time.Hour)
}

// LoadConfig reads configuration from path (optional), the environment and
// a .env file in the working directory.
func LoadConfig(path string) (*Config, error) {
	return Load(viper.New(), path, ".env")
}

// Load fills v from defaults, the config file at path and the environment,
// then applies the well-known variables such as DATABASE_URL. Values from
// envFile are used only for variables the process environment lacks. v may
// already carry bound command-line flags.
func Load(v *viper.Viper, path, envFile string) (*Config, error) {
	setDefaults(v)

	// Enable environment variable support, e.g. STORAGE_DRIVER for storage.driver.
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	dotenv := map[string]string{}
	if envFile != "" {
		m, err := godotenv.Read(envFile)
		switch {
		case err == nil:
			dotenv = m
		case !errors.Is(err, os.ErrNotExist):
			return nil, fmt.Errorf("read %s: %w", envFile, err)
		}
	}
	lookup := func(key string) string {
		if val, ok := os.LookupEnv(key); ok {
			return val
		}
		return dotenv[key]
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, err
	}

	// Check for DATABASE_URL environment variable
	if dbURL := lookup("DATABASE_URL"); dbURL != "" {
		dbConfig, err := parseDatabaseURL(dbURL)
		if err != nil {
			return nil, fmt.Errorf("failed to parse DATABASE_URL: %w", err)
		}
		config.Database = dbConfig
	}

	overrides := []struct {
		env    string
		target *string
	}{
		{"TELEGRAM_TOKEN", &config.Telegram.Token},
		{"REDIS_URL", &config.Redis.URL},
		{"SUPABASE_URL", &config.Supabase.URL},
		{"SUPABASE_KEY", &config.Supabase.APIKey},
		{"APOLLO_API_KEY", &config.Apollo.APIKey},
	}
	for _, o := range overrides {
		if val := lookup(o.env); val != "" {
			*o.target = val
		}
	}

	if config.Assistant.APIKey == "" {
		switch config.Assistant.Provider {
		case "anthropic":
			config.Assistant.APIKey = lookup("ANTHROPIC_API_KEY")
		default:
			config.Assistant.APIKey = lookup("OPENAI_API_KEY")
		}
	}

	return &config, nil
}
