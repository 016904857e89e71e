// Package config loads service configuration from defaults, an optional
// YAML file, .env files and the environment.
package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config is the full service configuration
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Log        LogConfig        `mapstructure:"log"`
	Store      StoreConfig      `mapstructure:"store"`
	Weaviate   WeaviateConfig   `mapstructure:"weaviate"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Turn       TurnConfig       `mapstructure:"turn"`
	OpenRouter OpenRouterConfig `mapstructure:"openrouter"`
	Gemini     GeminiConfig     `mapstructure:"gemini"`
	Ollama     OllamaConfig     `mapstructure:"ollama"`
	Auth       AuthConfig       `mapstructure:"auth"`
}

type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port" validate:"min=1,max=65535"`
	RateLimit       float64       `mapstructure:"rate_limit" validate:"gt=0"`
	RateBurst       int           `mapstructure:"rate_burst" validate:"min=1"`
	MaxBodyBytes    int64         `mapstructure:"max_body_bytes" validate:"min=1024"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	PromptDir       string        `mapstructure:"prompt_dir"`
}

// Addr is the listen address
func (s ServerConfig) Addr() string {
	return net.JoinHostPort(s.Host, fmt.Sprint(s.Port))
}

type LogConfig struct {
	Level  string `mapstructure:"level" validate:"oneof=debug info warn error"`
	Format string `mapstructure:"format" validate:"oneof=json text"`
}

type StoreConfig struct {
	Driver   string `mapstructure:"driver" validate:"oneof=sqlite mongo"`
	Path     string `mapstructure:"path"`
	URI      string `mapstructure:"uri" validate:"required_if=Driver mongo"`
	Database string `mapstructure:"database"`
}

type WeaviateConfig struct {
	URL        string        `mapstructure:"url"`
	Scheme     string        `mapstructure:"scheme"`
	Host       string        `mapstructure:"host"`
	APIKey     string        `mapstructure:"api_key"`
	Collection string        `mapstructure:"collection" validate:"required"`
	Mode       string        `mapstructure:"mode" validate:"oneof=nearText bm25"`
	Timeout    time.Duration `mapstructure:"timeout"`
	DataDir    string        `mapstructure:"data_dir"`
}

// Endpoint is the URL, or scheme and host when no URL is set
func (w WeaviateConfig) Endpoint() string {
	if w.URL != "" {
		return w.URL
	}
	return fmt.Sprintf("%s://%s", w.Scheme, w.Host)
}

type RedisConfig struct {
	// Addr enables the rules cache when set
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	TTL      time.Duration `mapstructure:"ttl"`
}

type TurnConfig struct {
	Provider          string        `mapstructure:"provider" validate:"oneof=openrouter gemini ollama"`
	Timeout           time.Duration `mapstructure:"timeout" validate:"gt=0"`
	MaxToolIterations int           `mapstructure:"max_tool_iterations" validate:"min=1,max=50"`
	RulesLimit        int           `mapstructure:"rules_limit" validate:"min=1,max=100"`
}

type OpenRouterConfig struct {
	APIKey  string `mapstructure:"api_key"`
	BaseURL string `mapstructure:"base_url" validate:"omitempty,url"`
	Model   string `mapstructure:"model"`
	Referer string `mapstructure:"referer"`
	Title   string `mapstructure:"title"`
}

type GeminiConfig struct {
	APIKey  string `mapstructure:"api_key"`
	BaseURL string `mapstructure:"base_url" validate:"omitempty,url"`
	Model   string `mapstructure:"model"`
}

type OllamaConfig struct {
	Endpoint string `mapstructure:"endpoint"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Model    string `mapstructure:"model"`
}

// URL is the endpoint, or host and port when no endpoint is set
func (o OllamaConfig) URL() string {
	if o.Endpoint != "" {
		return o.Endpoint
	}
	host := o.Host
	if strings.Contains(host, "://") {
		return fmt.Sprintf("%s:%d", host, o.Port)
	}
	return fmt.Sprintf("http://%s:%d", host, o.Port)
}

type AuthConfig struct {
	// JWTSecret signs campaign session tokens
	JWTSecret  string        `mapstructure:"jwt_secret"`
	SessionTTL time.Duration `mapstructure:"session_ttl" validate:"gt=0"`
}

// envBindings maps config keys to the variable names the app has always used
var envBindings = map[string][]string{
	"server.host":         {"SERVER_HOST"},
	"server.port":         {"SERVER_PORT", "PORT"},
	"store.path":          {"DB_PATH"},
	"store.uri":           {"MONGODB_URI"},
	"weaviate.url":        {"WEAVIATE_URL"},
	"weaviate.scheme":     {"WEAVIATE_SCHEME"},
	"weaviate.host":       {"WEAVIATE_HOST"},
	"weaviate.api_key":    {"WEAVIATE_API_KEY"},
	"weaviate.data_dir":   {"DATA_DIR"},
	"redis.addr":          {"REDIS_ADDR"},
	"openrouter.api_key":  {"OPENROUTER_API_KEY"},
	"gemini.api_key":      {"GEMINI_API_KEY", "GOOGLE_API_KEY"},
	"ollama.endpoint":     {"OLLAMA_ENDPOINT"},
	"ollama.host":         {"OLLAMA_HOST"},
	"ollama.port":         {"OLLAMA_PORT"},
	"auth.jwt_secret":     {"JWT_SECRET"},
	"turn.provider":       {"PROVIDER_TYPE"},
	"openrouter.model":    {"OPENROUTER_MODEL"},
	"gemini.model":        {"GEMINI_MODEL"},
	"ollama.model":        {"OLLAMA_MODEL"},
	"log.level":           {"LOG_LEVEL"},
	"store.driver":        {"STORE_DRIVER"},
	"weaviate.collection": {"WEAVIATE_COLLECTION"},
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.rate_limit", 20.0)
	v.SetDefault("server.rate_burst", 40)
	v.SetDefault("server.max_body_bytes", 1024*1024)
	v.SetDefault("server.shutdown_timeout", 15*time.Second)
	v.SetDefault("server.prompt_dir", "prompts")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.path", "wyvern.db")
	v.SetDefault("store.database", "dnd_campaigns")

	v.SetDefault("weaviate.scheme", "http")
	v.SetDefault("weaviate.host", "localhost:8080")
	v.SetDefault("weaviate.collection", "generalRules")
	v.SetDefault("weaviate.mode", "nearText")
	v.SetDefault("weaviate.timeout", 10*time.Second)
	v.SetDefault("weaviate.data_dir", "data")

	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.ttl", 10*time.Minute)

	v.SetDefault("turn.provider", "openrouter")
	v.SetDefault("turn.timeout", 60*time.Second)
	v.SetDefault("turn.max_tool_iterations", 10)
	v.SetDefault("turn.rules_limit", 10)

	v.SetDefault("openrouter.base_url", "https://openrouter.ai/api/v1/")
	v.SetDefault("openrouter.model", "meta-llama/llama-3.3-70b-instruct")
	v.SetDefault("openrouter.referer", "http://localhost:3000")
	v.SetDefault("openrouter.title", "Wyvern AI Dungeon Master")

	v.SetDefault("gemini.model", "gemini-2.0-flash")

	v.SetDefault("ollama.host", "localhost")
	v.SetDefault("ollama.port", 11434)
	v.SetDefault("ollama.model", "llama3.1:8b")

	v.SetDefault("auth.session_ttl", 24*time.Hour)
}

// Load reads configuration. path may be empty; a missing .env file is ignored.
func Load(path string) (*Config, error) {
	for _, f := range []string{".env.local", ".env"} {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to read %s: %w", f, err)
		}
	}

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("WYVERN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, names := range envBindings {
		args := append([]string{key, "WYVERN_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))}, names...)
		if err := v.BindEnv(args...); err != nil {
			return nil, err
		}
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks field constraints
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}
