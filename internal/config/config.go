package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds application configuration
type Config struct {
	Auth      AuthConfig
	API       APIConfig
	Agent     AgentConfig
	Store     StoreConfig
	Redis     RedisConfig
	MongoDB   MongoDBConfig
	MinIO     MinIOConfig
	RateLimit RateLimitConfig
	Log       LogConfig
}

type AuthConfig struct {
	Issuer            string
	ClientID          string
	RedirectURI       string
	SignupURL         string
	Scopes            []string
	DiscoveryAttempts int
}

type APIConfig struct {
	BaseURL string
	RPS     float64
	Burst   int
	Timeout time.Duration
}

type AgentConfig struct {
	Host string
	Port string
	// Token, when set, must be presented as a bearer token on /api routes.
	Token string
}

type StoreConfig struct {
	Backend string
	Dir     string
	Secret  string
}

type RedisConfig struct {
	Host     string
	Port     string
	Password string
	DB       int
}

type MongoDBConfig struct {
	URI      string
	Database string
	Timeout  time.Duration
}

type MinIOConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	UseSSL    bool
	Bucket    string
}

type RateLimitConfig struct {
	Enabled       bool
	UseRedis      bool
	RPS           float64
	Burst         int
	WindowSeconds int
}

type LogConfig struct {
	Level    string
	Encoding string
}

// Store backends understood by securestore.Open.
const (
	StoreFile   = "file"
	StoreMemory = "memory"
	StoreRedis  = "redis"
	StoreMongo  = "mongo"
	StoreMinIO  = "minio"
)

// LoadConfig loads configuration from environment variables and .env file
func LoadConfig() (*Config, error) {
	_ = godotenv.Load(".env.local")
	_ = godotenv.Load(".env")

	v := viper.New()
	v.AutomaticEnv()

	v.SetDefault("AUTH_ISSUER", "https://auth.localtest.me")
	v.SetDefault("OIDC_CLIENT_ID", "beeunity-mobile")
	v.SetDefault("OIDC_REDIRECT_URI", "http://127.0.0.1:8765/oauth/callback")
	v.SetDefault("SIGNUP_URL", "https://auth.localtest.me/signup")
	v.SetDefault("DISCOVERY_ATTEMPTS", 5)
	v.SetDefault("API_BASE_URL", "https://api.localtest.me")
	v.SetDefault("API_RPS", 10)
	v.SetDefault("API_BURST", 20)
	v.SetDefault("API_TIMEOUT", 30)
	v.SetDefault("AGENT_HOST", "127.0.0.1")
	v.SetDefault("AGENT_PORT", "8765")
	v.SetDefault("SESSION_STORE", StoreFile)
	v.SetDefault("SESSION_DIR", defaultSessionDir())
	v.SetDefault("REDIS_PORT", "6379")
	v.SetDefault("MONGODB_DATABASE", "beeunity")
	v.SetDefault("MONGODB_TIMEOUT", 10)
	v.SetDefault("MINIO_BUCKET", "beeunity-sessions")
	v.SetDefault("RATE_LIMIT_RPS", 5)
	v.SetDefault("RATE_LIMIT_BURST", 10)
	v.SetDefault("RATE_LIMIT_WINDOW_SECONDS", 1)
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_ENCODING", "console")

	cfg := &Config{
		Auth: AuthConfig{
			Issuer:            strings.TrimRight(v.GetString("AUTH_ISSUER"), "/"),
			ClientID:          v.GetString("OIDC_CLIENT_ID"),
			RedirectURI:       v.GetString("OIDC_REDIRECT_URI"),
			SignupURL:         v.GetString("SIGNUP_URL"),
			Scopes:            []string{"openid", "profile", "email"},
			DiscoveryAttempts: v.GetInt("DISCOVERY_ATTEMPTS"),
		},
		API: APIConfig{
			BaseURL: strings.TrimRight(v.GetString("API_BASE_URL"), "/"),
			RPS:     v.GetFloat64("API_RPS"),
			Burst:   v.GetInt("API_BURST"),
			Timeout: time.Duration(v.GetInt("API_TIMEOUT")) * time.Second,
		},
		Agent: AgentConfig{
			Host:  v.GetString("AGENT_HOST"),
			Port:  v.GetString("AGENT_PORT"),
			Token: os.Getenv("AGENT_TOKEN"),
		},
		Store: StoreConfig{
			Backend: strings.ToLower(strings.TrimSpace(v.GetString("SESSION_STORE"))),
			Dir:     v.GetString("SESSION_DIR"),
			Secret:  os.Getenv("SESSION_SECRET"),
		},
		Redis: RedisConfig{
			Host:     v.GetString("REDIS_HOST"),
			Port:     v.GetString("REDIS_PORT"),
			Password: os.Getenv("REDIS_PASSWORD"),
			DB:       v.GetInt("REDIS_DB"),
		},
		MongoDB: MongoDBConfig{
			URI:      v.GetString("MONGODB_URI"),
			Database: v.GetString("MONGODB_DATABASE"),
			Timeout:  time.Duration(v.GetInt("MONGODB_TIMEOUT")) * time.Second,
		},
		MinIO: MinIOConfig{
			Endpoint:  v.GetString("MINIO_ENDPOINT"),
			AccessKey: v.GetString("MINIO_ACCESS_KEY"),
			SecretKey: os.Getenv("MINIO_SECRET_KEY"),
			UseSSL:    v.GetBool("MINIO_USE_SSL"),
			Bucket:    v.GetString("MINIO_BUCKET"),
		},
		RateLimit: RateLimitConfig{
			Enabled:       v.GetBool("RATE_LIMIT_ENABLED"),
			UseRedis:      v.GetBool("RATE_LIMIT_USE_REDIS"),
			RPS:           v.GetFloat64("RATE_LIMIT_RPS"),
			Burst:         v.GetInt("RATE_LIMIT_BURST"),
			WindowSeconds: v.GetInt("RATE_LIMIT_WINDOW_SECONDS"),
		},
		Log: LogConfig{
			Level:    v.GetString("LOG_LEVEL"),
			Encoding: v.GetString("LOG_ENCODING"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports configuration that would leave the client unable to sign in.
func (c *Config) Validate() error {
	if c.Auth.Issuer == "" {
		return fmt.Errorf("AUTH_ISSUER is required")
	}
	if c.Auth.ClientID == "" {
		return fmt.Errorf("OIDC_CLIENT_ID is required")
	}
	switch c.Store.Backend {
	case StoreFile, StoreMemory:
	case StoreRedis:
		if c.Redis.Host == "" {
			return fmt.Errorf("SESSION_STORE=redis requires REDIS_HOST")
		}
	case StoreMongo:
		if c.MongoDB.URI == "" {
			return fmt.Errorf("SESSION_STORE=mongo requires MONGODB_URI")
		}
	case StoreMinIO:
		if c.MinIO.Endpoint == "" {
			return fmt.Errorf("SESSION_STORE=minio requires MINIO_ENDPOINT")
		}
	default:
		return fmt.Errorf("unknown SESSION_STORE %q", c.Store.Backend)
	}
	return nil
}

// AgentAddr is the listen address of the local agent.
func (c *Config) AgentAddr() string {
	return c.Agent.Host + ":" + c.Agent.Port
}

func defaultSessionDir() string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return filepath.Join(os.TempDir(), "beeunity")
	}
	return filepath.Join(home, ".beeunity")
}
