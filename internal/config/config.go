package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds runtime configuration values for the grading API.
type Config struct {
	AppName            string
	AppEnv             string
	AppPort            string
	DatabaseDriver     string
	DatabaseURL        string
	RedisURL           string
	NATSURL            string
	EventsChannel      string
	JWTSecret          string
	JWTIssuer          string
	JWTLeeway          time.Duration
	OpenAIAPIKey       string
	OpenAIBaseURL      string
	AIModel            string
	ScoringWorkers     int
	ScoringQueueSize   int
	ScoringTimeout     time.Duration
	StaleAfter         time.Duration
	AutoScoreRateLimit int
	CORSAllowOrigins   string
	AccessLog          bool
	DatabaseMaxConns   int
}

// HTTPAddress returns the address the HTTP server should listen on.
func (c Config) HTTPAddress() string {
	if strings.HasPrefix(c.AppPort, ":") {
		return c.AppPort
	}

	return fmt.Sprintf(":%s", c.AppPort)
}

// AutoScoringEnabled reports whether an AI scorer can be built.
func (c Config) AutoScoringEnabled() bool {
	return c.OpenAIAPIKey != ""
}

// Load reads configuration values from environment variables and optional .env file.
func Load() (Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvPrefix("GEMA")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	v.SetDefault("app.name", "GEMA Grading API")
	v.SetDefault("app.env", "development")
	v.SetDefault("app.port", "8080")
	v.SetDefault("database.driver", "postgres")
	v.SetDefault("events.channel", "gema")
	v.SetDefault("ai.model", "gpt-4o-mini")
	v.SetDefault("scoring.workers", 4)
	v.SetDefault("scoring.queue_size", 64)
	v.SetDefault("scoring.timeout", "2m")
	v.SetDefault("stale.after", "24h")
	v.SetDefault("jwt.leeway", "30s")
	v.SetDefault("autoscore.rate_limit", 120)
	v.SetDefault("cors.allow_origins", "*")
	v.SetDefault("http.access_log", false)
	v.SetDefault("database.max_conns", 20)

	scoringTimeout, err := parseDuration(v, "scoring.timeout", 2*time.Minute)
	if err != nil {
		return Config{}, err
	}

	staleAfter, err := parseDuration(v, "stale.after", 24*time.Hour)
	if err != nil {
		return Config{}, err
	}

	jwtLeeway, err := parseDuration(v, "jwt.leeway", 30*time.Second)
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		AppName:            v.GetString("app.name"),
		AppEnv:             v.GetString("app.env"),
		AppPort:            v.GetString("app.port"),
		DatabaseDriver:     strings.ToLower(strings.TrimSpace(v.GetString("database.driver"))),
		DatabaseURL:        v.GetString("database.url"),
		RedisURL:           v.GetString("redis.url"),
		NATSURL:            v.GetString("nats.url"),
		EventsChannel:      v.GetString("events.channel"),
		JWTSecret:          v.GetString("jwt.secret"),
		JWTIssuer:          v.GetString("jwt.issuer"),
		JWTLeeway:          jwtLeeway,
		OpenAIAPIKey:       v.GetString("openai_api_key"),
		OpenAIBaseURL:      v.GetString("openai_base_url"),
		AIModel:            v.GetString("ai.model"),
		ScoringWorkers:     v.GetInt("scoring.workers"),
		ScoringQueueSize:   v.GetInt("scoring.queue_size"),
		ScoringTimeout:     scoringTimeout,
		StaleAfter:         staleAfter,
		AutoScoreRateLimit: v.GetInt("autoscore.rate_limit"),
		CORSAllowOrigins:   v.GetString("cors.allow_origins"),
		AccessLog:          v.GetBool("http.access_log"),
		DatabaseMaxConns:   v.GetInt("database.max_conns"),
	}

	if cfg.JWTSecret == "" {
		return Config{}, fmt.Errorf("jwt secret must be provided")
	}

	switch cfg.DatabaseDriver {
	case "postgres", "sqlite":
	default:
		return Config{}, fmt.Errorf("unsupported database driver %q", cfg.DatabaseDriver)
	}

	if cfg.ScoringWorkers <= 0 {
		cfg.ScoringWorkers = 4
	}

	if cfg.ScoringQueueSize <= 0 {
		cfg.ScoringQueueSize = 64
	}

	if cfg.AutoScoreRateLimit <= 0 {
		cfg.AutoScoreRateLimit = 120
	}

	return cfg, nil
}

func parseDuration(v *viper.Viper, key string, fallback time.Duration) (time.Duration, error) {
	raw := strings.TrimSpace(v.GetString(key))
	if raw == "" {
		return fallback, nil
	}

	value, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	if value <= 0 {
		return fallback, nil
	}
	return value, nil
}
