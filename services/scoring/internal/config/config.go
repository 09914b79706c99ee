// Package config loads scoring service settings from the environment and an
// optional YAML file named by SCORING_CONFIG.
package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/gookit/validate"
	"github.com/spf13/viper"
)

type Config struct {
	RedisURL      string `mapstructure:"redis_url" validate:"required"`
	RedisPoolSize int    `mapstructure:"redis_pool_size" validate:"required|min:1"`
	DatabaseURL   string `mapstructure:"database_url"`
	DBMaxConns    int32  `mapstructure:"db_max_conns" validate:"required|min:1"`
	NATSURL       string `mapstructure:"nats_url"`
	GRPCAddr      string `mapstructure:"grpc_addr" validate:"required"`

	SessionID string `mapstructure:"session_id" validate:"required"`

	EventsStream  string `mapstructure:"events_stream" validate:"required"`
	EventsSubject string `mapstructure:"events_subject" validate:"required"`
	EventsDurable string `mapstructure:"events_durable" validate:"required"`
	DLQSubject    string `mapstructure:"dlq_subject" validate:"required"`
	MaxDeliver    int    `mapstructure:"max_deliver" validate:"required|min:1"`

	// ReplayFile and every mock-mode target are resolved inside ReplayDir.
	ReplayDir   string  `mapstructure:"replay_dir" validate:"required"`
	ReplayFile  string  `mapstructure:"replay_file"`
	ReplaySpeed float64 `mapstructure:"replay_speed" validate:"required"`
	ReplayLoop  bool    `mapstructure:"replay_loop"`

	SnapshotInterval time.Duration `mapstructure:"snapshot_interval" validate:"required|min:1"`
	LeaderboardLimit int           `mapstructure:"leaderboard_limit" validate:"required|min:1|max:100"`
	CacheSizeMB      int           `mapstructure:"cache_size_mb" validate:"required|min:1"`
	CacheTTL         time.Duration `mapstructure:"cache_ttl" validate:"required|min:1"`

	JWTSecret         string        `mapstructure:"jwt_secret"`
	AdminPasswordHash string        `mapstructure:"admin_password_hash"`
	TokenTTL          time.Duration `mapstructure:"token_ttl" validate:"required|min:1"`
	LoginRate         float64       `mapstructure:"login_rate" validate:"required"`
	LoginBurst        int           `mapstructure:"login_burst" validate:"required|min:1"`
	TrustProxy        bool          `mapstructure:"trust_proxy"`

	LikesPerPointFollower    int `mapstructure:"likes_per_point_follower" validate:"required|min:1"`
	LikesPerPointNonFollower int `mapstructure:"likes_per_point_non_follower" validate:"required|min:1"`

	MetricsEnabled bool `mapstructure:"metrics_enabled"`

	CBMaxRequests      uint32        `mapstructure:"cb_max_requests"`
	CBInterval         time.Duration `mapstructure:"cb_interval"`
	CBTimeout          time.Duration `mapstructure:"cb_timeout"`
	CBFailureThreshold uint32        `mapstructure:"cb_failure_threshold" validate:"required|min:1"`
}

var defaults = map[string]any{
	"redis_url":                    "redis://redis:6379/0",
	"redis_pool_size":              20,
	"database_url":                 "",
	"db_max_conns":                 10,
	"nats_url":                     "",
	"grpc_addr":                    ":9090",
	"session_id":                   "default",
	"events_stream":                "LIVE_EVENTS",
	"events_subject":               "live.events.>",
	"events_durable":               "scoring_events",
	"dlq_subject":                  "live.dlq.events",
	"max_deliver":                  5,
	"replay_dir":                   ".",
	"replay_file":                  "mock_data.jsonl",
	"replay_speed":                 2.0,
	"replay_loop":                  true,
	"snapshot_interval":            500 * time.Millisecond,
	"leaderboard_limit":            5,
	"cache_size_mb":                8,
	"cache_ttl":                    time.Second,
	"jwt_secret":                   "",
	"admin_password_hash":          "",
	"token_ttl":                    12 * time.Hour,
	"login_rate":                   0.2,
	"login_burst":                  5,
	"trust_proxy":                  false,
	"likes_per_point_follower":     10,
	"likes_per_point_non_follower": 15,
	"metrics_enabled":              true,
	"cb_max_requests":              5,
	"cb_interval":                  60 * time.Second,
	"cb_timeout":                   30 * time.Second,
	"cb_failure_threshold":         5,
}

// Load reads defaults, then the optional file, then the environment.
func Load() (Config, error) {
	v := viper.New()
	for k, d := range defaults {
		v.SetDefault(k, d)
	}
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path := strings.TrimSpace(v.GetString("scoring_config")); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unable to decode into config struct: %w", err)
	}
	cfg.SessionID = strings.TrimSpace(cfg.SessionID)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	vd := validate.Struct(c)
	if !vd.Validate() {
		return fmt.Errorf("invalid config: %w", vd.Errors)
	}
	if c.ReplayFile != "" && !filepath.IsLocal(c.ReplayFile) {
		return fmt.Errorf("invalid config: replay_file %q must be relative to replay_dir", c.ReplayFile)
	}
	return nil
}
