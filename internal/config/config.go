package config

import (
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration. The server reads every section
// except Client; the sync client reads Client and Server.Env.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Kafka    KafkaConfig    `mapstructure:"kafka"`
	Keycloak KeycloakConfig `mapstructure:"keycloak"`
	TTL      TTLConfig      `mapstructure:"ttl"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Realtime RealtimeConfig `mapstructure:"realtime"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Client   ClientConfig   `mapstructure:"client"`
}

type ServerConfig struct {
	Port string `mapstructure:"port"`
	Env  string `mapstructure:"env"`
}

type DatabaseConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Name     string `mapstructure:"name"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
}

type KafkaConfig struct {
	Brokers         []string `mapstructure:"brokers"`
	ConsumerGroupID string   `mapstructure:"consumer_group_id"`
	Topics          []string `mapstructure:"topics"`
}

type KeycloakConfig struct {
	BaseURL string `mapstructure:"base_url"`
	// AdminRealm is the realm used to obtain admin access tokens (usually "master").
	AdminRealm string `mapstructure:"admin_realm"`
	// AdminClientID and AdminClientSecret are credentials for the admin API client.
	AdminClientID     string        `mapstructure:"admin_client_id"`
	AdminClientSecret string        `mapstructure:"admin_client_secret"`
	CacheTTL          time.Duration `mapstructure:"cache_ttl"`
}

type TTLConfig struct {
	RetentionDays int `mapstructure:"retention_days"` // Default: 30
}

// RedisConfig enables cross-instance hub relay when URL is set.
type RedisConfig struct {
	URL     string `mapstructure:"url"`
	Channel string `mapstructure:"channel"`
}

type RealtimeConfig struct {
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
	// RateLimit is the sustained number of inbound hub commands per second per connection.
	RateLimit  float64 `mapstructure:"rate_limit"`
	RateBurst  int     `mapstructure:"rate_burst"`
	SendBuffer int     `mapstructure:"send_buffer"`
}

type AuthConfig struct {
	// JWTSecret verifies HS256 bearer tokens. Empty disables verification (development only).
	JWTSecret string `mapstructure:"jwt_secret"`
}

type ClientConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	WSURL          string        `mapstructure:"ws_url"`
	Token          string        `mapstructure:"token"`
	TenantKey      string        `mapstructure:"tenant_key"`
	PrefsPath      string        `mapstructure:"prefs_path"`
	CacheTTL       time.Duration `mapstructure:"cache_ttl"`
	SweepInterval  time.Duration `mapstructure:"sweep_interval"`
	DrainInterval  time.Duration `mapstructure:"drain_interval"`
	ProbeInterval  time.Duration `mapstructure:"probe_interval"`
	MaxRetries     int           `mapstructure:"max_retries"`
	InitialBackoff time.Duration `mapstructure:"initial_backoff"`
	MaxBackoff     time.Duration `mapstructure:"max_backoff"`
}

// Load reads configuration from environment variables and config files.
// Environment variables override file values. Prefix: ARDA_RT_
func Load() (*Config, error) {
	v := viper.New()

	// Defaults
	v.SetDefault("server.port", "8090")
	v.SetDefault("server.env", "development")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.name", "arda_realtime")
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "password")
	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.consumer_group_id", "arda-realtime-group")
	v.SetDefault("kafka.topics", []string{"snippet-events", "message-events", "notification-commands"})
	v.SetDefault("keycloak.base_url", "http://localhost:8081")
	v.SetDefault("keycloak.admin_realm", "master")
	v.SetDefault("keycloak.admin_client_id", "arda-realtime-service")
	v.SetDefault("keycloak.cache_ttl", 30*time.Second)
	v.SetDefault("ttl.retention_days", 30)
	v.SetDefault("redis.channel", "arda:realtime:events")
	v.SetDefault("realtime.heartbeat_interval", 30*time.Second)
	v.SetDefault("realtime.rate_limit", 20.0)
	v.SetDefault("realtime.rate_burst", 40)
	v.SetDefault("realtime.send_buffer", 32)
	v.SetDefault("client.base_url", "http://localhost:8090/api/v1")
	v.SetDefault("client.ws_url", "ws://localhost:8090/api/v1/ws")
	v.SetDefault("client.prefs_path", "syncclient.db")
	v.SetDefault("client.cache_ttl", 5*time.Minute)
	v.SetDefault("client.sweep_interval", 5*time.Minute)
	v.SetDefault("client.drain_interval", 30*time.Second)
	v.SetDefault("client.probe_interval", 15*time.Second)
	v.SetDefault("client.max_retries", 3)
	v.SetDefault("client.initial_backoff", time.Second)
	v.SetDefault("client.max_backoff", time.Minute)

	// Environment variables (e.g. ARDA_RT_DATABASE_HOST -> database.host)
	v.SetEnvPrefix("ARDA_RT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Also support simple env vars without prefix for Docker Compose convenience
	v.BindEnv("database.host", "DB_HOST")
	v.BindEnv("database.port", "DB_PORT")
	v.BindEnv("database.name", "DB_NAME")
	v.BindEnv("database.user", "DB_USER")
	v.BindEnv("database.password", "DB_PASSWORD")
	v.BindEnv("kafka.brokers", "KAFKA_BROKERS")
	v.BindEnv("keycloak.base_url", "KEYCLOAK_URL")
	v.BindEnv("keycloak.admin_realm", "KEYCLOAK_ADMIN_REALM")
	v.BindEnv("keycloak.admin_client_id", "KEYCLOAK_ADMIN_CLIENT_ID")
	v.BindEnv("keycloak.admin_client_secret", "KEYCLOAK_ADMIN_CLIENT_SECRET")
	v.BindEnv("redis.url", "REDIS_URL")
	v.BindEnv("auth.jwt_secret", "JWT_SECRET")
	v.BindEnv("server.port", "PORT")

	// Try loading config file (optional)
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	_ = v.ReadInConfig() // Not required

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// DSN returns the PostgreSQL connection string.
func (d DatabaseConfig) DSN() string {
	return "host=" + d.Host +
		" port=" + strconv.Itoa(d.Port) +
		" dbname=" + d.Name +
		" user=" + d.User +
		" password=" + d.Password +
		" sslmode=disable"
}
