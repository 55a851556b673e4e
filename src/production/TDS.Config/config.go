package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Store backends understood by the container
const (
	BackendPostgres = "postgres"
	BackendSQLite   = "sqlite"
	BackendMongo    = "mongo"
)

// Config holds all application configuration
type Config struct {
	// Server configuration
	Server ServerConfig `json:"server"`

	// MQTT configuration
	MQTT MQTTConfig `json:"mqtt"`

	// Ingestion configuration
	Ingest IngestConfig `json:"ingest"`

	// Store configuration
	Store StoreConfig `json:"store"`

	// Latest-reading cache configuration
	Cache CacheConfig `json:"cache"`

	// Logging configuration
	Logging LoggingConfig `json:"logging"`

	// CORS configuration
	CORS CORSConfig `json:"cors"`
}

// ServerConfig holds server-related configuration
type ServerConfig struct {
	Port            string        `json:"port" env:"PORT" envDefault:"8000"`
	ReadTimeout     time.Duration `json:"read_timeout" env:"READ_TIMEOUT" envDefault:"30s"`
	WriteTimeout    time.Duration `json:"write_timeout" env:"WRITE_TIMEOUT" envDefault:"30s"`
	IdleTimeout     time.Duration `json:"idle_timeout" env:"IDLE_TIMEOUT" envDefault:"120s"`
	ShutdownTimeout time.Duration `json:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT" envDefault:"15s"`
}

// MQTTConfig holds MQTT-related configuration
type MQTTConfig struct {
	BrokerHost     string        `json:"broker_host" env:"BROKER_HOST" envDefault:"localhost"`
	BrokerPort     int           `json:"broker_port" env:"BROKER_PORT" envDefault:"1883"`
	BrokerUser     string        `json:"broker_user" env:"BROKER_USER"`
	BrokerPass     string        `json:"-" env:"BROKER_PASS"`
	UseTLS         bool          `json:"use_tls" env:"BROKER_TLS" envDefault:"false"`
	CACertPath     string        `json:"ca_cert_path" env:"BROKER_CA_FILE"`
	Topic          string        `json:"topic" env:"MQTT_TOPIC" envDefault:"tds/topic"`
	ClientID       string        `json:"client_id" env:"MQTT_CLIENT_ID" envDefault:"tds-bridge"`
	QoS            int           `json:"qos" env:"MQTT_QOS" envDefault:"0"`
	KeepAlive      time.Duration `json:"keep_alive" env:"MQTT_KEEP_ALIVE" envDefault:"5s"`
	PingTimeout    time.Duration `json:"ping_timeout" env:"MQTT_PING_TIMEOUT" envDefault:"10s"`
	ConnectTimeout time.Duration `json:"connect_timeout" env:"MQTT_CONNECT_TIMEOUT" envDefault:"30s"`
	ErrorTopic     string        `json:"error_topic" env:"MQTT_ERROR_TOPIC"`
}

// IngestConfig holds ingestion loop settings
type IngestConfig struct {
	// NodeID seeds the snowflake id generator; concurrent bridges writing one store need distinct ids
	NodeID int64 `json:"node_id" env:"INGESTOR_NODE_ID" envDefault:"1"`
}

// StoreConfig selects and configures the reading store
type StoreConfig struct {
	Backend     string        `json:"backend" env:"STORE_BACKEND" envDefault:"postgres"`
	Timeout     time.Duration `json:"timeout" env:"STORE_TIMEOUT" envDefault:"3s"`
	DatabaseURL string        `json:"-" env:"DATABASE_URL"`

	Postgres PostgresConfig `json:"postgres"`
	SQLite   SQLiteConfig   `json:"sqlite"`
	Mongo    MongoConfig    `json:"mongo"`
}

// PostgresConfig holds the discrete PostgreSQL connection settings, used when DATABASE_URL is unset
type PostgresConfig struct {
	Host     string `json:"host" env:"POSTGRES_HOST" envDefault:"localhost"`
	Port     int    `json:"port" env:"POSTGRES_PORT" envDefault:"5432"`
	User     string `json:"user" env:"POSTGRES_USER"`
	Password string `json:"-" env:"POSTGRES_PASSWORD"`
	DBName   string `json:"db_name" env:"POSTGRES_DB" envDefault:"tds"`
	SSLMode  string `json:"ssl_mode" env:"POSTGRES_SSLMODE" envDefault:"disable"`
	MaxConns int    `json:"max_conns" env:"POSTGRES_MAX_CONNS" envDefault:"10"`
	MinConns int    `json:"min_conns" env:"POSTGRES_MIN_CONNS" envDefault:"2"`
}

// SQLiteConfig holds the embedded SQLite settings
type SQLiteConfig struct {
	Path string `json:"path" env:"SQLITE_PATH" envDefault:"data/tds.db"`
}

// MongoConfig holds MongoDB settings
type MongoConfig struct {
	URI        string `json:"-" env:"MONGODB_URI"`
	Database   string `json:"database" env:"MONGODB_DATABASE" envDefault:"tds"`
	Collection string `json:"collection" env:"MONGODB_COLLECTION" envDefault:"tds_readings"`
}

// CacheConfig holds the Redis latest-reading cache settings. An empty Addr disables the cache.
type CacheConfig struct {
	Addr     string        `json:"addr" env:"REDIS_ADDR"`
	Password string        `json:"-" env:"REDIS_PASSWORD"`
	DB       int           `json:"db" env:"REDIS_DB" envDefault:"0"`
	TTL      time.Duration `json:"ttl" env:"REDIS_TTL" envDefault:"24h"`
}

// LoggingConfig holds logging-related configuration
type LoggingConfig struct {
	Level        string `json:"level" env:"LOG_LEVEL" envDefault:"info"`
	Format       string `json:"format" env:"LOG_FORMAT" envDefault:"text"`   // json or text
	Output       string `json:"output" env:"LOG_OUTPUT" envDefault:"stdout"` // stdout or stderr
	EnableCaller bool   `json:"enable_caller" env:"LOG_ENABLE_CALLER" envDefault:"false"`
}

// CORSConfig holds CORS-related configuration
type CORSConfig struct {
	AllowedOrigins []string `json:"allowed_origins" env:"CORS_ALLOWED_ORIGINS" envDefault:"*" envSeparator:","`
	AllowedMethods []string `json:"allowed_methods" env:"CORS_ALLOWED_METHODS" envDefault:"GET,OPTIONS" envSeparator:","`
	AllowedHeaders []string `json:"allowed_headers" env:"CORS_ALLOWED_HEADERS" envDefault:"Origin,Content-Type,Accept" envSeparator:","`
	MaxAge         int      `json:"max_age" env:"CORS_MAX_AGE" envDefault:"43200"` // 12 hours
}

// Load loads configuration from the environment, reading a .env file first when one exists
func Load() (*Config, error) {
	// A missing .env is fine; variables may be set directly
	_ = godotenv.Load()

	return Parse()
}

// Parse builds the configuration from the current environment without touching .env
func Parse() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	for i, origin := range cfg.CORS.AllowedOrigins {
		cfg.CORS.AllowedOrigins[i] = strings.TrimSpace(origin)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.MQTT.Topic == "" {
		return fmt.Errorf("MQTT_TOPIC is required")
	}
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		return fmt.Errorf("MQTT_QOS must be 0, 1 or 2, got %d", c.MQTT.QoS)
	}
	if c.MQTT.BrokerPort <= 0 {
		return fmt.Errorf("BROKER_PORT must be positive")
	}
	if c.Ingest.NodeID < 0 || c.Ingest.NodeID > 1023 {
		return fmt.Errorf("INGESTOR_NODE_ID must be between 0 and 1023, got %d", c.Ingest.NodeID)
	}
	if c.Store.Timeout <= 0 {
		return fmt.Errorf("STORE_TIMEOUT must be positive")
	}

	switch c.Store.Backend {
	case BackendPostgres:
		if c.Store.DatabaseURL == "" && (c.Store.Postgres.User == "" || c.Store.Postgres.Password == "") {
			return fmt.Errorf("DATABASE_URL or POSTGRES_USER and POSTGRES_PASSWORD are required for the postgres backend")
		}
	case BackendSQLite:
		if c.Store.SQLite.Path == "" {
			return fmt.Errorf("SQLITE_PATH is required for the sqlite backend")
		}
	case BackendMongo:
		if c.Store.Mongo.URI == "" {
			return fmt.Errorf("MONGODB_URI is required for the mongo backend")
		}
	default:
		return fmt.Errorf("unknown STORE_BACKEND %q (expected postgres, sqlite or mongo)", c.Store.Backend)
	}

	return nil
}

// GetDatabaseDSN returns the PostgreSQL connection string
func (c *Config) GetDatabaseDSN() string {
	if c.Store.DatabaseURL != "" {
		return c.Store.DatabaseURL
	}
	pg := c.Store.Postgres
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(pg.User, pg.Password),
		Host:     fmt.Sprintf("%s:%d", pg.Host, pg.Port),
		Path:     "/" + pg.DBName,
		RawQuery: "sslmode=" + url.QueryEscape(pg.SSLMode),
	}
	return u.String()
}

// GetMQTTBrokerURL returns the MQTT broker URL
func (c *Config) GetMQTTBrokerURL() string {
	scheme := "tcp"
	if c.MQTT.UseTLS {
		scheme = "tcps"
	}
	return fmt.Sprintf("%s://%s:%d", scheme, c.MQTT.BrokerHost, c.MQTT.BrokerPort)
}
