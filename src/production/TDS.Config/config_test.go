package config

import (
	"strings"
	"testing"
	"time"
)

func setPostgresEnv(t *testing.T) {
	t.Helper()
	t.Setenv("STORE_BACKEND", BackendPostgres)
	t.Setenv("DATABASE_URL", "")
	t.Setenv("POSTGRES_USER", "tdsusr")
	t.Setenv("POSTGRES_PASSWORD", "tdspass")
}

func TestParseDefaults(t *testing.T) {
	setPostgresEnv(t)
	t.Setenv("MQTT_TOPIC", "tds/topic")
	t.Setenv("MQTT_QOS", "0")
	t.Setenv("MQTT_KEEP_ALIVE", "5s")

	cfg, err := Parse()
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.MQTT.Topic != "tds/topic" {
		t.Errorf("expected topic tds/topic, got %q", cfg.MQTT.Topic)
	}
	if cfg.MQTT.KeepAlive != 5*time.Second {
		t.Errorf("expected keep alive 5s, got %v", cfg.MQTT.KeepAlive)
	}
	if cfg.Store.Backend != BackendPostgres {
		t.Errorf("expected postgres backend, got %q", cfg.Store.Backend)
	}
}

func TestParseCORSOriginsAreTrimmed(t *testing.T) {
	setPostgresEnv(t)
	t.Setenv("CORS_ALLOWED_ORIGINS", "http://a.example, http://b.example")

	cfg, err := Parse()
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(cfg.CORS.AllowedOrigins) != 2 || cfg.CORS.AllowedOrigins[1] != "http://b.example" {
		t.Fatalf("unexpected origins %q", cfg.CORS.AllowedOrigins)
	}
}

func TestParseInvalidDuration(t *testing.T) {
	setPostgresEnv(t)
	t.Setenv("STORE_TIMEOUT", "soon")

	_, err := Parse()
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "parse env:") {
		t.Fatalf("expected parse env prefix, got %v", err)
	}
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		return &Config{
			MQTT:  MQTTConfig{Topic: "tds/topic", BrokerPort: 1883},
			Store: StoreConfig{Backend: BackendSQLite, Timeout: time.Second, SQLite: SQLiteConfig{Path: ":memory:"}},
		}
	}

	if err := base().Validate(); err != nil {
		t.Fatalf("expected valid config, got %v", err)
	}

	cfg := base()
	cfg.MQTT.QoS = 3
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for qos 3")
	}

	cfg = base()
	cfg.MQTT.Topic = ""
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for empty topic")
	}

	cfg = base()
	cfg.Ingest.NodeID = 1024
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for snowflake node id out of range")
	}

	cfg = base()
	cfg.Store.Backend = "cassandra"
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for unknown backend")
	}

	cfg = base()
	cfg.Store.Backend = BackendMongo
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for mongo without uri")
	}

	cfg = base()
	cfg.Store.Backend = BackendPostgres
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for postgres without credentials")
	}
	cfg.Store.DatabaseURL = "postgres://u:p@db:5432/tds"
	if err := cfg.Validate(); err != nil {
		t.Errorf("expected DATABASE_URL to satisfy postgres backend, got %v", err)
	}
}

func TestGetDatabaseDSN(t *testing.T) {
	cfg := &Config{Store: StoreConfig{Postgres: PostgresConfig{
		Host: "db", Port: 5432, User: "tdsusr", Password: "p@ss", DBName: "tds", SSLMode: "disable",
	}}}

	got := cfg.GetDatabaseDSN()
	want := "postgres://tdsusr:p%40ss@db:5432/tds?sslmode=disable"
	if got != want {
		t.Fatalf("expected %q, got %q", want, got)
	}

	cfg.Store.DatabaseURL = "postgres://override"
	if got := cfg.GetDatabaseDSN(); got != "postgres://override" {
		t.Fatalf("expected DATABASE_URL to win, got %q", got)
	}
}

func TestGetMQTTBrokerURL(t *testing.T) {
	cfg := &Config{MQTT: MQTTConfig{BrokerHost: "broker", BrokerPort: 8883, UseTLS: true}}
	if got := cfg.GetMQTTBrokerURL(); got != "tcps://broker:8883" {
		t.Fatalf("unexpected broker url %q", got)
	}
}
