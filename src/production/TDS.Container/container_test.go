package container

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	config "gitlab.com/maplesense1/tds.mqtt_bridge/src/production/TDS.Config"
	tdsingestor "gitlab.com/maplesense1/tds.mqtt_bridge/src/production/TDS.Ingestor"
	logger "gitlab.com/maplesense1/tds.mqtt_bridge/src/production/TDS.Logger"
	tdsmodels "gitlab.com/maplesense1/tds.mqtt_bridge/src/production/TDS.Models"
)

type stubTransport struct{ connected bool }

func (s *stubTransport) Subscribe(context.Context) (<-chan tdsingestor.Event, error) {
	return make(chan tdsingestor.Event), nil
}
func (s *stubTransport) Publish(string, []byte) error { return nil }
func (s *stubTransport) IsConnected() bool            { return s.connected }
func (s *stubTransport) Close()                       {}

func newSQLiteContainer(t *testing.T) *Container {
	t.Helper()
	t.Setenv("STORE_BACKEND", config.BackendSQLite)
	t.Setenv("SQLITE_PATH", filepath.Join(t.TempDir(), "data", "tds.db"))
	t.Setenv("MQTT_ERROR_TOPIC", "tds/errors")

	cfg, err := config.Parse()
	if err != nil {
		t.Fatalf("parse config: %v", err)
	}
	return NewContainerWithConfig(cfg, logger.NewNop())
}

func TestIngestorConfigMapping(t *testing.T) {
	c := newSQLiteContainer(t)

	got := c.IngestorConfig()
	want := tdsmodels.IngestorConfig{
		BrokerURL:      "tcp://localhost:1883",
		Topic:          "tds/topic",
		ClientID:       "tds-bridge",
		QoS:            0,
		KeepAlive:      5 * time.Second,
		PingTimeout:    10 * time.Second,
		ConnectTimeout: 30 * time.Second,
		ErrorTopic:     "tds/errors",
		InsertTimeout:  3 * time.Second,
	}
	if got != want {
		t.Errorf("unexpected ingestor config\n got: %+v\nwant: %+v", got, want)
	}
}

func TestSQLiteStoreAndHealth(t *testing.T) {
	ctx := context.Background()
	c := newSQLiteContainer(t)
	transport := &stubTransport{connected: true}
	c.SetTransport(transport)

	repo, err := c.GetReadingRepository(ctx)
	if err != nil {
		t.Fatalf("GetReadingRepository: %v", err)
	}
	again, _ := c.GetReadingRepository(ctx)
	if again != repo {
		t.Error("expected the repository to be built once")
	}

	if err := repo.InsertReading(ctx, tdsmodels.Reading{ID: 1, ValuePPM: 9.5, ObservedAt: 1}); err != nil {
		t.Fatalf("insert: %v", err)
	}
	latest, err := repo.GetLatestReading(ctx)
	if err != nil || latest == nil || latest.ValuePPM != 9.5 {
		t.Fatalf("unexpected latest %+v, %v", latest, err)
	}

	ing, err := c.GetIngestor(ctx)
	if err != nil {
		t.Fatalf("GetIngestor: %v", err)
	}
	if !ing.IsConnected() {
		t.Error("ingestor should report the transport state")
	}

	checker, err := c.GetHealthChecker(ctx)
	if err != nil {
		t.Fatalf("GetHealthChecker: %v", err)
	}
	if _, healthy := checker.GetHealthStatus(ctx); !healthy {
		t.Error("expected healthy status")
	}

	transport.connected = false
	if _, healthy := checker.GetHealthStatus(ctx); healthy {
		t.Error("expected degraded status while the broker is down")
	}
	transport.connected = true

	if err := c.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if _, healthy := checker.GetHealthStatus(ctx); healthy {
		t.Error("expected degraded status after the store was closed")
	}
}

func TestShutdownRunsCleanupInReverse(t *testing.T) {
	c := newSQLiteContainer(t)

	var order []int
	for i := 1; i <= 3; i++ {
		i := i
		c.AddCleanupFunc(func() error {
			order = append(order, i)
			return nil
		})
	}

	if err := c.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if len(order) != 3 || order[0] != 3 || order[2] != 1 {
		t.Errorf("expected reverse order, got %v", order)
	}
}
