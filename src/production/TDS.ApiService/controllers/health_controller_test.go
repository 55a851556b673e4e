package controllers

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	health "gitlab.com/maplesense1/tds.mqtt_bridge/src/production/TDS.Health"
)

func newHealthRouter(checker *health.HealthChecker, reg *prometheus.Registry) *gin.Engine {
	router := gin.New()
	NewHealthController(checker, reg).RegisterRoutes(router)
	return router
}

func TestHealthLive(t *testing.T) {
	w := get(t, newHealthRouter(health.NewHealthChecker(), prometheus.NewRegistry()), "/health/live")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
}

func TestHealthReady(t *testing.T) {
	checker := health.NewHealthChecker()
	connected := true
	checker.Register("store", func(context.Context) error { return nil })
	checker.Register("mqtt", health.ConnectedCheck(func() bool { return connected }))
	router := newHealthRouter(checker, prometheus.NewRegistry())

	w := get(t, router, "/health/ready")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	connected = false
	w = get(t, router, "/health/ready")
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), `"degraded"`) {
		t.Errorf("expected degraded status, got %s", w.Body.String())
	}
}

func TestHealthReadyStoreDown(t *testing.T) {
	checker := health.NewHealthChecker()
	checker.Register("store", failingRepo{err: errors.New("down")}.Ping)

	w := get(t, newHealthRouter(checker, prometheus.NewRegistry()), "/health/ready")
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", w.Code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	reg := prometheus.NewRegistry()
	counter := prometheus.NewCounter(prometheus.CounterOpts{Name: "tds_bridge_test_total", Help: "test"})
	reg.MustRegister(counter)
	counter.Inc()

	w := get(t, newHealthRouter(health.NewHealthChecker(), reg), "/metrics")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "tds_bridge_test_total 1") {
		t.Errorf("expected counter in exposition, got %s", w.Body.String())
	}
}
