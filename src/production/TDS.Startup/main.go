package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"gitlab.com/maplesense1/tds.mqtt_bridge/src/production/TDS.ApiService/controllers"
	"gitlab.com/maplesense1/tds.mqtt_bridge/src/production/TDS.ApiService/middleware"
	config "gitlab.com/maplesense1/tds.mqtt_bridge/src/production/TDS.Config"
	container "gitlab.com/maplesense1/tds.mqtt_bridge/src/production/TDS.Container"
)

func main() {
	os.Exit(run())
}

func run() int {
	// Initialize dependency injection container
	ctr, err := container.NewContainer()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize container: %v\n", err)
		return 1
	}
	defer ctr.Shutdown(context.Background())

	logger := ctr.GetLogger()
	cfg := ctr.GetConfig()
	logger.Logger.Info().
		Str("backend", cfg.Store.Backend).
		Str("broker", cfg.GetMQTTBrokerURL()).
		Str("topic", cfg.MQTT.Topic).
		Msg("Starting TDS bridge")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	initCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	ingestor, err := ctr.GetIngestor(initCtx)
	if err != nil {
		logger.ErrorWithError(err, "Failed to initialize ingestor")
		return 1
	}

	router, err := newRouter(initCtx, ctr)
	if err != nil {
		logger.ErrorWithError(err, "Failed to initialize HTTP router")
		return 1
	}

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	errCh := make(chan error, 2)

	ingestionDone := startIngestion(ctx, ingestor.Run, errCh)

	go func() {
		logger.Info("HTTP server starting on port " + cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	logger.Info("TDS bridge running... press Ctrl+C to stop")

	exitCode := 0
	select {
	case <-ctx.Done():
		logger.Info("Shutting down...")
	case err := <-errCh:
		logger.ErrorWithError(err, "Fatal error, shutting down")
		exitCode = 1
	}
	stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.ErrorWithError(err, "Server forced to shutdown")
	}

	// the store and transport close in the deferred Shutdown; let an in-flight insert finish first
	select {
	case <-ingestionDone:
	case <-shutdownCtx.Done():
		logger.Warn("Ingestion loop did not stop before the shutdown timeout")
	}

	return exitCode
}

// startIngestion runs the loop in the background. The returned channel is closed once run has returned.
func startIngestion(ctx context.Context, run func(context.Context) error, errCh chan<- error) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := run(ctx); err != nil {
			errCh <- fmt.Errorf("ingestion loop: %w", err)
		}
	}()
	return done
}

// newRouter builds the HTTP surface: read projection, health and metrics
func newRouter(ctx context.Context, ctr *container.Container) (*gin.Engine, error) {
	cfg := ctr.GetConfig()
	logger := ctr.GetLogger()

	readingRepo, err := ctr.GetReadingRepository(ctx)
	if err != nil {
		return nil, err
	}
	checker, err := ctr.GetHealthChecker(ctx)
	if err != nil {
		return nil, err
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.RequestID())
	router.Use(middleware.RequestLogger(logger))
	router.Use(cors.New(corsConfig(&cfg.CORS)))

	controllers.NewReadingController(readingRepo, logger).RegisterRoutes(router)
	controllers.NewHealthController(checker, ctr.GetRegistry()).RegisterRoutes(router)

	return router, nil
}

// corsConfig translates the CORS settings; a "*" origin allows any origin
func corsConfig(c *config.CORSConfig) cors.Config {
	cc := cors.Config{
		AllowMethods:  c.AllowedMethods,
		AllowHeaders:  c.AllowedHeaders,
		ExposeHeaders: []string{middleware.RequestIDHeader},
		MaxAge:        time.Duration(c.MaxAge) * time.Second,
	}

	for _, origin := range c.AllowedOrigins {
		if origin == "*" {
			cc.AllowAllOrigins = true
			return cc
		}
	}
	cc.AllowOrigins = c.AllowedOrigins
	return cc
}
