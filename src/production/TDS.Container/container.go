package container

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	config "gitlab.com/maplesense1/tds.mqtt_bridge/src/production/TDS.Config"
	health "gitlab.com/maplesense1/tds.mqtt_bridge/src/production/TDS.Health"
	tdsingestor "gitlab.com/maplesense1/tds.mqtt_bridge/src/production/TDS.Ingestor"
	logger "gitlab.com/maplesense1/tds.mqtt_bridge/src/production/TDS.Logger"
	tdsmodels "gitlab.com/maplesense1/tds.mqtt_bridge/src/production/TDS.Models"
	implementation "gitlab.com/maplesense1/tds.mqtt_bridge/src/production/TDS.Repository/Implementation"
	interfaces "gitlab.com/maplesense1/tds.mqtt_bridge/src/production/TDS.Repository/Interfaces"
)

const connectTimeout = 20 * time.Second

// Container manages dependencies and their lifecycle
type Container struct {
	config   *config.Config
	logger   *logger.Logger
	registry *prometheus.Registry

	latestCache *implementation.RedisLatestCache

	readingRepo   interfaces.ReadingRepository
	transport     tdsingestor.Transport
	ingestor      *tdsingestor.Ingestor
	healthChecker *health.HealthChecker

	// Mutex for thread-safe access
	mu sync.Mutex

	// Cleanup functions, run in reverse order on Shutdown
	cleanupFuncs []func() error
}

// NewContainer loads configuration from the environment and creates a new dependency injection container
func NewContainer() (*Container, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	return NewContainerWithConfig(cfg, logger.NewLogger(&cfg.Logging)), nil
}

// NewContainerWithConfig creates a container around an already validated configuration
func NewContainerWithConfig(cfg *config.Config, log *logger.Logger) *Container {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return &Container{
		config:   cfg,
		logger:   log,
		registry: registry,
	}
}

// GetConfig returns the configuration
func (c *Container) GetConfig() *config.Config {
	return c.config
}

// GetLogger returns the logger
func (c *Container) GetLogger() *logger.Logger {
	return c.logger
}

// GetRegistry returns the metrics registry served on /metrics
func (c *Container) GetRegistry() *prometheus.Registry {
	return c.registry
}

// GetReadingRepository connects to the configured store on first use and returns the reading repository
func (c *Container) GetReadingRepository(ctx context.Context) (interfaces.ReadingRepository, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.readingRepository(ctx)
}

func (c *Container) readingRepository(ctx context.Context) (interfaces.ReadingRepository, error) {
	if c.readingRepo != nil {
		return c.readingRepo, nil
	}

	repo, err := c.openStore(ctx)
	if err != nil {
		return nil, err
	}

	if c.config.Cache.Addr != "" {
		rdb, err := health.ConnectRedisWithTimeout(&c.config.Cache, connectTimeout)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to cache: %w", err)
		}
		c.cleanupFuncs = append(c.cleanupFuncs, rdb.Close)

		cache := implementation.NewRedisLatestCache(rdb, c.config.Cache.TTL)
		c.latestCache = cache
		repo = implementation.NewCachedReadingRepository(repo, cache, c.logger)
		c.logger.Logger.Info().Str("addr", c.config.Cache.Addr).Msg("Latest-reading cache enabled")
	}

	c.readingRepo = repo
	return repo, nil
}

func (c *Container) openStore(ctx context.Context) (interfaces.ReadingRepository, error) {
	switch c.config.Store.Backend {
	case config.BackendPostgres:
		db, err := health.ConnectPostgresWithTimeout(c.config, connectTimeout)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		if err := c.initSQL(ctx, db); err != nil {
			return nil, err
		}
		return implementation.NewSQLReadingRepository(db, implementation.DialectPostgres), nil

	case config.BackendSQLite:
		db, err := health.OpenSQLite(c.config.Store.SQLite.Path)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}
		if err := c.initSQL(ctx, db); err != nil {
			return nil, err
		}
		return implementation.NewSQLReadingRepository(db, implementation.DialectSQLite), nil

	case config.BackendMongo:
		client, err := health.ConnectMongoWithTimeout(&c.config.Store.Mongo, connectTimeout)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
		}
		c.cleanupFuncs = append(c.cleanupFuncs, func() error {
			return client.Disconnect(context.Background())
		})

		repo := implementation.NewMongoReadingRepository(health.GetCollection(client, &c.config.Store.Mongo), c.config.Store.Timeout)
		if err := repo.EnsureIndexes(ctx); err != nil {
			return nil, fmt.Errorf("failed to create indexes: %w", err)
		}
		c.logger.Info("MongoDB store initialized successfully")
		return repo, nil

	default:
		return nil, fmt.Errorf("unknown store backend %q", c.config.Store.Backend)
	}
}

// initSQL takes ownership of db and makes sure the schema exists
func (c *Container) initSQL(ctx context.Context, db *sql.DB) error {
	c.cleanupFuncs = append(c.cleanupFuncs, db.Close)

	if err := health.NewDatabaseManager(db).CreateTables(ctx); err != nil {
		return fmt.Errorf("failed to create tables: %w", err)
	}

	c.logger.Logger.Info().Str("backend", c.config.Store.Backend).Msg("Database initialized successfully")
	return nil
}

// IngestorConfig maps the process configuration onto the ingestion loop settings
func (c *Container) IngestorConfig() tdsmodels.IngestorConfig {
	m := c.config.MQTT
	return tdsmodels.IngestorConfig{
		BrokerURL:      c.config.GetMQTTBrokerURL(),
		BrokerUser:     m.BrokerUser,
		BrokerPass:     m.BrokerPass,
		UseTLS:         m.UseTLS,
		CACertPath:     m.CACertPath,
		Topic:          m.Topic,
		ClientID:       m.ClientID,
		QoS:            byte(m.QoS),
		KeepAlive:      m.KeepAlive,
		PingTimeout:    m.PingTimeout,
		ConnectTimeout: m.ConnectTimeout,
		ErrorTopic:     m.ErrorTopic,
		InsertTimeout:  c.config.Store.Timeout,
	}
}

// GetIngestor wires the ingestion loop to the MQTT transport and the reading store.
// Nothing connects to the broker until Run is called.
func (c *Container) GetIngestor(ctx context.Context) (*tdsingestor.Ingestor, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ingestorLocked(ctx)
}

func (c *Container) ingestorLocked(ctx context.Context) (*tdsingestor.Ingestor, error) {
	if c.ingestor != nil {
		return c.ingestor, nil
	}

	repo, err := c.readingRepository(ctx)
	if err != nil {
		return nil, err
	}

	ids, err := tdsingestor.NewSnowflakeIDs(c.config.Ingest.NodeID)
	if err != nil {
		return nil, err
	}

	ingestCfg := c.IngestorConfig()
	if c.transport == nil {
		transport := tdsingestor.NewMQTTTransport(ingestCfg, c.logger)
		c.transport = transport
		c.cleanupFuncs = append(c.cleanupFuncs, func() error {
			transport.Close()
			return nil
		})
	}

	c.ingestor = tdsingestor.New(ingestCfg, c.transport, repo, ids, tdsingestor.NewMetrics(c.registry), c.logger)
	return c.ingestor, nil
}

// SetTransport replaces the broker transport used by the ingestor; must be called before GetIngestor
func (c *Container) SetTransport(t tdsingestor.Transport) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.transport = t
}

// GetHealthChecker returns the readiness checker over the store, the cache and the broker connection
func (c *Container) GetHealthChecker(ctx context.Context) (*health.HealthChecker, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.healthChecker != nil {
		return c.healthChecker, nil
	}

	repo, err := c.readingRepository(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get store for health checker: %w", err)
	}
	ing, err := c.ingestorLocked(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get ingestor for health checker: %w", err)
	}

	checker := health.NewHealthChecker()
	checker.Register("store", repo.Ping)
	checker.Register("mqtt", health.ConnectedCheck(ing.IsConnected))
	if c.latestCache != nil {
		checker.Register("cache", c.latestCache.Ping)
	}

	c.healthChecker = checker
	return checker, nil
}

// AddCleanupFunc adds a cleanup function
func (c *Container) AddCleanupFunc(fn func() error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cleanupFuncs = append(c.cleanupFuncs, fn)
}

// Shutdown gracefully shuts down the container and all its dependencies
func (c *Container) Shutdown(ctx context.Context) error {
	c.logger.Info("Shutting down container...")

	c.mu.Lock()
	funcs := c.cleanupFuncs
	c.cleanupFuncs = nil
	c.mu.Unlock()

	// Execute cleanup functions in reverse order
	for i := len(funcs) - 1; i >= 0; i-- {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := funcs[i](); err != nil {
			c.logger.ErrorWithError(err, "Error during cleanup")
		}
	}

	c.logger.Info("Container shutdown complete")
	return nil
}
