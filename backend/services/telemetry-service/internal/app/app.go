package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"voltlink/backend/libs/db"
	libredis "voltlink/backend/libs/redis"
	"voltlink/backend/services/telemetry-service/internal/auth"
	"voltlink/backend/services/telemetry-service/internal/config"
	"voltlink/backend/services/telemetry-service/internal/events"
	httpserver "voltlink/backend/services/telemetry-service/internal/http"
	"voltlink/backend/services/telemetry-service/internal/http/handlers"
	"voltlink/backend/services/telemetry-service/internal/http/middleware"
	"voltlink/backend/services/telemetry-service/internal/memstore"
	"voltlink/backend/services/telemetry-service/internal/metrics"
	mqttingest "voltlink/backend/services/telemetry-service/internal/mqtt"
	redisstore "voltlink/backend/services/telemetry-service/internal/redis"
	"voltlink/backend/services/telemetry-service/internal/repository"
	"voltlink/backend/services/telemetry-service/internal/service"
	"voltlink/backend/services/telemetry-service/internal/ws"
)

const (
	pingInterval   = 30 * time.Second
	eventQueueSize = 4096
)

// App wires telemetry service dependencies.
type App struct {
	cfg    *config.Config
	logger *zap.Logger

	db    *sql.DB
	redis *goredis.Client

	Ingest      *service.IngestService
	Analytics   *service.AnalyticsService
	Correlation *service.CorrelationService
	Tokens      *auth.TokenService

	metrics    *metrics.Metrics
	hub        *ws.Hub
	publisher  *events.Publisher
	subscriber *mqttingest.Subscriber
	server     *httpserver.Server
}

// New constructs application components.
func New(cfg *config.Config, logger *zap.Logger) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	a := &App{cfg: cfg, logger: logger, metrics: metrics.New()}

	history, current, correlation, err := a.openStores()
	if err != nil {
		a.Close()
		return nil, err
	}

	a.hub = ws.NewHub(pingInterval, logger)
	notifiers := events.Fanout{a.hub}
	if cfg.Kafka.Enabled {
		writer := events.NewKafkaWriter(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		a.publisher = events.NewPublisher(writer, eventQueueSize, a.metrics.ObservePublish, logger)
		notifiers = append(notifiers, a.publisher)
	}

	a.Correlation = service.NewCorrelationService(correlation, logger)
	a.Ingest = service.NewIngestService(history, current, service.IngestOptions{
		HistoryAttempts:       cfg.Ingest.HistoryAttempts,
		HistoryBackoffInitial: cfg.Ingest.HistoryBackoffInitial,
		HistoryBackoffMax:     cfg.Ingest.HistoryBackoffMax,
		CurrentStateAttempts:  cfg.Ingest.CurrentStateAttempts,
		BatchWorkers:          cfg.Ingest.BatchWorkers,
	}, logger).WithNotifier(notifiers).WithRecorder(a.metrics)
	a.Analytics = service.NewAnalyticsService(history, current, a.Correlation, logger).WithRecorder(a.metrics)

	if cfg.MQTT.Enabled {
		a.subscriber = mqttingest.NewSubscriber(mqttingest.Options{
			Broker:   cfg.MQTT.Broker,
			Topic:    cfg.MQTT.Topic,
			ClientID: cfg.MQTT.ClientID,
			Username: cfg.MQTT.Username,
			Password: cfg.MQTT.Password,
			QoS:      cfg.MQTT.QoS,
		}, a.Ingest, logger)
	}

	if cfg.Admin.JWTSecret != "" {
		a.Tokens = auth.NewTokenService(cfg.Admin.JWTSecret, cfg.Admin.TokenTTL)
	}

	a.server = httpserver.NewServer(cfg.HTTPAddress(), a.Handler(), logger)
	return a, nil
}

func (a *App) openStores() (service.HistoryStore, service.CurrentStateStore, service.CorrelationStore, error) {
	if a.cfg.NeedsPostgres() {
		sqlDB, err := db.NewPostgresDB(a.cfg.Database.DSN)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("open postgres: %w", err)
		}
		a.db = sqlDB
	}

	var (
		history     service.HistoryStore
		correlation service.CorrelationStore
		current     service.CurrentStateStore
	)
	switch a.cfg.Storage.Driver {
	case config.DriverPostgres:
		history = repository.NewHistoryRepository(a.db)
		correlation = repository.NewCorrelationRepository(a.db)
	default:
		history = memstore.NewHistoryStore()
		correlation = memstore.NewCorrelationStore()
	}

	switch a.cfg.CurrentStateDriver() {
	case config.DriverPostgres:
		current = repository.NewCurrentStateRepository(a.db)
	case config.DriverRedis:
		client, err := libredis.NewRedisClient(a.cfg.Redis.Addr, a.cfg.Redis.Password, a.cfg.Redis.DB)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("open redis: %w", err)
		}
		a.redis = client
		current = redisstore.NewCurrentStateStore(client, a.cfg.Redis.KeyPrefix)
	default:
		current = memstore.NewCurrentStateStore()
	}

	a.logger.Info("stores ready",
		zap.String("history", a.cfg.Storage.Driver),
		zap.String("current_state", a.cfg.CurrentStateDriver()),
	)
	return history, current, correlation, nil
}

// Handler builds the HTTP API.
func (a *App) Handler() http.Handler {
	readings := handlers.NewReadingsHandler(a.Ingest, a.cfg.Ingest.MaxBatchSize, a.logger)
	devices := handlers.NewDevicesHandler(a.Analytics)
	analytics := handlers.NewAnalyticsHandler(a.Analytics, a.logger)

	pingers := map[string]handlers.Pinger{}
	if a.db != nil {
		pingers["postgres"] = a.db
	}
	if a.redis != nil {
		client := a.redis
		pingers["redis"] = handlers.PingFunc(func(ctx context.Context) error {
			return client.Ping(ctx).Err()
		})
	}

	routes := httpserver.Routes{
		IngestReading:     readings.Ingest,
		IngestBatch:       readings.IngestBatch,
		DeviceCurrent:     devices.Current,
		DeviceStats:       devices.Stats,
		VehicleEfficiency: analytics.Efficiency,
		LowEfficiency:     analytics.LowEfficiency,
		Health:            handlers.NewHealthHandler(pingers),
		Metrics:           a.metrics.Handler(),
		LiveCurrent:       ws.NewServer(a.hub, a.cfg.WebSocket.WriteTimeout, a.cfg.WebSocket.SendBuffer, a.logger),
		Middleware:        []func(http.Handler) http.Handler{a.metrics.Middleware, middleware.AccessLog(a.logger)},
	}

	// The admin surface is only exposed when tokens can be verified.
	if a.Tokens != nil {
		mappings := handlers.NewMappingsHandler(a.Correlation, a.logger)
		routes.AddMapping = mappings.Add
		routes.DeactivateMapping = mappings.Deactivate
		routes.ListMappings = mappings.List
		routes.Admin = middleware.RequireRole(a.Tokens, auth.RoleAdmin)
	} else {
		a.logger.Warn("admin jwt secret not set, mapping endpoints disabled")
	}

	return httpserver.NewRouter(routes)
}

// Run starts serving HTTP requests plus the background workers.
func (a *App) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.hub.Start(ctx)
		return nil
	})
	if a.publisher != nil {
		g.Go(func() error { return a.publisher.Run(ctx) })
	}
	if a.subscriber != nil {
		g.Go(func() error { return a.subscriber.Run(ctx) })
	}
	g.Go(func() error { return a.server.Run(ctx) })

	return g.Wait()
}

// RunSubscriber runs only the MQTT ingestion path.
func (a *App) RunSubscriber(ctx context.Context) error {
	if a.subscriber == nil {
		return errors.New("mqtt ingestion is disabled")
	}
	g, ctx := errgroup.WithContext(ctx)
	if a.publisher != nil {
		g.Go(func() error { return a.publisher.Run(ctx) })
	}
	g.Go(func() error { return a.subscriber.Run(ctx) })
	return g.Wait()
}

// Close releases resources.
func (a *App) Close() {
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.logger.Warn("failed to close db", zap.Error(err))
		}
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.logger.Warn("failed to close redis", zap.Error(err))
		}
	}
}
