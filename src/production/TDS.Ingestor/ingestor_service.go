package tdsingestor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	logger "gitlab.com/maplesense1/tds.mqtt_bridge/src/production/TDS.Logger"
	tdsmodels "gitlab.com/maplesense1/tds.mqtt_bridge/src/production/TDS.Models"
	interfaces "gitlab.com/maplesense1/tds.mqtt_bridge/src/production/TDS.Repository/Interfaces"
)

// ErrStreamClosed is returned by Run when the transport ends the event stream on its own
var ErrStreamClosed = errors.New("mqtt event stream closed")

type Ingestor struct {
	cfg         tdsmodels.IngestorConfig
	transport   Transport
	readingRepo interfaces.ReadingRepository
	ids         IDGenerator
	metrics     *Metrics
	logger      *logger.Logger
	now         func() time.Time
}

func New(cfg tdsmodels.IngestorConfig, transport Transport, readingRepo interfaces.ReadingRepository, ids IDGenerator, metrics *Metrics, log *logger.Logger) *Ingestor {
	return &Ingestor{
		cfg:         cfg,
		transport:   transport,
		readingRepo: readingRepo,
		ids:         ids,
		metrics:     metrics,
		logger:      log.WithComponent("ingestor"),
		now:         time.Now,
	}
}

// Run subscribes and processes events one at a time, in delivery order, until ctx is cancelled
// or the stream ends. A subscription failure is returned immediately; per-message failures never stop the loop.
func (i *Ingestor) Run(ctx context.Context) error {
	events, err := i.transport.Subscribe(ctx)
	if err != nil {
		i.logger.Logger.Error().Err(err).Str("topic", i.cfg.Topic).Msg("Failed to subscribe to MQTT topic")
		return fmt.Errorf("subscribe: %w", err)
	}

	i.logger.Logger.Info().Str("topic", i.cfg.Topic).Msg("Ingestion loop started")

	for {
		select {
		case <-ctx.Done():
			i.logger.Info("Ingestion loop stopped")
			return nil
		case ev, ok := <-events:
			if !ok {
				if ctx.Err() != nil {
					i.logger.Info("Ingestion loop stopped")
					return nil
				}
				i.logger.Logger.Error().Msg("MQTT event stream closed")
				return ErrStreamClosed
			}
			i.handleEvent(ctx, ev)
		}
	}
}

// IsConnected reports whether the broker connection is currently up
func (i *Ingestor) IsConnected() bool {
	return i.transport.IsConnected()
}

func (i *Ingestor) handleEvent(ctx context.Context, ev Event) {
	switch ev.Kind {
	case EventPublish:
		i.handleMessage(ctx, ev.Topic, ev.Payload)
	case EventConnected, EventSubscribed:
		i.metrics.BrokerUp.Set(1)
		i.logger.Logger.Debug().Str("event", ev.Kind.String()).Msg("Broker event")
	case EventConnectionLost:
		i.metrics.BrokerUp.Set(0)
		i.logger.Logger.Warn().Err(ev.Err).Msg("Broker connection lost, waiting for reconnect")
	default:
		i.logger.Logger.Debug().Str("event", ev.Kind.String()).Msg("Ignoring broker event")
	}
}

func (i *Ingestor) handleMessage(ctx context.Context, topic string, payload []byte) {
	i.metrics.Received.Inc()
	i.logger.Logger.Debug().Str("topic", topic).Bytes("payload", payload).Msg("Received MQTT message")

	value, err := Decode(payload)
	if err != nil {
		reason := dropReason(err)
		i.metrics.Dropped.WithLabelValues(reason).Inc()
		i.logger.Logger.Warn().Err(err).Str("topic", topic).Str("reason", reason).Msg("Dropping undecodable message")
		i.publishError(topic, reason, err)
		return
	}

	reading := tdsmodels.Reading{
		ID:         i.ids.NextID(),
		ValuePPM:   value,
		ObservedAt: i.now().Unix(),
	}

	insertCtx := ctx
	if i.cfg.InsertTimeout > 0 {
		var cancel context.CancelFunc
		insertCtx, cancel = context.WithTimeout(ctx, i.cfg.InsertTimeout)
		defer cancel()
	}

	start := time.Now()
	err = i.readingRepo.InsertReading(insertCtx, reading)
	i.metrics.InsertDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		i.metrics.Dropped.WithLabelValues("insert_failed").Inc()
		i.logger.Logger.Error().Err(err).Int64("id", reading.ID).Float64("tds_ppm", value).Msg("Failed to insert reading")
		i.publishError(topic, "insert_failed", err)
		return
	}

	i.metrics.Persisted.Inc()
	i.metrics.LastValue.Set(value)
	i.logger.Logger.Info().Int64("id", reading.ID).Float64("tds_ppm", value).Msg("Inserted reading")
}

// publishError sends feedback about a dropped message to the error topic, when one is configured
func (i *Ingestor) publishError(topic, errorType string, cause error) {
	if i.cfg.ErrorTopic == "" {
		return
	}

	payload, err := json.Marshal(map[string]interface{}{
		"error_type": errorType,
		"message":    cause.Error(),
		"topic":      topic,
		"timestamp":  i.now().UTC(),
	})
	if err != nil {
		i.logger.Logger.Error().Err(err).Msg("Failed to marshal error payload")
		return
	}

	if err := i.transport.Publish(i.cfg.ErrorTopic, payload); err != nil {
		i.logger.Logger.Error().Err(err).Str("topic", i.cfg.ErrorTopic).Msg("Failed to publish error")
	}
}
