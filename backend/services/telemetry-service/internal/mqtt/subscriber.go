package mqttingest

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"voltlink/backend/services/telemetry-service/internal/models"
	"voltlink/backend/services/telemetry-service/internal/service"
)

const handleTimeout = 10 * time.Second

// Ingester accepts one reading.
type Ingester interface {
	Ingest(ctx context.Context, reading models.Reading) (service.IngestResult, error)
}

// Options configures the subscriber.
type Options struct {
	Broker   string
	Topic    string
	ClientID string
	Username string
	Password string
	QoS      byte
}

// Subscriber feeds device telemetry published on MQTT into the ingestion coordinator.
type Subscriber struct {
	opts     Options
	ingester Ingester
	logger   *zap.Logger
	newFn    func(*mqtt.ClientOptions) mqtt.Client
}

// NewSubscriber builds subscriber.
func NewSubscriber(opts Options, ingester Ingester, logger *zap.Logger) *Subscriber {
	if opts.Topic == "" {
		opts.Topic = "telemetry/+/+"
	}
	return &Subscriber{
		opts:     opts,
		ingester: ingester,
		logger:   logger.With(zap.String("component", "mqtt")),
		newFn:    mqtt.NewClient,
	}
}

// Run connects, subscribes and blocks until ctx is done.
func (s *Subscriber) Run(ctx context.Context) error {
	clientOpts := mqtt.NewClientOptions().
		AddBroker(s.opts.Broker).
		SetClientID(s.opts.ClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectTimeout(10 * time.Second).
		SetCleanSession(false)
	if s.opts.Username != "" {
		clientOpts.SetUsername(s.opts.Username)
	}
	if s.opts.Password != "" {
		clientOpts.SetPassword(s.opts.Password)
	}
	clientOpts.SetOnConnectHandler(func(c mqtt.Client) {
		// Subscriptions do not survive a reconnect with a fresh broker session.
		token := c.Subscribe(s.opts.Topic, s.opts.QoS, s.messageHandler(ctx))
		if token.Wait() && token.Error() != nil {
			s.logger.Error("subscribe failed", zap.String("topic", s.opts.Topic), zap.Error(token.Error()))
			return
		}
		s.logger.Info("subscribed", zap.String("topic", s.opts.Topic), zap.Uint8("qos", s.opts.QoS))
	})
	clientOpts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		s.logger.Warn("mqtt connection lost", zap.Error(err))
	})

	client := s.newFn(clientOpts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return fmt.Errorf("connecting to MQTT broker: %w", token.Error())
	}

	<-ctx.Done()
	client.Unsubscribe(s.opts.Topic).WaitTimeout(time.Second)
	client.Disconnect(250)
	return nil
}

func (s *Subscriber) messageHandler(ctx context.Context) mqtt.MessageHandler {
	return func(_ mqtt.Client, msg mqtt.Message) {
		hctx, cancel := context.WithTimeout(ctx, handleTimeout)
		defer cancel()
		if err := s.HandleMessage(hctx, msg.Topic(), msg.Payload()); err != nil {
			s.logger.Warn("mqtt reading not ingested", zap.String("topic", msg.Topic()), zap.Error(err))
		}
	}
}

// HandleMessage decodes one message and ingests it.
func (s *Subscriber) HandleMessage(ctx context.Context, topic string, payload []byte) error {
	class, deviceID, err := ParseTopic(topic)
	if err != nil {
		return err
	}

	var reading models.Reading
	if err := json.Unmarshal(payload, &reading); err != nil {
		return fmt.Errorf("%w: decode payload: %v", service.ErrValidationRejected, err)
	}
	if reading.DeviceID == "" {
		reading.DeviceID = deviceID
	}
	if reading.Class == "" {
		reading.Class = class
	}
	if reading.DeviceID != deviceID || reading.Class != class {
		return fmt.Errorf("%w: payload device %s does not match topic %s", service.ErrValidationRejected, reading.Key(), topic)
	}

	res, err := s.ingester.Ingest(ctx, reading)
	if err != nil {
		return err
	}
	if res.Outcome == models.OutcomeDegraded {
		s.logger.Warn("mqtt reading degraded", zap.String("device", reading.Key().String()), zap.String("warning", res.Warning))
	}
	return nil
}

// ParseTopic extracts class and device id from a ".../{class}/{deviceId}" topic.
func ParseTopic(topic string) (models.DeviceClass, string, error) {
	parts := strings.Split(topic, "/")
	if len(parts) < 2 {
		return "", "", fmt.Errorf("%w: topic %q has no class/device segments", service.ErrValidationRejected, topic)
	}
	class, err := models.ParseDeviceClass(parts[len(parts)-2])
	if err != nil {
		return "", "", fmt.Errorf("%w: %v", service.ErrValidationRejected, err)
	}
	deviceID := parts[len(parts)-1]
	if strings.TrimSpace(deviceID) == "" {
		return "", "", fmt.Errorf("%w: topic %q has an empty device id", service.ErrValidationRejected, topic)
	}
	return class, deviceID, nil
}
