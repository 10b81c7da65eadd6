// README: MQTT position-fix consumer; decodes driver app telemetry into the tracker.
package mqtt

import (
	"context"
	"encoding/json"
	"strings"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/sirupsen/logrus"

	"ridepulse/internal/modules/tracking"
	"ridepulse/internal/types"
)

// PositionTopic is the subscription filter; the wildcard segment is the trip id.
const PositionTopic = "ridepulse/trips/+/position"

// Consumer feeds fixes published by driver apps into the tracker. Malformed
// or rejected fixes are logged at debug and dropped; the broker sees them as
// handled either way.
type Consumer struct {
	client  mqtt.Client
	tracker *tracking.Tracker
	log     *logrus.Logger
}

func NewConsumer(client mqtt.Client, tracker *tracking.Tracker, log *logrus.Logger) *Consumer {
	if log == nil {
		log = logrus.New()
	}
	return &Consumer{client: client, tracker: tracker, log: log}
}

// Start subscribes with QoS 1 and handles messages until ctx is cancelled.
func (c *Consumer) Start(ctx context.Context) error {
	token := c.client.Subscribe(PositionTopic, 1, c.handle)
	if token.Wait() && token.Error() != nil {
		return token.Error()
	}
	c.log.WithFields(logrus.Fields{"topic": PositionTopic}).Info("mqtt consumer subscribed")

	<-ctx.Done()
	if t := c.client.Unsubscribe(PositionTopic); t.Wait() && t.Error() != nil {
		c.log.WithError(t.Error()).Warn("mqtt unsubscribe failed")
	}
	return nil
}

func (c *Consumer) handle(_ mqtt.Client, msg mqtt.Message) {
	var fix tracking.PositionFix
	if err := json.Unmarshal(msg.Payload(), &fix); err != nil {
		c.log.WithFields(logrus.Fields{"topic": msg.Topic()}).WithError(err).Debug("malformed position payload")
		return
	}
	if fix.TripID == "" {
		fix.TripID = tripIDFromTopic(msg.Topic())
	}

	if _, err := c.tracker.HandleFix(context.Background(), fix); err != nil {
		c.log.WithFields(logrus.Fields{"trip_id": fix.TripID}).WithError(err).Debug("fix dropped")
	}
}

// tripIDFromTopic extracts the wildcard segment of ridepulse/trips/<id>/position.
func tripIDFromTopic(topic string) types.ID {
	parts := strings.Split(topic, "/")
	if len(parts) != 4 {
		return ""
	}
	return types.ID(parts[2])
}
