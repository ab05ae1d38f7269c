// Package notifier mirrors fleet events to an MQTT broker.
// In AdFleet, this is the MQTT Outbound Adapter behind core.FleetNotifier.
package notifier

import (
	"context"
	"encoding/json"
	"time"

	"github.com/autopeer-io/adfleet/internal/hub/core"
	"github.com/autopeer-io/adfleet/internal/hub/core/model"
	"github.com/autopeer-io/adfleet/pkg/log"
	"github.com/autopeer-io/adfleet/pkg/mqtt"
	"github.com/autopeer-io/adfleet/pkg/mqtt/topic"
)

const (
	qosAtLeastOnce = 1
	publishTimeout = 5 * time.Second
)

var _ core.FleetNotifier = (*MQTTNotifier)(nil)

type message struct {
	topic   string
	payload []byte
}

// MQTTNotifier queues fleet events and publishes them from a single worker,
// so callers on the push path never wait for the broker.
type MQTTNotifier struct {
	client mqtt.Publisher
	topics *topic.TopicBuilder
	queue  chan message
	log    log.Logger
}

// NewMQTTNotifier creates a notifier publishing under root.
func NewMQTTNotifier(client mqtt.Publisher, root string, queueSize int) *MQTTNotifier {
	if queueSize <= 0 {
		queueSize = 1
	}
	return &MQTTNotifier{
		client: client,
		topics: topic.NewTopicBuilder(root),
		queue:  make(chan message, queueSize),
		log:    log.WithName("notifier"),
	}
}

// Start connects to the broker and publishes queued events until ctx is cancelled.
func (n *MQTTNotifier) Start(ctx context.Context) error {
	if err := n.client.Start(ctx); err != nil {
		return err
	}
	n.log.Info("Fleet notifier started", "root", n.topics.All())

	for {
		select {
		case <-ctx.Done():
			shutdownCtx, cancel := context.WithTimeout(context.Background(), publishTimeout)
			n.client.Disconnect(shutdownCtx)
			cancel()
			n.log.Info("Fleet notifier stopped")
			return nil
		case msg := <-n.queue:
			n.publish(ctx, msg)
		}
	}
}

func (n *MQTTNotifier) publish(ctx context.Context, msg message) {
	if !n.client.IsConnected() {
		n.log.Debug("Broker unavailable, dropping fleet event", "topic", msg.topic)
		return
	}
	pubCtx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()
	if err := n.client.Publish(pubCtx, msg.topic, qosAtLeastOnce, false, msg.payload); err != nil {
		n.log.Error(err, "Failed to publish fleet event", "topic", msg.topic)
	}
}

func (n *MQTTNotifier) NotifyStatus(_ context.Context, change *model.StatusChange) {
	n.enqueue(n.topics.FleetStatus(change.DeviceID), change)
}

func (n *MQTTNotifier) NotifyPlay(_ context.Context, cmd *model.PlayCommand) {
	n.enqueue(n.topics.VehiclePlay(cmd.VehicleID), cmd)
}

func (n *MQTTNotifier) enqueue(topic string, v any) {
	payload, err := json.Marshal(v)
	if err != nil {
		n.log.Error(err, "Failed to encode fleet event", "topic", topic)
		return
	}
	select {
	case n.queue <- message{topic: topic, payload: payload}:
	default:
		n.log.Warn("Fleet notifier queue full, dropping event", "topic", topic)
	}
}
