package mqtt_test

import (
	"context"
	"time"

	"github.com/autopeer-io/adfleet/pkg/log"
	"github.com/autopeer-io/adfleet/pkg/mqtt"
	"github.com/autopeer-io/adfleet/pkg/mqtt/topic"
)

// ExampleNewClient shows how the hub mirrors a fleet status event to a broker.
func ExampleNewClient() {
	cfg := &mqtt.ClientConfig{
		BrokerURL:      "tcp://localhost:1883",
		ClientID:       "adfleet-hub-example",
		KeepAlive:      60,
		ConnectTimeout: 5 * time.Second,
		CleanStart:     true,
	}

	client, err := mqtt.NewClient(cfg)
	if err != nil {
		log.Error(err, "Failed to create MQTT client")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := client.Start(ctx); err != nil {
		log.Error(err, "Failed to start MQTT client")
		return
	}
	defer client.Disconnect(context.Background())

	if err := client.AwaitConnection(ctx); err != nil {
		log.Error(err, "Broker not reachable")
		return
	}

	topics := topic.NewTopicBuilder("adfleet/v1")
	payload := []byte(`{"deviceId":"tablet-7","status":"playing"}`)
	if err := client.Publish(ctx, topics.FleetStatus("tablet-7"), 1, false, payload); err != nil {
		log.Error(err, "Failed to publish")
	}
}
