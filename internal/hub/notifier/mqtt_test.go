package notifier

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/autopeer-io/adfleet/internal/hub/core/model"
)

type published struct {
	topic   string
	qos     int
	payload []byte
}

type fakePublisher struct {
	mu           sync.Mutex
	connected    bool
	disconnected bool
	out          chan published
}

func (p *fakePublisher) Start(context.Context) error { return nil }

func (p *fakePublisher) Disconnect(context.Context) {
	p.mu.Lock()
	p.disconnected = true
	p.mu.Unlock()
}

func (p *fakePublisher) Publish(_ context.Context, topic string, qos int, _ bool, payload []byte) error {
	p.out <- published{topic: topic, qos: qos, payload: payload}
	return nil
}

func (p *fakePublisher) AwaitConnection(context.Context) error { return nil }

func (p *fakePublisher) IsConnected() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.connected
}

func TestNotifierPublishesStatusAndPlay(t *testing.T) {
	pub := &fakePublisher{connected: true, out: make(chan published, 4)}
	n := NewMQTTNotifier(pub, "adfleet/v1", 8)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = n.Start(ctx)
		close(done)
	}()

	n.NotifyStatus(ctx, &model.StatusChange{DeviceID: "d1", Status: model.DeviceStatusPlaying})
	n.NotifyPlay(ctx, &model.PlayCommand{VehicleID: "v1", VideoIndex: 2})

	wantTopics := []string{"adfleet/v1/fleet/status/d1", "adfleet/v1/vehicle/play/v1"}
	for i, want := range wantTopics {
		select {
		case got := <-pub.out:
			if got.topic != want || got.qos != 1 {
				t.Errorf("message %d = %s qos %d, want %s qos 1", i, got.topic, got.qos, want)
			}
			if i == 1 {
				var cmd model.PlayCommand
				if err := json.Unmarshal(got.payload, &cmd); err != nil || cmd.VideoIndex != 2 {
					t.Errorf("payload = %s", got.payload)
				}
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for %s", want)
		}
	}

	cancel()
	<-done
	if !pub.disconnected {
		t.Error("publisher not disconnected on shutdown")
	}
}

func TestNotifierNeverBlocks(t *testing.T) {
	pub := &fakePublisher{out: make(chan published)}
	n := NewMQTTNotifier(pub, "root", 1)

	finished := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			n.NotifyStatus(context.Background(), &model.StatusChange{DeviceID: "d"})
		}
		close(finished)
	}()
	select {
	case <-finished:
	case <-time.After(time.Second):
		t.Fatal("NotifyStatus blocked on a full queue")
	}
}
