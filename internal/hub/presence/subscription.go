package presence

import (
	"sync"

	"github.com/autopeer-io/adfleet/internal/hub/core/model"
)

// Subscription is the handle returned for a registered connection or an
// attached observer. Close runs its teardown exactly once.
type Subscription struct {
	id     string
	status model.DeviceStatus

	once     sync.Once
	teardown func()
}

func newSubscription(id string, status model.DeviceStatus, teardown func()) *Subscription {
	return &Subscription{id: id, status: status, teardown: teardown}
}

// ID is the connection or observer id.
func (s *Subscription) ID() string { return s.id }

// Status is the initial status a device connection was seeded with.
// Empty for observers.
func (s *Subscription) Status() model.DeviceStatus { return s.status }

// Close releases the subscription.
func (s *Subscription) Close() {
	s.once.Do(s.teardown)
}
