package playback

import (
	"context"
	"time"

	"github.com/looplab/fsm"
	"k8s.io/utils/clock"

	"github.com/autopeer-io/adfleet/internal/hub/manifest"
	fsmutil "github.com/autopeer-io/adfleet/internal/pkg/util/fsm"
)

const (
	// StateScheduled is a session with a pending item timer.
	StateScheduled = "scheduled"
	// StateStopped is a torn down session.
	StateStopped = "stopped"

	// EventAdvance moves to the next playlist item.
	EventAdvance = "advance"
	// EventStop cancels the item timer.
	EventStop = "stop"
)

// session is the playback state of one vehicle. All fields are guarded by mu.
type session struct {
	vehicleID string
	playlist  *manifest.Playlist
	devices   []string

	index   int
	seq     uint64
	startAt time.Time
	timer   clock.Timer

	machine *fsm.FSM
}

func newSession(vehicleID string, playlist *manifest.Playlist, devices []string, onAdvance func(ctx context.Context, s *session)) *session {
	s := &session{vehicleID: vehicleID, playlist: playlist, devices: devices}

	events := fsm.Events{
		// Advancing is a self-transition; looplab reports it as
		// NoTransitionError after running the after_ callback.
		{Name: EventAdvance, Src: []string{StateScheduled}, Dst: StateScheduled},
		{Name: EventStop, Src: []string{StateScheduled}, Dst: StateStopped},
	}

	callbacks := fsm.Callbacks{
		"after_" + EventAdvance: func(ctx context.Context, _ *fsm.Event) {
			s.index = (s.index + 1) % s.playlist.Len()
			onAdvance(ctx, s)
		},
		"enter_" + StateStopped: fsmutil.WrapEvent(func(context.Context, *fsm.Event) error {
			s.cancelTimer()
			return nil
		}),
	}

	s.machine = fsm.NewFSM(StateScheduled, events, callbacks)
	return s
}

func (s *session) cancelTimer() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

func (s *session) current() manifest.Item {
	s.index %= s.playlist.Len()
	return s.playlist.Items[s.index]
}
