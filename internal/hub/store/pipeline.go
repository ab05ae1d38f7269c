package store

import (
	"context"
	"time"

	"k8s.io/utils/clock"

	"github.com/autopeer-io/adfleet/internal/hub/core/model"
	"github.com/autopeer-io/adfleet/internal/pkg/metrics"
	"github.com/autopeer-io/adfleet/pkg/log"
)

const (
	defaultQueueSize   = 5000
	defaultMaxBuffered = 1000
)

// StatusWriter applies one device status update to the record store.
type StatusWriter interface {
	WriteStatus(ctx context.Context, update *model.DeviceStatusUpdate) error
}

// StatusPipeline implements a write-merging buffer for device status updates.
// It protects the record store from heartbeat and last-seen touches arriving
// faster than they are worth writing.
type StatusPipeline struct {
	writer StatusWriter
	clock  clock.WithTicker
	log    log.Logger

	// inputCh is the channel where high-velocity updates are pushed.
	inputCh chan *model.DeviceStatusUpdate

	// buffer stores the merged pending update for each device ID.
	buffer map[string]*model.DeviceStatusUpdate

	flushInterval time.Duration
	maxBuffered   int
}

// PipelineOption customizes a StatusPipeline.
type PipelineOption func(*StatusPipeline)

// WithClock replaces the wall clock driving the flush ticker.
func WithClock(c clock.WithTicker) PipelineOption {
	return func(p *StatusPipeline) { p.clock = c }
}

// WithMaxBuffered sets the number of buffered devices that forces an early flush.
func WithMaxBuffered(n int) PipelineOption {
	return func(p *StatusPipeline) { p.maxBuffered = n }
}

// NewPipeline creates a new write-merging pipeline in front of w.
func NewPipeline(w StatusWriter, flushInterval time.Duration, opts ...PipelineOption) *StatusPipeline {
	p := &StatusPipeline{
		writer:        w,
		clock:         clock.RealClock{},
		log:           log.WithName("pipeline"),
		inputCh:       make(chan *model.DeviceStatusUpdate, defaultQueueSize),
		buffer:        make(map[string]*model.DeviceStatusUpdate),
		flushInterval: flushInterval,
		maxBuffered:   defaultMaxBuffered,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Start runs the merge loop until ctx is cancelled, then flushes what is left.
func (p *StatusPipeline) Start(ctx context.Context) error {
	ticker := p.clock.NewTicker(p.flushInterval)
	defer ticker.Stop()

	p.log.Info("Status pipeline started", "interval", p.flushInterval)

	for {
		select {
		case update := <-p.inputCh:
			p.merge(update)
			if len(p.buffer) >= p.maxBuffered {
				p.flush(ctx)
			}

		case <-ticker.C():
			if len(p.buffer) > 0 {
				p.flush(ctx)
			}

		case <-ctx.Done():
			p.drain()
			p.flush(context.Background())
			p.log.Info("Status pipeline stopped")
			return nil
		}
	}
}

// Push adds an update to the pipeline. It never blocks; when the queue is
// full the update is dropped and false is returned.
func (p *StatusPipeline) Push(update *model.DeviceStatusUpdate) bool {
	select {
	case p.inputCh <- update:
		return true
	default:
		metrics.PipelineFlushes.WithLabelValues("dropped").Inc()
		p.log.Warn("Status pipeline full, dropping update", "deviceID", update.DeviceID)
		return false
	}
}

func (p *StatusPipeline) merge(update *model.DeviceStatusUpdate) {
	if pending, ok := p.buffer[update.DeviceID]; ok {
		pending.Merge(update)
		return
	}
	cp := *update
	p.buffer[update.DeviceID] = &cp
}

func (p *StatusPipeline) drain() {
	for {
		select {
		case update := <-p.inputCh:
			p.merge(update)
		default:
			return
		}
	}
}

func (p *StatusPipeline) flush(ctx context.Context) {
	written := 0
	for id, update := range p.buffer {
		if err := p.writer.WriteStatus(ctx, update); err != nil {
			metrics.PipelineFlushes.WithLabelValues("failed").Inc()
			p.log.Error(err, "Failed to write device status", "deviceID", id)
			continue
		}
		written++
	}
	metrics.PipelineFlushes.WithLabelValues("written").Add(float64(written))

	p.buffer = make(map[string]*model.DeviceStatusUpdate)

	p.log.Debug("Pipeline flushed", "written", written)
}
