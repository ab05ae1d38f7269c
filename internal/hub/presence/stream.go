package presence

import (
	"errors"
	"strings"
	"sync"

	"github.com/autopeer-io/adfleet/internal/hub/core/model"
)

// PaddingSize is the size of the comment frame written first on every
// device stream so buffering intermediaries flush the response.
const PaddingSize = 2048

var (
	// ErrStreamClosed is returned by Send once the stream has gone away.
	ErrStreamClosed = errors.New("stream closed")

	// ErrStreamFull is returned by Send when the outbound queue is full.
	ErrStreamFull = errors.New("stream queue full")
)

// Frame is one unit written to a push or observer stream. A frame with a
// Comment and no Event is a comment or keep-alive frame.
type Frame struct {
	Event   model.EventType
	Data    any
	Comment string
}

// IsComment reports whether f carries no event.
func (f Frame) IsComment() bool {
	return f.Event == ""
}

// CommentFrame returns a comment frame carrying text.
func CommentFrame(text string) Frame {
	return Frame{Comment: text}
}

// PaddingFrame returns the initial padding comment.
func PaddingFrame() Frame {
	return Frame{Comment: strings.Repeat(" ", PaddingSize)}
}

// Stream is the outbound side of a connection. Send must never block.
type Stream interface {
	Send(f Frame) error
}

// QueueStream is a Stream backed by a bounded queue. The transport
// goroutine owning the connection drains Frames and calls Close when the
// peer goes away.
type QueueStream struct {
	frames chan Frame
	done   chan struct{}
	once   sync.Once
}

var _ Stream = (*QueueStream)(nil)

// NewQueueStream returns a stream buffering up to size frames.
func NewQueueStream(size int) *QueueStream {
	if size <= 0 {
		size = 1
	}
	return &QueueStream{
		frames: make(chan Frame, size),
		done:   make(chan struct{}),
	}
}

func (q *QueueStream) Send(f Frame) error {
	select {
	case <-q.done:
		return ErrStreamClosed
	default:
	}
	select {
	case q.frames <- f:
		return nil
	default:
		return ErrStreamFull
	}
}

// Frames is drained by the transport writer.
func (q *QueueStream) Frames() <-chan Frame {
	return q.frames
}

// Done is closed once Close has been called.
func (q *QueueStream) Done() <-chan struct{} {
	return q.done
}

// Close marks the stream closed. Safe to call more than once.
func (q *QueueStream) Close() {
	q.once.Do(func() { close(q.done) })
}
