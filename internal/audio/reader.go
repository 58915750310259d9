package audio

import (
	"errors"
	"sync/atomic"
	"time"
)

// Read sentinels. ErrTimeout means no frame arrived in time; ErrClosed
// means the reader was closed or the stream ended.
var (
	ErrTimeout = errors.New("audio: read timed out")
	ErrClosed  = errors.New("audio: reader closed")
)

// Reader is one subscriber's view of the frame stream. Frames arrive in
// strictly increasing sequence order; gaps indicate drops. Readers are not
// safe for concurrent Read calls.
type Reader struct {
	name   string
	ch     chan Frame
	done   chan struct{}
	closed atomic.Bool
}

func newReader(name string, maxFrames int) *Reader {
	return &Reader{
		name: name,
		ch:   make(chan Frame, maxFrames),
		done: make(chan struct{}),
	}
}

// Name returns the subscriber name given at Subscribe.
func (r *Reader) Name() string { return r.name }

// Read returns the next frame. timeout > 0 waits at most that long and
// returns ErrTimeout; timeout == 0 is non-blocking; timeout < 0 blocks
// until a frame arrives or the stream ends. ErrClosed reports that the
// reader was closed or the hub stopped and the queue is drained.
func (r *Reader) Read(timeout time.Duration) (Frame, error) {
	if r.closed.Load() {
		return Frame{}, ErrClosed
	}

	if timeout == 0 {
		select {
		case f, ok := <-r.ch:
			if !ok {
				return Frame{}, ErrClosed
			}
			return f, nil
		case <-r.done:
			return Frame{}, ErrClosed
		default:
			return Frame{}, ErrTimeout
		}
	}

	if timeout < 0 {
		select {
		case f, ok := <-r.ch:
			if !ok {
				return Frame{}, ErrClosed
			}
			return f, nil
		case <-r.done:
			return Frame{}, ErrClosed
		}
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case f, ok := <-r.ch:
		if !ok {
			return Frame{}, ErrClosed
		}
		return f, nil
	case <-r.done:
		return Frame{}, ErrClosed
	case <-timer.C:
		return Frame{}, ErrTimeout
	}
}

// Close releases the reader. Idempotent. The hub removes the subscription
// lazily on its next fan-out.
func (r *Reader) Close() {
	if r.closed.CompareAndSwap(false, true) {
		close(r.done)
	}
}

func (r *Reader) isClosed() bool { return r.closed.Load() }
