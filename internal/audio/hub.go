package audio

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/wakescribe/platform/internal/metrics"
)

// DefaultMaxFrames is the subscriber queue capacity when none is given.
const DefaultMaxFrames = 1024

// Hub owns the capture device and fans its frames out to subscribers.
// A single producer goroutine assigns sequence numbers; each subscriber
// gets an independent bounded queue with drop-oldest overflow, so a slow
// subscriber never stalls the producer or its peers.
type Hub struct {
	format Format
	opener DeviceOpener

	mu      sync.Mutex
	running bool
	device  Device
	devName string
	subs    []*Reader
	stopCh  chan struct{}
	epoch   time.Time

	wg  sync.WaitGroup
	seq uint64
}

// NewHub creates a hub for the given format. The format must be valid.
func NewHub(format Format) *Hub {
	return &Hub{format: format, opener: OpenPortAudio}
}

// NewHubWithOpener creates a hub that captures through a custom device
// opener instead of the system microphone.
func NewHubWithOpener(format Format, opener DeviceOpener) *Hub {
	return &Hub{format: format, opener: opener}
}

// Format returns the stream's fixed format.
func (h *Hub) Format() Format { return h.format }

// IsRunning reports whether the producer is live.
func (h *Hub) IsRunning() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.running
}

// DeviceName returns the name of the open capture device, empty when stopped.
func (h *Hub) DeviceName() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.devName
}

// Start opens the device and begins producing frames. Idempotent.
func (h *Hub) Start() error {
	h.mu.Lock()
	if h.running {
		h.mu.Unlock()
		return nil
	}
	h.mu.Unlock()

	h.wg.Wait() // join a producer left over from a previous run

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.running {
		return nil
	}

	dev, name, err := h.opener(h.format)
	if err != nil {
		return err
	}

	h.device = dev
	h.devName = name
	h.stopCh = make(chan struct{})
	h.epoch = time.Now()
	h.running = true

	h.wg.Add(1)
	go h.produce(dev, h.stopCh)

	logrus.WithField("device", name).Info("audio hub started")
	return nil
}

// Stop closes the device and ends the stream. Idempotent. Subscriber
// handles stay open; readers drain their queues and then observe ErrClosed.
func (h *Hub) Stop() {
	h.mu.Lock()
	var dev Device
	if h.running {
		h.running = false
		close(h.stopCh)
		dev = h.device
		h.device = nil
		h.devName = ""
	}
	h.mu.Unlock()

	if dev != nil {
		_ = dev.Close() // unblocks the producer's pending read
	}
	h.wg.Wait()
}

// Subscribe registers a new consumer. maxFrames <= 0 selects
// DefaultMaxFrames. The reader only sees frames produced after this call;
// subscribing to a stopped hub yields an immediately ended stream.
func (h *Hub) Subscribe(name string, maxFrames int) *Reader {
	if maxFrames <= 0 {
		maxFrames = DefaultMaxFrames
	}
	r := newReader(name, maxFrames)

	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.running {
		close(r.ch)
		return r
	}
	h.subs = append(h.subs, r)
	return r
}

func (h *Hub) produce(dev Device, stopCh chan struct{}) {
	defer h.wg.Done()
	defer h.closeSubscribers()
	log := logrus.WithField("component", "audio_hub")

	for {
		samples, err := dev.ReadBlock()
		if err != nil {
			select {
			case <-stopCh:
				// ordinary shutdown
			default:
				log.WithError(err).Error("device read failed, stopping capture")
				h.fatalStop(dev)
			}
			return
		}

		select {
		case <-stopCh:
			return
		default:
		}

		frame := Frame{
			Samples:   samples,
			Format:    h.format,
			Timestamp: time.Since(h.epoch),
			Sequence:  h.seq,
		}
		h.seq++
		metrics.FrameProduced()
		h.fanOut(frame)
	}
}

// fanOut offers the frame to every live subscriber and prunes closed ones.
func (h *Hub) fanOut(f Frame) {
	h.mu.Lock()
	defer h.mu.Unlock()

	live := h.subs[:0]
	for _, r := range h.subs {
		if r.isClosed() {
			close(r.ch)
			continue
		}
		h.offer(r, f)
		live = append(live, r)
	}
	h.subs = live
}

// offer enqueues without blocking, evicting the subscriber's oldest frame
// when its queue is full. The hub is the channel's only sender, so after
// an eviction the send cannot block.
func (h *Hub) offer(r *Reader, f Frame) {
	select {
	case r.ch <- f:
		return
	default:
	}

	select {
	case <-r.ch:
		metrics.FrameDropped(r.name)
	default:
		// consumer drained concurrently, space exists now
	}
	r.ch <- f
}

// fatalStop tears down after an unrecoverable device error.
func (h *Hub) fatalStop(dev Device) {
	h.mu.Lock()
	if h.running {
		h.running = false
		close(h.stopCh)
		h.device = nil
		h.devName = ""
	}
	h.mu.Unlock()
	_ = dev.Close()
}

// closeSubscribers ends the stream for every remaining reader. Queued
// frames stay readable; subsequent reads return ErrClosed.
func (h *Hub) closeSubscribers() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, r := range h.subs {
		close(r.ch)
	}
	h.subs = nil
}
