// Package resilience guards calls to the inference upstreams with
// exponential-backoff retries and per-upstream circuit breakers.
package resilience

import (
	"errors"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/wakescribe/platform/internal/metrics"
)

// ErrOpen is returned while the breaker is failing fast.
var ErrOpen = errors.New("circuit breaker open")

// State is the breaker's position in the closed/open/half-open cycle.
type State uint32

const (
	Closed State = iota
	Open
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Open:
		return "open"
	case HalfOpen:
		return "half-open"
	default:
		return "closed"
	}
}

// Breaker fails calls fast once its upstream has proven unhealthy.
// After ResetTimeout it admits probes again and closes when enough of
// them succeed in a row. State is atomic, so one breaker can be shared
// across goroutines.
type Breaker struct {
	name        string
	cfg         Config
	state       atomic.Uint32
	failures    atomic.Int32
	successes   atomic.Int32
	lastFailure atomic.Int64 // unix nanos of the newest failure
}

// New builds a breaker for the named upstream. The name labels the
// breaker's log lines and state gauge.
func New(name string, cfg Config) *Breaker {
	b := &Breaker{name: name, cfg: cfg.withDefaults()}
	b.state.Store(uint32(Closed))
	metrics.BreakerState(name, float64(Closed))
	return b
}

// Allow reports whether a call may proceed. An open breaker admits a
// probe once the reset window has passed.
func (b *Breaker) Allow() error {
	if State(b.state.Load()) != Open {
		return nil
	}
	if time.Since(time.Unix(0, b.lastFailure.Load())) < b.cfg.ResetTimeout {
		return ErrOpen
	}
	b.transition(Open, HalfOpen)
	return nil
}

// Success records a completed call.
func (b *Breaker) Success() {
	switch State(b.state.Load()) {
	case HalfOpen:
		if b.successes.Add(1) >= int32(b.cfg.HalfOpenSuccesses) {
			b.transition(HalfOpen, Closed)
		}
	case Closed:
		b.failures.Store(0)
	}
}

// Failure records a failed call. A failing probe reopens immediately.
func (b *Breaker) Failure() {
	b.lastFailure.Store(time.Now().UnixNano())

	switch State(b.state.Load()) {
	case HalfOpen:
		b.transition(HalfOpen, Open)
	case Closed:
		if b.failures.Add(1) >= int32(b.cfg.Threshold) {
			b.transition(Closed, Open)
		}
	}
}

// State returns the current state.
func (b *Breaker) State() State {
	return State(b.state.Load())
}

// Execute runs fn under the breaker.
func (b *Breaker) Execute(fn func() error) error {
	if err := b.Allow(); err != nil {
		return err
	}
	if err := fn(); err != nil {
		b.Failure()
		return err
	}
	b.Success()
	return nil
}

// transition moves from -> to exactly once; racing callers no-op.
func (b *Breaker) transition(from, to State) {
	if !b.state.CompareAndSwap(uint32(from), uint32(to)) {
		return
	}
	failures := b.failures.Load()
	b.failures.Store(0)
	b.successes.Store(0)
	metrics.BreakerState(b.name, float64(to))

	log := logrus.WithFields(logrus.Fields{"upstream": b.name, "state": to.String()})
	if to == Open {
		log.WithField("failures", failures).Warn("circuit breaker tripped")
		return
	}
	log.Info("circuit breaker state changed")
}
