package flow

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

var (
	ErrSinkOverflow = errors.New("sink buffer full, firing dropped")
	ErrSinkClosed   = errors.New("sink closed")
)

const (
	DefaultSinkBuffer  = 64
	DefaultSinkTimeout = 5 * time.Second
)

// AsyncSink delivers firings to a slow sink from its own goroutine so the
// caller's pass never waits on the network. A full buffer drops the firing.
type AsyncSink struct {
	sink    Sink
	timeout time.Duration
	logger  *slog.Logger

	mu      sync.RWMutex
	closed  bool
	firings chan Firing
	done    chan struct{}
	dropped atomic.Uint64
}

// NewAsyncSink starts the delivery worker. Each delivery gets its own
// timeout-bound context.
func NewAsyncSink(sink Sink, buffer int, timeout time.Duration, logger *slog.Logger) *AsyncSink {
	if buffer <= 0 {
		buffer = DefaultSinkBuffer
	}
	if timeout <= 0 {
		timeout = DefaultSinkTimeout
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	a := &AsyncSink{
		sink:    sink,
		timeout: timeout,
		logger:  logger.With("component", "flow", "sink", sink.Name()),
		firings: make(chan Firing, buffer),
		done:    make(chan struct{}),
	}
	go a.run()
	return a
}

func (a *AsyncSink) Name() string { return a.sink.Name() }

// Publish enqueues firing without blocking.
func (a *AsyncSink) Publish(_ context.Context, firing Firing) error {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		return ErrSinkClosed
	}
	select {
	case a.firings <- firing:
		return nil
	default:
		n := a.dropped.Add(1)
		return fmt.Errorf("%w (device %s, card %s, %d dropped)", ErrSinkOverflow, firing.DeviceID, firing.Card, n)
	}
}

// Dropped counts firings rejected because the buffer was full.
func (a *AsyncSink) Dropped() uint64 {
	return a.dropped.Load()
}

// Close stops accepting firings and waits for the buffered ones.
func (a *AsyncSink) Close() {
	a.mu.Lock()
	if !a.closed {
		a.closed = true
		close(a.firings)
	}
	a.mu.Unlock()
	<-a.done
}

func (a *AsyncSink) run() {
	defer close(a.done)
	for firing := range a.firings {
		ctx, cancel := context.WithTimeout(context.Background(), a.timeout)
		err := a.sink.Publish(ctx, firing)
		cancel()
		if err != nil {
			a.logger.Warn("trigger sink failed", "device_id", firing.DeviceID, "card", firing.Card, "error", err)
		}
	}
}
