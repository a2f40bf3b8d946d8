package flow

import (
	"context"
	"sync"
)

const defaultRecorderSize = 100

// Recorder keeps the most recent firings in memory.
type Recorder struct {
	mu      sync.Mutex
	size    int
	entries []Firing
}

func NewRecorder(size int) *Recorder {
	if size <= 0 {
		size = defaultRecorderSize
	}
	return &Recorder{size: size}
}

func (r *Recorder) Name() string {
	return "recorder"
}

func (r *Recorder) Publish(_ context.Context, firing Firing) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, firing)
	if len(r.entries) > r.size {
		r.entries = r.entries[len(r.entries)-r.size:]
	}
	return nil
}

// Recent returns firings newest first, optionally for one device.
func (r *Recorder) Recent(deviceID string) []Firing {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Firing, 0, len(r.entries))
	for i := len(r.entries) - 1; i >= 0; i-- {
		if deviceID != "" && r.entries[i].DeviceID != deviceID {
			continue
		}
		out = append(out, r.entries[i])
	}
	return out
}
