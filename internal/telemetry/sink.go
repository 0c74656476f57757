package telemetry

import (
	"context"
	"sync"

	"github.com/banshee-data/navfusion/internal/ekf"
)

// Sink receives debug snapshots after each fusion cycle.
type Sink interface {
	Publish(ctx context.Context, snap ekf.DebugSnapshot) error
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(ctx context.Context, snap ekf.DebugSnapshot) error

// Publish calls fn(ctx, snap).
func (fn SinkFunc) Publish(ctx context.Context, snap ekf.DebugSnapshot) error {
	return fn(ctx, snap)
}

// Discard is a Sink that drops every snapshot.
var Discard Sink = SinkFunc(func(context.Context, ekf.DebugSnapshot) error { return nil })

// MemorySink keeps snapshots in memory. It is safe for concurrent use.
type MemorySink struct {
	mu    sync.Mutex
	snaps []ekf.DebugSnapshot
}

// Publish appends snap.
func (m *MemorySink) Publish(_ context.Context, snap ekf.DebugSnapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snaps = append(m.snaps, snap)
	return nil
}

// Snapshots returns a copy of everything published so far.
func (m *MemorySink) Snapshots() []ekf.DebugSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]ekf.DebugSnapshot, len(m.snaps))
	copy(out, m.snaps)
	return out
}

// Len returns the number of snapshots held.
func (m *MemorySink) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.snaps)
}
