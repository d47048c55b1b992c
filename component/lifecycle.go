package component

import (
	"context"
	"time"
)

// LifecycleComponent is a Discoverable the engine or the binary runs.
// Initialize validates without side effects; Start must not block; Stop
// drains within timeout.
type LifecycleComponent interface {
	Discoverable
	Initialize() error
	Start(ctx context.Context) error
	Stop(timeout time.Duration) error
}

// AsLifecycleComponent reports whether comp has a full lifecycle
func AsLifecycleComponent(comp Discoverable) (LifecycleComponent, bool) {
	lc, ok := comp.(LifecycleComponent)
	return lc, ok
}
