package worker

import "errors"

// Submit, Start and Stop errors. ErrQueueFull means the item was dropped.
var (
	ErrPoolNotStarted     = errors.New("worker: pool not started")
	ErrPoolStopped        = errors.New("worker: pool stopped")
	ErrPoolAlreadyStarted = errors.New("worker: pool already started")
	ErrQueueFull          = errors.New("worker: queue full")
	ErrNilProcessor       = errors.New("worker: nil processor")
	ErrStopTimeout        = errors.New("worker: queue not drained before timeout")
)
