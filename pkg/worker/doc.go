// Package worker provides a generic bounded worker pool.
//
// Submit never blocks: when the queue is full the item is dropped and
// ErrQueueFull is returned, so a slow consumer cannot stall the producer.
// Stop closes the queue and waits, bounded by a timeout, for the workers to
// drain it.
//
// The event sinks use a single-worker pool so events reach the broker in the
// order the store emitted them:
//
//	pool := worker.NewPool("mqtt", 1, 1024, sink.publish,
//		worker.WithLogger[messagestore.Event](logger),
//	)
//	if err := pool.Start(ctx); err != nil {
//		return err
//	}
//	defer pool.Stop(5 * time.Second)
//
//	if err := pool.Submit(event); errors.Is(err, worker.ErrQueueFull) {
//		// count the drop
//	}
package worker
