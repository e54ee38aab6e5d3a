// Package slot implements buffer slots for the exchange collector.
//
// Two implementations are registered by DefaultRegistry:
//
//	unlimited  pauses every connection of the collector once the queue holds
//	           SoftLimitPerSender*senders batches, resumes below half of that
//	accounted  tracks queued bytes per sender and pauses only the sender that
//	           crossed HighWatermarkBytes, resuming at LowWatermarkBytes
//
// Both keep batches in arrival order and never drop one. Dequeue blocks until
// a batch arrives, the slot is closed and drained (errors.ErrEndOfData), or
// the context ends.
//
// Implementations are looked up by key once at startup:
//
//	constructor, err := slot.DefaultRegistry().Resolve(cfg.Slots.Impl)
//	if err != nil {
//	    return err // errors.ErrBufferInstantiation
//	}
//
// A ReadController passed to a slot is called with the slot's lock held and
// must not call back into the slot.
package slot
