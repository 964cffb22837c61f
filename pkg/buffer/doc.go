// Package buffer provides a demand-driven broadcast buffer for streaming
// data processing.
//
// Fanout is a single-producer, multi-cursor window: a producer callback is
// invoked only when a consumer needs an element, every open Tap observes the
// full element sequence in order, and production never runs more than the
// window size ahead of the slowest open tap. This makes production
// backpressure-correct by construction - an idle consumer stalls the
// producer instead of growing a queue.
//
// Production can also be driven without consuming, via Drain, for callers
// that only care about the producer's side effects and terminal error.
//
// Example usage:
//
//	f := buffer.NewFanout(8, nextBatch)
//
//	t := f.Tap()
//	defer t.Close()
//
//	for {
//		v, err := t.Next()
//		if err == buffer.ErrIteratorDone {
//			break
//		}
//		if err != nil {
//			return err
//		}
//		use(v)
//	}
package buffer
