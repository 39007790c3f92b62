// Package shm provides named shared-memory heaps for zero-copy buffer
// exchange with an out-of-process crypto plugin service.
//
// A heap is registered with the remote side once, by name and size;
// every later buffer reference is an (offset, size) pair into the
// heap, so buffer contents are never re-transmitted per call. Heaps
// can be instrumented with OpenTelemetry metrics and tracing.
//
// Example usage:
//
//	heap, err := shm.Create(shm.Config{
//	  Name: "decrypt-io",
//	  Size: 1 << 20,
//	  Meter: myMeter,
//	  Tracer: myTracer,
//	})
//	// ...
//
// Platform-specific mapping lives in internal/shm.
package shm
