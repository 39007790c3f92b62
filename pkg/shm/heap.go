package shm

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	internalshm "github.com/srediag/drm-plugin/internal/shm"
)

var (
	// ErrOutOfRange is returned when a read or write would leave the
	// heap's bounds.
	ErrOutOfRange = errors.New("shm: access outside heap bounds")
)

// Config holds heap creation parameters.
type Config struct {
	Name   string // shared memory name, becomes the file name under /dev/shm
	Size   uint64 // heap size in bytes
	Meter  metric.Meter
	Tracer trace.Tracer
}

// Heap is a named, fixed-size shared memory region.
type Heap struct {
	region *internalshm.MappedRegion
	name   string
	size   uint64
	owned  bool

	tracer     trace.Tracer
	readBytes  metric.Int64Counter
	writeBytes metric.Int64Counter
}

// Create maps a new heap, truncating any previous region of the same
// name. The caller owns the backing file; Close removes it.
func Create(cfg Config) (*Heap, error) {
	return newHeap(cfg, true)
}

// Open maps an existing heap created by another process.
func Open(cfg Config) (*Heap, error) {
	return newHeap(cfg, false)
}

func newHeap(cfg Config, create bool) (*Heap, error) {
	if cfg.Name == "" {
		return nil, errors.New("shm: empty heap name")
	}
	if cfg.Size == 0 {
		return nil, errors.New("shm: zero heap size")
	}
	region, err := internalshm.MapRegion(internalshm.MapOptions{
		Name:   cfg.Name,
		Size:   int(cfg.Size),
		Create: create,
	})
	if err != nil {
		return nil, fmt.Errorf("shm: map heap %s: %w", cfg.Name, err)
	}
	h := &Heap{
		region: region,
		name:   cfg.Name,
		size:   cfg.Size,
		owned:  create,
		tracer: cfg.Tracer,
	}
	if cfg.Meter != nil {
		h.readBytes, err = cfg.Meter.Int64Counter("shm.heap.read_bytes")
		if err != nil {
			return nil, err
		}
		h.writeBytes, err = cfg.Meter.Int64Counter("shm.heap.write_bytes")
		if err != nil {
			return nil, err
		}
	}
	return h, nil
}

// Name returns the heap's shared memory name.
func (h *Heap) Name() string { return h.name }

// Size returns the heap size in bytes.
func (h *Heap) Size() uint64 { return h.size }

// Bytes exposes the raw mapped region. Concurrent access must be
// coordinated with the remote side.
func (h *Heap) Bytes() []byte { return h.region.Addr }

// WriteAt copies p into the heap at off.
func (h *Heap) WriteAt(ctx context.Context, p []byte, off uint64) (int, error) {
	if off > h.size || uint64(len(p)) > h.size-off {
		return 0, ErrOutOfRange
	}
	if h.tracer != nil {
		var span trace.Span
		_, span = h.tracer.Start(ctx, "shm.heap.write",
			trace.WithAttributes(attribute.String("heap", h.name)))
		defer span.End()
	}
	n := copy(h.region.Addr[off:], p)
	if h.writeBytes != nil {
		h.writeBytes.Add(ctx, int64(n))
	}
	return n, nil
}

// ReadAt copies from the heap at off into p.
func (h *Heap) ReadAt(ctx context.Context, p []byte, off uint64) (int, error) {
	if off > h.size || uint64(len(p)) > h.size-off {
		return 0, ErrOutOfRange
	}
	n := copy(p, h.region.Addr[off:])
	if h.readBytes != nil {
		h.readBytes.Add(ctx, int64(n))
	}
	return n, nil
}

// Close unmaps the heap and, when this process created it, unlinks
// the backing file.
func (h *Heap) Close() error {
	return internalshm.UnmapRegion(h.region, h.owned)
}
