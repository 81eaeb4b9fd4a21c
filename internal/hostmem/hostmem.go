// Package hostmem acquires the raw backing regions the arena manages. The
// platform provider uses mmap on Unix and VirtualAlloc on Windows; the Heap
// provider keeps regions on the Go heap for tests and platforms without
// either.
package hostmem

import (
	"fmt"
	"unsafe"
)

// Region is a contiguous span of host memory with a known base alignment.
// The owner must call Release exactly once when done; Release is idempotent.
type Region struct {
	base    uintptr
	size    uintptr
	release func() error

	// ref pins heap-backed regions for the garbage collector. System
	// regions leave it nil.
	ref []byte
}

// Base returns the starting address of the usable region.
func (r *Region) Base() uintptr { return r.base }

// Size returns the usable length of the region in bytes.
func (r *Region) Size() uintptr { return r.size }

// Release returns the region to the host. Pointers into the region are
// invalid afterwards.
func (r *Region) Release() error {
	if r.release == nil {
		r.ref = nil
		return nil
	}
	release := r.release
	r.release = nil
	r.ref = nil
	return release()
}

// Provider acquires regions from a memory source.
type Provider interface {
	// Acquire returns a region of at least size bytes whose base is
	// aligned to align, a power of two.
	Acquire(size, align uintptr) (*Region, error)
}

// Heap is a Provider backed by the Go heap. It over-allocates by the
// requested alignment and keeps the slice alive for the region's lifetime.
type Heap struct{}

// Acquire implements Provider.
func (Heap) Acquire(size, align uintptr) (*Region, error) {
	if err := checkRequest(size, align); err != nil {
		return nil, err
	}
	buf := make([]byte, size+align)
	raw := uintptr(unsafe.Pointer(unsafe.SliceData(buf)))
	base := (raw + align - 1) &^ (align - 1)
	return &Region{base: base, size: size, ref: buf}, nil
}

func checkRequest(size, align uintptr) error {
	if size == 0 {
		return fmt.Errorf("hostmem: region size must be greater than zero")
	}
	if align == 0 || align&(align-1) != 0 {
		return fmt.Errorf("hostmem: alignment %d is not a power of two", align)
	}
	return nil
}
