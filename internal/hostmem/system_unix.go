//go:build unix

package hostmem

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"
)

// System returns the platform provider, backed by anonymous private mmap.
func System() Provider { return mmapProvider{} }

type mmapProvider struct{}

// Acquire implements Provider. Mapped regions are page aligned, which covers
// any alignment up to the system page size.
func (mmapProvider) Acquire(size, align uintptr) (*Region, error) {
	if err := checkRequest(size, align); err != nil {
		return nil, err
	}
	buf, err := unix.Mmap(-1, 0, int(size),
		unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANON)
	if err != nil {
		return nil, fmt.Errorf("hostmem: mmap %d B: %w", size, err)
	}
	base := uintptr(unsafe.Pointer(&buf[0]))
	if base&(align-1) != 0 {
		_ = unix.Munmap(buf)
		return nil, fmt.Errorf("hostmem: mmap region not aligned to %d B", align)
	}
	return &Region{
		base:    base,
		size:    size,
		release: func() error { return unix.Munmap(buf) },
	}, nil
}
