//go:build windows

package hostmem

import (
	"fmt"

	"golang.org/x/sys/windows"
)

// System returns the platform provider, backed by VirtualAlloc.
func System() Provider { return virtualAllocProvider{} }

type virtualAllocProvider struct{}

// Acquire implements Provider. VirtualAlloc regions start on an allocation
// granularity boundary (64 KiB), which covers any smaller alignment.
func (virtualAllocProvider) Acquire(size, align uintptr) (*Region, error) {
	if err := checkRequest(size, align); err != nil {
		return nil, err
	}
	base, err := windows.VirtualAlloc(0, size,
		windows.MEM_COMMIT|windows.MEM_RESERVE, windows.PAGE_READWRITE)
	if err != nil {
		return nil, fmt.Errorf("hostmem: VirtualAlloc %d B: %w", size, err)
	}
	if base&(align-1) != 0 {
		_ = windows.VirtualFree(base, 0, windows.MEM_RELEASE)
		return nil, fmt.Errorf("hostmem: VirtualAlloc region not aligned to %d B", align)
	}
	return &Region{
		base:    base,
		size:    size,
		release: func() error { return windows.VirtualFree(base, 0, windows.MEM_RELEASE) },
	}, nil
}
