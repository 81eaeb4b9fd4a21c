//go:build !unix && !windows

package hostmem

// System falls back to the Go heap on platforms without mmap or VirtualAlloc.
func System() Provider { return Heap{} }
