package buddy

import (
	"sync"
	"unsafe"
)

// Locked serializes access to an arena with a mutex. The arena itself takes
// no locks; callers that share one across goroutines go through this handle
// instead.
type Locked struct {
	mu    sync.Mutex
	arena *Arena
}

// NewLocked wraps an arena for concurrent use. The arena must not be used
// directly while the handle is alive.
func NewLocked(a *Arena) *Locked {
	return &Locked{arena: a}
}

// Alloc allocates like Arena.Alloc under the lock.
func (l *Locked) Alloc(size uintptr) unsafe.Pointer {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.arena.Alloc(size)
}

// Free releases like Arena.Free under the lock.
func (l *Locked) Free(ptr unsafe.Pointer) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.arena.Free(ptr)
}

// Allocate allocates like Arena.Allocate under the lock.
func (l *Locked) Allocate(size uintptr) (unsafe.Pointer, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.arena.Allocate(size)
}

// Deallocate releases like Arena.Deallocate under the lock.
func (l *Locked) Deallocate(ptr unsafe.Pointer) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.arena.Deallocate(ptr)
}

// Realloc resizes like Arena.Realloc under the lock.
func (l *Locked) Realloc(ptr unsafe.Pointer, size uintptr) unsafe.Pointer {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.arena.Realloc(ptr, size)
}

// PageSize reports like Arena.PageSize under the lock.
func (l *Locked) PageSize(ptr unsafe.Pointer) uintptr {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.arena.PageSize(ptr)
}

// AvailableMemorySize reports like Arena.AvailableMemorySize under the lock.
func (l *Locked) AvailableMemorySize() uintptr {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.arena.AvailableMemorySize()
}

// MaxAvailablePageSize reports like Arena.MaxAvailablePageSize under the lock.
func (l *Locked) MaxAvailablePageSize() uintptr {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.arena.MaxAvailablePageSize()
}

// Stats reports like Arena.Stats under the lock.
func (l *Locked) Stats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.arena.Stats()
}

// Close releases the arena under the lock.
func (l *Locked) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.arena.Close()
}
