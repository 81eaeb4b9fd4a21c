package buddy

import (
	"fmt"
	"unsafe"
)

// Allocate behaves like Alloc but surfaces a nil result as ErrBadAlloc.
// Higher-level facades that require success build on this entry point.
func (a *Arena) Allocate(size uintptr) (unsafe.Pointer, error) {
	ptr := a.Alloc(size)
	if ptr == nil {
		return nil, fmt.Errorf("%w: no free page for %d B", ErrBadAlloc, size)
	}
	return ptr, nil
}

// Deallocate releases a pointer obtained from Allocate. Like Free it ignores
// nil and foreign pointers and the repeated frees that Free detects.
func (a *Arena) Deallocate(ptr unsafe.Pointer) {
	a.Free(ptr)
}

// Realloc resizes the allocation at ptr to at least size bytes. A nil ptr
// behaves like Alloc, a zero size like Free. When the new size maps to the
// size class of the current page the pointer is returned unchanged; otherwise
// the contents are copied into a fresh allocation and the old page is
// released, so shrinking to a smaller class also moves the block. Returns
// nil when ptr is not a live allocation or no free page is large enough.
func (a *Arena) Realloc(ptr unsafe.Pointer, size uintptr) unsafe.Pointer {
	if ptr == nil {
		return a.Alloc(size)
	}
	if size == 0 {
		a.Free(ptr)
		return nil
	}
	if !a.IsValid(ptr) {
		return nil
	}
	if size > a.ManagedMemorySize()-pageHeaderSize {
		return nil
	}

	pageSize := a.PageSize(ptr)
	if nextSizeExp(size+pageHeaderSize) == nextSizeExp(pageSize) {
		return ptr
	}

	newPtr := a.Alloc(size)
	if newPtr == nil {
		return nil
	}

	copySize := pageSize - pageHeaderSize
	if size < copySize {
		copySize = size
	}
	copy(unsafe.Slice((*byte)(newPtr), copySize), unsafe.Slice((*byte)(ptr), copySize))

	a.Free(ptr)
	return newPtr
}

// Make allocates arena storage for one value of type T. The storage is not
// zeroed beyond whatever the region held before.
func Make[T any](a *Arena) (*T, error) {
	var zero T
	ptr, err := a.Allocate(unsafe.Sizeof(zero))
	if err != nil {
		return nil, err
	}
	return (*T)(ptr), nil
}

// Release returns storage obtained from Make to the arena.
func Release[T any](a *Arena, ptr *T) {
	a.Free(unsafe.Pointer(ptr))
}

// MakeSlice allocates arena storage for a slice of n values of type T.
func MakeSlice[T any](a *Arena, n int) ([]T, error) {
	if n <= 0 {
		return nil, fmt.Errorf("%w: slice length %d must be positive", ErrBadAlloc, n)
	}
	var zero T
	ptr, err := a.Allocate(uintptr(n) * unsafe.Sizeof(zero))
	if err != nil {
		return nil, err
	}
	return unsafe.Slice((*T)(ptr), n), nil
}

// ReleaseSlice returns storage obtained from MakeSlice to the arena.
func ReleaseSlice[T any](a *Arena, s []T) {
	if len(s) == 0 {
		return
	}
	a.Free(unsafe.Pointer(&s[0]))
}
