// Package buddy implements a binary buddy memory arena over a single
// contiguous region of host memory. The arena services variable-size
// allocation and deallocation requests by rounding sizes up to the nearest
// power-of-two page, splitting larger free pages on demand and coalescing
// adjacent free buddies on release to limit external fragmentation.
//
// The arena is single-threaded; concurrent callers wrap it in a Locked
// handle. Every pointer returned from Alloc is aligned to at least 64 bytes.
package buddy

import (
	"fmt"
	"math/bits"
	"unsafe"

	"github.com/lyrahgames/buddy-memory-allocator/internal/hostmem"
)

const (
	// pageHeaderSize is the size of the machine word preceding every user
	// pointer. While a page is free the word holds the free-list next
	// pointer; while allocated it holds the page's size-class index.
	pageHeaderSize = unsafe.Sizeof(uintptr(0))

	// pageAlignment is the alignment of the raw host region and of every
	// user pointer returned from Alloc.
	pageAlignment uintptr = 64

	// minPageSizeExp is the exponent of the smallest page size. Pages are
	// never smaller than 2^minPageSizeExp = pageAlignment bytes.
	minPageSizeExp uint = 6
)

// ErrBadAlloc reports that the arena could not acquire host memory or, on the
// error-surfaced allocation paths, that no free page was large enough.
var ErrBadAlloc = fmt.Errorf("buddy: bad alloc")

// Arena owns a contiguous power-of-two-sized region of host memory and the
// per-size-class free lists that manage it. The zero value is not usable;
// create arenas with New and release them with Close.
type Arena struct {
	config *config
	host   *hostmem.Region

	// base points at the header word of the page at offset zero. It is
	// shifted pageAlignment-pageHeaderSize bytes into the raw region so
	// that user pointers, one header past their page, are 64-byte aligned.
	base   uintptr
	maxExp uint

	// freePages holds one intrusive singly linked list head per size
	// class, index 0 being class minPageSizeExp. A zero head is an empty
	// list; the first word of each free page is the next pointer.
	freePages []uintptr

	totalAllocated uintptr
	totalFreed     uintptr
	allocCount     uint64
	freeCount      uint64
}

// New creates an arena managing at least size bytes. The managed region is
// rounded up to the next power of two, acquired from the configured host
// memory provider and seeded as one free page of the maximal size class.
// It fails with ErrBadAlloc when size is zero or the host region cannot be
// acquired.
func New(size uintptr, opts ...Option) (*Arena, error) {
	if size == 0 {
		return nil, fmt.Errorf("%w: managed size must be greater than zero", ErrBadAlloc)
	}

	cfg := defaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}

	maxExp := nextSizeExp(size)
	managed := uintptr(1) << maxExp

	// The raw region is one page alignment larger than the managed region
	// so the base can be shifted to keep user pointers 64-byte aligned.
	region, err := cfg.host.Acquire(managed+pageAlignment, pageAlignment)
	if err != nil {
		return nil, fmt.Errorf("%w: acquiring %d B of host memory: %v", ErrBadAlloc, managed+pageAlignment, err)
	}

	a := &Arena{
		config:    cfg,
		host:      region,
		base:      region.Base() + (pageAlignment - pageHeaderSize),
		maxExp:    maxExp,
		freePages: make([]uintptr, maxExp-minPageSizeExp+1),
	}

	// The whole managed region starts out as a single free page of the
	// maximal size class.
	a.freePages[len(a.freePages)-1] = a.base
	a.storeHeader(a.base, 0)

	return a, nil
}

// Close releases the backing host region. Outstanding user pointers are
// invalidated. Close is idempotent.
func (a *Arena) Close() error {
	if a.host == nil {
		return nil
	}
	region := a.host
	a.host = nil
	a.base = 0
	a.freePages = nil
	return region.Release()
}

// Alloc returns a 64-byte-aligned pointer to at least size usable bytes, or
// nil when size is zero, exceeds the maximal page size, or no free page at or
// above the required size class remains.
func (a *Arena) Alloc(size uintptr) unsafe.Pointer {
	if size == 0 {
		return nil
	}

	// The page must also hold its header word.
	if size > a.ManagedMemorySize()-pageHeaderSize {
		return nil
	}
	exp := nextSizeExp(size + pageHeaderSize)

	index := int(exp - minPageSizeExp)
	for split := index; split < len(a.freePages); split++ {
		if a.freePages[split] == 0 {
			continue
		}

		// Pop the head of the first non-empty list at or above the
		// requested class.
		page := a.freePages[split]
		a.freePages[split] = a.loadHeader(page)

		// Split down: the left half stays the allocation target, the
		// right half becomes the sole free page of the next smaller
		// class. Each list below the split point is empty, otherwise
		// the search would have stopped there.
		for i := split - 1; i >= index; i-- {
			half := page + uintptr(1)<<(minPageSizeExp+uint(i))
			a.freePages[i] = half
			a.storeHeader(half, 0)
		}

		// The header now records the size-class index for Free.
		a.storeHeader(page, uintptr(index))

		if a.config.tracking {
			a.allocCount++
			a.totalAllocated += uintptr(1) << exp
		}

		return unsafe.Pointer(page + pageHeaderSize)
	}

	return nil
}

// Free returns the page holding ptr to the arena, merging it with its buddy
// as long as the buddy is free. Nil and foreign pointers are ignored, and so
// is a repeated free while the page still sits on its size class's free list;
// a page since merged into a larger free page is not recognised as freed.
func (a *Arena) Free(ptr unsafe.Pointer) {
	if ptr == nil {
		return
	}

	page := uintptr(ptr) - pageHeaderSize

	// The unsigned difference also rejects pointers below the base.
	offset := page - a.base
	if offset >= a.ManagedMemorySize() {
		return
	}

	// A live page's header holds a small size-class index; anything
	// outside that range marks the pointer foreign or stale.
	index := a.loadHeader(page)
	if index >= uintptr(len(a.freePages)) {
		return
	}

	// A real allocation of this class is aligned to its page size.
	if offset&(uintptr(1)<<(uint(index)+minPageSizeExp)-1) != 0 {
		return
	}

	// Reject a double free of a page already on its free list.
	for it := a.freePages[index]; it != 0; it = a.loadHeader(it) {
		if it == page {
			return
		}
	}

	if a.config.tracking {
		a.freeCount++
		a.totalFreed += uintptr(1) << (uint(index) + minPageSizeExp)
	}

	// Coalesce up. Two pages of class i are buddies iff their offsets
	// differ exactly in bit i+minPageSizeExp, so masking that bit away
	// yields the offset of the left page of the pair. The top-most page
	// has no buddy.
	i := uint(index)
	top := uint(len(a.freePages) - 1)
	for i < top {
		mask := ^(uintptr(1) << (i + minPageSizeExp))
		target := (page - a.base) & mask

		// Maximal coalescing guarantees at most one list entry can
		// match the buddy predicate, so a linear scan suffices. The
		// page itself is not on the list, which was checked above.
		prev := &a.freePages[i]
		var buddy uintptr
		for it := *prev; it != 0; it = a.loadHeader(it) {
			if (it-a.base)&mask == target {
				buddy = it
				break
			}
			prev = (*uintptr)(unsafe.Pointer(it))
		}
		if buddy == 0 {
			break
		}

		// Unlink the buddy and continue with the merged page one
		// class up.
		*prev = a.loadHeader(buddy)
		page = a.base + target
		i++
	}

	a.storeHeader(page, a.freePages[i])
	a.freePages[i] = page
}

// IsValid reports whether ptr is a live allocation of this arena, i.e. Free
// would accept it.
func (a *Arena) IsValid(ptr unsafe.Pointer) bool {
	if ptr == nil {
		return false
	}
	page := uintptr(ptr) - pageHeaderSize
	offset := page - a.base
	if offset >= a.ManagedMemorySize() {
		return false
	}
	index := a.loadHeader(page)
	if index >= uintptr(len(a.freePages)) {
		return false
	}
	if offset&(uintptr(1)<<(uint(index)+minPageSizeExp)-1) != 0 {
		return false
	}
	for it := a.freePages[index]; it != 0; it = a.loadHeader(it) {
		if it == page {
			return false
		}
	}
	return true
}

// loadHeader reads the header word of the page at addr.
func (a *Arena) loadHeader(addr uintptr) uintptr {
	return *(*uintptr)(unsafe.Pointer(addr))
}

// storeHeader writes the header word of the page at addr.
func (a *Arena) storeHeader(addr, value uintptr) {
	*(*uintptr)(unsafe.Pointer(addr)) = value
}

// nextSizeExp returns the exponent of the smallest page size able to hold
// size bytes, clamped to the minimal size class.
func nextSizeExp(size uintptr) uint {
	exp := uint(bits.Len64(uint64(size - 1)))
	if exp < minPageSizeExp {
		exp = minPageSizeExp
	}
	return exp
}
