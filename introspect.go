package buddy

import (
	"fmt"
	"strings"
	"unsafe"
)

// PageSize returns the number of bytes, header included, of the page backing
// the live allocation ptr. It runs in O(1) by reading the size-class index
// from the page header.
func (a *Arena) PageSize(ptr unsafe.Pointer) uintptr {
	page := uintptr(ptr) - pageHeaderSize
	return uintptr(1) << (uint(a.loadHeader(page)) + minPageSizeExp)
}

// MinPageSize returns the size of the smallest page class in bytes.
func (a *Arena) MinPageSize() uintptr {
	return uintptr(1) << minPageSizeExp
}

// MaxPageSize returns the size of the largest page class in bytes.
func (a *Arena) MaxPageSize() uintptr {
	return uintptr(1) << a.maxExp
}

// ManagedMemorySize returns the size of the managed region in bytes, always a
// power of two.
func (a *Arena) ManagedMemorySize() uintptr {
	return uintptr(1) << a.maxExp
}

// ReservedMemorySize returns the size of the raw host region, one page
// alignment larger than the managed region.
func (a *Arena) ReservedMemorySize() uintptr {
	if a.host == nil {
		return 0
	}
	return a.host.Size()
}

// AvailableMemorySize returns the total number of free bytes, summed over all
// free lists.
func (a *Arena) AvailableMemorySize() uintptr {
	var result uintptr
	for i := range a.freePages {
		size := uintptr(1) << (uint(i) + minPageSizeExp)
		for it := a.freePages[i]; it != 0; it = a.loadHeader(it) {
			result += size
		}
	}
	return result
}

// MaxAvailablePageSize returns the size of the largest free page, or zero
// when the arena is exhausted.
func (a *Arena) MaxAvailablePageSize() uintptr {
	for i := len(a.freePages); i > 0; i-- {
		if a.freePages[i-1] != 0 {
			return uintptr(1) << (uint(i-1) + minPageSizeExp)
		}
	}
	return 0
}

// Offset returns the byte offset of ptr from the arena base. It is mainly
// useful for diagnostics; offsets of user pointers are their page offset plus
// the header size.
func (a *Arena) Offset(ptr unsafe.Pointer) uintptr {
	return uintptr(ptr) - a.base
}

// PointerAt returns the pointer at the given byte offset from the arena base,
// the inverse of Offset.
func (a *Arena) PointerAt(offset uintptr) unsafe.Pointer {
	return unsafe.Pointer(a.base + offset)
}

// FreePageOffsets returns the byte offsets from base of every free page of
// the given size-class exponent, in list order.
func (a *Arena) FreePageOffsets(exp uint) []uintptr {
	if exp < minPageSizeExp || exp > a.maxExp {
		return nil
	}
	var offsets []uintptr
	for it := a.freePages[exp-minPageSizeExp]; it != 0; it = a.loadHeader(it) {
		offsets = append(offsets, it-a.base)
	}
	return offsets
}

// AlignmentOf returns the largest power of two the pointer is aligned to, or
// zero for a nil pointer.
func AlignmentOf(ptr unsafe.Pointer) uintptr {
	if ptr == nil {
		return 0
	}
	p := uintptr(ptr)
	return p & -p
}

// Stats provides allocation statistics.
type Stats struct {
	TotalAllocated  uintptr
	TotalFreed      uintptr
	AllocationCount uint64
	FreeCount       uint64
	BytesInUse      uintptr
	AvailableBytes  uintptr
	ManagedBytes    uintptr
	ReservedBytes   uintptr
}

// Stats returns allocation statistics. The cumulative totals and counts stay
// zero when the arena was created with WithTracking(false).
func (a *Arena) Stats() Stats {
	available := a.AvailableMemorySize()
	return Stats{
		TotalAllocated:  a.totalAllocated,
		TotalFreed:      a.totalFreed,
		AllocationCount: a.allocCount,
		FreeCount:       a.freeCount,
		BytesInUse:      a.ManagedMemorySize() - available,
		AvailableBytes:  available,
		ManagedBytes:    a.ManagedMemorySize(),
		ReservedBytes:   a.ReservedMemorySize(),
	}
}

// String renders a human-readable dump of the arena: region geometry, size
// classes, the contents of every free list and a coarse layout scheme of the
// free pages.
func (a *Arena) String() string {
	var b strings.Builder

	rawBase := uintptr(0)
	if a.host != nil {
		rawBase = a.host.Base()
	}

	fmt.Fprintf(&b, "%s\n", strings.Repeat("-", 79))
	fmt.Fprintf(&b, "arena struct size      = %20d B\n", unsafe.Sizeof(*a))
	fmt.Fprintf(&b, "\n")
	fmt.Fprintf(&b, "raw region base        = %#20x\n", rawBase)
	fmt.Fprintf(&b, "raw region size        = %20d B\n", a.ReservedMemorySize())
	fmt.Fprintf(&b, "raw region alignment   = %20d B\n", AlignmentOf(unsafe.Pointer(rawBase)))
	fmt.Fprintf(&b, "\n")
	fmt.Fprintf(&b, "base pointer           = %#20x\n", a.base)
	fmt.Fprintf(&b, "managed memory size    = %20d B\n", a.ManagedMemorySize())
	fmt.Fprintf(&b, "base pointer alignment = %20d B\n", AlignmentOf(unsafe.Pointer(a.base)))
	fmt.Fprintf(&b, "\n")
	fmt.Fprintf(&b, "page header size       = %20d B\n", pageHeaderSize)
	fmt.Fprintf(&b, "page alignment         = %20d B\n", pageAlignment)
	fmt.Fprintf(&b, "maximal page size      = %20d B\n", a.MaxPageSize())
	fmt.Fprintf(&b, "maximal page size exp  = %20d\n", a.maxExp)
	fmt.Fprintf(&b, "minimal page size      = %20d B\n", a.MinPageSize())
	fmt.Fprintf(&b, "minimal page size exp  = %20d\n", minPageSizeExp)
	fmt.Fprintf(&b, "\n")
	fmt.Fprintf(&b, "free lists             = %20d\n", len(a.freePages))
	fmt.Fprintf(&b, "available memory size  = %20d B\n", a.AvailableMemorySize())
	fmt.Fprintf(&b, "max available page size= %20d B\n", a.MaxAvailablePageSize())
	fmt.Fprintf(&b, "\n")
	fmt.Fprintf(&b, "free pages lists content:\n")

	for exp := int(a.maxExp); exp >= int(minPageSizeExp); exp-- {
		fmt.Fprintf(&b, "  2^%-2d = %10d B :", exp, uintptr(1)<<uint(exp))
		for it := a.freePages[uint(exp)-minPageSizeExp]; it != 0; it = a.loadHeader(it) {
			fmt.Fprintf(&b, "  --> %12d (%#x)", it-a.base, it)
		}
		fmt.Fprintf(&b, "\n")
	}
	fmt.Fprintf(&b, "\n")

	a.writeLayoutScheme(&b)
	fmt.Fprintf(&b, "%s\n", strings.Repeat("-", 79))

	return b.String()
}

// writeLayoutScheme draws the free pages onto one line of at most 64
// characters, each character standing for an equal share of the managed
// region. Pages wide enough for more than one character are drawn as
// [----]; narrower ones collapse to a single '|'.
func (a *Arena) writeLayoutScheme(b *strings.Builder) {
	schemeExp := uint(6)
	if a.maxExp < schemeExp {
		schemeExp = a.maxExp
	}
	shift := a.maxExp - schemeExp

	scheme := make([]byte, uintptr(1)<<schemeExp)
	for i := range scheme {
		scheme[i] = '='
	}

	startExp := a.maxExp - schemeExp + 1
	if startExp < minPageSizeExp {
		startExp = minPageSizeExp
	}

	for exp := startExp; exp <= a.maxExp; exp++ {
		for it := a.freePages[exp-minPageSizeExp]; it != 0; it = a.loadHeader(it) {
			index := (it - a.base) >> shift
			length := (uintptr(1) << exp) >> shift
			scheme[index] = '['
			for j := uintptr(1); j+1 < length; j++ {
				scheme[index+j] = '-'
			}
			scheme[index+length-1] = ']'
		}
	}
	for exp := minPageSizeExp; exp < startExp; exp++ {
		for it := a.freePages[exp-minPageSizeExp]; it != 0; it = a.loadHeader(it) {
			scheme[(it-a.base)>>shift] = '|'
		}
	}

	fmt.Fprintf(b, "free page layout scheme (%d B/char):\n%s\n", uintptr(1)<<shift, scheme)
}
