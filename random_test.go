package buddy

import (
	"math/bits"
	"testing"
	"unsafe"

	"github.com/bytedance/gopkg/lang/fastrand"
)

// TestRandomizedStress drives the arena with a random mix of allocations and
// releases and re-checks the structural invariants along the way: alignment,
// conservation of bytes, disjointness of live blocks and maximal coalescing
// of the free lists.
func TestRandomizedStress(t *testing.T) {
	const steps = 4000
	const managedSize = 1 << 16

	arena := newTestArena(t, managedSize)
	managed := arena.ManagedMemorySize()
	maxExp := uint(bits.Len64(uint64(managed - 1)))

	type block struct {
		ptr  unsafe.Pointer
		size uintptr
		tag  byte
	}
	var live []block

	checkInvariants := func() {
		t.Helper()

		// Conservation: free bytes plus live page bytes cover the region.
		sum := arena.AvailableMemorySize()
		for _, b := range live {
			sum += arena.PageSize(b.ptr)
		}
		if sum != managed {
			t.Fatalf("conservation violated: free+live = %d, want %d", sum, managed)
		}

		// Disjointness: the pages of live blocks do not overlap.
		for i := range live {
			start := arena.Offset(live[i].ptr) - pageHeaderSize
			end := start + arena.PageSize(live[i].ptr)
			for j := i + 1; j < len(live); j++ {
				other := arena.Offset(live[j].ptr) - pageHeaderSize
				if other < end && start < other+arena.PageSize(live[j].ptr) {
					t.Fatalf("live pages at offsets %d and %d overlap", start, other)
				}
			}
		}

		// Maximal coalescing: no two free pages of one class are buddies.
		for exp := uint(6); exp < maxExp; exp++ {
			offsets := arena.FreePageOffsets(exp)
			for i := 0; i < len(offsets); i++ {
				for j := i + 1; j < len(offsets); j++ {
					if offsets[i]^offsets[j] == uintptr(1)<<exp {
						t.Fatalf("free buddies left uncoalesced at class 2^%d: %d and %d",
							exp, offsets[i], offsets[j])
					}
				}
			}
		}
	}

	for step := 0; step < steps; step++ {
		if len(live) == 0 || fastrand.Float32() < 0.6 {
			exp := fastrand.Uint32n(uint32(maxExp) + 1)
			size := uintptr(1) << exp
			size += uintptr(fastrand.Uint64() % uint64(size))

			ptr := arena.Alloc(size)
			if ptr == nil {
				// Either oversize or exhausted; both are legal outcomes.
				continue
			}
			if AlignmentOf(ptr) < 64 {
				t.Fatalf("allocation of %d B misaligned: %#x", size, uintptr(ptr))
			}

			tag := byte(step)
			data := unsafe.Slice((*byte)(ptr), size)
			data[0], data[len(data)-1] = tag, tag

			live = append(live, block{ptr: ptr, size: size, tag: tag})
		} else {
			i := int(fastrand.Uint32n(uint32(len(live))))
			b := live[i]

			// The pattern written at allocation time must have survived.
			data := unsafe.Slice((*byte)(b.ptr), b.size)
			if data[0] != b.tag || data[len(data)-1] != b.tag {
				t.Fatalf("block of %d B corrupted before free", b.size)
			}

			arena.Free(b.ptr)
			live[i] = live[len(live)-1]
			live = live[:len(live)-1]
		}

		if step%64 == 0 {
			checkInvariants()
		}
	}
	checkInvariants()

	// Releasing everything must restore the single top-level free page.
	for _, b := range live {
		arena.Free(b.ptr)
	}
	live = nil
	checkInvariants()

	if got := arena.MaxAvailablePageSize(); got != managed {
		t.Errorf("max available page = %d after full release, want %d", got, managed)
	}
}
