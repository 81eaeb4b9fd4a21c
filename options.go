package buddy

import "github.com/lyrahgames/buddy-memory-allocator/internal/hostmem"

// Configuration for arenas.
type config struct {
	host     hostmem.Provider
	tracking bool
}

// Option configures an arena at construction time.
type Option func(*config)

func defaultConfig() *config {
	return &config{
		host:     hostmem.System(),
		tracking: true,
	}
}

// WithHostMemory selects the provider the arena acquires its backing region
// from. The default is the platform provider, mmap on Unix and VirtualAlloc
// on Windows; hostmem.Heap keeps the region on the Go heap instead.
func WithHostMemory(p hostmem.Provider) Option {
	return func(c *config) { c.host = p }
}

// WithTracking toggles the allocation statistics reported by Stats.
func WithTracking(enabled bool) Option {
	return func(c *config) { c.tracking = enabled }
}
