package arena

import "math"

// Config defines the segment and size class strategy for an arena.
// Passing a nil *Config to New selects DefaultConfig.
type Config struct {
	// Name for this configuration (for benchmarking)
	Name string

	// SegmentSize is the default size of newly mapped segments. Requests
	// larger than a segment map a dedicated, page-rounded segment instead.
	SegmentSize uintptr

	// Small allocation settings (linear increments)
	SmallMin       uintptr // Minimum block size including header
	SmallMax       uintptr // Max for linear increments
	SmallIncrement uintptr // Increment size for small classes

	// Medium allocation settings (logarithmic growth)
	MediumMax    uintptr // Max before the large list takes over
	GrowthFactor float64 // Exponential growth factor between medium classes
}

// Predefined configurations.
var (
	// ConfigBalanced: good balance between heap size and class granularity.
	// 32-512 step 16 (30 classes) + 512-16K log growth (~9 classes).
	ConfigBalanced = Config{
		Name:           "Balanced",
		SegmentSize:    1 << 20,
		SmallMin:       32,
		SmallMax:       512,
		SmallIncrement: 16,
		MediumMax:      16384,
		GrowthFactor:   1.5,
	}

	// ConfigCoarse: fewer classes, faster operations, more internal
	// fragmentation. Suited to uniform workloads.
	ConfigCoarse = Config{
		Name:           "Coarse",
		SegmentSize:    1 << 20,
		SmallMin:       32,
		SmallMax:       512,
		SmallIncrement: 64,
		MediumMax:      16384,
		GrowthFactor:   2.0,
	}

	// DefaultConfig is used when New receives nil.
	DefaultConfig = ConfigBalanced
)

// sizeClassTable holds the computed size class boundaries.
type sizeClassTable struct {
	config     Config
	boundaries []uintptr // upper bound for each size class
	numClasses int
}

// newSizeClassTable computes size class boundaries from config.
func newSizeClassTable(config Config) *sizeClassTable {
	table := &sizeClassTable{
		config:     config,
		boundaries: make([]uintptr, 0, 64),
	}

	// Phase 1: small classes (linear increments).
	for size := config.SmallMin; size < config.SmallMax; size += config.SmallIncrement {
		table.boundaries = append(table.boundaries, size+config.SmallIncrement-1)
	}

	// Phase 2: medium classes (logarithmic growth).
	if config.SmallMax < config.MediumMax {
		size := config.SmallMax
		for size < config.MediumMax {
			nextSize := uintptr(math.Ceil(float64(size) * config.GrowthFactor))
			if nextSize <= size {
				nextSize = size + 1 // ensure progress
			}
			if nextSize > config.MediumMax {
				nextSize = config.MediumMax // last class ends just below MediumMax
			}
			table.boundaries = append(table.boundaries, nextSize-1)
			size = nextSize
		}
	}

	table.numClasses = len(table.boundaries)
	return table
}

// getSizeClass returns the size class index for a block size.
// Returns table.numClasses for sizes >= MediumMax (use the large list).
func (t *sizeClassTable) getSizeClass(size uintptr) int {
	lo, hi := 0, t.numClasses-1

	for lo <= hi {
		mid := (lo + hi) / 2
		if size <= t.boundaries[mid] {
			if mid == 0 || size > t.boundaries[mid-1] {
				return mid
			}
			hi = mid - 1
		} else {
			lo = mid + 1
		}
	}

	return t.numClasses
}

// String returns the configuration name.
func (t *sizeClassTable) String() string {
	return t.config.Name
}

// NumClasses returns the number of size classes (excluding the large list).
func (t *sizeClassTable) NumClasses() int {
	return t.numClasses
}
