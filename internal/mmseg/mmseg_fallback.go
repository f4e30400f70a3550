//go:build !unix && !windows

// Package mmseg provides platform-specific helpers for mapping anonymous
// memory segments.
package mmseg

import (
	"fmt"
	"sync"
)

// Without a mapping syscall the segment comes from the Go heap. Holding it in
// a package-level registry keeps the backing array reachable for the lifetime
// of the segment, so address-valued references into it stay valid.
var (
	slabMu sync.Mutex
	slabs  map[*byte][]byte
)

// Map allocates size bytes from the Go heap when no mapping syscall is
// available.
func Map(size int) ([]byte, func() error, error) {
	if size <= 0 {
		return nil, nil, fmt.Errorf("mmseg: invalid segment size %d", size)
	}
	data := make([]byte, size)
	key := &data[0]
	slabMu.Lock()
	if slabs == nil {
		slabs = make(map[*byte][]byte)
	}
	slabs[key] = data
	slabMu.Unlock()
	release := func() error {
		slabMu.Lock()
		delete(slabs, key)
		slabMu.Unlock()
		return nil
	}
	return data, release, nil
}
