package surface

import (
	"sync"

	"github.com/harliandi/go-imgfit/pkg/metrics"
)

// tier is one size class of pixel buffers.
type tier struct {
	name     string
	capacity int
	pool     sync.Pool
}

// Pixel buffers are 4 bytes per pixel. The largest tier holds a surface at
// the geometry pixel cap.
var tiers = []*tier{
	{name: "small", capacity: 1 << 20},   // ~512x512
	{name: "medium", capacity: 16 << 20}, // ~2048x2048
	{name: "large", capacity: 64 << 20},  // 16 megapixels
}

// getBuffer returns a zeroed buffer of exactly size bytes, backed by a pooled
// slice when a tier fits.
func getBuffer(size int) *[]byte {
	for _, t := range tiers {
		if size > t.capacity {
			continue
		}
		var b *[]byte
		if v := t.pool.Get(); v != nil {
			metrics.RecordPoolHit(t.name)
			b = v.(*[]byte)
		} else {
			metrics.RecordPoolMiss(t.name)
			s := make([]byte, 0, t.capacity)
			b = &s
		}
		*b = (*b)[:size]
		clear(*b)
		return b
	}

	// Don't pool buffers beyond the largest tier
	metrics.RecordPoolMiss("unpooled")
	s := make([]byte, size)
	return &s
}

// putBuffer returns a buffer to its tier. Buffers of unexpected capacity are
// left to the GC.
func putBuffer(b *[]byte) {
	if b == nil {
		return
	}
	capacity := cap(*b)
	*b = (*b)[:0]
	for _, t := range tiers {
		if capacity == t.capacity {
			t.pool.Put(b)
			return
		}
	}
}
