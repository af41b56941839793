package shmring

import (
	"math"
	"unsafe"
)

// int32SliceFromBytes views a byte slice backed by an mmap'd mapping as
// an []int32 without copying. The mapping is page-aligned and sized in
// multiples of 4 bytes by New, so this is safe for the lifetime of the
// mapping.
func int32SliceFromBytes(b []byte) []int32 {
	if len(b) == 0 {
		return nil
	}
	return unsafe.Slice((*int32)(unsafe.Pointer(&b[0])), len(b)/4)
}

func float32bits(f float32) uint32    { return math.Float32bits(f) }
func float32frombits(b uint32) float32 { return math.Float32frombits(b) }
