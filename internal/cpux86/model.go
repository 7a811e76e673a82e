package cpux86

import "github.com/x86core/x86core/internal/decode"

// CPUModel re-exports decode.CPUModel so callers need only import this
// package for both decoding and execution parameters.
type CPUModel = decode.CPUModel

const (
	Model8088    = decode.Model8088
	Model8086    = decode.Model8086
	Model80186   = decode.Model80186
	Model80286   = decode.Model80286
	Model80386SX = decode.Model80386SX
	Model80386   = decode.Model80386
	Model80486   = decode.Model80486
)

// PrefetchQueueLength returns the physical prefetch-queue byte capacity for
// model, per spec.md §3/§4.3 and supplemented as an explicit function (rather
// than a bare constant table) from original_source/cpu.cpp's
// PrefixQueueLength, per SPEC_FULL.md §12.
func PrefetchQueueLength(model CPUModel) int {
	switch model {
	case Model8088:
		return 4
	case Model8086:
		return 6
	case Model80386SX:
		return 10
	default:
		return 12
	}
}
