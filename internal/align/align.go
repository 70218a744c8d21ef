// Package align contains utilities for aligning addresses and file offsets.
package align

// Address rounds addr up to the next multiple of alignment.
func Address[N uint32 | uint64 | int](addr N, alignment N) N {
	if alignment == 0 {
		return addr
	}

	return ((addr + alignment - 1) / alignment) * alignment
}
