// Package blockcmp implements a three-stage byte-equality routine:
// descending-granularity comparison (64-bit words with an 8-way unrolled
// loop, then 32-bit words, then remaining bytes) chosen so the compiler
// can auto-vectorize the common equal-case hot path and branches stay off
// a single accumulator.
package blockcmp

import "encoding/binary"

const (
	wordSize     = 8
	unrollWords  = 8
	unrollBytes  = wordSize * unrollWords // 64
	halfWordSize = 4
)

// Equal reports whether a[:lenA] and b[:lenB] are byte-identical. It
// returns false immediately if lenA != lenB. Identical slice headers
// (same underlying array, same offset) short-circuit to true without
// touching memory.
func Equal(a []byte, lenA int, b []byte, lenB int) bool {
	if lenA != lenB {
		return false
	}

	a = a[:lenA]
	b = b[:lenB]

	if len(a) == 0 {
		return true
	}

	if sameBacking(a, b) {
		return true
	}

	i := 0

	// Unrolled 64-bit word comparison: XOR pairs of words and OR the
	// results into a single accumulator so the loop body has no
	// data-dependent branch until the final check.
	for len(a)-i >= unrollBytes {
		var acc uint64

		for w := 0; w < unrollWords; w++ {
			off := i + w*wordSize
			acc |= binary.LittleEndian.Uint64(a[off:off+wordSize]) ^
				binary.LittleEndian.Uint64(b[off:off+wordSize])
		}

		if acc != 0 {
			return false
		}

		i += unrollBytes
	}

	for len(a)-i >= wordSize {
		if binary.LittleEndian.Uint64(a[i:i+wordSize]) != binary.LittleEndian.Uint64(b[i:i+wordSize]) {
			return false
		}

		i += wordSize
	}

	for len(a)-i >= halfWordSize {
		if binary.LittleEndian.Uint32(a[i:i+halfWordSize]) != binary.LittleEndian.Uint32(b[i:i+halfWordSize]) {
			return false
		}

		i += halfWordSize
	}

	for ; i < len(a); i++ {
		if a[i] != b[i] {
			return false
		}
	}

	return true
}

// sameBacking reports whether a and b point at the same first element, a
// "same reference" short-circuit that avoids comparing a buffer to itself.
func sameBacking(a, b []byte) bool {
	return len(a) > 0 && len(b) > 0 && &a[0] == &b[0]
}
