package kernel

import (
	"math/bits"

	"github.com/soypat/gsir/ir"
)

// Set is a dense set of instruction indices.
type Set struct {
	words []uint64
}

func newSet(n int) Set { return Set{words: make([]uint64, (n+63)/64)} }

// Has reports whether i is in the set.
func (s Set) Has(i ir.Index) bool {
	w := int(i) >> 6
	return i >= 0 && w < len(s.words) && s.words[w]&(1<<(uint(i)&63)) != 0
}

func (s Set) add(i ir.Index) { s.words[i>>6] |= 1 << (uint(i) & 63) }

// Len returns the number of indices in the set.
func (s Set) Len() (n int) {
	for _, w := range s.words {
		n += bits.OnesCount64(w)
	}
	return n
}

// AppendTo appends the indices of the set to dst in increasing order.
func (s Set) AppendTo(dst []ir.Index) []ir.Index {
	for k, w := range s.words {
		for w != 0 {
			b := bits.TrailingZeros64(w)
			dst = append(dst, ir.Index(k*64+b))
			w &= w - 1
		}
	}
	return dst
}
