// Package bloom implements a probabilistic per-SSTable membership filter.
//
// Guarantees no false negatives: MaybeContains returns true for every key
// ever added. False positives occur at a rate of roughly
// (1 - e^(-kn/m))^k for n inserted keys, m filter bits, and k probes.
package bloom

import (
	"encoding/binary"
	"math"

	"github.com/twmb/murmur3"
)

// Filter is a fixed-size bitset with k probe functions derived from two
// independent 32-bit murmur3 hashes combined by double hashing.
type Filter struct {
	k    uint8
	bits uint32
	buf  []byte
}

// New allocates a filter sized for at least bits bits, using k probes.
// k == 0 picks a default of 7.
func New(bits uint32, k uint8) *Filter {
	if k == 0 {
		k = 7
	}
	if bits < 8 {
		bits = 8
	}
	byteLen := (bits + 7) / 8
	bits = byteLen * 8
	return &Filter{
		k:    k,
		bits: bits,
		buf:  make([]byte, byteLen),
	}
}

// NewForKeys sizes a filter for nkeys expected insertions at bitsPerKey
// bits each, deriving k = round(bitsPerKey * ln 2) per the design.
func NewForKeys(nkeys int, bitsPerKey uint32) *Filter {
	if nkeys < 1 {
		nkeys = 1
	}
	if bitsPerKey == 0 {
		bitsPerKey = 10
	}
	k := uint8(math.Round(float64(bitsPerKey) * math.Ln2))
	if k < 1 {
		k = 1
	}
	if k > 30 {
		k = 30
	}
	return New(uint32(nkeys)*bitsPerKey, k)
}

// Add inserts key into the filter.
func (f *Filter) Add(key []byte) {
	h1, h2 := hash2(key)
	for i := uint32(0); i < uint32(f.k); i++ {
		h := h1 + i*h2
		f.setBit(h % f.bits)
	}
}

// MaybeContains reports whether key might be in the filter. false means
// key is definitely absent; true means it may be present (or is a false
// positive).
func (f *Filter) MaybeContains(key []byte) bool {
	h1, h2 := hash2(key)
	for i := uint32(0); i < uint32(f.k); i++ {
		h := h1 + i*h2
		if !f.getBit(h % f.bits) {
			return false
		}
	}
	return true
}

func (f *Filter) setBit(bit uint32) {
	f.buf[bit/8] |= byte(1 << (bit % 8))
}

func (f *Filter) getBit(bit uint32) bool {
	return f.buf[bit/8]&byte(1<<(bit%8)) != 0
}

// Encode serializes the filter as {k:u8, bitset_len:u32, bitset_bytes}.
func (f *Filter) Encode() []byte {
	out := make([]byte, 1+4+len(f.buf))
	out[0] = f.k
	binary.LittleEndian.PutUint32(out[1:5], uint32(len(f.buf)))
	copy(out[5:], f.buf)
	return out
}

// Decode parses a filter previously produced by Encode.
func Decode(b []byte) (*Filter, bool) {
	if len(b) < 1+4 {
		return nil, false
	}
	k := b[0]
	bitsetLen := binary.LittleEndian.Uint32(b[1:5])
	buf := b[5:]
	if k == 0 || uint32(len(buf)) != bitsetLen {
		return nil, false
	}
	out := make([]byte, len(buf))
	copy(out, buf)
	return &Filter{k: k, bits: bitsetLen * 8, buf: out}, true
}

// hash2 derives two independent 32-bit hashes from a single murmur3 128-bit
// sum for use in double hashing: h_i = h1 + i*h2.
func hash2(key []byte) (uint32, uint32) {
	lo, hi := murmur3.Sum128(key)
	h1 := uint32(lo)
	h2 := uint32(hi)
	if h2 == 0 {
		h2 = 0x9e3779b9
	}
	return h1, h2
}
