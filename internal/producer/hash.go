package producer

import "hash/fnv"

// fnvHash computes the key = hash(intern) a label is interned under.
// FNV-1a is the simplest dependency-free 64-bit hash available; nothing
// in the retrieved dependency pack offers a dedicated hash function for
// this exact concern, so this is the one place the implementation falls
// back to the standard library by necessity rather than preference.
func fnvHash(s string) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(s))
	return h.Sum64()
}
