package chunkalloc

import "golang.org/x/exp/constraints"

// WrapAdd advances i by one, wrapping back to zero at modulus. It backs
// the file-level round-robin chunk cursor (RoundRobin); Bitmap.Get does
// its own wrap, back to the first unreserved slot rather than to zero.
func WrapAdd[T constraints.Unsigned](i, modulus T) T {
	i++
	if i >= modulus {
		i = 0
	}
	return i
}

// RunFits reports whether a candidate run [l, r] of consecutive free bits
// already spans n slots.
func RunFits[T constraints.Unsigned](l, r, n T) bool {
	return r-l+1 == n
}
