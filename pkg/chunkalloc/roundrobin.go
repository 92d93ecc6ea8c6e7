package chunkalloc

// RoundRobin picks the next chunk to try an allocation against: try
// chunks in round-robin order starting at the file header's last_chunk,
// skipping any chunk whose usage counter would exceed capacity.
//
// admits(idx) reports whether chunk idx currently has room for the
// requested run; the caller owns usage-counter bookkeeping (it lives in
// the file header, not here). RoundRobin tries every chunk at most once,
// starting at start, and returns the first index for which admits
// reports true, or ok=false if none does.
func RoundRobin(nChunks uint32, start uint32, admits func(idx uint32) bool) (uint32, bool) {
	if nChunks == 0 {
		return 0, false
	}
	idx := start % nChunks
	for i := uint32(0); i < nChunks; i++ {
		if admits(idx) {
			return idx, true
		}
		idx = WrapAdd(idx, nChunks)
	}
	return 0, false
}
