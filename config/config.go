// Package config holds the tunable, host-independent knobs for the store.
// It follows the same "New()/DefaultXxx() returns a populated struct" shape
// the rest of this codebase uses for configuration.
package config

import (
	"time"

	"github.com/sirupsen/logrus"

	"go-dbms/util/logger"
)

// cache capacities, matching the original policy constants
// (k_max_cache_chunks, k_max_cache_index, k_max_cache_data).
const (
	DefaultChunkCacheEntries = 32
	DefaultIndexCacheNodes   = 256
	DefaultDataCachePages    = 16384
)

// Options configures a store instance. A nil *Options passed to Open is
// equivalent to DefaultOptions().
type Options struct {
	// Logger receives Debug/Warn/Error events from the storage engine.
	Logger *logrus.Logger

	// ChunkCacheEntries bounds the chunk-bitmap-header mmap cache.
	ChunkCacheEntries int

	// IndexCacheNodes bounds the B+tree node-page mmap cache.
	IndexCacheNodes int

	// DataCachePages bounds the payload host-page mmap cache.
	DataCachePages int

	// AutoFlushInterval, if non-zero, starts a background goroutine in the
	// facade layer that calls Flush on this interval. Zero (the default)
	// disables it; callers must Flush explicitly for durability.
	AutoFlushInterval time.Duration
}

// DefaultOptions returns the configuration used when Open is given nil.
func DefaultOptions() *Options {
	return &Options{
		Logger:            logger.L,
		ChunkCacheEntries: DefaultChunkCacheEntries,
		IndexCacheNodes:   DefaultIndexCacheNodes,
		DataCachePages:    DefaultDataCachePages,
		AutoFlushInterval: 0,
	}
}
