package util

import (
	"runtime"
)

// MemoryStats is a point-in-time view of the Go runtime, reported by the
// health endpoint and logged after large loads.
type MemoryStats struct {
	HeapAllocMB uint64 `json:"heap_alloc_mb"`
	HeapObjects uint64 `json:"heap_objects"`
	NumGC       uint32 `json:"num_gc"`
	Goroutines  int    `json:"goroutines"`
}

func ReadMemoryStats() MemoryStats {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	return MemoryStats{
		HeapAllocMB: m.HeapAlloc / 1024 / 1024,
		HeapObjects: m.HeapObjects,
		NumGC:       m.NumGC,
		Goroutines:  runtime.NumGoroutine(),
	}
}
