package realtime

import (
	"runtime"
	"sync"
	"time"
)

// memoryGauge samples heap usage at most once per interval and reports
// whether it crossed the high-water fraction of the configured limit.
// Sampling is amortized because ReadMemStats stops the world.
type memoryGauge struct {
	limit     uint64
	highWater float64
	interval  time.Duration

	mu         sync.Mutex
	lastCheck  time.Time
	lastResult bool
}

func newMemoryGauge(limit uint64, highWater float64, interval time.Duration) *memoryGauge {
	return &memoryGauge{
		limit:     limit,
		highWater: highWater,
		interval:  interval,
	}
}

func (g *memoryGauge) underPressure() bool {
	if g.limit == 0 {
		return false
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	now := time.Now()
	if now.Sub(g.lastCheck) < g.interval {
		return g.lastResult
	}
	g.lastCheck = now
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	g.lastResult = float64(ms.HeapAlloc) >= g.highWater*float64(g.limit)
	return g.lastResult
}
