package share

import (
	"sync/atomic"
	"time"
)

// Stats は共有の効き具合を表すスナップショット
type Stats struct {
	PhysicalCaptures uint64    `json:"physical_captures"` // 実際にデバイスを叩いた回数
	Failures         uint64    `json:"failures"`          // 物理キャプチャの失敗回数
	CoalescedWaits   uint64    `json:"coalesced_waits"`   // 他の利用者の撮影結果を受け取った回数
	CacheHits        uint64    `json:"cache_hits"`        // 直前の撮影結果を再利用した回数
	Timeouts         uint64    `json:"timeouts"`
	Interrupts       uint64    `json:"interrupts"`
	OpenHandles      int       `json:"open_handles"`
	LastCaptureAt    time.Time `json:"last_capture_at"`
	Destroyed        bool      `json:"destroyed"`
}

type counters struct {
	captures   atomic.Uint64
	failures   atomic.Uint64
	coalesced  atomic.Uint64
	cacheHits  atomic.Uint64
	timeouts   atomic.Uint64
	interrupts atomic.Uint64
	lastAt     atomic.Int64
}

func (c *counters) markCaptured(at time.Time) {
	c.lastAt.Store(at.UnixNano())
}

func (c *counters) snapshot() Stats {
	s := Stats{
		PhysicalCaptures: c.captures.Load(),
		Failures:         c.failures.Load(),
		CoalescedWaits:   c.coalesced.Load(),
		CacheHits:        c.cacheHits.Load(),
		Timeouts:         c.timeouts.Load(),
		Interrupts:       c.interrupts.Load(),
	}
	if ns := c.lastAt.Load(); ns != 0 {
		s.LastCaptureAt = time.Unix(0, ns)
	}
	return s
}
