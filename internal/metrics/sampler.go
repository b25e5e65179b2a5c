// Package metrics samples process health into the structured log at a fixed
// interval: memory, goroutines, load average and live connection counts.
package metrics

import (
	"log/slog"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/pbnjay/memory"
)

// ConnCounter reports a live connection count; both the websocket handler and
// the session registry satisfy it.
type ConnCounter interface {
	ConnCount() int
}

type Sampler struct {
	interval time.Duration
	sessions ConnCounter
	sockets  func() int64
	http     func() int64
}

func NewSampler(interval time.Duration, sessions ConnCounter, sockets, http func() int64) *Sampler {
	return &Sampler{interval: interval, sessions: sessions, sockets: sockets, http: http}
}

// Start samples until done is closed.
func (s *Sampler) Start(done chan struct{}) {
	go func() {
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.sample()
			case <-done:
				return
			}
		}
	}()
}

func (s *Sampler) sample() {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	slog.Info("metrics",
		"type", "metrics",
		"heap_alloc", mem.HeapAlloc,
		"heap_sys", mem.HeapSys,
		"sys", mem.Sys,
		"total_memory", memory.TotalMemory(),
		"free_memory", memory.FreeMemory(),
		"goroutines", runtime.NumGoroutine(),
		"load_avg", loadAverage(),
		"sessions", s.sessions.ConnCount(),
		"sockets", s.sockets(),
		"http_active", s.http(),
	)
}

// loadAverage reads the 1-minute load average where the platform exposes it;
// elsewhere it reports an empty value.
func loadAverage() string {
	data, err := os.ReadFile("/proc/loadavg")
	if err != nil {
		return ""
	}
	fields := strings.Fields(string(data))
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}
