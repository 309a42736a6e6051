package core

import (
	"sync"
	"time"
)

// DefaultHistorySize is how many import runs are kept in memory.
const DefaultHistorySize = 50

// Import run states.
const (
	RunSucceeded = "succeeded"
	RunFailed    = "failed"
)

// ImportRun records one apply call.
type ImportRun struct {
	ID         string      `json:"id"`
	StartedAt  time.Time   `json:"startedAt"`
	FinishedAt time.Time   `json:"finishedAt"`
	Status     string      `json:"status"`
	Rows       int         `json:"rows"`
	Result     ApplyResult `json:"result"`
	Error      string      `json:"error,omitempty"`
	ErrorCode  string      `json:"errorCode,omitempty"`
	ClientIP   string      `json:"clientIp,omitempty"`
	UserAgent  string      `json:"userAgent,omitempty"`
}

// Duration is how long the apply ran.
func (r ImportRun) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// runHistory is a fixed-size ring of recent runs.
type runHistory struct {
	mu   sync.Mutex
	runs []ImportRun
	next int
	full bool
}

func newRunHistory(size int) *runHistory {
	if size <= 0 {
		size = DefaultHistorySize
	}
	return &runHistory{runs: make([]ImportRun, size)}
}

func (h *runHistory) add(run ImportRun) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.runs[h.next] = run
	h.next = (h.next + 1) % len(h.runs)
	if h.next == 0 {
		h.full = true
	}
}

// list returns the runs newest first.
func (h *runHistory) list() []ImportRun {
	h.mu.Lock()
	defer h.mu.Unlock()

	n := h.next
	if h.full {
		n = len(h.runs)
	}

	out := make([]ImportRun, 0, n)
	for i := 1; i <= n; i++ {
		idx := (h.next - i + len(h.runs)) % len(h.runs)
		out = append(out, h.runs[idx])
	}
	return out
}
