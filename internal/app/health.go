package app

import (
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"

	"ticketwatch/internal/dispatch"
	"ticketwatch/internal/runtime/supervisor"
	"ticketwatch/internal/scheduler"
)

// maxConsecutiveFailures marks the process unhealthy.
const maxConsecutiveFailures = 5

type health struct {
	mu        sync.Mutex
	startedAt time.Time
	cycles    uint64
	failures  int
	last      time.Time
	lastTook  time.Duration
	result    string
	lastErr   string
	parts     int
}

func newHealth(now time.Time) *health { return &health{startedAt: now} }

func (h *health) observe(sum scheduler.CycleSummary, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.cycles++
	h.last = sum.StartedAt.Add(sum.Took)
	h.lastTook = sum.Took
	h.result = sum.Result(err)
	h.parts = len(sum.Parts)
	if err != nil {
		h.failures++
		h.lastErr = err.Error()
		return
	}
	h.failures = 0
	h.lastErr = ""
}

func (h *health) healthy() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.failures < maxConsecutiveFailures
}

type healthReport struct {
	Status              string                         `json:"status"`
	Uptime              string                         `json:"uptime"`
	Cycles              uint64                         `json:"cycles"`
	LastCycle           string                         `json:"last_cycle,omitempty"`
	LastCycleTook       string                         `json:"last_cycle_took,omitempty"`
	LastResult          string                         `json:"last_result,omitempty"`
	LastError           string                         `json:"last_error,omitempty"`
	ConsecutiveFailures int                            `json:"consecutive_failures"`
	ReportParts         int                            `json:"report_parts"`
	Queue               queueReport                    `json:"queue"`
	Supervisors         map[string]supervisor.Snapshot `json:"supervisors"`
}

type queueReport struct {
	Depth int    `json:"depth"`
	Delay string `json:"delay"`
}

func (h *health) report(now time.Time, q *dispatch.Queue, sups map[string]*supervisor.Supervisor) (bool, healthReport) {
	h.mu.Lock()
	r := healthReport{
		Status:              "ok",
		Uptime:              strings.TrimSpace(humanize.RelTime(h.startedAt, now, "", "")),
		Cycles:              h.cycles,
		LastResult:          h.result,
		LastError:           h.lastErr,
		ConsecutiveFailures: h.failures,
		ReportParts:         h.parts,
		Supervisors:         map[string]supervisor.Snapshot{},
	}
	if !h.last.IsZero() {
		r.LastCycle = humanize.RelTime(h.last, now, "ago", "from now")
		r.LastCycleTook = h.lastTook.Round(time.Millisecond).String()
	}
	ok := h.failures < maxConsecutiveFailures
	h.mu.Unlock()

	if q != nil {
		r.Queue = queueReport{Depth: q.Len(), Delay: q.Delay().String()}
	}
	for name, s := range sups {
		if s != nil {
			r.Supervisors[name] = s.Snapshot()
		}
	}
	if !ok {
		r.Status = "failing"
	}
	return ok, r
}
