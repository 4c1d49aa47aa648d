package availability

import "sync"

const (
	DefaultDropThreshold = 10.0
	DefaultHistoryWindow = 10
)

// TrackerConfig controls alert detection.
type TrackerConfig struct {
	// DropThreshold is the minimum drop (percentage points) versus the history
	// average that qualifies a sell-out as an alert.
	DropThreshold float64
	// HistoryWindow is how many recent records feed the average.
	HistoryWindow int
}

// Tracker derives drop/recovery alerts from a fresh result and recent history.
// It keeps no per-site state between cycles: the history store is the state.
type Tracker struct {
	mu  sync.RWMutex
	cfg TrackerConfig
}

func NewTracker(cfg TrackerConfig) *Tracker {
	t := &Tracker{}
	t.Apply(cfg)
	return t
}

// Apply swaps thresholds at runtime (config hot reload).
func (t *Tracker) Apply(cfg TrackerConfig) {
	if cfg.DropThreshold <= 0 {
		cfg.DropThreshold = DefaultDropThreshold
	}
	if cfg.HistoryWindow <= 0 {
		cfg.HistoryWindow = DefaultHistoryWindow
	}
	t.mu.Lock()
	t.cfg = cfg
	t.mu.Unlock()
}

func (t *Tracker) Config() TrackerConfig {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.cfg
}

// HistoryWindow is the number of records callers should load per site.
func (t *Tracker) HistoryWindow() int { return t.Config().HistoryWindow }

// Evaluate returns the alert for current given history (most-recent-first).
//
// The immediately preceding record decides whether availability flipped; the
// window average only sizes the drop. An empty history never alerts.
func (t *Tracker) Evaluate(current SiteCheckResult, history []HistoryRecord) (Alert, bool) {
	if len(history) == 0 {
		return Alert{}, false
	}
	cfg := t.Config()
	if len(history) > cfg.HistoryWindow {
		history = history[:cfg.HistoryWindow]
	}

	pct := current.Percentage()
	avg := AveragePercentage(history)
	drop := PercentageDrop(avg, pct)
	prevAvailable := TicketsWereAvailable(history[:1])

	alert := Alert{Site: current.SiteName, Drop: drop, Average: avg, Current: pct}
	switch {
	case drop > cfg.DropThreshold && pct == 0 && prevAvailable:
		alert.Kind = AlertDrop
		return alert, true
	case pct > 0 && !prevAvailable:
		alert.Kind = AlertRecovery
		return alert, true
	}
	return Alert{}, false
}

// StateOf derives the logical state from the most recent record.
func StateOf(history []HistoryRecord) State {
	if len(history) == 0 {
		return StateUnknown
	}
	if history[0].WithTickets > 0 {
		return StateAvailable
	}
	return StateSoldOut
}
