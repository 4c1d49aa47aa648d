package availability

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var ErrInvalidResult = errors.New("invalid site check result")

// SiteCheckResult is one site's event counts from a single check.
// WithTickets + WithoutTickets is expected to equal TotalEvents; the endpoint
// owns that invariant and it is not re-verified here.
type SiteCheckResult struct {
	SiteName       string `json:"site_name"`
	TotalEvents    int    `json:"total_events_count"`
	WithTickets    int    `json:"events_with_tickets_count"`
	WithoutTickets int    `json:"events_without_tickets_count"`
}

// NewSiteCheckResult validates and builds a result.
func NewSiteCheckResult(site string, total, with, without int) (SiteCheckResult, error) {
	site = strings.TrimSpace(site)
	if site == "" {
		return SiteCheckResult{}, fmt.Errorf("%w: empty site name", ErrInvalidResult)
	}
	if total < 0 || with < 0 || without < 0 {
		return SiteCheckResult{}, fmt.Errorf("%w: negative count for %s (total=%d with=%d without=%d)", ErrInvalidResult, site, total, with, without)
	}
	return SiteCheckResult{SiteName: site, TotalEvents: total, WithTickets: with, WithoutTickets: without}, nil
}

// Percentage is the share of events with tickets for this result.
func (r SiteCheckResult) Percentage() float64 { return Percentage(r.WithTickets, r.TotalEvents) }

// Record converts the result into a history record stamped at the given time.
func (r SiteCheckResult) Record(at time.Time) HistoryRecord {
	return HistoryRecord{WithTickets: r.WithTickets, TotalEvents: r.TotalEvents, CheckedAt: at}
}

// HistoryRecord is a persisted past check. Stores return them most-recent-first.
type HistoryRecord struct {
	WithTickets int       `json:"with"`
	TotalEvents int       `json:"total"`
	CheckedAt   time.Time `json:"at"`
}

type AlertKind int

const (
	AlertDrop AlertKind = iota + 1
	AlertRecovery
)

func (k AlertKind) String() string {
	switch k {
	case AlertDrop:
		return "drop"
	case AlertRecovery:
		return "recovery"
	default:
		return "unknown"
	}
}

// Alert is a one-off notification about a significant availability change.
type Alert struct {
	Kind AlertKind
	Site string
	// Drop is Average - Current (percentage points); negative for recoveries that improved on the average.
	Drop    float64
	Average float64
	Current float64
}

// State is the logical per-site availability derived from the latest observation.
type State int

const (
	StateUnknown State = iota
	StateAvailable
	StateSoldOut
)

func (s State) String() string {
	switch s {
	case StateAvailable:
		return "available"
	case StateSoldOut:
		return "sold_out"
	default:
		return "unknown"
	}
}
