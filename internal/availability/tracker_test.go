package availability

import (
	"errors"
	"testing"
)

func result(t *testing.T, with, total int) SiteCheckResult {
	t.Helper()
	r, err := NewSiteCheckResult("alpha", total, with, total-with)
	if err != nil {
		t.Fatal(err)
	}
	return r
}

func TestEvaluate(t *testing.T) {
	t.Parallel()
	tr := NewTracker(TrackerConfig{})

	cases := []struct {
		name     string
		history  []HistoryRecord
		with     int
		total    int
		wantKind AlertKind
		wantDrop float64
	}{
		{name: "drop", history: []HistoryRecord{{WithTickets: 50, TotalEvents: 100}}, with: 0, total: 100, wantKind: AlertDrop, wantDrop: 50},
		{name: "recovery", history: []HistoryRecord{{WithTickets: 0, TotalEvents: 100}}, with: 10, total: 100, wantKind: AlertRecovery},
		{name: "empty history", with: 0, total: 100},
		{name: "drop below threshold", history: []HistoryRecord{{WithTickets: 5, TotalEvents: 100}}, with: 0, total: 100},
		{name: "still available", history: []HistoryRecord{{WithTickets: 50, TotalEvents: 100}}, with: 20, total: 100},
		{name: "still sold out", history: []HistoryRecord{{WithTickets: 0, TotalEvents: 100}}, with: 0, total: 100},
		{
			name:    "previous sold out but older available",
			history: []HistoryRecord{{WithTickets: 0, TotalEvents: 100}, {WithTickets: 90, TotalEvents: 100}},
			with:    0, total: 100,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			a, ok := tr.Evaluate(result(t, tc.with, tc.total), tc.history)
			if tc.wantKind == 0 {
				if ok {
					t.Fatalf("unexpected alert %+v", a)
				}
				return
			}
			if !ok || a.Kind != tc.wantKind {
				t.Fatalf("got %+v ok=%v, want kind %v", a, ok, tc.wantKind)
			}
			if tc.wantDrop != 0 && a.Drop != tc.wantDrop {
				t.Fatalf("drop = %v, want %v", a.Drop, tc.wantDrop)
			}
			if a.Site != "alpha" {
				t.Fatalf("site = %q", a.Site)
			}
		})
	}
}

func TestEvaluateUsesWindowForAverage(t *testing.T) {
	t.Parallel()
	tr := NewTracker(TrackerConfig{DropThreshold: 10, HistoryWindow: 2})
	h := []HistoryRecord{
		{WithTickets: 20, TotalEvents: 100},
		{WithTickets: 20, TotalEvents: 100},
		{WithTickets: 0, TotalEvents: 100},
		{WithTickets: 0, TotalEvents: 100},
	}
	a, ok := tr.Evaluate(result(t, 0, 100), h)
	if !ok || a.Average != 20 {
		t.Fatalf("got %+v ok=%v, want average over two records", a, ok)
	}
}

func TestTrackerApplyThreshold(t *testing.T) {
	t.Parallel()
	tr := NewTracker(TrackerConfig{})
	h := []HistoryRecord{{WithTickets: 30, TotalEvents: 100}}
	if _, ok := tr.Evaluate(result(t, 0, 100), h); !ok {
		t.Fatal("expected alert at default threshold")
	}
	tr.Apply(TrackerConfig{DropThreshold: 40})
	if _, ok := tr.Evaluate(result(t, 0, 100), h); ok {
		t.Fatal("expected no alert after raising threshold")
	}
}

func TestNewSiteCheckResultValidation(t *testing.T) {
	t.Parallel()
	if _, err := NewSiteCheckResult(" ", 1, 1, 0); !errors.Is(err, ErrInvalidResult) {
		t.Fatalf("empty name: %v", err)
	}
	if _, err := NewSiteCheckResult("a", -1, 0, 0); !errors.Is(err, ErrInvalidResult) {
		t.Fatalf("negative: %v", err)
	}
}

func TestStateOf(t *testing.T) {
	t.Parallel()
	if StateOf(nil) != StateUnknown {
		t.Fatal("want unknown")
	}
	if StateOf([]HistoryRecord{{WithTickets: 1, TotalEvents: 2}}) != StateAvailable {
		t.Fatal("want available")
	}
	if StateOf([]HistoryRecord{{WithTickets: 0, TotalEvents: 2}, {WithTickets: 2, TotalEvents: 2}}) != StateSoldOut {
		t.Fatal("want sold out")
	}
}
