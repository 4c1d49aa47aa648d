package availability

import (
	"math"
	"testing"
)

func TestPercentage(t *testing.T) {
	t.Parallel()
	cases := []struct {
		with, total int
		want        float64
	}{
		{0, 0, 0},
		{5, 0, 0},
		{0, 10, 0},
		{5, 10, 50},
		{10, 10, 100},
		{1, 3, 100.0 / 3},
	}
	for _, tc := range cases {
		if got := Percentage(tc.with, tc.total); math.Abs(got-tc.want) > 1e-9 {
			t.Errorf("Percentage(%d, %d) = %v, want %v", tc.with, tc.total, got, tc.want)
		}
	}
}

func TestPercentageBounded(t *testing.T) {
	t.Parallel()
	for total := 0; total <= 50; total++ {
		for with := 0; with <= total; with++ {
			p := Percentage(with, total)
			if p < 0 || p > 100 || math.IsNaN(p) {
				t.Fatalf("Percentage(%d, %d) = %v out of range", with, total, p)
			}
		}
	}
}

func TestAveragePercentage(t *testing.T) {
	t.Parallel()
	if got := AveragePercentage(nil); got != 0 {
		t.Fatalf("empty average = %v", got)
	}
	if got := AveragePercentage([]HistoryRecord{{WithTickets: 50, TotalEvents: 100}}); got != 50 {
		t.Fatalf("single average = %v, want 50", got)
	}
	h := []HistoryRecord{{WithTickets: 50, TotalEvents: 100}, {WithTickets: 0, TotalEvents: 0}, {WithTickets: 10, TotalEvents: 10}}
	if got := AveragePercentage(h); got != 50 {
		t.Fatalf("mixed average = %v, want 50", got)
	}
}

func TestPercentageDrop(t *testing.T) {
	t.Parallel()
	if got := PercentageDrop(50, 0); got != 50 {
		t.Fatalf("drop = %v, want 50", got)
	}
	if got := PercentageDrop(20, 70); got >= 0 {
		t.Fatalf("improvement should be negative, got %v", got)
	}
}

func TestTicketsWereAvailable(t *testing.T) {
	t.Parallel()
	if TicketsWereAvailable(nil) {
		t.Fatal("empty history reported available")
	}
	if !TicketsWereAvailable([]HistoryRecord{{WithTickets: 0, TotalEvents: 10}, {WithTickets: 5, TotalEvents: 10}}) {
		t.Fatal("expected available")
	}
	if TicketsWereAvailable([]HistoryRecord{{WithTickets: 0, TotalEvents: 10}}) {
		t.Fatal("expected unavailable")
	}
}
