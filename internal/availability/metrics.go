package availability

// Percentage returns with/total*100, or 0 when total is not positive.
func Percentage(with, total int) float64 {
	if total <= 0 {
		return 0
	}
	return float64(with) / float64(total) * 100
}

// AveragePercentage is the mean of the per-record percentages; 0 for empty history.
func AveragePercentage(history []HistoryRecord) float64 {
	if len(history) == 0 {
		return 0
	}
	var sum float64
	for _, h := range history {
		sum += Percentage(h.WithTickets, h.TotalEvents)
	}
	return sum / float64(len(history))
}

// PercentageDrop is avgPrev - current. A negative value means improvement.
func PercentageDrop(avgPrev, current float64) float64 {
	return avgPrev - current
}

// TicketsWereAvailable reports whether any record had events with tickets.
func TicketsWereAvailable(history []HistoryRecord) bool {
	for _, h := range history {
		if h.WithTickets > 0 {
			return true
		}
	}
	return false
}
