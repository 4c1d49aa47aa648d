package report

import (
	"fmt"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"ticketwatch/internal/availability"
)

var fixedNow = time.Date(2026, time.March, 7, 14, 5, 0, 0, time.UTC)

func newBuilder(maxLen int) *Builder {
	return NewBuilder(Config{MaxPartLen: maxLen, Location: time.UTC, Now: func() time.Time { return fixedNow }})
}

func site(t *testing.T, name string, with, total int) availability.SiteCheckResult {
	t.Helper()
	r, err := availability.NewSiteCheckResult(name, total, with, total-with)
	if err != nil {
		t.Fatal(err)
	}
	return r
}

func TestIcon(t *testing.T) {
	t.Parallel()
	cases := []struct {
		pct  float64
		want string
	}{
		{100, "🟢"}, {60.1, "🟢"}, {60, "🟡"}, {50.5, "🟡"}, {50, "🟠"}, {20.1, "🟠"},
		{20, "🔴"}, {10.5, "🔴"}, {10, "🔴❗"}, {0, "🔴❗"},
	}
	for _, tc := range cases {
		if got := Icon(tc.pct); got != tc.want {
			t.Errorf("Icon(%v) = %q, want %q", tc.pct, got, tc.want)
		}
	}
}

func TestStatusLine(t *testing.T) {
	t.Parallel()
	got := StatusLine(site(t, "moscow", 3, 4))
	want := "🟢 moscow ➖ 3 (75%) из 4\n"
	if got != want {
		t.Fatalf("StatusLine = %q, want %q", got, want)
	}
}

func TestContentSortedWithFooter(t *testing.T) {
	t.Parallel()
	b := newBuilder(0)
	b.AddResult(site(t, "zeta", 1, 10))
	b.AddResult(site(t, "alpha", 9, 10))
	c := b.Content()
	if !strings.HasPrefix(c, DefaultHeader) {
		t.Fatalf("missing header: %q", c)
	}
	if strings.Index(c, "alpha") > strings.Index(c, "zeta") {
		t.Fatalf("lines not sorted: %q", c)
	}
	if !strings.HasSuffix(c, "\n➖ Последняя проверка: 07 March 14:05\n") {
		t.Fatalf("unexpected footer: %q", c)
	}
	if parts := b.Parts(); len(parts) != 1 || parts[0] != c {
		t.Fatalf("short report should be one part, got %d", len(parts))
	}
}

func TestPartsReconstructAndBound(t *testing.T) {
	t.Parallel()
	for _, maxLen := range []int{120, 200, 500, DefaultMaxPartLen} {
		b := newBuilder(maxLen)
		for i := 0; i < 300; i++ {
			b.AddResult(site(t, fmt.Sprintf("site-%03d", i), i%7, 7))
		}
		parts := b.Parts()
		if got := strings.Join(parts, ""); got != b.Content() {
			t.Fatalf("max %d: parts do not reconstruct content", maxLen)
		}
		for i, p := range parts {
			if n := utf8.RuneCountInString(p); n > maxLen {
				t.Fatalf("max %d: part %d has %d runes", maxLen, i, n)
			}
		}
		if maxLen < DefaultMaxPartLen && len(parts) < 2 {
			t.Fatalf("max %d: expected a split, got %d parts", maxLen, len(parts))
		}
	}
}

func TestPartsNeverSplitBlocks(t *testing.T) {
	t.Parallel()
	b := newBuilder(150)
	for i := 0; i < 20; i++ {
		b.AddResult(site(t, fmt.Sprintf("s%02d", i), 1, 2))
	}
	for _, p := range b.Parts() {
		body := strings.TrimPrefix(p, DefaultHeader)
		body = strings.TrimSuffix(body, b.Footer())
		if body != "" && !strings.HasSuffix(body, "\n") {
			t.Fatalf("part ends mid-line: %q", p)
		}
	}
}

func TestFooterOwnPartWhenNoRoom(t *testing.T) {
	t.Parallel()
	b := NewBuilder(Config{MaxPartLen: 60, Header: "H\n", Location: time.UTC, Now: func() time.Time { return fixedNow }})
	b.AddResult(availability.SiteCheckResult{SiteName: strings.Repeat("x", 40), TotalEvents: 1, WithTickets: 1})
	parts := b.Parts()
	if parts[len(parts)-1] != b.Footer() {
		t.Fatalf("expected footer as its own part, got %q", parts)
	}
	if strings.Join(parts, "") != b.Content() {
		t.Fatal("reconstruction failed")
	}
}

func TestAlertsCoalesce(t *testing.T) {
	t.Parallel()
	b := newBuilder(0)
	b.AddResult(site(t, "a", 0, 10))
	b.AddAlert(availability.Alert{Kind: availability.AlertDrop, Site: "a", Drop: 50, Average: 50})
	b.AddAlert(availability.Alert{Kind: availability.AlertRecovery, Site: "b", Current: 10})
	if len(b.alerts) != 1 {
		t.Fatalf("alerts not coalesced: %d paragraphs", len(b.alerts))
	}
	c := b.Content()
	if !strings.Contains(c, "упало на 50% (с 50% до 0%)") || !strings.Contains(c, "появились билеты") {
		t.Fatalf("alert text missing: %q", c)
	}

	small := newBuilder(200)
	for i := 0; i < 3; i++ {
		small.AddAlert(availability.Alert{Kind: availability.AlertDrop, Site: fmt.Sprint(i), Drop: 20})
	}
	if len(small.alerts) < 2 {
		t.Fatalf("expected overflow into new paragraphs, got %d", len(small.alerts))
	}
	if strings.Join(small.Parts(), "") != small.Content() {
		t.Fatal("reconstruction failed with alerts")
	}
}

func TestOmitAlerts(t *testing.T) {
	t.Parallel()
	b := NewBuilder(Config{OmitAlerts: true, Now: func() time.Time { return fixedNow }})
	b.AddAlert(availability.Alert{Kind: availability.AlertDrop, Site: "a"})
	if strings.Contains(b.Content(), "Внимание") {
		t.Fatal("alert rendered into report despite OmitAlerts")
	}
	if !strings.Contains(b.AlertText(availability.Alert{Kind: availability.AlertDrop, Site: "a"}), "Внимание") {
		t.Fatal("AlertText empty")
	}
}
