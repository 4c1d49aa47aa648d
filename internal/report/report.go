// Package report renders check results and alerts into the channel status
// report and splits it into length-bounded message parts.
package report

import (
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"ticketwatch/internal/availability"
)

const (
	// DefaultMaxPartLen stays just under the Bot API limit of 4096 characters.
	DefaultMaxPartLen = 4076
	DefaultHeader     = "📈 Результаты проверки мероприятий 📈\n\n"
	DefaultTimeLayout = "02 January 15:04"
)

type Config struct {
	MaxPartLen int
	Header     string
	TimeLayout string
	Location   *time.Location
	// OmitAlerts keeps alert paragraphs out of the status report. Alerts are
	// still rendered by AlertText.
	OmitAlerts bool
	Now        func() time.Time
}

func (c Config) withDefaults() Config {
	if c.MaxPartLen <= 0 {
		c.MaxPartLen = DefaultMaxPartLen
	}
	if c.Header == "" {
		c.Header = DefaultHeader
	}
	if c.TimeLayout == "" {
		c.TimeLayout = DefaultTimeLayout
	}
	if c.Location == nil {
		c.Location = time.Local
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	return c
}

// Section is one rendered status line keyed by site.
type Section struct {
	Site string
	Text string
}

// Builder accumulates one cycle's report. It is not safe for concurrent use.
type Builder struct {
	cfg       Config
	checkedAt time.Time
	sections  []Section
	alerts    []string
}

// NewBuilder starts a report stamped with the current time of cfg.Now.
func NewBuilder(cfg Config) *Builder {
	cfg = cfg.withDefaults()
	return &Builder{cfg: cfg, checkedAt: cfg.Now().In(cfg.Location)}
}

// CheckedAt is the timestamp printed in the footer and alerts.
func (b *Builder) CheckedAt() time.Time { return b.checkedAt }

// Len is the number of status lines added.
func (b *Builder) Len() int { return len(b.sections) }

// Icon returns the severity marker for an availability percentage.
func Icon(pct float64) string {
	switch {
	case pct > 60:
		return "🟢"
	case pct > 50:
		return "🟡"
	case pct > 20:
		return "🟠"
	case pct > 10:
		return "🔴"
	default:
		return "🔴❗"
	}
}

// StatusLine renders one site's status line.
func StatusLine(r availability.SiteCheckResult) string {
	pct := r.Percentage()
	return fmt.Sprintf("%s %s ➖ %d (%.0f%%) из %d\n", Icon(pct), r.SiteName, r.WithTickets, pct, r.TotalEvents)
}

func (b *Builder) AddResult(r availability.SiteCheckResult) {
	b.sections = append(b.sections, Section{Site: r.SiteName, Text: StatusLine(r)})
}

// AddAlert appends an alert block. Consecutive alerts share a paragraph
// while the paragraph stays within MaxPartLen.
func (b *Builder) AddAlert(a availability.Alert) {
	if b.cfg.OmitAlerts {
		return
	}
	block := "\n" + b.AlertText(a)
	n := len(b.alerts)
	if n == 0 || runeLen(b.alerts[n-1])+runeLen(block) > b.cfg.MaxPartLen {
		b.alerts = append(b.alerts, block)
		return
	}
	b.alerts[n-1] += block
}

// AlertText renders the one-off message for the alert chat.
func (b *Builder) AlertText(a availability.Alert) string {
	at := b.checkedAt.Format(b.cfg.TimeLayout)
	switch a.Kind {
	case availability.AlertDrop:
		return fmt.Sprintf("🚨 Внимание! На сайте %s количество мероприятий с билетами упало на %.0f%% (с %.0f%% до %.0f%%).\nВремя проверки: %s\n",
			a.Site, a.Drop, a.Average, a.Current, at)
	case availability.AlertRecovery:
		return fmt.Sprintf("🎉 Внимание! На сайте %s появились билеты. Текущий процент мероприятий с билетами: %.0f%% (с %.0f%% до %.0f%%).\nВремя проверки: %s\n",
			a.Site, a.Current, a.Average, a.Current, at)
	default:
		return fmt.Sprintf("Внимание! На сайте %s изменилась доступность билетов: %.0f%%.\nВремя проверки: %s\n", a.Site, a.Current, at)
	}
}

// Footer is the trailing timestamp block.
func (b *Builder) Footer() string {
	return "\n➖ Последняя проверка: " + b.checkedAt.Format(b.cfg.TimeLayout) + "\n"
}

// Sections returns the status lines sorted by site name.
func (b *Builder) Sections() []Section {
	out := append([]Section(nil), b.sections...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Site < out[j].Site })
	return out
}

func (b *Builder) blocks() []string {
	secs := b.Sections()
	out := make([]string, 0, len(secs)+len(b.alerts))
	for _, s := range secs {
		out = append(out, s.Text)
	}
	return append(out, b.alerts...)
}

// Content is the whole report as one string.
func (b *Builder) Content() string {
	var sb strings.Builder
	sb.WriteString(b.cfg.Header)
	for _, blk := range b.blocks() {
		sb.WriteString(blk)
	}
	sb.WriteString(b.Footer())
	return sb.String()
}

// Parts splits Content into messages of at most MaxPartLen characters without
// cutting a block. A block that alone exceeds the limit becomes its own part.
// Joining the parts yields Content exactly.
func (b *Builder) Parts() []string {
	limit := b.cfg.MaxPartLen
	footer := b.Footer()
	footerLen := runeLen(footer)

	var parts []string
	current := b.cfg.Header
	curLen := runeLen(current)
	for _, blk := range b.blocks() {
		n := runeLen(blk)
		if curLen+n+footerLen > limit && current != "" {
			parts = append(parts, current)
			current, curLen = blk, n
			continue
		}
		current += blk
		curLen += n
	}
	if curLen+footerLen <= limit {
		current += footer
	} else {
		if current != "" {
			parts = append(parts, current)
		}
		current = footer
	}
	return append(parts, current)
}

func runeLen(s string) int { return utf8.RuneCountInString(s) }
