package scheduler

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// TriggerKind tells how the next cycle start is computed.
type TriggerKind int

const (
	// TriggerInterval sleeps a fixed duration after each cycle.
	TriggerInterval TriggerKind = iota
	// TriggerCron waits for the next fire time of a cron expression.
	TriggerCron
)

// Trigger is a parsed schedule string.
//
// Accepted forms:
//   - Go duration: "20s", "2h30m"
//   - HH:MM interval: "00:05" (five minutes)
//   - cron: "*/5 * * * *", "0 */10 * * * *" (with seconds), "@hourly", "@every 90s"
//
// "cron:" and "every:" prefixes force the kind.
type Trigger struct {
	Kind   TriggerKind
	Every  time.Duration
	Expr   string
	sched  cron.Schedule
	Source string // "cron" | "duration" | "hhmm"
}

var (
	reHHMM     = regexp.MustCompile(`^(\d{1,3}):(\d{2})$`)
	cronParser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
)

// ParseSchedule parses raw into a Trigger.
func ParseSchedule(raw string) (Trigger, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return Trigger{}, fmt.Errorf("schedule required")
	}
	low := strings.ToLower(s)
	switch {
	case strings.HasPrefix(low, "cron:"):
		return parseCron(strings.TrimSpace(s[len("cron:"):]))
	case strings.HasPrefix(low, "every:"):
		return parseInterval(strings.TrimSpace(s[len("every:"):]))
	case strings.HasPrefix(s, "@") || strings.ContainsAny(s, " \t"):
		return parseCron(s)
	}
	t, err := parseInterval(s)
	if err != nil {
		return Trigger{}, fmt.Errorf("invalid schedule %q (use a duration like '20s', HH:MM like '00:05' or cron like '*/5 * * * *')", raw)
	}
	return t, nil
}

func parseCron(expr string) (Trigger, error) {
	if expr == "" {
		return Trigger{}, fmt.Errorf("cron expression required")
	}
	sched, err := cronParser.Parse(expr)
	if err != nil {
		return Trigger{}, fmt.Errorf("invalid cron %q: %w", expr, err)
	}
	return Trigger{Kind: TriggerCron, Expr: expr, sched: sched, Source: "cron"}, nil
}

func parseInterval(v string) (Trigger, error) {
	if m := reHHMM.FindStringSubmatch(v); m != nil {
		hh, _ := strconv.Atoi(m[1])
		mm, _ := strconv.Atoi(m[2])
		if mm > 59 {
			return Trigger{}, fmt.Errorf("invalid minutes in %q", v)
		}
		d := time.Duration(hh)*time.Hour + time.Duration(mm)*time.Minute
		if d <= 0 {
			return Trigger{}, fmt.Errorf("interval must be > 0")
		}
		return Trigger{Kind: TriggerInterval, Every: d, Source: "hhmm"}, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return Trigger{}, fmt.Errorf("invalid interval %q", v)
	}
	if d <= 0 {
		return Trigger{}, fmt.Errorf("interval must be > 0")
	}
	return Trigger{Kind: TriggerInterval, Every: d, Source: "duration"}, nil
}

// Next returns the start time of the cycle following one that ended at now.
func (t Trigger) Next(now time.Time) time.Time {
	if t.Kind == TriggerCron && t.sched != nil {
		return t.sched.Next(now)
	}
	return now.Add(t.Every)
}

func (t Trigger) String() string {
	if t.Kind == TriggerCron {
		return "cron(" + t.Expr + ")"
	}
	return "every " + t.Every.String()
}
