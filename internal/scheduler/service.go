package scheduler

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"ticketwatch/internal/availability"
	"ticketwatch/internal/dispatch"
	"ticketwatch/internal/eventbus"
	"ticketwatch/internal/observability/metrics"
	"ticketwatch/internal/report"
	"ticketwatch/internal/sites"
	"ticketwatch/internal/storage"
	logx "ticketwatch/pkg/logx"
)

type Fetcher interface {
	FetchAll(ctx context.Context, sites []string) ([]availability.SiteCheckResult, []error)
}

type Reconciler interface {
	Reconcile(ctx context.Context, ledger []int, parts []string) ([]int, error)
}

// Enqueuer accepts fire-and-forget channel operations.
type Enqueuer interface {
	Enqueue(task dispatch.Task) error
}

// Deps are the collaborators of a Service. All are required.
type Deps struct {
	Sites      sites.Provider
	Fetcher    Fetcher
	Tracker    *availability.Tracker
	Store      storage.Store
	Reconciler Reconciler
	Alerts     Enqueuer
}

type Config struct {
	Schedule string
	// AlertChatID receives one-off alert messages. Zero disables them.
	AlertChatID int64
	Report      report.Config
}

// CycleSummary describes one finished cycle.
type CycleSummary struct {
	StartedAt time.Time
	Took      time.Duration
	Sites     int
	Results   []availability.SiteCheckResult
	Failed    []error
	Alerts    []availability.Alert
	Parts     []string
	Ledger    []int
	// Skipped is set when the cycle had nothing to publish.
	Skipped bool
}

// Result is the metric label of a cycle outcome.
func (s CycleSummary) Result(err error) string {
	switch {
	case err != nil && len(s.Parts) == 0:
		return "failed"
	case err != nil:
		return "partial"
	case s.Skipped:
		return "skipped"
	default:
		return "ok"
	}
}

var ErrPanic = errors.New("cycle panicked")

type Service struct {
	cfg     Config
	deps    Deps
	trigger Trigger

	log     logx.Logger
	bus     eventbus.Bus
	metrics *metrics.Metrics
	tracer  trace.Tracer
	after   []func(CycleSummary, error)

	// mu serializes cycles; ledger is the last ledger this process published.
	mu     sync.Mutex
	ledger []int
}

type Option func(*Service)

func WithLogger(log logx.Logger) Option { return func(s *Service) { s.log = log } }

func WithBus(bus eventbus.Bus) Option { return func(s *Service) { s.bus = bus } }

func WithMetrics(m *metrics.Metrics) Option { return func(s *Service) { s.metrics = m } }

// WithAfterCycle registers a hook called after every cycle, including failed ones.
func WithAfterCycle(fn func(CycleSummary, error)) Option {
	return func(s *Service) {
		if fn != nil {
			s.after = append(s.after, fn)
		}
	}
}

func New(cfg Config, deps Deps, opts ...Option) (*Service, error) {
	if deps.Sites == nil || deps.Fetcher == nil || deps.Tracker == nil || deps.Store == nil || deps.Reconciler == nil {
		return nil, errors.New("scheduler: missing dependency")
	}
	trig, err := ParseSchedule(cfg.Schedule)
	if err != nil {
		return nil, err
	}
	s := &Service{
		cfg:     cfg,
		deps:    deps,
		trigger: trig,
		log:     logx.Nop(),
		tracer:  otel.Tracer("ticketwatch/internal/scheduler"),
	}
	for _, o := range opts {
		o(s)
	}
	if s.log.IsZero() {
		s.log = logx.Nop()
	}
	return s, nil
}

func (s *Service) Trigger() Trigger { return s.trigger }

// Run executes cycles until ctx is canceled.
func (s *Service) Run(ctx context.Context) error {
	s.log.Info("scheduler started", logx.String("schedule", s.trigger.String()))
	for {
		s.runCycleSafe(ctx)
		if ctx.Err() != nil {
			return nil
		}

		now := time.Now()
		wait := s.trigger.Next(now).Sub(now)
		if wait < 0 {
			wait = 0
		}
		s.log.Debug("next cycle", logx.Duration("in", wait))
		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil
		case <-t.C:
		}
	}
}

// runCycleSafe runs one cycle and contains its errors and panics.
func (s *Service) runCycleSafe(ctx context.Context) (sum CycleSummary, err error) {
	started := time.Now()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrPanic, r)
			s.log.Error("cycle panicked", logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
		}
		if sum.StartedAt.IsZero() {
			sum.StartedAt = started
		}
		sum.Took = time.Since(started)
		s.finish(sum, err)
	}()
	return s.RunCycle(ctx)
}

func (s *Service) finish(sum CycleSummary, err error) {
	result := sum.Result(err)
	s.metrics.CycleFinished(result, sum.Took, len(sum.Results), len(sum.Failed))
	fields := []logx.Field{
		logx.String("result", result),
		logx.Duration("took", sum.Took),
		logx.Int("sites", sum.Sites),
		logx.Int("checked", len(sum.Results)),
		logx.Int("failed", len(sum.Failed)),
		logx.Int("alerts", len(sum.Alerts)),
		logx.Int("parts", len(sum.Parts)),
	}
	if err != nil {
		s.log.Error("cycle failed", append(fields, logx.Err(err))...)
		s.publish(eventbus.TypeCycleFailed, err.Error())
	} else {
		s.log.Info("cycle completed", fields...)
		s.publish(eventbus.TypeCycleCompleted, sum)
	}
	for _, fn := range s.after {
		fn(sum, err)
	}
}

func (s *Service) publish(typ string, data any) {
	if s.bus != nil {
		s.bus.Publish(eventbus.Event{Type: typ, Data: data})
	}
}

// RunCycle runs one cycle. Concurrent calls are serialized.
func (s *Service) RunCycle(ctx context.Context) (CycleSummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ctx, span := s.tracer.Start(ctx, "scheduler.cycle")
	defer span.End()

	sum := CycleSummary{StartedAt: time.Now()}
	s.publish(eventbus.TypeCycleStarted, sum.StartedAt)

	names, err := s.deps.Sites.Sites(ctx)
	if err != nil {
		span.SetStatus(codes.Error, "site list")
		return sum, fmt.Errorf("site list: %w", err)
	}
	sum.Sites = len(names)
	span.SetAttributes(attribute.Int("sites", len(names)))
	if len(names) == 0 {
		s.log.Warn("site list is empty, nothing to check")
		sum.Skipped = true
		return sum, nil
	}

	results, errs := s.deps.Fetcher.FetchAll(ctx, names)
	sum.Results, sum.Failed = results, errs
	for _, e := range errs {
		s.log.Warn("site check failed", logx.Err(e))
	}
	if len(results) == 0 {
		// Keep the previous report rather than publish an empty one.
		span.SetStatus(codes.Error, "no results")
		return sum, fmt.Errorf("all %d site checks failed: %w", len(names), errors.Join(errs...))
	}

	b := report.NewBuilder(s.cfg.Report)
	window := s.deps.Tracker.HistoryWindow()
	for _, r := range results {
		s.observe(ctx, b, r, window, &sum)
	}

	sum.Parts = b.Parts()
	ledger := s.loadLedger(ctx)
	next, rerr := s.deps.Reconciler.Reconcile(ctx, ledger, sum.Parts)
	s.ledger = next
	sum.Ledger = next
	if err := s.deps.Store.SaveLedger(ctx, next); err != nil {
		s.log.Error("saving ledger failed", logx.Ints("ledger", next), logx.Err(err))
	}
	s.metrics.ReportPublished(len(sum.Parts))
	span.SetAttributes(attribute.Int("parts", len(sum.Parts)), attribute.Int("alerts", len(sum.Alerts)))
	if rerr != nil {
		span.SetStatus(codes.Error, "reconcile")
		return sum, fmt.Errorf("reconcile: %w", rerr)
	}
	return sum, nil
}

// observe evaluates one result against its history, renders it and records it.
func (s *Service) observe(ctx context.Context, b *report.Builder, r availability.SiteCheckResult, window int, sum *CycleSummary) {
	log := s.log.With(logx.String("site", r.SiteName))

	history, err := s.deps.Store.RecentResults(ctx, r.SiteName, window)
	if err != nil {
		log.Warn("history unavailable, skipping alert evaluation", logx.Err(err))
	} else if alert, ok := s.deps.Tracker.Evaluate(r, history); ok {
		sum.Alerts = append(sum.Alerts, alert)
		b.AddAlert(alert)
		s.metrics.AlertRaised(alert.Kind.String())
		s.publish(eventbus.TypeAlertRaised, alert)
		log.Info("alert raised",
			logx.String("kind", alert.Kind.String()),
			logx.Float64("average", alert.Average),
			logx.Float64("current", alert.Current),
		)
		if s.cfg.AlertChatID != 0 && s.deps.Alerts != nil {
			task := dispatch.Send{ChatID: s.cfg.AlertChatID, Text: b.AlertText(alert)}
			if err := s.deps.Alerts.Enqueue(task); err != nil {
				log.Error("enqueue alert failed", logx.Err(err))
			}
		}
	}

	b.AddResult(r)
	at := b.CheckedAt()
	s.metrics.SiteObserved(r.SiteName, r.Percentage(), int(availability.StateOf([]availability.HistoryRecord{r.Record(at)})))
	if err := s.deps.Store.AppendResult(ctx, r, at); err != nil {
		log.Error("saving result failed", logx.Err(err))
	}
}

// loadLedger prefers the stored ledger and falls back to the one kept in memory.
func (s *Service) loadLedger(ctx context.Context) []int {
	ids, err := s.deps.Store.LoadLedger(ctx)
	if err == nil {
		return ids
	}
	s.log.Error("loading ledger failed, using in-memory copy", logx.Ints("ledger", s.ledger), logx.Err(err))
	return append([]int(nil), s.ledger...)
}
