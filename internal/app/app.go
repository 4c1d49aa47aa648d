// Package app wires configuration, logging, storage, the channel adapter and
// the check scheduler into a runnable process.
package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"ticketwatch/internal/availability"
	"ticketwatch/internal/channel"
	"ticketwatch/internal/channel/telegram"
	"ticketwatch/internal/config"
	"ticketwatch/internal/dispatch"
	"ticketwatch/internal/eventbus"
	"ticketwatch/internal/fetcher"
	"ticketwatch/internal/observability/httpserver"
	"ticketwatch/internal/observability/metrics"
	"ticketwatch/internal/observability/tracing"
	"ticketwatch/internal/reconcile"
	rtsup "ticketwatch/internal/runtime/supervisor"
	"ticketwatch/internal/scheduler"
	"ticketwatch/internal/sites"
	"ticketwatch/internal/storage"
	logx "ticketwatch/pkg/logx"
)

type App struct {
	cfgm *config.ConfigManager

	log     logx.Logger
	logs    *logx.Service
	bus     eventbus.Bus
	metrics *metrics.Metrics
	tracing tracing.Runtime

	ch      channel.Channel
	store   storage.Store
	sites   sites.Provider
	pg      *sites.Postgres
	queue   *dispatch.Queue
	tracker *availability.Tracker
	sched   *scheduler.Service
	http    *httpserver.Service
	health  *health
	sd      *sdNotifier

	sup *rtsup.Supervisor
}

type options struct {
	channel channel.Channel
	store   storage.Store
	noPause bool
}

type Option func(*options)

// WithChannel replaces the Telegram adapter.
func WithChannel(ch channel.Channel) Option { return func(o *options) { o.channel = ch } }

// WithStore replaces the configured store. The App closes it on Stop.
func WithStore(st storage.Store) Option { return func(o *options) { o.store = st } }

// WithoutPacing drops the pause between channel operations.
func WithoutPacing() Option { return func(o *options) { o.noPause = true } }

// New loads the config at cfgPath and builds every component. Nothing runs
// until Start.
func New(cfgPath string, opts ...Option) (*App, error) {
	var o options
	for _, fn := range opts {
		fn(&o)
	}

	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	if err := ValidateConfig(context.Background(), cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	// The chat sink needs the channel, which is built after the logger.
	logSvc, root := logx.New(mapLogConfig(cfg), nil)
	log := root.With(logx.String("comp", "app"))
	comp := func(name string) logx.Logger { return root.With(logx.String("comp", name)) }

	a := &App{
		cfgm:    cfgm,
		log:     log,
		logs:    logSvc,
		bus:     eventbus.New(),
		metrics: metrics.New(),
		health:  newHealth(time.Now()),
		sd:      newSDNotifier(comp("systemd")),
	}
	ok := false
	defer func() {
		if !ok {
			a.closeResources(context.Background())
		}
	}()

	if a.tracing, err = tracing.Setup(mapTracingConfig(cfg)); err != nil {
		return nil, fmt.Errorf("tracing: %w", err)
	}

	if a.ch = o.channel; a.ch == nil {
		tc, err := mapTelegramConfig(cfg)
		if err != nil {
			return nil, err
		}
		ad, err := telegram.New(tc, comp("telegram"))
		if err != nil {
			return nil, err
		}
		a.ch = ad
	}
	logSvc.SetSender(a.ch)

	if a.store = o.store; a.store == nil {
		sc, err := mapStorageConfig(cfg)
		if err != nil {
			return nil, err
		}
		if a.store, err = storage.Open(sc, comp("storage")); err != nil {
			return nil, fmt.Errorf("storage: %w", err)
		}
		log.Info("storage opened", logx.String("driver", sc.Driver), logx.String("path", sc.Path))
	}

	if err := a.buildSites(cfg, comp("sites")); err != nil {
		return nil, err
	}

	dc, err := mapDispatchConfig(cfg)
	if err != nil {
		return nil, err
	}
	qopts := []dispatch.Option{dispatch.WithLogger(comp("dispatch")), dispatch.WithBus(a.bus), dispatch.WithMetrics(a.metrics)}
	if o.noPause {
		qopts = append(qopts, dispatch.WithSleep(func(ctx context.Context, _ time.Duration) error { return ctx.Err() }))
	}
	a.queue = dispatch.New(dc, a.ch, qopts...)

	fc, err := mapFetcherConfig(cfg)
	if err != nil {
		return nil, err
	}
	fetch, err := fetcher.New(fc, fetcher.WithLogger(comp("fetcher")), fetcher.WithMetrics(a.metrics))
	if err != nil {
		return nil, err
	}

	a.tracker = availability.NewTracker(mapTrackerConfig(cfg))
	sc, err := mapSchedulerConfig(cfg)
	if err != nil {
		return nil, err
	}
	a.sched, err = scheduler.New(sc, scheduler.Deps{
		Sites:      a.sites,
		Fetcher:    fetch,
		Tracker:    a.tracker,
		Store:      a.store,
		Reconciler: reconcile.New(mapReconcileConfig(cfg), a.queue, comp("reconcile")),
		Alerts:     a.queue,
	},
		scheduler.WithLogger(comp("scheduler")),
		scheduler.WithBus(a.bus),
		scheduler.WithMetrics(a.metrics),
		scheduler.WithAfterCycle(a.health.observe),
		scheduler.WithAfterCycle(func(scheduler.CycleSummary, error) {
			if a.health.healthy() {
				a.sd.Watchdog()
			}
		}),
	)
	if err != nil {
		return nil, err
	}

	a.http = httpserver.New(mapHTTPConfig(cfg), httpserver.Handlers{
		Metrics: a.metrics.Handler(),
		Health:  a.healthReport,
	}, comp("http"))

	ok = true
	return a, nil
}

func (a *App) buildSites(cfg *config.Config, log logx.Logger) error {
	if strings.TrimSpace(cfg.Sites.Postgres.DSN) == "" {
		a.sites = sites.Static(cfg.Sites.Static)
		log.Info("using static site list", logx.Int("sites", len(cfg.Sites.Static)))
		return nil
	}
	pc, err := mapPostgresConfig(cfg)
	if err != nil {
		return err
	}
	pg, err := sites.NewPostgres(pc, log)
	if err != nil {
		return err
	}
	a.pg = pg
	a.sites = sites.NewCached(pg, backupFile(cfg),
		sites.WithLogger(log),
		sites.WithBus(a.bus),
		sites.WithMetrics(a.metrics),
	)
	return nil
}

func (a *App) Logger() logx.Logger { return a.log }

func (a *App) Config() *config.Config { return a.cfgm.Get() }

func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) healthReport() (bool, any) {
	sups := map[string]*rtsup.Supervisor{"app": a.sup, "dispatch": a.queue.Supervisor(), "http": a.http.Supervisor()}
	return a.health.report(time.Now(), a.queue, sups)
}

// Start launches the dispatch consumer, the scheduler loop, the HTTP server
// and config hot reload.
func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.New(ctx,
		rtsup.WithLogger(a.log),
		rtsup.WithCancelOnError(true),
		rtsup.WithRestartHook(func(name string, _ error) { a.metrics.Restart(name) }),
	)
	c := a.sup.Context()

	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(ValidateConfig)

	// The queue outlives the supervisor so Stop can drain it.
	a.queue.Start(context.WithoutCancel(ctx))
	a.http.Start(c, rtsup.WithRestartHook(func(name string, _ error) { a.metrics.Restart(name) }))

	a.sup.Go("scheduler", a.sched.Run)
	a.sup.Go("eventbus.log", a.logEvents)
	a.sup.Go("config.reload", a.reloadLoop)
	a.sup.Go("config.watch", a.cfgm.Watch)
	a.sup.Go("systemd.watchdog", func(c context.Context) error { return a.sd.WatchdogLoop(c, a.health.healthy) })

	a.sd.Ready()
	a.log.Info("app started", logx.String("schedule", a.sched.Trigger().String()))
	return nil
}

// CheckOnce runs a single cycle outside the scheduler loop and drains the
// dispatch queue before returning.
func (a *App) CheckOnce(ctx context.Context) (scheduler.CycleSummary, error) {
	a.queue.Start(ctx)
	sum, err := a.sched.RunCycle(ctx)
	a.health.observe(sum, err)
	stopCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	a.queue.Stop(stopCtx)
	cancel()
	return sum, err
}

func (a *App) logEvents(ctx context.Context) error {
	events, unsub := a.bus.Subscribe(128)
	defer unsub()
	log := a.log.With(logx.String("comp", "events"))
	for {
		select {
		case <-ctx.Done():
			return nil
		case e, ok := <-events:
			if !ok {
				return nil
			}
			switch e.Type {
			case eventbus.TypeDispatchDead:
				log.Warn("channel operation dead-lettered", logx.Any("task", e.Data))
			case eventbus.TypeSiteListFallback:
				log.Warn("site list served from backup", logx.Any("data", e.Data))
			default:
				log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
			}
		}
	}
}

// reloadLoop applies hot-reloadable sections (logging, alert thresholds).
func (a *App) reloadLoop(ctx context.Context) error {
	sub := a.cfgm.Subscribe(8)
	defer a.cfgm.Unsubscribe(sub)
	last := a.cfgm.Get()
	for {
		select {
		case <-ctx.Done():
			return nil
		case next, ok := <-sub:
			if !ok {
				return nil
			}
			a.applyConfig(last, next)
			last = next
		}
	}
}

func (a *App) applyConfig(prev, next *config.Config) {
	change := config.SummarizeChange(prev, next)
	if change.Empty() {
		a.log.Info("config reloaded (no changes)")
		return
	}
	a.logs.Apply(mapLogConfig(next))
	a.tracker.Apply(mapTrackerConfig(next))
	if len(change.NeedsRestart) > 0 {
		a.log.Warn("config sections changed that require a restart", logx.String("sections", strings.Join(change.NeedsRestart, ",")))
	}
	a.bus.Publish(eventbus.Event{Type: eventbus.TypeConfigReloaded, Data: change.Sections})
	fields := append([]logx.Field{logx.String("changed", strings.Join(change.Sections, ","))}, change.Attrs...)
	a.log.Info("config reloaded", fields...)
}

// Stop shuts components down in dependency order. Each step is bounded.
func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		a.closeResources(ctx)
		return a.logs.Close()
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	a.sd.Stopping()
	a.sup.Cancel()

	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		sctx, cancel := context.WithTimeout(ctx, max)
		defer cancel()
		if err := fn(sctx); err != nil && !errors.Is(err, context.Canceled) {
			a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
		}
		a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
	}

	step("supervisor", 3*time.Second, a.sup.Wait)
	step("http", time.Second, func(c context.Context) error { a.http.Stop(c); return nil })
	step("dispatch", 10*time.Second, func(c context.Context) error { a.queue.Stop(c); return nil })
	a.closeResources(ctx)
	a.log.Info("stopped")
	return a.logs.Close()
}

// closeResources releases what New acquired. Safe on a partially built App.
func (a *App) closeResources(ctx context.Context) {
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.log.Warn("storage close failed", logx.Err(err))
		}
	}
	if a.pg != nil {
		a.pg.Close()
	}
	if a.tracing.Shutdown != nil {
		sctx, cancel := context.WithTimeout(ctx, time.Second)
		_ = a.tracing.Shutdown(sctx)
		cancel()
	}
}
