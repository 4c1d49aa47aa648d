package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"ticketwatch/internal/channel"
	"ticketwatch/internal/eventbus"
	"ticketwatch/internal/observability/metrics"
	rtsup "ticketwatch/internal/runtime/supervisor"
	logx "ticketwatch/pkg/logx"
)

type outcome struct {
	res Result
	err error
}

type item struct {
	task       Task
	attempts   int
	rateLimits int
	reply      chan outcome
}

// Queue is a FIFO of channel operations drained by one consumer goroutine.
//
// It is safe for concurrent use.
type Queue struct {
	mu sync.Mutex

	cfg     Config
	ch      channel.Channel
	log     logx.Logger
	bus     eventbus.Bus
	metrics *metrics.Metrics
	sleep   func(ctx context.Context, d time.Duration) error

	pending   []*item
	signal    chan struct{}
	delay     time.Duration
	accepting bool
	sup       *rtsup.Supervisor
}

type Option func(*Queue)

func WithLogger(log logx.Logger) Option { return func(q *Queue) { q.log = log } }

func WithBus(bus eventbus.Bus) Option { return func(q *Queue) { q.bus = bus } }

func WithMetrics(m *metrics.Metrics) Option { return func(q *Queue) { q.metrics = m } }

// WithSleep replaces the inter-task pause.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(q *Queue) { q.sleep = fn }
}

func New(cfg Config, ch channel.Channel, opts ...Option) *Queue {
	q := &Queue{
		ch:     ch,
		log:    logx.Nop(),
		signal: make(chan struct{}, 1),
		sleep:  sleepCtx,
	}
	for _, o := range opts {
		o(q)
	}
	if q.log.IsZero() {
		q.log = logx.Nop()
	}
	q.cfg = cfg.withDefaults()
	q.delay = q.cfg.BaseDelay
	return q
}

// Supervisor returns the consumer supervisor (nil if not started).
func (q *Queue) Supervisor() *rtsup.Supervisor {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.sup
}

// Delay is the pause the consumer takes after the current task.
func (q *Queue) Delay() time.Duration {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.delay
}

// Len is the number of tasks waiting, retries included.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Start launches the consumer. It is idempotent.
func (q *Queue) Start(ctx context.Context) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.sup != nil {
		return
	}
	q.accepting = true
	m := q.metrics
	q.sup = rtsup.New(ctx,
		rtsup.WithLogger(q.log),
		rtsup.WithCancelOnError(false),
		rtsup.WithRestartHook(func(name string, _ error) { m.Restart(name) }),
	)
	q.sup.GoRestart("dispatch.consumer", q.consume,
		rtsup.WithRestartBackoff(500*time.Millisecond, 10*time.Second),
		rtsup.WithPublishFirstError(true),
	)
}

// Stop stops intake and drains the queue best-effort until ctx is done.
// Tasks still waiting after that fail with ErrStopped.
func (q *Queue) Stop(ctx context.Context) {
	q.mu.Lock()
	sup := q.sup
	q.accepting = false
	q.mu.Unlock()
	if sup == nil {
		return
	}
	q.notify()

	if err := sup.Wait(ctx); err != nil && ctx.Err() != nil {
		sup.Cancel()
		q.log.Warn("dispatch drain interrupted", logx.Int("pending", q.Len()))
	}

	q.mu.Lock()
	left := q.pending
	q.pending = nil
	q.sup = nil
	q.mu.Unlock()
	for _, it := range left {
		q.finish(it, Result{}, ErrStopped)
	}
}

// Enqueue adds a fire-and-forget task. It never blocks.
func (q *Queue) Enqueue(task Task) error {
	return q.push(&item{task: task})
}

// Do enqueues task and waits for its final outcome. Cancelling ctx stops the
// wait but not the task.
func (q *Queue) Do(ctx context.Context, task Task) (Result, error) {
	it := &item{task: task, reply: make(chan outcome, 1)}
	if err := q.push(it); err != nil {
		return Result{}, err
	}
	select {
	case out := <-it.reply:
		return out.res, out.err
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

func (q *Queue) push(it *item) error {
	if it.task == nil {
		return errors.New("dispatch: nil task")
	}
	q.mu.Lock()
	if !q.accepting {
		q.mu.Unlock()
		return ErrStopped
	}
	if len(q.pending) >= q.cfg.QueueSize {
		q.mu.Unlock()
		q.metrics.DispatchTask(it.task.Kind(), "queue_full")
		return ErrQueueFull
	}
	q.pending = append(q.pending, it)
	depth := len(q.pending)
	delay := q.delay
	q.mu.Unlock()
	q.metrics.DispatchState(delay, depth)
	q.notify()
	return nil
}

// requeue puts a retry at the tail. Retries bypass the intake bound.
func (q *Queue) requeue(it *item) {
	q.mu.Lock()
	q.pending = append(q.pending, it)
	q.mu.Unlock()
	q.notify()
}

func (q *Queue) notify() {
	select {
	case q.signal <- struct{}{}:
	default:
	}
}

func (q *Queue) next(ctx context.Context) (*item, bool) {
	for {
		q.mu.Lock()
		if len(q.pending) > 0 {
			it := q.pending[0]
			q.pending[0] = nil
			q.pending = q.pending[1:]
			depth, delay := len(q.pending), q.delay
			q.mu.Unlock()
			q.metrics.DispatchState(delay, depth)
			return it, true
		}
		stopping := !q.accepting
		q.mu.Unlock()
		if stopping {
			return nil, false
		}
		select {
		case <-ctx.Done():
			return nil, false
		case <-q.signal:
		}
	}
}

func (q *Queue) consume(ctx context.Context) error {
	for {
		it, ok := q.next(ctx)
		if !ok {
			return nil
		}
		q.process(ctx, it)
		if err := q.sleep(ctx, q.Delay()); err != nil {
			return nil
		}
	}
}

func (q *Queue) setDelay(d time.Duration) {
	q.mu.Lock()
	q.delay = d
	depth := len(q.pending)
	q.mu.Unlock()
	q.metrics.DispatchState(d, depth)
}

func (q *Queue) process(ctx context.Context, it *item) {
	defer func() {
		if r := recover(); r != nil {
			q.finish(it, Result{}, fmt.Errorf("dispatch: panic executing %s: %v", it.task.Kind(), r))
			panic(r)
		}
	}()

	kind := it.task.Kind()
	res, err := q.execute(ctx, it.task)
	if err != nil && ctx.Err() != nil {
		q.finish(it, Result{}, fmt.Errorf("%w: %w", ErrStopped, err))
		return
	}

	if rl, ok := channel.AsRateLimit(err); ok {
		it.rateLimits++
		d := rl.RetryAfter + q.cfg.RateLimitMargin
		q.setDelay(d)
		q.metrics.DispatchTask(kind, "rate_limited")
		q.log.Warn("rate limited", logx.String("task", kind), logx.Duration("retry_after", rl.RetryAfter), logx.Duration("delay", d), logx.Int("retries", it.rateLimits))
		if it.rateLimits > q.cfg.MaxRateLimitRetries {
			q.deadLetter(it, err, it.rateLimits)
			return
		}
		q.requeue(it)
		return
	}

	switch {
	case err == nil:
		q.setDelay(q.cfg.BaseDelay)
		q.metrics.DispatchTask(kind, "ok")
		q.finish(it, res, nil)
	case errors.Is(err, channel.ErrNotModified):
		q.setDelay(q.cfg.BaseDelay)
		q.metrics.DispatchTask(kind, "not_modified")
		res.NotModified = true
		q.finish(it, res, nil)
	case errors.Is(err, channel.ErrNotFound), errors.Is(err, errUnknownTask):
		q.metrics.DispatchTask(kind, "not_found")
		q.finish(it, Result{}, err)
	default:
		it.attempts++
		q.metrics.DispatchTask(kind, "error")
		q.log.Warn("channel call failed", logx.String("task", kind), logx.Int("attempt", it.attempts), logx.Err(err))
		if it.attempts >= q.cfg.MaxAttempts {
			q.deadLetter(it, err, it.attempts)
			return
		}
		q.requeue(it)
	}
}

var errUnknownTask = errors.New("dispatch: unknown task type")

func (q *Queue) execute(ctx context.Context, task Task) (Result, error) {
	cctx, cancel := context.WithTimeout(ctx, q.cfg.CallTimeout)
	defer cancel()

	switch t := task.(type) {
	case Send:
		id, err := q.ch.Send(cctx, t.ChatID, t.Text)
		return Result{MessageID: id}, err
	case Edit:
		id, err := q.ch.Edit(cctx, t.ChatID, t.MessageID, t.Text)
		return Result{MessageID: id}, err
	case DeleteBatch:
		return Result{}, q.ch.DeleteBatch(cctx, t.ChatID, t.MessageIDs)
	case DeleteRecent:
		return Result{}, q.ch.DeleteRecent(cctx, t.ChatID, t.Limit)
	default:
		return Result{}, fmt.Errorf("%w: %T", errUnknownTask, task)
	}
}

func (q *Queue) deadLetter(it *item, err error, attempts int) {
	kind := it.task.Kind()
	q.log.Error("task dead-lettered", logx.String("task", kind), logx.Int64("chat_id", it.task.Chat()), logx.Int("attempts", attempts), logx.Err(err))
	q.metrics.DeadLetter(kind)
	if q.bus != nil {
		q.bus.Publish(eventbus.Event{Type: eventbus.TypeDispatchDead, Time: time.Now(), Data: DeadLetterEvent{
			Kind: kind, ChatID: it.task.Chat(), Attempts: attempts, Error: err.Error(),
		}})
	}
	q.finish(it, Result{}, fmt.Errorf("%w after %d attempts: %w", ErrDeadLetter, attempts, err))
}

func (q *Queue) finish(it *item, res Result, err error) {
	if it.reply != nil {
		select {
		case it.reply <- outcome{res: res, err: err}:
		default:
		}
		return
	}
	if err != nil && !errors.Is(err, ErrDeadLetter) {
		q.log.Warn("fire-and-forget task failed", logx.String("task", it.task.Kind()), logx.Err(err))
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
