package dispatch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"ticketwatch/internal/channel"
	"ticketwatch/internal/eventbus"
)

type fakeChannel struct {
	mu     sync.Mutex
	calls  []string
	nextID int
	// respond returns the error for the n-th call (0-based) of op/text.
	respond func(n int, op, text string) error
	seen    chan string
}

func newFakeChannel(respond func(n int, op, text string) error) *fakeChannel {
	return &fakeChannel{nextID: 100, respond: respond, seen: make(chan string, 64)}
}

func (f *fakeChannel) record(op, text string) (int, error) {
	f.mu.Lock()
	n := len(f.calls)
	f.calls = append(f.calls, op+":"+text)
	f.nextID++
	id := f.nextID
	f.mu.Unlock()
	select {
	case f.seen <- op + ":" + text:
	default:
	}
	if f.respond != nil {
		if err := f.respond(n, op, text); err != nil {
			return 0, err
		}
	}
	return id, nil
}

func (f *fakeChannel) Send(_ context.Context, _ int64, text string) (int, error) {
	return f.record("send", text)
}

func (f *fakeChannel) Edit(_ context.Context, _ int64, id int, text string) (int, error) {
	_, err := f.record("edit", text)
	if errors.Is(err, channel.ErrNotModified) {
		return id, err
	}
	if err != nil {
		return 0, err
	}
	return id, nil
}

func (f *fakeChannel) DeleteBatch(context.Context, int64, []int) error {
	_, err := f.record("delete_batch", "")
	return err
}

func (f *fakeChannel) DeleteRecent(context.Context, int64, int) error {
	_, err := f.record("delete_recent", "")
	return err
}

func (f *fakeChannel) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

type sleepRecorder struct {
	ch   chan time.Duration
	gate chan struct{}
}

func newSleepRecorder() *sleepRecorder {
	return &sleepRecorder{ch: make(chan time.Duration, 64)}
}

func (s *sleepRecorder) sleep(ctx context.Context, d time.Duration) error {
	s.ch <- d
	if s.gate != nil {
		select {
		case <-s.gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return ctx.Err()
}

func (s *sleepRecorder) next(t *testing.T) time.Duration {
	t.Helper()
	select {
	case d := <-s.ch:
		return d
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for inter-task sleep")
		return 0
	}
}

func startQueue(t *testing.T, cfg Config, ch channel.Channel, opts ...Option) *Queue {
	t.Helper()
	q := New(cfg, ch, opts...)
	q.Start(context.Background())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		q.Stop(ctx)
	})
	return q
}

func waitCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestRateLimitStretchesDelayThenResets(t *testing.T) {
	t.Parallel()
	fc := newFakeChannel(func(n int, _, _ string) error {
		if n == 0 {
			return &channel.RateLimitError{RetryAfter: 5 * time.Second}
		}
		return nil
	})
	sr := newSleepRecorder()
	q := startQueue(t, Config{BaseDelay: time.Second, RateLimitMargin: 2 * time.Second}, fc, WithSleep(sr.sleep))

	res, err := q.Do(waitCtx(t), Send{ChatID: 1, Text: "hello"})
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	if res.MessageID == 0 {
		t.Fatal("expected message id")
	}
	if d := sr.next(t); d < 7*time.Second {
		t.Fatalf("delay after rate limit = %s, want >= 7s", d)
	}
	if d := sr.next(t); d != time.Second {
		t.Fatalf("delay after success = %s, want base 1s", d)
	}
	if got := len(fc.Calls()); got != 2 {
		t.Fatalf("calls = %d, want 2", got)
	}
}

func TestTransientErrorsDeadLetter(t *testing.T) {
	t.Parallel()
	boom := errors.New("bad gateway")
	fc := newFakeChannel(func(int, string, string) error { return boom })
	bus := eventbus.New()
	events, unsub := bus.Subscribe(4)
	defer unsub()
	sr := newSleepRecorder()
	q := startQueue(t, Config{MaxAttempts: 3}, fc, WithSleep(sr.sleep), WithBus(bus))

	_, err := q.Do(waitCtx(t), Edit{ChatID: 1, MessageID: 5, Text: "x"})
	if !errors.Is(err, ErrDeadLetter) || !errors.Is(err, boom) {
		t.Fatalf("err = %v, want dead letter wrapping cause", err)
	}
	if got := len(fc.Calls()); got != 3 {
		t.Fatalf("attempts = %d, want 3", got)
	}
	select {
	case e := <-events:
		if e.Type != eventbus.TypeDispatchDead {
			t.Fatalf("event type %q", e.Type)
		}
		if ev, ok := e.Data.(DeadLetterEvent); !ok || ev.Kind != "edit" || ev.Attempts != 3 {
			t.Fatalf("unexpected event data %+v", e.Data)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no dead-letter event")
	}
}

func TestRateLimitRetriesAreCapped(t *testing.T) {
	t.Parallel()
	fc := newFakeChannel(func(int, string, string) error {
		return &channel.RateLimitError{RetryAfter: time.Second}
	})
	sr := newSleepRecorder()
	q := startQueue(t, Config{MaxRateLimitRetries: 2}, fc, WithSleep(sr.sleep))

	_, err := q.Do(waitCtx(t), Send{ChatID: 1, Text: "x"})
	if !errors.Is(err, ErrDeadLetter) {
		t.Fatalf("err = %v, want dead letter", err)
	}
	if got := len(fc.Calls()); got != 3 {
		t.Fatalf("calls = %d, want 3", got)
	}
}

func TestEditOutcomes(t *testing.T) {
	t.Parallel()
	fc := newFakeChannel(func(_ int, _, text string) error {
		switch text {
		case "same":
			return channel.ErrNotModified
		case "gone":
			return channel.ErrNotFound
		}
		return nil
	})
	sr := newSleepRecorder()
	q := startQueue(t, Config{}, fc, WithSleep(sr.sleep))

	res, err := q.Do(waitCtx(t), Edit{ChatID: 1, MessageID: 7, Text: "same"})
	if err != nil || !res.NotModified || res.MessageID != 7 {
		t.Fatalf("not modified: res=%+v err=%v", res, err)
	}
	_, err = q.Do(waitCtx(t), Edit{ChatID: 1, MessageID: 8, Text: "gone"})
	if !errors.Is(err, channel.ErrNotFound) {
		t.Fatalf("not found: err=%v", err)
	}
	if got := len(fc.Calls()); got != 2 {
		t.Fatalf("not found must not be retried, calls = %d", got)
	}
}

func TestFIFOWithRetryAtTail(t *testing.T) {
	t.Parallel()
	release := make(chan struct{})
	fc := newFakeChannel(func(n int, _, text string) error {
		if n == 0 && text == "a" {
			<-release
			return &channel.RateLimitError{RetryAfter: time.Second}
		}
		return nil
	})
	sr := newSleepRecorder()
	q := startQueue(t, Config{}, fc, WithSleep(sr.sleep))

	if err := q.Enqueue(Send{ChatID: 1, Text: "a"}); err != nil {
		t.Fatal(err)
	}
	select {
	case <-fc.seen:
	case <-time.After(2 * time.Second):
		t.Fatal("first task never executed")
	}
	for _, s := range []string{"b", "c"} {
		if err := q.Enqueue(Send{ChatID: 1, Text: s}); err != nil {
			t.Fatal(err)
		}
	}
	close(release)
	sr.next(t)
	if _, err := q.Do(waitCtx(t), Send{ChatID: 1, Text: "d"}); err != nil {
		t.Fatal(err)
	}
	want := []string{"send:a", "send:b", "send:c", "send:a", "send:d"}
	got := fc.Calls()
	if len(got) != len(want) {
		t.Fatalf("calls = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("calls = %v, want %v", got, want)
		}
	}
}

func TestEnqueueBoundedIntake(t *testing.T) {
	t.Parallel()
	fc := newFakeChannel(nil)
	sr := newSleepRecorder()
	sr.gate = make(chan struct{})
	q := startQueue(t, Config{QueueSize: 1}, fc, WithSleep(sr.sleep))
	defer close(sr.gate)

	if err := q.Enqueue(Send{ChatID: 1, Text: "first"}); err != nil {
		t.Fatal(err)
	}
	sr.next(t)
	if err := q.Enqueue(Send{ChatID: 1, Text: "second"}); err != nil {
		t.Fatalf("second enqueue: %v", err)
	}
	if err := q.Enqueue(Send{ChatID: 1, Text: "third"}); !errors.Is(err, ErrQueueFull) {
		t.Fatalf("third enqueue err = %v, want ErrQueueFull", err)
	}
}

func TestStoppedQueueRejects(t *testing.T) {
	t.Parallel()
	q := New(Config{}, newFakeChannel(nil))
	if err := q.Enqueue(Send{Text: "x"}); !errors.Is(err, ErrStopped) {
		t.Fatalf("enqueue before start: %v", err)
	}
	q.Start(context.Background())
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	q.Stop(ctx)
	if _, err := q.Do(context.Background(), Send{Text: "x"}); !errors.Is(err, ErrStopped) {
		t.Fatalf("do after stop: %v", err)
	}
}
