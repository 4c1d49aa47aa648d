// Package reconcile maps a freshly built ordered set of report parts onto the
// messages published by the previous cycle, reusing message slots where it can.
package reconcile

import (
	"context"
	"errors"
	"fmt"

	"ticketwatch/internal/channel"
	"ticketwatch/internal/dispatch"
	logx "ticketwatch/pkg/logx"
)

// Executor runs one channel operation to completion. dispatch.Queue satisfies it.
type Executor interface {
	Do(ctx context.Context, task dispatch.Task) (dispatch.Result, error)
}

type Config struct {
	ChatID int64
	// DeleteRecentLimit bounds the cleanup done when no ledger exists.
	DeleteRecentLimit int
}

const DefaultDeleteRecentLimit = 100

// Stats counts what a reconciliation did.
type Stats struct {
	Edited      int
	NotModified int
	Replaced    int
	Sent        int
	Deleted     int
	Failed      int
}

type Reconciler struct {
	exec Executor
	cfg  Config
	log  logx.Logger
}

func New(cfg Config, exec Executor, log logx.Logger) *Reconciler {
	if cfg.DeleteRecentLimit <= 0 {
		cfg.DeleteRecentLimit = DefaultDeleteRecentLimit
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Reconciler{exec: exec, cfg: cfg, log: log}
}

// Reconcile brings the chat in line with parts and returns the new ledger.
//
// The returned ledger is always safe to persist, even alongside an error:
// a failed edit keeps the old id, a failed replacement keeps the stale id,
// a failed append ends the ledger early and a failed trailing delete still
// truncates it. The next cycle repairs whatever is left over.
func (r *Reconciler) Reconcile(ctx context.Context, ledger []int, parts []string) ([]int, error) {
	ids, st, err := r.reconcile(ctx, ledger, parts)
	r.log.Debug("reconciled",
		logx.Int("parts", len(parts)),
		logx.Int("prev_ids", len(ledger)),
		logx.Int("edited", st.Edited),
		logx.Int("not_modified", st.NotModified),
		logx.Int("replaced", st.Replaced),
		logx.Int("sent", st.Sent),
		logx.Int("deleted", st.Deleted),
		logx.Int("failed", st.Failed),
	)
	return ids, err
}

func (r *Reconciler) reconcile(ctx context.Context, ledger []int, parts []string) ([]int, Stats, error) {
	var (
		st   Stats
		errs []error
		chat = r.cfg.ChatID
		ids  = append([]int(nil), ledger...)
	)
	fail := func(err error) {
		st.Failed++
		errs = append(errs, err)
	}
	done := func() ([]int, Stats, error) { return ids, st, errors.Join(errs...) }

	if len(ids) == 0 && len(parts) > 0 {
		if _, err := r.exec.Do(ctx, dispatch.DeleteRecent{ChatID: chat, Limit: r.cfg.DeleteRecentLimit}); err != nil {
			fail(fmt.Errorf("delete recent: %w", err))
		}
	}

	overlap := min(len(ids), len(parts))
	for i := 0; i < overlap; i++ {
		if err := ctx.Err(); err != nil {
			fail(err)
			return done()
		}
		res, err := r.exec.Do(ctx, dispatch.Edit{ChatID: chat, MessageID: ids[i], Text: parts[i]})
		switch {
		case err == nil:
			if res.NotModified {
				st.NotModified++
			} else {
				st.Edited++
			}
			if res.MessageID != 0 {
				ids[i] = res.MessageID
			}
		case errors.Is(err, channel.ErrNotFound):
			sent, serr := r.exec.Do(ctx, dispatch.Send{ChatID: chat, Text: parts[i]})
			if serr != nil {
				fail(fmt.Errorf("replace part %d (stale id %d): %w", i, ids[i], serr))
				continue
			}
			r.log.Info("stale message replaced", logx.Int("part", i), logx.Int("old_id", ids[i]), logx.Int("new_id", sent.MessageID))
			ids[i] = sent.MessageID
			st.Replaced++
		default:
			fail(fmt.Errorf("edit part %d (id %d): %w", i, ids[i], err))
		}
	}

	for i := overlap; i < len(parts); i++ {
		if err := ctx.Err(); err != nil {
			fail(err)
			return done()
		}
		res, err := r.exec.Do(ctx, dispatch.Send{ChatID: chat, Text: parts[i]})
		if err != nil {
			fail(fmt.Errorf("send part %d: %w", i, err))
			break
		}
		ids = append(ids, res.MessageID)
		st.Sent++
	}

	if len(ids) > len(parts) {
		extra := append([]int(nil), ids[len(parts):]...)
		if _, err := r.exec.Do(ctx, dispatch.DeleteBatch{ChatID: chat, MessageIDs: extra}); err != nil {
			r.log.Warn("orphaned report messages", logx.Ints("ids", extra), logx.Err(err))
			fail(fmt.Errorf("delete %d trailing messages: %w", len(extra), err))
		} else {
			st.Deleted += len(extra)
		}
		ids = ids[:len(parts)]
	}
	return done()
}
