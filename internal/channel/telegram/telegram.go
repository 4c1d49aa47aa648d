// Package telegram implements channel.Channel on top of telebot.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	tele "gopkg.in/telebot.v4"

	"ticketwatch/internal/channel"
	logx "ticketwatch/pkg/logx"
)

const (
	defaultRequestTimeout    = 15 * time.Second
	defaultDeleteRecentLimit = 100
	probeText                = "."
)

type Config struct {
	Token          string
	RequestTimeout time.Duration
	// Offline skips the getMe round trip on construction.
	Offline bool
	// URL overrides the Bot API endpoint (tests, local bot API server).
	URL string
}

type Adapter struct {
	cfg Config
	log logx.Logger
	bot *tele.Bot
}

var _ channel.Channel = (*Adapter)(nil)

func New(cfg Config, log logx.Logger) (*Adapter, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}
	b, err := tele.NewBot(tele.Settings{
		URL:     cfg.URL,
		Token:   cfg.Token,
		Client:  &http.Client{Timeout: timeout},
		Offline: cfg.Offline,
	})
	if err != nil {
		return nil, fmt.Errorf("telegram: create bot: %w", err)
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Adapter{cfg: cfg, log: log, bot: b}, nil
}

func (a *Adapter) Send(ctx context.Context, chatID int64, text string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	msg, err := a.bot.Send(&tele.Chat{ID: chatID}, text, &tele.SendOptions{DisableWebPagePreview: true})
	if err != nil {
		return 0, classify(err)
	}
	return msg.ID, nil
}

func (a *Adapter) Edit(ctx context.Context, chatID int64, messageID int, text string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	ref := &tele.Message{ID: messageID, Chat: &tele.Chat{ID: chatID}}
	msg, err := a.bot.Edit(ref, text, &tele.SendOptions{DisableWebPagePreview: true})
	if err != nil {
		err = classify(err)
		if errors.Is(err, channel.ErrNotModified) {
			return messageID, err
		}
		return 0, err
	}
	if msg == nil {
		return messageID, nil
	}
	return msg.ID, nil
}

// DeleteBatch deletes messages one by one. Missing messages are skipped and a
// rate limit aborts the batch so the whole task can be retried.
func (a *Adapter) DeleteBatch(ctx context.Context, chatID int64, messageIDs []int) error {
	var errs []error
	for _, id := range messageIDs {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := a.bot.Delete(&tele.Message{ID: id, Chat: &tele.Chat{ID: chatID}})
		if err == nil {
			continue
		}
		err = classify(err)
		if errors.Is(err, channel.ErrNotFound) {
			continue
		}
		if _, ok := channel.AsRateLimit(err); ok {
			return err
		}
		errs = append(errs, fmt.Errorf("delete %d: %w", id, err))
	}
	return errors.Join(errs...)
}

// DeleteRecent has no history listing to work from, so it posts a probe
// message and walks ids downwards from it. Individual failures are ignored.
func (a *Adapter) DeleteRecent(ctx context.Context, chatID int64, limit int) error {
	if limit <= 0 {
		limit = defaultDeleteRecentLimit
	}
	probe, err := a.bot.Send(&tele.Chat{ID: chatID}, probeText)
	if err != nil {
		return classify(err)
	}
	chat := &tele.Chat{ID: chatID}
	deleted := 0
	for id := probe.ID; id > 0 && id >= probe.ID-limit; id-- {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := a.bot.Delete(&tele.Message{ID: id, Chat: chat}); err != nil {
			if rl, ok := channel.AsRateLimit(classify(err)); ok {
				return rl
			}
			continue
		}
		deleted++
	}
	a.log.Debug("recent messages cleared", logx.Int64("chat_id", chatID), logx.Int("deleted", deleted), logx.Int("probe_id", probe.ID))
	return nil
}

var retryAfterRe = regexp.MustCompile(`(?i)retry after (\d+)`)

// classify maps Bot API errors onto the channel error signals.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var flood tele.FloodError
	if errors.As(err, &flood) {
		return &channel.RateLimitError{RetryAfter: time.Duration(flood.RetryAfter) * time.Second, Err: err}
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "message is not modified"):
		return fmt.Errorf("%w: %v", channel.ErrNotModified, err)
	case strings.Contains(msg, "message to edit not found"),
		strings.Contains(msg, "message to delete not found"),
		strings.Contains(msg, "message_id_invalid"),
		strings.Contains(msg, "message can't be edited"),
		strings.Contains(msg, "message can't be deleted"):
		return fmt.Errorf("%w: %v", channel.ErrNotFound, err)
	}
	if m := retryAfterRe.FindStringSubmatch(msg); m != nil {
		secs, _ := strconv.Atoi(m[1])
		return &channel.RateLimitError{RetryAfter: time.Duration(secs) * time.Second, Err: err}
	}
	return err
}
