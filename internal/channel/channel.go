// Package channel defines the outbound notification channel used for the
// status report and alerts, and the error signals its implementations raise.
package channel

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNotModified means an edit carried the same text as the live message.
	// Callers treat it as success.
	ErrNotModified = errors.New("message is not modified")
	// ErrNotFound means the message referenced by an edit or delete no longer exists
	// (deleted, too old or an invalid id).
	ErrNotFound = errors.New("message not found")
)

// RateLimitError is returned when the platform throttles a call.
type RateLimitError struct {
	RetryAfter time.Duration
	Err        error
}

func (e *RateLimitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("rate limited, retry after %s: %v", e.RetryAfter, e.Err)
	}
	return fmt.Sprintf("rate limited, retry after %s", e.RetryAfter)
}

func (e *RateLimitError) Unwrap() error { return e.Err }

// AsRateLimit extracts a rate-limit signal from err.
func AsRateLimit(err error) (*RateLimitError, bool) {
	var rl *RateLimitError
	if errors.As(err, &rl) && rl != nil {
		return rl, true
	}
	return nil, false
}

// Channel is the message primitive set of a chat platform.
type Channel interface {
	// Send posts text and returns the new message id.
	Send(ctx context.Context, chatID int64, text string) (int, error)
	// Edit replaces the text of an existing message and returns its id.
	Edit(ctx context.Context, chatID int64, messageID int, text string) (int, error)
	// DeleteBatch removes the given messages. Missing messages are not an error.
	DeleteBatch(ctx context.Context, chatID int64, messageIDs []int) error
	// DeleteRecent best-effort removes up to limit of the most recent messages in the chat.
	DeleteRecent(ctx context.Context, chatID int64, limit int) error
}
