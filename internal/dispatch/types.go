package dispatch

import (
	"errors"
	"time"
)

var (
	ErrQueueFull = errors.New("dispatch queue full")
	ErrStopped   = errors.New("dispatch queue stopped")
	// ErrDeadLetter wraps the last error of a task that exhausted its retries.
	ErrDeadLetter = errors.New("dispatch task dead-lettered")
)

// Task is one channel operation. The set of implementations is closed.
type Task interface {
	Kind() string
	Chat() int64
	sealed()
}

type Send struct {
	ChatID int64
	Text   string
}

type Edit struct {
	ChatID    int64
	MessageID int
	Text      string
}

type DeleteBatch struct {
	ChatID     int64
	MessageIDs []int
}

type DeleteRecent struct {
	ChatID int64
	Limit  int
}

func (Send) Kind() string         { return "send" }
func (Edit) Kind() string         { return "edit" }
func (DeleteBatch) Kind() string  { return "delete_batch" }
func (DeleteRecent) Kind() string { return "delete_recent" }

func (t Send) Chat() int64         { return t.ChatID }
func (t Edit) Chat() int64         { return t.ChatID }
func (t DeleteBatch) Chat() int64  { return t.ChatID }
func (t DeleteRecent) Chat() int64 { return t.ChatID }

func (Send) sealed()         {}
func (Edit) sealed()         {}
func (DeleteBatch) sealed()  {}
func (DeleteRecent) sealed() {}

// Result is the outcome of a successfully executed task.
type Result struct {
	// MessageID is set for Send and Edit.
	MessageID int
	// NotModified is set when an Edit carried unchanged text.
	NotModified bool
}

type Config struct {
	BaseDelay           time.Duration
	RateLimitMargin     time.Duration
	MaxAttempts         int
	MaxRateLimitRetries int
	QueueSize           int
	CallTimeout         time.Duration
}

const (
	DefaultBaseDelay           = time.Second
	DefaultRateLimitMargin     = 2 * time.Second
	DefaultMaxAttempts         = 5
	DefaultMaxRateLimitRetries = 20
	DefaultQueueSize           = 1024
	DefaultCallTimeout         = 30 * time.Second
)

func (c Config) withDefaults() Config {
	if c.BaseDelay <= 0 {
		c.BaseDelay = DefaultBaseDelay
	}
	if c.RateLimitMargin < 0 {
		c.RateLimitMargin = 0
	} else if c.RateLimitMargin == 0 {
		c.RateLimitMargin = DefaultRateLimitMargin
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = DefaultMaxAttempts
	}
	if c.MaxRateLimitRetries <= 0 {
		c.MaxRateLimitRetries = DefaultMaxRateLimitRetries
	}
	if c.QueueSize <= 0 {
		c.QueueSize = DefaultQueueSize
	}
	if c.CallTimeout <= 0 {
		c.CallTimeout = DefaultCallTimeout
	}
	return c
}

// DeadLetterEvent is published on the event bus when a task is dropped.
type DeadLetterEvent struct {
	Kind     string `json:"kind"`
	ChatID   int64  `json:"chat_id"`
	Attempts int    `json:"attempts"`
	Error    string `json:"error"`
}
