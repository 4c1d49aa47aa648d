package channel

import (
	"context"
	"strings"
	"sync"
)

// Recorder is an in-memory Channel. It backs the dry-run command and tests:
// every call is recorded and message ids are allocated sequentially.
type Recorder struct {
	mu     sync.Mutex
	nextID int
	live   map[int64]map[int]string
	calls  []Call
}

// Call is one recorded Channel invocation.
type Call struct {
	Op         string
	ChatID     int64
	MessageID  int
	MessageIDs []int
	Limit      int
	Text       string
}

func NewRecorder() *Recorder {
	return &Recorder{nextID: 1, live: make(map[int64]map[int]string)}
}

func (r *Recorder) chat(chatID int64) map[int]string {
	m, ok := r.live[chatID]
	if !ok {
		m = make(map[int]string)
		r.live[chatID] = m
	}
	return m
}

func (r *Recorder) Send(_ context.Context, chatID int64, text string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := r.nextID
	r.nextID++
	r.chat(chatID)[id] = text
	r.calls = append(r.calls, Call{Op: "send", ChatID: chatID, MessageID: id, Text: text})
	return id, nil
}

func (r *Recorder) Edit(_ context.Context, chatID int64, messageID int, text string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, Call{Op: "edit", ChatID: chatID, MessageID: messageID, Text: text})
	m := r.chat(chatID)
	old, ok := m[messageID]
	if !ok {
		return 0, ErrNotFound
	}
	if old == text {
		return messageID, ErrNotModified
	}
	m[messageID] = text
	return messageID, nil
}

func (r *Recorder) DeleteBatch(_ context.Context, chatID int64, messageIDs []int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, Call{Op: "delete_batch", ChatID: chatID, MessageIDs: append([]int(nil), messageIDs...)})
	m := r.chat(chatID)
	for _, id := range messageIDs {
		delete(m, id)
	}
	return nil
}

func (r *Recorder) DeleteRecent(_ context.Context, chatID int64, limit int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, Call{Op: "delete_recent", ChatID: chatID, Limit: limit})
	m := r.chat(chatID)
	for id := r.nextID - 1; id > 0 && id >= r.nextID-limit; id-- {
		delete(m, id)
	}
	return nil
}

// Calls returns a copy of the recorded calls.
func (r *Recorder) Calls() []Call {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Call(nil), r.calls...)
}

// Live returns the current text of a message.
func (r *Recorder) Live(chatID int64, messageID int) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.chat(chatID)[messageID]
	return s, ok
}

// Transcript joins the live messages of a chat in id order.
func (r *Recorder) Transcript(chatID int64) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	m := r.chat(chatID)
	var b strings.Builder
	for id := 1; id < r.nextID; id++ {
		if s, ok := m[id]; ok {
			b.WriteString(s)
		}
	}
	return b.String()
}
