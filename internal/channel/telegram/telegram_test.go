package telegram

import (
	"errors"
	"testing"
	"time"

	"ticketwatch/internal/channel"
	logx "ticketwatch/pkg/logx"
)

func TestClassify(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name      string
		err       error
		wantIs    error
		wantRetry time.Duration
	}{
		{name: "not modified", err: errors.New("telegram: Bad Request: message is not modified: specified new message content is the same (400)"), wantIs: channel.ErrNotModified},
		{name: "edit not found", err: errors.New("telegram: Bad Request: message to edit not found (400)"), wantIs: channel.ErrNotFound},
		{name: "invalid id", err: errors.New("telegram: Bad Request: MESSAGE_ID_INVALID (400)"), wantIs: channel.ErrNotFound},
		{name: "retry after text", err: errors.New("telegram: Too Many Requests: retry after 7 (429)"), wantRetry: 7 * time.Second},
		{name: "other", err: errors.New("telegram: Bad Request: chat not found (400)")},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got := classify(tc.err)
			if tc.wantIs != nil && !errors.Is(got, tc.wantIs) {
				t.Fatalf("classify(%q) = %v, want wrapping %v", tc.err, got, tc.wantIs)
			}
			rl, ok := channel.AsRateLimit(got)
			if tc.wantRetry > 0 {
				if !ok {
					t.Fatalf("classify(%q) = %v, want rate limit", tc.err, got)
				}
				if rl.RetryAfter != tc.wantRetry {
					t.Fatalf("retry after = %s, want %s", rl.RetryAfter, tc.wantRetry)
				}
				return
			}
			if ok {
				t.Fatalf("unexpected rate limit for %q", tc.err)
			}
			if tc.wantIs == nil && got != tc.err {
				t.Fatalf("classify(%q) changed an unrelated error: %v", tc.err, got)
			}
		})
	}
}

func TestNewRejectsEmptyToken(t *testing.T) {
	t.Parallel()
	if _, err := New(Config{Token: "  ", Offline: true}, logx.Nop()); err == nil {
		t.Fatal("expected error for empty token")
	}
}
