package sites

import (
	"context"
	"strings"
)

// Provider returns the names of the sites to check.
type Provider interface {
	Sites(ctx context.Context) ([]string, error)
}

// Static serves a fixed list.
type Static []string

func (s Static) Sites(context.Context) ([]string, error) {
	return Normalize(s), nil
}

// Normalize trims names, drops empty ones and removes duplicates keeping
// first-seen order.
func Normalize(names []string) []string {
	out := make([]string, 0, len(names))
	seen := make(map[string]struct{}, len(names))
	for _, n := range names {
		n = strings.TrimSpace(n)
		if n == "" {
			continue
		}
		if _, ok := seen[n]; ok {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	return out
}
