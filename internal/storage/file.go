package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"ticketwatch/internal/availability"
	logx "ticketwatch/pkg/logx"
)

// fileStore keeps history in memory and appends every result to a journal.
//
// Files:
//   - <prefix>.history.jsonl (append-only JSON Lines, compacted periodically)
//   - <prefix>.ledger.json   (snapshot, replaced via rename)
type fileStore struct {
	log logx.Logger

	mu sync.Mutex

	historyPath string
	historyFile *os.File
	ledgerPath  string

	keep      int
	retention time.Duration
	history   map[string][]availability.HistoryRecord // oldest first
	writes    int
}

type historyLine struct {
	Site    string    `json:"site"`
	Total   int       `json:"total"`
	With    int       `json:"with"`
	Without int       `json:"without"`
	At      time.Time `json:"at"`
}

const compactEvery = 1000

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}
	dir := filepath.Dir(path)
	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	prefix := filepath.Join(dir, base)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	s := &fileStore{
		log:         log,
		historyPath: prefix + ".history.jsonl",
		ledgerPath:  prefix + ".ledger.json",
		keep:        cfg.KeepPerSite,
		retention:   cfg.Retention,
		history:     map[string][]availability.HistoryRecord{},
	}
	if err := s.replay(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	f, err := os.OpenFile(s.historyPath, os.O_CREATE|os.O_APPEND|os.O_RDWR, 0o600)
	if err != nil {
		return nil, err
	}
	s.historyFile = f
	return s, nil
}

func (s *fileStore) replay() error {
	f, err := os.Open(s.historyPath)
	if err != nil {
		return err
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	skipped := 0
	for sc.Scan() {
		var l historyLine
		if err := json.Unmarshal(sc.Bytes(), &l); err != nil || l.Site == "" {
			skipped++
			continue
		}
		s.addLocked(l.Site, availability.HistoryRecord{WithTickets: l.With, TotalEvents: l.Total, CheckedAt: l.At})
	}
	if skipped > 0 {
		s.log.Warn("skipped corrupt history lines", logx.Int("count", skipped), logx.String("path", s.historyPath))
	}
	return sc.Err()
}

func (s *fileStore) addLocked(site string, rec availability.HistoryRecord) {
	h := append(s.history[site], rec)
	if s.keep > 0 && len(h) > s.keep {
		h = append([]availability.HistoryRecord(nil), h[len(h)-s.keep:]...)
	}
	s.history[site] = h
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.historyFile == nil {
		return nil
	}
	err := s.historyFile.Close()
	s.historyFile = nil
	return err
}

func (s *fileStore) AppendResult(_ context.Context, r availability.SiteCheckResult, at time.Time) error {
	if at.IsZero() {
		at = time.Now()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.historyFile == nil {
		return ErrClosed
	}
	line := historyLine{Site: r.SiteName, Total: r.TotalEvents, With: r.WithTickets, Without: r.WithoutTickets, At: at.UTC()}
	if err := json.NewEncoder(s.historyFile).Encode(line); err != nil {
		return err
	}
	s.addLocked(r.SiteName, r.Record(at.UTC()))
	s.writes++
	if s.writes%compactEvery == 0 {
		if err := s.compactLocked(); err != nil {
			s.log.Debug("history compact failed", logx.Err(err))
		}
	}
	return nil
}

func (s *fileStore) RecentResults(_ context.Context, site string, limit int) ([]availability.HistoryRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.historyFile == nil {
		return nil, ErrClosed
	}
	h := s.history[site]
	cutoff := s.cutoff()
	out := make([]availability.HistoryRecord, 0, min(len(h), max(limit, 0)))
	for i := len(h) - 1; i >= 0 && (limit <= 0 || len(out) < limit); i-- {
		if !cutoff.IsZero() && h[i].CheckedAt.Before(cutoff) {
			break
		}
		out = append(out, h[i])
	}
	return out, nil
}

func (s *fileStore) cutoff() time.Time {
	if s.retention <= 0 {
		return time.Time{}
	}
	return time.Now().Add(-s.retention)
}

// compactLocked rewrites the journal with the retained records only.
func (s *fileStore) compactLocked() error {
	cutoff := s.cutoff()
	tmp := s.historyPath + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	w := bufio.NewWriter(f)
	enc := json.NewEncoder(w)
	for site, h := range s.history {
		kept := h[:0]
		for _, rec := range h {
			if !cutoff.IsZero() && rec.CheckedAt.Before(cutoff) {
				continue
			}
			kept = append(kept, rec)
			if err := enc.Encode(historyLine{Site: site, Total: rec.TotalEvents, With: rec.WithTickets, Without: rec.TotalEvents - rec.WithTickets, At: rec.CheckedAt}); err != nil {
				_ = f.Close()
				return err
			}
		}
		s.history[site] = kept
	}
	if err := w.Flush(); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp, s.historyPath); err != nil {
		return err
	}
	nf, err := os.OpenFile(s.historyPath, os.O_CREATE|os.O_APPEND|os.O_RDWR, 0o600)
	if err != nil {
		return err
	}
	_ = s.historyFile.Close()
	s.historyFile = nf
	return nil
}

func (s *fileStore) LoadLedger(context.Context) ([]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, err := os.ReadFile(s.ledgerPath)
	if errors.Is(err, os.ErrNotExist) {
		return []int{}, nil
	}
	if err != nil {
		return nil, err
	}
	var ids []int
	if err := json.Unmarshal(b, &ids); err != nil {
		return nil, err
	}
	if ids == nil {
		ids = []int{}
	}
	return ids, nil
}

func (s *fileStore) SaveLedger(_ context.Context, ids []int) error {
	if ids == nil {
		ids = []int{}
	}
	b, err := json.MarshalIndent(ids, "", "  ")
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return writeFileAtomic(s.ledgerPath, b)
}

func writeFileAtomic(path string, b []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
