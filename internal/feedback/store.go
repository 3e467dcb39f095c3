package feedback

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"docintel/internal/models"
	"docintel/internal/util"
)

// Store is an append-only JSONL log of feedback records, one record per
// line. Appends are serialized; existing lines are never rewritten.
type Store struct {
	path string
	mu   sync.Mutex
}

func NewStore(path string) *Store {
	return &Store{path: path}
}

func (s *Store) Append(rec models.FeedbackRecord) error {
	if rec.AnswerRecordID == "" {
		return fmt.Errorf("feedback record missing answer_record_id")
	}
	if rec.SubmittedAt.IsZero() {
		rec.SubmittedAt = time.Now().UTC()
	}
	line, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode feedback record: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := util.EnsureDir(filepath.Dir(s.path)); err != nil {
		return err
	}
	f, err := os.OpenFile(s.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open feedback log: %w", err)
	}
	defer f.Close()
	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("append feedback record: %w", err)
	}
	return nil
}

// All reads every record in submission order. Unparseable lines are
// skipped rather than failing the whole read.
func (s *Store) All() ([]models.FeedbackRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.Open(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("open feedback log: %w", err)
	}
	defer f.Close()

	var out []models.FeedbackRecord
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		var rec models.FeedbackRecord
		if err := json.Unmarshal(line, &rec); err != nil {
			continue
		}
		out = append(out, rec)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("scan feedback log: %w", err)
	}
	return out, nil
}

// CountSince counts records submitted after t, used to compare the
// accumulated feedback volume against the recompilation threshold.
func (s *Store) CountSince(t time.Time) (int, error) {
	recs, err := s.All()
	if err != nil {
		return 0, err
	}
	n := 0
	for _, r := range recs {
		if r.SubmittedAt.After(t) {
			n++
		}
	}
	return n, nil
}

// Accepted returns only the records marked usable as training signal.
func (s *Store) Accepted() ([]models.FeedbackRecord, error) {
	recs, err := s.All()
	if err != nil {
		return nil, err
	}
	out := recs[:0]
	for _, r := range recs {
		if r.Accepted {
			out = append(out, r)
		}
	}
	return out, nil
}
