package gate

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
)

// DefaultJournalPath is the project-relative decision journal location.
const DefaultJournalPath = ".specgate/decisions.jsonl"

// defaultMaxRecords caps the journal before compaction.
const defaultMaxRecords = 10000

// Record is one journaled gate decision.
type Record struct {
	Timestamp time.Time `json:"ts"`
	Path      string    `json:"path"`
	Decision  string    `json:"decision"`
	Reason    Reason    `json:"reason"`
}

// Journal appends gate decisions to a JSONL file, best-effort. Journal
// failures never affect the decision itself.
type Journal struct {
	mu         sync.Mutex
	path       string
	maxRecords int
	count      int
	logger     *zap.Logger
}

// NewJournal opens (or prepares) the journal at path. Empty path uses
// DefaultJournalPath.
func NewJournal(path string, logger *zap.Logger) *Journal {
	if path == "" {
		path = DefaultJournalPath
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	j := &Journal{path: path, maxRecords: defaultMaxRecords, logger: logger}
	j.count = j.countLines()
	return j
}

// Append writes one record. Errors are logged, never returned.
func (j *Journal) Append(rec Record) {
	if j == nil {
		return
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	data, err := json.Marshal(rec)
	if err != nil {
		j.logger.Warn("marshal journal record", zap.Error(err))
		return
	}

	if err := os.MkdirAll(filepath.Dir(j.path), 0700); err != nil {
		j.logger.Warn("create journal directory", zap.Error(err))
		return
	}

	f, err := os.OpenFile(j.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		j.logger.Warn("open journal", zap.Error(err))
		return
	}
	_, werr := f.Write(append(data, '\n'))
	cerr := f.Close()
	if werr != nil || cerr != nil {
		j.logger.Warn("write journal", zap.Errors("errors", []error{werr, cerr}))
		return
	}

	j.count++
	if j.count > j.maxRecords {
		j.compact()
	}
}

// Tail returns up to n most recent records.
func (j *Journal) Tail(n int) []Record {
	if j == nil || n <= 0 {
		return nil
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	lines := j.readLines()
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}

	out := make([]Record, 0, len(lines))
	for _, line := range lines {
		var rec Record
		if err := json.Unmarshal([]byte(line), &rec); err == nil {
			out = append(out, rec)
		}
	}
	return out
}

// compact rewrites the journal keeping only the newest maxRecords lines.
// Caller holds the mutex.
func (j *Journal) compact() {
	lines := j.readLines()
	if len(lines) > j.maxRecords {
		lines = lines[len(lines)-j.maxRecords:]
	}

	tmp := j.path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0600)
	if err != nil {
		j.logger.Warn("compact journal", zap.Error(err))
		return
	}
	w := bufio.NewWriter(f)
	for _, line := range lines {
		w.WriteString(line)
		w.WriteByte('\n')
	}
	if err := w.Flush(); err != nil {
		f.Close()
		os.Remove(tmp)
		j.logger.Warn("compact journal", zap.Error(err))
		return
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		j.logger.Warn("compact journal", zap.Error(err))
		return
	}
	if err := os.Rename(tmp, j.path); err != nil {
		os.Remove(tmp)
		j.logger.Warn("compact journal", zap.Error(err))
		return
	}
	j.count = len(lines)
}

func (j *Journal) readLines() []string {
	f, err := os.Open(j.path)
	if err != nil {
		return nil
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		if line := scanner.Text(); line != "" {
			lines = append(lines, line)
		}
	}
	return lines
}

func (j *Journal) countLines() int {
	return len(j.readLines())
}
