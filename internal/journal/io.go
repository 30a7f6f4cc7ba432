package journal

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// writeJSON serializes v and (re)writes path atomically-enough for a
// single-writer-per-path workload: the whole document is replaced under
// the path's mutex. Disk errors are returned to the caller; callers in
// this package log-and-continue per the Journal's failure semantics.
func (j *Journal) writeJSON(path string, v interface{}) error {
	return j.fsLocks.withLock(path, func() error {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return err
		}
		raw, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			return err
		}
		return os.WriteFile(path, raw, 0o644)
	})
}

// appendIndexLine appends one JSON-encoded line to an append-only index
// log (action_journal_index.log / system_changes_index.log).
func (j *Journal) appendIndexLine(path string, v interface{}) error {
	return j.fsLocks.withLock(path, func() error {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return err
		}
		raw, err := json.Marshal(v)
		if err != nil {
			return err
		}
		f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return err
		}
		defer f.Close()
		_, err = f.Write(append(raw, '\n'))
		return err
	})
}

// appendLogLine appends one formatted log line to path:
// "YYYY-MM-DD HH:MM:SS.fffZ [Level] Message\n".
func (j *Journal) appendLogLine(path string, entry LogRecord) error {
	ts := entry.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	level := entry.Level
	if level == "" {
		level = "INFO"
	}
	line := fmt.Sprintf("%s [%s] %s\n", ts.UTC().Format("2006-01-02 15:04:05.000")+"Z", level, entry.Message)
	return j.fsLocks.withLock(path, func() error {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return err
		}
		f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return err
		}
		defer f.Close()
		_, err = f.WriteString(line)
		return err
	})
}
