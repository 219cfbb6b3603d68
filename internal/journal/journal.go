// Package journal persists the item -> job handle assignments of a workflow
// run as an append-only JSON-lines file. Each entry is written before the
// corresponding submission, so a coordinator that crashed between submitting
// and awaiting can re-attach to outstanding jobs instead of resubmitting
// finished work.
package journal

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/vk/hubflow/internal/backend"
)

// Entry is one recorded submission.
type Entry struct {
	Item      string         `json:"item"`
	Handle    backend.Handle `json:"handle"`
	Timestamp time.Time      `json:"timestamp"`
}

// Journal is an append-only submission log. The zero value is a valid no-op
// journal for callers that do not need crash recovery.
type Journal struct {
	mu      sync.Mutex
	file    *os.File
	entries map[string]backend.Handle
}

// Open opens (or creates) the journal file at path and replays any entries
// already present. Later entries for the same item win, matching the retry
// semantics of the runner.
func Open(path string) (*Journal, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("journal: open %s: %w", path, err)
	}

	j := &Journal{file: f, entries: map[string]backend.Handle{}}

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var e Entry
		if err := json.Unmarshal(line, &e); err != nil {
			f.Close()
			return nil, fmt.Errorf("journal: corrupt entry in %s: %w", path, err)
		}
		j.entries[e.Item] = e.Handle
	}
	if err := scanner.Err(); err != nil {
		f.Close()
		return nil, fmt.Errorf("journal: read %s: %w", path, err)
	}

	return j, nil
}

// Record appends an item -> handle assignment. It must be called before the
// submission is awaited; a write failure fails the submission, because the
// log is the crash-consistency guarantee.
func (j *Journal) Record(item string, h backend.Handle) error {
	if j == nil || j.file == nil {
		return nil
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	line, err := json.Marshal(Entry{Item: item, Handle: h, Timestamp: time.Now().UTC()})
	if err != nil {
		return fmt.Errorf("journal: encode entry: %w", err)
	}
	if _, err := j.file.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("journal: append entry: %w", err)
	}
	j.entries[item] = h
	return nil
}

// Lookup returns the last recorded handle for an item, if any.
func (j *Journal) Lookup(item string) (backend.Handle, bool) {
	if j == nil {
		return "", false
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	h, ok := j.entries[item]
	return h, ok
}

// Forget drops the in-memory assignment for an item so a retry resubmits
// instead of re-attaching to the failed handle. The on-disk log keeps the
// full history.
func (j *Journal) Forget(item string) {
	if j == nil {
		return
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	delete(j.entries, item)
}

// Close closes the underlying file.
func (j *Journal) Close() error {
	if j == nil || j.file == nil {
		return nil
	}
	return j.file.Close()
}
