// Package storage owns the on-disk layout of harness runs: the run
// directory, its append-only journals and the summary documents.
package storage

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// WAL is an append-only file. Every record is synced before Append returns
// so a crash mid-run loses at most the record being written.
type WAL struct {
	mu     sync.Mutex
	f      *os.File
	path   string
	closed bool
}

// OpenWAL opens path for appending, creating it if needed.
func OpenWAL(path string) (*WAL, error) {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening journal %s: %w", path, err)
	}
	return &WAL{f: f, path: path}, nil
}

// Path returns the journal file path.
func (w *WAL) Path() string {
	return w.path
}

// AppendLine writes s followed by a newline.
func (w *WAL) AppendLine(s string) error {
	return w.append([]byte(s + "\n"))
}

// AppendJSON writes v as one JSON line.
func (w *WAL) AppendJSON(v interface{}) error {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encoding journal record: %w", err)
	}
	return w.append(buf.Bytes())
}

func (w *WAL) append(b []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return fmt.Errorf("journal %s is closed", w.path)
	}
	if _, err := w.f.Write(b); err != nil {
		return fmt.Errorf("writing journal %s: %w", w.path, err)
	}
	if err := w.f.Sync(); err != nil {
		return fmt.Errorf("syncing journal %s: %w", w.path, err)
	}
	return nil
}

// Close closes the file. Later appends fail.
func (w *WAL) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true
	return w.f.Close()
}

// ScanLines calls fn for every non-empty line of path. A missing file is
// returned as an error wrapping fs.ErrNotExist.
func ScanLines(path string, fn func(lineNo int, line []byte) error) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	n := 0
	for scanner.Scan() {
		n++
		line := scanner.Bytes()
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		if err := fn(n, line); err != nil {
			return err
		}
	}
	return scanner.Err()
}

// ReadJSONL decodes every line of path into a new T. Lines that fail to
// decode, such as a record torn by a crash, are skipped.
func ReadJSONL[T any](path string) ([]T, error) {
	var out []T
	err := ScanLines(path, func(_ int, line []byte) error {
		var v T
		if err := json.Unmarshal(line, &v); err == nil {
			out = append(out, v)
		}
		return nil
	})
	return out, err
}

// WriteFileSync replaces path with data via a synced temp file and rename.
func WriteFileSync(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("writing %s: %w", path, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("syncing %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing %s: %w", path, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("renaming %s: %w", path, err)
	}
	return nil
}
