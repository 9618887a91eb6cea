package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// RotatingFile is a size-capped log file. When a write would push the file
// past its cap, the current file becomes <path>.1, older copies shift up by
// one, and anything past keep is removed. Safe for concurrent use.
type RotatingFile struct {
	mu      sync.Mutex
	path    string
	limit   int64
	keep    int
	f       *os.File
	written int64
}

// OpenRotatingFile opens (or creates) path for appending. maxSizeMB and keep
// fall back to 20MB and 3 backups when not positive.
func OpenRotatingFile(path string, maxSizeMB, keep int) (*RotatingFile, error) {
	if maxSizeMB <= 0 {
		maxSizeMB = 20
	}
	if keep <= 0 {
		keep = 3
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}

	rf := &RotatingFile{
		path:  path,
		limit: int64(maxSizeMB) << 20,
		keep:  keep,
	}
	if err := rf.open(); err != nil {
		return nil, err
	}
	return rf, nil
}

func (rf *RotatingFile) Write(p []byte) (int, error) {
	rf.mu.Lock()
	defer rf.mu.Unlock()

	if rf.f == nil {
		return 0, os.ErrClosed
	}
	if rf.written > 0 && rf.written+int64(len(p)) > rf.limit {
		if err := rf.rotate(); err != nil {
			return 0, fmt.Errorf("rotate log: %w", err)
		}
	}

	n, err := rf.f.Write(p)
	rf.written += int64(n)
	return n, err
}

// Close closes the underlying file. Further writes fail with os.ErrClosed.
func (rf *RotatingFile) Close() error {
	rf.mu.Lock()
	defer rf.mu.Unlock()

	if rf.f == nil {
		return nil
	}
	err := rf.f.Close()
	rf.f = nil
	return err
}

func (rf *RotatingFile) open() error {
	f, err := os.OpenFile(rf.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return fmt.Errorf("stat log file: %w", err)
	}
	rf.f = f
	rf.written = info.Size()
	return nil
}

func (rf *RotatingFile) rotate() error {
	rf.f.Close()
	rf.f = nil

	_ = os.Remove(rf.backup(rf.keep))
	for i := rf.keep - 1; i >= 1; i-- {
		_ = os.Rename(rf.backup(i), rf.backup(i+1))
	}
	if err := os.Rename(rf.path, rf.backup(1)); err != nil && !os.IsNotExist(err) {
		return err
	}
	return rf.open()
}

func (rf *RotatingFile) backup(i int) string {
	return fmt.Sprintf("%s.%d", rf.path, i)
}
