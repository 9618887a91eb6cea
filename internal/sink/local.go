package sink

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// containedPath ensures that the resolved path stays within basePath.
func containedPath(basePath, untrustedPath string) (string, error) {
	absBase, err := filepath.Abs(basePath)
	if err != nil {
		return "", fmt.Errorf("failed to resolve base path: %w", err)
	}
	absJoined, err := filepath.Abs(filepath.Join(absBase, filepath.FromSlash(untrustedPath)))
	if err != nil {
		return "", fmt.Errorf("failed to resolve path: %w", err)
	}
	if !strings.HasPrefix(absJoined, absBase+string(filepath.Separator)) {
		return "", fmt.Errorf("path traversal detected: %q resolves outside %q", untrustedPath, absBase)
	}
	return absJoined, nil
}

// Local writes artifacts into a directory.
type Local struct {
	Dir string
}

func NewLocal(dir string) (*Local, error) {
	if dir == "" {
		return nil, errors.New("local sink directory is required")
	}
	return &Local{Dir: filepath.Clean(dir)}, nil
}

// Save writes the artifact and its sidecar. An existing file of the same
// name gets a numeric suffix rather than being overwritten.
func (l *Local) Save(ctx context.Context, a Artifact) (string, error) {
	if err := validate(a); err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if err := os.MkdirAll(l.Dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create output directory: %w", err)
	}

	name, err := l.freeName(a.Filename)
	if err != nil {
		return "", err
	}
	dest, err := containedPath(l.Dir, name)
	if err != nil {
		return "", err
	}
	if err := writeFileAtomic(dest, a.Data); err != nil {
		return "", err
	}

	a.Filename = name
	meta, err := metadataFor(a)
	if err != nil {
		return "", fmt.Errorf("encoding metadata: %w", err)
	}
	metaPath, err := containedPath(l.Dir, sidecarName(name))
	if err != nil {
		return "", err
	}
	if err := writeFileAtomic(metaPath, meta); err != nil {
		return "", err
	}

	log.Info("artifact saved", "path", dest, "bytes", len(a.Data))
	return dest, nil
}

func (l *Local) Close() error { return nil }

func (l *Local) freeName(filename string) (string, error) {
	ext := filepath.Ext(filename)
	stem := strings.TrimSuffix(filename, ext)
	name := filename
	for i := 1; ; i++ {
		p, err := containedPath(l.Dir, name)
		if err != nil {
			return "", err
		}
		if _, err := os.Stat(p); errors.Is(err, os.ErrNotExist) {
			return name, nil
		} else if err != nil {
			return "", fmt.Errorf("failed to stat %s: %w", p, err)
		}
		if i > 999 {
			return "", fmt.Errorf("no free name for %s", filename)
		}
		name = fmt.Sprintf("%s-%d%s", stem, i, ext)
	}
}

// writeFileAtomic writes via a temp file in the same directory and renames
// it into place.
func writeFileAtomic(dest string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(dest), ".surfacerec-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to write %s: %w", dest, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to close %s: %w", dest, err)
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to chmod %s: %w", dest, err)
	}
	if err := os.Rename(tmpName, dest); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to move %s into place: %w", dest, err)
	}
	return nil
}
