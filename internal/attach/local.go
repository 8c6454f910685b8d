package attach

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// Local stores attachments as flat files under Dir. Refs are
// "<uuid>_<basename>" so a ref never escapes the directory.
type Local struct {
	Dir string
}

func NewLocal(dir string) (*Local, error) {
	if dir == "" {
		return nil, fmt.Errorf("attachment dir required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create attachment dir: %w", err)
	}
	return &Local{Dir: dir}, nil
}

func (s *Local) Put(ctx context.Context, name string, r io.Reader) (string, error) {
	ref := uuid.New().String() + "_" + sanitizeName(name)
	f, err := os.OpenFile(filepath.Join(s.Dir, ref), os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return "", fmt.Errorf("create attachment: %w", err)
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", fmt.Errorf("write attachment: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", err
	}
	return ref, nil
}

func (s *Local) Open(ctx context.Context, ref string) (io.ReadCloser, error) {
	path, err := s.resolve(ref)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, ErrNotExist
	}
	return f, err
}

func (s *Local) Delete(ctx context.Context, ref string) error {
	path, err := s.resolve(ref)
	if err != nil {
		return err
	}
	err = os.Remove(path)
	if os.IsNotExist(err) {
		return ErrNotExist
	}
	return err
}

func (s *Local) resolve(ref string) (string, error) {
	if ref == "" || ref != filepath.Base(ref) || strings.ContainsAny(ref, "/\\") {
		return "", fmt.Errorf("invalid attachment ref %q", ref)
	}
	return filepath.Join(s.Dir, ref), nil
}

func sanitizeName(name string) string {
	base := filepath.Base(strings.TrimSpace(name))
	if base == "" || base == "." || base == string(filepath.Separator) {
		return "file"
	}
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '.' || r == '-' || r == '_':
			return r
		default:
			return '-'
		}
	}, base)
}
