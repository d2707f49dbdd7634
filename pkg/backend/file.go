package backend

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sort"
	"strings"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/osfs"
	"github.com/go-git/go-billy/v5/util"
)

// DefaultExtension is the file extension of capsule documents.
const DefaultExtension = "sgf"

// FileBackend keeps each capsule in its own file, <id>.<ext>, at the root
// of a billy filesystem.
type FileBackend struct {
	fs  billy.Filesystem
	ext string
}

var _ Backend = &FileBackend{}

// FileOption configures a FileBackend.
type FileOption func(*FileBackend)

// WithExtension sets the document file extension, without the dot.
func WithExtension(ext string) FileOption {
	return func(b *FileBackend) {
		if ext = strings.TrimPrefix(ext, "."); ext != "" {
			b.ext = ext
		}
	}
}

// NewFileBackend returns a FileBackend over fsys.
func NewFileBackend(fsys billy.Filesystem, opts ...FileOption) *FileBackend {
	b := &FileBackend{fs: fsys, ext: DefaultExtension}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// OpenDir returns a FileBackend rooted at dir on the local disk, creating
// the directory if needed.
func OpenDir(dir string, opts ...FileOption) (*FileBackend, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("open dir %s: %w", dir, err)
	}
	return NewFileBackend(osfs.New(dir), opts...), nil
}

// Filename returns the document file name of id.
func (b *FileBackend) Filename(id string) string {
	return id + "." + b.ext
}

// Read implements Backend.
func (b *FileBackend) Read(_ context.Context, id string) ([]byte, bool, error) {
	if err := ValidateID(id); err != nil {
		return nil, false, err
	}
	data, err := util.ReadFile(b.fs, b.Filename(id))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("read %s: %w", b.Filename(id), err)
	}
	return data, true, nil
}

// Write implements Backend. The document is written to a temporary file
// first and renamed into place.
func (b *FileBackend) Write(_ context.Context, id string, data []byte) error {
	if err := ValidateID(id); err != nil {
		return err
	}
	name := b.Filename(id)

	tmp, err := b.fs.TempFile(".", "."+name+"-")
	if err != nil {
		return fmt.Errorf("write %s: create temp: %w", name, err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		_ = b.fs.Remove(tmpName)
		return fmt.Errorf("write %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		_ = b.fs.Remove(tmpName)
		return fmt.Errorf("write %s: close: %w", name, err)
	}
	if err := b.fs.Rename(tmpName, name); err != nil {
		_ = b.fs.Remove(tmpName)
		return fmt.Errorf("write %s: rename: %w", name, err)
	}
	return nil
}

// Delete implements Backend.
func (b *FileBackend) Delete(_ context.Context, id string) error {
	if err := ValidateID(id); err != nil {
		return err
	}
	err := b.fs.Remove(b.Filename(id))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("delete %s: %w", b.Filename(id), err)
	}
	return nil
}

// List implements Backend. Temporary and foreign files are skipped.
func (b *FileBackend) List(_ context.Context) ([]string, error) {
	entries, err := b.fs.ReadDir(".")
	if errors.Is(err, fs.ErrNotExist) {
		return []string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("list: %w", err)
	}

	suffix := "." + b.ext
	ids := []string{}
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || strings.HasPrefix(name, ".") || !strings.HasSuffix(name, suffix) {
			continue
		}
		ids = append(ids, strings.TrimSuffix(name, suffix))
	}
	sort.Strings(ids)
	return ids, nil
}
