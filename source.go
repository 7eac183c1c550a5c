package sqlrun

import (
	"context"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// Source opens SQL scripts by name.
type Source interface {
	Open(ctx context.Context, name string) (io.ReadCloser, error)
}

// DirSource reads scripts from a file system, usually a directory on disk.
type DirSource struct {
	FS fs.FS
}

// NewDirSource returns a DirSource rooted at dir.
func NewDirSource(dir string) *DirSource {
	return &DirSource{FS: os.DirFS(dir)}
}

func (s *DirSource) Open(ctx context.Context, name string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.FS.Open(path.Clean(strings.TrimPrefix(name, "/")))
}

// OSSource opens script names as operating system paths, absolute or
// relative to the working directory.
type OSSource struct{}

func (OSSource) Open(ctx context.Context, name string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return os.Open(filepath.Clean(name))
}

// StringSource serves scripts held in memory.
type StringSource map[string]string

func (s StringSource) Open(ctx context.Context, name string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	text, ok := s[name]
	if !ok {
		return nil, &fs.PathError{Op: "open", Path: name, Err: fs.ErrNotExist}
	}
	return io.NopCloser(strings.NewReader(text)), nil
}

// ReadScript loads the named script from src. Any open or read failure is
// returned as a *ResourceError matching ErrResourceUnavailable.
func ReadScript(ctx context.Context, src Source, name string) (string, error) {
	rc, err := src.Open(ctx, name)
	if err != nil {
		return "", &ResourceError{Name: name, Err: err}
	}
	defer func() { _ = rc.Close() }()

	content, err := io.ReadAll(rc)
	if err != nil {
		return "", &ResourceError{Name: name, Err: err}
	}
	return string(content), nil
}
