// Package sink provides the destinations a serialized source map can be
// written to: a file on disk, an arbitrary stream, or an object store key.
package sink

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/zjrosen/exorcist/internal/log"
)

// Sink receives the serialized source map.
type Sink interface {
	// WriteMap stores data. It returns only once the map is durable enough
	// for a consumer to load it.
	WriteMap(ctx context.Context, data []byte) error

	// Name is the reference written into the artifact when no explicit URL
	// is configured. ok is false for destinations that have no name.
	Name() (name string, ok bool)
}

// IOError reports a failure to create or write a map destination.
type IOError struct {
	Op   string // "mkdir", "write", "rename", "put", ...
	Path string
	Err  error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *IOError) Unwrap() error { return e.Err }

// EnsureDir creates dir and any missing parents.
func EnsureDir(dir string) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return &IOError{Op: "mkdir", Path: dir, Err: err}
	}
	return nil
}

// File writes the map to a path, creating parent directories as needed.
type File struct {
	Path string
}

// NewFile returns a file sink for path.
func NewFile(path string) *File {
	return &File{Path: path}
}

// Name returns the base name of the file.
func (f *File) Name() (string, bool) {
	return filepath.Base(f.Path), true
}

// WriteMap writes data to a temp file next to the target and renames it
// into place, so readers never observe a partially written map.
func (f *File) WriteMap(ctx context.Context, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	dir := filepath.Dir(f.Path)
	if err := EnsureDir(dir); err != nil {
		return err
	}

	temp, err := os.CreateTemp(dir, "."+filepath.Base(f.Path)+".tmp.*")
	if err != nil {
		return &IOError{Op: "create", Path: f.Path, Err: err}
	}
	tempPath := temp.Name()

	if _, err := temp.Write(data); err != nil {
		_ = temp.Close()
		_ = os.Remove(tempPath)
		return &IOError{Op: "write", Path: f.Path, Err: err}
	}
	if err := temp.Chmod(0644); err != nil {
		_ = temp.Close()
		_ = os.Remove(tempPath)
		return &IOError{Op: "chmod", Path: f.Path, Err: err}
	}
	if err := temp.Close(); err != nil {
		_ = os.Remove(tempPath)
		return &IOError{Op: "close", Path: f.Path, Err: err}
	}

	if err := os.Rename(tempPath, f.Path); err != nil {
		_ = os.Remove(tempPath)
		return &IOError{Op: "rename", Path: f.Path, Err: err}
	}

	log.Debug(log.CatSink, "wrote map file", "path", f.Path, "bytes", len(data))
	return nil
}

// Stream writes the map to an io.Writer. It has no name, so callers must
// supply the URL the artifact should reference.
type Stream struct {
	W io.Writer
}

// NewStream returns a stream sink writing to w.
func NewStream(w io.Writer) *Stream {
	return &Stream{W: w}
}

// Name reports that streams have no name.
func (s *Stream) Name() (string, bool) {
	return "", false
}

// WriteMap writes data to the underlying writer.
func (s *Stream) WriteMap(ctx context.Context, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := s.W.Write(data); err != nil {
		return &IOError{Op: "write", Path: "<stream>", Err: err}
	}
	log.Debug(log.CatSink, "wrote map to stream", "bytes", len(data))
	return nil
}

// Open returns the sink for dest: an object store key for s3:// URLs,
// otherwise a file path.
func Open(dest string, objects ObjectConfig) (Sink, error) {
	if dest == "" {
		return nil, fmt.Errorf("map destination is required")
	}
	if IsObjectURL(dest) {
		return NewObject(dest, objects)
	}
	return NewFile(dest), nil
}
