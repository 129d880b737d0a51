package scopedfile

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

var ErrNotFound = errors.New("file not found")
var ErrInvalidState = errors.New("no open handle")

type PathError struct {
	Op   string
	Path string
	Err  error
}

func (e *PathError) Error() string {
	return fmt.Sprintf("%s %s: %s", e.Op, e.Path, e.Err.Error())
}

func (e *PathError) Unwrap() error {
	return e.Err
}

type Mode int

const (
	ModeRead Mode = iota
	// truncates the target, creating it if needed
	ModeWrite
	ModeAppend
	// fails if the target already exists
	ModeCreate
)

func (m Mode) flags() int {
	switch m {
	case ModeWrite:
		return os.O_WRONLY | os.O_CREATE | os.O_TRUNC
	case ModeAppend:
		return os.O_WRONLY | os.O_CREATE | os.O_APPEND
	case ModeCreate:
		return os.O_WRONLY | os.O_CREATE | os.O_EXCL
	default:
		return os.O_RDONLY
	}
}

func (m Mode) String() string {
	switch m {
	case ModeRead:
		return "r"
	case ModeWrite:
		return "w"
	case ModeAppend:
		return "a"
	case ModeCreate:
		return "x"
	}
	return fmt.Sprintf("Mode(%d)", int(m))
}

// FS performs file operations against an explicit path on every call, it
// holds no per-target state so one value can be shared between goroutines.
type FS struct {
	// when set, reading a missing file creates it empty and reads it again
	CreateIfMissing bool
	// creates missing parent directories before opening a file for writing
	MakeDirs bool
	// defaults to 0644
	Perm os.FileMode
}

func (f FS) perm() os.FileMode {
	if f.Perm == 0 {
		return 0644
	}
	return f.Perm
}

// Open acquires a handle that stays open until Close is called on it.
func (f FS) Open(ctx context.Context, path string, mode Mode) (*Handle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if mode != ModeRead && f.MakeDirs {
		err := os.MkdirAll(filepath.Dir(path), 0755)
		if err != nil {
			return nil, &PathError{Op: "mkdir", Path: path, Err: err}
		}
	}
	file, err := os.OpenFile(path, mode.flags(), f.perm())
	if err != nil {
		return nil, &PathError{Op: "open", Path: path, Err: err}
	}
	return &Handle{file: file, path: path, mode: mode}, nil
}

func (f FS) write(ctx context.Context, path string, mode Mode, data []byte) error {
	h, err := f.Open(ctx, path, mode)
	if err != nil {
		return err
	}
	defer h.Close()

	err = h.WriteBin(data)
	if err != nil {
		return err
	}
	return h.Close()
}

// Write replaces the contents of path with the rendered form of data.
func (f FS) Write(ctx context.Context, path string, data any) error {
	return f.write(ctx, path, ModeWrite, render(data))
}

func (f FS) Append(ctx context.Context, path string, data any) error {
	return f.write(ctx, path, ModeAppend, render(data))
}

func (f FS) WriteBin(ctx context.Context, path string, data []byte) error {
	return f.write(ctx, path, ModeWrite, data)
}

func (f FS) AppendBin(ctx context.Context, path string, data []byte) error {
	return f.write(ctx, path, ModeAppend, data)
}

func (f FS) create(path string) error {
	file, err := os.OpenFile(path, ModeCreate.flags(), f.perm())
	if errors.Is(err, fs.ErrExist) {
		// somebody else created it between our read and now
		return nil
	}
	if err != nil {
		return &PathError{Op: "create", Path: path, Err: err}
	}
	return file.Close()
}

func (f FS) read(ctx context.Context, path string, read func(h *Handle) error) error {
	for attempt := 0; ; attempt++ {
		h, err := f.Open(ctx, path, ModeRead)
		if err == nil {
			defer h.Close()
			return read(h)
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return err
		}
		if !f.CreateIfMissing || attempt > 0 {
			return &PathError{Op: "read", Path: path, Err: ErrNotFound}
		}
		err = f.create(path)
		if err != nil {
			return err
		}
	}
}

func (f FS) ReadBin(ctx context.Context, path string) ([]byte, error) {
	var out []byte
	err := f.read(ctx, path, func(h *Handle) error {
		var err error
		out, err = h.ReadBin()
		return err
	})
	return out, err
}

func (f FS) Read(ctx context.Context, path string) (string, error) {
	out, err := f.ReadBin(ctx, path)
	return string(out), err
}

// ReadLines returns every line of the file, each keeping its trailing newline.
func (f FS) ReadLines(ctx context.Context, path string) ([]string, error) {
	var out []string
	err := f.read(ctx, path, func(h *Handle) error {
		var err error
		out, err = h.ReadLines()
		return err
	})
	return out, err
}
