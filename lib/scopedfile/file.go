package scopedfile

import (
	"context"
	"sync"
)

// File binds the stateless FS operations to one mutable target path and
// owns at most one long lived "raw" handle.
type File struct {
	mu   sync.Mutex
	fs   FS
	path string
	raw  *Handle
}

func New(path string, createIfMissing bool) *File {
	return &File{
		fs:   FS{CreateIfMissing: createIfMissing},
		path: path,
	}
}

// SetPath rebinds the target, a raw handle that is already open keeps
// pointing at the previous target until RawClose.
func (f *File) SetPath(path string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.path = path
}

func (f *File) Path() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.path
}

func (f *File) SetCreateIfMissing(cim bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fs.CreateIfMissing = cim
}

func (f *File) target() (FS, string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fs, f.path
}

func (f *File) Write(ctx context.Context, data any) error {
	fsys, path := f.target()
	return fsys.Write(ctx, path, data)
}

func (f *File) WriteBin(ctx context.Context, data []byte) error {
	fsys, path := f.target()
	return fsys.WriteBin(ctx, path, data)
}

func (f *File) Append(ctx context.Context, data any) error {
	fsys, path := f.target()
	return fsys.Append(ctx, path, data)
}

func (f *File) AppendBin(ctx context.Context, data []byte) error {
	fsys, path := f.target()
	return fsys.AppendBin(ctx, path, data)
}

func (f *File) Read(ctx context.Context) (string, error) {
	fsys, path := f.target()
	return fsys.Read(ctx, path)
}

func (f *File) ReadBin(ctx context.Context) ([]byte, error) {
	fsys, path := f.target()
	return fsys.ReadBin(ctx, path)
}

func (f *File) ReadLines(ctx context.Context) ([]string, error) {
	fsys, path := f.target()
	return fsys.ReadLines(ctx, path)
}

// RawOpen opens the current target and keeps the handle until RawClose,
// callers should `defer f.RawClose()` right after a successful open.
func (f *File) RawOpen(ctx context.Context, mode Mode) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.raw != nil {
		return &PathError{Op: "open", Path: f.raw.Path(), Err: ErrInvalidState}
	}
	h, err := f.fs.Open(ctx, f.path, mode)
	if err != nil {
		return err
	}
	f.raw = h
	return nil
}

// RawClose is safe to call any number of times.
func (f *File) RawClose() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.raw == nil {
		return nil
	}
	err := f.raw.Close()
	f.raw = nil
	return err
}

func (f *File) rawHandle(op string) (*Handle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.raw == nil {
		return nil, &PathError{Op: op, Path: f.path, Err: ErrInvalidState}
	}
	return f.raw, nil
}

func (f *File) RawWrite(data any) error {
	h, err := f.rawHandle("write")
	if err != nil {
		return err
	}
	return h.Write(data)
}

func (f *File) RawRead() (string, error) {
	h, err := f.rawHandle("read")
	if err != nil {
		return "", err
	}
	return h.Read()
}

func (f *File) RawReadLines() ([]string, error) {
	h, err := f.rawHandle("read")
	if err != nil {
		return nil, err
	}
	return h.ReadLines()
}
