package scopedfile

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
)

type Handle struct {
	mu   sync.Mutex
	file *os.File
	path string
	mode Mode
}

func (h *Handle) Path() string {
	return h.path
}

func (h *Handle) Mode() Mode {
	return h.mode
}

// Close releases the underlying file, it is a no-op on a nil or already
// closed handle.
func (h *Handle) Close() error {
	if h == nil {
		return nil
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.file == nil {
		return nil
	}
	err := h.file.Close()
	h.file = nil
	if err != nil {
		return &PathError{Op: "close", Path: h.path, Err: err}
	}
	return nil
}

func (h *Handle) WriteBin(data []byte) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.file == nil {
		return &PathError{Op: "write", Path: h.path, Err: ErrInvalidState}
	}
	_, err := h.file.Write(data)
	if err != nil {
		return &PathError{Op: "write", Path: h.path, Err: err}
	}
	return nil
}

func (h *Handle) Write(data any) error {
	return h.WriteBin(render(data))
}

func (h *Handle) ReadBin() ([]byte, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.file == nil {
		return nil, &PathError{Op: "read", Path: h.path, Err: ErrInvalidState}
	}
	out, err := io.ReadAll(h.file)
	if err != nil {
		return nil, &PathError{Op: "read", Path: h.path, Err: err}
	}
	return out, nil
}

func (h *Handle) Read() (string, error) {
	out, err := h.ReadBin()
	return string(out), err
}

func (h *Handle) ReadLines() ([]string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.file == nil {
		return nil, &PathError{Op: "read", Path: h.path, Err: ErrInvalidState}
	}

	var lines []string
	reader := bufio.NewReader(h.file)
	for {
		line, err := reader.ReadString('\n')
		if line != "" {
			lines = append(lines, line)
		}
		if err == io.EOF {
			return lines, nil
		}
		if err != nil {
			return nil, &PathError{Op: "read", Path: h.path, Err: err}
		}
	}
}

func render(data any) []byte {
	switch v := data.(type) {
	case []byte:
		return v
	case string:
		return []byte(v)
	case fmt.Stringer:
		return []byte(v.String())
	}
	return []byte(fmt.Sprint(data))
}

// TrimLines strips the line terminators left by ReadLines.
func TrimLines(lines []string) []string {
	out := make([]string, len(lines))
	for i, l := range lines {
		out[i] = strings.TrimRight(l, "\r\n")
	}
	return out
}
