package record

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"itemharvest/lib/extract"
	"itemharvest/lib/scopedfile"
	"itemharvest/lib/textutil"
)

const Extension = ".itm"

// the first line of every record is "item name: <name>"
const namePrefix = "item name: "

var ErrBadIdentifier = errors.New("invalid record identifier")

type Field struct {
	Name  string
	Value string
}

// Record is the persisted form of one item. Each field is stored on its own
// line as "<name>: <value>" so readers look fields up by name instead of by
// line number.
type Record struct {
	ID     string
	Name   string
	Fields []Field
}

func normalizeFieldName(name string) string {
	name = textutil.Clean(name)
	return strings.TrimSpace(strings.TrimSuffix(name, ":"))
}

// Get returns the value of the first field called name, case is ignored.
// Fields without a name are never returned.
func (r Record) Get(name string) (string, bool) {
	name = normalizeFieldName(name)
	if name == "" {
		return "", false
	}
	for _, f := range r.Fields {
		if strings.EqualFold(f.Name, name) {
			return f.Value, true
		}
	}
	return "", false
}

// FromItem converts extracted table rows into fields, rows with several
// values keep them in one field separated by " / ". A row without a header
// becomes a field with an empty name, stored as ": <value>".
func FromItem(id string, item extract.Item) Record {
	r := Record{ID: id, Name: item.Name}
	for _, row := range item.Rows {
		r.Fields = append(r.Fields, Field{
			Name:  normalizeFieldName(row.Header),
			Value: textutil.Clean(strings.Join(row.Values, " / ")),
		})
	}
	return r
}

func ValidateID(id string) error {
	if id == "" ||
		id == "." || id == ".." ||
		strings.ContainsAny(id, `/\`) ||
		strings.ContainsRune(id, 0) ||
		strings.TrimSpace(id) != id {
		return fmt.Errorf("%w: %q", ErrBadIdentifier, id)
	}
	return nil
}

// Path returns the one location a record with the given identifier may
// occupy under dir.
func Path(dir, id string) (string, error) {
	if err := ValidateID(id); err != nil {
		return "", err
	}
	return filepath.Join(dir, id+Extension), nil
}

// IDFromName returns the identifier for a record file name, ok is false for
// files that are not records.
func IDFromName(name string) (string, bool) {
	base := filepath.Base(name)
	if !strings.HasSuffix(base, Extension) {
		return "", false
	}
	id := strings.TrimSuffix(base, Extension)
	if ValidateID(id) != nil {
		return "", false
	}
	return id, true
}

func Lines(r Record) []string {
	lines := make([]string, 0, len(r.Fields)+1)
	lines = append(lines, namePrefix+textutil.Clean(r.Name)+"\n")
	for _, f := range r.Fields {
		lines = append(lines, fmt.Sprintf("%s: %s\n", f.Name, f.Value))
	}
	return lines
}

func Encode(r Record) []byte {
	return []byte(strings.Join(Lines(r), ""))
}

// Decode parses the lines of a record file, lines may keep their newline.
func Decode(id string, lines []string) (Record, error) {
	lines = scopedfile.TrimLines(lines)
	if len(lines) == 0 || !strings.HasPrefix(lines[0], namePrefix) {
		return Record{}, fmt.Errorf("record %s: missing name line", id)
	}

	r := Record{ID: id, Name: strings.TrimPrefix(lines[0], namePrefix)}
	for _, line := range lines[1:] {
		if strings.TrimSpace(line) == "" {
			continue
		}
		name, value, found := strings.Cut(line, ": ")
		if !found {
			name = strings.TrimSuffix(line, ":")
		}
		r.Fields = append(r.Fields, Field{
			Name:  strings.TrimSpace(name),
			Value: strings.TrimSpace(value),
		})
	}
	return r, nil
}

// Write persists r under dir through a single handle that is released on
// every return path.
func Write(ctx context.Context, fsys scopedfile.FS, dir string, r Record) error {
	path, err := Path(dir, r.ID)
	if err != nil {
		return err
	}

	h, err := fsys.Open(ctx, path, scopedfile.ModeWrite)
	if err != nil {
		return err
	}
	defer h.Close()

	for _, line := range Lines(r) {
		err = h.Write(line)
		if err != nil {
			return err
		}
	}
	return h.Close()
}

// ReadLines returns the raw lines of the record with the given identifier.
func ReadLines(ctx context.Context, fsys scopedfile.FS, dir, id string) ([]string, error) {
	path, err := Path(dir, id)
	if err != nil {
		return nil, err
	}
	return fsys.ReadLines(ctx, path)
}

func Read(ctx context.Context, fsys scopedfile.FS, dir, id string) (Record, error) {
	lines, err := ReadLines(ctx, fsys, dir, id)
	if err != nil {
		return Record{}, err
	}
	return Decode(id, lines)
}

// List returns the identifiers of every record file in dir.
func List(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var ids []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		id, ok := IDFromName(e.Name())
		if !ok {
			continue
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// ChangeExtensions renames every file in dir ending in oldExt so it ends in
// newExt instead, returning how many files were renamed.
func ChangeExtensions(dir, oldExt, newExt string) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, err
	}

	renamed := 0
	var errs []error
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), oldExt) {
			continue
		}
		from := filepath.Join(dir, e.Name())
		to := filepath.Join(dir, strings.TrimSuffix(e.Name(), oldExt)+newExt)
		err := os.Rename(from, to)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		renamed++
	}
	return renamed, errors.Join(errs...)
}
