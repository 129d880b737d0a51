package aggregate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"itemharvest/lib/record"
	"itemharvest/lib/scopedfile"
	"itemharvest/lib/textutil"
)

var tracer = otel.Tracer("itemharvest/lib/aggregate")

// LegacyMarkerLine is the line positional record dumps keep the tradeable
// flag on.
const LegacyMarkerLine = 31

// Marker is the predicate a record has to satisfy to be indexed.
type Marker struct {
	Field string `json:"field"`
	Value string `json:"value"`
	// a non-negative line compares that 0-based line against
	// "<Field>: <Value>" instead of looking the field up by name
	Line int `json:"line"`
}

func DefaultMarker() Marker {
	return Marker{Field: "Tradeable", Value: "Yes", Line: -1}
}

func (m Marker) positional() bool {
	return m.Line >= 0
}

// Matches reports whether the raw lines of the record with the given id
// satisfy the marker.
func (m Marker) Matches(id string, lines []string) bool {
	if m.positional() {
		if m.Line >= len(lines) {
			return false
		}
		line := strings.TrimSpace(lines[m.Line])
		return line == fmt.Sprintf("%s: %s", m.Field, m.Value)
	}

	r, err := record.Decode(id, lines)
	if err != nil {
		return false
	}
	value, ok := r.Get(m.Field)
	return ok && value == m.Value
}

type Options struct {
	RecordsDir string
	IndexPath  string
	Marker     Marker
	// identifiers never written to the index
	Exclude []string
}

type Pass struct {
	fs   scopedfile.FS
	opts Options
}

func New(fsys scopedfile.FS, opts Options) Pass {
	return Pass{fs: fsys, opts: opts}
}

// strict reads records without creating the ones that are missing.
func (p Pass) strict() scopedfile.FS {
	fsys := p.fs
	fsys.CreateIfMissing = false
	return fsys
}

func (p Pass) matches(ctx context.Context, fsys scopedfile.FS, id string) (bool, error) {
	lines, err := record.ReadLines(ctx, fsys, p.opts.RecordsDir, id)
	if err != nil {
		return false, err
	}
	return p.opts.Marker.Matches(id, lines), nil
}

// WriteIndex reads every record in the records directory and overwrites the
// index with the identifiers that match the marker and are not excluded.
func (p Pass) WriteIndex(ctx context.Context) ([]string, error) {
	ctx, span := tracer.Start(ctx, "WriteIndex")
	defer span.End()

	ids, err := record.List(p.opts.RecordsDir)
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	slices.SortFunc(ids, textutil.CompareIDs)

	excluded := make(map[string]struct{}, len(p.opts.Exclude))
	for _, id := range p.opts.Exclude {
		excluded[id] = struct{}{}
	}

	strict := p.strict()
	index := []string{}
	for _, id := range ids {
		if _, skip := excluded[id]; skip {
			continue
		}
		ok, err := p.matches(ctx, strict, id)
		if errors.Is(err, scopedfile.ErrNotFound) {
			slog.WarnContext(ctx, "record disappeared while indexing", "id", id)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("record %s: %w", id, err)
		}
		if ok {
			index = append(index, id)
		}
	}

	err = p.fs.Write(ctx, p.opts.IndexPath, encodeIndex(index))
	if err != nil {
		return nil, err
	}

	span.SetAttributes(
		attribute.Int("records", len(ids)),
		attribute.Int("indexed", len(index)),
	)
	slog.InfoContext(ctx, "wrote index", "path", p.opts.IndexPath, "records", len(ids), "indexed", len(index))
	return index, nil
}

type Verification struct {
	OK bool
	// identifiers in index order whose record no longer matches the marker,
	// no longer exists or cannot name a record at all
	Mismatched []string
}

// VerifyIndex re-reads every record the index names and checks the marker
// again, a missing index file is an error.
func (p Pass) VerifyIndex(ctx context.Context) (Verification, error) {
	ctx, span := tracer.Start(ctx, "VerifyIndex")
	defer span.End()

	strict := p.strict()

	ids, err := ReadIndex(ctx, strict, p.opts.IndexPath)
	if err != nil {
		return Verification{}, err
	}

	var mismatched []string
	for _, id := range ids {
		ok, err := p.matches(ctx, strict, id)
		if errors.Is(err, scopedfile.ErrNotFound) {
			slog.WarnContext(ctx, "indexed record is gone", "id", id)
			mismatched = append(mismatched, id)
			continue
		}
		if errors.Is(err, record.ErrBadIdentifier) {
			slog.WarnContext(ctx, "index names an invalid identifier", "id", id)
			mismatched = append(mismatched, id)
			continue
		}
		if err != nil {
			return Verification{}, fmt.Errorf("record %s: %w", id, err)
		}
		if !ok {
			mismatched = append(mismatched, id)
		}
	}

	span.SetAttributes(attribute.Int("mismatched", len(mismatched)))
	return Verification{OK: len(mismatched) == 0, Mismatched: mismatched}, nil
}

func encodeIndex(ids []string) string {
	if len(ids) == 0 {
		return ""
	}
	return strings.Join(ids, "\n") + "\n"
}

// ReadIndex returns the identifiers listed in the index file at path.
func ReadIndex(ctx context.Context, fsys scopedfile.FS, path string) ([]string, error) {
	lines, err := fsys.ReadLines(ctx, path)
	if err != nil {
		return nil, err
	}
	var ids []string
	for _, line := range scopedfile.TrimLines(lines) {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		ids = append(ids, line)
	}
	return ids, nil
}
