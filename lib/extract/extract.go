package extract

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"itemharvest/lib/htmlutil"
	"itemharvest/lib/textutil"
)

var tracer = otel.Tracer("itemharvest/lib/extract")

var (
	ErrMissingName  = errors.New("name node not found")
	ErrMissingTable = errors.New("definition table not found")
	ErrEmptyName    = errors.New("name node is empty")
	ErrParse        = errors.New("failed to parse markup")
)

const (
	DefaultNameSelector  = "#main article div div h2"
	DefaultTableSelector = "#main article div div table"
)

// Row is one line of the definition table. The header is the text of the
// first cell, empty when that cell is, and values are the non-empty cells
// after it.
type Row struct {
	Header string
	Values []string
}

type Item struct {
	Name string
	Rows []Row
}

type Options struct {
	NameSelector  string
	TableSelector string
	// trimmed from the start of the name text, the item pages prefix every
	// title with the same label
	NamePrefix string
	// runes cut from the start and the end of the raw name text before it is
	// cleaned, for titles that wrap the name in a fixed-width label
	NameCutLeading  int
	NameCutTrailing int
}

type Extractor struct {
	opts Options
}

func New(opts Options) Extractor {
	if opts.NameSelector == "" {
		opts.NameSelector = DefaultNameSelector
	}
	if opts.TableSelector == "" {
		opts.TableSelector = DefaultTableSelector
	}
	return Extractor{opts: opts}
}

func (e Extractor) Extract(ctx context.Context, payload []byte) (Item, error) {
	_, span := tracer.Start(ctx, "Extract")
	defer span.End()

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(payload))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to parse html")
		return Item{}, fmt.Errorf("%w: %w", ErrParse, err)
	}

	nameNode := doc.Find(e.opts.NameSelector).First()
	if nameNode.Length() == 0 {
		span.SetStatus(codes.Error, ErrMissingName.Error())
		return Item{}, ErrMissingName
	}
	name := textutil.Clean(cutRunes(nameNode.Text(), e.opts.NameCutLeading, e.opts.NameCutTrailing))
	name = strings.TrimSpace(strings.TrimPrefix(name, e.opts.NamePrefix))
	if name == "" {
		span.SetStatus(codes.Error, ErrEmptyName.Error())
		return Item{}, ErrEmptyName
	}

	table := doc.Find(e.opts.TableSelector).First()
	if table.Length() == 0 {
		span.SetStatus(codes.Error, ErrMissingTable.Error())
		return Item{}, ErrMissingTable
	}

	var rows []Row
	table.Find("tr").Each(func(_ int, tr *goquery.Selection) {
		cells := htmlutil.ChildTexts(tr)
		if len(cells) == 0 {
			return
		}
		values := []string{}
		for _, cell := range cells[1:] {
			if cell != "" {
				values = append(values, cell)
			}
		}
		if cells[0] == "" && len(values) == 0 {
			return
		}
		rows = append(rows, Row{Header: cells[0], Values: values})
	})

	span.SetAttributes(
		attribute.String("name", name),
		attribute.Int("rows", len(rows)),
	)
	return Item{Name: name, Rows: rows}, nil
}

func cutRunes(s string, leading, trailing int) string {
	leading, trailing = max(leading, 0), max(trailing, 0)
	if leading == 0 && trailing == 0 {
		return s
	}
	runes := []rune(s)
	if leading >= len(runes) || trailing >= len(runes)-leading {
		return ""
	}
	return string(runes[leading : len(runes)-trailing])
}
