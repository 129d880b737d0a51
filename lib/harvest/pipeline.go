package harvest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"

	"itemharvest/lib/extract"
	"itemharvest/lib/fetcher"
	"itemharvest/lib/record"
	"itemharvest/lib/scopedfile"
	"itemharvest/lib/textutil"
)

var tracer = otel.Tracer("itemharvest/lib/harvest")

// Policy decides what a failed request does to the run.
type Policy string

const (
	// a failed request skips that item, the rest of the batch is kept
	PolicyIsolate Policy = "isolate"
	// a failed request ends the run with its error
	PolicyAbort Policy = "abort"
)

type SkipReason string

const (
	MissingNameNode  SkipReason = "missing_name_node"
	MissingTableNode SkipReason = "missing_table_node"
	EmptyName        SkipReason = "empty_name"
	ParseFailed      SkipReason = "parse_failed"
	FetchFailed      SkipReason = "fetch_failed"
	BadIdentifier    SkipReason = "bad_identifier"
)

// ReasonFor classifies an extraction or record error, ok is false for errors
// that are not about the shape of an item.
func ReasonFor(err error) (reason SkipReason, ok bool) {
	switch {
	case errors.Is(err, extract.ErrMissingName):
		return MissingNameNode, true
	case errors.Is(err, extract.ErrMissingTable):
		return MissingTableNode, true
	case errors.Is(err, extract.ErrEmptyName):
		return EmptyName, true
	case errors.Is(err, extract.ErrParse):
		return ParseFailed, true
	case errors.Is(err, record.ErrBadIdentifier):
		return BadIdentifier, true
	}
	return "", false
}

type Skip struct {
	ID     string
	Reason SkipReason
	Err    error
}

type Report struct {
	StartedAt time.Time
	Elapsed   time.Duration
	// batches that finished
	Batches int
	// identifiers in write order, identifiers shared by two adjacent
	// batches appear twice
	Written []string
	Skipped []Skip
}

type Config struct {
	URLTemplate string
	MinID       int
	MaxID       int
	IDStep      int
	RecordsDir  string
	Policy      Policy
}

type Fetcher interface {
	FetchAll(ctx context.Context, ids []string) (fetcher.ResponseMap, error)
	FetchEach(ctx context.Context, ids []string) map[string]fetcher.Outcome
	Close() error
}

type Extractor interface {
	Extract(ctx context.Context, payload []byte) (extract.Item, error)
}

// RunRecorder keeps a history of runs, runErr is nil for runs that finished.
type RunRecorder interface {
	RecordRun(ctx context.Context, cfg Config, report Report, runErr error) error
}

type Pipeline struct {
	cfg       Config
	template  URLTemplate
	fetcher   Fetcher
	extractor Extractor
	fs        scopedfile.FS
	recorder  RunRecorder

	recordsWritten metric.Int64Counter
	itemsSkipped   metric.Int64Counter
	batchDuration  metric.Float64Histogram
}

// New builds a pipeline that owns fetch, it is closed when Run returns.
func New(cfg Config, fetch Fetcher, extractor Extractor, fsys scopedfile.FS) (*Pipeline, error) {
	if cfg.Policy == "" {
		cfg.Policy = PolicyIsolate
	}
	if cfg.Policy != PolicyIsolate && cfg.Policy != PolicyAbort {
		return nil, fmt.Errorf("unknown fetch policy %q", cfg.Policy)
	}
	if cfg.RecordsDir == "" {
		return nil, fmt.Errorf("records directory is not set")
	}
	template, err := ParseTemplate(cfg.URLTemplate)
	if err != nil {
		return nil, err
	}
	if _, err := Batches(cfg.MinID, cfg.MaxID, cfg.IDStep); err != nil {
		return nil, err
	}

	meter := otel.Meter("itemharvest/lib/harvest")
	recordsWritten, _ := meter.Int64Counter("harvest.records_written")
	itemsSkipped, _ := meter.Int64Counter("harvest.items_skipped")
	batchDuration, _ := meter.Float64Histogram("harvest.batch_duration", metric.WithUnit("s"))

	return &Pipeline{
		cfg:            cfg,
		template:       template,
		fetcher:        fetch,
		extractor:      extractor,
		fs:             fsys,
		recordsWritten: recordsWritten,
		itemsSkipped:   itemsSkipped,
		batchDuration:  batchDuration,
	}, nil
}

func (p *Pipeline) WithRecorder(recorder RunRecorder) *Pipeline {
	p.recorder = recorder
	return p
}

type payload struct {
	id   string
	body []byte
}

// Run fetches and persists every batch in order. Structural problems with an
// item skip only that item, I/O errors and (under PolicyAbort) fetch errors
// end the run. The fetcher is closed on every return path.
func (p *Pipeline) Run(ctx context.Context) (report Report, err error) {
	ctx, span := tracer.Start(ctx, "Run")
	defer span.End()

	report.StartedAt = time.Now()
	defer func() {
		closeErr := p.fetcher.Close()
		if closeErr != nil && !errors.Is(closeErr, fetcher.ErrClosed) {
			err = errors.Join(err, closeErr)
		}
		report.Elapsed = time.Since(report.StartedAt)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "harvest failed")
		}
		if p.recorder != nil {
			recordErr := p.recorder.RecordRun(context.WithoutCancel(ctx), p.cfg, report, err)
			if recordErr != nil {
				slog.WarnContext(ctx, "failed to record run", "err", recordErr)
			}
		}
	}()

	batches, err := Batches(p.cfg.MinID, p.cfg.MaxID, p.cfg.IDStep)
	if err != nil {
		return report, err
	}

	for _, batch := range batches {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		started := time.Now()
		payloads, err := p.fetchBatch(ctx, batch, &report)
		if err != nil {
			return report, fmt.Errorf("batch %d: %w", batch.Index, err)
		}

		for _, item := range payloads {
			err := p.persist(ctx, item, &report)
			if err != nil {
				return report, fmt.Errorf("batch %d: item %s: %w", batch.Index, item.id, err)
			}
		}

		elapsed := time.Since(started)
		report.Batches++
		p.batchDuration.Record(ctx, elapsed.Seconds())
		slog.InfoContext(
			ctx, "finished batch",
			"batch", batch.Index,
			"of", len(batches),
			"first_id", batch.IDs[0],
			"elapsed", elapsed,
		)
	}

	slog.InfoContext(
		ctx, "harvest finished",
		"batches", report.Batches,
		"written", len(report.Written),
		"skipped", len(report.Skipped),
	)
	return report, nil
}

func (p *Pipeline) skip(ctx context.Context, report *Report, s Skip) {
	report.Skipped = append(report.Skipped, s)
	p.itemsSkipped.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", string(s.Reason))))
	slog.WarnContext(ctx, "skipped item", "id", s.ID, "reason", s.Reason, "err", s.Err)
}

func (p *Pipeline) fetchBatch(ctx context.Context, batch Batch, report *Report) ([]payload, error) {
	urls := make([]string, len(batch.IDs))
	for i, id := range batch.IDs {
		urls[i] = p.template.URL(id)
	}

	var out []payload
	switch p.cfg.Policy {
	case PolicyAbort:
		res, err := p.fetcher.FetchAll(ctx, urls)
		if err != nil {
			return nil, err
		}
		for url, body := range res {
			id, err := p.template.Identifier(url)
			if err != nil {
				return nil, err
			}
			out = append(out, payload{id: id, body: body})
		}
	default:
		res := p.fetcher.FetchEach(ctx, urls)
		for _, url := range urls {
			outcome, ok := res[url]
			if !ok {
				continue
			}
			id, err := p.template.Identifier(url)
			if err != nil {
				return nil, err
			}
			if outcome.Err != nil {
				p.skip(ctx, report, Skip{ID: id, Reason: FetchFailed, Err: outcome.Err})
				continue
			}
			out = append(out, payload{id: id, body: outcome.Payload})
		}
	}

	slices.SortFunc(out, func(a, b payload) int {
		return textutil.CompareIDs(a.id, b.id)
	})
	return out, nil
}

func (p *Pipeline) persist(ctx context.Context, item payload, report *Report) error {
	extracted, err := p.extractor.Extract(ctx, item.body)
	if err != nil {
		reason, ok := ReasonFor(err)
		if !ok {
			return err
		}
		p.skip(ctx, report, Skip{ID: item.id, Reason: reason, Err: err})
		return nil
	}

	err = record.Write(ctx, p.fs, p.cfg.RecordsDir, record.FromItem(item.id, extracted))
	if err != nil {
		reason, ok := ReasonFor(err)
		if !ok {
			return err
		}
		p.skip(ctx, report, Skip{ID: item.id, Reason: reason, Err: err})
		return nil
	}

	report.Written = append(report.Written, item.id)
	p.recordsWritten.Add(ctx, 1)
	return nil
}
