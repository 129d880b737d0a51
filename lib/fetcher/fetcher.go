package fetcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	cloudflarebp "github.com/DaRealFreak/cloudflare-bp-go"
	"github.com/go-resty/resty/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"itemharvest/lib/telemetry"
)

var tracer = otel.Tracer("itemharvest/lib/fetcher")

var ErrClosed = errors.New("fetcher is closed")

// ResponseMap maps a requested identifier (the url) to the raw response body.
type ResponseMap map[string][]byte

// Outcome is the per-identifier result of FetchEach.
type Outcome struct {
	Payload []byte
	Err     error
}

type HTTPError struct {
	URL    string
	Status int
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("GET %s: unexpected status %d", e.URL, e.Status)
}

type Options struct {
	UserAgent string
	// 0 means requests never time out
	Timeout          time.Duration
	CloudflareBypass bool
	// when false the body of a non-2xx response is returned like any other
	FailOnHTTPError bool
	// optional, responses found in the cache are not requested again
	Cache PageCache
	// optional, every exchange that reaches the network is written out
	Dump *Dump
}

// Fetcher issues GET requests through one shared resty client.
type Fetcher struct {
	http   *resty.Client
	opts   Options
	closed atomic.Bool
}

func New(opts Options) *Fetcher {
	client := resty.New()
	if opts.UserAgent != "" {
		client.SetHeader("user-agent", opts.UserAgent)
	}
	if opts.Timeout > 0 {
		client.SetTimeout(opts.Timeout)
	}
	if opts.CloudflareBypass {
		client.GetClient().Transport = cloudflarebp.AddCloudFlareByPass(client.GetClient().Transport)
	}
	telemetry.InstrumentResty(client, "itemharvest/lib/fetcher/http")
	if opts.Dump != nil {
		opts.Dump.attach(client)
	}

	return &Fetcher{
		http: client,
		opts: opts,
	}
}

// Fetch requests a single identifier and returns a one entry map.
func (f *Fetcher) Fetch(ctx context.Context, id string) (ResponseMap, error) {
	if f.closed.Load() {
		return nil, ErrClosed
	}

	ctx, span := tracer.Start(ctx, "Fetch")
	defer span.End()
	span.SetAttributes(attribute.String("url", id))

	if f.opts.Cache != nil {
		cached, hit, err := f.opts.Cache.Get(ctx, id)
		if err != nil {
			span.RecordError(err)
			slog.WarnContext(ctx, "page cache read failed", "url", id, "err", err)
		}
		if hit {
			span.SetStatus(codes.Ok, "CACHE HIT")
			return ResponseMap{id: cached}, nil
		}
	}

	res, err := f.http.R().
		SetContext(ctx).
		Get(id)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to fetch")
		return nil, fmt.Errorf("GET %s: %w", id, err)
	}
	if f.opts.FailOnHTTPError && res.IsError() {
		err := &HTTPError{URL: id, Status: res.StatusCode()}
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	payload := res.Body()
	if f.opts.Cache != nil && res.IsSuccess() {
		err := f.opts.Cache.Set(ctx, id, payload)
		if err != nil {
			span.RecordError(err)
			slog.WarnContext(ctx, "page cache write failed", "url", id, "err", err)
		}
	}
	return ResponseMap{id: payload}, nil
}

func (f *Fetcher) fanOut(ctx context.Context, ids []string, handle func(id string, res ResponseMap, err error)) {
	wg := sync.WaitGroup{}
	for _, id := range ids {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			res, err := f.Fetch(ctx, id)
			handle(id, res, err)
		}(id)
	}
	wg.Wait()
}

// FetchAll requests every identifier concurrently and waits for all of them.
// Any failure fails the whole call: the errors of every failed request are
// joined and no partial map is returned.
func (f *Fetcher) FetchAll(ctx context.Context, ids []string) (ResponseMap, error) {
	if f.closed.Load() {
		return nil, ErrClosed
	}

	ctx, span := tracer.Start(ctx, "FetchAll")
	defer span.End()
	span.SetAttributes(attribute.Int("count", len(ids)))

	result := make(ResponseMap, len(ids))
	var errList []error
	lock := sync.Mutex{}

	f.fanOut(ctx, ids, func(id string, res ResponseMap, err error) {
		lock.Lock()
		defer lock.Unlock()
		if err != nil {
			errList = append(errList, err)
			return
		}
		for k, v := range res {
			result[k] = v
		}
	})

	if len(errList) > 0 {
		err := errors.Join(errList...)
		span.RecordError(err)
		span.SetStatus(codes.Error, "batch failed")
		return nil, err
	}
	return result, nil
}

// FetchEach is FetchAll with failures isolated per identifier, every
// requested identifier has an entry in the result.
func (f *Fetcher) FetchEach(ctx context.Context, ids []string) map[string]Outcome {
	ctx, span := tracer.Start(ctx, "FetchEach")
	defer span.End()
	span.SetAttributes(attribute.Int("count", len(ids)))

	result := make(map[string]Outcome, len(ids))
	failed := 0
	lock := sync.Mutex{}

	f.fanOut(ctx, ids, func(id string, res ResponseMap, err error) {
		lock.Lock()
		defer lock.Unlock()
		if err != nil {
			failed++
			result[id] = Outcome{Err: err}
			return
		}
		result[id] = Outcome{Payload: res[id]}
	})

	span.SetAttributes(attribute.Int("failed", failed))
	return result
}

// Close releases the pooled connections and the page cache. It must be
// called once, later calls return ErrClosed.
func (f *Fetcher) Close() error {
	if !f.closed.CompareAndSwap(false, true) {
		return ErrClosed
	}
	f.http.GetClient().CloseIdleConnections()
	if f.opts.Cache != nil {
		return f.opts.Cache.Close()
	}
	return nil
}
