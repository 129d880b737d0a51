package fetcher

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/go-resty/resty/v2"

	"itemharvest/lib/scopedfile"
)

// Dump writes every request and response a fetcher makes to its own file,
// numbered in the order the responses arrive.
type Dump struct {
	fs      scopedfile.FS
	dir     string
	counter atomic.Uint64
}

// NewDump empties dir and returns a dump that writes into it.
func NewDump(dir string) (*Dump, error) {
	err := os.RemoveAll(dir)
	if err != nil {
		return nil, err
	}
	err = os.MkdirAll(dir, 0777)
	if err != nil {
		return nil, err
	}
	return &Dump{fs: scopedfile.FS{Perm: 0600}, dir: dir}, nil
}

func (d *Dump) attach(client *resty.Client) {
	client.OnAfterResponse(func(_ *resty.Client, res *resty.Response) error {
		if res.RawResponse == nil || res.Request.RawRequest == nil {
			return nil
		}
		id := d.counter.Add(1)
		path := filepath.Join(d.dir, strconv.FormatUint(id, 10)+".txt")
		ctx := context.WithoutCancel(res.Request.Context())
		err := d.fs.Write(ctx, path, formatExchange(res))
		if err != nil {
			slog.WarnContext(ctx, "failed to dump http exchange", "path", path, "err", err)
		}
		return nil
	})
}

func formatHeaders(headers http.Header) string {
	keys := make([]string, 0, len(headers))
	for k := range headers {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var lines []string
	for _, k := range keys {
		for _, v := range headers[k] {
			lines = append(lines, fmt.Sprintf("%s: %s", k, v))
		}
	}
	return strings.Join(lines, "\n")
}

func formatRequestBody(req *http.Request) string {
	if req.GetBody == nil {
		return ""
	}
	body, err := req.GetBody()
	if err != nil {
		return fmt.Sprintf("failed to get request body: %s", err.Error())
	}
	defer body.Close()
	contents, err := io.ReadAll(body)
	if err != nil {
		return fmt.Sprintf("failed to read request body: %s", err.Error())
	}
	return string(contents)
}

// method, url, headers, body of the request then
// status, final url, headers, body of the response
const exchangeTemplate = `---- REQUEST ----

%s %s

%s

%s

---- RESPONSE ----

%d %s

%s

%s`

func formatExchange(res *resty.Response) string {
	responseURL := res.Request.URL
	redirected, err := res.RawResponse.Location()
	if err == nil {
		responseURL = redirected.String()
	}

	return fmt.Sprintf(
		exchangeTemplate,
		res.Request.Method, res.Request.URL,
		formatHeaders(res.Request.RawRequest.Header),
		formatRequestBody(res.Request.RawRequest),
		res.StatusCode(), responseURL,
		formatHeaders(res.Header()),
		res.String(),
	)
}
