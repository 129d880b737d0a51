package fetcher

import (
	"context"
	"fmt"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// itemServer answers /item/<n> with "item <n>" after a random delay so
// responses complete out of order, /fail/<n> drops the connection.
func itemServer(t testing.TB, hits *atomic.Int64) *httptest.Server {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits != nil {
			hits.Add(1)
		}
		time.Sleep(time.Duration(rand.Intn(20)) * time.Millisecond)

		switch {
		case strings.HasPrefix(r.URL.Path, "/item/"):
			fmt.Fprintf(w, "item %s", strings.TrimPrefix(r.URL.Path, "/item/"))
		case strings.HasPrefix(r.URL.Path, "/missing/"):
			w.WriteHeader(http.StatusNotFound)
			w.Write([]byte("not here"))
		case strings.HasPrefix(r.URL.Path, "/fail/"):
			hj, ok := w.(http.Hijacker)
			if !ok {
				t.Error("response writer cannot hijack")
				return
			}
			conn, _, err := hj.Hijack()
			if err == nil {
				conn.Close()
			}
		}
	}))
	t.Cleanup(server.Close)
	return server
}

func urls(base, kind string, n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("%s/%s/%d", base, kind, i)
	}
	return out
}

func TestFetchSingle(t *testing.T) {
	server := itemServer(t, nil)
	f := New(Options{})
	defer f.Close()

	id := server.URL + "/item/4151"
	res, err := f.Fetch(context.Background(), id)
	require.NoError(t, err)
	require.Equal(t, ResponseMap{id: []byte("item 4151")}, res)
}

func TestFetchAllReturnsEveryIdentifier(t *testing.T) {
	server := itemServer(t, nil)
	f := New(Options{})
	defer f.Close()

	for _, n := range []int{0, 1, 7, 59} {
		ids := urls(server.URL, "item", n)
		res, err := f.FetchAll(context.Background(), ids)
		require.NoError(t, err)
		require.Len(t, res, n)
		for i, id := range ids {
			require.Equal(t, fmt.Sprintf("item %d", i), string(res[id]))
		}
	}
}

func TestFetchAllFailsWholeBatch(t *testing.T) {
	server := itemServer(t, nil)
	f := New(Options{})
	defer f.Close()

	ids := append(urls(server.URL, "item", 5), server.URL+"/fail/1")
	res, err := f.FetchAll(context.Background(), ids)
	require.Error(t, err)
	require.Nil(t, res)
	require.Contains(t, err.Error(), "/fail/1")
}

func TestFetchEachIsolatesFailures(t *testing.T) {
	server := itemServer(t, nil)
	f := New(Options{})
	defer f.Close()

	ids := append(urls(server.URL, "item", 5), server.URL+"/fail/1", server.URL+"/fail/2")
	res := f.FetchEach(context.Background(), ids)
	require.Len(t, res, len(ids))

	failed := 0
	for id, outcome := range res {
		if strings.Contains(id, "/fail/") {
			require.Error(t, outcome.Err)
			failed++
			continue
		}
		require.NoError(t, outcome.Err)
		require.True(t, strings.HasPrefix(string(outcome.Payload), "item "))
	}
	require.Equal(t, 2, failed)
}

func TestHTTPErrorPolicy(t *testing.T) {
	server := itemServer(t, nil)
	id := server.URL + "/missing/1"

	lenient := New(Options{})
	defer lenient.Close()
	res, err := lenient.Fetch(context.Background(), id)
	require.NoError(t, err)
	require.Equal(t, "not here", string(res[id]))

	strict := New(Options{FailOnHTTPError: true})
	defer strict.Close()
	_, err = strict.Fetch(context.Background(), id)
	var httpErr *HTTPError
	require.ErrorAs(t, err, &httpErr)
	require.Equal(t, http.StatusNotFound, httpErr.Status)
}

func TestClose(t *testing.T) {
	server := itemServer(t, nil)
	f := New(Options{})

	require.NoError(t, f.Close())
	require.ErrorIs(t, f.Close(), ErrClosed)

	_, err := f.Fetch(context.Background(), server.URL+"/item/1")
	require.ErrorIs(t, err, ErrClosed)
	_, err = f.FetchAll(context.Background(), []string{server.URL + "/item/1"})
	require.ErrorIs(t, err, ErrClosed)
}

func TestCacheSkipsNetwork(t *testing.T) {
	memory := NewMemoryCache(16, time.Minute)
	badgerCache, err := OpenBadgerCache("", time.Minute)
	require.NoError(t, err)

	caches := map[string]PageCache{
		"memory": memory,
		"badger": badgerCache,
	}
	for name, cache := range caches {
		t.Run(name, func(t *testing.T) {
			var hits atomic.Int64
			server := itemServer(t, &hits)
			f := New(Options{Cache: cache})
			defer f.Close()

			ids := urls(server.URL, "item", 4)
			first, err := f.FetchAll(context.Background(), ids)
			require.NoError(t, err)
			require.EqualValues(t, 4, hits.Load())

			second, err := f.FetchAll(context.Background(), ids)
			require.NoError(t, err)
			require.EqualValues(t, 4, hits.Load())
			require.Equal(t, first, second)

			// not found responses are never cached
			missing := server.URL + "/missing/1"
			_, err = f.Fetch(context.Background(), missing)
			require.NoError(t, err)
			_, err = f.Fetch(context.Background(), missing)
			require.NoError(t, err)
			require.EqualValues(t, 6, hits.Load())
		})
	}
}

func TestBadgerCacheExpiry(t *testing.T) {
	cache, err := OpenBadgerCache("", time.Nanosecond)
	require.NoError(t, err)
	defer cache.Close()

	ctx := context.Background()
	require.NoError(t, cache.Set(ctx, "http://example.com/a", []byte("a")))
	time.Sleep(time.Second)

	_, hit, err := cache.Get(ctx, "http://example.com/a")
	require.NoError(t, err)
	require.False(t, hit)
}

func TestCacheKeyNormalizes(t *testing.T) {
	a, err := CacheKey("HTTP://Example.com:80/item-details/?b=2&a=1#top")
	require.NoError(t, err)
	b, err := CacheKey("http://example.com/item-details/?a=1&b=2")
	require.NoError(t, err)
	require.Equal(t, a, b)
}

func TestDumpWritesExchanges(t *testing.T) {
	server := itemServer(t, nil)
	dir := filepath.Join(t.TempDir(), "dump")
	require.NoError(t, os.MkdirAll(dir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "stale.txt"), []byte("old"), 0644))

	dump, err := NewDump(dir)
	require.NoError(t, err)
	f := New(Options{Dump: dump, UserAgent: "itemharvest-test"})
	defer f.Close()

	_, err = f.FetchAll(context.Background(), urls(server.URL, "item", 3))
	require.NoError(t, err)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	require.ElementsMatch(t, []string{"1.txt", "2.txt", "3.txt"}, names)

	contents, err := os.ReadFile(filepath.Join(dir, "1.txt"))
	require.NoError(t, err)
	text := string(contents)
	require.True(t, strings.HasPrefix(text, "---- REQUEST ----\n\nGET "+server.URL+"/item/"), text)
	require.Contains(t, text, "User-Agent: itemharvest-test")
	require.Contains(t, text, "---- RESPONSE ----\n\n200 ")
	require.Regexp(t, `item \d$`, text)
}
