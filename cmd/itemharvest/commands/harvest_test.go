package commands

import (
	"context"
	"math"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"itemharvest/lib/harvest"
	"itemharvest/lib/ledger"
)

func TestRunHarvestRecordsFailedRun(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hj, ok := w.(http.Hijacker)
		if !ok {
			return
		}
		conn, _, err := hj.Hijack()
		if err == nil {
			conn.Close()
		}
	}))
	t.Cleanup(server.Close)

	dir := t.TempDir()
	cfg := defaultConfig()
	cfg.Range = RangeConfig{Min: 0, Max: 2, Step: 1}
	cfg.Source.URLTemplate = server.URL + "/item-details/?item_id=%d"
	cfg.Output.RecordsDir = filepath.Join(dir, "items")
	cfg.Ledger.File = filepath.Join(dir, "ledger.db")
	cfg.Policy = harvest.PolicyAbort

	err := runHarvest(context.Background(), cfg)
	require.Error(t, err)

	l, err := ledger.Open(cfg.Ledger.File)
	require.NoError(t, err)
	defer l.Close()

	runs, err := l.Runs(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	require.NotEmpty(t, runs[0].Error)
	require.Equal(t, string(harvest.PolicyAbort), runs[0].Policy)
}

func TestRunHarvestRejectsOverflowingRange(t *testing.T) {
	cfg := defaultConfig()
	cfg.Range.Max = math.MaxInt
	cfg.Output.RecordsDir = t.TempDir()

	err := runHarvest(context.Background(), cfg)
	require.ErrorContains(t, err, "invalid harvest config")
}
