package ledger

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"itemharvest/lib/harvest"
)

func setup(t testing.TB) Ledger {
	l, err := Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })
	return l
}

var testConfig = harvest.Config{
	URLTemplate: "http://items/%d",
	MinID:       0,
	MaxID:       10,
	IDStep:      5,
	RecordsDir:  "items",
	Policy:      harvest.PolicyIsolate,
}

func TestRecordRun(t *testing.T) {
	l := setup(t)
	ctx := context.Background()

	started := time.Unix(1700000000, 0)
	err := l.RecordRun(ctx, testConfig, harvest.Report{
		StartedAt: started,
		Elapsed:   1500 * time.Millisecond,
		Batches:   2,
		Written:   []string{"0", "1", "5"},
		Skipped: []harvest.Skip{
			{ID: "3", Reason: harvest.MissingNameNode, Err: errors.New("no h2")},
			{ID: "4", Reason: harvest.FetchFailed},
		},
	}, nil)
	require.NoError(t, err)

	err = l.RecordRun(ctx, testConfig, harvest.Report{StartedAt: started.Add(time.Hour)}, errors.New("batch 1: refused"))
	require.NoError(t, err)

	runs, err := l.Runs(ctx, 0)
	require.NoError(t, err)
	require.Len(t, runs, 2)

	expected := Run{
		ID:          1,
		StartedAt:   started,
		Elapsed:     1500 * time.Millisecond,
		URLTemplate: "http://items/%d",
		MaxID:       10,
		IDStep:      5,
		Policy:      "isolate",
		Batches:     2,
		Written:     3,
		Skipped:     2,
	}
	if diff := cmp.Diff(expected, runs[1]); diff != "" {
		t.Fatal(diff)
	}
	require.Equal(t, "batch 1: refused", runs[0].Error)

	latest, err := l.Runs(ctx, 1)
	require.NoError(t, err)
	require.Len(t, latest, 1)
	require.Equal(t, runs[0].ID, latest[0].ID)

	skips, err := l.Skips(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, []Skip{
		{ItemID: "3", Reason: "missing_name_node", Error: "no h2"},
		{ItemID: "4", Reason: "fetch_failed"},
	}, skips)

	skips, err = l.Skips(ctx, runs[0].ID)
	require.NoError(t, err)
	require.Empty(t, skips)
}

func TestOpenFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state", "ledger.db")

	l, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, l.RecordRun(context.Background(), testConfig, harvest.Report{}, nil))
	require.NoError(t, l.Close())

	l, err = Open(path)
	require.NoError(t, err)
	defer l.Close()
	runs, err := l.Runs(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, runs, 1)
}
