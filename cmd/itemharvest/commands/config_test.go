package commands

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"itemharvest/lib/fetcher"
	"itemharvest/lib/harvest"
)

func withConfigPath(t testing.TB, path string) {
	previous := configPath
	configPath = path
	t.Cleanup(func() { configPath = previous })
}

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "itemharvest.json5")
	require.NoError(t, os.WriteFile(path, []byte(`{
		range: { max: 200 },
		output: { records_dir: "data/items" },
		aggregate: { marker: { line: 31 } },
		policy: "abort",
	}`), 0644))
	withConfigPath(t, path)

	cfg, err := loadConfig()
	require.NoError(t, err)
	require.Equal(t, RangeConfig{Min: 0, Max: 200, Step: 58}, cfg.Range)
	require.Equal(t, harvest.PolicyAbort, cfg.Policy)
	require.Equal(t, "Tradeable", cfg.Aggregate.Marker.Field)
	require.Equal(t, 31, cfg.Aggregate.Marker.Line)
	require.Equal(t, filepath.Join("data", "tradeable.idx"), cfg.indexFile())

	hc := cfg.harvestConfig()
	require.Equal(t, "http://www.runelocus.com/item-details/?item_id=%d", hc.URLTemplate)
	require.Equal(t, "data/items", hc.RecordsDir)

	withConfigPath(t, filepath.Join(dir, "missing.json5"))
	_, err = loadConfig()
	require.ErrorIs(t, err, os.ErrNotExist)
}

func TestDefaultConfig(t *testing.T) {
	cfg := defaultConfig()
	require.Equal(t, RangeConfig{Min: 0, Max: 31030, Step: 58}, cfg.Range)
	require.Equal(t, "tradeable.idx", cfg.indexFile())
	require.Equal(t, -1, cfg.Aggregate.Marker.Line)
	require.Equal(t, 19, cfg.Source.NameCutLeading)
	require.Equal(t, 1, cfg.Source.NameCutTrailing)

	page := `<div id="main"><article><div><div><h2>RuneLocus item db: Abyssal whip.</h2><table></table></div></div></article></div>`
	item, err := cfg.newExtractor().Extract(context.Background(), []byte(page))
	require.NoError(t, err)
	require.Equal(t, "Abyssal whip", item.Name)

	_, err = harvest.New(cfg.harvestConfig(), &fetcher.Fetcher{}, cfg.newExtractor(), recordsFS())
	require.NoError(t, err)

	_, ok, err := cfg.openLedger()
	require.NoError(t, err)
	require.False(t, ok)
}

func TestPageCache(t *testing.T) {
	cfg := defaultConfig()

	cache, err := cfg.pageCache()
	require.NoError(t, err)
	require.Nil(t, cache)

	cfg.Cache.Kind = "memory"
	cache, err = cfg.pageCache()
	require.NoError(t, err)
	require.IsType(t, &fetcher.MemoryCache{}, cache)
	require.NoError(t, cache.Close())

	cfg.Cache.Kind = "badger"
	cfg.Cache.Dir = t.TempDir()
	cache, err = cfg.pageCache()
	require.NoError(t, err)
	require.IsType(t, &fetcher.BadgerCache{}, cache)
	require.NoError(t, cache.Close())

	cfg.Cache.Kind = "redis"
	_, err = cfg.pageCache()
	require.Error(t, err)
}

func TestApplyRangeFlags(t *testing.T) {
	cfg := defaultConfig()
	require.NoError(t, harvestCmd.Flags().Set("max", "100"))
	require.NoError(t, harvestCmd.Flags().Set("step", "10"))
	t.Cleanup(func() {
		harvestCmd.Flags().Set("max", "0")
		harvestCmd.Flags().Set("step", "0")
	})

	applyRangeFlags(harvestCmd, &cfg)
	require.Equal(t, RangeConfig{Min: 0, Max: 100, Step: 10}, cfg.Range)
}
