package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"itemharvest/lib/aggregate"
	"itemharvest/lib/configutil"
	"itemharvest/lib/extract"
	"itemharvest/lib/fetcher"
	"itemharvest/lib/harvest"
	"itemharvest/lib/ledger"
	"itemharvest/lib/scopedfile"
	"itemharvest/lib/telemetry"
)

const defaultConfigName = "itemharvest.json5"

type RangeConfig struct {
	Min  int `json:"min"`
	Max  int `json:"max"`
	Step int `json:"step"`
}

type SourceConfig struct {
	URLTemplate   string `json:"url_template"`
	NameSelector  string `json:"name_selector"`
	TableSelector string `json:"table_selector"`
	NamePrefix    string `json:"name_prefix"`

	// runes cut from both ends of the raw title, negative disables the cut
	NameCutLeading  int    `json:"name_cut_leading"`
	NameCutTrailing int    `json:"name_cut_trailing"`
	UserAgent       string `json:"user_agent"`
	// 0 disables the request timeout
	TimeoutSeconds   int  `json:"timeout_seconds"`
	CloudflareBypass bool `json:"cloudflare_bypass"`
	FailOnHTTPError  bool `json:"fail_on_http_error"`
	// when set, every request and response is written to a file in this
	// directory, the directory is emptied first
	DumpDir string `json:"dump_dir"`
}

type OutputConfig struct {
	RecordsDir string `json:"records_dir"`
	// defaults to tradeable.idx next to the records directory
	IndexFile string `json:"index_file"`
}

type AggregateConfig struct {
	Marker  aggregate.Marker `json:"marker"`
	Exclude []string         `json:"exclude"`
}

type CacheConfig struct {
	// none, memory or badger
	Kind string `json:"kind"`
	// badger only, empty keeps the cache in memory
	Dir        string `json:"dir"`
	Size       int    `json:"size"`
	TTLSeconds int    `json:"ttl_seconds"`
}

type LedgerConfig struct {
	// empty disables the run ledger
	File string `json:"file"`
}

type Config struct {
	Range     RangeConfig      `json:"range"`
	Source    SourceConfig     `json:"source"`
	Output    OutputConfig     `json:"output"`
	Aggregate AggregateConfig  `json:"aggregate"`
	Cache     CacheConfig      `json:"cache"`
	Ledger    LedgerConfig     `json:"ledger"`
	Policy    harvest.Policy   `json:"policy"`
	Telemetry telemetry.Config `json:"telemetry"`
}

func defaultConfig() Config {
	return Config{
		Range: RangeConfig{Min: 0, Max: 31030, Step: 58},
		Source: SourceConfig{
			URLTemplate:   "http://www.runelocus.com/item-details/?item_id=%d",
			NameSelector:  extract.DefaultNameSelector,
			TableSelector: extract.DefaultTableSelector,

			// item pages title every item with a 19 rune label and close it
			// with one more rune
			NameCutLeading:  19,
			NameCutTrailing: 1,
			UserAgent:       "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/123.0.0.0 Safari/537.36",
		},
		Output: OutputConfig{RecordsDir: "items"},
		Aggregate: AggregateConfig{
			Marker: aggregate.DefaultMarker(),
		},
		Cache: CacheConfig{
			Kind:       "none",
			Size:       4096,
			TTLSeconds: 24 * 60 * 60,
		},
		Policy: harvest.PolicyIsolate,
	}
}

func (c Config) indexFile() string {
	if c.Output.IndexFile != "" {
		return c.Output.IndexFile
	}
	return filepath.Join(filepath.Dir(filepath.Clean(c.Output.RecordsDir)), "tradeable.idx")
}

// loadConfig reads --config when given, otherwise the nearest
// itemharvest.json5, falling back to the defaults when there is none.
func loadConfig() (Config, error) {
	defaults := defaultConfig()
	if configPath != "" {
		cfg, err := configutil.ReadConfig(configPath, defaults)
		if err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", configPath, err)
		}
		return cfg, nil
	}

	cfg, path, err := configutil.ReadRecursively(defaultConfigName, defaults)
	if errors.Is(err, os.ErrNotExist) {
		slog.Info("no config file found, using defaults", "name", defaultConfigName)
		return defaults, nil
	}
	if err != nil {
		return Config{}, fmt.Errorf("read config %s: %w", path, err)
	}
	slog.Debug("loaded config", "path", path)
	return cfg, nil
}

func (c Config) ttl() time.Duration {
	return time.Duration(c.Cache.TTLSeconds) * time.Second
}

func (c Config) pageCache() (fetcher.PageCache, error) {
	switch c.Cache.Kind {
	case "", "none":
		return nil, nil
	case "memory":
		return fetcher.NewMemoryCache(c.Cache.Size, c.ttl()), nil
	case "badger":
		cache, err := fetcher.OpenBadgerCache(c.Cache.Dir, c.ttl())
		if err != nil {
			return nil, err
		}
		return cache, nil
	}
	return nil, fmt.Errorf("unknown cache kind %q", c.Cache.Kind)
}

func (c Config) newFetcher() (*fetcher.Fetcher, error) {
	var dump *fetcher.Dump
	if c.Source.DumpDir != "" {
		var err error
		dump, err = fetcher.NewDump(c.Source.DumpDir)
		if err != nil {
			return nil, err
		}
	}
	cache, err := c.pageCache()
	if err != nil {
		return nil, err
	}
	return fetcher.New(fetcher.Options{
		UserAgent:        c.Source.UserAgent,
		Timeout:          time.Duration(c.Source.TimeoutSeconds) * time.Second,
		CloudflareBypass: c.Source.CloudflareBypass,
		FailOnHTTPError:  c.Source.FailOnHTTPError,
		Cache:            cache,
		Dump:             dump,
	}), nil
}

func (c Config) newExtractor() extract.Extractor {
	return extract.New(extract.Options{
		NameSelector:    c.Source.NameSelector,
		TableSelector:   c.Source.TableSelector,
		NamePrefix:      c.Source.NamePrefix,
		NameCutLeading:  c.Source.NameCutLeading,
		NameCutTrailing: c.Source.NameCutTrailing,
	})
}

func (c Config) harvestConfig() harvest.Config {
	return harvest.Config{
		URLTemplate: c.Source.URLTemplate,
		MinID:       c.Range.Min,
		MaxID:       c.Range.Max,
		IDStep:      c.Range.Step,
		RecordsDir:  c.Output.RecordsDir,
		Policy:      c.Policy,
	}
}

func (c Config) aggregateOptions() aggregate.Options {
	return aggregate.Options{
		RecordsDir: c.Output.RecordsDir,
		IndexPath:  c.indexFile(),
		Marker:     c.Aggregate.Marker,
		Exclude:    c.Aggregate.Exclude,
	}
}

func recordsFS() scopedfile.FS {
	return scopedfile.FS{CreateIfMissing: true, MakeDirs: true}
}

// openLedger returns ok false when no ledger file is configured.
func (c Config) openLedger() (ledger.Ledger, bool, error) {
	if c.Ledger.File == "" {
		return ledger.Ledger{}, false, nil
	}
	l, err := ledger.Open(c.Ledger.File)
	if err != nil {
		return ledger.Ledger{}, false, err
	}
	return l, true, nil
}

// setupTelemetry returns the function that flushes and stops the providers.
func (c Config) setupTelemetry(ctx context.Context) (func(), error) {
	t, err := telemetry.Setup(ctx, "itemharvest", c.Telemetry)
	if err != nil {
		return nil, err
	}
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		err := t.Shutdown(ctx)
		if err != nil {
			slog.Warn("failed to shutdown telemetry", "err", err)
		}
	}, nil
}
