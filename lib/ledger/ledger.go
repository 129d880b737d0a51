package ledger

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"

	"itemharvest/lib/harvest"

	_ "modernc.org/sqlite"
)

//go:embed schema.sql
var Schema string

var tracer = otel.Tracer("itemharvest/lib/ledger")

func wrapOpen(err error) error {
	return fmt.Errorf("open ledger: %w", err)
}

// Ledger keeps the history of harvest runs and the items each one skipped.
type Ledger struct {
	db *sql.DB
}

func Open(path string) (Ledger, error) {
	if path != ":memory:" {
		err := os.MkdirAll(filepath.Dir(path), 0777)
		if err != nil {
			return Ledger{}, wrapOpen(err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return Ledger{}, wrapOpen(err)
	}

	// sqlite only supports a single writer, WAL keeps readers from blocking it
	db.SetMaxOpenConns(1)
	_, err = db.Exec("PRAGMA journal_mode=WAL")
	if err != nil {
		db.Close()
		return Ledger{}, wrapOpen(err)
	}
	_, err = db.Exec(Schema)
	if err != nil {
		db.Close()
		return Ledger{}, wrapOpen(err)
	}

	return Ledger{db: db}, nil
}

func (l Ledger) Close() error {
	return l.db.Close()
}

type Run struct {
	ID          int64
	StartedAt   time.Time
	Elapsed     time.Duration
	URLTemplate string
	MinID       int
	MaxID       int
	IDStep      int
	Policy      string
	Batches     int
	Written     int
	Skipped     int
	Error       string
}

type Skip struct {
	ItemID string
	Reason string
	Error  string
}

// RecordRun stores one run and its skips in a single transaction.
func (l Ledger) RecordRun(ctx context.Context, cfg harvest.Config, report harvest.Report, runErr error) (err error) {
	ctx, span := tracer.Start(ctx, "RecordRun")
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "failed to record run")
		}
		span.End()
	}()

	runErrText := ""
	if runErr != nil {
		runErrText = runErr.Error()
	}

	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(
		ctx,
		`insert into runs (
			started_at, elapsed_ms, url_template, min_id, max_id, id_step,
			policy, batches, written, skipped, error
		) values (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		report.StartedAt.Unix(),
		report.Elapsed.Milliseconds(),
		cfg.URLTemplate,
		cfg.MinID,
		cfg.MaxID,
		cfg.IDStep,
		string(cfg.Policy),
		report.Batches,
		len(report.Written),
		len(report.Skipped),
		runErrText,
	)
	if err != nil {
		return err
	}
	runID, err := res.LastInsertId()
	if err != nil {
		return err
	}

	for _, s := range report.Skipped {
		skipErr := ""
		if s.Err != nil {
			skipErr = s.Err.Error()
		}
		_, err = tx.ExecContext(
			ctx,
			"insert into skips (run_id, item_id, reason, error) values (?, ?, ?, ?)",
			runID, s.ID, string(s.Reason), skipErr,
		)
		if err != nil {
			return err
		}
	}

	return tx.Commit()
}

// Runs returns the most recent runs first, limit <= 0 returns all of them.
func (l Ledger) Runs(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := l.db.QueryContext(
		ctx,
		`select id, started_at, elapsed_ms, url_template, min_id, max_id, id_step,
			policy, batches, written, skipped, error
		from runs order by id desc limit ?`,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Run
	for rows.Next() {
		var r Run
		var startedAt, elapsedMs int64
		err := rows.Scan(
			&r.ID, &startedAt, &elapsedMs, &r.URLTemplate, &r.MinID, &r.MaxID, &r.IDStep,
			&r.Policy, &r.Batches, &r.Written, &r.Skipped, &r.Error,
		)
		if err != nil {
			return nil, err
		}
		r.StartedAt = time.Unix(startedAt, 0)
		r.Elapsed = time.Duration(elapsedMs) * time.Millisecond
		out = append(out, r)
	}
	return out, rows.Err()
}

func (l Ledger) Skips(ctx context.Context, runID int64) ([]Skip, error) {
	rows, err := l.db.QueryContext(
		ctx,
		"select item_id, reason, error from skips where run_id = ? order by rowid",
		runID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Skip
	for rows.Next() {
		var s Skip
		err := rows.Scan(&s.ItemID, &s.Reason, &s.Error)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
