package mltrack

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

const (
	querySchema = `
		CREATE TABLE IF NOT EXISTS tracking_runs (
			id          UUID PRIMARY KEY,
			experiment  TEXT NOT NULL,
			run_name    TEXT NOT NULL,
			logged_at   TIMESTAMPTZ NOT NULL
		);
		CREATE TABLE IF NOT EXISTS tracking_metrics (
			run_id  UUID NOT NULL REFERENCES tracking_runs(id) ON DELETE CASCADE,
			key     TEXT NOT NULL,
			value   DOUBLE PRECISION NOT NULL,
			PRIMARY KEY (run_id, key)
		);
		CREATE TABLE IF NOT EXISTS tracking_params (
			run_id  UUID NOT NULL REFERENCES tracking_runs(id) ON DELETE CASCADE,
			key     TEXT NOT NULL,
			value   TEXT NOT NULL,
			PRIMARY KEY (run_id, key)
		);
	`

	queryInsertRun = `
		INSERT INTO tracking_runs (
			id,
			experiment,
			run_name,
			logged_at
		) VALUES (
			:id,
			:experiment,
			:run_name,
			:logged_at
		)
	`

	queryInsertMetric = `
		INSERT INTO tracking_metrics (run_id, key, value) VALUES (:run_id, :key, :value)
	`

	queryInsertParam = `
		INSERT INTO tracking_params (run_id, key, value) VALUES (:run_id, :key, :value)
	`
)

type runRow struct {
	ID         string    `db:"id"`
	Experiment string    `db:"experiment"`
	RunName    string    `db:"run_name"`
	LoggedAt   time.Time `db:"logged_at"`
}

type metricRow struct {
	RunID string  `db:"run_id"`
	Key   string  `db:"key"`
	Value float64 `db:"value"`
}

type paramRow struct {
	RunID string `db:"run_id"`
	Key   string `db:"key"`
	Value string `db:"value"`
}

// Postgres stores runs in three tables; one event is one transaction.
type Postgres struct {
	db         *sqlx.DB
	experiment string
}

func OpenPostgres(ctx context.Context, dsn, experiment string) (*Postgres, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("connect tracking database: %w", err)
	}
	db.SetMaxOpenConns(2)

	if _, err := db.ExecContext(ctx, querySchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create tracking tables: %w", err)
	}

	return &Postgres{db: db, experiment: experiment}, nil
}

func (p *Postgres) Name() string { return "postgres" }

func (p *Postgres) LogRun(ctx context.Context, ev Event) error {
	run, metrics, params := runRows(p.experiment, ev)

	tx, err := p.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.NamedExecContext(ctx, queryInsertRun, run); err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	if len(metrics) > 0 {
		if _, err := tx.NamedExecContext(ctx, queryInsertMetric, metrics); err != nil {
			return fmt.Errorf("insert metrics: %w", err)
		}
	}
	if len(params) > 0 {
		if _, err := tx.NamedExecContext(ctx, queryInsertParam, params); err != nil {
			return fmt.Errorf("insert params: %w", err)
		}
	}

	return tx.Commit()
}

func (p *Postgres) Close() error {
	return p.db.Close()
}

func runRows(experiment string, ev Event) (runRow, []metricRow, []paramRow) {
	run := runRow{
		ID:         uuid.NewString(),
		Experiment: experiment,
		RunName:    ev.RunName,
		LoggedAt:   ev.Timestamp,
	}

	metrics := make([]metricRow, 0, len(ev.Metrics))
	for _, k := range sortedKeys(ev.Metrics) {
		metrics = append(metrics, metricRow{RunID: run.ID, Key: k, Value: ev.Metrics[k]})
	}

	params := make([]paramRow, 0, len(ev.Params))
	for _, k := range sortedKeys(ev.Params) {
		params = append(params, paramRow{RunID: run.ID, Key: k, Value: ev.Params[k]})
	}

	return run, metrics, params
}
