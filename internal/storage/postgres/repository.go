package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"outlier-monitor/internal/detect"
	telemetry "outlier-monitor/internal/telemetry/domain"
)

const (
	defaultReadingsTable = "sensor_readings"
	defaultLabelsTable   = "outlier_labels"
)

// Repository persists readings and per-pass outlier labels.
type Repository struct {
	db            *sql.DB
	readingsTable string
	labelsTable   string
}

// Option configures the repository.
type Option func(*Repository)

// WithReadingsTable overrides the readings table name.
func WithReadingsTable(table string) Option {
	return func(r *Repository) {
		if table != "" {
			r.readingsTable = table
		}
	}
}

// WithLabelsTable overrides the labels table name.
func WithLabelsTable(table string) Option {
	return func(r *Repository) {
		if table != "" {
			r.labelsTable = table
		}
	}
}

// NewRepository constructs a repository with default table names.
func NewRepository(db *sql.DB, opts ...Option) *Repository {
	repo := &Repository{
		db:            db,
		readingsTable: defaultReadingsTable,
		labelsTable:   defaultLabelsTable,
	}
	for _, opt := range opts {
		opt(repo)
	}
	return repo
}

// InsertReadings upserts raw sensor readings.
func (r *Repository) InsertReadings(ctx context.Context, readings []telemetry.Reading) error {
	if r == nil || r.db == nil {
		return errors.New("storage: nil db")
	}
	if len(readings) == 0 {
		return nil
	}

	query := fmt.Sprintf(`
INSERT INTO %s (
	sensor_id,
	ts,
	value
) VALUES (
	$1, $2, $3
)
ON CONFLICT (sensor_id, ts)
DO UPDATE SET
	value = EXCLUDED.value`, r.readingsTable)

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	defer stmt.Close()

	for _, reading := range readings {
		if reading.SensorID == "" || reading.At.IsZero() {
			_ = tx.Rollback()
			return errors.New("storage: invalid reading")
		}
		if _, err := stmt.ExecContext(ctx, reading.SensorID, reading.At.UTC(), reading.Value); err != nil {
			_ = tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

// InsertPass persists the labels of one clustering pass.
func (r *Repository) InsertPass(ctx context.Context, pass detect.WindowClustered) error {
	if r == nil || r.db == nil {
		return errors.New("storage: nil db")
	}
	if pass.RunID == "" {
		return errors.New("storage: empty run id")
	}

	query := fmt.Sprintf(`
INSERT INTO %s (
	run_id,
	sensor_id,
	window_start,
	window_end,
	outlier,
	created_at
) VALUES (
	$1, $2, $3, $4, $5, $6
)
ON CONFLICT (run_id, sensor_id)
DO UPDATE SET
	outlier = EXCLUDED.outlier`, r.labelsTable)

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	defer stmt.Close()

	createdAt := time.Now().UTC()
	for sensorID, isOutlier := range pass.Labels {
		if _, err := stmt.ExecContext(
			ctx,
			pass.RunID,
			sensorID,
			pass.WindowStart.UTC(),
			pass.WindowEnd.UTC(),
			isOutlier,
			createdAt,
		); err != nil {
			_ = tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}
