package postgres

import (
	"context"
	"database/sql"
	"os"
	"testing"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"outlier-monitor/internal/detect"
	telemetry "outlier-monitor/internal/telemetry/domain"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	dsn := os.Getenv("PG_DSN")
	if dsn == "" {
		t.Skip("PG_DSN not set")
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	for _, table := range []string{defaultReadingsTable, defaultLabelsTable} {
		if !tableExists(db, table) {
			t.Skipf("missing table %s; run migrations", table)
		}
	}
	return db
}

func tableExists(db *sql.DB, name string) bool {
	var exists bool
	err := db.QueryRow(`SELECT EXISTS (SELECT 1 FROM information_schema.tables WHERE table_name = $1)`, name).Scan(&exists)
	return err == nil && exists
}

func TestInsertReadingsUpserts(t *testing.T) {
	db := openTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()

	at := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	readings := []telemetry.Reading{
		{SensorID: "it-sensor-a", At: at, Value: 21},
		{SensorID: "it-sensor-a", At: at.Add(5 * time.Minute), Value: 21.5},
	}
	if err := repo.InsertReadings(ctx, readings); err != nil {
		t.Fatalf("insert readings: %v", err)
	}

	// replaying the same timestamp updates in place instead of duplicating
	readings[0].Value = 22
	if err := repo.InsertReadings(ctx, readings[:1]); err != nil {
		t.Fatalf("reinsert reading: %v", err)
	}

	var value float64
	err := db.QueryRow(
		`SELECT value FROM sensor_readings WHERE sensor_id = $1 AND ts = $2`,
		"it-sensor-a", at,
	).Scan(&value)
	if err != nil {
		t.Fatalf("query reading: %v", err)
	}
	if value != 22 {
		t.Fatalf("value = %v, want upserted 22", value)
	}

	var count int
	if err := db.QueryRow(`SELECT COUNT(*) FROM sensor_readings WHERE sensor_id = $1`, "it-sensor-a").Scan(&count); err != nil {
		t.Fatalf("count readings: %v", err)
	}
	if count != 2 {
		t.Fatalf("count = %d, want 2", count)
	}

	_, _ = db.Exec(`DELETE FROM sensor_readings WHERE sensor_id = $1`, "it-sensor-a")
}

func TestInsertPassPersistsLabels(t *testing.T) {
	db := openTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()

	at := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	pass := detect.WindowClustered{
		RunID:       "it-run-1",
		At:          at,
		WindowStart: at.Add(-3 * time.Hour),
		WindowEnd:   at,
		Labels:      map[string]bool{"it-sensor-a": false, "it-sensor-c": true},
		Outliers:    []string{"it-sensor-c"},
	}
	if err := repo.InsertPass(ctx, pass); err != nil {
		t.Fatalf("insert pass: %v", err)
	}

	var outlier bool
	err := db.QueryRow(
		`SELECT outlier FROM outlier_labels WHERE run_id = $1 AND sensor_id = $2`,
		"it-run-1", "it-sensor-c",
	).Scan(&outlier)
	if err != nil {
		t.Fatalf("query label: %v", err)
	}
	if !outlier {
		t.Fatalf("it-sensor-c not stored as outlier")
	}

	_, _ = db.Exec(`DELETE FROM outlier_labels WHERE run_id = $1`, "it-run-1")
}

func TestRepositoryValidation(t *testing.T) {
	repo := NewRepository(nil)
	ctx := context.Background()

	if err := repo.InsertReadings(ctx, []telemetry.Reading{{SensorID: "s", At: time.Now()}}); err == nil {
		t.Fatalf("insert readings succeeded without db")
	}
	if err := repo.InsertPass(ctx, detect.WindowClustered{RunID: "r"}); err == nil {
		t.Fatalf("insert pass succeeded without db")
	}
}
