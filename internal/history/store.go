// Package history indexes finished runs into a DuckDB file so memory
// trends can be compared across firmware versions.
package history

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"
	"path/filepath"
	"time"

	"github.com/marcboeker/go-duckdb"

	"github.com/esp32-tools/memharness/internal/models"
	"github.com/esp32-tools/memharness/internal/report"
	"github.com/esp32-tools/memharness/internal/storage"
)

// DBFile is the index file name inside an artifacts root.
const DBFile = "history.duckdb"

// Store is a DuckDB-backed run index.
type Store struct {
	db     *sql.DB
	dbPath string
}

// TagPoint is the internal-heap minimum of one tag in one run.
type TagPoint struct {
	RunID     string    `json:"run_id"`
	Scenario  string    `json:"scenario"`
	Firmware  string    `json:"firmware"`
	StartedAt time.Time `json:"started_at"`
	Samples   int64     `json:"samples"`
	HinMin    int64     `json:"hin_min"`
}

// Open creates or opens the index at dbPath.
func Open(dbPath string) (*Store, error) {
	fmt.Printf("[History] Opening index at: %s\n", dbPath)

	connector, err := duckdb.NewConnector(dbPath, func(execer driver.ExecerContext) error {
		pragmas := []string{
			"PRAGMA memory_limit='256MB'",
			"PRAGMA threads=2",
			"PRAGMA enable_progress_bar=false",
		}
		for _, pragma := range pragmas {
			if _, err := execer.ExecContext(context.Background(), pragma, nil); err != nil {
				fmt.Printf("[History] Pragma warning: %v\n", err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create DuckDB connector: %w", err)
	}

	db := sql.OpenDB(connector)
	s := &Store{db: db, dbPath: dbPath}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// OpenRoot opens the index kept inside an artifacts root.
func OpenRoot(root string) (*Store, error) {
	return Open(filepath.Join(root, DBFile))
}

func (s *Store) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS runs (
			run_id     VARCHAR NOT NULL,
			uuid       VARCHAR,
			dir        VARCHAR NOT NULL,
			scenario   VARCHAR NOT NULL,
			started_at TIMESTAMP,
			ended_at   TIMESTAMP,
			firmware   VARCHAR,
			final_ip   VARCHAR,
			exit_code  INTEGER,
			hin_min    BIGINT,
			frag_max   INTEGER,
			tripwire   BOOLEAN,
			panic      BOOLEAN
		)`,
		`CREATE TABLE IF NOT EXISTS mem_snapshots (
			run_id VARCHAR NOT NULL,
			seq    INTEGER NOT NULL,
			ts     TIMESTAMP,
			tag    VARCHAR NOT NULL,
			hf     BIGINT,
			hm     BIGINT,
			hl     BIGINT,
			hi     BIGINT,
			hin    BIGINT,
			frag   INTEGER,
			pf     BIGINT,
			pm     BIGINT,
			pl     BIGINT
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to create table: %w", err)
		}
	}
	return nil
}

// Ingest indexes every run under root that has a summary. It returns how
// many runs were ingested.
func (s *Store) Ingest(ctx context.Context, root string) (int, error) {
	runs, err := storage.ListRuns(root, 0)
	if err != nil {
		return 0, err
	}

	n := 0
	for _, r := range runs {
		if !r.HasSummary {
			continue
		}
		if err := s.IngestRun(ctx, r.Path); err != nil {
			fmt.Printf("[History] skipping %s: %v\n", r.ID, err)
			continue
		}
		n++
	}
	fmt.Printf("[History] Indexed %d of %d runs\n", n, len(runs))
	return n, nil
}

// IngestRun indexes one run directory, replacing any earlier rows for it.
func (s *Store) IngestRun(ctx context.Context, dir string) error {
	art := storage.ArtifactsFor(dir)
	sum, err := report.ReadSummary(art.SummaryJSON)
	if err != nil {
		return err
	}
	rows, _ := storage.ReadJSONL[models.MemRow](art.Mem)
	runID := filepath.Base(dir)

	for _, table := range []string{"runs", "mem_snapshots"} {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table+" WHERE run_id = ?", runID); err != nil {
			return fmt.Errorf("clearing %s for %s: %w", table, runID, err)
		}
	}

	var (
		hinMin   sql.NullInt64
		fragMax  sql.NullInt32
		tripwire bool
		panicked bool
	)
	if d := sum.Derived; d != nil {
		if d.Mem != nil {
			hinMin = sql.NullInt64{Int64: int64(d.Mem.HinMin), Valid: true}
			fragMax = sql.NullInt32{Int32: int32(d.Mem.FragMax), Valid: true}
		}
		tripwire = d.Tripwire.Fired
		panicked = d.Panic.Detected
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO runs (run_id, uuid, dir, scenario, started_at, ended_at, firmware, final_ip,
			exit_code, hin_min, frag_max, tripwire, panic)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		runID, sum.ID, dir, sum.Scenario.Key, sum.StartedAt, sum.EndedAt, sum.FirmwareVersion, sum.FinalIP,
		sum.ExitCode, hinMin, fragMax, tripwire, panicked,
	)
	if err != nil {
		return fmt.Errorf("inserting run %s: %w", runID, err)
	}

	return s.appendSnapshots(ctx, runID, rows)
}

// appendSnapshots writes mem rows with the native Appender API.
func (s *Store) appendSnapshots(ctx context.Context, runID string, rows []models.MemRow) error {
	if len(rows) == 0 {
		return nil
	}

	conn, err := s.db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("failed to get connection: %w", err)
	}
	defer conn.Close()

	err = conn.Raw(func(driverConn interface{}) error {
		dConn, ok := driverConn.(*duckdb.Conn)
		if !ok {
			return fmt.Errorf("failed to cast to duckdb.Conn")
		}

		appender, err := duckdb.NewAppenderFromConn(dConn, "", "mem_snapshots")
		if err != nil {
			return fmt.Errorf("failed to create appender: %w", err)
		}
		defer appender.Close()

		for i, r := range rows {
			err := appender.AppendRow(
				runID,
				int32(i),
				r.TS,
				r.Tag,
				int64(r.HF),
				int64(r.HM),
				int64(r.HL),
				int64(r.HI),
				int64(r.HIN),
				int32(r.Frag),
				int64(r.PF),
				int64(r.PM),
				int64(r.PL),
			)
			if err != nil {
				return fmt.Errorf("failed to append row %d: %w", i, err)
			}
		}
		return appender.Flush()
	})
	if err != nil {
		return fmt.Errorf("appender error: %w", err)
	}
	return nil
}

// TagHistory returns the hin minimum of tag for every indexed run, oldest first.
func (s *Store) TagHistory(ctx context.Context, tag string) ([]TagPoint, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT r.run_id, r.scenario, COALESCE(r.firmware, ''), r.started_at, COUNT(*), MIN(m.hin)
		FROM mem_snapshots m
		JOIN runs r ON r.run_id = m.run_id
		WHERE m.tag = ?
		GROUP BY r.run_id, r.scenario, r.firmware, r.started_at
		ORDER BY r.started_at, r.run_id`, tag)
	if err != nil {
		return nil, fmt.Errorf("querying tag history: %w", err)
	}
	defer rows.Close()

	var out []TagPoint
	for rows.Next() {
		var p TagPoint
		if err := rows.Scan(&p.RunID, &p.Scenario, &p.Firmware, &p.StartedAt, &p.Samples, &p.HinMin); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// RunCount returns the number of indexed runs.
func (s *Store) RunCount(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM runs").Scan(&n)
	return n, err
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}
