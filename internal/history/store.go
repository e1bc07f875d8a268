package history

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

//go:embed migrations/sqlite/*.sql migrations/postgres/*.sql
var migrationsFS embed.FS

// flavor selects the SQL dialect the store was opened with.
type flavor int

const (
	flavorSQLite flavor = iota
	flavorPostgres
)

// CallRecord is one row of call history: when a call leg entered the
// registry and, once it left, when and why.
type CallRecord struct {
	ID            int64
	CallLegID     string
	CorrelationID string
	StartedAt     time.Time
	EndedAt       sql.NullTime
	EndReason     sql.NullString
}

// Store persists call history in SQLite or PostgreSQL. It implements the
// calling package's CallRecorder.
type Store struct {
	db     *sql.DB
	flavor flavor
}

// Open creates or opens the embedded SQLite history database under dataDir
// with WAL mode enabled and runs any pending migrations.
func Open(dataDir string) (*Store, error) {
	if err := os.MkdirAll(dataDir, 0750); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, "callbot.db")
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(wal)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(on)", dbPath)

	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening history database: %w", err)
	}

	// Verify connection.
	if err := sqlDB.Ping(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("pinging history database: %w", err)
	}

	// SQLite performs best with a single writer connection.
	sqlDB.SetMaxOpenConns(1)

	s := &Store{db: sqlDB, flavor: flavorSQLite}
	if err := s.migrate("migrations/sqlite"); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	slog.Info("history database opened", "path", dbPath)
	return s, nil
}

// OpenPostgres opens a PostgreSQL history database and runs any pending
// migrations. Used when several bot instances share one history store.
func OpenPostgres(dsn string) (*Store, error) {
	sqlDB, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening history database: %w", err)
	}

	if err := sqlDB.Ping(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("pinging history database: %w", err)
	}

	s := &Store{db: sqlDB, flavor: flavorPostgres}
	if err := s.migrate("migrations/postgres"); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	slog.Info("history database opened", "driver", "pgx")
	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// CreateRecord inserts a history row for a call leg entering the registry.
// A call leg id can be reused when the platform re-delivers the same call;
// the row is then reopened in place.
func (s *Store) CreateRecord(ctx context.Context, callLegID, correlationID string, started time.Time) error {
	_, err := s.db.ExecContext(ctx, s.bind(
		`INSERT INTO call_records (call_leg_id, correlation_id, started_at)
		 VALUES (?, ?, ?)
		 ON CONFLICT (call_leg_id) DO UPDATE SET
		 correlation_id = excluded.correlation_id,
		 started_at = excluded.started_at,
		 ended_at = NULL,
		 end_reason = NULL`),
		callLegID, correlationID, started.UTC(),
	)
	if err != nil {
		return fmt.Errorf("inserting call record: %w", err)
	}
	return nil
}

// CloseRecord marks the call leg's open history row as ended with the given
// reason. Closing an already closed or unknown record is a no-op.
func (s *Store) CloseRecord(ctx context.Context, callLegID, reason string, ended time.Time) error {
	_, err := s.db.ExecContext(ctx, s.bind(
		`UPDATE call_records SET ended_at = ?, end_reason = ?
		 WHERE call_leg_id = ? AND ended_at IS NULL`),
		ended.UTC(), reason, callLegID,
	)
	if err != nil {
		return fmt.Errorf("closing call record: %w", err)
	}
	return nil
}

// Recent returns the most recent call records up to the given limit,
// newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]CallRecord, error) {
	rows, err := s.db.QueryContext(ctx, s.bind(
		`SELECT id, call_leg_id, correlation_id, started_at, ended_at, end_reason
		 FROM call_records ORDER BY started_at DESC LIMIT ?`), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("listing recent call records: %w", err)
	}
	defer rows.Close()

	var records []CallRecord
	for rows.Next() {
		var r CallRecord
		if err := rows.Scan(&r.ID, &r.CallLegID, &r.CorrelationID,
			&r.StartedAt, &r.EndedAt, &r.EndReason); err != nil {
			return nil, fmt.Errorf("scanning call record row: %w", err)
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating call record rows: %w", err)
	}

	return records, nil
}

// CountByReason returns how many closed calls ended with each reason.
func (s *Store) CountByReason(ctx context.Context) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT end_reason, COUNT(*) FROM call_records
		 WHERE ended_at IS NOT NULL GROUP BY end_reason`,
	)
	if err != nil {
		return nil, fmt.Errorf("counting call records: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var reason sql.NullString
		var n int
		if err := rows.Scan(&reason, &n); err != nil {
			return nil, fmt.Errorf("scanning reason count row: %w", err)
		}
		counts[reason.String] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating reason count rows: %w", err)
	}

	return counts, nil
}

// bind rewrites ? placeholders to $n for PostgreSQL. SQLite queries pass
// through untouched.
func (s *Store) bind(query string) string {
	if s.flavor != flavorPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$")
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// migrate runs all pending SQL migration files from dir in order.
func (s *Store) migrate(dir string) error {
	// Create migrations tracking table.
	_, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_migrations (
		version TEXT PRIMARY KEY,
		applied_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`)
	if err != nil {
		return fmt.Errorf("creating schema_migrations table: %w", err)
	}

	entries, err := fs.ReadDir(migrationsFS, dir)
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}

	// Sort by filename to ensure order.
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}

		version := strings.TrimSuffix(entry.Name(), ".sql")

		// Check if already applied.
		var count int
		err := s.db.QueryRow(s.bind("SELECT COUNT(*) FROM schema_migrations WHERE version = ?"), version).Scan(&count)
		if err != nil {
			return fmt.Errorf("checking migration %s: %w", version, err)
		}
		if count > 0 {
			continue
		}

		content, err := migrationsFS.ReadFile(path.Join(dir, entry.Name()))
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", version, err)
		}

		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("beginning transaction for migration %s: %w", version, err)
		}

		if _, err := tx.Exec(string(content)); err != nil {
			tx.Rollback()
			return fmt.Errorf("executing migration %s: %w", version, err)
		}

		if _, err := tx.Exec(s.bind("INSERT INTO schema_migrations (version) VALUES (?)"), version); err != nil {
			tx.Rollback()
			return fmt.Errorf("recording migration %s: %w", version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing migration %s: %w", version, err)
		}

		slog.Info("applied migration", "version", version)
	}

	return nil
}
