package calldb

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pressly/goose/v3"
	_ "github.com/jackc/pgx/v5/stdlib" // registers "pgx" driver
	_ "modernc.org/sqlite"             // registers "sqlite" driver
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// Stats aggregates the calls made from one remote URI.
type Stats struct {
	TotalCalls  int
	TotalTime   time.Duration
	RecentCalls int
	RecentTime  time.Duration
}

// Store persists call statistics and the per-call session log.
type Store struct {
	db     *sql.DB
	pg     bool
	period time.Duration
	now    func() time.Time
}

// Open connects to the call database. A postgres:// URL selects PostgreSQL;
// anything else is a SQLite file path. period is the window of the "recent"
// statistics.
func Open(path string, period time.Duration) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("call db path is required")
	}

	pg := strings.HasPrefix(path, "postgres://") || strings.HasPrefix(path, "postgresql://")
	driver, dsn := "sqlite", "file:"+filepath.Clean(path)+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	if pg {
		driver, dsn = "pgx", path
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("calldb open: %w", err)
	}
	if err = db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("calldb ping: %w", err)
	}

	s := &Store{db: db, pg: pg, period: period, now: time.Now}
	if err = s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("calldb migrate: %w", err)
	}
	if !pg {
		db.SetMaxOpenConns(1)
	}
	return s, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// rebind rewrites ? placeholders to $n for PostgreSQL.
func (s *Store) rebind(query string) string {
	if !s.pg {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r != '?' {
			b.WriteRune(r)
			continue
		}
		n++
		b.WriteString("$" + strconv.Itoa(n))
	}
	return b.String()
}

func (s *Store) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return s.db.ExecContext(ctx, s.rebind(query), args...)
}

func (s *Store) migrate() error {
	fsys, err := fs.Sub(migrationFS, "migrations")
	if err != nil {
		return err
	}
	dialect := goose.DialectSQLite3
	if s.pg {
		dialect = goose.DialectPostgres
	}
	provider, err := goose.NewProvider(dialect, s.db, fsys)
	if err != nil {
		return err
	}
	results, err := provider.Up(context.Background())
	if err != nil {
		return err
	}
	for _, r := range results {
		slog.Info("calldb migration applied", "version", r.Source.Version, "duration", r.Duration)
	}
	return nil
}

func toMillis(t time.Time) int64 { return t.UTC().UnixMilli() }

// URIStats returns the call totals for uri, overall and within the period.
func (s *Store) URIStats(ctx context.Context, uri string) (Stats, error) {
	since := toMillis(s.now().Add(-s.period))
	row := s.db.QueryRowContext(ctx, s.rebind(`
		SELECT
			COUNT(*),
			CAST(COALESCE(SUM(CASE WHEN disconnected_at IS NOT NULL THEN disconnected_at - confirmed_at ELSE 0 END), 0) AS BIGINT),
			CAST(COALESCE(SUM(CASE WHEN confirmed_at >= ? THEN 1 ELSE 0 END), 0) AS BIGINT),
			CAST(COALESCE(SUM(CASE WHEN confirmed_at >= ? AND disconnected_at IS NOT NULL THEN disconnected_at - confirmed_at ELSE 0 END), 0) AS BIGINT)
		FROM calls WHERE remote_uri = ?
	`), since, since, uri)

	var total, totalMs, recent, recentMs int64
	if err := row.Scan(&total, &totalMs, &recent, &recentMs); err != nil {
		return Stats{}, fmt.Errorf("uri stats %s: %w", uri, err)
	}
	return Stats{
		TotalCalls:  int(total),
		TotalTime:   time.Duration(totalMs) * time.Millisecond,
		RecentCalls: int(recent),
		RecentTime:  time.Duration(recentMs) * time.Millisecond,
	}, nil
}

// TrackConfirmedCall records the start of a call from uri.
func (s *Store) TrackConfirmedCall(ctx context.Context, uri string) error {
	_, err := s.exec(ctx,
		`INSERT INTO calls (id, remote_uri, confirmed_at) VALUES (?, ?, ?)`,
		uuid.NewString(), uri, toMillis(s.now()),
	)
	if err != nil {
		return fmt.Errorf("track confirmed call %s: %w", uri, err)
	}
	return nil
}

// TrackDisconnectedCall closes the most recent open call from uri. A
// disconnect without a confirmed call is ignored.
func (s *Store) TrackDisconnectedCall(ctx context.Context, uri string) error {
	res, err := s.exec(ctx, `
		UPDATE calls SET disconnected_at = ?
		WHERE id = (
			SELECT id FROM calls
			WHERE remote_uri = ? AND disconnected_at IS NULL
			ORDER BY confirmed_at DESC LIMIT 1
		)`, toMillis(s.now()), uri)
	if err != nil {
		return fmt.Errorf("track disconnected call %s: %w", uri, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		slog.Debug("disconnect without open call", "remote_uri", uri)
	}
	return nil
}

// Log writes a summary of the database to the default logger.
func (s *Store) Log(ctx context.Context) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT remote_uri, COUNT(*) AS n
		FROM calls
		GROUP BY remote_uri
		ORDER BY n DESC, remote_uri
		LIMIT 10
	`)
	if err != nil {
		return fmt.Errorf("calldb log: %w", err)
	}
	defer rows.Close()

	var uris, calls int
	for rows.Next() {
		var uri string
		var n int
		if err = rows.Scan(&uri, &n); err != nil {
			return fmt.Errorf("calldb log: %w", err)
		}
		uris++
		calls += n
		slog.Info("calldb caller", "remote_uri", uri, "calls", n)
	}
	if err = rows.Err(); err != nil {
		return fmt.Errorf("calldb log: %w", err)
	}
	slog.Info("calldb", "top_callers", uris, "calls", calls, "period", s.period)
	return nil
}
