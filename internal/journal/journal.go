// Package journal keeps a local SQLite history of apontamento outcomes so an
// operator can see what was sent to CmControl and how it answered, even
// after the process restarts.
package journal

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/cmcontrol-device/internal/infrastructure/database"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Page size limits for List.
const (
	defaultLimit = 50
	maxLimit     = 500
)

// timeLayout is fixed width so created_at sorts correctly as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Entry is one recorded apontamento outcome.
type Entry struct {
	ID        string `json:"id"`
	Operation string `json:"operation"`
	Device    string `json:"device"`
	// Serial holds the serial codes, comma separated for linked serials.
	Serial string `json:"serial"`
	Ciclo  string `json:"ciclo,omitempty"`
	// Ordem is the transport order code, when there is one.
	Ordem     string        `json:"ordem,omitempty"`
	Status    string        `json:"status,omitempty"`
	Log       string        `json:"log,omitempty"`
	OK        bool          `json:"ok"`
	Error     string        `json:"error,omitempty"`
	Duration  time.Duration `json:"duration_ns"`
	CreatedAt time.Time     `json:"created_at"`
}

// Filter selects entries for List.
type Filter struct {
	Operation string // optional
	Serial    string // optional: matches entries containing this serial
	OnlyFail  bool
	Limit     int // default 50, max 500
	Offset    int
}

// ListResult is one page of entries, newest first.
type ListResult struct {
	Entries []Entry `json:"entries"`
	Total   int     `json:"total"`
	Limit   int     `json:"limit"`
	Offset  int     `json:"offset"`
}

// Repository stores journal entries.
type Repository interface {
	Record(ctx context.Context, e *Entry) error
	List(ctx context.Context, f Filter) (*ListResult, error)
}

// SQLiteRepository is the Repository backed by the apontamentos table.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a repository on an open database.
// Call Migrate before first use.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// Migrations returns the journal schema for database.DB.Migrate.
func Migrations() fs.FS {
	sub, err := fs.Sub(migrationsFS, "migrations")
	if err != nil {
		panic(err) // embedded path is fixed at compile time
	}
	return sub
}

// Open opens the journal database and brings its schema up to date.
func Open(ctx context.Context, cfg database.Config) (*database.DB, *SQLiteRepository, error) {
	db, err := database.Open(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("opening journal: %w", err)
	}
	if err := db.Migrate(ctx, Migrations()); err != nil {
		db.Close() //nolint:errcheck // best effort on the error path
		return nil, nil, fmt.Errorf("migrating journal: %w", err)
	}
	return db, NewSQLiteRepository(db.DB), nil
}

// Record inserts e. ID and CreatedAt are filled in when empty.
func (r *SQLiteRepository) Record(ctx context.Context, e *Entry) error {
	if e.ID == "" {
		e.ID = "apt-" + uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO apontamentos
		 (id, operation, device, serial, ciclo, ordem, status, log, ok, error, duration_ms, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.Operation, e.Device, e.Serial,
		nullableString(e.Ciclo), nullableString(e.Ordem),
		nullableString(e.Status), nullableString(e.Log),
		boolToInt(e.OK), nullableString(e.Error),
		e.Duration.Milliseconds(),
		e.CreatedAt.UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("inserting journal entry: %w", err)
	}
	return nil
}

// List returns entries matching f, newest first.
func (r *SQLiteRepository) List(ctx context.Context, f Filter) (*ListResult, error) {
	if f.Limit <= 0 {
		f.Limit = defaultLimit
	}
	if f.Limit > maxLimit {
		f.Limit = maxLimit
	}
	if f.Offset < 0 {
		f.Offset = 0
	}

	var conditions []string
	var args []any
	if f.Operation != "" {
		conditions = append(conditions, "operation = ?")
		args = append(args, f.Operation)
	}
	if f.Serial != "" {
		conditions = append(conditions, "(serial = ? OR ',' || serial || ',' LIKE ?)")
		args = append(args, f.Serial, "%,"+f.Serial+",%")
	}
	if f.OnlyFail {
		conditions = append(conditions, "ok = 0")
	}
	where := ""
	if len(conditions) > 0 {
		where = "WHERE " + strings.Join(conditions, " AND ")
	}

	var total int
	countQuery := "SELECT COUNT(*) FROM apontamentos " + where //nolint:gosec // WHERE built from parameterised conditions
	if err := r.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("counting journal entries: %w", err)
	}

	query := `SELECT id, operation, device, serial, ciclo, ordem, status, log, ok, error, duration_ms, created_at
		FROM apontamentos ` + where + ` ORDER BY created_at DESC, rowid DESC LIMIT ? OFFSET ?` //nolint:gosec // as above
	rows, err := r.db.QueryContext(ctx, query, append(args, f.Limit, f.Offset)...)
	if err != nil {
		return nil, fmt.Errorf("querying journal entries: %w", err)
	}
	defer rows.Close()

	entries := []Entry{}
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating journal entries: %w", err)
	}

	return &ListResult{Entries: entries, Total: total, Limit: f.Limit, Offset: f.Offset}, nil
}

func scanEntry(rows *sql.Rows) (Entry, error) {
	var e Entry
	var ciclo, ordem, status, log, errText sql.NullString
	var ok int
	var durationMS int64
	var createdAt string

	if err := rows.Scan(&e.ID, &e.Operation, &e.Device, &e.Serial,
		&ciclo, &ordem, &status, &log, &ok, &errText, &durationMS, &createdAt); err != nil {
		return Entry{}, fmt.Errorf("scanning journal entry: %w", err)
	}
	e.Ciclo = ciclo.String
	e.Ordem = ordem.String
	e.Status = status.String
	e.Log = log.String
	e.Error = errText.String
	e.OK = ok == 1
	e.Duration = time.Duration(durationMS) * time.Millisecond

	t, err := time.Parse(timeLayout, createdAt)
	if err != nil {
		return Entry{}, fmt.Errorf("parsing journal timestamp %q: %w", createdAt, err)
	}
	e.CreatedAt = t
	return e, nil
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
