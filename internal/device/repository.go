package device

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mattn/go-sqlite3"
)

// Repository persists known devices and inbox entries.
// The SQLite implementation is used in production; tests use a mock.
type Repository interface {
	// ListKnown returns every known device.
	ListKnown(ctx context.Context) ([]KnownDevice, error)

	// CreateKnown inserts d. Returns ErrDeviceExists on a duplicate identity.
	CreateKnown(ctx context.Context, d KnownDevice) error

	// DeleteKnown removes the identity. Returns ErrDeviceNotFound if absent.
	DeleteKnown(ctx context.Context, identity string) error

	// UpsertInbox inserts a pending entry for e.Identity, or bumps
	// last_seen and seen_count of the existing one, and returns the
	// stored row. Status is never changed by an upsert.
	UpsertInbox(ctx context.Context, e InboxEntry) (InboxEntry, error)

	// GetInbox returns the entry with id. Returns ErrInboxEntryNotFound if absent.
	GetInbox(ctx context.Context, id string) (InboxEntry, error)

	// ListInbox returns entries with status, or all entries when status is empty.
	ListInbox(ctx context.Context, status InboxStatus) ([]InboxEntry, error)

	// ApproveInbox marks the entry approved and records it as a known
	// device in one transaction.
	ApproveInbox(ctx context.Context, id, name string) (KnownDevice, error)

	// SetInboxStatus changes the status of the entry with id.
	SetInboxStatus(ctx context.Context, id string, status InboxStatus) (InboxEntry, error)
}

// SQLiteRepository implements Repository using SQLite.
type SQLiteRepository struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteRepository creates a repository over an open, migrated database.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db, now: time.Now}
}

const inboxColumns = `id, identity, label, protocol, properties, source, status, first_seen, last_seen, seen_count`

// ListKnown returns every known device ordered by identity.
func (r *SQLiteRepository) ListKnown(ctx context.Context) ([]KnownDevice, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT identity, name, protocol, properties, created_at FROM known_devices ORDER BY identity`)
	if err != nil {
		return nil, fmt.Errorf("querying known devices: %w", err)
	}
	defer rows.Close()

	var devices []KnownDevice
	for rows.Next() {
		var d KnownDevice
		var props, createdAt string
		if err := rows.Scan(&d.Identity, &d.Name, &d.Protocol, &props, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning known device: %w", err)
		}
		if d.Properties, err = decodeProperties(props); err != nil {
			return nil, fmt.Errorf("known device %s: %w", d.Identity, err)
		}
		d.CreatedAt = parseTime(createdAt)
		devices = append(devices, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating known devices: %w", err)
	}
	return devices, nil
}

// CreateKnown inserts a known device.
func (r *SQLiteRepository) CreateKnown(ctx context.Context, d KnownDevice) error {
	if d.CreatedAt.IsZero() {
		d.CreatedAt = r.now()
	}
	return createKnown(ctx, r.db, d)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func createKnown(ctx context.Context, db execer, d KnownDevice) error {
	props, err := encodeProperties(d.Properties)
	if err != nil {
		return err
	}
	_, err = db.ExecContext(ctx,
		`INSERT INTO known_devices (identity, name, protocol, properties, created_at) VALUES (?, ?, ?, ?, ?)`,
		d.Identity, d.Name, d.Protocol, props, formatTime(d.CreatedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: %s", ErrDeviceExists, d.Identity)
		}
		return fmt.Errorf("inserting known device: %w", err)
	}
	return nil
}

// DeleteKnown removes a known device.
func (r *SQLiteRepository) DeleteKnown(ctx context.Context, identity string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM known_devices WHERE identity = ?`, identity)
	if err != nil {
		return fmt.Errorf("deleting known device: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if n == 0 {
		return ErrDeviceNotFound
	}
	return nil
}

// UpsertInbox inserts or refreshes the inbox entry for e.Identity.
func (r *SQLiteRepository) UpsertInbox(ctx context.Context, e InboxEntry) (InboxEntry, error) {
	props, err := encodeProperties(e.Properties)
	if err != nil {
		return InboxEntry{}, err
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.FirstSeen.IsZero() {
		e.FirstSeen = r.now()
	}
	if e.LastSeen.IsZero() {
		e.LastSeen = e.FirstSeen
	}

	row := r.db.QueryRowContext(ctx, `
		INSERT INTO discovery_inbox (`+inboxColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, 'pending', ?, ?, 1)
		ON CONFLICT(identity) DO UPDATE SET
			label = excluded.label,
			protocol = excluded.protocol,
			properties = excluded.properties,
			source = excluded.source,
			last_seen = excluded.last_seen,
			seen_count = discovery_inbox.seen_count + 1
		RETURNING `+inboxColumns,
		e.ID, e.Identity, e.Label, e.Protocol, props, e.Source,
		formatTime(e.FirstSeen), formatTime(e.LastSeen),
	)
	stored, err := scanInbox(row)
	if err != nil {
		return InboxEntry{}, fmt.Errorf("upserting inbox entry: %w", err)
	}
	return stored, nil
}

// GetInbox returns a single inbox entry.
func (r *SQLiteRepository) GetInbox(ctx context.Context, id string) (InboxEntry, error) {
	return getInbox(ctx, r.db, id)
}

type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func getInbox(ctx context.Context, db queryRower, id string) (InboxEntry, error) {
	row := db.QueryRowContext(ctx, `SELECT `+inboxColumns+` FROM discovery_inbox WHERE id = ?`, id)
	e, err := scanInbox(row)
	if errors.Is(err, sql.ErrNoRows) {
		return InboxEntry{}, ErrInboxEntryNotFound
	}
	if err != nil {
		return InboxEntry{}, fmt.Errorf("querying inbox entry: %w", err)
	}
	return e, nil
}

// ListInbox returns entries newest first.
func (r *SQLiteRepository) ListInbox(ctx context.Context, status InboxStatus) ([]InboxEntry, error) {
	query := `SELECT ` + inboxColumns + ` FROM discovery_inbox`
	var args []any
	if status != "" {
		if !status.Valid() {
			return nil, fmt.Errorf("%w: %q", ErrInvalidStatus, status)
		}
		query += ` WHERE status = ?`
		args = append(args, string(status))
	}
	query += ` ORDER BY last_seen DESC, identity`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying inbox: %w", err)
	}
	defer rows.Close()

	var entries []InboxEntry
	for rows.Next() {
		e, err := scanInbox(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning inbox entry: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating inbox: %w", err)
	}
	return entries, nil
}

// ApproveInbox promotes an inbox entry to a known device. An empty name
// falls back to the entry's label.
func (r *SQLiteRepository) ApproveInbox(ctx context.Context, id, name string) (KnownDevice, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return KnownDevice{}, fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // Rollback is no-op after commit

	e, err := getInbox(ctx, tx, id)
	if err != nil {
		return KnownDevice{}, err
	}
	if name == "" {
		name = e.Label
	}

	known := KnownDevice{
		Identity:   e.Identity,
		Name:       name,
		Protocol:   e.Protocol,
		Properties: e.Properties,
		CreatedAt:  r.now(),
	}
	if err := ValidateKnownDevice(known); err != nil {
		return KnownDevice{}, err
	}
	if err := createKnown(ctx, tx, known); err != nil {
		return KnownDevice{}, err
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE discovery_inbox SET status = ? WHERE id = ?`, string(InboxApproved), id,
	); err != nil {
		return KnownDevice{}, fmt.Errorf("updating inbox status: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return KnownDevice{}, fmt.Errorf("committing approval: %w", err)
	}
	return known, nil
}

// SetInboxStatus updates an entry's status and returns the updated row.
func (r *SQLiteRepository) SetInboxStatus(ctx context.Context, id string, status InboxStatus) (InboxEntry, error) {
	if !status.Valid() {
		return InboxEntry{}, fmt.Errorf("%w: %q", ErrInvalidStatus, status)
	}
	row := r.db.QueryRowContext(ctx,
		`UPDATE discovery_inbox SET status = ? WHERE id = ? RETURNING `+inboxColumns,
		string(status), id,
	)
	e, err := scanInbox(row)
	if errors.Is(err, sql.ErrNoRows) {
		return InboxEntry{}, ErrInboxEntryNotFound
	}
	if err != nil {
		return InboxEntry{}, fmt.Errorf("updating inbox status: %w", err)
	}
	return e, nil
}

// rowScanner is an interface that sql.Row and sql.Rows both implement.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanInbox(s rowScanner) (InboxEntry, error) {
	var e InboxEntry
	var props, status, firstSeen, lastSeen string
	if err := s.Scan(&e.ID, &e.Identity, &e.Label, &e.Protocol, &props, &e.Source,
		&status, &firstSeen, &lastSeen, &e.SeenCount); err != nil {
		return InboxEntry{}, err
	}
	var err error
	if e.Properties, err = decodeProperties(props); err != nil {
		return InboxEntry{}, err
	}
	e.Status = InboxStatus(status)
	e.FirstSeen = parseTime(firstSeen)
	e.LastSeen = parseTime(lastSeen)
	return e, nil
}

func encodeProperties(props map[string]string) (string, error) {
	if len(props) == 0 {
		return "{}", nil
	}
	b, err := json.Marshal(props)
	if err != nil {
		return "", fmt.Errorf("encoding properties: %w", err)
	}
	return string(b), nil
}

func decodeProperties(s string) (map[string]string, error) {
	if s == "" || s == "{}" {
		return nil, nil
	}
	var props map[string]string
	if err := json.Unmarshal([]byte(s), &props); err != nil {
		return nil, fmt.Errorf("decoding properties: %w", err)
	}
	return props, nil
}

// timeLayout is fixed-width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

// parseTime ignores parse errors; every timestamp is written by formatTime.
func parseTime(s string) time.Time {
	t, _ := time.Parse(timeLayout, s) //nolint:errcheck // Format is controlled
	return t
}

func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
		sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
}
