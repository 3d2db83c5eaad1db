package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/Pharos-AI/utils/entry"
	"github.com/Pharos-AI/utils/provenance"
	"github.com/oklog/ulid/v2"
)

type ListOptions struct {
	TransactionID string
	Category      entry.Category
	Limit         int
}

type EntryRepo interface {
	SaveBatch(ctx context.Context, records []entry.Record) error
	Get(id string) (*entry.Record, error)
	List(opts ListOptions) ([]*entry.Record, error)
	Count() (int64, error)
	Prune(olderThan time.Time) (int64, error)
}

type SQLiteEntryRepo struct {
	db  *sql.DB
	now func() time.Time
}

func NewSQLiteEntryRepo(db *sql.DB) *SQLiteEntryRepo {
	return &SQLiteEntryRepo{db: db, now: time.Now}
}

const entryColumns = `id, timestamp, category, level, type, area, summary, details, record_id, object_api_name,
	transaction_id, duration_ms, created_at, error_message, error_stack, error_type,
	origin_kind, origin_name, origin_function, stack`

// SaveBatch writes the whole batch in one transaction. Records that already
// exist are left alone so a resent batch does not duplicate rows.
func (r *SQLiteEntryRepo) SaveBatch(ctx context.Context, records []entry.Record) error {
	if len(records) == 0 {
		return nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR IGNORE INTO entries (`+entryColumns+`, received_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	receivedAt := r.now().UnixMilli()
	for i := range records {
		rec := &records[i]
		if rec.ID == "" {
			rec.ID = ulid.Make().String()
		}
		if rec.Timestamp == 0 {
			rec.Timestamp = receivedAt
		}

		var errMsg, errStack, errType string
		if rec.Error != nil {
			errMsg, errStack, errType = rec.Error.Message, rec.Error.Stack, rec.Error.TypeName
		}
		var kind, name, fn string
		if rec.Provenance != nil {
			kind, name, fn = string(rec.Provenance.Kind), rec.Provenance.Name, rec.Provenance.Function
		}

		_, err := stmt.ExecContext(ctx,
			rec.ID, rec.Timestamp, string(rec.Category), string(rec.Level), rec.Type, rec.Area,
			rec.Summary, rec.Details, rec.RecordID, rec.ObjectAPIName, rec.TransactionID,
			rec.DurationMs, rec.CreatedAt, errMsg, errStack, errType, kind, name, fn, rec.Stack,
			receivedAt,
		)
		if err != nil {
			return fmt.Errorf("insert entry %s: %w", rec.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit entries: %w", err)
	}
	return nil
}

func (r *SQLiteEntryRepo) Get(id string) (*entry.Record, error) {
	row := r.db.QueryRow(`SELECT `+entryColumns+` FROM entries WHERE id = ?`, id)

	rec, err := scanEntry(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan entry: %w", err)
	}
	return rec, nil
}

// List returns newest first. A zero Limit means 100.
func (r *SQLiteEntryRepo) List(opts ListOptions) ([]*entry.Record, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 100
	}

	var where []string
	var args []interface{}
	if opts.TransactionID != "" {
		where = append(where, "transaction_id = ?")
		args = append(args, opts.TransactionID)
	}
	if opts.Category != "" {
		where = append(where, "category = ?")
		args = append(args, string(opts.Category))
	}

	query := `SELECT ` + entryColumns + ` FROM entries`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY timestamp DESC, id DESC LIMIT ?"
	args = append(args, limit)

	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query entries: %w", err)
	}
	defer rows.Close()

	var records []*entry.Record
	for rows.Next() {
		rec, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan entry: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

func (r *SQLiteEntryRepo) Count() (int64, error) {
	var n int64
	if err := r.db.QueryRow("SELECT COUNT(*) FROM entries").Scan(&n); err != nil {
		return 0, fmt.Errorf("count entries: %w", err)
	}
	return n, nil
}

func (r *SQLiteEntryRepo) Prune(olderThan time.Time) (int64, error) {
	res, err := r.db.Exec("DELETE FROM entries WHERE timestamp < ?", olderThan.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("prune entries: %w", err)
	}
	return res.RowsAffected()
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanEntry(s scanner) (*entry.Record, error) {
	rec := &entry.Record{}
	var (
		category, level                                   string
		typ, area, summary, details                       sql.NullString
		recordID, objectAPIName, transactionID            sql.NullString
		durationMs, createdAt                             sql.NullInt64
		errMsg, errStack, errType, kind, name, fn, stack sql.NullString
	)

	err := s.Scan(&rec.ID, &rec.Timestamp, &category, &level, &typ, &area, &summary, &details,
		&recordID, &objectAPIName, &transactionID, &durationMs, &createdAt,
		&errMsg, &errStack, &errType, &kind, &name, &fn, &stack)
	if err != nil {
		return nil, err
	}

	rec.Category = entry.Category(category)
	rec.Level = entry.Level(level)
	rec.Type = typ.String
	rec.Area = area.String
	rec.Summary = summary.String
	rec.Details = details.String
	rec.RecordID = recordID.String
	rec.ObjectAPIName = objectAPIName.String
	rec.TransactionID = transactionID.String
	rec.DurationMs = durationMs.Int64
	rec.CreatedAt = createdAt.Int64
	rec.Stack = stack.String

	if errMsg.String != "" || errStack.String != "" || errType.String != "" {
		rec.Error = &entry.ErrorInfo{Message: errMsg.String, Stack: errStack.String, TypeName: errType.String}
	}
	if kind.String != "" {
		rec.Provenance = &provenance.Provenance{
			Kind:     provenance.Kind(kind.String),
			Name:     name.String,
			Function: fn.String,
		}
	}
	return rec, nil
}
