package attendance

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"rollcall/internal/queue"
	"rollcall/internal/store"
)

// Repository persists attendance data in Postgres and serves as the remote
// system of record for reconciliation.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a repo.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// Commit writes every entry in one transaction. Entry ids are primary keys,
// so replaying a batch after a failed response is harmless.
func (r *Repository) Commit(ctx context.Context, entries []queue.Entry) error {
	return store.WithTx(ctx, r.db, func(ctx context.Context, tx store.DBTX) error {
		for _, e := range entries {
			var meta any
			if len(e.Metadata) > 0 {
				b, err := json.Marshal(e.Metadata)
				if err != nil {
					return fmt.Errorf("encode metadata for %s: %w", e.ID, err)
				}
				meta = b
			}
			_, err := tx.ExecContext(ctx, `
				INSERT INTO attendance_records (id, session_id, student_id, status, source, occurred_at, metadata)
				VALUES ($1, $2, $3, $4, $5, $6, $7)
				ON CONFLICT (id) DO NOTHING
			`, e.ID, e.SessionID, e.StudentID, e.Status, string(SourceOfflineSync), e.Timestamp, meta)
			if err != nil {
				return fmt.Errorf("insert record %s: %w", e.ID, err)
			}
		}
		return nil
	})
}

// StoredRecord is a row of attendance_records.
type StoredRecord struct {
	ID         string    `json:"id"`
	SessionID  string    `json:"session_id"`
	StudentID  string    `json:"student_id"`
	Status     string    `json:"status"`
	Source     string    `json:"source"`
	OccurredAt time.Time `json:"occurred_at"`
	CreatedAt  time.Time `json:"created_at"`
}

// ListRecords returns committed records with basic filters.
func (r *Repository) ListRecords(ctx context.Context, sessionID, studentID string, limit, offset int) ([]StoredRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	query := `SELECT id, session_id, student_id, status, source, occurred_at, created_at FROM attendance_records`
	args := []any{}
	clauses := []string{}
	if sessionID != "" {
		args = append(args, sessionID)
		clauses = append(clauses, fmt.Sprintf("session_id = $%d", len(args)))
	}
	if studentID != "" {
		args = append(args, studentID)
		clauses = append(clauses, fmt.Sprintf("student_id = $%d", len(args)))
	}
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += fmt.Sprintf(" ORDER BY occurred_at DESC LIMIT $%d OFFSET $%d", len(args)+1, len(args)+2)
	args = append(args, limit, offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []StoredRecord
	for rows.Next() {
		var rec StoredRecord
		if err := rows.Scan(&rec.ID, &rec.SessionID, &rec.StudentID, &rec.Status, &rec.Source, &rec.OccurredAt, &rec.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, rec)
	}
	return res, rows.Err()
}

// Student is a roster member.
type Student struct {
	StudentID string    `json:"student_id"`
	Name      *string   `json:"name,omitempty"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

// ListStudents returns the active roster.
func (r *Repository) ListStudents(ctx context.Context) ([]Student, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT student_id, name, active, created_at
		FROM students
		WHERE active
		ORDER BY student_id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var students []Student
	for rows.Next() {
		var s Student
		if err := rows.Scan(&s.StudentID, &s.Name, &s.Active, &s.CreatedAt); err != nil {
			return nil, err
		}
		students = append(students, s)
	}
	return students, rows.Err()
}

// RosterIDs returns just the ids of the active roster.
func (r *Repository) RosterIDs(ctx context.Context) ([]string, error) {
	students, err := r.ListStudents(ctx)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(students))
	for _, s := range students {
		ids = append(ids, s.StudentID)
	}
	return ids, nil
}

// ReplaceRoster marks exactly the given students active, inserting any that
// are new.
func (r *Repository) ReplaceRoster(ctx context.Context, studentIDs []string) error {
	return store.WithTx(ctx, r.db, func(ctx context.Context, tx store.DBTX) error {
		if _, err := tx.ExecContext(ctx, `UPDATE students SET active = FALSE`); err != nil {
			return fmt.Errorf("deactivate roster: %w", err)
		}
		for _, id := range studentIDs {
			_, err := tx.ExecContext(ctx, `
				INSERT INTO students (student_id, active)
				VALUES ($1, TRUE)
				ON CONFLICT (student_id) DO UPDATE SET active = TRUE
			`, id)
			if err != nil {
				return fmt.Errorf("upsert student %s: %w", id, err)
			}
		}
		return nil
	})
}
