package repo

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"taskbridge/internal/domain"
)

const taskColumns = `id,title,description,budget,created_by,assigned_to,status,created_at,assigned_at,completion_date`

func scanTask(scan func(dest ...any) error) (domain.Task, error) {
	var t domain.Task
	var description, assignedTo, assignedAt, completionDate sql.NullString
	err := scan(&t.ID, &t.Title, &description, &t.Budget, &t.CreatedBy, &assignedTo, &t.Status, &t.CreatedAt, &assignedAt, &completionDate)
	if err == sql.ErrNoRows {
		return t, ErrNotFound
	}
	if err != nil {
		return t, err
	}
	if description.Valid {
		t.Description = description.String
	}
	if assignedTo.Valid {
		t.AssignedTo = &assignedTo.String
	}
	if assignedAt.Valid {
		t.AssignedAt = &assignedAt.String
	}
	if completionDate.Valid {
		t.CompletionDate = &completionDate.String
	}
	return t, nil
}

func (r Repo) InsertTask(ctx context.Context, tx *sql.Tx, t domain.Task) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO tasks(`+taskColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?)`,
		t.ID, t.Title, nullable(t.Description), t.Budget, t.CreatedBy, nullableStringPtr(t.AssignedTo),
		t.Status, t.CreatedAt, nullableStringPtr(t.AssignedAt), nullableStringPtr(t.CompletionDate))
	if isUniqueViolation(err) {
		return fmt.Errorf("task %s already exists: %w", t.ID, ErrConflict)
	}
	return err
}

func (r Repo) GetTask(ctx context.Context, id string) (domain.Task, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id=?`, id)
	return scanTask(row.Scan)
}

func (r Repo) GetTaskTx(ctx context.Context, tx *sql.Tx, id string) (domain.Task, error) {
	row := tx.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id=?`, id)
	return scanTask(row.Scan)
}

// TransitionFields carries the columns a lifecycle transition may set
// alongside the status change.
type TransitionFields struct {
	AssignedTo     *string
	AssignedAt     *string
	CompletionDate *string
	ClearAssignee  bool
}

func ensureTaskTransition(from, to string) error {
	switch from + ">" + to {
	case "open>assigned", "open>cancelled", "assigned>finished", "assigned>cancelled", "finished>completed":
		return nil
	}
	return fmt.Errorf("transition %s -> %s not allowed: %w", from, to, ErrConflict)
}

// TransitionTask is the guarded compare-and-swap all lifecycle changes funnel
// through. The UPDATE only applies while the row's status still equals from;
// zero rows affected means another writer got there first (ErrConflict) or
// the task does not exist (ErrNotFound).
func (r Repo) TransitionTask(ctx context.Context, tx *sql.Tx, id, from, to string, fields TransitionFields) (domain.Task, error) {
	if err := ensureTaskTransition(from, to); err != nil {
		return domain.Task{}, err
	}
	sets := []string{"status=?"}
	args := []any{to}
	if fields.AssignedTo != nil {
		sets = append(sets, "assigned_to=?")
		args = append(args, *fields.AssignedTo)
	} else if fields.ClearAssignee {
		sets = append(sets, "assigned_to=NULL")
	}
	if fields.AssignedAt != nil {
		sets = append(sets, "assigned_at=?")
		args = append(args, *fields.AssignedAt)
	}
	if fields.CompletionDate != nil {
		sets = append(sets, "completion_date=?")
		args = append(args, *fields.CompletionDate)
	}
	args = append(args, id, from)
	res, err := tx.ExecContext(ctx, fmt.Sprintf(`UPDATE tasks SET %s WHERE id=? AND status=?`, strings.Join(sets, ",")), args...)
	if err != nil {
		return domain.Task{}, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		if _, err := r.GetTaskTx(ctx, tx, id); err != nil {
			return domain.Task{}, err
		}
		return domain.Task{}, fmt.Errorf("task %s is not %s: %w", id, from, ErrConflict)
	}
	return r.GetTaskTx(ctx, tx, id)
}

// DeleteTask removes the task row. Callers check first that no acceptance
// references the task; the ledger outlives nothing.
func (r Repo) DeleteTask(ctx context.Context, tx *sql.Tx, id string) error {
	res, err := tx.ExecContext(ctx, `DELETE FROM tasks WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

type TaskFilters struct {
	Status          string
	CreatedBy       string
	AssignedTo      string
	Limit           int
	CursorCreatedAt string
	CursorID        string
}

func (r Repo) ListTasks(ctx context.Context, f TaskFilters) ([]domain.Task, error) {
	var clauses []string
	var args []any
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	if f.CreatedBy != "" {
		clauses = append(clauses, "created_by=?")
		args = append(args, f.CreatedBy)
	}
	if f.AssignedTo != "" {
		clauses = append(clauses, "assigned_to=?")
		args = append(args, f.AssignedTo)
	}
	if f.CursorCreatedAt != "" && f.CursorID != "" {
		clauses = append(clauses, "(created_at < ? OR (created_at = ? AND id < ?))")
		args = append(args, f.CursorCreatedAt, f.CursorCreatedAt, f.CursorID)
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	query := `SELECT ` + taskColumns + ` FROM tasks ` + where + ` ORDER BY created_at DESC, id DESC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Task
	for rows.Next() {
		t, err := scanTask(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, t)
	}
	return res, rows.Err()
}
