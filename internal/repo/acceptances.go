package repo

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"taskbridge/internal/domain"
)

const acceptanceColumns = `id,task_id,acceptor_id,task_owner_id,status,message,response_message,message_id,created_at,updated_at`

func scanAcceptance(scan func(dest ...any) error) (domain.Acceptance, error) {
	var a domain.Acceptance
	var message, responseMessage, messageID sql.NullString
	err := scan(&a.ID, &a.TaskID, &a.AcceptorID, &a.TaskOwnerID, &a.Status, &message, &responseMessage, &messageID, &a.CreatedAt, &a.UpdatedAt)
	if err == sql.ErrNoRows {
		return a, ErrNotFound
	}
	if err != nil {
		return a, err
	}
	if message.Valid {
		a.Message = message.String
	}
	if responseMessage.Valid {
		a.ResponseMessage = responseMessage.String
	}
	if messageID.Valid {
		a.MessageID = &messageID.String
	}
	return a, nil
}

// InsertAcceptanceIfAbsent inserts a pending acceptance for (taskID,
// acceptorID), or returns the existing pending row unchanged. The pending-only
// unique index arbitrates concurrent inserts: on a UNIQUE violation the loser
// re-reads and returns the winner's row.
func (r Repo) InsertAcceptanceIfAbsent(ctx context.Context, tx *sql.Tx, taskID, acceptorID, ownerID, message string, now time.Time) (domain.Acceptance, bool, error) {
	if existing, err := r.getPendingAcceptanceTx(ctx, tx, taskID, acceptorID); err == nil {
		return existing, false, nil
	} else if err != ErrNotFound {
		return domain.Acceptance{}, false, err
	}
	ts := now.UTC().Format(time.RFC3339)
	a := domain.Acceptance{
		ID:          uuid.New().String(),
		TaskID:      taskID,
		AcceptorID:  acceptorID,
		TaskOwnerID: ownerID,
		Status:      "pending",
		Message:     message,
		CreatedAt:   ts,
		UpdatedAt:   ts,
	}
	_, err := tx.ExecContext(ctx, `INSERT INTO acceptances(`+acceptanceColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?)`,
		a.ID, a.TaskID, a.AcceptorID, a.TaskOwnerID, a.Status, nullable(a.Message), nil, nil, a.CreatedAt, a.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			winner, rerr := r.getPendingAcceptanceTx(ctx, tx, taskID, acceptorID)
			if rerr != nil {
				return domain.Acceptance{}, false, rerr
			}
			return winner, false, nil
		}
		return domain.Acceptance{}, false, err
	}
	return a, true, nil
}

func (r Repo) getPendingAcceptanceTx(ctx context.Context, tx *sql.Tx, taskID, acceptorID string) (domain.Acceptance, error) {
	row := tx.QueryRowContext(ctx, `SELECT `+acceptanceColumns+` FROM acceptances WHERE task_id=? AND acceptor_id=? AND status='pending'`, taskID, acceptorID)
	return scanAcceptance(row.Scan)
}

func (r Repo) GetAcceptance(ctx context.Context, id string) (domain.Acceptance, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+acceptanceColumns+` FROM acceptances WHERE id=?`, id)
	return scanAcceptance(row.Scan)
}

func (r Repo) GetAcceptanceTx(ctx context.Context, tx *sql.Tx, id string) (domain.Acceptance, error) {
	row := tx.QueryRowContext(ctx, `SELECT `+acceptanceColumns+` FROM acceptances WHERE id=?`, id)
	return scanAcceptance(row.Scan)
}

func (r Repo) ListAcceptances(ctx context.Context, taskID string) ([]domain.Acceptance, error) {
	return r.listAcceptances(ctx, taskID, "")
}

func (r Repo) ListPendingAcceptances(ctx context.Context, taskID string) ([]domain.Acceptance, error) {
	return r.listAcceptances(ctx, taskID, "pending")
}

func (r Repo) listAcceptances(ctx context.Context, taskID, status string) ([]domain.Acceptance, error) {
	query := `SELECT ` + acceptanceColumns + ` FROM acceptances WHERE task_id=?`
	args := []any{taskID}
	if status != "" {
		query += ` AND status=?`
		args = append(args, status)
	}
	query += ` ORDER BY created_at ASC, id ASC`
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Acceptance
	for rows.Next() {
		a, err := scanAcceptance(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, a)
	}
	return res, rows.Err()
}

func (r Repo) ListPendingAcceptancesTx(ctx context.Context, tx *sql.Tx, taskID string) ([]domain.Acceptance, error) {
	rows, err := tx.QueryContext(ctx, `SELECT `+acceptanceColumns+` FROM acceptances WHERE task_id=? AND status='pending' ORDER BY created_at ASC, id ASC`, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Acceptance
	for rows.Next() {
		a, err := scanAcceptance(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, a)
	}
	return res, rows.Err()
}

// ListPendingAcceptancesByOwner returns pending bids across every task the
// owner posted, oldest first.
func (r Repo) ListPendingAcceptancesByOwner(ctx context.Context, ownerID string) ([]domain.Acceptance, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+acceptanceColumns+` FROM acceptances WHERE task_owner_id=? AND status='pending' ORDER BY created_at ASC, id ASC`, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Acceptance
	for rows.Next() {
		a, err := scanAcceptance(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, a)
	}
	return res, rows.Err()
}

func (r Repo) ListAcceptancesByAcceptor(ctx context.Context, acceptorID string) ([]domain.Acceptance, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+acceptanceColumns+` FROM acceptances WHERE acceptor_id=? ORDER BY created_at DESC, id DESC`, acceptorID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Acceptance
	for rows.Next() {
		a, err := scanAcceptance(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, a)
	}
	return res, rows.Err()
}

// ConfirmAcceptance flips a pending acceptance to confirmed. Rows already in a
// terminal state are left untouched; the status guard makes retries no-ops.
func (r Repo) ConfirmAcceptance(ctx context.Context, tx *sql.Tx, id, responseMessage string, now time.Time) error {
	_, err := tx.ExecContext(ctx, `UPDATE acceptances SET status='confirmed', response_message=?, updated_at=? WHERE id=? AND status='pending'`,
		nullable(responseMessage), now.UTC().Format(time.RFC3339), id)
	return err
}

// RejectAcceptance flips a pending acceptance to rejected; terminal rows stay.
func (r Repo) RejectAcceptance(ctx context.Context, tx *sql.Tx, id, responseMessage string, now time.Time) error {
	_, err := tx.ExecContext(ctx, `UPDATE acceptances SET status='rejected', response_message=?, updated_at=? WHERE id=? AND status='pending'`,
		nullable(responseMessage), now.UTC().Format(time.RFC3339), id)
	return err
}

// RejectAllExcept rejects every pending acceptance for the task other than
// keepID and returns the number of rows rejected.
func (r Repo) RejectAllExcept(ctx context.Context, tx *sql.Tx, taskID, keepID, responseMessage string, now time.Time) (int, error) {
	res, err := tx.ExecContext(ctx, `UPDATE acceptances SET status='rejected', response_message=?, updated_at=? WHERE task_id=? AND id<>? AND status='pending'`,
		nullable(responseMessage), now.UTC().Format(time.RFC3339), taskID, keepID)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// SetAcceptanceMessageID links an acceptance to its notification message.
func (r Repo) SetAcceptanceMessageID(ctx context.Context, tx *sql.Tx, id, messageID string) error {
	_, err := tx.ExecContext(ctx, `UPDATE acceptances SET message_id=? WHERE id=?`, messageID, id)
	return err
}

// HasAcceptances reports whether any acceptance references the task. It runs
// inside the caller's transaction so a delete decision sees a stable view.
func (r Repo) HasAcceptances(ctx context.Context, tx *sql.Tx, taskID string) (bool, error) {
	var one int
	err := tx.QueryRowContext(ctx, `SELECT 1 FROM acceptances WHERE task_id=? LIMIT 1`, taskID).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	return err == nil, err
}
