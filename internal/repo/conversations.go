package repo

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"taskbridge/internal/domain"
)

const conversationColumns = `id,task_id,last_message,last_message_at,created_at,updated_at`

func scanConversation(scan func(dest ...any) error) (domain.Conversation, error) {
	var c domain.Conversation
	var lastMessage, lastMessageAt sql.NullString
	err := scan(&c.ID, &c.TaskID, &lastMessage, &lastMessageAt, &c.CreatedAt, &c.UpdatedAt)
	if err == sql.ErrNoRows {
		return c, ErrNotFound
	}
	if err != nil {
		return c, err
	}
	if lastMessage.Valid {
		c.LastMessage = lastMessage.String
	}
	if lastMessageAt.Valid {
		c.LastMessageAt = &lastMessageAt.String
	}
	return c, nil
}

// EnsureConversation returns the single conversation bound to taskID, creating
// it if absent. The UNIQUE(task_id) index arbitrates concurrent creation: a
// loser re-reads and returns the winner's row. Participants not yet present
// are added; participants are never removed.
func (r Repo) EnsureConversation(ctx context.Context, tx *sql.Tx, taskID string, participantIDs []string, now time.Time) (domain.Conversation, error) {
	ts := now.UTC().Format(time.RFC3339)
	c, err := r.getConversationByTaskTx(ctx, tx, taskID)
	if err == ErrNotFound {
		c = domain.Conversation{
			ID:        uuid.New().String(),
			TaskID:    taskID,
			CreatedAt: ts,
			UpdatedAt: ts,
		}
		_, err = tx.ExecContext(ctx, `INSERT INTO conversations(`+conversationColumns+`) VALUES (?,?,?,?,?,?)`,
			c.ID, c.TaskID, nil, nil, c.CreatedAt, c.UpdatedAt)
		if err != nil {
			if !isUniqueViolation(err) {
				return domain.Conversation{}, err
			}
			c, err = r.getConversationByTaskTx(ctx, tx, taskID)
			if err != nil {
				return domain.Conversation{}, err
			}
		}
	} else if err != nil {
		return domain.Conversation{}, err
	}
	for _, userID := range participantIDs {
		if _, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO conversation_participants(conversation_id,user_id,joined_at) VALUES (?,?,?)`,
			c.ID, userID, ts); err != nil {
			return domain.Conversation{}, err
		}
	}
	c.Participants, err = r.listParticipantsTx(ctx, tx, c.ID)
	return c, err
}

func (r Repo) getConversationByTaskTx(ctx context.Context, tx *sql.Tx, taskID string) (domain.Conversation, error) {
	row := tx.QueryRowContext(ctx, `SELECT `+conversationColumns+` FROM conversations WHERE task_id=?`, taskID)
	return scanConversation(row.Scan)
}

// GetConversationByTaskTx reads the task's conversation inside an open
// transaction so callers mid-write never touch a second connection.
func (r Repo) GetConversationByTaskTx(ctx context.Context, tx *sql.Tx, taskID string) (domain.Conversation, error) {
	return r.getConversationByTaskTx(ctx, tx, taskID)
}

func (r Repo) GetConversation(ctx context.Context, id string) (domain.Conversation, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+conversationColumns+` FROM conversations WHERE id=?`, id)
	c, err := scanConversation(row.Scan)
	if err != nil {
		return c, err
	}
	c.Participants, err = r.ListParticipants(ctx, c.ID)
	return c, err
}

func (r Repo) GetConversationByTask(ctx context.Context, taskID string) (domain.Conversation, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+conversationColumns+` FROM conversations WHERE task_id=?`, taskID)
	c, err := scanConversation(row.Scan)
	if err != nil {
		return c, err
	}
	c.Participants, err = r.ListParticipants(ctx, c.ID)
	return c, err
}

func (r Repo) ListParticipants(ctx context.Context, conversationID string) ([]string, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT user_id FROM conversation_participants WHERE conversation_id=? ORDER BY joined_at ASC, user_id ASC`, conversationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (r Repo) listParticipantsTx(ctx context.Context, tx *sql.Tx, conversationID string) ([]string, error) {
	rows, err := tx.QueryContext(ctx, `SELECT user_id FROM conversation_participants WHERE conversation_id=? ORDER BY joined_at ASC, user_id ASC`, conversationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ListConversationsForUser returns conversations the user participates in,
// most recently active first.
func (r Repo) ListConversationsForUser(ctx context.Context, userID string) ([]domain.Conversation, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT c.id,c.task_id,c.last_message,c.last_message_at,c.created_at,c.updated_at
FROM conversations c
JOIN conversation_participants p ON p.conversation_id=c.id
WHERE p.user_id=?
ORDER BY COALESCE(c.last_message_at, c.updated_at) DESC, c.id DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Conversation
	for rows.Next() {
		c, err := scanConversation(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, c)
	}
	return res, rows.Err()
}
