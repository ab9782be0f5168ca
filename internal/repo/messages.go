package repo

import (
	"context"
	"database/sql"

	"taskbridge/internal/domain"
)

const messageColumns = `id,conversation_id,sender_id,content,is_read,is_system_message,is_notification,notification_type,notification_data,created_at`

func scanMessage(scan func(dest ...any) error) (domain.Message, error) {
	var m domain.Message
	var notificationType, notificationData sql.NullString
	err := scan(&m.ID, &m.ConversationID, &m.SenderID, &m.Content, &m.IsRead, &m.IsSystemMessage, &m.IsNotification, &notificationType, &notificationData, &m.CreatedAt)
	if err == sql.ErrNoRows {
		return m, ErrNotFound
	}
	if err != nil {
		return m, err
	}
	if notificationType.Valid {
		m.NotificationType = &notificationType.String
	}
	if notificationData.Valid {
		m.NotificationData = &notificationData.String
	}
	return m, nil
}

// InsertMessage appends a message and bumps the conversation's last-message
// columns in the same transaction.
func (r Repo) InsertMessage(ctx context.Context, tx *sql.Tx, m domain.Message) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO messages(`+messageColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?)`,
		m.ID, m.ConversationID, m.SenderID, m.Content, m.IsRead, m.IsSystemMessage, m.IsNotification,
		nullableStringPtr(m.NotificationType), nullableStringPtr(m.NotificationData), m.CreatedAt)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `UPDATE conversations SET last_message=?, last_message_at=?, updated_at=? WHERE id=?`,
		m.Content, m.CreatedAt, m.CreatedAt, m.ConversationID)
	return err
}

func (r Repo) GetMessage(ctx context.Context, id string) (domain.Message, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+messageColumns+` FROM messages WHERE id=?`, id)
	return scanMessage(row.Scan)
}

func (r Repo) GetMessageTx(ctx context.Context, tx *sql.Tx, id string) (domain.Message, error) {
	row := tx.QueryRowContext(ctx, `SELECT `+messageColumns+` FROM messages WHERE id=?`, id)
	return scanMessage(row.Scan)
}

func (r Repo) ListMessages(ctx context.Context, conversationID string, limit int) ([]domain.Message, error) {
	query := `SELECT ` + messageColumns + ` FROM messages WHERE conversation_id=? ORDER BY created_at ASC, id ASC`
	args := []any{conversationID}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Message
	for rows.Next() {
		m, err := scanMessage(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, m)
	}
	return res, rows.Err()
}

// UpdateNotificationData replaces the structured payload of a notification
// message. The notification flag guard keeps plain chat messages immutable.
func (r Repo) UpdateNotificationData(ctx context.Context, tx *sql.Tx, messageID, dataJSON string) error {
	_, err := tx.ExecContext(ctx, `UPDATE messages SET notification_data=? WHERE id=? AND is_notification=1`, dataJSON, messageID)
	return err
}

// MarkMessagesRead marks all messages in a conversation read for display.
func (r Repo) MarkMessagesRead(ctx context.Context, conversationID, readerID string) error {
	_, err := r.DB.ExecContext(ctx, `UPDATE messages SET is_read=1 WHERE conversation_id=? AND sender_id<>? AND is_read=0`, conversationID, readerID)
	return err
}
