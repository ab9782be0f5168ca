// Package notify appends system and notification messages into task
// conversations. All writes happen inside the caller's transaction; the
// emitter never talks to the delivery sink itself (the webhook dispatcher
// drains the event ledger for that).
package notify

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"taskbridge/internal/domain"
	"taskbridge/internal/repo"
)

const (
	TypeTaskAcceptance = "task_acceptance"
	TypeTaskFinished   = "task_finished"
	TypeTaskCompleted  = "task_completed"
	TypeTaskCancelled  = "task_cancelled"
)

// SystemSender is the sender id recorded on system and notification messages.
const SystemSender = "system"

type Emitter struct {
	Repo repo.Repo
	Now  func() time.Time
}

func (e Emitter) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

// PostSystemMessage appends a plain system message to the conversation.
func (e Emitter) PostSystemMessage(ctx context.Context, tx *sql.Tx, conversationID, content string) (domain.Message, error) {
	m := domain.Message{
		ID:              uuid.New().String(),
		ConversationID:  conversationID,
		SenderID:        SystemSender,
		Content:         content,
		IsSystemMessage: true,
		CreatedAt:       e.now().UTC().Format(time.RFC3339),
	}
	if err := e.Repo.InsertMessage(ctx, tx, m); err != nil {
		return domain.Message{}, fmt.Errorf("insert system message: %w", err)
	}
	return m, nil
}

// PostAcceptanceNotification appends the notification announcing a new bid.
// Its payload starts in status pending and is advanced by the respond flow.
func (e Emitter) PostAcceptanceNotification(ctx context.Context, tx *sql.Tx, conversationID, acceptorID, taskID, taskTitle string) (domain.Message, error) {
	data := domain.NotificationData{
		TaskID:     taskID,
		TaskTitle:  taskTitle,
		AcceptorID: acceptorID,
		Status:     "pending",
	}
	payload, err := json.Marshal(data)
	if err != nil {
		return domain.Message{}, err
	}
	notifType := TypeTaskAcceptance
	payloadStr := string(payload)
	m := domain.Message{
		ID:               uuid.New().String(),
		ConversationID:   conversationID,
		SenderID:         SystemSender,
		Content:          fmt.Sprintf("New application received for %q", taskTitle),
		IsSystemMessage:  true,
		IsNotification:   true,
		NotificationType: &notifType,
		NotificationData: &payloadStr,
		CreatedAt:        e.now().UTC().Format(time.RFC3339),
	}
	if err := e.Repo.InsertMessage(ctx, tx, m); err != nil {
		return domain.Message{}, fmt.Errorf("insert acceptance notification: %w", err)
	}
	return m, nil
}

// PostLifecycleNotification appends a notification for a finished, completed
// or cancelled task.
func (e Emitter) PostLifecycleNotification(ctx context.Context, tx *sql.Tx, conversationID, notifType, content, taskID, taskTitle string) (domain.Message, error) {
	data := domain.NotificationData{TaskID: taskID, TaskTitle: taskTitle}
	payload, err := json.Marshal(data)
	if err != nil {
		return domain.Message{}, err
	}
	payloadStr := string(payload)
	m := domain.Message{
		ID:               uuid.New().String(),
		ConversationID:   conversationID,
		SenderID:         SystemSender,
		Content:          content,
		IsSystemMessage:  true,
		IsNotification:   true,
		NotificationType: &notifType,
		NotificationData: &payloadStr,
		CreatedAt:        e.now().UTC().Format(time.RFC3339),
	}
	if err := e.Repo.InsertMessage(ctx, tx, m); err != nil {
		return domain.Message{}, fmt.Errorf("insert lifecycle notification: %w", err)
	}
	return m, nil
}

// UpdateAcceptanceNotificationStatus advances the embedded status of an
// acceptance notification. Only pending -> confirmed|rejected advances; any
// other combination is a no-op, so retries and stale updates cannot regress
// an already-terminal notification.
func (e Emitter) UpdateAcceptanceNotificationStatus(ctx context.Context, tx *sql.Tx, messageID, newStatus string) (domain.Message, error) {
	if newStatus != "confirmed" && newStatus != "rejected" {
		return domain.Message{}, fmt.Errorf("notification status %s is not a terminal state", newStatus)
	}
	m, err := e.Repo.GetMessageTx(ctx, tx, messageID)
	if err != nil {
		return domain.Message{}, err
	}
	if !m.IsNotification || m.NotificationData == nil {
		return domain.Message{}, errors.New("message is not a notification")
	}
	var data domain.NotificationData
	if err := json.Unmarshal([]byte(*m.NotificationData), &data); err != nil {
		return domain.Message{}, fmt.Errorf("decode notification data: %w", err)
	}
	if data.Status != "pending" {
		return m, nil
	}
	data.Status = newStatus
	payload, err := json.Marshal(data)
	if err != nil {
		return domain.Message{}, err
	}
	payloadStr := string(payload)
	if err := e.Repo.UpdateNotificationData(ctx, tx, messageID, payloadStr); err != nil {
		return domain.Message{}, err
	}
	m.NotificationData = &payloadStr
	return m, nil
}
