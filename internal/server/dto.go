package server

import (
	"encoding/json"

	"taskbridge/internal/domain"
)

// Request payloads

type CreateTaskRequest struct {
	ID          *string `json:"id,omitempty"`
	Title       string  `json:"title"`
	Description *string `json:"description,omitempty"`
	Budget      float64 `json:"budget"`
}

type AcceptTaskRequest struct {
	Message *string `json:"message,omitempty"`
}

type RespondRequest struct {
	Decision        string  `json:"decision" enum:"confirmed,rejected"`
	ResponseMessage *string `json:"response_message,omitempty"`
}

// Response payloads

type TaskResponse struct {
	ID             string  `json:"id"`
	Title          string  `json:"title"`
	Description    string  `json:"description,omitempty"`
	Budget         float64 `json:"budget"`
	CreatedBy      string  `json:"created_by"`
	AssignedTo     *string `json:"assigned_to,omitempty"`
	Status         string  `json:"status" enum:"open,assigned,finished,completed,cancelled"`
	CreatedAt      string  `json:"created_at" format:"date-time"`
	AssignedAt     *string `json:"assigned_at,omitempty" format:"date-time"`
	CompletionDate *string `json:"completion_date,omitempty" format:"date-time"`
}

type AcceptanceResponse struct {
	ID              string  `json:"id"`
	TaskID          string  `json:"task_id"`
	AcceptorID      string  `json:"acceptor_id"`
	TaskOwnerID     string  `json:"task_owner_id"`
	Status          string  `json:"status" enum:"pending,confirmed,rejected"`
	Message         string  `json:"message,omitempty"`
	ResponseMessage string  `json:"response_message,omitempty"`
	MessageID       *string `json:"message_id,omitempty"`
	CreatedAt       string  `json:"created_at" format:"date-time"`
	UpdatedAt       string  `json:"updated_at" format:"date-time"`
}

type AcceptResponse struct {
	AcceptanceID   string `json:"acceptance_id"`
	ConversationID string `json:"conversation_id"`
}

type ConversationResponse struct {
	ID            string   `json:"id"`
	TaskID        string   `json:"task_id"`
	Participants  []string `json:"participants"`
	LastMessage   string   `json:"last_message,omitempty"`
	LastMessageAt *string  `json:"last_message_at,omitempty" format:"date-time"`
	CreatedAt     string   `json:"created_at" format:"date-time"`
	UpdatedAt     string   `json:"updated_at" format:"date-time"`
}

type MessageResponse struct {
	ID               string         `json:"id"`
	ConversationID   string         `json:"conversation_id"`
	SenderID         string         `json:"sender_id"`
	Content          string         `json:"content"`
	IsRead           bool           `json:"is_read"`
	IsSystemMessage  bool           `json:"is_system_message"`
	IsNotification   bool           `json:"is_notification"`
	NotificationType *string        `json:"notification_type,omitempty" enum:"task_acceptance,task_finished,task_completed,task_cancelled"`
	NotificationData map[string]any `json:"notification_data,omitempty"`
	CreatedAt        string         `json:"created_at" format:"date-time"`
}

type EventResponse struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts" format:"date-time"`
	Type       string         `json:"type"`
	TaskID     string         `json:"task_id,omitempty"`
	EntityKind string         `json:"entity_kind"`
	EntityID   string         `json:"entity_id,omitempty"`
	ActorID    string         `json:"actor_id"`
	Payload    map[string]any `json:"payload"`
}

type InboxEntryResponse struct {
	Kind         string                `json:"kind" enum:"acceptance,conversation"`
	Acceptance   *AcceptanceResponse   `json:"acceptance,omitempty"`
	Conversation *ConversationResponse `json:"conversation,omitempty"`
}

type WhoAmIResponse struct {
	UserID string `json:"user_id"`
	Source string `json:"source"`
}

type paginatedTasks struct {
	Items      []TaskResponse `json:"items"`
	NextCursor string         `json:"next_cursor,omitempty"`
}

type paginatedEvents struct {
	Items      []EventResponse `json:"items"`
	NextCursor string          `json:"next_cursor,omitempty"`
}

// Conversion helpers

func taskResponse(t domain.Task) TaskResponse {
	return TaskResponse(t)
}

func acceptanceResponse(a domain.Acceptance) AcceptanceResponse {
	return AcceptanceResponse(a)
}

func conversationResponse(c domain.Conversation) ConversationResponse {
	return ConversationResponse{
		ID:            c.ID,
		TaskID:        c.TaskID,
		Participants:  nonNilSlice(c.Participants),
		LastMessage:   c.LastMessage,
		LastMessageAt: c.LastMessageAt,
		CreatedAt:     c.CreatedAt,
		UpdatedAt:     c.UpdatedAt,
	}
}

func messageResponse(m domain.Message) MessageResponse {
	return MessageResponse{
		ID:               m.ID,
		ConversationID:   m.ConversationID,
		SenderID:         m.SenderID,
		Content:          m.Content,
		IsRead:           m.IsRead,
		IsSystemMessage:  m.IsSystemMessage,
		IsNotification:   m.IsNotification,
		NotificationType: m.NotificationType,
		NotificationData: decodeJSONMap(m.NotificationData),
		CreatedAt:        m.CreatedAt,
	}
}

func eventResponse(e domain.Event) EventResponse {
	return EventResponse{
		ID:         e.ID,
		TS:         e.TS,
		Type:       e.Type,
		TaskID:     e.TaskID,
		EntityKind: e.EntityKind,
		EntityID:   e.EntityID,
		ActorID:    e.ActorID,
		Payload:    decodeJSONMap(strPtr(e.Payload)),
	}
}

func inboxEntryResponse(entry domain.InboxEntry) InboxEntryResponse {
	res := InboxEntryResponse{Kind: entry.Kind}
	if entry.Acceptance != nil {
		a := acceptanceResponse(*entry.Acceptance)
		res.Acceptance = &a
	}
	if entry.Conversation != nil {
		c := conversationResponse(*entry.Conversation)
		res.Conversation = &c
	}
	return res
}

func mapTasks(items []domain.Task) []TaskResponse {
	res := make([]TaskResponse, 0, len(items))
	for _, t := range items {
		res = append(res, taskResponse(t))
	}
	return res
}

func mapAcceptances(items []domain.Acceptance) []AcceptanceResponse {
	res := make([]AcceptanceResponse, 0, len(items))
	for _, a := range items {
		res = append(res, acceptanceResponse(a))
	}
	return res
}

func mapMessages(items []domain.Message) []MessageResponse {
	res := make([]MessageResponse, 0, len(items))
	for _, m := range items {
		res = append(res, messageResponse(m))
	}
	return res
}

// JSON helpers

func decodeJSONMap(raw *string) map[string]any {
	if raw == nil || *raw == "" {
		return nil
	}
	var tmp any
	if err := json.Unmarshal([]byte(*raw), &tmp); err != nil {
		return nil
	}
	if obj, ok := tmp.(map[string]any); ok {
		return obj
	}
	return nil
}

func nonNilSlice[T any](in []T) []T {
	if in == nil {
		return []T{}
	}
	return in
}

func strPtr(in string) *string {
	return &in
}

func stringOrEmpty(ptr *string) string {
	if ptr == nil {
		return ""
	}
	return *ptr
}
