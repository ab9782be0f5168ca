package domain

type Task struct {
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

type Acceptance struct {
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

type Conversation struct {
	ID            string   `json:"id"`
	TaskID        string   `json:"task_id"`
	Participants  []string `json:"participants,omitempty"`
	LastMessage   string   `json:"last_message,omitempty"`
	LastMessageAt *string  `json:"last_message_at,omitempty" format:"date-time"`
	CreatedAt     string   `json:"created_at" format:"date-time"`
	UpdatedAt     string   `json:"updated_at" format:"date-time"`
}

type Message struct {
	ID               string  `json:"id"`
	ConversationID   string  `json:"conversation_id"`
	SenderID         string  `json:"sender_id"`
	Content          string  `json:"content"`
	IsRead           bool    `json:"is_read"`
	IsSystemMessage  bool    `json:"is_system_message"`
	IsNotification   bool    `json:"is_notification"`
	NotificationType *string `json:"notification_type,omitempty" enum:"task_acceptance,task_finished,task_completed,task_cancelled"`
	NotificationData *string `json:"notification_data,omitempty"`
	CreatedAt        string  `json:"created_at" format:"date-time"`
}

// NotificationData is the structured payload carried by notification messages.
// Status is the only field mutated after the message is appended.
type NotificationData struct {
	TaskID     string `json:"task_id"`
	TaskTitle  string `json:"task_title,omitempty"`
	AcceptorID string `json:"acceptor_id,omitempty"`
	Status     string `json:"status,omitempty"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	TaskID     string `json:"task_id,omitempty"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

type APIKey struct {
	ID        string `json:"id"`
	ActorID   string `json:"actor_id"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"key_hash"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

// InboxEntry is the tagged listing variant consumed by chat-list UIs: either a
// pending acceptance awaiting the owner's decision or a bound conversation.
type InboxEntry struct {
	Kind         string        `json:"kind" enum:"acceptance,conversation"`
	Acceptance   *Acceptance   `json:"acceptance,omitempty"`
	Conversation *Conversation `json:"conversation,omitempty"`
}
