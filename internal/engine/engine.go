package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"taskbridge/internal/config"
	"taskbridge/internal/domain"
	"taskbridge/internal/events"
	"taskbridge/internal/notify"
	"taskbridge/internal/repo"
)

// Engine arbitrates the task lifecycle: open -> assigned -> finished ->
// completed, with cancelled side exits from open and assigned. Every public
// operation runs as one transaction against the shared store; mutual
// exclusion on assignment comes from the status-guarded CAS in
// repo.TransitionTask, never from external locks.
type Engine struct {
	DB     *sql.DB
	Repo   repo.Repo
	Events events.Writer
	Notify notify.Emitter
	Config *config.Config
	Now    func() time.Time
}

func New(db *sql.DB, cfg *config.Config) Engine {
	r := repo.Repo{DB: db}
	return Engine{
		DB:     db,
		Repo:   r,
		Events: events.Writer{DB: db},
		Notify: notify.Emitter{Repo: r},
		Config: cfg,
		Now:    time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) begin(ctx context.Context) (*sql.Tx, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: begin: %v", ErrStorageUnavailable, err)
	}
	return tx, nil
}

func commit(tx *sql.Tx) error {
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit: %v", ErrStorageUnavailable, err)
	}
	return nil
}

// storeErr classifies driver failures as retryable storage errors. The domain
// sentinels pass through untouched so errors.Is matching keeps working.
func storeErr(err error) error {
	if err == nil || errors.Is(err, repo.ErrNotFound) || errors.Is(err, repo.ErrConflict) || errors.Is(err, ErrStorageUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
}

// TaskCreateOptions are parameters for posting a task.
type TaskCreateOptions struct {
	ID          string
	OwnerID     string
	Title       string
	Description string
	Budget      float64
}

func (e Engine) CreateTask(ctx context.Context, opts TaskCreateOptions) (domain.Task, error) {
	if e.Config == nil {
		return domain.Task{}, errors.New("config not loaded")
	}
	if strings.TrimSpace(opts.Title) == "" {
		return domain.Task{}, fmt.Errorf("%w: title is required", ErrValidation)
	}
	if opts.OwnerID == "" {
		return domain.Task{}, fmt.Errorf("%w: owner is required", ErrValidation)
	}
	if opts.Budget < e.Config.Budget.Min {
		return domain.Task{}, fmt.Errorf("%w: budget %.2f below minimum %.2f", ErrValidation, opts.Budget, e.Config.Budget.Min)
	}
	if opts.Budget > e.Config.Budget.Max {
		return domain.Task{}, fmt.Errorf("%w: budget %.2f above maximum %.2f", ErrValidation, opts.Budget, e.Config.Budget.Max)
	}
	now := e.now().UTC().Format(time.RFC3339)
	id := opts.ID
	if id == "" {
		id = uuid.New().String()
	}
	t := domain.Task{
		ID:          id,
		Title:       strings.TrimSpace(opts.Title),
		Description: opts.Description,
		Budget:      opts.Budget,
		CreatedBy:   opts.OwnerID,
		Status:      "open",
		CreatedAt:   now,
	}
	tx, err := e.begin(ctx)
	if err != nil {
		return domain.Task{}, err
	}
	defer tx.Rollback()

	if err := e.Repo.InsertTask(ctx, tx, t); err != nil {
		return domain.Task{}, fmt.Errorf("insert task: %w", storeErr(err))
	}
	if err := e.Events.Append(ctx, tx, "task.created", t.ID, "task", t.ID, opts.OwnerID, events.EventPayload{"title": t.Title, "budget": t.Budget}); err != nil {
		return domain.Task{}, storeErr(err)
	}
	if err := commit(tx); err != nil {
		return domain.Task{}, err
	}
	return t, nil
}

func (e Engine) GetTask(ctx context.Context, id string) (domain.Task, error) {
	t, err := e.Repo.GetTask(ctx, id)
	return t, storeErr(err)
}

func (e Engine) ListTasks(ctx context.Context, f repo.TaskFilters) ([]domain.Task, error) {
	tasks, err := e.Repo.ListTasks(ctx, f)
	return tasks, storeErr(err)
}

// AcceptResult identifies the acceptance row and the conversation bound to
// the task after a successful accept.
type AcceptResult struct {
	AcceptanceID   string `json:"acceptance_id"`
	ConversationID string `json:"conversation_id"`
}

// Accept records an applicant's bid: acceptance row, conversation binding and
// acceptance notification, created as one unit of work. Re-invocation with
// the same arguments returns the existing pending row without duplicating
// the conversation or notification.
func (e Engine) Accept(ctx context.Context, taskID, acceptorID, message string) (AcceptResult, error) {
	if acceptorID == "" {
		return AcceptResult{}, fmt.Errorf("%w: acceptor is required", ErrValidation)
	}
	tx, err := e.begin(ctx)
	if err != nil {
		return AcceptResult{}, err
	}
	defer tx.Rollback()

	t, err := e.Repo.GetTaskTx(ctx, tx, taskID)
	if err != nil {
		return AcceptResult{}, storeErr(err)
	}
	if t.AssignedTo != nil {
		return AcceptResult{}, fmt.Errorf("task %s: %w", taskID, ErrAlreadyAssigned)
	}
	if t.Status != "open" {
		return AcceptResult{}, fmt.Errorf("task %s is %s: %w", taskID, t.Status, ErrTaskNotAcceptable)
	}
	if acceptorID == t.CreatedBy {
		return AcceptResult{}, fmt.Errorf("task %s: %w", taskID, ErrSelfAcceptance)
	}

	now := e.now()
	a, created, err := e.Repo.InsertAcceptanceIfAbsent(ctx, tx, taskID, acceptorID, t.CreatedBy, message, now)
	if err != nil {
		return AcceptResult{}, fmt.Errorf("insert acceptance: %w", storeErr(err))
	}
	c, err := e.Repo.EnsureConversation(ctx, tx, taskID, []string{t.CreatedBy, acceptorID}, now)
	if err != nil {
		return AcceptResult{}, fmt.Errorf("ensure conversation: %w", storeErr(err))
	}
	if created {
		m, err := e.Notify.PostAcceptanceNotification(ctx, tx, c.ID, acceptorID, t.ID, t.Title)
		if err != nil {
			return AcceptResult{}, storeErr(err)
		}
		if err := e.Repo.SetAcceptanceMessageID(ctx, tx, a.ID, m.ID); err != nil {
			return AcceptResult{}, fmt.Errorf("link notification: %w", storeErr(err))
		}
		if err := e.Events.Append(ctx, tx, "task.accepted", t.ID, "acceptance", a.ID, acceptorID, events.EventPayload{"conversation_id": c.ID}); err != nil {
			return AcceptResult{}, storeErr(err)
		}
	}
	if err := commit(tx); err != nil {
		return AcceptResult{}, err
	}
	return AcceptResult{AcceptanceID: a.ID, ConversationID: c.ID}, nil
}

// Respond resolves a pending acceptance. Confirmation assigns the task via
// the open->assigned CAS and rejects every competing pending acceptance in
// the same transaction, so a partially-arbitrated task is never visible.
func (e Engine) Respond(ctx context.Context, acceptanceID, callerID, decision, responseMessage string) error {
	if decision != "confirmed" && decision != "rejected" {
		return fmt.Errorf("%w: decision must be confirmed or rejected", ErrValidation)
	}
	tx, err := e.begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	a, err := e.Repo.GetAcceptanceTx(ctx, tx, acceptanceID)
	if err != nil {
		return storeErr(err)
	}
	if callerID != a.TaskOwnerID {
		return fmt.Errorf("acceptance %s: %w", acceptanceID, ErrNotOwner)
	}
	if a.Status != "pending" {
		if a.Status == decision {
			// Retry of an already-applied decision; nothing to do.
			return nil
		}
		return fmt.Errorf("acceptance %s is %s: %w", acceptanceID, a.Status, ErrAlreadyResolved)
	}
	now := e.now()

	if decision == "rejected" {
		if err := e.Repo.RejectAcceptance(ctx, tx, a.ID, responseMessage, now); err != nil {
			return fmt.Errorf("reject acceptance: %w", storeErr(err))
		}
		if a.MessageID != nil {
			if _, err := e.Notify.UpdateAcceptanceNotificationStatus(ctx, tx, *a.MessageID, "rejected"); err != nil {
				return storeErr(err)
			}
		}
		if c, err := e.Repo.GetConversationByTaskTx(ctx, tx, a.TaskID); err == nil {
			if _, err := e.Notify.PostSystemMessage(ctx, tx, c.ID, "Application was declined"); err != nil {
				return storeErr(err)
			}
		} else if !errors.Is(err, repo.ErrNotFound) {
			return storeErr(err)
		}
		if err := e.Events.Append(ctx, tx, "acceptance.rejected", a.TaskID, "acceptance", a.ID, callerID, nil); err != nil {
			return storeErr(err)
		}
		return commit(tx)
	}

	assignedAt := now.UTC().Format(time.RFC3339)
	t, err := e.Repo.TransitionTask(ctx, tx, a.TaskID, "open", "assigned", repo.TransitionFields{
		AssignedTo: &a.AcceptorID,
		AssignedAt: &assignedAt,
	})
	if err != nil {
		if errors.Is(err, repo.ErrConflict) {
			return fmt.Errorf("task %s: %w", a.TaskID, ErrAlreadyAssigned)
		}
		return storeErr(err)
	}
	if err := e.Repo.ConfirmAcceptance(ctx, tx, a.ID, responseMessage, now); err != nil {
		return fmt.Errorf("confirm acceptance: %w", storeErr(err))
	}

	siblings, err := e.Repo.ListPendingAcceptancesTx(ctx, tx, a.TaskID)
	if err != nil {
		return storeErr(err)
	}
	if _, err := e.Repo.RejectAllExcept(ctx, tx, a.TaskID, a.ID, "Task was assigned to another applicant", now); err != nil {
		return fmt.Errorf("reject competing acceptances: %w", storeErr(err))
	}
	if a.MessageID != nil {
		if _, err := e.Notify.UpdateAcceptanceNotificationStatus(ctx, tx, *a.MessageID, "confirmed"); err != nil {
			return storeErr(err)
		}
	}
	for _, sib := range siblings {
		if sib.ID == a.ID || sib.MessageID == nil {
			continue
		}
		if _, err := e.Notify.UpdateAcceptanceNotificationStatus(ctx, tx, *sib.MessageID, "rejected"); err != nil {
			return storeErr(err)
		}
	}
	if c, err := e.Repo.GetConversationByTaskTx(ctx, tx, a.TaskID); err == nil {
		if _, err := e.Notify.PostSystemMessage(ctx, tx, c.ID, fmt.Sprintf("%q was assigned to %s", t.Title, a.AcceptorID)); err != nil {
			return storeErr(err)
		}
	} else if !errors.Is(err, repo.ErrNotFound) {
		return storeErr(err)
	}
	if err := e.Events.Append(ctx, tx, "acceptance.confirmed", a.TaskID, "acceptance", a.ID, callerID, events.EventPayload{"assigned_to": a.AcceptorID, "rejected_siblings": len(siblings)}); err != nil {
		return storeErr(err)
	}
	return commit(tx)
}

// MarkFinished records the assignee's claim that the work is done.
func (e Engine) MarkFinished(ctx context.Context, taskID, callerID string) error {
	tx, err := e.begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	t, err := e.Repo.GetTaskTx(ctx, tx, taskID)
	if err != nil {
		return storeErr(err)
	}
	if t.AssignedTo == nil || *t.AssignedTo != callerID {
		return fmt.Errorf("task %s: %w", taskID, ErrNotAssignee)
	}
	if t.Status != "assigned" {
		return fmt.Errorf("task %s is %s: %w", taskID, t.Status, ErrInvalidState)
	}
	t, err = e.Repo.TransitionTask(ctx, tx, taskID, "assigned", "finished", repo.TransitionFields{})
	if err != nil {
		if errors.Is(err, repo.ErrConflict) {
			return fmt.Errorf("task %s: %w", taskID, ErrInvalidState)
		}
		return storeErr(err)
	}
	if err := e.postLifecycle(ctx, tx, t, notify.TypeTaskFinished, fmt.Sprintf("%q was marked as finished", t.Title)); err != nil {
		return storeErr(err)
	}
	if err := e.Events.Append(ctx, tx, "task.finished", t.ID, "task", t.ID, callerID, nil); err != nil {
		return storeErr(err)
	}
	return commit(tx)
}

// ConfirmComplete is the owner's sign-off on a finished task. Completion is
// only reachable from finished; the guarded transition enforces the ordering
// even under concurrent callers.
func (e Engine) ConfirmComplete(ctx context.Context, taskID, callerID string) error {
	tx, err := e.begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	t, err := e.Repo.GetTaskTx(ctx, tx, taskID)
	if err != nil {
		return storeErr(err)
	}
	if t.CreatedBy != callerID {
		return fmt.Errorf("task %s: %w", taskID, ErrNotOwner)
	}
	if t.Status != "finished" {
		return fmt.Errorf("task %s is %s: %w", taskID, t.Status, ErrInvalidState)
	}
	completion := e.now().UTC().Format(time.RFC3339)
	t, err = e.Repo.TransitionTask(ctx, tx, taskID, "finished", "completed", repo.TransitionFields{CompletionDate: &completion})
	if err != nil {
		if errors.Is(err, repo.ErrConflict) {
			return fmt.Errorf("task %s: %w", taskID, ErrInvalidState)
		}
		return storeErr(err)
	}
	if err := e.postLifecycle(ctx, tx, t, notify.TypeTaskCompleted, fmt.Sprintf("%q was completed", t.Title)); err != nil {
		return storeErr(err)
	}
	if err := e.Events.Append(ctx, tx, "task.completed", t.ID, "task", t.ID, callerID, nil); err != nil {
		return storeErr(err)
	}
	return commit(tx)
}

// CancelTask withdraws an open or assigned task and rejects any pending
// applications. Completed and finished tasks cannot be cancelled.
func (e Engine) CancelTask(ctx context.Context, taskID, callerID string) error {
	tx, err := e.begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	t, err := e.Repo.GetTaskTx(ctx, tx, taskID)
	if err != nil {
		return storeErr(err)
	}
	if t.CreatedBy != callerID {
		return fmt.Errorf("task %s: %w", taskID, ErrNotOwner)
	}
	if t.Status != "open" && t.Status != "assigned" {
		return fmt.Errorf("task %s is %s: %w", taskID, t.Status, ErrInvalidState)
	}
	now := e.now()
	t, err = e.Repo.TransitionTask(ctx, tx, taskID, t.Status, "cancelled", repo.TransitionFields{ClearAssignee: true})
	if err != nil {
		return storeErr(err)
	}
	siblings, err := e.Repo.ListPendingAcceptancesTx(ctx, tx, taskID)
	if err != nil {
		return storeErr(err)
	}
	if _, err := e.Repo.RejectAllExcept(ctx, tx, taskID, "", "Task was cancelled", now); err != nil {
		return fmt.Errorf("reject pending acceptances: %w", storeErr(err))
	}
	for _, sib := range siblings {
		if sib.MessageID == nil {
			continue
		}
		if _, err := e.Notify.UpdateAcceptanceNotificationStatus(ctx, tx, *sib.MessageID, "rejected"); err != nil {
			return storeErr(err)
		}
	}
	if err := e.postLifecycle(ctx, tx, t, notify.TypeTaskCancelled, fmt.Sprintf("%q was cancelled", t.Title)); err != nil {
		return storeErr(err)
	}
	if err := e.Events.Append(ctx, tx, "task.cancelled", t.ID, "task", t.ID, callerID, nil); err != nil {
		return storeErr(err)
	}
	return commit(tx)
}

// DeleteTask removes an open task nobody has ever applied to. Once any
// acceptance references the task its history must stay; owners cancel
// instead.
func (e Engine) DeleteTask(ctx context.Context, taskID, callerID string) error {
	tx, err := e.begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	t, err := e.Repo.GetTaskTx(ctx, tx, taskID)
	if err != nil {
		return storeErr(err)
	}
	if t.CreatedBy != callerID {
		return fmt.Errorf("task %s: %w", taskID, ErrNotOwner)
	}
	if t.Status != "open" {
		return fmt.Errorf("task %s is %s: %w", taskID, t.Status, ErrInvalidState)
	}
	referenced, err := e.Repo.HasAcceptances(ctx, tx, taskID)
	if err != nil {
		return storeErr(err)
	}
	if referenced {
		return fmt.Errorf("task %s has acceptances, cancel instead: %w", taskID, repo.ErrConflict)
	}
	if err := e.Repo.DeleteTask(ctx, tx, taskID); err != nil {
		return fmt.Errorf("delete task: %w", storeErr(err))
	}
	if err := e.Events.Append(ctx, tx, "task.deleted", t.ID, "task", t.ID, callerID, nil); err != nil {
		return storeErr(err)
	}
	return commit(tx)
}

func (e Engine) postLifecycle(ctx context.Context, tx *sql.Tx, t domain.Task, notifType, content string) error {
	c, err := e.Repo.GetConversationByTaskTx(ctx, tx, t.ID)
	if errors.Is(err, repo.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	_, err = e.Notify.PostLifecycleNotification(ctx, tx, c.ID, notifType, content, t.ID, t.Title)
	return err
}

// ListAcceptances returns every acceptance recorded for the task.
func (e Engine) ListAcceptances(ctx context.Context, taskID string) ([]domain.Acceptance, error) {
	if _, err := e.Repo.GetTask(ctx, taskID); err != nil {
		return nil, storeErr(err)
	}
	items, err := e.Repo.ListAcceptances(ctx, taskID)
	return items, storeErr(err)
}

// MyAcceptances returns the applications the user has filed, newest first.
func (e Engine) MyAcceptances(ctx context.Context, acceptorID string) ([]domain.Acceptance, error) {
	items, err := e.Repo.ListAcceptancesByAcceptor(ctx, acceptorID)
	return items, storeErr(err)
}

// Inbox assembles the tagged chat-list view: pending acceptances awaiting the
// user's decision on their own tasks, then the conversations they take part in.
func (e Engine) Inbox(ctx context.Context, userID string) ([]domain.InboxEntry, error) {
	pending, err := e.Repo.ListPendingAcceptancesByOwner(ctx, userID)
	if err != nil {
		return nil, storeErr(err)
	}
	conversations, err := e.Repo.ListConversationsForUser(ctx, userID)
	if err != nil {
		return nil, storeErr(err)
	}
	entries := make([]domain.InboxEntry, 0, len(pending)+len(conversations))
	for i := range pending {
		entries = append(entries, domain.InboxEntry{Kind: "acceptance", Acceptance: &pending[i]})
	}
	for i := range conversations {
		entries = append(entries, domain.InboxEntry{Kind: "conversation", Conversation: &conversations[i]})
	}
	return entries, nil
}
