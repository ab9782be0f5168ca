package engine_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"taskbridge/internal/config"
	"taskbridge/internal/db"
	"taskbridge/internal/domain"
	"taskbridge/internal/engine"
	"taskbridge/internal/migrate"
	"taskbridge/internal/repo"
)

type testEnv struct {
	Engine engine.Engine
	Ctx    context.Context
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	eng := engine.New(conn, config.Default())
	eng.Now = func() time.Time { return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) }
	return testEnv{Engine: eng, Ctx: context.Background()}
}

func createTask(t *testing.T, env testEnv, owner string) domain.Task {
	t.Helper()
	task, err := env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{
		OwnerID: owner,
		Title:   "Fix the fence",
		Budget:  150,
	})
	if err != nil {
		t.Fatalf("create task: %v", err)
	}
	return task
}

func TestCreateTaskValidation(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{OwnerID: "owner", Title: "  ", Budget: 100})
	if !errors.Is(err, engine.ErrValidation) {
		t.Fatalf("blank title: want ErrValidation, got %v", err)
	}
	_, err = env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{OwnerID: "owner", Title: "cheap", Budget: 0})
	if !errors.Is(err, engine.ErrValidation) {
		t.Fatalf("budget below minimum: want ErrValidation, got %v", err)
	}
	_, err = env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{OwnerID: "owner", Title: "lavish", Budget: 1e9})
	if !errors.Is(err, engine.ErrValidation) {
		t.Fatalf("budget above maximum: want ErrValidation, got %v", err)
	}
	task := createTask(t, env, "owner")
	if task.Status != "open" {
		t.Fatalf("new task status: got %s", task.Status)
	}
}

func TestAcceptCreatesConversationAndNotification(t *testing.T) {
	env := newTestEnv(t)
	task := createTask(t, env, "owner")

	res, err := env.Engine.Accept(env.Ctx, task.ID, "worker-1", "I can do this")
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	a, err := env.Engine.Repo.GetAcceptance(env.Ctx, res.AcceptanceID)
	if err != nil {
		t.Fatalf("get acceptance: %v", err)
	}
	if a.Status != "pending" || a.TaskOwnerID != "owner" {
		t.Fatalf("unexpected acceptance: %+v", a)
	}
	c, err := env.Engine.Repo.GetConversationByTask(env.Ctx, task.ID)
	if err != nil {
		t.Fatalf("get conversation: %v", err)
	}
	if c.ID != res.ConversationID {
		t.Fatalf("conversation mismatch: %s vs %s", c.ID, res.ConversationID)
	}
	if len(c.Participants) != 2 {
		t.Fatalf("expected owner and worker as participants, got %v", c.Participants)
	}
	msgs, err := env.Engine.Repo.ListMessages(env.Ctx, c.ID, 0)
	if err != nil {
		t.Fatalf("list messages: %v", err)
	}
	if len(msgs) != 1 || !msgs[0].IsNotification {
		t.Fatalf("expected one acceptance notification, got %d messages", len(msgs))
	}
	var data domain.NotificationData
	if err := json.Unmarshal([]byte(*msgs[0].NotificationData), &data); err != nil {
		t.Fatalf("decode notification: %v", err)
	}
	if data.Status != "pending" || data.AcceptorID != "worker-1" {
		t.Fatalf("unexpected notification data: %+v", data)
	}
}

func TestAcceptIsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	task := createTask(t, env, "owner")

	first, err := env.Engine.Accept(env.Ctx, task.ID, "worker-1", "round one")
	if err != nil {
		t.Fatalf("first accept: %v", err)
	}
	second, err := env.Engine.Accept(env.Ctx, task.ID, "worker-1", "round two")
	if err != nil {
		t.Fatalf("second accept: %v", err)
	}
	if first.AcceptanceID != second.AcceptanceID || first.ConversationID != second.ConversationID {
		t.Fatalf("retry created new rows: %+v vs %+v", first, second)
	}
	msgs, err := env.Engine.Repo.ListMessages(env.Ctx, first.ConversationID, 0)
	if err != nil {
		t.Fatalf("list messages: %v", err)
	}
	if len(msgs) != 1 {
		t.Fatalf("retry duplicated the notification: %d messages", len(msgs))
	}
}

func TestSelfAcceptanceForbidden(t *testing.T) {
	env := newTestEnv(t)
	task := createTask(t, env, "owner")
	_, err := env.Engine.Accept(env.Ctx, task.ID, "owner", "me me me")
	if !errors.Is(err, engine.ErrSelfAcceptance) {
		t.Fatalf("want ErrSelfAcceptance, got %v", err)
	}
}

func TestRespondConfirmAssignsAndRejectsSiblings(t *testing.T) {
	env := newTestEnv(t)
	task := createTask(t, env, "owner")
	winner, err := env.Engine.Accept(env.Ctx, task.ID, "worker-1", "")
	if err != nil {
		t.Fatal(err)
	}
	loser, err := env.Engine.Accept(env.Ctx, task.ID, "worker-2", "")
	if err != nil {
		t.Fatal(err)
	}

	if err := env.Engine.Respond(env.Ctx, winner.AcceptanceID, "owner", "confirmed", "welcome aboard"); err != nil {
		t.Fatalf("respond confirmed: %v", err)
	}
	got, err := env.Engine.GetTask(env.Ctx, task.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != "assigned" || got.AssignedTo == nil || *got.AssignedTo != "worker-1" {
		t.Fatalf("task not assigned to winner: %+v", got)
	}
	if got.AssignedAt == nil {
		t.Fatalf("assigned_at not recorded")
	}
	rejected, err := env.Engine.Repo.GetAcceptance(env.Ctx, loser.AcceptanceID)
	if err != nil {
		t.Fatal(err)
	}
	if rejected.Status != "rejected" {
		t.Fatalf("sibling not rejected: %s", rejected.Status)
	}
	// both notifications must carry their terminal status
	for _, check := range []struct {
		acceptanceID string
		want         string
	}{
		{winner.AcceptanceID, "confirmed"},
		{loser.AcceptanceID, "rejected"},
	} {
		a, err := env.Engine.Repo.GetAcceptance(env.Ctx, check.acceptanceID)
		if err != nil {
			t.Fatal(err)
		}
		if a.MessageID == nil {
			t.Fatalf("acceptance %s has no notification link", check.acceptanceID)
		}
		m, err := env.Engine.Repo.GetMessage(env.Ctx, *a.MessageID)
		if err != nil {
			t.Fatal(err)
		}
		var data domain.NotificationData
		if err := json.Unmarshal([]byte(*m.NotificationData), &data); err != nil {
			t.Fatal(err)
		}
		if data.Status != check.want {
			t.Fatalf("notification for %s: want %s, got %s", check.acceptanceID, check.want, data.Status)
		}
	}

	// retry of the applied decision is a no-op
	if err := env.Engine.Respond(env.Ctx, winner.AcceptanceID, "owner", "confirmed", ""); err != nil {
		t.Fatalf("confirmed retry: %v", err)
	}
	// flipping a resolved acceptance is refused
	if err := env.Engine.Respond(env.Ctx, winner.AcceptanceID, "owner", "rejected", ""); !errors.Is(err, engine.ErrAlreadyResolved) {
		t.Fatalf("want ErrAlreadyResolved, got %v", err)
	}
	// confirming the rejected sibling is refused too
	if err := env.Engine.Respond(env.Ctx, loser.AcceptanceID, "owner", "confirmed", ""); !errors.Is(err, engine.ErrAlreadyResolved) {
		t.Fatalf("want ErrAlreadyResolved for sibling, got %v", err)
	}
	// new applicants bounce off the assigned task
	if _, err := env.Engine.Accept(env.Ctx, task.ID, "worker-3", ""); !errors.Is(err, engine.ErrAlreadyAssigned) {
		t.Fatalf("want ErrAlreadyAssigned, got %v", err)
	}
}

func TestRespondRejectAllowsReapply(t *testing.T) {
	env := newTestEnv(t)
	task := createTask(t, env, "owner")
	first, err := env.Engine.Accept(env.Ctx, task.ID, "worker-1", "")
	if err != nil {
		t.Fatal(err)
	}
	if err := env.Engine.Respond(env.Ctx, first.AcceptanceID, "owner", "rejected", "not this time"); err != nil {
		t.Fatalf("reject: %v", err)
	}
	a, err := env.Engine.Repo.GetAcceptance(env.Ctx, first.AcceptanceID)
	if err != nil {
		t.Fatal(err)
	}
	if a.Status != "rejected" || a.ResponseMessage != "not this time" {
		t.Fatalf("unexpected acceptance after reject: %+v", a)
	}
	// rejected retry is a no-op
	if err := env.Engine.Respond(env.Ctx, first.AcceptanceID, "owner", "rejected", ""); err != nil {
		t.Fatalf("reject retry: %v", err)
	}
	// the same worker may apply again, getting a fresh acceptance
	second, err := env.Engine.Accept(env.Ctx, task.ID, "worker-1", "second try")
	if err != nil {
		t.Fatalf("re-apply: %v", err)
	}
	if second.AcceptanceID == first.AcceptanceID {
		t.Fatalf("re-apply returned the rejected acceptance")
	}
	if second.ConversationID != first.ConversationID {
		t.Fatalf("re-apply created a second conversation")
	}
}

func TestRespondAuthorization(t *testing.T) {
	env := newTestEnv(t)
	task := createTask(t, env, "owner")
	res, err := env.Engine.Accept(env.Ctx, task.ID, "worker-1", "")
	if err != nil {
		t.Fatal(err)
	}
	if err := env.Engine.Respond(env.Ctx, res.AcceptanceID, "worker-1", "confirmed", ""); !errors.Is(err, engine.ErrNotOwner) {
		t.Fatalf("want ErrNotOwner, got %v", err)
	}
	if err := env.Engine.Respond(env.Ctx, res.AcceptanceID, "owner", "maybe", ""); !errors.Is(err, engine.ErrValidation) {
		t.Fatalf("want ErrValidation for bad decision, got %v", err)
	}
}

func TestFinishAndCompleteFlow(t *testing.T) {
	env := newTestEnv(t)
	task := createTask(t, env, "owner")
	res, err := env.Engine.Accept(env.Ctx, task.ID, "worker-1", "")
	if err != nil {
		t.Fatal(err)
	}

	// completion is unreachable before the task is even assigned
	if err := env.Engine.ConfirmComplete(env.Ctx, task.ID, "owner"); !errors.Is(err, engine.ErrInvalidState) {
		t.Fatalf("complete on open: want ErrInvalidState, got %v", err)
	}
	if err := env.Engine.Respond(env.Ctx, res.AcceptanceID, "owner", "confirmed", ""); err != nil {
		t.Fatal(err)
	}
	if err := env.Engine.MarkFinished(env.Ctx, task.ID, "owner"); !errors.Is(err, engine.ErrNotAssignee) {
		t.Fatalf("finish by owner: want ErrNotAssignee, got %v", err)
	}
	if err := env.Engine.ConfirmComplete(env.Ctx, task.ID, "owner"); !errors.Is(err, engine.ErrInvalidState) {
		t.Fatalf("complete before finished: want ErrInvalidState, got %v", err)
	}
	if err := env.Engine.MarkFinished(env.Ctx, task.ID, "worker-1"); err != nil {
		t.Fatalf("finish: %v", err)
	}
	if err := env.Engine.MarkFinished(env.Ctx, task.ID, "worker-1"); !errors.Is(err, engine.ErrInvalidState) {
		t.Fatalf("double finish: want ErrInvalidState, got %v", err)
	}
	if err := env.Engine.ConfirmComplete(env.Ctx, task.ID, "worker-1"); !errors.Is(err, engine.ErrNotOwner) {
		t.Fatalf("complete by worker: want ErrNotOwner, got %v", err)
	}
	if err := env.Engine.ConfirmComplete(env.Ctx, task.ID, "owner"); err != nil {
		t.Fatalf("complete: %v", err)
	}
	got, err := env.Engine.GetTask(env.Ctx, task.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != "completed" || got.CompletionDate == nil {
		t.Fatalf("task not completed: %+v", got)
	}
	// every lifecycle notification landed in the conversation
	msgs, err := env.Engine.Repo.ListMessages(env.Ctx, res.ConversationID, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) < 4 {
		t.Fatalf("expected accept, assign, finish and complete messages, got %d", len(msgs))
	}
}

func TestCancelRejectsPendingAcceptances(t *testing.T) {
	env := newTestEnv(t)
	task := createTask(t, env, "owner")
	a1, err := env.Engine.Accept(env.Ctx, task.ID, "worker-1", "")
	if err != nil {
		t.Fatal(err)
	}
	a2, err := env.Engine.Accept(env.Ctx, task.ID, "worker-2", "")
	if err != nil {
		t.Fatal(err)
	}
	if err := env.Engine.CancelTask(env.Ctx, task.ID, "worker-1"); !errors.Is(err, engine.ErrNotOwner) {
		t.Fatalf("cancel by stranger: want ErrNotOwner, got %v", err)
	}
	if err := env.Engine.CancelTask(env.Ctx, task.ID, "owner"); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	got, err := env.Engine.GetTask(env.Ctx, task.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != "cancelled" || got.AssignedTo != nil {
		t.Fatalf("unexpected task after cancel: %+v", got)
	}
	for _, id := range []string{a1.AcceptanceID, a2.AcceptanceID} {
		a, err := env.Engine.Repo.GetAcceptance(env.Ctx, id)
		if err != nil {
			t.Fatal(err)
		}
		if a.Status != "rejected" {
			t.Fatalf("pending acceptance survived cancel: %+v", a)
		}
	}
	if _, err := env.Engine.Accept(env.Ctx, task.ID, "worker-3", ""); !errors.Is(err, engine.ErrTaskNotAcceptable) {
		t.Fatalf("accept after cancel: want ErrTaskNotAcceptable, got %v", err)
	}
	if err := env.Engine.CancelTask(env.Ctx, task.ID, "owner"); !errors.Is(err, engine.ErrInvalidState) {
		t.Fatalf("double cancel: want ErrInvalidState, got %v", err)
	}
}

func TestCancelAssignedTask(t *testing.T) {
	env := newTestEnv(t)
	task := createTask(t, env, "owner")
	res, err := env.Engine.Accept(env.Ctx, task.ID, "worker-1", "")
	if err != nil {
		t.Fatal(err)
	}
	if err := env.Engine.Respond(env.Ctx, res.AcceptanceID, "owner", "confirmed", ""); err != nil {
		t.Fatal(err)
	}
	if err := env.Engine.CancelTask(env.Ctx, task.ID, "owner"); err != nil {
		t.Fatalf("cancel assigned: %v", err)
	}
	got, err := env.Engine.GetTask(env.Ctx, task.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != "cancelled" || got.AssignedTo != nil {
		t.Fatalf("assignee not cleared on cancel: %+v", got)
	}
	// finished work can no longer be cancelled
	other := createTask(t, env, "owner")
	res2, err := env.Engine.Accept(env.Ctx, other.ID, "worker-1", "")
	if err != nil {
		t.Fatal(err)
	}
	if err := env.Engine.Respond(env.Ctx, res2.AcceptanceID, "owner", "confirmed", ""); err != nil {
		t.Fatal(err)
	}
	if err := env.Engine.MarkFinished(env.Ctx, other.ID, "worker-1"); err != nil {
		t.Fatal(err)
	}
	if err := env.Engine.CancelTask(env.Ctx, other.ID, "owner"); !errors.Is(err, engine.ErrInvalidState) {
		t.Fatalf("cancel finished: want ErrInvalidState, got %v", err)
	}
}

func TestConcurrentConfirmsSingleWinner(t *testing.T) {
	env := newTestEnv(t)
	task := createTask(t, env, "owner")
	workers := []string{"w1", "w2", "w3", "w4"}
	ids := make([]string, len(workers))
	for i, w := range workers {
		res, err := env.Engine.Accept(env.Ctx, task.ID, w, "")
		if err != nil {
			t.Fatal(err)
		}
		ids[i] = res.AcceptanceID
	}

	var wg sync.WaitGroup
	errs := make([]error, len(ids))
	for i, id := range ids {
		wg.Add(1)
		go func(i int, id string) {
			defer wg.Done()
			errs[i] = env.Engine.Respond(env.Ctx, id, "owner", "confirmed", "")
		}(i, id)
	}
	wg.Wait()

	success := 0
	for _, err := range errs {
		if err == nil {
			success++
		}
	}
	if success != 1 {
		t.Fatalf("expected exactly one confirmation to win, got %d (errs=%v)", success, errs)
	}
	got, err := env.Engine.GetTask(env.Ctx, task.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != "assigned" || got.AssignedTo == nil {
		t.Fatalf("task not assigned after race: %+v", got)
	}
	confirmed := 0
	for _, id := range ids {
		a, err := env.Engine.Repo.GetAcceptance(env.Ctx, id)
		if err != nil {
			t.Fatal(err)
		}
		switch a.Status {
		case "confirmed":
			confirmed++
			if a.AcceptorID != *got.AssignedTo {
				t.Fatalf("confirmed acceptance does not match assignee")
			}
		case "rejected":
		default:
			t.Fatalf("acceptance %s left in %s", id, a.Status)
		}
	}
	if confirmed != 1 {
		t.Fatalf("expected one confirmed acceptance, got %d", confirmed)
	}
}

func TestInboxGroupsPendingAndConversations(t *testing.T) {
	env := newTestEnv(t)
	task := createTask(t, env, "owner")
	if _, err := env.Engine.Accept(env.Ctx, task.ID, "worker-1", ""); err != nil {
		t.Fatal(err)
	}
	entries, err := env.Engine.Inbox(env.Ctx, "owner")
	if err != nil {
		t.Fatalf("inbox: %v", err)
	}
	var pendings, conversations int
	for _, e := range entries {
		switch e.Kind {
		case "acceptance":
			pendings++
		case "conversation":
			conversations++
		}
	}
	if pendings != 1 || conversations != 1 {
		t.Fatalf("owner inbox: want 1 acceptance and 1 conversation, got %d/%d", pendings, conversations)
	}
	// the applicant only sees the conversation
	entries, err = env.Engine.Inbox(env.Ctx, "worker-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].Kind != "conversation" {
		t.Fatalf("worker inbox: %+v", entries)
	}
}

func TestDeleteTask(t *testing.T) {
	env := newTestEnv(t)
	task := createTask(t, env, "owner")

	if err := env.Engine.DeleteTask(env.Ctx, task.ID, "stranger"); !errors.Is(err, engine.ErrNotOwner) {
		t.Fatalf("delete by stranger: want ErrNotOwner, got %v", err)
	}
	if _, err := env.Engine.Accept(env.Ctx, task.ID, "worker-1", ""); err != nil {
		t.Fatal(err)
	}
	// once someone applied the history stays; owners cancel instead
	if err := env.Engine.DeleteTask(env.Ctx, task.ID, "owner"); !errors.Is(err, repo.ErrConflict) {
		t.Fatalf("delete with acceptances: want ErrConflict, got %v", err)
	}
	if _, err := env.Engine.GetTask(env.Ctx, task.ID); err != nil {
		t.Fatalf("task vanished after refused delete: %v", err)
	}

	fresh := createTask(t, env, "owner")
	if err := env.Engine.DeleteTask(env.Ctx, fresh.ID, "owner"); err != nil {
		t.Fatalf("delete untouched task: %v", err)
	}
	if _, err := env.Engine.GetTask(env.Ctx, fresh.ID); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("deleted task still readable: %v", err)
	}
	if err := env.Engine.DeleteTask(env.Ctx, fresh.ID, "owner"); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("double delete: want ErrNotFound, got %v", err)
	}
}

func TestMyAcceptancesListsFiledApplications(t *testing.T) {
	env := newTestEnv(t)
	t1 := createTask(t, env, "owner")
	t2 := createTask(t, env, "owner")
	if _, err := env.Engine.Accept(env.Ctx, t1.ID, "worker-1", "first"); err != nil {
		t.Fatal(err)
	}
	res, err := env.Engine.Accept(env.Ctx, t2.ID, "worker-1", "second")
	if err != nil {
		t.Fatal(err)
	}
	if err := env.Engine.Respond(env.Ctx, res.AcceptanceID, "owner", "rejected", ""); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.Accept(env.Ctx, t1.ID, "worker-2", ""); err != nil {
		t.Fatal(err)
	}

	mine, err := env.Engine.MyAcceptances(env.Ctx, "worker-1")
	if err != nil {
		t.Fatalf("my acceptances: %v", err)
	}
	if len(mine) != 2 {
		t.Fatalf("want both applications, got %d", len(mine))
	}
	statuses := map[string]string{}
	for _, a := range mine {
		if a.AcceptorID != "worker-1" {
			t.Fatalf("foreign acceptance in listing: %+v", a)
		}
		statuses[a.TaskID] = a.Status
	}
	if statuses[t1.ID] != "pending" || statuses[t2.ID] != "rejected" {
		t.Fatalf("unexpected statuses: %v", statuses)
	}

	none, err := env.Engine.MyAcceptances(env.Ctx, "nobody")
	if err != nil {
		t.Fatal(err)
	}
	if len(none) != 0 {
		t.Fatalf("expected empty listing, got %d", len(none))
	}
}

func TestStoreFailuresAreRetryable(t *testing.T) {
	env := newTestEnv(t)
	task := createTask(t, env, "owner")
	env.Engine.DB.Close()

	if _, err := env.Engine.GetTask(env.Ctx, task.ID); !errors.Is(err, engine.ErrStorageUnavailable) {
		t.Fatalf("get on closed store: want ErrStorageUnavailable, got %v", err)
	}
	if _, err := env.Engine.Accept(env.Ctx, task.ID, "worker-1", ""); !errors.Is(err, engine.ErrStorageUnavailable) {
		t.Fatalf("accept on closed store: want ErrStorageUnavailable, got %v", err)
	}
	if _, err := env.Engine.Inbox(env.Ctx, "owner"); !errors.Is(err, engine.ErrStorageUnavailable) {
		t.Fatalf("inbox on closed store: want ErrStorageUnavailable, got %v", err)
	}
}

func TestEventAppendOnLifecycle(t *testing.T) {
	env := newTestEnv(t)
	task := createTask(t, env, "owner")
	res, err := env.Engine.Accept(env.Ctx, task.ID, "worker-1", "")
	if err != nil {
		t.Fatal(err)
	}
	if err := env.Engine.Respond(env.Ctx, res.AcceptanceID, "owner", "confirmed", ""); err != nil {
		t.Fatal(err)
	}
	if err := env.Engine.MarkFinished(env.Ctx, task.ID, "worker-1"); err != nil {
		t.Fatal(err)
	}
	if err := env.Engine.ConfirmComplete(env.Ctx, task.ID, "owner"); err != nil {
		t.Fatal(err)
	}
	rows, err := env.Engine.DB.QueryContext(env.Ctx, `SELECT type FROM events WHERE task_id=? ORDER BY id ASC`, task.ID)
	if err != nil {
		t.Fatalf("query events: %v", err)
	}
	defer rows.Close()
	var types []string
	for rows.Next() {
		var typ string
		if err := rows.Scan(&typ); err != nil {
			t.Fatal(err)
		}
		types = append(types, typ)
	}
	want := []string{"task.created", "task.accepted", "acceptance.confirmed", "task.finished", "task.completed"}
	if len(types) != len(want) {
		t.Fatalf("event types: want %v, got %v", want, types)
	}
	for i := range want {
		if types[i] != want[i] {
			t.Fatalf("event %d: want %s, got %s", i, want[i], types[i])
		}
	}
}
