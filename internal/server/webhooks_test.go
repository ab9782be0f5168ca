package server

import (
	"context"
	"net/http"
	"testing"
	"time"

	"taskbridge/internal/config"
)

func TestWebhookDispatcherStopsOnContextCancel(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	d := &webhookDispatcher{
		engine:   srv.Engine,
		webhooks: []config.WebhookConfig{},
		client:   &http.Client{Timeout: time.Second},
		cursors:  make(map[int]int64),
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		d.run(ctx)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(2 * defaultWebhookInterval):
		t.Fatal("dispatcher kept running after cancel")
	}
}

func TestWebhookEventFilter(t *testing.T) {
	all := newEventFilter(nil)
	if !all.match("task.created") || !all.match("anything") {
		t.Fatal("empty filter must match everything")
	}
	some := newEventFilter([]string{"task.created", " acceptance.confirmed ", ""})
	if !some.match("task.created") || !some.match("acceptance.confirmed") {
		t.Fatal("listed types must match")
	}
	if some.match("task.cancelled") {
		t.Fatal("unlisted type matched")
	}
}
