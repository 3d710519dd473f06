package notify

import (
	"context"
	"errors"
	"net/smtp"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/simdb-io/simdb/internal/store"
	"github.com/simdb-io/simdb/pkg/core"
)

type recordingNotifier struct {
	delivered []string
	fail      map[string]bool
}

func (r *recordingNotifier) Notify(_ context.Context, w core.Watcher, _ Event) error {
	if r.fail[w.Username] {
		return errors.New("relay refused")
	}
	r.delivered = append(r.delivered, w.Username)
	return nil
}

func setupDispatcher(t *testing.T, n Notifier) (*Dispatcher, *store.Store) {
	t.Helper()
	st, err := store.Open(store.Options{Driver: store.DriverSQLite, DSN: ":memory:"})
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return NewDispatcher(st, n, nil), st
}

func TestDispatcher_CoversClasses(t *testing.T) {
	rec := &recordingNotifier{}
	d, st := setupDispatcher(t, rec)
	ctx := context.Background()

	id, err := st.CreateSimulation(ctx)
	if err != nil {
		t.Fatalf("failed to create simulation: %v", err)
	}
	watchers := []core.Watcher{
		{Username: "all", Email: "all@example.org", Notification: core.NotifyAll},
		{Username: "rev", Email: "rev@example.org", Notification: core.NotifyRevision},
		{Username: "val", Email: "val@example.org", Notification: core.NotifyValidation},
	}
	for _, w := range watchers {
		if err := st.AddWatcher(ctx, id, w); err != nil {
			t.Fatalf("failed to add watcher: %v", err)
		}
	}

	d.Dispatch(ctx, Event{Simulation: id, Class: core.NotifyRevision, Subject: "revised"})

	if len(rec.delivered) != 2 {
		t.Fatalf("delivered to %v, want the ALL and REVISION watchers", rec.delivered)
	}
}

func TestDispatcher_SwallowsDeliveryFailures(t *testing.T) {
	rec := &recordingNotifier{fail: map[string]bool{"flaky": true}}
	d, st := setupDispatcher(t, rec)
	ctx := context.Background()

	id, err := st.CreateSimulation(ctx)
	if err != nil {
		t.Fatalf("failed to create simulation: %v", err)
	}
	for _, w := range []core.Watcher{
		{Username: "flaky", Email: "flaky@example.org", Notification: core.NotifyAll},
		{Username: "stable", Email: "stable@example.org", Notification: core.NotifyAll},
	} {
		if err := st.AddWatcher(ctx, id, w); err != nil {
			t.Fatalf("failed to add watcher: %v", err)
		}
	}

	// Must not panic or stop at the failing watcher.
	d.Dispatch(ctx, Event{Simulation: id, Class: core.NotifyAll, Subject: "hello"})

	if len(rec.delivered) != 1 || rec.delivered[0] != "stable" {
		t.Errorf("delivered to %v, want [stable]", rec.delivered)
	}
}

func TestDispatcher_NilNotifierIsNoop(t *testing.T) {
	d, st := setupDispatcher(t, nil)
	ctx := context.Background()

	id, err := st.CreateSimulation(ctx)
	if err != nil {
		t.Fatalf("failed to create simulation: %v", err)
	}
	d.Dispatch(ctx, Event{Simulation: id, Class: core.NotifyAll})
}

func TestSMTPNotifier_MessageFormat(t *testing.T) {
	var gotAddr, gotFrom string
	var gotTo []string
	var gotMsg []byte

	n := NewSMTPNotifier(SMTPConfig{
		Server: "mail.example.org", Port: 587, From: "simdb@example.org",
	})
	n.send = func(addr string, _ smtp.Auth, from string, to []string, msg []byte) error {
		gotAddr, gotFrom, gotTo, gotMsg = addr, from, to, msg
		return nil
	}

	watcher := core.Watcher{Username: "alice", Email: "alice@example.org", Notification: core.NotifyAll}
	event := Event{
		Simulation: uuid.MustParse("deadbeef-0000-4000-8000-000000000001"),
		Class:      core.NotifyObsolescence,
		Subject:    "simulation deprecated",
		Body:       "a newer version was published",
	}
	if err := n.Notify(context.Background(), watcher, event); err != nil {
		t.Fatalf("failed to notify: %v", err)
	}

	if gotAddr != "mail.example.org:587" {
		t.Errorf("addr = %q", gotAddr)
	}
	if gotFrom != "simdb@example.org" {
		t.Errorf("from = %q", gotFrom)
	}
	if len(gotTo) != 1 || gotTo[0] != "alice@example.org" {
		t.Errorf("to = %v", gotTo)
	}
	msg := string(gotMsg)
	for _, want := range []string{
		"Subject: simulation deprecated",
		"a newer version was published",
		"Event: OBSOLESCENCE",
	} {
		if !strings.Contains(msg, want) {
			t.Errorf("message missing %q:\n%s", want, msg)
		}
	}
}
