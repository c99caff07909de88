package agent

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/dmarchetti/crewd/pkg/crewd/bus"
	"github.com/dmarchetti/crewd/pkg/crewd/control"
	"github.com/dmarchetti/crewd/pkg/crewd/poll"
	"github.com/dmarchetti/crewd/pkg/crewd/team"
)

func newTestStore(t *testing.T, agents ...string) (*bus.Store, *control.Protocol) {
	t.Helper()
	dir := t.TempDir()
	store, err := bus.Open(filepath.Join(dir, "crew.db"), nil)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })
	if err := store.Register("main", "lead", "lead"); err != nil {
		t.Fatal(err)
	}
	for _, a := range agents {
		if err := store.Register("main", a, "worker"); err != nil {
			t.Fatal(err)
		}
	}
	return store, control.New(store, filepath.Join(dir, "control.json"), nil)
}

func sendStop(t *testing.T, store *bus.Store, agent string) {
	t.Helper()
	if _, err := store.Send(bus.SendRequest{
		Room: "main", Sender: "system", Recipient: agent,
		Kind: bus.KindSystem, Body: "stop",
		Meta: map[string]string{"command": "stop"},
	}); err != nil {
		t.Fatal(err)
	}
}

func tailBodies(t *testing.T, store *bus.Store) []string {
	t.Helper()
	msgs, err := store.Tail("main", 0, bus.TailFilter{})
	if err != nil {
		t.Fatal(err)
	}
	bodies := make([]string, 0, len(msgs))
	for _, m := range msgs {
		bodies = append(bodies, string(m.Kind)+": "+m.Body)
	}
	return bodies
}

func containsBody(bodies []string, want string) bool {
	for _, b := range bodies {
		if strings.Contains(b, want) {
			return true
		}
	}
	return false
}

func TestAgentStopsOnStopCommand(t *testing.T) {
	t.Parallel()
	store, proto := newTestStore(t, "worker-1")
	sendStop(t, store, "worker-1")

	clock := poll.NewFakeClock(time.Now())
	a := New("worker-1", "worker", "main", store, proto, Options{Clock: clock}, nil)
	if err := a.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	bodies := tailBodies(t, store)
	if !containsBody(bodies, "worker-1 online") || !containsBody(bodies, "worker-1 offline") {
		t.Errorf("lifecycle statuses missing from history: %v", bodies)
	}
}

func TestAgentRunsTaskThenReportsDone(t *testing.T) {
	t.Parallel()
	store, proto := newTestStore(t, "worker-1")

	if _, err := store.Send(bus.SendRequest{
		Room: "main", Sender: "lead", Recipient: "worker-1",
		Kind: bus.KindTask, Body: "build the login flow",
		Meta: map[string]string{"task_id": "task-1"},
	}); err != nil {
		t.Fatal(err)
	}
	sendStop(t, store, "worker-1")

	var gotPrompt string
	runner := RunnerFunc(func(_ context.Context, prompt string) error {
		gotPrompt = prompt
		return nil
	})

	clock := poll.NewFakeClock(time.Now())
	a := New("worker-1", "worker", "main", store, proto, Options{Clock: clock, Runner: runner}, nil)
	if err := a.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if gotPrompt != "build the login flow" {
		t.Errorf("runner prompt = %q, want the task body", gotPrompt)
	}
	bodies := tailBodies(t, store)
	if !containsBody(bodies, "task task-1 accepted") || !containsBody(bodies, "task task-1 done") {
		t.Errorf("task statuses missing from history: %v", bodies)
	}
}

func TestAgentReportsBlockerOnTaskFailure(t *testing.T) {
	t.Parallel()
	store, proto := newTestStore(t, "worker-1")

	if _, err := store.Send(bus.SendRequest{
		Room: "main", Sender: "lead", Recipient: "worker-1",
		Kind: bus.KindTask, Body: "impossible",
		Meta: map[string]string{"task_id": "task-9"},
	}); err != nil {
		t.Fatal(err)
	}
	sendStop(t, store, "worker-1")

	runner := RunnerFunc(func(context.Context, string) error {
		return errors.New("no can do")
	})
	clock := poll.NewFakeClock(time.Now())
	a := New("worker-1", "worker", "main", store, proto, Options{Clock: clock, Runner: runner}, nil)
	if err := a.Run(context.Background()); err != nil {
		t.Fatal(err)
	}

	entries, err := store.Inbox("lead", true, false)
	if err != nil {
		t.Fatal(err)
	}
	var sawBlocker bool
	for _, e := range entries {
		if e.Message.Kind == bus.KindBlocker && strings.Contains(e.Message.Body, "task-9") {
			sawBlocker = true
		}
	}
	if !sawBlocker {
		t.Error("no blocker message reached the lead")
	}
	if bodies := tailBodies(t, store); containsBody(bodies, "task task-9 done") {
		t.Error("failed task reported as done")
	}
}

func TestAgentPicksUpWorkOnLaterTicks(t *testing.T) {
	t.Parallel()
	store, proto := newTestStore(t, "worker-1")

	clock := poll.NewFakeClock(time.Now())
	a := New("worker-1", "worker", "main", store, proto, Options{Clock: clock}, nil)

	done := make(chan error, 1)
	go func() { done <- a.Run(context.Background()) }()

	waitFor(t, func() bool {
		return containsBody(tailBodies(t, store), "worker-1 online")
	})

	if _, err := store.Send(bus.SendRequest{
		Room: "main", Sender: "lead", Recipient: "worker-1",
		Kind: bus.KindTask, Body: "late work",
		Meta: map[string]string{"task_id": "task-2"},
	}); err != nil {
		t.Fatal(err)
	}
	clock.Advance(time.Second)
	waitFor(t, func() bool {
		return containsBody(tailBodies(t, store), "task task-2 accepted")
	})

	sendStop(t, store, "worker-1")
	clock.Advance(time.Second)

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run() error = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("agent did not stop after the stop command")
	}
}

func TestAgentStopsOnContextCancel(t *testing.T) {
	t.Parallel()
	store, proto := newTestStore(t, "worker-1")

	ctx, cancel := context.WithCancel(context.Background())
	clock := poll.NewFakeClock(time.Now())
	a := New("worker-1", "worker", "main", store, proto, Options{Clock: clock}, nil)

	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()
	waitFor(t, func() bool {
		return containsBody(tailBodies(t, store), "worker-1 online")
	})

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run() after cancel = %v, want nil (cooperative exit)", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("agent did not exit on context cancellation")
	}
}

func TestHeartbeatPulse(t *testing.T) {
	t.Parallel()
	store, proto := newTestStore(t, "worker-1")

	a := New("worker-1", "worker", "main", store, proto, Options{}, nil)
	a.pulse()

	if !containsBody(tailBodies(t, store), "worker-1 heartbeat") {
		t.Error("pulse emitted no heartbeat status")
	}
}

func TestInvalidHeartbeatScheduleIsNonFatal(t *testing.T) {
	t.Parallel()
	store, proto := newTestStore(t, "worker-1")
	sendStop(t, store, "worker-1")

	clock := poll.NewFakeClock(time.Now())
	a := New("worker-1", "worker", "main", store, proto,
		Options{Clock: clock, Schedule: "not a cron spec"}, nil)
	if err := a.Run(context.Background()); err != nil {
		t.Errorf("Run() with bad schedule = %v, want nil", err)
	}
}

func TestHubHostsEveryNonLeadMember(t *testing.T) {
	t.Parallel()
	store, proto := newTestStore(t, "worker-1", "worker-2")
	sendStop(t, store, "worker-1")
	sendStop(t, store, "worker-2")

	members := []team.Member{
		{Name: "lead", Role: team.RoleLead},
		{Name: "worker-1", Role: team.RoleWorker},
		{Name: "worker-2", Role: team.RoleWorker},
	}
	clock := poll.NewFakeClock(time.Now())
	hub := NewHub("main", store, proto, Options{Clock: clock}, nil)
	if err := hub.Run(context.Background(), members); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	bodies := tailBodies(t, store)
	if !containsBody(bodies, "hub hosting 2 agents") {
		t.Errorf("hub banner missing: %v", bodies)
	}
	for _, w := range []string{"worker-1", "worker-2"} {
		if !containsBody(bodies, w+" offline") {
			t.Errorf("%s never reported offline", w)
		}
	}
}

func TestHubRequiresWorkers(t *testing.T) {
	t.Parallel()
	store, proto := newTestStore(t)
	hub := NewHub("main", store, proto, Options{}, nil)
	err := hub.Run(context.Background(), []team.Member{{Name: "lead", Role: team.RoleLead}})
	if err == nil {
		t.Error("Run(lead only) = nil, want error")
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not reached in time")
}
