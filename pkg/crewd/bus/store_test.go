package bus

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/dmarchetti/crewd/pkg/crewd/poll"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "crew.db"), nil)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func registerCrew(t *testing.T, s *Store, room string, agents ...string) {
	t.Helper()
	for _, a := range agents {
		role := "worker"
		if a == "lead" {
			role = "lead"
		}
		if err := s.Register(room, a, role); err != nil {
			t.Fatalf("Register(%q) error = %v", a, err)
		}
	}
}

func TestBroadcastFanout(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	registerCrew(t, s, "main", "lead", "worker-1", "worker-2", "worker-3")

	id, err := s.Send(SendRequest{
		Room: "main", Sender: "lead", Recipient: RecipientAll,
		Kind: KindBroadcast, Body: "kickoff",
	})
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if id != 1 {
		t.Errorf("first message id = %d, want 1", id)
	}

	// |M| - 1 rows: everyone but the sender.
	for _, agent := range []string{"worker-1", "worker-2", "worker-3"} {
		n, err := s.UnreadCount(agent)
		if err != nil {
			t.Fatalf("UnreadCount(%q) error = %v", agent, err)
		}
		if n != 1 {
			t.Errorf("unread for %q = %d, want 1", agent, n)
		}
	}
	n, _ := s.UnreadCount("lead")
	if n != 0 {
		t.Errorf("sender got %d mailbox rows from own broadcast, want 0", n)
	}
}

func TestDirectSendSingleRow(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	registerCrew(t, s, "main", "lead", "worker-1", "worker-2")

	if _, err := s.Send(SendRequest{
		Room: "main", Sender: "lead", Recipient: "worker-1",
		Kind: KindTask, Body: "build the parser",
	}); err != nil {
		t.Fatalf("Send() error = %v", err)
	}

	if n, _ := s.UnreadCount("worker-1"); n != 1 {
		t.Errorf("worker-1 unread = %d, want 1", n)
	}
	if n, _ := s.UnreadCount("worker-2"); n != 0 {
		t.Errorf("worker-2 unread = %d, want 0", n)
	}
}

func TestSendValidation(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	registerCrew(t, s, "main", "lead", "worker-1")

	_, err := s.Send(SendRequest{Room: "ghost", Sender: "lead", Recipient: RecipientAll, Body: "x"})
	if !errors.Is(err, ErrUnknownRoom) {
		t.Errorf("send to unknown room: err = %v, want ErrUnknownRoom", err)
	}

	_, err = s.Send(SendRequest{Room: "main", Sender: "stranger", Recipient: RecipientAll, Body: "x"})
	if !errors.Is(err, ErrNotMember) {
		t.Errorf("send from unregistered agent: err = %v, want ErrNotMember", err)
	}

	_, err = s.Send(SendRequest{Room: "main", Sender: "lead", Recipient: "nobody", Body: "x"})
	if !errors.Is(err, ErrNotMember) {
		t.Errorf("send to unregistered recipient: err = %v, want ErrNotMember", err)
	}
}

func TestSystemSenderAutoRegisters(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	registerCrew(t, s, "main", "worker-1")

	if _, err := s.Send(SendRequest{
		Room: "main", Sender: "system", Recipient: "worker-1",
		Kind: KindSystem, Body: "agent spawned",
	}); err != nil {
		t.Fatalf("system send error = %v", err)
	}

	members, err := s.Members("main")
	if err != nil {
		t.Fatal(err)
	}
	if !memberActive(members, "system") {
		t.Error("system sender was not auto-registered")
	}
}

func TestTailOrderedGapFree(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	registerCrew(t, s, "main", "lead", "worker-1")

	for i := 0; i < 5; i++ {
		if _, err := s.Send(SendRequest{
			Room: "main", Sender: "lead", Recipient: "worker-1",
			Kind: KindMessage, Body: "msg",
		}); err != nil {
			t.Fatal(err)
		}
	}

	// Repeated tails with an advancing cursor must cover every id exactly
	// once, strictly increasing.
	var seen []int64
	cursor := int64(0)
	for {
		msgs, err := s.Tail("main", cursor, TailFilter{})
		if err != nil {
			t.Fatalf("Tail() error = %v", err)
		}
		if len(msgs) == 0 {
			break
		}
		for _, m := range msgs {
			seen = append(seen, m.ID)
		}
		cursor = msgs[len(msgs)-1].ID + 1
	}

	if len(seen) != 5 {
		t.Fatalf("tail saw %d messages, want 5", len(seen))
	}
	for i, id := range seen {
		if id != int64(i+1) {
			t.Errorf("seen[%d] = %d, want %d (ids must be gap-free from 1)", i, id, i+1)
		}
	}
}

func TestConcurrentSendsStayGapFree(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	registerCrew(t, s, "main", "lead", "worker-1")

	const sends = 50
	var wg sync.WaitGroup
	errs := make(chan error, sends)
	for i := 0; i < sends; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.Send(SendRequest{
				Room: "main", Sender: "lead", Recipient: "worker-1",
				Kind: KindMessage, Body: "msg",
			})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("concurrent Send() error = %v", err)
		}
	}

	msgs, err := s.Tail("main", 0, TailFilter{})
	if err != nil {
		t.Fatalf("Tail() error = %v", err)
	}
	if len(msgs) != sends {
		t.Fatalf("tail saw %d messages, want %d", len(msgs), sends)
	}
	for i, m := range msgs {
		if m.ID != int64(i+1) {
			t.Fatalf("msgs[%d].ID = %d, want %d (contention must not skip ids)", i, m.ID, i+1)
		}
	}
}

func TestTailFilterByAgent(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	registerCrew(t, s, "main", "lead", "worker-1", "worker-2")

	s.Send(SendRequest{Room: "main", Sender: "lead", Recipient: "worker-1", Kind: KindTask, Body: "a"})
	s.Send(SendRequest{Room: "main", Sender: "lead", Recipient: "worker-2", Kind: KindTask, Body: "b"})
	s.Send(SendRequest{Room: "main", Sender: "worker-1", Recipient: "lead", Kind: KindStatus, Body: "c"})
	s.Send(SendRequest{Room: "main", Sender: "lead", Recipient: RecipientAll, Kind: KindBroadcast, Body: "d"})

	msgs, err := s.Tail("main", 0, TailFilter{Agent: "worker-1"})
	if err != nil {
		t.Fatalf("Tail() error = %v", err)
	}
	// direct-to, sent-by, and the broadcast; not worker-2's task.
	if len(msgs) != 3 {
		t.Fatalf("filtered tail returned %d messages, want 3", len(msgs))
	}
	for _, m := range msgs {
		if m.Body == "b" {
			t.Error("filtered tail leaked another agent's direct message")
		}
	}
}

func TestInboxMarkReadIdempotent(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	registerCrew(t, s, "main", "lead", "worker-1", "worker-2")

	if _, err := s.Send(SendRequest{
		Room: "main", Sender: "lead", Recipient: RecipientAll,
		Kind: KindBroadcast, Body: "kickoff",
	}); err != nil {
		t.Fatal(err)
	}

	// worker-1 reads and marks; worker-2 untouched.
	entries, err := s.Inbox("worker-1", true, true)
	if err != nil {
		t.Fatalf("Inbox() error = %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("worker-1 inbox = %d entries, want 1", len(entries))
	}
	if entries[0].State != StateRead {
		t.Errorf("entry state after markRead = %q, want read", entries[0].State)
	}

	if n, _ := s.UnreadCount("worker-1"); n != 0 {
		t.Errorf("worker-1 unread after mark = %d, want 0", n)
	}
	if n, _ := s.UnreadCount("worker-2"); n != 1 {
		t.Errorf("worker-2 unread = %d, want 1 (other recipients' state is private)", n)
	}

	// Marking again is a no-op, never an error.
	if err := s.MarkRead("worker-1", "main", entries[0].MessageID); err != nil {
		t.Errorf("second MarkRead() error = %v, want nil", err)
	}
	if n, _ := s.UnreadCount("worker-1"); n != 0 {
		t.Errorf("unread after repeated mark = %d, want 0", n)
	}
}

func TestStatusAggregates(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	registerCrew(t, s, "main", "lead", "worker-1")

	s.Send(SendRequest{Room: "main", Sender: "lead", Recipient: "worker-1", Kind: KindTask, Body: "a"})
	s.Send(SendRequest{Room: "main", Sender: "worker-1", Recipient: "lead", Kind: KindStatus, Body: "b"})
	s.Send(SendRequest{Room: "main", Sender: "worker-1", Recipient: "lead", Kind: KindStatus, Body: "c"})

	st, err := s.Status("main")
	if err != nil {
		t.Fatalf("Status() error = %v", err)
	}
	if st.Total != 3 {
		t.Errorf("Total = %d, want 3", st.Total)
	}
	if st.ByKind[KindStatus] != 2 {
		t.Errorf("ByKind[status] = %d, want 2", st.ByKind[KindStatus])
	}
	if st.BySender["worker-1"] != 2 {
		t.Errorf("BySender[worker-1] = %d, want 2", st.BySender["worker-1"])
	}
	if st.Unread["lead"] != 2 {
		t.Errorf("Unread[lead] = %d, want 2", st.Unread["lead"])
	}
}

func TestFollowDeliversNewMessages(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	registerCrew(t, s, "main", "lead", "worker-1")

	s.Send(SendRequest{Room: "main", Sender: "lead", Recipient: "worker-1", Kind: KindTask, Body: "first"})

	clock := poll.NewFakeClock(time.Unix(0, 0))
	got := make(chan Message, 8)
	done := make(chan error, 1)
	go func() {
		done <- s.Follow(context.Background(), clock, time.Second, "main", 0, TailFilter{}, func(m Message) bool {
			got <- m
			return m.Body != "last"
		})
	}()

	if m := <-got; m.Body != "first" {
		t.Fatalf("first delivered body = %q, want first", m.Body)
	}

	s.Send(SendRequest{Room: "main", Sender: "lead", Recipient: "worker-1", Kind: KindTask, Body: "last"})
	clock.Advance(time.Second)

	if m := <-got; m.Body != "last" {
		t.Fatalf("second delivered body = %q, want last", m.Body)
	}
	if err := <-done; err != nil {
		t.Errorf("Follow() error = %v", err)
	}
}

func TestInboxMirrorDocument(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	s, err := Open(filepath.Join(dir, "crew.db"), nil)
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	s.SetMirrorDir(filepath.Join(dir, "inboxes"))

	registerCrew(t, s, "main", "lead", "worker-1")
	if _, err := s.Send(SendRequest{
		Room: "main", Sender: "lead", Recipient: "worker-1",
		Kind: KindTask, Body: "mirror me",
	}); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(filepath.Join(dir, "inboxes", "worker-1.json"))
	if err != nil {
		t.Fatalf("mirror document not written: %v", err)
	}
	if len(data) == 0 {
		t.Fatal("mirror document is empty")
	}
	// No temp files left behind.
	entries, _ := os.ReadDir(filepath.Join(dir, "inboxes"))
	for _, e := range entries {
		if e.Name() != "worker-1.json" {
			t.Errorf("unexpected leftover file %q in mirror dir", e.Name())
		}
	}
}
