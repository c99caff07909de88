// Package bus – store.go provides the sqlite-backed message store. One
// crew.db file per session holds rooms' message logs, the mailbox
// projection, and control request records. WAL mode keeps concurrent
// pollers cheap; all multi-row writes happen inside a single transaction.
package bus

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3" // sqlite driver
)

// schema is the DDL executed on every open (idempotent via IF NOT EXISTS).
const schema = `
-- Room membership (idempotent upserts, never deleted; active flag instead).
CREATE TABLE IF NOT EXISTS members (
    room      TEXT NOT NULL,
    agent     TEXT NOT NULL,
    role      TEXT NOT NULL DEFAULT '',
    active    INTEGER NOT NULL DEFAULT 1,
    joined_at TEXT NOT NULL,
    PRIMARY KEY (room, agent)
);

-- Message log (append-only, one row per send, seq monotonic per room).
CREATE TABLE IF NOT EXISTS messages (
    room       TEXT NOT NULL,
    seq        INTEGER NOT NULL,
    kind       TEXT NOT NULL,
    sender     TEXT NOT NULL,
    recipient  TEXT NOT NULL,
    body       TEXT NOT NULL,
    meta       TEXT NOT NULL DEFAULT '{}',
    created_at TEXT NOT NULL,
    PRIMARY KEY (room, seq)
);
CREATE INDEX IF NOT EXISTS idx_messages_sender ON messages(room, sender);

-- Mailbox projection (one row per recipient per delivered message).
CREATE TABLE IF NOT EXISTS mailbox (
    room       TEXT NOT NULL,
    seq        INTEGER NOT NULL,
    recipient  TEXT NOT NULL,
    state      TEXT NOT NULL DEFAULT 'unread',
    created_at TEXT NOT NULL,
    PRIMARY KEY (room, seq, recipient)
);
CREATE INDEX IF NOT EXISTS idx_mailbox_recipient ON mailbox(recipient, state);

-- Control protocol request/response records.
CREATE TABLE IF NOT EXISTS control_requests (
    id          TEXT PRIMARY KEY,
    room        TEXT NOT NULL,
    type        TEXT NOT NULL,
    sender      TEXT NOT NULL,
    recipient   TEXT NOT NULL,
    body        TEXT NOT NULL DEFAULT '',
    summary     TEXT NOT NULL DEFAULT '',
    status      TEXT NOT NULL DEFAULT 'pending',
    created_at  TEXT NOT NULL,
    resolved_at TEXT
);
CREATE INDEX IF NOT EXISTS idx_control_status ON control_requests(status);
`

// Sentinel errors surfaced to callers for errors.Is checks.
var (
	ErrUnknownRoom  = errors.New("unknown room")
	ErrNotMember    = errors.New("agent not registered in room")
	ErrNoRecipients = errors.New("no active recipients")
)

// systemSenders are well-known roles the bus auto-registers on first send,
// so supervisor and CLI traffic doesn't require explicit registration.
var systemSenders = map[string]string{
	"system": "system",
	"crewd":  "system",
	"lead":   "lead",
}

// Store is the session message store.
type Store struct {
	db     *sql.DB
	logger *slog.Logger

	// mirrorDir, when set, receives per-agent inbox mirror documents
	// (inboxes/<agent>.json) rewritten after every mailbox mutation.
	mirrorDir string
}

// Open opens (or creates) the session store at the given path.
func Open(path string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create store directory %q: %w", dir, err)
	}

	// _txlock=immediate takes the write lock at BEGIN, so a send
	// transaction never reads MAX(seq) from a snapshot another process
	// has already moved past.
	dsn := path + "?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=ON&_txlock=immediate"
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open store %q: %w", path, err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping store: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	return &Store{db: db, logger: logger.With("component", "bus")}, nil
}

// SetMirrorDir enables per-agent inbox mirror documents under dir.
func (s *Store) SetMirrorDir(dir string) { s.mirrorDir = dir }

// Close releases the underlying database handle.
func (s *Store) Close() error { return s.db.Close() }

// DB exposes the handle for sibling stores (control requests live in the
// same database so request inserts share the bus transaction discipline).
func (s *Store) DB() *sql.DB { return s.db }

// ─── Membership ───

// Register upserts a room member. Re-registering an existing member updates
// its role and reactivates it; it is never an error.
func (s *Store) Register(room, agent, role string) error {
	if room == "" || agent == "" {
		return fmt.Errorf("register: room and agent are required")
	}
	_, err := s.db.Exec(`
		INSERT INTO members (room, agent, role, active, joined_at)
		VALUES (?, ?, ?, 1, ?)
		ON CONFLICT(room, agent) DO UPDATE SET role = excluded.role, active = 1`,
		room, agent, role, time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("register member: %w", err)
	}
	s.logger.Debug("member registered", "room", room, "agent", agent, "role", role)
	return nil
}

// Deactivate marks a member inactive. Future broadcasts skip it; history
// and mailbox rows are untouched.
func (s *Store) Deactivate(room, agent string) error {
	_, err := s.db.Exec(`UPDATE members SET active = 0 WHERE room = ? AND agent = ?`, room, agent)
	if err != nil {
		return fmt.Errorf("deactivate member: %w", err)
	}
	return nil
}

// Members returns the active members of a room.
func (s *Store) Members(room string) ([]Member, error) {
	rows, err := s.db.Query(`
		SELECT room, agent, role, active, joined_at
		FROM members WHERE room = ? AND active = 1 ORDER BY joined_at ASC, agent ASC`, room)
	if err != nil {
		return nil, fmt.Errorf("list members: %w", err)
	}
	defer rows.Close()

	var members []Member
	for rows.Next() {
		var m Member
		var joined string
		if err := rows.Scan(&m.Room, &m.Agent, &m.Role, &m.Active, &joined); err != nil {
			return nil, fmt.Errorf("scan member: %w", err)
		}
		m.JoinedAt, _ = time.Parse(time.RFC3339, joined)
		members = append(members, m)
	}
	return members, rows.Err()
}

// ─── Send ───

// SendRequest describes one logical send.
type SendRequest struct {
	Room      string
	Sender    string
	Recipient string // concrete agent or RecipientAll
	Kind      Kind
	Body      string
	Meta      map[string]string
}

// Send appends one message and its mailbox fanout in a single transaction.
// A broadcast produces one mailbox row per active member except the sender;
// a direct send produces exactly one. Returns the message id (the room seq).
//
// A crashed writer can therefore never leave a message without its fanout:
// either both commit or neither does.
func (s *Store) Send(req SendRequest) (int64, error) {
	if req.Room == "" || req.Sender == "" || req.Recipient == "" {
		return 0, fmt.Errorf("send: room, sender and recipient are required")
	}
	if req.Kind == "" {
		req.Kind = KindMessage
	}

	members, err := s.Members(req.Room)
	if err != nil {
		return 0, err
	}
	if len(members) == 0 {
		return 0, fmt.Errorf("send to %q: %w", req.Room, ErrUnknownRoom)
	}

	if err := s.checkSender(req.Room, req.Sender, members); err != nil {
		return 0, err
	}

	// Resolve fanout targets against the member list as of now.
	var targets []string
	if req.Recipient == RecipientAll {
		for _, m := range members {
			if m.Agent != req.Sender {
				targets = append(targets, m.Agent)
			}
		}
		if len(targets) == 0 {
			return 0, fmt.Errorf("broadcast in %q: %w", req.Room, ErrNoRecipients)
		}
	} else {
		if !memberActive(members, req.Recipient) {
			return 0, fmt.Errorf("recipient %q in %q: %w", req.Recipient, req.Room, ErrNotMember)
		}
		targets = []string{req.Recipient}
	}

	meta := "{}"
	if len(req.Meta) > 0 {
		b, err := json.Marshal(req.Meta)
		if err != nil {
			return 0, fmt.Errorf("marshal meta: %w", err)
		}
		meta = string(b)
	}

	now := time.Now().UTC().Format(time.RFC3339)

	tx, err := s.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("begin send: %w", err)
	}
	defer tx.Rollback()

	// Next seq computed inside the transaction keeps ids gap-free and
	// strictly increasing per room even under concurrent writers.
	var seq int64
	err = tx.QueryRow(`SELECT COALESCE(MAX(seq), 0) + 1 FROM messages WHERE room = ?`, req.Room).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("next seq: %w", err)
	}

	_, err = tx.Exec(`
		INSERT INTO messages (room, seq, kind, sender, recipient, body, meta, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		req.Room, seq, string(req.Kind), req.Sender, req.Recipient, req.Body, meta, now,
	)
	if err != nil {
		return 0, fmt.Errorf("insert message: %w", err)
	}

	for _, target := range targets {
		_, err = tx.Exec(`
			INSERT INTO mailbox (room, seq, recipient, state, created_at)
			VALUES (?, ?, ?, 'unread', ?)`,
			req.Room, seq, target, now,
		)
		if err != nil {
			return 0, fmt.Errorf("insert mailbox row for %q: %w", target, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit send: %w", err)
	}

	s.logger.Debug("message sent",
		"room", req.Room, "id", seq, "kind", req.Kind,
		"from", req.Sender, "to", req.Recipient, "fanout", len(targets))

	// Mirror documents are best-effort; the sqlite row is authoritative.
	for _, target := range targets {
		s.mirrorInbox(target)
	}

	return seq, nil
}

// checkSender validates the sender is an active member, auto-registering
// well-known system senders on first use.
func (s *Store) checkSender(room, sender string, members []Member) error {
	if memberActive(members, sender) {
		return nil
	}
	if role, ok := systemSenders[sender]; ok {
		return s.Register(room, sender, role)
	}
	return fmt.Errorf("sender %q in %q: %w", sender, room, ErrNotMember)
}

func memberActive(members []Member, agent string) bool {
	for _, m := range members {
		if m.Agent == agent {
			return true
		}
	}
	return false
}

// ─── Tail ───

// TailFilter narrows a tail to one participant's traffic.
type TailFilter struct {
	// Agent, when set, keeps only messages sent by or addressed to it
	// (broadcasts included).
	Agent string
}

// Tail returns messages of a room with id >= sinceID in id order. The call
// is restartable: repeating it with the last returned id + 1 continues the
// sequence without skips or duplicates.
func (s *Store) Tail(room string, sinceID int64, filter TailFilter) ([]Message, error) {
	rows, err := s.db.Query(`
		SELECT room, seq, kind, sender, recipient, body, meta, created_at
		FROM messages WHERE room = ? AND seq >= ? ORDER BY seq ASC`, room, sinceID)
	if err != nil {
		return nil, fmt.Errorf("tail %q: %w", room, err)
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		if filter.Agent != "" &&
			m.Sender != filter.Agent && m.Recipient != filter.Agent && m.Recipient != RecipientAll {
			continue
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// rowScanner covers *sql.Row and *sql.Rows.
type rowScanner interface{ Scan(dest ...any) error }

func scanMessage(r rowScanner) (Message, error) {
	var m Message
	var kind, meta, created string
	if err := r.Scan(&m.Room, &m.ID, &kind, &m.Sender, &m.Recipient, &m.Body, &meta, &created); err != nil {
		return Message{}, fmt.Errorf("scan message: %w", err)
	}
	m.Kind = Kind(kind)
	m.CreatedAt, _ = time.Parse(time.RFC3339, created)
	if meta != "" && meta != "{}" {
		json.Unmarshal([]byte(meta), &m.Meta)
	}
	return m, nil
}

// ─── Inbox ───

// Inbox returns an agent's mailbox entries joined with their messages,
// oldest first. With unreadOnly, read entries are skipped. With markRead,
// every returned entry is flipped to read in one transaction; flipping an
// already-read entry is a no-op.
func (s *Store) Inbox(agent string, unreadOnly, markRead bool) ([]MailboxEntry, error) {
	query := `
		SELECT mb.room, mb.seq, mb.recipient, mb.state, mb.created_at,
		       m.kind, m.sender, m.recipient, m.body, m.meta, m.created_at
		FROM mailbox mb
		JOIN messages m ON m.room = mb.room AND m.seq = mb.seq
		WHERE mb.recipient = ?`
	if unreadOnly {
		query += ` AND mb.state = 'unread'`
	}
	query += ` ORDER BY mb.room ASC, mb.seq ASC`

	rows, err := s.db.Query(query, agent)
	if err != nil {
		return nil, fmt.Errorf("inbox for %q: %w", agent, err)
	}
	defer rows.Close()

	var entries []MailboxEntry
	for rows.Next() {
		var e MailboxEntry
		var state, entryCreated, kind, meta, msgCreated string
		if err := rows.Scan(
			&e.Room, &e.MessageID, &e.Recipient, &state, &entryCreated,
			&kind, &e.Message.Sender, &e.Message.Recipient, &e.Message.Body, &meta, &msgCreated,
		); err != nil {
			return nil, fmt.Errorf("scan inbox entry: %w", err)
		}
		e.State = ReadState(state)
		e.CreatedAt, _ = time.Parse(time.RFC3339, entryCreated)
		e.Message.Room = e.Room
		e.Message.ID = e.MessageID
		e.Message.Kind = Kind(kind)
		e.Message.CreatedAt, _ = time.Parse(time.RFC3339, msgCreated)
		if meta != "" && meta != "{}" {
			json.Unmarshal([]byte(meta), &e.Message.Meta)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate inbox: %w", err)
	}

	if markRead && len(entries) > 0 {
		if err := s.markEntriesRead(agent, entries); err != nil {
			return nil, err
		}
		for i := range entries {
			entries[i].State = StateRead
		}
		s.mirrorInbox(agent)
	}

	return entries, nil
}

// MarkRead flips one mailbox entry to read. Idempotent: marking a read
// entry again succeeds without effect.
func (s *Store) MarkRead(agent, room string, messageID int64) error {
	_, err := s.db.Exec(`
		UPDATE mailbox SET state = 'read'
		WHERE recipient = ? AND room = ? AND seq = ?`, agent, room, messageID)
	if err != nil {
		return fmt.Errorf("mark read: %w", err)
	}
	s.mirrorInbox(agent)
	return nil
}

func (s *Store) markEntriesRead(agent string, entries []MailboxEntry) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin mark-read: %w", err)
	}
	defer tx.Rollback()
	for _, e := range entries {
		if _, err := tx.Exec(`
			UPDATE mailbox SET state = 'read'
			WHERE recipient = ? AND room = ? AND seq = ?`, agent, e.Room, e.MessageID); err != nil {
			return fmt.Errorf("mark read %s/%d: %w", e.Room, e.MessageID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit mark-read: %w", err)
	}
	return nil
}

// UnreadCount returns the number of unread mailbox entries for an agent.
func (s *Store) UnreadCount(agent string) (int, error) {
	var n int
	err := s.db.QueryRow(`
		SELECT COUNT(*) FROM mailbox WHERE recipient = ? AND state = 'unread'`, agent).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("unread count: %w", err)
	}
	return n, nil
}

// ─── Status ───

// Status aggregates per-kind and per-sender counts plus unread depth per
// member for diagnostics.
func (s *Store) Status(room string) (*RoomStatus, error) {
	members, err := s.Members(room)
	if err != nil {
		return nil, err
	}

	st := &RoomStatus{
		Room:     room,
		ByKind:   make(map[Kind]int),
		BySender: make(map[string]int),
		Unread:   make(map[string]int),
		Members:  members,
	}

	rows, err := s.db.Query(`
		SELECT kind, sender, COUNT(*) FROM messages WHERE room = ? GROUP BY kind, sender`, room)
	if err != nil {
		return nil, fmt.Errorf("status counts: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var kind, sender string
		var n int
		if err := rows.Scan(&kind, &sender, &n); err != nil {
			return nil, fmt.Errorf("scan status row: %w", err)
		}
		st.ByKind[Kind(kind)] += n
		st.BySender[sender] += n
		st.Total += n
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, m := range members {
		n, err := s.UnreadCount(m.Agent)
		if err != nil {
			return nil, err
		}
		st.Unread[m.Agent] = n
	}
	return st, nil
}
