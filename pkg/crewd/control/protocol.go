// Package control – protocol.go implements request creation and exactly-once
// resolution over the session store, with a filesystem mirror kept in sync.
//
// Persistence policy: the sqlite control_requests table is authoritative.
// The control.json mirror is rebuilt from it after every successful
// mutation (last-writer-wins reconciliation). When sqlite is unreachable
// the write degrades to the mirror alone with a warning; when the mirror
// write fails the sqlite row alone carries the request. A write is only an
// error when both stores fail.
package control

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mattn/go-sqlite3"

	"github.com/dmarchetti/crewd/pkg/crewd/bus"
	"github.com/dmarchetti/crewd/pkg/crewd/poll"
)

// ShutdownFunc applies an approved shutdown to the named agent. It runs
// only after the approval is durably recorded.
type ShutdownFunc func(agent string) error

// Protocol coordinates control requests for one session.
type Protocol struct {
	store      *bus.Store
	db         *sql.DB
	mirrorPath string
	logger     *slog.Logger

	// onShutdown is invoked when a shutdown request is approved.
	onShutdown ShutdownFunc
}

// New creates a Protocol over the session store. mirrorPath is the
// control.json document; empty disables mirroring.
func New(store *bus.Store, mirrorPath string, logger *slog.Logger) *Protocol {
	if logger == nil {
		logger = slog.Default()
	}
	return &Protocol{
		store:      store,
		db:         store.DB(),
		mirrorPath: mirrorPath,
		logger:     logger.With("component", "control"),
	}
}

// SetShutdownFunc registers the supervisor hook for approved shutdowns.
func (p *Protocol) SetShutdownFunc(fn ShutdownFunc) { p.onShutdown = fn }

// Request creates a pending control request and emits the matching
// `<type>_request` bus message so the exchange is visible in room history.
// When id is empty a new one is generated; caller-supplied ids must be
// unique within the session.
func (p *Protocol) Request(room string, typ Type, sender, recipient, body, summary, id string) (string, error) {
	if !ValidType(typ) {
		return "", fmt.Errorf("invalid control request type %q", typ)
	}
	if room == "" || sender == "" || recipient == "" {
		return "", fmt.Errorf("control request: room, sender and recipient are required")
	}
	if id == "" {
		id = "req-" + uuid.New().String()[:8]
	}

	req := &Request{
		ID:        id,
		Room:      room,
		Type:      typ,
		Sender:    sender,
		Recipient: recipient,
		Body:      body,
		Summary:   summary,
		Status:    StatusPending,
		CreatedAt: time.Now().UTC(),
	}

	_, err := p.db.Exec(`
		INSERT INTO control_requests (id, room, type, sender, recipient, body, summary, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, 'pending', ?)`,
		req.ID, req.Room, string(req.Type), req.Sender, req.Recipient,
		req.Body, req.Summary, req.CreatedAt.Format(time.RFC3339),
	)
	switch {
	case err == nil:
		p.syncMirror()
	case isUniqueViolation(err):
		return "", fmt.Errorf("request %q: %w", id, ErrDuplicate)
	default:
		// Degrade to mirror-only persistence rather than dropping the write.
		p.logger.Warn("control store write failed, degrading to mirror", "request", id, "error", err)
		if mErr := p.mirrorUpsert(req); mErr != nil {
			return "", fmt.Errorf("both control stores failed: %v; mirror: %w", err, mErr)
		}
	}

	// History message. Failure here doesn't unwind the request; the
	// record is already durable.
	if _, err := p.store.Send(bus.SendRequest{
		Room:      room,
		Sender:    sender,
		Recipient: recipient,
		Kind:      bus.Kind(string(typ) + "_request"),
		Body:      body,
		Meta:      map[string]string{"request_id": id, "summary": summary},
	}); err != nil {
		p.logger.Warn("control request history message failed", "request", id, "error", err)
	}

	p.logger.Info("control request created",
		"request", id, "type", typ, "from", sender, "to", recipient)
	return id, nil
}

// Respond resolves a pending request exactly once. Responding to an
// unknown id fails with ErrNotFound; responding to an already-resolved
// request fails with ErrNotPending and leaves the original resolution
// untouched. On approval of a shutdown request the registered shutdown
// hook runs after the transition is committed.
func (p *Protocol) Respond(id, responder string, decision Decision, body string) error {
	status := StatusApproved
	if decision == DecisionReject {
		status = StatusRejected
	} else if decision != DecisionApprove {
		return fmt.Errorf("invalid decision %q (want approve or reject)", decision)
	}

	req, err := p.Get(id)
	if err != nil {
		return err
	}
	if !req.Pending() {
		return fmt.Errorf("request %q already %s: %w", id, req.Status, ErrNotPending)
	}

	now := time.Now().UTC()
	resolved := false
	res, err := p.db.Exec(`
		UPDATE control_requests SET status = ?, resolved_at = ?
		WHERE id = ? AND status = 'pending'`,
		string(status), now.Format(time.RFC3339), id,
	)
	switch {
	case err != nil:
		p.logger.Warn("control store resolve failed, degrading to mirror", "request", id, "error", err)
	default:
		n, _ := res.RowsAffected()
		if n > 0 {
			resolved = true
			p.syncMirror()
			break
		}
		// Zero rows updated: either a concurrent responder won the race,
		// or the request was degraded-written and lives only in the mirror.
		var one int
		if scanErr := p.db.QueryRow(`SELECT 1 FROM control_requests WHERE id = ?`, id).Scan(&one); scanErr == nil {
			return fmt.Errorf("request %q already resolved: %w", id, ErrNotPending)
		}
	}
	if !resolved {
		req.Status = status
		req.ResolvedAt = &now
		if mErr := p.mirrorUpsert(req); mErr != nil {
			return fmt.Errorf("resolve request %q: both control stores failed: %w", id, mErr)
		}
	}

	// Response history message.
	respKind := bus.Kind(string(req.Type) + "_response")
	if _, err := p.store.Send(bus.SendRequest{
		Room:      req.Room,
		Sender:    responder,
		Recipient: req.Sender,
		Kind:      respKind,
		Body:      body,
		Meta: map[string]string{
			"request_id": id,
			"decision":   string(decision),
		},
	}); err != nil {
		p.logger.Warn("control response history message failed", "request", id, "error", err)
	}

	p.logger.Info("control request resolved",
		"request", id, "type", req.Type, "status", status, "by", responder)

	if req.Type == TypeShutdown && status == StatusApproved && p.onShutdown != nil {
		// The shutdown target is the request recipient unless the body
		// names another agent via meta; keep it simple: recipient.
		if err := p.onShutdown(req.Recipient); err != nil {
			p.logger.Warn("apply shutdown failed", "agent", req.Recipient, "error", err)
		}
	}
	return nil
}

// Get loads one request by id.
func (p *Protocol) Get(id string) (*Request, error) {
	row := p.db.QueryRow(`
		SELECT id, room, type, sender, recipient, body, summary, status, created_at, resolved_at
		FROM control_requests WHERE id = ?`, id)
	req, err := scanRequest(row)
	if errors.Is(err, sql.ErrNoRows) {
		// Degraded-write case: the request may only exist in the mirror.
		if m := p.mirrorGet(id); m != nil {
			return m, nil
		}
		return nil, fmt.Errorf("request %q: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get request %q: %w", id, err)
	}
	return req, nil
}

// Pending lists unresolved requests addressed to or initiated by agent.
// An empty agent lists every pending request.
func (p *Protocol) Pending(agent string) ([]*Request, error) {
	query := `
		SELECT id, room, type, sender, recipient, body, summary, status, created_at, resolved_at
		FROM control_requests WHERE status = 'pending'`
	args := []any{}
	if agent != "" {
		query += ` AND (sender = ? OR recipient = ?)`
		args = append(args, agent, agent)
	}
	query += ` ORDER BY created_at ASC, id ASC`

	rows, err := p.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list pending requests: %w", err)
	}
	defer rows.Close()

	var out []*Request
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, fmt.Errorf("scan pending request: %w", err)
		}
		out = append(out, req)
	}
	return out, rows.Err()
}

// Await blocks until the request leaves pending, polling at the given
// cadence. The caller bounds the wait through ctx; the protocol itself
// never times a request out.
func (p *Protocol) Await(ctx context.Context, clock poll.Clock, interval time.Duration, id string) (*Request, error) {
	var result *Request
	var pollErr error
	err := poll.Loop(ctx, clock, interval, func(context.Context) bool {
		req, err := p.Get(id)
		if err != nil {
			pollErr = err
			return false
		}
		if !req.Pending() {
			result = req
			return false
		}
		return true
	})
	if pollErr != nil {
		return nil, pollErr
	}
	if err != nil {
		return nil, fmt.Errorf("await request %q: %w", id, err)
	}
	return result, nil
}

type rowScanner interface{ Scan(dest ...any) error }

func scanRequest(r rowScanner) (*Request, error) {
	var req Request
	var typ, status, created string
	var resolved sql.NullString
	if err := r.Scan(
		&req.ID, &req.Room, &typ, &req.Sender, &req.Recipient,
		&req.Body, &req.Summary, &status, &created, &resolved,
	); err != nil {
		return nil, err
	}
	req.Type = Type(typ)
	req.Status = Status(status)
	req.CreatedAt, _ = time.Parse(time.RFC3339, created)
	if resolved.Valid {
		t, _ := time.Parse(time.RFC3339, resolved.String)
		req.ResolvedAt = &t
	}
	return &req, nil
}

func isUniqueViolation(err error) bool {
	var serr sqlite3.Error
	if errors.As(err, &serr) {
		return serr.Code == sqlite3.ErrConstraint
	}
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
