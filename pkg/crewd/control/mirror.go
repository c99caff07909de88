package control

import (
	"encoding/json"
	"os"
	"time"

	"github.com/dmarchetti/crewd/pkg/crewd/bus"
)

// mirrorDocument is the control.json schema: every request of the session,
// pending and resolved, in creation order.
type mirrorDocument struct {
	UpdatedAt  time.Time   `json:"updated_at"`
	Requests   []*Request  `json:"requests"`
	Dispatches []*Dispatch `json:"dispatches,omitempty"`
}

// syncMirror rebuilds control.json from the sqlite table, merging in any
// mirror-only entries from degraded writes. sqlite rows win on conflicting
// ids (last-writer-wins reconciliation). Failures are warned, not returned:
// the authoritative store already holds the truth.
func (p *Protocol) syncMirror() {
	if p.mirrorPath == "" {
		return
	}

	rows, err := p.db.Query(`
		SELECT id, room, type, sender, recipient, body, summary, status, created_at, resolved_at
		FROM control_requests ORDER BY created_at ASC, id ASC`)
	if err != nil {
		p.logger.Warn("control mirror sync read failed", "error", err)
		return
	}
	defer rows.Close()

	var reqs []*Request
	seen := make(map[string]bool)
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			p.logger.Warn("control mirror sync scan failed", "error", err)
			return
		}
		reqs = append(reqs, req)
		seen[req.ID] = true
	}

	// Preserve degraded mirror-only entries that never reached sqlite.
	for _, req := range p.loadMirror().Requests {
		if !seen[req.ID] {
			reqs = append(reqs, req)
		}
	}

	p.writeMirror(reqs)
}

// mirrorUpsert records a request in the mirror alone (degraded path).
func (p *Protocol) mirrorUpsert(req *Request) error {
	if p.mirrorPath == "" {
		return nil
	}
	doc := p.loadMirror()
	replaced := false
	for i, existing := range doc.Requests {
		if existing.ID == req.ID {
			doc.Requests[i] = req
			replaced = true
			break
		}
	}
	if !replaced {
		doc.Requests = append(doc.Requests, req)
	}
	doc.UpdatedAt = time.Now().UTC()
	return bus.WriteJSONAtomic(p.mirrorPath, doc)
}

// mirrorGet looks a request up in the mirror document.
func (p *Protocol) mirrorGet(id string) *Request {
	for _, req := range p.loadMirror().Requests {
		if req.ID == id {
			return req
		}
	}
	return nil
}

func (p *Protocol) loadMirror() mirrorDocument {
	var doc mirrorDocument
	if p.mirrorPath == "" {
		return doc
	}
	data, err := os.ReadFile(p.mirrorPath)
	if err != nil {
		return doc
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		p.logger.Warn("control mirror unreadable, treating as empty", "error", err)
	}
	return doc
}

func (p *Protocol) writeMirror(reqs []*Request) {
	doc := mirrorDocument{
		UpdatedAt:  time.Now().UTC(),
		Requests:   reqs,
		Dispatches: p.loadMirror().Dispatches,
	}
	if err := bus.WriteJSONAtomic(p.mirrorPath, doc); err != nil {
		p.logger.Warn("control mirror write failed", "error", err)
	}
}

// appendDispatch adds a dispatch ledger entry to the control document.
func (p *Protocol) appendDispatch(d *Dispatch) error {
	if p.mirrorPath == "" {
		return nil
	}
	doc := p.loadMirror()
	doc.Dispatches = append(doc.Dispatches, d)
	doc.UpdatedAt = time.Now().UTC()
	return bus.WriteJSONAtomic(p.mirrorPath, doc)
}
