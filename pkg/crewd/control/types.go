// Package control implements the request/response protocol layered on the
// bus: approval-style interactions (plan approval, shutdown, permission,
// mode change) correlated by an opaque request id, resolved exactly once.
package control

import (
	"errors"
	"time"
)

// Type is the control request kind.
type Type string

const (
	TypePlanApproval Type = "plan_approval"
	TypeShutdown     Type = "shutdown"
	TypePermission   Type = "permission"
	TypeModeSet      Type = "mode_set"
)

// ValidType reports whether t is a known request type.
func ValidType(t Type) bool {
	switch t {
	case TypePlanApproval, TypeShutdown, TypePermission, TypeModeSet:
		return true
	}
	return false
}

// Status is the request lifecycle state. Exactly one transition happens:
// pending→approved or pending→rejected. Nothing else.
type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
)

// Decision is a responder's verdict.
type Decision string

const (
	DecisionApprove Decision = "approve"
	DecisionReject  Decision = "reject"
)

// Request is one control exchange.
type Request struct {
	ID         string     `json:"id"`
	Room       string     `json:"room"`
	Type       Type       `json:"type"`
	Sender     string     `json:"sender"`
	Recipient  string     `json:"recipient"`
	Body       string     `json:"body"`
	Summary    string     `json:"summary"`
	Status     Status     `json:"status"`
	CreatedAt  time.Time  `json:"created_at"`
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`
}

// Pending reports whether the request is still unresolved.
func (r *Request) Pending() bool { return r.Status == StatusPending }

// Sentinel errors for errors.Is checks.
var (
	ErrNotFound   = errors.New("control request not found")
	ErrNotPending = errors.New("control request is not pending")
	ErrDuplicate  = errors.New("control request id already exists")
)
