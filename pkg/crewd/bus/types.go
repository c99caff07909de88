// Package bus implements the durable, ordered message log that all crewd
// agents communicate through. One sqlite database per session holds the
// per-room message log, the per-recipient mailbox projection, and the
// control request records. Agents never share memory; every cross-agent
// interaction is a row in this store.
package bus

import "time"

// Kind classifies a message. The set mirrors what agents actually exchange:
// work dispatch, Q&A, status/pulse traffic, and control request/response
// pairs made visible in room history.
type Kind string

const (
	KindTask      Kind = "task"
	KindQuestion  Kind = "question"
	KindAnswer    Kind = "answer"
	KindStatus    Kind = "status"
	KindBlocker   Kind = "blocker"
	KindSystem    Kind = "system"
	KindMessage   Kind = "message"
	KindBroadcast Kind = "broadcast"

	KindPlanApprovalRequest  Kind = "plan_approval_request"
	KindPlanApprovalResponse Kind = "plan_approval_response"
	KindShutdownRequest      Kind = "shutdown_request"
	KindShutdownResponse     Kind = "shutdown_response"
	KindShutdownApproved     Kind = "shutdown_approved"
	KindShutdownRejected     Kind = "shutdown_rejected"
	KindPermissionRequest    Kind = "permission_request"
	KindPermissionResponse   Kind = "permission_response"
	KindModeSetRequest       Kind = "mode_set_request"
	KindModeSetResponse      Kind = "mode_set_response"
)

// RecipientAll is the broadcast target. It is expanded into concrete
// mailbox rows at send time; no mailbox row ever carries it.
const RecipientAll = "all"

// Message is one immutable row in a room's log. ID is strictly increasing
// within the room.
type Message struct {
	ID        int64             `json:"id"`
	Room      string            `json:"room"`
	Kind      Kind              `json:"kind"`
	Sender    string            `json:"sender"`
	Recipient string            `json:"recipient"`
	Body      string            `json:"body"`
	Meta      map[string]string `json:"meta,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}

// ReadState is the mailbox entry state. Entries flip unread→read exactly
// once and are never deleted.
type ReadState string

const (
	StateUnread ReadState = "unread"
	StateRead   ReadState = "read"
)

// MailboxEntry is one recipient's view of one message.
type MailboxEntry struct {
	Room      string    `json:"room"`
	MessageID int64     `json:"message_id"`
	Recipient string    `json:"recipient"`
	State     ReadState `json:"state"`
	CreatedAt time.Time `json:"created_at"`
	// Message is the joined log row, populated by Inbox.
	Message Message `json:"message"`
}

// Member is a registered room participant.
type Member struct {
	Room     string    `json:"room"`
	Agent    string    `json:"agent"`
	Role     string    `json:"role"`
	Active   bool      `json:"active"`
	JoinedAt time.Time `json:"joined_at"`
}

// RoomStatus aggregates message counts for diagnostics.
type RoomStatus struct {
	Room     string         `json:"room"`
	Total    int            `json:"total"`
	ByKind   map[Kind]int   `json:"by_kind"`
	BySender map[string]int `json:"by_sender"`
	Unread   map[string]int `json:"unread"`
	Members  []Member       `json:"members"`
}
