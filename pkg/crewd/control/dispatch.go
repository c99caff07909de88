package control

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/dmarchetti/crewd/pkg/crewd/bus"
)

// Dispatch is a recorded task handoff from the lead to a worker. Unlike a
// Request it needs no resolution; the ledger exists so status and console
// views can show what each worker was handed alongside pending requests.
type Dispatch struct {
	TaskID    string    `json:"task_id"`
	Room      string    `json:"room"`
	Sender    string    `json:"sender"`
	Recipient string    `json:"recipient"`
	Summary   string    `json:"summary"`
	CreatedAt time.Time `json:"created_at"`
}

// Dispatch hands a task prompt to recipient: it appends a ledger entry to
// the control document and delivers the prompt to the recipient's mailbox
// as a kind=task bus message carrying the task id. Returns the task id.
func (p *Protocol) Dispatch(room, sender, recipient, prompt, summary string) (string, error) {
	if room == "" || sender == "" || recipient == "" {
		return "", fmt.Errorf("dispatch: room, sender and recipient are required")
	}
	if prompt == "" {
		return "", fmt.Errorf("dispatch: empty prompt")
	}

	d := &Dispatch{
		TaskID:    "task-" + uuid.New().String()[:8],
		Room:      room,
		Sender:    sender,
		Recipient: recipient,
		Summary:   summary,
		CreatedAt: time.Now().UTC(),
	}

	if _, err := p.store.Send(bus.SendRequest{
		Room:      room,
		Sender:    sender,
		Recipient: recipient,
		Kind:      bus.KindTask,
		Body:      prompt,
		Meta:      map[string]string{"task_id": d.TaskID, "summary": summary},
	}); err != nil {
		return "", fmt.Errorf("dispatch to %s: %w", recipient, err)
	}

	// Ledger entry is best-effort: the mailbox row above already carries
	// the handoff.
	if err := p.appendDispatch(d); err != nil {
		p.logger.Warn("dispatch ledger write failed", "task", d.TaskID, "error", err)
	}

	p.logger.Info("task dispatched",
		"task", d.TaskID, "from", sender, "to", recipient, "summary", summary)
	return d.TaskID, nil
}

// Dispatches returns the session's dispatch ledger in creation order.
func (p *Protocol) Dispatches() []*Dispatch {
	return p.loadMirror().Dispatches
}
