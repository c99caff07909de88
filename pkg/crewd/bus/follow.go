package bus

import (
	"context"
	"time"

	"github.com/dmarchetti/crewd/pkg/crewd/poll"
)

// Follow tails a room and keeps polling for new rows, invoking fn for each
// message in id order. fn returning false stops the follow. The cursor
// advances past every delivered message, so a message is never delivered
// twice and none is skipped.
func (s *Store) Follow(ctx context.Context, clock poll.Clock, interval time.Duration, room string, sinceID int64, filter TailFilter, fn func(Message) bool) error {
	cursor := sinceID
	var pollErr error
	err := poll.Loop(ctx, clock, interval, func(context.Context) bool {
		// Fetch unfiltered so the cursor advances past rows the filter
		// drops; otherwise a trailing filtered-out row would be re-read
		// on every poll.
		msgs, err := s.Tail(room, cursor, TailFilter{})
		if err != nil {
			pollErr = err
			return false
		}
		for _, m := range msgs {
			cursor = m.ID + 1
			if filter.Agent != "" &&
				m.Sender != filter.Agent && m.Recipient != filter.Agent && m.Recipient != RecipientAll {
				continue
			}
			if !fn(m) {
				return false
			}
		}
		return true
	})
	if pollErr != nil {
		return pollErr
	}
	if err == context.Canceled {
		return nil
	}
	return err
}
