// Package projection builds local timelines from delivered messages.
// Handles ordering, deduplication, and projections.
// Does not subscribe to anything or render directly.
package projection

import (
	"atme/domain"
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"
)

// Timeline holds the local, ordered view of one conversation.
// Messages are kept in delivery order, which is the log order.
type Timeline struct {
	mu       sync.RWMutex
	Owner    domain.ParticipantID
	messages []domain.Message
	ids      map[uuid.UUID]struct{}
}

func NewTimeline(owner domain.ParticipantID) *Timeline {
	return &Timeline{
		Owner: owner,
		ids:   make(map[uuid.UUID]struct{}),
	}
}

// Add appends message unless it was already seen. It reports whether the
// view changed.
func (t *Timeline) Add(message domain.Message) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.ids[message.ID]; ok {
		return false
	}
	t.ids[message.ID] = struct{}{}
	t.messages = append(t.messages, message)
	return true
}

// Consume lets a timeline be used as a MessageSink.
func (t *Timeline) Consume(_ context.Context, message domain.Message) error {
	t.Add(message)
	return nil
}

// Messages returns a copy of the view.
func (t *Timeline) Messages() []domain.Message {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return append([]domain.Message(nil), t.messages...)
}

func (t *Timeline) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.messages)
}

// Last returns the most recent message, if any.
func (t *Timeline) Last() (domain.Message, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if len(t.messages) == 0 {
		return domain.Message{}, false
	}
	return t.messages[len(t.messages)-1], true
}

// UnreadAfter counts messages from other participants newer than seen.
func (t *Timeline) UnreadAfter(seen time.Time) int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return lo.CountBy(t.messages, func(message domain.Message) bool {
		return message.Sender != t.Owner && message.Timestamp.After(seen)
	})
}
