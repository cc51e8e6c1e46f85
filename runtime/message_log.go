// Package runtime holds the live parts of the conversation core: the message
// log with its subscriptions and the conversation store with its roster feeds.
package runtime

import (
	"atme/contract"
	"atme/domain"
	"atme/errors"
	"atme/observability"
	"atme/repositories"
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"
)

// conversationTail serializes appends of one conversation with the
// registration of its subscribers, so a subscriber sees every record exactly
// once: either in its backlog or as a live item, never both.
type conversationTail struct {
	mu     sync.Mutex
	loaded bool
	lastAt time.Time
	feeds  subscribers[domain.Message]
}

type MessageLog struct {
	mu         sync.Mutex
	log        *slog.Logger
	metrics    *observability.Metrics
	repository repositories.IMessageRepository
	clock      func() time.Time
	tails      map[domain.ConversationID]*conversationTail
}

func NewMessageLog(log *slog.Logger, repository repositories.IMessageRepository, metrics *observability.Metrics) *MessageLog {
	return &MessageLog{
		log:        log,
		metrics:    metrics,
		repository: repository,
		clock:      time.Now,
		tails:      make(map[domain.ConversationID]*conversationTail),
	}
}

// WithClock replaces the time source used for append timestamps.
func (l *MessageLog) WithClock(clock func() time.Time) *MessageLog {
	l.clock = clock
	return l
}

// Append validates and persists a message. The log assigns the id and a
// timestamp that never goes below the previous record of the conversation.
func (l *MessageLog) Append(_ context.Context, conversationID domain.ConversationID, message domain.Message) (domain.Message, error) {
	if err := conversationID.Validate(); err != nil {
		return domain.Message{}, err
	}
	if message.Sender == "" {
		return domain.Message{}, fmt.Errorf("%w: missing sender", errors.ErrInvalidMessage)
	}
	if err := message.Content().Validate(); err != nil {
		return domain.Message{}, err
	}

	tail := l.tail(conversationID)
	tail.mu.Lock()
	defer tail.mu.Unlock()

	if err := l.loadTail(conversationID, tail); err != nil {
		l.metrics.IncWriteFailure()
		return domain.Message{}, fmt.Errorf("%w: %v", errors.ErrWriteFailure, err)
	}
	at := l.clock().UTC().Truncate(time.Millisecond)
	if at.Before(tail.lastAt) {
		at = tail.lastAt
	}
	stored, err := l.repository.StoreMessage(repositories.DiskMessage{
		ID:            uuid.New(),
		Conversation:  string(conversationID),
		Sender:        string(message.Sender),
		Text:          message.Text,
		AttachmentRef: message.AttachmentRef,
		At:            at,
	})
	if err != nil {
		l.metrics.IncWriteFailure()
		l.log.Warn("Append rejected", "conversation", conversationID, "error", err)
		return domain.Message{}, fmt.Errorf("%w: %v", errors.ErrWriteFailure, err)
	}
	tail.lastAt = at
	l.metrics.IncAppended()

	appended := toMessage(stored)
	tail.feeds.publish(appended)
	return appended, nil
}

// Subscribe returns a feed that first yields up to windowSize most recent
// messages in ascending order, then every message appended afterwards.
func (l *MessageLog) Subscribe(_ context.Context, conversationID domain.ConversationID, windowSize int) (contract.Feed[domain.Message], error) {
	if err := conversationID.Validate(); err != nil {
		return nil, err
	}
	tail := l.tail(conversationID)
	tail.mu.Lock()
	defer tail.mu.Unlock()

	backlog, err := l.repository.GetMessages(string(conversationID), windowSize)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errors.ErrStoreUnavailable, err)
	}
	var feed *Feed[domain.Message]
	feed = NewFeed(lo.Map(backlog, toMessageItem), func() {
		tail.mu.Lock()
		defer tail.mu.Unlock()
		delete(tail.feeds, feed)
	})
	tail.feeds[feed] = struct{}{}
	l.log.Debug("Subscribed to conversation", "conversation", conversationID,
		"window", windowSize, "backlog", len(backlog))
	return feed, nil
}

// Recent returns up to limit most recent messages in ascending order,
// without subscribing.
func (l *MessageLog) Recent(_ context.Context, conversationID domain.ConversationID, limit int) ([]domain.Message, error) {
	if err := conversationID.Validate(); err != nil {
		return nil, err
	}
	messages, err := l.repository.GetMessages(string(conversationID), limit)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errors.ErrStoreUnavailable, err)
	}
	return lo.Map(messages, toMessageItem), nil
}

func (l *MessageLog) tail(conversationID domain.ConversationID) *conversationTail {
	l.mu.Lock()
	defer l.mu.Unlock()
	tail, ok := l.tails[conversationID]
	if !ok {
		tail = &conversationTail{feeds: make(subscribers[domain.Message])}
		l.tails[conversationID] = tail
	}
	return tail
}

// loadTail reads the timestamp of the latest stored record once, so the
// monotonic timestamp holds across restarts. Caller holds tail.mu.
func (l *MessageLog) loadTail(conversationID domain.ConversationID, tail *conversationTail) error {
	if tail.loaded {
		return nil
	}
	last, err := l.repository.GetMessages(string(conversationID), 1)
	if err != nil {
		return err
	}
	if len(last) > 0 {
		tail.lastAt = last[0].At
	}
	tail.loaded = true
	return nil
}

func toMessageItem(item repositories.DiskMessage, _ int) domain.Message {
	return toMessage(item)
}

func toMessage(item repositories.DiskMessage) domain.Message {
	return domain.Message{
		ID:            item.ID,
		Conversation:  domain.ConversationID(item.Conversation),
		Sender:        domain.ParticipantID(item.Sender),
		Text:          item.Text,
		AttachmentRef: item.AttachmentRef,
		Timestamp:     item.At,
	}
}
