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

	"github.com/samber/lo"
)

type rosterTopic struct {
	mu    sync.Mutex
	feeds subscribers[domain.RosterEntry]
}

// ConversationStore serves membership, last seen markers and live roster feeds.
// Every failure of the backing repository surfaces as ErrStoreUnavailable.
type ConversationStore struct {
	mu           sync.Mutex
	log          *slog.Logger
	metrics      *observability.Metrics
	repository   repositories.IConversationRepository
	topics       map[domain.ConversationID]*rosterTopic
	participants map[domain.ParticipantID]*sync.Mutex
}

func NewConversationStore(log *slog.Logger, repository repositories.IConversationRepository, metrics *observability.Metrics) *ConversationStore {
	return &ConversationStore{
		log:          log,
		metrics:      metrics,
		repository:   repository,
		topics:       make(map[domain.ConversationID]*rosterTopic),
		participants: make(map[domain.ParticipantID]*sync.Mutex),
	}
}

// MarkSeen records that participantID observed the conversation up to at.
// Older timestamps than the stored one are ignored.
func (s *ConversationStore) MarkSeen(_ context.Context, conversationID domain.ConversationID, participantID domain.ParticipantID, at time.Time) error {
	updated, err := s.repository.MarkSeen(conversationID, participantID, at)
	if err != nil {
		return s.unavailable("mark_seen", err)
	}
	if !updated {
		s.log.Debug("Stale last seen ignored", "conversation", conversationID, "participant", participantID)
	}
	return nil
}

func (s *ConversationStore) LastSeen(_ context.Context, conversationID domain.ConversationID, participantID domain.ParticipantID) (time.Time, bool, error) {
	at, found, err := s.repository.LastSeen(conversationID, participantID)
	if err != nil {
		return time.Time{}, false, s.unavailable("last_seen", err)
	}
	return at, found, nil
}

// Roster returns the current participants and a feed of every later change.
// Both are taken under the topic lock, so no change falls between them.
// Readers keep the latest entry per participant.
func (s *ConversationStore) Roster(_ context.Context, conversationID domain.ConversationID) ([]domain.RosterEntry, contract.Feed[domain.RosterEntry], error) {
	if err := conversationID.Validate(); err != nil {
		return nil, nil, err
	}
	topic := s.topic(conversationID)
	topic.mu.Lock()
	defer topic.mu.Unlock()

	current, err := s.repository.Roster(conversationID)
	if err != nil {
		return nil, nil, s.unavailable("roster", err)
	}
	var feed *Feed[domain.RosterEntry]
	feed = NewFeed[domain.RosterEntry](nil, func() {
		topic.mu.Lock()
		defer topic.mu.Unlock()
		delete(topic.feeds, feed)
	})
	topic.feeds[feed] = struct{}{}
	return current, feed, nil
}

// Join adds participantID to the roster with its current device token.
func (s *ConversationStore) Join(_ context.Context, conversationID domain.ConversationID, participantID domain.ParticipantID, token *string) error {
	if err := conversationID.Validate(); err != nil {
		return err
	}
	unlock := s.lockParticipant(participantID)
	defer unlock()
	topic := s.topic(conversationID)
	topic.mu.Lock()
	defer topic.mu.Unlock()
	if err := s.repository.Join(conversationID, participantID, token); err != nil {
		return s.unavailable("join", err)
	}
	topic.feeds.publish(domain.RosterEntry{Participant: participantID, Token: token})
	return nil
}

func (s *ConversationStore) Leave(_ context.Context, conversationID domain.ConversationID, participantID domain.ParticipantID) error {
	if err := conversationID.Validate(); err != nil {
		return err
	}
	unlock := s.lockParticipant(participantID)
	defer unlock()
	topic := s.topic(conversationID)
	topic.mu.Lock()
	defer topic.mu.Unlock()
	if err := s.repository.Leave(conversationID, participantID); err != nil {
		return s.unavailable("leave", err)
	}
	topic.feeds.publish(domain.RosterEntry{Participant: participantID, Left: true})
	return nil
}

// SetToken refreshes the device token of participantID in all its
// conversations. A nil token clears it, which is what sign out does.
// Writes and publications of one participant are serialized, so feeds end on
// the stored token.
func (s *ConversationStore) SetToken(_ context.Context, participantID domain.ParticipantID, token *string) error {
	unlock := s.lockParticipant(participantID)
	defer unlock()
	conversations, err := s.repository.SetToken(participantID, token)
	if err != nil {
		return s.unavailable("set_token", err)
	}
	entry := domain.RosterEntry{Participant: participantID, Token: token}
	for _, conversationID := range conversations {
		topic := s.topic(conversationID)
		topic.mu.Lock()
		topic.feeds.publish(entry)
		topic.mu.Unlock()
	}
	s.log.Debug("Notification token updated", "participant", participantID,
		"conversations", len(conversations), "cleared", token == nil)
	return nil
}

func (s *ConversationStore) ClearToken(ctx context.Context, participantID domain.ParticipantID) error {
	return s.SetToken(ctx, participantID, nil)
}

func (s *ConversationStore) Conversations(_ context.Context, participantID domain.ParticipantID) ([]domain.ConversationID, error) {
	conversations, err := s.repository.Conversations(participantID)
	if err != nil {
		return nil, s.unavailable("conversations", err)
	}
	return conversations, nil
}

// Participants is a one shot read of the roster, without subscribing.
func (s *ConversationStore) Participants(_ context.Context, conversationID domain.ConversationID) ([]domain.ParticipantID, error) {
	roster, err := s.repository.Roster(conversationID)
	if err != nil {
		return nil, s.unavailable("roster", err)
	}
	return lo.Map(roster, func(entry domain.RosterEntry, _ int) domain.ParticipantID {
		return entry.Participant
	}), nil
}

func (s *ConversationStore) topic(conversationID domain.ConversationID) *rosterTopic {
	s.mu.Lock()
	defer s.mu.Unlock()
	topic, ok := s.topics[conversationID]
	if !ok {
		topic = &rosterTopic{feeds: make(subscribers[domain.RosterEntry])}
		s.topics[conversationID] = topic
	}
	return topic
}

// lockParticipant is taken before any topic lock.
func (s *ConversationStore) lockParticipant(participantID domain.ParticipantID) func() {
	s.mu.Lock()
	lock, ok := s.participants[participantID]
	if !ok {
		lock = &sync.Mutex{}
		s.participants[participantID] = lock
	}
	s.mu.Unlock()
	lock.Lock()
	return lock.Unlock
}

func (s *ConversationStore) unavailable(operation string, err error) error {
	s.metrics.IncStoreFailure(operation)
	s.log.Warn("Conversation store failure", "operation", operation, "error", err)
	return fmt.Errorf("%w: %s: %v", errors.ErrStoreUnavailable, operation, err)
}
