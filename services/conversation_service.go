package services

import (
	"atme/contract"
	"atme/domain"
	"atme/errors"
	"atme/observability"
	"atme/repositories"
	"atme/session"
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
)

type IConversationService interface {
	StartConversation(ctx context.Context, self domain.Identity, other domain.ParticipantID) (domain.ConversationID, error)
	Conversations(ctx context.Context, self domain.Identity) ([]domain.ConversationID, error)
	OpenSession(ctx context.Context, conversationID domain.ConversationID, self domain.Identity, sink contract.MessageSink) (*session.Session, error)
}

type ConversationService struct {
	log            *slog.Logger
	metrics        *observability.Metrics
	userRepository repositories.IUserRepository
	rosters        contract.IRosterManager
	messageLog     contract.IMessageLog
	store          contract.IConversationStore
	notifier       contract.INotifier
	attachments    contract.IAttachmentStore
	filter         contract.ITextFilter
	windowSize     int
}

func NewConversationService(log *slog.Logger, userRepository repositories.IUserRepository, rosters contract.IRosterManager,
	messageLog contract.IMessageLog, store contract.IConversationStore, notifier contract.INotifier,
	metrics *observability.Metrics) *ConversationService {
	return &ConversationService{
		log:            log,
		metrics:        metrics,
		userRepository: userRepository,
		rosters:        rosters,
		messageLog:     messageLog,
		store:          store,
		notifier:       notifier,
		windowSize:     session.DefaultWindowSize,
	}
}

func (s *ConversationService) WithWindowSize(windowSize int) *ConversationService {
	s.windowSize = windowSize
	return s
}

func (s *ConversationService) WithAttachments(store contract.IAttachmentStore) *ConversationService {
	s.attachments = store
	return s
}

// WithFilter applies filter to the text of every message sent through
// sessions opened afterwards.
func (s *ConversationService) WithFilter(filter contract.ITextFilter) *ConversationService {
	s.filter = filter
	return s
}

// StartConversation creates a conversation between self and other, both
// joining with their current device token. When other can not join, self
// leaves again.
func (s *ConversationService) StartConversation(ctx context.Context, self domain.Identity, other domain.ParticipantID) (domain.ConversationID, error) {
	if !self.Authenticated() {
		return "", errors.ErrUnauthenticated
	}
	if other == "" || other == self.ID {
		return "", fmt.Errorf("%w: can not start a conversation with %q", errors.ErrInvalidConversation, other)
	}
	user, err := s.userRepository.GetUser(string(other))
	if err != nil {
		return "", err
	}

	conversationID := domain.ConversationID(uuid.NewString())
	if err = s.rosters.Join(ctx, conversationID, self.ID, self.NotificationToken); err != nil {
		return "", err
	}
	if err = s.rosters.Join(ctx, conversationID, other, user.NotificationToken); err != nil {
		// A conversation with a single member is never listed as started
		if leaveErr := s.rosters.Leave(ctx, conversationID, self.ID); leaveErr != nil {
			s.log.Error("Conversation left half started", "conversation", conversationID, "error", leaveErr)
		}
		return "", err
	}
	s.log.Info("Conversation started", "conversation", conversationID, "with", user.Username)
	return conversationID, nil
}

func (s *ConversationService) Conversations(ctx context.Context, self domain.Identity) ([]domain.ConversationID, error) {
	if !self.Authenticated() {
		return nil, errors.ErrUnauthenticated
	}
	return s.rosters.Conversations(ctx, self.ID)
}

// OpenSession opens a session on conversationID rendering into sink.
// The caller owns the session and must close it.
func (s *ConversationService) OpenSession(ctx context.Context, conversationID domain.ConversationID, self domain.Identity,
	sink contract.MessageSink) (*session.Session, error) {
	conversation := session.NewSession(s.log, s.messageLog, s.store, s.notifier, s.metrics).
		WithWindowSize(s.windowSize)
	if s.attachments != nil {
		conversation.WithAttachments(s.attachments)
	}
	if s.filter != nil {
		conversation.WithFilter(s.filter)
	}
	if sink != nil {
		conversation.WithSink(sink)
	}
	if err := conversation.Open(ctx, conversationID, self); err != nil {
		return nil, err
	}
	return conversation, nil
}
