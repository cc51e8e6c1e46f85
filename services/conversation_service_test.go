package services

import (
	"atme/domain"
	"atme/errors"
	"atme/mocks"
	"atme/repositories"
	"atme/runtime"
	"atme/session"
	"context"
	"log/slog"
	"testing"

	"github.com/samber/lo"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

var alice = domain.Identity{ID: "u1", Username: "alice", NotificationToken: lo.ToPtr("tokA")}

type conversationFixture struct {
	users      *mocks.MockIUserRepository
	rosters    *mocks.MockIRosterManager
	messageLog *mocks.MockIMessageLog
	store      *mocks.MockIConversationStore
	notifier   *mocks.MockINotifier
	svc        *ConversationService
}

func newConversationFixture(ctrl *gomock.Controller) conversationFixture {
	f := conversationFixture{
		users:      mocks.NewMockIUserRepository(ctrl),
		rosters:    mocks.NewMockIRosterManager(ctrl),
		messageLog: mocks.NewMockIMessageLog(ctrl),
		store:      mocks.NewMockIConversationStore(ctrl),
		notifier:   mocks.NewMockINotifier(ctrl),
	}
	f.svc = NewConversationService(slog.Default(), f.users, f.rosters, f.messageLog, f.store, f.notifier, nil)
	return f
}

func TestConversationService_StartConversation(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()
	f := newConversationFixture(ctrl)
	ctx := context.Background()

	// Given bob with a registered device
	f.users.EXPECT().GetUser("u2").
		Return(repositories.User{ID: "u2", Username: "bob", NotificationToken: lo.ToPtr("tokB")}, nil).Times(1)

	var joined []domain.ConversationID
	f.rosters.EXPECT().Join(gomock.Any(), gomock.Any(), domain.ParticipantID("u1"), lo.ToPtr("tokA")).
		DoAndReturn(func(_ context.Context, conversationID domain.ConversationID, _ domain.ParticipantID, _ *string) error {
			joined = append(joined, conversationID)
			return nil
		}).Times(1)
	f.rosters.EXPECT().Join(gomock.Any(), gomock.Any(), domain.ParticipantID("u2"), lo.ToPtr("tokB")).
		DoAndReturn(func(_ context.Context, conversationID domain.ConversationID, _ domain.ParticipantID, _ *string) error {
			joined = append(joined, conversationID)
			return nil
		}).Times(1)

	// When alice starts a conversation with bob
	conversationID, err := f.svc.StartConversation(ctx, alice, "u2")

	// Then both joined the same, valid conversation
	req.NoError(err)
	req.NoError(conversationID.Validate())
	req.Equal([]domain.ConversationID{conversationID, conversationID}, joined)
}

func TestConversationService_StartConversation_Rolls_Back_First_Join(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()
	f := newConversationFixture(ctrl)
	ctx := context.Background()

	// Given a store that fails once alice has joined
	f.users.EXPECT().GetUser("u2").
		Return(repositories.User{ID: "u2", Username: "bob"}, nil).Times(1)
	var joined domain.ConversationID
	f.rosters.EXPECT().Join(gomock.Any(), gomock.Any(), domain.ParticipantID("u1"), lo.ToPtr("tokA")).
		DoAndReturn(func(_ context.Context, conversationID domain.ConversationID, _ domain.ParticipantID, _ *string) error {
			joined = conversationID
			return nil
		}).Times(1)
	f.rosters.EXPECT().Join(gomock.Any(), gomock.Any(), domain.ParticipantID("u2"), gomock.Nil()).
		Return(errors.ErrStoreUnavailable).Times(1)

	// Then alice leaves the conversation she joined
	var left domain.ConversationID
	f.rosters.EXPECT().Leave(gomock.Any(), gomock.Any(), domain.ParticipantID("u1")).
		DoAndReturn(func(_ context.Context, conversationID domain.ConversationID, _ domain.ParticipantID) error {
			left = conversationID
			return nil
		}).Times(1)

	// When alice starts a conversation with bob
	conversationID, err := f.svc.StartConversation(ctx, alice, "u2")

	req.ErrorIs(err, errors.ErrStoreUnavailable)
	req.Empty(conversationID)
	req.NotEmpty(joined)
	req.Equal(joined, left)
}

func TestConversationService_StartConversation_Rejected(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()
	f := newConversationFixture(ctrl)
	ctx := context.Background()

	_, err := f.svc.StartConversation(ctx, domain.Identity{}, "u2")
	req.ErrorIs(err, errors.ErrUnauthenticated)

	_, err = f.svc.StartConversation(ctx, alice, "u1")
	req.ErrorIs(err, errors.ErrInvalidConversation)

	f.users.EXPECT().GetUser("u9").Return(repositories.User{}, errors.ErrUserNotFound).Times(1)
	_, err = f.svc.StartConversation(ctx, alice, "u9")
	req.ErrorIs(err, errors.ErrUserNotFound)
}

func TestConversationService_Conversations(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()
	f := newConversationFixture(ctrl)

	f.rosters.EXPECT().Conversations(gomock.Any(), domain.ParticipantID("u1")).
		Return([]domain.ConversationID{"c1", "c2"}, nil).Times(1)

	conversations, err := f.svc.Conversations(context.Background(), alice)

	req.NoError(err)
	req.Equal([]domain.ConversationID{"c1", "c2"}, conversations)
}

func TestConversationService_OpenSession(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()
	f := newConversationFixture(ctrl)
	f.svc.WithWindowSize(10)

	f.messageLog.EXPECT().Subscribe(gomock.Any(), domain.ConversationID("c1"), 10).
		Return(runtime.NewFeed[domain.Message](nil, nil), nil).Times(1)
	f.store.EXPECT().Roster(gomock.Any(), domain.ConversationID("c1")).
		Return(nil, runtime.NewFeed[domain.RosterEntry](nil, nil), nil).Times(1)

	conversation, err := f.svc.OpenSession(context.Background(), "c1", alice, nil)

	req.NoError(err)
	req.Equal(session.Open, conversation.State())
	req.NoError(conversation.Close())
}
