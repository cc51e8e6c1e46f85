//go:generate go run go.uber.org/mock/mockgen -source=contract.go -destination=../mocks/mock_contract.go -package=mocks
package contract

import (
	"atme/domain"
	"context"
	"reflect"
	"time"
)

type ISupervisor interface {
	Add(worker ...Worker) ISupervisor
	Run(ctx context.Context)
	Start(ctx context.Context, worker Worker)
	Stop()
}

type WorkerName string

// Worker doesn't protect itself
// Can be silly, focused
type Worker interface {
	Run(ctx context.Context) error
}

// GetWorkerName uses reflection to retrieve the type name of the worker.
func GetWorkerName(w Worker) string {
	if w == nil {
		return "NilWorker"
	}
	t := reflect.TypeOf(w)
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	return t.Name()
}

// Feed is a live, non-restartable sequence.
// C is closed once the feed is cancelled. Cancel is idempotent.
type Feed[T any] interface {
	C() <-chan T
	Cancel()
}

// IMessageLog is the append-only ordered log of a conversation.
type IMessageLog interface {
	Append(ctx context.Context, conversationID domain.ConversationID, message domain.Message) (domain.Message, error)
	Subscribe(ctx context.Context, conversationID domain.ConversationID, windowSize int) (Feed[domain.Message], error)
}

// IConversationStore holds conversation metadata independent of message content.
type IConversationStore interface {
	MarkSeen(ctx context.Context, conversationID domain.ConversationID, participantID domain.ParticipantID, at time.Time) error
	// Roster returns the current entries and a feed of later changes only.
	Roster(ctx context.Context, conversationID domain.ConversationID) ([]domain.RosterEntry, Feed[domain.RosterEntry], error)
}

// INotifier delivers a best-effort push to a single token. It never fails the caller.
type INotifier interface {
	Notify(token, title, body string)
}

// IPushGateway is the transport used by notification workers.
type IPushGateway interface {
	Push(ctx context.Context, notification domain.Notification) error
}

// IAttachmentStore accepts opaque payloads under a path and gives them back.
type IAttachmentStore interface {
	Put(ctx context.Context, path string, data []byte) error
	Get(ctx context.Context, path string) ([]byte, error)
}

// MessageSink receives every message rendered by a session, in order.
type MessageSink interface {
	Consume(ctx context.Context, message domain.Message) error
}

// IRosterManager mutates memberships and device tokens of conversations.
type IRosterManager interface {
	Join(ctx context.Context, conversationID domain.ConversationID, participantID domain.ParticipantID, token *string) error
	Leave(ctx context.Context, conversationID domain.ConversationID, participantID domain.ParticipantID) error
	SetToken(ctx context.Context, participantID domain.ParticipantID, token *string) error
	Conversations(ctx context.Context, participantID domain.ParticipantID) ([]domain.ConversationID, error)
}

// IUsernameIndex makes a username searchable once it is set.
type IUsernameIndex interface {
	Register(ctx context.Context, uid domain.ParticipantID, username string) error
}

// ICache is anything holding data that must not survive a sign out.
type ICache interface {
	Clear()
}

// ITextFilter rewrites message text before it is stored and reports what it
// matched.
type ITextFilter interface {
	Censor(text string) (string, []string)
}
