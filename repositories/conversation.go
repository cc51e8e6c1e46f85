//go:generate go run go.uber.org/mock/mockgen -source=conversation.go -destination=../mocks/mock_conversation_repository.go -package=mocks
package repositories

import (
	"atme/domain"
	stderrors "errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/samber/lo"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/timestamppb"
)

type IConversationRepository interface {
	Join(conversation domain.ConversationID, participant domain.ParticipantID, token *string) error
	Leave(conversation domain.ConversationID, participant domain.ParticipantID) error
	Roster(conversation domain.ConversationID) ([]domain.RosterEntry, error)
	SetToken(participant domain.ParticipantID, token *string) ([]domain.ConversationID, error)
	Conversations(participant domain.ParticipantID) ([]domain.ConversationID, error)
	MarkSeen(conversation domain.ConversationID, participant domain.ParticipantID, at time.Time) (bool, error)
	LastSeen(conversation domain.ConversationID, participant domain.ParticipantID) (time.Time, bool, error)
}

// ConversationRepository stores three families of keys:
//
//	roster:{conversation}:{participant} -> notification token, empty when absent
//	member:{participant}:{conversation} -> membership index used for token refresh
//	seen:{conversation}:{participant}   -> last seen timestamp
type ConversationRepository struct {
	db  *badger.DB
	log *slog.Logger
}

func NewConversationRepository(db *badger.DB, log *slog.Logger) *ConversationRepository {
	return &ConversationRepository{db: db, log: log}
}

func rosterPrefix(conversation domain.ConversationID) string {
	return fmt.Sprintf("roster:%s:", conversation)
}

func rosterKey(conversation domain.ConversationID, participant domain.ParticipantID) []byte {
	return []byte(rosterPrefix(conversation) + string(participant))
}

func memberPrefix(participant domain.ParticipantID) string {
	return fmt.Sprintf("member:%s:", participant)
}

func memberKey(participant domain.ParticipantID, conversation domain.ConversationID) []byte {
	return []byte(memberPrefix(participant) + string(conversation))
}

func seenKey(conversation domain.ConversationID, participant domain.ParticipantID) []byte {
	return []byte(fmt.Sprintf("seen:%s:%s", conversation, participant))
}

// Join adds a participant to a conversation roster, or refreshes its token.
func (c *ConversationRepository) Join(conversation domain.ConversationID, participant domain.ParticipantID, token *string) error {
	return c.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set(rosterKey(conversation, participant), []byte(lo.FromPtr(token))); err != nil {
			return err
		}
		return txn.Set(memberKey(participant, conversation), nil)
	})
}

func (c *ConversationRepository) Leave(conversation domain.ConversationID, participant domain.ParticipantID) error {
	return c.db.Update(func(txn *badger.Txn) error {
		if err := txn.Delete(rosterKey(conversation, participant)); err != nil {
			return err
		}
		return txn.Delete(memberKey(participant, conversation))
	})
}

// Roster returns the active participants of a conversation with their tokens.
func (c *ConversationRepository) Roster(conversation domain.ConversationID) ([]domain.RosterEntry, error) {
	var entries []domain.RosterEntry
	err := c.db.View(func(txn *badger.Txn) error {
		prefix := []byte(rosterPrefix(conversation))
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			participant := domain.ParticipantID(item.Key()[len(prefix):])
			value, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			entries = append(entries, domain.RosterEntry{
				Participant: participant,
				Token:       tokenFromValue(value),
			})
		}
		return nil
	})
	return entries, err
}

// SetToken updates the participant token in every conversation it belongs to
// and returns those conversations. A nil token clears it.
func (c *ConversationRepository) SetToken(participant domain.ParticipantID, token *string) ([]domain.ConversationID, error) {
	var conversations []domain.ConversationID
	err := c.db.Update(func(txn *badger.Txn) error {
		var err error
		conversations, err = membership(txn, participant)
		if err != nil {
			return err
		}
		for _, conversation := range conversations {
			if err = txn.Set(rosterKey(conversation, participant), []byte(lo.FromPtr(token))); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return conversations, nil
}

func (c *ConversationRepository) Conversations(participant domain.ParticipantID) ([]domain.ConversationID, error) {
	var conversations []domain.ConversationID
	err := c.db.View(func(txn *badger.Txn) error {
		var err error
		conversations, err = membership(txn, participant)
		return err
	})
	return conversations, err
}

// MarkSeen stores the last seen timestamp of a participant.
// The stored value never goes backwards: an older timestamp is ignored and
// false is returned.
func (c *ConversationRepository) MarkSeen(conversation domain.ConversationID, participant domain.ParticipantID, at time.Time) (bool, error) {
	updated := false
	err := c.db.Update(func(txn *badger.Txn) error {
		key := seenKey(conversation, participant)
		current, found, err := readTimestamp(txn, key)
		if err != nil {
			return err
		}
		if found && !at.After(current) {
			return nil
		}
		bytes, err := proto.Marshal(timestamppb.New(at))
		if err != nil {
			return err
		}
		updated = true
		return txn.Set(key, bytes)
	})
	if err != nil {
		return false, err
	}
	return updated, nil
}

func (c *ConversationRepository) LastSeen(conversation domain.ConversationID, participant domain.ParticipantID) (time.Time, bool, error) {
	var (
		at    time.Time
		found bool
	)
	err := c.db.View(func(txn *badger.Txn) error {
		var err error
		at, found, err = readTimestamp(txn, seenKey(conversation, participant))
		return err
	})
	return at, found, err
}

func membership(txn *badger.Txn, participant domain.ParticipantID) ([]domain.ConversationID, error) {
	var conversations []domain.ConversationID
	prefix := []byte(memberPrefix(participant))
	options := badger.DefaultIteratorOptions
	options.PrefetchValues = false
	it := txn.NewIterator(options)
	defer it.Close()
	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		key := string(it.Item().Key())
		conversations = append(conversations, domain.ConversationID(strings.TrimPrefix(key, string(prefix))))
	}
	return conversations, nil
}

func readTimestamp(txn *badger.Txn, key []byte) (time.Time, bool, error) {
	item, err := txn.Get(key)
	if stderrors.Is(err, badger.ErrKeyNotFound) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	var ts timestamppb.Timestamp
	err = item.Value(func(value []byte) error {
		return proto.Unmarshal(value, &ts)
	})
	if err != nil {
		return time.Time{}, false, err
	}
	return ts.AsTime(), true, nil
}

func tokenFromValue(value []byte) *string {
	if len(value) == 0 {
		return nil
	}
	return lo.ToPtr(string(value))
}
