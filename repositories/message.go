//go:generate go run go.uber.org/mock/mockgen -source=message.go -destination=../mocks/mock_message_repository.go -package=mocks
package repositories

import (
	"atme/observability"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
)

// Number of sequence values leased from badger at once.
const sequenceBandwidth = 100

type IMessageRepository interface {
	StoreMessage(message DiskMessage) (DiskMessage, error)
	GetMessages(conversation string, limit int) ([]DiskMessage, error)
}

type MessageRepository struct {
	db        *badger.DB
	log       *slog.Logger
	metrics   *observability.Metrics
	mu        sync.Mutex
	sequences map[string]*badger.Sequence
}

func NewMessageRepository(db *badger.DB, log *slog.Logger, metrics *observability.Metrics) *MessageRepository {
	return &MessageRepository{
		db:        db,
		log:       log,
		metrics:   metrics,
		sequences: make(map[string]*badger.Sequence),
	}
}

// DiskMessage is the repository view of a message record.
// Seq is the position of the record in its conversation log.
type DiskMessage struct {
	Seq           uint64
	ID            uuid.UUID
	Conversation  string
	Sender        string
	Text          string
	AttachmentRef string
	At            time.Time
}

func messagePrefix(conversation string) string {
	return fmt.Sprintf("msg:%s:", conversation)
}

// StoreMessage persists a message in BadgerDB and returns it with its sequence number.
// The key is formatted as "msg:{conversation}:{seq_padded}:{uuid}" to:
//  1. Keep append order under a prefix scan using 20-digit zero padding.
//  2. Carry the message id without storing it twice.
func (m *MessageRepository) StoreMessage(message DiskMessage) (DiskMessage, error) {
	seq, err := m.nextSeq(message.Conversation)
	if err != nil {
		return DiskMessage{}, fmt.Errorf("sequence allocation failed: %w", err)
	}
	message.Seq = seq

	bytes, err := encodeRecord(message)
	if err != nil {
		return DiskMessage{}, err
	}
	key := fmt.Sprintf("%s%020d:%s", messagePrefix(message.Conversation), seq, message.ID)
	err = m.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), bytes)
	})
	if err != nil {
		return DiskMessage{}, err
	}
	return message, nil
}

// GetMessages returns up to limit most recent records of a conversation in
// ascending order. Malformed records are dropped with an integrity warning and
// do not count toward the limit.
func (m *MessageRepository) GetMessages(conversation string, limit int) ([]DiskMessage, error) {
	if limit <= 0 {
		return nil, nil
	}
	var messages []DiskMessage
	err := m.db.View(func(txn *badger.Txn) error {
		prefix := []byte(messagePrefix(conversation))
		options := badger.DefaultIteratorOptions
		options.Reverse = true
		it := txn.NewIterator(options)
		defer it.Close()

		// Reverse iteration starts from the greatest key lower or equal to the seek key
		seekKey := append(slices.Clone(prefix), 0xFF)
		for it.Seek(seekKey); it.ValidForPrefix(prefix); it.Next() {
			if len(messages) == limit {
				break
			}
			item := it.Item()
			key := string(item.KeyCopy(nil))
			err := item.Value(func(value []byte) error {
				message, err := m.decode(conversation, key[len(prefix):], value)
				if err != nil {
					m.log.Warn("Integrity warning, dropping stored record",
						"conversation", conversation, "key", key, "error", err)
					m.metrics.IncMalformedDropped()
					return nil
				}
				messages = append(messages, message)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	slices.Reverse(messages)
	return messages, nil
}

// Close releases the leased sequence ranges.
func (m *MessageRepository) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for conversation, seq := range m.sequences {
		if err := seq.Release(); err != nil {
			m.log.Warn("Sequence release failed", "conversation", conversation, "error", err)
		}
		delete(m.sequences, conversation)
	}
	return nil
}

func (m *MessageRepository) nextSeq(conversation string) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	seq, ok := m.sequences[conversation]
	if !ok {
		var err error
		seq, err = m.db.GetSequence([]byte("seq:msg:"+conversation), sequenceBandwidth)
		if err != nil {
			return 0, err
		}
		m.sequences[conversation] = seq
	}
	return seq.Next()
}

func (m *MessageRepository) decode(conversation, suffix string, value []byte) (DiskMessage, error) {
	seqPart, idPart, found := strings.Cut(suffix, ":")
	if !found {
		return DiskMessage{}, fmt.Errorf("unexpected key suffix %q", suffix)
	}
	seq, err := strconv.ParseUint(seqPart, 10, 64)
	if err != nil {
		return DiskMessage{}, err
	}
	id, err := uuid.Parse(idPart)
	if err != nil {
		return DiskMessage{}, err
	}
	message, err := decodeRecord(value)
	if err != nil {
		return DiskMessage{}, err
	}
	message.Seq = seq
	message.ID = id
	message.Conversation = conversation
	return message, nil
}
