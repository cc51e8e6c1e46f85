package repositories

import (
	"atme/domain"
	"log/slog"
	"testing"
	"time"

	"github.com/samber/lo"
	"github.com/stretchr/testify/require"
)

func TestConversationRepository_Roster(t *testing.T) {
	req := require.New(t)
	repository := NewConversationRepository(openDB(t), slog.Default())

	// Given three participants, one without a device token
	req.NoError(repository.Join("c1", "A", lo.ToPtr("tokA")))
	req.NoError(repository.Join("c1", "B", lo.ToPtr("tokB")))
	req.NoError(repository.Join("c1", "C", nil))

	// When the roster is read
	roster, err := repository.Roster("c1")

	// Then every participant is listed with its token
	req.NoError(err)
	req.ElementsMatch([]domain.RosterEntry{
		{Participant: "A", Token: lo.ToPtr("tokA")},
		{Participant: "B", Token: lo.ToPtr("tokB")},
		{Participant: "C"},
	}, roster)
}

func TestConversationRepository_Leave(t *testing.T) {
	req := require.New(t)
	repository := NewConversationRepository(openDB(t), slog.Default())
	req.NoError(repository.Join("c1", "A", lo.ToPtr("tokA")))
	req.NoError(repository.Join("c1", "B", nil))

	req.NoError(repository.Leave("c1", "A"))

	roster, err := repository.Roster("c1")
	req.NoError(err)
	req.Equal([]domain.RosterEntry{{Participant: "B"}}, roster)
	conversations, err := repository.Conversations("A")
	req.NoError(err)
	req.Empty(conversations)
}

func TestConversationRepository_SetToken(t *testing.T) {
	req := require.New(t)
	repository := NewConversationRepository(openDB(t), slog.Default())
	req.NoError(repository.Join("c1", "A", lo.ToPtr("old")))
	req.NoError(repository.Join("c2", "A", lo.ToPtr("old")))
	req.NoError(repository.Join("c2", "B", lo.ToPtr("tokB")))

	// When the device token of A is cleared
	conversations, err := repository.SetToken("A", nil)

	// Then both conversations are affected and B is untouched
	req.NoError(err)
	req.ElementsMatch([]domain.ConversationID{"c1", "c2"}, conversations)
	roster, err := repository.Roster("c2")
	req.NoError(err)
	req.ElementsMatch([]domain.RosterEntry{
		{Participant: "A"},
		{Participant: "B", Token: lo.ToPtr("tokB")},
	}, roster)
}

func TestConversationRepository_MarkSeen_Is_Monotonic(t *testing.T) {
	req := require.New(t)
	repository := NewConversationRepository(openDB(t), slog.Default())
	now := time.Now().UTC()

	_, found, err := repository.LastSeen("c1", "A")
	req.NoError(err)
	req.False(found)

	updated, err := repository.MarkSeen("c1", "A", now)
	req.NoError(err)
	req.True(updated)

	// When an older timestamp arrives
	updated, err = repository.MarkSeen("c1", "A", now.Add(-time.Minute))
	req.NoError(err)

	// Then the stored value does not regress
	req.False(updated)
	seen, found, err := repository.LastSeen("c1", "A")
	req.NoError(err)
	req.True(found)
	req.True(seen.Equal(now))

	// And a newer one moves it forward
	updated, err = repository.MarkSeen("c1", "A", now.Add(time.Minute))
	req.NoError(err)
	req.True(updated)
}
