package projection

import (
	"atme/domain"
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestTimeline_Consume_Keeps_Delivery_Order(t *testing.T) {
	req := require.New(t)
	timeline := NewTimeline("Bob")
	ctx := context.Background()
	now := time.Now()

	first := domain.Message{ID: uuid.New(), Sender: "Alice", Text: "Hello Bob", Timestamp: now}
	second := domain.Message{ID: uuid.New(), Sender: "Clara", Text: "Hi Bob", Timestamp: now.Add(time.Second)}

	req.NoError(timeline.Consume(ctx, first))
	req.NoError(timeline.Consume(ctx, second))

	messages := timeline.Messages()
	req.Len(messages, 2)
	req.Equal(domain.ParticipantID("Alice"), messages[0].Sender)
	req.Equal(domain.ParticipantID("Clara"), messages[1].Sender)
}

func TestTimeline_Add_Dedupes_By_ID(t *testing.T) {
	req := require.New(t)
	timeline := NewTimeline("Bob")
	message := domain.Message{ID: uuid.New(), Sender: "Alice", Text: "once"}

	req.True(timeline.Add(message))
	req.False(timeline.Add(message))

	req.Equal(1, timeline.Len())
	last, ok := timeline.Last()
	req.True(ok)
	req.Equal(message, last)
}

func TestTimeline_UnreadAfter(t *testing.T) {
	req := require.New(t)
	timeline := NewTimeline("Bob")
	seen := time.Now()

	timeline.Add(domain.Message{ID: uuid.New(), Sender: "Alice", Text: "old", Timestamp: seen.Add(-time.Minute)})
	timeline.Add(domain.Message{ID: uuid.New(), Sender: "Alice", Text: "new", Timestamp: seen.Add(time.Minute)})
	timeline.Add(domain.Message{ID: uuid.New(), Sender: "Bob", Text: "mine", Timestamp: seen.Add(time.Minute)})

	// Then only newer messages from others count as unread
	req.Equal(1, timeline.UnreadAfter(seen))
}
