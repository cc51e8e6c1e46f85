package runtime

import (
	"atme/domain"
	"atme/errors"
	"atme/mocks"
	"atme/observability"
	"atme/repositories"
	"context"
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/mama165/sdk-go/logs"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

func newMessageLog(t *testing.T) (*MessageLog, *observability.Metrics) {
	t.Helper()
	log := logs.GetLoggerFromLevel(slog.LevelDebug)
	db, err := badger.Open(badger.DefaultOptions(t.TempDir()).WithLoggingLevel(badger.ERROR))
	require.NoError(t, err)
	repository := repositories.NewMessageRepository(db, log, nil)
	t.Cleanup(func() {
		_ = repository.Close()
		_ = db.Close()
	})
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	return NewMessageLog(log, repository, metrics), metrics
}

func text(sender domain.ParticipantID, body string) domain.Message {
	return domain.Message{Sender: sender, Text: body}
}

func TestMessageLog_Append(t *testing.T) {
	req := require.New(t)
	messageLog, metrics := newMessageLog(t)
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	messageLog.WithClock(func() time.Time { return now })

	appended, err := messageLog.Append(context.Background(), "c1", text("A", "hi"))

	req.NoError(err)
	req.NotEqual([16]byte{}, [16]byte(appended.ID))
	req.Equal(domain.ConversationID("c1"), appended.Conversation)
	req.Equal(now, appended.Timestamp)
	req.Equal(float64(1), testutil.ToFloat64(metrics.Collectors()["appended"]))
}

func TestMessageLog_Append_Rejects_Invalid_Message(t *testing.T) {
	req := require.New(t)
	messageLog, _ := newMessageLog(t)

	_, err := messageLog.Append(context.Background(), "c1", domain.Message{Sender: "A"})
	req.ErrorIs(err, errors.ErrInvalidMessage)

	_, err = messageLog.Append(context.Background(), "c1", domain.Message{Sender: "A", Text: "x", AttachmentRef: "y"})
	req.ErrorIs(err, errors.ErrInvalidMessage)

	_, err = messageLog.Append(context.Background(), "", text("A", "hi"))
	req.ErrorIs(err, errors.ErrInvalidConversation)
}

func TestMessageLog_Timestamps_Never_Go_Backwards(t *testing.T) {
	req := require.New(t)
	messageLog, _ := newMessageLog(t)
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	clock := now
	messageLog.WithClock(func() time.Time { return clock })

	first, err := messageLog.Append(context.Background(), "c1", text("A", "first"))
	req.NoError(err)

	// Given the wall clock jumps back
	clock = now.Add(-time.Hour)
	second, err := messageLog.Append(context.Background(), "c1", text("B", "second"))
	req.NoError(err)

	// Then the log keeps timestamps non decreasing
	req.False(second.Timestamp.Before(first.Timestamp))
}

func TestMessageLog_Append_Write_Failure(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()
	repository := mocks.NewMockIMessageRepository(ctrl)
	messageLog := NewMessageLog(slog.Default(), repository, nil)

	// Given a store refusing writes
	repository.EXPECT().GetMessages("c1", 1).Return(nil, nil).Times(1)
	repository.EXPECT().StoreMessage(gomock.Any()).
		Return(repositories.DiskMessage{}, fmt.Errorf("permission denied")).Times(1)

	// When a message is appended
	_, err := messageLog.Append(context.Background(), "c1", text("A", "hi"))

	// Then the failure is reported, not dropped
	req.ErrorIs(err, errors.ErrWriteFailure)
}

func TestMessageLog_Subscribe_Window_Then_Live(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	messageLog, _ := newMessageLog(t)

	// Given a log with five messages
	for i := 0; i < 5; i++ {
		_, err := messageLog.Append(ctx, "c1", text("A", fmt.Sprintf("old %d", i)))
		req.NoError(err)
	}

	// When subscribing with a window of three
	feed, err := messageLog.Subscribe(ctx, "c1", 3)
	req.NoError(err)
	defer feed.Cancel()

	// Then the three most recent come first in ascending order
	backlog := receive(t, feed.C(), 3)
	req.Equal("old 2", backlog[0].Text)
	req.Equal("old 3", backlog[1].Text)
	req.Equal("old 4", backlog[2].Text)

	// And each new message is delivered once, in append order
	for i := 0; i < 3; i++ {
		_, err = messageLog.Append(ctx, "c1", text("B", fmt.Sprintf("new %d", i)))
		req.NoError(err)
	}
	live := receive(t, feed.C(), 3)
	req.Equal("new 0", live[0].Text)
	req.Equal("new 1", live[1].Text)
	req.Equal("new 2", live[2].Text)
	requireSilent(t, feed.C())
}

func TestMessageLog_Concurrent_Senders_Exactly_Once(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	messageLog, _ := newMessageLog(t)
	feed, err := messageLog.Subscribe(ctx, "c1", 25)
	req.NoError(err)
	defer feed.Cancel()

	// When two senders append at the same time
	var wg sync.WaitGroup
	for _, sender := range []domain.ParticipantID{"A", "B"} {
		wg.Add(1)
		go func(sender domain.ParticipantID) {
			defer wg.Done()
			for i := 0; i < 20; i++ {
				_, err := messageLog.Append(ctx, "c1", text(sender, fmt.Sprintf("%s-%d", sender, i)))
				req.NoError(err)
			}
		}(sender)
	}
	wg.Wait()

	// Then every message shows up exactly once and each sender keeps its order
	delivered := receive(t, feed.C(), 40)
	requireSilent(t, feed.C())
	seen := make(map[string]int)
	next := map[domain.ParticipantID]int{"A": 0, "B": 0}
	for _, message := range delivered {
		seen[message.Text]++
		req.Equal(fmt.Sprintf("%s-%d", message.Sender, next[message.Sender]), message.Text)
		next[message.Sender]++
	}
	req.Len(seen, 40)
}

func TestMessageLog_Cancel_Stops_Delivery(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	messageLog, _ := newMessageLog(t)
	feed, err := messageLog.Subscribe(ctx, "c1", 25)
	req.NoError(err)

	feed.Cancel()
	_, err = messageLog.Append(ctx, "c1", text("A", "after cancel"))
	req.NoError(err)

	// Then the channel is closed without delivering the new message
	for message := range feed.C() {
		req.Fail("unexpected delivery", message.Text)
	}
	req.Empty(messageLog.tail("c1").feeds)
}

func TestMessageLog_Empty_Window(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	messageLog, _ := newMessageLog(t)
	_, err := messageLog.Append(ctx, "c1", text("A", "history"))
	req.NoError(err)

	feed, err := messageLog.Subscribe(ctx, "c1", 0)
	req.NoError(err)
	defer feed.Cancel()
	requireSilent(t, feed.C())

	_, err = messageLog.Append(ctx, "c1", text("A", "live"))
	req.NoError(err)
	req.Equal("live", receive(t, feed.C(), 1)[0].Text)
}

func TestMessageLog_Recent(t *testing.T) {
	req := require.New(t)
	messageLog, _ := newMessageLog(t)
	ctx := context.Background()
	for i := 0; i < 4; i++ {
		_, err := messageLog.Append(ctx, "c1", text("A", fmt.Sprintf("m%d", i)))
		req.NoError(err)
	}

	// When
	recent, err := messageLog.Recent(ctx, "c1", 2)

	// Then the last two, oldest first
	req.NoError(err)
	req.Len(recent, 2)
	req.Equal("m2", recent[0].Text)
	req.Equal("m3", recent[1].Text)

	_, err = messageLog.Recent(ctx, "", 2)
	req.ErrorIs(err, errors.ErrInvalidConversation)
}
