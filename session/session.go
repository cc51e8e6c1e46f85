// Package session binds one open conversation view to the message log, the
// conversation store and the notification fanout.
//
// Every delivery, roster update and send of a session is processed on a single
// goroutine, so the local view, the roster cache and the last seen writes of a
// session need no locking of their own.
package session

import (
	"atme/attachment"
	"atme/contract"
	"atme/domain"
	"atme/errors"
	"atme/observability"
	"atme/projection"
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/samber/lo"
)

const DefaultWindowSize = 25

type State int

const (
	Unopened State = iota
	Open
	Closed
)

func (s State) String() string {
	switch s {
	case Unopened:
		return "unopened"
	case Open:
		return "open"
	case Closed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

type sendResult struct {
	message domain.Message
	err     error
}

type sendRequest struct {
	ctx     context.Context
	content domain.Content
	reply   chan sendResult
}

type Session struct {
	mu          sync.Mutex
	state       State
	log         *slog.Logger
	metrics     *observability.Metrics
	messageLog  contract.IMessageLog
	store       contract.IConversationStore
	notifier    contract.INotifier
	attachments contract.IAttachmentStore
	sink        contract.MessageSink
	filter      contract.ITextFilter
	clock       func() time.Time
	windowSize  int

	conversationID domain.ConversationID
	identity       domain.Identity
	timeline       *projection.Timeline
	messages       contract.Feed[domain.Message]
	roster         contract.Feed[domain.RosterEntry]
	requests       chan sendRequest
	cancel         context.CancelFunc
	done           chan struct{}

	// owned by the loop goroutine
	rosterC <-chan domain.RosterEntry
	tokens  map[domain.ParticipantID]*string
}

func NewSession(log *slog.Logger, messageLog contract.IMessageLog, store contract.IConversationStore,
	notifier contract.INotifier, metrics *observability.Metrics) *Session {
	return &Session{
		log:        log,
		metrics:    metrics,
		messageLog: messageLog,
		store:      store,
		notifier:   notifier,
		clock:      time.Now,
		windowSize: DefaultWindowSize,
		requests:   make(chan sendRequest),
		done:       make(chan struct{}),
		tokens:     make(map[domain.ParticipantID]*string),
	}
}

func (s *Session) WithWindowSize(windowSize int) *Session {
	s.windowSize = windowSize
	return s
}

// WithAttachments enables SendAttachment.
func (s *Session) WithAttachments(store contract.IAttachmentStore) *Session {
	s.attachments = store
	return s
}

// WithSink registers the renderer called for every newly delivered message.
func (s *Session) WithSink(sink contract.MessageSink) *Session {
	s.sink = sink
	return s
}

// WithFilter rewrites outgoing text, typically to mask banned words.
func (s *Session) WithFilter(filter contract.ITextFilter) *Session {
	s.filter = filter
	return s
}

func (s *Session) WithClock(clock func() time.Time) *Session {
	s.clock = clock
	return s
}

// Open subscribes to the conversation and loads its roster before returning.
// It runs at most once per session. A failing roster stream is not fatal:
// the session then simply has nobody to notify.
func (s *Session) Open(ctx context.Context, conversationID domain.ConversationID, identity domain.Identity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != Unopened {
		return errors.ErrSessionAlreadyOpen
	}
	if !identity.Authenticated() {
		return errors.ErrUnauthenticated
	}
	if err := conversationID.Validate(); err != nil {
		return err
	}

	messages, err := s.messageLog.Subscribe(ctx, conversationID, s.windowSize)
	if err != nil {
		return err
	}
	current, roster, err := s.store.Roster(ctx, conversationID)
	if err != nil {
		s.log.Warn("Roster unavailable, notifications disabled", "conversation", conversationID, "error", err)
	} else {
		// Loaded before the loop starts, so a send right after Open sees it
		for _, entry := range current {
			s.apply(entry)
		}
		s.roster = roster
		s.rosterC = roster.C()
	}

	s.conversationID = conversationID
	s.identity = identity
	s.timeline = projection.NewTimeline(identity.ID)
	s.messages = messages
	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.cancel = cancel
	s.state = Open
	s.metrics.SessionOpened()
	go s.run(loopCtx)

	s.log.Info("Conversation opened", "conversation", conversationID, "participant", identity.ID)
	return nil
}

// Send appends content as the session participant, marks the conversation
// seen and notifies every other roster member with a device token.
// A failed append is returned and nothing is notified.
func (s *Session) Send(ctx context.Context, content domain.Content) (domain.Message, error) {
	if err := s.usable(); err != nil {
		return domain.Message{}, err
	}
	if err := content.Validate(); err != nil {
		return domain.Message{}, err
	}
	if s.filter != nil && content.Text != "" {
		var matched []string
		content.Text, matched = s.filter.Censor(content.Text)
		if len(matched) > 0 {
			s.log.Info("Message text censored", "conversation", s.conversationID, "matches", len(matched))
		}
	}

	reply := make(chan sendResult, 1)
	select {
	case s.requests <- sendRequest{ctx: ctx, content: content, reply: reply}:
	case <-s.done:
		return domain.Message{}, errors.ErrSessionClosed
	case <-ctx.Done():
		return domain.Message{}, ctx.Err()
	}
	result := <-reply
	return result.message, result.err
}

func (s *Session) SendText(ctx context.Context, text string) (domain.Message, error) {
	return s.Send(ctx, domain.TextContent(text))
}

// SendAttachment uploads a picture then sends its storage path as the
// message attachment reference.
func (s *Session) SendAttachment(ctx context.Context, data []byte) (domain.Message, error) {
	if err := s.usable(); err != nil {
		return domain.Message{}, err
	}
	if s.attachments == nil {
		return domain.Message{}, fmt.Errorf("%w: no attachment store", errors.ErrWriteFailure)
	}
	path, err := attachment.PicturePath(s.conversationID, data, s.clock())
	if err != nil {
		return domain.Message{}, err
	}
	if err := s.attachments.Put(ctx, path, data); err != nil {
		return domain.Message{}, fmt.Errorf("%w: upload: %v", errors.ErrWriteFailure, err)
	}
	return s.Send(ctx, domain.AttachmentContent(path))
}

// Close releases the subscription and the roster stream. Once it returns no
// message is delivered anymore. Closing twice is a no-op.
func (s *Session) Close() error {
	s.mu.Lock()
	switch s.state {
	case Unopened:
		s.mu.Unlock()
		return errors.ErrSessionNotOpen
	case Closed:
		s.mu.Unlock()
		return nil
	}
	s.state = Closed
	s.mu.Unlock()

	s.cancel()
	<-s.done
	s.messages.Cancel()
	if s.roster != nil {
		s.roster.Cancel()
	}
	s.metrics.SessionClosed()
	s.log.Info("Conversation closed", "conversation", s.conversationID, "participant", s.identity.ID)
	return nil
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) ConversationID() domain.ConversationID {
	return s.conversationID
}

// Messages is a snapshot of the local ordered view.
func (s *Session) Messages() []domain.Message {
	s.mu.Lock()
	timeline := s.timeline
	s.mu.Unlock()
	if timeline == nil {
		return nil
	}
	return timeline.Messages()
}

func (s *Session) usable() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.state {
	case Unopened:
		return errors.ErrSessionNotOpen
	case Closed:
		return errors.ErrSessionClosed
	}
	return nil
}

func (s *Session) run(ctx context.Context) {
	defer close(s.done)
	messages := s.messages.C()
	for {
		if ctx.Err() != nil {
			return
		}
		select {
		case <-ctx.Done():
			return
		case message, ok := <-messages:
			if !ok {
				messages = nil
				continue
			}
			if ctx.Err() != nil {
				return
			}
			s.deliver(ctx, message)
		case entry, ok := <-s.rosterC:
			if !ok {
				s.rosterC = nil
				continue
			}
			s.apply(entry)
		case request := <-s.requests:
			message, err := s.send(ctx, request)
			request.reply <- sendResult{message: message, err: err}
		}
	}
}

func (s *Session) deliver(ctx context.Context, message domain.Message) {
	if !s.timeline.Add(message) {
		return
	}
	s.metrics.IncDelivered()
	if s.sink != nil {
		if err := s.sink.Consume(ctx, message); err != nil {
			s.log.Warn("Message rendering failed", "conversation", s.conversationID, "error", err)
		}
	}
	s.markSeen(ctx)
}

func (s *Session) send(ctx context.Context, request sendRequest) (domain.Message, error) {
	appended, err := s.messageLog.Append(request.ctx, s.conversationID, domain.Message{
		Sender:        s.identity.ID,
		Text:          request.content.Text,
		AttachmentRef: request.content.AttachmentRef,
	})
	if err != nil {
		return domain.Message{}, err
	}
	s.markSeen(ctx)
	s.drainRoster()
	s.fanout(appended)
	return appended, nil
}

// apply keeps the latest roster entry per participant.
func (s *Session) apply(entry domain.RosterEntry) {
	if entry.Left {
		delete(s.tokens, entry.Participant)
		return
	}
	s.tokens[entry.Participant] = entry.Token
}

// drainRoster applies roster changes already handed over by the feed, so a
// send right after a token refresh sees them.
func (s *Session) drainRoster() {
	for s.rosterC != nil {
		select {
		case entry, ok := <-s.rosterC:
			if !ok {
				s.rosterC = nil
				return
			}
			s.apply(entry)
		default:
			return
		}
	}
}

func (s *Session) fanout(message domain.Message) {
	recipients := lo.Uniq(lo.FilterMap(lo.Entries(s.tokens), func(entry lo.Entry[domain.ParticipantID, *string], _ int) (string, bool) {
		if entry.Key == s.identity.ID || entry.Value == nil || *entry.Value == "" {
			return "", false
		}
		return *entry.Value, !s.identity.OwnsToken(*entry.Value)
	}))
	for _, token := range recipients {
		s.notifier.Notify(token, s.identity.Username, message.Preview())
	}
	s.log.Debug("Message fanned out", "conversation", s.conversationID, "recipients", len(recipients))
}

// markSeen degrades to a warning when the store is down.
func (s *Session) markSeen(ctx context.Context) {
	err := s.store.MarkSeen(ctx, s.conversationID, s.identity.ID, s.clock())
	if err == nil {
		return
	}
	if stderrors.Is(err, errors.ErrStoreUnavailable) {
		s.log.Warn("Last seen not recorded", "conversation", s.conversationID, "error", err)
		return
	}
	s.log.Error("Last seen update failed", "conversation", s.conversationID, "error", err)
}
