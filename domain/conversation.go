package domain

import (
	"atme/errors"
	"fmt"
	"strings"
)

// ConversationID is assigned outside the core and never empty for an open session.
type ConversationID string

// ParticipantID identifies a user account.
type ParticipantID string

// Validate rejects ids that can not be used as a storage key segment.
func (c ConversationID) Validate() error {
	if c == "" || strings.ContainsAny(string(c), ":/") {
		return fmt.Errorf("%w: %q", errors.ErrInvalidConversation, string(c))
	}
	return nil
}

// RosterEntry is the latest known state of one participant of a conversation.
// A nil Token means the participant has no device registered for notifications.
// Left is set once the participant leaves the conversation.
type RosterEntry struct {
	Participant ParticipantID
	Token       *string
	Left        bool
}

func (r RosterEntry) HasToken() bool {
	return r.Token != nil && *r.Token != ""
}

// Notification is a single push to one device token.
type Notification struct {
	Token string
	Title string
	Body  string
}
