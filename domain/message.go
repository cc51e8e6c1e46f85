// Package domain contains core concepts of the conversation core.
// This file defines Message records and the text-or-attachment rule.
// Messages are immutable once appended to a log.
package domain

import (
	"atme/errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

// PictureMessagePreview is the notification body used for attachment messages.
const PictureMessagePreview = "Picture message"

var validate = validator.New()

// Content is what a participant asks to send. Exactly one field is set.
type Content struct {
	Text          string `validate:"required_without=AttachmentRef,excluded_with=AttachmentRef"`
	AttachmentRef string `validate:"required_without=Text,excluded_with=Text"`
}

func TextContent(text string) Content {
	return Content{Text: text}
}

func AttachmentContent(ref string) Content {
	return Content{AttachmentRef: ref}
}

// Validate rejects content carrying both a text and an attachment, or neither.
func (c Content) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("%w: %v", errors.ErrInvalidMessage, err)
	}
	return nil
}

// Message represents an immutable entry of a conversation log.
// ID and Timestamp are assigned by the log at append time.
type Message struct {
	ID            uuid.UUID
	Conversation  ConversationID
	Sender        ParticipantID
	Text          string
	AttachmentRef string
	Timestamp     time.Time
}

func (m Message) Content() Content {
	return Content{Text: m.Text, AttachmentRef: m.AttachmentRef}
}

func (m Message) IsAttachment() bool {
	return m.AttachmentRef != ""
}

// Preview is the short form shown in push notifications.
func (m Message) Preview() string {
	if m.IsAttachment() {
		return PictureMessagePreview
	}
	return m.Text
}
