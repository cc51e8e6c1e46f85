package errors

import "fmt"

// Conversation core
var (
	ErrInvalidMessage      = fmt.Errorf("message must carry exactly one of text or attachment")
	ErrInvalidConversation = fmt.Errorf("invalid conversation id")
	ErrWriteFailure        = fmt.Errorf("message write failed")
	ErrStoreUnavailable    = fmt.Errorf("conversation store unavailable")
	ErrMalformedRecord     = fmt.Errorf("malformed message record")
	ErrSessionNotOpen      = fmt.Errorf("session not open")
	ErrSessionAlreadyOpen  = fmt.Errorf("session already opened")
	ErrSessionClosed       = fmt.Errorf("session closed")
	ErrUnauthenticated     = fmt.Errorf("no identity established")
)

// Accounts and directory
var (
	ErrUserAlreadyExists  = fmt.Errorf("user already exists")
	ErrUserNotFound       = fmt.Errorf("user not found")
	ErrUsernameTaken      = fmt.Errorf("username already taken")
	ErrUsernameAlreadySet = fmt.Errorf("username can not be changed once set")
	ErrInvalidUsername    = fmt.Errorf("invalid username")
	ErrIncompleteProfile  = fmt.Errorf("user profile is incomplete")
	ErrInvalidCredentials = fmt.Errorf("invalid credentials")
	ErrInvalidPassword    = fmt.Errorf("password does not meet complexity requirements")
	ErrTokenGeneration    = fmt.Errorf("token generation failed")
)

// Attachments and workers
var (
	ErrUnsupportedAttachment = fmt.Errorf("unsupported attachment type")
	ErrAttachmentNotFound    = fmt.Errorf("attachment not found")
	ErrWorkerPanic           = fmt.Errorf("worker panic")
	ErrPushRejected          = fmt.Errorf("push notification rejected")
)
