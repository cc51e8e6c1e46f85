// Package domain contains core concepts of the conversation core.
// This file defines the local identity and public profiles.
// No runtime, network, or UI logic should be added here.
package domain

// Identity is the signed in participant. It is passed explicitly to every
// session instead of living in a process-wide singleton.
type Identity struct {
	ID                ParticipantID
	Username          string
	DisplayName       string
	NotificationToken *string
}

func (i Identity) Authenticated() bool {
	return i.ID != "" && i.Username != ""
}

// OwnsToken reports whether token is the device token of this identity.
func (i Identity) OwnsToken(token string) bool {
	return i.NotificationToken != nil && *i.NotificationToken == token
}

// Profile is what the directory exposes about other users.
type Profile struct {
	UID      ParticipantID
	Username string
	Name     string
}
