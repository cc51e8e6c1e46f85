package repositories

import (
	"fmt"
	"strings"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/timestamppb"
)

// Describe gives a human readable kind and summary of a raw key/value pair,
// for debugging tools browsing the database.
func Describe(key string, value []byte) (kind, detail string) {
	family, _, _ := strings.Cut(key, ":")
	switch family {
	case "msg":
		message, err := decodeRecord(value)
		if err != nil {
			return "MESSAGE", err.Error()
		}
		body := message.Text
		if message.AttachmentRef != "" {
			body = "[picture] " + message.AttachmentRef
		}
		return "MESSAGE", fmt.Sprintf("%s %s: %s", message.At.Format("2006-01-02 15:04:05"), message.Sender, body)
	case "roster":
		if token := tokenFromValue(value); token != nil {
			return "ROSTER", "token " + *token
		}
		return "ROSTER", "no token"
	case "seen":
		var ts timestamppb.Timestamp
		if err := proto.Unmarshal(value, &ts); err != nil {
			return "SEEN", err.Error()
		}
		return "SEEN", ts.AsTime().Format("2006-01-02 15:04:05.000")
	case "user":
		var record structpb.Struct
		if err := proto.Unmarshal(value, &record); err != nil {
			return "USER", err.Error()
		}
		user := decodeUser(strings.TrimPrefix(key, "user:"), &record)
		return "USER", fmt.Sprintf("%s <%s> @%s", user.Name(), user.Email, user.Username)
	case "email", "username", "member":
		return "INDEX", string(value)
	default:
		return "RAW", fmt.Sprintf("%d bytes", len(value))
	}
}
