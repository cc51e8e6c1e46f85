package repositories

import (
	"atme/domain"
	"atme/errors"
	"fmt"
	"time"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

// Field names of the persisted message record:
// { sender: string, text?: string, attachmentRef?: string, timestamp: number }
const (
	fieldSender        = "sender"
	fieldText          = "text"
	fieldAttachmentRef = "attachmentRef"
	fieldTimestamp     = "timestamp"
)

// encodeRecord marshals a message into the wire shape shared with other clients.
// Timestamps are unix milliseconds so they survive the float64 number encoding.
func encodeRecord(message DiskMessage) ([]byte, error) {
	fields := map[string]any{
		fieldSender:    message.Sender,
		fieldTimestamp: float64(message.At.UnixMilli()),
	}
	if message.Text != "" {
		fields[fieldText] = message.Text
	}
	if message.AttachmentRef != "" {
		fields[fieldAttachmentRef] = message.AttachmentRef
	}
	record, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, err
	}
	return proto.Marshal(record)
}

// decodeRecord is the inverse of encodeRecord. Records written by other clients
// may miss mandatory fields: those come back as ErrMalformedRecord.
func decodeRecord(value []byte) (DiskMessage, error) {
	var record structpb.Struct
	if err := proto.Unmarshal(value, &record); err != nil {
		return DiskMessage{}, fmt.Errorf("%w: %v", errors.ErrMalformedRecord, err)
	}
	fields := record.GetFields()

	sender := fields[fieldSender].GetStringValue()
	if sender == "" {
		return DiskMessage{}, fmt.Errorf("%w: missing sender", errors.ErrMalformedRecord)
	}
	ts, ok := fields[fieldTimestamp].GetKind().(*structpb.Value_NumberValue)
	if !ok {
		return DiskMessage{}, fmt.Errorf("%w: missing timestamp", errors.ErrMalformedRecord)
	}
	content := domain.Content{
		Text:          fields[fieldText].GetStringValue(),
		AttachmentRef: fields[fieldAttachmentRef].GetStringValue(),
	}
	if err := content.Validate(); err != nil {
		return DiskMessage{}, fmt.Errorf("%w: %v", errors.ErrMalformedRecord, err)
	}
	return DiskMessage{
		Sender:        sender,
		Text:          content.Text,
		AttachmentRef: content.AttachmentRef,
		At:            time.UnixMilli(int64(ts.NumberValue)).UTC(),
	}, nil
}
