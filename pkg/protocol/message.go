// Package protocol defines the frames exchanged between room servers and
// chat clients and the codecs that put them on the wire.
package protocol

import (
	"errors"
	"fmt"
	"unicode/utf8"

	"google.golang.org/protobuf/encoding/protowire"
)

// MessageType represents the type of message
type MessageType int

const (
	MessageTypeText MessageType = iota
	MessageTypeJoin
	MessageTypeNotice
	MessageTypeRename
)

// String returns the string representation of MessageType
func (mt MessageType) String() string {
	switch mt {
	case MessageTypeText:
		return "TEXT"
	case MessageTypeJoin:
		return "JOIN"
	case MessageTypeNotice:
		return "NOTICE"
	case MessageTypeRename:
		return "RENAME"
	default:
		return "UNKNOWN"
	}
}

// Message represents one frame.
//
// For MessageTypeRename, Sender holds the old name and Content the new one.
// A rename request sent by a client only carries Content.
type Message struct {
	Type    MessageType
	Sender  string
	Content string
}

// Field numbers of the tagged payload.
const (
	fieldType    protowire.Number = 1
	fieldSender  protowire.Number = 2
	fieldContent protowire.Number = 3
)

var (
	// ErrMalformed reports a frame that cannot be parsed.
	ErrMalformed = errors.New("malformed frame")
	// ErrUnknownType reports a frame whose type is not one of the known MessageTypes.
	ErrUnknownType = errors.New("unknown message type")
)

// Notice builds a server notice.
func Notice(text string) Message {
	return Message{Type: MessageTypeNotice, Content: text}
}

// Chat builds a relayed chat frame.
func Chat(sender, body string) Message {
	return Message{Type: MessageTypeText, Sender: sender, Content: body}
}

// Rename builds a username change broadcast.
func Rename(oldName, newName string) Message {
	return Message{Type: MessageTypeRename, Sender: oldName, Content: newName}
}

// Encode encodes the message into a protobuf wire payload.
// The type field is always written so that the zero type survives a round trip.
func (m *Message) Encode() ([]byte, error) {
	if m.Type < MessageTypeText || m.Type > MessageTypeRename {
		return nil, fmt.Errorf("failed to encode message: %w: %d", ErrUnknownType, m.Type)
	}
	b := make([]byte, 0, 8+len(m.Sender)+len(m.Content))
	b = protowire.AppendTag(b, fieldType, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(m.Type))
	if m.Sender != "" {
		b = protowire.AppendTag(b, fieldSender, protowire.BytesType)
		b = protowire.AppendString(b, m.Sender)
	}
	if m.Content != "" {
		b = protowire.AppendTag(b, fieldContent, protowire.BytesType)
		b = protowire.AppendString(b, m.Content)
	}
	return b, nil
}

// Decode decodes a protobuf wire payload into the message.
// Unknown fields are skipped.
func (m *Message) Decode(data []byte) error {
	var out Message
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return fmt.Errorf("failed to decode message: %w: %v", ErrMalformed, protowire.ParseError(n))
		}
		data = data[n:]

		switch {
		case num == fieldType && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return fmt.Errorf("failed to decode message: %w: %v", ErrMalformed, protowire.ParseError(n))
			}
			if v > uint64(MessageTypeRename) {
				return fmt.Errorf("failed to decode message: %w: %d", ErrUnknownType, v)
			}
			out.Type = MessageType(v)
			data = data[n:]
		case (num == fieldSender || num == fieldContent) && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return fmt.Errorf("failed to decode message: %w: %v", ErrMalformed, protowire.ParseError(n))
			}
			if !utf8.Valid(v) {
				return fmt.Errorf("failed to decode message: %w: invalid UTF-8", ErrMalformed)
			}
			if num == fieldSender {
				out.Sender = string(v)
			} else {
				out.Content = string(v)
			}
			data = data[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return fmt.Errorf("failed to decode message: %w: %v", ErrMalformed, protowire.ParseError(n))
			}
			data = data[n:]
		}
	}
	*m = out
	return nil
}
