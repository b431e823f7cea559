package protocol

import (
	"errors"
	"fmt"
	"strings"
)

// Codec converts Messages to and from wire payloads.
//
// Encode/Decode cover server-to-client frames, EncodeRequest/DecodeRequest
// cover client-to-server frames. Framing on a byte stream is separate: a
// codec that reports Framed uses AppendFrame/ReadFrame on raw TCP, the others
// rely on one frame per read.
type Codec interface {
	Name() string
	Framed() bool
	Encode(msg Message) ([]byte, error)
	Decode(data []byte) (Message, error)
	EncodeRequest(msg Message) ([]byte, error)
	// DecodeRequest parses a client frame. The first frame of a connection
	// is decoded with handshake set and always yields a MessageTypeJoin.
	DecodeRequest(data []byte, handshake bool) (Message, error)
	// ValidateName reports whether a username can be carried by this codec.
	ValidateName(name string) error
}

const (
	WireTagged = "tagged"
	WireLegacy = "legacy"
)

var (
	// ErrInvalidName reports a username the codec cannot carry.
	ErrInvalidName = errors.New("invalid username")
	// ErrUnknownWire reports an unknown codec name.
	ErrUnknownWire = errors.New("unknown wire format")
)

// Lookup returns the codec registered under name.
func Lookup(name string) (Codec, error) {
	switch name {
	case WireTagged, "":
		return Tagged{}, nil
	case WireLegacy:
		return Legacy{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownWire, name)
	}
}

// Tagged is the length-prefixed protobuf codec.
type Tagged struct{}

func (Tagged) Name() string { return WireTagged }
func (Tagged) Framed() bool { return true }

func (Tagged) Encode(msg Message) ([]byte, error) { return msg.Encode() }

func (Tagged) Decode(data []byte) (Message, error) {
	var msg Message
	err := msg.Decode(data)
	return msg, err
}

func (Tagged) EncodeRequest(msg Message) ([]byte, error) { return msg.Encode() }

func (Tagged) DecodeRequest(data []byte, handshake bool) (Message, error) {
	var msg Message
	if err := msg.Decode(data); err != nil {
		return Message{}, err
	}
	if handshake && msg.Type != MessageTypeJoin {
		return Message{}, fmt.Errorf("%w: expected %s, got %s", ErrMalformed, MessageTypeJoin, msg.Type)
	}
	return msg, nil
}

func (Tagged) ValidateName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: empty", ErrInvalidName)
	}
	return nil
}

// Legacy is the "~"-delimited text protocol spoken by older clients.
//
// Client frames are never split on the delimiter, so a chat body may contain
// "~". Server frames are split on the first delimiter only, which is why
// usernames must not contain it.
type Legacy struct{}

const (
	legacyDelimiter = "~"
	legacyServer    = "SERVER"
	legacyRename    = "USERNAME_UPDATE"
	legacyRenameCmd = "/username"
)

// LegacyReadSize is the per-read buffer size used for unframed connections.
const LegacyReadSize = 2048

func (Legacy) Name() string { return WireLegacy }
func (Legacy) Framed() bool { return false }

func (Legacy) Encode(msg Message) ([]byte, error) {
	switch msg.Type {
	case MessageTypeNotice:
		return []byte(legacyServer + legacyDelimiter + msg.Content), nil
	case MessageTypeText:
		if err := (Legacy{}).ValidateName(msg.Sender); err != nil {
			return nil, fmt.Errorf("failed to encode chat frame: %w", err)
		}
		return []byte(msg.Sender + legacyDelimiter + msg.Content), nil
	case MessageTypeRename:
		return []byte(legacyRename + legacyDelimiter + msg.Sender + legacyDelimiter + msg.Content), nil
	default:
		return nil, fmt.Errorf("failed to encode %s frame: %w", msg.Type, ErrUnknownType)
	}
}

func (Legacy) Decode(data []byte) (Message, error) {
	s := string(data)
	head, rest, ok := strings.Cut(s, legacyDelimiter)
	if !ok {
		return Message{}, fmt.Errorf("%w: missing %q", ErrMalformed, legacyDelimiter)
	}
	switch head {
	case legacyServer:
		return Notice(rest), nil
	case legacyRename:
		oldName, newName, ok := strings.Cut(rest, legacyDelimiter)
		if !ok {
			return Message{}, fmt.Errorf("%w: rename frame needs two names", ErrMalformed)
		}
		return Rename(oldName, newName), nil
	default:
		return Chat(head, rest), nil
	}
}

func (Legacy) EncodeRequest(msg Message) ([]byte, error) {
	switch msg.Type {
	case MessageTypeJoin:
		return []byte(msg.Sender), nil
	case MessageTypeText:
		return []byte(msg.Content), nil
	case MessageTypeRename:
		return []byte(legacyRenameCmd + " " + msg.Content), nil
	default:
		return nil, fmt.Errorf("failed to encode %s request: %w", msg.Type, ErrUnknownType)
	}
}

func (Legacy) DecodeRequest(data []byte, handshake bool) (Message, error) {
	s := string(data)
	if handshake {
		return Message{Type: MessageTypeJoin, Sender: s}, nil
	}
	if rest, ok := strings.CutPrefix(s, legacyRenameCmd+" "); ok {
		return Message{Type: MessageTypeRename, Content: strings.TrimSpace(rest)}, nil
	}
	return Message{Type: MessageTypeText, Content: s}, nil
}

func (Legacy) ValidateName(name string) error {
	switch {
	case name == "":
		return fmt.Errorf("%w: empty", ErrInvalidName)
	case strings.Contains(name, legacyDelimiter):
		return fmt.Errorf("%w: %q contains %q", ErrInvalidName, name, legacyDelimiter)
	case name == legacyServer || name == legacyRename:
		return fmt.Errorf("%w: %q is reserved", ErrInvalidName, name)
	}
	return nil
}
