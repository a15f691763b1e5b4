package commands

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Type names a session command variant on the wire.
type Type string

const (
	TypeStart         Type = "session.start"
	TypeStop          Type = "session.stop"
	TypeSendMessage   Type = "session.sendMessage"
	TypeReadMessages  Type = "session.readMessages"
	TypeEditMessage   Type = "session.editMessage"
	TypeDeleteMessage Type = "session.deleteMessage"
	TypeReactMessage  Type = "session.reactMessage"
	TypeDelete        Type = "session.delete"
)

var (
	// ErrMalformed marks payloads that can never be executed.
	ErrMalformed = errors.New("malformed session command")
	// ErrUnknownType marks a well-formed payload whose type is outside the union.
	ErrUnknownType = errors.New("unknown session command type")
)

var validate = validator.New()

// Types lists every variant.
func Types() []Type {
	return []Type{
		TypeStart,
		TypeStop,
		TypeSendMessage,
		TypeReadMessages,
		TypeEditMessage,
		TypeDeleteMessage,
		TypeReactMessage,
		TypeDelete,
	}
}

// Command is the closed set of session commands. Only types in this package
// implement it.
type Command interface {
	CommandType() Type
	Session() string
	isCommand()
}

type Start struct {
	SessionID string `json:"sessionId" validate:"required"`
}

type Stop struct {
	SessionID string `json:"sessionId" validate:"required"`
	// Logout also unlinks the device from the phone.
	Logout bool `json:"logout,omitempty"`
}

type Media struct {
	URL      string `json:"url" validate:"required,url"`
	MimeType string `json:"mimeType,omitempty"`
	Caption  string `json:"caption,omitempty"`
}

type SendMessage struct {
	SessionID       string `json:"sessionId" validate:"required"`
	To              string `json:"to" validate:"required"`
	Content         string `json:"content,omitempty" validate:"required_without=Media"`
	Media           *Media `json:"media,omitempty"`
	QuotedMessageID string `json:"quotedMessageId,omitempty"`
}

type ReadMessages struct {
	SessionID  string   `json:"sessionId" validate:"required"`
	ChatID     string   `json:"chatId" validate:"required"`
	MessageIDs []string `json:"messageIds" validate:"required,min=1,dive,required"`
}

type EditMessage struct {
	SessionID string `json:"sessionId" validate:"required"`
	ChatID    string `json:"chatId" validate:"required"`
	MessageID string `json:"messageId" validate:"required"`
	Content   string `json:"content" validate:"required"`
}

type DeleteMessage struct {
	SessionID   string `json:"sessionId" validate:"required"`
	ChatID      string `json:"chatId" validate:"required"`
	MessageID   string `json:"messageId" validate:"required"`
	ForEveryone bool   `json:"forEveryone,omitempty"`
}

// ReactMessage with an empty Emoji removes the reaction.
type ReactMessage struct {
	SessionID string `json:"sessionId" validate:"required"`
	ChatID    string `json:"chatId" validate:"required"`
	MessageID string `json:"messageId" validate:"required"`
	Emoji     string `json:"emoji"`
}

type Delete struct {
	SessionID string `json:"sessionId" validate:"required"`
}

func (Start) CommandType() Type         { return TypeStart }
func (Stop) CommandType() Type          { return TypeStop }
func (SendMessage) CommandType() Type   { return TypeSendMessage }
func (ReadMessages) CommandType() Type  { return TypeReadMessages }
func (EditMessage) CommandType() Type   { return TypeEditMessage }
func (DeleteMessage) CommandType() Type { return TypeDeleteMessage }
func (ReactMessage) CommandType() Type  { return TypeReactMessage }
func (Delete) CommandType() Type        { return TypeDelete }

func (c Start) Session() string         { return c.SessionID }
func (c Stop) Session() string          { return c.SessionID }
func (c SendMessage) Session() string   { return c.SessionID }
func (c ReadMessages) Session() string  { return c.SessionID }
func (c EditMessage) Session() string   { return c.SessionID }
func (c DeleteMessage) Session() string { return c.SessionID }
func (c ReactMessage) Session() string  { return c.SessionID }
func (c Delete) Session() string        { return c.SessionID }

func (Start) isCommand()         {}
func (Stop) isCommand()          {}
func (SendMessage) isCommand()   {}
func (ReadMessages) isCommand()  {}
func (EditMessage) isCommand()   {}
func (DeleteMessage) isCommand() {}
func (ReactMessage) isCommand()  {}
func (Delete) isCommand()        {}

// Encode renders cmd as the JSON payload carried on the command stream.
func Encode(cmd Command) ([]byte, error) {
	if cmd == nil {
		return nil, errors.New("command required")
	}
	body, err := json.Marshal(cmd)
	if err != nil {
		return nil, err
	}
	fields := map[string]any{}
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, err
	}
	fields["type"] = cmd.CommandType()
	return json.Marshal(fields)
}

// Header is the part of a payload every variant shares. It survives parse
// failures so dead letters can still name the command.
type Header struct {
	Type      string `json:"type"`
	SessionID string `json:"sessionId"`
}

// PeekHeader reads type and sessionId without validating the variant.
func PeekHeader(payload string) (Header, error) {
	var h Header
	if strings.TrimSpace(payload) == "" {
		return h, fmt.Errorf("%w: empty payload", ErrMalformed)
	}
	if err := json.Unmarshal([]byte(payload), &h); err != nil {
		return h, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return h, nil
}

// Parse decodes payload into its variant. Missing type, invalid JSON and
// invalid variant fields yield ErrMalformed; a type outside the union yields
// ErrUnknownType.
func Parse(payload string) (Command, error) {
	h, err := PeekHeader(payload)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(h.Type) == "" {
		return nil, fmt.Errorf("%w: type missing", ErrMalformed)
	}

	var cmd Command
	switch Type(h.Type) {
	case TypeStart:
		cmd, err = decode[Start](payload)
	case TypeStop:
		cmd, err = decode[Stop](payload)
	case TypeSendMessage:
		cmd, err = decode[SendMessage](payload)
	case TypeReadMessages:
		cmd, err = decode[ReadMessages](payload)
	case TypeEditMessage:
		cmd, err = decode[EditMessage](payload)
	case TypeDeleteMessage:
		cmd, err = decode[DeleteMessage](payload)
	case TypeReactMessage:
		cmd, err = decode[ReactMessage](payload)
	case TypeDelete:
		cmd, err = decode[Delete](payload)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, h.Type)
	}
	if err != nil {
		return nil, err
	}
	return cmd, nil
}

func decode[T Command](payload string) (Command, error) {
	var v T
	if err := json.Unmarshal([]byte(payload), &v); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if err := Validate(v); err != nil {
		return nil, err
	}
	return v, nil
}

// Validate checks the variant's field rules.
func Validate(cmd Command) error {
	if cmd == nil {
		return fmt.Errorf("%w: command required", ErrMalformed)
	}
	if err := validate.Struct(cmd); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrMalformed, cmd.CommandType(), err)
	}
	return nil
}
