package sessions

import (
	"context"
	"fmt"

	"github.com/angelmondragon/wasessions-backend/internal/commands"
	pkgerrors "github.com/angelmondragon/wasessions-backend/pkg/errors"
	"github.com/angelmondragon/wasessions-backend/pkg/waprovider"
)

// Provider drives the device connection of a session.
type Provider interface {
	Start(ctx context.Context, sessionID string) error
	Stop(ctx context.Context, sessionID string, logout bool) error
	SendMessage(ctx context.Context, sessionID string, req waprovider.SendRequest) (string, error)
	ReadMessages(ctx context.Context, sessionID, chatID string, messageIDs []string) error
	EditMessage(ctx context.Context, sessionID, chatID, messageID, content string) error
	DeleteMessage(ctx context.Context, sessionID, chatID, messageID string, forEveryone bool) error
	ReactMessage(ctx context.Context, sessionID, chatID, messageID, emoji string) error
	Destroy(ctx context.Context, sessionID string) error
}

// Executor runs session commands against the provider.
type Executor struct {
	sessions *Service
	provider Provider
}

var _ commands.SessionPort = (*Executor)(nil)

func NewExecutor(sessions *Service, provider Provider) (*Executor, error) {
	if sessions == nil {
		return nil, fmt.Errorf("sessions service required")
	}
	if provider == nil {
		return nil, fmt.Errorf("provider required")
	}
	return &Executor{sessions: sessions, provider: provider}, nil
}

func (e *Executor) Start(ctx context.Context, cmd commands.Start) error {
	if _, err := e.sessions.Active(ctx, cmd.SessionID); err != nil {
		return err
	}
	return e.provider.Start(ctx, cmd.SessionID)
}

func (e *Executor) Stop(ctx context.Context, cmd commands.Stop) error {
	if _, err := e.sessions.Active(ctx, cmd.SessionID); err != nil {
		return err
	}
	return e.provider.Stop(ctx, cmd.SessionID, cmd.Logout)
}

func (e *Executor) SendMessage(ctx context.Context, cmd commands.SendMessage) error {
	if _, err := e.sessions.Active(ctx, cmd.SessionID); err != nil {
		return err
	}
	req := waprovider.SendRequest{
		To:              cmd.To,
		Content:         cmd.Content,
		QuotedMessageID: cmd.QuotedMessageID,
	}
	if cmd.Media != nil {
		req.MediaURL = cmd.Media.URL
		req.MimeType = cmd.Media.MimeType
		req.Caption = cmd.Media.Caption
	}
	messageID, err := e.provider.SendMessage(ctx, cmd.SessionID, req)
	if err != nil {
		return err
	}
	if messageID == "" {
		return nil
	}
	return e.sessions.RecordSent(ctx, cmd.SessionID, messageID, cmd.To, cmd.Content)
}

func (e *Executor) ReadMessages(ctx context.Context, cmd commands.ReadMessages) error {
	if _, err := e.sessions.Active(ctx, cmd.SessionID); err != nil {
		return err
	}
	return e.provider.ReadMessages(ctx, cmd.SessionID, cmd.ChatID, cmd.MessageIDs)
}

func (e *Executor) EditMessage(ctx context.Context, cmd commands.EditMessage) error {
	if _, err := e.sessions.Active(ctx, cmd.SessionID); err != nil {
		return err
	}
	return e.provider.EditMessage(ctx, cmd.SessionID, cmd.ChatID, cmd.MessageID, cmd.Content)
}

func (e *Executor) DeleteMessage(ctx context.Context, cmd commands.DeleteMessage) error {
	if _, err := e.sessions.Active(ctx, cmd.SessionID); err != nil {
		return err
	}
	return e.provider.DeleteMessage(ctx, cmd.SessionID, cmd.ChatID, cmd.MessageID, cmd.ForEveryone)
}

func (e *Executor) ReactMessage(ctx context.Context, cmd commands.ReactMessage) error {
	if _, err := e.sessions.Active(ctx, cmd.SessionID); err != nil {
		return err
	}
	return e.provider.ReactMessage(ctx, cmd.SessionID, cmd.ChatID, cmd.MessageID, cmd.Emoji)
}

// Delete tears the session down on the bridge, then marks it deleted. A
// session the bridge no longer knows is still marked deleted.
func (e *Executor) Delete(ctx context.Context, cmd commands.Delete) error {
	if err := e.provider.Destroy(ctx, cmd.SessionID); err != nil {
		if !pkgerrors.Is(err, pkgerrors.CodeNotFound) {
			return err
		}
	}
	return e.sessions.MarkDeleted(ctx, cmd.SessionID)
}
