// ABOUTME: Matrix implementation of chat.Session and chat.Listener over mautrix
// ABOUTME: Maps room history, reply relations and homeserver errors onto the chat contract

// Package matrix connects agents to a Matrix homeserver.
package matrix

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"github.com/2389/coven-conclave/internal/chat"
)

// Session is one agent's Matrix account.
type Session struct {
	client *mautrix.Client
	userID id.UserID
	logger *slog.Logger
}

// Config identifies the account.
type Config struct {
	Homeserver  string
	UserID      string
	AccessToken string
}

// NewSession creates a client for the account. No network call is made.
func NewSession(cfg Config, logger *slog.Logger) (*Session, error) {
	if logger == nil {
		logger = slog.Default()
	}
	client, err := mautrix.NewClient(cfg.Homeserver, id.UserID(cfg.UserID), cfg.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("creating matrix client: %w", err)
	}
	return &Session{
		client: client,
		userID: id.UserID(cfg.UserID),
		logger: logger.With("component", "matrix", "user_id", cfg.UserID),
	}, nil
}

// Send posts a text message, optionally as a reply and with an HTML body.
func (s *Session) Send(ctx context.Context, chatID, text string, opts chat.SendOptions) (string, error) {
	resp, err := s.client.SendMessageEvent(ctx, id.RoomID(chatID), event.EventMessage, buildContent(text, opts))
	if err != nil {
		return "", mapError(err)
	}
	return resp.EventID.String(), nil
}

// History returns up to limit most recent text messages, oldest first.
func (s *Session) History(ctx context.Context, chatID string, limit int) ([]chat.Message, error) {
	resp, err := s.client.Messages(ctx, id.RoomID(chatID), "", "", mautrix.DirectionBackward, nil, limit)
	if err != nil {
		return nil, mapError(err)
	}
	out := make([]chat.Message, 0, len(resp.Chunk))
	for i := len(resp.Chunk) - 1; i >= 0; i-- {
		if msg, ok := toMessage(resp.Chunk[i]); ok {
			out = append(out, msg)
		}
	}
	return out, nil
}

// MessagesByID fetches events one by one; missing or non-text events are skipped.
func (s *Session) MessagesByID(ctx context.Context, chatID string, ids []string) ([]chat.Message, error) {
	out := make([]chat.Message, 0, len(ids))
	for _, eventID := range ids {
		evt, err := s.client.GetEvent(ctx, id.RoomID(chatID), id.EventID(eventID))
		if errors.Is(err, mautrix.MNotFound) {
			continue
		}
		if err != nil {
			return out, mapError(err)
		}
		if msg, ok := toMessage(evt); ok {
			out = append(out, msg)
		}
	}
	return out, nil
}

// WhoAmI returns the account's user ID as the homeserver sees it.
func (s *Session) WhoAmI(ctx context.Context) (string, error) {
	resp, err := s.client.Whoami(ctx)
	if err != nil {
		return "", mapError(err)
	}
	return resp.UserID.String(), nil
}

// Listen syncs until ctx is cancelled and calls handle for every new text
// message in chatID written by someone else. Backlog from before the first
// sync is skipped.
func (s *Session) Listen(ctx context.Context, chatID string, handle func(chat.Message)) error {
	syncer, ok := s.client.Syncer.(*mautrix.DefaultSyncer)
	if !ok {
		return fmt.Errorf("unexpected syncer type: %T", s.client.Syncer)
	}
	syncer.OnSync(s.client.DontProcessOldEvents)
	syncer.OnEventType(event.EventMessage, func(_ context.Context, evt *event.Event) {
		if evt.RoomID.String() != chatID || evt.Sender == s.userID {
			return
		}
		if msg, ok := toMessage(evt); ok {
			handle(msg)
		}
	})

	s.logger.Info("listening for commands", "chat_id", chatID)
	err := s.client.SyncWithContext(ctx)
	if ctx.Err() != nil {
		return nil
	}
	if err != nil {
		return fmt.Errorf("matrix sync failed: %w", mapError(err))
	}
	return nil
}

func buildContent(text string, opts chat.SendOptions) *event.MessageEventContent {
	content := &event.MessageEventContent{
		MsgType: event.MsgText,
		Body:    text,
	}
	if opts.HTML != "" {
		content.Format = event.FormatHTML
		content.FormattedBody = opts.HTML
	}
	if opts.ReplyTo != "" {
		content.RelatesTo = &event.RelatesTo{
			InReplyTo: &event.InReplyTo{EventID: id.EventID(opts.ReplyTo)},
		}
	}
	return content
}

// toMessage converts a room event into a chat message. Events from /messages
// arrive unparsed, so the content is parsed here when needed.
func toMessage(evt *event.Event) (chat.Message, bool) {
	if evt == nil || evt.Type != event.EventMessage {
		return chat.Message{}, false
	}
	if evt.Content.Parsed == nil {
		if err := evt.Content.ParseRaw(evt.Type); err != nil {
			return chat.Message{}, false
		}
	}
	content := evt.Content.AsMessage()
	if content == nil || content.Body == "" {
		return chat.Message{}, false
	}

	msg := chat.Message{
		ID:       evt.ID.String(),
		ChatID:   evt.RoomID.String(),
		AuthorID: evt.Sender.String(),
		Text:     stripReplyFallback(content.Body),
		Seq:      evt.Timestamp,
		Time:     time.UnixMilli(evt.Timestamp),
	}
	if content.RelatesTo != nil {
		msg.ReplyTo = content.RelatesTo.GetReplyTo().String()
	}
	return msg, true
}

// stripReplyFallback removes the "> <@user> quoted" block clients prepend to replies.
func stripReplyFallback(body string) string {
	if !strings.HasPrefix(body, "> ") {
		return body
	}
	lines := strings.Split(body, "\n")
	i := 0
	for i < len(lines) && strings.HasPrefix(lines[i], ">") {
		i++
	}
	if i < len(lines) && lines[i] == "" {
		i++
	}
	return strings.Join(lines[i:], "\n")
}

// mapError wraps homeserver errors in the chat sentinels.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var re mautrix.RespError
	if errors.As(err, &re) {
		switch re.ErrCode {
		case "M_FORBIDDEN", "M_UNKNOWN_TOKEN", "M_MISSING_TOKEN", "M_USER_DEACTIVATED":
			return fmt.Errorf("%w: %v", chat.ErrAuth, err)
		case "M_LIMIT_EXCEEDED":
			return fmt.Errorf("%w: %v", chat.ErrRateLimited, err)
		case "M_CONSENT_NOT_GIVEN":
			return fmt.Errorf("%w: %v", chat.ErrChallenge, err)
		}
	}
	return fmt.Errorf("%w: %v", chat.ErrTransport, err)
}
