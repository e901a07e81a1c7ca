// ABOUTME: Transport contract consumed by the engine and its sentinel errors
// ABOUTME: Messages carry a sortable sequence so callers can find new replies

package chat

import (
	"context"
	"errors"
	"strings"
	"time"
)

// Transport errors. Platform implementations wrap one of these.
var (
	ErrAuth        = errors.New("chat: authentication failed")
	ErrRateLimited = errors.New("chat: rate limited")
	ErrChallenge   = errors.New("chat: anti-automation challenge")
	ErrTransport   = errors.New("chat: transport error")
	ErrCircuitOpen = errors.New("chat: circuit open")
)

// Message is a chat message as seen by one session.
type Message struct {
	ID       string
	ChatID   string
	AuthorID string
	Text     string
	ReplyTo  string
	// Seq orders messages within a chat; later messages never have a smaller Seq.
	Seq  int64
	Time time.Time
}

// SendOptions modifies an outgoing message.
type SendOptions struct {
	// ReplyTo links the message to an earlier one so the platform attributes it.
	ReplyTo string
	// HTML is an optional formatted rendering of the text.
	HTML string
}

// Session is one account's connection to the chat platform.
type Session interface {
	Send(ctx context.Context, chatID, text string, opts SendOptions) (string, error)
	// History returns up to limit most recent messages, oldest first.
	History(ctx context.Context, chatID string, limit int) ([]Message, error)
	MessagesByID(ctx context.Context, chatID string, ids []string) ([]Message, error)
	WhoAmI(ctx context.Context) (string, error)
}

// Listener is implemented by sessions that can stream incoming messages.
type Listener interface {
	Listen(ctx context.Context, chatID string, handle func(Message)) error
}

// Invalidator is implemented by sessions that cache history.
type Invalidator interface {
	Invalidate(chatID string)
}

// Invalidate drops cached history for chatID if s caches.
func Invalidate(s Session, chatID string) {
	if inv, ok := s.(Invalidator); ok {
		inv.Invalidate(chatID)
	}
}

// NormalizeText folds whitespace and case for trigger comparison.
func NormalizeText(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}

// Status maps a transport error onto a short status code.
func Status(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrAuth):
		return "auth"
	case errors.Is(err, ErrRateLimited):
		return "rate_limited"
	case errors.Is(err, ErrChallenge):
		return "challenge"
	case errors.Is(err, ErrCircuitOpen):
		return "circuit_open"
	default:
		return "transport_error"
	}
}
