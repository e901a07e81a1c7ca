// ABOUTME: In-memory chat surface implementing chat.Session for tests
// ABOUTME: Scripted responders post game replies synchronously after each send

package chattest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/2389/coven-conclave/internal/chat"
)

// GameAuthor is the author id used for scripted replies.
const GameAuthor = "@game:test"

// Responder inspects a sent message and returns reply texts to post into the
// same chat. The replied-to message is nil when the send had no ReplyTo.
type Responder func(sent chat.Message, repliedTo *chat.Message) []string

// Surface is a shared fake chat platform. Sessions created from the same
// Surface see the same chats.
type Surface struct {
	mu        sync.Mutex
	seq       int64
	chats     map[string][]chat.Message
	byID      map[string]chat.Message
	responder Responder
	sendErrs  map[string]error
	readErrs  map[string]error
	historyN  map[string]int
	listeners map[string][]func(chat.Message)
}

// New creates an empty surface.
func New() *Surface {
	return &Surface{
		chats:     make(map[string][]chat.Message),
		byID:      make(map[string]chat.Message),
		sendErrs:  make(map[string]error),
		readErrs:  make(map[string]error),
		historyN:  make(map[string]int),
		listeners: make(map[string][]func(chat.Message)),
	}
}

// Respond installs the responder for all subsequent sends.
func (s *Surface) Respond(r Responder) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.responder = r
}

// FailSends makes every send by userID return err. A nil err clears it.
func (s *Surface) FailSends(userID string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.sendErrs, userID)
		return
	}
	s.sendErrs[userID] = err
}

// FailHistory makes every History call by userID return err. A nil err
// clears it. Safe to call from a Responder.
func (s *Surface) FailHistory(userID string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.readErrs, userID)
		return
	}
	s.readErrs[userID] = err
}

// Post appends a message authored by authorID and notifies listeners.
func (s *Surface) Post(chatID, authorID, text string) chat.Message {
	s.mu.Lock()
	msg := s.appendLocked(chatID, authorID, text, "")
	handlers := append([]func(chat.Message){}, s.listeners[chatID]...)
	s.mu.Unlock()

	for _, h := range handlers {
		h(msg)
	}
	return msg
}

// Messages returns a copy of a chat's messages, oldest first.
func (s *Surface) Messages(chatID string) []chat.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]chat.Message(nil), s.chats[chatID]...)
}

// HistoryCalls returns how often History was called for chatID.
func (s *Surface) HistoryCalls(chatID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.historyN[chatID]
}

// Session returns a session acting as userID.
func (s *Surface) Session(userID string) *Session {
	return &Session{surface: s, userID: userID}
}

func (s *Surface) appendLocked(chatID, authorID, text, replyTo string) chat.Message {
	s.seq++
	msg := chat.Message{
		ID:       fmt.Sprintf("$%d", s.seq),
		ChatID:   chatID,
		AuthorID: authorID,
		Text:     text,
		ReplyTo:  replyTo,
		Seq:      s.seq,
		Time:     time.Unix(1700000000+s.seq, 0),
	}
	s.chats[chatID] = append(s.chats[chatID], msg)
	s.byID[msg.ID] = msg
	return msg
}

// Session is one account on a Surface.
type Session struct {
	surface *Surface
	userID  string
}

var _ chat.Session = (*Session)(nil)
var _ chat.Listener = (*Session)(nil)

// Send posts text as the session user and runs the responder.
func (c *Session) Send(ctx context.Context, chatID, text string, opts chat.SendOptions) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	s := c.surface
	s.mu.Lock()
	if err := s.sendErrs[c.userID]; err != nil {
		s.mu.Unlock()
		return "", err
	}
	sent := s.appendLocked(chatID, c.userID, text, opts.ReplyTo)
	var repliedTo *chat.Message
	if orig, ok := s.byID[opts.ReplyTo]; ok {
		repliedTo = &orig
	}
	responder := s.responder
	s.mu.Unlock()

	if responder != nil {
		for _, r := range responder(sent, repliedTo) {
			s.mu.Lock()
			s.appendLocked(chatID, GameAuthor, r, sent.ID)
			s.mu.Unlock()
		}
	}
	return sent.ID, nil
}

// History returns the last limit messages of chatID, oldest first.
func (c *Session) History(ctx context.Context, chatID string, limit int) ([]chat.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s := c.surface
	s.mu.Lock()
	defer s.mu.Unlock()
	s.historyN[chatID]++
	if err := s.readErrs[c.userID]; err != nil {
		return nil, err
	}
	msgs := s.chats[chatID]
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	return append([]chat.Message(nil), msgs...), nil
}

// MessagesByID returns the known messages among ids.
func (c *Session) MessagesByID(ctx context.Context, chatID string, ids []string) ([]chat.Message, error) {
	s := c.surface
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []chat.Message
	for _, id := range ids {
		if msg, ok := s.byID[id]; ok && msg.ChatID == chatID {
			out = append(out, msg)
		}
	}
	return out, nil
}

// WhoAmI returns the session user.
func (c *Session) WhoAmI(context.Context) (string, error) {
	return c.userID, nil
}

// Listen registers handle for messages posted with Post until ctx is done.
func (c *Session) Listen(ctx context.Context, chatID string, handle func(chat.Message)) error {
	s := c.surface
	s.mu.Lock()
	s.listeners[chatID] = append(s.listeners[chatID], handle)
	s.mu.Unlock()
	<-ctx.Done()
	return nil
}
