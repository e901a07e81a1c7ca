// ABOUTME: Tests for the Matrix session against a fake homeserver
// ABOUTME: Covers send with reply relation, history ordering, event lookup and error mapping

package matrix

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"github.com/2389/coven-conclave/internal/chat"
)

type fakeHomeserver struct {
	mu       sync.Mutex
	sent     []map[string]any
	forbid   bool
	messages string
}

func (f *fakeHomeserver) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	w.Header().Set("Content-Type", "application/json")

	if f.forbid {
		w.WriteHeader(http.StatusForbidden)
		_, _ = io.WriteString(w, `{"errcode":"M_FORBIDDEN","error":"not in room"}`)
		return
	}

	path := r.URL.Path
	switch {
	case strings.Contains(path, "/send/m.room.message/"):
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		f.sent = append(f.sent, body)
		fmt.Fprintf(w, `{"event_id":"$sent%d"}`, len(f.sent))
	case strings.HasSuffix(path, "/messages"):
		_, _ = io.WriteString(w, f.messages)
	case strings.Contains(path, "/event/$missing"):
		w.WriteHeader(http.StatusNotFound)
		_, _ = io.WriteString(w, `{"errcode":"M_NOT_FOUND","error":"no such event"}`)
	case strings.Contains(path, "/event/"):
		_, _ = io.WriteString(w, `{"type":"m.room.message","event_id":"$e1","room_id":"!room:test",
			"sender":"@game:test","origin_server_ts":1000,"content":{"msgtype":"m.text","body":"found"}}`)
	case strings.HasSuffix(path, "/account/whoami"):
		_, _ = io.WriteString(w, `{"user_id":"@agent:test"}`)
	default:
		w.WriteHeader(http.StatusNotFound)
		_, _ = io.WriteString(w, `{"errcode":"M_UNRECOGNIZED","error":"unknown endpoint"}`)
	}
}

func newTestSession(t *testing.T, hs *fakeHomeserver) *Session {
	t.Helper()
	srv := httptest.NewServer(hs)
	t.Cleanup(srv.Close)

	s, err := NewSession(Config{Homeserver: srv.URL, UserID: "@agent:test", AccessToken: "tok"}, nil)
	require.NoError(t, err)
	return s
}

func TestSendWithReplyAndHTML(t *testing.T) {
	hs := &fakeHomeserver{}
	s := newTestSession(t, hs)

	eventID, err := s.Send(context.Background(), "!room:test", "благословение атаки",
		chat.SendOptions{ReplyTo: "$trigger", HTML: "<b>hi</b>"})
	require.NoError(t, err)
	assert.Equal(t, "$sent1", eventID)

	require.Len(t, hs.sent, 1)
	body := hs.sent[0]
	assert.Equal(t, "m.text", body["msgtype"])
	assert.Equal(t, "благословение атаки", body["body"])
	assert.Equal(t, "org.matrix.custom.html", body["format"])
	assert.Equal(t, "<b>hi</b>", body["formatted_body"])

	rel, ok := body["m.relates_to"].(map[string]any)
	require.True(t, ok, "reply relation missing: %v", body)
	inReply, ok := rel["m.in_reply_to"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "$trigger", inReply["event_id"])
}

func TestHistoryOldestFirst(t *testing.T) {
	hs := &fakeHomeserver{messages: `{"start":"s","end":"e","chunk":[
		{"type":"m.room.message","event_id":"$3","room_id":"!room:test","sender":"@game:test","origin_server_ts":3000,
		 "content":{"msgtype":"m.text","body":"> <@agent:test> благословение атаки\n\nГолос у Апостола: 4",
		 "m.relates_to":{"m.in_reply_to":{"event_id":"$2"}}}},
		{"type":"m.room.member","event_id":"$x","room_id":"!room:test","sender":"@n:test","origin_server_ts":2500,
		 "state_key":"@n:test","content":{"membership":"join"}},
		{"type":"m.room.message","event_id":"$2","room_id":"!room:test","sender":"@agent:test","origin_server_ts":2000,
		 "content":{"msgtype":"m.text","body":"благословение атаки"}},
		{"type":"m.room.message","event_id":"$1","room_id":"!room:test","sender":"@user:test","origin_server_ts":1000,
		 "content":{"msgtype":"m.text","body":"!баф а"}}
	]}`}
	s := newTestSession(t, hs)

	msgs, err := s.History(context.Background(), "!room:test", 25)
	require.NoError(t, err)
	require.Len(t, msgs, 3)

	assert.Equal(t, []string{"$1", "$2", "$3"}, []string{msgs[0].ID, msgs[1].ID, msgs[2].ID})
	assert.Equal(t, int64(1000), msgs[0].Seq)
	assert.Equal(t, "@user:test", msgs[0].AuthorID)
	assert.Equal(t, "$2", msgs[2].ReplyTo)
	assert.Equal(t, "Голос у Апостола: 4", msgs[2].Text)
}

func TestMessagesByIDSkipsMissing(t *testing.T) {
	s := newTestSession(t, &fakeHomeserver{})

	msgs, err := s.MessagesByID(context.Background(), "!room:test", []string{"$missing", "$e1"})
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "found", msgs[0].Text)
}

func TestWhoAmI(t *testing.T) {
	s := newTestSession(t, &fakeHomeserver{})
	who, err := s.WhoAmI(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "@agent:test", who)
}

func TestForbiddenMapsToAuth(t *testing.T) {
	s := newTestSession(t, &fakeHomeserver{forbid: true})
	_, err := s.Send(context.Background(), "!room:test", "x", chat.SendOptions{})
	assert.ErrorIs(t, err, chat.ErrAuth)
}

func TestMapError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{"unknown token", fmt.Errorf("req: %w", mautrix.MUnknownToken), chat.ErrAuth},
		{"rate limited", fmt.Errorf("req: %w", mautrix.MLimitExceeded), chat.ErrRateLimited},
		{"consent", mautrix.RespError{ErrCode: "M_CONSENT_NOT_GIVEN"}, chat.ErrChallenge},
		{"other", errors.New("connection reset"), chat.ErrTransport},
		{"cancelled", context.Canceled, context.Canceled},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, mapError(tt.err), tt.want)
		})
	}
	assert.NoError(t, mapError(nil))
}

func TestToMessage(t *testing.T) {
	evt := &event.Event{
		Type:      event.EventMessage,
		ID:        id.EventID("$9"),
		RoomID:    id.RoomID("!room:test"),
		Sender:    id.UserID("@game:test"),
		Timestamp: 9000,
		Content: event.Content{Parsed: &event.MessageEventContent{
			MsgType: event.MsgText,
			Body:    "Благословение уже наложено",
		}},
	}
	msg, ok := toMessage(evt)
	require.True(t, ok)
	assert.Equal(t, "Благословение уже наложено", msg.Text)
	assert.Empty(t, msg.ReplyTo)

	_, ok = toMessage(nil)
	assert.False(t, ok)
}

func TestStripReplyFallback(t *testing.T) {
	assert.Equal(t, "plain", stripReplyFallback("plain"))
	assert.Equal(t, "answer", stripReplyFallback("> <@a:t> question\n> more\n\nanswer"))
	assert.Equal(t, "line1\nline2", stripReplyFallback("> q\n\nline1\nline2"))
}
