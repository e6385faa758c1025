package live

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/zhouzirui/startup-chat/client/internal/service/conversation"
	"github.com/zhouzirui/startup-chat/client/internal/service/persistence"
	"github.com/zhouzirui/startup-chat/client/internal/service/registry"
	"github.com/zhouzirui/startup-chat/client/internal/service/transport"
	"github.com/zhouzirui/startup-chat/client/internal/storage"
)

type echoGateway struct{}

func (echoGateway) RequestIntegrityToken(context.Context) (transport.Grant, error) {
	return transport.Grant{SessionID: "s1", Token: "t1"}, nil
}

func (echoGateway) SendQuery(_ context.Context, text, sessionID, _ string) (transport.Answer, error) {
	return transport.Answer{Answer: "re: " + text, SessionID: sessionID}, nil
}

func (echoGateway) Transcribe(context.Context, io.Reader, string, string, string) (string, error) {
	return "", nil
}

func newServer(t *testing.T) (*httptest.Server, *conversation.Controller) {
	t.Helper()
	ctrl := conversation.NewController(echoGateway{}, registry.New(persistence.New(storage.NewMemory(), nil)))
	ctrl.Restore(context.Background())

	r := chi.NewRouter()
	New(ctrl, WithPingInterval(time.Hour)).RegisterRoutes(r)
	return httptest.NewServer(r), ctrl
}

type frame struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

func readUntil(t *testing.T, conn *websocket.Conn, match func(frame) bool) frame {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	for {
		var f frame
		require.NoError(t, conn.ReadJSON(&f))
		if match(f) {
			return f
		}
	}
}

func snapshotOf(t *testing.T, f frame) conversation.Snapshot {
	t.Helper()
	var snap conversation.Snapshot
	require.NoError(t, json.Unmarshal(f.Data, &snap))
	return snap
}

func TestWebSocketStreamsTurn(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	srv, ctrl := newServer(t)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/live/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	initial := readUntil(t, conn, func(f frame) bool { return f.Type == "snapshot" })
	assert.Empty(t, snapshotOf(t, initial).Messages)

	require.NoError(t, conn.WriteJSON(map[string]any{
		"type": "send",
		"data": map[string]string{"text": "नमस्कार"},
	}))

	done := readUntil(t, conn, func(f frame) bool {
		if f.Type != "snapshot" {
			return false
		}
		snap := snapshotOf(t, f)
		return len(snap.Messages) == 2 && !snap.IsTyping
	})
	snap := snapshotOf(t, done)
	assert.Equal(t, "re: नमस्कार", snap.Messages[1].Text)
	assert.Equal(t, "s1", snap.CurrentSessionID)
	assert.Equal(t, "s1", ctrl.Snapshot().CurrentSessionID)

	require.NoError(t, conn.WriteJSON(map[string]string{"type": "new"}))
	cleared := readUntil(t, conn, func(f frame) bool {
		return f.Type == "snapshot" && snapshotOf(t, f).CurrentSessionID == ""
	})
	assert.Empty(t, snapshotOf(t, cleared).Messages)
	assert.Len(t, snapshotOf(t, cleared).ChatSessions, 1)

	require.NoError(t, conn.WriteJSON(map[string]string{"type": "select", "sessionId": "s1"}))
	selected := readUntil(t, conn, func(f frame) bool {
		return f.Type == "snapshot" && snapshotOf(t, f).CurrentSessionID == "s1"
	})
	assert.Len(t, snapshotOf(t, selected).Messages, 2)

	require.NoError(t, conn.Close())
}

func TestWebSocketReportsBadCommands(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	srv, _ := newServer(t)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/live/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	tests := []struct {
		command map[string]any
		want    string
	}{
		{map[string]any{"type": "send", "data": map[string]string{"text": "  "}}, conversation.ErrEmptyMessage.Error()},
		{map[string]any{"type": "delete"}, conversation.ErrSessionIDEmpty.Error()},
		{map[string]any{"type": "dance"}, "unsupported message type: dance"},
	}
	for _, tt := range tests {
		require.NoError(t, conn.WriteJSON(tt.command))
		f := readUntil(t, conn, func(f frame) bool { return f.Type == "error" })
		var body map[string]string
		require.NoError(t, json.Unmarshal(f.Data, &body))
		assert.Equal(t, tt.want, body["message"])
	}

	require.NoError(t, conn.Close())
}

func TestEventStreamSendsSnapshots(t *testing.T) {
	srv, ctrl := newServer(t)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/live/events", nil)
	require.NoError(t, err)
	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	reader := bufio.NewReader(resp.Body)
	nextSnapshot := func() conversation.Snapshot {
		t.Helper()
		event := ""
		for {
			line, err := reader.ReadString('\n')
			require.NoError(t, err)
			line = strings.TrimSpace(line)
			switch {
			case strings.HasPrefix(line, "event: "):
				event = strings.TrimPrefix(line, "event: ")
			case strings.HasPrefix(line, "data: ") && event == "snapshot":
				var snap conversation.Snapshot
				require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &snap))
				return snap
			}
		}
	}

	assert.Empty(t, nextSnapshot().Messages)

	ctrl.NewConversation()
	snap := nextSnapshot()
	assert.False(t, snap.IsTyping)
	assert.Equal(t, "", snap.CurrentSessionID)
}
