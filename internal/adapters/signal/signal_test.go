package signal

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	json "github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/spf13/afero"

	"github.com/dkeye/VoiceHub/internal/adapters/cache"
	"github.com/dkeye/VoiceHub/internal/adapters/identity"
	"github.com/dkeye/VoiceHub/internal/adapters/sink"
	"github.com/dkeye/VoiceHub/internal/adapters/store"
	"github.com/dkeye/VoiceHub/internal/app"
	"github.com/dkeye/VoiceHub/internal/app/orch"
	"github.com/dkeye/VoiceHub/internal/domain"
)

type inbound struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

func newTestServer(t *testing.T, limit int) string {
	t.Helper()
	gin.SetMode(gin.TestMode)

	verifier, err := identity.NewStatic(map[string]string{
		"alice-token": "alice:Alice:customer",
		"bob-token":   "bob:Bob:seller",
	})
	if err != nil {
		t.Fatalf("NewStatic: %v", err)
	}
	st := store.NewMemoryStore()
	c := cache.NewMemoryCache()
	o := &orch.Orchestrator{
		Registry: app.NewRegistry(),
		Presence: app.NewPresence(c, time.Hour),
		Rooms:    app.NewRoomResolver(st, c, time.Hour),
		Messages: app.NewMessagePipeline(st, c, 0),
		Calls:    app.NewCallManager(st, c, time.Minute, time.Minute),
		Recorder: app.NewRecorder(st, sink.NewFileSinks(afero.NewMemMapFs(), "/rec")),
		Identity: verifier,
		Policy:   app.SimplePolicy{},
	}
	o.Init()

	ctl := NewSignalWSController(o, limit, time.Minute, Options{Debug: true})
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	r := gin.New()
	r.GET("/ws", func(c *gin.Context) { ctl.HandleSignal(ctx, c) })
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", url, err)
	}
	t.Cleanup(func() { _ = ws.Close() })
	return ws
}

func send(t *testing.T, ws *websocket.Conn, frame string) {
	t.Helper()
	if err := ws.WriteMessage(websocket.TextMessage, []byte(frame)); err != nil {
		t.Fatalf("write %s: %v", frame, err)
	}
}

// readUntil skips frames until one of type typ arrives.
func readUntil(t *testing.T, ws *websocket.Conn, typ string) json.RawMessage {
	t.Helper()
	_ = ws.SetReadDeadline(time.Now().Add(3 * time.Second))
	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			t.Fatalf("waiting for %s: %v", typ, err)
		}
		var in inbound
		if err := json.Unmarshal(data, &in); err != nil {
			t.Fatalf("bad frame %s: %v", data, err)
		}
		if in.Type == typ {
			return in.Data
		}
	}
}

func errorCode(t *testing.T, ws *websocket.Conn) domain.Code {
	t.Helper()
	var ev struct {
		Code domain.Code `json:"code"`
	}
	_ = json.Unmarshal(readUntil(t, ws, "error"), &ev)
	return ev.Code
}

func TestSignalRequiresAuthentication(t *testing.T) {
	url := newTestServer(t, 0)
	ws := dial(t, url)

	send(t, ws, `{"type":"joinRoom","otherUserId":"bob"}`)
	if code := errorCode(t, ws); code != domain.CodeNotAuthenticated {
		t.Fatalf("code = %s, want NOT_AUTHENTICATED", code)
	}
	send(t, ws, `{"type":"authenticate","token":"nope"}`)
	if code := errorCode(t, ws); code != domain.CodeAuth {
		t.Fatalf("code = %s, want AUTH_ERROR", code)
	}
	send(t, ws, `{"type":"authenticate","token":"alice-token"}`)
	var auth struct {
		User domain.Identity `json:"user"`
	}
	_ = json.Unmarshal(readUntil(t, ws, "authenticated"), &auth)
	if auth.User.ID != "alice" || auth.User.DisplayName != "Alice" {
		t.Fatalf("authenticated as %+v", auth.User)
	}
}

func TestSignalRejectsBadFrames(t *testing.T) {
	url := newTestServer(t, 0)
	ws := dial(t, url+"?token=alice-token")
	readUntil(t, ws, "authenticated")

	frames := []string{
		`not json`,
		`{"type":"teleport"}`,
		`{"type":"sendMessage","receiverId":"bob"}`,
		`{"type":"initiateCall","calleeId":"bob","callType":"hologram"}`,
		`{"type":"markMessageRead"}`,
	}
	for _, f := range frames {
		send(t, ws, f)
		if code := errorCode(t, ws); code != domain.CodeBadPayload {
			t.Fatalf("frame %s: code = %s, want BAD_PAYLOAD", f, code)
		}
	}

	send(t, ws, `{"type":"ping"}`)
	readUntil(t, ws, "pong")
}

func TestSignalChatBetweenTwoClients(t *testing.T) {
	url := newTestServer(t, 0)
	alice := dial(t, url+"?token=alice-token")
	readUntil(t, alice, "authenticated")
	bob := dial(t, url+"?token=bob-token&role=seller")
	readUntil(t, bob, "authenticated")
	readUntil(t, alice, "userOnline")

	send(t, bob, `{"type":"joinRoom","otherUserId":"alice"}`)
	readUntil(t, bob, "roomJoined")

	send(t, alice, `{"type":"sendMessage","receiverId":"bob","content":"hi bob"}`)
	var got struct {
		Message domain.Message `json:"message"`
	}
	_ = json.Unmarshal(readUntil(t, bob, "message"), &got)
	if got.Message.Content != "hi bob" || got.Message.SenderID != "alice" {
		t.Fatalf("bob received %+v", got.Message)
	}

	send(t, alice, `{"type":"initiateCall","calleeId":"bob","callType":"audio"}`)
	readUntil(t, bob, "incomingCall")
	send(t, bob, `{"type":"acceptCall","callerId":"alice"}`)
	readUntil(t, alice, "callAccepted")
	send(t, alice, `{"type":"signal","to":"bob","kind":"offer","payload":{"sdp":"v=0"}}`)
	var sig struct {
		From    domain.UserID   `json:"from"`
		Payload json.RawMessage `json:"payload"`
	}
	_ = json.Unmarshal(readUntil(t, bob, "signal"), &sig)
	if sig.From != "alice" || !strings.Contains(string(sig.Payload), "v=0") {
		t.Fatalf("signal = %+v", sig)
	}

	_ = alice.Close()
	readUntil(t, bob, "callEnded")
	readUntil(t, bob, "userOffline")
}

func TestSignalRateLimitsMessages(t *testing.T) {
	url := newTestServer(t, 1)
	ws := dial(t, url+"?token=alice-token")
	readUntil(t, ws, "authenticated")

	send(t, ws, `{"type":"sendMessage","receiverId":"bob","content":"one"}`)
	readUntil(t, ws, "message")
	send(t, ws, `{"type":"sendMessage","receiverId":"bob","content":"two"}`)
	if code := errorCode(t, ws); code != domain.CodeRateLimited {
		t.Fatalf("code = %s, want RATE_LIMITED", code)
	}
}
