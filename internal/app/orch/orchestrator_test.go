package orch

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/spf13/afero"
	"go.uber.org/mock/gomock"

	"github.com/dkeye/VoiceHub/internal/adapters/cache"
	"github.com/dkeye/VoiceHub/internal/adapters/sink"
	"github.com/dkeye/VoiceHub/internal/adapters/store"
	"github.com/dkeye/VoiceHub/internal/app"
	"github.com/dkeye/VoiceHub/internal/core"
	"github.com/dkeye/VoiceHub/internal/core/mocks"
	"github.com/dkeye/VoiceHub/internal/domain"
)

type frame struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type recordingConn struct {
	mu      sync.Mutex
	frames  []frame
	stalled bool
}

func (c *recordingConn) TrySend(f core.Frame) error {
	c.mu.Lock()
	stalled := c.stalled
	c.mu.Unlock()
	if stalled {
		return core.ErrBackpressure
	}
	var fr frame
	if err := json.Unmarshal(f, &fr); err != nil {
		return err
	}
	c.mu.Lock()
	c.frames = append(c.frames, fr)
	c.mu.Unlock()
	return nil
}

func (c *recordingConn) Close() {}

func (c *recordingConn) stall() {
	c.mu.Lock()
	c.stalled = true
	c.mu.Unlock()
}

// last decodes the most recent event of typ into v and reports whether one arrived.
func (c *recordingConn) last(typ string, v any) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := len(c.frames) - 1; i >= 0; i-- {
		if c.frames[i].Type == typ {
			if v != nil {
				_ = json.Unmarshal(c.frames[i].Data, v)
			}
			return true
		}
	}
	return false
}

func (c *recordingConn) count(typ string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, f := range c.frames {
		if f.Type == typ {
			n++
		}
	}
	return n
}

type harness struct {
	o     *Orchestrator
	store *store.MemoryStore
	cache *cache.MemoryCache
	fs    afero.Fs
}

func newHarness(t *testing.T, ringTimeout time.Duration) *harness {
	t.Helper()
	ctrl := gomock.NewController(t)
	verifier := mocks.NewMockIdentityVerifier(ctrl)
	verifier.EXPECT().VerifyToken(gomock.Any(), gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, token, role string) (*domain.Identity, error) {
			uid, ok := strings.CutPrefix(token, "tok-")
			if !ok {
				return nil, domain.ErrAuth
			}
			return domain.NewIdentity(uid, strings.ToUpper(uid[:1])+uid[1:], "customer", nil)
		}).AnyTimes()

	st := store.NewMemoryStore()
	c := cache.NewMemoryCache()
	fs := afero.NewMemMapFs()
	o := &Orchestrator{
		Registry: app.NewRegistry(),
		Presence: app.NewPresence(c, time.Hour),
		Rooms:    app.NewRoomResolver(st, c, time.Hour),
		Messages: app.NewMessagePipeline(st, c, app.DefaultRecentMessages),
		Calls:    app.NewCallManager(st, c, ringTimeout, time.Minute),
		Recorder: app.NewRecorder(st, sink.NewFileSinks(fs, "/rec")),
		Identity: verifier,
		Policy:   app.SimplePolicy{},
	}
	o.Init()
	return &harness{o: o, store: st, cache: c, fs: fs}
}

// connect opens a connection and authenticates it as uid.
func (h *harness) connect(t *testing.T, sid core.SessionID, uid string) *recordingConn {
	t.Helper()
	conn := &recordingConn{}
	h.o.Connect(sid, conn, nil)
	if err := h.o.Authenticate(context.Background(), sid, "tok-"+uid, ""); err != nil {
		t.Fatalf("Authenticate(%s): %v", uid, err)
	}
	return conn
}

func TestAuthenticateAnnouncesPresence(t *testing.T) {
	h := newHarness(t, time.Minute)
	alice := h.connect(t, "a1", "alice")
	bob := h.connect(t, "b1", "bob")

	var auth core.AuthenticatedEvent
	if !bob.last("authenticated", &auth) || auth.User.ID != "bob" {
		t.Fatalf("authenticated event = %+v", auth)
	}
	var online core.OnlineUsersEvent
	if !bob.last("onlineUsers", &online) || len(online.Users) != 2 {
		t.Fatalf("onlineUsers = %+v, want 2 users", online)
	}
	if !alice.last("userOnline", nil) {
		t.Fatal("alice was not told bob came online")
	}

	h.connect(t, "b2", "bob")
	if n := alice.count("userOnline"); n != 1 {
		t.Fatalf("second bob connection announced again: %d userOnline events", n)
	}
}

func TestAuthenticateRejectsBadToken(t *testing.T) {
	h := newHarness(t, time.Minute)
	h.o.Connect("s1", &recordingConn{}, nil)

	if err := h.o.Authenticate(context.Background(), "s1", "garbage", ""); !errors.Is(err, domain.ErrAuth) {
		t.Fatalf("Authenticate = %v, want AUTH_ERROR", err)
	}
	if err := h.o.JoinRoom(context.Background(), "s1", "bob"); !errors.Is(err, domain.ErrNotAuthenticated) {
		t.Fatalf("JoinRoom before auth = %v, want NOT_AUTHENTICATED", err)
	}
}

func TestSendThenJoinReturnsBacklog(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, time.Minute)
	alice := h.connect(t, "a1", "alice")
	bob := h.connect(t, "b1", "bob")

	if err := h.o.SendMessage(ctx, "a1", "bob", "hello"); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	var echo core.MessageEvent
	if !alice.last("message", &echo) || echo.Message.Content != "hello" {
		t.Fatalf("sender echo = %+v", echo)
	}

	if err := h.o.JoinRoom(ctx, "b1", "alice"); err != nil {
		t.Fatalf("JoinRoom: %v", err)
	}
	var joined core.RoomJoinedEvent
	if !bob.last("roomJoined", &joined) {
		t.Fatal("no roomJoined event")
	}
	if len(joined.Messages) != 1 || joined.Messages[0].Content != "hello" {
		t.Fatalf("backlog = %+v", joined.Messages)
	}
	if joined.Room.ID != echo.Message.RoomID {
		t.Fatalf("joined %s, message went to %s", joined.Room.ID, echo.Message.RoomID)
	}
}

func TestRoomFanOutAndTyping(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, time.Minute)
	alice := h.connect(t, "a1", "alice")
	bob := h.connect(t, "b1", "bob")

	_ = h.o.JoinRoom(ctx, "a1", "bob")
	_ = h.o.JoinRoom(ctx, "b1", "alice")
	if !alice.last("userJoined", nil) {
		t.Fatal("alice not told bob joined")
	}

	if err := h.o.SendMessage(ctx, "b1", "alice", "hi alice"); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	if alice.count("message") != 1 || bob.count("message") != 1 {
		t.Fatalf("message deliveries: alice=%d bob=%d, want 1 each", alice.count("message"), bob.count("message"))
	}

	if err := h.o.Typing(ctx, "a1", true); err != nil {
		t.Fatalf("Typing: %v", err)
	}
	var typing core.TypingEvent
	if !bob.last("typing", &typing) || !typing.IsTyping || typing.UserID != "alice" {
		t.Fatalf("typing = %+v", typing)
	}
	if alice.count("typing") != 0 {
		t.Fatal("typing echoed to sender")
	}

	if err := h.o.LeaveRoom(ctx, "a1"); err != nil {
		t.Fatalf("LeaveRoom: %v", err)
	}
	if !bob.last("userLeft", nil) || !alice.last("roomLeft", nil) {
		t.Fatal("leave not announced")
	}
	if err := h.o.Typing(ctx, "a1", false); !errors.Is(err, domain.ErrUnauthorized) {
		t.Fatalf("Typing outside a room = %v, want UNAUTHORIZED", err)
	}
}

func TestSendMessageValidation(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, time.Minute)
	h.connect(t, "a1", "alice")

	tests := []struct {
		name    string
		to      string
		content string
	}{
		{"blank", "bob", "   "},
		{"too long", "bob", strings.Repeat("x", domain.MaxMessageLen+1)},
		{"self", "alice", "hi"},
		{"no receiver", "", "hi"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := h.o.SendMessage(ctx, "a1", tt.to, tt.content); !errors.Is(err, domain.ErrBadPayload) {
				t.Fatalf("err = %v, want BAD_PAYLOAD", err)
			}
		})
	}
}

func TestMarkMessageRead(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, time.Minute)
	alice := h.connect(t, "a1", "alice")
	h.connect(t, "b1", "bob")
	_ = h.o.JoinRoom(ctx, "a1", "bob")
	_ = h.o.JoinRoom(ctx, "b1", "alice")
	_ = h.o.SendMessage(ctx, "a1", "bob", "read me")

	var msg core.MessageEvent
	alice.last("message", &msg)
	if err := h.o.MarkMessageRead(ctx, "b1", msg.Message.ID, msg.Message.RoomID); err != nil {
		t.Fatalf("MarkMessageRead: %v", err)
	}
	var read core.MessageReadEvent
	if !alice.last("messageRead", &read) || len(read.ReadBy) != 1 || read.ReadBy[0] != "bob" {
		t.Fatalf("messageRead = %+v", read)
	}
	if err := h.o.MarkMessageRead(ctx, "b1", msg.Message.ID, "another-room"); !errors.Is(err, domain.ErrUnauthorized) {
		t.Fatalf("read in foreign room = %v, want UNAUTHORIZED", err)
	}
}

func TestInitiateCallToOfflineUserCreatesNothing(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, time.Minute)
	h.connect(t, "a1", "alice")

	if err := h.o.InitiateCall(ctx, "a1", "bob", domain.CallAudio); !errors.Is(err, domain.ErrUserOffline) {
		t.Fatalf("InitiateCall = %v, want USER_OFFLINE", err)
	}
	rooms, _ := h.store.ListRoomsForUser(ctx, "alice")
	if len(rooms) != 0 {
		t.Fatalf("room created for offline callee: %+v", rooms)
	}
	if calls := h.o.ActiveCalls(); len(calls) != 0 {
		t.Fatalf("call created for offline callee: %+v", calls)
	}
}

func TestCallAcceptEndAndCallAgain(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, time.Minute)
	alice := h.connect(t, "a1", "alice")
	bob := h.connect(t, "b1", "bob")

	if err := h.o.InitiateCall(ctx, "a1", "bob", domain.CallVideo); err != nil {
		t.Fatalf("InitiateCall: %v", err)
	}
	var incoming core.IncomingCallEvent
	if !bob.last("incomingCall", &incoming) || incoming.CallerID != "alice" || incoming.CallerName != "Alice" {
		t.Fatalf("incomingCall = %+v", incoming)
	}
	if err := h.o.InitiateCall(ctx, "b1", "alice", domain.CallAudio); !errors.Is(err, domain.ErrCallInProgress) {
		t.Fatalf("counter-call = %v, want CALL_IN_PROGRESS", err)
	}

	if err := h.o.AcceptCall(ctx, "b1", "alice"); err != nil {
		t.Fatalf("AcceptCall: %v", err)
	}
	var accepted core.CallAcceptedEvent
	if !alice.last("callAccepted", &accepted) || accepted.CallID != incoming.CallID {
		t.Fatalf("callAccepted = %+v", accepted)
	}

	if err := h.o.EndCall(ctx, "a1", ""); err != nil {
		t.Fatalf("EndCall: %v", err)
	}
	var ended core.CallEndedEvent
	if !bob.last("callEnded", &ended) || ended.EnderID != "alice" {
		t.Fatalf("callEnded = %+v", ended)
	}
	row, _ := h.store.GetCallSession(ctx, incoming.CallID)
	if row == nil || row.State != domain.CallEnded {
		t.Fatalf("stored call = %+v", row)
	}

	if err := h.o.InitiateCall(ctx, "a1", "bob", domain.CallAudio); err != nil {
		t.Fatalf("second InitiateCall: %v", err)
	}
	if bob.count("incomingCall") != 2 {
		t.Fatalf("bob saw %d incoming calls, want 2", bob.count("incomingCall"))
	}
}

func TestRejectCall(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, time.Minute)
	alice := h.connect(t, "a1", "alice")
	h.connect(t, "b1", "bob")

	if err := h.o.RejectCall(ctx, "b1", "alice", ""); err != nil {
		t.Fatalf("reject without a call = %v, want nil", err)
	}
	_ = h.o.InitiateCall(ctx, "a1", "bob", domain.CallAudio)
	if err := h.o.RejectCall(ctx, "b1", "alice", ""); err != nil {
		t.Fatalf("RejectCall: %v", err)
	}
	var rejected core.CallRejectedEvent
	if !alice.last("callRejected", &rejected) || rejected.Reason != domain.ReasonDeclined || rejected.RejecterID != "bob" {
		t.Fatalf("callRejected = %+v", rejected)
	}
	if _, ok := h.o.Calls.Active("alice"); ok {
		t.Fatal("caller still busy after reject")
	}
}

func TestRingTimeoutNotifiesBothSides(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, 20*time.Millisecond)
	alice := h.connect(t, "a1", "alice")
	bob := h.connect(t, "b1", "bob")

	if err := h.o.InitiateCall(ctx, "a1", "bob", domain.CallAudio); err != nil {
		t.Fatalf("InitiateCall: %v", err)
	}
	waitFor(t, func() bool { return alice.last("callRejected", nil) && bob.last("callEnded", nil) })

	var rejected core.CallRejectedEvent
	alice.last("callRejected", &rejected)
	if rejected.Reason != domain.ReasonNoAnswer || rejected.RejecterID != "bob" {
		t.Fatalf("caller notification = %+v", rejected)
	}
	var ended core.CallEndedEvent
	bob.last("callEnded", &ended)
	if ended.Reason != domain.ReasonNoAnswer {
		t.Fatalf("callee notification = %+v", ended)
	}
	if err := h.o.AcceptCall(ctx, "b1", "alice"); !errors.Is(err, domain.ErrCallNotFound) {
		t.Fatalf("late accept = %v, want CALL_NOT_FOUND", err)
	}
}

func TestDisconnectCleansUp(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, time.Minute)
	h.connect(t, "a1", "alice")
	bob := h.connect(t, "b1", "bob")
	_ = h.o.JoinRoom(ctx, "a1", "bob")
	_ = h.o.JoinRoom(ctx, "b1", "alice")
	_ = h.o.InitiateCall(ctx, "a1", "bob", domain.CallAudio)
	_ = h.o.AcceptCall(ctx, "b1", "alice")

	var joined core.RoomJoinedEvent
	bob.last("roomJoined", &joined)

	h.o.Disconnect(ctx, "a1")
	h.o.Disconnect(ctx, "a1")

	if n := bob.count("callEnded"); n != 1 {
		t.Fatalf("bob got %d callEnded, want 1", n)
	}
	if n := bob.count("userOffline"); n != 1 {
		t.Fatalf("bob got %d userOffline, want 1", n)
	}
	if !bob.last("userLeft", nil) {
		t.Fatal("bob not told alice left the room")
	}
	if online, _ := h.o.Presence.IsOnline(ctx, "alice"); online {
		t.Fatal("alice still online")
	}
	members, _ := h.o.Rooms.Participants(ctx, joined.Room.ID)
	if len(members) != 1 || members[0] != "bob" {
		t.Fatalf("room participants = %v, want [bob]", members)
	}
}

func TestDisconnectKeepsUserOnlineWithOtherConnection(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, time.Minute)
	h.connect(t, "a1", "alice")
	h.connect(t, "a2", "alice")
	bob := h.connect(t, "b1", "bob")

	h.o.Disconnect(ctx, "a1")
	if online, _ := h.o.Presence.IsOnline(ctx, "alice"); !online {
		t.Fatal("alice marked offline with a connection left")
	}
	if bob.count("userOffline") != 0 {
		t.Fatal("userOffline sent while alice still connected")
	}
}

func TestSignalRelay(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, time.Minute)
	h.connect(t, "a1", "alice")
	bob := h.connect(t, "b1", "bob")

	payload := json.RawMessage(`{"sdp":"v=0"}`)
	if err := h.o.Signal(ctx, "a1", "bob", "offer", payload); err != nil {
		t.Fatalf("Signal: %v", err)
	}
	var sig core.SignalEvent
	if !bob.last("signal", &sig) || sig.From != "alice" || sig.Kind != "offer" || string(sig.Payload) != string(payload) {
		t.Fatalf("signal = %+v", sig)
	}
	if err := h.o.Signal(ctx, "a1", "carol", "offer", payload); !errors.Is(err, domain.ErrUserOffline) {
		t.Fatalf("Signal to nobody = %v, want USER_OFFLINE", err)
	}
}

func TestRecordingFollowsCall(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, time.Minute)
	alice := h.connect(t, "a1", "alice")
	bob := h.connect(t, "b1", "bob")
	h.connect(t, "m1", "mallory")

	_ = h.o.InitiateCall(ctx, "a1", "bob", domain.CallAudio)
	if err := h.o.StartRecording(ctx, "a1", ""); !errors.Is(err, domain.ErrCallNotFound) {
		t.Fatalf("recording a ringing call = %v, want CALL_NOT_FOUND", err)
	}
	_ = h.o.AcceptCall(ctx, "b1", "alice")

	if err := h.o.StartRecording(ctx, "a1", ""); err != nil {
		t.Fatalf("StartRecording: %v", err)
	}
	var started core.RecordingEvent
	if !alice.last("recordingStarted", &started) || !bob.last("recordingStarted", nil) {
		t.Fatal("recordingStarted not sent to both participants")
	}
	call := started.Recording.CallSessionID

	if err := h.o.StartRecording(ctx, "m1", call); !errors.Is(err, domain.ErrUnauthorized) {
		t.Fatalf("outsider StartRecording = %v, want UNAUTHORIZED", err)
	}
	if err := h.o.AppendChunk(ctx, "m1", call, []byte("x")); !errors.Is(err, domain.ErrUnauthorized) {
		t.Fatalf("outsider AppendChunk = %v, want UNAUTHORIZED", err)
	}
	if err := h.o.AppendChunk(ctx, "b1", "", []byte("chunk")); err != nil {
		t.Fatalf("AppendChunk: %v", err)
	}

	_ = h.o.EndCall(ctx, "b1", "")
	if h.o.Recorder.IsRecording(call) {
		t.Fatal("recording left open after the call ended")
	}
	if err := h.o.AppendChunk(ctx, "b1", call, []byte("late")); err != nil {
		t.Fatalf("late chunk = %v, want dropped silently", err)
	}

	data, err := afero.ReadFile(h.fs, started.Recording.FilePath)
	if err != nil || string(data) != "chunk" {
		t.Fatalf("sink = %q, %v", data, err)
	}
	recs, _ := h.o.Recordings(ctx, call)
	if len(recs) != 1 || recs[0].EndTime == nil {
		t.Fatalf("recordings = %+v", recs)
	}
}

func TestRoomMessagesRestrictedToParticipants(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, time.Minute)
	alice := h.connect(t, "a1", "alice")
	_ = h.o.SendMessage(ctx, "a1", "bob", "private")

	var msg core.MessageEvent
	alice.last("message", &msg)
	msgs, err := h.o.RoomMessages(ctx, "bob", msg.Message.RoomID, 10, 0)
	if err != nil || len(msgs) != 1 {
		t.Fatalf("RoomMessages(bob) = %v, %v", msgs, err)
	}
	if _, err := h.o.RoomMessages(ctx, "mallory", msg.Message.RoomID, 10, 0); !errors.Is(err, domain.ErrUnauthorized) {
		t.Fatalf("RoomMessages(mallory) = %v, want UNAUTHORIZED", err)
	}
	if _, err := h.o.RoomMessages(ctx, "bob", "missing", 10, 0); !errors.Is(err, domain.ErrRoomNotFound) {
		t.Fatalf("RoomMessages(missing) = %v, want ROOM_NOT_FOUND", err)
	}
}

func TestSwitchingRoomsLeavesThePreviousOne(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, time.Minute)
	alice := h.connect(t, "a1", "alice")
	bob := h.connect(t, "b1", "bob")
	h.connect(t, "c1", "carol")

	_ = h.o.JoinRoom(ctx, "b1", "alice")
	if err := h.o.JoinRoom(ctx, "a1", "bob"); err != nil {
		t.Fatalf("JoinRoom(bob): %v", err)
	}
	var first core.RoomJoinedEvent
	alice.last("roomJoined", &first)

	if err := h.o.JoinRoom(ctx, "a1", "carol"); err != nil {
		t.Fatalf("JoinRoom(carol): %v", err)
	}
	var second core.RoomJoinedEvent
	alice.last("roomJoined", &second)
	if second.Room.ID == first.Room.ID {
		t.Fatal("carol room equals bob room")
	}
	if room, _ := h.o.Registry.RoomOf("a1"); room != second.Room.ID {
		t.Fatalf("connection room = %s, want %s", room, second.Room.ID)
	}

	var left core.MemberEvent
	if !bob.last("userLeft", &left) || left.User.ID != "alice" || left.RoomID != first.Room.ID {
		t.Fatalf("userLeft = %+v", left)
	}
	members, _ := h.o.Rooms.Participants(ctx, first.Room.ID)
	if len(members) != 1 || members[0] != "bob" {
		t.Fatalf("bob room participants = %v, want [bob]", members)
	}
	members, _ = h.o.Rooms.Participants(ctx, second.Room.ID)
	if len(members) != 1 || members[0] != "alice" {
		t.Fatalf("carol room participants = %v, want [alice]", members)
	}
}

func TestEndCallReachesEndersOtherConnections(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, time.Minute)
	a1 := h.connect(t, "a1", "alice")
	a2 := h.connect(t, "a2", "alice")
	bob := h.connect(t, "b1", "bob")

	_ = h.o.InitiateCall(ctx, "a1", "bob", domain.CallAudio)
	_ = h.o.AcceptCall(ctx, "b1", "alice")
	if err := h.o.EndCall(ctx, "a1", ""); err != nil {
		t.Fatalf("EndCall: %v", err)
	}

	if bob.count("callEnded") != 1 {
		t.Fatalf("bob got %d callEnded, want 1", bob.count("callEnded"))
	}
	var ended core.CallEndedEvent
	if !a2.last("callEnded", &ended) || ended.EnderID != "alice" {
		t.Fatalf("alice's other connection: callEnded = %+v", ended)
	}
	if a1.count("callEnded") != 0 {
		t.Fatal("callEnded echoed to the connection that ended the call")
	}
}

// flakyPresenceCache lets a test act while a disconnect is removing a user
// from the online set.
type flakyPresenceCache struct {
	*cache.MemoryCache
	once     sync.Once
	onRemove func()
}

func (c *flakyPresenceCache) SetRemove(ctx context.Context, key string, members ...string) error {
	if key == "onlineUsers" && c.onRemove != nil {
		c.once.Do(c.onRemove)
	}
	return c.MemoryCache.SetRemove(ctx, key, members...)
}

func TestReconnectDuringDisconnectStaysOnline(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, time.Minute)
	pc := &flakyPresenceCache{MemoryCache: h.cache}
	h.o.Presence = app.NewPresence(pc, time.Hour)

	alice := h.connect(t, "a1", "alice")
	h.connect(t, "b1", "bob")

	done := make(chan error, 1)
	pc.onRemove = func() {
		go func() {
			h.o.Connect("b2", &recordingConn{}, nil)
			done <- h.o.Authenticate(ctx, "b2", "tok-bob", "")
		}()
		select {
		case err := <-done:
			done <- err
		case <-time.After(50 * time.Millisecond):
		}
	}

	h.o.Disconnect(ctx, "b1")
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Authenticate(b2): %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("reconnect never finished")
	}

	if !h.o.Registry.IsConnected("bob") {
		t.Fatal("bob not connected")
	}
	if online, _ := h.o.Presence.IsOnline(ctx, "bob"); !online {
		t.Fatal("bob connected but missing from the online set")
	}
	var presence core.PresenceEvent
	if !alice.last("userOnline", &presence) {
		t.Fatal("alice never saw bob online")
	}
	if alice.count("userOnline") != alice.count("userOffline")+1 {
		t.Fatalf("alice saw %d userOnline and %d userOffline", alice.count("userOnline"), alice.count("userOffline"))
	}
}

func TestBackpressurePolicyByMode(t *testing.T) {
	tests := []struct {
		mode   string
		kicked bool
	}{
		{"release", true},
		{"debug", false},
	}
	for _, tt := range tests {
		t.Run(tt.mode, func(t *testing.T) {
			ctx := context.Background()
			h := newHarness(t, time.Minute)
			h.o.Policy = app.PolicyForMode(tt.mode)
			h.connect(t, "a1", "alice")

			var kicked atomic.Bool
			bob := &recordingConn{}
			h.o.Connect("b1", bob, func() { kicked.Store(true) })
			if err := h.o.Authenticate(ctx, "b1", "tok-bob", ""); err != nil {
				t.Fatalf("Authenticate: %v", err)
			}
			_ = h.o.JoinRoom(ctx, "a1", "bob")
			_ = h.o.JoinRoom(ctx, "b1", "alice")

			bob.stall()
			if err := h.o.SendMessage(ctx, "a1", "bob", "hello"); err != nil {
				t.Fatalf("SendMessage: %v", err)
			}
			if kicked.Load() != tt.kicked {
				t.Fatalf("kicked = %v, want %v", kicked.Load(), tt.kicked)
			}
		})
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}
