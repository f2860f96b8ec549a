package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dkeye/VoiceHub/internal/adapters/cache"
	"github.com/dkeye/VoiceHub/internal/adapters/store"
	"github.com/dkeye/VoiceHub/internal/domain"
)

func newCalls(t *testing.T, timeout time.Duration) (*CallManager, *store.MemoryStore, *cache.MemoryCache) {
	t.Helper()
	st := store.NewMemoryStore()
	c := cache.NewMemoryCache()
	return NewCallManager(st, c, timeout, time.Minute), st, c
}

func TestCallLifecycle(t *testing.T) {
	ctx := context.Background()
	m, st, c := newCalls(t, time.Minute)

	cs, err := m.Begin(ctx, "alice", "bob", "room-1", domain.CallAudio)
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if cs.State != domain.CallRinging {
		t.Fatalf("state = %s, want ringing", cs.State)
	}
	if _, ok := m.Active("bob"); !ok {
		t.Fatal("callee not reserved while ringing")
	}
	if _, found, _ := c.Get(ctx, callStatusKey("room-1")); !found {
		t.Fatal("call status not cached")
	}

	acc, err := m.Accept(ctx, "bob", "alice")
	if err != nil {
		t.Fatalf("Accept: %v", err)
	}
	if acc.State != domain.CallAccepted || acc.AcceptedAt == nil {
		t.Fatalf("accepted session = %+v", acc)
	}

	ended, ok := m.End(ctx, "bob", "")
	if !ok || ended.State != domain.CallEnded || ended.EndTime == nil {
		t.Fatalf("End = %+v, %v", ended, ok)
	}
	if _, ok := m.Active("alice"); ok {
		t.Fatal("caller still reserved after End")
	}
	if _, found, _ := c.Get(ctx, callStatusKey("room-1")); found {
		t.Fatal("call status left in cache")
	}
	row, _ := st.GetCallSession(ctx, cs.ID)
	if row == nil || row.State != domain.CallEnded || row.AcceptedAt == nil || row.EndTime == nil {
		t.Fatalf("stored row = %+v", row)
	}

	if _, err := m.Begin(ctx, "alice", "bob", "room-1", domain.CallVideo); err != nil {
		t.Fatalf("second Begin after End: %v", err)
	}
}

func TestBeginDefaultsToAudio(t *testing.T) {
	ctx := context.Background()
	m, _, _ := newCalls(t, time.Minute)

	for i, typ := range []domain.CallType{"", "hologram"} {
		caller := domain.UserID(fmt.Sprintf("caller%d", i))
		callee := domain.UserID(fmt.Sprintf("callee%d", i))
		cs, err := m.Begin(ctx, caller, callee, domain.RoomID(fmt.Sprintf("room-%d", i)), typ)
		if err != nil {
			t.Fatalf("Begin(%q): %v", typ, err)
		}
		if cs.Type != domain.CallAudio {
			t.Fatalf("Begin(%q) type = %s, want audio", typ, cs.Type)
		}
	}
}

func TestBeginRefusesBusyParties(t *testing.T) {
	ctx := context.Background()
	m, _, _ := newCalls(t, time.Minute)
	if _, err := m.Begin(ctx, "alice", "bob", "room-ab", domain.CallAudio); err != nil {
		t.Fatalf("Begin: %v", err)
	}

	tests := []struct {
		name           string
		caller, callee domain.UserID
		room           domain.RoomID
	}{
		{"caller busy", "alice", "carol", "room-ac"},
		{"callee busy", "carol", "bob", "room-bc"},
		{"room busy", "carol", "dave", "room-ab"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := m.Begin(ctx, tt.caller, tt.callee, tt.room, domain.CallAudio)
			if !errors.Is(err, domain.ErrCallInProgress) {
				t.Fatalf("err = %v, want CALL_IN_PROGRESS", err)
			}
		})
	}
}

func TestConcurrentBeginFirstWriterWins(t *testing.T) {
	ctx := context.Background()
	m, _, _ := newCalls(t, time.Minute)

	var wins atomic.Int32
	var wg sync.WaitGroup
	for _, caller := range []domain.UserID{"alice", "carol", "dave", "erin"} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := m.Begin(ctx, caller, "bob", domain.RoomID("room-"+caller), domain.CallAudio); err == nil {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()
	if wins.Load() != 1 {
		t.Fatalf("%d calls started against one callee, want 1", wins.Load())
	}
}

func TestRingTimeout(t *testing.T) {
	ctx := context.Background()
	m, st, _ := newCalls(t, 20*time.Millisecond)

	timedOut := make(chan domain.CallSession, 1)
	m.OnTimeout(func(cs domain.CallSession) { timedOut <- cs })

	cs, err := m.Begin(ctx, "alice", "bob", "room-1", domain.CallAudio)
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}

	select {
	case got := <-timedOut:
		if got.ID != cs.ID || got.State != domain.CallTimedOut {
			t.Fatalf("timed out session = %+v", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("ring timer never fired")
	}

	if _, ok := m.Active("bob"); ok {
		t.Fatal("callee still reserved after timeout")
	}
	if _, err := m.Accept(ctx, "bob", "alice"); !errors.Is(err, domain.ErrCallNotFound) {
		t.Fatalf("late Accept = %v, want CALL_NOT_FOUND", err)
	}
	row, _ := st.GetCallSession(ctx, cs.ID)
	if row.State != domain.CallTimedOut {
		t.Fatalf("stored state = %s, want timed out", row.State)
	}
}

func TestAcceptStopsRingTimer(t *testing.T) {
	ctx := context.Background()
	m, _, _ := newCalls(t, 30*time.Millisecond)

	var fired atomic.Bool
	m.OnTimeout(func(domain.CallSession) { fired.Store(true) })

	if _, err := m.Begin(ctx, "alice", "bob", "room-1", domain.CallAudio); err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if _, err := m.Accept(ctx, "bob", "alice"); err != nil {
		t.Fatalf("Accept: %v", err)
	}
	time.Sleep(80 * time.Millisecond)
	if fired.Load() {
		t.Fatal("accepted call timed out")
	}
	if cs, ok := m.Active("alice"); !ok || cs.State != domain.CallAccepted {
		t.Fatalf("Active = %+v, %v", cs, ok)
	}
}

func TestRejectAndEndEdgeCases(t *testing.T) {
	ctx := context.Background()
	m, _, _ := newCalls(t, time.Minute)

	if _, ok := m.Reject(ctx, "bob", "alice"); ok {
		t.Fatal("Reject without a ringing call reported true")
	}
	if _, err := m.Begin(ctx, "alice", "bob", "room-1", domain.CallAudio); err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if _, ok := m.Reject(ctx, "alice", "bob"); ok {
		t.Fatal("caller rejected its own call")
	}
	if _, ok := m.End(ctx, "mallory", "room-1"); ok {
		t.Fatal("non-participant ended the call")
	}
	cs, ok := m.Reject(ctx, "bob", "alice")
	if !ok || cs.State != domain.CallRejected {
		t.Fatalf("Reject = %+v, %v", cs, ok)
	}
	if _, ok := m.End(ctx, "alice", ""); ok {
		t.Fatal("End after Reject reported true")
	}
	if got := m.ActiveCalls(); len(got) != 0 {
		t.Fatalf("ActiveCalls = %v, want none", got)
	}
}
