package app

import (
	"sync"
	"testing"
	"time"

	json "github.com/goccy/go-json"

	"github.com/dkeye/VoiceHub/internal/core"
	"github.com/dkeye/VoiceHub/internal/domain"
)

type fakeConn struct {
	mu     sync.Mutex
	frames []core.Frame
	full   bool
	closed bool
}

func (c *fakeConn) TrySend(f core.Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return core.ErrConnClosed
	}
	if c.full {
		return core.ErrBackpressure
	}
	c.frames = append(c.frames, f)
	return nil
}

func (c *fakeConn) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
}

func (c *fakeConn) types() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.frames))
	for _, f := range c.frames {
		var env struct {
			Type string `json:"type"`
		}
		_ = json.Unmarshal(f, &env)
		out = append(out, env.Type)
	}
	return out
}

func identity(t *testing.T, id string) *domain.Identity {
	t.Helper()
	ident, err := domain.NewIdentity(id, id, "customer", nil)
	if err != nil {
		t.Fatalf("NewIdentity(%q): %v", id, err)
	}
	return ident
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
