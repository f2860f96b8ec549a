package signal

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/VoiceHub/internal/app/orch"
	"github.com/dkeye/VoiceHub/internal/core"
)

type Options struct {
	ReadLimit      int64
	PingPeriod     time.Duration
	PongWait       time.Duration
	WriteWait      time.Duration
	SendBuffer     int
	AllowedOrigins []string
	// Debug accepts any origin when AllowedOrigins is empty.
	Debug bool
}

func (o Options) withDefaults() Options {
	if o.ReadLimit <= 0 {
		o.ReadLimit = 1 << 20
	}
	if o.PongWait <= 0 {
		o.PongWait = 60 * time.Second
	}
	if o.PingPeriod <= 0 || o.PingPeriod >= o.PongWait {
		o.PingPeriod = o.PongWait * 9 / 10
	}
	if o.WriteWait <= 0 {
		o.WriteWait = 5 * time.Second
	}
	if o.SendBuffer <= 0 {
		o.SendBuffer = 64
	}
	return o
}

func (o Options) checkOrigin() func(*http.Request) bool {
	if len(o.AllowedOrigins) == 0 {
		if o.Debug {
			return func(*http.Request) bool { return true }
		}
		// gorilla's default: same host only
		return nil
	}
	allowed := make(map[string]struct{}, len(o.AllowedOrigins))
	for _, origin := range o.AllowedOrigins {
		allowed[origin] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		_, ok := allowed[origin]
		return ok
	}
}

type SignalWSController struct {
	Orch     *orch.Orchestrator
	Messages *SendLimiter
	Typing   *SendLimiter

	opts     Options
	upgrader websocket.Upgrader
}

func NewSignalWSController(o *orch.Orchestrator, limit int, interval time.Duration, opts Options) *SignalWSController {
	opts = opts.withDefaults()
	return &SignalWSController{
		Orch:     o,
		Messages: NewSendLimiter(limit, interval),
		Typing:   NewSendLimiter(limit, interval),
		opts:     opts,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     opts.checkOrigin(),
		},
	}
}

// WsSignalConn is the websocket side of a core.SignalConnection. Frames are
// queued on a bounded channel drained by writePump.
type WsSignalConn struct {
	conn *websocket.Conn
	send chan core.Frame

	mu     sync.RWMutex
	closed bool
}

func (c *WsSignalConn) TrySend(f core.Frame) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return core.ErrConnClosed
	}
	select {
	case c.send <- f:
	default:
		return core.ErrBackpressure
	}
	return nil
}

func (c *WsSignalConn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	_ = c.conn.Close()
	c.mu.Unlock()
}

// HandleSignal upgrades the request and starts the connection pumps. A
// token query parameter authenticates the connection right away.
func (ctl *SignalWSController) HandleSignal(ctx context.Context, c *gin.Context) {
	sid := core.NewSessionID()
	logger := log.With().Str("module", "signal").Str("sid", string(sid)).Str("client", c.GetString("client_token")).Logger()

	ws, err := ctl.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Error().Err(err).Msg("ws upgrade")
		return
	}
	logger.Info().Str("remote", c.ClientIP()).Msg("new WS connection")

	conn := &WsSignalConn{
		conn: ws,
		send: make(chan core.Frame, ctl.opts.SendBuffer),
	}
	ctx, cancel := context.WithCancel(ctx)
	ctl.Orch.Connect(sid, conn, cancel)

	token := c.Query("token")
	role := c.Query("role")

	go ctl.writePump(ctx, sid, conn)
	go func() {
		if token != "" {
			ctl.exec(ctx, sid, "authenticate", &authenticateCmd{Token: token, Role: role})
		}
		ctl.readPump(ctx, cancel, sid, conn)
	}()
}
