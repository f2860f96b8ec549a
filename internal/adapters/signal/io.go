package signal

import (
	"context"
	"errors"
	"time"

	json "github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/VoiceHub/internal/core"
	"github.com/dkeye/VoiceHub/internal/domain"
)

const disconnectTimeout = 5 * time.Second

func (ctl *SignalWSController) writePump(ctx context.Context, sid core.SessionID, c *WsSignalConn) {
	ticker := time.NewTicker(ctl.opts.PingPeriod)
	defer func() {
		ticker.Stop()
		c.Close()
	}()
	for {
		select {
		case <-ctx.Done():
			log.Debug().Str("module", "signal").Str("sid", string(sid)).Msg("writePump ctx done")
			_ = c.conn.SetWriteDeadline(time.Now().Add(ctl.opts.WriteWait))
			_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		case data, ok := <-c.send:
			if !ok {
				log.Debug().Str("module", "signal").Str("sid", string(sid)).Msg("writePump channel closed")
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(ctl.opts.WriteWait)); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump set deadline")
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Warn().Err(err).Str("module", "signal").Str("sid", string(sid)).Msg("writePump write error")
				return
			}
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(ctl.opts.WriteWait)); err != nil {
				log.Debug().Err(err).Str("module", "signal").Str("sid", string(sid)).Msg("ping failed")
				return
			}
		}
	}
}

func (ctl *SignalWSController) readPump(ctx context.Context, cancel context.CancelFunc, sid core.SessionID, c *WsSignalConn) {
	defer func() {
		log.Info().Str("module", "signal").Str("sid", string(sid)).Msg("readPump closing")
		cancel()
		c.Close()
		ctl.disconnect(sid)
	}()

	c.conn.SetReadLimit(ctl.opts.ReadLimit)
	_ = c.conn.SetReadDeadline(time.Now().Add(ctl.opts.PongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(ctl.opts.PongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) && ctx.Err() == nil {
				log.Warn().Err(err).Str("module", "signal").Str("sid", string(sid)).Msg("readPump read error")
			}
			return
		}
		ctl.handleSignal(ctx, sid, data)
	}
}

func (ctl *SignalWSController) disconnect(sid core.SessionID) {
	ctx, cancel := context.WithTimeout(context.Background(), disconnectTimeout)
	defer cancel()
	id, _ := ctl.Orch.Registry.Identity(sid)
	ctl.Orch.Disconnect(ctx, sid)
	if id != nil && !ctl.Orch.Registry.IsConnected(id.ID) {
		ctl.Messages.Forget(id.ID)
		ctl.Typing.Forget(id.ID)
	}
}

// handleSignal decodes one inbound frame into its command variant,
// validates it and runs it. Failures go back to the sender as an error event.
func (ctl *SignalWSController) handleSignal(ctx context.Context, sid core.SessionID, data []byte) {
	var env struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		ctl.fail(sid, "", domain.ErrBadPayload.Errorf("malformed json"))
		return
	}
	newCmd, ok := commands[env.Type]
	if !ok {
		log.Warn().Str("module", "signal").Str("sid", string(sid)).Str("type", env.Type).Msg("unknown signal")
		ctl.fail(sid, env.Type, domain.ErrBadPayload.Errorf("unknown message type %q", env.Type))
		return
	}
	cmd := newCmd()
	if err := json.Unmarshal(data, cmd); err != nil {
		ctl.fail(sid, env.Type, domain.ErrBadPayload.Errorf("bad %s payload", env.Type))
		return
	}
	ctl.exec(ctx, sid, env.Type, cmd)
}

func (ctl *SignalWSController) exec(ctx context.Context, sid core.SessionID, typ string, cmd command) {
	if err := validate.Struct(cmd); err != nil {
		ctl.fail(sid, typ, domain.ErrBadPayload.Errorf("invalid %s: %s", typ, describe(err)))
		return
	}
	if err := cmd.run(ctx, ctl, sid); err != nil {
		ctl.fail(sid, typ, err)
	}
}

func (ctl *SignalWSController) fail(sid core.SessionID, typ string, err error) {
	logger := log.With().Str("module", "signal").Str("sid", string(sid)).Str("type", typ).Logger()
	var de *domain.Error
	if errors.As(err, &de) && de.Code != domain.CodeDependency {
		logger.Debug().Err(err).Msg("action rejected")
	} else {
		logger.Error().Err(err).Msg("action failed")
	}
	_ = ctl.Orch.Registry.Send(sid, core.NewErrorEvent(err))
}
