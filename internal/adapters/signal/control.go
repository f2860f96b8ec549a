package signal

import (
	"context"
	"time"

	"github.com/dkeye/VoiceHub/internal/core"
)

type pingCmd struct{}

func (c *pingCmd) run(_ context.Context, ctl *SignalWSController, sid core.SessionID) error {
	_ = ctl.Orch.Registry.Send(sid, core.NewPongEvent(time.Now()))
	return nil
}
