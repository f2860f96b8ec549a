package signal

import (
	"context"

	"github.com/dkeye/VoiceHub/internal/core"
)

type authenticateCmd struct {
	Token string `json:"token" validate:"required,max=4096"`
	Role  string `json:"role" validate:"omitempty,max=32"`
}

func (c *authenticateCmd) run(ctx context.Context, ctl *SignalWSController, sid core.SessionID) error {
	return ctl.Orch.Authenticate(ctx, sid, c.Token, c.Role)
}
