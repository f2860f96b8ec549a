package signal

import (
	"context"

	"github.com/dkeye/VoiceHub/internal/core"
	"github.com/dkeye/VoiceHub/internal/domain"
)

type joinRoomCmd struct {
	OtherUserID string `json:"otherUserId" validate:"required,max=64"`
}

func (c *joinRoomCmd) run(ctx context.Context, ctl *SignalWSController, sid core.SessionID) error {
	return ctl.Orch.JoinRoom(ctx, sid, c.OtherUserID)
}

// leaveRoom leaves the current room; the connection stays open.
type leaveRoomCmd struct{}

func (c *leaveRoomCmd) run(ctx context.Context, ctl *SignalWSController, sid core.SessionID) error {
	return ctl.Orch.LeaveRoom(ctx, sid)
}

type sendMessageCmd struct {
	ReceiverID string `json:"receiverId" validate:"required,max=64"`
	Content    string `json:"content" validate:"required,max=16384"`
}

func (c *sendMessageCmd) run(ctx context.Context, ctl *SignalWSController, sid core.SessionID) error {
	id, err := ctl.Orch.Registry.Identity(sid)
	if err != nil {
		return err
	}
	if !ctl.Messages.Allow(id.ID) {
		return domain.ErrRateLimited
	}
	return ctl.Orch.SendMessage(ctx, sid, c.ReceiverID, c.Content)
}

type typingCmd struct {
	IsTyping bool `json:"isTyping"`
}

func (c *typingCmd) run(ctx context.Context, ctl *SignalWSController, sid core.SessionID) error {
	id, err := ctl.Orch.Registry.Identity(sid)
	if err != nil {
		return err
	}
	if !ctl.Typing.Allow(id.ID) {
		return domain.ErrRateLimited
	}
	return ctl.Orch.Typing(ctx, sid, c.IsTyping)
}

type markReadCmd struct {
	MessageID string `json:"messageId" validate:"required,max=64"`
	RoomID    string `json:"roomId" validate:"omitempty,max=64"`
}

func (c *markReadCmd) run(ctx context.Context, ctl *SignalWSController, sid core.SessionID) error {
	return ctl.Orch.MarkMessageRead(ctx, sid, domain.MessageID(c.MessageID), domain.RoomID(c.RoomID))
}
