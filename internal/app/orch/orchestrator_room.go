package orch

import (
	"context"
	"strings"
	"unicode/utf8"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/VoiceHub/internal/core"
	"github.com/dkeye/VoiceHub/internal/domain"
)

func parsePeer(raw string) (domain.UserID, error) {
	uid, err := domain.ParseUserID(raw)
	if err != nil {
		return "", domain.ErrBadPayload.Errorf("invalid user id: %v", err)
	}
	return uid, nil
}

// JoinRoom resolves the room shared with other, moves the connection into
// it and replies with the room and the latest page of messages.
func (o *Orchestrator) JoinRoom(ctx context.Context, sid core.SessionID, otherRaw string) error {
	id, err := o.Registry.Identity(sid)
	if err != nil {
		return err
	}
	other, err := parsePeer(otherRaw)
	if err != nil {
		return err
	}
	room, err := o.Rooms.Resolve(ctx, id.ID, other)
	if err != nil {
		return err
	}

	prev, ok := o.Registry.UpdateRoom(sid, room.ID)
	if !ok {
		return nil
	}
	if prev != "" && prev != room.ID {
		o.afterLeave(ctx, sid, id, prev)
	}
	if err := o.Rooms.AddParticipant(ctx, room.ID, id.ID); err != nil {
		log.Warn().Err(err).Str("module", "orch").Str("room", string(room.ID)).Msg("participant cache add failed")
	}

	msgs, err := o.Messages.Recent(ctx, room.ID, o.PageSize, 0)
	if err != nil {
		return err
	}
	_ = o.Registry.Send(sid, core.RoomJoinedEvent{Room: *room, Messages: msgs})
	if prev != room.ID {
		o.publishRoom(room.ID, core.MemberEvent{Joined: true, RoomID: room.ID, User: *id}, sid)
	}
	log.Info().Str("module", "orch").Str("sid", string(sid)).Str("room", string(room.ID)).Msg("joined room")
	return nil
}

func (o *Orchestrator) LeaveRoom(ctx context.Context, sid core.SessionID) error {
	id, err := o.Registry.Identity(sid)
	if err != nil {
		return err
	}
	prev, _ := o.Registry.RemoveRoom(sid)
	if prev == "" {
		return domain.ErrRoomNotFound.Errorf("not in a room")
	}
	o.afterLeave(ctx, sid, id, prev)
	_ = o.Registry.Send(sid, core.RoomLeftEvent{RoomID: prev})
	return nil
}

// afterLeave runs once sid no longer points at room.
func (o *Orchestrator) afterLeave(ctx context.Context, sid core.SessionID, id *domain.Identity, room domain.RoomID) {
	if !o.userInRoom(id.ID, room) {
		if err := o.Rooms.RemoveParticipant(ctx, room, id.ID); err != nil {
			log.Warn().Err(err).Str("module", "orch").Str("room", string(room)).Msg("participant cache remove failed")
		}
	}
	o.publishRoom(room, core.MemberEvent{Joined: false, RoomID: room, User: *id}, sid)
}

func (o *Orchestrator) userInRoom(uid domain.UserID, room domain.RoomID) bool {
	for _, m := range o.Registry.MembersOfRoom(room) {
		if m.Identity != nil && m.Identity.ID == uid {
			return true
		}
	}
	return false
}

// SendMessage persists content in the room shared with other and delivers
// it to every connection joined to that room.
func (o *Orchestrator) SendMessage(ctx context.Context, sid core.SessionID, otherRaw, content string) error {
	id, err := o.Registry.Identity(sid)
	if err != nil {
		return err
	}
	other, err := parsePeer(otherRaw)
	if err != nil {
		return err
	}
	if strings.TrimSpace(content) == "" {
		return domain.ErrBadPayload.Errorf("empty message")
	}
	if utf8.RuneCountInString(content) > domain.MaxMessageLen {
		return domain.ErrBadPayload.Errorf("message too long")
	}
	room, err := o.Rooms.Resolve(ctx, id.ID, other)
	if err != nil {
		return err
	}
	_, err = o.Messages.Accept(ctx, room.ID, id.ID, content, func(m *domain.Message) {
		ev := core.MessageEvent{Message: *m}
		o.publishRoom(room.ID, ev, "")
		if joined, _ := o.Registry.RoomOf(sid); joined != room.ID {
			_ = o.Registry.Send(sid, ev)
		}
	})
	return err
}

func (o *Orchestrator) Typing(ctx context.Context, sid core.SessionID, isTyping bool) error {
	id, err := o.Registry.Identity(sid)
	if err != nil {
		return err
	}
	room, ok := o.Registry.RoomOf(sid)
	if !ok {
		return domain.ErrUnauthorized.Errorf("join a room first")
	}
	o.Registry.SendRoom(room, core.TypingEvent{
		RoomID:      room,
		UserID:      id.ID,
		DisplayName: id.DisplayName,
		IsTyping:    isTyping,
	}, sid)
	return nil
}

// MarkMessageRead records the reader in the connection's joined room.
// A non-empty roomID must match that room.
func (o *Orchestrator) MarkMessageRead(ctx context.Context, sid core.SessionID, msg domain.MessageID, roomID domain.RoomID) error {
	id, err := o.Registry.Identity(sid)
	if err != nil {
		return err
	}
	room, ok := o.Registry.RoomOf(sid)
	if !ok || (roomID != "" && roomID != room) {
		return domain.ErrUnauthorized.Errorf("unauthorized or not in room")
	}
	readBy, err := o.Messages.MarkRead(ctx, msg, id.ID)
	if err != nil {
		return err
	}
	o.publishRoom(room, core.MessageReadEvent{MessageID: msg, RoomID: room, UserID: id.ID, ReadBy: readBy}, "")
	return nil
}
