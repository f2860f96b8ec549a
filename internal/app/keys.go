package app

import (
	"fmt"

	"github.com/dkeye/VoiceHub/internal/domain"
)

const onlineUsersKey = "onlineUsers"

func userKey(id domain.UserID) string {
	return fmt.Sprintf("user:%s", id)
}

// roomBetweenKey expects a canonical pair.
func roomBetweenKey(a, b domain.UserID) string {
	return fmt.Sprintf("room:between:%s:%s", a, b)
}

func roomParticipantsKey(id domain.RoomID) string {
	return fmt.Sprintf("room:%s:participants", id)
}

func roomMessagesKey(id domain.RoomID) string {
	return fmt.Sprintf("room:%s:messages", id)
}

func messageReadByKey(id domain.MessageID) string {
	return fmt.Sprintf("message:%s:read_by", id)
}

func callStatusKey(id domain.RoomID) string {
	return fmt.Sprintf("call:%s", id)
}
