package signal

import (
	"context"
	"errors"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/dkeye/VoiceHub/internal/core"
)

// command is one client-to-server message variant.
type command interface {
	run(ctx context.Context, ctl *SignalWSController, sid core.SessionID) error
}

var validate = validator.New(validator.WithRequiredStructEnabled())

var commands = map[string]func() command{
	"authenticate":    func() command { return &authenticateCmd{} },
	"joinRoom":        func() command { return &joinRoomCmd{} },
	"leaveRoom":       func() command { return &leaveRoomCmd{} },
	"sendMessage":     func() command { return &sendMessageCmd{} },
	"typing":          func() command { return &typingCmd{} },
	"markMessageRead": func() command { return &markReadCmd{} },
	"initiateCall":    func() command { return &initiateCallCmd{} },
	"acceptCall":      func() command { return &acceptCallCmd{} },
	"rejectCall":      func() command { return &rejectCallCmd{} },
	"endCall":         func() command { return &endCallCmd{} },
	"signal":          func() command { return &signalCmd{} },
	"startRecording":  func() command { return &startRecordingCmd{} },
	"appendChunk":     func() command { return &appendChunkCmd{} },
	"stopRecording":   func() command { return &stopRecordingCmd{} },
	"ping":            func() command { return &pingCmd{} },
}

// describe flattens validator output into "field:tag" pairs.
func describe(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		parts = append(parts, fe.Field()+":"+fe.Tag())
	}
	return strings.Join(parts, ", ")
}
