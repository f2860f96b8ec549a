package app

import "github.com/dkeye/VoiceHub/internal/core"

type BackpressureAction int

const (
	NoAction BackpressureAction = iota
	MarkSlow
	KickMember
	DropFrame
)

// Policy decides what happens to a connection whose send buffer was full
// during a room fan-out.
type Policy interface {
	OnBackPressure(room string, sid core.SessionID) BackpressureAction
}

type SimplePolicy struct{}

func (SimplePolicy) OnBackPressure(room string, sid core.SessionID) BackpressureAction {
	return KickMember
}

// TolerantPolicy only drops the frame.
type TolerantPolicy struct{}

func (TolerantPolicy) OnBackPressure(string, core.SessionID) BackpressureAction {
	return DropFrame
}

// PolicyForMode drops frames for slow clients in debug mode and kicks
// them otherwise.
func PolicyForMode(mode string) Policy {
	if mode == "debug" {
		return TolerantPolicy{}
	}
	return SimplePolicy{}
}
