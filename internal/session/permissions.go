package session

import "session-service/internal/store"

// Action is a capability an actor may exercise against a session.
type Action string

const (
	ActionControlPlayback Action = "controlPlayback"
	ActionAddToQueue      Action = "addToQueue"
	ActionViewHistory     Action = "viewHistory"
	ActionViewQueue       Action = "viewQueue"
	ActionViewPlaylist    Action = "viewPlaylist"
	ActionChangeSettings  Action = "changeSettings"
)

// CanPerform decides whether actor may perform action against s under the
// given settings. Pure and total; it must be re-evaluated on every call
// because settings can change mid-session.
//
// changeSettings is host-only, always. Every other action is open to all
// members when the matching anyoneCan* flag is set, and host-only otherwise.
func CanPerform(settings store.Settings, action Action, actor string, s store.Session) bool {
	if action == ActionChangeSettings {
		return actor != "" && actor == s.HostUserID
	}

	var open bool
	switch action {
	case ActionControlPlayback:
		open = settings.AnyoneCanUsePlayerControls
	case ActionAddToQueue:
		open = settings.AnyoneCanAddToQueue
	case ActionViewHistory:
		open = settings.AnyoneCanSeeHistory
	case ActionViewQueue:
		open = settings.AnyoneCanSeeQueue
	case ActionViewPlaylist:
		open = settings.AnyoneCanSeePlaylist
	default:
		return false
	}
	if open {
		return true
	}
	return actor != "" && actor == s.HostUserID
}
