package models

import "time"

// Settings are the companion's own switches, supplied at initialization and
// on every change.
type Settings struct {
	DuplicatePreventionEnabled bool `json:"duplicate_prevention_enabled" yaml:"duplicate_prevention_enabled"`
	DebugMode                  bool `json:"debug_mode" yaml:"debug_mode"`
}

// NoticeLevel styles a user-visible notice.
type NoticeLevel string

// Notice levels.
const (
	NoticeInfo    NoticeLevel = "info"
	NoticeSuccess NoticeLevel = "success"
	NoticeWarning NoticeLevel = "warning"
)

// Notice is a short-lived message shown to the user.
type Notice struct {
	Level    NoticeLevel   `json:"level"`
	Title    string        `json:"title"`
	Message  string        `json:"message"`
	Duration time.Duration `json:"duration"`
}
