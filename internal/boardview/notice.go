package boardview

import "time"

type NoticeLevel int

const (
	NoticeWarning NoticeLevel = iota
	NoticeError
)

func (l NoticeLevel) String() string {
	if l == NoticeError {
		return "error"
	}
	return "warning"
}

// Notice is a user-visible, dismissible message.
type Notice struct {
	ID      uint64
	Level   NoticeLevel
	Message string
	At      time.Time
}
