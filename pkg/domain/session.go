package domain

// Session is the locally persisted identity of a participant in one room.
type Session struct {
	UserID   string `json:"userId" yaml:"user_id"`
	UserName string `json:"userName" yaml:"user_name"`
	RoomID   string `json:"roomId" yaml:"room_id"`

	// ServerSessionID is the server's session cookie, kept so a later run
	// can resume without joining again.
	ServerSessionID string `json:"-" yaml:"session_id,omitempty"`
}

// Complete returns true if all three identity fields are set.
func (s Session) Complete() bool {
	return s.UserID != "" && s.UserName != "" && s.RoomID != ""
}
