package types

import "encoding/json"

// RoomType is the server's conversation classification.
type RoomType int

const (
	RoomTypeOneToOne RoomType = iota + 1
	RoomTypeGroup
	RoomTypePublic
	RoomTypeChangelog
	RoomTypeFormerOneToOne
	RoomTypeNoteToSelf
)

// IsDirect reports whether the room shows up in the direct-message
// listing. Changelog and note-to-self behave like one-to-one rooms.
func (t RoomType) IsDirect() bool {
	switch t {
	case RoomTypeOneToOne, RoomTypeNoteToSelf, RoomTypeChangelog:
		return true
	}
	return false
}

// IsGroup reports whether the room shows up in the group listing.
func (t RoomType) IsGroup() bool {
	return t == RoomTypeGroup || t == RoomTypePublic
}

// Room is a conversation's metadata as reported by the room list
// endpoint. The token is the stable primary key.
type Room struct {
	ID              int         `json:"id"`
	Token           string      `json:"token"`
	Type            RoomType    `json:"type"`
	Name            string      `json:"name"`
	DisplayName     string      `json:"displayName"`
	Description     string      `json:"description,omitempty"`
	IsFavorite      bool        `json:"isFavorite"`
	UnreadMessages  int         `json:"unreadMessages"`
	UnreadMention   bool        `json:"unreadMention"`
	LastReadMessage int         `json:"lastReadMessage"`
	LastActivity    int64       `json:"lastActivity"`
	LastMessage     LastMessage `json:"lastMessage"`
}

// LastMessage wraps the room's most recent message. Rooms without one
// carry an empty JSON array in that field.
type LastMessage struct {
	Message
}

func (l *LastMessage) UnmarshalJSON(b []byte) error {
	if isJSONArray(b) {
		l.Message = Message{}
		return nil
	}
	return json.Unmarshal(b, &l.Message)
}
