package types

import (
	"bytes"
	"encoding/json"
)

// Message type values used by the server for timeline entries.
const (
	MessageComment        = "comment"
	MessageCommentDeleted = "comment_deleted"
	MessageSystem         = "system"
	MessageCommand        = "command"
)

// SystemSubtype classifies the systemMessage field of a system entry.
// The server's value set is open ended, so classification never fails;
// values this client does not know map to SubtypeUnrecognized.
type SystemSubtype string

const (
	SubtypeMessageEdited   SystemSubtype = "message_edited"
	SubtypeMessageDeleted  SystemSubtype = "message_deleted"
	SubtypeReaction        SystemSubtype = "reaction"
	SubtypeReactionRevoked SystemSubtype = "reaction_revoked"
	SubtypeCallStarted     SystemSubtype = "call_started"
	SubtypeCallEnded       SystemSubtype = "call_ended"
	SubtypeUserAdded       SystemSubtype = "user_added"
	SubtypeUserRemoved     SystemSubtype = "user_removed"
	SubtypeHistoryCleared  SystemSubtype = "history_cleared"
	SubtypeUnrecognized    SystemSubtype = "unrecognized"
)

var knownSubtypes = map[SystemSubtype]struct{}{
	SubtypeMessageEdited:   {},
	SubtypeMessageDeleted:  {},
	SubtypeReaction:        {},
	SubtypeReactionRevoked: {},
	SubtypeCallStarted:     {},
	SubtypeCallEnded:       {},
	SubtypeUserAdded:       {},
	SubtypeUserRemoved:     {},
	SubtypeHistoryCleared:  {},
}

// Parameter is one named mention parameter of a message body.
type Parameter struct {
	Type string `json:"type"`
	ID   string `json:"id"`
	Name string `json:"name"`
}

// ParameterMap holds the messageParameters field. The server sends an
// empty JSON array instead of an empty object when there are none, so
// decoding tolerates both shapes.
type ParameterMap map[string]Parameter

func (p *ParameterMap) UnmarshalJSON(b []byte) error {
	if isJSONArray(b) {
		*p = ParameterMap{}
		return nil
	}
	var raw map[string]Parameter
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	*p = raw
	return nil
}

// Message is one entry of a room's timeline as delivered by the chat
// endpoint. Entries are append-only; edits and deletions arrive as new
// system entries referencing the original.
type Message struct {
	ID                  int            `json:"id"`
	Token               string         `json:"token"`
	ActorType           string         `json:"actorType"`
	ActorID             string         `json:"actorId"`
	ActorDisplayName    string         `json:"actorDisplayName"`
	Timestamp           int64          `json:"timestamp"`
	SystemMessage       string         `json:"systemMessage"`
	MessageType         string         `json:"messageType"`
	IsReplyable         bool           `json:"isReplyable"`
	ReferenceID         string         `json:"referenceId"`
	Message             string         `json:"message"`
	MessageParameters   ParameterMap   `json:"messageParameters,omitempty"`
	ExpirationTimestamp int64          `json:"expirationTimestamp,omitempty"`
	Parent              *Parent        `json:"parent,omitempty"`
	Reactions           map[string]int `json:"reactions,omitempty"`
	ReactionsSelf       []string       `json:"reactionsSelf,omitempty"`
	Markdown            bool           `json:"markdown"`
}

// Parent is the quoted message on a reply. The server sends an empty
// JSON array when there is none.
type Parent struct {
	Message
}

func (p *Parent) UnmarshalJSON(b []byte) error {
	if isJSONArray(b) {
		p.Message = Message{}
		return nil
	}
	return json.Unmarshal(b, &p.Message)
}

func (m *Message) IsComment() bool {
	return m.MessageType == MessageComment
}

func (m *Message) IsCommentDeleted() bool {
	return m.MessageType == MessageCommentDeleted
}

func (m *Message) IsSystem() bool {
	return m.MessageType == MessageSystem
}

func (m *Message) IsCommand() bool {
	return m.MessageType == MessageCommand
}

// Subtype returns the classified system subtype. It is empty for
// non-system entries and SubtypeUnrecognized for unknown values.
func (m *Message) Subtype() SystemSubtype {
	if !m.IsSystem() {
		return ""
	}
	sub := SystemSubtype(m.SystemMessage)
	if _, ok := knownSubtypes[sub]; ok {
		return sub
	}
	return SubtypeUnrecognized
}

func (m *Message) IsEditNote() bool {
	return m.Subtype() == SubtypeMessageEdited
}

func (m *Message) IsReaction() bool {
	sub := m.Subtype()
	return sub == SubtypeReaction || sub == SubtypeReactionRevoked
}

// IsPseudo reports whether the entry is transient bookkeeping rather
// than conversation content. Pseudo entries share the timeline with
// ordinary messages but must not count as new room activity.
func (m *Message) IsPseudo() bool {
	switch m.Subtype() {
	case SubtypeReaction, SubtypeReactionRevoked, SubtypeMessageEdited, SubtypeMessageDeleted:
		return true
	}
	return false
}

func (m *Message) HasReactions() bool {
	return len(m.Reactions) > 0
}

// ParentID returns the id of the replied-to message. The reference is
// lookup-only; the parent may never have been fetched locally.
func (m *Message) ParentID() (int, bool) {
	if m.Parent == nil || m.Parent.ID == 0 {
		return 0, false
	}
	return m.Parent.ID, true
}

func isJSONArray(b []byte) bool {
	trimmed := bytes.TrimSpace(b)
	return len(trimmed) > 0 && trimmed[0] == '['
}
