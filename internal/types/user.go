package types

import "encoding/json"

// Participant is one attendee of a room, including presence status
// when the participants endpoint is queried with includeStatus.
type Participant struct {
	AttendeeID    int      `json:"attendeeId"`
	ActorType     string   `json:"actorType"`
	ActorID       string   `json:"actorId"`
	DisplayName   string   `json:"displayName"`
	InCall        int      `json:"inCall"`
	SessionIDs    []string `json:"sessionIds,omitempty"`
	Status        string   `json:"status,omitempty"`
	StatusIcon    string   `json:"statusIcon,omitempty"`
	StatusMessage string   `json:"statusMessage,omitempty"`
}

// UserStatus is the presence object attached to autocomplete results.
type UserStatus struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
	Icon    string `json:"icon,omitempty"`
}

// StatusField tolerates the server sending either a status object or a
// bare string in the status field of an autocomplete result.
type StatusField struct {
	UserStatus
}

func (s *StatusField) UnmarshalJSON(b []byte) error {
	if len(b) > 0 && b[0] == '"' {
		s.UserStatus = UserStatus{}
		return nil
	}
	return json.Unmarshal(b, &s.UserStatus)
}

// User is one entry of the user search (autocomplete) endpoint.
type User struct {
	ID      string      `json:"id"`
	Label   string      `json:"label"`
	Icon    string      `json:"icon,omitempty"`
	Source  string      `json:"source,omitempty"`
	Status  StatusField `json:"status"`
	Subline string      `json:"subline,omitempty"`
}
