// Package notify defines the signal surface the sync engine reports
// unread activity on. Desktop notification delivery is an external
// collaborator; the in-tree implementation just logs.
package notify

import "log"

type Notifier interface {
	// UnreadMessage reports new messages merged into a room the server
	// flags as unread.
	UnreadMessage(roomName string, count int) error
	// NewRoom reports a room seen for the first time.
	NewRoom(roomName string) error
}

// LogNotifier writes notification events to the session logger.
type LogNotifier struct {
	log *log.Logger
}

func NewLogNotifier(logger *log.Logger) *LogNotifier {
	return &LogNotifier{log: logger}
}

func (n *LogNotifier) UnreadMessage(roomName string, count int) error {
	n.log.Printf("unread: %d new messages in %q", count, roomName)
	return nil
}

func (n *LogNotifier) NewRoom(roomName string) error {
	n.log.Printf("added to new room %q", roomName)
	return nil
}
