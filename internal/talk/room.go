package talk

import (
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/dmeise/gotalk/internal/notify"
	"github.com/dmeise/gotalk/internal/request"
	"github.com/dmeise/gotalk/internal/stats"
	"github.com/dmeise/gotalk/internal/types"
)

// Room owns one conversation's append-only message log, its
// participant snapshot and its metadata. It is mutated only by the
// merge operations below; callers serialize access through the
// session's lock.
type Room struct {
	data         types.Room
	messages     []types.Message
	participants []types.Participant
	requester    request.Requester
	notifier     notify.Notifier
	stats        stats.StatsProvider
	log          *log.Logger
	logPath      string
	limit        int
}

type roomDeps struct {
	requester request.Requester
	notifier  notify.Notifier
	stats     stats.StatsProvider
	log       *log.Logger
	dataDir   string
	limit     int
}

// newRoom builds a room from its cache file when one exists and
// parses, falling back to an initial chat fetch. The participant
// snapshot is always fetched fresh; a failure there is logged but not
// fatal.
func newRoom(data types.Room, deps roomDeps) (*Room, error) {
	r := &Room{
		data:      data,
		requester: deps.requester,
		notifier:  deps.notifier,
		stats:     deps.stats,
		log:       deps.log,
		logPath:   filepath.Join(deps.dataDir, data.Token),
		limit:     deps.limit,
	}

	messages, err := readMessageLog(r.logPath)
	switch {
	case err == nil:
		r.messages = messages
	default:
		if !os.IsNotExist(err) {
			r.log.Printf("cache for room %q unusable, falling back to fetch: %v", data.DisplayName, err)
		}
		if err := r.fetchInitial(); err != nil {
			return nil, fmt.Errorf("initial fetch for room %q: %w", data.DisplayName, err)
		}
	}

	if err := r.refreshParticipants(); err != nil {
		r.log.Printf("failed to fetch participants for room %q: %v", data.DisplayName, err)
	}

	deps.stats.Incr(stats.RoomsLoaded)
	return r, nil
}

func (r *Room) Token() string {
	return r.data.Token
}

func (r *Room) DisplayName() string {
	return r.data.DisplayName
}

func (r *Room) Type() types.RoomType {
	return r.data.Type
}

func (r *Room) IsFavorite() bool {
	return r.data.IsFavorite
}

func (r *Room) HasUnread() bool {
	return r.data.UnreadMessages > 0
}

func (r *Room) Unread() int {
	return r.data.UnreadMessages
}

func (r *Room) LastRead() int {
	return r.data.LastReadMessage
}

func (r *Room) Messages() []types.Message {
	return r.messages
}

func (r *Room) Participants() []types.Participant {
	return r.participants
}

// Data returns the metadata snapshot stored in the cache index.
func (r *Room) Data() types.Room {
	return r.data
}

// LastMessageID is the raw merge cursor: the id of the newest stored
// entry, pseudo or not. Incremental fetches resume from here.
func (r *Room) LastMessageID() (int, bool) {
	if len(r.messages) == 0 {
		return 0, false
	}
	return r.messages[len(r.messages)-1].ID, true
}

// LastRoomLevelMessageID is the reconciliation watermark: the id of
// the newest entry that is not a reaction, edit note or other pseudo
// entry. The room list endpoint does not report pseudo entries, so
// comparing against the raw cursor would trigger fetches forever.
func (r *Room) LastRoomLevelMessageID() (int, bool) {
	for i := len(r.messages) - 1; i >= 0; i-- {
		if !r.messages[i].IsPseudo() {
			return r.messages[i].ID, true
		}
	}
	return 0, false
}

func (r *Room) fetchInitial() error {
	reply, err := r.requester.ChatInitial(r.data.Token, r.limit)
	if err != nil {
		return fmt.Errorf("enqueue initial chat fetch: %w", err)
	}
	res := <-reply
	if res.Err != nil {
		return res.Err
	}
	r.messages = res.Messages
	return nil
}

func (r *Room) refreshParticipants() error {
	reply, err := r.requester.Participants(r.data.Token)
	if err != nil {
		return fmt.Errorf("enqueue participants fetch: %w", err)
	}
	res := <-reply
	if res.Err != nil {
		return res.Err
	}
	// replaced wholesale; presence is cheap to refetch entirely
	r.participants = res.Participants
	return nil
}

// Update merges an incremental fetch into the log. When data is
// non-nil the room metadata is replaced first. Returns the number of
// newly appended messages. ErrRoomGone passes through untouched.
func (r *Room) Update(data *types.Room) (int, error) {
	if data != nil {
		r.data = *data
	}

	var fetched int
	if cursor, ok := r.LastMessageID(); ok {
		reply, err := r.requester.ChatUpdate(r.data.Token, r.limit, cursor)
		if err != nil {
			return 0, fmt.Errorf("enqueue chat update: %w", err)
		}
		res := <-reply
		if res.Err != nil {
			return 0, res.Err
		}
		if len(res.Messages) > 0 {
			r.log.Printf("updating %q, adding %d new messages", r.data.DisplayName, len(res.Messages))
			r.messages = append(r.messages, res.Messages...)
		}
		fetched = len(res.Messages)
	} else {
		// nothing stored yet, so there is no cursor to resume from
		if err := r.fetchInitial(); err != nil {
			return 0, err
		}
		fetched = len(r.messages)
	}

	if fetched > 0 {
		r.stats.Add(stats.MessagesMerged, fetched)
	}

	if r.HasUnread() && fetched > 0 {
		if err := r.notifier.UnreadMessage(r.data.DisplayName, fetched); err != nil {
			r.log.Printf("unread notification for %q failed: %v", r.data.DisplayName, err)
		}
	}

	if err := r.refreshParticipants(); err != nil {
		r.log.Printf("failed to refresh participants for %q: %v", r.data.DisplayName, err)
	}

	return fetched, nil
}

// UpdateIfNewer compares the upstream-reported last message id with
// the local room-level watermark and fetches only when upstream is
// ahead. The log is never rolled backward; a stale upstream id is
// logged as an anomaly and ignored.
func (r *Room) UpdateIfNewer(messageID int, data *types.Room) error {
	local, ok := r.LastRoomLevelMessageID()
	if !ok {
		return nil
	}

	switch {
	case messageID > local:
		r.log.Printf("new messages for %q, was %d now %d", r.data.DisplayName, local, messageID)
		_, err := r.Update(data)
		return err
	case messageID < local:
		r.log.Printf("upstream id %d for %q older than stored %d, ignoring", messageID, r.data.DisplayName, local)
	}
	return nil
}

// Send posts a message and returns the confirmed body. The local log
// is not touched; callers re-poll so the merge path stays the single
// place state changes.
func (r *Room) Send(message string) (string, error) {
	reply, err := r.requester.SendMessage(r.data.Token, message)
	if err != nil {
		return "", fmt.Errorf("enqueue send: %w", err)
	}
	res := <-reply
	if res.Err != nil {
		return "", res.Err
	}
	return res.Message.Message, nil
}

// MarkRead reports the newest stored entry as read. No-op on an empty
// log.
func (r *Room) MarkRead() error {
	last, ok := r.LastMessageID()
	if !ok {
		return nil
	}

	reply, err := r.requester.MarkRead(r.data.Token, last)
	if err != nil {
		return fmt.Errorf("enqueue mark read: %w", err)
	}
	res := <-reply
	return res.Err
}

// FillHistory refetches the initial window and prepends entries older
// than the current head. Used when a cached log was truncated.
func (r *Room) FillHistory() error {
	reply, err := r.requester.ChatInitial(r.data.Token, r.limit)
	if err != nil {
		return fmt.Errorf("enqueue history fetch: %w", err)
	}
	res := <-reply
	if res.Err != nil {
		return res.Err
	}

	if len(r.messages) == 0 {
		r.messages = res.Messages
		return nil
	}

	head := r.messages[0].ID
	var older []types.Message
	for _, msg := range res.Messages {
		if msg.ID < head {
			older = append(older, msg)
		}
	}
	if len(older) > 0 {
		r.messages = append(older, r.messages...)
	}
	return nil
}

// WriteLog persists the message log to the room's cache file.
func (r *Room) WriteLog() error {
	if err := writeMessageLog(r.logPath, r.messages); err != nil {
		r.log.Printf("couldn't persist log for %q: %v", r.data.DisplayName, err)
		return err
	}
	return nil
}
