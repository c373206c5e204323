package talk

import (
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/dmeise/gotalk/internal/config"
	"github.com/dmeise/gotalk/internal/notify"
	"github.com/dmeise/gotalk/internal/request"
	"github.com/dmeise/gotalk/internal/stats"
	"github.com/dmeise/gotalk/internal/types"
)

// maxConcurrentLoads bounds how many rooms are constructed in parallel
// during discovery so a large account cannot saturate the dispatcher
// queue.
const maxConcurrentLoads = 4

// RoomEntry pairs a token with its display name for listings.
type RoomEntry struct {
	Token       string
	DisplayName string
}

// Session owns the token-to-room map and the dispatcher handle and
// orchestrates discovery, selection and poll cycles. The rooms map and
// the current token are the only state shared across call sites; all
// mutation goes through the session lock (single-writer discipline,
// room merges have no internal synchronization).
type Session struct {
	mu            sync.RWMutex
	rooms         map[string]*Room
	current       string
	lastRequested int64
	requester     request.Requester
	notifier      notify.Notifier
	stats         stats.StatsProvider
	log           *log.Logger
	dataDir       string
	limit         int
}

// NewSession fetches the initial room list, reconstructs rooms from
// the cache where possible and fetches the rest. Rooms without a cache
// file are created concurrently and joined before the session becomes
// visible. The dispatcher must already be running.
func NewSession(cfg *config.Config, requester request.Requester, notifier notify.Notifier, sp stats.StatsProvider, logger *log.Logger) (*Session, error) {
	dataDir := cfg.ServerDataDir()
	if err := os.MkdirAll(dataDir, 0o700); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	s := &Session{
		rooms:     make(map[string]*Room),
		requester: requester,
		notifier:  notifier,
		stats:     sp,
		log:       logger,
		dataDir:   dataDir,
		limit:     cfg.ChatHistoryLimit,
	}

	reply, err := requester.RoomList(0)
	if err != nil {
		return nil, fmt.Errorf("enqueue initial room list: %w", err)
	}
	res := <-reply
	if res.Err != nil {
		return nil, fmt.Errorf("initial room list: %w", res.Err)
	}
	s.lastRequested = res.Cursor

	index, err := readIndex(dataDir)
	if err != nil && !os.IsNotExist(err) {
		logger.Printf("room index unusable, falling back to full fetch: %v", err)
	}

	var fresh []types.Room
	for _, data := range res.Rooms {
		if s.hasCacheFile(data.Token) {
			room, err := newRoom(data, s.roomDeps())
			if err != nil {
				logger.Printf("failed to load room %q: %v", data.DisplayName, err)
				continue
			}
			// pull in whatever arrived while the client was offline
			if err := room.UpdateIfNewer(data.LastMessage.ID, nil); err != nil {
				logger.Printf("reconciling room %q failed: %v", data.DisplayName, err)
			}
			s.rooms[data.Token] = room
			continue
		}
		fresh = append(fresh, data)
	}

	s.loadRooms(fresh)

	for token, cached := range index {
		if _, ok := s.rooms[token]; !ok {
			// cache file stays on disk; see DESIGN.md
			logger.Printf("room %q no longer reported upstream", cached.DisplayName)
		}
	}

	if cfg.DefaultRoom != "" {
		if token, ok := s.roomTokenByDisplayName(cfg.DefaultRoom); ok {
			s.current = token
		}
	}

	logger.Printf("session ready with %d rooms", len(s.rooms))
	return s, nil
}

func (s *Session) roomDeps() roomDeps {
	return roomDeps{
		requester: s.requester,
		notifier:  s.notifier,
		stats:     s.stats,
		log:       s.log,
		dataDir:   s.dataDir,
		limit:     s.limit,
	}
}

func (s *Session) hasCacheFile(token string) bool {
	info, err := os.Stat(filepath.Join(s.dataDir, token))
	return err == nil && info.Mode().IsRegular()
}

// loadRooms constructs rooms concurrently, bounded, and joins before
// returning. Individual failures are logged, not fatal.
func (s *Session) loadRooms(roomData []types.Room) {
	var (
		wg  sync.WaitGroup
		mu  sync.Mutex
		sem = make(chan struct{}, maxConcurrentLoads)
	)

	for _, data := range roomData {
		wg.Add(1)
		go func(data types.Room) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			room, err := newRoom(data, s.roomDeps())
			if err != nil {
				s.log.Printf("failed to create room %q: %v", data.DisplayName, err)
				return
			}
			mu.Lock()
			s.rooms[data.Token] = room
			mu.Unlock()
		}(data)
	}
	wg.Wait()
}

// UpdateRooms runs one poll cycle. The periodic mode (force false)
// fetches the full room list and reconciles each room against its
// reported last message id; the forced mode fetches conditionally on
// the stored cursor and re-merges every reported room outright.
// Returns the display names of newly discovered rooms. A single
// room's failure never aborts the cycle.
func (s *Session) UpdateRooms(force bool) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var modifiedSince int64
	if force {
		modifiedSince = s.lastRequested
	}

	reply, err := s.requester.RoomList(modifiedSince)
	if err != nil {
		return nil, fmt.Errorf("enqueue room list: %w", err)
	}
	res := <-reply
	if res.Err != nil {
		return nil, fmt.Errorf("room list: %w", res.Err)
	}
	s.lastRequested = res.Cursor

	var newRooms []string
	seen := make(map[string]struct{}, len(res.Rooms))
	for _, data := range res.Rooms {
		seen[data.Token] = struct{}{}

		room, ok := s.rooms[data.Token]
		if !ok {
			created, err := newRoom(data, s.roomDeps())
			if err != nil {
				s.log.Printf("failed to create room %q: %v", data.DisplayName, err)
				continue
			}
			s.rooms[data.Token] = created
			newRooms = append(newRooms, data.DisplayName)
			if err := s.notifier.NewRoom(data.DisplayName); err != nil {
				s.log.Printf("new-room notification for %q failed: %v", data.DisplayName, err)
			}
			continue
		}

		if force {
			_, err = room.Update(&data)
		} else {
			err = room.UpdateIfNewer(data.LastMessage.ID, &data)
		}
		if err != nil {
			if errors.Is(err, request.ErrRoomGone) {
				s.dropRoom(data.Token)
				continue
			}
			s.log.Printf("update for room %q failed: %v", room.DisplayName(), err)
		}
	}

	// only an unconditional listing is authoritative for existence; a
	// conditional fetch omits unmodified rooms
	if !force {
		for token := range s.rooms {
			if _, ok := seen[token]; !ok {
				s.dropRoom(token)
			}
		}
	}

	return newRooms, nil
}

// dropRoom removes the in-memory room. The on-disk log is retained.
func (s *Session) dropRoom(token string) {
	if room, ok := s.rooms[token]; ok {
		s.log.Printf("room %q no longer exists upstream, dropping", room.DisplayName())
		delete(s.rooms, token)
	}
	if s.current == token {
		s.current = ""
	}
}

// SendMessage posts to the room and immediately re-polls it so the
// merge path is the only place the log changes.
func (s *Session) SendMessage(token, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	room, ok := s.rooms[token]
	if !ok {
		return fmt.Errorf("no room with token %q", token)
	}
	if _, err := room.Send(message); err != nil {
		return err
	}
	_, err := room.Update(nil)
	return err
}

// SelectRoom refreshes the room and makes it current.
func (s *Session) SelectRoom(token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	room, ok := s.rooms[token]
	if !ok {
		return fmt.Errorf("no room with token %q", token)
	}
	if _, err := room.Update(nil); err != nil {
		return err
	}
	s.current = token
	return nil
}

func (s *Session) CurrentRoom() (*Room, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	room, ok := s.rooms[s.current]
	return room, ok
}

func (s *Session) Room(token string) (*Room, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	room, ok := s.rooms[token]
	return room, ok
}

func (s *Session) RoomTokenByDisplayName(name string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.roomTokenByDisplayName(name)
}

func (s *Session) roomTokenByDisplayName(name string) (string, bool) {
	for token, room := range s.rooms {
		if room.DisplayName() == name {
			return token, true
		}
	}
	return "", false
}

func (s *Session) Tokens() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tokens := make([]string, 0, len(s.rooms))
	for token := range s.rooms {
		tokens = append(tokens, token)
	}
	slices.Sort(tokens)
	return tokens
}

func (s *Session) UnreadRooms() []RoomEntry {
	return s.listRooms(func(r *Room) bool { return r.HasUnread() })
}

func (s *Session) FavoriteRooms() []RoomEntry {
	return s.listRooms(func(r *Room) bool { return r.IsFavorite() })
}

func (s *Session) DirectRooms() []RoomEntry {
	return s.listRooms(func(r *Room) bool { return r.Type().IsDirect() })
}

func (s *Session) GroupRooms() []RoomEntry {
	return s.listRooms(func(r *Room) bool { return r.Type().IsGroup() })
}

func (s *Session) listRooms(keep func(*Room) bool) []RoomEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var entries []RoomEntry
	for token, room := range s.rooms {
		if keep(room) {
			entries = append(entries, RoomEntry{Token: token, DisplayName: room.DisplayName()})
		}
	}
	slices.SortFunc(entries, func(a, b RoomEntry) int {
		return strings.Compare(a.DisplayName, b.DisplayName)
	})
	return entries
}

func (s *Session) MarkRead(token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	room, ok := s.rooms[token]
	if !ok {
		return fmt.Errorf("no room with token %q", token)
	}
	return room.MarkRead()
}

// MarkAllRead walks the rooms the server flags unread.
func (s *Session) MarkAllRead() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, room := range s.rooms {
		if !room.HasUnread() {
			continue
		}
		if err := room.MarkRead(); err != nil {
			return fmt.Errorf("mark %q read: %w", room.DisplayName(), err)
		}
	}
	return nil
}

// AutocompleteUsers proxies the user search through the dispatcher.
func (s *Session) AutocompleteUsers(search string) ([]types.User, error) {
	reply, err := s.requester.AutocompleteUsers(search)
	if err != nil {
		return nil, fmt.Errorf("enqueue user search: %w", err)
	}
	res := <-reply
	return res.Users, res.Err
}

// WriteCache persists every room log plus the index. Failures are
// collected and reported but leave the in-memory session intact; the
// cost of a lost write is a refetch on the next start.
func (s *Session) WriteCache() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	index := make(map[string]types.Room, len(s.rooms))
	var errs []error
	for token, room := range s.rooms {
		index[token] = room.Data()
		if err := room.WriteLog(); err != nil {
			errs = append(errs, err)
		}
	}

	if err := writeIndex(s.dataDir, index); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
