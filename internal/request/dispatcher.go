package request

import (
	"context"
	"log"
	"sync"

	"github.com/dmeise/gotalk/internal/stats"
	"github.com/dmeise/gotalk/internal/types"
	"github.com/teris-io/shortid"
)

// queueCapacity tolerates a burst of per-room updates queued by one
// poll cycle without blocking the caller.
const queueCapacity = 64

// Result types delivered over the one-shot reply channels. Exactly one
// value is sent per request, then the channel is closed.

type RoomListResult struct {
	Rooms  []types.Room
	Cursor int64
	Err    error
}

type MessagesResult struct {
	Messages []types.Message
	Err      error
}

type MessageResult struct {
	Message types.Message
	Err     error
}

type ParticipantsResult struct {
	Participants []types.Participant
	Err          error
}

type UsersResult struct {
	Users []types.User
	Err   error
}

type AckResult struct {
	Err error
}

// Requester is the asynchronous request/response contract the rooms
// and the session consume. Submitting never blocks on the network: it
// enqueues and returns a reply channel that resolves once the worker
// has executed the request. A full queue fails fast with ErrQueueFull.
type Requester interface {
	RoomList(modifiedSince int64) (<-chan RoomListResult, error)
	ChatInitial(token string, limit int) (<-chan MessagesResult, error)
	ChatUpdate(token string, limit, lastKnownID int) (<-chan MessagesResult, error)
	SendMessage(token, message string) (<-chan MessageResult, error)
	MarkRead(token string, lastID int) (<-chan AckResult, error)
	Participants(token string) (<-chan ParticipantsResult, error)
	AutocompleteUsers(search string) (<-chan UsersResult, error)
}

// apiRequest is one queued operation. Exactly one variant is set.
type apiRequest struct {
	id           string
	roomList     *roomListReq
	chatInitial  *chatInitialReq
	chatUpdate   *chatUpdateReq
	sendMessage  *sendMessageReq
	markRead     *markReadReq
	participants *participantsReq
	autocomplete *autocompleteReq
}

type roomListReq struct {
	modifiedSince int64
	reply         chan RoomListResult
}

type chatInitialReq struct {
	token string
	limit int
	reply chan MessagesResult
}

type chatUpdateReq struct {
	token       string
	limit       int
	lastKnownID int
	reply       chan MessagesResult
}

type sendMessageReq struct {
	token   string
	message string
	reply   chan MessageResult
}

type markReadReq struct {
	token  string
	lastID int
	reply  chan AckResult
}

type participantsReq struct {
	token string
	reply chan ParticipantsResult
}

type autocompleteReq struct {
	search string
	reply  chan UsersResult
}

// Dispatcher serializes all remote calls. A single worker goroutine
// owns the RemoteAPI exclusively and drains the queue strictly in FIFO
// order, one request at a time, so the remote cursors never see
// interleaved reads.
type Dispatcher struct {
	api     RemoteAPI
	queue   chan *apiRequest
	stop    chan struct{}
	done    chan struct{}
	mu      sync.RWMutex
	closed  bool
	log     *log.Logger
	stats   stats.StatsProvider
}

func NewDispatcher(api RemoteAPI, logger *log.Logger, sp stats.StatsProvider) *Dispatcher {
	return &Dispatcher{
		api:   api,
		queue: make(chan *apiRequest, queueCapacity),
		stop:  make(chan struct{}),
		done:  make(chan struct{}),
		log:   logger,
		stats: sp,
	}
}

// Run starts the worker goroutine.
func (d *Dispatcher) Run() {
	go d.loop()
}

func (d *Dispatcher) loop() {
	defer close(d.done)

	for {
		select {
		case req := <-d.queue:
			d.execute(req)
		case <-d.stop:
			// requests enqueued before shutdown still get a resolved
			// reply; their callers observe ErrDispatcherClosed
			d.drain()
			return
		}
	}
}

func (d *Dispatcher) drain() {
	for {
		select {
		case req := <-d.queue:
			d.fail(req, ErrDispatcherClosed)
		default:
			return
		}
	}
}

// Shutdown stops the worker after the in-flight request completes and
// fails everything still queued. Safe to call more than once.
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	d.mu.Unlock()

	close(d.stop)

	select {
	case <-d.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Dispatcher) submit(req *apiRequest) error {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		return ErrDispatcherClosed
	}

	select {
	case d.queue <- req:
		d.stats.Incr(stats.RequestsQueued)
		return nil
	default:
		d.stats.Incr(stats.QueueRejections)
		d.log.Printf("request %s rejected, queue full", req.id)
		return ErrQueueFull
	}
}

func newAPIRequest() *apiRequest {
	id, err := shortid.Generate()
	if err != nil {
		id = "unknown"
	}
	return &apiRequest{id: id}
}

func (d *Dispatcher) RoomList(modifiedSince int64) (<-chan RoomListResult, error) {
	req := newAPIRequest()
	req.roomList = &roomListReq{
		modifiedSince: modifiedSince,
		reply:         make(chan RoomListResult, 1),
	}
	if err := d.submit(req); err != nil {
		return nil, err
	}
	return req.roomList.reply, nil
}

func (d *Dispatcher) ChatInitial(token string, limit int) (<-chan MessagesResult, error) {
	req := newAPIRequest()
	req.chatInitial = &chatInitialReq{
		token: token,
		limit: limit,
		reply: make(chan MessagesResult, 1),
	}
	if err := d.submit(req); err != nil {
		return nil, err
	}
	return req.chatInitial.reply, nil
}

func (d *Dispatcher) ChatUpdate(token string, limit, lastKnownID int) (<-chan MessagesResult, error) {
	req := newAPIRequest()
	req.chatUpdate = &chatUpdateReq{
		token:       token,
		limit:       limit,
		lastKnownID: lastKnownID,
		reply:       make(chan MessagesResult, 1),
	}
	if err := d.submit(req); err != nil {
		return nil, err
	}
	return req.chatUpdate.reply, nil
}

func (d *Dispatcher) SendMessage(token, message string) (<-chan MessageResult, error) {
	req := newAPIRequest()
	req.sendMessage = &sendMessageReq{
		token:   token,
		message: message,
		reply:   make(chan MessageResult, 1),
	}
	if err := d.submit(req); err != nil {
		return nil, err
	}
	return req.sendMessage.reply, nil
}

func (d *Dispatcher) MarkRead(token string, lastID int) (<-chan AckResult, error) {
	req := newAPIRequest()
	req.markRead = &markReadReq{
		token:  token,
		lastID: lastID,
		reply:  make(chan AckResult, 1),
	}
	if err := d.submit(req); err != nil {
		return nil, err
	}
	return req.markRead.reply, nil
}

func (d *Dispatcher) Participants(token string) (<-chan ParticipantsResult, error) {
	req := newAPIRequest()
	req.participants = &participantsReq{
		token: token,
		reply: make(chan ParticipantsResult, 1),
	}
	if err := d.submit(req); err != nil {
		return nil, err
	}
	return req.participants.reply, nil
}

func (d *Dispatcher) AutocompleteUsers(search string) (<-chan UsersResult, error) {
	req := newAPIRequest()
	req.autocomplete = &autocompleteReq{
		search: search,
		reply:  make(chan UsersResult, 1),
	}
	if err := d.submit(req); err != nil {
		return nil, err
	}
	return req.autocomplete.reply, nil
}

func (d *Dispatcher) execute(req *apiRequest) {
	ctx := context.Background()

	switch {
	case req.roomList != nil:
		r := req.roomList
		rooms, cursor, err := d.api.RoomList(ctx, r.modifiedSince)
		d.complete(req, err)
		r.reply <- RoomListResult{Rooms: rooms, Cursor: cursor, Err: err}
		close(r.reply)
	case req.chatInitial != nil:
		r := req.chatInitial
		messages, err := d.api.ChatInitial(ctx, r.token, r.limit)
		d.complete(req, err)
		r.reply <- MessagesResult{Messages: messages, Err: err}
		close(r.reply)
	case req.chatUpdate != nil:
		r := req.chatUpdate
		messages, err := d.api.ChatUpdate(ctx, r.token, r.limit, r.lastKnownID)
		d.complete(req, err)
		r.reply <- MessagesResult{Messages: messages, Err: err}
		close(r.reply)
	case req.sendMessage != nil:
		r := req.sendMessage
		message, err := d.api.SendMessage(ctx, r.token, r.message)
		d.complete(req, err)
		r.reply <- MessageResult{Message: message, Err: err}
		close(r.reply)
	case req.markRead != nil:
		r := req.markRead
		err := d.api.MarkRead(ctx, r.token, r.lastID)
		d.complete(req, err)
		r.reply <- AckResult{Err: err}
		close(r.reply)
	case req.participants != nil:
		r := req.participants
		participants, err := d.api.Participants(ctx, r.token)
		d.complete(req, err)
		r.reply <- ParticipantsResult{Participants: participants, Err: err}
		close(r.reply)
	case req.autocomplete != nil:
		r := req.autocomplete
		users, err := d.api.AutocompleteUsers(ctx, r.search)
		d.complete(req, err)
		r.reply <- UsersResult{Users: users, Err: err}
		close(r.reply)
	default:
		d.log.Printf("request %s has no variant set, dropping", req.id)
	}
}

func (d *Dispatcher) complete(req *apiRequest, err error) {
	if err != nil {
		d.stats.Incr(stats.RequestsFailed)
		d.log.Printf("request %s failed: %v", req.id, err)
		return
	}
	d.stats.Incr(stats.RequestsExecuted)
}

// fail resolves every variant's reply channel with err.
func (d *Dispatcher) fail(req *apiRequest, err error) {
	switch {
	case req.roomList != nil:
		req.roomList.reply <- RoomListResult{Err: err}
		close(req.roomList.reply)
	case req.chatInitial != nil:
		req.chatInitial.reply <- MessagesResult{Err: err}
		close(req.chatInitial.reply)
	case req.chatUpdate != nil:
		req.chatUpdate.reply <- MessagesResult{Err: err}
		close(req.chatUpdate.reply)
	case req.sendMessage != nil:
		req.sendMessage.reply <- MessageResult{Err: err}
		close(req.sendMessage.reply)
	case req.markRead != nil:
		req.markRead.reply <- AckResult{Err: err}
		close(req.markRead.reply)
	case req.participants != nil:
		req.participants.reply <- ParticipantsResult{Err: err}
		close(req.participants.reply)
	case req.autocomplete != nil:
		req.autocomplete.reply <- UsersResult{Err: err}
		close(req.autocomplete.reply)
	}
}
