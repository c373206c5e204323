package request

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/dmeise/gotalk/internal/config"
	"github.com/dmeise/gotalk/internal/types"
)

const (
	roomsPath        = "/ocs/v2.php/apps/spreed/api/v4/room"
	chatPath         = "/ocs/v2.php/apps/spreed/api/v1/chat/"
	autocompletePath = "/ocs/v2.php/core/autocomplete/get"

	// cursor for the next conditional room list fetch
	modifiedBeforeHeader = "X-Nextcloud-Talk-Modified-Before"
)

// RemoteAPI is the capability set of the remote service: the six
// authenticated operations the sync engine needs. The dispatcher owns
// one implementation exclusively; tests substitute a mock.
type RemoteAPI interface {
	RoomList(ctx context.Context, modifiedSince int64) ([]types.Room, int64, error)
	ChatInitial(ctx context.Context, token string, limit int) ([]types.Message, error)
	ChatUpdate(ctx context.Context, token string, limit, lastKnownID int) ([]types.Message, error)
	SendMessage(ctx context.Context, token, message string) (types.Message, error)
	MarkRead(ctx context.Context, token string, lastID int) error
	Participants(ctx context.Context, token string) ([]types.Participant, error)
	AutocompleteUsers(ctx context.Context, search string) ([]types.User, error)
}

// Client issues the OCS HTTP calls. It is stateless apart from the
// configured base URL and credentials and performs no serialization of
// its own; that is the dispatcher's job.
type Client struct {
	baseURL  string
	username string
	password string
	dumpDir  string
	http     *http.Client
	log      *log.Logger
}

func NewClient(cfg *config.Config, logger *log.Logger) *Client {
	return &Client{
		baseURL:  cfg.ServerURL,
		username: cfg.Username,
		password: cfg.AppPassword,
		dumpDir:  cfg.DumpDir(),
		// coarse transport timeout only; the protocol's timeout=0 poll
		// mode keeps individual calls short by design
		http: &http.Client{Timeout: 30 * time.Second},
		log:  logger,
	}
}

func (c *Client) RoomList(ctx context.Context, modifiedSince int64) ([]types.Room, int64, error) {
	params := url.Values{}
	if modifiedSince > 0 {
		params.Set("modifiedSince", strconv.FormatInt(modifiedSince, 10))
	}
	reqURL := c.buildURL(roomsPath, params)

	resp, body, err := c.do(ctx, http.MethodGet, reqURL)
	if err != nil {
		return nil, 0, &RequestError{Op: "list rooms", URL: reqURL, Err: err}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, 0, &RequestError{Op: "list rooms", URL: reqURL, StatusCode: resp.StatusCode}
	}

	rooms, err := decodeOCS[[]types.Room](c, reqURL, body)
	if err != nil {
		return nil, 0, err
	}

	cursor, err := strconv.ParseInt(resp.Header.Get(modifiedBeforeHeader), 10, 64)
	if err != nil {
		// without a cursor the next conditional poll degrades to a
		// full fetch, which is safe
		c.log.Printf("room list response carried no usable %s header: %v", modifiedBeforeHeader, err)
		cursor = 0
	}
	return rooms, cursor, nil
}

func (c *Client) ChatInitial(ctx context.Context, token string, limit int) ([]types.Message, error) {
	params := url.Values{}
	params.Set("limit", strconv.Itoa(limit))
	params.Set("setReadMarker", "0")
	params.Set("lookIntoFuture", "0")

	messages, err := c.requestChat(ctx, token, params)
	if err != nil {
		return nil, err
	}
	// the server delivers the initial window newest first; storage
	// order is chronological
	slices.Reverse(messages)
	return messages, nil
}

func (c *Client) ChatUpdate(ctx context.Context, token string, limit, lastKnownID int) ([]types.Message, error) {
	params := url.Values{}
	params.Set("limit", strconv.Itoa(limit))
	params.Set("setReadMarker", "0")
	params.Set("lookIntoFuture", "1")
	params.Set("lastKnownMessageId", strconv.Itoa(lastKnownID))
	params.Set("timeout", "0")
	params.Set("includeLastKnown", "0")

	return c.requestChat(ctx, token, params)
}

func (c *Client) requestChat(ctx context.Context, token string, params url.Values) ([]types.Message, error) {
	reqURL := c.buildURL(chatPath+token, params)

	resp, body, err := c.do(ctx, http.MethodGet, reqURL)
	if err != nil {
		return nil, &RequestError{Op: "fetch chat", URL: reqURL, Err: err}
	}

	switch resp.StatusCode {
	case http.StatusOK:
		return decodeOCS[[]types.Message](c, reqURL, body)
	case http.StatusNotModified:
		return nil, nil
	case http.StatusPreconditionFailed:
		return nil, ErrRoomGone
	default:
		return nil, &RequestError{Op: "fetch chat", URL: reqURL, StatusCode: resp.StatusCode}
	}
}

func (c *Client) SendMessage(ctx context.Context, token, message string) (types.Message, error) {
	params := url.Values{}
	params.Set("message", message)
	reqURL := c.buildURL(chatPath+token, params)

	resp, body, err := c.do(ctx, http.MethodPost, reqURL)
	if err != nil {
		return types.Message{}, &RequestError{Op: "send message", URL: reqURL, Err: err}
	}
	if resp.StatusCode != http.StatusCreated {
		return types.Message{}, &RequestError{Op: "send message", URL: reqURL, StatusCode: resp.StatusCode}
	}

	return decodeOCS[types.Message](c, reqURL, body)
}

func (c *Client) MarkRead(ctx context.Context, token string, lastID int) error {
	params := url.Values{}
	params.Set("lastReadMessage", strconv.Itoa(lastID))
	reqURL := c.buildURL(chatPath+token+"/read", params)

	resp, _, err := c.do(ctx, http.MethodPost, reqURL)
	if err != nil {
		return &RequestError{Op: "mark read", URL: reqURL, Err: err}
	}
	if resp.StatusCode != http.StatusOK {
		return &RequestError{Op: "mark read", URL: reqURL, StatusCode: resp.StatusCode}
	}
	return nil
}

func (c *Client) Participants(ctx context.Context, token string) ([]types.Participant, error) {
	params := url.Values{}
	params.Set("includeStatus", "true")
	reqURL := c.buildURL(roomsPath+"/"+token+"/participants", params)

	resp, body, err := c.do(ctx, http.MethodGet, reqURL)
	if err != nil {
		return nil, &RequestError{Op: "fetch participants", URL: reqURL, Err: err}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &RequestError{Op: "fetch participants", URL: reqURL, StatusCode: resp.StatusCode}
	}

	return decodeOCS[[]types.Participant](c, reqURL, body)
}

func (c *Client) AutocompleteUsers(ctx context.Context, search string) ([]types.User, error) {
	params := url.Values{}
	params.Set("limit", "200")
	params.Set("search", search)
	reqURL := c.buildURL(autocompletePath, params)

	resp, body, err := c.do(ctx, http.MethodGet, reqURL)
	if err != nil {
		return nil, &RequestError{Op: "autocomplete users", URL: reqURL, Err: err}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &RequestError{Op: "autocomplete users", URL: reqURL, StatusCode: resp.StatusCode}
	}

	return decodeOCS[[]types.User](c, reqURL, body)
}

func (c *Client) buildURL(path string, params url.Values) string {
	reqURL := c.baseURL + path
	if len(params) > 0 {
		reqURL += "?" + params.Encode()
	}
	return reqURL
}

func (c *Client) do(ctx context.Context, method, reqURL string) (*http.Response, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, reqURL, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("OCS-APIRequest", "true")
	req.Header.Set("Accept", "application/json")
	req.SetBasicAuth(c.username, c.password)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, fmt.Errorf("read response body: %w", err)
	}
	return resp, body, nil
}

// dumpPayload writes an undecodable response body next to the cache
// files so it can be inspected. Only active when configured.
func (c *Client) dumpPayload(reqURL string, body []byte) {
	if c.dumpDir == "" {
		return
	}

	name := strings.ReplaceAll(strings.TrimPrefix(reqURL, c.baseURL), "/", "_")
	if idx := strings.IndexByte(name, '?'); idx >= 0 {
		name = name[:idx]
	}
	path := filepath.Join(c.dumpDir, name+".json")

	var pretty bytes.Buffer
	out := body
	if err := json.Indent(&pretty, body, "", "  "); err == nil {
		out = pretty.Bytes()
	}
	if err := os.WriteFile(path, out, 0o600); err != nil {
		c.log.Printf("failed to dump payload to %s: %v", path, err)
		return
	}
	c.log.Printf("dumped undecodable payload to %s", path)
}

func decodeOCS[T any](c *Client, reqURL string, body []byte) (T, error) {
	var envelope types.OCSEnvelope[T]
	if err := json.Unmarshal(body, &envelope); err != nil {
		c.dumpPayload(reqURL, body)
		var zero T
		return zero, &DecodeError{URL: reqURL, Err: err}
	}
	return envelope.OCS.Data, nil
}
