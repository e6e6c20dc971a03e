// ABOUTME: Matrix transport adapter wrapping a mautrix client
// ABOUTME: Exposes join/leave/members, tags, and sending in the plain string terms the bot uses

package matrix

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"github.com/2389/coven-bot/internal/autojoin"
	"github.com/2389/coven-bot/internal/dispatch"
	"github.com/2389/coven-bot/internal/markdown"
)

var (
	// ErrTransportInit means a client could not be built from stored credentials.
	ErrTransportInit = errors.New("transport init failed")
	// ErrAuthFailed means the homeserver rejected the login.
	ErrAuthFailed = errors.New("authentication failed")
)

// Options tune how a Client is built.
type Options struct {
	Logger *slog.Logger
	// LogLevel is the mautrix (zerolog) level name; empty means "warn".
	LogLevel string
}

// Client is a logged-in Matrix account.
type Client struct {
	cli    *mautrix.Client
	crypto *Crypto
	logger *slog.Logger

	mu        sync.RWMutex
	onMessage func(ctx context.Context, msg dispatch.Message)
	onInvite  func(ctx context.Context, inv autojoin.Invite)
}

func newClient(homeserver string, userID id.UserID, accessToken string, opts Options) (*Client, error) {
	cli, err := mautrix.NewClient(homeserver, userID, accessToken)
	if err != nil {
		return nil, fmt.Errorf("creating matrix client: %w", err)
	}
	cli.Log = transportLogger(opts.LogLevel)

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	c := &Client{
		cli:    cli,
		logger: logger.With("component", "matrix"),
	}

	syncer, ok := cli.Syncer.(*mautrix.DefaultSyncer)
	if !ok {
		return nil, fmt.Errorf("unexpected syncer type: %T", cli.Syncer)
	}
	syncer.OnEventType(event.EventMessage, c.handleMessage)
	syncer.OnEventType(event.StateMember, c.handleMember)

	return c, nil
}

// transportLogger builds the zerolog logger mautrix writes to.
func transportLogger(level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil || level == "" {
		lvl = zerolog.WarnLevel
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.DateTime}).
		Level(lvl).
		With().
		Timestamp().
		Str("component", "mautrix").
		Logger()
}

// Raw returns the underlying mautrix client.
func (c *Client) Raw() *mautrix.Client {
	return c.cli
}

// UserID returns the logged-in user.
func (c *Client) UserID() string {
	return c.cli.UserID.String()
}

// DeviceID returns the logged-in device.
func (c *Client) DeviceID() string {
	return c.cli.DeviceID.String()
}

// OnMessage sets the callback for room messages found in sync responses.
func (c *Client) OnMessage(fn func(ctx context.Context, msg dispatch.Message)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onMessage = fn
}

// OnInvite sets the callback for membership invites found in sync responses.
func (c *Client) OnInvite(fn func(ctx context.Context, inv autojoin.Invite)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onInvite = fn
}

// JoinRoom joins roomID.
func (c *Client) JoinRoom(ctx context.Context, roomID string) error {
	_, err := c.cli.JoinRoomByID(ctx, id.RoomID(roomID))
	return err
}

// LeaveRoom leaves roomID.
func (c *Client) LeaveRoom(ctx context.Context, roomID string) error {
	_, err := c.cli.LeaveRoom(ctx, id.RoomID(roomID))
	return err
}

// ActiveMemberCount counts joined and invited members of roomID.
func (c *Client) ActiveMemberCount(ctx context.Context, roomID string) (int, error) {
	resp, err := c.cli.Members(ctx, id.RoomID(roomID))
	if err != nil {
		return 0, fmt.Errorf("listing members: %w", err)
	}
	return countActive(resp.Chunk), nil
}

func countActive(members []*event.Event) int {
	n := 0
	for _, evt := range members {
		if evt.Content.Parsed == nil {
			if err := evt.Content.ParseRaw(evt.Type); err != nil {
				continue
			}
		}
		switch evt.Content.AsMember().Membership {
		case event.MembershipJoin, event.MembershipInvite:
			n++
		}
	}
	return n
}

// RoomTags lists every tag on roomID.
func (c *Client) RoomTags(ctx context.Context, roomID string) ([]string, error) {
	content, err := c.cli.GetTags(ctx, id.RoomID(roomID))
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(content.Tags))
	for tag := range content.Tags {
		out = append(out, string(tag))
	}
	return out, nil
}

// AddRoomTag puts tag on roomID.
func (c *Client) AddRoomTag(ctx context.Context, roomID, tag string) error {
	return c.cli.AddTag(ctx, id.RoomID(roomID), event.RoomTag(tag), 0)
}

// RemoveRoomTag takes tag off roomID.
func (c *Client) RemoveRoomTag(ctx context.Context, roomID, tag string) error {
	return c.cli.RemoveTag(ctx, id.RoomID(roomID), event.RoomTag(tag))
}

// SendText sends a plain text message.
func (c *Client) SendText(ctx context.Context, roomID, text string) error {
	_, err := c.cli.SendMessageEvent(ctx, id.RoomID(roomID), event.EventMessage, &event.MessageEventContent{
		MsgType: event.MsgText,
		Body:    text,
	})
	return err
}

// SendMarkdown sends md as a formatted message with md itself as the plain body.
func (c *Client) SendMarkdown(ctx context.Context, roomID, md string) error {
	html, err := markdown.Render(md)
	if err != nil {
		return err
	}
	_, err = c.cli.SendMessageEvent(ctx, id.RoomID(roomID), event.EventMessage, &event.MessageEventContent{
		MsgType:       event.MsgText,
		Body:          md,
		Format:        event.FormatHTML,
		FormattedBody: html,
	})
	return err
}

// Room returns a reply handle for roomID.
func (c *Client) Room(roomID string) *Room {
	return &Room{client: c, id: roomID}
}

// Close releases the encrypted store, if any.
func (c *Client) Close() error {
	if c.crypto == nil {
		return nil
	}
	return c.crypto.Close()
}

// Room is a handle for answering in one room.
type Room struct {
	client *Client
	id     string
}

// ID returns the room ID.
func (r *Room) ID() string {
	return r.id
}

// SendText sends a plain text message to the room.
func (r *Room) SendText(ctx context.Context, text string) error {
	return r.client.SendText(ctx, r.id, text)
}

// SendMarkdown sends a formatted message to the room.
func (r *Room) SendMarkdown(ctx context.Context, md string) error {
	return r.client.SendMarkdown(ctx, r.id, md)
}
