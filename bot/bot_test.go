// ABOUTME: Tests for the bot lifecycle against a scripted transport
// ABOUTME: Covers routing, cursor persistence, sync retry, catch-up, autojoin size limits, and tags

package bot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/coven-bot/internal/autojoin"
	"github.com/2389/coven-bot/internal/dispatch"
	"github.com/2389/coven-bot/internal/session"
)

const (
	self  = "@helper:example.org"
	alice = "@alice:example.org"
	roomA = "!a:example.org"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestBot(t *testing.T, cfg Config, f *fakeTransport) *Bot {
	t.Helper()
	if cfg.Username == "" {
		cfg.Username = "helper"
	}
	if cfg.AllowList == "" {
		cfg.AllowList = `@alice:example\.org`
	}
	cfg.StateDir = t.TempDir()
	cfg.Logger = quietLogger()

	b, err := New(cfg)
	require.NoError(t, err)
	b.retryPause = time.Millisecond
	b.joinSleep = func(ctx context.Context, d time.Duration) error { return ctx.Err() }

	require.NoError(t, b.sessions.Save(&session.Record{
		ClientSession: session.ClientSession{Homeserver: "https://matrix.example.org"},
		UserSession:   json.RawMessage(`{"user_id":"@helper:example.org","access_token":"tok"}`),
	}))
	b.attach(f, nil, "")
	t.Cleanup(func() { _ = b.Close() })
	return b
}

// runUntilDrained runs the bot until the transport has played every batch.
func runUntilDrained(t *testing.T, b *Bot, f *fakeTransport) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- b.Run(ctx) }()

	select {
	case <-f.drained:
	case <-time.After(5 * time.Second):
		t.Fatal("transport was not drained")
	}
	cancel()
	require.NoError(t, <-done)
}

type calls struct {
	mu     sync.Mutex
	bodies []string
}

func (c *calls) handler(reply string) Handler {
	return func(ctx context.Context, sender, body string, room Room) error {
		c.mu.Lock()
		c.bodies = append(c.bodies, body)
		c.mu.Unlock()
		if reply != "" {
			return room.SendText(ctx, reply)
		}
		return nil
	}
}

func (c *calls) list() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.bodies...)
}

func TestRun_RoutesCommandsAndText(t *testing.T) {
	f := newFakeTransport(self,
		message("$1", roomA, alice, "!helper ping now"),
		message("$2", roomA, alice, "  hello there"),
		message("$3", roomA, "@mallory:evil.example", "!helper ping"),
		message("$4", roomA, alice, "!helper nope"),
		message("$5", roomA, self, "hello from me"),
	)
	b := newTestBot(t, Config{}, f)

	var ping, text calls
	b.RegisterTextCommand("ping", "", "Reply with pong", ping.handler("pong"))
	b.RegisterTextHandler(text.handler(""))

	runUntilDrained(t, b, f)
	require.NoError(t, b.Close())

	assert.Equal(t, []string{"!helper ping now"}, ping.list())
	assert.Equal(t, []string{"hello there"}, text.list())
	assert.Equal(t, []string{"pong"}, f.sentMessages())
}

func TestRun_PersistsCursor(t *testing.T) {
	f := newFakeTransport(self,
		message("$1", roomA, alice, "one"),
		message("$2", roomA, alice, "two"),
	)
	b := newTestBot(t, Config{}, f)

	runUntilDrained(t, b, f)

	assert.Equal(t, "s2", b.Cursor())
	assert.Equal(t, []string{"", "s1", "s2"}, f.sinces)

	rec, err := b.sessions.Load()
	require.NoError(t, err)
	assert.Equal(t, "s2", rec.SyncToken)
}

func TestRun_RetriesFailedSyncs(t *testing.T) {
	f := newFakeTransport(self, message("$1", roomA, alice, "hi"))
	f.syncErrs = 3
	b := newTestBot(t, Config{}, f)

	var text calls
	b.RegisterTextHandler(text.handler(""))

	runUntilDrained(t, b, f)
	require.NoError(t, b.Close())

	assert.Equal(t, "s4", b.Cursor())
	assert.Equal(t, []string{"hi"}, text.list())
}

func TestRun_HandlerFailuresContained(t *testing.T) {
	f := newFakeTransport(self,
		message("$1", roomA, alice, "!helper fail"),
		message("$2", roomA, alice, "!helper boom"),
		message("$3", roomA, alice, "!helper ping"),
	)
	b := newTestBot(t, Config{}, f)

	b.RegisterTextCommand("fail", "", "", func(ctx context.Context, sender, body string, room Room) error {
		return errors.New("handler failed")
	})
	b.RegisterTextCommand("boom", "", "", func(ctx context.Context, sender, body string, room Room) error {
		panic("boom")
	})
	var ping calls
	b.RegisterTextCommand("ping", "", "", ping.handler("pong"))

	runUntilDrained(t, b, f)
	require.NoError(t, b.Close())

	assert.Equal(t, []string{"!helper ping"}, ping.list())
	assert.Equal(t, "s3", b.Cursor())
}

func TestRun_Help(t *testing.T) {
	f := newFakeTransport(self, message("$1", roomA, alice, "!helper help"))
	b := newTestBot(t, Config{}, f)
	b.RegisterTextCommand("ping", "", "Reply with pong", func(context.Context, string, string, Room) error { return nil })
	b.RegisterTextCommand("echo", "<text>", "", func(context.Context, string, string, Room) error { return nil })

	runUntilDrained(t, b, f)

	// A second Run must not add help again.
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, b.Run(ctx))
	require.NoError(t, b.Close())

	n := 0
	for _, c := range b.dispatcher.Commands() {
		if c.Name == dispatch.HelpCommand {
			n++
		}
	}
	assert.Equal(t, 1, n)

	sent := f.sentMessages()
	require.Len(t, sent, 1)
	assert.Equal(t, "`!helper help`\n\nAvailable commands:"+
		"\n`!helper ping` - Reply with pong"+
		"\n`!helper echo <text>`"+
		"\n`!helper help` - Show this message", sent[0])
}

func TestSync_CatchUpSkipsMessagesButAcceptsInvites(t *testing.T) {
	f := newFakeTransport(self, func(ctx context.Context, f *fakeTransport) {
		message("$old", roomA, alice, "!helper ping")(ctx, f)
		invite("!small:example.org", alice)(ctx, f)
	})
	f.members["!small:example.org"] = 2
	b := newTestBot(t, Config{}, f)
	b.JoinRooms(nil)

	var ping calls
	b.RegisterTextCommand("ping", "", "", ping.handler("pong"))

	require.NoError(t, b.Sync(context.Background()))
	require.NoError(t, b.Close())

	assert.Empty(t, ping.list())
	assert.Equal(t, "s1", b.Cursor())
	assert.Equal(t, []string{"!small:example.org"}, f.joins)
	assert.True(t, f.isJoined("!small:example.org"))
}

func TestSync_RequiresLogin(t *testing.T) {
	b, err := New(Config{Username: "helper", StateDir: t.TempDir(), Logger: quietLogger()})
	require.NoError(t, err)
	defer b.Close()

	assert.ErrorIs(t, b.Sync(context.Background()), ErrNotLoggedIn)
	assert.ErrorIs(t, b.Run(context.Background()), ErrNotLoggedIn)
	_, err = b.Tags(context.Background(), roomA, "ns")
	assert.ErrorIs(t, err, ErrNotLoggedIn)
}

func TestAutojoin_OversizedRoomIsLeftAndIgnored(t *testing.T) {
	const big = "!big:example.org"
	results := make(chan autojoin.Result, 1)
	var joinResult autojoin.Result

	f := newFakeTransport(self,
		invite(big, alice),
		func(ctx context.Context, f *fakeTransport) { joinResult = <-results },
		message("$1", big, alice, "!helper ping"),
		message("$2", big, alice, "hello"),
	)
	f.members[big] = 3

	b := newTestBot(t, Config{RoomSizeLimit: 2}, f)
	var joinedCalled bool
	b.JoinRooms(func(ctx context.Context, roomID string) error {
		joinedCalled = true
		return nil
	})
	b.joiner.NotifyResults(results)

	var ping, text calls
	b.RegisterTextCommand("ping", "", "", ping.handler("pong"))
	b.RegisterTextHandler(text.handler(""))

	runUntilDrained(t, b, f)
	require.NoError(t, b.Close())

	assert.Equal(t, autojoin.StateRejected, joinResult.State)
	assert.Equal(t, []string{big}, f.joins)
	assert.Equal(t, []string{big}, f.leaves)
	assert.False(t, f.isJoined(big))
	assert.False(t, joinedCalled)
	assert.Empty(t, ping.list())
	assert.Empty(t, text.list())
}

func TestAutojoin_DisabledIgnoresInvites(t *testing.T) {
	f := newFakeTransport(self, invite("!r:example.org", alice))
	b := newTestBot(t, Config{}, f)

	runUntilDrained(t, b, f)
	require.NoError(t, b.Close())

	assert.Empty(t, f.joins)
}

func TestAutojoin_InviteFromStrangerIgnored(t *testing.T) {
	f := newFakeTransport(self, invite("!r:example.org", "@mallory:evil.example"))
	b := newTestBot(t, Config{}, f)
	b.JoinRooms(nil)

	runUntilDrained(t, b, f)
	require.NoError(t, b.Close())

	assert.Empty(t, f.joins)
}

func TestTags(t *testing.T) {
	f := newFakeTransport(self)
	f.tags[roomA] = []string{"org.example.a", "m.favourite"}
	b := newTestBot(t, Config{}, f)

	set, err := b.Tags(context.Background(), roomA, "org.example")
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, set.Tags())

	set.Remove("a")
	set.ReplaceKV("mode", "quiet")
	require.NoError(t, set.Close(context.Background()))

	assert.ElementsMatch(t, []string{"m.favourite", "org.example.mode=quiet"}, f.tags[roomA])
}

func TestNew_Defaults(t *testing.T) {
	t.Setenv("XDG_STATE_HOME", "/xdg/state")

	b, err := New(Config{Username: "helper", Logger: quietLogger()})
	require.NoError(t, err)
	defer b.Close()

	assert.Equal(t, "helper", b.Name())
	assert.Equal(t, "!helper ", b.CommandPrefix())
	assert.Equal(t, "/xdg/state/helper", b.StateDir())
	assert.Equal(t, "/xdg/state/helper/session.json", b.SessionPath())
	assert.Empty(t, b.FullName())
	assert.Nil(t, b.Client())
}

func TestNew_Overrides(t *testing.T) {
	dir := t.TempDir()
	b, err := New(Config{Username: "helper", Name: "hb", CommandPrefix: "!", StateDir: dir, Logger: quietLogger()})
	require.NoError(t, err)
	defer b.Close()

	assert.Equal(t, "hb", b.Name())
	assert.Equal(t, "!", b.CommandPrefix())
	assert.Equal(t, dir, b.StateDir())
}

func TestNew_ConfigErrors(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		{"no name", Config{}},
		{"bad allow list", Config{Username: "helper", AllowList: "(unclosed"}},
		{"blank prefix", Config{Username: "helper", CommandPrefix: "  "}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.cfg.StateDir = t.TempDir()
			_, err := New(tt.cfg)
			assert.ErrorIs(t, err, ErrConfig)
		})
	}
}

func TestClose_Idempotent(t *testing.T) {
	f := newFakeTransport(self)
	b := newTestBot(t, Config{}, f)

	require.NoError(t, b.Close())
	require.NoError(t, b.Close())
	assert.True(t, f.closed)
}

func TestClose_NoHandlerRunsAfterClientClosed(t *testing.T) {
	for i := 0; i < 50; i++ {
		f := newFakeTransport(self)
		b := newTestBot(t, Config{}, f)

		var late atomic.Bool
		b.RegisterTextCommand("ping", "", "", func(ctx context.Context, sender, body string, room Room) error {
			if f.isClosed() {
				late.Store(true)
			}
			return nil
		})

		stop := make(chan struct{})
		pumped := make(chan struct{})
		go func() {
			defer close(pumped)
			for n := 0; ; n++ {
				select {
				case <-stop:
					return
				default:
				}
				b.handleMessage(context.Background(), dispatch.Message{
					EventID: fmt.Sprintf("$%d", n),
					RoomID:  roomA,
					Sender:  alice,
					MsgType: dispatch.MsgTypeText,
					Body:    "!helper ping",
					Joined:  true,
					Room:    room{f: f, id: roomA},
				})
			}
		}()

		require.NoError(t, b.Close())
		close(stop)
		<-pumped

		require.True(t, f.isClosed())
		assert.False(t, late.Load(), "handler ran after the client was closed")
	}
}

func TestFullName(t *testing.T) {
	b := newTestBot(t, Config{}, newFakeTransport(self))
	assert.Equal(t, self, b.FullName())
	assert.True(t, strings.HasPrefix(b.CommandPrefix(), "!helper"))
}
