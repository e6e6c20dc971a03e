// ABOUTME: Public bot façade composing allow list, sessions, dispatch, autojoin, and tags
// ABOUTME: Each Bot owns its own command table, cursor, and join tasks

// Package bot builds Matrix chat bots.
//
// A bot logs in once (the session is kept in its state directory), catches
// up with Sync, and then serves commands with Run:
//
//	b, err := bot.New(bot.Config{
//		Homeserver: "https://matrix.example.org",
//		Username:   "helper",
//		AllowList:  `@.*:example\.org`,
//	})
//	b.RegisterTextCommand("ping", "", "Reply with pong", func(ctx context.Context, sender, body string, room bot.Room) error {
//		return room.SendText(ctx, "pong")
//	})
//	b.JoinRooms(nil)
//	err = b.Login(ctx)
//	err = b.Sync(ctx)
//	err = b.Run(ctx)
package bot

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"maunium.net/go/mautrix"

	"github.com/2389/coven-bot/internal/allowlist"
	"github.com/2389/coven-bot/internal/autojoin"
	"github.com/2389/coven-bot/internal/dedupe"
	"github.com/2389/coven-bot/internal/dispatch"
	"github.com/2389/coven-bot/internal/paths"
	"github.com/2389/coven-bot/internal/session"
	"github.com/2389/coven-bot/tags"
)

const (
	sessionFileName = "session.json"

	// syncTimeout is the long-poll timeout of each sync request made by Run.
	syncTimeout = 30 * time.Second

	// syncRetryPause separates failed sync attempts.
	syncRetryPause = time.Second

	defaultDeviceName = "coven-bot"
)

// Config describes one bot.
type Config struct {
	Homeserver string
	Username   string
	// Password may be empty; PasswordPrompt is then asked on first login.
	Password       string
	PasswordPrompt func() (string, error)
	DeviceName     string

	// Name defaults to Username.
	Name string
	// AllowList is a regular expression senders must fully match. Empty
	// means the bot answers nobody.
	AllowList string
	// StateDir defaults to $XDG_STATE_HOME/<name>. A leading ~/ is expanded.
	StateDir string
	// CommandPrefix defaults to "!<name> ".
	CommandPrefix string
	// RoomSizeLimit makes the bot leave rooms with more active members; 0 disables it.
	RoomSizeLimit     int
	DisableEncryption bool

	JoinInitialDelay time.Duration
	JoinMaxDelay     time.Duration

	Logger *slog.Logger
	// TransportLogLevel is the log level of the Matrix client library.
	TransportLogLevel string
}

// Room is the handle handlers use to reply.
type Room = dispatch.Room

// Handler handles one message. For commands body is the full message; for
// text handlers it is the message with leading whitespace removed.
type Handler func(ctx context.Context, sender, body string, room Room) error

// JoinedFunc runs after the bot has joined a room and kept it.
type JoinedFunc func(ctx context.Context, roomID string) error

// transport is what the bot needs from a logged-in Matrix client.
type transport interface {
	UserID() string
	Sync(ctx context.Context, since string, timeout time.Duration) (string, error)
	OnMessage(fn func(ctx context.Context, msg dispatch.Message))
	OnInvite(fn func(ctx context.Context, inv autojoin.Invite))
	autojoin.Transport
	tags.Store
	Close() error
}

// Bot is one Matrix account serving commands.
type Bot struct {
	cfg        Config
	name       string
	stateDir   string
	logger     *slog.Logger
	filter     *allowlist.Filter
	sessions   *session.Store
	seen       *dedupe.Cache[string]
	dispatcher *dispatch.Dispatcher

	// ctx lives until Close and parents handler and join goroutines.
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	catchingUp atomic.Bool
	helpOnce   sync.Once
	closeOnce  sync.Once

	retryPause time.Duration
	joinSleep  autojoin.SleepFunc

	mu       sync.Mutex
	closed   bool
	client   transport
	raw      *mautrix.Client
	self     string
	cursor   string
	autojoin bool
	onJoined JoinedFunc
	joiner   *autojoin.Joiner
}

// New validates cfg and prepares a bot. Nothing touches the network until Login.
func New(cfg Config) (*Bot, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	name := cfg.Name
	if name == "" {
		name = cfg.Username
	}
	if name == "" {
		return nil, fmt.Errorf("%w: a bot name or username is required", ErrConfig)
	}

	filter, err := allowlist.New(cfg.AllowList)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConfig, err)
	}

	stateDir, err := paths.StateDir(cfg.StateDir, name)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConfig, err)
	}

	if cfg.CommandPrefix != "" && strings.TrimSpace(cfg.CommandPrefix) == "" {
		return nil, fmt.Errorf("%w: command prefix must not be blank", ErrConfig)
	}
	prefix := dispatch.CommandPrefix(cfg.CommandPrefix, name)

	if cfg.DeviceName == "" {
		cfg.DeviceName = defaultDeviceName
	}

	logger = logger.With("bot", name)
	seen := dedupe.New[string](dedupe.DefaultTTL, dedupe.DefaultMaxSize)
	ctx, cancel := context.WithCancel(context.Background())

	return &Bot{
		cfg:        cfg,
		name:       name,
		stateDir:   stateDir,
		logger:     logger,
		filter:     filter,
		sessions:   session.NewStore(filepath.Join(stateDir, sessionFileName)),
		seen:       seen,
		dispatcher: dispatch.New(prefix, filter, seen, logger),
		ctx:        ctx,
		cancel:     cancel,
		retryPause: syncRetryPause,
	}, nil
}

// Name returns the bot's short name.
func (b *Bot) Name() string {
	return b.name
}

// FullName returns the bot's Matrix user ID, or "" before Login.
func (b *Bot) FullName() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.self
}

// CommandPrefix returns the prefix that marks a message as a command.
func (b *Bot) CommandPrefix() string {
	return b.dispatcher.Prefix()
}

// StateDir returns where the session file and encrypted store live.
func (b *Bot) StateDir() string {
	return b.stateDir
}

// SessionPath returns the session file location.
func (b *Bot) SessionPath() string {
	return b.sessions.Path()
}

// Client returns the underlying mautrix client, or nil before Login.
func (b *Bot) Client() *mautrix.Client {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.raw
}

// Cursor returns the last sync cursor.
func (b *Bot) Cursor() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.cursor
}

// RegisterTextCommand adds a command. Commands are listed by help in the
// order they were registered. Registering a name twice runs both handlers.
func (b *Bot) RegisterTextCommand(name, argsHint, shortHelp string, h Handler) {
	b.dispatcher.Register(dispatch.Command{
		Name:      name,
		ArgsHint:  argsHint,
		ShortHelp: shortHelp,
		Handler:   wrap(h),
	})
}

// RegisterTextHandler adds a handler for allowed text messages that are not commands.
func (b *Bot) RegisterTextHandler(h Handler) {
	b.dispatcher.RegisterCatchAll(wrap(h))
}

func wrap(h Handler) dispatch.Handler {
	return func(ctx context.Context, req dispatch.Request) error {
		return h(ctx, req.Sender, req.Body, req.Room)
	}
}

// JoinRooms makes the bot accept invites from allowed senders. onJoined is
// optional and runs for every room the bot joins and keeps.
func (b *Bot) JoinRooms(onJoined JoinedFunc) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.autojoin = true
	b.onJoined = onJoined
	if b.client != nil && b.joiner == nil {
		b.joiner = b.newJoinerLocked()
	}
}

func (b *Bot) newJoinerLocked() *autojoin.Joiner {
	policy := autojoin.Policy{
		InitialDelay:  b.cfg.JoinInitialDelay,
		MaxDelay:      b.cfg.JoinMaxDelay,
		RoomSizeLimit: b.cfg.RoomSizeLimit,
		Sleep:         b.joinSleep,
	}
	if b.onJoined != nil {
		policy.OnJoined = autojoin.JoinedFunc(b.onJoined)
	}
	return autojoin.NewJoiner(b.client, b.filter, policy, b.logger)
}

// Tags loads the room's tags under namespace. The caller must Sync or
// Close the set to persist edits.
func (b *Bot) Tags(ctx context.Context, roomID, namespace string) (*tags.Set, error) {
	t, err := b.transport()
	if err != nil {
		return nil, err
	}
	return tags.Load(ctx, t, roomID, namespace)
}

func (b *Bot) transport() (transport, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.client == nil {
		return nil, ErrNotLoggedIn
	}
	return b.client, nil
}

// attach makes t the bot's client, resuming from cursor.
func (b *Bot) attach(t transport, raw *mautrix.Client, cursor string) {
	b.mu.Lock()
	b.client = t
	b.raw = raw
	b.self = t.UserID()
	b.cursor = cursor
	if b.autojoin && b.joiner == nil {
		b.joiner = b.newJoinerLocked()
	}
	b.mu.Unlock()

	b.dispatcher.SetSelf(t.UserID())
	t.OnMessage(b.handleMessage)
	t.OnInvite(b.handleInvite)
}

// spawn runs fn on a tracked goroutine under the bot lifetime context. It
// reports false once Close has begun.
func (b *Bot) spawn(fn func(ctx context.Context)) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return false
	}
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		fn(b.ctx)
	}()
	return true
}

// Close stops handler and join goroutines, waits for them, and closes the
// client. The bot cannot be used afterwards.
func (b *Bot) Close() error {
	var err error
	b.closeOnce.Do(func() {
		b.mu.Lock()
		b.closed = true
		joiner, client := b.joiner, b.client
		b.mu.Unlock()

		b.cancel()
		b.wg.Wait()
		if joiner != nil {
			joiner.Close()
		}
		b.seen.Close()
		if client != nil {
			err = client.Close()
		}
	})
	return err
}
