// ABOUTME: Command registry and message router for the bot
// ABOUTME: Each inbound text message reaches at most one command or the catch-all handlers

package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"
	"sync"
	"unicode"

	"github.com/2389/coven-bot/internal/dedupe"
)

// MsgTypeText is the only message type that is routed.
const MsgTypeText = "m.text"

// Room is the handle handlers use to answer in the room a message came from.
type Room interface {
	ID() string
	SendText(ctx context.Context, text string) error
	SendMarkdown(ctx context.Context, markdown string) error
}

// Request is what a handler receives for one message.
type Request struct {
	Sender string
	// Body is the message text with leading whitespace removed.
	Body string
	Room Room
	// Command is the matched command name; empty for catch-all handlers.
	Command string
	// Args is the text after the command name.
	Args string
}

// Handler processes one routed message.
type Handler func(ctx context.Context, req Request) error

// Command describes a registered text command.
type Command struct {
	Name      string
	ArgsHint  string
	ShortHelp string
	Handler   Handler
}

// Message is an inbound room message, already decoded by the transport.
type Message struct {
	EventID string
	RoomID  string
	Sender  string
	MsgType string
	Body    string
	// Joined is true when the bot is joined to RoomID.
	Joined bool
	Room   Room
}

// Outcome says what Dispatch did with a message.
type Outcome int

const (
	DroppedDuplicate Outcome = iota
	DroppedNotJoined
	DroppedNotText
	DroppedNotAllowed
	DroppedUnknownCommand
	DroppedNoHandler
	RoutedCommand
	RoutedCatchAll
)

func (o Outcome) String() string {
	switch o {
	case DroppedDuplicate:
		return "dropped_duplicate"
	case DroppedNotJoined:
		return "dropped_not_joined"
	case DroppedNotText:
		return "dropped_not_text"
	case DroppedNotAllowed:
		return "dropped_not_allowed"
	case DroppedUnknownCommand:
		return "dropped_unknown_command"
	case DroppedNoHandler:
		return "dropped_no_handler"
	case RoutedCommand:
		return "routed_command"
	case RoutedCatchAll:
		return "routed_catch_all"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// SenderFilter decides whether a sender may talk to the bot.
type SenderFilter interface {
	Allows(sender, self string) bool
}

// Dispatcher owns the command table of one bot.
type Dispatcher struct {
	prefix string
	filter SenderFilter
	seen   *dedupe.Cache[string]
	logger *slog.Logger

	mu       sync.RWMutex
	self     string
	commands []Command
	catchAll []Handler
}

// New creates a Dispatcher using prefix to recognise commands. seen may be
// nil to disable event-ID deduplication.
func New(prefix string, filter SenderFilter, seen *dedupe.Cache[string], logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		prefix: prefix,
		filter: filter,
		seen:   seen,
		logger: logger.With("component", "dispatch"),
	}
}

// Prefix returns the command prefix.
func (d *Dispatcher) Prefix() string {
	return d.prefix
}

// SetSelf records the bot's own user ID once it is known.
func (d *Dispatcher) SetSelf(userID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.self = userID
}

// Register appends a command. Registering a name twice keeps both entries:
// both handlers run and help lists the name twice.
func (d *Dispatcher) Register(cmd Command) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.commands = append(d.commands, cmd)
}

// RegisterCatchAll adds a handler for allowed text messages that are not commands.
func (d *Dispatcher) RegisterCatchAll(h Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.catchAll = append(d.catchAll, h)
}

// Commands returns the registered commands in registration order.
func (d *Dispatcher) Commands() []Command {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]Command, len(d.commands))
	copy(out, d.commands)
	return out
}

// HasCommand reports whether name is registered.
func (d *Dispatcher) HasCommand(name string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	for _, c := range d.commands {
		if c.Name == name {
			return true
		}
	}
	return false
}

// Invocation is one handler call chosen by Route.
type Invocation struct {
	Label   string // command name, or "" for catch-all
	Handler Handler
	Request Request
}

// Route decides what should happen to msg without running any handler.
func (d *Dispatcher) Route(msg Message) (Outcome, []Invocation) {
	if !msg.Joined {
		return DroppedNotJoined, nil
	}
	if msg.MsgType != MsgTypeText {
		return DroppedNotText, nil
	}

	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.filter == nil || !d.filter.Allows(msg.Sender, d.self) {
		return DroppedNotAllowed, nil
	}
	if d.seen != nil && msg.EventID != "" && d.seen.CheckAndMark(msg.EventID) {
		return DroppedDuplicate, nil
	}

	body := strings.TrimLeftFunc(msg.Body, unicode.IsSpace)

	if IsCommand(d.prefix, body) {
		name, _ := GetCommand(d.prefix, body)
		var calls []Invocation
		for _, c := range d.commands {
			if name == "" || c.Name != name {
				continue
			}
			calls = append(calls, Invocation{
				Label:   c.Name,
				Handler: c.Handler,
				Request: Request{
					Sender:  msg.Sender,
					Body:    body,
					Room:    msg.Room,
					Command: c.Name,
					Args:    Args(d.prefix, body),
				},
			})
		}
		if len(calls) == 0 {
			return DroppedUnknownCommand, nil
		}
		return RoutedCommand, calls
	}

	if len(d.catchAll) == 0 {
		return DroppedNoHandler, nil
	}
	calls := make([]Invocation, 0, len(d.catchAll))
	for _, h := range d.catchAll {
		calls = append(calls, Invocation{
			Handler: h,
			Request: Request{Sender: msg.Sender, Body: body, Room: msg.Room},
		})
	}
	return RoutedCatchAll, calls
}

// Dispatch routes msg and runs the chosen handlers in order on the calling
// goroutine. Handler errors and panics are logged and contained.
func (d *Dispatcher) Dispatch(ctx context.Context, msg Message) Outcome {
	outcome, calls := d.Route(msg)
	for _, call := range calls {
		d.Invoke(ctx, call)
	}
	return outcome
}

// Invoke runs one handler, logging instead of propagating any failure.
func (d *Dispatcher) Invoke(ctx context.Context, call Invocation) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
			d.logger.Error("handler panicked",
				"command", call.Label,
				"body", call.Request.Body,
				"panic", r,
				"stack", string(debug.Stack()),
			)
		}
	}()

	err = call.Handler(ctx, call.Request)
	if err != nil {
		if call.Label != "" {
			d.logger.Error("error running command", "command", call.Label, "room", roomID(call.Request.Room), "error", err)
		} else {
			d.logger.Error("error responding to message", "body", call.Request.Body, "room", roomID(call.Request.Room), "error", err)
		}
	}
	return err
}

func roomID(r Room) string {
	if r == nil {
		return ""
	}
	return r.ID()
}
