// ABOUTME: Retry-join state machine for a single room invite
// ABOUTME: Exponential backoff on join failure, then a room-size check that may leave again

package autojoin

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// ErrGaveUp is reported when joining kept failing past the maximum delay
var ErrGaveUp = errors.New("gave up joining room")

// Defaults reproduce the classic autojoin schedule: 2s, 4s, 8s ... until the
// next delay would exceed one hour.
const (
	DefaultInitialDelay = 2 * time.Second
	DefaultMaxDelay     = time.Hour
)

// State is a step of the retry-join machine.
type State int

const (
	StateAttempt State = iota
	StateBackoff
	StateJoined
	StateActive    // terminal: joined and within the size limit
	StateRejected  // terminal: joined, room too large, left
	StateGaveUp    // terminal: join failed past the cutoff
	StateCancelled // terminal: context ended mid-backoff
)

func (s State) String() string {
	switch s {
	case StateAttempt:
		return "attempt"
	case StateBackoff:
		return "backoff"
	case StateJoined:
		return "joined"
	case StateActive:
		return "active"
	case StateRejected:
		return "rejected"
	case StateGaveUp:
		return "gave_up"
	case StateCancelled:
		return "cancelled"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Terminal reports whether the machine stops in s.
func (s State) Terminal() bool {
	return s >= StateActive
}

// Transport is the subset of the messaging client the policy drives.
type Transport interface {
	JoinRoom(ctx context.Context, roomID string) error
	LeaveRoom(ctx context.Context, roomID string) error
	// ActiveMemberCount counts joined and invited members.
	ActiveMemberCount(ctx context.Context, roomID string) (int, error)
}

// JoinedFunc runs after a room reaches StateActive.
type JoinedFunc func(ctx context.Context, roomID string) error

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Policy holds the knobs shared by every invite.
type Policy struct {
	InitialDelay time.Duration
	MaxDelay     time.Duration

	// RoomSizeLimit is the most active members a room may have; 0 disables the check.
	RoomSizeLimit int

	// OnJoined is optional.
	OnJoined JoinedFunc

	// Sleep defaults to a timer that honours ctx.
	Sleep SleepFunc
}

// Result is what one run of the machine produced.
type Result struct {
	RoomID   string
	State    State
	Attempts int
	Delays   []time.Duration // backoff sleeps actually taken, in order
	Err      error           // last join error for GaveUp, leave error for Rejected
}

func (p Policy) initialDelay() time.Duration {
	if p.InitialDelay > 0 {
		return p.InitialDelay
	}
	return DefaultInitialDelay
}

func (p Policy) maxDelay() time.Duration {
	if p.MaxDelay > 0 {
		return p.MaxDelay
	}
	return DefaultMaxDelay
}

func (p Policy) sleep(ctx context.Context, d time.Duration) error {
	if p.Sleep != nil {
		return p.Sleep(ctx, d)
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Run drives the machine for roomID until a terminal state.
func (p Policy) Run(ctx context.Context, t Transport, roomID string, logger *slog.Logger) Result {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("room", roomID)

	res := Result{RoomID: roomID, State: StateAttempt}
	delay := p.initialDelay()

	for res.State != StateJoined {
		res.Attempts++
		err := t.JoinRoom(ctx, roomID)
		if err == nil {
			res.State = StateJoined
			break
		}

		res.State = StateBackoff
		if delay > p.maxDelay() {
			logger.Error("giving up joining room", "attempts", res.Attempts, "error", err)
			res.State = StateGaveUp
			res.Err = fmt.Errorf("%w %s after %d attempts: %w", ErrGaveUp, roomID, res.Attempts, err)
			return res
		}

		logger.Warn("failed to join room, retrying", "error", err, "retry_in", delay)
		if err := p.sleep(ctx, delay); err != nil {
			res.State = StateCancelled
			res.Err = err
			return res
		}
		res.Delays = append(res.Delays, delay)
		delay *= 2
		res.State = StateAttempt
	}

	if p.tooLarge(ctx, t, roomID, logger) {
		logger.Warn("room has too many members, leaving", "limit", p.RoomSizeLimit)
		res.State = StateRejected
		if err := t.LeaveRoom(ctx, roomID); err != nil {
			logger.Error("failed to leave oversized room", "error", err)
			res.Err = err
		}
		return res
	}

	res.State = StateActive
	logger.Info("joined room", "attempts", res.Attempts)

	if p.OnJoined != nil {
		if err := p.OnJoined(ctx, roomID); err != nil {
			logger.Error("join callback failed", "error", err)
		}
	}
	return res
}

// tooLarge treats a failed member query as within limits.
func (p Policy) tooLarge(ctx context.Context, t Transport, roomID string, logger *slog.Logger) bool {
	if p.RoomSizeLimit <= 0 {
		return false
	}
	n, err := t.ActiveMemberCount(ctx, roomID)
	if err != nil {
		logger.Warn("could not count room members", "error", err)
		return false
	}
	return n > p.RoomSizeLimit
}
