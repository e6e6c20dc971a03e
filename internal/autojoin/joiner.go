// ABOUTME: Invite intake: filters invites and runs one retry-join task per room
// ABOUTME: Tasks run on their own goroutines so backoff never stalls the sync loop

package autojoin

import (
	"context"
	"log/slog"
	"sync"
)

// Invite is a membership invite seen in a sync response.
type Invite struct {
	RoomID string
	Sender string
	// Target is the invited user (the member event's state key).
	Target string
}

// SenderFilter decides whether an inviter is trusted.
type SenderFilter interface {
	Allows(sender, self string) bool
}

// Joiner accepts invites and tracks the rooms it is working on.
type Joiner struct {
	transport Transport
	filter    SenderFilter
	policy    Policy
	logger    *slog.Logger

	mu       sync.Mutex
	closed   bool
	inflight map[string]struct{}
	rejected map[string]struct{}
	results  chan<- Result

	wg sync.WaitGroup
}

// NewJoiner creates a Joiner. filter may be nil, in which case every invite is refused.
func NewJoiner(transport Transport, filter SenderFilter, policy Policy, logger *slog.Logger) *Joiner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Joiner{
		transport: transport,
		filter:    filter,
		policy:    policy,
		logger:    logger.With("component", "autojoin"),
		inflight:  make(map[string]struct{}),
		rejected:  make(map[string]struct{}),
	}
}

// NotifyResults makes every finished task send its Result to ch. The send
// blocks, so ch should be buffered or drained.
func (j *Joiner) NotifyResults(ch chan<- Result) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.results = ch
}

// HandleInvite starts a retry-join task for inv when it targets self, comes
// from an allowed sender, and no task for the room is already running.
// It reports whether a task was started.
func (j *Joiner) HandleInvite(ctx context.Context, inv Invite, self string) bool {
	if inv.Target != self {
		return false
	}
	if j.filter == nil || !j.filter.Allows(inv.Sender, self) {
		j.logger.Debug("ignoring invite from sender not on allow list", "room", inv.RoomID, "sender", inv.Sender)
		return false
	}

	j.mu.Lock()
	if j.closed {
		j.mu.Unlock()
		return false
	}
	if _, busy := j.inflight[inv.RoomID]; busy {
		j.mu.Unlock()
		return false
	}
	j.inflight[inv.RoomID] = struct{}{}
	j.wg.Add(1)
	j.mu.Unlock()

	j.logger.Info("autojoining room", "room", inv.RoomID, "inviter", inv.Sender)

	go func() {
		defer j.wg.Done()
		res := j.policy.Run(ctx, j.transport, inv.RoomID, j.logger)

		j.mu.Lock()
		delete(j.inflight, inv.RoomID)
		switch res.State {
		case StateRejected:
			j.rejected[inv.RoomID] = struct{}{}
		case StateActive:
			delete(j.rejected, inv.RoomID)
		}
		results := j.results
		j.mu.Unlock()

		if results != nil {
			results <- res
		}
	}()
	return true
}

// Rejected reports whether the bot left roomID because it was too large.
func (j *Joiner) Rejected(roomID string) bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	_, ok := j.rejected[roomID]
	return ok
}

// Blocked reports whether messages from roomID should be held back: a join
// task is still deciding about the room, or the bot left it as too large.
func (j *Joiner) Blocked(roomID string) bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	_, busy := j.inflight[roomID]
	_, rejected := j.rejected[roomID]
	return busy || rejected
}

// Wait blocks until every started task has finished.
func (j *Joiner) Wait() {
	j.wg.Wait()
}

// Close refuses further invites and waits for running tasks. Tasks stop
// early only when the context they were started with ends.
func (j *Joiner) Close() {
	j.mu.Lock()
	j.closed = true
	j.mu.Unlock()
	j.wg.Wait()
}
