// ABOUTME: Scripted in-memory Matrix transport for bot tests
// ABOUTME: Each sync plays one batch of events through the bot's callbacks

package bot

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/2389/coven-bot/internal/autojoin"
	"github.com/2389/coven-bot/internal/dispatch"
)

// batch delivers one sync response worth of events.
type batch func(ctx context.Context, f *fakeTransport)

type fakeTransport struct {
	userID string

	mu        sync.Mutex
	batches   []batch
	syncErrs  int
	syncs     int
	sinces    []string
	members   map[string]int
	joined    map[string]bool
	joins     []string
	leaves    []string
	tags      map[string][]string
	sent      []string
	closed    bool
	onMessage func(ctx context.Context, msg dispatch.Message)
	onInvite  func(ctx context.Context, inv autojoin.Invite)

	// drained is closed when a sync finds no batch left.
	drained   chan struct{}
	drainOnce sync.Once
}

func newFakeTransport(userID string, batches ...batch) *fakeTransport {
	return &fakeTransport{
		userID:  userID,
		batches: batches,
		members: make(map[string]int),
		joined:  make(map[string]bool),
		tags:    make(map[string][]string),
		drained: make(chan struct{}),
	}
}

func (f *fakeTransport) UserID() string { return f.userID }

func (f *fakeTransport) Sync(ctx context.Context, since string, timeout time.Duration) (string, error) {
	f.mu.Lock()
	f.syncs++
	f.sinces = append(f.sinces, since)
	n := f.syncs
	if f.syncErrs > 0 {
		f.syncErrs--
		f.mu.Unlock()
		return "", errors.New("connection refused")
	}
	if len(f.batches) == 0 {
		f.mu.Unlock()
		f.drainOnce.Do(func() { close(f.drained) })
		<-ctx.Done()
		return "", ctx.Err()
	}
	next := f.batches[0]
	f.batches = f.batches[1:]
	f.mu.Unlock()

	next(ctx, f)
	return fmt.Sprintf("s%d", n), nil
}

func (f *fakeTransport) OnMessage(fn func(ctx context.Context, msg dispatch.Message)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onMessage = fn
}

func (f *fakeTransport) OnInvite(fn func(ctx context.Context, inv autojoin.Invite)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onInvite = fn
}

func (f *fakeTransport) JoinRoom(ctx context.Context, roomID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.joins = append(f.joins, roomID)
	f.joined[roomID] = true
	return nil
}

func (f *fakeTransport) LeaveRoom(ctx context.Context, roomID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.leaves = append(f.leaves, roomID)
	f.joined[roomID] = false
	return nil
}

func (f *fakeTransport) ActiveMemberCount(ctx context.Context, roomID string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.members[roomID], nil
}

func (f *fakeTransport) RoomTags(ctx context.Context, roomID string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.tags[roomID]...), nil
}

func (f *fakeTransport) AddRoomTag(ctx context.Context, roomID, tag string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tags[roomID] = append(f.tags[roomID], tag)
	return nil
}

func (f *fakeTransport) RemoveRoomTag(ctx context.Context, roomID, tag string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	kept := f.tags[roomID][:0]
	for _, t := range f.tags[roomID] {
		if t != tag {
			kept = append(kept, t)
		}
	}
	f.tags[roomID] = kept
	return nil
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeTransport) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *fakeTransport) isJoined(roomID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.joined[roomID]
}

// room is the reply handle given to handlers in fake messages.
type room struct {
	f  *fakeTransport
	id string
}

func (r room) ID() string { return r.id }

func (r room) SendText(ctx context.Context, text string) error {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	r.f.sent = append(r.f.sent, text)
	return nil
}

func (r room) SendMarkdown(ctx context.Context, md string) error {
	return r.SendText(ctx, md)
}

func (f *fakeTransport) sentMessages() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.sent...)
}

// message delivers a text message in a joined room.
func message(eventID, roomID, sender, body string) batch {
	return func(ctx context.Context, f *fakeTransport) {
		f.mu.Lock()
		fn := f.onMessage
		f.mu.Unlock()
		fn(ctx, dispatch.Message{
			EventID: eventID,
			RoomID:  roomID,
			Sender:  sender,
			MsgType: dispatch.MsgTypeText,
			Body:    body,
			Joined:  true,
			Room:    room{f: f, id: roomID},
		})
	}
}

// invite delivers an invite of the bot into roomID.
func invite(roomID, sender string) batch {
	return func(ctx context.Context, f *fakeTransport) {
		f.mu.Lock()
		fn := f.onInvite
		f.mu.Unlock()
		fn(ctx, autojoin.Invite{RoomID: roomID, Sender: sender, Target: f.userID})
	}
}

// waitFor is a batch that blocks until ch is closed.
func waitFor(ch <-chan struct{}) batch {
	return func(ctx context.Context, f *fakeTransport) {
		select {
		case <-ch:
		case <-ctx.Done():
		}
	}
}
