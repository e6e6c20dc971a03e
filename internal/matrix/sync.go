// ABOUTME: Single sync request plus conversion of sync events for the bot
// ABOUTME: Messages become dispatch.Message values and member invites become autojoin.Invite values

package matrix

import (
	"context"
	"fmt"
	"time"

	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/event"

	"github.com/2389/coven-bot/internal/autojoin"
	"github.com/2389/coven-bot/internal/dispatch"
)

// lazyLoadFilter asks the server to send only the members timeline events need.
const lazyLoadFilter = `{"room":{"state":{"lazy_load_members":true},"timeline":{"lazy_load_members":true}}}`

// Sync performs one sync request from since, hands its events to the
// OnMessage and OnInvite callbacks, and returns the next cursor.
func (c *Client) Sync(ctx context.Context, since string, timeout time.Duration) (string, error) {
	resp, err := c.cli.FullSyncRequest(ctx, mautrix.ReqSync{
		Timeout:  int(timeout.Milliseconds()),
		Since:    since,
		FilterID: lazyLoadFilter,
	})
	if err != nil {
		return "", fmt.Errorf("sync: %w", err)
	}

	if err := c.cli.Syncer.ProcessResponse(ctx, resp, since); err != nil {
		return "", fmt.Errorf("processing sync response: %w", err)
	}
	return resp.NextBatch, nil
}

func (c *Client) handleMessage(ctx context.Context, evt *event.Event) {
	c.mu.RLock()
	fn := c.onMessage
	c.mu.RUnlock()
	if fn == nil {
		return
	}
	msg := toMessage(evt)
	msg.Room = c.Room(msg.RoomID)
	fn(ctx, msg)
}

func (c *Client) handleMember(ctx context.Context, evt *event.Event) {
	c.mu.RLock()
	fn := c.onInvite
	c.mu.RUnlock()
	if fn == nil {
		return
	}
	if inv, ok := toInvite(evt); ok {
		fn(ctx, inv)
	}
}

// toMessage converts a room message event. Room is left for the caller.
func toMessage(evt *event.Event) dispatch.Message {
	content := evt.Content.AsMessage()
	return dispatch.Message{
		EventID: evt.ID.String(),
		RoomID:  evt.RoomID.String(),
		Sender:  evt.Sender.String(),
		MsgType: string(content.MsgType),
		Body:    content.Body,
		Joined:  evt.Mautrix.EventSource&event.SourceJoin != 0,
	}
}

// toInvite reports whether evt is an invite and converts it.
func toInvite(evt *event.Event) (autojoin.Invite, bool) {
	if evt.StateKey == nil {
		return autojoin.Invite{}, false
	}
	if evt.Content.AsMember().Membership != event.MembershipInvite {
		return autojoin.Invite{}, false
	}
	return autojoin.Invite{
		RoomID: evt.RoomID.String(),
		Sender: evt.Sender.String(),
		Target: *evt.StateKey,
	}, true
}
