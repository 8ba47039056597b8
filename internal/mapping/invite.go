package mapping

import (
	"context"
	"fmt"
	"time"

	"github.com/martinetd/matrirc/internal/ircproto"
	"github.com/martinetd/matrirc/internal/upstream"
)

// InviteHandler is the Handler variant for the `invite` dialog (spec
// §4.11), grounded on original_source/src/matrix/invite.rs's "yes"/"no"
// flow with retrying accept and a room-preview prompt line.
type InviteHandler struct {
	target *Target
	sink   IrcSink
	engine *Engine
	room   upstream.Room
	name   string
}

func newInviteHandler(engine *Engine, sink IrcSink, room upstream.Room, name string) *InviteHandler {
	return &InviteHandler{engine: engine, sink: sink, room: room, name: name}
}

func (h *InviteHandler) BindTarget(t *Target) { h.target = t }
func (h *InviteHandler) Target() *Target      { return h.target }

func (h *InviteHandler) sendLine(body string) {
	h.sink.Enqueue(ircproto.Notice(h.target.Name(), h.sink.Nick(), body))
}

// StartInvite registers an invite dialog target and prompts the client,
// including the inviter and room member count (SPEC_FULL.md supplemented
// feature, grounded on invite.rs's room_name preview).
func (e *Engine) StartInvite(ctx context.Context, room upstream.Room, inviter upstream.UserID) *InviteHandler {
	name, err := room.DisplayName(ctx)
	if err != nil || name == "" {
		name = room.ID()
	}
	memberCount := 0
	if members, err := room.Members(ctx); err == nil {
		memberCount = len(members)
	}

	var h *InviteHandler
	e.InsertDeduped("invite", func(target string) Handler {
		h = newInviteHandler(e, e.sink, room, name)
		return h
	})
	h.sendLine(fmt.Sprintf("Got an invitation for %s from %s (%d members), accept? [yes/no]", name, inviter, memberCount))
	return h
}

func (h *InviteHandler) HandleOutbound(ctx context.Context, kind upstream.EventKind, body string) error {
	switch body {
	case "yes":
		h.sendLine(fmt.Sprintf("Joining room %s", h.name))
		go h.acceptWithRetry(context.Background())
	case "no":
		h.sendLine("Okay")
		if err := h.room.Leave(ctx); err != nil {
			h.sendLine(fmt.Sprintf("Failed to leave invite: %v", err))
		}
		h.stop()
	default:
		h.sendLine("expecting yes or no")
	}
	return nil
}

// acceptWithRetry joins the invited room, retrying on failure with
// exponential backoff starting at 2s, doubling, giving up past 30
// minutes total (spec §4.11).
func (h *InviteHandler) acceptWithRetry(ctx context.Context) {
	delay := 2 * time.Second
	const giveUpAfter = 30 * time.Minute
	var elapsed time.Duration
	for {
		err := h.room.Join(ctx)
		if err == nil {
			break
		}
		if elapsed+delay > giveUpAfter {
			h.sendLine(fmt.Sprintf("Gave up joining room %s: %v", h.name, err))
			h.stop()
			return
		}
		time.Sleep(delay)
		elapsed += delay
		delay *= 2
	}

	newHandler, err := h.engine.RoomTarget(ctx, h.room)
	if err == nil {
		newHandler.sink.Enqueue(ircproto.Notice(newHandler.Target().Name(), newHandler.sink.Nick(),
			fmt.Sprintf("Joined room %s", h.name)))
	}
	h.stop()
}

func (h *InviteHandler) stop() {
	h.engine.RemoveTarget(h.target.Name())
}
