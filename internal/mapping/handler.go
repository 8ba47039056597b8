package mapping

import (
	"context"
	"fmt"

	"gopkg.in/irc.v3"

	"github.com/martinetd/matrirc/internal/ircproto"
	"github.com/martinetd/matrirc/internal/upstream"
)

// Handler is the polymorphic capability set every mapping-engine-owned
// target handler implements (spec §3 "Target handler", Design Notes
// "Polymorphic target handlers"): accept outbound IRC lines and route
// them to protocol-specific logic, and learn the Target it was assigned.
type Handler interface {
	HandleOutbound(ctx context.Context, kind upstream.EventKind, body string) error
	BindTarget(t *Target)
	Target() *Target
}

// RoomHandler is the Handler variant backed by an upstream room: it
// both sends outbound IRC traffic into the room (§4.6 to_upstream) and
// is the destination event translation renders into (§4.8).
type RoomHandler struct {
	target      *Target
	room        upstream.Room
	sink        IrcSink
	namesBudget int
}

func newRoomHandler(room upstream.Room, sink IrcSink, namesBudget int) *RoomHandler {
	return &RoomHandler{room: room, sink: sink, namesBudget: namesBudget}
}

func (h *RoomHandler) BindTarget(t *Target) { h.target = t }
func (h *RoomHandler) Target() *Target      { return h.target }
func (h *RoomHandler) Room() upstream.Room  { return h.room }

// HandleOutbound sends an IRC-originated PRIVMSG/NOTICE/ACTION into the
// bound upstream room (spec §4.6 to_upstream dispatch).
func (h *RoomHandler) HandleOutbound(ctx context.Context, kind upstream.EventKind, body string) error {
	if h.target == nil {
		return fmt.Errorf("mapping: room handler has no bound target")
	}
	if h.room == nil {
		return fmt.Errorf("mapping: %s is not backed by an upstream room", h.target.Name())
	}
	return h.room.Send(ctx, kind, body)
}

// Deliver renders sender+body into an IRC line and routes it through the
// target's lifecycle state machine (spec §4.7): Query prefixes "<nick> "
// only when the sender differs from the target name, channels always
// prefix the sender's nick.
func (h *RoomHandler) Deliver(ircCmd string, sender upstream.UserID, body string) {
	t := h.target
	nick := t.MemberNick(sender)

	var text string
	if t.Kind() == Query && nick == t.Name() {
		text = body
	} else {
		text = fmt.Sprintf("<%s> %s", nick, body)
	}

	from := t.ChannelName()
	clientNick := h.sink.Nick()
	frame := buildFrame(ircCmd, from, clientNick, text)
	t.Route(h.sink, h.namesBudget, frame)
}

func buildFrame(cmd, from, target, body string) *irc.Message {
	if cmd == "NOTICE" {
		return ircproto.Notice(from, target, body)
	}
	return ircproto.Privmsg(from, target, body)
}
