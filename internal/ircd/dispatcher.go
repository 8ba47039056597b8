package ircd

import (
	"context"
	"fmt"
	"strings"
	"time"

	"gopkg.in/irc.v3"

	"github.com/martinetd/matrirc/internal/ircproto"
	"github.com/martinetd/matrirc/internal/mapping"
	"github.com/martinetd/matrirc/internal/upstream"
)

const actionPrefix = "\x01ACTION "
const actionSuffix = "\x01"

// Dispatch decodes one registered-client inbound frame (spec §4.9).
// quit reports whether the reader loop should stop (a QUIT was seen).
func (c *Client) Dispatch(ctx context.Context, engine *mapping.Engine, client upstream.Client, msg *irc.Message) (quit bool) {
	switch msg.Command {
	case "PING":
		c.Enqueue(ircproto.Pong(msg.Params...))
	case "PRIVMSG", "NOTICE":
		c.dispatchMessage(ctx, engine, msg)
	case "MODE":
		c.dispatchMode(msg)
	case "WHO":
		c.dispatchWho(msg)
	case "LIST":
		c.dispatchList(ctx, engine, client)
	case "QUIT":
		return true
	default:
		c.logf("ignoring unhandled command %q", msg.Command)
	}
	return false
}

func (c *Client) dispatchMessage(ctx context.Context, engine *mapping.Engine, msg *irc.Message) {
	if len(msg.Params) < 2 {
		return
	}
	target, body := msg.Params[0], msg.Params[1]

	kind := upstream.EventText
	if msg.Command == "NOTICE" {
		kind = upstream.EventNotice
	} else if strings.HasPrefix(body, actionPrefix) && strings.HasSuffix(body, actionSuffix) {
		kind = upstream.EventEmote
		body = strings.TrimSuffix(strings.TrimPrefix(body, actionPrefix), actionSuffix)
	}

	if err := engine.ToUpstream(ctx, target, kind, body); err != nil {
		c.Enqueue(ircproto.Notice(ircproto.ServerName, target, fmt.Sprintf("could not forward message: %v", err)))
	}
}

func (c *Client) dispatchMode(msg *irc.Message) {
	if len(msg.Params) == 0 {
		return
	}
	channel := msg.Params[0]
	if len(msg.Params) >= 2 && msg.Params[1] == "+b" {
		c.Enqueue(ircproto.EndOfBanList(c.Nick(), channel))
		return
	}
	c.Enqueue(ircproto.ChannelModeIs(c.Nick(), channel, time.Now()))
}

func (c *Client) dispatchWho(msg *irc.Message) {
	channel := ""
	if len(msg.Params) > 0 {
		channel = msg.Params[0]
	}
	c.Enqueue(ircproto.EndOfWho(c.Nick(), channel))
}

// dispatchList enumerates joined upstream rooms, skipping tombstoned
// rooms and plain queries (spec §4.9 LIST).
func (c *Client) dispatchList(ctx context.Context, engine *mapping.Engine, client upstream.Client) {
	rooms, err := client.JoinedRooms(ctx)
	if err != nil {
		c.Enqueue(ircproto.Notice(ircproto.ServerName, c.Nick(), fmt.Sprintf("LIST failed: %v", err)))
		c.Enqueue(ircproto.ListEnd323(c.Nick()))
		return
	}
	for _, r := range rooms {
		if r.Tombstoned() {
			continue
		}
		h, ok := engine.RoomHandlerFor(r.ID())
		if !ok || h.Target().Kind() == mapping.Query {
			continue
		}
		c.Enqueue(ircproto.List322(c.Nick(), h.Target().ChannelName(), h.Target().MemberCount(), r.Topic()))
	}
	c.Enqueue(ircproto.ListEnd323(c.Nick()))
}
