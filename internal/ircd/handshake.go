package ircd

import (
	"fmt"

	"gopkg.in/irc.v3"

	"github.com/martinetd/matrirc/internal/ircproto"
	"github.com/martinetd/matrirc/internal/mapping"
)

// handshakeState accumulates NICK/PASS/USER across the pre-auth phase
// (spec §4.2).
type handshakeState struct {
	nick, pass, user string
	haveNick, havePass, haveUser bool
}

// RunHandshake consumes frames until NICK, PASS and USER have all been
// observed (USER terminates the phase). Returns the collected
// credentials, or an error once the stream closes or USER arrives
// without NICK+PASS already set (spec §4.2 failure modes).
func (c *Client) RunHandshake() (nick, pass string, err error) {
	var hs handshakeState
	for {
		msg, err := c.readMessage()
		if err != nil {
			return "", "", prefixError("ircd: handshake read", err)
		}

		switch msg.Command {
		case "PING":
			c.Enqueue(ircproto.Pong(msg.Params...))
		case "CAP":
			c.handleCap(msg)
		case "NICK":
			if len(msg.Params) < 1 {
				continue
			}
			hs.nick = msg.Params[0]
			hs.haveNick = true
			c.setNick(hs.nick)
		case "PASS":
			if len(msg.Params) < 1 {
				continue
			}
			hs.pass = msg.Params[0]
			hs.havePass = true
		case "USER":
			hs.haveUser = true
			if !hs.haveNick || !hs.havePass {
				reason := "NICK and PASS are required before USER"
				c.Enqueue(ircproto.Error(reason))
				return "", "", fmt.Errorf("ircd: %s", reason)
			}
			return hs.nick, hs.pass, nil
		default:
			// ignored during the pre-auth phase.
		}
	}
}

func (c *Client) handleCap(msg *irc.Message) {
	if len(msg.Params) == 0 {
		return
	}
	switch msg.Params[0] {
	case "LS":
		c.Enqueue(ircproto.CapLSEmpty())
	case "END":
		// nothing negotiated; no-op.
	}
}

// Welcome completes the handshake: numeric 001 and an implicit join of
// the reserved "matrirc" management target, so the client can converse
// about login before the upstream session exists (spec §4.2).
func (c *Client) Welcome() {
	c.Enqueue(ircproto.Welcome(c.Nick()))
	c.Enqueue(ircproto.Join(c.Nick(), c.User(), mapping.ReservedName))
}
