// Package ircproto builds the handful of IRC messages matrirc emits
// outside of plain PRIVMSG/NOTICE passthrough: the raw CAP negotiation
// reply, PONG, numeric replies, and the server-originated message prefix.
package ircproto

import (
	"fmt"
	"time"

	"gopkg.in/irc.v3"
)

// ServerName is the prefix used for all server-originated messages that
// are not attributed to a bridged room member.
const ServerName = "matrirc"

// Raw builds an unparsed raw line, used for the handful of replies (CAP
// LS, 001 welcome) that are easier to hand-format than to build out of
// irc.Message's Params slice.
func Raw(line string) *irc.Message {
	msg, err := irc.ParseMessage(line)
	if err != nil {
		// lines built by this package are always well-formed; a parse
		// failure here is a programming error.
		panic(fmt.Sprintf("ircproto: invalid raw line %q: %v", line, err))
	}
	return msg
}

// Pong answers a PING, echoing its arguments verbatim.
func Pong(args ...string) *irc.Message {
	return &irc.Message{
		Command: "PONG",
		Params:  args,
	}
}

// CapLSEmpty answers a `CAP LS 302` with an empty capability list, the
// minimal reply matrirc's pre-auth handshake gives (spec §4.2).
func CapLSEmpty() *irc.Message {
	return Raw(fmt.Sprintf(":%s CAP * LS :", ServerName))
}

// Welcome is the RFC 2812 numeric 001 sent immediately once NICK/PASS/
// USER have all been observed, before the upstream login has finished.
func Welcome(nick string) *irc.Message {
	return Raw(fmt.Sprintf(":%s 001 %s :Welcome to matrirc", ServerName, nick))
}

// Notice builds a NOTICE from the server to target.
func Notice(from, target, body string) *irc.Message {
	return &irc.Message{
		Prefix:  prefix(from),
		Command: "NOTICE",
		Params:  []string{target, body},
	}
}

// Privmsg builds a PRIVMSG from a given sender name (already a valid
// target name) to a target.
func Privmsg(from, target, body string) *irc.Message {
	return &irc.Message{
		Prefix:  prefix(from),
		Command: "PRIVMSG",
		Params:  []string{target, body},
	}
}

// Join builds a JOIN from a given user's mask for a channel.
func Join(nick, user, channel string) *irc.Message {
	return &irc.Message{
		Prefix:  &irc.Prefix{Name: nick, User: user, Host: ServerName},
		Command: "JOIN",
		Params:  []string{channel},
	}
}

// Part builds a PART for a member leaving a channel.
func Part(nick, user, channel, reason string) *irc.Message {
	params := []string{channel}
	if reason != "" {
		params = append(params, reason)
	}
	return &irc.Message{
		Prefix:  &irc.Prefix{Name: nick, User: user, Host: ServerName},
		Command: "PART",
		Params:  params,
	}
}

// Nick builds a NICK rename announcement.
func Nick(oldNick, user, newNick string) *irc.Message {
	return &irc.Message{
		Prefix:  &irc.Prefix{Name: oldNick, User: user, Host: ServerName},
		Command: "NICK",
		Params:  []string{newNick},
	}
}

// Error builds the session-terminating ERROR frame.
func Error(reason string) *irc.Message {
	return &irc.Message{
		Command: "ERROR",
		Params:  []string{reason},
	}
}

// Numeric builds a numeric reply addressed to nick.
func Numeric(code, nick string, params ...string) *irc.Message {
	return &irc.Message{
		Prefix:  prefix(ServerName),
		Command: code,
		Params:  append([]string{nick}, params...),
	}
}

// Names353 wraps members into one or more RPL_NAMREPLY (353) frames,
// breaking at ~400 characters of nick list per line (spec §4.7).
const namesLineBudget = 400

func Names353(nick, channel string, members []string) []*irc.Message {
	if len(members) == 0 {
		return []*irc.Message{Numeric("353", nick, "=", channel, "")}
	}
	var out []*irc.Message
	var cur string
	flush := func() {
		if cur != "" {
			out = append(out, Numeric("353", nick, "=", channel, cur))
			cur = ""
		}
	}
	for _, m := range members {
		if cur == "" {
			cur = m
			continue
		}
		if len(cur)+1+len(m) > namesLineBudget {
			flush()
			cur = m
			continue
		}
		cur = cur + " " + m
	}
	flush()
	return out
}

func EndOfNames(nick, channel string) *irc.Message {
	return Numeric("366", nick, channel, "End of /NAMES list")
}

func EndOfBanList(nick, channel string) *irc.Message {
	return Numeric("368", nick, channel, "End of Channel Ban List")
}

func EndOfWho(nick, channel string) *irc.Message {
	return Numeric("315", nick, channel, "End of /WHO list")
}

func ChannelModeIs(nick, channel string, createdAt time.Time) *irc.Message {
	return Numeric("329", nick, channel, fmt.Sprintf("%d", createdAt.Unix()))
}

func List322(nick, channel string, memberCount int, topic string) *irc.Message {
	return Numeric("322", nick, channel, fmt.Sprintf("%d", memberCount), topic)
}

func ListEnd323(nick string) *irc.Message {
	return Numeric("323", nick, "End of /LIST")
}

func prefix(name string) *irc.Prefix {
	return &irc.Prefix{Name: name, User: PrefixUser(name), Host: ServerName}
}

// PrefixUser implements the spec's literal (non-semantic) rendering
// rule: the "user" field of a server-originated message's mask is the
// first six characters of the sender name, space-padded if shorter.
func PrefixUser(name string) string {
	const n = 6
	if len(name) >= n {
		return name[:n]
	}
	return name + spaces(n-len(name))
}

func spaces(n int) string {
	b := make([]byte, n)
	for i := range b {
		b[i] = ' '
	}
	return string(b)
}
