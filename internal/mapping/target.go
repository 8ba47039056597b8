// Package mapping implements spec.md §4.6/§4.7: the bidirectional
// room<->target mapping engine, per-target member/nick tables, and the
// LeftChan -> JoiningChan -> Chan join choreography.
package mapping

import (
	"regexp"
	"sync"

	"gopkg.in/irc.v3"

	"github.com/martinetd/matrirc/internal/ircproto"
	"github.com/martinetd/matrirc/internal/upstream"
)

// Kind is a Target's IRC-visible lifecycle state (spec §3).
type Kind int

const (
	Query Kind = iota
	Chan
	LeftChan
	JoiningChan
)

func (k Kind) String() string {
	switch k {
	case Query:
		return "query"
	case Chan:
		return "chan"
	case LeftChan:
		return "left-chan"
	case JoiningChan:
		return "joining-chan"
	default:
		return "unknown"
	}
}

var sanitizeRe = regexp.MustCompile(`[^a-zA-Z_-]+`)

// Sanitize strips every character the IRC side can't use in a target
// name (spec §3: `[^a-zA-Z_-]+` stripped).
func Sanitize(s string) string {
	return sanitizeRe.ReplaceAllString(s, "")
}

// IrcSink is the minimal capability a Target needs from the downstream
// IRC connection: enqueue a frame, and know the connected client's own
// nick/username for JOIN masks and message routing. internal/ircd's
// client implements this; declaring it here (rather than importing
// internal/ircd) avoids a dependency cycle, matching the teacher's own
// "depend on a small Logger interface, not a concrete logger" idiom.
type IrcSink interface {
	Enqueue(msg *irc.Message)
	Nick() string
	User() string
}

// Target is the IRC-visible rendezvous for one upstream conversation
// (spec §3). The member/nick tables and pending queue are guarded by mu;
// the pending queue additionally has its own inner lock so a line can be
// appended while only mu's read lock is held (§5 lock hierarchy).
type Target struct {
	mu      sync.RWMutex
	name    string
	kind    Kind
	members map[upstream.UserID]string
	names   map[string]upstream.UserID

	pendingMu sync.Mutex
	pending   []*irc.Message
}

func newQueryTarget(name string) *Target {
	return &Target{
		name:    Sanitize(name),
		kind:    Query,
		members: map[upstream.UserID]string{},
		names:   map[string]upstream.UserID{},
	}
}

// newChanTarget builds a target that still needs the JOIN/NAMES/end-of-
// names promotion choreography before it is visible as a channel (spec
// §4.7); the immediately-Chan case never arises from RoomTarget, since a
// room only becomes a Chan target by promoting through LeftChan.
func newChanTarget(name string) *Target {
	t := newQueryTarget(name)
	t.kind = LeftChan
	return t
}

func (t *Target) Name() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.name
}

func (t *Target) Kind() Kind {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.kind
}

// ChannelName returns the IRC wire form of the target's name: "#name"
// for anything but a plain Query.
func (t *Target) ChannelName() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.kind == Query {
		return t.name
	}
	return "#" + t.name
}

// MemberNick returns the per-target display nick for uid, or uid itself
// if the member isn't known (original_source's fallback behaviour).
func (t *Target) MemberNick(uid upstream.UserID) string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if nick, ok := t.members[uid]; ok {
		return nick
	}
	return string(uid)
}

// SetMembers replaces the member/nick tables wholesale, deduplicating
// nicks the way room_target's initial population does (spec §4.6).
// Invariant I1 (members[uid]==nick iff names[nick]==uid) holds on return.
func (t *Target) SetMembers(members []upstream.Member) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.members = map[upstream.UserID]string{}
	t.names = map[string]upstream.UserID{}
	for _, m := range members {
		nick := t.dedupeNickLocked(m.Nick)
		t.members[m.ID] = nick
		t.names[nick] = m.ID
	}
}

// dedupeNickLocked must be called with mu held for writing.
func (t *Target) dedupeNickLocked(candidate string) string {
	if _, clash := t.names[candidate]; !clash {
		return candidate
	}
	for i := 2; ; i++ {
		n := candidate + suffix(i)
		if _, clash := t.names[n]; !clash {
			return n
		}
	}
}

func suffix(i int) string {
	const digits = "0123456789"
	if i < 10 {
		return "_" + string(digits[i])
	}
	// unlikely in practice but keep it well-defined
	var b []byte
	for i > 0 {
		b = append([]byte{digits[i%10]}, b...)
		i /= 10
	}
	return "_" + string(b)
}

// AddMember registers/renames a member, returning the nick assigned and
// whether this was a new join (vs a rename of an already-known member).
// Nick collisions keep the existing nick silently, per spec §4.7 "Nick
// renames: if the new display name conflicts with an existing nick,
// retain the old nick silently."
func (t *Target) AddMember(uid upstream.UserID, wantNick string) (nick string, isJoin bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if existing, ok := t.members[uid]; ok {
		if existing == wantNick {
			return existing, false
		}
		if _, clash := t.names[wantNick]; clash {
			return existing, false
		}
		delete(t.names, existing)
		t.members[uid] = wantNick
		t.names[wantNick] = uid
		return wantNick, false
	}

	nick = t.dedupeNickLocked(wantNick)
	t.members[uid] = nick
	t.names[nick] = uid
	return nick, true
}

// RemoveMember removes uid from the member/nick tables and returns its
// last known nick, if any.
func (t *Target) RemoveMember(uid upstream.UserID) (nick string, ok bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	nick, ok = t.members[uid]
	if ok {
		delete(t.members, uid)
		delete(t.names, nick)
	}
	return nick, ok
}

// MemberCount reports the currently known active-member count (the user
// count of a LIST 322 reply).
func (t *Target) MemberCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.members)
}

func (t *Target) appendPending(msg *irc.Message) {
	t.pendingMu.Lock()
	t.pending = append(t.pending, msg)
	t.pendingMu.Unlock()
}

// drainPending removes and returns every currently queued pending
// message (spec §4.7 flush-on-join, called twice around the state flip).
func (t *Target) drainPending() []*irc.Message {
	t.pendingMu.Lock()
	defer t.pendingMu.Unlock()
	out := t.pending
	t.pending = nil
	return out
}

// beginPromotion transitions LeftChan -> JoiningChan, returning true iff
// this call won the race to do so (spec §4.7 invariant: only one
// producer may promote a target at a time).
func (t *Target) beginPromotion() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.kind != LeftChan {
		return false
	}
	t.kind = JoiningChan
	return true
}

func (t *Target) finishPromotion() {
	t.mu.Lock()
	t.kind = Chan
	t.mu.Unlock()
}

// nickSnapshot returns every known member nick plus the client's own
// nick, for a NAMES reply (spec example 4: "alice included").
func (t *Target) nickSnapshot(clientNick string) []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]string, 0, len(t.names)+1)
	out = append(out, clientNick)
	for nick := range t.names {
		if nick == clientNick {
			continue
		}
		out = append(out, nick)
	}
	return out
}

// Route delivers or queues a pre-rendered IRC message according to the
// target's current lifecycle state, driving promotion when needed
// (spec §4.7). namesBudget is the NAMES line-wrap width (0 = default).
func (t *Target) Route(sink IrcSink, namesBudget int, msg *irc.Message) {
	switch t.Kind() {
	case Query, Chan:
		sink.Enqueue(msg)
	case LeftChan:
		started := t.beginPromotion()
		t.appendPending(msg)
		if started {
			go t.promote(sink, namesBudget)
		}
	case JoiningChan:
		t.appendPending(msg)
	}
}

// promote runs the JOIN/NAMES/end-of-names choreography, then flushes
// pending twice (once before, once after the Chan state flip) to cover
// races with messages stashed in between (spec §4.7).
func (t *Target) promote(sink IrcSink, namesBudget int) {
	nick, user := sink.Nick(), sink.User()
	channel := t.ChannelName()

	sink.Enqueue(ircproto.Join(nick, user, channel))
	for _, frame := range namesFrames(nick, channel, t.nickSnapshot(nick), namesBudget) {
		sink.Enqueue(frame)
	}
	sink.Enqueue(ircproto.EndOfNames(nick, channel))

	for _, m := range t.drainPending() {
		sink.Enqueue(m)
	}
	t.finishPromotion()
	for _, m := range t.drainPending() {
		sink.Enqueue(m)
	}
}

func namesFrames(nick, channel string, members []string, budget int) []*irc.Message {
	if budget <= 0 {
		return ircproto.Names353(nick, channel, members)
	}
	// custom budget: reimplement the wrap with the configured width.
	var out []*irc.Message
	var cur string
	flush := func() {
		if cur != "" {
			out = append(out, ircproto.Numeric("353", nick, "=", channel, cur))
			cur = ""
		}
	}
	for _, m := range members {
		if cur == "" {
			cur = m
			continue
		}
		if len(cur)+1+len(m) > budget {
			flush()
			cur = m
			continue
		}
		cur = cur + " " + m
	}
	flush()
	if len(out) == 0 {
		out = append(out, ircproto.Numeric("353", nick, "=", channel, ""))
	}
	return out
}
