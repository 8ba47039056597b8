package mapping

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"gopkg.in/irc.v3"

	"github.com/martinetd/matrirc/internal/upstream"
)

// recordingSink is a test double for IrcSink that records every
// enqueued frame in order (used to assert I3 and the 4.7 join
// choreography ordering).
type recordingSink struct {
	mu   sync.Mutex
	nick string
	user string
	msgs []*irc.Message
}

func newRecordingSink(nick string) *recordingSink {
	return &recordingSink{nick: nick, user: ircPrefixUser(nick)}
}

func ircPrefixUser(nick string) string {
	const n = 6
	if len(nick) >= n {
		return nick[:n]
	}
	return nick + strings.Repeat(" ", n-len(nick))
}

func (s *recordingSink) Enqueue(msg *irc.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.msgs = append(s.msgs, msg)
}
func (s *recordingSink) Nick() string { return s.nick }
func (s *recordingSink) User() string { return s.user }

func (s *recordingSink) snapshot() []*irc.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*irc.Message, len(s.msgs))
	copy(out, s.msgs)
	return out
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("condition never became true")
}

func TestSanitizeStripsDisallowed(t *testing.T) {
	got := Sanitize("Team Chat! #42 (beta)")
	want := "TeamChat42beta"
	if got != want {
		t.Errorf("Sanitize = %q, want %q", got, want)
	}
}

func TestInsertDedupedSequence(t *testing.T) {
	sink := newRecordingSink("alice")
	e := New(sink, 0)

	var names []string
	for i := 0; i < 3; i++ {
		h := e.InsertDeduped("bob", func(name string) Handler {
			return newRoomHandler(nil, sink, 0)
		})
		names = append(names, h.Target().Name())
	}

	want := []string{"bob", "bob_2", "bob_3"}
	for i, w := range want {
		if names[i] != w {
			t.Errorf("name[%d] = %q, want %q", i, names[i], w)
		}
	}
}

func TestMemberInvariant(t *testing.T) {
	target := newQueryTarget("room")
	target.SetMembers([]upstream.Member{
		{ID: "@a:hs", Nick: "alice"},
		{ID: "@b:hs", Nick: "bob"},
		{ID: "@c:hs", Nick: "alice"}, // dedup collision
	})

	target.mu.RLock()
	defer target.mu.RUnlock()
	if len(target.members) != len(target.names) {
		t.Fatalf("members/names cardinality mismatch: %d vs %d", len(target.members), len(target.names))
	}
	for uid, nick := range target.members {
		if target.names[nick] != uid {
			t.Errorf("names[%q] = %q, want %q", nick, target.names[nick], uid)
		}
	}
}

func TestRoomTargetQueryVsChan(t *testing.T) {
	sink := newRecordingSink("alice")
	e := New(sink, 0)
	ctx := context.Background()

	room2 := upstream.NewFakeRoom("!two:hs", "Bob", []upstream.Member{
		{ID: "@alice:hs", Nick: "alice"},
		{ID: "@bob:hs", Nick: "bob"},
	})
	h2, err := e.RoomTarget(ctx, room2)
	if err != nil {
		t.Fatalf("RoomTarget: %v", err)
	}
	if h2.Target().Kind() != Query {
		t.Errorf("2-member room kind = %v, want Query", h2.Target().Kind())
	}

	room4 := upstream.NewFakeRoom("!four:hs", "Team Chat", []upstream.Member{
		{ID: "@alice:hs", Nick: "alice"},
		{ID: "@bob:hs", Nick: "bob"},
		{ID: "@carl:hs", Nick: "carl"},
		{ID: "@dee:hs", Nick: "dee"},
	})
	h4, err := e.RoomTarget(ctx, room4)
	if err != nil {
		t.Fatalf("RoomTarget: %v", err)
	}
	if h4.Target().Kind() != LeftChan {
		t.Errorf("4-member room kind = %v, want LeftChan", h4.Target().Kind())
	}
	if h4.Target().Name() != "TeamChat" {
		t.Errorf("sanitised name = %q, want TeamChat", h4.Target().Name())
	}
}

func TestChannelPromotionOrdering(t *testing.T) {
	sink := newRecordingSink("alice")
	e := New(sink, 0)
	ctx := context.Background()

	room := upstream.NewFakeRoom("!four:hs", "Team Chat", []upstream.Member{
		{ID: "@alice:hs", Nick: "alice"},
		{ID: "@bob:hs", Nick: "bob"},
		{ID: "@carl:hs", Nick: "carl"},
		{ID: "@dee:hs", Nick: "dee"},
	})
	h, err := e.RoomTarget(ctx, room)
	if err != nil {
		t.Fatalf("RoomTarget: %v", err)
	}

	h.Deliver("PRIVMSG", "@bob:hs", "hello")

	waitFor(t, func() bool { return h.Target().Kind() == Chan })

	msgs := sink.snapshot()
	if len(msgs) < 4 {
		t.Fatalf("expected at least JOIN+353+366+PRIVMSG, got %d frames", len(msgs))
	}
	if msgs[0].Command != "JOIN" {
		t.Errorf("frame[0] = %s, want JOIN", msgs[0].Command)
	}
	last := msgs[len(msgs)-1]
	if last.Command != "PRIVMSG" {
		t.Errorf("last frame = %s, want PRIVMSG (the flushed pending message)", last.Command)
	}
	foundEndOfNames := false
	foundNames := false
	for _, m := range msgs {
		if m.Command == "366" {
			foundEndOfNames = true
		}
		if m.Command == "353" {
			foundNames = true
		}
	}
	if !foundNames || !foundEndOfNames {
		t.Errorf("expected 353 and 366 frames in %v", msgs)
	}
	// I4: no PRIVMSG frame may appear before 366.
	sawEnd := false
	for _, m := range msgs {
		if m.Command == "366" {
			sawEnd = true
			continue
		}
		if !sawEnd && m.Command == "PRIVMSG" {
			t.Fatalf("PRIVMSG delivered before end-of-names: %v", msgs)
		}
	}
}

func TestMemberJoinDuringPromotionQueuesBehindPendingFrames(t *testing.T) {
	sink := newRecordingSink("alice")
	e := New(sink, 0)
	ctx := context.Background()

	room := upstream.NewFakeRoom("!four:hs", "Team Chat", []upstream.Member{
		{ID: "@alice:hs", Nick: "alice"},
		{ID: "@bob:hs", Nick: "bob"},
		{ID: "@carl:hs", Nick: "carl"},
		{ID: "@dee:hs", Nick: "dee"},
	})
	h, err := e.RoomTarget(ctx, room)
	if err != nil {
		t.Fatalf("RoomTarget: %v", err)
	}
	if h.Target().Kind() != LeftChan {
		t.Fatalf("expected LeftChan before first event, got %v", h.Target().Kind())
	}

	h.HandleMemberJoin("@eve:hs", "eve")

	waitFor(t, func() bool { return h.Target().Kind() == Chan })

	msgs := sink.snapshot()
	if msgs[0].Command != "JOIN" || msgs[0].Params[0] != "#TeamChat" {
		t.Fatalf("frame[0] = %v, want the client's own channel JOIN", msgs[0])
	}

	sawEndOfNames, sawEveJoinEarly, sawEveJoin := false, false, false
	for _, m := range msgs {
		if m.Command == "366" {
			sawEndOfNames = true
			continue
		}
		isEveJoin := m.Command == "JOIN" && m.Prefix != nil && m.Prefix.Name == "eve"
		if isEveJoin {
			sawEveJoin = true
			if !sawEndOfNames {
				sawEveJoinEarly = true
			}
		}
	}
	if sawEveJoinEarly {
		t.Fatalf("eve's JOIN frame appeared before end-of-names: %v", msgs)
	}
	if !sawEveJoin {
		t.Fatalf("expected eve's JOIN frame to be flushed once promotion completes, got %v", msgs)
	}
}

func TestMemberPartWhileJoiningChanQueuesBehindPromotion(t *testing.T) {
	sink := newRecordingSink("alice")
	e := New(sink, 0)
	ctx := context.Background()

	room := upstream.NewFakeRoom("!four:hs", "Team Chat", []upstream.Member{
		{ID: "@alice:hs", Nick: "alice"},
		{ID: "@bob:hs", Nick: "bob"},
		{ID: "@carl:hs", Nick: "carl"},
		{ID: "@dee:hs", Nick: "dee"},
	})
	h, err := e.RoomTarget(ctx, room)
	if err != nil {
		t.Fatalf("RoomTarget: %v", err)
	}

	// Simulate "mid-promotion" deterministically rather than racing the
	// real promote() goroutine: flip to JoiningChan directly.
	if !h.Target().beginPromotion() {
		t.Fatal("beginPromotion should succeed from LeftChan")
	}

	h.HandleMemberPart("@bob:hs", "left")

	if len(sink.snapshot()) != 0 {
		t.Fatalf("a part arriving mid-promotion must not be sent before JOIN/NAMES/end-of-names, got %v", sink.snapshot())
	}
}

func TestNamesLineBreaksAt400(t *testing.T) {
	sink := newRecordingSink("alice")
	members := make([]string, 0, 50)
	for i := 0; i < 50; i++ {
		members = append(members, strings.Repeat("x", 9)+string(rune('a'+i%26)))
	}
	frames := namesFrames(sink.Nick(), "#big", members, 0)
	for _, f := range frames {
		line := f.Params[len(f.Params)-1]
		if len(line) > 400 {
			t.Errorf("NAMES line exceeds 400 chars: %d", len(line))
		}
	}
	if len(frames) < 2 {
		t.Errorf("expected wrapping across multiple 353 frames, got %d", len(frames))
	}
}

func TestRemoveTarget(t *testing.T) {
	sink := newRecordingSink("alice")
	e := New(sink, 0)
	h := e.InsertDeduped("verif", func(name string) Handler { return newRoomHandler(nil, sink, 0) })
	name := h.Target().Name()
	if _, ok := e.Lookup(name); !ok {
		t.Fatal("expected target to be registered")
	}
	e.RemoveTarget(name)
	if _, ok := e.Lookup(name); ok {
		t.Fatal("expected target to be removed")
	}
}
