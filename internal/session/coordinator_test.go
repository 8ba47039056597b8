package session

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"gopkg.in/irc.v3"

	"github.com/martinetd/matrirc/internal/translate"
	"github.com/martinetd/matrirc/internal/upstream"
)

// fakeSink is a minimal IrcSink test double recording enqueued frames
// and Stop calls, mirroring the mapping package's own recordingSink.
type fakeSink struct {
	mu        sync.Mutex
	nick      string
	msgs      []*irc.Message
	stopCount int
}

func newFakeSink(nick string) *fakeSink { return &fakeSink{nick: nick} }

func (s *fakeSink) Enqueue(msg *irc.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.msgs = append(s.msgs, msg)
}
func (s *fakeSink) Nick() string { return s.nick }
func (s *fakeSink) User() string { return strings.ToUpper(s.nick) }

func (s *fakeSink) Stop(reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopCount++
}

func (s *fakeSink) snapshot() []*irc.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*irc.Message, len(s.msgs))
	copy(out, s.msgs)
	return out
}

// syncOnceClient sends one canned event, then blocks until ctx is
// cancelled, like a real upstream connection that has nothing more to
// deliver until the test tears it down.
type syncOnceClient struct {
	*upstream.FakeClient
	event upstream.Event
}

func (c *syncOnceClient) Sync(ctx context.Context, events chan<- upstream.Event, invites chan<- upstream.Invite, first bool) error {
	events <- c.event
	<-ctx.Done()
	return ctx.Err()
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

func TestStopIsIdempotent(t *testing.T) {
	sink := newFakeSink("alice")
	base := upstream.NewFakeClient("@alice:hs", "hs")
	co := New(base, sink, translate.MediaConfig{}, "alice", 0)

	co.Stop("bye")
	co.Stop("bye again")

	if sink.stopCount != 1 {
		t.Fatalf("sink.Stop called %d times, want 1", sink.stopCount)
	}
}

func TestRunUpstreamSyncDeliversEvent(t *testing.T) {
	sink := newFakeSink("alice")
	room := upstream.NewFakeRoom("!room:hs", "Bob", []upstream.Member{
		{ID: "@alice:hs", Nick: "alice"},
		{ID: "@bob:hs", Nick: "bob"},
	})
	base := upstream.NewFakeClient("@alice:hs", "hs")
	base.AddRoom(room)
	client := &syncOnceClient{
		FakeClient: base,
		event: upstream.Event{
			ID:       "$1",
			RoomID:   room.ID(),
			Kind:     upstream.EventText,
			Sender:   "@bob:hs",
			Body:     "hi there",
			ServerTS: time.Now(),
		},
	}

	co := New(client, sink, translate.MediaConfig{}, "alice", 0)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- co.RunUpstreamSync(ctx) }()

	waitFor(t, func() bool {
		for _, m := range sink.snapshot() {
			if m.Command == "PRIVMSG" && len(m.Params) == 2 && m.Params[1] == "<bob> hi there" {
				return true
			}
		}
		return false
	})

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("RunUpstreamSync did not return after cancel")
	}
}
