// Package session implements the coordinator of spec.md §3/§5: the
// object that owns a logged-in upstream client, the downstream IRC
// client, the mapping engine and the recent-message cache, and runs the
// upstream-sync task for one bridged connection. The reader and writer
// tasks are started by internal/ircd.
package session

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/martinetd/matrirc/internal/cache"
	"github.com/martinetd/matrirc/internal/mapping"
	"github.com/martinetd/matrirc/internal/metrics"
	"github.com/martinetd/matrirc/internal/translate"
	"github.com/martinetd/matrirc/internal/upstream"
)

// RunState is the coordinator's tri-state running flag (spec §3):
// First distinguishes the very first upstream sync pass, used to
// populate the IRC-side roster immediately.
type RunState int32

const (
	First RunState = iota
	Continue
	Break
)

// IrcSink is the capability the coordinator needs from the downstream
// connection to terminate a session (spec §5 stop(reason)).
type IrcSink interface {
	mapping.IrcSink
	Stop(reason string)
}

// Coordinator owns one bridged session's lifecycle (spec §3).
type Coordinator struct {
	upstreamClient upstream.Client
	sink           IrcSink
	engine         *mapping.Engine
	translator     *translate.Translator
	cache          *cache.LRU

	state   int32 // atomic RunState
	stopped sync.Once
}

func New(client upstream.Client, sink IrcSink, media translate.MediaConfig, reservedNick string, namesBudget int) *Coordinator {
	engine := mapping.New(sink, namesBudget, reservedNick)
	lru := cache.New(cache.DefaultCapacity)
	return &Coordinator{
		upstreamClient: client,
		sink:           sink,
		engine:         engine,
		translator:     translate.New(lru, media, client),
		cache:          lru,
		state:          int32(First),
	}
}

// SetMetrics attaches the ambient instrumentation hook to the mapping
// engine and event translator.
func (co *Coordinator) SetMetrics(m *metrics.Metrics) {
	co.engine.SetMetrics(m)
	co.translator.SetMetrics(m)
}

func (co *Coordinator) Engine() *mapping.Engine { return co.engine }

// Stop flips the running flag to Break and terminates the downstream
// connection with reason (spec §5: "whichever exits first calls stop").
func (co *Coordinator) Stop(reason string) {
	co.stopped.Do(func() {
		atomic.StoreInt32(&co.state, int32(Break))
		co.sink.Stop(reason)
	})
}

func (co *Coordinator) running() bool {
	return RunState(atomic.LoadInt32(&co.state)) != Break
}

// RunUpstreamSync runs the long-lived upstream event loop until the
// running flag flips to Break or ctx is cancelled (spec §5 task 3).
// On its first pass it also calls SyncRooms to populate the IRC-side
// roster immediately (spec §4.6 sync_rooms).
func (co *Coordinator) RunUpstreamSync(ctx context.Context) error {
	defer co.Stop("upstream sync ended")

	for co.running() {
		first := atomic.CompareAndSwapInt32(&co.state, int32(First), int32(Continue))
		if first {
			if err := co.engine.SyncRooms(ctx, co.upstreamClient); err != nil {
				co.engine.Notice("initial room sync failed: %v", err)
			}
		}

		events := make(chan upstream.Event, 64)
		invites := make(chan upstream.Invite, 8)
		done := make(chan error, 1)

		go func() {
			done <- co.upstreamClient.Sync(ctx, events, invites, first)
		}()

		if err := co.pump(ctx, events, invites, done); err != nil {
			return err
		}
		if !co.running() {
			return nil
		}
	}
	return nil
}

func (co *Coordinator) pump(ctx context.Context, events <-chan upstream.Event, invites <-chan upstream.Invite, done <-chan error) error {
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			co.handleEvent(ctx, ev)
		case inv, ok := <-invites:
			if !ok {
				invites = nil
				continue
			}
			co.handleInvite(ctx, inv)
		case err := <-done:
			return err
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (co *Coordinator) handleEvent(ctx context.Context, ev upstream.Event) {
	switch ev.Kind {
	case upstream.EventMemberJoin, upstream.EventMemberPart, upstream.EventMemberRename:
		h, ok := co.engine.RoomHandlerFor(ev.RoomID)
		if !ok {
			return
		}
		switch ev.Kind {
		case upstream.EventMemberJoin:
			h.HandleMemberJoin(ev.MemberID, ev.MemberNick)
		case upstream.EventMemberPart:
			h.HandleMemberPart(ev.MemberID, ev.Reason)
		case upstream.EventMemberRename:
			h.HandleMemberRename(ev.MemberID, ev.MemberNick)
		}
	case upstream.EventVerificationRequest:
		req, err := co.upstreamClient.RequestVerification(ctx, ev.Sender, ev.ID)
		if err != nil {
			co.engine.Notice("verification request from %s failed: %v", ev.Sender, err)
			return
		}
		co.engine.StartVerification(ev.Sender, req)
	default:
		h, ok := co.engine.RoomHandlerFor(ev.RoomID)
		if !ok {
			room, exists := co.upstreamClient.Room(ev.RoomID)
			if !exists {
				return
			}
			var err error
			h, err = co.engine.RoomTarget(ctx, room)
			if err != nil {
				return
			}
		}
		if err := co.translator.Deliver(ctx, h, ev); err != nil {
			co.engine.Notice("failed to render event %s: %v", ev.ID, err)
		}
	}
}

func (co *Coordinator) handleInvite(ctx context.Context, inv upstream.Invite) {
	room, ok := co.upstreamClient.Room(inv.RoomID)
	if !ok {
		return
	}
	co.engine.StartInvite(ctx, room, inv.Inviter)
}
