package mapping

import (
	"context"
	"fmt"
	"sync"

	"github.com/martinetd/matrirc/internal/ircproto"
	"github.com/martinetd/matrirc/internal/upstream"
)

// ReservedName is the always-present management target (spec §3 "A
// reserved entry `matrirc` target").
const ReservedName = "matrirc"

// TargetCounter is the ambient instrumentation hook the engine notifies
// as targets come and go; *metrics.Metrics satisfies it.
type TargetCounter interface {
	TargetCreated()
	TargetRemoved()
}

// Engine is the mapping engine of spec §3/§4.6: the room<->target
// bijection plus the target-name -> handler registry. rooms and targets
// are guarded by one read-write lock (spec §5 "one read-write lock over
// the two maps"); long operations release it before taking a per-target
// lock or doing I/O.
type Engine struct {
	mu      sync.RWMutex
	rooms   map[string]*RoomHandler // upstream room id -> handler
	targets map[string]Handler      // target name -> handler

	sink        IrcSink
	namesBudget int
	metrics     TargetCounter
}

func New(sink IrcSink, namesBudget int, reservedNicks ...string) *Engine {
	e := &Engine{
		rooms:       map[string]*RoomHandler{},
		targets:     map[string]Handler{},
		sink:        sink,
		namesBudget: namesBudget,
	}
	mgmt := newRoomHandler(nil, sink, namesBudget)
	mgmt.BindTarget(newQueryTarget(ReservedName))
	e.targets[ReservedName] = mgmt
	for _, n := range reservedNicks {
		if n == "" {
			continue
		}
		if _, exists := e.targets[Sanitize(n)]; exists {
			continue
		}
		h := newRoomHandler(nil, sink, namesBudget)
		h.BindTarget(newQueryTarget(n))
		e.targets[Sanitize(n)] = h
	}
	return e
}

// SetMetrics attaches the ambient instrumentation hook. Optional; nil by
// default, in which case target counting is skipped entirely.
func (e *Engine) SetMetrics(m TargetCounter) {
	e.metrics = m
}

func (e *Engine) countCreated() {
	if e.metrics != nil {
		e.metrics.TargetCreated()
	}
}

func (e *Engine) countRemoved() {
	if e.metrics != nil {
		e.metrics.TargetRemoved()
	}
}

// Notice sends a system notice to the reserved "matrirc" target,
// spec §4.6's "surface the error to the caller as a notice on the
// matrirc target".
func (e *Engine) Notice(format string, args ...interface{}) {
	e.sink.Enqueue(ircproto.Notice(ReservedName, e.sink.Nick(), fmt.Sprintf(format, args...)))
}

// RoomTarget resolves-or-creates the handler for room (spec §4.6
// room_target). On failure to enumerate members, the candidate name
// insertion is rolled back and the error is surfaced as a notice.
func (e *Engine) RoomTarget(ctx context.Context, room upstream.Room) (*RoomHandler, error) {
	e.mu.RLock()
	if h, ok := e.rooms[room.ID()]; ok {
		e.mu.RUnlock()
		return h, nil
	}
	e.mu.RUnlock()

	name, err := room.DisplayName(ctx)
	if err != nil || name == "" {
		name = room.ID()
	}
	candidate := Sanitize(name)
	if candidate == "" {
		candidate = Sanitize(room.ID())
	}

	e.mu.Lock()
	if h, ok := e.rooms[room.ID()]; ok {
		e.mu.Unlock()
		return h, nil
	}
	finalName := firstFreeName(candidate, e.targets)
	h := newRoomHandler(room, e.sink, e.namesBudget)
	e.targets[finalName] = h
	e.rooms[room.ID()] = h
	e.mu.Unlock()
	e.countCreated()

	members, err := room.Members(ctx)
	if err != nil {
		e.mu.Lock()
		delete(e.targets, finalName)
		delete(e.rooms, room.ID())
		e.mu.Unlock()
		e.countRemoved()
		e.Notice("Could not find or create target for %s: %v", name, err)
		return nil, fmt.Errorf("mapping: enumerate members of %s: %w", room.ID(), err)
	}

	leftChan := len(members) > 2 || finalName != Sanitize(name)
	if leftChan {
		h.BindTarget(newChanTarget(finalName))
	} else {
		h.BindTarget(newQueryTarget(finalName))
	}
	h.Target().SetMembers(members)
	return h, nil
}

// ToUpstream resolves targetName (stripping a leading '#') and dispatches
// an IRC-originated outbound message (spec §4.6 to_upstream).
func (e *Engine) ToUpstream(ctx context.Context, targetName string, kind upstream.EventKind, body string) error {
	name := targetName
	if len(name) > 0 && name[0] == '#' {
		name = name[1:]
	}
	e.mu.RLock()
	h, ok := e.targets[name]
	e.mu.RUnlock()
	if !ok {
		return fmt.Errorf("mapping: no such target %q", targetName)
	}
	return h.HandleOutbound(ctx, kind, body)
}

// InsertDeduped finds the first free name in candidate, candidate_2,
// candidate_3, ... and registers make(name) under it (spec §4.6
// insert_deduped, I2). The returned handler has already had BindTarget
// called with a fresh query Target under the assigned name.
func (e *Engine) InsertDeduped(candidate string, make_ func(name string) Handler) Handler {
	e.mu.Lock()
	defer e.mu.Unlock()
	name := firstFreeName(candidate, e.targets)
	h := make_(name)
	h.BindTarget(newQueryTarget(name))
	e.targets[name] = h
	e.countCreated()
	return h
}

func firstFreeName(candidate string, targets map[string]Handler) string {
	if _, clash := targets[candidate]; !clash {
		return candidate
	}
	for i := 2; ; i++ {
		n := fmt.Sprintf("%s_%d", candidate, i)
		if _, clash := targets[n]; !clash {
			return n
		}
	}
}

// RemoveTarget drops name from the registry (spec §4.6 remove_target).
func (e *Engine) RemoveTarget(name string) {
	e.mu.Lock()
	_, existed := e.targets[name]
	delete(e.targets, name)
	e.mu.Unlock()
	if existed {
		e.countRemoved()
	}
}

// Lookup returns the handler currently bound to name, if any.
func (e *Engine) Lookup(name string) (Handler, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	h, ok := e.targets[name]
	return h, ok
}

// RoomHandlerFor returns the handler bound to an upstream room id.
func (e *Engine) RoomHandlerFor(roomID string) (*RoomHandler, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	h, ok := e.rooms[roomID]
	return h, ok
}

// SyncRooms iterates every joined, non-tombstoned room and calls
// RoomTarget on it, so the IRC client sees its roster immediately on the
// first sync pass (spec §4.6 sync_rooms).
func (e *Engine) SyncRooms(ctx context.Context, client upstream.Client) error {
	rooms, err := client.JoinedRooms(ctx)
	if err != nil {
		return fmt.Errorf("mapping: list joined rooms: %w", err)
	}
	for _, r := range rooms {
		if r.Tombstoned() {
			continue
		}
		if _, err := e.RoomTarget(ctx, r); err != nil {
			e.Notice("sync: %v", err)
		}
	}
	return nil
}

// HandleMemberJoin updates the member/nick tables for a join and emits a
// JOIN (or NICK rename) frame, or triggers channel promotion if the
// target was LeftChan (spec §4.7 "an incoming member join" trigger).
func (h *RoomHandler) HandleMemberJoin(uid upstream.UserID, displayName string) {
	t := h.Target()
	oldNick := t.MemberNick(uid)
	nick, isJoin := t.AddMember(uid, displayName)
	if isJoin {
		t.Route(h.sink, h.namesBudget, ircproto.Join(nick, ircproto.PrefixUser(nick), t.ChannelName()))
		return
	}
	if nick != oldNick {
		t.Route(h.sink, h.namesBudget, ircproto.Nick(oldNick, ircproto.PrefixUser(oldNick), nick))
		return
	}
	if t.Kind() == LeftChan {
		started := t.beginPromotion()
		if started {
			go t.promote(h.sink, h.namesBudget)
		}
	}
}

// HandleMemberPart updates the member/nick tables for a part and emits
// a PART frame, routed through the target so a part arriving mid-
// promotion queues behind the pending JOIN/NAMES/end-of-names sequence
// instead of racing ahead of it (spec §8 I4).
func (h *RoomHandler) HandleMemberPart(uid upstream.UserID, reason string) {
	t := h.Target()
	nick, ok := t.RemoveMember(uid)
	if !ok {
		return
	}
	switch t.Kind() {
	case Chan, JoiningChan:
		t.Route(h.sink, h.namesBudget, ircproto.Part(nick, ircproto.PrefixUser(nick), t.ChannelName(), reason))
	}
}

// HandleMemberRename emits a NICK frame when a member's display name
// changes and the new nick could be claimed (collision => silent retain,
// per AddMember's documented behaviour). Routed through the target like
// Join/Part so a rename can't jump ahead of an in-flight promotion.
func (h *RoomHandler) HandleMemberRename(uid upstream.UserID, newDisplayName string) {
	t := h.Target()
	oldNick := t.MemberNick(uid)
	newNick, _ := t.AddMember(uid, newDisplayName)
	if newNick != oldNick {
		t.Route(h.sink, h.namesBudget, ircproto.Nick(oldNick, ircproto.PrefixUser(oldNick), newNick))
	}
}
