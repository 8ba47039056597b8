package upstream

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
)

// FakeRoom is an in-memory Room used by tests that exercise the mapping
// engine and translator without a real homeserver.
type FakeRoom struct {
	mu      sync.Mutex
	id      string
	name    string
	topic   string
	joined  bool
	members []Member
	sent    []Event
	events  map[string]*Event
}

func NewFakeRoom(id, name string, members []Member) *FakeRoom {
	return &FakeRoom{id: id, name: name, joined: true, members: members, events: map[string]*Event{}}
}

func (r *FakeRoom) ID() string { return r.id }

func (r *FakeRoom) DisplayName(ctx context.Context) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.name, nil
}

func (r *FakeRoom) Members(ctx context.Context) ([]Member, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Member, len(r.members))
	copy(out, r.members)
	return out, nil
}

func (r *FakeRoom) Topic() string    { return r.topic }
func (r *FakeRoom) Tombstoned() bool { return false }
func (r *FakeRoom) Joined() bool     { return r.joined }

func (r *FakeRoom) Send(ctx context.Context, kind EventKind, body string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, Event{RoomID: r.id, Kind: kind, Body: body})
	return nil
}

func (r *FakeRoom) FetchEvent(ctx context.Context, id string) (*Event, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.events[id]; ok {
		return e, nil
	}
	return nil, fmt.Errorf("event %s not found", id)
}

func (r *FakeRoom) Leave(ctx context.Context) error { r.joined = false; return nil }
func (r *FakeRoom) Join(ctx context.Context) error  { r.joined = true; return nil }

// PutEvent registers an event so a later FetchEvent can find it.
func (r *FakeRoom) PutEvent(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events[e.ID] = &e
}

// SetMembers replaces the member roster, for join/part tests.
func (r *FakeRoom) SetMembers(m []Member) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.members = m
}

// Sent returns a snapshot of messages sent through Send.
func (r *FakeRoom) Sent() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.sent))
	copy(out, r.sent)
	return out
}

// FakeClient is an in-memory Client.
type FakeClient struct {
	mu       sync.Mutex
	userID   UserID
	homesrv  string
	rooms    map[string]Room
	download map[string][]byte
}

func NewFakeClient(userID UserID, homeserver string) *FakeClient {
	return &FakeClient{userID: userID, homesrv: homeserver, rooms: map[string]Room{}, download: map[string][]byte{}}
}

func (c *FakeClient) UserID() UserID      { return c.userID }
func (c *FakeClient) Homeserver() string  { return c.homesrv }
func (c *FakeClient) Session() Session    { return Session{UserID: string(c.userID)} }

func (c *FakeClient) AddRoom(r Room) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rooms[r.ID()] = r
}

func (c *FakeClient) JoinedRooms(ctx context.Context) ([]Room, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Room, 0, len(c.rooms))
	for _, r := range c.rooms {
		if r.Joined() && !r.Tombstoned() {
			out = append(out, r)
		}
	}
	return out, nil
}

func (c *FakeClient) Room(id string) (Room, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	r, ok := c.rooms[id]
	return r, ok
}

func (c *FakeClient) Sync(ctx context.Context, events chan<- Event, invites chan<- Invite, first bool) error {
	<-ctx.Done()
	return ctx.Err()
}

func (c *FakeClient) DownloadMedia(ctx context.Context, ref MediaRef) (io.ReadCloser, error) {
	c.mu.Lock()
	data, ok := c.download[ref.Filename]
	c.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("no fake media for %q", ref.Filename)
	}
	return io.NopCloser(strings.NewReader(string(data))), nil
}

func (c *FakeClient) SetMedia(filename string, data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.download[filename] = data
}

func (c *FakeClient) RequestVerification(ctx context.Context, sender UserID, eventID string) (VerificationRequest, error) {
	return &FakeVerification{sender: sender, ch: make(chan VerificationState, 8)}, nil
}

func (c *FakeClient) Close() error { return nil }

// FakeVerification is a controllable VerificationRequest for dialog tests.
type FakeVerification struct {
	sender UserID
	ch     chan VerificationState
}

// NewFakeVerification builds a standalone FakeVerification for tests that
// don't go through FakeClient.RequestVerification.
func NewFakeVerification(sender UserID) *FakeVerification {
	return &FakeVerification{sender: sender, ch: make(chan VerificationState, 8)}
}

func (v *FakeVerification) Sender() UserID { return v.sender }
func (v *FakeVerification) Accept(ctx context.Context) error { return nil }
func (v *FakeVerification) Cancel(ctx context.Context) error { close(v.ch); return nil }
func (v *FakeVerification) Changes(ctx context.Context) <-chan VerificationState { return v.ch }

// Push lets a test drive a state transition.
func (v *FakeVerification) Push(s VerificationState) { v.ch <- s }
func (v *FakeVerification) CloseChanges()             { close(v.ch) }

var _ SAS = (*FakeSAS)(nil)

// FakeSAS is a controllable SAS handle for dialog tests.
type FakeSAS struct {
	mu        sync.Mutex
	confirmed bool
	cancelled bool
}

func (s *FakeSAS) Confirm(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.confirmed = true
	return nil
}

func (s *FakeSAS) Cancel(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancelled = true
	return nil
}

func (s *FakeSAS) Confirmed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.confirmed
}

func (s *FakeSAS) Cancelled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancelled
}
