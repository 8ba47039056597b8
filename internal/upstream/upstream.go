// Package upstream declares the boundary this bouncer consumes from the
// upstream group-chat account. The concrete implementation (a real
// Matrix client-server SDK) is an external collaborator per spec.md §1
// and is not part of this module; this package names the contract so
// the rest of the core can be written, tested and reasoned about against
// an interface instead of a concrete SDK.
package upstream

import (
	"context"
	"io"
	"time"
)

// EventKind distinguishes the upstream room events the translator knows
// how to render (spec §4.8).
type EventKind int

const (
	EventText EventKind = iota
	EventEmote
	EventNotice
	EventServerNotice
	EventFile
	EventImage
	EventVideo
	EventAudio
	EventVerificationRequest
	EventReaction
	EventRedaction
	EventMemberJoin
	EventMemberPart
	EventMemberRename
)

// MediaRef points at room-event media: either a plaintext homeserver
// mxc URL or an encrypted source that must be downloaded and decrypted
// before it can be linked.
type MediaRef struct {
	Encrypted bool
	// PlainURL is set when !Encrypted; the translator shows it to the
	// IRC client unchanged.
	PlainURL string
	Filename string
}

// Event is one upstream room timeline event, reduced to what the
// translator (internal/translate) needs to render a line.
type Event struct {
	ID        string
	RoomID    string
	Kind      EventKind
	Sender    UserID
	Body      string
	Media     *MediaRef
	ServerTS  time.Time
	SelfEcho  bool // unsigned.transaction_id was set
	RelatesTo string // original event id, for reactions/redactions
	Reaction  string // emoji key, for EventReaction
	Reason    string // for EventRedaction

	// MemberNick/MemberID are populated for membership events.
	MemberID  UserID
	MemberNick string
}

// UserID is an opaque upstream user identifier (e.g. "@bob:example.org").
type UserID string

// Member is one room member as enumerated by Room.Members.
type Member struct {
	ID   UserID
	Nick string
}

// Room is a joined or invited upstream room.
type Room interface {
	ID() string
	DisplayName(ctx context.Context) (string, error)
	Members(ctx context.Context) ([]Member, error)
	Topic() string
	Tombstoned() bool
	Joined() bool

	// Send posts an outbound message of the given kind (Text/Emote/Notice
	// only - other kinds are upstream-originated) into the room.
	Send(ctx context.Context, kind EventKind, body string) error

	// FetchEvent re-fetches a single event by id, used when the recent
	// message cache has evicted the context a reaction/redaction needs.
	FetchEvent(ctx context.Context, id string) (*Event, error)

	Leave(ctx context.Context) error
	Join(ctx context.Context) error
}

// Invite is a pending room invite, stripped-state membership event.
type Invite struct {
	RoomID      string
	RoomName    string
	Inviter     UserID
	MemberCount int
}

// VerificationRequest models an incoming SAS device-verification
// request (spec §4.10).
type VerificationRequest interface {
	Sender() UserID
	Accept(ctx context.Context) error
	Cancel(ctx context.Context) error
	// Changes streams state transitions until the channel is closed.
	Changes(ctx context.Context) <-chan VerificationState
}

// VerificationState is one SAS/request state transition.
type VerificationState struct {
	Ready     bool     // request accepted, SAS not started
	Emojis    []Emoji  // set when emojis are ready to confirm
	SAS       SAS      // set alongside Emojis
	Done      bool
	Cancelled bool
	Reason    string
}

// Emoji is one SAS confirmation emoji.
type Emoji struct {
	Glyph string
	Name  string
}

// SAS is the live short-authentication-string handle once key exchange
// has happened.
type SAS interface {
	Confirm(ctx context.Context) error
	Cancel(ctx context.Context) error
}

// LoginFlow is one way the homeserver offers to authenticate.
type LoginFlow struct {
	Password bool
	SSO      bool
	// IdentityProviders lists SSO idp ids/names when SSO is true and the
	// homeserver advertises more than the default flow.
	IdentityProviders []string
}

// Session is the persisted, restorable login credential (spec §3).
type Session struct {
	AccessToken  string
	RefreshToken string
	UserID       string
	DeviceID     string
}

// Client is the authenticated upstream handle the rest of the core
// drives: room enumeration, a live event stream, and media download.
type Client interface {
	UserID() UserID
	Homeserver() string
	Session() Session

	JoinedRooms(ctx context.Context) ([]Room, error)
	Room(id string) (Room, bool)

	// Sync delivers room events and invites until ctx is cancelled or the
	// upstream connection is lost. first is true only for the very first
	// call made after login/restore (spec §3 running flag First/Continue).
	Sync(ctx context.Context, events chan<- Event, invites chan<- Invite, first bool) error

	DownloadMedia(ctx context.Context, ref MediaRef) (io.ReadCloser, error)

	RequestVerification(ctx context.Context, sender UserID, eventID string) (VerificationRequest, error)

	Close() error
}

// Dialer discovers login flows and performs interactive or
// password/SSO login against a homeserver, producing an authenticated
// Client (spec §4.4).
type Dialer interface {
	DiscoverFlows(ctx context.Context, homeserver string) (LoginFlow, error)
	LoginPassword(ctx context.Context, homeserver, user, pass string) (Client, error)
	// LoginSSO starts an SSO login and returns a URL for the user to
	// open; the returned function blocks until the browser flow
	// completes (or ctx is cancelled) and yields the client.
	LoginSSO(ctx context.Context, homeserver, idp string) (url string, await func(context.Context) (Client, error), err error)
	Restore(ctx context.Context, homeserver string, session Session) (Client, error)
}
