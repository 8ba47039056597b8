// Package translate renders upstream room events into IRC lines (spec
// §4.8): one function per event kind, a single timestamp-prefix rule,
// and media URLs (plaintext URLs passed through, encrypted media
// downloaded and served from a local directory).
package translate

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/martinetd/matrirc/internal/cache"
	"github.com/martinetd/matrirc/internal/mapping"
	"github.com/martinetd/matrirc/internal/upstream"
)

// MediaConfig carries the local cache directory and its public URL
// prefix used to serve downloaded encrypted media (spec §6 on-disk
// layout: "<media_dir>/<filename>", served via
// "<media_url>/<percent-encoded-filename>").
type MediaConfig struct {
	Dir string
	URL string
}

// EventCounter is the ambient instrumentation hook the translator
// notifies for each event it successfully delivers; *metrics.Metrics
// satisfies it.
type EventCounter interface {
	EventDelivered()
}

// Translator renders events for one session, stamping each rendered
// line into the recent-message cache so a later reaction or redaction
// can reference it (spec §4.8 closing paragraph). client is used only
// to download encrypted media; Room carries everything else.
type Translator struct {
	cache   *cache.LRU
	media   MediaConfig
	client  downloader
	now     func() time.Time
	metrics EventCounter
}

func New(c *cache.LRU, media MediaConfig, client upstream.Client) *Translator {
	return &Translator{cache: c, media: media, client: client, now: time.Now}
}

// SetMetrics attaches the ambient instrumentation hook. Optional; nil by
// default, in which case delivery counting is skipped entirely.
func (tr *Translator) SetMetrics(m EventCounter) {
	tr.metrics = m
}

// Deliver renders ev and routes it to h, or silently drops it per the
// two Ignore rules of spec §4.8 (self-echo, non-joined room).
func (tr *Translator) Deliver(ctx context.Context, h *mapping.RoomHandler, ev upstream.Event) error {
	if ev.SelfEcho {
		return nil
	}
	if h.Room() != nil && !h.Room().Joined() {
		return nil
	}

	var err error
	switch ev.Kind {
	case upstream.EventText:
		tr.deliverBody(h, ev, "PRIVMSG", ev.Body)
	case upstream.EventEmote:
		tr.deliverBody(h, ev, "PRIVMSG", "\x01ACTION "+ev.Body+"\x01")
	case upstream.EventNotice, upstream.EventServerNotice:
		tr.deliverBody(h, ev, "NOTICE", ev.Body)
	case upstream.EventFile, upstream.EventImage, upstream.EventVideo, upstream.EventAudio:
		err = tr.deliverMedia(ctx, h, ev)
	case upstream.EventReaction:
		err = tr.deliverReaction(ctx, h, ev)
	case upstream.EventRedaction:
		err = tr.deliverRedaction(ctx, h, ev)
	}
	if err == nil && tr.metrics != nil {
		tr.metrics.EventDelivered()
	}
	return err
}

func (tr *Translator) deliverBody(h *mapping.RoomHandler, ev upstream.Event, ircCmd, body string) {
	text := tr.withTimestamp(ev.ServerTS, body)
	tr.cache.Put(ev.ID, cache.Entry{Text: text, At: ev.ServerTS})
	h.Deliver(ircCmd, ev.Sender, text)
}

func kindName(k upstream.EventKind) string {
	switch k {
	case upstream.EventFile:
		return "file"
	case upstream.EventImage:
		return "image"
	case upstream.EventVideo:
		return "video"
	case upstream.EventAudio:
		return "audio"
	default:
		return "media"
	}
}

// deliverMedia renders File/Image/Video/Audio as a NOTICE carrying a
// URL: for plaintext media, MediaRef.PlainURL exactly as given (it is
// not rewritten against the homeserver); for encrypted media, a local
// path populated by downloading the decrypted bytes.
func (tr *Translator) deliverMedia(ctx context.Context, h *mapping.RoomHandler, ev upstream.Event) error {
	if ev.Media == nil {
		return fmt.Errorf("translate: media event %s has no media reference", ev.ID)
	}

	urlStr, err := tr.resolveMediaURL(ctx, h, ev)
	if err != nil {
		return err
	}

	body := fmt.Sprintf("Sent a %s, %s: %s", kindName(ev.Kind), ev.Body, urlStr)
	tr.deliverBody(h, ev, "NOTICE", body)
	return nil
}

func (tr *Translator) resolveMediaURL(ctx context.Context, h *mapping.RoomHandler, ev upstream.Event) (string, error) {
	if !ev.Media.Encrypted {
		return ev.Media.PlainURL, nil
	}
	return downloadEncrypted(ctx, tr.client, tr.media, *ev.Media)
}

func filenameOf(ref *upstream.MediaRef) string {
	if ref.Filename != "" {
		return path.Base(ref.Filename)
	}
	return "download"
}

// withTimestamp applies spec §4.8's timestamp rule: within ±10s of now,
// no prefix; older than 10s but within 12h (and not in the future),
// "HH:MM:SS"; otherwise (more than 12h old, or any time in the future)
// the full "YYYY-MM-DD HH:MM:SS" form.
func (tr *Translator) withTimestamp(ts time.Time, body string) string {
	if ts.IsZero() {
		return body
	}
	now := tr.now()
	delta := now.Sub(ts)
	if delta >= -10*time.Second && delta <= 10*time.Second {
		return body
	}
	local := ts.Local()
	if delta < 0 || delta > 12*time.Hour {
		return fmt.Sprintf("[%s] %s", local.Format("2006-01-02 15:04:05"), body)
	}
	return fmt.Sprintf("[%s] %s", local.Format("15:04:05"), body)
}

// deliverReaction renders "<Reacted to <original>>: <reaction>", where
// <reaction> is Event.Reaction as given; no emoji name is looked up or
// appended. It resolves the original line from the recent-message cache and falling
// back to an upstream re-fetch when it has been evicted (spec §4.8).
func (tr *Translator) deliverReaction(ctx context.Context, h *mapping.RoomHandler, ev upstream.Event) error {
	original, at, err := tr.resolveOriginal(ctx, h, ev.RelatesTo)
	if err != nil {
		return err
	}
	body := fmt.Sprintf("<Reacted to %s>: %s", tr.withTimestamp(at, original), ev.Reaction)
	tr.deliverBody(h, ev, "NOTICE", body)
	return nil
}

// deliverRedaction renders "<Redacted <original>>: <reason>" the same
// way (spec §4.8).
func (tr *Translator) deliverRedaction(ctx context.Context, h *mapping.RoomHandler, ev upstream.Event) error {
	original, at, err := tr.resolveOriginal(ctx, h, ev.RelatesTo)
	if err != nil {
		return err
	}
	body := fmt.Sprintf("<Redacted %s>: %s", tr.withTimestamp(at, original), ev.Reason)
	tr.deliverBody(h, ev, "NOTICE", body)
	return nil
}

func (tr *Translator) resolveOriginal(ctx context.Context, h *mapping.RoomHandler, relatesTo string) (text string, at time.Time, err error) {
	if relatesTo == "" {
		return "<unknown message>", time.Time{}, nil
	}
	if entry, ok := tr.cache.Get(relatesTo); ok {
		return entry.Text, entry.At, nil
	}
	room := h.Room()
	if room == nil {
		return "<unknown message>", time.Time{}, nil
	}
	orig, err := room.FetchEvent(ctx, relatesTo)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("translate: fetch original event %s: %w", relatesTo, err)
	}
	return orig.Body, orig.ServerTS, nil
}

// downloadEncrypted streams ref's decrypted bytes into cfg.Dir and
// returns the externally reachable URL to it: the filename is the
// trailing path segment, percent-encoded in the URL, and the file is
// written with mode 0644, replacing any file of the same name.
func downloadEncrypted(ctx context.Context, client downloader, cfg MediaConfig, ref upstream.MediaRef) (string, error) {
	if cfg.Dir == "" {
		return "", fmt.Errorf("translate: no media directory configured for encrypted media")
	}
	if err := os.MkdirAll(cfg.Dir, 0755); err != nil {
		return "", fmt.Errorf("translate: create media dir: %w", err)
	}

	name := filenameOf(&ref)
	dest := filepath.Join(cfg.Dir, name)

	rc, err := client.DownloadMedia(ctx, ref)
	if err != nil {
		return "", fmt.Errorf("translate: download media: %w", err)
	}
	defer rc.Close()

	f, err := os.OpenFile(dest, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return "", fmt.Errorf("translate: create %s: %w", dest, err)
	}
	defer f.Close()
	if _, err := io.Copy(f, rc); err != nil {
		return "", fmt.Errorf("translate: write %s: %w", dest, err)
	}

	return cfg.URL + "/" + url.PathEscape(name), nil
}

type downloader interface {
	DownloadMedia(ctx context.Context, ref upstream.MediaRef) (io.ReadCloser, error)
}
