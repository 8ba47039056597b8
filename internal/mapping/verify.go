package mapping

import (
	"context"
	"fmt"
	"strings"

	"github.com/martinetd/matrirc/internal/ircproto"
	"github.com/martinetd/matrirc/internal/upstream"
)

// VerifStep is one state of the device-verification dialog (spec §4.10).
type VerifStep int

const (
	ConfirmStart VerifStep = iota
	WaitingSas
	ConfirmEmoji
	WaitingDone
)

// VerifyHandler is the Handler variant for the `verif` dialog target
// (spec §4.10), grounded on original_source/src/matrix/verification.rs's
// VerificationContext state machine.
type VerifyHandler struct {
	target  *Target
	sink    IrcSink
	engine  *Engine
	request upstream.VerificationRequest
	sas     upstream.SAS
	step    VerifStep
	stopped bool
}

func newVerifyHandler(engine *Engine, sink IrcSink, req upstream.VerificationRequest) *VerifyHandler {
	return &VerifyHandler{engine: engine, sink: sink, request: req, step: ConfirmStart}
}

func (h *VerifyHandler) BindTarget(t *Target) { h.target = t }
func (h *VerifyHandler) Target() *Target      { return h.target }

func (h *VerifyHandler) sendLine(body string) {
	h.sink.Enqueue(ircproto.Notice(h.target.Name(), h.sink.Nick(), body))
}

// StartVerification registers a verification dialog target and prompts
// the client (spec §4.10, triggered from an EventVerificationRequest or
// an out-of-band to-device request).
func (e *Engine) StartVerification(sender upstream.UserID, req upstream.VerificationRequest) *VerifyHandler {
	var h *VerifyHandler
	e.InsertDeduped("verif", func(name string) Handler {
		h = newVerifyHandler(e, e.sink, req)
		return h
	})
	h.sendLine(fmt.Sprintf("Got a verification request from %s, accept? [yes/no]", sender))
	return h
}

func (h *VerifyHandler) HandleOutbound(ctx context.Context, kind upstream.EventKind, body string) error {
	switch h.step {
	case ConfirmStart:
		return h.handleConfirmStart(ctx, body)
	case ConfirmEmoji:
		return h.handleConfirmEmoji(ctx, body)
	default:
		h.sendLine("not expecting any message at this point")
		return nil
	}
}

func (h *VerifyHandler) handleConfirmStart(ctx context.Context, body string) error {
	switch body {
	case "yes":
		h.sendLine("Ok, starting...")
		h.step = WaitingSas
		if err := h.request.Accept(ctx); err != nil {
			h.sendLine(fmt.Sprintf("Error accepting verification: %v", err))
			h.stop()
			return nil
		}
		go h.listen(context.Background())
	case "no":
		h.sendLine("Ok, bye")
		h.stop()
	default:
		h.sendLine("Bad message, expecting yes or no")
	}
	return nil
}

func (h *VerifyHandler) handleConfirmEmoji(ctx context.Context, body string) error {
	switch body {
	case "yes":
		h.sendLine("Ok, accepting...")
		h.step = WaitingDone
		if h.sas != nil {
			if err := h.sas.Confirm(ctx); err != nil {
				h.sendLine(fmt.Sprintf("Error confirming: %v", err))
			}
		}
	case "no":
		h.sendLine("Ok, aborting")
		if h.sas != nil {
			_ = h.sas.Cancel(ctx)
		}
		h.stop()
	default:
		h.sendLine("Bad message, expecting yes or no")
	}
	return nil
}

// listen drains the verification request's state stream, advancing the
// dialog's step and emitting one line per transition (spec §4.10).
func (h *VerifyHandler) listen(ctx context.Context) {
	for state := range h.request.Changes(ctx) {
		switch {
		case state.Cancelled:
			h.sendLine(fmt.Sprintf("The verification has been cancelled, reason: %s", state.Reason))
			h.stop()
			return
		case state.Done:
			h.sendLine("Successfully verified device")
			h.stop()
			return
		case len(state.Emojis) > 0:
			h.sas = state.SAS
			h.step = ConfirmEmoji
			h.sendLine(fmt.Sprintf("Got the following emojis:\n%s\nOk? [yes/no]", formatEmojis(state.Emojis)))
		}
	}
}

func formatEmojis(emojis []upstream.Emoji) string {
	parts := make([]string, len(emojis))
	for i, e := range emojis {
		parts[i] = fmt.Sprintf("%s (%s)", e.Glyph, e.Name)
	}
	return strings.Join(parts, " ")
}

func (h *VerifyHandler) stop() {
	if h.stopped {
		return
	}
	h.stopped = true
	h.engine.RemoveTarget(h.target.Name())
}
