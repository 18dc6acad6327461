// Package stream turns workflow events into the fragments a client
// renders: assistant text, the summary review marker, and a terminal error.
package stream

import (
	"encoding/json"
	"iter"
	"log/slog"
	"strings"

	"github.com/randalmurphal/medconsult/pkg/consult"
	"github.com/randalmurphal/medconsult/pkg/flowgraph"
)

// Kind classifies a fragment.
type Kind string

// Fragment kinds.
const (
	KindText      Kind = "text"
	KindInterrupt Kind = "interrupt"
	KindError     Kind = "error"
)

// ReviewDelimiter frames the JSON review request inside an interrupt
// fragment's text.
const ReviewDelimiter = "\x1eREVIEW\x1e"

// ErrorMessage is the only failure text shown to clients.
const ErrorMessage = "Sorry, something went wrong while handling your message. Please try again."

// Fragment is one piece of output for the client.
type Fragment struct {
	Kind Kind   `json:"kind"`
	Text string `json:"text"`
	// Review is set on interrupt fragments.
	Review *consult.ReviewRequest `json:"review,omitempty"`
}

// Option configures Adapt.
type Option func(*adapter)

type adapter struct {
	logger    *slog.Logger
	sessionID string
}

// WithLogger sets where failures are logged.
func WithLogger(logger *slog.Logger) Option {
	return func(a *adapter) {
		if logger != nil {
			a.logger = logger
		}
	}
}

// WithSessionID tags logged failures with the session.
func WithSessionID(id string) Option {
	return func(a *adapter) {
		a.sessionID = id
	}
}

// Adapt maps a workflow event stream to fragments. Every new plain
// assistant message becomes one text fragment; a suspension becomes one
// interrupt fragment; the first error becomes one error fragment with a
// generic text and ends the stream. Error details only reach the log.
func Adapt(events iter.Seq2[flowgraph.Event[consult.Update], error], opts ...Option) iter.Seq[Fragment] {
	a := &adapter{logger: slog.Default()}
	for _, opt := range opts {
		opt(a)
	}

	return func(yield func(Fragment) bool) {
		for ev, err := range events {
			if err != nil {
				a.fail(err)
				yield(Fragment{Kind: KindError, Text: ErrorMessage})
				return
			}

			if ev.Interrupted() {
				review, err := consult.ReviewFromInterrupt(ev.Interrupt)
				if err != nil {
					a.fail(err)
					yield(Fragment{Kind: KindError, Text: ErrorMessage})
					return
				}
				if !yield(Interrupt(review)) {
					return
				}
				continue
			}

			for _, text := range ev.Update.AssistantText() {
				if !yield(Fragment{Kind: KindText, Text: text}) {
					return
				}
			}
		}
	}
}

func (a *adapter) fail(err error) {
	attrs := []any{slog.String("error", err.Error())}
	if a.sessionID != "" {
		attrs = append(attrs, slog.String("session_id", a.sessionID))
	}
	a.logger.Error("consultation turn failed", attrs...)
}

// Interrupt builds the marker fragment for a review request.
func Interrupt(review consult.ReviewRequest) Fragment {
	payload, _ := json.Marshal(review)
	return Fragment{
		Kind:   KindInterrupt,
		Text:   ReviewDelimiter + string(payload) + ReviewDelimiter,
		Review: &review,
	}
}

// ParseReview extracts the review request from text containing an
// interrupt marker.
func ParseReview(text string) (consult.ReviewRequest, bool) {
	var review consult.ReviewRequest

	_, after, found := strings.Cut(text, ReviewDelimiter)
	if !found {
		return review, false
	}
	payload, _, found := strings.Cut(after, ReviewDelimiter)
	if !found {
		return review, false
	}
	if err := json.Unmarshal([]byte(payload), &review); err != nil {
		return review, false
	}
	return review, true
}

// Result is a fully consumed fragment stream.
type Result struct {
	Texts  []string
	Review *consult.ReviewRequest
	Failed bool
}

// Collect consumes fragments into a Result.
func Collect(fragments iter.Seq[Fragment]) Result {
	var r Result
	for f := range fragments {
		switch f.Kind {
		case KindText:
			r.Texts = append(r.Texts, f.Text)
		case KindInterrupt:
			r.Review = f.Review
		case KindError:
			r.Failed = true
		}
	}
	return r
}
