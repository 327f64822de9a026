// Package lifecycle implements the joke curation workflow: the state machine
// that moves a joke from first extraction through transcription, verification,
// annotation and publication, together with the per-transition authorization
// rules, the activity audit trail, and the asynchronous side effects each
// transition triggers. The engine is pure: it receives a snapshot, returns a
// replacement snapshot, and performs no I/O beyond an optional source-image
// read used to validate crop coordinates.
package lifecycle

import (
	"encoding/json"
	"time"
)

// Transcription map keys with reserved meaning. Any other key is the user id
// of the contributor who submitted that personal draft.
const (
	TranscriptionAuto      = "auto"
	TranscriptionFinal     = "final"
	TranscriptionAnnotated = "annotated"
)

// Box is an axis-aligned crop region within a source scan, in pixels.
type Box struct {
	Left   int `json:"left"`
	Top    int `json:"top"`
	Right  int `json:"right"`
	Bottom int `json:"bottom"`
}

// Valid reports whether the box is well formed (non-negative, non-empty).
func (b Box) Valid() bool {
	return b.Left >= 0 && b.Top >= 0 && b.Right > b.Left && b.Bottom > b.Top
}

// Within reports whether the box fits inside an image of the given size.
func (b Box) Within(width, height int) bool {
	return b.Right <= width && b.Bottom <= height
}

// ActivityRecord is one audit entry: who performed a transition and when.
type ActivityRecord struct {
	User string    `json:"user"`
	At   time.Time `json:"at"`
}

// Activity is the per-joke audit log, keyed by transition name. Transcribed
// and Annotated accumulate one entry per distinct contributing user; the other
// slots hold the single actor who performed the transition.
type Activity struct {
	Extracted             *ActivityRecord  `json:"extracted,omitempty"`
	ExtractionVerified    *ActivityRecord  `json:"extraction-verified,omitempty"`
	Transcribed           []ActivityRecord `json:"transcribed,omitempty"`
	TranscriptionVerified *ActivityRecord  `json:"transcription-verified,omitempty"`
	CategoryVerified      *ActivityRecord  `json:"category-verified,omitempty"`
	Annotated             []ActivityRecord `json:"annotated,omitempty"`
	AnnotationVerified    *ActivityRecord  `json:"annotation-verified,omitempty"`
	Published             *ActivityRecord  `json:"published,omitempty"`
}

func (a Activity) clone() Activity {
	out := a
	out.Transcribed = append([]ActivityRecord(nil), a.Transcribed...)
	out.Annotated = append([]ActivityRecord(nil), a.Annotated...)
	copyRecord := func(r *ActivityRecord) *ActivityRecord {
		if r == nil {
			return nil
		}
		c := *r
		return &c
	}
	out.Extracted = copyRecord(a.Extracted)
	out.ExtractionVerified = copyRecord(a.ExtractionVerified)
	out.TranscriptionVerified = copyRecord(a.TranscriptionVerified)
	out.CategoryVerified = copyRecord(a.CategoryVerified)
	out.AnnotationVerified = copyRecord(a.AnnotationVerified)
	out.Published = copyRecord(a.Published)
	return out
}

// hasUser reports whether the record slice contains an entry for the user.
func hasUser(records []ActivityRecord, userID string) bool {
	for _, r := range records {
		if r.User == userID {
			return true
		}
	}
	return false
}

// JokeSnapshot is an immutable point-in-time view of a joke document. The
// engine never mutates the snapshot it is handed; it returns a fresh one.
type JokeSnapshot struct {
	ID             string                     `json:"id"`
	SourceID       string                     `json:"sourceId"`
	Rev            int64                      `json:"rev"`
	Title          string                     `json:"title"`
	Status         Status                     `json:"status"`
	Coordinates    Box                        `json:"coordinates"`
	Transcriptions map[string]json.RawMessage `json:"transcriptions,omitempty"`
	Categories     []string                   `json:"categories,omitempty"`
	Activity       Activity                   `json:"activity"`
}

// UntitledTitle is the sentinel title assigned at extraction.
const UntitledTitle = "untitled"

// Clone returns a deep copy of the snapshot.
func (j JokeSnapshot) Clone() JokeSnapshot {
	out := j
	out.Categories = append([]string(nil), j.Categories...)
	out.Activity = j.Activity.clone()
	if j.Transcriptions != nil {
		out.Transcriptions = make(map[string]json.RawMessage, len(j.Transcriptions))
		for k, v := range j.Transcriptions {
			out.Transcriptions[k] = append(json.RawMessage(nil), v...)
		}
	}
	return out
}

// Actor identifies the user applying a batch of actions. An empty UserID is an
// anonymous caller; Groups is the role set supplied by the auth layer.
type Actor struct {
	UserID string
	Groups []string
}

// Anonymous reports whether the actor is not logged in.
func (a Actor) Anonymous() bool { return a.UserID == "" }

// ActivityEntry is one element of the activity delta returned per invocation.
type ActivityEntry struct {
	Transition string    `json:"transition"`
	User       string    `json:"user"`
	At         time.Time `json:"at"`
}

// Topic names the asynchronous work a dispatch request asks for.
type Topic string

const (
	TopicOCR        Topic = "ocr"
	TopicCategorise Topic = "categorise"
	TopicPublish    Topic = "publish"
)

// DispatchRequest is a fire-and-forget work request emitted by the engine.
// The engine only returns these; publishing them is the caller's concern.
type DispatchRequest struct {
	Topic  Topic  `json:"topic"`
	JokeID string `json:"jokeId"`
}

// Result is the outcome of a successful ApplyActions invocation.
type Result struct {
	Joke       JokeSnapshot
	Activity   []ActivityEntry
	Dispatches []DispatchRequest
}
