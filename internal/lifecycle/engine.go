package lifecycle

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"time"

	_ "image/jpeg"
	_ "image/png"

	"jestbook/api/internal/rbac"
)

// SourceFetcher loads the scanned image a joke was extracted from. The engine
// uses it only to validate coordinate changes; the bytes are otherwise opaque.
type SourceFetcher interface {
	FetchSourceImage(ctx context.Context, sourceID string) ([]byte, error)
}

// Engine applies ordered action batches to joke snapshots. It holds no state
// between invocations and is safe for concurrent use; callers serialize writes
// per joke through the store's revision check and retry on conflict.
type Engine struct {
	sources SourceFetcher
	now     func() time.Time
}

func NewEngine(sources SourceFetcher) *Engine {
	return &Engine{sources: sources, now: time.Now}
}

// NewEngineAt is NewEngine with an injected clock, for tests.
func NewEngineAt(sources SourceFetcher, now func() time.Time) *Engine {
	return &Engine{sources: sources, now: now}
}

// ApplyActions evaluates the batch in order against a copy of the snapshot.
// Each action independently succeeds or is a no-op; the first rejection aborts
// the whole batch, so callers observe either the full new snapshot or none.
func (e *Engine) ApplyActions(ctx context.Context, joke JokeSnapshot, actions []Action, actor Actor) (Result, error) {
	next := joke.Clone()
	if next.Transcriptions == nil {
		next.Transcriptions = make(map[string]json.RawMessage)
	}

	run := &invocation{engine: e}
	for _, action := range actions {
		var err error
		switch action.Kind {
		case KindSetCoordinates:
			err = run.applyCoordinates(ctx, &next, action.Coordinates, actor)
		case KindSetTranscription:
			err = run.applyTranscription(&next, action.Document, actor)
		case KindSetVerifiedTranscription:
			err = run.applyVerifiedTranscription(&next, action.Document, actor)
		case KindSetCategories:
			err = run.applyCategories(&next, action.Categories, actor)
		case KindSetAnnotation:
			err = run.applyAnnotation(&next, action.Document, actor)
		case KindSetStatus:
			err = run.applyStatus(&next, action.Status, actor)
		default:
			err = reject(ReasonInvalidInput, "unknown action kind %q", action.Kind)
		}
		if err != nil {
			return Result{}, err
		}
	}

	return Result{Joke: next, Activity: run.delta, Dispatches: run.dispatches}, nil
}

// invocation accumulates the outputs of one ApplyActions call.
type invocation struct {
	engine     *Engine
	delta      []ActivityEntry
	dispatches []DispatchRequest
}

func (r *invocation) record(transition string, actor Actor) ActivityRecord {
	entry := ActivityRecord{User: actor.UserID, At: r.engine.now()}
	r.delta = append(r.delta, ActivityEntry{Transition: transition, User: entry.User, At: entry.At})
	return entry
}

func (r *invocation) dispatch(topic Topic, jokeID string) {
	for _, d := range r.dispatches {
		if d.Topic == topic && d.JokeID == jokeID {
			return
		}
	}
	r.dispatches = append(r.dispatches, DispatchRequest{Topic: topic, JokeID: jokeID})
}

// applyCoordinates re-crops the joke. A coordinate change invalidates derived
// work: the machine transcription is dropped, the status reverts to the
// extraction stage, and OCR is re-requested.
func (r *invocation) applyCoordinates(ctx context.Context, next *JokeSnapshot, box *Box, actor Actor) error {
	if box == nil || !box.Valid() {
		return reject(ReasonInvalidCoordinates, "coordinates must form a non-empty box")
	}
	if actor.Anonymous() {
		return reject(ReasonForbidden, "coordinate changes require a logged-in user")
	}

	privileged := rbac.Privileged(actor.Groups)
	if !privileged {
		if next.Status != StatusExtracted && next.Status != StatusExtractionVerified {
			return reject(ReasonForbidden, "coordinates are frozen once the extraction is verified and transcribed")
		}
		if next.Activity.Extracted == nil || next.Activity.Extracted.User != actor.UserID {
			return reject(ReasonForbidden, "only the original extractor may adjust an unverified crop")
		}
	}

	imageData, err := r.engine.sources.FetchSourceImage(ctx, next.SourceID)
	if err != nil {
		return reject(ReasonNotFound, "source %s: %v", next.SourceID, err)
	}
	if cfg, _, err := image.DecodeConfig(bytes.NewReader(imageData)); err == nil {
		if !box.Within(cfg.Width, cfg.Height) {
			return reject(ReasonInvalidCoordinates, "box exceeds source bounds %dx%d", cfg.Width, cfg.Height)
		}
	}

	next.Coordinates = *box
	delete(next.Transcriptions, TranscriptionAuto)
	if privileged {
		next.Status = StatusExtractionVerified
		rec := r.record(string(StatusExtractionVerified), actor)
		next.Activity.ExtractionVerified = &rec
	} else {
		next.Status = StatusExtracted
		rec := r.record(string(StatusExtracted), actor)
		next.Activity.Extracted = &rec
	}
	r.dispatch(TopicOCR, next.ID)
	return nil
}

// applyTranscription stores the actor's personal draft. A user who already
// advanced this joke past the transcription stage may not also contribute a
// draft for it.
func (r *invocation) applyTranscription(next *JokeSnapshot, doc json.RawMessage, actor Actor) error {
	if actor.Anonymous() {
		return reject(ReasonForbidden, "transcriptions require a logged-in user")
	}
	if err := validateDocument(doc); err != nil {
		return err
	}
	if conflicting := next.Activity.conflictingTranscriber(actor.UserID); conflicting != "" {
		return reject(ReasonSeparationOfDuties, "user already performed %s on this joke", conflicting)
	}

	next.Transcriptions[actor.UserID] = append(json.RawMessage(nil), doc...)
	entry := ActivityRecord{User: actor.UserID, At: r.engine.now()}
	updated := false
	for i := range next.Activity.Transcribed {
		if next.Activity.Transcribed[i].User == actor.UserID {
			next.Activity.Transcribed[i].At = entry.At
			updated = true
			break
		}
	}
	if !updated {
		next.Activity.Transcribed = append(next.Activity.Transcribed, entry)
	}
	r.delta = append(r.delta, ActivityEntry{Transition: "transcribed", User: entry.User, At: entry.At})
	next.Status = advance(next.Status, StatusAutoTranscribed)
	return nil
}

// conflictingTranscriber names the activity that disqualifies the user from
// submitting a personal transcription, or empty if none.
func (a Activity) conflictingTranscriber(userID string) string {
	if a.Extracted != nil && a.Extracted.User == userID {
		return string(StatusExtracted)
	}
	if a.ExtractionVerified != nil && a.ExtractionVerified.User == userID {
		return string(StatusExtractionVerified)
	}
	if a.TranscriptionVerified != nil && a.TranscriptionVerified.User == userID {
		return string(StatusTranscriptionVerified)
	}
	return ""
}

func (r *invocation) applyVerifiedTranscription(next *JokeSnapshot, doc json.RawMessage, actor Actor) error {
	if actor.Anonymous() || !rbac.Privileged(actor.Groups) {
		return reject(ReasonForbidden, "only editors may accept a final transcription")
	}
	if err := validateDocument(doc); err != nil {
		return err
	}

	next.Transcriptions[TranscriptionFinal] = append(json.RawMessage(nil), doc...)
	rec := r.record(string(StatusTranscriptionVerified), actor)
	next.Activity.TranscriptionVerified = &rec
	next.Status = advance(next.Status, StatusTranscriptionVerified)
	r.dispatch(TopicCategorise, next.ID)
	return nil
}

// applyCategories accepts the label list as given. The first verifier's
// identity is retained; later category edits still apply but never overwrite
// the recorded verifier.
func (r *invocation) applyCategories(next *JokeSnapshot, categories []string, actor Actor) error {
	if actor.Anonymous() {
		return reject(ReasonForbidden, "categories require a logged-in user")
	}
	if !next.Status.AtLeast(StatusTranscriptionVerified) {
		return reject(ReasonInvalidInput, "categories need a verified transcription first")
	}

	next.Categories = append([]string(nil), categories...)
	if next.Activity.CategoryVerified == nil {
		rec := r.record(string(StatusCategoryVerified), actor)
		next.Activity.CategoryVerified = &rec
	}
	next.Status = advance(next.Status, StatusCategoryVerified)
	return nil
}

// applyAnnotation stores the actor's annotated document. Editors additionally
// set the shared annotated transcription, and may finalize the annotated
// status by pairing this with a status action in the same batch.
func (r *invocation) applyAnnotation(next *JokeSnapshot, doc json.RawMessage, actor Actor) error {
	if actor.Anonymous() {
		return reject(ReasonForbidden, "annotations require a logged-in user")
	}
	if err := validateDocument(doc); err != nil {
		return err
	}

	next.Transcriptions[actor.UserID] = append(json.RawMessage(nil), doc...)
	if rbac.Privileged(actor.Groups) {
		next.Transcriptions[TranscriptionAnnotated] = append(json.RawMessage(nil), doc...)
	}

	entry := ActivityRecord{User: actor.UserID, At: r.engine.now()}
	updated := false
	for i := range next.Activity.Annotated {
		if next.Activity.Annotated[i].User == actor.UserID {
			next.Activity.Annotated[i].At = entry.At
			updated = true
			break
		}
	}
	if !updated {
		next.Activity.Annotated = append(next.Activity.Annotated, entry)
	}
	r.delta = append(r.delta, ActivityEntry{Transition: "annotated", User: entry.User, At: entry.At})
	next.Status = advance(next.Status, StatusCategoryVerified)
	return nil
}

func (r *invocation) applyStatus(next *JokeSnapshot, status Status, actor Actor) error {
	if actor.Anonymous() {
		return reject(ReasonForbidden, "status changes require a logged-in user")
	}
	if !status.Known() {
		return reject(ReasonInvalidInput, "unknown status %q", status)
	}
	privileged := rbac.Privileged(actor.Groups)

	switch status {
	case StatusExtractionVerified:
		if next.Status.AtLeast(StatusExtractionVerified) {
			return nil
		}
		if !privileged && next.Activity.Extracted != nil && next.Activity.Extracted.User == actor.UserID {
			return reject(ReasonSeparationOfDuties, "extractor may not verify their own extraction")
		}
		rec := r.record(string(StatusExtractionVerified), actor)
		next.Activity.ExtractionVerified = &rec
		next.Status = StatusExtractionVerified
		return nil

	case StatusTranscribed:
		if !hasPersonalTranscription(next.Transcriptions) {
			return reject(ReasonInvalidInput, "no personal transcription recorded yet")
		}
		next.Status = advance(next.Status, StatusTranscribed)
		return nil

	case StatusAnnotated:
		if !privileged {
			return reject(ReasonForbidden, "only editors may finalize the annotated status")
		}
		if _, ok := next.Transcriptions[TranscriptionAnnotated]; !ok {
			return reject(ReasonInvalidInput, "no annotated transcription to finalize")
		}
		next.Status = advance(next.Status, StatusAnnotated)
		return nil

	case StatusAnnotationVerified:
		if !next.Status.AtLeast(StatusAnnotated) {
			return reject(ReasonInvalidInput, "joke has not been annotated")
		}
		if !privileged && hasUser(next.Activity.Annotated, actor.UserID) {
			return reject(ReasonSeparationOfDuties, "annotator may not verify their own annotation")
		}
		if next.Status.AtLeast(StatusAnnotationVerified) {
			return nil
		}
		rec := r.record(string(StatusAnnotationVerified), actor)
		next.Activity.AnnotationVerified = &rec
		next.Status = StatusAnnotationVerified
		return nil

	case StatusPublished:
		if !privileged {
			return reject(ReasonForbidden, "only editors may publish")
		}
		if _, ok := next.Transcriptions[TranscriptionFinal]; !ok {
			return reject(ReasonInvalidInput, "publishing requires a final transcription")
		}
		if next.Status == StatusPublished {
			return nil
		}
		rec := r.record(string(StatusPublished), actor)
		next.Activity.Published = &rec
		next.Status = StatusPublished
		r.dispatch(TopicPublish, next.ID)
		return nil

	default:
		// extracted, auto-transcribed, transcription-verified and
		// category-verified are reached through their own actions.
		return reject(ReasonInvalidInput, "status %q cannot be set directly", status)
	}
}

func hasPersonalTranscription(transcriptions map[string]json.RawMessage) bool {
	for key := range transcriptions {
		switch key {
		case TranscriptionAuto, TranscriptionFinal, TranscriptionAnnotated:
		default:
			return true
		}
	}
	return false
}

func validateDocument(doc json.RawMessage) error {
	if len(doc) == 0 {
		return reject(ReasonInvalidInput, "empty document")
	}
	if !json.Valid(doc) {
		return reject(ReasonInvalidInput, "document is not valid JSON")
	}
	return nil
}
