package lifecycle

import "encoding/json"

// Kind discriminates the proposed actions a caller may submit.
type Kind string

const (
	KindSetCoordinates           Kind = "coordinates"
	KindSetTranscription         Kind = "transcription"
	KindSetVerifiedTranscription Kind = "verified_transcription"
	KindSetCategories            Kind = "categories"
	KindSetAnnotation            Kind = "annotated"
	KindSetStatus                Kind = "status"
)

// Action is one proposed change in an ordered batch. Exactly the fields
// relevant to its Kind are set; the rest are zero.
type Action struct {
	Kind        Kind            `json:"kind"`
	Coordinates *Box            `json:"coordinates,omitempty"`
	Document    json.RawMessage `json:"document,omitempty"`
	Categories  []string        `json:"categories,omitempty"`
	Status      Status          `json:"status,omitempty"`
}

// SetCoordinates proposes a new crop region.
func SetCoordinates(b Box) Action {
	return Action{Kind: KindSetCoordinates, Coordinates: &b}
}

// SetTranscription proposes the actor's personal draft transcription.
func SetTranscription(doc json.RawMessage) Action {
	return Action{Kind: KindSetTranscription, Document: doc}
}

// SetVerifiedTranscription proposes the editor-accepted final transcription.
func SetVerifiedTranscription(doc json.RawMessage) Action {
	return Action{Kind: KindSetVerifiedTranscription, Document: doc}
}

// SetCategories proposes the category label list, order preserved.
func SetCategories(categories []string) Action {
	return Action{Kind: KindSetCategories, Categories: categories}
}

// SetAnnotation proposes the actor's annotated transcription document.
func SetAnnotation(doc json.RawMessage) Action {
	return Action{Kind: KindSetAnnotation, Document: doc}
}

// SetStatus proposes a direct status transition.
func SetStatus(s Status) Action {
	return Action{Kind: KindSetStatus, Status: s}
}
