package store

import (
	"encoding/json"
	"time"

	"jestbook/api/internal/lifecycle"
)

type User struct {
	ID                    string
	DisplayName           string
	Email                 string
	PasswordHash          string
	Groups                []string
	IsEmailVerified       bool
	VerificationToken     string
	VerificationExpiresAt *time.Time
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

// Source is one scanned page contributed by a provider. The image bytes live
// in object storage under ObjectKey; the row carries the catalogue metadata.
type Source struct {
	ID          string
	Title       string
	Publication string
	ObjectKey   string
	ContentType string
	Width       int
	Height      int
	UploadedBy  string
	CreatedAt   time.Time
}

// Joke is the persisted form of a joke document. Coordinates, transcriptions,
// categories and activity are stored as JSONB; Rev guards concurrent writes.
type Joke struct {
	ID             string
	SourceID       string
	Rev            int64
	Title          string
	Status         string
	Coordinates    lifecycle.Box
	Transcriptions map[string]json.RawMessage
	Categories     []string
	Activity       lifecycle.Activity
	SearchText     string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Snapshot converts the row into the engine's input form.
func (j Joke) Snapshot() lifecycle.JokeSnapshot {
	snap := lifecycle.JokeSnapshot{
		ID:          j.ID,
		SourceID:    j.SourceID,
		Rev:         j.Rev,
		Title:       j.Title,
		Status:      lifecycle.Status(j.Status),
		Coordinates: j.Coordinates,
		Categories:  append([]string(nil), j.Categories...),
		Activity:    j.Activity,
	}
	if len(j.Transcriptions) > 0 {
		snap.Transcriptions = make(map[string]json.RawMessage, len(j.Transcriptions))
		for k, v := range j.Transcriptions {
			snap.Transcriptions[k] = append(json.RawMessage(nil), v...)
		}
	}
	return snap
}

// FromSnapshot folds an engine output back into the row for persistence. The
// row keeps its timestamps; the revision check happens at update time.
func (j *Joke) FromSnapshot(snap lifecycle.JokeSnapshot) {
	j.Title = snap.Title
	j.Status = string(snap.Status)
	j.Coordinates = snap.Coordinates
	j.Categories = append([]string(nil), snap.Categories...)
	j.Activity = snap.Activity
	j.Transcriptions = make(map[string]json.RawMessage, len(snap.Transcriptions))
	for k, v := range snap.Transcriptions {
		j.Transcriptions[k] = append(json.RawMessage(nil), v...)
	}
}

// JokeFilter narrows ListJokes.
type JokeFilter struct {
	SourceID string
	Status   string
	Category string
	Limit    int
	Offset   int
}
