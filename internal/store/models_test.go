package store

import (
	"encoding/json"
	"testing"
	"time"

	"jestbook/api/internal/lifecycle"
)

func TestJokeSnapshotRoundTrip(t *testing.T) {
	now := time.Now()
	row := Joke{
		ID:          "joke_1",
		SourceID:    "src_1",
		Rev:         3,
		Title:       "the window pane",
		Status:      "transcription-verified",
		Coordinates: lifecycle.Box{Left: 10, Top: 20, Right: 110, Bottom: 80},
		Transcriptions: map[string]json.RawMessage{
			"final":  json.RawMessage(`{"type":"doc"}`),
			"user_9": json.RawMessage(`{"type":"doc"}`),
		},
		Categories: []string{"puns"},
		Activity: lifecycle.Activity{
			Extracted: &lifecycle.ActivityRecord{User: "user_9", At: now},
		},
	}

	snap := row.Snapshot()
	if snap.ID != row.ID || snap.Rev != 3 || snap.Status != lifecycle.Status("transcription-verified") {
		t.Fatalf("snapshot mismatch: %+v", snap)
	}
	if len(snap.Transcriptions) != 2 {
		t.Fatalf("expected 2 transcriptions, got %d", len(snap.Transcriptions))
	}

	// Mutating the snapshot must not reach back into the row.
	snap.Transcriptions["final"] = json.RawMessage(`{}`)
	snap.Categories[0] = "changed"
	if string(row.Transcriptions["final"]) != `{"type":"doc"}` || row.Categories[0] != "puns" {
		t.Fatal("snapshot shares memory with the row")
	}

	snap.Status = lifecycle.StatusPublished
	var updated Joke
	updated.ID = row.ID
	updated.SourceID = row.SourceID
	updated.Rev = row.Rev
	updated.FromSnapshot(snap)
	if updated.Status != "published" {
		t.Fatalf("expected published, got %s", updated.Status)
	}
	if len(updated.Transcriptions) != 2 {
		t.Fatalf("expected transcriptions carried over, got %d", len(updated.Transcriptions))
	}
}
