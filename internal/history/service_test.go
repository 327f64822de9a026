package history

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
)

func TestJokeRepoLifecycle(t *testing.T) {
	tempDir := t.TempDir()
	svc := New(tempDir)

	initial := Content{
		Title:       "untitled",
		Status:      "extracted",
		Coordinates: json.RawMessage(`{"left":10,"top":10,"right":200,"bottom":80}`),
	}

	if err := svc.EnsureJokeRepo("joke-1", initial, "Avery"); err != nil {
		t.Fatalf("EnsureJokeRepo() error = %v", err)
	}
	if _, err := os.Stat(filepath.Join(tempDir, "joke-1")); err != nil {
		t.Fatalf("repo directory missing: %v", err)
	}

	// Re-ensuring is a no-op.
	if err := svc.EnsureJokeRepo("joke-1", initial, "Avery"); err != nil {
		t.Fatalf("second EnsureJokeRepo() error = %v", err)
	}

	updated := initial
	updated.Status = "auto-transcribed"
	updated.Transcriptions = map[string]json.RawMessage{
		"auto": json.RawMessage(`{"type":"doc","content":[{"type":"paragraph"}]}`),
	}
	commit, err := svc.Commit("joke-1", updated, "Avery", "Machine transcription")
	if err != nil {
		t.Fatalf("Commit() error = %v", err)
	}
	if commit.Hash == "" {
		t.Fatal("expected commit hash")
	}

	history, err := svc.History("joke-1", 10)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("expected 2 history entries, got %d", len(history))
	}
	if history[0].Message != "Machine transcription" {
		t.Fatalf("expected newest commit first, got %q", history[0].Message)
	}

	head, headCommit, err := svc.Head("joke-1")
	if err != nil {
		t.Fatalf("Head() error = %v", err)
	}
	if head.Status != "auto-transcribed" {
		t.Fatalf("unexpected head content: %+v", head)
	}
	if headCommit.Hash != commit.Hash {
		t.Fatalf("expected head commit %s, got %s", commit.Hash, headCommit.Hash)
	}

	past, err := svc.GetContentByHash("joke-1", commit.Hash)
	if err != nil {
		t.Fatalf("GetContentByHash() error = %v", err)
	}
	if past.Status != "auto-transcribed" {
		t.Fatalf("unexpected content at hash: %+v", past)
	}
}

func TestHistoryLimit(t *testing.T) {
	tempDir := t.TempDir()
	svc := New(tempDir)

	if err := svc.EnsureJokeRepo("joke-2", Content{Title: "untitled", Status: "extracted"}, "Avery"); err != nil {
		t.Fatalf("EnsureJokeRepo() error = %v", err)
	}
	for i := 0; i < 5; i++ {
		content := Content{Title: fmt.Sprintf("title %d", i), Status: "extracted"}
		if _, err := svc.Commit("joke-2", content, "Avery", fmt.Sprintf("Edit %d", i)); err != nil {
			t.Fatalf("Commit() error = %v", err)
		}
	}

	history, err := svc.History("joke-2", 3)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(history) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(history))
	}
}

func TestConcurrentCommitsSameJoke(t *testing.T) {
	tempDir := t.TempDir()
	svc := New(tempDir)

	if err := svc.EnsureJokeRepo("joke-3", Content{Title: "untitled", Status: "extracted"}, "Avery"); err != nil {
		t.Fatalf("EnsureJokeRepo() error = %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			content := Content{Title: fmt.Sprintf("title %d", i), Status: "extracted"}
			if _, err := svc.Commit("joke-3", content, "Avery", fmt.Sprintf("Edit %d", i)); err != nil {
				t.Errorf("Commit() error = %v", err)
			}
		}(i)
	}
	wg.Wait()

	history, err := svc.History("joke-3", 0)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(history) != 5 {
		t.Fatalf("expected 5 commits (baseline plus 4), got %d", len(history))
	}
}
