package ocr

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestRecognize(t *testing.T) {
	var gotImage string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/recognize" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		var req struct {
			Image string `json:"image"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		gotImage = req.Image
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"text":"  Why do birds fly south?\n","confidence":0.92}`))
	}))
	defer server.Close()

	client := NewClient(server.URL, time.Second)
	text, err := client.Recognize(context.Background(), []byte("fake-png-bytes"))
	if err != nil {
		t.Fatalf("Recognize failed: %v", err)
	}
	if text != "Why do birds fly south?" {
		t.Fatalf("unexpected text %q", text)
	}
	if gotImage != base64.StdEncoding.EncodeToString([]byte("fake-png-bytes")) {
		t.Fatal("crop was not sent base64 encoded")
	}
}

func TestRecognizeErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "engine crashed", http.StatusInternalServerError)
	}))
	defer server.Close()

	client := NewClient(server.URL, time.Second)
	if _, err := client.Recognize(context.Background(), []byte("x")); err == nil {
		t.Fatal("expected error for non-200 response")
	}
}

func TestRecognizeEmptyCrop(t *testing.T) {
	client := NewClient("http://localhost:0", time.Second)
	if _, err := client.Recognize(context.Background(), nil); err == nil {
		t.Fatal("expected error for empty crop")
	}
}

func TestDocumentWrapsLines(t *testing.T) {
	raw := Document("line one\n\nline two")
	var doc struct {
		Type    string `json:"type"`
		Content []struct {
			Type    string `json:"type"`
			Content []struct {
				Text string `json:"text"`
			} `json:"content"`
		} `json:"content"`
	}
	if err := json.Unmarshal(raw, &doc); err != nil {
		t.Fatalf("Document produced invalid JSON: %v", err)
	}
	if doc.Type != "doc" || len(doc.Content) != 3 {
		t.Fatalf("expected doc with 3 paragraphs, got %+v", doc)
	}
	if doc.Content[0].Content[0].Text != "line one" {
		t.Fatalf("unexpected first paragraph: %+v", doc.Content[0])
	}
	if len(doc.Content[1].Content) != 0 {
		t.Fatal("blank line should yield an empty paragraph")
	}
}

func TestDocumentEmptyText(t *testing.T) {
	raw := Document("")
	if !json.Valid(raw) {
		t.Fatal("expected valid JSON for empty text")
	}
}
