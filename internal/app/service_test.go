package app

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/png"
	"net/http"
	"strings"
	"testing"
	"time"

	"jestbook/api/internal/config"
	"jestbook/api/internal/export"
	"jestbook/api/internal/history"
	"jestbook/api/internal/lifecycle"
	"jestbook/api/internal/search"
	"jestbook/api/internal/store"
)

type fakeData struct {
	getUserByID        func(ctx context.Context, id string) (store.User, error)
	listUsers          func(ctx context.Context) ([]store.User, error)
	updateUserGroups   func(ctx context.Context, id string, groups []string) error
	insertSource       func(ctx context.Context, src store.Source) error
	getSource          func(ctx context.Context, id string) (store.Source, error)
	listSources        func(ctx context.Context) ([]store.Source, error)
	insertJoke         func(ctx context.Context, joke store.Joke) error
	getJoke            func(ctx context.Context, id string) (store.Joke, error)
	updateJoke         func(ctx context.Context, joke store.Joke) (store.Joke, error)
	deleteJoke         func(ctx context.Context, id string) error
	listJokes          func(ctx context.Context, f store.JokeFilter) ([]store.Joke, error)
	countJokesByStatus func(ctx context.Context) (map[string]int, error)
}

func (f *fakeData) GetUserByID(ctx context.Context, id string) (store.User, error) {
	if f.getUserByID == nil {
		return store.User{}, store.ErrNotFound
	}
	return f.getUserByID(ctx, id)
}

func (f *fakeData) ListUsers(ctx context.Context) ([]store.User, error) {
	if f.listUsers == nil {
		return nil, nil
	}
	return f.listUsers(ctx)
}

func (f *fakeData) UpdateUserGroups(ctx context.Context, id string, groups []string) error {
	if f.updateUserGroups == nil {
		return nil
	}
	return f.updateUserGroups(ctx, id, groups)
}

func (f *fakeData) InsertSource(ctx context.Context, src store.Source) error {
	if f.insertSource == nil {
		return nil
	}
	return f.insertSource(ctx, src)
}

func (f *fakeData) GetSource(ctx context.Context, id string) (store.Source, error) {
	if f.getSource == nil {
		return store.Source{}, store.ErrNotFound
	}
	return f.getSource(ctx, id)
}

func (f *fakeData) ListSources(ctx context.Context) ([]store.Source, error) {
	if f.listSources == nil {
		return nil, nil
	}
	return f.listSources(ctx)
}

func (f *fakeData) InsertJoke(ctx context.Context, joke store.Joke) error {
	if f.insertJoke == nil {
		return nil
	}
	return f.insertJoke(ctx, joke)
}

func (f *fakeData) GetJoke(ctx context.Context, id string) (store.Joke, error) {
	if f.getJoke == nil {
		return store.Joke{}, store.ErrNotFound
	}
	return f.getJoke(ctx, id)
}

func (f *fakeData) UpdateJoke(ctx context.Context, joke store.Joke) (store.Joke, error) {
	if f.updateJoke == nil {
		joke.Rev++
		return joke, nil
	}
	return f.updateJoke(ctx, joke)
}

func (f *fakeData) DeleteJoke(ctx context.Context, id string) error {
	if f.deleteJoke == nil {
		return nil
	}
	return f.deleteJoke(ctx, id)
}

func (f *fakeData) ListJokes(ctx context.Context, filter store.JokeFilter) ([]store.Joke, error) {
	if f.listJokes == nil {
		return nil, nil
	}
	return f.listJokes(ctx, filter)
}

func (f *fakeData) CountJokesByStatus(ctx context.Context) (map[string]int, error) {
	if f.countJokesByStatus == nil {
		return map[string]int{}, nil
	}
	return f.countJokesByStatus(ctx)
}

func (f *fakeData) Ping(ctx context.Context) error { return nil }

type fakeSessions struct{}

func (fakeSessions) SaveRefreshSession(ctx context.Context, hash string, user store.User, exp time.Time) error {
	return nil
}
func (fakeSessions) LookupRefreshSession(ctx context.Context, hash string) (store.User, error) {
	return store.User{}, errors.New("not found")
}
func (fakeSessions) RevokeRefreshSession(ctx context.Context, hash string) error { return nil }
func (fakeSessions) Ping(ctx context.Context) error                             { return nil }

type fakeHistory struct {
	commits []string
}

func (f *fakeHistory) EnsureJokeRepo(jokeID string, initial history.Content, author string) error {
	f.commits = append(f.commits, "init")
	return nil
}

func (f *fakeHistory) Commit(jokeID string, content history.Content, author, message string) (history.CommitInfo, error) {
	f.commits = append(f.commits, message)
	return history.CommitInfo{Hash: "abc1234", Message: message, Author: author}, nil
}

func (f *fakeHistory) GetContentByHash(jokeID, hash string) (history.Content, error) {
	return history.Content{}, nil
}

func (f *fakeHistory) History(jokeID string, limit int) ([]history.CommitInfo, error) {
	return nil, nil
}

type fakeMedia struct {
	objects map[string][]byte
	removed []string
}

func (f *fakeMedia) Put(ctx context.Context, key string, data []byte, contentType string) error {
	if f.objects == nil {
		f.objects = make(map[string][]byte)
	}
	f.objects[key] = data
	return nil
}

func (f *fakeMedia) Fetch(ctx context.Context, key string) ([]byte, error) {
	data, ok := f.objects[key]
	if !ok {
		return nil, errors.New("object not found")
	}
	return data, nil
}

func (f *fakeMedia) Remove(ctx context.Context, key string) error {
	f.removed = append(f.removed, key)
	return nil
}

type fakeSearch struct {
	jokes   []search.JokeRecord
	sources []search.SourceRecord
	deleted []string
}

func (f *fakeSearch) Search(q search.Query) search.Response {
	return search.Response{Results: []search.Result{}}
}
func (f *fakeSearch) IndexJoke(j search.JokeRecord)        { f.jokes = append(f.jokes, j) }
func (f *fakeSearch) IndexSource(src search.SourceRecord)  { f.sources = append(f.sources, src) }
func (f *fakeSearch) DeleteJoke(id string)                 { f.deleted = append(f.deleted, id) }

type fakeDispatcher struct {
	published []lifecycle.DispatchRequest
}

func (f *fakeDispatcher) PublishAll(ctx context.Context, reqs []lifecycle.DispatchRequest) error {
	f.published = append(f.published, reqs...)
	return nil
}

type fakeMailer struct {
	configured bool
	sent       []string
}

func (f *fakeMailer) IsConfigured() bool { return f.configured }
func (f *fakeMailer) SendVerificationEmail(to, userName, url string) error {
	f.sent = append(f.sent, "verify:"+to)
	return nil
}
func (f *fakeMailer) SendPasswordResetEmail(to, userName, url string) error {
	f.sent = append(f.sent, "reset:"+to)
	return nil
}
func (f *fakeMailer) SendJokePublishedEmail(to, userName, title, url string) error {
	f.sent = append(f.sent, "published:"+to)
	return nil
}

type fakeOCR struct {
	text string
	err  error
}

func (f *fakeOCR) Recognize(ctx context.Context, crop []byte) (string, error) {
	return f.text, f.err
}

type fakeExporter struct {
	result *export.Result
	err    error
}

func (f *fakeExporter) Export(ctx context.Context, req export.Request) (*export.Result, error) {
	return f.result, f.err
}

type testEnv struct {
	svc      *Service
	data     *fakeData
	history  *fakeHistory
	media    *fakeMedia
	search   *fakeSearch
	dispatch *fakeDispatcher
	mail     *fakeMailer
	ocr      *fakeOCR
	exporter *fakeExporter
}

func newTestEnv() *testEnv {
	env := &testEnv{
		data:     &fakeData{},
		history:  &fakeHistory{},
		media:    &fakeMedia{},
		search:   &fakeSearch{},
		dispatch: &fakeDispatcher{},
		mail:     &fakeMailer{},
		ocr:      &fakeOCR{text: "A capital joke."},
		exporter: &fakeExporter{result: &export.Result{Data: []byte("<html>"), Filename: "joke.html", MimeType: "text/html; charset=utf-8"}},
	}
	svc := &Service{
		cfg: config.Config{
			TokenSecret:   "test-secret",
			AccessTTL:     15 * time.Minute,
			RefreshTTL:    time.Hour,
			PublicBaseURL: "https://jestbook.test",
		},
		store:    env.data,
		sessions: fakeSessions{},
		history:  env.history,
		media:    env.media,
		search:   env.search,
		publish:  env.dispatch,
		mail:     env.mail,
		ocr:      env.ocr,
		exporter: env.exporter,
	}
	svc.engine = lifecycle.NewEngine(svc)
	env.svc = svc
	return env
}

func contributorSession(userID string) Session {
	return Session{UserID: userID, UserName: userID, Groups: []string{"contributor"}}
}

func editorSession(userID string) Session {
	return Session{UserID: userID, UserName: userID, Groups: []string{"editor"}}
}

func docJSON(text string) json.RawMessage {
	raw, _ := json.Marshal(map[string]any{
		"type": "doc",
		"content": []map[string]any{
			{"type": "paragraph", "content": []map[string]any{{"type": "text", "text": text}}},
		},
	})
	return raw
}

func pngBytes(t *testing.T, width, height int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

func storedJoke(status string) store.Joke {
	return store.Joke{
		ID:          "jok_1",
		SourceID:    "src_1",
		Rev:         3,
		Title:       "untitled",
		Status:      status,
		Coordinates: lifecycle.Box{Left: 10, Top: 10, Right: 110, Bottom: 70},
		Transcriptions: map[string]json.RawMessage{
			"u_bob": docJSON("draft text"),
		},
		Activity: lifecycle.Activity{
			Extracted:          &lifecycle.ActivityRecord{User: "u_alice", At: time.Now().Add(-time.Hour)},
			ExtractionVerified: &lifecycle.ActivityRecord{User: "u_carol", At: time.Now().Add(-30 * time.Minute)},
			Transcribed:        []lifecycle.ActivityRecord{{User: "u_bob", At: time.Now().Add(-20 * time.Minute)}},
		},
	}
}

func wantDomainError(t *testing.T, err error, status int, code string) {
	t.Helper()
	var de *DomainError
	if !errors.As(err, &de) {
		t.Fatalf("expected DomainError, got %v", err)
	}
	if de.Status != status || de.Code != code {
		t.Fatalf("got %d/%s, want %d/%s", de.Status, de.Code, status, code)
	}
}

func TestApplyActionsPersistsAndDispatches(t *testing.T) {
	env := newTestEnv()
	var saved store.Joke
	env.data.getJoke = func(ctx context.Context, id string) (store.Joke, error) {
		return storedJoke("transcribed"), nil
	}
	env.data.updateJoke = func(ctx context.Context, joke store.Joke) (store.Joke, error) {
		saved = joke
		joke.Rev++
		return joke, nil
	}

	joke, err := env.svc.ApplyActions(context.Background(), editorSession("u_ed"), "jok_1",
		[]lifecycle.Action{lifecycle.SetVerifiedTranscription(docJSON("final text"))})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}

	if joke.Status != "transcription-verified" {
		t.Errorf("status = %q", joke.Status)
	}
	if _, ok := saved.Transcriptions["final"]; !ok {
		t.Error("final transcription not persisted")
	}
	if len(env.dispatch.published) != 1 || env.dispatch.published[0].Topic != lifecycle.TopicCategorise {
		t.Errorf("dispatches = %+v", env.dispatch.published)
	}
	if len(env.history.commits) != 1 || env.history.commits[0] != "Apply transcription-verified" {
		t.Errorf("history commits = %v", env.history.commits)
	}
}

func TestApplyActionsRetriesOnRevConflict(t *testing.T) {
	env := newTestEnv()
	reads := 0
	env.data.getJoke = func(ctx context.Context, id string) (store.Joke, error) {
		reads++
		return storedJoke("transcribed"), nil
	}
	updates := 0
	env.data.updateJoke = func(ctx context.Context, joke store.Joke) (store.Joke, error) {
		updates++
		if updates == 1 {
			return store.Joke{}, store.ErrConflict
		}
		joke.Rev++
		return joke, nil
	}

	_, err := env.svc.ApplyActions(context.Background(), editorSession("u_ed"), "jok_1",
		[]lifecycle.Action{lifecycle.SetVerifiedTranscription(docJSON("final"))})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if reads != 2 || updates != 2 {
		t.Errorf("reads=%d updates=%d, want 2/2", reads, updates)
	}
}

func TestApplyActionsGivesUpAfterRepeatedConflicts(t *testing.T) {
	env := newTestEnv()
	env.data.getJoke = func(ctx context.Context, id string) (store.Joke, error) {
		return storedJoke("transcribed"), nil
	}
	env.data.updateJoke = func(ctx context.Context, joke store.Joke) (store.Joke, error) {
		return store.Joke{}, store.ErrConflict
	}

	_, err := env.svc.ApplyActions(context.Background(), editorSession("u_ed"), "jok_1",
		[]lifecycle.Action{lifecycle.SetVerifiedTranscription(docJSON("final"))})
	wantDomainError(t, err, http.StatusConflict, "CONFLICT")
}

func TestApplyActionsMapsEngineRejections(t *testing.T) {
	env := newTestEnv()
	env.data.getJoke = func(ctx context.Context, id string) (store.Joke, error) {
		return storedJoke("transcribed"), nil
	}

	t.Run("forbidden role", func(t *testing.T) {
		_, err := env.svc.ApplyActions(context.Background(), contributorSession("u_zed"), "jok_1",
			[]lifecycle.Action{lifecycle.SetVerifiedTranscription(docJSON("final"))})
		wantDomainError(t, err, http.StatusForbidden, "FORBIDDEN")
	})

	t.Run("separation of duties", func(t *testing.T) {
		// u_alice extracted this joke and may not also transcribe it.
		_, err := env.svc.ApplyActions(context.Background(), contributorSession("u_alice"), "jok_1",
			[]lifecycle.Action{lifecycle.SetTranscription(docJSON("my draft"))})
		wantDomainError(t, err, http.StatusForbidden, "SEPARATION_OF_DUTIES")
	})

	t.Run("invalid input", func(t *testing.T) {
		_, err := env.svc.ApplyActions(context.Background(), editorSession("u_ed"), "jok_1",
			[]lifecycle.Action{{Kind: "bogus"}})
		wantDomainError(t, err, http.StatusUnprocessableEntity, "VALIDATION_ERROR")
	})

	t.Run("no update persisted on rejection", func(t *testing.T) {
		env.data.updateJoke = func(ctx context.Context, joke store.Joke) (store.Joke, error) {
			t.Fatal("update must not run after a rejection")
			return store.Joke{}, nil
		}
		_, _ = env.svc.ApplyActions(context.Background(), contributorSession("u_zed"), "jok_1",
			[]lifecycle.Action{lifecycle.SetVerifiedTranscription(docJSON("final"))})
	})
}

func TestApplyActionsUnknownJoke(t *testing.T) {
	env := newTestEnv()
	_, err := env.svc.ApplyActions(context.Background(), editorSession("u_ed"), "jok_missing",
		[]lifecycle.Action{lifecycle.SetStatus(lifecycle.StatusPublished)})
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestExtractJoke(t *testing.T) {
	env := newTestEnv()
	env.data.getSource = func(ctx context.Context, id string) (store.Source, error) {
		return store.Source{ID: id, Width: 800, Height: 600, ObjectKey: "sources/" + id}, nil
	}
	var inserted store.Joke
	env.data.insertJoke = func(ctx context.Context, joke store.Joke) error {
		inserted = joke
		return nil
	}

	t.Run("creates extracted joke", func(t *testing.T) {
		joke, err := env.svc.ExtractJoke(context.Background(), contributorSession("u_alice"), "src_1",
			lifecycle.Box{Left: 10, Top: 10, Right: 200, Bottom: 100})
		if err != nil {
			t.Fatalf("extract: %v", err)
		}
		if joke.Status != "extracted" || joke.Rev != 1 || joke.Title != "untitled" {
			t.Errorf("joke = %+v", joke)
		}
		if inserted.Activity.Extracted == nil || inserted.Activity.Extracted.User != "u_alice" {
			t.Error("extraction activity not recorded")
		}
		if len(env.history.commits) == 0 {
			t.Error("history repo not initialized")
		}
	})

	t.Run("rejects box outside source", func(t *testing.T) {
		_, err := env.svc.ExtractJoke(context.Background(), contributorSession("u_alice"), "src_1",
			lifecycle.Box{Left: 10, Top: 10, Right: 900, Bottom: 100})
		wantDomainError(t, err, http.StatusUnprocessableEntity, "INVALID_COORDINATES")
	})

	t.Run("rejects inverted box", func(t *testing.T) {
		_, err := env.svc.ExtractJoke(context.Background(), contributorSession("u_alice"), "src_1",
			lifecycle.Box{Left: 100, Top: 10, Right: 50, Bottom: 100})
		wantDomainError(t, err, http.StatusUnprocessableEntity, "INVALID_COORDINATES")
	})

	t.Run("anonymous cannot extract", func(t *testing.T) {
		_, err := env.svc.ExtractJoke(context.Background(), Session{}, "src_1",
			lifecycle.Box{Left: 10, Top: 10, Right: 200, Bottom: 100})
		wantDomainError(t, err, http.StatusForbidden, "FORBIDDEN")
	})
}

func TestCreateSource(t *testing.T) {
	env := newTestEnv()
	scan := pngBytes(t, 640, 480)
	var inserted store.Source
	env.data.insertSource = func(ctx context.Context, src store.Source) error {
		inserted = src
		return nil
	}
	provider := Session{UserID: "u_prov", Groups: []string{"provider"}}

	t.Run("provider uploads scan", func(t *testing.T) {
		src, err := env.svc.CreateSource(context.Background(), provider, "Punch vol. 3", "Punch", "image/png", scan)
		if err != nil {
			t.Fatalf("create source: %v", err)
		}
		if src.Width != 640 || src.Height != 480 {
			t.Errorf("dimensions = %dx%d", src.Width, src.Height)
		}
		if _, ok := env.media.objects[src.ObjectKey]; !ok {
			t.Error("scan bytes not stored")
		}
		if inserted.UploadedBy != "u_prov" {
			t.Errorf("uploadedBy = %q", inserted.UploadedBy)
		}
		if len(env.search.sources) != 1 {
			t.Error("source not indexed")
		}
	})

	t.Run("contributor cannot upload", func(t *testing.T) {
		_, err := env.svc.CreateSource(context.Background(), contributorSession("u_alice"), "Punch", "", "image/png", scan)
		wantDomainError(t, err, http.StatusForbidden, "FORBIDDEN")
	})

	t.Run("garbage image rejected", func(t *testing.T) {
		_, err := env.svc.CreateSource(context.Background(), provider, "Punch", "", "image/png", []byte("not an image"))
		wantDomainError(t, err, http.StatusUnprocessableEntity, "VALIDATION_ERROR")
	})

	t.Run("title required", func(t *testing.T) {
		_, err := env.svc.CreateSource(context.Background(), provider, "  ", "", "image/png", scan)
		wantDomainError(t, err, http.StatusUnprocessableEntity, "VALIDATION_ERROR")
	})
}

func TestDeleteJoke(t *testing.T) {
	env := newTestEnv()
	deleted := ""
	env.data.deleteJoke = func(ctx context.Context, id string) error {
		deleted = id
		return nil
	}

	t.Run("admin deletes", func(t *testing.T) {
		admin := Session{UserID: "u_boss", Groups: []string{"admin"}}
		if err := env.svc.DeleteJoke(context.Background(), admin, "jok_1"); err != nil {
			t.Fatalf("delete: %v", err)
		}
		if deleted != "jok_1" {
			t.Errorf("deleted = %q", deleted)
		}
		if len(env.media.removed) != 1 || env.media.removed[0] != "crops/jok_1.png" {
			t.Errorf("removed = %v", env.media.removed)
		}
		if len(env.search.deleted) != 1 {
			t.Error("search entry not deleted")
		}
	})

	t.Run("editor cannot delete", func(t *testing.T) {
		err := env.svc.DeleteJoke(context.Background(), editorSession("u_ed"), "jok_1")
		wantDomainError(t, err, http.StatusForbidden, "FORBIDDEN")
	})
}

func TestExportAccess(t *testing.T) {
	env := newTestEnv()
	status := "annotated"
	env.data.getJoke = func(ctx context.Context, id string) (store.Joke, error) {
		j := storedJoke(status)
		return j, nil
	}

	t.Run("unpublished joke forbidden for contributors", func(t *testing.T) {
		_, err := env.svc.Export(context.Background(), contributorSession("u_alice"), export.Request{JokeID: "jok_1", Format: export.FormatHTML})
		wantDomainError(t, err, http.StatusForbidden, "FORBIDDEN")
	})

	t.Run("editor may preview unpublished", func(t *testing.T) {
		result, err := env.svc.Export(context.Background(), editorSession("u_ed"), export.Request{JokeID: "jok_1", Format: export.FormatHTML})
		if err != nil {
			t.Fatalf("export: %v", err)
		}
		if result.Filename != "joke.html" {
			t.Errorf("filename = %q", result.Filename)
		}
	})

	t.Run("published joke open to everyone", func(t *testing.T) {
		status = "published"
		if _, err := env.svc.Export(context.Background(), Session{}, export.Request{JokeID: "jok_1", Format: export.FormatHTML}); err != nil {
			t.Fatalf("export: %v", err)
		}
	})

	t.Run("content unavailable maps to 422", func(t *testing.T) {
		env.exporter.err = export.ErrContentUnavailable
		env.exporter.result = nil
		_, err := env.svc.Export(context.Background(), editorSession("u_ed"), export.Request{JokeID: "jok_1", Format: export.FormatHTML})
		wantDomainError(t, err, http.StatusUnprocessableEntity, "NO_CONTENT")
	})
}

func TestDashboardCounts(t *testing.T) {
	env := newTestEnv()
	env.data.countJokesByStatus = func(ctx context.Context) (map[string]int, error) {
		return map[string]int{"extracted": 4, "published": 2}, nil
	}
	payload, err := env.svc.Dashboard(context.Background())
	if err != nil {
		t.Fatalf("dashboard: %v", err)
	}
	if payload["total"] != 6 {
		t.Errorf("total = %v", payload["total"])
	}
}

func TestUpdateUserGroups(t *testing.T) {
	env := newTestEnv()
	env.data.getUserByID = func(ctx context.Context, id string) (store.User, error) {
		return store.User{ID: id}, nil
	}
	var updated []string
	env.data.updateUserGroups = func(ctx context.Context, id string, groups []string) error {
		updated = groups
		return nil
	}
	admin := Session{UserID: "u_boss", Groups: []string{"admin"}}

	t.Run("admin promotes to editor", func(t *testing.T) {
		if err := env.svc.UpdateUserGroups(context.Background(), admin, "u_bob", []string{"contributor", "editor"}); err != nil {
			t.Fatalf("update: %v", err)
		}
		if len(updated) != 2 {
			t.Errorf("groups = %v", updated)
		}
	})

	t.Run("unknown group rejected", func(t *testing.T) {
		err := env.svc.UpdateUserGroups(context.Background(), admin, "u_bob", []string{"overlord"})
		wantDomainError(t, err, http.StatusUnprocessableEntity, "VALIDATION_ERROR")
	})

	t.Run("empty group set rejected", func(t *testing.T) {
		err := env.svc.UpdateUserGroups(context.Background(), admin, "u_bob", nil)
		wantDomainError(t, err, http.StatusUnprocessableEntity, "VALIDATION_ERROR")
	})

	t.Run("non-admin forbidden", func(t *testing.T) {
		err := env.svc.UpdateUserGroups(context.Background(), editorSession("u_ed"), "u_bob", []string{"editor"})
		wantDomainError(t, err, http.StatusForbidden, "FORBIDDEN")
	})
}

func TestCommitMessage(t *testing.T) {
	if got := commitMessage(nil); got != "Update joke content" {
		t.Errorf("got %q", got)
	}
	entries := []lifecycle.ActivityEntry{
		{Transition: "transcription-verified"},
		{Transition: "category-verified"},
	}
	if got := commitMessage(entries); got != "Apply transcription-verified, category-verified" {
		t.Errorf("got %q", got)
	}
}

func TestApplyActionsStoresPlainSearchText(t *testing.T) {
	env := newTestEnv()
	var saved store.Joke
	env.data.getJoke = func(ctx context.Context, id string) (store.Joke, error) {
		return storedJoke("transcribed"), nil
	}
	env.data.updateJoke = func(ctx context.Context, joke store.Joke) (store.Joke, error) {
		saved = joke
		joke.Rev++
		return joke, nil
	}

	_, err := env.svc.ApplyActions(context.Background(), editorSession("u_ed"), "jok_1",
		[]lifecycle.Action{lifecycle.SetVerifiedTranscription(docJSON("why did the chicken"))})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}

	if saved.SearchText != "why did the chicken" {
		t.Errorf("search text = %q, want the flattened transcription", saved.SearchText)
	}
	for _, token := range []string{"doc", "paragraph", "type"} {
		if strings.Contains(saved.SearchText, token) {
			t.Errorf("search text leaks rich-text structure token %q: %q", token, saved.SearchText)
		}
	}
}

func TestJokeSearchTextPrefersAnnotated(t *testing.T) {
	joke := store.Joke{Transcriptions: map[string]json.RawMessage{
		"final":     docJSON("verified text"),
		"annotated": docJSON("annotated text"),
	}}
	if got := jokeSearchText(joke); got != "annotated text" {
		t.Errorf("search text = %q, want the annotated transcription", got)
	}
	delete(joke.Transcriptions, "annotated")
	if got := jokeSearchText(joke); got != "verified text" {
		t.Errorf("search text = %q, want the verified transcription", got)
	}
	joke.Transcriptions = map[string]json.RawMessage{"u_bob": docJSON("draft")}
	if got := jokeSearchText(joke); got != "" {
		t.Errorf("search text = %q, want empty until a final transcription exists", got)
	}
}
