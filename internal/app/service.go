// Package app wires the curation engine, storage, search, media and dispatch
// layers behind the HTTP API and the worker handlers.
package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"jestbook/api/internal/auth"
	"jestbook/api/internal/authpw"
	"jestbook/api/internal/config"
	"jestbook/api/internal/dispatch"
	"jestbook/api/internal/email"
	"jestbook/api/internal/export"
	"jestbook/api/internal/history"
	"jestbook/api/internal/lifecycle"
	"jestbook/api/internal/media"
	"jestbook/api/internal/ocr"
	"jestbook/api/internal/rbac"
	"jestbook/api/internal/search"
	"jestbook/api/internal/session"
	"jestbook/api/internal/store"
	"jestbook/api/internal/util"
)

type Session struct {
	Token        string
	RefreshToken string
	UserID       string
	UserName     string
	Groups       []string
	JTI          string
	ExpiresAt    time.Time
}

// Privileged reports whether the session carries editor or admin rights.
func (s Session) Privileged() bool {
	return rbac.Privileged(s.Groups)
}

type dataStore interface {
	GetUserByID(ctx context.Context, userID string) (store.User, error)
	ListUsers(ctx context.Context) ([]store.User, error)
	UpdateUserGroups(ctx context.Context, userID string, groups []string) error
	InsertSource(ctx context.Context, src store.Source) error
	GetSource(ctx context.Context, sourceID string) (store.Source, error)
	ListSources(ctx context.Context) ([]store.Source, error)
	InsertJoke(ctx context.Context, joke store.Joke) error
	GetJoke(ctx context.Context, jokeID string) (store.Joke, error)
	UpdateJoke(ctx context.Context, joke store.Joke) (store.Joke, error)
	DeleteJoke(ctx context.Context, jokeID string) error
	ListJokes(ctx context.Context, filter store.JokeFilter) ([]store.Joke, error)
	CountJokesByStatus(ctx context.Context) (map[string]int, error)
	Ping(ctx context.Context) error
}

type sessionStore interface {
	SaveRefreshSession(ctx context.Context, tokenHash string, user store.User, expiresAt time.Time) error
	LookupRefreshSession(ctx context.Context, tokenHash string) (store.User, error)
	RevokeRefreshSession(ctx context.Context, tokenHash string) error
	Ping(ctx context.Context) error
}

type historyService interface {
	EnsureJokeRepo(jokeID string, initial history.Content, author string) error
	Commit(jokeID string, content history.Content, author, message string) (history.CommitInfo, error)
	GetContentByHash(jokeID, hash string) (history.Content, error)
	History(jokeID string, limit int) ([]history.CommitInfo, error)
}

type objectStore interface {
	Put(ctx context.Context, key string, data []byte, contentType string) error
	Fetch(ctx context.Context, key string) ([]byte, error)
	Remove(ctx context.Context, key string) error
}

type searchIndex interface {
	Search(q search.Query) search.Response
	IndexJoke(j search.JokeRecord)
	IndexSource(src search.SourceRecord)
	DeleteJoke(id string)
}

type dispatcher interface {
	PublishAll(ctx context.Context, reqs []lifecycle.DispatchRequest) error
}

type mailer interface {
	IsConfigured() bool
	SendVerificationEmail(to, userName, verificationURL string) error
	SendPasswordResetEmail(to, userName, resetURL string) error
	SendJokePublishedEmail(to, userName, jokeTitle, jokeURL string) error
}

type ocrClient interface {
	Recognize(ctx context.Context, cropPNG []byte) (string, error)
}

type exporter interface {
	Export(ctx context.Context, req export.Request) (*export.Result, error)
}

// Dependencies bundles the concrete backends the service runs against.
type Dependencies struct {
	Store     *store.PostgresStore
	Sessions  *session.RedisStore
	History   *history.Service
	Media     *media.ObjectStore
	Search    *search.Service
	Publisher *dispatch.Publisher
	Mail      *email.Service
	OCR       *ocr.Client
}

type Service struct {
	cfg      config.Config
	store    dataStore
	sessions sessionStore
	history  historyService
	media    objectStore
	search   searchIndex
	publish  dispatcher
	mail     mailer
	ocr      ocrClient
	engine   *lifecycle.Engine
	authpw   *authpw.Service
	exporter exporter
}

func New(cfg config.Config, deps Dependencies) *Service {
	s := &Service{
		cfg:      cfg,
		store:    deps.Store,
		sessions: deps.Sessions,
		history:  deps.History,
		media:    deps.Media,
		search:   deps.Search,
		publish:  deps.Publisher,
		mail:     deps.Mail,
		ocr:      deps.OCR,
		authpw:   authpw.NewService(deps.Store),
	}
	s.engine = lifecycle.NewEngine(s)
	s.exporter = export.NewService(deps.Store, cfg.ExportChromium)
	return s
}

// FetchSourceImage loads the scan bytes a joke was cropped from. The engine
// calls this when validating coordinate changes.
func (s *Service) FetchSourceImage(ctx context.Context, sourceID string) ([]byte, error) {
	src, err := s.store.GetSource(ctx, sourceID)
	if err != nil {
		return nil, err
	}
	return s.media.Fetch(ctx, src.ObjectKey)
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

func (s *Service) PingSessions(ctx context.Context) error {
	return s.sessions.Ping(ctx)
}

func (s *Service) AuthPasswordService() *authpw.Service {
	return s.authpw
}

func (s *Service) SMTPConfigured() bool {
	return s.mail != nil && s.mail.IsConfigured()
}

// SendSignupVerification mails the verification link for a fresh account.
func (s *Service) SendSignupVerification(to, userName, token string) error {
	url := s.cfg.PublicBaseURL + "/verify-email?token=" + token
	return s.mail.SendVerificationEmail(to, userName, url)
}

// SendPasswordReset mails the reset link for an existing account.
func (s *Service) SendPasswordReset(to, userName, token string) error {
	url := s.cfg.PublicBaseURL + "/reset-password?token=" + token
	return s.mail.SendPasswordResetEmail(to, userName, url)
}

// ---- sessions ----

func (s *Service) CreateSession(ctx context.Context, userID string) (Session, error) {
	user, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

func (s *Service) Refresh(ctx context.Context, refreshToken string) (Session, error) {
	tokenHash := auth.HashToken(refreshToken)
	user, err := s.sessions.LookupRefreshSession(ctx, tokenHash)
	if err != nil {
		return Session{}, err
	}
	if err := s.sessions.RevokeRefreshSession(ctx, tokenHash); err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

func (s *Service) issueSession(ctx context.Context, user store.User) (Session, error) {
	now := time.Now()
	expiresAt := now.Add(s.cfg.AccessTTL)
	jti := util.NewID("jti")

	groups := user.Groups
	if len(groups) == 0 {
		groups = []string{string(rbac.RoleContributor)}
	}

	token, err := auth.IssueToken([]byte(s.cfg.TokenSecret), auth.Claims{
		Sub:    user.ID,
		Name:   user.DisplayName,
		Groups: groups,
		JTI:    jti,
		Exp:    expiresAt.Unix(),
	})
	if err != nil {
		return Session{}, err
	}

	refresh := util.NewID("rft") + util.NewID("")
	refreshExpires := now.Add(s.cfg.RefreshTTL)
	if err := s.sessions.SaveRefreshSession(ctx, auth.HashToken(refresh), user, refreshExpires); err != nil {
		return Session{}, err
	}

	return Session{
		Token:        token,
		RefreshToken: refresh,
		UserID:       user.ID,
		UserName:     user.DisplayName,
		Groups:       groups,
		JTI:          jti,
		ExpiresAt:    expiresAt,
	}, nil
}

// SessionFromToken rebuilds a session from a bearer token. Claims carry the
// group set so no user lookup is needed per request.
func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.TokenSecret), token)
	if err != nil {
		return Session{}, err
	}
	return Session{
		Token:     token,
		UserID:    claims.Sub,
		UserName:  claims.Name,
		Groups:    claims.Groups,
		JTI:       claims.JTI,
		ExpiresAt: time.Unix(claims.Exp, 0),
	}, nil
}

func (s *Service) Logout(ctx context.Context, refreshToken string) error {
	if refreshToken != "" {
		_ = s.sessions.RevokeRefreshSession(ctx, auth.HashToken(refreshToken))
	}
	return nil
}

// ---- sources ----

func (s *Service) CreateSource(ctx context.Context, sess Session, title, publication, contentType string, data []byte) (store.Source, error) {
	if !rbac.CanAny(sess.Groups, rbac.ActionUpload) {
		return store.Source{}, domainError(http.StatusForbidden, "FORBIDDEN", "uploading scans requires the provider group", nil)
	}
	title = strings.TrimSpace(title)
	if title == "" {
		return store.Source{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "title is required", nil)
	}
	if len(data) == 0 {
		return store.Source{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "image data is required", nil)
	}
	width, height, err := media.Bounds(data)
	if err != nil {
		return store.Source{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "image could not be decoded", nil)
	}

	src := store.Source{
		ID:          util.NewID("src"),
		Title:       title,
		Publication: strings.TrimSpace(publication),
		ContentType: contentType,
		Width:       width,
		Height:      height,
		UploadedBy:  sess.UserID,
	}
	src.ObjectKey = media.SourceKey(src.ID)

	if err := s.media.Put(ctx, src.ObjectKey, data, contentType); err != nil {
		return store.Source{}, fmt.Errorf("store scan: %w", err)
	}
	if err := s.store.InsertSource(ctx, src); err != nil {
		return store.Source{}, err
	}

	s.search.IndexSource(search.SourceRecord{
		ID:          src.ID,
		Title:       src.Title,
		Publication: src.Publication,
	})
	return src, nil
}

func (s *Service) ListSources(ctx context.Context) ([]store.Source, error) {
	return s.store.ListSources(ctx)
}

func (s *Service) GetSource(ctx context.Context, sourceID string) (store.Source, error) {
	return s.store.GetSource(ctx, sourceID)
}

// SourceImage returns the raw scan bytes and their content type.
func (s *Service) SourceImage(ctx context.Context, sourceID string) ([]byte, string, error) {
	src, err := s.store.GetSource(ctx, sourceID)
	if err != nil {
		return nil, "", err
	}
	data, err := s.media.Fetch(ctx, src.ObjectKey)
	if err != nil {
		return nil, "", err
	}
	return data, src.ContentType, nil
}

// ---- jokes ----

func (s *Service) ExtractJoke(ctx context.Context, sess Session, sourceID string, box lifecycle.Box) (store.Joke, error) {
	if !rbac.CanAny(sess.Groups, rbac.ActionExtract) {
		return store.Joke{}, domainError(http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
	}
	src, err := s.store.GetSource(ctx, sourceID)
	if err != nil {
		return store.Joke{}, err
	}
	if !box.Valid() || !box.Within(src.Width, src.Height) {
		return store.Joke{}, domainError(http.StatusUnprocessableEntity, "INVALID_COORDINATES", "coordinates must form a box inside the source scan", map[string]any{
			"width":  src.Width,
			"height": src.Height,
		})
	}

	now := time.Now()
	joke := store.Joke{
		ID:          util.NewID("jok"),
		SourceID:    src.ID,
		Rev:         1,
		Title:       lifecycle.UntitledTitle,
		Status:      string(lifecycle.StatusExtracted),
		Coordinates: box,
		Activity: lifecycle.Activity{
			Extracted: &lifecycle.ActivityRecord{User: sess.UserID, At: now},
		},
	}
	if err := s.store.InsertJoke(ctx, joke); err != nil {
		return store.Joke{}, err
	}

	if err := s.history.EnsureJokeRepo(joke.ID, historyContent(joke), sess.UserName); err != nil {
		log.Printf("history init failed joke=%s: %v", joke.ID, err)
	}
	return joke, nil
}

func (s *Service) GetJoke(ctx context.Context, jokeID string) (store.Joke, error) {
	return s.store.GetJoke(ctx, jokeID)
}

func (s *Service) ListJokes(ctx context.Context, filter store.JokeFilter) ([]store.Joke, error) {
	return s.store.ListJokes(ctx, filter)
}

func (s *Service) DeleteJoke(ctx context.Context, sess Session, jokeID string) error {
	if !rbac.Has(sess.Groups, rbac.RoleAdmin) {
		return domainError(http.StatusForbidden, "FORBIDDEN", "only admins may delete jokes", nil)
	}
	if err := s.store.DeleteJoke(ctx, jokeID); err != nil {
		return err
	}
	_ = s.media.Remove(ctx, media.CropKey(jokeID))
	s.search.DeleteJoke(jokeID)
	return nil
}

// applyRetries bounds the optimistic-concurrency loop in ApplyActions.
const applyRetries = 3

// jokeSearchText flattens the indexable transcription to plain text for the
// database's full-text column. The annotated transcription wins over the
// verified one, matching what publish sends to the search index.
func jokeSearchText(joke store.Joke) string {
	content := joke.Transcriptions[lifecycle.TranscriptionAnnotated]
	if len(content) == 0 {
		content = joke.Transcriptions[lifecycle.TranscriptionFinal]
	}
	if len(content) == 0 {
		return ""
	}
	return export.RichTextToPlain(content)
}

// ApplyActions runs an ordered action batch through the curation engine and
// persists the result. On a revision conflict the joke is re-read and the
// batch re-evaluated against the fresh snapshot.
func (s *Service) ApplyActions(ctx context.Context, sess Session, jokeID string, actions []lifecycle.Action) (store.Joke, error) {
	actor := lifecycle.Actor{UserID: sess.UserID, Groups: sess.Groups}

	for attempt := 0; attempt < applyRetries; attempt++ {
		joke, err := s.store.GetJoke(ctx, jokeID)
		if err != nil {
			return store.Joke{}, err
		}

		result, err := s.engine.ApplyActions(ctx, joke.Snapshot(), actions, actor)
		if err != nil {
			return store.Joke{}, mapLifecycleError(err)
		}

		joke.FromSnapshot(result.Joke)
		joke.SearchText = jokeSearchText(joke)
		updated, err := s.store.UpdateJoke(ctx, joke)
		if errors.Is(err, store.ErrConflict) {
			continue
		}
		if err != nil {
			return store.Joke{}, err
		}

		s.afterApply(ctx, updated, result)
		return updated, nil
	}
	return store.Joke{}, domainError(http.StatusConflict, "CONFLICT", "joke was modified concurrently, retry", nil)
}

// afterApply performs the post-persist side effects of a successful batch:
// a history commit and the dispatch requests the engine emitted.
func (s *Service) afterApply(ctx context.Context, joke store.Joke, result lifecycle.Result) {
	if _, err := s.history.Commit(joke.ID, historyContent(joke), actorName(result), commitMessage(result.Activity)); err != nil {
		log.Printf("history commit failed joke=%s: %v", joke.ID, err)
	}
	if len(result.Dispatches) > 0 {
		if err := s.publish.PublishAll(ctx, result.Dispatches); err != nil {
			log.Printf("dispatch publish failed joke=%s: %v", joke.ID, err)
		}
	}
}

func actorName(result lifecycle.Result) string {
	for _, entry := range result.Activity {
		if entry.User != "" {
			return entry.User
		}
	}
	return "system"
}

func commitMessage(entries []lifecycle.ActivityEntry) string {
	if len(entries) == 0 {
		return "Update joke content"
	}
	transitions := make([]string, 0, len(entries))
	for _, entry := range entries {
		transitions = append(transitions, entry.Transition)
	}
	return "Apply " + strings.Join(transitions, ", ")
}

func historyContent(joke store.Joke) history.Content {
	coords, _ := json.Marshal(joke.Coordinates)
	return history.Content{
		Title:          joke.Title,
		Status:         joke.Status,
		Coordinates:    coords,
		Transcriptions: joke.Transcriptions,
		Categories:     joke.Categories,
	}
}

func mapLifecycleError(err error) error {
	var lcErr *lifecycle.Error
	if !errors.As(err, &lcErr) {
		return err
	}
	switch lcErr.Reason {
	case lifecycle.ReasonNotFound:
		return domainError(http.StatusNotFound, "NOT_FOUND", lcErr.Message, nil)
	case lifecycle.ReasonForbidden:
		return domainError(http.StatusForbidden, "FORBIDDEN", lcErr.Message, nil)
	case lifecycle.ReasonSeparationOfDuties:
		return domainError(http.StatusForbidden, "SEPARATION_OF_DUTIES", lcErr.Message, nil)
	case lifecycle.ReasonInvalidCoordinates:
		return domainError(http.StatusUnprocessableEntity, "INVALID_COORDINATES", lcErr.Message, nil)
	case lifecycle.ReasonConflict:
		return domainError(http.StatusConflict, "CONFLICT", lcErr.Message, nil)
	default:
		return domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", lcErr.Message, nil)
	}
}

// ---- history ----

func (s *Service) JokeHistory(ctx context.Context, jokeID string, limit int) ([]history.CommitInfo, error) {
	if _, err := s.store.GetJoke(ctx, jokeID); err != nil {
		return nil, err
	}
	return s.history.History(jokeID, limit)
}

func (s *Service) JokeAtVersion(ctx context.Context, jokeID, hash string) (history.Content, error) {
	if _, err := s.store.GetJoke(ctx, jokeID); err != nil {
		return history.Content{}, err
	}
	return s.history.GetContentByHash(jokeID, hash)
}

// ---- search ----

func (s *Service) Search(ctx context.Context, sess Session, q, filterType, category string, limit, offset int) (search.Response, error) {
	return s.search.Search(search.Query{
		Text:           q,
		FilterType:     search.ResultType(filterType),
		FilterCategory: category,
		Limit:          limit,
		Offset:         offset,
		PublicOnly:     !sess.Privileged(),
	}), nil
}

// ---- export ----

func (s *Service) Export(ctx context.Context, sess Session, req export.Request) (*export.Result, error) {
	joke, err := s.store.GetJoke(ctx, req.JokeID)
	if err != nil {
		return nil, err
	}
	if joke.Status != string(lifecycle.StatusPublished) && !sess.Privileged() {
		return nil, domainError(http.StatusForbidden, "FORBIDDEN", "only published jokes can be exported", nil)
	}
	result, err := s.exporter.Export(ctx, req)
	if errors.Is(err, export.ErrContentUnavailable) {
		return nil, domainError(http.StatusUnprocessableEntity, "NO_CONTENT", "joke has no transcription to export", nil)
	}
	if errors.Is(err, export.ErrPDFDependencyMissing) {
		return nil, domainError(http.StatusServiceUnavailable, "PDF_UNAVAILABLE", "PDF rendering is not available on this server", nil)
	}
	return result, err
}

// ---- dashboard ----

func (s *Service) Dashboard(ctx context.Context) (map[string]any, error) {
	counts, err := s.store.CountJokesByStatus(ctx)
	if err != nil {
		return nil, err
	}
	total := 0
	for _, n := range counts {
		total += n
	}
	return map[string]any{
		"total":    total,
		"byStatus": counts,
	}, nil
}

// ---- admin ----

var knownGroups = map[string]struct{}{
	string(rbac.RoleContributor): {},
	string(rbac.RoleProvider):    {},
	string(rbac.RoleEditor):      {},
	string(rbac.RoleAdmin):       {},
}

func (s *Service) ListUsers(ctx context.Context, sess Session) ([]map[string]any, error) {
	if !rbac.Has(sess.Groups, rbac.RoleAdmin) {
		return nil, domainError(http.StatusForbidden, "FORBIDDEN", "only admins may list users", nil)
	}
	users, err := s.store.ListUsers(ctx)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(users))
	for _, u := range users {
		items = append(items, map[string]any{
			"id":          u.ID,
			"displayName": u.DisplayName,
			"email":       u.Email,
			"groups":      u.Groups,
			"verified":    u.IsEmailVerified,
			"createdAt":   u.CreatedAt,
		})
	}
	return items, nil
}

func (s *Service) UpdateUserGroups(ctx context.Context, sess Session, userID string, groups []string) error {
	if !rbac.Has(sess.Groups, rbac.RoleAdmin) {
		return domainError(http.StatusForbidden, "FORBIDDEN", "only admins may change groups", nil)
	}
	if len(groups) == 0 {
		return domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "at least one group is required", nil)
	}
	for _, g := range groups {
		if _, ok := knownGroups[g]; !ok {
			return domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", fmt.Sprintf("unknown group %q", g), nil)
		}
	}
	if _, err := s.store.GetUserByID(ctx, userID); err != nil {
		return err
	}
	return s.store.UpdateUserGroups(ctx, userID, groups)
}
