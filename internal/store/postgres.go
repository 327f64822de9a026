package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNotFound reports that the requested row does not exist.
	ErrNotFound = errors.New("not found")
	// ErrConflict reports that a joke update lost the revision race. The
	// caller re-reads and re-applies its actions.
	ErrConflict = errors.New("revision conflict")
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// ---- users ----

const userColumns = `id, display_name, email, password_hash, groups, is_email_verified, verification_token, verification_expires_at, created_at, updated_at`

func scanUser(row interface{ Scan(...any) error }) (User, error) {
	var (
		user      User
		groupsRaw []byte
		verTok    sql.NullString
	)
	err := row.Scan(&user.ID, &user.DisplayName, &user.Email, &user.PasswordHash, &groupsRaw,
		&user.IsEmailVerified, &verTok, &user.VerificationExpiresAt, &user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		return User{}, err
	}
	user.VerificationToken = verTok.String
	if len(groupsRaw) > 0 {
		if err := json.Unmarshal(groupsRaw, &user.Groups); err != nil {
			return User{}, fmt.Errorf("decode user groups: %w", err)
		}
	}
	if len(user.Groups) == 0 {
		user.Groups = []string{"contributor"}
	}
	return user, nil
}

func (s *PostgresStore) CreateUser(ctx context.Context, user User) error {
	groups := user.Groups
	if len(groups) == 0 {
		groups = []string{"contributor"}
	}
	groupsRaw, err := json.Marshal(groups)
	if err != nil {
		return fmt.Errorf("encode user groups: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO users (id, display_name, email, password_hash, groups, is_email_verified, verification_token)
		VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7, ''))
	`, user.ID, user.DisplayName, user.Email, user.PasswordHash, groupsRaw, user.IsEmailVerified, user.VerificationToken)
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetUserByID(ctx context.Context, userID string) (User, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id=$1`, userID)
	user, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, ErrNotFound
	}
	if err != nil {
		return User{}, fmt.Errorf("get user: %w", err)
	}
	return user, nil
}

func (s *PostgresStore) GetUserByEmail(ctx context.Context, email string) (User, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE LOWER(email)=LOWER($1)`, email)
	user, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, ErrNotFound
	}
	if err != nil {
		return User{}, fmt.Errorf("get user by email: %w", err)
	}
	return user, nil
}

func (s *PostgresStore) ListUsers(ctx context.Context) ([]User, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+userColumns+` FROM users ORDER BY display_name`)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	items := make([]User, 0)
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		items = append(items, user)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate users: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) UpdateUserGroups(ctx context.Context, userID string, groups []string) error {
	if len(groups) == 0 {
		groups = []string{"contributor"}
	}
	groupsRaw, err := json.Marshal(groups)
	if err != nil {
		return fmt.Errorf("encode user groups: %w", err)
	}
	res, err := s.db.ExecContext(ctx, `UPDATE users SET groups=$2, updated_at=NOW() WHERE id=$1`, userID, groupsRaw)
	if err != nil {
		return fmt.Errorf("update user groups: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) UpdateUserVerificationToken(ctx context.Context, userID, token string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE users SET verification_token=$2, verification_expires_at=$3, updated_at=NOW() WHERE id=$1
	`, userID, token, expiresAt)
	if err != nil {
		return fmt.Errorf("update verification token: %w", err)
	}
	return nil
}

func (s *PostgresStore) VerifyUserEmail(ctx context.Context, token string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE users
		SET is_email_verified=TRUE, verification_token=NULL, verification_expires_at=NULL, updated_at=NOW()
		WHERE verification_token=$1 AND verification_expires_at > NOW()
	`, token)
	if err != nil {
		return fmt.Errorf("verify email: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) UpdateUserPassword(ctx context.Context, userID, passwordHash string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE users SET password_hash=$2, updated_at=NOW() WHERE id=$1`, userID, passwordHash)
	if err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) CreatePasswordReset(ctx context.Context, userID, token string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO password_resets (token, user_id, expires_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (token) DO NOTHING
	`, token, userID, expiresAt)
	if err != nil {
		return fmt.Errorf("create password reset: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetPasswordReset(ctx context.Context, token string) (string, error) {
	var userID string
	err := s.db.QueryRowContext(ctx, `
		SELECT user_id FROM password_resets
		WHERE token=$1 AND used_at IS NULL AND expires_at > NOW()
	`, token).Scan(&userID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("get password reset: %w", err)
	}
	return userID, nil
}

func (s *PostgresStore) MarkPasswordResetUsed(ctx context.Context, token string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE password_resets SET used_at=NOW() WHERE token=$1`, token)
	if err != nil {
		return fmt.Errorf("mark password reset used: %w", err)
	}
	return nil
}

// ---- sources ----

func (s *PostgresStore) InsertSource(ctx context.Context, src Source) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sources (id, title, publication, object_key, content_type, width, height, uploaded_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, src.ID, src.Title, src.Publication, src.ObjectKey, src.ContentType, src.Width, src.Height, src.UploadedBy)
	if err != nil {
		return fmt.Errorf("insert source: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetSource(ctx context.Context, sourceID string) (Source, error) {
	var src Source
	err := s.db.QueryRowContext(ctx, `
		SELECT id, title, publication, object_key, content_type, width, height, uploaded_by, created_at
		FROM sources WHERE id=$1
	`, sourceID).Scan(&src.ID, &src.Title, &src.Publication, &src.ObjectKey, &src.ContentType, &src.Width, &src.Height, &src.UploadedBy, &src.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Source{}, ErrNotFound
	}
	if err != nil {
		return Source{}, fmt.Errorf("get source: %w", err)
	}
	return src, nil
}

func (s *PostgresStore) ListSources(ctx context.Context) ([]Source, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, title, publication, object_key, content_type, width, height, uploaded_by, created_at
		FROM sources ORDER BY created_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("list sources: %w", err)
	}
	defer rows.Close()

	items := make([]Source, 0)
	for rows.Next() {
		var src Source
		if err := rows.Scan(&src.ID, &src.Title, &src.Publication, &src.ObjectKey, &src.ContentType, &src.Width, &src.Height, &src.UploadedBy, &src.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan source: %w", err)
		}
		items = append(items, src)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sources: %w", err)
	}
	return items, nil
}

// ---- jokes ----

const jokeColumns = `id, source_id, rev, title, status, coordinates, transcriptions, categories, activity, search_text, created_at, updated_at`

func scanJoke(row interface{ Scan(...any) error }) (Joke, error) {
	var (
		joke              Joke
		coordinatesRaw    []byte
		transcriptionsRaw []byte
		categoriesRaw     []byte
		activityRaw       []byte
	)
	err := row.Scan(&joke.ID, &joke.SourceID, &joke.Rev, &joke.Title, &joke.Status,
		&coordinatesRaw, &transcriptionsRaw, &categoriesRaw, &activityRaw, &joke.SearchText, &joke.CreatedAt, &joke.UpdatedAt)
	if err != nil {
		return Joke{}, err
	}
	if err := json.Unmarshal(coordinatesRaw, &joke.Coordinates); err != nil {
		return Joke{}, fmt.Errorf("decode coordinates: %w", err)
	}
	if err := json.Unmarshal(transcriptionsRaw, &joke.Transcriptions); err != nil {
		return Joke{}, fmt.Errorf("decode transcriptions: %w", err)
	}
	if err := json.Unmarshal(categoriesRaw, &joke.Categories); err != nil {
		return Joke{}, fmt.Errorf("decode categories: %w", err)
	}
	if err := json.Unmarshal(activityRaw, &joke.Activity); err != nil {
		return Joke{}, fmt.Errorf("decode activity: %w", err)
	}
	return joke, nil
}

func encodeJoke(joke Joke) (coordinates, transcriptions, categories, activity []byte, err error) {
	if coordinates, err = json.Marshal(joke.Coordinates); err != nil {
		return nil, nil, nil, nil, fmt.Errorf("encode coordinates: %w", err)
	}
	if joke.Transcriptions == nil {
		joke.Transcriptions = map[string]json.RawMessage{}
	}
	if transcriptions, err = json.Marshal(joke.Transcriptions); err != nil {
		return nil, nil, nil, nil, fmt.Errorf("encode transcriptions: %w", err)
	}
	if joke.Categories == nil {
		joke.Categories = []string{}
	}
	if categories, err = json.Marshal(joke.Categories); err != nil {
		return nil, nil, nil, nil, fmt.Errorf("encode categories: %w", err)
	}
	if activity, err = json.Marshal(joke.Activity); err != nil {
		return nil, nil, nil, nil, fmt.Errorf("encode activity: %w", err)
	}
	return coordinates, transcriptions, categories, activity, nil
}

func (s *PostgresStore) InsertJoke(ctx context.Context, joke Joke) error {
	coordinates, transcriptions, categories, activity, err := encodeJoke(joke)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO jokes (id, source_id, rev, title, status, coordinates, transcriptions, categories, activity, search_text)
		VALUES ($1, $2, 1, $3, $4, $5, $6, $7, $8, $9)
	`, joke.ID, joke.SourceID, joke.Title, joke.Status, coordinates, transcriptions, categories, activity, joke.SearchText)
	if err != nil {
		return fmt.Errorf("insert joke: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetJoke(ctx context.Context, jokeID string) (Joke, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+jokeColumns+` FROM jokes WHERE id=$1`, jokeID)
	joke, err := scanJoke(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Joke{}, ErrNotFound
	}
	if err != nil {
		return Joke{}, fmt.Errorf("get joke: %w", err)
	}
	return joke, nil
}

// UpdateJoke persists the joke when its revision still matches. On success the
// stored revision is bumped and returned on the joke.
func (s *PostgresStore) UpdateJoke(ctx context.Context, joke Joke) (Joke, error) {
	coordinates, transcriptions, categories, activity, err := encodeJoke(joke)
	if err != nil {
		return Joke{}, err
	}
	err = s.db.QueryRowContext(ctx, `
		UPDATE jokes
		SET title=$3, status=$4, coordinates=$5, transcriptions=$6, categories=$7, activity=$8, search_text=$9,
			rev=rev+1, updated_at=NOW()
		WHERE id=$1 AND rev=$2
		RETURNING rev, updated_at
	`, joke.ID, joke.Rev, joke.Title, joke.Status, coordinates, transcriptions, categories, activity, joke.SearchText).
		Scan(&joke.Rev, &joke.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		var exists bool
		if checkErr := s.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM jokes WHERE id=$1)`, joke.ID).Scan(&exists); checkErr != nil {
			return Joke{}, fmt.Errorf("check joke: %w", checkErr)
		}
		if exists {
			return Joke{}, ErrConflict
		}
		return Joke{}, ErrNotFound
	}
	if err != nil {
		return Joke{}, fmt.Errorf("update joke: %w", err)
	}
	return joke, nil
}

func (s *PostgresStore) DeleteJoke(ctx context.Context, jokeID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM jokes WHERE id=$1`, jokeID)
	if err != nil {
		return fmt.Errorf("delete joke: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) ListJokes(ctx context.Context, filter JokeFilter) ([]Joke, error) {
	query := `SELECT ` + jokeColumns + ` FROM jokes`
	var (
		where []string
		args  []any
	)
	if filter.SourceID != "" {
		args = append(args, filter.SourceID)
		where = append(where, fmt.Sprintf("source_id=$%d", len(args)))
	}
	if filter.Status != "" {
		args = append(args, filter.Status)
		where = append(where, fmt.Sprintf("status=$%d", len(args)))
	}
	if filter.Category != "" {
		args = append(args, filter.Category)
		where = append(where, fmt.Sprintf("categories @> to_jsonb(ARRAY[$%d::text])", len(args)))
	}
	for i, clause := range where {
		if i == 0 {
			query += " WHERE " + clause
		} else {
			query += " AND " + clause
		}
	}
	query += " ORDER BY updated_at DESC"
	limit := filter.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	args = append(args, limit)
	query += fmt.Sprintf(" LIMIT $%d", len(args))
	if filter.Offset > 0 {
		args = append(args, filter.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list jokes: %w", err)
	}
	defer rows.Close()

	items := make([]Joke, 0)
	for rows.Next() {
		joke, err := scanJoke(rows)
		if err != nil {
			return nil, fmt.Errorf("scan joke: %w", err)
		}
		items = append(items, joke)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate jokes: %w", err)
	}
	return items, nil
}

// CountJokesByStatus returns the number of jokes in each status, for the
// curation dashboard.
func (s *PostgresStore) CountJokesByStatus(ctx context.Context) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM jokes GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("count jokes: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var (
			status string
			count  int
		)
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("scan count: %w", err)
		}
		counts[status] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate counts: %w", err)
	}
	return counts, nil
}
