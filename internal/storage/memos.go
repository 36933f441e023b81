package storage

import (
	"context"
	"database/sql"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/codebuildervaibhav/voice-memos/internal/types"
)

// ErrNotFound is returned when a memo does not exist.
var ErrNotFound = errors.New("memo not found")

const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// Filter narrows a query. Empty fields match everything.
type Filter struct {
	Type   string
	Status string
}

// Sort orders a query. Field is one of created_at, updated_at or
// duration_seconds.
type Sort struct {
	Field string
	Desc  bool
}

// Page selects a window of a query. Cursor is the value returned by the
// previous page.
type Page struct {
	Limit  int
	Cursor string
}

// QueryResult is one page of memos.
type QueryResult struct {
	Records []*types.MemoRecord `json:"records"`
	HasMore bool                `json:"has_more"`
	Cursor  string              `json:"cursor,omitempty"`
}

var sortColumns = map[string]string{
	"":                 "created_at",
	"created_at":       "created_at",
	"updated_at":       "updated_at",
	"duration_seconds": "duration_seconds",
}

// MemoStore keeps memo documents in SQLite.
type MemoStore struct {
	db  *sql.DB
	now func() time.Time

	mu     sync.Mutex
	subs   map[string]map[*subscription]struct{}
	closed bool
}

// NewMemoStore opens (or creates) the memo database at dbPath.
// ":memory:" gives a private in-memory database.
func NewMemoStore(dbPath string) (*MemoStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One connection: an in-memory database is per connection, and SQLite
	// serialises writers anyway.
	db.SetMaxOpenConns(1)

	createTableSQL := `
	CREATE TABLE IF NOT EXISTS memos (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		type TEXT NOT NULL,
		title TEXT NOT NULL DEFAULT '',
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL,
		audio_url TEXT NOT NULL DEFAULT '',
		mime_type TEXT NOT NULL DEFAULT '',
		duration_seconds REAL NOT NULL DEFAULT 0,
		file_size_bytes INTEGER NOT NULL DEFAULT 0,
		text_content TEXT NOT NULL DEFAULT '',
		transcription TEXT,
		transcription_status TEXT NOT NULL,
		transcription_retry_count INTEGER NOT NULL DEFAULT 0,
		transcription_error TEXT NOT NULL DEFAULT ''
	);

	CREATE INDEX IF NOT EXISTS idx_memos_user_created ON memos(user_id, created_at);
	CREATE INDEX IF NOT EXISTS idx_memos_status ON memos(transcription_status, updated_at);
	`
	if _, err := db.Exec(createTableSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create table: %w", err)
	}

	return &MemoStore{db: db, now: time.Now, subs: map[string]map[*subscription]struct{}{}}, nil
}

const memoColumns = `id, user_id, type, title, created_at, updated_at, audio_url, mime_type,
	duration_seconds, file_size_bytes, text_content, transcription, transcription_status,
	transcription_retry_count, transcription_error`

// Create inserts rec and returns its id. An empty rec.ID gets a new UUID.
func (s *MemoStore) Create(ctx context.Context, rec *types.MemoRecord) (string, error) {
	id := rec.ID
	if id == "" {
		id = uuid.New().String()
	}
	now := s.now()
	created, updated := rec.CreatedAt, rec.UpdatedAt
	if created.IsZero() {
		created = now
	}
	if updated.IsZero() {
		updated = created
	}
	status := rec.TranscriptionStatus
	if status == "" {
		status = types.StatusPending
	}
	transcription, err := encodeTranscription(rec.Transcription)
	if err != nil {
		return "", err
	}

	_, err = s.db.ExecContext(ctx, `INSERT INTO memos (`+memoColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, rec.UserID, rec.Type, rec.Title, created.UnixMilli(), updated.UnixMilli(),
		rec.AudioURL, rec.MimeType, rec.DurationSeconds, rec.FileSizeBytes, rec.TextContent,
		transcription, status, rec.TranscriptionRetryCount, rec.TranscriptionError)
	if err != nil {
		return "", fmt.Errorf("failed to save memo: %w", err)
	}

	s.notify(rec.UserID)
	return id, nil
}

// Update applies the non-nil fields of upd to memo id.
func (s *MemoStore) Update(ctx context.Context, id string, upd types.MemoUpdate) error {
	var (
		sets []string
		args []any
	)
	set := func(col string, v any) {
		sets = append(sets, col+" = ?")
		args = append(args, v)
	}
	if upd.Title != nil {
		set("title", *upd.Title)
	}
	if upd.AudioURL != nil {
		set("audio_url", *upd.AudioURL)
	}
	if upd.MimeType != nil {
		set("mime_type", *upd.MimeType)
	}
	if upd.DurationSeconds != nil {
		set("duration_seconds", *upd.DurationSeconds)
	}
	if upd.FileSizeBytes != nil {
		set("file_size_bytes", *upd.FileSizeBytes)
	}
	if upd.TextContent != nil {
		set("text_content", *upd.TextContent)
	}
	if upd.Transcription != nil {
		encoded, err := encodeTranscription(upd.Transcription)
		if err != nil {
			return err
		}
		set("transcription", encoded)
	}
	if upd.TranscriptionStatus != nil {
		set("transcription_status", *upd.TranscriptionStatus)
	}
	if upd.TranscriptionRetryCount != nil {
		set("transcription_retry_count", *upd.TranscriptionRetryCount)
	}
	if upd.TranscriptionError != nil {
		set("transcription_error", *upd.TranscriptionError)
	}
	set("updated_at", s.now().UnixMilli())
	args = append(args, id)

	var userID string
	err := s.db.QueryRowContext(ctx,
		`UPDATE memos SET `+strings.Join(sets, ", ")+` WHERE id = ? RETURNING user_id`, args...).Scan(&userID)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return fmt.Errorf("failed to update memo: %w", err)
	}

	s.notify(userID)
	return nil
}

// Get returns memo id or ErrNotFound.
func (s *MemoStore) Get(ctx context.Context, id string) (*types.MemoRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+memoColumns+` FROM memos WHERE id = ?`, id)
	rec, err := scanMemo(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get memo: %w", err)
	}
	return rec, nil
}

// Delete removes memo id.
func (s *MemoStore) Delete(ctx context.Context, id string) error {
	var userID string
	err := s.db.QueryRowContext(ctx, `DELETE FROM memos WHERE id = ? RETURNING user_id`, id).Scan(&userID)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return fmt.Errorf("failed to delete memo: %w", err)
	}
	s.notify(userID)
	return nil
}

type cursorKey struct {
	Value float64 `json:"v"`
	ID    string  `json:"id"`
}

// Query returns one page of userID's memos. Pages are keyset-paginated on
// the sort column and the memo id, so concurrent inserts never shift them.
func (s *MemoStore) Query(ctx context.Context, userID string, filter Filter, sort Sort, page Page) (*QueryResult, error) {
	col, ok := sortColumns[sort.Field]
	if !ok {
		return nil, fmt.Errorf("unsupported sort field %q", sort.Field)
	}
	limit := page.Limit
	if limit <= 0 {
		limit = DefaultPageSize
	}
	if limit > MaxPageSize {
		limit = MaxPageSize
	}

	where := []string{"user_id = ?"}
	args := []any{userID}
	if filter.Type != "" {
		where = append(where, "type = ?")
		args = append(args, filter.Type)
	}
	if filter.Status != "" {
		where = append(where, "transcription_status = ?")
		args = append(args, filter.Status)
	}

	cmp, dir := ">", "ASC"
	if sort.Desc {
		cmp, dir = "<", "DESC"
	}
	if page.Cursor != "" {
		key, err := decodeCursor(page.Cursor)
		if err != nil {
			return nil, err
		}
		where = append(where, fmt.Sprintf("(%[1]s %[2]s ? OR (%[1]s = ? AND id %[2]s ?))", col, cmp))
		args = append(args, key.Value, key.Value, key.ID)
	}
	args = append(args, limit+1)

	query := fmt.Sprintf(`SELECT %s FROM memos WHERE %s ORDER BY %s %s, id %s LIMIT ?`,
		memoColumns, strings.Join(where, " AND "), col, dir, dir)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query memos: %w", err)
	}
	defer rows.Close()

	result := &QueryResult{Records: []*types.MemoRecord{}}
	for rows.Next() {
		rec, err := scanMemo(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to read memo: %w", err)
		}
		result.Records = append(result.Records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to query memos: %w", err)
	}

	if len(result.Records) > limit {
		result.Records = result.Records[:limit]
		result.HasMore = true
		last := result.Records[limit-1]
		result.Cursor = encodeCursor(cursorKey{Value: sortValue(last, col), ID: last.ID})
	}
	return result, nil
}

// MarkStale fails provisional records that have not moved since before
// cutoff, so they can be retried. It returns the number of records changed.
func (s *MemoStore) MarkStale(ctx context.Context, cutoff time.Time, message string) (int, error) {
	rows, err := s.db.QueryContext(ctx, `UPDATE memos
		SET transcription_status = ?, transcription_error = ?, updated_at = ?
		WHERE transcription_status IN (?, ?) AND updated_at < ?
		RETURNING user_id`,
		types.StatusFailed, message, s.now().UnixMilli(),
		types.StatusPending, types.StatusProcessing, cutoff.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("failed to mark stale memos: %w", err)
	}
	defer rows.Close()

	users := map[string]bool{}
	count := 0
	for rows.Next() {
		var userID string
		if err := rows.Scan(&userID); err != nil {
			return count, err
		}
		users[userID] = true
		count++
	}
	if err := rows.Err(); err != nil {
		return count, err
	}
	for userID := range users {
		s.notify(userID)
	}
	return count, nil
}

// Close stops subscriptions and closes the database connection.
func (s *MemoStore) Close() error {
	s.mu.Lock()
	s.closed = true
	for _, set := range s.subs {
		for sub := range set {
			sub.cancel()
		}
	}
	s.subs = map[string]map[*subscription]struct{}{}
	s.mu.Unlock()
	return s.db.Close()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanMemo(row scanner) (*types.MemoRecord, error) {
	var (
		rec               types.MemoRecord
		created, updated  int64
		transcriptionJSON sql.NullString
	)
	err := row.Scan(&rec.ID, &rec.UserID, &rec.Type, &rec.Title, &created, &updated,
		&rec.AudioURL, &rec.MimeType, &rec.DurationSeconds, &rec.FileSizeBytes, &rec.TextContent,
		&transcriptionJSON, &rec.TranscriptionStatus, &rec.TranscriptionRetryCount, &rec.TranscriptionError)
	if err != nil {
		return nil, err
	}
	rec.CreatedAt = time.UnixMilli(created)
	rec.UpdatedAt = time.UnixMilli(updated)
	if transcriptionJSON.Valid && transcriptionJSON.String != "" {
		var t types.TranscriptionResult
		if err := json.Unmarshal([]byte(transcriptionJSON.String), &t); err != nil {
			log.Printf("Storage: memo %s has unreadable transcription: %v", rec.ID, err)
		} else {
			rec.Transcription = &t
		}
	}
	return &rec, nil
}

func encodeTranscription(t *types.TranscriptionResult) (sql.NullString, error) {
	if t == nil {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(t)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("failed to encode transcription: %w", err)
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}

func sortValue(rec *types.MemoRecord, col string) float64 {
	switch col {
	case "updated_at":
		return float64(rec.UpdatedAt.UnixMilli())
	case "duration_seconds":
		return rec.DurationSeconds
	}
	return float64(rec.CreatedAt.UnixMilli())
}

func encodeCursor(key cursorKey) string {
	b, _ := json.Marshal(key)
	return base64.RawURLEncoding.EncodeToString(b)
}

func decodeCursor(cursor string) (cursorKey, error) {
	var key cursorKey
	b, err := base64.RawURLEncoding.DecodeString(cursor)
	if err != nil {
		return key, fmt.Errorf("invalid cursor: %w", err)
	}
	if err := json.Unmarshal(b, &key); err != nil {
		return key, fmt.Errorf("invalid cursor: %w", err)
	}
	return key, nil
}
