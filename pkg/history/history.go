// Package history persists per-tab chat sessions and replay histories in
// SQLite. The executor's event handler is the single writer per session;
// concurrent readers are tolerated.
package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"
)

// ErrNotFound is returned when a session or replay history does not exist.
var ErrNotFound = errors.New("history: not found")

// Store is the SQLite-backed chat-history store.
type Store struct {
	db *bun.DB
}

// Open opens (or creates) the store at path. Use ":memory:" for tests.
func Open(path string) (*Store, error) {
	sqldb, err := sql.Open(sqliteshim.ShimName, path)
	if err != nil {
		return nil, fmt.Errorf("open history db: %w", err)
	}
	// SQLite allows one writer; a single connection avoids lock errors and
	// keeps an in-memory database alive for the store's lifetime.
	sqldb.SetMaxOpenConns(1)
	sqldb.SetMaxIdleConns(1)
	sqldb.SetConnMaxLifetime(0)

	db := bun.NewDB(sqldb, sqlitedialect.New())
	s := &Store{db: db}
	if err := s.migrate(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close releases the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate(ctx context.Context) error {
	models := []any{
		(*sessionModel)(nil),
		(*messageModel)(nil),
		(*replayModel)(nil),
	}
	for _, m := range models {
		if _, err := s.db.NewCreateTable().Model(m).IfNotExists().Exec(ctx); err != nil {
			return fmt.Errorf("create table: %w", err)
		}
	}
	return nil
}

// CreateSession starts a new session for a tab. The title is derived from
// the first user message, clipped for display.
func (s *Store) CreateSession(ctx context.Context, tabID int, title string) (*Session, error) {
	m := &sessionModel{
		ID:        uuid.NewString(),
		TabID:     tabID,
		Title:     deriveTitle(title),
		CreatedAt: time.Now().UTC(),
	}
	if _, err := s.db.NewInsert().Model(m).Exec(ctx); err != nil {
		return nil, fmt.Errorf("insert session: %w", err)
	}
	dto := m.toDTO()
	return &dto, nil
}

// deriveTitle clips a task description into a session title.
func deriveTitle(task string) string {
	const maxTitle = 60
	if len(task) <= maxTitle {
		return task
	}
	return task[:maxTitle-3] + "..."
}

// ListSessions returns session metadata for a tab, newest first, without
// messages.
func (s *Store) ListSessions(ctx context.Context, tabID int) ([]Session, error) {
	var ms []sessionModel
	err := s.db.NewSelect().Model(&ms).
		Where("tab_id = ?", tabID).
		Order("created_at DESC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	out := make([]Session, 0, len(ms))
	for i := range ms {
		out = append(out, ms[i].toDTO())
	}
	return out, nil
}

// GetSession returns one session with its full message record.
func (s *Store) GetSession(ctx context.Context, sessionID string) (*Session, error) {
	var m sessionModel
	err := s.db.NewSelect().Model(&m).Where("id = ?", sessionID).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}

	var msgs []messageModel
	err = s.db.NewSelect().Model(&msgs).
		Where("session_id = ?", sessionID).
		Order("id ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("get session messages: %w", err)
	}

	dto := m.toDTO()
	for i := range msgs {
		dto.Messages = append(dto.Messages, msgs[i].toDTO())
	}
	return &dto, nil
}

// LatestSession returns the most recent session for a tab, or ErrNotFound.
func (s *Store) LatestSession(ctx context.Context, tabID int) (*Session, error) {
	var m sessionModel
	err := s.db.NewSelect().Model(&m).
		Where("tab_id = ?", tabID).
		Order("created_at DESC").
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("latest session: %w", err)
	}
	return s.GetSession(ctx, m.ID)
}

// AppendMessage appends a message to a session.
func (s *Store) AppendMessage(ctx context.Context, sessionID string, msg Message) error {
	steps := ""
	if len(msg.ThinkingSteps) > 0 {
		b, err := json.Marshal(msg.ThinkingSteps)
		if err != nil {
			return fmt.Errorf("marshal thinking steps: %w", err)
		}
		steps = string(b)
	}
	ts := msg.Timestamp
	if ts == 0 {
		ts = time.Now().UnixMilli()
	}
	m := &messageModel{
		SessionID:     sessionID,
		Actor:         msg.Actor,
		Content:       msg.Content,
		Timestamp:     ts,
		MessageType:   msg.MessageType,
		TaskID:        msg.TaskID,
		ThinkingSteps: steps,
	}
	if _, err := s.db.NewInsert().Model(m).Exec(ctx); err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

// DeleteSessionsForTab removes all sessions, messages, and replay
// histories for a tab.
func (s *Store) DeleteSessionsForTab(ctx context.Context, tabID int) error {
	var ids []string
	err := s.db.NewSelect().Model((*sessionModel)(nil)).
		Column("id").
		Where("tab_id = ?", tabID).
		Scan(ctx, &ids)
	if err != nil {
		return fmt.Errorf("select sessions for delete: %w", err)
	}
	if len(ids) == 0 {
		return nil
	}
	if _, err := s.db.NewDelete().Model((*messageModel)(nil)).Where("session_id IN (?)", bun.In(ids)).Exec(ctx); err != nil {
		return err
	}
	if _, err := s.db.NewDelete().Model((*replayModel)(nil)).Where("session_id IN (?)", bun.In(ids)).Exec(ctx); err != nil {
		return err
	}
	if _, err := s.db.NewDelete().Model((*sessionModel)(nil)).Where("tab_id = ?", tabID).Exec(ctx); err != nil {
		return err
	}
	return nil
}

// SaveReplayHistory stores the recorded action sequence for a session,
// replacing any previous recording.
func (s *Store) SaveReplayHistory(ctx context.Context, sessionID string, tabID int, steps []ReplayStep) error {
	b, err := json.Marshal(steps)
	if err != nil {
		return fmt.Errorf("marshal replay steps: %w", err)
	}
	m := &replayModel{
		SessionID: sessionID,
		TabID:     tabID,
		Steps:     string(b),
		CreatedAt: time.Now().UTC(),
	}
	_, err = s.db.NewInsert().Model(m).
		On("CONFLICT (session_id) DO UPDATE").
		Set("steps = EXCLUDED.steps").
		Set("created_at = EXCLUDED.created_at").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("save replay history: %w", err)
	}
	return nil
}

// GetReplayHistory loads the recorded action sequence for a session.
func (s *Store) GetReplayHistory(ctx context.Context, sessionID string) ([]ReplayStep, error) {
	var m replayModel
	err := s.db.NewSelect().Model(&m).Where("session_id = ?", sessionID).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get replay history: %w", err)
	}
	var steps []ReplayStep
	if err := json.Unmarshal([]byte(m.Steps), &steps); err != nil {
		return nil, fmt.Errorf("unmarshal replay steps: %w", err)
	}
	return steps, nil
}
