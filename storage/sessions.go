package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"courseTutor/core"
)

// SessionStore persists conversations and quizzes. Assistant messages are
// appended only after an answer completes; a stream that dies mid-flight
// leaves no partial message behind.
type SessionStore interface {
	CreateSession(ctx context.Context, taskType core.TaskType, title string) (core.Session, error)
	GetSession(ctx context.Context, sessionID string) (core.Session, error)
	AppendMessage(ctx context.Context, msg core.Message) error
	History(ctx context.Context, sessionID string, limit int) ([]core.Message, error)

	SaveQuiz(ctx context.Context, quiz core.Quiz) error
	GetQuiz(ctx context.Context, quizID string) (core.Quiz, error)
	SaveValidation(ctx context.Context, quizID string, results []core.ValidationResult) error
}

// ========== Postgres ==========

type PgSessionStore struct {
	pool *pgxpool.Pool
}

func NewPgSessionStore(ctx context.Context, pool *pgxpool.Pool) (*PgSessionStore, error) {
	s := &PgSessionStore{pool: pool}
	if err := s.ensureSchema(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *PgSessionStore) ensureSchema(ctx context.Context) error {
	ddl := []string{
		`CREATE TABLE IF NOT EXISTS sessions (
			id         VARCHAR(64) PRIMARY KEY,
			task_type  VARCHAR(32) NOT NULL,
			title      VARCHAR(500) NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);`,
		`CREATE TABLE IF NOT EXISTS messages (
			id         VARCHAR(64) PRIMARY KEY,
			session_id VARCHAR(64) NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
			role       VARCHAR(16) NOT NULL,
			content    TEXT NOT NULL,
			sources    JSONB,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);`,
		`CREATE INDEX IF NOT EXISTS idx_messages_session ON messages(session_id, created_at);`,
		`CREATE TABLE IF NOT EXISTS quizzes (
			id            VARCHAR(64) PRIMARY KEY,
			session_id    VARCHAR(64),
			video_ids     JSONB NOT NULL,
			policy        VARCHAR(32) NOT NULL,
			questions     JSONB NOT NULL,
			requested_num INT NOT NULL,
			generated_num INT NOT NULL,
			created_at    TIMESTAMPTZ NOT NULL DEFAULT now()
		);`,
		`CREATE TABLE IF NOT EXISTS quiz_validations (
			quiz_id        VARCHAR(64) NOT NULL REFERENCES quizzes(id) ON DELETE CASCADE,
			question_index INT NOT NULL,
			result         JSONB NOT NULL,
			created_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
			PRIMARY KEY (quiz_id, question_index)
		);`,
	}
	for _, q := range ddl {
		if _, err := s.pool.Exec(ctx, q); err != nil {
			return fmt.Errorf("session schema: %w", err)
		}
	}
	return nil
}

func (s *PgSessionStore) CreateSession(ctx context.Context, taskType core.TaskType, title string) (core.Session, error) {
	sess := core.Session{
		ID:        core.NewID(),
		TaskType:  taskType,
		Title:     title,
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO sessions (id, task_type, title, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)
	`, sess.ID, sess.TaskType, sess.Title, sess.CreatedAt, sess.UpdatedAt)
	if err != nil {
		return core.Session{}, fmt.Errorf("%w: create session: %v", core.ErrStoreWrite, err)
	}
	return sess, nil
}

func (s *PgSessionStore) GetSession(ctx context.Context, sessionID string) (core.Session, error) {
	var sess core.Session
	err := s.pool.QueryRow(ctx, `
		SELECT id, task_type, title, created_at, updated_at FROM sessions WHERE id = $1
	`, sessionID).Scan(&sess.ID, &sess.TaskType, &sess.Title, &sess.CreatedAt, &sess.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return core.Session{}, fmt.Errorf("%w: session %s", core.ErrNotFound, sessionID)
	}
	if err != nil {
		return core.Session{}, fmt.Errorf("get session: %w", err)
	}
	return sess, nil
}

func (s *PgSessionStore) AppendMessage(ctx context.Context, msg core.Message) error {
	var sources []byte
	if len(msg.Sources) > 0 {
		var err error
		sources, err = json.Marshal(msg.Sources)
		if err != nil {
			return err
		}
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", core.ErrStoreWrite, err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO messages (id, session_id, role, content, sources, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, msg.ID, msg.SessionID, msg.Role, msg.Content, sources, msg.CreatedAt)
	if err != nil {
		return fmt.Errorf("%w: append message: %v", core.ErrStoreWrite, err)
	}
	if _, err := tx.Exec(ctx,
		"UPDATE sessions SET updated_at = now() WHERE id = $1", msg.SessionID); err != nil {
		return fmt.Errorf("%w: touch session: %v", core.ErrStoreWrite, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("%w: %v", core.ErrStoreWrite, err)
	}
	return nil
}

func (s *PgSessionStore) History(ctx context.Context, sessionID string, limit int) ([]core.Message, error) {
	q := `
		SELECT id, session_id, role, content, sources, created_at
		FROM messages WHERE session_id = $1 ORDER BY created_at ASC`
	args := []any{sessionID}
	if limit > 0 {
		args = append(args, limit)
		q += " LIMIT $2"
	}
	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("session history: %w", err)
	}
	defer rows.Close()

	var msgs []core.Message
	for rows.Next() {
		var m core.Message
		var sources []byte
		if err := rows.Scan(&m.ID, &m.SessionID, &m.Role, &m.Content, &sources, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		if len(sources) > 0 {
			if err := json.Unmarshal(sources, &m.Sources); err != nil {
				return nil, fmt.Errorf("decode message sources: %w", err)
			}
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

func (s *PgSessionStore) SaveQuiz(ctx context.Context, quiz core.Quiz) error {
	videoIDs, err := json.Marshal(quiz.VideoIDs)
	if err != nil {
		return err
	}
	questions, err := json.Marshal(quiz.Questions)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO quizzes (id, session_id, video_ids, policy, questions, requested_num, generated_num, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, quiz.ID, nullIfEmpty(quiz.SessionID), videoIDs, quiz.Policy, questions,
		quiz.RequestedNum, quiz.GeneratedNum, quiz.CreatedAt)
	if err != nil {
		return fmt.Errorf("%w: save quiz: %v", core.ErrStoreWrite, err)
	}
	return nil
}

func (s *PgSessionStore) GetQuiz(ctx context.Context, quizID string) (core.Quiz, error) {
	var quiz core.Quiz
	var sessionID *string
	var videoIDs, questions []byte
	err := s.pool.QueryRow(ctx, `
		SELECT id, session_id, video_ids, policy, questions, requested_num, generated_num, created_at
		FROM quizzes WHERE id = $1
	`, quizID).Scan(&quiz.ID, &sessionID, &videoIDs, &quiz.Policy, &questions,
		&quiz.RequestedNum, &quiz.GeneratedNum, &quiz.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return core.Quiz{}, fmt.Errorf("%w: quiz %s", core.ErrNotFound, quizID)
	}
	if err != nil {
		return core.Quiz{}, fmt.Errorf("get quiz: %w", err)
	}
	if sessionID != nil {
		quiz.SessionID = *sessionID
	}
	if err := json.Unmarshal(videoIDs, &quiz.VideoIDs); err != nil {
		return core.Quiz{}, fmt.Errorf("decode quiz video ids: %w", err)
	}
	if err := json.Unmarshal(questions, &quiz.Questions); err != nil {
		return core.Quiz{}, fmt.Errorf("decode quiz questions: %w", err)
	}
	return quiz, nil
}

func (s *PgSessionStore) SaveValidation(ctx context.Context, quizID string, results []core.ValidationResult) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", core.ErrStoreWrite, err)
	}
	defer tx.Rollback(ctx)

	for _, r := range results {
		data, err := json.Marshal(r)
		if err != nil {
			return err
		}
		_, err = tx.Exec(ctx, `
			INSERT INTO quiz_validations (quiz_id, question_index, result)
			VALUES ($1, $2, $3)
			ON CONFLICT (quiz_id, question_index) DO UPDATE SET
				result = EXCLUDED.result,
				created_at = now()
		`, quizID, r.QuestionIndex, data)
		if err != nil {
			return fmt.Errorf("%w: save validation %d: %v", core.ErrStoreWrite, r.QuestionIndex, err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("%w: %v", core.ErrStoreWrite, err)
	}
	return nil
}

func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// ========== In-process ==========

// MemorySessionStore backs tests and store-free runs.
type MemorySessionStore struct {
	mu          sync.RWMutex
	sessions    map[string]core.Session
	messages    map[string][]core.Message
	quizzes     map[string]core.Quiz
	validations map[string][]core.ValidationResult
}

func NewMemorySessionStore() *MemorySessionStore {
	return &MemorySessionStore{
		sessions:    map[string]core.Session{},
		messages:    map[string][]core.Message{},
		quizzes:     map[string]core.Quiz{},
		validations: map[string][]core.ValidationResult{},
	}
}

func (s *MemorySessionStore) CreateSession(ctx context.Context, taskType core.TaskType, title string) (core.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess := core.Session{
		ID:        core.NewID(),
		TaskType:  taskType,
		Title:     title,
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
	}
	s.sessions[sess.ID] = sess
	return sess, nil
}

func (s *MemorySessionStore) GetSession(ctx context.Context, sessionID string) (core.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		return core.Session{}, fmt.Errorf("%w: session %s", core.ErrNotFound, sessionID)
	}
	return sess, nil
}

func (s *MemorySessionStore) AppendMessage(ctx context.Context, msg core.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[msg.SessionID]; !ok {
		return fmt.Errorf("%w: session %s", core.ErrNotFound, msg.SessionID)
	}
	s.messages[msg.SessionID] = append(s.messages[msg.SessionID], msg)
	sess := s.sessions[msg.SessionID]
	sess.UpdatedAt = time.Now().UTC()
	s.sessions[msg.SessionID] = sess
	return nil
}

func (s *MemorySessionStore) History(ctx context.Context, sessionID string, limit int) ([]core.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	msgs := s.messages[sessionID]
	out := make([]core.Message, len(msgs))
	copy(out, msgs)
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemorySessionStore) SaveQuiz(ctx context.Context, quiz core.Quiz) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.quizzes[quiz.ID] = quiz
	return nil
}

func (s *MemorySessionStore) GetQuiz(ctx context.Context, quizID string) (core.Quiz, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	quiz, ok := s.quizzes[quizID]
	if !ok {
		return core.Quiz{}, fmt.Errorf("%w: quiz %s", core.ErrNotFound, quizID)
	}
	return quiz, nil
}

func (s *MemorySessionStore) SaveValidation(ctx context.Context, quizID string, results []core.ValidationResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.validations[quizID] = append([]core.ValidationResult(nil), results...)
	return nil
}
