package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgconn"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"quiz-attempt-service/internal/domain"
)

// QuizSource resolves quiz content for resume and grading.
type QuizSource interface {
	GetQuiz(ctx context.Context, quizID string) (domain.Quiz, error)
}

// AttemptStore persists attempts in the attempts table. It implements
// attempt.Store, attempt.ClockSource and app.AttemptRepository.
type AttemptStore struct {
	pool    *pgxpool.Pool
	quizzes QuizSource
	now     func() time.Time
}

func NewAttemptStore(pool *pgxpool.Pool, quizzes QuizSource) *AttemptStore {
	return &AttemptStore{pool: pool, quizzes: quizzes, now: time.Now}
}

const (
	uniqueViolation = "23505"
	inProgressIndex = "attempts_one_in_progress_idx"
)

const attemptColumns = `id, quiz_id, student_id, question_order, answers, status,
	started_at, deadline, saved_at, submitted_at, result`

func (s *AttemptStore) CreateAttempt(ctx context.Context, rec domain.AttemptRecord) error {
	order, err := json.Marshal(rec.QuestionOrder)
	if err != nil {
		return fmt.Errorf("marshal question order: %w", err)
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO attempts (id, quiz_id, student_id, question_order, answers, status, started_at, deadline)
		 VALUES ($1, $2, $3, $4::jsonb, '{}'::jsonb, $5, $6, $7)`,
		rec.ID, rec.QuizID, rec.StudentID, string(order), string(rec.Status), rec.StartedAt, rec.Deadline)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation && pgErr.ConstraintName == inProgressIndex {
		return fmt.Errorf("%w: quiz %s student %s", domain.ErrAttemptInProgress, rec.QuizID, rec.StudentID)
	}
	if err != nil {
		return fmt.Errorf("insert attempt: %w", err)
	}
	return nil
}

func (s *AttemptStore) LatestAttempt(ctx context.Context, quizID, studentID string) (domain.AttemptRecord, bool, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+attemptColumns+` FROM attempts
		 WHERE quiz_id = $1 AND student_id = $2
		 ORDER BY started_at DESC LIMIT 1`, quizID, studentID)
	rec, err := scanAttempt(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.AttemptRecord{}, false, nil
	}
	if err != nil {
		return domain.AttemptRecord{}, false, err
	}
	return rec, true, nil
}

func (s *AttemptStore) LoadAttempt(ctx context.Context, attemptID string) (domain.Quiz, domain.AttemptSession, error) {
	rec, err := s.get(ctx, s.pool, attemptID, false)
	if err != nil {
		return domain.Quiz{}, domain.AttemptSession{}, err
	}
	if student, ok := domain.StudentFrom(ctx); ok && student != rec.StudentID {
		return domain.Quiz{}, domain.AttemptSession{}, fmt.Errorf("%w: attempt %s", domain.ErrForbidden, attemptID)
	}
	if rec.Status == domain.AttemptSubmitted {
		return domain.Quiz{}, domain.AttemptSession{}, fmt.Errorf("%w: %s", domain.ErrAlreadySubmitted, attemptID)
	}
	quiz, err := s.quizzes.GetQuiz(ctx, rec.QuizID)
	if err != nil {
		return domain.Quiz{}, domain.AttemptSession{}, err
	}
	return quiz, rec.Session(quiz, s.now()), nil
}

func (s *AttemptStore) SaveDraft(ctx context.Context, attemptID string, answers domain.Answers) (time.Time, error) {
	payload, err := json.Marshal(answers)
	if err != nil {
		return time.Time{}, fmt.Errorf("marshal answers: %w", err)
	}
	savedAt := s.now().UTC()
	tag, err := s.pool.Exec(ctx,
		`UPDATE attempts SET answers = $2::jsonb, saved_at = $3
		 WHERE id = $1 AND status = 'in_progress'`,
		attemptID, string(payload), savedAt)
	if err != nil {
		return time.Time{}, fmt.Errorf("save draft: %w", err)
	}
	if tag.RowsAffected() == 0 {
		if _, err := s.get(ctx, s.pool, attemptID, false); err != nil {
			return time.Time{}, err
		}
		return time.Time{}, fmt.Errorf("%w: %s", domain.ErrAlreadySubmitted, attemptID)
	}
	return savedAt, nil
}

func (s *AttemptStore) SubmitAttempt(ctx context.Context, attemptID string, answers domain.Answers) (domain.SubmitResult, error) {
	var quizID string
	err := s.pool.QueryRow(ctx, `SELECT quiz_id FROM attempts WHERE id = $1`, attemptID).Scan(&quizID)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.SubmitResult{}, fmt.Errorf("%w: %s", domain.ErrAttemptNotFound, attemptID)
	}
	if err != nil {
		return domain.SubmitResult{}, fmt.Errorf("lookup attempt: %w", err)
	}
	quiz, err := s.quizzes.GetQuiz(ctx, quizID)
	if err != nil {
		return domain.SubmitResult{}, err
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return domain.SubmitResult{}, fmt.Errorf("begin submit: %w", err)
	}
	defer tx.Rollback(ctx)

	rec, err := s.get(ctx, tx, attemptID, true)
	if err != nil {
		return domain.SubmitResult{}, err
	}
	if rec.Status == domain.AttemptSubmitted {
		return domain.SubmitResult{}, fmt.Errorf("%w: %s", domain.ErrAlreadySubmitted, attemptID)
	}

	now := s.now().UTC()
	result := domain.Grade(quiz, answers, now)
	answersJSON, err := json.Marshal(answers)
	if err != nil {
		return domain.SubmitResult{}, fmt.Errorf("marshal answers: %w", err)
	}
	resultJSON, err := json.Marshal(result)
	if err != nil {
		return domain.SubmitResult{}, fmt.Errorf("marshal result: %w", err)
	}
	_, err = tx.Exec(ctx,
		`UPDATE attempts SET answers = $2::jsonb, status = 'submitted', submitted_at = $3, result = $4::jsonb
		 WHERE id = $1`,
		attemptID, string(answersJSON), now, string(resultJSON))
	if err != nil {
		return domain.SubmitResult{}, fmt.Errorf("submit attempt: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return domain.SubmitResult{}, fmt.Errorf("commit submit: %w", err)
	}
	return result, nil
}

func (s *AttemptStore) RemainingSeconds(ctx context.Context, attemptID string) (int, error) {
	rec, err := s.get(ctx, s.pool, attemptID, false)
	if err != nil {
		return 0, err
	}
	remaining := rec.RemainingSeconds(s.now())
	if remaining == nil {
		return 0, fmt.Errorf("attempt %s is untimed", attemptID)
	}
	return *remaining, nil
}

type querier interface {
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}

func (s *AttemptStore) get(ctx context.Context, q querier, attemptID string, forUpdate bool) (domain.AttemptRecord, error) {
	query := `SELECT ` + attemptColumns + ` FROM attempts WHERE id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	rec, err := scanAttempt(q.QueryRow(ctx, query, attemptID))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.AttemptRecord{}, fmt.Errorf("%w: %s", domain.ErrAttemptNotFound, attemptID)
	}
	return rec, err
}

func scanAttempt(row pgx.Row) (domain.AttemptRecord, error) {
	var (
		rec                 domain.AttemptRecord
		status              string
		order, answers, res []byte
	)
	err := row.Scan(&rec.ID, &rec.QuizID, &rec.StudentID, &order, &answers, &status,
		&rec.StartedAt, &rec.Deadline, &rec.SavedAt, &rec.SubmittedAt, &res)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return rec, err
		}
		return rec, fmt.Errorf("scan attempt: %w", err)
	}
	rec.Status = domain.AttemptStatus(status)
	if err := json.Unmarshal(order, &rec.QuestionOrder); err != nil {
		return rec, fmt.Errorf("decode question order: %w", err)
	}
	if err := json.Unmarshal(answers, &rec.Answers); err != nil {
		return rec, fmt.Errorf("decode answers: %w", err)
	}
	if len(res) > 0 {
		var result domain.SubmitResult
		if err := json.Unmarshal(res, &result); err != nil {
			return rec, fmt.Errorf("decode result: %w", err)
		}
		rec.Result = &result
	}
	return rec, nil
}
