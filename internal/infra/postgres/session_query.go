package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"quiz-live-service/internal/domain"
)

// SessionQuery loads session, question-set, and roster data from Postgres.
type SessionQuery struct {
	pool *pgxpool.Pool
}

func NewSessionQuery(pool *pgxpool.Pool) *SessionQuery {
	return &SessionQuery{pool: pool}
}

func (q *SessionQuery) SessionByCode(ctx context.Context, code string) (domain.Session, error) {
	var (
		session      domain.Session
		currentQ     sql.NullString
		timerSeconds sql.NullInt32
	)
	err := q.pool.QueryRow(ctx, `
		SELECT s.id, s.code, s.quiz_id, s.status, s.started_at, s.ended_at,
		       s.current_question_id, s.current_question_start, s.timer_duration_secs,
		       s.show_leaderboard_after_question, s.show_leaderboard_at_end_only,
		       (SELECT COUNT(*) FROM questions WHERE session_id = s.id)
		FROM sessions s
		WHERE s.code = $1 OR s.id = $1`,
		code,
	).Scan(
		&session.ID, &session.Code, &session.QuizID, &session.Status,
		&session.StartedAt, &session.EndedAt,
		&currentQ, &session.CurrentQuestionStartTime, &timerSeconds,
		&session.ShowLeaderboardAfterQuestion, &session.ShowLeaderboardAtEndOnly,
		&session.TotalQuestions,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Session{}, domain.ErrSessionNotFound
	}
	if err != nil {
		return domain.Session{}, fmt.Errorf("query session: %w", err)
	}
	if currentQ.Valid {
		session.CurrentQuestionID = currentQ.String
	}
	if timerSeconds.Valid {
		session.TimerDurationSeconds = int(timerSeconds.Int32)
	}
	return session, nil
}

func (q *SessionQuery) QuestionsBySession(ctx context.Context, sessionID string) ([]domain.Question, error) {
	rows, err := q.pool.Query(ctx, `
		SELECT id, number, text, timer_seconds
		FROM questions
		WHERE session_id = $1
		ORDER BY number`,
		sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("query questions: %w", err)
	}
	defer rows.Close()

	var questions []domain.Question
	for rows.Next() {
		var question domain.Question
		if err := rows.Scan(&question.ID, &question.Number, &question.Text, &question.TimerSeconds); err != nil {
			return nil, fmt.Errorf("scan question: %w", err)
		}
		questions = append(questions, question)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read questions: %w", err)
	}
	return questions, nil
}

func (q *SessionQuery) ParticipantCount(ctx context.Context, sessionID string) (int, error) {
	var count int
	err := q.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM participants WHERE session_id = $1`,
		sessionID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("query participant count: %w", err)
	}
	return count, nil
}
