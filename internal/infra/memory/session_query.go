package memory

import (
	"context"
	"sync"

	"quiz-live-service/internal/domain"
)

// SessionQuery is an in-memory implementation of runtime.SessionQuery,
// useful for tests and for running the server without a database.
type SessionQuery struct {
	mu        sync.RWMutex
	sessions  map[string]domain.Session    // keyed by code
	questions map[string][]domain.Question // keyed by session ID
	counts    map[string]int               // keyed by session ID
}

func NewSessionQuery() *SessionQuery {
	return &SessionQuery{
		sessions:  make(map[string]domain.Session),
		questions: make(map[string][]domain.Question),
		counts:    make(map[string]int),
	}
}

// PutSession seeds or replaces a session.
func (q *SessionQuery) PutSession(session domain.Session, questions []domain.Question) {
	q.mu.Lock()
	defer q.mu.Unlock()
	session.TotalQuestions = len(questions)
	q.sessions[session.Code] = session
	q.questions[session.ID] = questions
}

// SetParticipantCount seeds the stored roster size.
func (q *SessionQuery) SetParticipantCount(sessionID string, count int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.counts[sessionID] = count
}

func (q *SessionQuery) SessionByCode(_ context.Context, code string) (domain.Session, error) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if session, ok := q.sessions[code]; ok {
		return session, nil
	}
	// Tolerate lookups by ID as well; the query API accepts either.
	for _, session := range q.sessions {
		if session.ID == code {
			return session, nil
		}
	}
	return domain.Session{}, domain.ErrSessionNotFound
}

func (q *SessionQuery) QuestionsBySession(_ context.Context, sessionID string) ([]domain.Question, error) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	questions, ok := q.questions[sessionID]
	if !ok {
		return nil, domain.ErrSessionNotFound
	}
	out := make([]domain.Question, len(questions))
	copy(out, questions)
	return out, nil
}

func (q *SessionQuery) ParticipantCount(_ context.Context, sessionID string) (int, error) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.counts[sessionID], nil
}
