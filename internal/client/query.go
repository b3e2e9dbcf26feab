package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"quiz-live-service/internal/domain"
)

// HTTPSessionQuery implements runtime.SessionQuery over the plain
// request-response API exposed by the server. Errors surface as recoverable
// failures; callers show a message rather than crashing the session.
type HTTPSessionQuery struct {
	base   string
	client *http.Client
}

func NewHTTPSessionQuery(baseURL string, client *http.Client) *HTTPSessionQuery {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPSessionQuery{base: baseURL, client: client}
}

func (q *HTTPSessionQuery) SessionByCode(ctx context.Context, code string) (domain.Session, error) {
	var session domain.Session
	if err := q.get(ctx, fmt.Sprintf("%s/api/sessions/%s", q.base, code), &session); err != nil {
		return domain.Session{}, err
	}
	return session, nil
}

func (q *HTTPSessionQuery) QuestionsBySession(ctx context.Context, sessionID string) ([]domain.Question, error) {
	var questions []domain.Question
	if err := q.get(ctx, fmt.Sprintf("%s/api/sessions/%s/questions", q.base, sessionID), &questions); err != nil {
		return nil, err
	}
	return questions, nil
}

func (q *HTTPSessionQuery) ParticipantCount(ctx context.Context, sessionID string) (int, error) {
	var payload struct {
		Count int `json:"count"`
	}
	if err := q.get(ctx, fmt.Sprintf("%s/api/sessions/%s/participants", q.base, sessionID), &payload); err != nil {
		return 0, err
	}
	return payload.Count, nil
}

func (q *HTTPSessionQuery) get(ctx context.Context, url string, dst any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := q.client.Do(req)
	if err != nil {
		return fmt.Errorf("query %s: %w", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return domain.ErrSessionNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("query %s: unexpected status %d", url, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
		return fmt.Errorf("query %s: %w", url, err)
	}
	return nil
}
