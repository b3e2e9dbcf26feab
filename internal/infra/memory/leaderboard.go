package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"quiz-live-service/internal/domain"
)

type participant struct {
	id          string
	displayName string
	score       int
	lastUpdated time.Time
}

// Leaderboard is an in-memory scoreboard, one per process. It backs the
// advancement engine's reveal fetch when no Redis is configured.
type Leaderboard struct {
	now func() time.Time

	mu     sync.RWMutex
	boards map[string]map[string]*participant // sessionCode → participantID → entry
}

func NewLeaderboard() *Leaderboard {
	return NewLeaderboardWithClock(time.Now)
}

// NewLeaderboardWithClock allows deterministic timestamps in tests.
func NewLeaderboardWithClock(now func() time.Time) *Leaderboard {
	return &Leaderboard{now: now, boards: make(map[string]map[string]*participant)}
}

// AddScore credits points to a participant, registering them on first sight.
func (l *Leaderboard) AddScore(_ context.Context, code, participantID, displayName string, points int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	board, ok := l.boards[code]
	if !ok {
		board = make(map[string]*participant)
		l.boards[code] = board
	}
	entry, ok := board[participantID]
	if !ok {
		entry = &participant{id: participantID}
		board[participantID] = entry
	}
	entry.displayName = displayName
	entry.score += points
	entry.lastUpdated = l.now()
	return nil
}

// Fetch returns the ordered scoreboard: score descending, then whoever
// reached their score earlier, then name.
func (l *Leaderboard) Fetch(_ context.Context, code string) (domain.Leaderboard, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	board := l.boards[code]
	entries := make([]domain.LeaderboardEntry, 0, len(board))
	for _, p := range board {
		entries = append(entries, domain.LeaderboardEntry{
			ParticipantID: p.id,
			DisplayName:   p.displayName,
			Score:         p.score,
		})
	}

	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Score != entries[j].Score {
			return entries[i].Score > entries[j].Score
		}
		pi := board[entries[i].ParticipantID]
		pj := board[entries[j].ParticipantID]
		if pi != nil && pj != nil && !pi.lastUpdated.Equal(pj.lastUpdated) {
			return pi.lastUpdated.Before(pj.lastUpdated)
		}
		return entries[i].DisplayName < entries[j].DisplayName
	})

	return domain.Leaderboard{
		SessionCode: code,
		Entries:     entries,
		UpdatedAt:   l.now(),
	}, nil
}
