package domain

import (
	"testing"
	"time"
)

func TestLeaderboardSettingsMutualExclusion(t *testing.T) {
	var s LeaderboardSettings

	s.SetShowAfterEachQuestion(true)
	if !s.ShowAfterEachQuestion || s.ShowAtEndOnly {
		t.Fatalf("expected afterEach only, got %+v", s)
	}

	s.SetShowAtEndOnly(true)
	if s.ShowAfterEachQuestion || !s.ShowAtEndOnly {
		t.Fatalf("expected atEndOnly only, got %+v", s)
	}

	// Disabling one side never flips the other on.
	s.SetShowAtEndOnly(false)
	if s.ShowAfterEachQuestion || s.ShowAtEndOnly {
		t.Fatalf("expected both off, got %+v", s)
	}
}

func TestDisplayDurationClamped(t *testing.T) {
	cases := []struct {
		secs int
		want time.Duration
	}{
		{0, 3 * time.Second},
		{1, 3 * time.Second},
		{3, 3 * time.Second},
		{10, 10 * time.Second},
		{30, 30 * time.Second},
		{500, 30 * time.Second},
	}
	for _, c := range cases {
		s := LeaderboardSettings{DisplayDurationSeconds: c.secs}
		if got := s.DisplayDuration(); got != c.want {
			t.Errorf("duration %d: expected %v, got %v", c.secs, c.want, got)
		}
	}
}

func TestLiveTimerSameAndExpired(t *testing.T) {
	a := LiveTimer{QuestionID: "q1", Remaining: 5, Total: 30}
	if !a.Same(LiveTimer{QuestionID: "q1", Remaining: 5, Total: 30}) {
		t.Fatalf("identical triples should be the same")
	}
	if a.Same(LiveTimer{QuestionID: "q1", Remaining: 4, Total: 30}) {
		t.Fatalf("different remaining should not be the same")
	}
	if a.Expired() {
		t.Fatalf("timer with time left should not be expired")
	}
	if !(LiveTimer{QuestionID: "q1", Remaining: 0, Total: 30}).Expired() {
		t.Fatalf("zero remaining with real total should be expired")
	}
	// A zero-value timer never counts as expired.
	if (LiveTimer{}).Expired() {
		t.Fatalf("zero-value timer should not be expired")
	}
}

func TestProgressPercentage(t *testing.T) {
	cases := []struct {
		submitted, total, want int
	}{
		{0, 0, 0},
		{3, 0, 0},
		{0, 10, 0},
		{1, 3, 33},
		{2, 3, 67},
		{10, 10, 100},
	}
	for _, c := range cases {
		if got := ProgressPercentage(c.submitted, c.total); got != c.want {
			t.Errorf("%d/%d: expected %d, got %d", c.submitted, c.total, c.want, got)
		}
	}
}
