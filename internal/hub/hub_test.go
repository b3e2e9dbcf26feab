package hub

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"quiz-live-service/internal/domain"
	"quiz-live-service/internal/infra/memory"
	"quiz-live-service/internal/protocol"
)

func newTestHub() *Hub {
	settings := memory.NewSettingsStore(domain.LeaderboardSettings{DisplayDurationSeconds: 5})
	return New(DefaultConfig(), settings, memory.NewLeaderboard(), nil)
}

var connSeq int

// testConn builds a hub connection without a real socket; frames land in the
// send buffer where the test reads them back. Attach times increase with
// creation order so host seniority matches it.
func testConn(h *Hub, role Role) *Conn {
	connSeq++
	return &Conn{
		ID:          fmt.Sprintf("%s-%d", role, connSeq),
		Role:        role,
		send:        make(chan []byte, 32),
		hub:         h,
		connectedAt: time.Unix(int64(connSeq), 0),
	}
}

func join(t *testing.T, h *Hub, c *Conn, code string, asHost bool) {
	t.Helper()
	event := protocol.EventJoinSession
	if asHost {
		event = protocol.EventJoinHostSession
	}
	h.Route(c, protocol.MustEncode(event, protocol.JoinPayload{SessionCode: code}))
}

func recv(t *testing.T, c *Conn) protocol.Envelope {
	t.Helper()
	select {
	case data, ok := <-c.send:
		if !ok {
			t.Fatalf("send channel closed")
		}
		var env protocol.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			t.Fatalf("unmarshal frame: %v", err)
		}
		return env
	default:
		t.Fatalf("no frame queued")
		return protocol.Envelope{}
	}
}

func recvType(t *testing.T, c *Conn, want protocol.EventType) protocol.Envelope {
	t.Helper()
	env := recv(t, c)
	if env.Type != want {
		t.Fatalf("expected %s, got %s", want, env.Type)
	}
	return env
}

func drain(c *Conn) {
	for {
		select {
		case <-c.send:
		default:
			return
		}
	}
}

func TestJoinBroadcastsParticipantCount(t *testing.T) {
	h := newTestHub()
	p1 := testConn(h, RoleParticipant)
	p2 := testConn(h, RoleParticipant)

	join(t, h, p1, "ABC123", false)
	recvType(t, p1, protocol.EventSessionStateSync)
	env := recvType(t, p1, protocol.EventParticipantCount)
	var count protocol.CountPayload
	if err := protocol.Decode(env, &count); err != nil {
		t.Fatalf("decode count: %v", err)
	}
	if count.Count != 1 {
		t.Fatalf("expected count 1, got %d", count.Count)
	}

	join(t, h, p2, "ABC123", false)
	env = recvType(t, p1, protocol.EventParticipantCount)
	if err := protocol.Decode(env, &count); err != nil {
		t.Fatalf("decode count: %v", err)
	}
	if count.Count != 2 {
		t.Fatalf("expected count 2, got %d", count.Count)
	}

	if got := h.ParticipantCount("ABC123"); got != 2 {
		t.Fatalf("hub reports %d participants", got)
	}
}

func TestHostPresenceQuery(t *testing.T) {
	h := newTestHub()
	host := testConn(h, RoleHost)
	join(t, h, host, "ABC123", true)
	drain(host)

	// A host checking its own session sees no OTHER host.
	h.Route(host, protocol.MustEncode(protocol.EventCheckHostPresence, protocol.JoinPayload{SessionCode: "ABC123"}))
	env := recvType(t, host, protocol.EventHostPresence)
	var presence protocol.HostPresencePayload
	if err := protocol.Decode(env, &presence); err != nil {
		t.Fatalf("decode presence: %v", err)
	}
	if presence.HostPresent {
		t.Fatalf("a host must not count itself")
	}

	second := testConn(h, RoleHost)
	join(t, h, second, "ABC123", true)
	drain(second)
	h.Route(second, protocol.MustEncode(protocol.EventCheckHostPresence, protocol.JoinPayload{SessionCode: "ABC123"}))
	env = recvType(t, second, protocol.EventHostPresence)
	if err := protocol.Decode(env, &presence); err != nil {
		t.Fatalf("decode presence: %v", err)
	}
	if !presence.HostPresent {
		t.Fatalf("expected the first host to be visible")
	}

	// Seniority is one-way: the first host is not displaced by the second.
	drain(host)
	h.Route(host, protocol.MustEncode(protocol.EventCheckHostPresence, protocol.JoinPayload{SessionCode: "ABC123"}))
	env = recvType(t, host, protocol.EventHostPresence)
	if err := protocol.Decode(env, &presence); err != nil {
		t.Fatalf("decode presence: %v", err)
	}
	if presence.HostPresent {
		t.Fatalf("a junior host must not outrank the senior")
	}
}

func TestSecondHostGetsStateSync(t *testing.T) {
	h := newTestHub()
	host := testConn(h, RoleHost)
	join(t, h, host, "ABC123", true)

	// The controlling host establishes state.
	h.Route(host, protocol.MustEncode(protocol.EventForceNavigate, protocol.NavigatePayload{
		SessionCode: "ABC123", QuestionID: "q2", QuestionNumber: 2,
	}))
	drain(host)

	second := testConn(h, RoleHost)
	join(t, h, second, "ABC123", true)
	env := recvType(t, second, protocol.EventSessionStateSync)
	var state protocol.StateSyncPayload
	if err := protocol.Decode(env, &state); err != nil {
		t.Fatalf("decode state: %v", err)
	}
	if state.QuestionID != "q2" || state.QuestionNumber != 2 {
		t.Fatalf("late host got stale state: %+v", state)
	}
}

func TestNavigateAndTimerFanOut(t *testing.T) {
	h := newTestHub()
	host := testConn(h, RoleHost)
	p := testConn(h, RoleParticipant)
	join(t, h, host, "ABC123", true)
	join(t, h, p, "ABC123", false)
	drain(host)
	drain(p)

	h.Route(host, protocol.MustEncode(protocol.EventForceNavigate, protocol.NavigatePayload{
		SessionCode: "ABC123", QuestionID: "q3",
	}))
	env := recvType(t, p, protocol.EventForceNavigateTo)
	var nav protocol.NavigatePayload
	if err := protocol.Decode(env, &nav); err != nil {
		t.Fatalf("decode navigate: %v", err)
	}
	if nav.QuestionID != "q3" {
		t.Fatalf("expected q3, got %s", nav.QuestionID)
	}

	h.Route(host, protocol.MustEncode(protocol.EventBroadcastTimer, protocol.TimerPayload{
		SessionCode: "ABC123", QuestionID: "q3", Remaining: 9, Total: 30,
	}))
	env = recvType(t, p, protocol.EventLiveTimerUpdate)
	var timer protocol.TimerPayload
	if err := protocol.Decode(env, &timer); err != nil {
		t.Fatalf("decode timer: %v", err)
	}
	if timer.Remaining != 9 || timer.QuestionID != "q3" {
		t.Fatalf("unexpected timer: %+v", timer)
	}
}

func TestStartAndEndFanOut(t *testing.T) {
	h := newTestHub()
	host := testConn(h, RoleHost)
	p := testConn(h, RoleParticipant)
	join(t, h, host, "ABC123", true)
	join(t, h, p, "ABC123", false)
	drain(host)
	drain(p)

	h.Route(host, protocol.MustEncode(protocol.EventNotifyQuizStart, protocol.StartPayload{
		SessionCode: "ABC123", IsForceStart: true,
	}))
	env := recvType(t, p, protocol.EventQuizStarted)
	var start protocol.StartPayload
	if err := protocol.Decode(env, &start); err != nil {
		t.Fatalf("decode start: %v", err)
	}
	if !start.IsForceStart {
		t.Fatalf("force flag lost")
	}

	h.Route(host, protocol.MustEncode(protocol.EventManualEnd, protocol.EndPayload{SessionCode: "ABC123"}))
	recvType(t, p, protocol.EventQuizEnded)

	// Late joiners now see the ended flag in the state snapshot.
	second := testConn(h, RoleHost)
	join(t, h, second, "ABC123", true)
	env = recvType(t, second, protocol.EventSessionStateSync)
	var state protocol.StateSyncPayload
	if err := protocol.Decode(env, &state); err != nil {
		t.Fatalf("decode state: %v", err)
	}
	if !state.Ended {
		t.Fatalf("ended flag missing from state sync")
	}
}

func TestLeaderboardToggleIsExclusive(t *testing.T) {
	h := newTestHub()
	host := testConn(h, RoleHost)
	join(t, h, host, "ABC123", true)
	drain(host)

	h.Route(host, protocol.MustEncode(protocol.EventSetShowAfterEach, protocol.LeaderboardTogglePayload{
		SessionCode: "ABC123", Enabled: true,
	}))
	env := recvType(t, host, protocol.EventSessionStateSync)
	var state protocol.StateSyncPayload
	if err := protocol.Decode(env, &state); err != nil {
		t.Fatalf("decode state: %v", err)
	}
	if !state.ShowAfterEachQuestion || state.ShowAtEndOnly {
		t.Fatalf("expected afterEach only, got %+v", state)
	}

	h.Route(host, protocol.MustEncode(protocol.EventSetShowAtEndOnly, protocol.LeaderboardTogglePayload{
		SessionCode: "ABC123", Enabled: true,
	}))
	env = recvType(t, host, protocol.EventSessionStateSync)
	if err := protocol.Decode(env, &state); err != nil {
		t.Fatalf("decode state: %v", err)
	}
	if state.ShowAfterEachQuestion || !state.ShowAtEndOnly {
		t.Fatalf("expected atEndOnly only, got %+v", state)
	}
}

func TestProgressRecomputedServerSide(t *testing.T) {
	h := newTestHub()
	host := testConn(h, RoleHost)
	p := testConn(h, RoleParticipant)
	join(t, h, host, "ABC123", true)
	join(t, h, p, "ABC123", false)
	drain(host)
	drain(p)

	h.Route(p, protocol.MustEncode(protocol.EventReportProgress, protocol.ProgressPayload{
		QuestionID: "q1", Submitted: 2, Total: 3, Percentage: 999, // bogus client math
	}))
	env := recvType(t, host, protocol.EventSubmissionProgress)
	var progress protocol.ProgressPayload
	if err := protocol.Decode(env, &progress); err != nil {
		t.Fatalf("decode progress: %v", err)
	}
	if progress.Percentage != 67 {
		t.Fatalf("expected recomputed 67%%, got %d", progress.Percentage)
	}
	if progress.SessionCode != "ABC123" {
		t.Fatalf("session code not stamped: %+v", progress)
	}
}

func TestLastHostLeavingAnnouncesAbsence(t *testing.T) {
	h := newTestHub()
	host := testConn(h, RoleHost)
	p := testConn(h, RoleParticipant)
	join(t, h, host, "ABC123", true)
	join(t, h, p, "ABC123", false)
	drain(host)
	drain(p)

	h.Unregister(host)

	if h.HostPresent("ABC123") {
		t.Fatalf("host still counted after unregister")
	}
	// The whole session learns pacing reverted to auto.
	env := recvType(t, p, protocol.EventHostPresence)
	var presence protocol.HostPresencePayload
	if err := protocol.Decode(env, &presence); err != nil {
		t.Fatalf("decode presence: %v", err)
	}
	if presence.HostPresent {
		t.Fatalf("expected absence announcement, got %+v", presence)
	}

	again := testConn(h, RoleHost)
	join(t, h, again, "ABC123", true)
	if !h.HostPresent("ABC123") {
		t.Fatalf("rejoined host not counted")
	}
}

func TestHostDepartureNotifiesRemainingHosts(t *testing.T) {
	h := newTestHub()
	active := testConn(h, RoleHost)
	passive := testConn(h, RoleHost)
	join(t, h, active, "ABC123", true)
	join(t, h, passive, "ABC123", true)
	drain(active)
	drain(passive)

	h.Unregister(active)

	recvType(t, passive, protocol.EventHostDeparted)

	// On the departure signal the survivor re-checks and finds nobody
	// outranking it, so it may claim pacing.
	h.Route(passive, protocol.MustEncode(protocol.EventCheckHostPresence, protocol.JoinPayload{SessionCode: "ABC123"}))
	env := recvType(t, passive, protocol.EventHostPresence)
	var presence protocol.HostPresencePayload
	if err := protocol.Decode(env, &presence); err != nil {
		t.Fatalf("decode presence: %v", err)
	}
	if presence.HostPresent {
		t.Fatalf("survivor should see no senior host")
	}
}

func TestJoinSeedsStateFromPersistedSettings(t *testing.T) {
	settings := memory.NewSettingsStore(domain.LeaderboardSettings{DisplayDurationSeconds: 5})
	if _, err := settings.SetShowAfterEachQuestion(context.Background(), "ABC123", true); err != nil {
		t.Fatalf("seed settings: %v", err)
	}
	h := New(DefaultConfig(), settings, memory.NewLeaderboard(), nil)

	first := testConn(h, RoleHost)
	join(t, h, first, "ABC123", true)
	drain(first)
	second := testConn(h, RoleHost)
	join(t, h, second, "ABC123", true)

	env := recvType(t, second, protocol.EventSessionStateSync)
	var state protocol.StateSyncPayload
	if err := protocol.Decode(env, &state); err != nil {
		t.Fatalf("decode state: %v", err)
	}
	if !state.ShowAfterEachQuestion || state.ShowAtEndOnly {
		t.Fatalf("persisted policy missing from sync: %+v", state)
	}
}

func TestEveryJoinerGetsStateSync(t *testing.T) {
	h := newTestHub()
	host := testConn(h, RoleHost)
	join(t, h, host, "ABC123", true)
	h.Route(host, protocol.MustEncode(protocol.EventBroadcastTimer, protocol.TimerPayload{
		SessionCode: "ABC123", QuestionID: "q2", Remaining: 12, Total: 20,
	}))
	drain(host)

	p := testConn(h, RoleParticipant)
	join(t, h, p, "ABC123", false)
	env := recvType(t, p, protocol.EventSessionStateSync)
	var state protocol.StateSyncPayload
	if err := protocol.Decode(env, &state); err != nil {
		t.Fatalf("decode state: %v", err)
	}
	if state.QuestionID != "q2" || state.Remaining != 12 || state.Total != 20 {
		t.Fatalf("joiner got stale state: %+v", state)
	}
	if !state.HostPresent {
		t.Fatalf("host presence missing from sync")
	}
}

func TestFirstHostJoinAnnouncedToSession(t *testing.T) {
	h := newTestHub()
	p := testConn(h, RoleParticipant)
	join(t, h, p, "ABC123", false)
	drain(p)

	host := testConn(h, RoleHost)
	join(t, h, host, "ABC123", true)

	env := recvType(t, p, protocol.EventHostPresence)
	var presence protocol.HostPresencePayload
	if err := protocol.Decode(env, &presence); err != nil {
		t.Fatalf("decode presence: %v", err)
	}
	if !presence.HostPresent {
		t.Fatalf("expected presence announcement, got %+v", presence)
	}

	// The joining host itself relies on the presence check, not the
	// announcement; it must not receive its own broadcast.
	env = recv(t, host)
	if env.Type == protocol.EventHostPresence {
		t.Fatalf("host received its own presence announcement")
	}
}

func TestParticipantLeaveUpdatesCount(t *testing.T) {
	h := newTestHub()
	p1 := testConn(h, RoleParticipant)
	p2 := testConn(h, RoleParticipant)
	join(t, h, p1, "ABC123", false)
	join(t, h, p2, "ABC123", false)
	drain(p1)
	drain(p2)

	h.Unregister(p2)
	env := recvType(t, p1, protocol.EventParticipantCount)
	var count protocol.CountPayload
	if err := protocol.Decode(env, &count); err != nil {
		t.Fatalf("decode count: %v", err)
	}
	if count.Count != 1 {
		t.Fatalf("expected count 1 after leave, got %d", count.Count)
	}

	// Unregistering the same connection again must be harmless.
	h.Unregister(p2)
}

func TestUnknownEventReturnsError(t *testing.T) {
	h := newTestHub()
	p := testConn(h, RoleParticipant)
	join(t, h, p, "ABC123", false)
	drain(p)

	h.Route(p, protocol.Envelope{Type: "Bogus"})
	env := recvType(t, p, protocol.EventError)
	var errPayload protocol.ErrorPayload
	if err := protocol.Decode(env, &errPayload); err != nil {
		t.Fatalf("decode error payload: %v", err)
	}
	if errPayload.Message == "" {
		t.Fatalf("expected an error message")
	}
}
