package protocol

import (
	"encoding/json"
	"testing"
)

func TestDecodeCanonicalKeys(t *testing.T) {
	env := Envelope{Type: EventBroadcastTimer, Payload: json.RawMessage(
		`{"sessionCode":"ABC123","questionId":"q2","remainingSeconds":12,"totalSeconds":30}`,
	)}
	var p TimerPayload
	if err := Decode(env, &p); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if p.SessionCode != "ABC123" || p.QuestionID != "q2" || p.Remaining != 12 || p.Total != 30 {
		t.Fatalf("unexpected payload: %+v", p)
	}
}

func TestDecodeToleratedSpellings(t *testing.T) {
	cases := []string{
		`{"session_code":"ABC123","question_id":"q2","remaining":12,"total":30}`,
		`{"SessionCode":"ABC123","QuestionId":"q2","Remaining":12,"Total":30}`,
		`{"code":"ABC123","questionid":"q2","remaining_seconds":12,"total_seconds":30}`,
	}
	for _, raw := range cases {
		env := Envelope{Type: EventBroadcastTimer, Payload: json.RawMessage(raw)}
		var p TimerPayload
		if err := Decode(env, &p); err != nil {
			t.Fatalf("decode %s: %v", raw, err)
		}
		if p.SessionCode != "ABC123" || p.QuestionID != "q2" || p.Remaining != 12 || p.Total != 30 {
			t.Fatalf("payload %s normalized wrong: %+v", raw, p)
		}
	}
}

func TestNormalizeRecursesIntoNestedObjects(t *testing.T) {
	raw := json.RawMessage(`{"Code":"ABC","entries":[{"participant_id":"u1","display_name":"Ann","score":5}]}`)
	out, err := Normalize(raw)
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	var decoded struct {
		SessionCode string `json:"sessionCode"`
		Entries     []struct {
			ParticipantID string `json:"participantId"`
			DisplayName   string `json:"displayName"`
			Score         int    `json:"score"`
		} `json:"entries"`
	}
	if err := json.Unmarshal(out, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded.SessionCode != "ABC" {
		t.Fatalf("expected code alias to normalize, got %q", decoded.SessionCode)
	}
	if len(decoded.Entries) != 1 || decoded.Entries[0].ParticipantID != "u1" || decoded.Entries[0].DisplayName != "Ann" {
		t.Fatalf("nested entries not normalized: %+v", decoded.Entries)
	}
}

func TestDecodeEmptyPayloadFails(t *testing.T) {
	var p TimerPayload
	if err := Decode(Envelope{Type: EventBroadcastTimer}, &p); err == nil {
		t.Fatalf("expected error for empty payload")
	}
}

func TestEncodeRoundTrip(t *testing.T) {
	env, err := Encode(EventQuizStarted, StartPayload{SessionCode: "ABC123", IsForceStart: true})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if env.Type != EventQuizStarted {
		t.Fatalf("expected type %s, got %s", EventQuizStarted, env.Type)
	}
	var p StartPayload
	if err := Decode(env, &p); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if p.SessionCode != "ABC123" || !p.IsForceStart {
		t.Fatalf("round trip lost data: %+v", p)
	}
}
