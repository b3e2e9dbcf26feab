package protocol

import (
	"encoding/json"
	"strings"
	"unicode"
)

// Older clients sent PascalCase or snake_case keys depending on which stack
// serialized the frame. Normalize folds every tolerated spelling onto the
// canonical camelCase schema in one pass at the channel boundary, so nothing
// past this package has to second-guess key casing.
var keyAliases = map[string]string{
	"sessioncode":                  "sessionCode",
	"session_code":                 "sessionCode",
	"code":                         "sessionCode",
	"questionid":                   "questionId",
	"question_id":                  "questionId",
	"questionnumber":               "questionNumber",
	"question_number":              "questionNumber",
	"remaining":                    "remainingSeconds",
	"remainingseconds":             "remainingSeconds",
	"remaining_seconds":            "remainingSeconds",
	"total":                        "totalSeconds",
	"totalseconds":                 "totalSeconds",
	"total_seconds":                "totalSeconds",
	"submittedcount":               "submittedCount",
	"submitted_count":              "submittedCount",
	"totalparticipants":            "totalParticipants",
	"total_participants":           "totalParticipants",
	"isforcestart":                 "isForceStart",
	"is_force_start":               "isForceStart",
	"durationseconds":              "durationSeconds",
	"duration_seconds":             "durationSeconds",
	"participantid":                "participantId",
	"participant_id":               "participantId",
	"displayname":                  "displayName",
	"display_name":                 "displayName",
	"showleaderboardafterquestion": "showLeaderboardAfterQuestion",
	"showleaderboardatendonly":     "showLeaderboardAtEndOnly",
	"hostpresent":                  "hostPresent",
	"host_present":                 "hostPresent",
}

// Normalize rewrites tolerated key spellings in a JSON object (recursively)
// onto the canonical schema. Non-object payloads pass through untouched.
func Normalize(raw json.RawMessage) (json.RawMessage, error) {
	var value any
	if err := json.Unmarshal(raw, &value); err != nil {
		return nil, err
	}
	obj, ok := value.(map[string]any)
	if !ok {
		return raw, nil
	}
	return json.Marshal(normalizeObject(obj))
}

func normalizeObject(obj map[string]any) map[string]any {
	out := make(map[string]any, len(obj))
	for key, val := range obj {
		canonical := canonicalKey(key)
		switch nested := val.(type) {
		case map[string]any:
			out[canonical] = normalizeObject(nested)
		case []any:
			for i, elem := range nested {
				if elemObj, ok := elem.(map[string]any); ok {
					nested[i] = normalizeObject(elemObj)
				}
			}
			out[canonical] = nested
		default:
			out[canonical] = val
		}
	}
	return out
}

func canonicalKey(key string) string {
	folded := strings.ToLower(strings.ReplaceAll(key, "_", ""))
	if canonical, ok := keyAliases[strings.ToLower(key)]; ok {
		return canonical
	}
	if canonical, ok := keyAliases[folded]; ok {
		return canonical
	}
	// Unknown key: at least fold leading PascalCase onto camelCase.
	if key != "" && unicode.IsUpper(rune(key[0])) {
		return strings.ToLower(key[:1]) + key[1:]
	}
	return key
}
