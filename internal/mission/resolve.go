package mission

import (
	"strconv"
	"strings"
)

// ResolvedIDs is the identity triple derived from an uploaded photo. Any
// component may be unresolved: empty string for the ids, HasStep=false for
// the step index. Resolution does not verify that the mission or user exist;
// that is the record processor's job.
type ResolvedIDs struct {
	MissionID string
	UserID    string
	StepIndex int
	HasStep   bool
}

// ResolveIDs derives (mission, user, step) from the object's metadata map
// (keys already lower-cased), falling back to the positional upload
// convention ".../{mission_id}/{user_id}/{step_index}/{filename}" when the
// key path has at least five segments. A step index that fails to parse as an
// integer is treated as absent, not as an error.
func ResolveIDs(key string, meta map[string]string) ResolvedIDs {
	ids := ResolvedIDs{
		MissionID: firstOf(meta, "missionid", "mission_id"),
		UserID:    firstOf(meta, "userid", "user_id"),
	}
	if raw := firstOf(meta, "stepindex", "step_index"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil {
			ids.StepIndex = n
			ids.HasStep = true
		}
	}

	if ids.MissionID != "" && ids.UserID != "" && ids.HasStep {
		return ids
	}

	parts := strings.Split(key, "/")
	if len(parts) < 5 {
		return ids
	}
	if ids.MissionID == "" {
		ids.MissionID = parts[len(parts)-4]
	}
	if ids.UserID == "" {
		ids.UserID = parts[len(parts)-3]
	}
	if !ids.HasStep {
		if n, err := strconv.Atoi(parts[len(parts)-2]); err == nil {
			ids.StepIndex = n
			ids.HasStep = true
		}
	}
	return ids
}

func firstOf(meta map[string]string, keys ...string) string {
	for _, k := range keys {
		if v := meta[k]; v != "" {
			return v
		}
	}
	return ""
}
