package session

import "time"

// CurrentSchemaVersion is the shape every loaded session is upgraded to.
//
//	1: identity, stage, name, intent tracking, slots, history
//	2: tenant snapshot, language, emergency episode, scheduling, revision
const CurrentSchemaVersion = 2

// Migrate upgrades a decoded session to CurrentSchemaVersion in place so
// callers never have to guard against missing fields.
func Migrate(s *Session, now time.Time) {
	if s == nil {
		return
	}
	if s.SchemaVersion < 1 {
		if s.Stage == "" || !s.Stage.Valid() {
			s.Stage = StageStart
		}
		if s.RepeatCount < 0 {
			s.RepeatCount = 0
		}
		s.SchemaVersion = 1
	}
	if s.SchemaVersion < 2 {
		// v1 stored an emergency as the stage only, without the episode flag.
		if s.Stage == StageEmergency {
			s.EmergencyWarned = true
			if s.PausedStage == "" {
				s.PausedStage = StageStart
			}
		}
		s.SchemaVersion = 2
	}
	if s.ConversationHistory == nil {
		s.ConversationHistory = []Turn{}
	}
	if s.CreatedAt.IsZero() {
		s.CreatedAt = now
	}
	if s.LastActivity.IsZero() {
		s.LastActivity = s.CreatedAt
	}
	if s.FirstName != nil && *s.FirstName == "" {
		s.FirstName = nil
	}
}
