// Package session persists per-identity conversation state with a durable
// Redis backend and an in-memory fallback.
package session

import (
	"strings"
	"time"
)

// Stage is the dialogue's current position in the scripted question sequence.
type Stage string

const (
	StageStart          Stage = "start"
	StageAwaitingName   Stage = "awaiting_name"
	StageSituation      Stage = "situation"
	StageProblem        Stage = "problem"
	StageImplication    Stage = "implication"
	StagePriorTreatment Stage = "prior_treatment"
	StageSolution       Stage = "solution"
	StageClosing        Stage = "closing"
	StageScheduling     Stage = "scheduling"
	StageComplete       Stage = "complete"
	StageEmergency      Stage = "emergency"
)

var stageOrder = map[Stage]int{
	StageStart:          0,
	StageAwaitingName:   1,
	StageSituation:      2,
	StageProblem:        3,
	StageImplication:    4,
	StagePriorTreatment: 5,
	StageSolution:       6,
	StageClosing:        7,
	StageScheduling:     8,
	StageComplete:       9,
}

// Valid reports whether s is a known stage.
func (s Stage) Valid() bool {
	if s == StageEmergency {
		return true
	}
	_, ok := stageOrder[s]
	return ok
}

// Before reports whether s comes strictly before other in the scripted
// sequence. The emergency stage is never before anything.
func (s Stage) Before(other Stage) bool {
	a, okA := stageOrder[s]
	b, okB := stageOrder[other]
	return okA && okB && a < b
}

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// Turn is one entry of the conversation history.
type Turn struct {
	Role    string    `json:"role"`
	Content string    `json:"content"`
	At      time.Time `json:"at"`
}

// TenantSnapshot is the cached copy of the clinic configuration a
// conversation belongs to.
type TenantSnapshot struct {
	Key           string `json:"key"`
	Name          string `json:"name"`
	KnowledgeBase string `json:"knowledge_base,omitempty"`
	CalendarID    string `json:"calendar_id,omitempty"`
	Phone         string `json:"phone,omitempty"`
}

// Session is the durable state of one conversation identity.
type Session struct {
	SchemaVersion int     `json:"schema_version"`
	Identity      string  `json:"identity"`
	Stage         Stage   `json:"stage"`
	FirstName     *string `json:"first_name"`
	LastIntent    string  `json:"last_intent,omitempty"`
	RepeatCount   int     `json:"repeat_count"`

	ProblemContext string `json:"problem_context,omitempty"`
	Duration       string `json:"duration,omitempty"`
	Worsening      string `json:"worsening,omitempty"`
	TriedSolutions string `json:"tried_solutions,omitempty"`
	Impact         string `json:"impact,omitempty"`
	DesiredOutcome string `json:"desired_outcome,omitempty"`

	ConversationHistory []Turn          `json:"conversation_history"`
	Tenant              *TenantSnapshot `json:"tenant,omitempty"`

	Language           string    `json:"language,omitempty"`
	EmergencyWarned    bool      `json:"emergency_warned"`
	PausedStage        Stage     `json:"paused_stage,omitempty"`
	SchedulePreference string    `json:"schedule_preference,omitempty"`
	CalendarEventID    string    `json:"calendar_event_id,omitempty"`
	AppointmentStart   time.Time `json:"appointment_start"`

	LastActivity time.Time `json:"last_activity"`
	CreatedAt    time.Time `json:"created_at"`
	Revision     int64     `json:"revision"`
}

// New returns a session with default field values for identity.
func New(identity string, now time.Time) *Session {
	return &Session{
		SchemaVersion:       CurrentSchemaVersion,
		Identity:            identity,
		Stage:               StageStart,
		ConversationHistory: []Turn{},
		LastActivity:        now,
		CreatedAt:           now,
	}
}

// Name returns the captured first name or an empty string.
func (s *Session) Name() string {
	if s == nil || s.FirstName == nil {
		return ""
	}
	return *s.FirstName
}

// SetName stores a trimmed first name.
func (s *Session) SetName(name string) {
	name = strings.TrimSpace(name)
	if name == "" {
		s.FirstName = nil
		return
	}
	s.FirstName = &name
}

// Append adds a turn to the history.
func (s *Session) Append(role, content string, at time.Time) {
	s.ConversationHistory = append(s.ConversationHistory, Turn{Role: role, Content: content, At: at})
}

// TrackIntent records the classified intent and maintains the repeat counter:
// the counter grows by one while the intent repeats and resets otherwise.
func (s *Session) TrackIntent(intent string) {
	if intent != "" && intent == s.LastIntent {
		s.RepeatCount++
	} else {
		s.RepeatCount = 0
	}
	s.LastIntent = intent
}

// Clone returns a deep copy so a working copy can be mutated without
// touching a cached instance.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	cp := *s
	if s.FirstName != nil {
		name := *s.FirstName
		cp.FirstName = &name
	}
	if s.Tenant != nil {
		tenant := *s.Tenant
		cp.Tenant = &tenant
	}
	cp.ConversationHistory = append([]Turn(nil), s.ConversationHistory...)
	if cp.ConversationHistory == nil {
		cp.ConversationHistory = []Turn{}
	}
	return &cp
}
